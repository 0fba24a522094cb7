package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	FeatureFlags FeatureFlagsConfig
	Eventing     EventingConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Outbox       OutboxConfig
	Gateway      GatewayConfig
	VNPay        VNPayConfig
	PayOS        PayOSConfig
	Square       SquareConfig
	AutoRefund   AutoRefundConfig
	Cron         CronConfig
	Realtime     RealtimeConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env           string `envconfig:"EVRENT_APP_ENV" required:"true"`
	Port          string `envconfig:"EVRENT_APP_PORT" required:"true"`
	PublicBaseURL string `envconfig:"EVRENT_APP_PUBLIC_BASE_URL" default:"http://localhost:8080"`
	LogLevel      string `envconfig:"EVRENT_LOG_LEVEL" default:"info"`
	LogWarnStack  bool   `envconfig:"EVRENT_LOG_WARN_STACK" default:"false"`

	CORSAllowedOrigins []string `envconfig:"EVRENT_CORS_ALLOWED_ORIGINS" default:"http://localhost:3000"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"EVRENT_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"EVRENT_DB_DSN"`
	Driver string `envconfig:"EVRENT_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"EVRENT_DB_HOST"`
	LegacyPort     int    `envconfig:"EVRENT_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"EVRENT_DB_USER"`
	LegacyPassword string `envconfig:"EVRENT_DB_PASSWORD"`
	LegacyName     string `envconfig:"EVRENT_DB_NAME"`
	LegacySSLMode  string `envconfig:"EVRENT_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"EVRENT_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"EVRENT_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"EVRENT_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"EVRENT_DB_CONN_MAX_IDLE_TIME" default:"10m"`
	// SlowQuery logs statements slower than this at warn. Zero disables it.
	SlowQuery time.Duration `envconfig:"EVRENT_DB_SLOW_QUERY" default:"500ms"`
}

type RedisConfig struct {
	URL          string        `envconfig:"EVRENT_REDIS_URL" required:"true"`
	Address      string        `envconfig:"EVRENT_REDIS_ADDR"`
	Password     string        `envconfig:"EVRENT_REDIS_PASSWORD"`
	DB           int           `envconfig:"EVRENT_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"EVRENT_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"EVRENT_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"EVRENT_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"EVRENT_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"EVRENT_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"EVRENT_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"EVRENT_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"EVRENT_JWT_EXPIRATION_MINUTES" default:"60"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"EVRENT_AUTO_MIGRATE" default:"false"`
}

type EventingConfig struct {
	OutboxIdempotencyTTL  time.Duration `envconfig:"EVRENT_EVENTING_IDEMPOTENCY_TTL" default:"720h"`
	WebhookIdempotencyTTL time.Duration `envconfig:"EVRENT_WEBHOOK_IDEMPOTENCY_TTL" default:"168h"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"EVRENT_GCP_PROJECT_ID"`
	CredentialsJSON        string `envconfig:"EVRENT_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"EVRENT_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	DomainEventsTopic string `envconfig:"EVRENT_PUBSUB_DOMAIN_EVENTS_TOPIC" default:"evrent-domain-events"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"EVRENT_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"EVRENT_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"EVRENT_OUTBOX_MAX_ATTEMPTS" default:"10"`
	RetentionDays  int `envconfig:"EVRENT_OUTBOX_RETENTION_DAYS" default:"30"`
	RetentionBatch int `envconfig:"EVRENT_OUTBOX_RETENTION_BATCH" default:"1000"`

	RetentionEvery time.Duration `envconfig:"EVRENT_OUTBOX_RETENTION_EVERY" default:"24h"`
	PublishTimeout time.Duration `envconfig:"EVRENT_OUTBOX_PUBLISH_TIMEOUT" default:"15s"`
}

// GatewayConfig bounds every call made to an external payment provider.
type GatewayConfig struct {
	Timeout             time.Duration `envconfig:"EVRENT_GATEWAY_TIMEOUT" default:"10s"`
	BreakerMaxRequests  uint32        `envconfig:"EVRENT_GATEWAY_BREAKER_MAX_REQUESTS" default:"1"`
	BreakerInterval     time.Duration `envconfig:"EVRENT_GATEWAY_BREAKER_INTERVAL" default:"60s"`
	BreakerOpenTimeout  time.Duration `envconfig:"EVRENT_GATEWAY_BREAKER_OPEN_TIMEOUT" default:"30s"`
	BreakerFailureRatio float64       `envconfig:"EVRENT_GATEWAY_BREAKER_FAILURE_RATIO" default:"0.5"`
	BreakerMinRequests  uint32        `envconfig:"EVRENT_GATEWAY_BREAKER_MIN_REQUESTS" default:"5"`
	DefaultReturnURL    string        `envconfig:"EVRENT_GATEWAY_DEFAULT_RETURN_URL"`
	DefaultCancelURL    string        `envconfig:"EVRENT_GATEWAY_DEFAULT_CANCEL_URL"`
}

type VNPayConfig struct {
	Enabled    bool   `envconfig:"EVRENT_VNPAY_ENABLED" default:"false"`
	TmnCode    string `envconfig:"EVRENT_VNPAY_TMN_CODE"`
	HashSecret string `envconfig:"EVRENT_VNPAY_HASH_SECRET"`
	PayURL     string `envconfig:"EVRENT_VNPAY_PAY_URL" default:"https://sandbox.vnpayment.vn/paymentv2/vpcpay.html"`
	APIURL     string `envconfig:"EVRENT_VNPAY_API_URL" default:"https://sandbox.vnpayment.vn/merchant_webapi/api/transaction"`
	ReturnURL  string `envconfig:"EVRENT_VNPAY_RETURN_URL"`
	Locale     string `envconfig:"EVRENT_VNPAY_LOCALE" default:"vn"`
}

type PayOSConfig struct {
	Enabled     bool   `envconfig:"EVRENT_PAYOS_ENABLED" default:"false"`
	ClientID    string `envconfig:"EVRENT_PAYOS_CLIENT_ID"`
	APIKey      string `envconfig:"EVRENT_PAYOS_API_KEY"`
	ChecksumKey string `envconfig:"EVRENT_PAYOS_CHECKSUM_KEY"`
	BaseURL     string `envconfig:"EVRENT_PAYOS_BASE_URL" default:"https://api-merchant.payos.vn"`
}

type SquareConfig struct {
	Enabled         bool   `envconfig:"EVRENT_SQUARE_ENABLED" default:"false"`
	AccessToken     string `envconfig:"EVRENT_SQUARE_ACCESS_TOKEN"`
	Env             string `envconfig:"EVRENT_SQUARE_ENV" default:"sandbox"`
	LocationID      string `envconfig:"EVRENT_SQUARE_LOCATION_ID"`
	Currency        string `envconfig:"EVRENT_SQUARE_CURRENCY" default:"USD"`
	WebhookSecret   string `envconfig:"EVRENT_SQUARE_WEBHOOK_SECRET"`
	NotificationURL string `envconfig:"EVRENT_SQUARE_NOTIFICATION_URL"`
}

// Environment returns the normalized Square environment (sandbox/production).
func (s SquareConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "sandbox"
	}
	return env
}

type AutoRefundConfig struct {
	Enabled    bool          `envconfig:"EVRENT_AUTO_REFUND_ENABLED" default:"true"`
	Interval   time.Duration `envconfig:"EVRENT_AUTO_REFUND_INTERVAL" default:"5m"`
	StaleAfter time.Duration `envconfig:"EVRENT_AUTO_REFUND_STALE_AFTER" default:"30m"`
	BatchSize  int           `envconfig:"EVRENT_AUTO_REFUND_BATCH_SIZE" default:"100"`
	Workers    int           `envconfig:"EVRENT_AUTO_REFUND_WORKERS" default:"4"`
	LockTTL    time.Duration `envconfig:"EVRENT_AUTO_REFUND_LOCK_TTL" default:"10m"`
}

// CronConfig drives the cron-worker loop. Each job keeps its own period.
type CronConfig struct {
	Tick time.Duration `envconfig:"EVRENT_CRON_TICK" default:"30s"`
	// MetricsAddr serves /metrics for the worker. Empty disables it.
	MetricsAddr string `envconfig:"EVRENT_CRON_METRICS_ADDR" default:":9091"`
}

type RealtimeConfig struct {
	BufferSize   int    `envconfig:"EVRENT_REALTIME_BUFFER_SIZE" default:"1024"`
	Workers      int    `envconfig:"EVRENT_REALTIME_WORKERS" default:"4"`
	RedisRelay   bool   `envconfig:"EVRENT_REALTIME_REDIS_RELAY" default:"true"`
	RedisChannel string `envconfig:"EVRENT_REALTIME_REDIS_CHANNEL" default:"evrent:realtime"`
	ClientBuffer int    `envconfig:"EVRENT_REALTIME_CLIENT_BUFFER" default:"64"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	legacyValues := map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	}
	for _, env := range legacyDBEnvVars {
		if legacyValues[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		userInfo = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.LegacyHost, db.LegacyPort),
		Path:   db.LegacyName,
	}

	if db.LegacySSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.LegacySSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
