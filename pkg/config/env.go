package config

const EnvPrefix = "EVRENT"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	EnvAppEnv   = "EVRENT_APP_ENV"
	EnvPort     = "EVRENT_APP_PORT"
	EnvLogLevel = "EVRENT_LOG_LEVEL"

	EnvDBDSN  = "EVRENT_DB_DSN"
	EnvDBHost = "EVRENT_DB_HOST"
	EnvDBUser = "EVRENT_DB_USER"
	EnvDBName = "EVRENT_DB_NAME"

	EnvRedisURL = "EVRENT_REDIS_URL"

	EnvJWTSecret = "EVRENT_JWT_SECRET"
	EnvJWTIssuer = "EVRENT_JWT_ISSUER"

	EnvGatewayTimeout  = "EVRENT_GATEWAY_TIMEOUT"
	EnvAutoRefundStale = "EVRENT_AUTO_REFUND_STALE_AFTER"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
