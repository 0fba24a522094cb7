// Package bootstrap wires the order, payment and wallet services shared by the
// API server and the cron worker.
package bootstrap

import (
	"context"
	"fmt"

	"github.com/angelmondragon/evrent-backend/internal/orders"
	"github.com/angelmondragon/evrent-backend/internal/payments"
	"github.com/angelmondragon/evrent-backend/internal/payments/gateway"
	"github.com/angelmondragon/evrent-backend/internal/promotions"
	"github.com/angelmondragon/evrent-backend/internal/realtime"
	"github.com/angelmondragon/evrent-backend/internal/reconciler"
	"github.com/angelmondragon/evrent-backend/internal/wallet"
	"github.com/angelmondragon/evrent-backend/pkg/config"
	"github.com/angelmondragon/evrent-backend/pkg/db"
	"github.com/angelmondragon/evrent-backend/pkg/logger"
	"github.com/angelmondragon/evrent-backend/pkg/metrics"
	"github.com/angelmondragon/evrent-backend/pkg/outbox"
	"github.com/angelmondragon/evrent-backend/pkg/outbox/idempotency"
	"github.com/angelmondragon/evrent-backend/pkg/redis"
)

// CoreParams are the infrastructure clients the domain services run on.
type CoreParams struct {
	Config   *config.Config
	Logger   *logger.Logger
	DB       *db.Client
	Redis    *redis.Client
	Notifier realtime.Notifier
	Metrics  *metrics.FlowMetrics
}

// Core holds the wired domain services.
type Core struct {
	Gateways   *gateway.Registry
	Outbox     *outbox.Service
	Wallet     wallet.Service
	Orders     orders.Service
	Reconciler *reconciler.Reconciler
}

// NewCore builds every domain service in dependency order.
func NewCore(ctx context.Context, p CoreParams) (*Core, error) {
	cfg, logg := p.Config, p.Logger
	if cfg == nil || logg == nil || p.DB == nil || p.Redis == nil || p.Notifier == nil {
		return nil, fmt.Errorf("config, logger, db, redis and notifier are required")
	}
	gormDB := p.DB.DB()

	paymentsRepo := payments.NewRepository(gormDB)
	paymentsSvc, err := payments.NewService(paymentsRepo)
	if err != nil {
		return nil, fmt.Errorf("payments service: %w", err)
	}

	registry, err := buildGateways(ctx, cfg, logg, p.Metrics, paymentsRepo)
	if err != nil {
		return nil, fmt.Errorf("payment gateways: %w", err)
	}

	outboxSvc := outbox.NewService(outbox.NewRepository(gormDB), logg)

	walletSvc, err := wallet.NewService(wallet.NewRepository(gormDB), p.DB, outboxSvc, p.Notifier, logg)
	if err != nil {
		return nil, fmt.Errorf("wallet service: %w", err)
	}

	promotionsSvc, err := promotions.NewService(promotions.NewRepository(gormDB))
	if err != nil {
		return nil, fmt.Errorf("promotions service: %w", err)
	}

	ordersRepo := orders.NewRepository(gormDB)
	transitions, err := orders.NewTransitions(ordersRepo, outboxSvc, p.Notifier, logg)
	if err != nil {
		return nil, fmt.Errorf("order transitions: %w", err)
	}

	guard, err := idempotency.NewGuard(p.Redis, cfg.Eventing.WebhookIdempotencyTTL)
	if err != nil {
		return nil, fmt.Errorf("webhook idempotency guard: %w", err)
	}

	rec, err := reconciler.New(reconciler.Params{
		Gateways: registry,
		Payments: paymentsRepo,
		Wallet:   walletSvc,
		Orders:   transitions,
		Outbox:   outboxSvc,
		Tx:       p.DB,
		Guard:    guard,
		Logger:   logg,
		Metrics:  p.Metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("payment reconciler: %w", err)
	}

	ordersSvc, err := orders.NewService(orders.ServiceParams{
		Repo:        ordersRepo,
		Payments:    paymentsRepo,
		PaymentCode: paymentsSvc,
		Wallet:      walletSvc,
		Promotions:  promotionsSvc,
		Gateways:    registry,
		Reconciler:  rec,
		Transitions: transitions,
		Tx:          p.DB,
		Outbox:      outboxSvc,
		Notifier:    p.Notifier,
		Logger:      logg,
		Gateway:     cfg.Gateway,
		AutoRefund:  cfg.AutoRefund,
	})
	if err != nil {
		return nil, fmt.Errorf("orders service: %w", err)
	}

	return &Core{
		Gateways:   registry,
		Outbox:     outboxSvc,
		Wallet:     walletSvc,
		Orders:     ordersSvc,
		Reconciler: rec,
	}, nil
}

// NewDispatcher builds the realtime dispatcher. With the redis relay enabled
// messages go through redis and come back to hub via the returned relay, whose
// Run the caller owns. A nil hub means this process only publishes.
func NewDispatcher(cfg config.RealtimeConfig, redisClient *redis.Client, hub *realtime.Hub, logg *logger.Logger, m *metrics.FlowMetrics) (*realtime.Dispatcher, *realtime.RedisRelay, error) {
	var local realtime.Sink = hub
	if hub == nil {
		local = realtime.NewHub(1)
	}
	sink := local
	var relay *realtime.RedisRelay
	if cfg.RedisRelay {
		var err error
		relay, err = realtime.NewRedisRelay(redisClient, cfg.RedisChannel, local, logg)
		if err != nil {
			return nil, nil, err
		}
		sink = relay
	}
	dispatcher, err := realtime.NewDispatcher(realtime.DispatcherParams{
		BufferSize: cfg.BufferSize,
		Workers:    cfg.Workers,
		Sinks:      []realtime.Sink{sink},
		Logger:     logg,
		Metrics:    m,
	})
	if err != nil {
		return nil, nil, err
	}
	return dispatcher, relay, nil
}
