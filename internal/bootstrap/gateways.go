package bootstrap

import (
	"context"
	"net/http"

	"github.com/angelmondragon/evrent-backend/internal/payments/gateway"
	"github.com/angelmondragon/evrent-backend/internal/payments/payos"
	"github.com/angelmondragon/evrent-backend/internal/payments/squarecard"
	"github.com/angelmondragon/evrent-backend/internal/payments/vnpay"
	"github.com/angelmondragon/evrent-backend/pkg/config"
	"github.com/angelmondragon/evrent-backend/pkg/logger"
	"github.com/angelmondragon/evrent-backend/pkg/metrics"
	"github.com/angelmondragon/evrent-backend/pkg/square"
)

// buildGateways registers every enabled provider behind a circuit breaker.
func buildGateways(ctx context.Context, cfg *config.Config, logg *logger.Logger, m *metrics.FlowMetrics, lookup squarecard.RefLookup) (*gateway.Registry, error) {
	httpClient := &http.Client{Timeout: cfg.Gateway.Timeout}
	var gateways []gateway.Gateway

	if cfg.VNPay.Enabled {
		client, err := vnpay.NewClient(cfg.VNPay, httpClient, logg)
		if err != nil {
			return nil, err
		}
		gateways = append(gateways, gateway.NewGuarded(client, cfg.Gateway, logg, m))
	}
	if cfg.PayOS.Enabled {
		client, err := payos.NewClient(cfg.PayOS, httpClient, logg)
		if err != nil {
			return nil, err
		}
		gateways = append(gateways, gateway.NewGuarded(client, cfg.Gateway, logg, m))
	}
	if cfg.Square.Enabled {
		api, err := square.NewClient(ctx, cfg.Square, logg)
		if err != nil {
			return nil, err
		}
		card, err := squarecard.New(api, lookup, cfg.Square.WebhookSecret, cfg.Square.NotificationURL)
		if err != nil {
			return nil, err
		}
		gateways = append(gateways, gateway.NewGuarded(card, cfg.Gateway, logg, m))
	}
	return gateway.NewRegistry(gateways...)
}
