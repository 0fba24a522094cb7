package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/angelmondragon/evrent-backend/pkg/circuitbreaker"
	"github.com/angelmondragon/evrent-backend/pkg/config"
	"github.com/angelmondragon/evrent-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/evrent-backend/pkg/errors"
	"github.com/angelmondragon/evrent-backend/pkg/logger"
	"github.com/angelmondragon/evrent-backend/pkg/metrics"
)

// Guarded bounds every call to the wrapped gateway with a timeout and a
// circuit breaker. Transport failures surface as GATEWAY_UNAVAILABLE.
type Guarded struct {
	inner   Gateway
	breaker *circuitbreaker.Breaker
	metrics *metrics.FlowMetrics
}

// NewGuarded wraps gw using the shared gateway settings.
func NewGuarded(gw Gateway, cfg config.GatewayConfig, logg *logger.Logger, m *metrics.FlowMetrics) *Guarded {
	method := gw.Method()
	settings := circuitbreaker.Settings{
		MaxRequests:  cfg.BreakerMaxRequests,
		Interval:     cfg.BreakerInterval,
		Timeout:      cfg.BreakerOpenTimeout,
		FailureRatio: cfg.BreakerFailureRatio,
		MinRequests:  cfg.BreakerMinRequests,
		CallTimeout:  cfg.Timeout,
	}
	breaker := circuitbreaker.NewWithSettings("gateway."+strings.ToLower(string(method)), settings, circuitbreaker.Options{
		Logger:    logg,
		IsFailure: countsAgainstBreaker,
		OnStateChange: func(_ string, to gobreaker.State) {
			m.SetBreakerState(string(method), int(to))
		},
	})
	return &Guarded{inner: gw, breaker: breaker, metrics: m}
}

func (g *Guarded) Method() enums.PaymentMethod { return g.inner.Method() }

func (g *Guarded) CreatePaymentLink(ctx context.Context, req LinkRequest) (*Link, error) {
	var link *Link
	err := g.call(ctx, "create_link", func(ctx context.Context) error {
		var err error
		link, err = g.inner.CreatePaymentLink(ctx, req)
		return err
	})
	if err != nil {
		return nil, err
	}
	return link, nil
}

func (g *Guarded) GetPaymentInfo(ctx context.Context, orderCode int64) (*Info, error) {
	var info *Info
	err := g.call(ctx, "get_info", func(ctx context.Context) error {
		var err error
		info, err = g.inner.GetPaymentInfo(ctx, orderCode)
		return err
	})
	if err != nil {
		return nil, err
	}
	return info, nil
}

func (g *Guarded) CancelPaymentLink(ctx context.Context, orderCode int64, reason string) error {
	return g.call(ctx, "cancel_link", func(ctx context.Context) error {
		return g.inner.CancelPaymentLink(ctx, orderCode, reason)
	})
}

func (g *Guarded) VerifySignature(cb Callback) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	return g.inner.VerifySignature(cb)
}

// Inner exposes the wrapped provider for adapters that need provider-specific parsing.
func (g *Guarded) Inner() Gateway { return g.inner }

func (g *Guarded) call(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	started := time.Now()
	err := g.breaker.Execute(ctx, fn)
	err = classify(g.inner.Method(), op, err)
	g.metrics.ObserveGatewayCall(string(g.inner.Method()), op, time.Since(started), err)
	return err
}

func classify(method enums.PaymentMethod, op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, circuitbreaker.ErrUnavailable) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled) {
		return pkgerrors.Wrap(pkgerrors.CodeGatewayUnavailable, err, fmt.Sprintf("%s %s unavailable", method, op))
	}
	if pkgerrors.As(err) != nil {
		return err
	}
	return pkgerrors.Wrap(pkgerrors.CodeGatewayUnavailable, err, fmt.Sprintf("%s %s failed", method, op))
}

// countsAgainstBreaker ignores provider rejections of our own input.
func countsAgainstBreaker(err error) bool {
	typed := pkgerrors.As(err)
	if typed == nil {
		return true
	}
	switch typed.Code() {
	case pkgerrors.CodeValidation, pkgerrors.CodeNotFound, pkgerrors.CodeConflict, pkgerrors.CodeIdempotency:
		return false
	}
	return true
}
