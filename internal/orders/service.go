package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/evrent-backend/internal/payments"
	"github.com/angelmondragon/evrent-backend/internal/payments/gateway"
	"github.com/angelmondragon/evrent-backend/internal/promotions"
	"github.com/angelmondragon/evrent-backend/internal/realtime"
	"github.com/angelmondragon/evrent-backend/internal/wallet"
	"github.com/angelmondragon/evrent-backend/pkg/config"
	"github.com/angelmondragon/evrent-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/evrent-backend/pkg/errors"
	"github.com/angelmondragon/evrent-backend/pkg/logger"
	"github.com/angelmondragon/evrent-backend/pkg/pagination"
)

// Service runs the rental order lifecycle and the money moves attached to it.
type Service interface {
	CreateOrderWithDeposit(ctx context.Context, input CreateOrderInput) (*PaymentResult, error)
	PayDeposit(ctx context.Context, input PayDepositInput) (*PaymentResult, error)
	ConfirmCashPayment(ctx context.Context, paymentID uuid.UUID, staff Requester) (*PaymentResult, error)
	StartRental(ctx context.Context, orderID uuid.UUID, staff Requester) (*models.Order, error)
	CompleteOrderWithFinalPayment(ctx context.Context, input CompleteInput) (*PaymentResult, error)
	CancelOrderWithRefund(ctx context.Context, input CancelInput) (*CancelResult, error)
	ProcessAutoRefund(ctx context.Context, orderID uuid.UUID) (AutoRefundOutcome, error)
	ListStalePending(ctx context.Context, cutoff time.Time, limit int) ([]models.Order, error)
	GetOrder(ctx context.Context, orderID uuid.UUID, requester Requester) (*OrderDetail, error)
	GetPayment(ctx context.Context, paymentID uuid.UUID, requester Requester) (*models.Payment, error)
	ListCustomerOrders(ctx context.Context, customerID uuid.UUID, params pagination.Params) (*OrderPage, error)
}

// ServiceParams wires the order service.
type ServiceParams struct {
	Repo        Repository
	Payments    payments.Repository
	PaymentCode payments.Service
	Wallet      wallet.Service
	Promotions  promotions.Service
	Gateways    *gateway.Registry
	Reconciler  ProviderReconciler
	Transitions *Transitions
	Tx          txRunner
	Outbox      outboxPublisher
	Notifier    realtime.Notifier
	Logger      *logger.Logger
	Gateway     config.GatewayConfig
	AutoRefund  config.AutoRefundConfig
}

type service struct {
	repo        Repository
	payments    payments.Repository
	paymentCode payments.Service
	wallet      wallet.Service
	promotions  promotions.Service
	gateways    *gateway.Registry
	reconciler  ProviderReconciler
	transitions *Transitions
	tx          txRunner
	outbox      outboxPublisher
	notifier    realtime.Notifier
	logg        *logger.Logger
	gatewayCfg  config.GatewayConfig
	staleAfter  time.Duration
	now         func() time.Time
}

// NewService builds the order service with the required dependencies.
func NewService(p ServiceParams) (Service, error) {
	switch {
	case p.Repo == nil:
		return nil, fmt.Errorf("orders repository required")
	case p.Payments == nil:
		return nil, fmt.Errorf("payments repository required")
	case p.PaymentCode == nil:
		return nil, fmt.Errorf("payments service required")
	case p.Wallet == nil:
		return nil, fmt.Errorf("wallet service required")
	case p.Promotions == nil:
		return nil, fmt.Errorf("promotions service required")
	case p.Gateways == nil:
		return nil, fmt.Errorf("gateway registry required")
	case p.Reconciler == nil:
		return nil, fmt.Errorf("reconciler required")
	case p.Transitions == nil:
		return nil, fmt.Errorf("order transitions required")
	case p.Tx == nil:
		return nil, fmt.Errorf("transaction runner required")
	case p.Outbox == nil:
		return nil, fmt.Errorf("outbox publisher required")
	case p.Notifier == nil:
		return nil, fmt.Errorf("notifier required")
	case p.Logger == nil:
		return nil, fmt.Errorf("logger required")
	}
	staleAfter := p.AutoRefund.StaleAfter
	if staleAfter <= 0 {
		staleAfter = 30 * time.Minute
	}
	return &service{
		repo:        p.Repo,
		payments:    p.Payments,
		paymentCode: p.PaymentCode,
		wallet:      p.Wallet,
		promotions:  p.Promotions,
		gateways:    p.Gateways,
		reconciler:  p.Reconciler,
		transitions: p.Transitions,
		tx:          p.Tx,
		outbox:      p.Outbox,
		notifier:    p.Notifier,
		logg:        p.Logger,
		gatewayCfg:  p.Gateway,
		staleAfter:  staleAfter,
		now:         time.Now,
	}, nil
}

func (s *service) GetOrder(ctx context.Context, orderID uuid.UUID, requester Requester) (*OrderDetail, error) {
	order, err := s.loadOwned(ctx, orderID, requester)
	if err != nil {
		return nil, err
	}
	rows, err := s.payments.ListByOrder(ctx, order.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list payments")
	}
	return &OrderDetail{Order: *order, Payments: rows}, nil
}

func (s *service) GetPayment(ctx context.Context, paymentID uuid.UUID, requester Requester) (*models.Payment, error) {
	payment, err := s.payments.FindByID(ctx, paymentID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payment not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment")
	}
	if _, err := s.loadOwned(ctx, payment.OrderID, requester); err != nil {
		if pkgerrors.Is(err, pkgerrors.CodeForbidden) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payment not found")
		}
		return nil, err
	}
	return payment, nil
}

func (s *service) ListCustomerOrders(ctx context.Context, customerID uuid.UUID, params pagination.Params) (*OrderPage, error) {
	if customerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "customer id is required")
	}
	after, err := pagination.Decode(params.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	rows, err := s.repo.ListByCustomer(ctx, customerID, after, params.Fetch())
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list orders")
	}
	page := &OrderPage{}
	page.Items, page.NextCursor = pagination.Trim(rows, params.Size(), orderKey)
	return page, nil
}

func orderKey(o models.Order) pagination.Key {
	return pagination.Key{CreatedAt: o.CreatedAt, ID: o.ID}
}

func (s *service) ListStalePending(ctx context.Context, cutoff time.Time, limit int) ([]models.Order, error) {
	if limit <= 0 {
		limit = pagination.MaxLimit
	}
	rows, err := s.repo.ListStalePending(ctx, cutoff, limit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list stale orders")
	}
	return rows, nil
}

// loadOwned returns the order when the requester owns it or operates the fleet.
func (s *service) loadOwned(ctx context.Context, orderID uuid.UUID, requester Requester) (*models.Order, error) {
	if orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id is required")
	}
	order, err := s.repo.FindByID(ctx, orderID)
	if err != nil {
		return nil, mapOrderLookupError(err)
	}
	if err := authorize(order, requester); err != nil {
		return nil, err
	}
	return order, nil
}

func authorize(order *models.Order, requester Requester) error {
	if requester.AccountID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeUnauthorized, "authentication required")
	}
	if requester.Role.IsOperator() || order.CustomerID == requester.AccountID {
		return nil
	}
	return pkgerrors.New(pkgerrors.CodeForbidden, "order does not belong to caller")
}

func requireOperator(requester Requester) error {
	if requester.AccountID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeUnauthorized, "authentication required")
	}
	if !requester.Role.IsOperator() {
		return pkgerrors.New(pkgerrors.CodeForbidden, "staff role required")
	}
	return nil
}
