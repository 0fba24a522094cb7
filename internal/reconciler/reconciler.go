// Package reconciler settles provider callbacks against pending payments.
package reconciler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/evrent-backend/internal/payments"
	"github.com/angelmondragon/evrent-backend/internal/payments/gateway"
	"github.com/angelmondragon/evrent-backend/internal/wallet"
	"github.com/angelmondragon/evrent-backend/pkg/db/models"
	"github.com/angelmondragon/evrent-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/evrent-backend/pkg/errors"
	"github.com/angelmondragon/evrent-backend/pkg/logger"
	"github.com/angelmondragon/evrent-backend/pkg/metrics"
	"github.com/angelmondragon/evrent-backend/pkg/outbox"
	"github.com/angelmondragon/evrent-backend/pkg/outbox/idempotency"
)

const (
	guardConsumer        = "reconcile"
	defaultFailureReason = "PROVIDER_FAILED"
)

// Outcome is the durable decision taken for one callback.
type Outcome string

const (
	OutcomeApplied        Outcome = "applied"
	OutcomeCredited       Outcome = "credited"
	OutcomeDuplicate      Outcome = "duplicate"
	OutcomeAmountMismatch Outcome = "amount_mismatch"
	OutcomeFailed         Outcome = "failed"
	OutcomeIgnored        Outcome = "ignored"
	OutcomeRejected       Outcome = "rejected"
	OutcomeUnknownPayment Outcome = "unknown_payment"
)

// Acknowledged reports whether the provider should receive a 2xx.
func (o Outcome) Acknowledged() bool {
	return o != OutcomeRejected && o != ""
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Guard deduplicates callbacks before any database work.
type Guard interface {
	Mark(ctx context.Context, consumer, id string) (idempotency.Mark, bool, error)
}

// OrderTransitions moves orders through their lifecycle inside a transaction.
type OrderTransitions interface {
	Lock(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) (*models.Order, error)
	Apply(ctx context.Context, tx *gorm.DB, order *models.Order, to enums.OrderStatus, reason *string, actor *outbox.ActorRef) error
	Announce(ctx context.Context, order *models.Order, from enums.OrderStatus, byStaff bool)
}

// Params wires a Reconciler.
type Params struct {
	Gateways *gateway.Registry
	Payments payments.Repository
	Wallet   wallet.Service
	Orders   OrderTransitions
	Outbox   outboxPublisher
	Tx       txRunner
	Guard    Guard
	Logger   *logger.Logger
	Metrics  *metrics.FlowMetrics
}

// Reconciler applies verified provider results exactly once.
type Reconciler struct {
	gateways *gateway.Registry
	payments payments.Repository
	wallet   wallet.Service
	orders   OrderTransitions
	outbox   outboxPublisher
	tx       txRunner
	guard    Guard
	logg     *logger.Logger
	metrics  *metrics.FlowMetrics
	now      func() time.Time
}

// New validates dependencies. Guard and Metrics are optional.
func New(p Params) (*Reconciler, error) {
	switch {
	case p.Gateways == nil:
		return nil, fmt.Errorf("gateway registry required")
	case p.Payments == nil:
		return nil, fmt.Errorf("payments repository required")
	case p.Wallet == nil:
		return nil, fmt.Errorf("wallet service required")
	case p.Orders == nil:
		return nil, fmt.Errorf("order transitions required")
	case p.Outbox == nil:
		return nil, fmt.Errorf("outbox publisher required")
	case p.Tx == nil:
		return nil, fmt.Errorf("transaction runner required")
	case p.Logger == nil:
		return nil, fmt.Errorf("logger required")
	}
	return &Reconciler{
		gateways: p.Gateways,
		payments: p.Payments,
		wallet:   p.Wallet,
		orders:   p.Orders,
		outbox:   p.Outbox,
		tx:       p.Tx,
		guard:    p.Guard,
		logg:     p.Logger,
		metrics:  p.Metrics,
		now:      time.Now,
	}, nil
}

// Reconcile verifies a webhook or browser return and settles it.
func (r *Reconciler) Reconcile(ctx context.Context, cb gateway.Callback) (Outcome, error) {
	ctx = r.logg.WithPayment(ctx, cb.OrderCode, string(cb.Method))
	gw, err := r.gateways.Get(cb.Method)
	if err != nil {
		return r.finish(cb.Method, OutcomeRejected), err
	}
	if !gw.VerifySignature(cb) {
		r.logg.Warn(ctx, "payment callback signature rejected")
		return r.finish(cb.Method, OutcomeRejected), pkgerrors.New(pkgerrors.CodeSignatureInvalid, "invalid callback signature")
	}
	return r.settle(ctx, cb)
}

// ReconcileFromProvider asks the provider for the payment state and settles
// it. The answer comes over an authenticated channel so no signature applies.
func (r *Reconciler) ReconcileFromProvider(ctx context.Context, method enums.PaymentMethod, orderCode int64) (Outcome, error) {
	ctx = r.logg.WithPayment(ctx, orderCode, string(method))
	gw, err := r.gateways.Get(method)
	if err != nil {
		return "", err
	}
	info, err := gw.GetPaymentInfo(ctx, orderCode)
	if err != nil {
		return "", err
	}
	cb := gateway.Callback{
		Method:     method,
		OrderCode:  orderCode,
		Amount:     info.Amount,
		Reference:  info.Reference,
		ResultCode: string(info.Status),
	}
	switch info.Status {
	case gateway.InfoPaid:
		cb.Success = true
	case gateway.InfoPending:
		cb.Pending = true
	}
	return r.settle(ctx, cb)
}

type settlement struct {
	outcome Outcome
	ledger  []*wallet.Result
	order   *models.Order
	from    enums.OrderStatus
}

func (r *Reconciler) settle(ctx context.Context, cb gateway.Callback) (Outcome, error) {
	if cb.Pending {
		r.logg.Debug(ctx, "payment still pending at provider")
		return r.finish(cb.Method, OutcomeIgnored), nil
	}

	var mark idempotency.Mark
	if r.guard != nil {
		key := idempotency.Key(cb.Method, cb.OrderCode, guardReference(cb))
		m, fresh, err := r.guard.Mark(ctx, guardConsumer, key)
		switch {
		case err != nil:
			r.logg.Warn(ctx, "idempotency guard unavailable, relying on row lock")
		case !fresh:
			return r.finish(cb.Method, OutcomeDuplicate), nil
		default:
			mark = m
		}
	}

	var res settlement
	err := r.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		res, err = r.apply(ctx, tx, cb)
		return err
	})
	if err != nil {
		if relErr := mark.Release(ctx); relErr != nil {
			r.logg.Warn(ctx, "failed to release idempotency mark")
		}
		r.logg.Error(ctx, "payment reconciliation failed", err)
		return "", err
	}

	r.wallet.PublishUpdates(ctx, res.ledger...)
	if res.order != nil {
		r.orders.Announce(ctx, res.order, res.from, false)
	}
	r.logg.Info(r.logg.WithField(ctx, "outcome", string(res.outcome)), "payment callback reconciled")
	return r.finish(cb.Method, res.outcome), nil
}

// apply locks the order before the payment, the same order every other
// writer uses, so a callback racing a cancel or a cash settlement waits
// instead of deadlocking.
func (r *Reconciler) apply(ctx context.Context, tx *gorm.DB, cb gateway.Callback) (settlement, error) {
	repo := r.payments.WithTx(tx)
	found, err := repo.FindByOrderCode(ctx, cb.OrderCode)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			r.logg.Warn(ctx, "callback for unknown payment")
			return settlement{outcome: OutcomeUnknownPayment}, nil
		}
		return settlement{}, storeError(err, "load payment")
	}
	if found.Method != cb.Method {
		r.logg.Warn(ctx, "callback method does not match payment")
		return settlement{outcome: OutcomeUnknownPayment}, nil
	}
	order, err := r.orders.Lock(ctx, tx, found.OrderID)
	if err != nil {
		return settlement{}, err
	}
	payment, err := repo.LockByOrderCode(ctx, cb.OrderCode)
	if err != nil {
		return settlement{}, storeError(err, "lock payment")
	}

	now := r.now().UTC()
	if lateCapture(payment, cb) {
		return r.creditLatePayment(ctx, tx, order, payment, cb, now)
	}
	if !payment.Status.IsOpen() {
		return settlement{outcome: OutcomeDuplicate}, nil
	}

	if !cb.Success {
		reason := strings.TrimSpace(cb.ResultCode)
		if reason == "" {
			reason = defaultFailureReason
		}
		if err := r.fail(ctx, tx, payment, reason, now); err != nil {
			return settlement{}, err
		}
		return settlement{outcome: OutcomeFailed}, nil
	}
	if !cb.Amount.Equal(payment.Amount) {
		r.logg.Warn(r.logg.WithFields(ctx, map[string]any{
			"expected_amount": payment.Amount.String(),
			"received_amount": cb.Amount.String(),
		}), "callback amount mismatch")
		if err := r.fail(ctx, tx, payment, models.FailureAmountMismatch, now); err != nil {
			return settlement{}, err
		}
		return settlement{outcome: OutcomeAmountMismatch}, nil
	}

	expected, target := expectedTransition(payment.Purpose)
	from := order.Status
	if from == expected {
		err := r.orders.Apply(ctx, tx, order, target, nil, nil)
		if pkgerrors.Is(err, pkgerrors.CodeVehicleUnavailable) {
			return r.creditUnclaimed(ctx, tx, order, payment, cb, now)
		}
		if err != nil {
			return settlement{}, err
		}
	}

	updates := map[string]any{
		"status":  enums.PaymentStatusCompleted,
		"paid_at": now,
	}
	if ref := strings.TrimSpace(cb.Reference); ref != "" {
		updates["gateway_transaction_id"] = ref
		payment.GatewayTransactionID = &ref
	}
	if err := repo.Update(ctx, payment.ID, updates); err != nil {
		return settlement{}, storeError(err, "complete payment")
	}
	payment.Status = enums.PaymentStatusCompleted
	payment.PaidAt = &now
	if err := r.outbox.Emit(ctx, tx, payments.DomainEvent(payment, enums.EventPaymentCompleted, nil, now)); err != nil {
		return settlement{}, err
	}

	credit, err := r.credit(ctx, tx, order, payment, fmt.Sprintf("%s payment %d received", payment.Method, payment.OrderCode))
	if err != nil {
		return settlement{}, err
	}
	if from != expected {
		// The order moved on while the customer paid. Funds stay in the wallet.
		r.logg.Warn(r.logg.WithField(ctx, "order_status", string(from)), "payment settled for order no longer awaiting it")
		return settlement{outcome: OutcomeCredited, ledger: []*wallet.Result{credit}}, nil
	}

	orderID := order.ID
	debit, err := r.wallet.ApplyTransactionTx(ctx, tx, wallet.ApplyInput{
		AccountID:   order.CustomerID,
		Amount:      payment.Amount.Neg(),
		Type:        enums.WalletTransactionPayment,
		OrderID:     &orderID,
		Description: fmt.Sprintf("%s payment for order", strings.ToLower(string(payment.Purpose))),
	})
	if err != nil {
		return settlement{}, err
	}
	return settlement{
		outcome: OutcomeApplied,
		ledger:  []*wallet.Result{credit, debit},
		order:   order,
		from:    from,
	}, nil
}

// lateCapture reports a genuine capture for an attempt that was already
// closed without money: canceled, or failed for a reason other than a wrong
// amount.
func lateCapture(payment *models.Payment, cb gateway.Callback) bool {
	if !cb.Success || payment.PaidAt != nil || !cb.Amount.Equal(payment.Amount) {
		return false
	}
	switch payment.Status {
	case enums.PaymentStatusCanceled:
		return true
	case enums.PaymentStatusFailed:
		return payment.FailureReason == nil || *payment.FailureReason != models.FailureAmountMismatch
	default:
		return false
	}
}

// creditLatePayment keeps the payment CANCELED or FAILED so refunds never
// count it twice. The customer receives the funds as wallet credit.
func (r *Reconciler) creditLatePayment(ctx context.Context, tx *gorm.DB, order *models.Order, payment *models.Payment, cb gateway.Callback, now time.Time) (settlement, error) {
	updates := map[string]any{"paid_at": now}
	if ref := strings.TrimSpace(cb.Reference); ref != "" {
		updates["gateway_transaction_id"] = ref
	}
	if err := r.payments.WithTx(tx).Update(ctx, payment.ID, updates); err != nil {
		return settlement{}, storeError(err, "record late payment")
	}
	credit, err := r.credit(ctx, tx, order, payment, fmt.Sprintf("%s payment %d received after the attempt closed", payment.Method, payment.OrderCode))
	if err != nil {
		return settlement{}, err
	}
	r.logg.Warn(r.logg.WithField(ctx, "payment_status", string(payment.Status)), "payment captured for closed attempt, credited to wallet")
	return settlement{outcome: OutcomeCredited, ledger: []*wallet.Result{credit}}, nil
}

// creditUnclaimed handles a deposit captured after another order took the
// vehicle. The money goes to the wallet, the attempt closes CANCELED with
// paid_at set, and the order is canceled.
func (r *Reconciler) creditUnclaimed(ctx context.Context, tx *gorm.DB, order *models.Order, payment *models.Payment, cb gateway.Callback, now time.Time) (settlement, error) {
	updates := map[string]any{
		"status":         enums.PaymentStatusCanceled,
		"paid_at":        now,
		"failure_reason": models.FailureVehicleUnavailable,
	}
	if ref := strings.TrimSpace(cb.Reference); ref != "" {
		updates["gateway_transaction_id"] = ref
	}
	if err := r.payments.WithTx(tx).Update(ctx, payment.ID, updates); err != nil {
		return settlement{}, storeError(err, "close payment")
	}
	credit, err := r.credit(ctx, tx, order, payment, fmt.Sprintf("%s payment %d received, vehicle no longer available", payment.Method, payment.OrderCode))
	if err != nil {
		return settlement{}, err
	}
	from := order.Status
	reason := "vehicle no longer available"
	if err := r.orders.Apply(ctx, tx, order, enums.OrderStatusCanceled, &reason, nil); err != nil {
		return settlement{}, err
	}
	r.logg.Warn(ctx, "vehicle taken by another order, deposit credited to wallet")
	return settlement{
		outcome: OutcomeCredited,
		ledger:  []*wallet.Result{credit},
		order:   order,
		from:    from,
	}, nil
}

// credit records money arriving from the provider as a wallet DEPOSIT.
func (r *Reconciler) credit(ctx context.Context, tx *gorm.DB, order *models.Order, payment *models.Payment, description string) (*wallet.Result, error) {
	if _, err := r.wallet.EnsureWallet(ctx, tx, order.CustomerID); err != nil {
		return nil, err
	}
	orderID := order.ID
	return r.wallet.ApplyTransactionTx(ctx, tx, wallet.ApplyInput{
		AccountID:   order.CustomerID,
		Amount:      payment.Amount,
		Type:        enums.WalletTransactionDeposit,
		OrderID:     &orderID,
		Description: description,
	})
}

func (r *Reconciler) fail(ctx context.Context, tx *gorm.DB, payment *models.Payment, reason string, at time.Time) error {
	if err := r.payments.WithTx(tx).Update(ctx, payment.ID, map[string]any{
		"status":         enums.PaymentStatusFailed,
		"failure_reason": reason,
	}); err != nil {
		return storeError(err, "fail payment")
	}
	payment.Status = enums.PaymentStatusFailed
	payment.FailureReason = &reason
	return r.outbox.Emit(ctx, tx, payments.DomainEvent(payment, enums.EventPaymentFailed, nil, at))
}

func (r *Reconciler) finish(method enums.PaymentMethod, outcome Outcome) Outcome {
	r.metrics.IncReconcile(string(method), string(outcome))
	return outcome
}

func expectedTransition(purpose enums.PaymentPurpose) (from, to enums.OrderStatus) {
	if purpose == enums.PaymentPurposeFinal {
		return enums.OrderStatusOngoing, enums.OrderStatusCompleted
	}
	return enums.OrderStatusPending, enums.OrderStatusConfirmed
}

// storeError keeps lock timeouts and deadlocks retryable for the provider.
func storeError(err error, msg string) error {
	if pkgerrors.IsLockContention(err) {
		return pkgerrors.Wrap(pkgerrors.CodeConcurrencyConflict, err, msg)
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, msg)
}

func guardReference(cb gateway.Callback) string {
	if ref := strings.TrimSpace(cb.Reference); ref != "" {
		return ref
	}
	if cb.Success {
		return "paid"
	}
	return "failed"
}
