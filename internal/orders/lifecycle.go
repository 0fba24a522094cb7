package orders

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/evrent-backend/internal/payments"
	"github.com/angelmondragon/evrent-backend/internal/reconciler"
	"github.com/angelmondragon/evrent-backend/internal/wallet"
	"github.com/angelmondragon/evrent-backend/pkg/db/models"
	"github.com/angelmondragon/evrent-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/evrent-backend/pkg/errors"
	"github.com/angelmondragon/evrent-backend/pkg/outbox"
)

const autoRefundReason = "auto-refund: abandoned checkout"

// StartRental hands the vehicle over. Staff only.
func (s *service) StartRental(ctx context.Context, orderID uuid.UUID, staff Requester) (*models.Order, error) {
	if err := requireOperator(staff); err != nil {
		return nil, err
	}
	var (
		order *models.Order
		from  enums.OrderStatus
	)
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		order, err = s.transitions.Lock(ctx, tx, orderID)
		if err != nil {
			return err
		}
		from = order.Status
		return s.transitions.Apply(ctx, tx, order, enums.OrderStatusOngoing, nil, staff.actor())
	})
	if err != nil {
		return nil, err
	}
	s.transitions.Announce(ctx, order, from, true)
	return order, nil
}

// CompleteOrderWithFinalPayment collects total minus deposit. WALLET and CASH
// settle immediately; gateway methods leave the order ONGOING until the
// provider confirms.
func (s *service) CompleteOrderWithFinalPayment(ctx context.Context, input CompleteInput) (*PaymentResult, error) {
	if err := validateCheckout(input.Checkout); err != nil {
		return nil, err
	}
	method := input.Checkout.Method
	if method == enums.PaymentMethodCash {
		if err := requireOperator(input.Requester); err != nil {
			return nil, err
		}
	}
	order, err := s.loadOwned(ctx, input.OrderID, input.Requester)
	if err != nil {
		return nil, err
	}
	if order.Status != enums.OrderStatusOngoing {
		return nil, invalidState(order.Status, "only an ongoing order can be completed")
	}
	final := order.FinalAmount()
	actor := input.Requester.actor()
	byStaff := input.Requester.Role.IsOperator()

	var (
		payment  *models.Payment
		replaced []models.Payment
		entries  []*wallet.Result
		from     enums.OrderStatus
	)
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		locked, err := s.transitions.Lock(ctx, tx, order.ID)
		if err != nil {
			return err
		}
		if locked.Status != enums.OrderStatusOngoing {
			return invalidState(locked.Status, "only an ongoing order can be completed")
		}
		order = locked
		from = order.Status
		if replaced, err = s.cancelOpenPayments(ctx, tx, order.ID); err != nil {
			return err
		}
		if !final.IsPositive() {
			return s.transitions.Apply(ctx, tx, order, enums.OrderStatusCompleted, nil, actor)
		}
		if payment, err = s.createPayment(ctx, tx, order, enums.PaymentPurposeFinal, final, method); err != nil {
			return err
		}
		if method.UsesGateway() {
			return nil
		}
		if method == enums.PaymentMethodWallet {
			if entries, err = s.debitWallet(ctx, tx, order, payment); err != nil {
				return err
			}
		}
		if err := s.completePayment(ctx, tx, payment, actor); err != nil {
			return err
		}
		return s.transitions.Apply(ctx, tx, order, enums.OrderStatusCompleted, nil, actor)
	})
	if err != nil {
		return nil, err
	}

	s.cancelLinks(ctx, replaced, "replaced by a new payment attempt")
	result := &PaymentResult{Order: order, Payment: payment}
	if payment == nil || !method.UsesGateway() {
		s.wallet.PublishUpdates(ctx, entries...)
		s.transitions.Announce(ctx, order, from, byStaff)
		return result, nil
	}

	url, err := s.startGatewayPayment(ctx, payment, input.Checkout)
	if err != nil {
		return result, err
	}
	result.CheckoutURL = url
	if method == enums.PaymentMethodCard {
		return s.settleCardNow(ctx, result)
	}
	return result, nil
}

// CancelOrderWithRefund cancels a PENDING or CONFIRMED order, returns every
// collected deposit to the customer's wallet and closes open attempts.
func (s *service) CancelOrderWithRefund(ctx context.Context, input CancelInput) (*CancelResult, error) {
	reason := strings.TrimSpace(input.Reason)
	if reason == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "cancel reason is required")
	}
	var actor *outbox.ActorRef
	byStaff := false
	if input.Requester != nil {
		if _, err := s.loadOwned(ctx, input.OrderID, *input.Requester); err != nil {
			return nil, err
		}
		actor = input.Requester.actor()
		byStaff = input.Requester.Role.IsOperator()
	}

	var (
		order    *models.Order
		from     enums.OrderStatus
		refund   decimal.Decimal
		entries  []*wallet.Result
		canceled []models.Payment
	)
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		order, err = s.transitions.Lock(ctx, tx, input.OrderID)
		if err != nil {
			return err
		}
		from = order.Status
		if !CanTransition(from, enums.OrderStatusCanceled) {
			return invalidState(from, fmt.Sprintf("order cannot be canceled while %s", from))
		}

		refund, err = s.refundDeposits(ctx, tx, order, actor)
		if err != nil {
			return err
		}
		if refund.IsPositive() {
			if _, err := s.wallet.EnsureWallet(ctx, tx, order.CustomerID); err != nil {
				return err
			}
			orderID := order.ID
			res, err := s.wallet.ApplyTransactionTx(ctx, tx, wallet.ApplyInput{
				AccountID:   order.CustomerID,
				Amount:      refund,
				Type:        enums.WalletTransactionRefund,
				OrderID:     &orderID,
				Description: "deposit refund: " + reason,
				Actor:       actor,
			})
			if err != nil {
				return err
			}
			entries = append(entries, res)
		}
		if canceled, err = s.cancelOpenPayments(ctx, tx, order.ID); err != nil {
			return err
		}
		return s.transitions.Apply(ctx, tx, order, enums.OrderStatusCanceled, &reason, actor)
	})
	if err != nil {
		return nil, err
	}

	ctx = s.logg.WithOrder(ctx, order.ID.String(), string(order.Status))
	s.logg.Info(s.logg.WithField(ctx, "refund", refund.String()), "order canceled")
	s.wallet.PublishUpdates(ctx, entries...)
	s.cancelLinks(ctx, canceled, reason)
	s.transitions.Announce(ctx, order, from, byStaff)
	return &CancelResult{Order: order, Refund: refund}, nil
}

// refundDeposits marks collected deposits as refunded and returns their sum.
func (s *service) refundDeposits(ctx context.Context, tx *gorm.DB, order *models.Order, actor *outbox.ActorRef) (decimal.Decimal, error) {
	repo := s.payments.WithTx(tx)
	rows, err := repo.ListByOrder(ctx, order.ID)
	if err != nil {
		return decimal.Zero, paymentStoreError(err, "list payments")
	}
	total := decimal.Zero
	var collected []models.Payment
	for _, p := range rows {
		if p.Purpose == enums.PaymentPurposeDeposit && p.Status == enums.PaymentStatusCompleted {
			total = total.Add(p.Amount)
			collected = append(collected, p)
		}
	}
	status := enums.PaymentStatusRefunded
	if total.LessThan(order.DepositAmount) {
		status = enums.PaymentStatusPartialRefund
	}
	now := s.now().UTC()
	for i := range collected {
		p := &collected[i]
		if err := repo.Update(ctx, p.ID, map[string]any{"status": status}); err != nil {
			return decimal.Zero, paymentStoreError(err, "refund payment")
		}
		p.Status = status
		if err := s.outbox.Emit(ctx, tx, payments.DomainEvent(p, enums.EventPaymentRefunded, actor, now)); err != nil {
			return decimal.Zero, err
		}
	}
	return total, nil
}

// ProcessAutoRefund cancels a checkout abandoned past the staleness window.
// A provider that reports the payment as paid wins over the cancellation.
func (s *service) ProcessAutoRefund(ctx context.Context, orderID uuid.UUID) (AutoRefundOutcome, error) {
	order, err := s.repo.FindByID(ctx, orderID)
	if err != nil {
		return AutoRefundSkipped, mapOrderLookupError(err)
	}
	ctx = s.logg.WithOrder(ctx, order.ID.String(), string(order.Status))
	if order.Status != enums.OrderStatusPending {
		return AutoRefundSkipped, nil
	}
	if order.CreatedAt.After(s.now().Add(-s.staleAfter)) {
		return AutoRefundSkipped, nil
	}
	rows, err := s.payments.ListByOrder(ctx, order.ID)
	if err != nil {
		return AutoRefundSkipped, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list payments")
	}
	for _, p := range rows {
		if p.Purpose == enums.PaymentPurposeDeposit && p.Status == enums.PaymentStatusCompleted {
			return AutoRefundSkipped, nil
		}
	}

	for _, p := range rows {
		if !p.Status.IsOpen() || !p.Method.UsesGateway() {
			continue
		}
		outcome, err := s.reconciler.ReconcileFromProvider(ctx, p.Method, p.OrderCode)
		if err != nil {
			// Without the provider's answer a capture may still be in flight.
			s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "provider status check failed, auto-refund deferred")
			return AutoRefundSkipped, nil
		}
		if outcome == reconciler.OutcomeApplied {
			return AutoRefundSettled, nil
		}
	}

	_, err = s.CancelOrderWithRefund(ctx, CancelInput{OrderID: order.ID, Reason: autoRefundReason})
	if err != nil {
		if pkgerrors.Is(err, pkgerrors.CodeInvalidOrderState) || pkgerrors.Is(err, pkgerrors.CodeConcurrencyConflict) {
			return AutoRefundSkipped, nil
		}
		return AutoRefundSkipped, err
	}
	return AutoRefundCanceled, nil
}
