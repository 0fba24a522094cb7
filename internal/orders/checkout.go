package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/evrent-backend/internal/payments"
	"github.com/angelmondragon/evrent-backend/internal/payments/gateway"
	"github.com/angelmondragon/evrent-backend/internal/realtime"
	"github.com/angelmondragon/evrent-backend/internal/reconciler"
	"github.com/angelmondragon/evrent-backend/internal/wallet"
	"github.com/angelmondragon/evrent-backend/pkg/db"
	"github.com/angelmondragon/evrent-backend/pkg/db/models"
	"github.com/angelmondragon/evrent-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/evrent-backend/pkg/errors"
	"github.com/angelmondragon/evrent-backend/pkg/outbox"
	"github.com/angelmondragon/evrent-backend/pkg/outbox/payloads"
)

// openPaymentIndex allows a single PENDING or PROCESSING payment per order.
const openPaymentIndex = "ux_payments_one_open_per_order"

// CreateOrderWithDeposit persists the order and its deposit payment, then
// attempts the deposit. When the attempt fails the order stays PENDING and is
// returned together with the error so the client can retry.
func (s *service) CreateOrderWithDeposit(ctx context.Context, input CreateOrderInput) (*PaymentResult, error) {
	if err := validateCreate(input); err != nil {
		return nil, err
	}
	now := s.now().UTC()

	discountPercent := decimal.Zero
	if input.PromotionID != nil {
		promo, err := s.promotions.Lookup(ctx, *input.PromotionID, now)
		if err != nil {
			return nil, err
		}
		discountPercent = promo.DiscountPercent
	}
	price := Quote(input.BasePrice, discountPercent)
	actor := &outbox.ActorRef{AccountID: input.CustomerID, Role: string(enums.RoleCustomer)}

	var (
		order   *models.Order
		payment *models.Payment
	)
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		vehicle, err := repo.FindVehicle(ctx, input.VehicleID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "vehicle not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load vehicle")
		}
		if vehicle.StationID != input.StationID {
			return pkgerrors.New(pkgerrors.CodeValidation, "vehicle is not at the requested station")
		}
		if vehicle.Status != enums.VehicleStatusAvailable {
			return pkgerrors.New(pkgerrors.CodeVehicleUnavailable, "vehicle is not available")
		}
		if _, err := s.wallet.EnsureWallet(ctx, tx, input.CustomerID); err != nil {
			return err
		}

		order = &models.Order{
			ID:                uuid.New(),
			CustomerID:        input.CustomerID,
			VehicleID:         input.VehicleID,
			StationID:         input.StationID,
			PromotionID:       input.PromotionID,
			OrderedAt:         now,
			StartTime:         input.Start.UTC(),
			EndTime:           input.End.UTC(),
			BasePrice:         price.Base,
			PromotionDiscount: price.Discount,
			DepositAmount:     price.Deposit,
			TotalPrice:        price.Total,
			Status:            enums.OrderStatusPending,
			Version:           1,
			IsActive:          true,
		}
		if err := repo.Create(ctx, order); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create order")
		}

		if price.Deposit.IsPositive() {
			payment, err = s.createPayment(ctx, tx, order, enums.PaymentPurposeDeposit, price.Deposit, input.Checkout.Method)
			if err != nil {
				return err
			}
		}

		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderCreated,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Actor:         actor,
			OccurredAt:    now,
			Data: payloads.OrderCreatedEvent{
				OrderID:       order.ID,
				CustomerID:    order.CustomerID,
				VehicleID:     order.VehicleID,
				StationID:     order.StationID,
				TotalPrice:    order.TotalPrice,
				DepositAmount: order.DepositAmount,
				PaymentMethod: input.Checkout.Method,
				StartTime:     order.StartTime,
				EndTime:       order.EndTime,
			},
		})
	})
	if err != nil {
		return nil, err
	}

	ctx = s.logg.WithOrder(ctx, order.ID.String(), string(order.Status))
	s.logg.Info(ctx, "order created")
	s.announceCreated(ctx, order)

	if payment == nil {
		// Fully discounted: nothing to collect up front.
		return s.confirmWithoutPayment(ctx, order, actor)
	}
	return s.attemptPayment(ctx, order, payment, input.Checkout, actor)
}

// PayDeposit replaces the open deposit attempt of a PENDING order with a new one.
func (s *service) PayDeposit(ctx context.Context, input PayDepositInput) (*PaymentResult, error) {
	if err := validateCheckout(input.Checkout); err != nil {
		return nil, err
	}
	order, err := s.loadOwned(ctx, input.OrderID, input.Requester)
	if err != nil {
		return nil, err
	}

	var (
		payment  *models.Payment
		replaced []models.Payment
	)
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		locked, err := s.transitions.Lock(ctx, tx, order.ID)
		if err != nil {
			return err
		}
		if locked.Status != enums.OrderStatusPending {
			return invalidState(locked.Status, "deposit can only be paid for a pending order")
		}
		order = locked
		replaced, err = s.cancelOpenPayments(ctx, tx, order.ID)
		if err != nil {
			return err
		}
		payment, err = s.createPayment(ctx, tx, order, enums.PaymentPurposeDeposit, order.DepositAmount, input.Checkout.Method)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.cancelLinks(ctx, replaced, "replaced by a new payment attempt")
	return s.attemptPayment(ctx, order, payment, input.Checkout, input.Requester.actor())
}

// ConfirmCashPayment records cash collected by staff for an open CASH payment.
func (s *service) ConfirmCashPayment(ctx context.Context, paymentID uuid.UUID, staff Requester) (*PaymentResult, error) {
	if err := requireOperator(staff); err != nil {
		return nil, err
	}
	payment, err := s.payments.FindByID(ctx, paymentID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payment not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment")
	}
	if payment.Method != enums.PaymentMethodCash {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "only cash payments can be confirmed by staff")
	}
	return s.settlePayment(ctx, payment, staff.actor(), true, nil)
}

// attemptPayment runs the method-specific step for an open payment.
func (s *service) attemptPayment(ctx context.Context, order *models.Order, payment *models.Payment, opts CheckoutOptions, actor *outbox.ActorRef) (*PaymentResult, error) {
	result := &PaymentResult{Order: order, Payment: payment}
	switch {
	case payment.Method == enums.PaymentMethodWallet:
		settled, err := s.settlePayment(ctx, payment, actor, false, s.debitWallet)
		if err != nil {
			s.logg.Warn(ctx, "wallet payment not settled")
			return result, err
		}
		return settled, nil
	case payment.Method.UsesGateway():
		url, err := s.startGatewayPayment(ctx, payment, opts)
		if err != nil {
			return result, err
		}
		result.CheckoutURL = url
		if payment.Method == enums.PaymentMethodCard {
			return s.settleCardNow(ctx, result)
		}
		return result, nil
	default:
		// CASH waits for staff.
		return result, nil
	}
}

type ledgerStep func(ctx context.Context, tx *gorm.DB, order *models.Order, payment *models.Payment) ([]*wallet.Result, error)

// debitWallet takes the payment amount from the customer's wallet.
func (s *service) debitWallet(ctx context.Context, tx *gorm.DB, order *models.Order, payment *models.Payment) ([]*wallet.Result, error) {
	orderID := order.ID
	res, err := s.wallet.ApplyTransactionTx(ctx, tx, wallet.ApplyInput{
		AccountID:   order.CustomerID,
		Amount:      payment.Amount.Neg(),
		Type:        enums.WalletTransactionPayment,
		OrderID:     &orderID,
		Description: fmt.Sprintf("%s payment for order", strings.ToLower(string(payment.Purpose))),
	})
	if err != nil {
		return nil, err
	}
	return []*wallet.Result{res}, nil
}

// settlePayment completes an open payment and advances the order in one
// transaction. ledger may be nil for money that never touches the wallet.
func (s *service) settlePayment(ctx context.Context, payment *models.Payment, actor *outbox.ActorRef, byStaff bool, ledger ledgerStep) (*PaymentResult, error) {
	from, to := expectedTransition(payment.Purpose)
	var (
		order   *models.Order
		entries []*wallet.Result
	)
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		order, err = s.transitions.Lock(ctx, tx, payment.OrderID)
		if err != nil {
			return err
		}
		if order.Status != from {
			return invalidState(order.Status, fmt.Sprintf("order must be %s to settle this payment", from))
		}
		locked, err := s.payments.WithTx(tx).LockByOrderCode(ctx, payment.OrderCode)
		if err != nil {
			return paymentStoreError(err, "lock payment")
		}
		if !locked.Status.IsOpen() {
			return pkgerrors.New(pkgerrors.CodeConflict, "payment is no longer open")
		}
		payment = locked

		if ledger != nil {
			if entries, err = ledger(ctx, tx, order, payment); err != nil {
				return err
			}
		}
		if err := s.completePayment(ctx, tx, payment, actor); err != nil {
			return err
		}
		return s.transitions.Apply(ctx, tx, order, to, nil, actor)
	})
	if err != nil {
		return nil, err
	}

	s.wallet.PublishUpdates(ctx, entries...)
	s.transitions.Announce(ctx, order, from, byStaff)
	return &PaymentResult{Order: order, Payment: payment}, nil
}

// settleCardNow reconciles a card charge right away since Square captures synchronously.
func (s *service) settleCardNow(ctx context.Context, result *PaymentResult) (*PaymentResult, error) {
	outcome, err := s.reconciler.ReconcileFromProvider(ctx, result.Payment.Method, result.Payment.OrderCode)
	if err != nil {
		s.logg.Warn(ctx, "card payment will settle by webhook")
		return result, nil
	}
	if outcome != reconciler.OutcomeApplied && outcome != reconciler.OutcomeFailed && outcome != reconciler.OutcomeAmountMismatch {
		return result, nil
	}
	if order, err := s.repo.FindByID(ctx, result.Order.ID); err == nil {
		result.Order = order
	}
	if payment, err := s.payments.FindByID(ctx, result.Payment.ID); err == nil {
		result.Payment = payment
	}
	return result, nil
}

func (s *service) confirmWithoutPayment(ctx context.Context, order *models.Order, actor *outbox.ActorRef) (*PaymentResult, error) {
	from := order.Status
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		locked, err := s.transitions.Lock(ctx, tx, order.ID)
		if err != nil {
			return err
		}
		order = locked
		return s.transitions.Apply(ctx, tx, order, enums.OrderStatusConfirmed, nil, actor)
	})
	if err != nil {
		return &PaymentResult{Order: order}, err
	}
	s.transitions.Announce(ctx, order, from, false)
	return &PaymentResult{Order: order}, nil
}

// createPayment opens a new attempt. Callers hold the order lock, so the open
// check below and the insert cannot interleave with another writer.
func (s *service) createPayment(ctx context.Context, tx *gorm.DB, order *models.Order, purpose enums.PaymentPurpose, amount decimal.Decimal, method enums.PaymentMethod) (*models.Payment, error) {
	open, err := s.payments.WithTx(tx).FindOpenByOrder(ctx, order.ID)
	switch {
	case err == nil:
		return nil, pkgerrors.New(pkgerrors.CodeConcurrencyConflict, "another payment for this order is already in progress").
			WithDetails(map[string]any{"orderCode": open.OrderCode})
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return nil, paymentStoreError(err, "find open payment")
	}
	code, err := s.paymentCode.NextOrderCode(ctx, tx)
	if err != nil {
		return nil, err
	}
	payment := &models.Payment{
		ID:        uuid.New(),
		OrderID:   order.ID,
		Amount:    amount,
		Method:    method,
		Purpose:   purpose,
		Status:    enums.PaymentStatusPending,
		OrderCode: code,
	}
	if err := s.payments.WithTx(tx).Create(ctx, payment); err != nil {
		if db.IsUniqueViolation(err, openPaymentIndex) {
			return nil, pkgerrors.New(pkgerrors.CodeConcurrencyConflict, "another payment for this order is already in progress")
		}
		return nil, paymentStoreError(err, "create payment")
	}
	return payment, nil
}

func (s *service) completePayment(ctx context.Context, tx *gorm.DB, payment *models.Payment, actor *outbox.ActorRef) error {
	now := s.now().UTC()
	if err := s.payments.WithTx(tx).Update(ctx, payment.ID, map[string]any{
		"status":  enums.PaymentStatusCompleted,
		"paid_at": now,
	}); err != nil {
		return paymentStoreError(err, "complete payment")
	}
	payment.Status = enums.PaymentStatusCompleted
	payment.PaidAt = &now
	return s.outbox.Emit(ctx, tx, payments.DomainEvent(payment, enums.EventPaymentCompleted, actor, now))
}

// cancelOpenPayments closes every PENDING/PROCESSING attempt of the order.
func (s *service) cancelOpenPayments(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) ([]models.Payment, error) {
	repo := s.payments.WithTx(tx)
	rows, err := repo.ListByOrder(ctx, orderID)
	if err != nil {
		return nil, paymentStoreError(err, "list payments")
	}
	var canceled []models.Payment
	for _, p := range rows {
		if !p.Status.IsOpen() {
			continue
		}
		if err := repo.Update(ctx, p.ID, map[string]any{"status": enums.PaymentStatusCanceled}); err != nil {
			return nil, paymentStoreError(err, "cancel payment")
		}
		p.Status = enums.PaymentStatusCanceled
		canceled = append(canceled, p)
	}
	return canceled, nil
}

func (s *service) startGatewayPayment(ctx context.Context, payment *models.Payment, opts CheckoutOptions) (string, error) {
	gw, err := s.gateways.Get(payment.Method)
	if err != nil {
		return "", err
	}
	req := gateway.LinkRequest{
		OrderCode:   payment.OrderCode,
		Amount:      payment.Amount,
		Description: linkDescription(payment),
		ReturnURL:   firstNonEmpty(opts.ReturnURL, s.gatewayCfg.DefaultReturnURL),
		CancelURL:   firstNonEmpty(opts.CancelURL, s.gatewayCfg.DefaultCancelURL),
		SourceID:    opts.SourceID,
		ClientIP:    opts.ClientIP,
	}
	ctx = s.logg.WithPayment(ctx, payment.OrderCode, string(payment.Method))
	link, err := gw.CreatePaymentLink(ctx, req)
	if err != nil {
		s.logg.Warn(ctx, "payment link not created, payment stays pending")
		return "", err
	}

	updates := map[string]any{}
	if link.CheckoutURL != "" {
		updates["checkout_url"] = link.CheckoutURL
		payment.CheckoutURL = &link.CheckoutURL
	}
	if link.GatewayRef != "" {
		updates["gateway_transaction_id"] = link.GatewayRef
		payment.GatewayTransactionID = &link.GatewayRef
	}
	if err := s.payments.Update(ctx, payment.ID, updates); err != nil {
		return "", paymentStoreError(err, "store checkout link")
	}
	return link.CheckoutURL, nil
}

// cancelLinks is best-effort: failures are logged and never surface.
func (s *service) cancelLinks(ctx context.Context, canceled []models.Payment, reason string) {
	for _, p := range canceled {
		if !p.Method.UsesGateway() {
			continue
		}
		gw, err := s.gateways.Get(p.Method)
		if err != nil {
			continue
		}
		pctx := s.logg.WithPayment(ctx, p.OrderCode, string(p.Method))
		if err := gw.CancelPaymentLink(pctx, p.OrderCode, reason); err != nil {
			s.logg.Warn(pctx, "provider cancel failed")
		}
	}
}

func (s *service) announceCreated(ctx context.Context, order *models.Order) {
	snapshot := StatusNotification{Order: *order, To: order.Status}
	s.notifier.Notify(ctx, realtime.EventOrderCreated, realtime.AccountGroup(order.CustomerID), snapshot)
	s.notifier.Notify(ctx, realtime.EventOrderCreated, realtime.GroupStaff, snapshot)
	s.notifier.Notify(ctx, realtime.EventOrderCreated, realtime.GroupAdmin, snapshot)
}

func validateCreate(input CreateOrderInput) error {
	switch {
	case input.CustomerID == uuid.Nil:
		return pkgerrors.New(pkgerrors.CodeUnauthorized, "customer identity missing")
	case input.VehicleID == uuid.Nil:
		return pkgerrors.New(pkgerrors.CodeValidation, "vehicle id is required")
	case input.StationID == uuid.Nil:
		return pkgerrors.New(pkgerrors.CodeValidation, "station id is required")
	case input.Start.IsZero() || input.End.IsZero() || !input.Start.Before(input.End):
		return pkgerrors.New(pkgerrors.CodeValidation, "start time must be before end time")
	case !input.BasePrice.IsPositive():
		return pkgerrors.New(pkgerrors.CodeValidation, "base price must be positive")
	case !input.BasePrice.Equal(input.BasePrice.Round(2)):
		return pkgerrors.New(pkgerrors.CodeValidation, "base price has more than two decimals")
	}
	return validateCheckout(input.Checkout)
}

func validateCheckout(opts CheckoutOptions) error {
	if !opts.Method.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unknown payment method %q", opts.Method))
	}
	if opts.Method == enums.PaymentMethodCard && strings.TrimSpace(opts.SourceID) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "card source id is required")
	}
	return nil
}

func expectedTransition(purpose enums.PaymentPurpose) (from, to enums.OrderStatus) {
	if purpose == enums.PaymentPurposeFinal {
		return enums.OrderStatusOngoing, enums.OrderStatusCompleted
	}
	return enums.OrderStatusPending, enums.OrderStatusConfirmed
}

// paymentStoreError keeps lock timeouts and deadlocks on payment rows retryable.
func paymentStoreError(err error, msg string) error {
	if pkgerrors.IsLockContention(err) {
		return pkgerrors.Wrap(pkgerrors.CodeConcurrencyConflict, err, msg)
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, msg)
}

func invalidState(current enums.OrderStatus, msg string) error {
	return pkgerrors.New(pkgerrors.CodeInvalidOrderState, msg).WithDetails(map[string]any{"status": current})
}

func linkDescription(payment *models.Payment) string {
	return fmt.Sprintf("EVR %s %d", strings.ToLower(string(payment.Purpose)), payment.OrderCode%1000000)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
