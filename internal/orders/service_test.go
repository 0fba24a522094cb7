package orders

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/evrent-backend/internal/payments/gateway"
	"github.com/angelmondragon/evrent-backend/internal/realtime"
	"github.com/angelmondragon/evrent-backend/internal/reconciler"
	"github.com/angelmondragon/evrent-backend/pkg/db/models"
	"github.com/angelmondragon/evrent-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/evrent-backend/pkg/errors"
	"github.com/angelmondragon/evrent-backend/pkg/pagination"
)

func TestCreateOrderWithWalletDeposit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	customerID := uuid.New()
	f.fund(t, customerID, "150000")
	vehicleID := f.vehicle(t)

	res, err := f.svc.CreateOrderWithDeposit(ctx, f.createInput(customerID, vehicleID, enums.PaymentMethodWallet))
	require.NoError(t, err)

	assert.True(t, res.Order.TotalPrice.Equal(decimal.NewFromInt(1000000)))
	assert.True(t, res.Order.DepositAmount.Equal(decimal.NewFromInt(100000)))
	assert.Equal(t, enums.OrderStatusConfirmed, res.Order.Status)
	assert.Equal(t, enums.PaymentStatusCompleted, res.Payment.Status)
	assert.True(t, f.balance(t, customerID).Equal(decimal.NewFromInt(50000)))

	entries := f.ledger(t, customerID)
	require.Len(t, entries, 2)
	assert.Equal(t, enums.WalletTransactionPayment, entries[1].Type)
	assert.True(t, entries[1].Amount.Equal(decimal.NewFromInt(-100000)))

	assert.Equal(t, enums.VehicleStatusReserved, f.vehicleStatus(t, vehicleID))
	assert.Equal(t, 2, f.order(t, res.Order.ID).Version)
	assert.Equal(t, 1, f.notifier.count(realtime.EventOrderCreated, realtime.GroupStaff))
	assert.Equal(t, 1, f.notifier.count(realtime.EventOrderStatusChanged, realtime.AccountGroup(customerID)))
}

func TestCreateOrderWithInsufficientWallet(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	customerID := uuid.New()
	f.fund(t, customerID, "50000")

	res, err := f.svc.CreateOrderWithDeposit(ctx, f.createInput(customerID, f.vehicle(t), enums.PaymentMethodWallet))
	requireCode(t, err, pkgerrors.CodeInsufficientFunds)
	require.NotNil(t, res)

	assert.True(t, f.balance(t, customerID).Equal(decimal.NewFromInt(50000)))
	assert.Len(t, f.ledger(t, customerID), 1)
	assert.Equal(t, enums.OrderStatusPending, f.order(t, res.Order.ID).Status)
	rows := f.payments(t, res.Order.ID)
	require.Len(t, rows, 1)
	assert.Equal(t, enums.PaymentStatusPending, rows[0].Status)
}

func TestCreateOrderProvisionsWalletAndAppliesPromotion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	promo := models.Promotion{ID: uuid.New(), Code: "SPRING", DiscountPercent: decimal.NewFromInt(15), IsActive: true}
	require.NoError(t, f.client.DB().Create(&promo).Error)

	customerID := uuid.New()
	input := f.createInput(customerID, f.vehicle(t), enums.PaymentMethodCash)
	input.PromotionID = &promo.ID
	res, err := f.svc.CreateOrderWithDeposit(ctx, input)
	require.NoError(t, err)

	assert.True(t, res.Order.PromotionDiscount.Equal(decimal.NewFromInt(150000)))
	assert.True(t, res.Order.TotalPrice.Equal(decimal.NewFromInt(850000)))
	assert.True(t, res.Order.DepositAmount.Equal(decimal.NewFromInt(85000)))
	assert.Equal(t, enums.OrderStatusPending, res.Order.Status)

	balance, err := f.wallet.GetBalance(ctx, customerID)
	require.NoError(t, err)
	assert.True(t, balance.IsZero())
}

func TestCreateOrderValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	vehicleID := f.vehicle(t)
	base := f.createInput(uuid.New(), vehicleID, enums.PaymentMethodWallet)

	cases := map[string]func(in *CreateOrderInput){
		"end before start":   func(in *CreateOrderInput) { in.End = in.Start.Add(-time.Hour) },
		"zero price":         func(in *CreateOrderInput) { in.BasePrice = decimal.Zero },
		"unknown method":     func(in *CreateOrderInput) { in.Checkout.Method = "BITCOIN" },
		"card without token": func(in *CreateOrderInput) { in.Checkout.Method = enums.PaymentMethodCard },
		"wrong station":      func(in *CreateOrderInput) { in.StationID = uuid.New() },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			in := base
			mutate(&in)
			_, err := f.svc.CreateOrderWithDeposit(ctx, in)
			requireCode(t, err, pkgerrors.CodeValidation)
		})
	}

	endedAt := time.Now().Add(-time.Hour)
	expired := models.Promotion{ID: uuid.New(), Code: "OLD", DiscountPercent: decimal.NewFromInt(10), IsActive: true, ValidTo: &endedAt}
	require.NoError(t, f.client.DB().Create(&expired).Error)
	in := base
	in.PromotionID = &expired.ID
	_, err := f.svc.CreateOrderWithDeposit(ctx, in)
	requireCode(t, err, pkgerrors.CodeValidation)

	var count int64
	require.NoError(t, f.client.DB().Model(&models.Order{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestGatewayDepositSettledByCallbackOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	customerID := uuid.New()
	vehicleID := f.vehicle(t)

	res, err := f.svc.CreateOrderWithDeposit(ctx, f.createInput(customerID, vehicleID, enums.PaymentMethodPayOS))
	require.NoError(t, err)
	assert.Equal(t, "https://pay.test/checkout", res.CheckoutURL)
	assert.Equal(t, "https://app.test/return", f.payos.lastLink.ReturnURL)
	assert.Equal(t, enums.OrderStatusPending, res.Order.Status)

	cb := gateway.Callback{
		Method:    enums.PaymentMethodPayOS,
		OrderCode: res.Payment.OrderCode,
		Amount:    decimal.NewFromInt(100000),
		Success:   true,
		Reference: "FT-1",
	}
	outcome, err := f.reconciler.Reconcile(ctx, cb)
	require.NoError(t, err)
	assert.Equal(t, reconciler.OutcomeApplied, outcome)

	outcome, err = f.reconciler.Reconcile(ctx, cb)
	require.NoError(t, err)
	assert.Equal(t, reconciler.OutcomeDuplicate, outcome)

	order := f.order(t, res.Order.ID)
	assert.Equal(t, enums.OrderStatusConfirmed, order.Status)
	assert.Equal(t, 2, order.Version)
	entries := f.ledger(t, customerID)
	require.Len(t, entries, 2)
	assert.True(t, entries[0].Amount.Add(entries[1].Amount).IsZero())
	assert.True(t, f.balance(t, customerID).IsZero())

	rows := f.payments(t, res.Order.ID)
	require.Len(t, rows, 1)
	assert.Equal(t, enums.PaymentStatusCompleted, rows[0].Status)
	require.NotNil(t, rows[0].GatewayTransactionID)
	assert.Equal(t, "FT-1", *rows[0].GatewayTransactionID)
}

func TestInvalidSignatureChangesNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	customerID := uuid.New()
	res, err := f.svc.CreateOrderWithDeposit(ctx, f.createInput(customerID, f.vehicle(t), enums.PaymentMethodPayOS))
	require.NoError(t, err)

	f.payos.validSig = false
	outcome, err := f.reconciler.Reconcile(ctx, gateway.Callback{
		Method:    enums.PaymentMethodPayOS,
		OrderCode: res.Payment.OrderCode,
		Amount:    decimal.NewFromInt(100000),
		Success:   true,
	})
	requireCode(t, err, pkgerrors.CodeSignatureInvalid)
	assert.False(t, outcome.Acknowledged())

	assert.Equal(t, enums.PaymentStatusPending, f.payments(t, res.Order.ID)[0].Status)
	assert.Len(t, f.ledger(t, customerID), 0)
	assert.Equal(t, enums.OrderStatusPending, f.order(t, res.Order.ID).Status)
}

func TestGatewayUnavailableKeepsOrderPending(t *testing.T) {
	f := newFixture(t)
	f.payos.linkErr = pkgerrors.New(pkgerrors.CodeGatewayUnavailable, "timeout")

	res, err := f.svc.CreateOrderWithDeposit(context.Background(), f.createInput(uuid.New(), f.vehicle(t), enums.PaymentMethodPayOS))
	requireCode(t, err, pkgerrors.CodeGatewayUnavailable)
	require.NotNil(t, res)
	assert.Equal(t, enums.OrderStatusPending, f.order(t, res.Order.ID).Status)
	assert.Equal(t, enums.PaymentStatusPending, f.payments(t, res.Order.ID)[0].Status)
}

func TestPayDepositReplacesOpenAttempt(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	customerID := uuid.New()
	res, err := f.svc.CreateOrderWithDeposit(ctx, f.createInput(customerID, f.vehicle(t), enums.PaymentMethodPayOS))
	require.NoError(t, err)

	f.fund(t, customerID, "100000")
	retry, err := f.svc.PayDeposit(ctx, PayDepositInput{
		OrderID:   res.Order.ID,
		Requester: customer(customerID),
		Checkout:  CheckoutOptions{Method: enums.PaymentMethodWallet},
	})
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusConfirmed, retry.Order.Status)

	rows := f.payments(t, res.Order.ID)
	require.Len(t, rows, 2)
	assert.Equal(t, enums.PaymentStatusCanceled, rows[0].Status)
	assert.Equal(t, enums.PaymentStatusCompleted, rows[1].Status)
	assert.Equal(t, []int64{rows[0].OrderCode}, f.payos.canceled)

	_, err = f.svc.PayDeposit(ctx, PayDepositInput{
		OrderID:   res.Order.ID,
		Requester: customer(customerID),
		Checkout:  CheckoutOptions{Method: enums.PaymentMethodWallet},
	})
	requireCode(t, err, pkgerrors.CodeInvalidOrderState)

	_, err = f.svc.PayDeposit(ctx, PayDepositInput{
		OrderID:   res.Order.ID,
		Requester: customer(uuid.New()),
		Checkout:  CheckoutOptions{Method: enums.PaymentMethodWallet},
	})
	requireCode(t, err, pkgerrors.CodeForbidden)
}

func TestLateCaptureOnReplacedAttemptIsCredited(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	customerID := uuid.New()
	res, err := f.svc.CreateOrderWithDeposit(ctx, f.createInput(customerID, f.vehicle(t), enums.PaymentMethodPayOS))
	require.NoError(t, err)
	_, err = f.svc.PayDeposit(ctx, PayDepositInput{
		OrderID:   res.Order.ID,
		Requester: customer(customerID),
		Checkout:  CheckoutOptions{Method: enums.PaymentMethodCash},
	})
	require.NoError(t, err)

	outcome, err := f.reconciler.Reconcile(ctx, gateway.Callback{
		Method:    enums.PaymentMethodPayOS,
		OrderCode: res.Payment.OrderCode,
		Amount:    decimal.NewFromInt(100000),
		Success:   true,
		Reference: "FT-late",
	})
	require.NoError(t, err)
	assert.Equal(t, reconciler.OutcomeCredited, outcome)
	assert.True(t, f.balance(t, customerID).Equal(decimal.NewFromInt(100000)))
	assert.Equal(t, enums.OrderStatusPending, f.order(t, res.Order.ID).Status)
}

func TestCardDepositSettlesImmediately(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.card.status = gateway.InfoPaid
	customerID := uuid.New()
	in := f.createInput(customerID, f.vehicle(t), enums.PaymentMethodCard)
	in.Checkout.SourceID = "cnon:ok"

	res, err := f.svc.CreateOrderWithDeposit(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusConfirmed, res.Order.Status)
	assert.Equal(t, enums.PaymentStatusCompleted, res.Payment.Status)
	require.NotNil(t, res.Payment.GatewayTransactionID)
}

func TestConfirmCashPaymentRequiresStaff(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	customerID := uuid.New()
	vehicleID := f.vehicle(t)
	res, err := f.svc.CreateOrderWithDeposit(ctx, f.createInput(customerID, vehicleID, enums.PaymentMethodCash))
	require.NoError(t, err)

	_, err = f.svc.ConfirmCashPayment(ctx, res.Payment.ID, customer(customerID))
	requireCode(t, err, pkgerrors.CodeForbidden)

	confirmed, err := f.svc.ConfirmCashPayment(ctx, res.Payment.ID, staff())
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusConfirmed, confirmed.Order.Status)
	assert.Equal(t, enums.VehicleStatusReserved, f.vehicleStatus(t, vehicleID))
	assert.Equal(t, 1, f.notifier.count(realtime.EventOrderUpdatedByStaff, realtime.AccountGroup(customerID)))

	_, err = f.svc.ConfirmCashPayment(ctx, res.Payment.ID, staff())
	requireCode(t, err, pkgerrors.CodeInvalidOrderState)
}

func TestFullRentalLifecycleWithWallet(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	customerID := uuid.New()
	order := f.confirmedOrder(t, customerID)

	_, err := f.svc.StartRental(ctx, order.ID, customer(customerID))
	requireCode(t, err, pkgerrors.CodeForbidden)

	started, err := f.svc.StartRental(ctx, order.ID, staff())
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusOngoing, started.Status)
	assert.Equal(t, enums.VehicleStatusRented, f.vehicleStatus(t, order.VehicleID))

	_, err = f.svc.CompleteOrderWithFinalPayment(ctx, CompleteInput{
		OrderID:   order.ID,
		Requester: customer(customerID),
		Checkout:  CheckoutOptions{Method: enums.PaymentMethodWallet},
	})
	requireCode(t, err, pkgerrors.CodeInsufficientFunds)
	assert.Equal(t, enums.OrderStatusOngoing, f.order(t, order.ID).Status)

	f.fund(t, customerID, "850000")
	done, err := f.svc.CompleteOrderWithFinalPayment(ctx, CompleteInput{
		OrderID:   order.ID,
		Requester: customer(customerID),
		Checkout:  CheckoutOptions{Method: enums.PaymentMethodWallet},
	})
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusCompleted, done.Order.Status)
	assert.True(t, done.Payment.Amount.Equal(decimal.NewFromInt(900000)))
	assert.Equal(t, enums.PaymentPurposeFinal, done.Payment.Purpose)
	assert.True(t, f.balance(t, customerID).IsZero())
	assert.Equal(t, enums.VehicleStatusAvailable, f.vehicleStatus(t, order.VehicleID))

	_, err = f.svc.CancelOrderWithRefund(ctx, CancelInput{OrderID: order.ID, Requester: &Requester{AccountID: customerID, Role: enums.RoleCustomer}, Reason: "too late"})
	requireCode(t, err, pkgerrors.CodeInvalidOrderState)
}

func TestCompleteWithGatewayWaitsForCallback(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	customerID := uuid.New()
	order := f.confirmedOrder(t, customerID)
	_, err := f.svc.StartRental(ctx, order.ID, staff())
	require.NoError(t, err)

	res, err := f.svc.CompleteOrderWithFinalPayment(ctx, CompleteInput{
		OrderID:   order.ID,
		Requester: customer(customerID),
		Checkout:  CheckoutOptions{Method: enums.PaymentMethodPayOS},
	})
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusOngoing, res.Order.Status)
	assert.NotEmpty(t, res.CheckoutURL)

	outcome, err := f.reconciler.Reconcile(ctx, gateway.Callback{
		Method:    enums.PaymentMethodPayOS,
		OrderCode: res.Payment.OrderCode,
		Amount:    decimal.NewFromInt(900000),
		Success:   true,
		Reference: "FT-final",
	})
	require.NoError(t, err)
	assert.Equal(t, reconciler.OutcomeApplied, outcome)
	assert.Equal(t, enums.OrderStatusCompleted, f.order(t, order.ID).Status)
}

func TestCancelConfirmedOrderRefundsDeposit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	customerID := uuid.New()
	order := f.confirmedOrder(t, customerID)

	res, err := f.svc.CancelOrderWithRefund(ctx, CancelInput{
		OrderID:   order.ID,
		Requester: &Requester{AccountID: customerID, Role: enums.RoleCustomer},
		Reason:    "customer request",
	})
	require.NoError(t, err)
	assert.True(t, res.Refund.Equal(decimal.NewFromInt(100000)))
	assert.Equal(t, enums.OrderStatusCanceled, res.Order.Status)
	require.NotNil(t, res.Order.CancelReason)
	assert.Equal(t, "customer request", *res.Order.CancelReason)

	entries := f.ledger(t, customerID)
	last := entries[len(entries)-1]
	assert.Equal(t, enums.WalletTransactionRefund, last.Type)
	assert.True(t, last.Amount.Equal(decimal.NewFromInt(100000)))
	assert.True(t, f.balance(t, customerID).Equal(decimal.NewFromInt(150000)))

	assert.Equal(t, enums.PaymentStatusRefunded, f.payments(t, order.ID)[0].Status)
	assert.Equal(t, enums.VehicleStatusAvailable, f.vehicleStatus(t, order.VehicleID))

	_, err = f.svc.CancelOrderWithRefund(ctx, CancelInput{OrderID: order.ID, Reason: "again"})
	requireCode(t, err, pkgerrors.CodeInvalidOrderState)
}

func TestCancelPendingGatewayOrderCancelsLink(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	customerID := uuid.New()
	vehicleID := f.vehicle(t)
	created, err := f.svc.CreateOrderWithDeposit(ctx, f.createInput(customerID, vehicleID, enums.PaymentMethodPayOS))
	require.NoError(t, err)

	res, err := f.svc.CancelOrderWithRefund(ctx, CancelInput{
		OrderID:   created.Order.ID,
		Requester: &Requester{AccountID: uuid.New(), Role: enums.RoleAdmin},
		Reason:    "fleet maintenance",
	})
	require.NoError(t, err)
	assert.True(t, res.Refund.IsZero())
	assert.Equal(t, enums.PaymentStatusCanceled, f.payments(t, created.Order.ID)[0].Status)
	assert.Equal(t, []int64{created.Payment.OrderCode}, f.payos.canceled)
	assert.Equal(t, enums.VehicleStatusAvailable, f.vehicleStatus(t, vehicleID))

	_, err = f.svc.CancelOrderWithRefund(ctx, CancelInput{OrderID: created.Order.ID})
	requireCode(t, err, pkgerrors.CodeValidation)
}

func TestIllegalTransitionLeavesStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	created, err := f.svc.CreateOrderWithDeposit(ctx, f.createInput(uuid.New(), f.vehicle(t), enums.PaymentMethodCash))
	require.NoError(t, err)

	_, err = f.svc.StartRental(ctx, created.Order.ID, staff())
	requireCode(t, err, pkgerrors.CodeInvalidOrderState)
	_, err = f.svc.CompleteOrderWithFinalPayment(ctx, CompleteInput{
		OrderID:   created.Order.ID,
		Requester: staff(),
		Checkout:  CheckoutOptions{Method: enums.PaymentMethodCash},
	})
	requireCode(t, err, pkgerrors.CodeInvalidOrderState)
	assert.Equal(t, enums.OrderStatusPending, f.order(t, created.Order.ID).Status)
}

func TestStaleVersionIsConcurrencyConflict(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	created, err := f.svc.CreateOrderWithDeposit(ctx, f.createInput(uuid.New(), f.vehicle(t), enums.PaymentMethodCash))
	require.NoError(t, err)

	stale := *created.Order
	stale.Version = 7
	err = f.client.WithTx(ctx, func(tx *gorm.DB) error {
		return f.transitions.Apply(ctx, tx, &stale, enums.OrderStatusConfirmed, nil, nil)
	})
	requireCode(t, err, pkgerrors.CodeConcurrencyConflict)
	assert.True(t, pkgerrors.IsRetryable(err))
	assert.Equal(t, enums.OrderStatusPending, f.order(t, created.Order.ID).Status)
}

func TestProcessAutoRefund(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	makeStale := func(id uuid.UUID) {
		require.NoError(t, f.client.DB().Model(&models.Order{}).Where("id = ?", id).
			Update("created_at", time.Now().Add(-2*time.Hour)).Error)
	}

	fresh, err := f.svc.CreateOrderWithDeposit(ctx, f.createInput(uuid.New(), f.vehicle(t), enums.PaymentMethodPayOS))
	require.NoError(t, err)
	outcome, err := f.svc.ProcessAutoRefund(ctx, fresh.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, AutoRefundSkipped, outcome)

	makeStale(fresh.Order.ID)
	stale, err := f.svc.ListStalePending(ctx, time.Now().Add(-30*time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, stale, 1)

	f.payos.status = gateway.InfoPaid
	outcome, err = f.svc.ProcessAutoRefund(ctx, fresh.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, AutoRefundSettled, outcome)
	assert.Equal(t, enums.OrderStatusConfirmed, f.order(t, fresh.Order.ID).Status)

	f.payos.status = gateway.InfoPending
	abandoned, err := f.svc.CreateOrderWithDeposit(ctx, f.createInput(uuid.New(), f.vehicle(t), enums.PaymentMethodPayOS))
	require.NoError(t, err)
	makeStale(abandoned.Order.ID)

	f.payos.infoErr = pkgerrors.New(pkgerrors.CodeGatewayUnavailable, "down")
	outcome, err = f.svc.ProcessAutoRefund(ctx, abandoned.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, AutoRefundSkipped, outcome)

	f.payos.infoErr = nil
	outcome, err = f.svc.ProcessAutoRefund(ctx, abandoned.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, AutoRefundCanceled, outcome)
	order := f.order(t, abandoned.Order.ID)
	assert.Equal(t, enums.OrderStatusCanceled, order.Status)
	require.NotNil(t, order.CancelReason)
	assert.Equal(t, autoRefundReason, *order.CancelReason)
}

func TestReadsEnforceOwnership(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	customerID := uuid.New()
	order := f.confirmedOrder(t, customerID)

	detail, err := f.svc.GetOrder(ctx, order.ID, customer(customerID))
	require.NoError(t, err)
	assert.Len(t, detail.Payments, 1)

	_, err = f.svc.GetOrder(ctx, order.ID, customer(uuid.New()))
	requireCode(t, err, pkgerrors.CodeForbidden)
	_, err = f.svc.GetOrder(ctx, uuid.New(), staff())
	requireCode(t, err, pkgerrors.CodeNotFound)

	payment, err := f.svc.GetPayment(ctx, detail.Payments[0].ID, staff())
	require.NoError(t, err)
	assert.Equal(t, order.ID, payment.OrderID)
	_, err = f.svc.GetPayment(ctx, detail.Payments[0].ID, customer(uuid.New()))
	requireCode(t, err, pkgerrors.CodeNotFound)
}

func TestListCustomerOrdersPaginates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	customerID := uuid.New()
	for i := 0; i < 3; i++ {
		_, err := f.svc.CreateOrderWithDeposit(ctx, f.createInput(customerID, f.vehicle(t), enums.PaymentMethodCash))
		require.NoError(t, err)
		time.Sleep(2 * time.Millisecond)
	}

	first, err := f.svc.ListCustomerOrders(ctx, customerID, pagination.Params{Limit: 2})
	require.NoError(t, err)
	require.Len(t, first.Items, 2)
	require.NotEmpty(t, first.NextCursor)

	second, err := f.svc.ListCustomerOrders(ctx, customerID, pagination.Params{Limit: 2, Cursor: first.NextCursor})
	require.NoError(t, err)
	require.Len(t, second.Items, 1)
	assert.Empty(t, second.NextCursor)
	assert.NotEqual(t, first.Items[1].ID, second.Items[0].ID)

	_, err = f.svc.ListCustomerOrders(ctx, customerID, pagination.Params{Cursor: "%%%"})
	requireCode(t, err, pkgerrors.CodeValidation)
}

func TestSecondDepositForSameVehicleIsCredited(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	vehicleID := f.vehicle(t)
	winnerID, loserID, cashID := uuid.New(), uuid.New(), uuid.New()

	winner, err := f.svc.CreateOrderWithDeposit(ctx, f.createInput(winnerID, vehicleID, enums.PaymentMethodPayOS))
	require.NoError(t, err)
	loser, err := f.svc.CreateOrderWithDeposit(ctx, f.createInput(loserID, vehicleID, enums.PaymentMethodPayOS))
	require.NoError(t, err)
	cash, err := f.svc.CreateOrderWithDeposit(ctx, f.createInput(cashID, vehicleID, enums.PaymentMethodCash))
	require.NoError(t, err)

	paid := func(res *PaymentResult, ref string) gateway.Callback {
		return gateway.Callback{
			Method:    enums.PaymentMethodPayOS,
			OrderCode: res.Payment.OrderCode,
			Amount:    decimal.NewFromInt(100000),
			Success:   true,
			Reference: ref,
		}
	}
	outcome, err := f.reconciler.Reconcile(ctx, paid(winner, "FT-A"))
	require.NoError(t, err)
	assert.Equal(t, reconciler.OutcomeApplied, outcome)
	outcome, err = f.reconciler.Reconcile(ctx, paid(loser, "FT-B"))
	require.NoError(t, err)
	assert.Equal(t, reconciler.OutcomeCredited, outcome)

	assert.Equal(t, enums.OrderStatusConfirmed, f.order(t, winner.Order.ID).Status)
	assert.Equal(t, enums.VehicleStatusReserved, f.vehicleStatus(t, vehicleID))
	require.NotNil(t, f.holder(t, vehicleID))
	assert.Equal(t, winner.Order.ID, *f.holder(t, vehicleID))

	lost := f.order(t, loser.Order.ID)
	assert.Equal(t, enums.OrderStatusCanceled, lost.Status)
	rows := f.payments(t, loser.Order.ID)
	require.Len(t, rows, 1)
	assert.Equal(t, enums.PaymentStatusCanceled, rows[0].Status)
	require.NotNil(t, rows[0].FailureReason)
	assert.Equal(t, models.FailureVehicleUnavailable, *rows[0].FailureReason)
	assert.True(t, f.balance(t, loserID).Equal(decimal.NewFromInt(100000)))

	_, err = f.svc.ConfirmCashPayment(ctx, cash.Payment.ID, staff())
	requireCode(t, err, pkgerrors.CodeVehicleUnavailable)
	assert.Equal(t, enums.OrderStatusPending, f.order(t, cash.Order.ID).Status)
	assert.Equal(t, enums.PaymentStatusPending, f.payments(t, cash.Order.ID)[0].Status)

	_, err = f.svc.CancelOrderWithRefund(ctx, CancelInput{OrderID: cash.Order.ID, Reason: "walked away"})
	require.NoError(t, err)
	assert.Equal(t, enums.VehicleStatusReserved, f.vehicleStatus(t, vehicleID))
	assert.Equal(t, winner.Order.ID, *f.holder(t, vehicleID))

	_, err = f.svc.CancelOrderWithRefund(ctx, CancelInput{OrderID: winner.Order.ID, Reason: "plans changed"})
	require.NoError(t, err)
	assert.Equal(t, enums.VehicleStatusAvailable, f.vehicleStatus(t, vehicleID))
	assert.Nil(t, f.holder(t, vehicleID))
}

func TestCreatePaymentRejectsSecondOpenAttempt(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	svc, ok := f.svc.(*service)
	require.True(t, ok)
	created, err := f.svc.CreateOrderWithDeposit(ctx, f.createInput(uuid.New(), f.vehicle(t), enums.PaymentMethodPayOS))
	require.NoError(t, err)

	err = f.client.WithTx(ctx, func(tx *gorm.DB) error {
		order, err := f.transitions.Lock(ctx, tx, created.Order.ID)
		if err != nil {
			return err
		}
		_, err = svc.createPayment(ctx, tx, order, enums.PaymentPurposeDeposit, order.DepositAmount, enums.PaymentMethodCash)
		return err
	})
	requireCode(t, err, pkgerrors.CodeConcurrencyConflict)
	assert.Len(t, f.payments(t, created.Order.ID), 1)
}

func TestAutoRefundDefersOnProviderError(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	created, err := f.svc.CreateOrderWithDeposit(ctx, f.createInput(uuid.New(), f.vehicle(t), enums.PaymentMethodPayOS))
	require.NoError(t, err)
	require.NoError(t, f.client.DB().Model(&models.Order{}).Where("id = ?", created.Order.ID).
		Update("created_at", time.Now().Add(-2*time.Hour)).Error)

	f.payos.infoErr = errors.New("unexpected provider response")
	outcome, err := f.svc.ProcessAutoRefund(ctx, created.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, AutoRefundSkipped, outcome)
	assert.Equal(t, enums.OrderStatusPending, f.order(t, created.Order.ID).Status)
	assert.Equal(t, enums.PaymentStatusPending, f.payments(t, created.Order.ID)[0].Status)
	assert.Empty(t, f.payos.canceled)
}

func TestPaymentStoreErrorKeepsLockContentionRetryable(t *testing.T) {
	err := paymentStoreError(&pgconn.PgError{Code: "55P03"}, "lock payment")
	requireCode(t, err, pkgerrors.CodeConcurrencyConflict)
	assert.True(t, pkgerrors.IsRetryable(err))

	err = paymentStoreError(errors.New("connection refused"), "lock payment")
	requireCode(t, err, pkgerrors.CodeDependency)
}
