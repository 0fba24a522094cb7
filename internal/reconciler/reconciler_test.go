package reconciler

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	goredis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/evrent-backend/internal/payments"
	"github.com/angelmondragon/evrent-backend/internal/payments/gateway"
	"github.com/angelmondragon/evrent-backend/internal/realtime"
	"github.com/angelmondragon/evrent-backend/internal/wallet"
	"github.com/angelmondragon/evrent-backend/pkg/db"
	"github.com/angelmondragon/evrent-backend/pkg/db/dbtest"
	"github.com/angelmondragon/evrent-backend/pkg/db/models"
	"github.com/angelmondragon/evrent-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/evrent-backend/pkg/errors"
	"github.com/angelmondragon/evrent-backend/pkg/logger"
	"github.com/angelmondragon/evrent-backend/pkg/outbox"
	"github.com/angelmondragon/evrent-backend/pkg/outbox/idempotency"
	"github.com/angelmondragon/evrent-backend/pkg/redis"
)

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, realtime.Event, realtime.Group, any) {}

type stubGateway struct {
	method   enums.PaymentMethod
	validSig bool
	info     *gateway.Info
	infoErr  error
}

func (s *stubGateway) Method() enums.PaymentMethod { return s.method }
func (s *stubGateway) CreatePaymentLink(context.Context, gateway.LinkRequest) (*gateway.Link, error) {
	return nil, errors.New("not used")
}
func (s *stubGateway) GetPaymentInfo(context.Context, int64) (*gateway.Info, error) {
	return s.info, s.infoErr
}
func (s *stubGateway) CancelPaymentLink(context.Context, int64, string) error { return nil }
func (s *stubGateway) VerifySignature(gateway.Callback) bool                  { return s.validSig }

// dbTransitions moves orders with a plain update, standing in for the order service.
type dbTransitions struct {
	announced    int
	failApply    error
	vehicleTaken bool
}

func (d *dbTransitions) Lock(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) (*models.Order, error) {
	var order models.Order
	if err := tx.WithContext(ctx).Where("id = ?", orderID).First(&order).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

func (d *dbTransitions) Apply(ctx context.Context, tx *gorm.DB, order *models.Order, to enums.OrderStatus, _ *string, _ *outbox.ActorRef) error {
	if d.failApply != nil {
		return d.failApply
	}
	if d.vehicleTaken && to == enums.OrderStatusConfirmed {
		return pkgerrors.New(pkgerrors.CodeVehicleUnavailable, "vehicle is no longer available")
	}
	order.Status = to
	return tx.WithContext(ctx).Model(&models.Order{}).Where("id = ?", order.ID).Update("status", to).Error
}

func (d *dbTransitions) Announce(context.Context, *models.Order, enums.OrderStatus, bool) {
	d.announced++
}

type fixture struct {
	client *db.Client
	rec    *Reconciler
	gw     *stubGateway
	orders *dbTransitions
	mr     *miniredis.Miniredis
	wallet wallet.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	client := dbtest.Open(t)
	logg := logger.New(logger.Options{ServiceName: "reconciler-test", Output: io.Discard})
	emitter := outbox.NewService(outbox.NewRepository(client.DB()), logg)
	walletSvc, err := wallet.NewService(wallet.NewRepository(client.DB()), client, emitter, nopNotifier{}, logg)
	require.NoError(t, err)

	mr := miniredis.RunT(t)
	raw := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = raw.Close() })
	guard, err := idempotency.NewGuard(redis.NewFromClient(raw), time.Hour)
	require.NoError(t, err)

	gw := &stubGateway{method: enums.PaymentMethodVNPay, validSig: true}
	registry, err := gateway.NewRegistry(gw)
	require.NoError(t, err)
	orders := &dbTransitions{}

	rec, err := New(Params{
		Gateways: registry,
		Payments: payments.NewRepository(client.DB()),
		Wallet:   walletSvc,
		Orders:   orders,
		Outbox:   emitter,
		Tx:       client,
		Guard:    guard,
		Logger:   logg,
	})
	require.NoError(t, err)
	return &fixture{client: client, rec: rec, gw: gw, orders: orders, mr: mr, wallet: walletSvc}
}

func (f *fixture) seed(t *testing.T, status enums.OrderStatus, purpose enums.PaymentPurpose, code int64) (models.Order, models.Payment) {
	t.Helper()
	order := models.Order{
		ID:            uuid.New(),
		CustomerID:    uuid.New(),
		VehicleID:     uuid.New(),
		StationID:     uuid.New(),
		OrderedAt:     time.Now(),
		StartTime:     time.Now().Add(time.Hour),
		EndTime:       time.Now().Add(2 * time.Hour),
		BasePrice:     decimal.NewFromInt(1000000),
		DepositAmount: decimal.NewFromInt(100000),
		TotalPrice:    decimal.NewFromInt(1000000),
		Status:        status,
		Version:       1,
		IsActive:      true,
	}
	require.NoError(t, f.client.DB().Create(&order).Error)
	amount := order.DepositAmount
	if purpose == enums.PaymentPurposeFinal {
		amount = order.FinalAmount()
	}
	payment := models.Payment{
		ID:        uuid.New(),
		OrderID:   order.ID,
		Amount:    amount,
		Method:    enums.PaymentMethodVNPay,
		Purpose:   purpose,
		Status:    enums.PaymentStatusPending,
		OrderCode: code,
	}
	require.NoError(t, f.client.DB().Create(&payment).Error)
	return order, payment
}

func (f *fixture) reload(t *testing.T, order models.Order, payment models.Payment) (models.Order, models.Payment) {
	t.Helper()
	require.NoError(t, f.client.DB().Where("id = ?", order.ID).First(&order).Error)
	require.NoError(t, f.client.DB().Where("id = ?", payment.ID).First(&payment).Error)
	return order, payment
}

func (f *fixture) ledgerCount(t *testing.T) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.client.DB().Model(&models.WalletTransaction{}).Count(&n).Error)
	return n
}

func callback(code int64, amount int64, success bool) gateway.Callback {
	return gateway.Callback{
		Method:     enums.PaymentMethodVNPay,
		OrderCode:  code,
		Amount:     decimal.NewFromInt(amount),
		Success:    success,
		ResultCode: "24",
		Reference:  "14123456",
	}
}

func TestSuccessfulDepositConfirmsOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order, payment := f.seed(t, enums.OrderStatusPending, enums.PaymentPurposeDeposit, 501)

	outcome, err := f.rec.Reconcile(ctx, callback(501, 100000, true))
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, outcome)

	order, payment = f.reload(t, order, payment)
	assert.Equal(t, enums.OrderStatusConfirmed, order.Status)
	assert.Equal(t, enums.PaymentStatusCompleted, payment.Status)
	require.NotNil(t, payment.PaidAt)
	assert.Equal(t, int64(2), f.ledgerCount(t))
	assert.Equal(t, 1, f.orders.announced)

	balance, err := f.wallet.GetBalance(ctx, order.CustomerID)
	require.NoError(t, err)
	assert.True(t, balance.IsZero())

	var events int64
	require.NoError(t, f.client.DB().Model(&models.OutboxEvent{}).Where("event_type = ?", enums.EventPaymentCompleted).Count(&events).Error)
	assert.Equal(t, int64(1), events)
}

func TestRedeliveryIsDuplicate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, enums.OrderStatusPending, enums.PaymentPurposeDeposit, 502)

	for i := 0; i < 3; i++ {
		outcome, err := f.rec.Reconcile(ctx, callback(502, 100000, true))
		require.NoError(t, err)
		if i == 0 {
			assert.Equal(t, OutcomeApplied, outcome)
		} else {
			assert.Equal(t, OutcomeDuplicate, outcome)
		}
	}
	assert.Equal(t, int64(2), f.ledgerCount(t))
	assert.Equal(t, 1, f.orders.announced)
}

func TestDuplicateDetectedByRowStateWithoutRedis(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, enums.OrderStatusPending, enums.PaymentPurposeDeposit, 503)

	_, err := f.rec.Reconcile(ctx, callback(503, 100000, true))
	require.NoError(t, err)
	f.mr.FlushAll()
	f.mr.SetError("LOADING redis is loading")

	outcome, err := f.rec.Reconcile(ctx, callback(503, 100000, true))
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, outcome)
	assert.Equal(t, int64(2), f.ledgerCount(t))
}

func TestAmountMismatchFailsPayment(t *testing.T) {
	f := newFixture(t)
	order, payment := f.seed(t, enums.OrderStatusPending, enums.PaymentPurposeDeposit, 504)

	outcome, err := f.rec.Reconcile(context.Background(), callback(504, 1000, true))
	require.NoError(t, err)
	assert.Equal(t, OutcomeAmountMismatch, outcome)
	assert.True(t, outcome.Acknowledged())

	order, payment = f.reload(t, order, payment)
	assert.Equal(t, enums.PaymentStatusFailed, payment.Status)
	require.NotNil(t, payment.FailureReason)
	assert.Equal(t, models.FailureAmountMismatch, *payment.FailureReason)
	assert.Equal(t, enums.OrderStatusPending, order.Status)
	assert.Zero(t, f.ledgerCount(t))
}

func TestProviderFailureKeepsOrderPending(t *testing.T) {
	f := newFixture(t)
	order, payment := f.seed(t, enums.OrderStatusPending, enums.PaymentPurposeDeposit, 505)

	outcome, err := f.rec.Reconcile(context.Background(), callback(505, 100000, false))
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, outcome)

	order, payment = f.reload(t, order, payment)
	assert.Equal(t, enums.PaymentStatusFailed, payment.Status)
	assert.Equal(t, "24", *payment.FailureReason)
	assert.Equal(t, enums.OrderStatusPending, order.Status)
}

func TestInvalidSignatureRejected(t *testing.T) {
	f := newFixture(t)
	order, payment := f.seed(t, enums.OrderStatusPending, enums.PaymentPurposeDeposit, 506)
	f.gw.validSig = false

	outcome, err := f.rec.Reconcile(context.Background(), callback(506, 100000, true))
	require.True(t, pkgerrors.Is(err, pkgerrors.CodeSignatureInvalid))
	assert.Equal(t, OutcomeRejected, outcome)

	order, payment = f.reload(t, order, payment)
	assert.Equal(t, enums.PaymentStatusPending, payment.Status)
	assert.Equal(t, enums.OrderStatusPending, order.Status)
	assert.Zero(t, f.ledgerCount(t))
}

func TestUnknownOrderCodeAcknowledged(t *testing.T) {
	f := newFixture(t)
	outcome, err := f.rec.Reconcile(context.Background(), callback(999, 100000, true))
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnknownPayment, outcome)
	assert.True(t, outcome.Acknowledged())
}

func TestFinalPaymentCompletesOngoingOrder(t *testing.T) {
	f := newFixture(t)
	order, _ := f.seed(t, enums.OrderStatusOngoing, enums.PaymentPurposeFinal, 507)

	outcome, err := f.rec.Reconcile(context.Background(), callback(507, 900000, true))
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, outcome)
	require.NoError(t, f.client.DB().Where("id = ?", order.ID).First(&order).Error)
	assert.Equal(t, enums.OrderStatusCompleted, order.Status)
}

func TestPaymentForMovedOrderIsCredited(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order, _ := f.seed(t, enums.OrderStatusCanceled, enums.PaymentPurposeDeposit, 508)

	outcome, err := f.rec.Reconcile(ctx, callback(508, 100000, true))
	require.NoError(t, err)
	assert.Equal(t, OutcomeCredited, outcome)

	balance, err := f.wallet.GetBalance(ctx, order.CustomerID)
	require.NoError(t, err)
	assert.True(t, balance.Equal(decimal.NewFromInt(100000)))
	assert.Zero(t, f.orders.announced)
}

func TestProcessingErrorReleasesGuard(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order, payment := f.seed(t, enums.OrderStatusPending, enums.PaymentPurposeDeposit, 509)
	f.orders.failApply = pkgerrors.New(pkgerrors.CodeConcurrencyConflict, "moved")

	_, err := f.rec.Reconcile(ctx, callback(509, 100000, true))
	require.True(t, pkgerrors.Is(err, pkgerrors.CodeConcurrencyConflict))
	order, payment = f.reload(t, order, payment)
	assert.Equal(t, enums.PaymentStatusPending, payment.Status)
	assert.Zero(t, f.ledgerCount(t))

	f.orders.failApply = nil
	outcome, err := f.rec.Reconcile(ctx, callback(509, 100000, true))
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, outcome)
}

func TestReconcileFromProvider(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order, _ := f.seed(t, enums.OrderStatusPending, enums.PaymentPurposeDeposit, 510)

	f.gw.info = &gateway.Info{OrderCode: 510, Status: gateway.InfoPending}
	outcome, err := f.rec.ReconcileFromProvider(ctx, enums.PaymentMethodVNPay, 510)
	require.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, outcome)

	f.gw.info = &gateway.Info{OrderCode: 510, Status: gateway.InfoPaid, Amount: decimal.NewFromInt(100000), Reference: "q-1"}
	f.gw.validSig = false
	outcome, err = f.rec.ReconcileFromProvider(ctx, enums.PaymentMethodVNPay, 510)
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, outcome)
	require.NoError(t, f.client.DB().Where("id = ?", order.ID).First(&order).Error)
	assert.Equal(t, enums.OrderStatusConfirmed, order.Status)

	f.gw.infoErr = pkgerrors.New(pkgerrors.CodeGatewayUnavailable, "down")
	_, err = f.rec.ReconcileFromProvider(ctx, enums.PaymentMethodVNPay, 510)
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeGatewayUnavailable))

	_, err = f.rec.ReconcileFromProvider(ctx, enums.PaymentMethodPayOS, 510)
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeValidation))
}

func TestDepositForTakenVehicleIsCredited(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order, payment := f.seed(t, enums.OrderStatusPending, enums.PaymentPurposeDeposit, 511)
	f.orders.vehicleTaken = true

	outcome, err := f.rec.Reconcile(ctx, callback(511, 100000, true))
	require.NoError(t, err)
	assert.Equal(t, OutcomeCredited, outcome)

	order, payment = f.reload(t, order, payment)
	assert.Equal(t, enums.OrderStatusCanceled, order.Status)
	assert.Equal(t, enums.PaymentStatusCanceled, payment.Status)
	require.NotNil(t, payment.PaidAt)
	require.NotNil(t, payment.FailureReason)
	assert.Equal(t, models.FailureVehicleUnavailable, *payment.FailureReason)

	balance, err := f.wallet.GetBalance(ctx, order.CustomerID)
	require.NoError(t, err)
	assert.True(t, balance.Equal(decimal.NewFromInt(100000)), "balance %s", balance)
	assert.Equal(t, int64(1), f.ledgerCount(t))
	assert.Equal(t, 1, f.orders.announced)

	f.mr.FlushAll()
	outcome, err = f.rec.Reconcile(ctx, callback(511, 100000, true))
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, outcome)
	assert.Equal(t, int64(1), f.ledgerCount(t))
}

func TestLateCaptureOfFailedPaymentIsCredited(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order, payment := f.seed(t, enums.OrderStatusPending, enums.PaymentPurposeDeposit, 512)
	require.NoError(t, f.client.DB().Model(&models.Payment{}).Where("id = ?", payment.ID).
		Updates(map[string]any{"status": enums.PaymentStatusFailed, "failure_reason": "GATEWAY_START_FAILED"}).Error)

	outcome, err := f.rec.Reconcile(ctx, callback(512, 100000, true))
	require.NoError(t, err)
	assert.Equal(t, OutcomeCredited, outcome)

	order, payment = f.reload(t, order, payment)
	assert.Equal(t, enums.PaymentStatusFailed, payment.Status)
	assert.NotNil(t, payment.PaidAt)
	assert.Equal(t, enums.OrderStatusPending, order.Status)
	balance, err := f.wallet.GetBalance(ctx, order.CustomerID)
	require.NoError(t, err)
	assert.True(t, balance.Equal(decimal.NewFromInt(100000)), "balance %s", balance)
}

func TestMismatchedPaymentIsNotCreditedLater(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, enums.OrderStatusPending, enums.PaymentPurposeDeposit, 513)

	outcome, err := f.rec.Reconcile(ctx, callback(513, 1, true))
	require.NoError(t, err)
	require.Equal(t, OutcomeAmountMismatch, outcome)

	cb := callback(513, 100000, true)
	cb.Reference = "14999999"
	outcome, err = f.rec.Reconcile(ctx, cb)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, outcome)
	assert.Zero(t, f.ledgerCount(t))
}

func TestStoreErrorKeepsLockContentionRetryable(t *testing.T) {
	err := storeError(&pgconn.PgError{Code: "40P01"}, "lock payment")
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeConcurrencyConflict))
	assert.True(t, pkgerrors.IsRetryable(err))

	err = storeError(errors.New("connection reset"), "lock payment")
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeDependency))
}
