package orders

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/evrent-backend/internal/payments"
	"github.com/angelmondragon/evrent-backend/internal/payments/gateway"
	"github.com/angelmondragon/evrent-backend/internal/promotions"
	"github.com/angelmondragon/evrent-backend/internal/realtime"
	"github.com/angelmondragon/evrent-backend/internal/reconciler"
	"github.com/angelmondragon/evrent-backend/internal/wallet"
	"github.com/angelmondragon/evrent-backend/pkg/config"
	"github.com/angelmondragon/evrent-backend/pkg/db"
	"github.com/angelmondragon/evrent-backend/pkg/db/dbtest"
	"github.com/angelmondragon/evrent-backend/pkg/db/models"
	"github.com/angelmondragon/evrent-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/evrent-backend/pkg/errors"
	"github.com/angelmondragon/evrent-backend/pkg/logger"
	"github.com/angelmondragon/evrent-backend/pkg/outbox"
)

type recordingNotifier struct {
	mu     sync.Mutex
	events []realtime.Event
	groups []realtime.Group
}

func (r *recordingNotifier) Notify(_ context.Context, event realtime.Event, group realtime.Group, _ any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	r.groups = append(r.groups, group)
}

func (r *recordingNotifier) count(event realtime.Event, group realtime.Group) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for i, e := range r.events {
		if e == event && r.groups[i] == group {
			n++
		}
	}
	return n
}

// fakeGateway answers like a provider whose state the test controls.
type fakeGateway struct {
	method   enums.PaymentMethod
	linkErr  error
	infoErr  error
	status   gateway.InfoStatus
	validSig bool
	mu       sync.Mutex
	amounts  map[int64]decimal.Decimal
	canceled []int64
	lastLink gateway.LinkRequest
}

func newFakeGateway(method enums.PaymentMethod) *fakeGateway {
	return &fakeGateway{method: method, status: gateway.InfoPending, validSig: true, amounts: map[int64]decimal.Decimal{}}
}

func (f *fakeGateway) Method() enums.PaymentMethod { return f.method }

func (f *fakeGateway) CreatePaymentLink(_ context.Context, req gateway.LinkRequest) (*gateway.Link, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastLink = req
	if f.linkErr != nil {
		return nil, f.linkErr
	}
	f.amounts[req.OrderCode] = req.Amount
	link := &gateway.Link{CheckoutURL: "https://pay.test/checkout"}
	if f.method == enums.PaymentMethodCard {
		link = &gateway.Link{GatewayRef: "card-ref"}
	}
	return link, nil
}

func (f *fakeGateway) GetPaymentInfo(_ context.Context, orderCode int64) (*gateway.Info, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.infoErr != nil {
		return nil, f.infoErr
	}
	return &gateway.Info{OrderCode: orderCode, Amount: f.amounts[orderCode], Status: f.status, Reference: "ref-provider"}, nil
}

func (f *fakeGateway) CancelPaymentLink(_ context.Context, orderCode int64, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.canceled = append(f.canceled, orderCode)
	return nil
}

func (f *fakeGateway) VerifySignature(gateway.Callback) bool { return f.validSig }

type fixture struct {
	client      *db.Client
	svc         Service
	wallet      wallet.Service
	reconciler  *reconciler.Reconciler
	transitions *Transitions
	payos       *fakeGateway
	card        *fakeGateway
	notifier    *recordingNotifier
	stationID   uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	client := dbtest.Open(t)
	logg := logger.New(logger.Options{ServiceName: "orders-test", Output: io.Discard})
	notifier := &recordingNotifier{}
	emitter := outbox.NewService(outbox.NewRepository(client.DB()), logg)

	walletSvc, err := wallet.NewService(wallet.NewRepository(client.DB()), client, emitter, notifier, logg)
	require.NoError(t, err)
	payRepo := payments.NewRepository(client.DB())
	paySvc, err := payments.NewService(payRepo)
	require.NoError(t, err)
	promoSvc, err := promotions.NewService(promotions.NewRepository(client.DB()))
	require.NoError(t, err)

	payos := newFakeGateway(enums.PaymentMethodPayOS)
	card := newFakeGateway(enums.PaymentMethodCard)
	registry, err := gateway.NewRegistry(payos, card)
	require.NoError(t, err)

	repo := NewRepository(client.DB())
	transitions, err := NewTransitions(repo, emitter, notifier, logg)
	require.NoError(t, err)
	rec, err := reconciler.New(reconciler.Params{
		Gateways: registry,
		Payments: payRepo,
		Wallet:   walletSvc,
		Orders:   transitions,
		Outbox:   emitter,
		Tx:       client,
		Logger:   logg,
	})
	require.NoError(t, err)

	svc, err := NewService(ServiceParams{
		Repo:        repo,
		Payments:    payRepo,
		PaymentCode: paySvc,
		Wallet:      walletSvc,
		Promotions:  promoSvc,
		Gateways:    registry,
		Reconciler:  rec,
		Transitions: transitions,
		Tx:          client,
		Outbox:      emitter,
		Notifier:    notifier,
		Logger:      logg,
		Gateway:     config.GatewayConfig{DefaultReturnURL: "https://app.test/return", DefaultCancelURL: "https://app.test/cancel"},
		AutoRefund:  config.AutoRefundConfig{StaleAfter: 30 * time.Minute},
	})
	require.NoError(t, err)

	return &fixture{
		client:      client,
		svc:         svc,
		wallet:      walletSvc,
		reconciler:  rec,
		transitions: transitions,
		payos:       payos,
		card:        card,
		notifier:    notifier,
		stationID:   uuid.New(),
	}
}

func (f *fixture) vehicle(t *testing.T) uuid.UUID {
	t.Helper()
	v := models.Vehicle{ID: uuid.New(), StationID: f.stationID, Status: enums.VehicleStatusAvailable}
	require.NoError(t, f.client.DB().Create(&v).Error)
	return v.ID
}

func (f *fixture) vehicleStatus(t *testing.T, id uuid.UUID) enums.VehicleStatus {
	t.Helper()
	var v models.Vehicle
	require.NoError(t, f.client.DB().Where("id = ?", id).First(&v).Error)
	return v.Status
}

func (f *fixture) holder(t *testing.T, id uuid.UUID) *uuid.UUID {
	t.Helper()
	var v models.Vehicle
	require.NoError(t, f.client.DB().Where("id = ?", id).First(&v).Error)
	return v.HeldBy
}

func (f *fixture) fund(t *testing.T, accountID uuid.UUID, amount string) {
	t.Helper()
	_, err := f.wallet.TopUp(context.Background(), wallet.TopUpInput{
		AccountID: accountID,
		Amount:    decimal.RequireFromString(amount),
		StaffID:   uuid.New(),
	})
	require.NoError(t, err)
}

func (f *fixture) balance(t *testing.T, accountID uuid.UUID) decimal.Decimal {
	t.Helper()
	b, err := f.wallet.GetBalance(context.Background(), accountID)
	require.NoError(t, err)
	return b
}

func (f *fixture) ledger(t *testing.T, accountID uuid.UUID) []models.WalletTransaction {
	t.Helper()
	var w models.Wallet
	require.NoError(t, f.client.DB().Where("account_id = ?", accountID).First(&w).Error)
	var rows []models.WalletTransaction
	require.NoError(t, f.client.DB().Where("wallet_id = ?", w.ID).Order("created_at ASC").Find(&rows).Error)
	return rows
}

func (f *fixture) order(t *testing.T, id uuid.UUID) models.Order {
	t.Helper()
	var o models.Order
	require.NoError(t, f.client.DB().Where("id = ?", id).First(&o).Error)
	return o
}

func (f *fixture) payments(t *testing.T, orderID uuid.UUID) []models.Payment {
	t.Helper()
	var rows []models.Payment
	require.NoError(t, f.client.DB().Where("order_id = ?", orderID).Order("created_at ASC").Find(&rows).Error)
	return rows
}

func (f *fixture) createInput(customerID, vehicleID uuid.UUID, method enums.PaymentMethod) CreateOrderInput {
	start := time.Now().Add(24 * time.Hour).UTC()
	return CreateOrderInput{
		CustomerID: customerID,
		VehicleID:  vehicleID,
		StationID:  f.stationID,
		Start:      start,
		End:        start.Add(48 * time.Hour),
		BasePrice:  decimal.NewFromInt(1000000),
		Checkout:   CheckoutOptions{Method: method},
	}
}

// confirmedOrder books and pays a deposit from a funded wallet.
func (f *fixture) confirmedOrder(t *testing.T, customerID uuid.UUID) *models.Order {
	t.Helper()
	f.fund(t, customerID, "150000")
	res, err := f.svc.CreateOrderWithDeposit(context.Background(), f.createInput(customerID, f.vehicle(t), enums.PaymentMethodWallet))
	require.NoError(t, err)
	require.Equal(t, enums.OrderStatusConfirmed, res.Order.Status)
	return res.Order
}

func staff() Requester {
	return Requester{AccountID: uuid.New(), Role: enums.RoleStaff}
}

func customer(id uuid.UUID) Requester {
	return Requester{AccountID: id, Role: enums.RoleCustomer}
}

func requireCode(t *testing.T, err error, code pkgerrors.Code) {
	t.Helper()
	require.Error(t, err)
	require.Truef(t, pkgerrors.Is(err, code), "expected %s, got %v", code, err)
}
