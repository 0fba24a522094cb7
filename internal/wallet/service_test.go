package wallet

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/angelmondragon/evrent-backend/internal/realtime"
	"github.com/angelmondragon/evrent-backend/pkg/db"
	"github.com/angelmondragon/evrent-backend/pkg/db/dbtest"
	"github.com/angelmondragon/evrent-backend/pkg/db/models"
	"github.com/angelmondragon/evrent-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/evrent-backend/pkg/errors"
	"github.com/angelmondragon/evrent-backend/pkg/logger"
	"github.com/angelmondragon/evrent-backend/pkg/outbox"
	"github.com/angelmondragon/evrent-backend/pkg/pagination"
)

type captureNotifier struct {
	mu    sync.Mutex
	sent  []realtime.Event
	group []realtime.Group
}

func (c *captureNotifier) Notify(_ context.Context, event realtime.Event, group realtime.Group, _ any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, event)
	c.group = append(c.group, group)
}

type fixture struct {
	client   *db.Client
	svc      Service
	notifier *captureNotifier
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	client := dbtest.Open(t)
	logg := logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
	notifier := &captureNotifier{}
	svc, err := NewService(NewRepository(client.DB()), client, outbox.NewService(outbox.NewRepository(client.DB()), logg), notifier, logg)
	require.NoError(t, err)
	return fixture{client: client, svc: svc, notifier: notifier}
}

func (f fixture) seed(t *testing.T, accountID uuid.UUID, amount string) {
	t.Helper()
	_, err := f.svc.TopUp(context.Background(), TopUpInput{
		AccountID: accountID,
		Amount:    decimal.RequireFromString(amount),
		StaffID:   uuid.New(),
	})
	require.NoError(t, err)
}

func (f fixture) ledgerSum(t *testing.T, accountID uuid.UUID) (decimal.Decimal, int) {
	t.Helper()
	var wallet models.Wallet
	require.NoError(t, f.client.DB().Where("account_id = ?", accountID).First(&wallet).Error)
	var rows []models.WalletTransaction
	require.NoError(t, f.client.DB().Where("wallet_id = ?", wallet.ID).Find(&rows).Error)
	sum := decimal.Zero
	for _, row := range rows {
		sum = sum.Add(row.Amount)
	}
	return sum, len(rows)
}

func TestDebitFromFundedWallet(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	accountID := uuid.New()
	orderID := uuid.New()
	f.seed(t, accountID, "150000")

	result, err := f.svc.ApplyTransaction(ctx, ApplyInput{
		AccountID:   accountID,
		Amount:      decimal.RequireFromString("-100000"),
		Type:        enums.WalletTransactionPayment,
		OrderID:     &orderID,
		Description: "Deposit for order",
	})
	require.NoError(t, err)
	assert.True(t, result.Balance().Equal(decimal.RequireFromString("50000")), "balance %s", result.Balance())
	assert.Equal(t, enums.WalletTransactionPayment, result.Transaction.Type)

	balance, err := f.svc.GetBalance(ctx, accountID)
	require.NoError(t, err)
	assert.True(t, balance.Equal(decimal.RequireFromString("50000")))

	sum, count := f.ledgerSum(t, accountID)
	assert.Equal(t, 2, count)
	assert.True(t, sum.Equal(balance), "sum %s != balance %s", sum, balance)

	var events int64
	require.NoError(t, f.client.DB().Model(&models.OutboxEvent{}).Where("event_type = ?", enums.EventWalletUpdated).Count(&events).Error)
	assert.Equal(t, int64(2), events)

	f.notifier.mu.Lock()
	defer f.notifier.mu.Unlock()
	assert.Equal(t, []realtime.Event{realtime.EventWalletUpdated, realtime.EventWalletUpdated}, f.notifier.sent)
	assert.Equal(t, realtime.AccountGroup(accountID), f.notifier.group[1])
}

func TestInsufficientFundsLeavesLedgerUntouched(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	accountID := uuid.New()
	f.seed(t, accountID, "50000")

	_, err := f.svc.ApplyTransaction(ctx, ApplyInput{
		AccountID: accountID,
		Amount:    decimal.RequireFromString("-100000"),
		Type:      enums.WalletTransactionPayment,
	})
	require.Error(t, err)
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeInsufficientFunds))

	balance, err := f.svc.GetBalance(ctx, accountID)
	require.NoError(t, err)
	assert.True(t, balance.Equal(decimal.RequireFromString("50000")))

	_, count := f.ledgerSum(t, accountID)
	assert.Equal(t, 1, count)
}

func TestConcurrentDebitsNeverOverdraw(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	accountID := uuid.New()
	f.seed(t, accountID, "100")

	// sqlite serializes writers; one connection turns lock waits into pool waits.
	sqlDB, err := f.client.DB().DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	const attempts = 8
	var succeeded, rejected atomic.Int32
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < attempts; i++ {
		g.Go(func() error {
			_, err := f.svc.ApplyTransaction(gctx, ApplyInput{
				AccountID: accountID,
				Amount:    decimal.NewFromInt(-30),
				Type:      enums.WalletTransactionPayment,
			})
			switch {
			case err == nil:
				succeeded.Add(1)
			case pkgerrors.Is(err, pkgerrors.CodeInsufficientFunds):
				rejected.Add(1)
			default:
				return err
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, int32(3), succeeded.Load())
	assert.Equal(t, int32(attempts-3), rejected.Load())

	balance, err := f.svc.GetBalance(ctx, accountID)
	require.NoError(t, err)
	assert.True(t, balance.Equal(decimal.NewFromInt(10)), "balance %s", balance)
	sum, count := f.ledgerSum(t, accountID)
	assert.Equal(t, 4, count)
	assert.True(t, sum.Equal(balance), "sum %s != balance %s", sum, balance)
}

func TestBalanceEqualsLedgerSum(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	accountID := uuid.New()
	f.seed(t, accountID, "1000")

	steps := []struct {
		amount string
		typ    enums.WalletTransactionType
	}{
		{"-250.50", enums.WalletTransactionPayment},
		{"120.25", enums.WalletTransactionRefund},
		{"-900", enums.WalletTransactionPayment},
		{"-869.75", enums.WalletTransactionPayment},
		{"0.01", enums.WalletTransactionDeposit},
		{"-0.02", enums.WalletTransactionPayment},
	}
	for _, step := range steps {
		_, _ = f.svc.ApplyTransaction(ctx, ApplyInput{
			AccountID: accountID,
			Amount:    decimal.RequireFromString(step.amount),
			Type:      step.typ,
		})

		balance, err := f.svc.GetBalance(ctx, accountID)
		require.NoError(t, err)
		sum, _ := f.ledgerSum(t, accountID)
		require.True(t, sum.Equal(balance), "after %s: sum %s != balance %s", step.amount, sum, balance)
		require.False(t, balance.IsNegative())
	}
}

func TestApplyValidatesInput(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	accountID := uuid.New()

	cases := []ApplyInput{
		{Amount: decimal.NewFromInt(1), Type: enums.WalletTransactionDeposit},
		{AccountID: accountID, Amount: decimal.Zero, Type: enums.WalletTransactionDeposit},
		{AccountID: accountID, Amount: decimal.NewFromInt(10), Type: enums.WalletTransactionPayment},
		{AccountID: accountID, Amount: decimal.NewFromInt(-10), Type: enums.WalletTransactionRefund},
		{AccountID: accountID, Amount: decimal.NewFromInt(10), Type: "BONUS"},
		{AccountID: accountID, Amount: decimal.RequireFromString("1.005"), Type: enums.WalletTransactionDeposit},
	}
	for i, input := range cases {
		_, err := f.svc.ApplyTransaction(ctx, input)
		if !pkgerrors.Is(err, pkgerrors.CodeValidation) {
			t.Fatalf("case %d: expected validation error, got %v", i, err)
		}
	}
}

func TestMissingWalletIsNotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.GetBalance(context.Background(), uuid.New())
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeNotFound))

	_, err = f.svc.ApplyTransaction(context.Background(), ApplyInput{
		AccountID: uuid.New(),
		Amount:    decimal.NewFromInt(5),
		Type:      enums.WalletTransactionRefund,
	})
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeNotFound))
}

func TestEnsureWalletIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	accountID := uuid.New()

	first, err := f.svc.EnsureWallet(ctx, f.client.DB(), accountID)
	require.NoError(t, err)
	second, err := f.svc.EnsureWallet(ctx, f.client.DB(), accountID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.True(t, second.Balance.IsZero())

	var count int64
	require.NoError(t, f.client.DB().Model(&models.Wallet{}).Where("account_id = ?", accountID).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestTopUpRejectsNonPositive(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.TopUp(context.Background(), TopUpInput{AccountID: uuid.New(), Amount: decimal.NewFromInt(-1), StaffID: uuid.New()})
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeValidation))
}

func TestHistoryPaginatesNewestFirst(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	accountID := uuid.New()
	for i := 1; i <= 5; i++ {
		f.seed(t, accountID, decimal.NewFromInt(int64(i*10)).String())
	}

	first, err := f.svc.History(ctx, accountID, pagination.Params{Limit: 2})
	require.NoError(t, err)
	require.Len(t, first.Items, 2)
	require.NotEmpty(t, first.NextCursor)
	assert.True(t, first.Items[0].Amount.Equal(decimal.NewFromInt(50)))

	seen := map[uuid.UUID]bool{}
	for _, item := range first.Items {
		seen[item.ID] = true
	}
	cursor := first.NextCursor
	for cursor != "" {
		page, err := f.svc.History(ctx, accountID, pagination.Params{Limit: 2, Cursor: cursor})
		require.NoError(t, err)
		for _, item := range page.Items {
			require.False(t, seen[item.ID], "entry returned twice")
			seen[item.ID] = true
		}
		cursor = page.NextCursor
	}
	assert.Len(t, seen, 5)

	_, err = f.svc.History(ctx, accountID, pagination.Params{Cursor: "not-base64!"})
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeValidation))
}
