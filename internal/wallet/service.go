package wallet

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/evrent-backend/internal/realtime"
	"github.com/angelmondragon/evrent-backend/pkg/db/models"
	"github.com/angelmondragon/evrent-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/evrent-backend/pkg/errors"
	"github.com/angelmondragon/evrent-backend/pkg/logger"
	"github.com/angelmondragon/evrent-backend/pkg/outbox"
	"github.com/angelmondragon/evrent-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/evrent-backend/pkg/pagination"
	"github.com/angelmondragon/evrent-backend/pkg/types"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Service is the wallet ledger. Every balance change is a transaction row plus
// a cached balance update under the wallet row lock.
type Service interface {
	GetBalance(ctx context.Context, accountID uuid.UUID) (decimal.Decimal, error)
	GetWallet(ctx context.Context, accountID uuid.UUID) (*models.Wallet, error)
	EnsureWallet(ctx context.Context, tx *gorm.DB, accountID uuid.UUID) (*models.Wallet, error)
	ApplyTransaction(ctx context.Context, input ApplyInput) (*Result, error)
	ApplyTransactionTx(ctx context.Context, tx *gorm.DB, input ApplyInput) (*Result, error)
	TopUp(ctx context.Context, input TopUpInput) (*Result, error)
	History(ctx context.Context, accountID uuid.UUID, params pagination.Params) (*HistoryPage, error)
	PublishUpdates(ctx context.Context, results ...*Result)
}

// ApplyInput describes one signed ledger entry.
type ApplyInput struct {
	AccountID   uuid.UUID
	Amount      decimal.Decimal
	Type        enums.WalletTransactionType
	OrderID     *uuid.UUID
	Description string
	Actor       *outbox.ActorRef
}

// TopUpInput is a cash-desk credit recorded by staff.
type TopUpInput struct {
	AccountID   uuid.UUID
	Amount      decimal.Decimal
	Description string
	StaffID     uuid.UUID
}

// Result is the committed state after one entry.
type Result struct {
	Wallet      models.Wallet
	Transaction models.WalletTransaction
}

// Balance returns the balance right after the entry.
func (r *Result) Balance() decimal.Decimal {
	return r.Transaction.BalanceAfter
}

// HistoryPage is a newest-first slice of ledger entries.
type HistoryPage = types.Page[models.WalletTransaction]

// UpdatedSnapshot is the realtime payload sent after a committed entry.
type UpdatedSnapshot struct {
	WalletID      uuid.UUID                   `json:"walletId"`
	AccountID     uuid.UUID                   `json:"accountId"`
	Balance       decimal.Decimal             `json:"balance"`
	LastChange    decimal.Decimal             `json:"lastChange"`
	Type          enums.WalletTransactionType `json:"type"`
	TransactionID uuid.UUID                   `json:"transactionId"`
	OrderID       *uuid.UUID                  `json:"orderId,omitempty"`
}

type service struct {
	repo     Repository
	tx       txRunner
	outbox   outboxPublisher
	notifier realtime.Notifier
	logg     *logger.Logger
}

// NewService wires the ledger with its dependencies.
func NewService(repo Repository, tx txRunner, outbox outboxPublisher, notifier realtime.Notifier, logg *logger.Logger) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("wallet repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if outbox == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if notifier == nil {
		return nil, fmt.Errorf("notifier required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{
		repo:     repo,
		tx:       tx,
		outbox:   outbox,
		notifier: notifier,
		logg:     logg,
	}, nil
}

func (s *service) GetBalance(ctx context.Context, accountID uuid.UUID) (decimal.Decimal, error) {
	wallet, err := s.GetWallet(ctx, accountID)
	if err != nil {
		return decimal.Zero, err
	}
	return wallet.Balance, nil
}

func (s *service) GetWallet(ctx context.Context, accountID uuid.UUID) (*models.Wallet, error) {
	if accountID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "account id is required")
	}
	wallet, err := s.repo.FindByAccountID(ctx, accountID)
	if err != nil {
		return nil, mapWalletLookupError(err)
	}
	return wallet, nil
}

// EnsureWallet returns the account's wallet, provisioning a zero-balance one when missing.
func (s *service) EnsureWallet(ctx context.Context, tx *gorm.DB, accountID uuid.UUID) (*models.Wallet, error) {
	if accountID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "account id is required")
	}
	repo := s.repo.WithTx(tx)
	wallet, err := repo.FindByAccountID(ctx, accountID)
	if err == nil {
		return wallet, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load wallet")
	}

	if err := repo.CreateIfAbsent(ctx, &models.Wallet{AccountID: accountID, Balance: decimal.Zero}); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create wallet")
	}
	wallet, err = repo.FindByAccountID(ctx, accountID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload wallet")
	}
	return wallet, nil
}

func (s *service) ApplyTransaction(ctx context.Context, input ApplyInput) (*Result, error) {
	var result *Result
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		result, err = s.ApplyTransactionTx(ctx, tx, input)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.PublishUpdates(ctx, result)
	return result, nil
}

// ApplyTransactionTx appends an entry inside the caller's transaction. The
// caller publishes the realtime update once its transaction commits.
func (s *service) ApplyTransactionTx(ctx context.Context, tx *gorm.DB, input ApplyInput) (*Result, error) {
	if tx == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction required")
	}
	if err := validateApply(input); err != nil {
		return nil, err
	}

	repo := s.repo.WithTx(tx)
	wallet, err := repo.LockByAccountID(ctx, input.AccountID)
	if err != nil {
		return nil, mapWalletLookupError(err)
	}

	next := wallet.Balance.Add(input.Amount)
	if next.IsNegative() {
		return nil, pkgerrors.New(pkgerrors.CodeInsufficientFunds, "wallet balance is not enough for this payment").
			WithDetails(map[string]any{
				"balance":  wallet.Balance.StringFixed(2),
				"required": input.Amount.Abs().StringFixed(2),
			})
	}

	entry := models.WalletTransaction{
		WalletID:     wallet.ID,
		OrderID:      input.OrderID,
		Amount:       input.Amount,
		Type:         input.Type,
		Description:  strings.TrimSpace(input.Description),
		BalanceAfter: next,
	}
	if err := repo.InsertTransaction(ctx, &entry); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "insert wallet transaction")
	}
	if err := repo.UpdateBalance(ctx, wallet.ID, next); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update wallet balance")
	}
	wallet.Balance = next

	if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventWalletUpdated,
		AggregateType: enums.AggregateWallet,
		AggregateID:   wallet.ID,
		Actor:         input.Actor,
		Data: payloads.WalletUpdatedEvent{
			WalletID:      wallet.ID,
			AccountID:     wallet.AccountID,
			TransactionID: entry.ID,
			OrderID:       entry.OrderID,
			Type:          entry.Type,
			Amount:        entry.Amount,
			BalanceAfter:  entry.BalanceAfter,
		},
	}); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit wallet event")
	}

	return &Result{Wallet: *wallet, Transaction: entry}, nil
}

func (s *service) TopUp(ctx context.Context, input TopUpInput) (*Result, error) {
	if !input.Amount.IsPositive() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "top-up amount must be positive")
	}
	if input.StaffID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "staff identity missing")
	}
	description := strings.TrimSpace(input.Description)
	if description == "" {
		description = "Cash desk top-up"
	}

	var result *Result
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if _, err := s.EnsureWallet(ctx, tx, input.AccountID); err != nil {
			return err
		}
		var err error
		result, err = s.ApplyTransactionTx(ctx, tx, ApplyInput{
			AccountID:   input.AccountID,
			Amount:      input.Amount,
			Type:        enums.WalletTransactionDeposit,
			Description: description,
			Actor:       &outbox.ActorRef{AccountID: input.StaffID, Role: string(enums.RoleStaff)},
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	s.PublishUpdates(ctx, result)
	return result, nil
}

func (s *service) History(ctx context.Context, accountID uuid.UUID, params pagination.Params) (*HistoryPage, error) {
	wallet, err := s.GetWallet(ctx, accountID)
	if err != nil {
		return nil, err
	}

	after, err := pagination.Decode(params.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	rows, err := s.repo.ListTransactions(ctx, wallet.ID, after, params.Fetch())
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list wallet transactions")
	}

	page := &HistoryPage{}
	page.Items, page.NextCursor = pagination.Trim(rows, params.Size(), func(t models.WalletTransaction) pagination.Key {
		return pagination.Key{CreatedAt: t.CreatedAt, ID: t.ID}
	})
	return page, nil
}

// PublishUpdates sends one WalletUpdated snapshot per committed entry.
func (s *service) PublishUpdates(ctx context.Context, results ...*Result) {
	for _, r := range results {
		if r == nil {
			continue
		}
		s.notifier.Notify(ctx, realtime.EventWalletUpdated, realtime.AccountGroup(r.Wallet.AccountID), UpdatedSnapshot{
			WalletID:      r.Wallet.ID,
			AccountID:     r.Wallet.AccountID,
			Balance:       r.Transaction.BalanceAfter,
			LastChange:    r.Transaction.Amount,
			Type:          r.Transaction.Type,
			TransactionID: r.Transaction.ID,
			OrderID:       r.Transaction.OrderID,
		})
	}
}

func validateApply(input ApplyInput) error {
	if input.AccountID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "account id is required")
	}
	if !input.Type.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid wallet transaction type %q", input.Type))
	}
	if input.Amount.IsZero() {
		return pkgerrors.New(pkgerrors.CodeValidation, "amount must not be zero")
	}
	if input.Type.IsDebit() != input.Amount.IsNegative() {
		return pkgerrors.New(pkgerrors.CodeValidation, "amount sign does not match transaction type")
	}
	if input.Amount.Exponent() < -2 && !input.Amount.Equal(input.Amount.Round(2)) {
		return pkgerrors.New(pkgerrors.CodeValidation, "amount has more than two decimal places")
	}
	return nil
}

func mapWalletLookupError(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.New(pkgerrors.CodeNotFound, "wallet not found")
	}
	if pkgerrors.IsLockContention(err) {
		return pkgerrors.Wrap(pkgerrors.CodeConcurrencyConflict, err, "wallet is busy")
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load wallet")
}
