package payments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/evrent-backend/internal/payments/gateway"
	"github.com/angelmondragon/evrent-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/evrent-backend/pkg/errors"
)

const maxOrderCodeAttempts = 5

// Service exposes payment reads and order code allocation.
type Service interface {
	Get(ctx context.Context, id uuid.UUID) (*models.Payment, error)
	ListByOrder(ctx context.Context, orderID uuid.UUID) ([]models.Payment, error)
	NextOrderCode(ctx context.Context, tx *gorm.DB) (int64, error)
}

type service struct {
	repo Repository
	now  func() time.Time
}

// NewService builds the payments service.
func NewService(repo Repository) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("payments repository required")
	}
	return &service{repo: repo, now: time.Now}, nil
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (*models.Payment, error) {
	payment, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payment not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment")
	}
	return payment, nil
}

func (s *service) ListByOrder(ctx context.Context, orderID uuid.UUID) ([]models.Payment, error) {
	rows, err := s.repo.ListByOrder(ctx, orderID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list payments")
	}
	return rows, nil
}

// NextOrderCode allocates a code no stored payment uses yet. The unique index
// on order_code still guards against a concurrent insert of the same value.
func (s *service) NextOrderCode(ctx context.Context, tx *gorm.DB) (int64, error) {
	repo := s.repo.WithTx(tx)
	for attempt := 0; attempt < maxOrderCodeAttempts; attempt++ {
		code := gateway.NewOrderCode(s.now())
		exists, err := repo.OrderCodeExists(ctx, code)
		if err != nil {
			return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check order code")
		}
		if !exists {
			return code, nil
		}
	}
	return 0, pkgerrors.New(pkgerrors.CodeConflict, "could not allocate a payment order code")
}
