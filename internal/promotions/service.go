package promotions

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/evrent-backend/internal/repo"
	"github.com/angelmondragon/evrent-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/evrent-backend/pkg/errors"
)

var maxPercent = decimal.NewFromInt(100)

// Repository reads promotions. Promotions are managed elsewhere.
type Repository interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.Promotion, error)
}

type repository struct {
	repo.Base
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{Base: repo.NewBase(db)}
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Promotion, error) {
	promo, ok, err := repo.FindOne[models.Promotion](ctx, r.Base, "id = ?", id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return promo, nil
}

// Service resolves a promotion that may be applied to a new order.
type Service interface {
	Lookup(ctx context.Context, id uuid.UUID, at time.Time) (*models.Promotion, error)
}

type service struct {
	repo Repository
}

func NewService(r Repository) (Service, error) {
	if r == nil {
		return nil, fmt.Errorf("promotions repository required")
	}
	return &service{repo: r}, nil
}

// Lookup returns the promotion when it is active at the given instant.
func (s *service) Lookup(ctx context.Context, id uuid.UUID, at time.Time) (*models.Promotion, error) {
	if id == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "promotion id is required")
	}
	promo, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "promotion does not exist")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load promotion")
	}
	if !promo.ActiveAt(at) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "promotion is inactive or expired")
	}
	if promo.DiscountPercent.IsNegative() || promo.DiscountPercent.GreaterThan(maxPercent) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "promotion discount is out of range")
	}
	return promo, nil
}
