// Package payments persists payment attempts and hands out provider order codes.
package payments

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/evrent-backend/pkg/db"
	"github.com/angelmondragon/evrent-backend/pkg/db/models"
	"github.com/angelmondragon/evrent-backend/pkg/enums"
)

// Repository persists payments.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, payment *models.Payment) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Payment, error)
	FindByOrderCode(ctx context.Context, orderCode int64) (*models.Payment, error)
	LockByOrderCode(ctx context.Context, orderCode int64) (*models.Payment, error)
	FindOpenByOrder(ctx context.Context, orderID uuid.UUID) (*models.Payment, error)
	ListByOrder(ctx context.Context, orderID uuid.UUID) ([]models.Payment, error)
	Update(ctx context.Context, id uuid.UUID, updates map[string]any) error
	OrderCodeExists(ctx context.Context, orderCode int64) (bool, error)
	GatewayRefByOrderCode(ctx context.Context, orderCode int64) (string, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds a payments repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, payment *models.Payment) error {
	if payment.ID == uuid.Nil {
		payment.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(payment).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Payment, error) {
	var payment models.Payment
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&payment).Error; err != nil {
		return nil, err
	}
	return &payment, nil
}

func (r *repository) FindByOrderCode(ctx context.Context, orderCode int64) (*models.Payment, error) {
	var payment models.Payment
	if err := r.db.WithContext(ctx).Where("order_code = ?", orderCode).First(&payment).Error; err != nil {
		return nil, err
	}
	return &payment, nil
}

// LockByOrderCode loads the payment and holds its row until the transaction ends.
func (r *repository) LockByOrderCode(ctx context.Context, orderCode int64) (*models.Payment, error) {
	var payment models.Payment
	if err := db.ForUpdate(r.db.WithContext(ctx)).
		Where("order_code = ?", orderCode).
		First(&payment).Error; err != nil {
		return nil, err
	}
	return &payment, nil
}

// FindOpenByOrder returns the newest PENDING/PROCESSING payment for the order.
func (r *repository) FindOpenByOrder(ctx context.Context, orderID uuid.UUID) (*models.Payment, error) {
	var payment models.Payment
	if err := r.db.WithContext(ctx).
		Where("order_id = ? AND status IN ?", orderID, enums.OpenPaymentStatuses).
		Order("created_at DESC").
		First(&payment).Error; err != nil {
		return nil, err
	}
	return &payment, nil
}

func (r *repository) ListByOrder(ctx context.Context, orderID uuid.UUID) ([]models.Payment, error) {
	var rows []models.Payment
	if err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("created_at ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repository) Update(ctx context.Context, id uuid.UUID, updates map[string]any) error {
	if len(updates) == 0 {
		return nil
	}
	res := r.db.WithContext(ctx).Model(&models.Payment{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *repository) OrderCodeExists(ctx context.Context, orderCode int64) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&models.Payment{}).Where("order_code = ?", orderCode).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// GatewayRefByOrderCode returns the provider-side id stored at link creation, or "".
func (r *repository) GatewayRefByOrderCode(ctx context.Context, orderCode int64) (string, error) {
	payment, err := r.FindByOrderCode(ctx, orderCode)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	if payment.GatewayTransactionID == nil {
		return "", nil
	}
	return *payment.GatewayTransactionID, nil
}
