package orders

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/evrent-backend/pkg/db"
	"github.com/angelmondragon/evrent-backend/pkg/db/models"
	"github.com/angelmondragon/evrent-backend/pkg/enums"
	"github.com/angelmondragon/evrent-backend/pkg/pagination"
)

type repository struct {
	db *gorm.DB
}

// NewRepository builds an orders repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, order *models.Order) error {
	if order.ID == uuid.Nil {
		order.ID = uuid.New()
	}
	if order.Version == 0 {
		order.Version = 1
	}
	return r.db.WithContext(ctx).Create(order).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	var order models.Order
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&order).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repository) LockByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	var order models.Order
	if err := db.ForUpdate(r.db.WithContext(ctx)).Where("id = ?", id).First(&order).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

// UpdateStatus moves the order only if nobody bumped its version since it was
// read. It reports false when the guard matched no row.
func (r *repository) UpdateStatus(ctx context.Context, id uuid.UUID, version int, to enums.OrderStatus, reason *string) (bool, error) {
	updates := map[string]any{
		"status":     to,
		"version":    gorm.Expr("version + 1"),
		"updated_at": time.Now().UTC(),
	}
	if reason != nil {
		updates["cancel_reason"] = *reason
	}
	res := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ? AND version = ?", id, version).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) ListByCustomer(ctx context.Context, customerID uuid.UUID, after *pagination.Key, fetch int) ([]models.Order, error) {
	query := r.db.WithContext(ctx).Where("customer_id = ? AND is_active = ?", customerID, true)
	var rows []models.Order
	if err := pagination.Scope(query, after, fetch).Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// ListStalePending returns PENDING orders created before cutoff, oldest first.
func (r *repository) ListStalePending(ctx context.Context, cutoff time.Time, limit int) ([]models.Order, error) {
	var rows []models.Order
	if err := r.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", enums.OrderStatusPending, cutoff).
		Order("created_at ASC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repository) FindVehicle(ctx context.Context, id uuid.UUID) (*models.Vehicle, error) {
	var vehicle models.Vehicle
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&vehicle).Error; err != nil {
		return nil, err
	}
	return &vehicle, nil
}

// MoveVehicle changes availability only while the vehicle is in from and is
// free (from AVAILABLE) or held by orderID. Reaching AVAILABLE clears the
// holder; any other target records orderID. It reports false when the guard
// matched no row.
func (r *repository) MoveVehicle(ctx context.Context, vehicleID, orderID uuid.UUID, from, to enums.VehicleStatus) (bool, error) {
	query := r.db.WithContext(ctx).
		Model(&models.Vehicle{}).
		Where("id = ? AND status = ?", vehicleID, from)
	if from == enums.VehicleStatusAvailable {
		query = query.Where("held_by_order_id IS NULL")
	} else {
		query = query.Where("held_by_order_id = ?", orderID)
	}

	var holder *uuid.UUID
	if to != enums.VehicleStatusAvailable {
		holder = &orderID
	}
	res := query.Updates(map[string]any{
		"status":           to,
		"held_by_order_id": holder,
		"updated_at":       time.Now().UTC(),
	})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
