package orders

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/evrent-backend/internal/reconciler"
	"github.com/angelmondragon/evrent-backend/pkg/db/models"
	"github.com/angelmondragon/evrent-backend/pkg/enums"
	"github.com/angelmondragon/evrent-backend/pkg/outbox"
	"github.com/angelmondragon/evrent-backend/pkg/pagination"
)

// Repository defines persistence operations for rental orders and the vehicle
// availability they drive.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, order *models.Order) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
	LockByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, version int, to enums.OrderStatus, reason *string) (bool, error)
	ListByCustomer(ctx context.Context, customerID uuid.UUID, after *pagination.Key, fetch int) ([]models.Order, error)
	ListStalePending(ctx context.Context, cutoff time.Time, limit int) ([]models.Order, error)
	FindVehicle(ctx context.Context, id uuid.UUID) (*models.Vehicle, error)
	MoveVehicle(ctx context.Context, vehicleID, orderID uuid.UUID, from, to enums.VehicleStatus) (bool, error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// ProviderReconciler settles a payment from the provider's own records.
type ProviderReconciler interface {
	ReconcileFromProvider(ctx context.Context, method enums.PaymentMethod, orderCode int64) (reconciler.Outcome, error)
}
