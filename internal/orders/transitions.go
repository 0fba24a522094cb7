package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/evrent-backend/internal/realtime"
	"github.com/angelmondragon/evrent-backend/pkg/db/models"
	"github.com/angelmondragon/evrent-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/evrent-backend/pkg/errors"
	"github.com/angelmondragon/evrent-backend/pkg/logger"
	"github.com/angelmondragon/evrent-backend/pkg/outbox"
	"github.com/angelmondragon/evrent-backend/pkg/outbox/payloads"
)

// Transitions applies lifecycle moves. It is shared by the order service and
// the payment reconciler so both follow the same table and version guard.
type Transitions struct {
	repo     Repository
	outbox   outboxPublisher
	notifier realtime.Notifier
	logg     *logger.Logger
	now      func() time.Time
}

// NewTransitions wires the lifecycle helper.
func NewTransitions(repo Repository, outbox outboxPublisher, notifier realtime.Notifier, logg *logger.Logger) (*Transitions, error) {
	if repo == nil {
		return nil, fmt.Errorf("orders repository required")
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
	return &Transitions{repo: repo, outbox: outbox, notifier: notifier, logg: logg, now: time.Now}, nil
}

// Lock loads the order under a row lock for the rest of tx.
func (t *Transitions) Lock(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) (*models.Order, error) {
	order, err := t.repo.WithTx(tx).LockByID(ctx, orderID)
	if err != nil {
		return nil, mapOrderLookupError(err)
	}
	return order, nil
}

// Apply moves order to the target status inside tx and updates order in place.
func (t *Transitions) Apply(ctx context.Context, tx *gorm.DB, order *models.Order, to enums.OrderStatus, reason *string, actor *outbox.ActorRef) error {
	from := order.Status
	if !CanTransition(from, to) {
		return pkgerrors.New(pkgerrors.CodeInvalidOrderState, fmt.Sprintf("order cannot move from %s to %s", from, to)).
			WithDetails(map[string]any{"from": from, "to": to})
	}

	repo := t.repo.WithTx(tx)
	if move, ok := vehicleMoveFor(from, to); ok {
		// Runs before any write so a lost claim leaves tx untouched.
		if err := t.moveVehicle(ctx, repo, order, move); err != nil {
			return err
		}
	}

	ok, err := repo.UpdateStatus(ctx, order.ID, order.Version, to, reason)
	if err != nil {
		if pkgerrors.IsLockContention(err) {
			return pkgerrors.Wrap(pkgerrors.CodeConcurrencyConflict, err, "order is busy")
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update order status")
	}
	if !ok {
		return pkgerrors.New(pkgerrors.CodeConcurrencyConflict, "order was modified concurrently")
	}
	order.Status = to
	order.Version++
	if reason != nil {
		order.CancelReason = reason
	}

	return t.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventOrderStatusChanged,
		AggregateType: enums.AggregateOrder,
		AggregateID:   order.ID,
		Actor:         actor,
		OccurredAt:    t.now().UTC(),
		Data: payloads.OrderStatusChangedEvent{
			OrderID:    order.ID,
			CustomerID: order.CustomerID,
			From:       from,
			To:         to,
			Reason:     reason,
			Version:    order.Version,
		},
	})
}

// Announce pushes the committed transition to the customer and operators.
func (t *Transitions) Announce(ctx context.Context, order *models.Order, from enums.OrderStatus, byStaff bool) {
	if order == nil {
		return
	}
	snapshot := StatusNotification{Order: *order, From: from, To: order.Status}
	accountEvent := realtime.EventOrderStatusChanged
	if byStaff {
		accountEvent = realtime.EventOrderUpdatedByStaff
	}
	t.notifier.Notify(ctx, accountEvent, realtime.AccountGroup(order.CustomerID), snapshot)
	t.notifier.Notify(ctx, realtime.EventOrderStatusChanged, realtime.GroupStaff, snapshot)
	t.notifier.Notify(ctx, realtime.EventOrderStatusChanged, realtime.GroupAdmin, snapshot)

	if move, ok := vehicleMoveFor(from, order.Status); ok {
		vehicle := VehicleNotification{VehicleID: order.VehicleID, OrderID: order.ID, Status: move.to}
		t.notifier.Notify(ctx, realtime.EventVehicleUpdated, realtime.GroupStaff, vehicle)
		t.notifier.Notify(ctx, realtime.EventVehicleUpdated, realtime.GroupAdmin, vehicle)
	}
}

// moveVehicle applies move for order. A claim or hand-over the order cannot
// make is VEHICLE_UNAVAILABLE. A release of a vehicle the order no longer
// holds is skipped so another order's hold survives.
func (t *Transitions) moveVehicle(ctx context.Context, repo Repository, order *models.Order, move vehicleMove) error {
	moved, err := repo.MoveVehicle(ctx, order.VehicleID, order.ID, move.from, move.to)
	switch {
	case err != nil && pkgerrors.IsLockContention(err):
		return pkgerrors.Wrap(pkgerrors.CodeConcurrencyConflict, err, "vehicle is busy")
	case err != nil:
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update vehicle status")
	case moved:
		return nil
	case move.to == enums.VehicleStatusAvailable:
		t.logg.Warn(t.logg.WithField(ctx, "vehicle_id", order.VehicleID.String()), "vehicle not held by this order, left as is")
		return nil
	default:
		return pkgerrors.New(pkgerrors.CodeVehicleUnavailable, "vehicle is no longer available")
	}
}

func mapOrderLookupError(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	if pkgerrors.IsLockContention(err) {
		return pkgerrors.Wrap(pkgerrors.CodeConcurrencyConflict, err, "order is busy")
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
}
