package orders

import "github.com/angelmondragon/evrent-backend/pkg/enums"

var allowedTransitions = map[enums.OrderStatus][]enums.OrderStatus{
	enums.OrderStatusPending:   {enums.OrderStatusConfirmed, enums.OrderStatusCanceled},
	enums.OrderStatusConfirmed: {enums.OrderStatusOngoing, enums.OrderStatusCanceled},
	enums.OrderStatusOngoing:   {enums.OrderStatusCompleted},
}

// CanTransition reports whether an order may move from one status to another.
func CanTransition(from, to enums.OrderStatus) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// vehicleMove is the availability change an order transition drives. A move
// out of AVAILABLE claims the vehicle for the order; every other move needs
// the order to be the current holder.
type vehicleMove struct {
	from, to enums.VehicleStatus
}

// vehicleMoveFor returns false for transitions that leave the vehicle alone.
// A PENDING order never holds its vehicle, so canceling it changes nothing.
func vehicleMoveFor(from, to enums.OrderStatus) (vehicleMove, bool) {
	switch {
	case to == enums.OrderStatusConfirmed:
		return vehicleMove{enums.VehicleStatusAvailable, enums.VehicleStatusReserved}, true
	case to == enums.OrderStatusOngoing:
		return vehicleMove{enums.VehicleStatusReserved, enums.VehicleStatusRented}, true
	case to == enums.OrderStatusCompleted:
		return vehicleMove{enums.VehicleStatusRented, enums.VehicleStatusAvailable}, true
	case to == enums.OrderStatusCanceled && from == enums.OrderStatusConfirmed:
		return vehicleMove{enums.VehicleStatusReserved, enums.VehicleStatusAvailable}, true
	}
	return vehicleMove{}, false
}
