package enums

// VehicleStatus is the availability of a vehicle as driven by rental orders.
type VehicleStatus string

const (
	VehicleStatusAvailable VehicleStatus = "AVAILABLE"
	VehicleStatusReserved  VehicleStatus = "RESERVED"
	VehicleStatusRented    VehicleStatus = "RENTED"
)

func (v VehicleStatus) String() string {
	return string(v)
}
