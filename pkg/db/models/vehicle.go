package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/evrent-backend/pkg/enums"
)

// Vehicle holds the availability columns the rental flow mutates. HeldBy is
// the CONFIRMED or ONGOING order that owns a RESERVED or RENTED vehicle.
type Vehicle struct {
	ID        uuid.UUID           `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	StationID uuid.UUID           `gorm:"column:station_id;type:uuid;not null" json:"stationId"`
	Status    enums.VehicleStatus `gorm:"column:status;type:text;not null" json:"status"`
	HeldBy    *uuid.UUID          `gorm:"column:held_by_order_id;type:uuid" json:"heldBy,omitempty"`
	UpdatedAt time.Time           `gorm:"column:updated_at;autoUpdateTime" json:"updatedAt"`
}

func (Vehicle) TableName() string { return "vehicles" }
