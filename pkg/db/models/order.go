package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/evrent-backend/pkg/enums"
)

// Order is a vehicle rental booking and its money-facing lifecycle.
type Order struct {
	ID                uuid.UUID         `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	CustomerID        uuid.UUID         `gorm:"column:customer_id;type:uuid;not null" json:"customerId"`
	VehicleID         uuid.UUID         `gorm:"column:vehicle_id;type:uuid;not null" json:"vehicleId"`
	StationID         uuid.UUID         `gorm:"column:station_id;type:uuid;not null" json:"stationId"`
	PromotionID       *uuid.UUID        `gorm:"column:promotion_id;type:uuid" json:"promotionId,omitempty"`
	OrderedAt         time.Time         `gorm:"column:ordered_at;not null" json:"orderedAt"`
	StartTime         time.Time         `gorm:"column:start_time;not null" json:"startTime"`
	EndTime           time.Time         `gorm:"column:end_time;not null" json:"endTime"`
	BasePrice         decimal.Decimal   `gorm:"column:base_price;type:numeric(18,2);not null" json:"basePrice"`
	PromotionDiscount decimal.Decimal   `gorm:"column:promotion_discount;type:numeric(18,2);not null" json:"promotionDiscount"`
	DepositAmount     decimal.Decimal   `gorm:"column:deposit_amount;type:numeric(18,2);not null" json:"depositAmount"`
	TotalPrice        decimal.Decimal   `gorm:"column:total_price;type:numeric(18,2);not null" json:"totalPrice"`
	Status            enums.OrderStatus `gorm:"column:status;type:text;not null" json:"status"`
	CancelReason      *string           `gorm:"column:cancel_reason" json:"cancelReason,omitempty"`
	Version           int               `gorm:"column:version;not null;default:1" json:"version"`
	IsActive          bool              `gorm:"column:is_active;not null;default:true" json:"isActive"`
	CreatedAt         time.Time         `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
	UpdatedAt         time.Time         `gorm:"column:updated_at;autoUpdateTime" json:"updatedAt"`
}

func (Order) TableName() string { return "orders" }

// FinalAmount is the remainder owed at completion.
func (o Order) FinalAmount() decimal.Decimal {
	return o.TotalPrice.Sub(o.DepositAmount)
}
