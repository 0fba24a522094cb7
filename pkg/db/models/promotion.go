package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Promotion is a percentage discount applied to an order's base price.
type Promotion struct {
	ID              uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	Code            string          `gorm:"column:code;not null;uniqueIndex"`
	DiscountPercent decimal.Decimal `gorm:"column:discount_percent;type:numeric(5,2);not null"`
	IsActive        bool            `gorm:"column:is_active;not null;default:true"`
	ValidFrom       *time.Time      `gorm:"column:valid_from"`
	ValidTo         *time.Time      `gorm:"column:valid_to"`
	CreatedAt       time.Time       `gorm:"column:created_at;autoCreateTime"`
}

func (Promotion) TableName() string { return "promotions" }

// ActiveAt reports whether the promotion can be applied at t.
func (p Promotion) ActiveAt(t time.Time) bool {
	if !p.IsActive {
		return false
	}
	if p.ValidFrom != nil && t.Before(*p.ValidFrom) {
		return false
	}
	if p.ValidTo != nil && t.After(*p.ValidTo) {
		return false
	}
	return true
}
