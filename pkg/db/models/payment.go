package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/evrent-backend/pkg/enums"
)

const (
	// FailureAmountMismatch marks a callback whose amount differs from the expected charge.
	FailureAmountMismatch = "AMOUNT_MISMATCH"
	// FailureVehicleUnavailable marks a deposit captured after another order
	// took the vehicle. The money was credited to the wallet.
	FailureVehicleUnavailable = "VEHICLE_UNAVAILABLE"
)

// Payment is one attempt to collect money for an order.
type Payment struct {
	ID                   uuid.UUID            `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	OrderID              uuid.UUID            `gorm:"column:order_id;type:uuid;not null" json:"orderId"`
	Amount               decimal.Decimal      `gorm:"column:amount;type:numeric(18,2);not null" json:"amount"`
	Method               enums.PaymentMethod  `gorm:"column:method;type:text;not null" json:"method"`
	Purpose              enums.PaymentPurpose `gorm:"column:purpose;type:text;not null" json:"purpose"`
	Status               enums.PaymentStatus  `gorm:"column:status;type:text;not null" json:"status"`
	OrderCode            int64                `gorm:"column:order_code;not null;uniqueIndex" json:"orderCode"`
	GatewayTransactionID *string              `gorm:"column:gateway_transaction_id" json:"gatewayTransactionId,omitempty"`
	CheckoutURL          *string              `gorm:"column:checkout_url" json:"checkoutUrl,omitempty"`
	FailureReason        *string              `gorm:"column:failure_reason" json:"failureReason,omitempty"`
	CreatedAt            time.Time            `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
	PaidAt               *time.Time           `gorm:"column:paid_at" json:"paidAt,omitempty"`
	UpdatedAt            time.Time            `gorm:"column:updated_at;autoUpdateTime" json:"updatedAt"`
}

func (Payment) TableName() string { return "payments" }
