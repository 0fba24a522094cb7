package payloads

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/evrent-backend/pkg/enums"
)

// OrderCreatedEvent is emitted when a rental order and its deposit payment are persisted.
type OrderCreatedEvent struct {
	OrderID       uuid.UUID           `json:"order_id"`
	CustomerID    uuid.UUID           `json:"customer_id"`
	VehicleID     uuid.UUID           `json:"vehicle_id"`
	StationID     uuid.UUID           `json:"station_id"`
	TotalPrice    decimal.Decimal     `json:"total_price"`
	DepositAmount decimal.Decimal     `json:"deposit_amount"`
	PaymentMethod enums.PaymentMethod `json:"payment_method"`
	StartTime     time.Time           `json:"start_time"`
	EndTime       time.Time           `json:"end_time"`
}

// OrderStatusChangedEvent records a single lifecycle transition.
type OrderStatusChangedEvent struct {
	OrderID    uuid.UUID         `json:"order_id"`
	CustomerID uuid.UUID         `json:"customer_id"`
	From       enums.OrderStatus `json:"from"`
	To         enums.OrderStatus `json:"to"`
	Reason     *string           `json:"reason,omitempty"`
	Version    int               `json:"version"`
}

// PaymentEvent carries payment.completed, payment.failed and payment.refunded.
type PaymentEvent struct {
	PaymentID     uuid.UUID            `json:"payment_id"`
	OrderID       uuid.UUID            `json:"order_id"`
	OrderCode     int64                `json:"order_code"`
	Method        enums.PaymentMethod  `json:"method"`
	Purpose       enums.PaymentPurpose `json:"purpose"`
	Status        enums.PaymentStatus  `json:"status"`
	Amount        decimal.Decimal      `json:"amount"`
	FailureReason *string              `json:"failure_reason,omitempty"`
}

// WalletUpdatedEvent is emitted for each committed ledger entry.
type WalletUpdatedEvent struct {
	WalletID      uuid.UUID                   `json:"wallet_id"`
	AccountID     uuid.UUID                   `json:"account_id"`
	TransactionID uuid.UUID                   `json:"transaction_id"`
	OrderID       *uuid.UUID                  `json:"order_id,omitempty"`
	Type          enums.WalletTransactionType `json:"type"`
	Amount        decimal.Decimal             `json:"amount"`
	BalanceAfter  decimal.Decimal             `json:"balance_after"`
}
