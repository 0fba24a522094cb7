package orders

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/evrent-backend/pkg/db/models"
	"github.com/angelmondragon/evrent-backend/pkg/enums"
	"github.com/angelmondragon/evrent-backend/pkg/outbox"
	"github.com/angelmondragon/evrent-backend/pkg/types"
)

// Requester is the authenticated caller of an order operation.
type Requester struct {
	AccountID uuid.UUID
	Role      enums.Role
}

func (r Requester) actor() *outbox.ActorRef {
	return &outbox.ActorRef{AccountID: r.AccountID, Role: string(r.Role)}
}

// CheckoutOptions carries what a gateway needs to start a payment.
type CheckoutOptions struct {
	Method    enums.PaymentMethod
	SourceID  string
	ReturnURL string
	CancelURL string
	ClientIP  string
}

// CreateOrderInput books a vehicle and starts the deposit payment.
type CreateOrderInput struct {
	CustomerID  uuid.UUID
	VehicleID   uuid.UUID
	StationID   uuid.UUID
	Start       time.Time
	End         time.Time
	BasePrice   decimal.Decimal
	PromotionID *uuid.UUID
	Checkout    CheckoutOptions
}

// PaymentResult is an order together with the payment attempt just opened or settled.
type PaymentResult struct {
	Order       *models.Order   `json:"order"`
	Payment     *models.Payment `json:"payment,omitempty"`
	CheckoutURL string          `json:"checkoutUrl,omitempty"`
}

// PayDepositInput retries the deposit of a PENDING order.
type PayDepositInput struct {
	OrderID   uuid.UUID
	Requester Requester
	Checkout  CheckoutOptions
}

// CompleteInput settles the remaining balance of an ONGOING order.
type CompleteInput struct {
	OrderID   uuid.UUID
	Requester Requester
	Checkout  CheckoutOptions
}

// CancelInput cancels an order. A nil Requester means the system itself.
type CancelInput struct {
	OrderID   uuid.UUID
	Requester *Requester
	Reason    string
}

// CancelResult summarizes the money returned by a cancellation.
type CancelResult struct {
	Order  *models.Order   `json:"order"`
	Refund decimal.Decimal `json:"refund"`
}

// AutoRefundOutcome is what the sweep did with one stale order.
type AutoRefundOutcome string

const (
	AutoRefundSkipped  AutoRefundOutcome = "skipped"
	AutoRefundSettled  AutoRefundOutcome = "settled"
	AutoRefundCanceled AutoRefundOutcome = "canceled"
)

// OrderDetail is an order with its payment history.
type OrderDetail struct {
	Order    models.Order     `json:"order"`
	Payments []models.Payment `json:"payments"`
}

// OrderPage is a newest-first page of orders.
type OrderPage = types.Page[models.Order]

// StatusNotification is the realtime snapshot sent after a transition.
type StatusNotification struct {
	Order models.Order      `json:"order"`
	From  enums.OrderStatus `json:"from,omitempty"`
	To    enums.OrderStatus `json:"to"`
}

// VehicleNotification tells operators a vehicle changed availability.
type VehicleNotification struct {
	VehicleID uuid.UUID           `json:"vehicleId"`
	OrderID   uuid.UUID           `json:"orderId"`
	Status    enums.VehicleStatus `json:"status"`
}
