// Package gateway defines the provider-neutral payment gateway contract.
package gateway

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/evrent-backend/pkg/enums"
)

// Gateway is implemented by each external payment provider.
type Gateway interface {
	Method() enums.PaymentMethod
	CreatePaymentLink(ctx context.Context, req LinkRequest) (*Link, error)
	GetPaymentInfo(ctx context.Context, orderCode int64) (*Info, error)
	CancelPaymentLink(ctx context.Context, orderCode int64, reason string) error
	// VerifySignature is pure and never panics.
	VerifySignature(cb Callback) bool
}

// LinkRequest asks a provider for a checkout link or a direct charge.
type LinkRequest struct {
	OrderCode   int64
	Amount      decimal.Decimal
	Description string
	ReturnURL   string
	CancelURL   string
	// SourceID is a tokenized card for providers that charge directly.
	SourceID string
	ClientIP string
}

// Link is what the customer is redirected to.
type Link struct {
	CheckoutURL string
	GatewayRef  string
}

// InfoStatus is the provider-side state of a payment.
type InfoStatus string

const (
	InfoPending  InfoStatus = "PENDING"
	InfoPaid     InfoStatus = "PAID"
	InfoFailed   InfoStatus = "FAILED"
	InfoCanceled InfoStatus = "CANCELED"
)

// Info is the provider's answer to a status query.
type Info struct {
	OrderCode int64
	Amount    decimal.Decimal
	Status    InfoStatus
	Reference string
}

// Callback is a provider notification normalized by the HTTP adapters.
type Callback struct {
	Method    enums.PaymentMethod
	OrderCode int64
	Amount    decimal.Decimal
	Success   bool
	// Pending marks notifications about non-terminal provider states.
	Pending         bool
	ResultCode      string
	Reference       string
	TransactionTime time.Time
	// Raw holds the canonical signed fields exactly as received.
	Raw       map[string]string
	Body      []byte
	Signature string
}
