// Package squarecard charges tokenized cards through Square.
package squarecard

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	sq "github.com/square/square-go-sdk"

	"github.com/angelmondragon/evrent-backend/internal/payments/gateway"
	"github.com/angelmondragon/evrent-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/evrent-backend/pkg/errors"
	"github.com/angelmondragon/evrent-backend/pkg/square"
)

const (
	statusCompleted = "COMPLETED"
	statusFailed    = "FAILED"
	statusCanceled  = "CANCELED"
	statusApproved  = "APPROVED"
	centsPerUnit    = 100
	rawBodyField    = "body"
)

// API is the subset of the Square client used here.
type API interface {
	CreatePayment(ctx context.Context, params square.PaymentCreateParams) (*sq.Payment, error)
	GetPayment(ctx context.Context, paymentID string) (*sq.Payment, error)
	CancelPayment(ctx context.Context, paymentID string) (*sq.Payment, error)
}

// RefLookup resolves the Square payment id stored for an order code.
type RefLookup interface {
	GatewayRefByOrderCode(ctx context.Context, orderCode int64) (string, error)
}

// Gateway adapts Square card payments to the gateway contract.
type Gateway struct {
	api             API
	lookup          RefLookup
	webhookSecret   string
	notificationURL string
}

// New wires the Square gateway.
func New(api API, lookup RefLookup, webhookSecret, notificationURL string) (*Gateway, error) {
	if api == nil {
		return nil, errors.New("square api is required")
	}
	if lookup == nil {
		return nil, errors.New("payment reference lookup is required")
	}
	if strings.TrimSpace(webhookSecret) == "" || strings.TrimSpace(notificationURL) == "" {
		return nil, errors.New("square webhook secret and notification url are required")
	}
	return &Gateway{api: api, lookup: lookup, webhookSecret: webhookSecret, notificationURL: notificationURL}, nil
}

func (g *Gateway) Method() enums.PaymentMethod { return enums.PaymentMethodCard }

// CreatePaymentLink charges the card immediately. There is no hosted page, so
// CheckoutURL is empty and GatewayRef carries the Square payment id.
func (g *Gateway) CreatePaymentLink(ctx context.Context, req gateway.LinkRequest) (*gateway.Link, error) {
	if strings.TrimSpace(req.SourceID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "card source id is required")
	}
	if !req.Amount.IsPositive() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "amount must be positive")
	}
	payment, err := g.api.CreatePayment(ctx, square.PaymentCreateParams{
		AmountCents:    toCents(req.Amount),
		SourceID:       req.SourceID,
		IdempotencyKey: fmt.Sprintf("evr-%d", req.OrderCode),
		Note:           req.Description,
		ReferenceID:    strconv.FormatInt(req.OrderCode, 10),
		Autocomplete:   true,
	})
	if err != nil {
		return nil, err
	}
	return &gateway.Link{GatewayRef: deref(payment.ID)}, nil
}

func (g *Gateway) GetPaymentInfo(ctx context.Context, orderCode int64) (*gateway.Info, error) {
	ref, err := g.lookup.GatewayRefByOrderCode(ctx, orderCode)
	if err != nil {
		return nil, err
	}
	if ref == "" {
		return &gateway.Info{OrderCode: orderCode, Status: gateway.InfoPending}, nil
	}
	payment, err := g.api.GetPayment(ctx, ref)
	if err != nil {
		return nil, err
	}
	info := &gateway.Info{
		OrderCode: orderCode,
		Status:    mapStatus(deref(payment.Status)),
		Reference: deref(payment.ID),
	}
	if payment.AmountMoney != nil && payment.AmountMoney.Amount != nil {
		info.Amount = fromCents(*payment.AmountMoney.Amount)
	}
	return info, nil
}

// CancelPaymentLink voids the charge when Square still allows it.
func (g *Gateway) CancelPaymentLink(ctx context.Context, orderCode int64, _ string) error {
	ref, err := g.lookup.GatewayRefByOrderCode(ctx, orderCode)
	if err != nil {
		return err
	}
	if ref == "" {
		return nil
	}
	_, err = g.api.CancelPayment(ctx, ref)
	return err
}

// VerifySignature checks the HMAC over notification URL + raw body.
func (g *Gateway) VerifySignature(cb gateway.Callback) bool {
	if len(cb.Body) == 0 {
		return false
	}
	return square.VerifyWebhookSignature(g.webhookSecret, g.notificationURL, cb.Body, cb.Signature)
}

// ParseWebhook normalizes a payment.* notification. Non-terminal statuses are
// flagged Pending.
func ParseWebhook(body []byte, signature string) (gateway.Callback, error) {
	evt, err := square.ParseWebhookEvent(body)
	if err != nil {
		return gateway.Callback{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid square webhook")
	}
	payment := evt.Data.Object.Payment
	code, err := strconv.ParseInt(strings.TrimSpace(payment.ReferenceID), 10, 64)
	if err != nil || code <= 0 {
		return gateway.Callback{}, pkgerrors.New(pkgerrors.CodeValidation, "square payment has no order reference")
	}

	status := strings.ToUpper(payment.Status)
	cb := gateway.Callback{
		Method:     enums.PaymentMethodCard,
		OrderCode:  code,
		Amount:     fromCents(payment.AmountMoney.Amount),
		Success:    status == statusCompleted,
		Pending:    status != statusCompleted && status != statusFailed && status != statusCanceled,
		ResultCode: status,
		Reference:  payment.ID,
		Raw:        map[string]string{rawBodyField: string(body)},
		Body:       body,
		Signature:  signature,
	}
	if at, err := time.Parse(time.RFC3339, payment.UpdatedAt); err == nil {
		cb.TransactionTime = at.UTC()
	}
	return cb, nil
}

func mapStatus(status string) gateway.InfoStatus {
	switch strings.ToUpper(status) {
	case statusCompleted:
		return gateway.InfoPaid
	case statusFailed:
		return gateway.InfoFailed
	case statusCanceled:
		return gateway.InfoCanceled
	default:
		return gateway.InfoPending
	}
}

func toCents(amount decimal.Decimal) int64 {
	return amount.Mul(decimal.NewFromInt(centsPerUnit)).Round(0).IntPart()
}

func fromCents(cents int64) decimal.Decimal {
	return decimal.New(cents, -2)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
