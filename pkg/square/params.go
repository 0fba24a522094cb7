package square

import (
	"strings"

	sq "github.com/square/square-go-sdk"
)

const defaultCurrency = "USD"

// PaymentCreateParams describes one card charge. Empty LocationID and
// Currency fall back to the client's configuration.
type PaymentCreateParams struct {
	AmountCents    int64
	Currency       string
	LocationID     string
	SourceID       string
	IdempotencyKey string
	Note           string
	ReferenceID    string
	// Autocomplete false leaves the payment APPROVED so it can still be canceled.
	Autocomplete bool
}

func (p PaymentCreateParams) request(idempotencyKey string) *sq.CreatePaymentRequest {
	return &sq.CreatePaymentRequest{
		IdempotencyKey: idempotencyKey,
		SourceID:       p.SourceID,
		LocationID:     optional(p.LocationID),
		AmountMoney:    money(p.AmountCents, p.Currency),
		Autocomplete:   ptr(p.Autocomplete),
		Note:           optional(p.Note),
		ReferenceID:    optional(p.ReferenceID),
	}
}

// logFields is what a create request may put in the logs.
func (p PaymentCreateParams) logFields() map[string]any {
	return map[string]any{
		"location_id":  p.LocationID,
		"reference_id": p.ReferenceID,
		"amount":       p.AmountCents,
		"source_id":    p.SourceID,
	}
}

func ptr[T any](v T) *T { return &v }

// optional maps blank strings to an absent field.
func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

func money(cents int64, currency string) *sq.Money {
	if cents <= 0 {
		return nil
	}
	code := strings.ToUpper(strings.TrimSpace(currency))
	if code == "" {
		code = defaultCurrency
	}
	return &sq.Money{Amount: ptr(cents), Currency: ptr(sq.Currency(code))}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
