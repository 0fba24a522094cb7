package square

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
)

// SignatureHeader carries the webhook HMAC.
const SignatureHeader = "x-square-hmacsha256-signature"

// VerifyWebhookSignature reports whether signature is the base64 HMAC-SHA256 of
// notificationURL+body keyed with secret.
func VerifyWebhookSignature(secret, notificationURL string, body []byte, signature string) bool {
	if secret == "" || signature == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(notificationURL))
	mac.Write(body)
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(strings.TrimSpace(signature)))
}

// SignWebhook returns the signature Square would send for body.
func SignWebhook(secret, notificationURL string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(notificationURL))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// WebhookEvent is the subset of the payment.* notification we reconcile.
type WebhookEvent struct {
	EventID string `json:"event_id"`
	Type    string `json:"type"`
	Data    struct {
		ID     string `json:"id"`
		Object struct {
			Payment WebhookPayment `json:"payment"`
		} `json:"object"`
	} `json:"data"`
}

// WebhookPayment mirrors the payment object embedded in the notification.
type WebhookPayment struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	ReferenceID string `json:"reference_id"`
	UpdatedAt   string `json:"updated_at"`
	AmountMoney struct {
		Amount   int64  `json:"amount"`
		Currency string `json:"currency"`
	} `json:"amount_money"`
}

// ParseWebhookEvent decodes a payment webhook body.
func ParseWebhookEvent(body []byte) (*WebhookEvent, error) {
	var evt WebhookEvent
	if err := json.Unmarshal(body, &evt); err != nil {
		return nil, err
	}
	if !strings.HasPrefix(evt.Type, "payment.") {
		return nil, errors.New("unsupported square event type " + evt.Type)
	}
	if evt.Data.Object.Payment.ID == "" {
		return nil, errors.New("square event missing payment")
	}
	return &evt, nil
}
