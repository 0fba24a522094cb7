package square

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
	sq "github.com/square/square-go-sdk"
	sqclient "github.com/square/square-go-sdk/client"
	sqcore "github.com/square/square-go-sdk/core"
	sqoption "github.com/square/square-go-sdk/option"

	"github.com/angelmondragon/evrent-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/evrent-backend/pkg/errors"
	"github.com/angelmondragon/evrent-backend/pkg/logger"
)

var baseURLs = map[string]string{
	"sandbox":    "https://connect.squareupsandbox.com",
	"production": "https://connect.squareup.com",
}

// Keys whose values never reach the logs. Matched as substrings.
var sensitiveKeys = []string{"card", "nonce", "token", "source", "cvv", "cvc", "secret", "email", "phone"}

// Client is the Square payments facade: auth, idempotency keys, redacted
// logging and mapping of Square failures onto pkg/errors codes.
type Client struct {
	sdk        *sqclient.Client
	locationID string
	currency   string
	logg       *logger.Logger
}

func NewClient(ctx context.Context, cfg config.SquareConfig, logg *logger.Logger) (*Client, error) {
	if logg == nil {
		return nil, errors.New("square logger is required")
	}
	env := cfg.Environment()
	baseURL, ok := baseURLs[env]
	if !ok {
		return nil, fmt.Errorf("square environment must be sandbox or production, got %q", env)
	}
	required := map[string]string{
		"access token":   cfg.AccessToken,
		"webhook secret": cfg.WebhookSecret,
		"location id":    cfg.LocationID,
	}
	for name, value := range required {
		if strings.TrimSpace(value) == "" {
			return nil, fmt.Errorf("square %s is required", name)
		}
	}

	c := &Client{
		sdk: sqclient.NewClient(
			sqoption.WithBaseURL(baseURL),
			sqoption.WithToken(strings.TrimSpace(cfg.AccessToken)),
		),
		locationID: strings.TrimSpace(cfg.LocationID),
		currency:   cfg.Currency,
		logg:       logg,
	}
	logg.Info(logg.WithField(ctx, "square_env", env), "square client initialized")
	return c, nil
}

// CreatePayment charges a card source.
func (c *Client) CreatePayment(ctx context.Context, params PaymentCreateParams) (*sq.Payment, error) {
	if params.LocationID == "" {
		params.LocationID = c.locationID
	}
	if params.Currency == "" {
		params.Currency = c.currency
	}
	key := params.IdempotencyKey
	if strings.TrimSpace(key) == "" {
		key = idempotencyKey("payment.create")
	}
	return c.call(ctx, "create_payment", params.logFields(), func(ctx context.Context) (*sq.Payment, error) {
		resp, err := c.sdk.Payments.Create(ctx, params.request(key))
		return resp.GetPayment(), err
	})
}

func (c *Client) GetPayment(ctx context.Context, paymentID string) (*sq.Payment, error) {
	return c.call(ctx, "get_payment", map[string]any{"payment_id": paymentID}, func(ctx context.Context) (*sq.Payment, error) {
		resp, err := c.sdk.Payments.Get(ctx, &sq.GetPaymentsRequest{PaymentID: paymentID})
		return resp.GetPayment(), err
	})
}

// CancelPayment voids an APPROVED payment that has not completed yet.
func (c *Client) CancelPayment(ctx context.Context, paymentID string) (*sq.Payment, error) {
	return c.call(ctx, "cancel_payment", map[string]any{"payment_id": paymentID}, func(ctx context.Context) (*sq.Payment, error) {
		resp, err := c.sdk.Payments.Cancel(ctx, &sq.CancelPaymentsRequest{PaymentID: paymentID})
		return resp.GetPayment(), err
	})
}

func (c *Client) call(ctx context.Context, op string, fields map[string]any, fn func(context.Context) (*sq.Payment, error)) (*sq.Payment, error) {
	ctx = c.logg.WithFields(ctx, redact(op, fields))
	c.logg.Debug(ctx, "square request")

	payment, err := fn(ctx)
	if err != nil {
		mapped := mapSquareError(err, op)
		c.logg.Error(ctx, "square "+op+" failed", mapped)
		return nil, mapped
	}
	c.logg.Info(c.logg.WithFields(ctx, map[string]any{
		"payment_id": deref(payment.GetID()),
		"status":     deref(payment.GetStatus()),
	}), "square "+op)
	return payment, nil
}

func idempotencyKey(prefix string) string {
	if prefix = strings.TrimSpace(prefix); prefix == "" {
		prefix = "evr"
	}
	return prefix + "-" + uuid.NewString()
}

func redact(op string, fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields)+1)
	out["operation"] = op
	for k, v := range fields {
		out[k] = v
		lower := strings.ToLower(k)
		for _, s := range sensitiveKeys {
			if strings.Contains(lower, s) {
				out[k] = "[REDACTED]"
				break
			}
		}
	}
	return out
}

func mapSquareError(err error, op string) error {
	msg := "square " + strings.ReplaceAll(op, "_", " ") + " failed"
	var apiErr *sqcore.APIError
	if !errors.As(err, &apiErr) {
		return pkgerrors.Wrap(pkgerrors.CodeGatewayUnavailable, err, msg)
	}
	code := domainCodeForStatus(apiErr.StatusCode)
	for _, e := range squareErrors(apiErr) {
		switch {
		case e.Code == sq.ErrorCodeIdempotencyKeyReused:
			return pkgerrors.Wrap(pkgerrors.CodeIdempotency, err, msg)
		case e.Category == sq.ErrorCategoryAuthenticationError:
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, msg)
		}
	}
	return pkgerrors.Wrap(code, err, msg)
}

// squareErrors decodes the {"errors":[...]} body the SDK keeps behind the
// APIError.
func squareErrors(apiErr *sqcore.APIError) []*sq.Error {
	inner := apiErr.Unwrap()
	if inner == nil {
		return nil
	}
	var body struct {
		Errors []*sq.Error `json:"errors"`
	}
	if json.Unmarshal([]byte(inner.Error()), &body) != nil {
		return nil
	}
	out := body.Errors[:0]
	for _, e := range body.Errors {
		if e != nil {
			out = append(out, e)
		}
	}
	return out
}

// domainCodeForStatus maps Square HTTP statuses. Card declines arrive as 402
// and count as validation failures.
func domainCodeForStatus(status int) pkgerrors.Code {
	switch {
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return pkgerrors.CodeDependency
	case status == http.StatusNotFound:
		return pkgerrors.CodeNotFound
	case status == http.StatusConflict:
		return pkgerrors.CodeConflict
	case status == http.StatusTooManyRequests, status == http.StatusRequestTimeout:
		return pkgerrors.CodeGatewayUnavailable
	case status >= 400 && status < 500:
		return pkgerrors.CodeValidation
	default:
		return pkgerrors.CodeGatewayUnavailable
	}
}
