// Package payos implements the PayOS payment-link gateway.
package payos

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/evrent-backend/internal/payments/gateway"
	"github.com/angelmondragon/evrent-backend/pkg/config"
	"github.com/angelmondragon/evrent-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/evrent-backend/pkg/errors"
	"github.com/angelmondragon/evrent-backend/pkg/logger"
)

const (
	codeSuccess          = "00"
	maxDescriptionLength = 25
	maxResponseBytes     = 1 << 20
	transactionLayout    = "2006-01-02 15:04:05"
)

var payosZone = time.FixedZone("ICT", 7*60*60)

// Client calls the PayOS merchant API.
type Client struct {
	cfg     config.PayOSConfig
	http    *http.Client
	logg    *logger.Logger
	baseURL string
}

// NewClient validates credentials. httpClient may be nil.
func NewClient(cfg config.PayOSConfig, httpClient *http.Client, logg *logger.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.ClientID) == "" || strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("payos client id and api key are required")
	}
	if strings.TrimSpace(cfg.ChecksumKey) == "" {
		return nil, errors.New("payos checksum key is required")
	}
	if logg == nil {
		return nil, errors.New("logger is required")
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = "https://api-merchant.payos.vn"
	}
	return &Client{cfg: cfg, http: httpClient, logg: logg, baseURL: base}, nil
}

func (c *Client) Method() enums.PaymentMethod { return enums.PaymentMethodPayOS }

type envelope struct {
	Code      string          `json:"code"`
	Desc      string          `json:"desc"`
	Data      json.RawMessage `json:"data"`
	Signature string          `json:"signature,omitempty"`
}

type createRequest struct {
	OrderCode   int64  `json:"orderCode"`
	Amount      int64  `json:"amount"`
	Description string `json:"description"`
	CancelURL   string `json:"cancelUrl"`
	ReturnURL   string `json:"returnUrl"`
	Signature   string `json:"signature"`
}

type createData struct {
	CheckoutURL   string `json:"checkoutUrl"`
	PaymentLinkID string `json:"paymentLinkId"`
	Status        string `json:"status"`
}

type infoData struct {
	ID           string        `json:"id"`
	OrderCode    int64         `json:"orderCode"`
	Amount       int64         `json:"amount"`
	AmountPaid   int64         `json:"amountPaid"`
	Status       string        `json:"status"`
	Transactions []transaction `json:"transactions"`
}

type transaction struct {
	Reference string `json:"reference"`
	Amount    int64  `json:"amount"`
}

// CreatePaymentLink opens a hosted checkout page.
func (c *Client) CreatePaymentLink(ctx context.Context, req gateway.LinkRequest) (*gateway.Link, error) {
	if req.OrderCode <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order code is required")
	}
	if !req.Amount.IsPositive() || !req.Amount.Equal(req.Amount.Truncate(0)) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payos amount must be a positive whole number")
	}
	if req.ReturnURL == "" || req.CancelURL == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "return and cancel urls are required")
	}

	body := createRequest{
		OrderCode:   req.OrderCode,
		Amount:      req.Amount.IntPart(),
		Description: truncate(req.Description, maxDescriptionLength),
		CancelURL:   req.CancelURL,
		ReturnURL:   req.ReturnURL,
	}
	body.Signature = sign(c.cfg.ChecksumKey, sortedData(map[string]string{
		"amount":      strconv.FormatInt(body.Amount, 10),
		"cancelUrl":   body.CancelURL,
		"description": body.Description,
		"orderCode":   strconv.FormatInt(body.OrderCode, 10),
		"returnUrl":   body.ReturnURL,
	}))

	var data createData
	if err := c.do(ctx, http.MethodPost, "/v2/payment-requests", body, &data); err != nil {
		return nil, err
	}
	return &gateway.Link{CheckoutURL: data.CheckoutURL, GatewayRef: data.PaymentLinkID}, nil
}

// GetPaymentInfo reads the link state.
func (c *Client) GetPaymentInfo(ctx context.Context, orderCode int64) (*gateway.Info, error) {
	var data infoData
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/v2/payment-requests/%d", orderCode), nil, &data); err != nil {
		return nil, err
	}

	info := &gateway.Info{
		OrderCode: orderCode,
		Amount:    decimal.NewFromInt(data.AmountPaid),
		Status:    mapStatus(data.Status),
	}
	if info.Status != gateway.InfoPaid {
		info.Amount = decimal.NewFromInt(data.Amount)
	}
	if n := len(data.Transactions); n > 0 {
		info.Reference = data.Transactions[n-1].Reference
	}
	return info, nil
}

// CancelPaymentLink invalidates an unpaid link.
func (c *Client) CancelPaymentLink(ctx context.Context, orderCode int64, reason string) error {
	body := map[string]string{"cancellationReason": reason}
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/v2/payment-requests/%d/cancel", orderCode), body, nil)
}

// VerifySignature checks the HMAC over the webhook data fields.
func (c *Client) VerifySignature(cb gateway.Callback) bool {
	return signatureMatches(c.cfg.ChecksumKey, cb.Raw, cb.Signature)
}

func (c *Client) do(ctx context.Context, method, path string, in any, out any) error {
	var reader io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("x-client-id", c.cfg.ClientID)
	req.Header.Set("x-api-key", c.cfg.APIKey)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("payos %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("payos read response: %w", err)
	}
	if resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("payos %s %s: status %d", method, path, resp.StatusCode)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("payos decode response: %w", err)
	}
	if env.Code != codeSuccess {
		c.logg.Warn(c.logg.WithFields(ctx, map[string]any{
			"path":       path,
			"payos_code": env.Code,
			"payos_desc": env.Desc,
		}), "payos rejected request")
		return pkgerrors.New(pkgerrors.CodeValidation, "payment provider rejected the request").
			WithDetails(map[string]any{"provider_code": env.Code})
	}
	if out == nil || len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("payos decode data: %w", err)
	}
	return nil
}

func mapStatus(status string) gateway.InfoStatus {
	switch strings.ToUpper(status) {
	case "PAID":
		return gateway.InfoPaid
	case "CANCELLED", "CANCELED", "EXPIRED":
		return gateway.InfoCanceled
	case "FAILED":
		return gateway.InfoFailed
	default:
		return gateway.InfoPending
	}
}

func truncate(value string, limit int) string {
	runes := []rune(strings.TrimSpace(value))
	if len(runes) <= limit {
		return string(runes)
	}
	return string(runes[:limit])
}
