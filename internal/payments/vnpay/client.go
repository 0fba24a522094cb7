// Package vnpay implements the VNPay redirect gateway.
package vnpay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/evrent-backend/internal/payments/gateway"
	"github.com/angelmondragon/evrent-backend/pkg/config"
	"github.com/angelmondragon/evrent-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/evrent-backend/pkg/errors"
	"github.com/angelmondragon/evrent-backend/pkg/logger"
)

const (
	apiVersion    = "2.1.0"
	commandPay    = "pay"
	commandQuery  = "querydr"
	currency      = "VND"
	orderType     = "other"
	timeLayout    = "20060102150405"
	linkLifetime  = 15 * time.Minute
	defaultIP     = "127.0.0.1"
	codeSuccess   = "00"
	codeNotFound  = "91"
	statusSuccess = "00"
	statusPending = "01"
	minorUnits    = 100
)

// vnpayZone is GMT+7, the zone every vnp_*Date field is expressed in.
var vnpayZone = time.FixedZone("ICT", 7*60*60)

// Client talks to VNPay. It is safe for concurrent use.
type Client struct {
	cfg  config.VNPayConfig
	http *http.Client
	logg *logger.Logger
	now  func() time.Time
}

// NewClient validates the merchant credentials.
func NewClient(cfg config.VNPayConfig, httpClient *http.Client, logg *logger.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.TmnCode) == "" {
		return nil, errors.New("vnpay tmn code is required")
	}
	if strings.TrimSpace(cfg.HashSecret) == "" {
		return nil, errors.New("vnpay hash secret is required")
	}
	if strings.TrimSpace(cfg.PayURL) == "" {
		return nil, errors.New("vnpay pay url is required")
	}
	if logg == nil {
		return nil, errors.New("logger is required")
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{cfg: cfg, http: httpClient, logg: logg, now: time.Now}, nil
}

func (c *Client) Method() enums.PaymentMethod { return enums.PaymentMethodVNPay }

// CreatePaymentLink builds the signed redirect URL. No network call is made.
func (c *Client) CreatePaymentLink(_ context.Context, req gateway.LinkRequest) (*gateway.Link, error) {
	if req.OrderCode <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order code is required")
	}
	if !req.Amount.IsPositive() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "amount must be positive")
	}
	returnURL := firstNonEmpty(req.ReturnURL, c.cfg.ReturnURL)
	if returnURL == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "return url is required")
	}

	now := c.now().In(vnpayZone)
	fields := map[string]string{
		"vnp_Version":    apiVersion,
		"vnp_Command":    commandPay,
		"vnp_TmnCode":    c.cfg.TmnCode,
		"vnp_Amount":     toMinor(req.Amount),
		"vnp_CurrCode":   currency,
		"vnp_TxnRef":     strconv.FormatInt(req.OrderCode, 10),
		"vnp_OrderInfo":  firstNonEmpty(req.Description, fmt.Sprintf("Payment %d", req.OrderCode)),
		"vnp_OrderType":  orderType,
		"vnp_Locale":     firstNonEmpty(c.cfg.Locale, "vn"),
		"vnp_ReturnUrl":  returnURL,
		"vnp_IpAddr":     firstNonEmpty(req.ClientIP, defaultIP),
		"vnp_CreateDate": now.Format(timeLayout),
		"vnp_ExpireDate": now.Add(linkLifetime).Format(timeLayout),
	}
	query := canonicalQuery(fields)
	checkout := c.cfg.PayURL + "?" + query + "&" + fieldSecureHash + "=" + sign(c.cfg.HashSecret, query)

	return &gateway.Link{CheckoutURL: checkout}, nil
}

type queryRequest struct {
	RequestID       string `json:"vnp_RequestId"`
	Version         string `json:"vnp_Version"`
	Command         string `json:"vnp_Command"`
	TmnCode         string `json:"vnp_TmnCode"`
	TxnRef          string `json:"vnp_TxnRef"`
	OrderInfo       string `json:"vnp_OrderInfo"`
	TransactionDate string `json:"vnp_TransactionDate"`
	CreateDate      string `json:"vnp_CreateDate"`
	IPAddr          string `json:"vnp_IpAddr"`
	SecureHash      string `json:"vnp_SecureHash"`
}

type queryResponse struct {
	ResponseID        string `json:"vnp_ResponseId"`
	Command           string `json:"vnp_Command"`
	ResponseCode      string `json:"vnp_ResponseCode"`
	Message           string `json:"vnp_Message"`
	TmnCode           string `json:"vnp_TmnCode"`
	TxnRef            string `json:"vnp_TxnRef"`
	Amount            string `json:"vnp_Amount"`
	BankCode          string `json:"vnp_BankCode"`
	PayDate           string `json:"vnp_PayDate"`
	TransactionNo     string `json:"vnp_TransactionNo"`
	TransactionType   string `json:"vnp_TransactionType"`
	TransactionStatus string `json:"vnp_TransactionStatus"`
	OrderInfo         string `json:"vnp_OrderInfo"`
	PromotionCode     string `json:"vnp_PromotionCode"`
	PromotionAmount   string `json:"vnp_PromotionAmount"`
	SecureHash        string `json:"vnp_SecureHash"`
}

func (r queryResponse) signData() string {
	return strings.Join([]string{
		r.ResponseID, r.Command, r.ResponseCode, r.Message, r.TmnCode, r.TxnRef, r.Amount, r.BankCode,
		r.PayDate, r.TransactionNo, r.TransactionType, r.TransactionStatus, r.OrderInfo,
		r.PromotionCode, r.PromotionAmount,
	}, "|")
}

// GetPaymentInfo calls the merchant querydr API.
func (c *Client) GetPaymentInfo(ctx context.Context, orderCode int64) (*gateway.Info, error) {
	if c.cfg.APIURL == "" {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "vnpay api url is not configured")
	}
	now := c.now().In(vnpayZone)
	req := queryRequest{
		RequestID:       strings.ReplaceAll(uuid.NewString(), "-", ""),
		Version:         apiVersion,
		Command:         commandQuery,
		TmnCode:         c.cfg.TmnCode,
		TxnRef:          strconv.FormatInt(orderCode, 10),
		OrderInfo:       fmt.Sprintf("Query %d", orderCode),
		TransactionDate: gateway.OrderCodeTime(orderCode).In(vnpayZone).Format(timeLayout),
		CreateDate:      now.Format(timeLayout),
		IPAddr:          defaultIP,
	}
	req.SecureHash = sign(c.cfg.HashSecret, strings.Join([]string{
		req.RequestID, req.Version, req.Command, req.TmnCode, req.TxnRef,
		req.TransactionDate, req.CreateDate, req.IPAddr, req.OrderInfo,
	}, "|"))

	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.APIURL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("vnpay querydr: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("vnpay querydr read: %w", err)
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, fmt.Errorf("vnpay querydr status %d", resp.StatusCode)
	}

	var out queryResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("vnpay querydr decode: %w", err)
	}
	if out.ResponseCode == codeNotFound {
		return &gateway.Info{OrderCode: orderCode, Status: gateway.InfoPending}, nil
	}
	if !signatureMatches(c.cfg.HashSecret, out.signData(), out.SecureHash) {
		return nil, pkgerrors.New(pkgerrors.CodeSignatureInvalid, "vnpay querydr response signature mismatch")
	}
	if out.ResponseCode != codeSuccess {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "vnpay querydr rejected: "+out.ResponseCode)
	}

	amount, err := fromMinor(out.Amount)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "vnpay querydr amount")
	}
	info := &gateway.Info{OrderCode: orderCode, Amount: amount, Reference: out.TransactionNo}
	switch out.TransactionStatus {
	case statusSuccess:
		info.Status = gateway.InfoPaid
	case statusPending:
		info.Status = gateway.InfoPending
	default:
		info.Status = gateway.InfoFailed
	}
	return info, nil
}

// CancelPaymentLink is a no-op: VNPay links expire on vnp_ExpireDate and cannot be revoked.
func (c *Client) CancelPaymentLink(ctx context.Context, orderCode int64, reason string) error {
	c.logg.Debug(c.logg.WithFields(ctx, map[string]any{
		"order_code": orderCode,
		"reason":     reason,
	}), "vnpay link left to expire")
	return nil
}

// VerifySignature re-signs the received vnp_* fields.
func (c *Client) VerifySignature(cb gateway.Callback) bool {
	if len(cb.Raw) == 0 {
		return false
	}
	return signatureMatches(c.cfg.HashSecret, canonicalQuery(cb.Raw), cb.Signature)
}

// ParseReturn turns the browser return query into a callback. The signature is
// not checked here.
func ParseReturn(values url.Values) (gateway.Callback, error) {
	raw := make(map[string]string, len(values))
	for k := range values {
		if strings.HasPrefix(k, "vnp_") {
			raw[k] = values.Get(k)
		}
	}

	code, err := strconv.ParseInt(raw["vnp_TxnRef"], 10, 64)
	if err != nil || code <= 0 {
		return gateway.Callback{}, pkgerrors.New(pkgerrors.CodeValidation, "missing or invalid vnp_TxnRef")
	}
	amount, err := fromMinor(raw["vnp_Amount"])
	if err != nil {
		return gateway.Callback{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid vnp_Amount")
	}

	cb := gateway.Callback{
		Method:     enums.PaymentMethodVNPay,
		OrderCode:  code,
		Amount:     amount,
		Success:    raw["vnp_ResponseCode"] == codeSuccess && raw["vnp_TransactionStatus"] == statusSuccess,
		ResultCode: raw["vnp_ResponseCode"],
		Reference:  raw["vnp_TransactionNo"],
		Raw:        raw,
		Signature:  values.Get(fieldSecureHash),
	}
	if paid, err := time.ParseInLocation(timeLayout, raw["vnp_PayDate"], vnpayZone); err == nil {
		cb.TransactionTime = paid.UTC()
	}
	return cb, nil
}

func toMinor(amount decimal.Decimal) string {
	return amount.Mul(decimal.NewFromInt(minorUnits)).Round(0).String()
}

func fromMinor(value string) (decimal.Decimal, error) {
	minor, err := decimal.NewFromString(strings.TrimSpace(value))
	if err != nil {
		return decimal.Zero, err
	}
	return minor.Div(decimal.NewFromInt(minorUnits)), nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
