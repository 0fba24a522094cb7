package payos

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/evrent-backend/internal/payments/gateway"
	"github.com/angelmondragon/evrent-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/evrent-backend/pkg/errors"
)

// WebhookBody is the envelope PayOS posts to the webhook endpoint.
type WebhookBody struct {
	Code      string          `json:"code"`
	Desc      string          `json:"desc"`
	Success   bool            `json:"success"`
	Data      json.RawMessage `json:"data"`
	Signature string          `json:"signature"`
}

// ParseWebhook decodes the body and flattens data into the signed field map.
func ParseWebhook(body []byte) (gateway.Callback, error) {
	var env WebhookBody
	if err := json.Unmarshal(body, &env); err != nil {
		return gateway.Callback{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid webhook body")
	}

	dec := json.NewDecoder(bytes.NewReader(env.Data))
	dec.UseNumber()
	var data map[string]any
	if err := dec.Decode(&data); err != nil || data == nil {
		return gateway.Callback{}, pkgerrors.New(pkgerrors.CodeValidation, "webhook data missing")
	}

	raw := make(map[string]string, len(data))
	for k, v := range data {
		raw[k] = stringify(v)
	}

	code, err := strconv.ParseInt(raw["orderCode"], 10, 64)
	if err != nil || code <= 0 {
		return gateway.Callback{}, pkgerrors.New(pkgerrors.CodeValidation, "webhook orderCode missing")
	}
	amount, err := decimal.NewFromString(raw["amount"])
	if err != nil {
		return gateway.Callback{}, pkgerrors.New(pkgerrors.CodeValidation, "webhook amount missing")
	}

	resultCode := raw["code"]
	if resultCode == "" {
		resultCode = env.Code
	}
	cb := gateway.Callback{
		Method:     enums.PaymentMethodPayOS,
		OrderCode:  code,
		Amount:     amount,
		Success:    env.Code == codeSuccess && resultCode == codeSuccess,
		ResultCode: resultCode,
		Reference:  raw["reference"],
		Raw:        raw,
		Body:       body,
		Signature:  env.Signature,
	}
	if at, err := time.ParseInLocation(transactionLayout, raw["transactionDateTime"], payosZone); err == nil {
		cb.TransactionTime = at.UTC()
	}
	return cb, nil
}

// stringify renders a JSON value the way PayOS signs it: null becomes "".
func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	default:
		raw, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(raw)
	}
}
