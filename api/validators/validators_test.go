package validators

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	pkgerrors "github.com/angelmondragon/evrent-backend/pkg/errors"
	"github.com/angelmondragon/evrent-backend/pkg/pagination"
)

func TestSanitizeString(t *testing.T) {
	cases := []struct {
		in   string
		max  int
		want string
	}{
		{in: "  trip ended early \n", max: 0, want: "trip ended early"},
		{in: "bad\x00byte\x1b[31m", max: 0, want: "badbyte[31m"},
		{in: "line one\nline two", max: 0, want: "line one\nline two"},
		{in: "xe hỏng", max: 5, want: "xe h"},
		{in: "xe hỏng", max: 6, want: "xe h"},
		{in: "xe hỏng", max: 7, want: "xe hỏ"},
		{in: "ab\xffcd", max: 0, want: "ab�cd"},
	}
	for _, tc := range cases {
		if got := SanitizeString(tc.in, tc.max); got != tc.want {
			t.Fatalf("SanitizeString(%q, %d) = %q, want %q", tc.in, tc.max, got, tc.want)
		}
	}
}

func TestParsePagination(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/orders", nil)
	p, err := ParsePagination(req)
	if err != nil || p.Limit != pagination.DefaultLimit || p.Cursor != "" {
		t.Fatalf("unexpected defaults %+v err=%v", p, err)
	}

	req = httptest.NewRequest(http.MethodGet, "/orders?limit=5&cursor=abc", nil)
	if p, err = ParsePagination(req); err != nil || p.Limit != 5 || p.Cursor != "abc" {
		t.Fatalf("unexpected params %+v err=%v", p, err)
	}

	for _, q := range []string{"limit=0", "limit=101", "limit=ten", "limit=1&limit=2"} {
		req = httptest.NewRequest(http.MethodGet, "/orders?"+q, nil)
		if _, err := ParsePagination(req); !pkgerrors.Is(err, pkgerrors.CodeValidation) {
			t.Fatalf("%s: expected validation error, got %v", q, err)
		}
	}
}

type topUp struct {
	Amount decimal.Decimal `json:"amount" validate:"money_positive"`
	Method string          `json:"method" validate:"required,payment_method"`
}

func TestDecodeJSONBody(t *testing.T) {
	decode := func(body string) (topUp, error) {
		var dst topUp
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
		return dst, DecodeJSONBody(req, &dst)
	}

	got, err := decode(`{"amount":"150000.50","method":"payos"}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got.Amount.Equal(decimal.RequireFromString("150000.5")) {
		t.Fatalf("unexpected amount %s", got.Amount)
	}

	rejected := map[string]string{
		"empty":         ``,
		"unknown field": `{"amount":"1","method":"CASH","tip":"1"}`,
		"trailing":      `{"amount":"1","method":"CASH"}{}`,
		"zero amount":   `{"amount":"0","method":"CASH"}`,
		"bad method":    `{"amount":"1","method":"BITCOIN"}`,
		"wrong type":    `{"amount":"1","method":7}`,
		"too large":     `{"amount":"1","method":"` + strings.Repeat("x", MaxBodyBytes) + `"}`,
	}
	for name, body := range rejected {
		if _, err := decode(body); !pkgerrors.Is(err, pkgerrors.CodeValidation) {
			t.Fatalf("%s: expected validation error, got %v", name, err)
		}
	}
}

func TestValidationDetailsUseJSONNames(t *testing.T) {
	var dst topUp
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"amount":"-1","method":"CARD"}`))
	err := pkgerrors.As(DecodeJSONBody(req, &dst))
	if err == nil {
		t.Fatalf("expected error")
	}
	details, ok := err.Details().(map[string]string)
	if !ok || details["amount"] != "must be a positive amount" {
		t.Fatalf("unexpected details %#v", err.Details())
	}
}
