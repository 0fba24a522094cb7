package responses

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	pkgerrors "github.com/angelmondragon/evrent-backend/pkg/errors"
)

type envelope struct {
	StatusCode int             `json:"statusCode"`
	Message    string          `json:"message"`
	Data       json.RawMessage `json:"data"`
}

type errorData struct {
	Code    string         `json:"code"`
	Details map[string]any `json:"details"`
}

func decode(t *testing.T, w *httptest.ResponseRecorder) (envelope, errorData) {
	t.Helper()
	var body envelope
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode envelope: %v", err)
	}
	var data errorData
	if len(body.Data) > 0 {
		_ = json.Unmarshal(body.Data, &data)
	}
	return body, data
}

func TestWriteSuccess(t *testing.T) {
	w := httptest.NewRecorder()
	WriteSuccessStatus(w, http.StatusCreated, map[string]string{"hello": "world"})

	if got := w.Code; got != http.StatusCreated {
		t.Fatalf("expected status 201 but got %d", got)
	}
	body, _ := decode(t, w)
	if body.StatusCode != http.StatusCreated || body.Message != "success" {
		t.Fatalf("unexpected envelope %+v", body)
	}
	if string(body.Data) != `{"hello":"world"}` {
		t.Fatalf("unexpected payload %s", body.Data)
	}
}

func TestWriteErrorMapsTypedError(t *testing.T) {
	w := httptest.NewRecorder()
	err := pkgerrors.New(pkgerrors.CodeInsufficientFunds, "balance too low").
		WithDetails(map[string]any{"required": "100000.00"})
	WriteError(context.Background(), nil, w, err)

	if got := w.Code; got != http.StatusPaymentRequired {
		t.Fatalf("expected status 402 but got %d", got)
	}
	body, data := decode(t, w)
	if body.StatusCode != http.StatusPaymentRequired {
		t.Fatalf("envelope status mismatch %d", body.StatusCode)
	}
	if body.Message != "balance too low" {
		t.Fatalf("unexpected message %q", body.Message)
	}
	if data.Code != string(pkgerrors.CodeInsufficientFunds) || data.Details["required"] != "100000.00" {
		t.Fatalf("unexpected error data %+v", data)
	}
}

func TestWriteErrorHidesDetailsWhenNotAllowed(t *testing.T) {
	w := httptest.NewRecorder()
	err := pkgerrors.New(pkgerrors.CodeSignatureInvalid, "hmac mismatch for order 42").
		WithDetails(map[string]any{"order": 42})
	WriteError(context.Background(), nil, w, err)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
	body, data := decode(t, w)
	if body.Message != pkgerrors.MetadataFor(pkgerrors.CodeSignatureInvalid).PublicMessage {
		t.Fatalf("internal message leaked: %q", body.Message)
	}
	if data.Details != nil {
		t.Fatalf("details leaked: %v", data.Details)
	}
}

func TestWriteErrorDefaultsToInternalForUntypedErrors(t *testing.T) {
	w := httptest.NewRecorder()
	WriteError(context.Background(), nil, w, errors.New("boom"))

	if got := w.Code; got != http.StatusInternalServerError {
		t.Fatalf("expected status 500 but got %d", got)
	}
	body, data := decode(t, w)
	if data.Code != string(pkgerrors.CodeInternal) {
		t.Fatalf("unexpected code %s", data.Code)
	}
	if body.Message == "boom" {
		t.Fatalf("raw error leaked")
	}
}

func TestWriteErrorAsksGatewayCallersToRetryLater(t *testing.T) {
	w := httptest.NewRecorder()
	WriteError(context.Background(), nil, w, pkgerrors.New(pkgerrors.CodeGatewayUnavailable, "breaker open"))

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
	if got := w.Header().Get("Retry-After"); got != retryAfterSecs {
		t.Fatalf("expected Retry-After %s, got %q", retryAfterSecs, got)
	}
	if got := w.Header().Get("Cache-Control"); got != "no-store" {
		t.Fatalf("expected no-store, got %q", got)
	}
	body, _ := decode(t, w)
	if body.Message == "breaker open" {
		t.Fatalf("internal message leaked")
	}
}
