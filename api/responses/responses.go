package responses

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	pkgerrors "github.com/angelmondragon/evrent-backend/pkg/errors"
	"github.com/angelmondragon/evrent-backend/pkg/logger"
	"github.com/angelmondragon/evrent-backend/pkg/types"
)

const (
	successMessage = "success"
	retryAfterSecs = "5"
)

// Codes whose caller-supplied message is written to the client. Everything
// else answers with the code's public message.
var clientMessage = map[pkgerrors.Code]bool{
	pkgerrors.CodeValidation:         true,
	pkgerrors.CodeForbidden:          true,
	pkgerrors.CodeUnauthorized:       true,
	pkgerrors.CodeNotFound:           true,
	pkgerrors.CodeConflict:           true,
	pkgerrors.CodeInsufficientFunds:  true,
	pkgerrors.CodeInvalidOrderState:  true,
	pkgerrors.CodeVehicleUnavailable: true,
	pkgerrors.CodeIdempotency:        true,
}

func WriteSuccess(w http.ResponseWriter, data any) {
	WriteSuccessStatus(w, http.StatusOK, data)
}

func WriteSuccessStatus(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, types.Envelope{StatusCode: status, Message: successMessage, Data: data})
}

// WriteAck answers a provider callback. Providers only look at the status code.
func WriteAck(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusOK, types.Envelope{StatusCode: http.StatusOK, Message: message})
}

// WriteError renders err as the error envelope. Untyped errors become
// INTERNAL_ERROR and never reach the client verbatim.
func WriteError(ctx context.Context, logg *logger.Logger, w http.ResponseWriter, err error) {
	if err == nil {
		err = errors.New("unknown error")
	}
	typed := pkgerrors.As(err)
	if typed == nil {
		typed = pkgerrors.Wrap(pkgerrors.CodeInternal, err, "unexpected error")
	}
	code := typed.Code()
	meta := pkgerrors.MetadataFor(code)

	body := types.APIError{Code: string(code)}
	if meta.DetailsAllowed {
		body.Details = typed.Details()
	}
	msg := meta.PublicMessage
	if clientMessage[code] && typed.Message() != "" {
		msg = typed.Message()
	}

	if logg != nil {
		fields := pkgerrors.Diagnose(err).Fields()
		fields["http_status"] = meta.HTTPStatus
		ctx = logg.WithFields(ctx, fields)
		if meta.HTTPStatus >= http.StatusInternalServerError {
			logg.Error(ctx, "request.error", err)
		} else {
			logg.Warn(ctx, "request.rejected")
		}
	}

	h := w.Header()
	h.Set("Cache-Control", "no-store")
	if meta.Retryable && meta.HTTPStatus == http.StatusServiceUnavailable {
		h.Set("Retry-After", retryAfterSecs)
	}
	writeJSON(w, meta.HTTPStatus, types.Envelope{StatusCode: meta.HTTPStatus, Message: msg, Data: body})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Error().Err(err).Int("status", status).Msg("failed to encode response")
	}
}
