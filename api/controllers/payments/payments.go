// Package payments serves payment lookups and provider browser returns.
package payments

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/evrent-backend/api/middleware"
	"github.com/angelmondragon/evrent-backend/api/responses"
	"github.com/angelmondragon/evrent-backend/api/validators"
	internalorders "github.com/angelmondragon/evrent-backend/internal/orders"
	"github.com/angelmondragon/evrent-backend/internal/payments/gateway"
	"github.com/angelmondragon/evrent-backend/internal/payments/vnpay"
	"github.com/angelmondragon/evrent-backend/internal/reconciler"
	"github.com/angelmondragon/evrent-backend/pkg/db/models"
	"github.com/angelmondragon/evrent-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/evrent-backend/pkg/errors"
	"github.com/angelmondragon/evrent-backend/pkg/logger"
)

type paymentReader interface {
	GetPayment(ctx context.Context, paymentID uuid.UUID, requester internalorders.Requester) (*models.Payment, error)
}

// Reconciler settles browser returns.
type Reconciler interface {
	Reconcile(ctx context.Context, cb gateway.Callback) (reconciler.Outcome, error)
	ReconcileFromProvider(ctx context.Context, method enums.PaymentMethod, orderCode int64) (reconciler.Outcome, error)
}

type returnResult struct {
	Method    enums.PaymentMethod `json:"method"`
	OrderCode int64               `json:"orderCode"`
	Outcome   reconciler.Outcome  `json:"outcome"`
}

// Get returns one payment visible to the caller.
func Get(svc paymentReader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		accountID := middleware.AccountIDFromContext(r.Context())
		if accountID == uuid.Nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "account context missing"))
			return
		}
		paymentID, err := validators.ParseUUIDParam(r, "paymentId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		payment, err := svc.GetPayment(r.Context(), paymentID, internalorders.Requester{
			AccountID: accountID,
			Role:      middleware.RoleFromContext(r.Context()),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, payment)
	}
}

// VNPayReturn settles the signed query VNPay appends to the browser return URL.
func VNPayReturn(svc Reconciler, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cb, err := vnpay.ParseReturn(r.URL.Query())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		outcome, err := svc.Reconcile(r.Context(), cb)
		writeReturn(w, r, logg, returnResult{Method: cb.Method, OrderCode: cb.OrderCode, Outcome: outcome}, err)
	}
}

// PayOSReturn settles a PayOS browser return. The query is unsigned, so the
// payment state is fetched from PayOS instead of trusted.
func PayOSReturn(svc Reconciler, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw := strings.TrimSpace(r.URL.Query().Get("orderCode"))
		code, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || code <= 0 {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "missing or invalid orderCode"))
			return
		}
		outcome, err := svc.ReconcileFromProvider(r.Context(), enums.PaymentMethodPayOS, code)
		writeReturn(w, r, logg, returnResult{Method: enums.PaymentMethodPayOS, OrderCode: code, Outcome: outcome}, err)
	}
}

func writeReturn(w http.ResponseWriter, r *http.Request, logg *logger.Logger, result returnResult, err error) {
	if result.Outcome == reconciler.OutcomeRejected {
		responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeSignatureInvalid, "return rejected"))
		return
	}
	if err != nil {
		responses.WriteError(r.Context(), logg, w, err)
		return
	}
	responses.WriteSuccess(w, result)
}
