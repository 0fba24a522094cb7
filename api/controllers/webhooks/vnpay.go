package webhooks

import (
	"encoding/json"
	"net/http"

	"github.com/angelmondragon/evrent-backend/internal/payments/vnpay"
	"github.com/angelmondragon/evrent-backend/internal/reconciler"
	pkgerrors "github.com/angelmondragon/evrent-backend/pkg/errors"
	"github.com/angelmondragon/evrent-backend/pkg/logger"
)

// ipnResponse is the body VNPay expects from an IPN endpoint.
type ipnResponse struct {
	RspCode string `json:"RspCode"`
	Message string `json:"Message"`
}

var ipnByOutcome = map[reconciler.Outcome]ipnResponse{
	reconciler.OutcomeApplied:        {RspCode: "00", Message: "Confirm Success"},
	reconciler.OutcomeCredited:       {RspCode: "00", Message: "Confirm Success"},
	reconciler.OutcomeFailed:         {RspCode: "00", Message: "Confirm Success"},
	reconciler.OutcomeIgnored:        {RspCode: "00", Message: "Confirm Success"},
	reconciler.OutcomeDuplicate:      {RspCode: "02", Message: "Order already confirmed"},
	reconciler.OutcomeUnknownPayment: {RspCode: "01", Message: "Order not found"},
	reconciler.OutcomeAmountMismatch: {RspCode: "04", Message: "Invalid amount"},
	reconciler.OutcomeRejected:       {RspCode: "97", Message: "Invalid signature"},
}

// VNPayIPN handles the server-to-server notification VNPay sends as a GET with
// the signed vnp_* query. VNPay reads the JSON body, not the status code.
func VNPayIPN(svc Reconciler, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		cb, err := vnpay.ParseReturn(r.URL.Query())
		if err != nil {
			logg.Warn(ctx, "vnpay ipn malformed")
			writeIPN(w, ipnResponse{RspCode: "99", Message: "Invalid request"})
			return
		}

		outcome, err := svc.Reconcile(ctx, cb)
		if err != nil && outcome != reconciler.OutcomeRejected {
			if pkgerrors.IsRetryable(err) {
				logg.Warn(ctx, "vnpay ipn will be retried")
			}
			writeIPN(w, ipnResponse{RspCode: "99", Message: "Unknown error"})
			return
		}
		resp, ok := ipnByOutcome[outcome]
		if !ok {
			resp = ipnResponse{RspCode: "99", Message: "Unknown error"}
		}
		writeIPN(w, resp)
	}
}

func writeIPN(w http.ResponseWriter, resp ipnResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(resp)
}
