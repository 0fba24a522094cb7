package webhooks

import (
	"net/http"

	"github.com/angelmondragon/evrent-backend/api/responses"
	"github.com/angelmondragon/evrent-backend/internal/payments/payos"
	"github.com/angelmondragon/evrent-backend/pkg/logger"
)

// PayOSWebhook handles the signed payment notification PayOS posts after a
// checkout link is paid or canceled.
func PayOSWebhook(svc Reconciler, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := readBody(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		cb, err := payos.ParseWebhook(body)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		settle(w, r, svc, logg, cb)
	}
}
