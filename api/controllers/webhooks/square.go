package webhooks

import (
	"net/http"

	"github.com/angelmondragon/evrent-backend/api/responses"
	"github.com/angelmondragon/evrent-backend/internal/payments/squarecard"
	"github.com/angelmondragon/evrent-backend/pkg/logger"
	"github.com/angelmondragon/evrent-backend/pkg/square"
)

// SquareWebhook handles Square payment.updated notifications for card payments.
func SquareWebhook(svc Reconciler, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := readBody(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		cb, err := squarecard.ParseWebhook(body, r.Header.Get(square.SignatureHeader))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		settle(w, r, svc, logg, cb)
	}
}
