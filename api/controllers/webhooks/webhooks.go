// Package webhooks receives server-to-server payment notifications.
package webhooks

import (
	"context"
	"io"
	"net/http"

	"github.com/angelmondragon/evrent-backend/api/responses"
	"github.com/angelmondragon/evrent-backend/internal/payments/gateway"
	"github.com/angelmondragon/evrent-backend/internal/reconciler"
	pkgerrors "github.com/angelmondragon/evrent-backend/pkg/errors"
	"github.com/angelmondragon/evrent-backend/pkg/logger"
)

const maxWebhookBody = 1 << 20

// Reconciler settles a parsed provider callback.
type Reconciler interface {
	Reconcile(ctx context.Context, cb gateway.Callback) (reconciler.Outcome, error)
}

func readBody(r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request body")
	}
	return body, nil
}

// settle runs the callback and maps the outcome to a provider-facing response.
// Anything acknowledged is answered 200 so the provider stops retrying.
func settle(w http.ResponseWriter, r *http.Request, svc Reconciler, logg *logger.Logger, cb gateway.Callback) {
	ctx := r.Context()
	outcome, err := svc.Reconcile(ctx, cb)
	if outcome == reconciler.OutcomeRejected {
		responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeSignatureInvalid, "webhook rejected"))
		return
	}
	if err != nil {
		responses.WriteError(ctx, logg, w, err)
		return
	}
	responses.WriteAck(w, string(outcome))
}
