// Package realtime streams hub messages to browsers over server-sent events.
package realtime

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/evrent-backend/api/middleware"
	"github.com/angelmondragon/evrent-backend/api/responses"
	internalrealtime "github.com/angelmondragon/evrent-backend/internal/realtime"
	pkgerrors "github.com/angelmondragon/evrent-backend/pkg/errors"
	"github.com/angelmondragon/evrent-backend/pkg/logger"
)

const defaultHeartbeat = 25 * time.Second

type subscriber interface {
	Subscribe(groups []internalrealtime.Group) *internalrealtime.Subscription
	Unsubscribe(sub *internalrealtime.Subscription)
}

// Stream holds the connection open and writes every message addressed to the
// caller's groups. heartbeat <= 0 uses the default.
func Stream(hub subscriber, heartbeat time.Duration, logg *logger.Logger) http.HandlerFunc {
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeat
	}
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		accountID := middleware.AccountIDFromContext(ctx)
		if accountID == uuid.Nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "account context missing"))
			return
		}
		flusher, ok := w.(http.Flusher)
		if !ok {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "streaming unsupported"))
			return
		}

		sub := hub.Subscribe(internalrealtime.GroupsFor(accountID, middleware.RoleFromContext(ctx)))
		defer hub.Unsubscribe(sub)

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, ": connected\n\n")
		flusher.Flush()
		logg.Debug(ctx, "realtime stream opened")

		ticker := time.NewTicker(heartbeat)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				logg.Debug(ctx, "realtime stream closed")
				return
			case <-ticker.C:
				if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
					return
				}
				flusher.Flush()
			case msg, ok := <-sub.C:
				if !ok {
					return
				}
				data, err := json.Marshal(msg)
				if err != nil {
					logg.Error(ctx, "encode realtime message", err)
					continue
				}
				if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", msg.Event, data); err != nil {
					return
				}
				flusher.Flush()
			}
		}
	}
}
