package middleware

import (
	"net/http"
	"slices"
	"time"

	"github.com/go-chi/cors"
)

var defaultCORSOrigins = []string{"http://localhost:3000"}

const corsPreflightCache = 5 * time.Minute

// CORS applies the browser origin policy. An empty list falls back to local
// dev. A "*" entry opens the API to any origin but drops credentials, which
// browsers refuse to combine with a wildcard.
func CORS(origins []string) func(http.Handler) http.Handler {
	if len(origins) == 0 {
		origins = defaultCORSOrigins
	}
	return cors.New(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", idempotencyHeader, requestIDHeader},
		ExposedHeaders:   []string{requestIDHeader, replayedHeader, "Retry-After"},
		AllowCredentials: !slices.Contains(origins, "*"),
		MaxAge:           int(corsPreflightCache.Seconds()),
	}).Handler
}
