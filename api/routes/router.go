package routes

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/evrent-backend/api/controllers"
	ordercontrollers "github.com/angelmondragon/evrent-backend/api/controllers/orders"
	paymentcontrollers "github.com/angelmondragon/evrent-backend/api/controllers/payments"
	realtimecontrollers "github.com/angelmondragon/evrent-backend/api/controllers/realtime"
	walletcontrollers "github.com/angelmondragon/evrent-backend/api/controllers/wallet"
	webhookcontrollers "github.com/angelmondragon/evrent-backend/api/controllers/webhooks"
	"github.com/angelmondragon/evrent-backend/api/middleware"
	"github.com/angelmondragon/evrent-backend/internal/orders"
	"github.com/angelmondragon/evrent-backend/internal/realtime"
	"github.com/angelmondragon/evrent-backend/internal/reconciler"
	"github.com/angelmondragon/evrent-backend/internal/wallet"
	"github.com/angelmondragon/evrent-backend/pkg/config"
	"github.com/angelmondragon/evrent-backend/pkg/enums"
	"github.com/angelmondragon/evrent-backend/pkg/logger"
	pkgredis "github.com/angelmondragon/evrent-backend/pkg/redis"
)

// Deps is everything the HTTP surface needs.
type Deps struct {
	Config      *config.Config
	Logger      *logger.Logger
	DB          controllers.Pinger
	Redis       controllers.Pinger
	Idempotency pkgredis.IdempotencyStore
	Orders      orders.Service
	Wallet      wallet.Service
	Reconciler  *reconciler.Reconciler
	Hub         *realtime.Hub
	Gatherer    prometheus.Gatherer
	Heartbeat   time.Duration
}

func NewRouter(d Deps) http.Handler {
	cfg, logg := d.Config, d.Logger
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.App.CORSAllowedOrigins),
		middleware.ClientIP(),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, map[string]controllers.Pinger{
			"db":    d.DB,
			"redis": d.Redis,
		}))
	})
	if d.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/webhooks", func(r chi.Router) {
		r.Post("/payos", webhookcontrollers.PayOSWebhook(d.Reconciler, logg))
		r.Post("/square", webhookcontrollers.SquareWebhook(d.Reconciler, logg))
		r.Get("/vnpay", webhookcontrollers.VNPayIPN(d.Reconciler, logg))
	})

	r.Route("/payments/return", func(r chi.Router) {
		r.Get("/vnpay", paymentcontrollers.VNPayReturn(d.Reconciler, logg))
		r.Get("/payos", paymentcontrollers.PayOSReturn(d.Reconciler, logg))
	})

	r.With(middleware.Auth(cfg.JWT, logg)).
		Get("/realtime/stream", realtimecontrollers.Stream(d.Hub, d.Heartbeat, logg))

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.Idempotency(d.Idempotency, logg))

		r.Route("/orders", func(r chi.Router) {
			r.Post("/", ordercontrollers.Create(d.Orders, logg))
			r.Get("/", ordercontrollers.List(d.Orders, logg))
			r.Get("/{orderId}", ordercontrollers.Detail(d.Orders, logg))
			r.Post("/{orderId}/cancel", ordercontrollers.Cancel(d.Orders, logg))
			r.Post("/{orderId}/deposit", ordercontrollers.PayDeposit(d.Orders, logg))
			r.Post("/{orderId}/complete", ordercontrollers.Complete(d.Orders, logg))

			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireRole(logg, enums.RoleStaff, enums.RoleAdmin))
				r.Post("/{orderId}/start", ordercontrollers.Start(d.Orders, logg))
				r.Post("/{orderId}/cash-payments", ordercontrollers.ConfirmCash(d.Orders, logg))
			})
		})

		r.Route("/wallet", func(r chi.Router) {
			r.Get("/", walletcontrollers.Get(d.Wallet, logg))
			r.Get("/transactions", walletcontrollers.History(d.Wallet, logg))
			r.With(middleware.RequireRole(logg, enums.RoleStaff, enums.RoleAdmin)).
				Post("/top-up", walletcontrollers.TopUp(d.Wallet, logg))
		})

		r.Get("/payments/{paymentId}", paymentcontrollers.Get(d.Orders, logg))
	})

	return r
}
