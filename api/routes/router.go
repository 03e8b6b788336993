package routes

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/stitchline/storefront-backend/api/controllers"
	"github.com/stitchline/storefront-backend/api/middleware"
	checkoutsvc "github.com/stitchline/storefront-backend/internal/checkout"
	"github.com/stitchline/storefront-backend/pkg/config"
	"github.com/stitchline/storefront-backend/pkg/db"
	"github.com/stitchline/storefront-backend/pkg/enums"
	"github.com/stitchline/storefront-backend/pkg/logger"
)

// redisClient is what the router needs from the cache: readiness,
// idempotency replay storage and checkout throttling.
type redisClient interface {
	middleware.IdempotencyStore
	middleware.RateLimitStore
	Ping(context.Context) error
}

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP db.Pinger,
	redisClient redisClient,
	checkoutService checkoutsvc.Service,
	ordersService controllers.OrderService,
	reconciler controllers.PaymentReconciler,
	deadLetters controllers.DeadLetterQueue,
	metricsHandler http.Handler,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.App.AllowedOrigins),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, map[string]controllers.Pinger{
			"db":    dbP,
			"redis": redisClient,
		}))
	})

	if metricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", metricsHandler)
	}

	idempotent := middleware.Idempotency(redisClient, cfg.Checkout.IdempotencyKeyTTL, logg)
	// Load already rejected malformed entries.
	proxies, _ := cfg.App.TrustedProxyPrefixes()
	throttled := middleware.CheckoutRateLimit(middleware.RateLimitPolicy{
		Name:           "checkout",
		Window:         cfg.Checkout.RateLimitWindow,
		IPLimit:        cfg.Checkout.RateLimitPerIP,
		EmailLimit:     cfg.Checkout.RateLimitPerEmail,
		TrustedProxies: proxies,
	}, redisClient, logg)

	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(middleware.OptionalAuth(cfg.JWT, logg))
			r.With(throttled, idempotent).Post("/checkout", controllers.Checkout(checkoutService, logg))
			r.With(throttled, idempotent).Post("/checkout/measurement", controllers.MeasurementCheckout(checkoutService, logg))
			r.Get("/orders/{orderNumber}", controllers.GetOrder(ordersService, logg))
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.Auth(cfg.JWT, logg))
			r.With(idempotent).Post("/orders/{orderNumber}/cancel", controllers.CustomerCancelOrder(ordersService, logg))
		})

		r.Route("/payments", func(r chi.Router) {
			r.Post("/webhook", controllers.PaymentWebhook(reconciler, logg))
			r.Post("/webhook/{provider}", controllers.PaymentWebhook(reconciler, logg))
			r.Post("/verify", controllers.VerifyPayment(reconciler, logg))
		})
	})

	r.Route("/api/admin/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.RequireRole(logg, enums.AccountRoleAdmin))
		r.Route("/orders/{orderNumber}", func(r chi.Router) {
			r.Post("/processing", controllers.AdminMarkProcessing(ordersService, logg))
			r.Post("/ship", controllers.AdminMarkShipped(ordersService, logg))
			r.Post("/cancel", controllers.AdminCancelOrder(ordersService, logg))
		})
		if deadLetters != nil {
			r.Get("/outbox/dlq", controllers.AdminListDeadLetters(deadLetters, logg))
			r.Post("/outbox/dlq/{eventID}/requeue", controllers.AdminRequeueDeadLetter(deadLetters, logg))
		}
	})

	return r
}
