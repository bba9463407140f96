/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. RealIP:     Client address behind proxies
  3. Logger:     Request logging through logrus
  4. Recoverer:  Panic recovery (500 instead of crash)
  5. Metrics:    Prometheus request counters, when configured
  6. CORS:       Cross-origin requests for the creator app

ROUTE GROUPS:
  /api/rewards/*, /api/redemptions/*   Creator routes (X-User-ID)
  /api/admin/*                         Admin routes (X-Admin-ID)
  /healthz, /metrics                   Operations

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/sirupsen/logrus"
	"github.com/warp/redemption-engine/metrics"
	"github.com/warp/redemption-engine/rewards"
)

// RouterOptions carries the optional pieces of the router.
type RouterOptions struct {
	AllowedOrigins []string
	Metrics        *metrics.Metrics // nil disables /metrics
	ClaimLimiter   *RateLimiter     // nil disables claim rate limiting
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	r := chi.NewRouter()

	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(h.Log))
	r.Use(middleware.Recoverer)
	if opts.Metrics != nil {
		r.Use(opts.Metrics.Middleware)
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", headerClientID, headerUserID, headerAdminID},
		ExposedHeaders: []string{"X-Request-Id"},
		MaxAge:         300,
	}))

	r.Get("/healthz", h.Healthz)
	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics.Handler())
	}

	claimLimit := func(next http.Handler) http.Handler { return next }
	if opts.ClaimLimiter != nil {
		claimLimit = opts.ClaimLimiter.Middleware
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(requireHeader(headerClientID, keyClientID, http.StatusBadRequest, rewards.CodeValidation))

		// Creator routes
		r.Group(func(r chi.Router) {
			r.Use(requireHeader(headerUserID, keyUserID, http.StatusBadRequest, rewards.CodeValidation))

			r.Get("/rewards", h.ListRewards)
			r.Get("/rewards/history", h.History)
			r.With(claimLimit).Post("/rewards/{rewardID}/claim", h.ClaimReward)
			r.Post("/redemptions/{redemptionID}/payment-info", h.SubmitPaymentInfo)
		})

		// Admin routes
		r.Route("/admin", func(r chi.Router) {
			r.Use(requireHeader(headerAdminID, keyAdminID, http.StatusForbidden, rewards.CodeForbidden))

			r.Route("/boosts/{redemptionID}", func(r chi.Router) {
				r.Get("/", h.GetBoost)
				r.Post("/adjustment", h.AdjustCommission)
				r.Post("/paid", h.MarkBoostPaid)
			})

			r.Route("/redemptions/{redemptionID}", func(r chi.Router) {
				r.Post("/fulfill", h.FulfillRedemption)
				r.Post("/conclude", h.ConcludeRedemption)
				r.Post("/reject", h.RejectRedemption)
			})

			r.Route("/gifts/{redemptionID}", func(r chi.Router) {
				r.Post("/shipped", h.MarkGiftShipped)
				r.Post("/delivered", h.MarkGiftDelivered)
			})

			r.Route("/users/{userID}", func(r chi.Router) {
				r.Post("/tier-change", h.TierChange)
				r.Post("/claimable", h.GrantClaimable)
			})

			r.Post("/activation/run", h.RunActivation)
			r.Get("/activation/runs", h.ListActivationRuns)
		})
	})

	return r
}

// requestLogger logs one line per request through logrus.
func requestLogger(log logrus.FieldLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				log.WithFields(logrus.Fields{
					"request_id": middleware.GetReqID(r.Context()),
					"method":     r.Method,
					"path":       r.URL.Path,
					"status":     ww.Status(),
					"bytes":      ww.BytesWritten(),
					"duration":   time.Since(start).String(),
					"remote":     r.RemoteAddr,
				}).Info("request")
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
