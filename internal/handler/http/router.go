package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/grana-flow/grana-flow-api/pkg/health"
	"github.com/grana-flow/grana-flow-api/pkg/middleware"
)

// RouterConfig carries everything the router needs beyond the handler itself.
type RouterConfig struct {
	ServiceName string
	CORS        middleware.CORSConfig
}

// NewRouter creates a chi router with all account API routes registered.
func NewRouter(
	authHandler *AuthHandler,
	healthHandler *health.Handler,
	logger *slog.Logger,
	cfg RouterConfig,
) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.RequestLogging(logger))
	r.Use(middleware.Tracing(cfg.ServiceName))
	r.Use(middleware.RequestLogger(logger))
	r.Use(middleware.PrometheusMetrics(cfg.ServiceName))
	r.Use(middleware.CORS(cfg.CORS))

	// Health check endpoints
	r.Get("/health/live", healthHandler.LivenessHandler())
	r.Get("/health/ready", healthHandler.ReadinessHandler())
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		promhttp.Handler().ServeHTTP(w, r)
	})

	// Account endpoints (public). Confirm-email is a GET because the token
	// arrives as a link clicked from a mail client.
	r.Route("/api/v1/auth", func(r chi.Router) {
		r.Get("/confirm-email", authHandler.ConfirmEmail)

		r.Group(func(r chi.Router) {
			r.Use(ContentTypeJSON)

			r.Post("/register", authHandler.Register)
			r.Post("/sign-in", authHandler.SignIn)
			r.Post("/refresh-token", authHandler.RefreshToken)
			r.Post("/forget-password", authHandler.ForgetPassword)
			r.Post("/forget-password/validate", authHandler.ValidateForgetPassword)
			r.Post("/2fa/generate", authHandler.GenerateTwoFactor)
			r.Post("/2fa/validate", authHandler.ValidateTwoFactor)
		})
	})

	return r
}
