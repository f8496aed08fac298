package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"go-token-gate/internal/config"
	"go-token-gate/internal/handler"
	"go-token-gate/internal/metrics"
	"go-token-gate/internal/middleware"
)

func New(
	cfg *config.Config,
	m *metrics.Metrics,
	authMiddleware *middleware.AuthMiddleware,
	authHandler *handler.AuthHandler,
	userHandler *handler.UserHandler,
	auditHandler *handler.AuditHandler,
	healthHandler *handler.HealthHandler,
) http.Handler {
	r := chi.NewRouter()
	rateLimitMiddleware := middleware.NewRateLimitMiddleware(cfg.RateLimitRPM, cfg.AuthRateLimitRPM)

	r.Use(middleware.Recovery)
	r.Use(middleware.NewClientIP(cfg.TrustProxyHeaders).Handler)
	r.Use(middleware.Logging(m))
	r.Use(middleware.CORS(cfg.CORSOrigins))
	r.Use(middleware.SecurityHeaders)
	r.Use(rateLimitMiddleware.Handler)

	r.Get("/health", healthHandler.Health)
	r.Handle("/metrics", m.Handler())

	r.Post("/reissue", authHandler.Reissue)
	r.Post("/logout", authHandler.Logout)

	r.Route("/api/v1", func(api chi.Router) {
		api.Use(middleware.Timeout(cfg.RequestTimeout))

		// The handoff endpoint only exists when an identity provider is wired in.
		if cfg.ProviderHandoffSecret != "" {
			api.Post("/auth/provider-login", authHandler.ProviderLogin)
		}

		api.With(authMiddleware.RequireAuth).Get("/me", authHandler.Me)

		api.Route("/admin", func(admin chi.Router) {
			admin.Use(authMiddleware.RequireAuth, authMiddleware.RequireRoles("ADMIN"))
			admin.Get("/ping", userHandler.Ping)
			admin.Get("/audit", auditHandler.List)
			admin.Put("/users/{subjectID}/role", userHandler.UpdateRole)
		})
	})

	return r
}
