package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"session-auth/internal/config"
	"session-auth/internal/handler"
	"session-auth/internal/middleware"
)

type Handlers struct {
	Auth   *handler.AuthHandler
	User   *handler.UserHandler
	Audit  *handler.AuditHandler
	Health *handler.HealthHandler
}

// Credential endpoints draw from the stricter rate limit bucket.
var authPaths = []string{
	"/api/v1/users/register",
	"/api/v1/users/login",
	"/api/v1/users/refresh",
}

func New(cfg *config.Config, authMiddleware *middleware.AuthMiddleware, h Handlers) http.Handler {
	r := chi.NewRouter()
	rateLimitMiddleware := middleware.NewRateLimitMiddleware(cfg.RateLimitRPM, cfg.AuthRateLimitRPM, authPaths...)

	r.Use(middleware.Recovery)
	r.Use(middleware.Logging)
	r.Use(middleware.CORS(cfg.CORSOrigins))
	r.Use(middleware.SecurityHeaders)
	r.Use(rateLimitMiddleware.Handler)

	r.Get("/health", h.Health.Health)

	r.Route("/api/v1", func(api chi.Router) {
		api.Use(middleware.Timeout(cfg.RequestTimeout))

		api.Route("/users", func(users chi.Router) {
			users.Post("/register", h.Auth.Register)
			users.Post("/login", h.Auth.Login)
			users.Post("/refresh", h.Auth.Refresh)
			users.Post("/logout", h.Auth.Logout)

			users.Group(func(protected chi.Router) {
				protected.Use(authMiddleware.RequireSession)
				protected.Get("/", h.User.List)
				protected.Get("/me", h.Auth.Me)
				protected.Get("/{id}", h.User.Get)
				protected.Put("/{id}", h.User.Update)
				protected.Delete("/{id}", h.User.Delete)
			})
		})

		api.With(authMiddleware.RequireSession).Get("/audit", h.Audit.List)
	})

	return r
}
