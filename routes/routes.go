package routes

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/upb/tiered-gateway/app"
	"github.com/upb/tiered-gateway/handlers"
	"github.com/upb/tiered-gateway/utils"
)

// requestTimeout covers a full cascade: every backend in the longest chain
// plus the secondary provider
const requestTimeout = 5 * time.Minute

// SetupRoutes configures all application routes and middleware
func SetupRoutes(deps *app.Dependencies) http.Handler {
	r := chi.NewRouter()

	// Core middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(requestTimeout))

	origins := deps.Config.Server.CORSAllowedOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check endpoints
	r.Get("/healthz", handlers.HealthCheck(deps))
	r.Get("/readyz", handlers.ReadinessCheck(deps))

	r.Route("/api/v1", func(r chi.Router) {
		// Public routes
		r.Get("/status", handlers.StatusHandler(deps))

		// Dispatch endpoints (require authentication)
		r.Group(func(r chi.Router) {
			r.Use(deps.AuthMiddleware.RequireAuth)
			r.Post("/generate", handlers.GenerateHandler(deps))
			r.Post("/chat", handlers.ChatHandler(deps))
			r.Get("/health/backends", handlers.BackendHealthHandler(deps))
			r.Get("/dispatches", handlers.ListDispatchesHandler(deps))
		})

		// Tool declarations (require admin role)
		r.Route("/tools", func(r chi.Router) {
			r.Use(deps.AuthMiddleware.RequireAuth)
			r.Use(deps.AuthMiddleware.RequireRole("admin"))
			r.Get("/", handlers.GetToolsHandler(deps))
			r.Put("/", handlers.ReplaceToolsHandler(deps))
			r.Delete("/", handlers.ClearToolsHandler(deps))
		})

		// Circuit breakers (require admin role)
		r.Route("/breakers", func(r chi.Router) {
			r.Use(deps.AuthMiddleware.RequireAuth)
			r.Use(deps.AuthMiddleware.RequireRole("admin"))
			r.Get("/", handlers.ListBreakersHandler(deps))
			r.Post("/{backend}/reset", handlers.ResetBreakerHandler(deps))
		})
	})

	// 404 handler
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		_ = utils.WriteNotFound(w, "endpoint not found")
	})

	return r
}
