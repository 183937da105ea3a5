package api

import (
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/chanderbawa/AI-Story-Agents/internal/api/middleware"
	"github.com/chanderbawa/AI-Story-Agents/internal/handlers"
)

// newBaseRouter installs the middleware stack shared by every surface.
// redisClient may be nil, which disables rate limiting.
func newBaseRouter(logger zerolog.Logger, redisClient *redis.Client) *chi.Mux {
	r := chi.NewRouter()

	// Metrics middleware (first to capture all requests)
	r.Use(middleware.Metrics)

	// Security middleware
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.MaxBodySize(1 << 20))
	r.Use(middleware.RequireJSON)

	// Limits key on the connection's peer, so they run before RealIP
	// rewrites RemoteAddr from forwarding headers.
	limiter := middleware.NewRateLimiter(redisClient, nil, logger)
	r.Use(limiter.Middleware)

	// Standard middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logger(logger))
	r.Use(chimw.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Handle("/metrics", promhttp.Handler())

	return r
}

// NewAgentRouter serves one worker: /health, /send and /status.
func NewAgentRouter(logger zerolog.Logger, redisClient *redis.Client, h *handlers.AgentHandler) *chi.Mux {
	r := newBaseRouter(logger, redisClient)

	r.Get("/health", h.Health)
	r.Post("/send", h.Send)
	r.Get("/status", h.Status)

	return r
}

// NewOrchestratorRouter serves story submission and task inspection.
func NewOrchestratorRouter(logger zerolog.Logger, redisClient *redis.Client, h *handlers.StoryHandler) *chi.Mux {
	r := newBaseRouter(logger, redisClient)

	r.Get("/health", h.Health)
	r.Get("/stats", h.Stats)
	r.Post("/stories", h.CreateStory)
	r.Get("/tasks/{id}", h.TaskStatus)
	r.Get("/tasks/{id}/messages", h.TaskMessages)
	r.Get("/messages/{id}", h.GetMessage)

	return r
}
