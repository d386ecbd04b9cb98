package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// RouterConfig carries the dependencies needed to build the routing tree.
type RouterConfig struct {
	AllowedOrigins  []string
	WebhookHandler  *WebhookHandler
	DeployHandler   *DeploymentHandler
	WSHandler       http.HandlerFunc
	RateLimiter     *RateLimiter
	Logger          *slog.Logger
}

// NewRouter builds the chi multiplexer and wires every endpoint (§4.2, §4.6,
// §4.7). Mirrors the teacher's layered-middleware router: request ID, real
// IP, structured access log, panic recovery, timeout, body cap, rate limit,
// CORS, then the routing tree.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(StructuredLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(MaxBytes(1 << 20))
	if cfg.RateLimiter != nil {
		r.Use(cfg.RateLimiter.Middleware)
	}

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Hub-Signature-256", "X-GitHub-Event"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/webhooks/{projectId}", cfg.WebhookHandler.HandlePush)

		r.Route("/deployments", func(r chi.Router) {
			r.Post("/", cfg.DeployHandler.Trigger)
			r.Get("/{id}", cfg.DeployHandler.Get)
			r.Post("/{id}/cancel", cfg.DeployHandler.Cancel)
			r.Post("/{id}/retry", cfg.DeployHandler.Retry)
		})

		if cfg.WSHandler != nil {
			r.Get("/ws/deployments/{id}", cfg.WSHandler)
		}
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	return r
}
