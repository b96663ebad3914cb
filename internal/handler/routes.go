// Package handler provides HTTP handlers for the API.
package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/capitalize-ai/convoai/internal/middleware"
	"github.com/capitalize-ai/convoai/internal/service"
	"github.com/capitalize-ai/convoai/pkg/logger"
)

// RouterConfig holds what the HTTP API needs.
type RouterConfig struct {
	Sessions       *service.SessionService
	Archive        TranscriptStore
	Connection     ConnectionChecker
	ArchiveCheck   ArchiveChecker
	Logger         *logger.Logger
	JWTSecret      string
	AllowedOrigins []string
	RateLimit      int
	RateWindow     time.Duration
	CommandLimit   int
	EventBuffer    int
}

// NewRouter builds the HTTP API.
func NewRouter(cfg RouterConfig) http.Handler {
	log := cfg.Logger
	if log == nil {
		log = logger.Global()
	}
	if cfg.RateWindow <= 0 {
		cfg.RateWindow = time.Minute
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 60
	}
	if cfg.CommandLimit <= 0 {
		cfg.CommandLimit = cfg.RateLimit
	}

	healthHandler := NewHealthHandler(cfg.Connection, cfg.ArchiveCheck)
	sessionHandler := NewSessionHandler(cfg.Sessions, log)
	commandHandler := NewCommandHandler(cfg.Sessions, log)
	streamHandler := NewStreamHandler(cfg.Sessions, cfg.Archive, cfg.EventBuffer, log)
	wsHandler := NewWebSocketHandler(cfg.Sessions, cfg.EventBuffer, middleware.OriginChecker(cfg.AllowedOrigins), log)

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(log))
	r.Use(middleware.SecurityHeaders)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(cfg.AllowedOrigins))

	// Health endpoints (no auth required)
	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWTSecret))
		r.Use(middleware.RateLimit(cfg.RateLimit, cfg.RateWindow))

		r.Route("/sessions", func(r chi.Router) {
			r.With(middleware.RequireScope(middleware.ScopeRead)).Get("/", sessionHandler.List)

			r.Route("/{channel}", func(r chi.Router) {
				r.Use(middleware.RequireChannel("channel"))

				r.Group(func(r chi.Router) {
					r.Use(middleware.RequireScope(middleware.ScopeRead))
					r.Get("/", sessionHandler.Get)
					r.Get("/events", streamHandler.Events)
					r.Get("/ws", wsHandler.Serve)
					r.Get("/transcripts", streamHandler.Transcripts)
				})

				r.Group(func(r chi.Router) {
					r.Use(middleware.RequireScope(middleware.ScopeWrite))
					r.Put("/", sessionHandler.Open)
					r.Delete("/", sessionHandler.Close)
				})

				r.Group(func(r chi.Router) {
					r.Use(middleware.RequireScope(middleware.ScopeCommand))
					r.Use(middleware.CommandRateLimit(cfg.CommandLimit, cfg.RateWindow))
					r.Post("/chat", commandHandler.Chat)
					r.Post("/image", commandHandler.Image)
					r.Post("/interrupt", commandHandler.Interrupt)
				})
			})
		})
	})

	return r
}
