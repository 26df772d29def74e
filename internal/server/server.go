// Package server wires the control plane's HTTP surface: huma v2 API
// groups on a chi router, authentication and rate-limit middleware, the
// WebSocket live feeds and the background approval sweeper.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"

	v1 "github.com/wardenhq/warden/internal/api/v1"
	"github.com/wardenhq/warden/internal/api/ws"
	"github.com/wardenhq/warden/internal/auth"
	"github.com/wardenhq/warden/internal/config"
	"github.com/wardenhq/warden/internal/notify"
	"github.com/wardenhq/warden/internal/server/middleware"
	"github.com/wardenhq/warden/internal/store/postgres"
	redisstore "github.com/wardenhq/warden/internal/store/redis"
)

// Server is the HTTP server that wires all application routes and middleware.
type Server struct {
	router     chi.Router
	httpServer *http.Server
	store      *postgres.Store
	auth       *auth.Service
	pubsub     *redisstore.PubSub
	wsHub      *ws.Hub
	cfg        *config.Config
}

// New creates a Server with all routes wired. ctx bounds the lifetime of
// the rate limiter cleanup goroutines.
func New(ctx context.Context, cfg *config.Config, store *postgres.Store, pubsub *redisstore.PubSub, authSvc *auth.Service) *Server {
	router := chi.NewRouter()

	// Global middleware stack.
	router.Use(chimw.RequestID)
	router.Use(chimw.RealIP)
	router.Use(chimw.Logger)
	router.Use(chimw.Recoverer)
	router.Use(cors.New(cors.Options{
		AllowedOrigins:   cfg.Server.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}).Handler)

	hub := ws.NewHub(pubsub)

	s := &Server{
		router: router,
		store:  store,
		auth:   authSvc,
		pubsub: pubsub,
		wsHub:  hub,
		cfg:    cfg,
		httpServer: &http.Server{
			Addr:         cfg.Server.Addr,
			Handler:      router,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		},
	}

	notifier := buildNotifier(cfg)

	// Unauthenticated auth routes, strictly rate limited per IP.
	router.Group(func(r chi.Router) {
		r.Use(middleware.RateLimitByIP(ctx, 5, 10))

		authConfig := huma.DefaultConfig("Warden Auth API", "1.0.0")
		authAPI := humachi.New(r, authConfig)
		registerAuthRoutes(authAPI, authSvc)
	})

	// Everything else requires an operator token or the org API key.
	router.Group(func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT.Secret, authSvc))
		r.Use(middleware.RateLimit(ctx, 100, 200))

		apiConfig := huma.DefaultConfig("Warden API", "1.0.0")
		api := humachi.New(r, apiConfig)
		registerAPIRoutes(api, store, authSvc, pubsub, notifier, cfg.Approvals.TTL)
	})

	// WebSocket live feeds.
	router.Route("/ws", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT.Secret, authSvc))
		registerWSRoutes(r, hub)
	})

	// Health check (unauthenticated).
	router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	// Prometheus metrics (unauthenticated, bind behind a firewall).
	router.Handle("/metrics", promhttp.Handler())

	return s
}

// buildNotifier returns the Slack notifier when configured, nil otherwise.
func buildNotifier(cfg *config.Config) v1.ApprovalNotifier {
	if cfg.Slack.BotToken == "" || cfg.Slack.Channel == "" {
		return nil
	}
	log.Info().Str("channel", cfg.Slack.Channel).Msg("Slack approval notifications enabled")
	return notify.NewSlackFromToken(cfg.Slack.BotToken, cfg.Slack.Channel)
}

// Start begins listening for HTTP requests.
func (s *Server) Start(_ context.Context) error {
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server.Start: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server.Shutdown: %w", err)
	}
	return nil
}

// RunApprovalSweeper expires overdue approval requests on an interval
// until ctx is cancelled. Expired requests behave as denied for any
// guard still waiting on them.
func (s *Server) RunApprovalSweeper(ctx context.Context) {
	interval := s.cfg.Approvals.SweepInterval
	if interval <= 0 {
		interval = time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.store.Approvals().ExpireOverdue(ctx, time.Now().UTC())
			if err != nil {
				log.Warn().Err(err).Msg("approval sweep failed")
				continue
			}
			if n > 0 {
				log.Info().Int64("expired", n).Msg("approval requests expired")
			}
		}
	}
}
