// Package server wires the HTTP surface: router, middleware, typed API
// operations, and the websocket feed.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"

	"github.com/gosuda/glassbox/internal/api/ws"
	"github.com/gosuda/glassbox/internal/config"
	"github.com/gosuda/glassbox/internal/engine"
	"github.com/gosuda/glassbox/internal/server/middleware"
	"github.com/gosuda/glassbox/internal/store/postgres"
	redisstore "github.com/gosuda/glassbox/internal/store/redis"
	"github.com/gosuda/glassbox/internal/trust"
)

// Server is the HTTP server with all application routes wired.
type Server struct {
	router     chi.Router
	httpServer *http.Server
	wsHub      *ws.Hub
	cfg        *config.Config
}

// New creates a Server. ctx bounds the lifetime of background middleware
// state (limiter cleanup goroutines).
func New(ctx context.Context, cfg *config.Config, store *postgres.Store, pubsub *redisstore.PubSub, trustSvc *trust.Service, eng *engine.Engine) *Server {
	router := chi.NewRouter()

	// Global middleware stack.
	router.Use(chimw.RequestID)
	router.Use(chimw.RealIP)
	router.Use(chimw.Logger)
	router.Use(chimw.Recoverer)
	router.Use(cors.New(cors.Options{
		AllowedOrigins:   cfg.Server.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key", "X-Device-Fingerprint", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID", "Retry-After", "X-RateLimit-Limit"},
		AllowCredentials: true,
		MaxAge:           300,
	}).Handler)

	hub := ws.NewHub(pubsub)

	s := &Server{
		router: router,
		wsHub:  hub,
		cfg:    cfg,
		httpServer: &http.Server{
			Addr:         cfg.Server.Addr,
			Handler:      router,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		},
	}

	// Mount API routes on /api/v1 with two sub-groups:
	// 1. Client group behind the trust flow (chat, analytics).
	// 2. Admin group behind the API key (traces, sessions, clients).
	router.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(middleware.RateLimitByIP(ctx, 10, 20))
			r.Use(middleware.Trust(trustSvc))

			clientAPI := humachi.New(r, apiConfig("Glassbox Client API"))
			registerClientRoutes(clientAPI, store, eng)
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.APIKey(cfg.Server.APIKey))

			adminAPI := humachi.New(r, apiConfig("Glassbox Admin API"))
			registerAdminRoutes(adminAPI, store)
		})
	})

	// WebSocket live feed.
	router.Route("/ws", func(r chi.Router) {
		registerWSRoutes(r, hub)
	})

	// Health check (unauthenticated).
	router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	return s
}

func apiConfig(title string) huma.Config {
	cfg := huma.DefaultConfig(title, "1.0.0")
	cfg.Servers = []*huma.Server{{URL: "/api/v1"}}
	return cfg
}

func (s *Server) Start(_ context.Context) error {
	err := s.httpServer.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server.Server.Start: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server.Server.Shutdown: %w", err)
	}
	return nil
}
