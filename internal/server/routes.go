package server

import (
	"github.com/danielgtaylor/huma/v2"
	"github.com/go-chi/chi/v5"

	v1 "github.com/gosuda/glassbox/internal/api/v1"
	"github.com/gosuda/glassbox/internal/api/ws"
	"github.com/gosuda/glassbox/internal/engine"
	"github.com/gosuda/glassbox/internal/store/postgres"
)

func registerClientRoutes(api huma.API, store *postgres.Store, eng *engine.Engine) {
	v1.RegisterChatRoutes(api, store, eng)
	v1.RegisterAnalyticsRoutes(api, store)
}

func registerAdminRoutes(api huma.API, store *postgres.Store) {
	v1.RegisterTraceRoutes(api, store)
	v1.RegisterClientRoutes(api, store)
}

func registerWSRoutes(r chi.Router, hub *ws.Hub) {
	r.Get("/sessions/{sessionID}", hub.ServeSession)
}
