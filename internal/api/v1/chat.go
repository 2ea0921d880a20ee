package v1

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/sse"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/gosuda/glassbox/internal/domain"
	"github.com/gosuda/glassbox/internal/engine"
	"github.com/gosuda/glassbox/internal/server/middleware"
)

// DefaultAgentSlug is the profile used when a new session is opened without
// naming an agent.
const DefaultAgentSlug = "calculator"

type ChatInput struct {
	Body struct {
		Message       string     `json:"message" minLength:"1" maxLength:"8000" doc:"User message"`
		SessionID     *uuid.UUID `json:"session_id,omitempty" doc:"Existing session to continue; omitted opens or reuses one"`
		MaxIterations int        `json:"max_iterations,omitempty" minimum:"0" maximum:"10" doc:"Optional loop cap for this turn"`
	}
}

type ChatOutput struct {
	Body struct {
		SessionID  uuid.UUID      `json:"session_id"`
		TraceID    uuid.UUID      `json:"trace_id"`
		Response   string         `json:"response"`
		Status     string         `json:"status" enum:"completed,failed"`
		StepsTaken int            `json:"steps_taken"`
		Metrics    engine.Metrics `json:"metrics"`
	}
}

func RegisterChatRoutes(api huma.API, store DataStore, eng AgentEngine) {
	huma.Register(api, huma.Operation{
		OperationID: "chat",
		Method:      http.MethodPost,
		Path:        "/chat",
		Summary:     "Run one agent turn and return the aggregate result",
		Tags:        []string{"Chat"},
	}, func(ctx context.Context, input *ChatInput) (*ChatOutput, error) {
		client, ok := middleware.ClientFromContext(ctx)
		if !ok {
			return nil, huma.Error401Unauthorized("missing client context")
		}

		session, err := resolveSession(ctx, store, client, input.Body.SessionID)
		if err != nil {
			return nil, err
		}

		result, err := eng.Run(ctx, session.ID, input.Body.Message, input.Body.MaxIterations)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return nil, huma.Error404NotFound("session not found")
			}
			log.Error().Err(err).Str("session_id", session.ID.String()).Msg("agent run failed")
			return nil, huma.Error500InternalServerError("agent run failed")
		}

		out := &ChatOutput{}
		out.Body.SessionID = session.ID
		out.Body.TraceID = result.TraceID
		out.Body.Response = result.Response
		out.Body.Status = result.Status
		out.Body.StepsTaken = result.StepsTaken
		out.Body.Metrics = result.Metrics
		return out, nil
	})

	sse.Register(api, huma.Operation{
		OperationID: "chat-stream",
		Method:      http.MethodPost,
		Path:        "/chat/stream",
		Summary:     "Run one agent turn, streaming events as they occur",
		Tags:        []string{"Chat"},
	}, map[string]any{
		"message": engine.Event{},
	}, func(ctx context.Context, input *ChatInput, send sse.Sender) {
		client, ok := middleware.ClientFromContext(ctx)
		if !ok {
			_ = send.Data(engine.Event{Type: engine.EventError, Message: "missing client context"})
			return
		}

		session, err := resolveSession(ctx, store, client, input.Body.SessionID)
		if err != nil {
			_ = send.Data(engine.Event{Type: engine.EventError, Message: "session unavailable"})
			return
		}

		for ev := range eng.Stream(ctx, session.ID, input.Body.Message, input.Body.MaxIterations) {
			if err := send.Data(ev); err != nil {
				// Consumer went away; the engine finalizes the trace on its
				// own when the request context dies.
				return
			}
		}
	})
}

// resolveSession loads and authorizes an existing session, or reuses the
// client's latest active one, or opens a fresh session on the default agent.
func resolveSession(ctx context.Context, store DataStore, client *domain.AnonymousClient, sessionID *uuid.UUID) (*domain.Session, error) {
	if sessionID != nil {
		session, err := store.Sessions().GetByID(ctx, *sessionID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return nil, huma.Error404NotFound("session not found")
			}
			return nil, huma.Error500InternalServerError("failed to load session")
		}
		if session.ClientID != client.ID {
			// Do not reveal that the session exists.
			return nil, huma.Error404NotFound("session not found")
		}
		return session, nil
	}

	session, err := store.Sessions().FindActiveByClient(ctx, client.ID)
	if err == nil {
		return session, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, huma.Error500InternalServerError("failed to load session")
	}

	profile, err := store.AgentProfiles().GetBySlug(ctx, DefaultAgentSlug)
	if err != nil {
		log.Error().Err(err).Str("slug", DefaultAgentSlug).Msg("default agent profile missing")
		return nil, huma.Error500InternalServerError("agent unavailable")
	}

	now := time.Now().UTC()
	session = &domain.Session{
		ID:           uuid.New(),
		ClientID:     client.ID,
		AgentID:      profile.ID,
		IsActive:     true,
		CreatedAt:    now,
		LastActiveAt: now,
	}
	if err := store.Sessions().Create(ctx, session); err != nil {
		return nil, huma.Error500InternalServerError("failed to create session")
	}

	return session, nil
}
