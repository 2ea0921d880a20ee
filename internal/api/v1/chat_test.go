package v1_test

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"

	"github.com/danielgtaylor/huma/v2/humatest"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	v1 "github.com/gosuda/glassbox/internal/api/v1"
	"github.com/gosuda/glassbox/internal/domain"
	"github.com/gosuda/glassbox/internal/engine"
)

func completedResult(traceID uuid.UUID, response string) *engine.Result {
	return &engine.Result{
		TraceID:    traceID,
		Response:   response,
		Status:     "completed",
		StepsTaken: 3,
		Metrics: engine.Metrics{
			InputTokens:  120,
			OutputTokens: 30,
			TotalTokens:  150,
			CostUSD:      0.0001,
			LatencyMS:    420,
		},
	}
}

func TestChat(t *testing.T) {
	t.Parallel()

	client := testClient()

	t.Run("reuses active session", func(t *testing.T) {
		t.Parallel()

		sessionID := uuid.New()
		traceID := uuid.New()

		var runSessionID uuid.UUID
		_, api := humatest.New(t)
		store := &mockDataStore{
			sessions: &mockSessionRepo{
				findActiveByClientFunc: func(_ context.Context, clientID uuid.UUID) (*domain.Session, error) {
					assert.Equal(t, client.ID, clientID)
					return &domain.Session{ID: sessionID, ClientID: client.ID, IsActive: true}, nil
				},
			},
		}
		eng := &mockAgentEngine{
			runFunc: func(_ context.Context, sid uuid.UUID, userInput string, maxIterations int) (*engine.Result, error) {
				runSessionID = sid
				assert.Equal(t, "What is 2 + 2?", userInput)
				assert.Equal(t, 0, maxIterations)
				return completedResult(traceID, "The answer is 4."), nil
			},
		}
		v1.RegisterChatRoutes(api, store, eng)

		resp := api.PostCtx(clientCtx(client), "/chat", map[string]any{
			"message": "What is 2 + 2?",
		})

		require.Equal(t, http.StatusOK, resp.Code)
		assert.Equal(t, sessionID, runSessionID)

		var body struct {
			SessionID  uuid.UUID      `json:"session_id"`
			TraceID    uuid.UUID      `json:"trace_id"`
			Response   string         `json:"response"`
			Status     string         `json:"status"`
			StepsTaken int            `json:"steps_taken"`
			Metrics    engine.Metrics `json:"metrics"`
		}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.Equal(t, sessionID, body.SessionID)
		assert.Equal(t, traceID, body.TraceID)
		assert.Equal(t, "The answer is 4.", body.Response)
		assert.Equal(t, "completed", body.Status)
		assert.Equal(t, 3, body.StepsTaken)
		assert.Equal(t, 150, body.Metrics.TotalTokens)
	})

	t.Run("opens session on default agent", func(t *testing.T) {
		t.Parallel()

		profileID := uuid.New()
		var created *domain.Session
		_, api := humatest.New(t)
		store := &mockDataStore{
			sessions: &mockSessionRepo{
				findActiveByClientFunc: func(_ context.Context, _ uuid.UUID) (*domain.Session, error) {
					return nil, domain.ErrNotFound
				},
				createFunc: func(_ context.Context, s *domain.Session) error {
					created = s
					return nil
				},
			},
			agents: &mockAgentProfileRepo{
				getBySlugFunc: func(_ context.Context, slug string) (*domain.AgentProfile, error) {
					assert.Equal(t, v1.DefaultAgentSlug, slug)
					return &domain.AgentProfile{ID: profileID, Slug: slug, IsActive: true}, nil
				},
			},
		}
		eng := &mockAgentEngine{
			runFunc: func(_ context.Context, sid uuid.UUID, _ string, _ int) (*engine.Result, error) {
				require.NotNil(t, created)
				assert.Equal(t, created.ID, sid)
				return completedResult(uuid.New(), "ok"), nil
			},
		}
		v1.RegisterChatRoutes(api, store, eng)

		resp := api.PostCtx(clientCtx(client), "/chat", map[string]any{
			"message": "hello",
		})

		require.Equal(t, http.StatusOK, resp.Code)
		require.NotNil(t, created, "a session must be created")
		assert.Equal(t, client.ID, created.ClientID)
		assert.Equal(t, profileID, created.AgentID)
		assert.True(t, created.IsActive)
	})

	t.Run("continues explicit session", func(t *testing.T) {
		t.Parallel()

		sessionID := uuid.New()
		_, api := humatest.New(t)
		store := &mockDataStore{
			sessions: &mockSessionRepo{
				getByIDFunc: func(_ context.Context, id uuid.UUID) (*domain.Session, error) {
					assert.Equal(t, sessionID, id)
					return &domain.Session{ID: sessionID, ClientID: client.ID}, nil
				},
			},
		}
		eng := &mockAgentEngine{
			runFunc: func(_ context.Context, sid uuid.UUID, _ string, _ int) (*engine.Result, error) {
				assert.Equal(t, sessionID, sid)
				return completedResult(uuid.New(), "ok"), nil
			},
		}
		v1.RegisterChatRoutes(api, store, eng)

		resp := api.PostCtx(clientCtx(client), "/chat", map[string]any{
			"message":    "continue",
			"session_id": sessionID.String(),
		})

		require.Equal(t, http.StatusOK, resp.Code)
	})

	t.Run("foreign session looks nonexistent", func(t *testing.T) {
		t.Parallel()

		sessionID := uuid.New()
		_, api := humatest.New(t)
		store := &mockDataStore{
			sessions: &mockSessionRepo{
				getByIDFunc: func(_ context.Context, _ uuid.UUID) (*domain.Session, error) {
					// Owned by a different client.
					return &domain.Session{ID: sessionID, ClientID: uuid.New()}, nil
				},
			},
		}
		eng := &mockAgentEngine{}
		v1.RegisterChatRoutes(api, store, eng)

		resp := api.PostCtx(clientCtx(client), "/chat", map[string]any{
			"message":    "continue",
			"session_id": sessionID.String(),
		})

		assert.Equal(t, http.StatusNotFound, resp.Code)
	})

	t.Run("unknown session returns 404", func(t *testing.T) {
		t.Parallel()

		_, api := humatest.New(t)
		store := &mockDataStore{
			sessions: &mockSessionRepo{
				getByIDFunc: func(_ context.Context, _ uuid.UUID) (*domain.Session, error) {
					return nil, domain.ErrNotFound
				},
			},
		}
		v1.RegisterChatRoutes(api, store, &mockAgentEngine{})

		resp := api.PostCtx(clientCtx(client), "/chat", map[string]any{
			"message":    "continue",
			"session_id": uuid.New().String(),
		})

		assert.Equal(t, http.StatusNotFound, resp.Code)
	})

	t.Run("missing client context returns 401", func(t *testing.T) {
		t.Parallel()

		_, api := humatest.New(t)
		v1.RegisterChatRoutes(api, &mockDataStore{}, &mockAgentEngine{})

		resp := api.Post("/chat", map[string]any{
			"message": "hello",
		})

		assert.Equal(t, http.StatusUnauthorized, resp.Code)
	})

	t.Run("empty message rejected by validation", func(t *testing.T) {
		t.Parallel()

		_, api := humatest.New(t)
		v1.RegisterChatRoutes(api, &mockDataStore{}, &mockAgentEngine{})

		resp := api.PostCtx(clientCtx(client), "/chat", map[string]any{
			"message": "",
		})

		assert.Equal(t, http.StatusUnprocessableEntity, resp.Code)
	})
}

func TestChatStream(t *testing.T) {
	t.Parallel()

	client := testClient()

	t.Run("streams events in order", func(t *testing.T) {
		t.Parallel()

		sessionID := uuid.New()
		_, api := humatest.New(t)
		store := &mockDataStore{
			sessions: &mockSessionRepo{
				findActiveByClientFunc: func(_ context.Context, _ uuid.UUID) (*domain.Session, error) {
					return &domain.Session{ID: sessionID, ClientID: client.ID, IsActive: true}, nil
				},
			},
		}
		eng := &mockAgentEngine{
			streamFunc: func(_ context.Context, sid uuid.UUID, _ string, _ int) <-chan engine.Event {
				assert.Equal(t, sessionID, sid)
				ch := make(chan engine.Event, 4)
				ch <- engine.Event{Type: engine.EventStart, SessionID: sid.String()}
				ch <- engine.Event{Type: engine.EventThinking, Content: "Processing your request..."}
				ch <- engine.Event{Type: engine.EventResponse, Content: "Done."}
				ch <- engine.Event{Type: engine.EventComplete, Success: true, Steps: 1, Response: "Done."}
				close(ch)
				return ch
			},
		}
		v1.RegisterChatRoutes(api, store, eng)

		resp := api.PostCtx(clientCtx(client), "/chat/stream", map[string]any{
			"message": "hello",
		})

		require.Equal(t, http.StatusOK, resp.Code)
		body := resp.Body.String()
		assert.Contains(t, body, `"type":"start"`)
		assert.Contains(t, body, `"type":"thinking"`)
		assert.Contains(t, body, `"type":"response"`)
		assert.Contains(t, body, `"type":"complete"`)
		// The terminal event arrives last.
		assert.Less(t, strings.Index(body, `"type":"start"`), strings.Index(body, `"type":"complete"`))
	})

	t.Run("missing client yields single error event", func(t *testing.T) {
		t.Parallel()

		_, api := humatest.New(t)
		v1.RegisterChatRoutes(api, &mockDataStore{}, &mockAgentEngine{})

		resp := api.Post("/chat/stream", map[string]any{
			"message": "hello",
		})

		require.Equal(t, http.StatusOK, resp.Code)
		assert.Contains(t, resp.Body.String(), `"type":"error"`)
		assert.Contains(t, resp.Body.String(), "missing client context")
	})
}
