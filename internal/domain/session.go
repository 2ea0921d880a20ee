package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Session is a conversation container owned by an anonymous client.
// A session is reused across turns while active; the engine refreshes
// LastActiveAt on every turn and never hard-deletes sessions.
type Session struct {
	ID           uuid.UUID
	ClientID     uuid.UUID // owning AnonymousClient.ID
	AgentID      uuid.UUID
	ContextData  map[string]any
	IsActive     bool
	CreatedAt    time.Time
	LastActiveAt time.Time
}

// SessionRepository stores conversation sessions.
type SessionRepository interface {
	Create(ctx context.Context, s *Session) error
	GetByID(ctx context.Context, id uuid.UUID) (*Session, error)
	// FindActiveByClient returns the most recently created active session
	// for the client, or ErrNotFound.
	FindActiveByClient(ctx context.Context, clientID uuid.UUID) (*Session, error)
	// Touch refreshes LastActiveAt.
	Touch(ctx context.Context, id uuid.UUID) error
}
