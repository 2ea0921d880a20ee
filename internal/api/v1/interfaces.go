package v1

import (
	"context"

	"github.com/google/uuid"

	"github.com/gosuda/glassbox/internal/domain"
	"github.com/gosuda/glassbox/internal/engine"
)

// DataStore abstracts the repository accessor pattern for handler testing.
// *postgres.Store satisfies this interface.
type DataStore interface {
	Sessions() domain.SessionRepository
	Traces() domain.TraceRepository
	TraceSteps() domain.TraceStepRepository
	Clients() domain.AnonymousClientRepository
	AgentProfiles() domain.AgentProfileRepository
}

// AgentEngine abstracts the execution loop for handler testing.
// *engine.Engine satisfies this interface.
type AgentEngine interface {
	Run(ctx context.Context, sessionID uuid.UUID, userInput string, maxIterations int) (*engine.Result, error)
	Stream(ctx context.Context, sessionID uuid.UUID, userInput string, maxIterations int) <-chan engine.Event
}
