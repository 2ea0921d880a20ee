package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// StepType classifies an atomic event inside a trace.
type StepType string

const (
	StepThought    StepType = "thought"
	StepToolCall   StepType = "tool_call"
	StepToolResult StepType = "tool_result"
)

// Trace records one complete run of the tool-use loop for one user turn.
// A trace is mutable only by the engine that created it and only until it
// reaches a terminal state; after finalization it is append-only history.
type Trace struct {
	ID        uuid.UUID
	SessionID uuid.UUID
	AgentID   uuid.UUID

	UserInput   string
	FinalOutput string
	RunName     string

	TotalTokens int
	TotalCost   float64
	LatencyMS   int

	IsSuccessful bool
	ErrorMessage string

	// Snapshots captured at trace creation so the run stays replayable
	// even after the agent profile changes.
	SystemPromptSnapshot string
	ModelConfigSnapshot  map[string]any

	Tags        []string
	Environment string

	CreatedAt   time.Time
	CompletedAt *time.Time

	// Steps is populated on detail reads, ordered by SequenceOrder.
	Steps []*TraceStep
}

// TraceStep is one atomic event inside a trace's loop. SequenceOrder values
// for one trace form the total order 1..K with no gaps or repeats.
type TraceStep struct {
	ID            uuid.UUID
	TraceID       uuid.UUID
	SequenceOrder int

	StepType StepType
	StepName string

	InputPayload  map[string]any
	OutputPayload map[string]any

	LatencyMS int
	Tokens    int
	CostUSD   float64

	IsError      bool
	ErrorMessage string

	StartedAt   time.Time
	CompletedAt *time.Time
}

// TraceFinal carries the exactly-once terminal write of a trace.
type TraceFinal struct {
	FinalOutput  string
	IsSuccessful bool
	ErrorMessage string
	TotalTokens  int
	TotalCost    float64
	LatencyMS    int
	CompletedAt  time.Time
}

// TokenStats aggregates token/cost accounting across traces.
type TokenStats struct {
	TotalTokens       int
	TotalCostUSD      float64
	TraceCount        int
	AvgTokensPerTrace float64
}

// TraceRepository stores traces.
type TraceRepository interface {
	Create(ctx context.Context, t *Trace) error
	GetByID(ctx context.Context, id uuid.UUID) (*Trace, error)
	// Finalize applies the terminal write. It must affect exactly one row
	// or return ErrNotFound.
	Finalize(ctx context.Context, id uuid.UUID, fin TraceFinal) error
	// ListRecentCompleted returns the most recent successfully completed
	// traces for a session in chronological order, at most limit.
	ListRecentCompleted(ctx context.Context, sessionID uuid.UUID, limit int) ([]*Trace, error)
	// List returns traces newest-first, optionally filtered by session.
	List(ctx context.Context, limit, offset int, sessionID *uuid.UUID) ([]*Trace, error)
	Count(ctx context.Context, sessionID *uuid.UUID) (int64, error)
	// TokenStatsByClient aggregates tokens and cost over all traces owned
	// by the client's sessions since the given time.
	TokenStatsByClient(ctx context.Context, clientID uuid.UUID, since time.Time) (*TokenStats, error)
}

// TraceStepRepository stores the ordered steps of a trace.
type TraceStepRepository interface {
	Create(ctx context.Context, s *TraceStep) error
	UpdateMetrics(ctx context.Context, id uuid.UUID, latencyMS, tokens int, costUSD float64, completedAt time.Time) error
	ListByTrace(ctx context.Context, traceID uuid.UUID) ([]*TraceStep, error)
}
