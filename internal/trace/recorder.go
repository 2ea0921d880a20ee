// Package trace persists the glass-box record of engine runs.
package trace

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/gosuda/glassbox/internal/domain"
)

// Recorder writes traces and their steps. It owns the snapshotting rule:
// the agent profile's prompt and model config are copied into the trace at
// creation, so later profile edits never rewrite history.
type Recorder struct {
	traces      domain.TraceRepository
	steps       domain.TraceStepRepository
	environment string
}

func NewRecorder(traces domain.TraceRepository, steps domain.TraceStepRepository, environment string) *Recorder {
	return &Recorder{
		traces:      traces,
		steps:       steps,
		environment: environment,
	}
}

// Begin opens a trace for one user turn.
func (r *Recorder) Begin(ctx context.Context, session *domain.Session, profile *domain.AgentProfile, userInput, runName string) (*domain.Trace, error) {
	cfg := make(map[string]any, len(profile.ModelConfig))
	for k, v := range profile.ModelConfig {
		cfg[k] = v
	}

	tr := &domain.Trace{
		ID:                   uuid.New(),
		SessionID:            session.ID,
		AgentID:              profile.ID,
		UserInput:            userInput,
		RunName:              runName,
		SystemPromptSnapshot: profile.SystemPrompt,
		ModelConfigSnapshot:  cfg,
		Environment:          r.environment,
		CreatedAt:            time.Now().UTC(),
	}
	if err := r.traces.Create(ctx, tr); err != nil {
		return nil, fmt.Errorf("trace.Recorder.Begin: %w", err)
	}

	return tr, nil
}

// Recent returns the session's most recent successfully completed traces in
// chronological order, for the engine's history window.
func (r *Recorder) Recent(ctx context.Context, sessionID uuid.UUID, limit int) ([]*domain.Trace, error) {
	traces, err := r.traces.ListRecentCompleted(ctx, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("trace.Recorder.Recent: %w", err)
	}
	return traces, nil
}

// Step appends one step to a trace and returns it for later metric updates.
func (r *Recorder) Step(ctx context.Context, traceID uuid.UUID, seq int, stepType domain.StepType, name string, input, output map[string]any) (*domain.TraceStep, error) {
	step := &domain.TraceStep{
		ID:            uuid.New(),
		TraceID:       traceID,
		SequenceOrder: seq,
		StepType:      stepType,
		StepName:      name,
		InputPayload:  input,
		OutputPayload: output,
		StartedAt:     time.Now().UTC(),
	}
	if err := r.steps.Create(ctx, step); err != nil {
		return nil, fmt.Errorf("trace.Recorder.Step: %w", err)
	}

	return step, nil
}

// StepMetrics closes a step with its cost accounting.
func (r *Recorder) StepMetrics(ctx context.Context, stepID uuid.UUID, latencyMS, tokens int, costUSD float64) error {
	if err := r.steps.UpdateMetrics(ctx, stepID, latencyMS, tokens, costUSD, time.Now().UTC()); err != nil {
		return fmt.Errorf("trace.Recorder.StepMetrics: %w", err)
	}
	return nil
}

// Finalize applies the exactly-once terminal write.
func (r *Recorder) Finalize(ctx context.Context, traceID uuid.UUID, fin domain.TraceFinal) error {
	if fin.CompletedAt.IsZero() {
		fin.CompletedAt = time.Now().UTC()
	}
	if err := r.traces.Finalize(ctx, traceID, fin); err != nil {
		return fmt.Errorf("trace.Recorder.Finalize: %w", err)
	}

	log.Debug().
		Str("trace_id", traceID.String()).
		Bool("successful", fin.IsSuccessful).
		Int("tokens", fin.TotalTokens).
		Int("latency_ms", fin.LatencyMS).
		Msg("trace finalized")
	return nil
}
