// Package engine runs the bounded tool-use loop: the model either requests
// a tool invocation or produces a final answer, tool results feed back into
// the context, and every step lands in the trace store as it happens.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/gosuda/glassbox/internal/domain"
	"github.com/gosuda/glassbox/internal/pricing"
	"github.com/gosuda/glassbox/internal/provider"
	storeRedis "github.com/gosuda/glassbox/internal/store/redis"
	"github.com/gosuda/glassbox/internal/tool"
	"github.com/gosuda/glassbox/internal/trace"
)

// ErrMaxIterations is the loop safety valve: the model kept requesting
// tools without ever producing a final answer.
var ErrMaxIterations = errors.New("engine: max iterations exceeded")

// maxIterationsError carries the limit so the user-facing message can name
// it. It matches ErrMaxIterations under errors.Is.
type maxIterationsError struct{ limit int }

func (e *maxIterationsError) Error() string {
	return fmt.Sprintf("Exceeded %d iterations", e.limit)
}

func (e *maxIterationsError) Is(target error) bool {
	return target == ErrMaxIterations
}

// Publisher fans engine events out to live consumers. Publishing is
// best-effort; the loop never blocks or fails on it.
type Publisher interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

// Config bounds one loop run.
type Config struct {
	Model string
	// MaxIterations is the default and hard ceiling for the loop.
	MaxIterations int
	// HistoryTurns is how many completed traces seed the context window.
	HistoryTurns int
}

// Metrics is the token/cost accounting of one run.
type Metrics struct {
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	TotalTokens  int     `json:"total_tokens"`
	CostUSD      float64 `json:"cost_usd"`
	LatencyMS    int     `json:"latency_ms"`
}

// Result is the aggregate outcome of a non-streaming run. Status is
// "completed" or "failed"; a failed run still carries a well-formed
// user-facing response, never a raw provider error.
type Result struct {
	TraceID    uuid.UUID
	Response   string
	Status     string
	StepsTaken int
	Metrics    Metrics
}

// Engine executes agent turns against one session.
type Engine struct {
	sessions domain.SessionRepository
	agents   domain.AgentProfileRepository
	recorder *trace.Recorder
	model    provider.ModelProvider
	tools    *tool.Registry
	prices   *pricing.Table
	events   Publisher
	cfg      Config
}

func New(
	sessions domain.SessionRepository,
	agents domain.AgentProfileRepository,
	recorder *trace.Recorder,
	model provider.ModelProvider,
	tools *tool.Registry,
	prices *pricing.Table,
	events Publisher,
	cfg Config,
) *Engine {
	return &Engine{
		sessions: sessions,
		agents:   agents,
		recorder: recorder,
		model:    model,
		tools:    tools,
		prices:   prices,
		events:   events,
		cfg:      cfg,
	}
}

// Run executes one agent turn and returns the aggregate result. An error
// is returned only for preconditions (unknown session or agent); once the
// trace exists, every failure finalizes the trace and comes back as a
// failed Result.
func (e *Engine) Run(ctx context.Context, sessionID uuid.UUID, userInput string, maxIterations int) (*Result, error) {
	return e.execute(ctx, sessionID, userInput, maxIterations, nil)
}

// Stream executes one agent turn, delivering events as they occur. The
// returned channel is closed after the single terminal event. Consumer
// cancellation stops event delivery but already-persisted steps stand; the
// trace still gets its terminal write.
func (e *Engine) Stream(ctx context.Context, sessionID uuid.UUID, userInput string, maxIterations int) <-chan Event {
	ch := make(chan Event, 16)
	go func() {
		defer close(ch)

		emit := func(ev Event) {
			select {
			case ch <- ev:
			case <-ctx.Done():
			}
		}
		if _, err := e.execute(ctx, sessionID, userInput, maxIterations, emit); err != nil {
			emit(Event{Type: EventError, Message: userFacing(err)})
		}
	}()
	return ch
}

func userFacing(err error) string {
	if errors.Is(err, domain.ErrNotFound) {
		return "Session not found"
	}
	return "Error: " + err.Error()
}

// execute is the shared loop. emit is nil for aggregate runs.
func (e *Engine) execute(ctx context.Context, sessionID uuid.UUID, userInput string, maxIterations int, emit func(Event)) (*Result, error) {
	if emit == nil {
		emit = func(Event) {}
	}
	maxIter := e.cfg.MaxIterations
	if maxIterations > 0 && maxIterations < maxIter {
		maxIter = maxIterations
	}

	session, err := e.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("engine.Engine.execute: session: %w", err)
	}
	profile, err := e.agents.GetByID(ctx, session.AgentID)
	if err != nil {
		return nil, fmt.Errorf("engine.Engine.execute: agent: %w", err)
	}

	turns, err := e.historyTurns(ctx, session, profile)
	if err != nil {
		return nil, err
	}
	turns = append(turns, provider.Turn{Role: provider.RoleUser, Text: userInput})

	tr, err := e.recorder.Begin(ctx, session, profile, userInput, "")
	if err != nil {
		return nil, err
	}

	run := &loopRun{engine: e, trace: tr, sessionID: sessionID, emit: emit, started: time.Now()}
	defer run.safetyFinalize()

	run.publish(ctx, Event{Type: EventStart, SessionID: sessionID.String()})
	run.publish(ctx, Event{Type: EventThinking, Content: "Processing your request..."})

	if err := e.sessions.Touch(ctx, session.ID); err != nil {
		log.Warn().Err(err).Str("session_id", sessionID.String()).Msg("failed to touch session")
	}

	result := run.loop(ctx, turns, maxIter)
	return result, nil
}

// historyTurns rebuilds the bounded context window from the session's most
// recent completed traces, oldest first, plus the system prompt.
func (e *Engine) historyTurns(ctx context.Context, session *domain.Session, profile *domain.AgentProfile) ([]provider.Turn, error) {
	turns := []provider.Turn{}
	if profile.SystemPrompt != "" {
		turns = append(turns, provider.Turn{Role: provider.RoleSystem, Text: profile.SystemPrompt})
	}

	history, err := e.recorder.Recent(ctx, session.ID, e.cfg.HistoryTurns)
	if err != nil {
		return nil, fmt.Errorf("engine.Engine.historyTurns: %w", err)
	}
	for _, past := range history {
		turns = append(turns,
			provider.Turn{Role: provider.RoleUser, Text: past.UserInput},
			provider.Turn{Role: provider.RoleModel, Text: past.FinalOutput},
		)
	}

	return turns, nil
}

// loopRun holds the mutable state of one in-flight loop. Each loop owns its
// trace exclusively, so no locking is needed.
type loopRun struct {
	engine    *Engine
	trace     *domain.Trace
	sessionID uuid.UUID
	emit      func(Event)
	started   time.Time

	seq          int
	inputTokens  int
	outputTokens int
	cost         float64
	finalized    bool
}

func (r *loopRun) publish(ctx context.Context, ev Event) {
	r.emit(ev)
	if r.engine.events == nil {
		return
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		return
	}
	if err := r.engine.events.Publish(ctx, storeRedis.SessionChannel(r.sessionID), payload); err != nil {
		log.Debug().Err(err).Str("session_id", r.sessionID.String()).Msg("event publish failed")
	}
}

func (r *loopRun) loop(ctx context.Context, turns []provider.Turn, maxIter int) *Result {
	schemas := r.engine.tools.Schemas()

	for iter := 0; iter < maxIter; iter++ {
		callStart := time.Now()
		completion, err := r.engine.model.Generate(ctx, r.engine.cfg.Model, turns, schemas)
		if err != nil {
			return r.fail(ctx, err)
		}
		callLatency := int(time.Since(callStart).Milliseconds())
		callTokens := completion.InputTokens + completion.OutputTokens
		callCost := r.engine.prices.Cost(r.engine.cfg.Model, completion.InputTokens, completion.OutputTokens)
		r.inputTokens += completion.InputTokens
		r.outputTokens += completion.OutputTokens
		r.cost += callCost

		switch {
		case completion.ToolCall != nil:
			call := completion.ToolCall
			r.publish(ctx, Event{Type: EventToolCall, Name: call.Name, Args: call.Args})

			step := r.record(ctx, domain.StepToolCall, call.Name, call.Args, nil)
			if step != nil {
				r.metrics(ctx, step, callLatency, callTokens, callCost)
			}

			// Tool failures feed back into the context as error strings so
			// the model can self-correct; they never abort the loop.
			output, _ := r.engine.tools.Execute(call.Name, call.Args)
			r.publish(ctx, Event{Type: EventToolResult, Name: call.Name, Result: output})
			r.record(ctx, domain.StepToolResult, call.Name, nil, map[string]any{"result": output})

			turns = append(turns,
				provider.Turn{Role: provider.RoleModel, ToolCall: call},
				provider.Turn{Role: provider.RoleUser, ToolResponse: &provider.ToolResponse{Name: call.Name, Result: output}},
			)

		case completion.Text != "":
			step := r.record(ctx, domain.StepThought, "reasoning", nil, map[string]any{"thought": completion.Text})
			if step != nil {
				r.metrics(ctx, step, callLatency, callTokens, callCost)
			}

			r.publish(ctx, Event{Type: EventResponse, Content: completion.Text})
			return r.succeed(ctx, completion.Text)

		default:
			// Recognized shape but neither a tool call nor text.
			return r.fail(ctx, provider.ErrEmptyParts)
		}
	}

	return r.fail(ctx, &maxIterationsError{limit: maxIter})
}

func (r *loopRun) record(ctx context.Context, stepType domain.StepType, name string, input, output map[string]any) *domain.TraceStep {
	// seq advances only on a successful write so persisted sequence_order
	// values stay contiguous and StepsTaken counts only persisted steps.
	next := r.seq + 1
	step, err := r.engine.recorder.Step(ctx, r.trace.ID, next, stepType, name, input, output)
	if err != nil {
		log.Error().Err(err).
			Str("trace_id", r.trace.ID.String()).
			Int("sequence", next).
			Msg("failed to record trace step")
		return nil
	}
	r.seq = next
	return step
}

func (r *loopRun) metrics(ctx context.Context, step *domain.TraceStep, latencyMS, tokens int, cost float64) {
	if err := r.engine.recorder.StepMetrics(ctx, step.ID, latencyMS, tokens, cost); err != nil {
		log.Error().Err(err).Str("step_id", step.ID.String()).Msg("failed to record step metrics")
	}
}

func (r *loopRun) succeed(ctx context.Context, finalText string) *Result {
	r.finalize(ctx, domain.TraceFinal{
		FinalOutput:  finalText,
		IsSuccessful: true,
	})
	r.publish(ctx, Event{Type: EventComplete, Success: true, Steps: r.seq, Response: finalText})

	return r.result(finalText, "completed")
}

// fail classifies the error, finalizes the trace with the raw message for
// diagnostics and the fixed user-facing text as output, and emits the
// terminal error event. Metrics accumulated before the failure persist.
func (r *loopRun) fail(ctx context.Context, cause error) *Result {
	category, userMsg := provider.Classify(cause)
	log.Warn().Err(cause).
		Str("trace_id", r.trace.ID.String()).
		Str("category", string(category)).
		Msg("agent loop failed")

	r.finalize(ctx, domain.TraceFinal{
		FinalOutput:  userMsg,
		IsSuccessful: false,
		ErrorMessage: cause.Error(),
	})
	r.publish(ctx, Event{Type: EventError, Message: userMsg})

	return r.result(userMsg, "failed")
}

func (r *loopRun) result(response, status string) *Result {
	total := r.inputTokens + r.outputTokens
	return &Result{
		TraceID:    r.trace.ID,
		Response:   response,
		Status:     status,
		StepsTaken: r.seq,
		Metrics: Metrics{
			InputTokens:  r.inputTokens,
			OutputTokens: r.outputTokens,
			TotalTokens:  total,
			CostUSD:      r.cost,
			LatencyMS:    int(time.Since(r.started).Milliseconds()),
		},
	}
}

func (r *loopRun) finalize(ctx context.Context, fin domain.TraceFinal) {
	if r.finalized {
		return
	}
	r.finalized = true

	// The terminal write must land even when the caller's context is
	// already dead (consumer cancellation mid-loop).
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
	}

	fin.TotalTokens = r.inputTokens + r.outputTokens
	fin.TotalCost = r.cost
	fin.LatencyMS = int(time.Since(r.started).Milliseconds())
	fin.CompletedAt = time.Now().UTC()
	if err := r.engine.recorder.Finalize(ctx, r.trace.ID, fin); err != nil {
		log.Error().Err(err).Str("trace_id", r.trace.ID.String()).Msg("failed to finalize trace")
	}
}

// safetyFinalize closes the trace when the loop unwinds without a terminal
// write, typically consumer cancellation mid-stream. It runs on a fresh
// context since the caller's is already dead.
func (r *loopRun) safetyFinalize() {
	if r.finalized {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	r.finalize(ctx, domain.TraceFinal{
		FinalOutput:  "Request was interrupted",
		IsSuccessful: false,
		ErrorMessage: "interrupted",
	})
}
