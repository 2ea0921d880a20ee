package v1

import (
	"context"
	"errors"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/google/uuid"

	"github.com/gosuda/glassbox/internal/domain"
)

type GetSessionInput struct {
	ID uuid.UUID `path:"id" doc:"Session ID"`
}

type SessionBody struct {
	ID           uuid.UUID `json:"id"`
	ClientID     uuid.UUID `json:"client_id"`
	AgentID      uuid.UUID `json:"agent_id"`
	IsActive     bool      `json:"is_active"`
	CreatedAt    string    `json:"created_at"`
	LastActiveAt string    `json:"last_active_at"`
}

type GetSessionOutput struct {
	Body SessionBody
}

type ListSessionTracesInput struct {
	ID     uuid.UUID `path:"id" doc:"Session ID"`
	Limit  int       `query:"limit" default:"20" minimum:"1" maximum:"100" doc:"Page size"`
	Offset int       `query:"offset" default:"0" minimum:"0" doc:"Page offset"`
}

type TraceBody struct {
	ID           uuid.UUID        `json:"id"`
	SessionID    uuid.UUID        `json:"session_id"`
	AgentID      uuid.UUID        `json:"agent_id"`
	UserInput    string           `json:"user_input"`
	FinalOutput  string           `json:"final_output"`
	RunName      string           `json:"run_name,omitempty"`
	TotalTokens  int              `json:"total_tokens"`
	TotalCost    float64          `json:"total_cost"`
	LatencyMS    int              `json:"latency_ms"`
	IsSuccessful bool             `json:"is_successful"`
	ErrorMessage string           `json:"error_message,omitempty"`
	Environment  string           `json:"environment,omitempty"`
	CreatedAt    string           `json:"created_at"`
	CompletedAt  string           `json:"completed_at,omitempty"`
	Steps        []*TraceStepBody `json:"steps,omitempty"`
}

type TraceStepBody struct {
	ID            uuid.UUID       `json:"id"`
	SequenceOrder int             `json:"sequence_order"`
	StepType      domain.StepType `json:"step_type"`
	StepName      string          `json:"step_name,omitempty"`
	InputPayload  map[string]any  `json:"input_payload,omitempty"`
	OutputPayload map[string]any  `json:"output_payload,omitempty"`
	LatencyMS     int             `json:"latency_ms"`
	Tokens        int             `json:"tokens"`
	CostUSD       float64         `json:"cost_usd"`
	IsError       bool            `json:"is_error"`
	ErrorMessage  string          `json:"error_message,omitempty"`
}

type ListTracesInput struct {
	Limit  int       `query:"limit" default:"20" minimum:"1" maximum:"100" doc:"Page size"`
	Offset int       `query:"offset" default:"0" minimum:"0" doc:"Page offset"`
	// huma rejects pointer query parameters at registration time, so
	// absence is represented by the zero UUID instead of nil.
	SessionID uuid.UUID `query:"session_id" doc:"Filter by session"`
}

type ListTracesOutput struct {
	Body struct {
		Traces []*TraceBody `json:"traces"`
		Total  int64        `json:"total"`
	}
}

type GetTraceInput struct {
	ID uuid.UUID `path:"id" doc:"Trace ID"`
}

type GetTraceOutput struct {
	Body *TraceBody
}

// RegisterTraceRoutes wires the glass-box read surface: sessions, trace
// lists, and full trace detail with ordered steps.
func RegisterTraceRoutes(api huma.API, store DataStore) {
	huma.Register(api, huma.Operation{
		OperationID: "get-session",
		Method:      http.MethodGet,
		Path:        "/sessions/{id}",
		Summary:     "Get a session",
		Tags:        []string{"Traces"},
	}, func(ctx context.Context, input *GetSessionInput) (*GetSessionOutput, error) {
		session, err := store.Sessions().GetByID(ctx, input.ID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return nil, huma.Error404NotFound("session not found")
			}
			return nil, huma.Error500InternalServerError("failed to load session")
		}

		out := &GetSessionOutput{}
		out.Body = SessionBody{
			ID:           session.ID,
			ClientID:     session.ClientID,
			AgentID:      session.AgentID,
			IsActive:     session.IsActive,
			CreatedAt:    session.CreatedAt.Format(timeFormat),
			LastActiveAt: session.LastActiveAt.Format(timeFormat),
		}
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-session-traces",
		Method:      http.MethodGet,
		Path:        "/sessions/{id}/traces",
		Summary:     "List traces for a session",
		Tags:        []string{"Traces"},
	}, func(ctx context.Context, input *ListSessionTracesInput) (*ListTracesOutput, error) {
		if _, err := store.Sessions().GetByID(ctx, input.ID); err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return nil, huma.Error404NotFound("session not found")
			}
			return nil, huma.Error500InternalServerError("failed to load session")
		}

		sessionID := input.ID
		return listTraces(ctx, store, input.Limit, input.Offset, &sessionID)
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-traces",
		Method:      http.MethodGet,
		Path:        "/traces",
		Summary:     "List traces",
		Tags:        []string{"Traces"},
	}, func(ctx context.Context, input *ListTracesInput) (*ListTracesOutput, error) {
		var sessionID *uuid.UUID
		if input.SessionID != uuid.Nil {
			sessionID = &input.SessionID
		}
		return listTraces(ctx, store, input.Limit, input.Offset, sessionID)
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-trace",
		Method:      http.MethodGet,
		Path:        "/traces/{id}",
		Summary:     "Get a trace with its ordered steps",
		Tags:        []string{"Traces"},
	}, func(ctx context.Context, input *GetTraceInput) (*GetTraceOutput, error) {
		trace, err := store.Traces().GetByID(ctx, input.ID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return nil, huma.Error404NotFound("trace not found")
			}
			return nil, huma.Error500InternalServerError("failed to load trace")
		}

		steps, err := store.TraceSteps().ListByTrace(ctx, trace.ID)
		if err != nil {
			return nil, huma.Error500InternalServerError("failed to load trace steps")
		}

		body := traceBody(trace)
		body.Steps = make([]*TraceStepBody, 0, len(steps))
		for _, s := range steps {
			body.Steps = append(body.Steps, &TraceStepBody{
				ID:            s.ID,
				SequenceOrder: s.SequenceOrder,
				StepType:      s.StepType,
				StepName:      s.StepName,
				InputPayload:  s.InputPayload,
				OutputPayload: s.OutputPayload,
				LatencyMS:     s.LatencyMS,
				Tokens:        s.Tokens,
				CostUSD:       s.CostUSD,
				IsError:       s.IsError,
				ErrorMessage:  s.ErrorMessage,
			})
		}

		return &GetTraceOutput{Body: body}, nil
	})
}

const timeFormat = "2006-01-02T15:04:05.999999Z07:00"

func listTraces(ctx context.Context, store DataStore, limit, offset int, sessionID *uuid.UUID) (*ListTracesOutput, error) {
	traces, err := store.Traces().List(ctx, limit, offset, sessionID)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to list traces")
	}
	total, err := store.Traces().Count(ctx, sessionID)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to count traces")
	}

	out := &ListTracesOutput{}
	out.Body.Traces = make([]*TraceBody, 0, len(traces))
	for _, t := range traces {
		out.Body.Traces = append(out.Body.Traces, traceBody(t))
	}
	out.Body.Total = total
	return out, nil
}

func traceBody(t *domain.Trace) *TraceBody {
	body := &TraceBody{
		ID:           t.ID,
		SessionID:    t.SessionID,
		AgentID:      t.AgentID,
		UserInput:    t.UserInput,
		FinalOutput:  t.FinalOutput,
		RunName:      t.RunName,
		TotalTokens:  t.TotalTokens,
		TotalCost:    t.TotalCost,
		LatencyMS:    t.LatencyMS,
		IsSuccessful: t.IsSuccessful,
		ErrorMessage: t.ErrorMessage,
		Environment:  t.Environment,
		CreatedAt:    t.CreatedAt.Format(timeFormat),
	}
	if t.CompletedAt != nil {
		body.CompletedAt = t.CompletedAt.Format(timeFormat)
	}
	return body
}
