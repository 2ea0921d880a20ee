package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gosuda/glassbox/internal/domain"
)

type TraceStepRepo struct {
	pool *pgxpool.Pool
}

func NewTraceStepRepo(pool *pgxpool.Pool) *TraceStepRepo {
	return &TraceStepRepo{pool: pool}
}

func (r *TraceStepRepo) Create(ctx context.Context, s *domain.TraceStep) error {
	input, err := json.Marshal(s.InputPayload)
	if err != nil {
		return fmt.Errorf("traceStepRepo.Create: marshal input: %w", err)
	}
	output, err := json.Marshal(s.OutputPayload)
	if err != nil {
		return fmt.Errorf("traceStepRepo.Create: marshal output: %w", err)
	}

	_, err = r.pool.Exec(ctx,
		`INSERT INTO trace_steps (id, trace_id, sequence_order, step_type, step_name,
		        input_payload, output_payload, latency_ms, tokens, cost_usd,
		        is_error, error_message, started_at, completed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		s.ID, s.TraceID, s.SequenceOrder, s.StepType, s.StepName,
		input, output, s.LatencyMS, s.Tokens, s.CostUSD,
		s.IsError, s.ErrorMessage, s.StartedAt, s.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("traceStepRepo.Create: %w", err)
	}

	return nil
}

func (r *TraceStepRepo) UpdateMetrics(ctx context.Context, id uuid.UUID, latencyMS, tokens int, costUSD float64, completedAt time.Time) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE trace_steps
		 SET latency_ms = $1, tokens = $2, cost_usd = $3, completed_at = $4
		 WHERE id = $5`,
		latencyMS, tokens, costUSD, completedAt, id,
	)
	if err != nil {
		return fmt.Errorf("traceStepRepo.UpdateMetrics: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("traceStepRepo.UpdateMetrics: %w", domain.ErrNotFound)
	}

	return nil
}

func (r *TraceStepRepo) ListByTrace(ctx context.Context, traceID uuid.UUID) ([]*domain.TraceStep, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, trace_id, sequence_order, step_type, step_name,
		        input_payload, output_payload, latency_ms, tokens, cost_usd,
		        is_error, error_message, started_at, completed_at
		 FROM trace_steps WHERE trace_id = $1
		 ORDER BY sequence_order ASC`,
		traceID,
	)
	if err != nil {
		return nil, fmt.Errorf("traceStepRepo.ListByTrace: %w", err)
	}
	defer rows.Close()

	var steps []*domain.TraceStep
	for rows.Next() {
		var s domain.TraceStep
		var input, output []byte

		err = rows.Scan(
			&s.ID, &s.TraceID, &s.SequenceOrder, &s.StepType, &s.StepName,
			&input, &output, &s.LatencyMS, &s.Tokens, &s.CostUSD,
			&s.IsError, &s.ErrorMessage, &s.StartedAt, &s.CompletedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("traceStepRepo.ListByTrace: %w", err)
		}

		if len(input) > 0 {
			if err = json.Unmarshal(input, &s.InputPayload); err != nil {
				return nil, fmt.Errorf("traceStepRepo.ListByTrace: unmarshal input: %w", err)
			}
		}
		if len(output) > 0 {
			if err = json.Unmarshal(output, &s.OutputPayload); err != nil {
				return nil, fmt.Errorf("traceStepRepo.ListByTrace: unmarshal output: %w", err)
			}
		}

		steps = append(steps, &s)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("traceStepRepo.ListByTrace: %w", err)
	}

	return steps, nil
}
