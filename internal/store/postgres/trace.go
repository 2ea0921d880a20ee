package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gosuda/glassbox/internal/crypto"
	"github.com/gosuda/glassbox/internal/domain"
)

// TraceRepo stores traces. User input and final output pass through the
// codec on the way in and out; nothing above this layer sees ciphertext.
type TraceRepo struct {
	pool  *pgxpool.Pool
	codec *crypto.Codec
}

func NewTraceRepo(pool *pgxpool.Pool, codec *crypto.Codec) *TraceRepo {
	return &TraceRepo{pool: pool, codec: codec}
}

const traceColumns = `id, session_id, agent_id, user_input, final_output, run_name,
	total_tokens, total_cost, latency_ms, is_successful, error_message,
	system_prompt_snapshot, model_config_snapshot, tags, environment,
	created_at, completed_at`

func (r *TraceRepo) Create(ctx context.Context, t *domain.Trace) error {
	userInput, err := r.codec.Encrypt(t.UserInput)
	if err != nil {
		return fmt.Errorf("traceRepo.Create: encrypt input: %w", err)
	}
	modelConfig, err := json.Marshal(t.ModelConfigSnapshot)
	if err != nil {
		return fmt.Errorf("traceRepo.Create: marshal model config: %w", err)
	}

	_, err = r.pool.Exec(ctx,
		`INSERT INTO traces (id, session_id, agent_id, user_input, final_output, run_name,
		        total_tokens, total_cost, latency_ms, is_successful, error_message,
		        system_prompt_snapshot, model_config_snapshot, tags, environment, created_at)
		 VALUES ($1, $2, $3, $4, '', $5, 0, 0, 0, false, '', $6, $7, $8, $9, $10)`,
		t.ID, t.SessionID, t.AgentID, userInput, t.RunName,
		t.SystemPromptSnapshot, modelConfig, t.Tags, t.Environment, t.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("traceRepo.Create: %w", err)
	}

	return nil
}

func (r *TraceRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Trace, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+traceColumns+` FROM traces WHERE id = $1`, id,
	)

	t, err := r.scanTrace(row)
	if err != nil {
		return nil, fmt.Errorf("traceRepo.GetByID: %w", err)
	}

	return t, nil
}

// Finalize applies the terminal write. The completed_at guard makes it
// exactly-once: a second call matches no rows.
func (r *TraceRepo) Finalize(ctx context.Context, id uuid.UUID, fin domain.TraceFinal) error {
	finalOutput, err := r.codec.Encrypt(fin.FinalOutput)
	if err != nil {
		return fmt.Errorf("traceRepo.Finalize: encrypt output: %w", err)
	}

	tag, err := r.pool.Exec(ctx,
		`UPDATE traces
		 SET final_output = $1, is_successful = $2, error_message = $3,
		     total_tokens = $4, total_cost = $5, latency_ms = $6, completed_at = $7
		 WHERE id = $8 AND completed_at IS NULL`,
		finalOutput, fin.IsSuccessful, fin.ErrorMessage,
		fin.TotalTokens, fin.TotalCost, fin.LatencyMS, fin.CompletedAt, id,
	)
	if err != nil {
		return fmt.Errorf("traceRepo.Finalize: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("traceRepo.Finalize: %w", domain.ErrNotFound)
	}

	return nil
}

func (r *TraceRepo) ListRecentCompleted(ctx context.Context, sessionID uuid.UUID, limit int) ([]*domain.Trace, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+traceColumns+`
		 FROM (
		   SELECT `+traceColumns+` FROM traces
		   WHERE session_id = $1 AND is_successful = true AND completed_at IS NOT NULL
		   ORDER BY created_at DESC LIMIT $2
		 ) recent
		 ORDER BY created_at ASC`,
		sessionID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("traceRepo.ListRecentCompleted: %w", err)
	}
	defer rows.Close()

	traces, err := r.collectTraces(rows)
	if err != nil {
		return nil, fmt.Errorf("traceRepo.ListRecentCompleted: %w", err)
	}

	return traces, nil
}

func (r *TraceRepo) List(ctx context.Context, limit, offset int, sessionID *uuid.UUID) ([]*domain.Trace, error) {
	var rows pgx.Rows
	var err error
	if sessionID != nil {
		rows, err = r.pool.Query(ctx,
			`SELECT `+traceColumns+` FROM traces
			 WHERE session_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
			*sessionID, limit, offset,
		)
	} else {
		rows, err = r.pool.Query(ctx,
			`SELECT `+traceColumns+` FROM traces
			 ORDER BY created_at DESC LIMIT $1 OFFSET $2`,
			limit, offset,
		)
	}
	if err != nil {
		return nil, fmt.Errorf("traceRepo.List: %w", err)
	}
	defer rows.Close()

	traces, err := r.collectTraces(rows)
	if err != nil {
		return nil, fmt.Errorf("traceRepo.List: %w", err)
	}

	return traces, nil
}

func (r *TraceRepo) Count(ctx context.Context, sessionID *uuid.UUID) (int64, error) {
	var count int64
	var err error
	if sessionID != nil {
		err = r.pool.QueryRow(ctx,
			`SELECT count(*) FROM traces WHERE session_id = $1`, *sessionID,
		).Scan(&count)
	} else {
		err = r.pool.QueryRow(ctx, `SELECT count(*) FROM traces`).Scan(&count)
	}
	if err != nil {
		return 0, fmt.Errorf("traceRepo.Count: %w", err)
	}

	return count, nil
}

func (r *TraceRepo) TokenStatsByClient(ctx context.Context, clientID uuid.UUID, since time.Time) (*domain.TokenStats, error) {
	var stats domain.TokenStats

	err := r.pool.QueryRow(ctx,
		`SELECT coalesce(sum(t.total_tokens), 0),
		        coalesce(sum(t.total_cost), 0),
		        count(t.id)
		 FROM traces t
		 JOIN sessions s ON s.id = t.session_id
		 WHERE s.client_id = $1 AND t.created_at >= $2`,
		clientID, since,
	).Scan(&stats.TotalTokens, &stats.TotalCostUSD, &stats.TraceCount)
	if err != nil {
		return nil, fmt.Errorf("traceRepo.TokenStatsByClient: %w", err)
	}

	if stats.TraceCount > 0 {
		stats.AvgTokensPerTrace = float64(stats.TotalTokens) / float64(stats.TraceCount)
	}

	return &stats, nil
}

func (r *TraceRepo) collectTraces(rows pgx.Rows) ([]*domain.Trace, error) {
	var traces []*domain.Trace
	for rows.Next() {
		t, err := r.scanTrace(rows)
		if err != nil {
			return nil, err
		}
		traces = append(traces, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return traces, nil
}

func (r *TraceRepo) scanTrace(row pgx.Row) (*domain.Trace, error) {
	var t domain.Trace
	var userInput, finalOutput string
	var modelConfig []byte

	err := row.Scan(
		&t.ID, &t.SessionID, &t.AgentID, &userInput, &finalOutput, &t.RunName,
		&t.TotalTokens, &t.TotalCost, &t.LatencyMS, &t.IsSuccessful, &t.ErrorMessage,
		&t.SystemPromptSnapshot, &modelConfig, &t.Tags, &t.Environment,
		&t.CreatedAt, &t.CompletedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if t.UserInput, err = r.codec.Decrypt(userInput); err != nil {
		return nil, fmt.Errorf("decrypt input: %w", err)
	}
	if t.FinalOutput, err = r.codec.Decrypt(finalOutput); err != nil {
		return nil, fmt.Errorf("decrypt output: %w", err)
	}
	if len(modelConfig) > 0 {
		if err = json.Unmarshal(modelConfig, &t.ModelConfigSnapshot); err != nil {
			return nil, fmt.Errorf("unmarshal model config: %w", err)
		}
	}

	return &t, nil
}
