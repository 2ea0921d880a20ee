package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gosuda/glassbox/internal/domain"
)

type SessionRepo struct {
	pool *pgxpool.Pool
}

func NewSessionRepo(pool *pgxpool.Pool) *SessionRepo {
	return &SessionRepo{pool: pool}
}

func (r *SessionRepo) Create(ctx context.Context, s *domain.Session) error {
	contextData, err := json.Marshal(s.ContextData)
	if err != nil {
		return fmt.Errorf("sessionRepo.Create: marshal context: %w", err)
	}

	_, err = r.pool.Exec(ctx,
		`INSERT INTO sessions (id, client_id, agent_id, context_data, is_active, created_at, last_active_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		s.ID, s.ClientID, s.AgentID, contextData, s.IsActive, s.CreatedAt, s.LastActiveAt,
	)
	if err != nil {
		return fmt.Errorf("sessionRepo.Create: %w", err)
	}

	return nil
}

func (r *SessionRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Session, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, client_id, agent_id, context_data, is_active, created_at, last_active_at
		 FROM sessions WHERE id = $1`,
		id,
	)

	s, err := scanSession(row)
	if err != nil {
		return nil, fmt.Errorf("sessionRepo.GetByID: %w", err)
	}

	return s, nil
}

func (r *SessionRepo) FindActiveByClient(ctx context.Context, clientID uuid.UUID) (*domain.Session, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, client_id, agent_id, context_data, is_active, created_at, last_active_at
		 FROM sessions WHERE client_id = $1 AND is_active = true
		 ORDER BY created_at DESC LIMIT 1`,
		clientID,
	)

	s, err := scanSession(row)
	if err != nil {
		return nil, fmt.Errorf("sessionRepo.FindActiveByClient: %w", err)
	}

	return s, nil
}

func (r *SessionRepo) Touch(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE sessions SET last_active_at = now() WHERE id = $1`,
		id,
	)
	if err != nil {
		return fmt.Errorf("sessionRepo.Touch: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("sessionRepo.Touch: %w", domain.ErrNotFound)
	}

	return nil
}

func scanSession(row pgx.Row) (*domain.Session, error) {
	var s domain.Session
	var contextData []byte

	err := row.Scan(&s.ID, &s.ClientID, &s.AgentID, &contextData, &s.IsActive, &s.CreatedAt, &s.LastActiveAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if len(contextData) > 0 {
		if err = json.Unmarshal(contextData, &s.ContextData); err != nil {
			return nil, fmt.Errorf("unmarshal context: %w", err)
		}
	}

	return &s, nil
}
