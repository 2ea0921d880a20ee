package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gosuda/glassbox/internal/domain"
)

type AnonymousClientRepo struct {
	pool *pgxpool.Pool
}

func NewAnonymousClientRepo(pool *pgxpool.Pool) *AnonymousClientRepo {
	return &AnonymousClientRepo{pool: pool}
}

const clientColumns = `id, client_id, device_fingerprint, metadata, first_seen_at, last_seen_at,
	session_count, is_blocked, blocked_reason, data_retention_days, consent_given`

func (r *AnonymousClientRepo) GetByClientID(ctx context.Context, clientID uuid.UUID) (*domain.AnonymousClient, error) {
	var c domain.AnonymousClient
	var metadata []byte

	err := r.pool.QueryRow(ctx,
		`SELECT `+clientColumns+` FROM anonymous_clients WHERE client_id = $1`,
		clientID,
	).Scan(
		&c.ID, &c.ClientID, &c.DeviceFingerprint, &metadata, &c.FirstSeenAt, &c.LastSeenAt,
		&c.SessionCount, &c.IsBlocked, &c.BlockedReason, &c.DataRetentionDays, &c.ConsentGiven,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("anonymousClientRepo.GetByClientID: %w", domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("anonymousClientRepo.GetByClientID: %w", err)
	}

	if len(metadata) > 0 {
		if err = json.Unmarshal(metadata, &c.Metadata); err != nil {
			return nil, fmt.Errorf("anonymousClientRepo.GetByClientID: unmarshal metadata: %w", err)
		}
	}

	return &c, nil
}

func (r *AnonymousClientRepo) Create(ctx context.Context, c *domain.AnonymousClient) error {
	metadata, err := json.Marshal(c.Metadata)
	if err != nil {
		return fmt.Errorf("anonymousClientRepo.Create: marshal metadata: %w", err)
	}

	_, err = r.pool.Exec(ctx,
		`INSERT INTO anonymous_clients (`+clientColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		c.ID, c.ClientID, c.DeviceFingerprint, metadata, c.FirstSeenAt, c.LastSeenAt,
		c.SessionCount, c.IsBlocked, c.BlockedReason, c.DataRetentionDays, c.ConsentGiven,
	)
	if err != nil {
		// Unique violation on client_id means a concurrent first request
		// won the insert.
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("anonymousClientRepo.Create: %w", domain.ErrConflict)
		}
		return fmt.Errorf("anonymousClientRepo.Create: %w", err)
	}

	return nil
}

func (r *AnonymousClientRepo) UpdateSeen(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE anonymous_clients
		 SET last_seen_at = now(), session_count = session_count + 1
		 WHERE id = $1`,
		id,
	)
	if err != nil {
		return fmt.Errorf("anonymousClientRepo.UpdateSeen: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("anonymousClientRepo.UpdateSeen: %w", domain.ErrNotFound)
	}

	return nil
}

func (r *AnonymousClientRepo) UpdateMetadata(ctx context.Context, id uuid.UUID, metadata map[string]any) error {
	payload, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("anonymousClientRepo.UpdateMetadata: marshal: %w", err)
	}

	tag, err := r.pool.Exec(ctx,
		`UPDATE anonymous_clients SET metadata = $1 WHERE id = $2`,
		payload, id,
	)
	if err != nil {
		return fmt.Errorf("anonymousClientRepo.UpdateMetadata: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("anonymousClientRepo.UpdateMetadata: %w", domain.ErrNotFound)
	}

	return nil
}

func (r *AnonymousClientRepo) Block(ctx context.Context, id uuid.UUID, reason string) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE anonymous_clients SET is_blocked = true, blocked_reason = $1 WHERE id = $2`,
		reason, id,
	)
	if err != nil {
		return fmt.Errorf("anonymousClientRepo.Block: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("anonymousClientRepo.Block: %w", domain.ErrNotFound)
	}

	return nil
}
