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

type SecurityEventRepo struct {
	pool *pgxpool.Pool
}

func NewSecurityEventRepo(pool *pgxpool.Pool) *SecurityEventRepo {
	return &SecurityEventRepo{pool: pool}
}

func (r *SecurityEventRepo) Record(ctx context.Context, e *domain.SecurityEvent) error {
	details, err := json.Marshal(e.Details)
	if err != nil {
		return fmt.Errorf("securityEventRepo.Record: marshal details: %w", err)
	}

	createdAt := e.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err = r.pool.Exec(ctx,
		`INSERT INTO security_events (id, client_id, event_type, ip_address, user_agent, details, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		e.ID, e.ClientID, e.EventType, e.IPAddress, e.UserAgent, details, createdAt,
	)
	if err != nil {
		return fmt.Errorf("securityEventRepo.Record: %w", err)
	}

	return nil
}

func (r *SecurityEventRepo) ListByClient(ctx context.Context, clientID uuid.UUID, limit, offset int) ([]*domain.SecurityEvent, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, client_id, event_type, ip_address, user_agent, details, created_at
		 FROM security_events WHERE client_id = $1
		 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		clientID, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("securityEventRepo.ListByClient: %w", err)
	}
	defer rows.Close()

	var events []*domain.SecurityEvent
	for rows.Next() {
		var e domain.SecurityEvent
		var details []byte

		err = rows.Scan(&e.ID, &e.ClientID, &e.EventType, &e.IPAddress, &e.UserAgent, &details, &e.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("securityEventRepo.ListByClient: %w", err)
		}

		if len(details) > 0 {
			if err = json.Unmarshal(details, &e.Details); err != nil {
				return nil, fmt.Errorf("securityEventRepo.ListByClient: unmarshal details: %w", err)
			}
		}

		events = append(events, &e)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("securityEventRepo.ListByClient: %w", err)
	}

	return events, nil
}
