// Package postgres implements the domain repositories over pgx.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gosuda/glassbox/internal/crypto"
	"github.com/gosuda/glassbox/internal/domain"
)

type Store struct {
	pool     *pgxpool.Pool
	sessions *SessionRepo
	traces   *TraceRepo
	steps    *TraceStepRepo
	clients  *AnonymousClientRepo
	events   *SecurityEventRepo
	agents   *AgentProfileRepo
}

// New dials the database and wires the repositories. codec encrypts trace
// text at rest; pass the storage boundary exactly once, here.
func New(ctx context.Context, dsn string, maxConns int32, codec *crypto.Codec) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres.New: parse config: %w", err)
	}

	cfg.MaxConns = maxConns

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres.New: connect: %w", err)
	}

	err = pool.Ping(ctx)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres.New: ping: %w", err)
	}

	return &Store{
		pool:     pool,
		sessions: NewSessionRepo(pool),
		traces:   NewTraceRepo(pool, codec),
		steps:    NewTraceStepRepo(pool),
		clients:  NewAnonymousClientRepo(pool),
		events:   NewSecurityEventRepo(pool),
		agents:   NewAgentProfileRepo(pool),
	}, nil
}

func (s *Store) Close() {
	s.pool.Close()
}

func (s *Store) Sessions() domain.SessionRepository              { return s.sessions }
func (s *Store) Traces() domain.TraceRepository                  { return s.traces }
func (s *Store) TraceSteps() domain.TraceStepRepository          { return s.steps }
func (s *Store) Clients() domain.AnonymousClientRepository       { return s.clients }
func (s *Store) SecurityEvents() domain.SecurityEventRepository  { return s.events }
func (s *Store) AgentProfiles() domain.AgentProfileRepository    { return s.agents }
