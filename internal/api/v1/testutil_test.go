package v1_test

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/gosuda/glassbox/internal/domain"
	"github.com/gosuda/glassbox/internal/engine"
	"github.com/gosuda/glassbox/internal/server/middleware"
)

// ---------------------------------------------------------------------------
// Context helpers — inject the admitted client for DoCtx
// ---------------------------------------------------------------------------

func clientCtx(client *domain.AnonymousClient) context.Context {
	return context.WithValue(context.Background(), middleware.ContextKeyClient, client)
}

func testClient() *domain.AnonymousClient {
	return &domain.AnonymousClient{
		ID:       uuid.New(),
		ClientID: uuid.New(),
	}
}

// ---------------------------------------------------------------------------
// Mock DataStore
// ---------------------------------------------------------------------------

type mockDataStore struct {
	sessions domain.SessionRepository
	traces   domain.TraceRepository
	steps    domain.TraceStepRepository
	clients  domain.AnonymousClientRepository
	agents   domain.AgentProfileRepository
}

func (m *mockDataStore) Sessions() domain.SessionRepository           { return m.sessions }
func (m *mockDataStore) Traces() domain.TraceRepository               { return m.traces }
func (m *mockDataStore) TraceSteps() domain.TraceStepRepository       { return m.steps }
func (m *mockDataStore) Clients() domain.AnonymousClientRepository    { return m.clients }
func (m *mockDataStore) AgentProfiles() domain.AgentProfileRepository { return m.agents }

// ---------------------------------------------------------------------------
// Mock SessionRepository
// ---------------------------------------------------------------------------

type mockSessionRepo struct {
	createFunc             func(ctx context.Context, s *domain.Session) error
	getByIDFunc            func(ctx context.Context, id uuid.UUID) (*domain.Session, error)
	findActiveByClientFunc func(ctx context.Context, clientID uuid.UUID) (*domain.Session, error)
	touchFunc              func(ctx context.Context, id uuid.UUID) error
}

func (m *mockSessionRepo) Create(ctx context.Context, s *domain.Session) error {
	return m.createFunc(ctx, s)
}

func (m *mockSessionRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Session, error) {
	return m.getByIDFunc(ctx, id)
}

func (m *mockSessionRepo) FindActiveByClient(ctx context.Context, clientID uuid.UUID) (*domain.Session, error) {
	return m.findActiveByClientFunc(ctx, clientID)
}

func (m *mockSessionRepo) Touch(ctx context.Context, id uuid.UUID) error {
	return m.touchFunc(ctx, id)
}

// ---------------------------------------------------------------------------
// Mock TraceRepository
// ---------------------------------------------------------------------------

type mockTraceRepo struct {
	createFunc              func(ctx context.Context, t *domain.Trace) error
	getByIDFunc             func(ctx context.Context, id uuid.UUID) (*domain.Trace, error)
	finalizeFunc            func(ctx context.Context, id uuid.UUID, fin domain.TraceFinal) error
	listRecentCompletedFunc func(ctx context.Context, sessionID uuid.UUID, limit int) ([]*domain.Trace, error)
	listFunc                func(ctx context.Context, limit, offset int, sessionID *uuid.UUID) ([]*domain.Trace, error)
	countFunc               func(ctx context.Context, sessionID *uuid.UUID) (int64, error)
	tokenStatsByClientFunc  func(ctx context.Context, clientID uuid.UUID, since time.Time) (*domain.TokenStats, error)
}

func (m *mockTraceRepo) Create(ctx context.Context, t *domain.Trace) error {
	return m.createFunc(ctx, t)
}

func (m *mockTraceRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Trace, error) {
	return m.getByIDFunc(ctx, id)
}

func (m *mockTraceRepo) Finalize(ctx context.Context, id uuid.UUID, fin domain.TraceFinal) error {
	return m.finalizeFunc(ctx, id, fin)
}

func (m *mockTraceRepo) ListRecentCompleted(ctx context.Context, sessionID uuid.UUID, limit int) ([]*domain.Trace, error) {
	return m.listRecentCompletedFunc(ctx, sessionID, limit)
}

func (m *mockTraceRepo) List(ctx context.Context, limit, offset int, sessionID *uuid.UUID) ([]*domain.Trace, error) {
	return m.listFunc(ctx, limit, offset, sessionID)
}

func (m *mockTraceRepo) Count(ctx context.Context, sessionID *uuid.UUID) (int64, error) {
	return m.countFunc(ctx, sessionID)
}

func (m *mockTraceRepo) TokenStatsByClient(ctx context.Context, clientID uuid.UUID, since time.Time) (*domain.TokenStats, error) {
	return m.tokenStatsByClientFunc(ctx, clientID, since)
}

// ---------------------------------------------------------------------------
// Mock TraceStepRepository
// ---------------------------------------------------------------------------

type mockTraceStepRepo struct {
	createFunc        func(ctx context.Context, s *domain.TraceStep) error
	updateMetricsFunc func(ctx context.Context, id uuid.UUID, latencyMS, tokens int, costUSD float64, completedAt time.Time) error
	listByTraceFunc   func(ctx context.Context, traceID uuid.UUID) ([]*domain.TraceStep, error)
}

func (m *mockTraceStepRepo) Create(ctx context.Context, s *domain.TraceStep) error {
	return m.createFunc(ctx, s)
}

func (m *mockTraceStepRepo) UpdateMetrics(ctx context.Context, id uuid.UUID, latencyMS, tokens int, costUSD float64, completedAt time.Time) error {
	return m.updateMetricsFunc(ctx, id, latencyMS, tokens, costUSD, completedAt)
}

func (m *mockTraceStepRepo) ListByTrace(ctx context.Context, traceID uuid.UUID) ([]*domain.TraceStep, error) {
	return m.listByTraceFunc(ctx, traceID)
}

// ---------------------------------------------------------------------------
// Mock AnonymousClientRepository
// ---------------------------------------------------------------------------

type mockClientRepo struct {
	getByClientIDFunc  func(ctx context.Context, clientID uuid.UUID) (*domain.AnonymousClient, error)
	createFunc         func(ctx context.Context, c *domain.AnonymousClient) error
	updateSeenFunc     func(ctx context.Context, id uuid.UUID) error
	updateMetadataFunc func(ctx context.Context, id uuid.UUID, metadata map[string]any) error
	blockFunc          func(ctx context.Context, id uuid.UUID, reason string) error
}

func (m *mockClientRepo) GetByClientID(ctx context.Context, clientID uuid.UUID) (*domain.AnonymousClient, error) {
	return m.getByClientIDFunc(ctx, clientID)
}

func (m *mockClientRepo) Create(ctx context.Context, c *domain.AnonymousClient) error {
	return m.createFunc(ctx, c)
}

func (m *mockClientRepo) UpdateSeen(ctx context.Context, id uuid.UUID) error {
	return m.updateSeenFunc(ctx, id)
}

func (m *mockClientRepo) UpdateMetadata(ctx context.Context, id uuid.UUID, metadata map[string]any) error {
	return m.updateMetadataFunc(ctx, id, metadata)
}

func (m *mockClientRepo) Block(ctx context.Context, id uuid.UUID, reason string) error {
	return m.blockFunc(ctx, id, reason)
}

// ---------------------------------------------------------------------------
// Mock AgentProfileRepository
// ---------------------------------------------------------------------------

type mockAgentProfileRepo struct {
	createFunc    func(ctx context.Context, p *domain.AgentProfile) error
	getByIDFunc   func(ctx context.Context, id uuid.UUID) (*domain.AgentProfile, error)
	getBySlugFunc func(ctx context.Context, slug string) (*domain.AgentProfile, error)
}

func (m *mockAgentProfileRepo) Create(ctx context.Context, p *domain.AgentProfile) error {
	return m.createFunc(ctx, p)
}

func (m *mockAgentProfileRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.AgentProfile, error) {
	return m.getByIDFunc(ctx, id)
}

func (m *mockAgentProfileRepo) GetBySlug(ctx context.Context, slug string) (*domain.AgentProfile, error) {
	return m.getBySlugFunc(ctx, slug)
}

// ---------------------------------------------------------------------------
// Mock AgentEngine
// ---------------------------------------------------------------------------

type mockAgentEngine struct {
	runFunc    func(ctx context.Context, sessionID uuid.UUID, userInput string, maxIterations int) (*engine.Result, error)
	streamFunc func(ctx context.Context, sessionID uuid.UUID, userInput string, maxIterations int) <-chan engine.Event
}

func (m *mockAgentEngine) Run(ctx context.Context, sessionID uuid.UUID, userInput string, maxIterations int) (*engine.Result, error) {
	return m.runFunc(ctx, sessionID, userInput, maxIterations)
}

func (m *mockAgentEngine) Stream(ctx context.Context, sessionID uuid.UUID, userInput string, maxIterations int) <-chan engine.Event {
	return m.streamFunc(ctx, sessionID, userInput, maxIterations)
}
