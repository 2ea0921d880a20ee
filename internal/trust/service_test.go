package trust

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gosuda/glassbox/internal/domain"
)

type stubClientRepo struct {
	mu      sync.Mutex
	byToken map[uuid.UUID]*domain.AnonymousClient

	createErr error
	// missFirstGet makes the first GetByClientID report ErrNotFound even
	// when the record exists, to simulate a lookup/insert race.
	missFirstGet bool
	seenCalls    int
}

func newStubClientRepo() *stubClientRepo {
	return &stubClientRepo{byToken: make(map[uuid.UUID]*domain.AnonymousClient)}
}

func (r *stubClientRepo) GetByClientID(_ context.Context, clientID uuid.UUID) (*domain.AnonymousClient, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.missFirstGet {
		r.missFirstGet = false
		return nil, domain.ErrNotFound
	}
	c, ok := r.byToken[clientID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (r *stubClientRepo) Create(_ context.Context, c *domain.AnonymousClient) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return r.createErr
	}
	if _, ok := r.byToken[c.ClientID]; ok {
		return domain.ErrConflict
	}
	cp := *c
	r.byToken[c.ClientID] = &cp
	return nil
}

func (r *stubClientRepo) UpdateSeen(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seenCalls++
	for _, c := range r.byToken {
		if c.ID == id {
			c.SessionCount++
			return nil
		}
	}
	return domain.ErrNotFound
}

func (r *stubClientRepo) UpdateMetadata(_ context.Context, id uuid.UUID, metadata map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.byToken {
		if c.ID == id {
			c.Metadata = metadata
			return nil
		}
	}
	return domain.ErrNotFound
}

func (r *stubClientRepo) Block(_ context.Context, id uuid.UUID, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.byToken {
		if c.ID == id {
			c.IsBlocked = true
			c.BlockedReason = reason
			return nil
		}
	}
	return domain.ErrNotFound
}

type stubEventRepo struct {
	mu     sync.Mutex
	events []*domain.SecurityEvent
}

func (r *stubEventRepo) Record(_ context.Context, e *domain.SecurityEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *stubEventRepo) ListByClient(context.Context, uuid.UUID, int, int) ([]*domain.SecurityEvent, error) {
	return nil, nil
}

func (r *stubEventRepo) types() []domain.SecurityEventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.SecurityEventType, len(r.events))
	for i, e := range r.events {
		out[i] = e.EventType
	}
	return out
}

func newTestService(clients *stubClientRepo, events *stubEventRepo, cfg Config) *Service {
	if cfg.RateLimitRPM == 0 {
		cfg.RateLimitRPM = 60
	}
	if cfg.RateLimitRPH == 0 {
		cfg.RateLimitRPH = 1000
	}
	if cfg.FingerprintThreshold == 0 {
		cfg.FingerprintThreshold = 0.7
	}
	return NewService(clients, NewEventLog(events), NewRateLimiter(cfg.RateLimitRPM, cfg.RateLimitRPH), cfg)
}

func TestService_Authenticate(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("rejects malformed client token", func(t *testing.T) {
		t.Parallel()

		svc := newTestService(newStubClientRepo(), &stubEventRepo{}, Config{})

		_, err := svc.Authenticate(ctx, AccessRequest{ClientToken: "not-a-uuid"})
		assert.ErrorIs(t, err, ErrInvalidClientID)
	})

	t.Run("registers unknown client", func(t *testing.T) {
		t.Parallel()

		clients := newStubClientRepo()
		events := &stubEventRepo{}
		svc := newTestService(clients, events, Config{})

		token := uuid.New()
		client, err := svc.Authenticate(ctx, AccessRequest{
			ClientToken: token.String(),
			Fingerprint: "fp-1",
			IP:          "203.0.113.7",
			UserAgent:   "agent/1.0",
		})
		require.NoError(t, err)
		assert.Equal(t, token, client.ClientID)
		assert.Equal(t, "fp-1", client.DeviceFingerprint)
		assert.Equal(t, 1, client.SessionCount)
		assert.Equal(t, "203.0.113.7", client.Metadata["ip"])
		assert.Empty(t, events.types())
	})

	t.Run("rejects blocked client and records event", func(t *testing.T) {
		t.Parallel()

		clients := newStubClientRepo()
		events := &stubEventRepo{}
		svc := newTestService(clients, events, Config{})

		token := uuid.New()
		existing := &domain.AnonymousClient{
			ID:            uuid.New(),
			ClientID:      token,
			IsBlocked:     true,
			BlockedReason: "abuse",
		}
		require.NoError(t, clients.Create(ctx, existing))

		_, err := svc.Authenticate(ctx, AccessRequest{ClientToken: token.String()})
		assert.ErrorIs(t, err, ErrBlocked)
		assert.Contains(t, err.Error(), "abuse")
		assert.Equal(t, []domain.SecurityEventType{domain.EventBlockedAccess}, events.types())
	})

	t.Run("fingerprint drift logs but admits in lenient mode", func(t *testing.T) {
		t.Parallel()

		clients := newStubClientRepo()
		events := &stubEventRepo{}
		svc := newTestService(clients, events, Config{})

		token := uuid.New()
		require.NoError(t, clients.Create(ctx, &domain.AnonymousClient{
			ID:                uuid.New(),
			ClientID:          token,
			DeviceFingerprint: "aaaaaaaa",
		}))

		client, err := svc.Authenticate(ctx, AccessRequest{ClientToken: token.String(), Fingerprint: "zzzzzzzz"})
		require.NoError(t, err)
		assert.NotNil(t, client)
		assert.Equal(t, []domain.SecurityEventType{domain.EventFingerprintMismatch}, events.types())
	})

	t.Run("fingerprint drift rejects in strict mode", func(t *testing.T) {
		t.Parallel()

		clients := newStubClientRepo()
		events := &stubEventRepo{}
		svc := newTestService(clients, events, Config{FingerprintStrict: true})

		token := uuid.New()
		require.NoError(t, clients.Create(ctx, &domain.AnonymousClient{
			ID:                uuid.New(),
			ClientID:          token,
			DeviceFingerprint: "aaaaaaaa",
		}))

		_, err := svc.Authenticate(ctx, AccessRequest{ClientToken: token.String(), Fingerprint: "zzzzzzzz"})
		assert.ErrorIs(t, err, ErrFingerprintMismatch)
		assert.Equal(t, []domain.SecurityEventType{domain.EventFingerprintMismatch}, events.types())
	})

	t.Run("absent request fingerprint carries no signal", func(t *testing.T) {
		t.Parallel()

		// A returning client may omit the optional fingerprint header;
		// that must not read as drift, even in strict mode.
		clients := newStubClientRepo()
		events := &stubEventRepo{}
		svc := newTestService(clients, events, Config{FingerprintStrict: true})

		token := uuid.New()
		require.NoError(t, clients.Create(ctx, &domain.AnonymousClient{
			ID:                uuid.New(),
			ClientID:          token,
			DeviceFingerprint: "fp-original",
		}))

		client, err := svc.Authenticate(ctx, AccessRequest{ClientToken: token.String()})
		require.NoError(t, err)
		assert.NotNil(t, client)
		assert.Empty(t, events.types())
	})

	t.Run("absent stored fingerprint carries no signal", func(t *testing.T) {
		t.Parallel()

		clients := newStubClientRepo()
		events := &stubEventRepo{}
		svc := newTestService(clients, events, Config{FingerprintStrict: true})

		token := uuid.New()
		require.NoError(t, clients.Create(ctx, &domain.AnonymousClient{
			ID:       uuid.New(),
			ClientID: token,
		}))

		_, err := svc.Authenticate(ctx, AccessRequest{ClientToken: token.String(), Fingerprint: "fp-new"})
		require.NoError(t, err)
		assert.Empty(t, events.types())
	})

	t.Run("near match passes the threshold", func(t *testing.T) {
		t.Parallel()

		clients := newStubClientRepo()
		events := &stubEventRepo{}
		svc := newTestService(clients, events, Config{FingerprintStrict: true})

		token := uuid.New()
		require.NoError(t, clients.Create(ctx, &domain.AnonymousClient{
			ID:                uuid.New(),
			ClientID:          token,
			DeviceFingerprint: "abcdefghij",
		}))

		_, err := svc.Authenticate(ctx, AccessRequest{ClientToken: token.String(), Fingerprint: "abcdefghiX"})
		require.NoError(t, err)
		assert.Empty(t, events.types())
	})

	t.Run("ip change logs event and updates metadata", func(t *testing.T) {
		t.Parallel()

		clients := newStubClientRepo()
		events := &stubEventRepo{}
		svc := newTestService(clients, events, Config{})

		token := uuid.New()
		require.NoError(t, clients.Create(ctx, &domain.AnonymousClient{
			ID:       uuid.New(),
			ClientID: token,
			Metadata: map[string]any{"ip": "192.0.2.1"},
		}))

		client, err := svc.Authenticate(ctx, AccessRequest{ClientToken: token.String(), IP: "198.51.100.9"})
		require.NoError(t, err)
		assert.Equal(t, []domain.SecurityEventType{domain.EventIPChanged}, events.types())
		assert.Equal(t, "198.51.100.9", client.Metadata["ip"])
		assert.Equal(t, "192.0.2.1", client.Metadata["previous_ip"])
		assert.NotEmpty(t, client.Metadata["ip_changed_at"])
	})

	t.Run("rate limit rejects before any lookup", func(t *testing.T) {
		t.Parallel()

		clients := newStubClientRepo()
		events := &stubEventRepo{}
		svc := newTestService(clients, events, Config{RateLimitEnabled: true, RateLimitRPM: 2, RateLimitRPH: 1000})

		token := uuid.New()
		req := AccessRequest{ClientToken: token.String(), Fingerprint: "fp"}
		for i := 0; i < 2; i++ {
			_, err := svc.Authenticate(ctx, req)
			require.NoError(t, err)
		}

		_, err := svc.Authenticate(ctx, req)
		var rle *RateLimitError
		require.ErrorAs(t, err, &rle)
		assert.Equal(t, "rpm", rle.LimitType)
		assert.Equal(t, 2, rle.Limit)
		assert.Contains(t, events.types(), domain.EventRateLimitExceeded)
	})

	t.Run("create conflict falls back to existing record", func(t *testing.T) {
		t.Parallel()

		clients := newStubClientRepo()
		events := &stubEventRepo{}
		svc := newTestService(clients, events, Config{})

		// The race: the lookup misses, the insert conflicts with the
		// winner's row, and the loser re-reads that row.
		token := uuid.New()
		winner := &domain.AnonymousClient{ID: uuid.New(), ClientID: token}
		clients.byToken[token] = winner
		clients.missFirstGet = true

		got, err := svc.Authenticate(ctx, AccessRequest{ClientToken: token.String()})
		require.NoError(t, err)
		assert.Equal(t, winner.ID, got.ID)
	})
}
