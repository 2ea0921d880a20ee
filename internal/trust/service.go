package trust

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/gosuda/glassbox/internal/domain"
)

var (
	// ErrInvalidClientID is returned when the presented token is not a UUID.
	ErrInvalidClientID = errors.New("trust: client id must be a valid UUID")
	// ErrBlocked is returned when the client record is blocked.
	ErrBlocked = errors.New("trust: client is blocked")
	// ErrFingerprintMismatch is returned in strict mode when the presented
	// fingerprint scores below the similarity threshold.
	ErrFingerprintMismatch = errors.New("trust: device fingerprint mismatch")
)

// RateLimitError reports which window rejected the request and when it
// opens again.
type RateLimitError struct {
	LimitType string
	Limit     int
	ResetAt   time.Time
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("trust: rate limit exceeded (%d per %s)", e.Limit, e.windowName())
}

func (e *RateLimitError) windowName() string {
	if e.LimitType == "rph" {
		return "hour"
	}
	return "minute"
}

// AccessRequest carries everything the trust checks need from one request.
type AccessRequest struct {
	ClientToken string
	Fingerprint string
	IP          string
	UserAgent   string
	Referrer    string
}

// Config tunes the trust checks.
type Config struct {
	RateLimitEnabled     bool
	RateLimitRPM         int
	RateLimitRPH         int
	FingerprintThreshold float64
	// FingerprintStrict rejects mismatches instead of only logging them.
	FingerprintStrict bool
}

// Service runs the full admission pipeline for anonymous clients: token
// parsing, rate limiting, record lookup or creation, blocked check,
// fingerprint continuity, and IP-change detection.
type Service struct {
	clients domain.AnonymousClientRepository
	events  *EventLog
	limiter *RateLimiter
	cfg     Config
}

func NewService(clients domain.AnonymousClientRepository, events *EventLog, limiter *RateLimiter, cfg Config) *Service {
	return &Service{
		clients: clients,
		events:  events,
		limiter: limiter,
		cfg:     cfg,
	}
}

// RateKey is the limiter key for a client identity. Rate limiting keys on
// the asserted identity before any database work, so unknown and known
// clients burn the same budget.
func RateKey(clientID uuid.UUID) string {
	return "client:" + clientID.String()
}

// Authenticate runs the trust checks in order and returns the admitted
// client record. Checks that only degrade confidence (fingerprint drift in
// lenient mode, IP changes) log security events but do not reject.
func (s *Service) Authenticate(ctx context.Context, req AccessRequest) (*domain.AnonymousClient, error) {
	clientID, err := uuid.Parse(strings.TrimSpace(req.ClientToken))
	if err != nil {
		return nil, ErrInvalidClientID
	}

	if s.cfg.RateLimitEnabled {
		if d := s.limiter.Check(RateKey(clientID)); !d.Allowed {
			s.events.Record(ctx, clientID, domain.EventRateLimitExceeded, req.IP, req.UserAgent, map[string]any{
				"limit_type": d.LimitType,
				"limit":      d.Limit,
				"reset_at":   d.ResetAt.UTC().Format(time.RFC3339),
			})
			return nil, &RateLimitError{LimitType: d.LimitType, Limit: d.Limit, ResetAt: d.ResetAt}
		}
	}

	client, err := s.clients.GetByClientID(ctx, clientID)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		client, err = s.register(ctx, clientID, req)
		if err != nil {
			return nil, err
		}
		return client, nil
	case err != nil:
		return nil, fmt.Errorf("trust.Service.Authenticate: %w", err)
	}

	if client.IsBlocked {
		s.events.Record(ctx, client.ID, domain.EventBlockedAccess, req.IP, req.UserAgent, map[string]any{
			"reason": client.BlockedReason,
		})
		return nil, fmt.Errorf("%w: %s", ErrBlocked, client.BlockedReason)
	}

	if err := s.checkFingerprint(ctx, client, req); err != nil {
		return nil, err
	}
	s.checkIPChange(ctx, client, req)

	if err := s.clients.UpdateSeen(ctx, client.ID); err != nil {
		return nil, fmt.Errorf("trust.Service.Authenticate: %w", err)
	}

	return client, nil
}

func (s *Service) register(ctx context.Context, clientID uuid.UUID, req AccessRequest) (*domain.AnonymousClient, error) {
	now := time.Now().UTC()
	client := &domain.AnonymousClient{
		ID:                uuid.New(),
		ClientID:          clientID,
		DeviceFingerprint: req.Fingerprint,
		Metadata: map[string]any{
			"ip":         req.IP,
			"user_agent": req.UserAgent,
			"referrer":   req.Referrer,
		},
		FirstSeenAt:       now,
		LastSeenAt:        now,
		SessionCount:      1,
		DataRetentionDays: 30,
	}
	if err := s.clients.Create(ctx, client); err != nil {
		// Two first requests racing on the same identity: the loser
		// re-reads the winner's record.
		if errors.Is(err, domain.ErrConflict) {
			existing, getErr := s.clients.GetByClientID(ctx, clientID)
			if getErr != nil {
				return nil, fmt.Errorf("trust.Service.register: %w", getErr)
			}
			return existing, nil
		}
		return nil, fmt.Errorf("trust.Service.register: %w", err)
	}

	log.Info().Str("client_id", clientID.String()).Msg("registered anonymous client")
	return client, nil
}

func (s *Service) checkFingerprint(ctx context.Context, client *domain.AnonymousClient, req AccessRequest) error {
	// An absent fingerprint on either side carries no signal; the check
	// runs only when both are present.
	if client.DeviceFingerprint == "" || req.Fingerprint == "" {
		return nil
	}

	score := Similarity(client.DeviceFingerprint, req.Fingerprint)
	if score >= s.cfg.FingerprintThreshold {
		return nil
	}

	s.events.Record(ctx, client.ID, domain.EventFingerprintMismatch, req.IP, req.UserAgent, map[string]any{
		"similarity": score,
		"threshold":  s.cfg.FingerprintThreshold,
		"strict":     s.cfg.FingerprintStrict,
	})
	if s.cfg.FingerprintStrict {
		return ErrFingerprintMismatch
	}

	return nil
}

func (s *Service) checkIPChange(ctx context.Context, client *domain.AnonymousClient, req AccessRequest) {
	prevIP, _ := client.Metadata["ip"].(string)
	if req.IP == "" || prevIP == "" || prevIP == req.IP {
		return
	}

	s.events.Record(ctx, client.ID, domain.EventIPChanged, req.IP, req.UserAgent, map[string]any{
		"previous_ip": prevIP,
		"new_ip":      req.IP,
	})

	meta := make(map[string]any, len(client.Metadata)+2)
	for k, v := range client.Metadata {
		meta[k] = v
	}
	meta["ip"] = req.IP
	meta["previous_ip"] = prevIP
	meta["ip_changed_at"] = time.Now().UTC().Format(time.RFC3339)
	if req.UserAgent != "" {
		meta["user_agent"] = req.UserAgent
	}

	if err := s.clients.UpdateMetadata(ctx, client.ID, meta); err != nil {
		log.Error().Err(err).Str("client_id", client.ClientID.String()).Msg("failed to record ip change")
		return
	}
	client.Metadata = meta
}
