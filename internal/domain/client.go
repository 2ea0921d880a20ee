package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// AnonymousClient is a self-asserted, passwordless client identity. The
// client generates its own cryptographically random UUID and presents it as
// a bearer credential; the fingerprint is a weak continuity signal.
type AnonymousClient struct {
	ID       uuid.UUID
	ClientID uuid.UUID // client-asserted identity

	DeviceFingerprint string
	// Metadata holds IP, user agent, referrer and similar request context.
	// Last write wins.
	Metadata map[string]any

	FirstSeenAt  time.Time
	LastSeenAt   time.Time
	SessionCount int

	IsBlocked     bool
	BlockedReason string

	DataRetentionDays int
	ConsentGiven      bool
}

// Expired reports whether the client's data has passed its retention
// horizon. Expired clients are queryable, not auto-deleted.
func (c *AnonymousClient) Expired(now time.Time) bool {
	horizon := c.LastSeenAt.AddDate(0, 0, c.DataRetentionDays)
	return now.After(horizon)
}

// AnonymousClientRepository stores anonymous client records.
type AnonymousClientRepository interface {
	GetByClientID(ctx context.Context, clientID uuid.UUID) (*AnonymousClient, error)
	Create(ctx context.Context, c *AnonymousClient) error
	// UpdateSeen refreshes LastSeenAt and increments SessionCount.
	UpdateSeen(ctx context.Context, id uuid.UUID) error
	UpdateMetadata(ctx context.Context, id uuid.UUID, metadata map[string]any) error
	Block(ctx context.Context, id uuid.UUID, reason string) error
}
