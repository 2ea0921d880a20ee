package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// SecurityEventType names a trust-relevant anomaly.
type SecurityEventType string

const (
	EventRateLimitExceeded   SecurityEventType = "rate_limit_exceeded"
	EventFingerprintMismatch SecurityEventType = "fingerprint_mismatch"
	EventIPChanged           SecurityEventType = "ip_changed"
	EventBlockedAccess       SecurityEventType = "blocked_user_access_attempt"
	EventSuspiciousActivity  SecurityEventType = "suspicious_activity"
	EventHijackingSuspected  SecurityEventType = "session_hijacking_suspected"
)

// SecurityEvent is an append-only record of a trust decision or anomaly.
type SecurityEvent struct {
	ID        uuid.UUID
	ClientID  uuid.UUID // AnonymousClient.ID, or the asserted client identity when no record exists yet
	EventType SecurityEventType
	IPAddress string
	UserAgent string
	Details   map[string]any
	CreatedAt time.Time
}

// SecurityEventRepository stores security events.
type SecurityEventRepository interface {
	Record(ctx context.Context, e *SecurityEvent) error
	ListByClient(ctx context.Context, clientID uuid.UUID, limit, offset int) ([]*SecurityEvent, error)
}
