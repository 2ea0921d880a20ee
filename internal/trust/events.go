package trust

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/gosuda/glassbox/internal/domain"
)

// EventLog records security events. Persistence is best-effort: the
// authentication path must not fail because the event store is down, so
// storage errors are logged and swallowed. Every event is also mirrored to
// the structured log for operators tailing the service.
type EventLog struct {
	repo domain.SecurityEventRepository
}

func NewEventLog(repo domain.SecurityEventRepository) *EventLog {
	return &EventLog{repo: repo}
}

func (l *EventLog) Record(ctx context.Context, clientID uuid.UUID, eventType domain.SecurityEventType, ip, userAgent string, details map[string]any) {
	log.Warn().
		Str("client_id", clientID.String()).
		Str("event_type", string(eventType)).
		Str("ip", ip).
		Interface("details", details).
		Msg("security event")

	ev := &domain.SecurityEvent{
		ID:        uuid.New(),
		ClientID:  clientID,
		EventType: eventType,
		IPAddress: ip,
		UserAgent: userAgent,
		Details:   details,
	}
	if err := l.repo.Record(ctx, ev); err != nil {
		log.Error().Err(err).
			Str("event_type", string(eventType)).
			Msg("failed to persist security event")
	}
}
