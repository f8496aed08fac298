package event

import (
	"context"
	"log/slog"
	"time"

	"go-token-gate/internal/model"
)

// AuditStore persists events for later inspection.
type AuditStore interface {
	Log(ctx context.Context, entry model.AuditEntry) error
}

// AuditSink writes every authentication event to the structured log.
// Security-relevant events are logged at warn level.
type AuditSink struct {
	logger      *slog.Logger
	store       AuditStore
	events      <-chan Event
	unsubscribe func()
}

// NewAuditSink subscribes immediately so no event published after this call
// is missed, even before Run starts. store may be nil.
func NewAuditSink(bus Bus, logger *slog.Logger, store AuditStore) *AuditSink {
	if logger == nil {
		logger = slog.Default()
	}
	events, unsubscribe := bus.Subscribe()
	return &AuditSink{
		logger:      logger.With("component", "audit"),
		store:       store,
		events:      events,
		unsubscribe: unsubscribe,
	}
}

// Run consumes events until ctx is cancelled or the subscription closes.
func (s *AuditSink) Run(ctx context.Context) {
	defer s.unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-s.events:
			if !ok {
				return
			}
			s.record(ctx, e)
		}
	}
}

func (s *AuditSink) record(ctx context.Context, e Event) {
	level := slog.LevelInfo
	if e.Type.Security() {
		level = slog.LevelWarn
	}

	attrs := []slog.Attr{
		slog.String("event_id", e.ID),
		slog.String("type", string(e.Type)),
		slog.String("occurred_at", e.Timestamp),
	}
	if e.Payload.SubjectID != "" {
		attrs = append(attrs, slog.String("subject_id", e.Payload.SubjectID))
	}
	if e.Payload.IP != "" {
		attrs = append(attrs, slog.String("ip", e.Payload.IP))
	}
	if e.Payload.TokenID != "" {
		attrs = append(attrs, slog.String("token_id", e.Payload.TokenID))
	}
	if e.Payload.Reason != "" {
		attrs = append(attrs, slog.String("reason", e.Payload.Reason))
	}
	if e.Payload.Count != 0 {
		attrs = append(attrs, slog.Int64("count", e.Payload.Count))
	}

	s.logger.LogAttrs(ctx, level, "auth event", attrs...)

	if s.store != nil {
		if err := s.store.Log(ctx, entryFromEvent(e)); err != nil {
			s.logger.ErrorContext(ctx, "persist auth event failed", "event_id", e.ID, "error", err)
		}
	}
}

func entryFromEvent(e Event) model.AuditEntry {
	occurredAt, err := time.Parse(time.RFC3339Nano, e.Timestamp)
	if err != nil {
		occurredAt = time.Now().UTC()
	}
	return model.AuditEntry{
		ID:         e.ID,
		Type:       string(e.Type),
		SubjectID:  e.Payload.SubjectID,
		IP:         e.Payload.IP,
		TokenID:    e.Payload.TokenID,
		Reason:     e.Payload.Reason,
		Count:      e.Payload.Count,
		OccurredAt: occurredAt,
	}
}
