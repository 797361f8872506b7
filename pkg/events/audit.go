package events

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/gatekeep-labs/gatekeep/pkg/audit"
	"github.com/gatekeep-labs/gatekeep/pkg/timelock"
)

// AuditSink records every notification on the audit trail.
type AuditSink struct {
	log    audit.Logger
	logger *slog.Logger
}

func NewAuditSink(log audit.Logger) *AuditSink {
	return &AuditSink{log: log, logger: slog.Default()}
}

func (s *AuditSink) Emit(ctx context.Context, n timelock.Notification) {
	metadata := notificationMetadata(n)

	resource := "timelock"
	if h, ok := metadata["txHash"].(string); ok {
		resource = h
	}

	if err := s.log.Record(ctx, audit.EventMutation, n.EventName(), resource, metadata); err != nil {
		s.logger.Error("audit record failed", "event", n.EventName(), "error", err)
	}
}

func notificationMetadata(n timelock.Notification) map[string]interface{} {
	raw, err := json.Marshal(n)
	if err != nil {
		return nil
	}
	var metadata map[string]interface{}
	if err := json.Unmarshal(raw, &metadata); err != nil {
		return nil
	}
	return metadata
}
