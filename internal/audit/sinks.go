package audit

import (
	"context"
	"log/slog"
)

// LogSink writes one structured slog record per audit event.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink returns a sink writing to logger.
func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger.With("component", "audit")}
}

func (s *LogSink) LogAccess(ctx context.Context, rec AccessRecord) {
	level := slog.LevelInfo
	if rec.Errored {
		level = slog.LevelError
	}
	s.logger.Log(ctx, level, "access decision",
		"audit_id", rec.ID,
		"request_id", rec.RequestID,
		"user_id", rec.UserID,
		"action", rec.Action,
		"resource_type", rec.ResourceType,
		"resource_id", rec.ResourceID,
		"region_id", rec.RegionID,
		"decision", rec.Decision,
		"reasons", rec.Reasons,
		"audit_level", rec.AuditLevel,
		"require_mfa", rec.RequireMFA,
		"mask_fields", rec.MaskFields,
		"policy_version", rec.PolicyVersion,
		"evaluation_ms", rec.EvaluationTimeMs,
		"cached", rec.Cached,
	)
}

func (s *LogSink) LogSecurityEvent(ctx context.Context, ev SecurityEvent) {
	level := slog.LevelInfo
	switch ev.Severity {
	case SeverityHigh, SeverityCritical:
		level = slog.LevelWarn
	}
	s.logger.Log(ctx, level, "security event",
		"audit_id", ev.ID,
		"request_id", ev.RequestID,
		"type", ev.Type,
		"severity", ev.Severity,
		"user_id", ev.UserID,
		"actor_id", ev.ActorID,
		"details", ev.Details,
	)
}

func (s *LogSink) LogDataMasking(ctx context.Context, ev MaskingEvent) {
	s.logger.InfoContext(ctx, "data masked",
		"audit_id", ev.ID,
		"request_id", ev.RequestID,
		"user_id", ev.UserID,
		"resource_type", ev.ResourceType,
		"resource_id", ev.ResourceID,
		"pii_scope", ev.PIIScope,
		"fields", ev.Fields,
	)
}

// Multi fans every event out to each sink in order.
type Multi []Sink

func (m Multi) LogAccess(ctx context.Context, rec AccessRecord) {
	for _, s := range m {
		s.LogAccess(ctx, rec)
	}
}

func (m Multi) LogSecurityEvent(ctx context.Context, ev SecurityEvent) {
	for _, s := range m {
		s.LogSecurityEvent(ctx, ev)
	}
}

func (m Multi) LogDataMasking(ctx context.Context, ev MaskingEvent) {
	for _, s := range m {
		s.LogDataMasking(ctx, ev)
	}
}

// Nop discards every event.
type Nop struct{}

func (Nop) LogAccess(context.Context, AccessRecord) {}
func (Nop) LogSecurityEvent(context.Context, SecurityEvent) {}
func (Nop) LogDataMasking(context.Context, MaskingEvent) {}
