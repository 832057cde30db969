package metrics

import (
	"context"

	"github.com/nathant30/ARCHIVED-xpress-ops-tower-sub003/internal/audit"
	"github.com/nathant30/ARCHIVED-xpress-ops-tower-sub003/internal/model"
)

// Sink counts the security events grant, workflow and mfa components
// already emit. Add it to an audit.Multi next to the persisting sinks.
type Sink struct {
	m *Metrics
}

// NewSink returns an audit.Sink that feeds m.
func NewSink(m *Metrics) *Sink {
	return &Sink{m: m}
}

// LogAccess is a no-op; decisions are counted by the engine itself.
func (s *Sink) LogAccess(context.Context, audit.AccessRecord) {}

// LogDataMasking is a no-op.
func (s *Sink) LogDataMasking(context.Context, audit.MaskingEvent) {}

func (s *Sink) LogSecurityEvent(_ context.Context, ev audit.SecurityEvent) {
	switch ev.Type {
	case audit.EventGrantIssued:
		s.m.GrantEvent("issued")
	case audit.EventEmergencyDeclared:
		s.m.GrantEvent("emergency")
	case audit.EventGrantRevoked:
		s.m.GrantEvent("revoked")

	case audit.EventApprovalRequested:
		s.m.ApprovalTransition("requested")
	case audit.EventApprovalRecorded:
		if final, _ := ev.Details["final"].(bool); final {
			s.m.ApprovalTransition("approved")
		} else {
			s.m.ApprovalTransition("recorded")
		}
	case audit.EventApprovalDenied:
		s.m.ApprovalTransition("denied")

	case audit.EventChallengeIssued:
		s.m.ChallengeOutcome(model.ChallengePending)
	case audit.EventChallengeVerified:
		s.m.ChallengeOutcome(model.ChallengeVerified)
	case audit.EventChallengeFailed:
		if reason, _ := ev.Details["reason"].(string); reason == string(model.ChallengeExpired) {
			s.m.ChallengeOutcome(model.ChallengeExpired)
		} else {
			s.m.ChallengeOutcome(model.ChallengeFailed)
		}
	}
}
