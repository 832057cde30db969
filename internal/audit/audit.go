// Package audit defines the append-only audit trail the policy engine and
// the escalation flows write to, together with the sinks that ship with
// the engine.
//
// Sinks are fire-and-forget: none of their methods return errors, and none
// may block or fail the decision path.
package audit

import (
	"context"
	"strings"
	"time"

	"github.com/nathant30/ARCHIVED-xpress-ops-tower-sub003/internal/ids"
	"github.com/nathant30/ARCHIVED-xpress-ops-tower-sub003/internal/model"
)

// Sink receives audit records.
type Sink interface {
	LogAccess(ctx context.Context, rec AccessRecord)
	LogSecurityEvent(ctx context.Context, ev SecurityEvent)
	LogDataMasking(ctx context.Context, ev MaskingEvent)
}

// Severity ranks security events.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Security event types.
const (
	EventEvaluationFailed  = "evaluation_failed"
	EventGrantIssued       = "grant_issued"
	EventEmergencyDeclared = "emergency_declared"
	EventGrantRevoked      = "grant_revoked"
	EventApprovalRequested = "approval_requested"
	EventApprovalRecorded  = "approval_recorded"
	EventApprovalDenied    = "approval_denied"
	EventChallengeIssued   = "mfa_challenge_issued"
	EventChallengeVerified = "mfa_challenge_verified"
	EventChallengeFailed   = "mfa_challenge_failed"
	EventStepUpRedeemed    = "mfa_step_up_redeemed"
	EventStepUpReplayed    = "mfa_step_up_replayed"
	EventRolesReloaded     = "roles_reloaded"
	EventUserDeactivated   = "user_deactivated"
)

// AccessRecord is written for every policy evaluation.
type AccessRecord struct {
	ID               string             `json:"id"`
	Timestamp        time.Time          `json:"timestamp"`
	RequestID        string             `json:"request_id,omitempty"`
	UserID           string             `json:"user_id"`
	Action           model.Permission   `json:"action"`
	ResourceType     model.ResourceType `json:"resource_type"`
	ResourceID       string             `json:"resource_id,omitempty"`
	RegionID         string             `json:"region_id,omitempty"`
	Channel          model.Channel      `json:"channel,omitempty"`
	Decision         model.Decision     `json:"decision"`
	Reasons          []string           `json:"reasons"`
	AuditLevel       model.AuditLevel   `json:"audit_level"`
	RequireMFA       bool               `json:"require_mfa"`
	MaskFields       []string           `json:"mask_fields,omitempty"`
	PolicyVersion    string             `json:"policy_version"`
	EvaluationTimeMs float64            `json:"evaluation_time_ms"`
	Errored          bool               `json:"errored,omitempty"`
	Cached           bool               `json:"cached,omitempty"`
}

// NewAccessRecord builds the record for one evaluation.
func NewAccessRecord(req model.PolicyEvaluationRequest, d model.PolicyDecision) AccessRecord {
	return AccessRecord{
		ID:               ids.New(),
		Timestamp:        d.Metadata.EvaluatedAt,
		RequestID:        req.Context.RequestID,
		UserID:           req.User.ID,
		Action:           req.Action,
		ResourceType:     req.Resource.Type,
		ResourceID:       req.Resource.ID,
		RegionID:         req.Resource.RegionID,
		Channel:          req.Context.Channel,
		Decision:         d.Decision,
		Reasons:          d.Reasons,
		AuditLevel:       d.Obligations.AuditLevel,
		RequireMFA:       d.Obligations.RequireMFA,
		MaskFields:       d.Obligations.MaskFields,
		PolicyVersion:    d.Metadata.PolicyVersion,
		EvaluationTimeMs: d.Metadata.EvaluationTimeMs,
		Errored:          d.Metadata.Errored,
		Cached:           d.Metadata.Cached,
	}
}

// SecurityEvent records a sensitive state change or a systemic failure.
type SecurityEvent struct {
	ID        string         `json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	RequestID string         `json:"request_id,omitempty"`
	Type      string         `json:"type"`
	Severity  Severity       `json:"severity"`
	UserID    string         `json:"user_id,omitempty"`
	ActorID   string         `json:"actor_id,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

// NewSecurityEvent stamps a security event with an id and the current time.
func NewSecurityEvent(ctx context.Context, typ string, sev Severity, userID string, details map[string]any) SecurityEvent {
	return SecurityEvent{
		ID:        ids.New(),
		Timestamp: time.Now().UTC(),
		RequestID: RequestIDFromContext(ctx),
		Type:      typ,
		Severity:  sev,
		UserID:    userID,
		ActorID:   ActorFromContext(ctx),
		Details:   details,
	}
}

// MaskingEvent records which fields were masked for a caller.
type MaskingEvent struct {
	ID           string             `json:"id"`
	Timestamp    time.Time          `json:"timestamp"`
	RequestID    string             `json:"request_id,omitempty"`
	UserID       string             `json:"user_id"`
	ResourceType model.ResourceType `json:"resource_type"`
	ResourceID   string             `json:"resource_id,omitempty"`
	PIIScope     model.PIITier      `json:"pii_scope"`
	Fields       []string           `json:"fields"`
}

type ctxKey string

const (
	requestIDKey ctxKey = "audit_request_id"
	actorKey     ctxKey = "audit_actor"
)

// WithRequestID attaches a request id to ctx for audit records.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext returns the request id attached by WithRequestID.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	v, _ := ctx.Value(requestIDKey).(string)
	return v
}

// WithActor records who is driving the current operation (an operator at
// the CLI, an agent over MCP).
func WithActor(ctx context.Context, actor string) context.Context {
	actor = strings.TrimSpace(actor)
	if actor == "" {
		return ctx
	}
	return context.WithValue(ctx, actorKey, actor)
}

// ActorFromContext returns the actor attached by WithActor.
func ActorFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	v, _ := ctx.Value(actorKey).(string)
	return v
}
