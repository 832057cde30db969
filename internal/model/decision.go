package model

import "time"

// Decision is the outcome of a policy evaluation.
type Decision string

const (
	DecisionAllow Decision = "allow"
	DecisionDeny  Decision = "deny"
)

// AuditLevel controls how much the audit trail records for a decision.
type AuditLevel string

const (
	AuditStandard AuditLevel = "standard"
	AuditEnhanced AuditLevel = "enhanced"
)

// Obligations are requirements attached to a decision that the caller must
// still satisfy before executing the action.
type Obligations struct {
	RequireMFA bool       `json:"require_mfa"`
	AuditLevel AuditLevel `json:"audit_level"`
	MaskFields []string   `json:"mask_fields"`
}

// DecisionMetadata lets callers and auditors reason about staleness.
type DecisionMetadata struct {
	EvaluatedAt      time.Time `json:"evaluated_at"`
	EvaluationTimeMs float64   `json:"evaluation_time_ms"`
	PolicyVersion    string    `json:"policy_version"`
	Errored          bool      `json:"errored,omitempty"`
	Cached           bool      `json:"cached,omitempty"`
}

// PolicyDecision is the immutable result of an evaluation.
type PolicyDecision struct {
	Decision    Decision         `json:"decision"`
	Reasons     []string         `json:"reasons"`
	Obligations Obligations      `json:"obligations"`
	Metadata    DecisionMetadata `json:"metadata"`
}

// Allowed reports whether the decision permits the action.
func (d PolicyDecision) Allowed() bool {
	return d.Decision == DecisionAllow
}
