package model

import "time"

// EscalationType records why a temporary grant exists.
type EscalationType string

const (
	EscalationApproval  EscalationType = "approval"
	EscalationEmergency EscalationType = "emergency"
	EscalationManual    EscalationType = "manual"
)

// TemporaryAccessGrant is a time-boxed permission, region or PII override.
// Whether it is in force is derived at read time from IsActive and
// ExpiresAt; nothing flips IsActive when the grant runs out.
type TemporaryAccessGrant struct {
	ID                 string         `json:"id"`
	UserID             string         `json:"user_id"`
	GrantedPermissions []Permission   `json:"granted_permissions"`
	GrantedRegions     RegionSet      `json:"granted_regions"`
	PIIScopeOverride   *PIITier       `json:"pii_scope_override,omitempty"`
	ExpiresAt          time.Time      `json:"expires_at"`
	IsActive           bool           `json:"is_active"`
	EscalationType     EscalationType `json:"escalation_type"`
	CaseID             string         `json:"case_id,omitempty"`
	RequestedBy        string         `json:"requested_by"`
	ApprovedBy         []string       `json:"approved_by,omitempty"`
	ApprovalID         string         `json:"approval_id,omitempty"`
	Reason             string         `json:"reason,omitempty"`
	CreatedAt          time.Time      `json:"created_at"`
	RevokedAt          *time.Time     `json:"revoked_at,omitempty"`
	RevokedBy          string         `json:"revoked_by,omitempty"`
}

// Effective reports whether the grant is in force at now.
func (g TemporaryAccessGrant) Effective(now time.Time) bool {
	return g.IsActive && now.Before(g.ExpiresAt)
}

// IsEmergency reports whether the grant is an emergency override tied to an
// investigation case.
func (g TemporaryAccessGrant) IsEmergency() bool {
	return g.EscalationType == EscalationEmergency && g.CaseID != ""
}

// Covers reports whether the grant carries p.
func (g TemporaryAccessGrant) Covers(p Permission) bool {
	for _, gp := range g.GrantedPermissions {
		if gp == p {
			return true
		}
	}
	return false
}
