package model

import (
	"fmt"
	"strings"
	"time"
)

// Sensitivity is a workflow tier controlling approver eligibility.
type Sensitivity int

const (
	SensitivityLow Sensitivity = iota
	SensitivityMedium
	SensitivityHigh
	SensitivityCritical
)

var sensitivityNames = [...]string{"low", "medium", "high", "critical"}

// minApproverLevels maps each sensitivity to the lowest role level that may
// approve it without the explicit approve_requests permission.
var minApproverLevels = [...]int{10, 20, 30, 40}

func (s Sensitivity) String() string {
	if s < SensitivityLow || s > SensitivityCritical {
		return "unknown"
	}
	return sensitivityNames[s]
}

// ParseSensitivity parses low, medium, high or critical.
func ParseSensitivity(v string) (Sensitivity, error) {
	v = strings.TrimSpace(strings.ToLower(v))
	for i, name := range sensitivityNames {
		if v == name {
			return Sensitivity(i), nil
		}
	}
	return SensitivityLow, fmt.Errorf("unknown sensitivity %q", v)
}

func (s Sensitivity) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Sensitivity) UnmarshalText(b []byte) error {
	v, err := ParseSensitivity(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// MinApproverLevel returns the lowest role level eligible to approve.
func (s Sensitivity) MinApproverLevel() int {
	if s < SensitivityLow || s > SensitivityCritical {
		return minApproverLevels[SensitivityCritical]
	}
	return minApproverLevels[s]
}

// WorkflowDefinition is the static approval configuration for one action.
type WorkflowDefinition struct {
	Action                 Permission   `json:"action"`
	SensitivityLevel       Sensitivity  `json:"sensitivity_level"`
	DualApprovalRequired   bool         `json:"dual_approval_required"`
	MFARequiredForApproval bool         `json:"mfa_required_for_approval"`
	AutoGrantPermissions   []Permission `json:"auto_grant_permissions"`
	DefaultTTLSeconds      int          `json:"default_ttl_seconds"`
	RequiredFields         []string     `json:"required_fields,omitempty"`
	PIIScopeOverride       *PIITier     `json:"pii_scope_override,omitempty"`
	Description            string       `json:"description,omitempty"`
}

// DefaultTTL returns the grant lifetime as a duration.
func (w WorkflowDefinition) DefaultTTL() time.Duration {
	return time.Duration(w.DefaultTTLSeconds) * time.Second
}

// RequiredApprovals is 2 for dual-approval workflows and 1 otherwise.
func (w WorkflowDefinition) RequiredApprovals() int {
	if w.DualApprovalRequired {
		return 2
	}
	return 1
}

// ApprovalStatus is the lifecycle state of an approval request.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalDenied   ApprovalStatus = "denied"
)

// ApprovalStep records one approver's sign-off.
type ApprovalStep struct {
	ApproverID  string    `json:"approver_id"`
	RoleID      string    `json:"role_id"`
	Level       int       `json:"level"`
	MFAVerified bool      `json:"mfa_verified"`
	ApprovedAt  time.Time `json:"approved_at"`
}

// ApprovalRequest asks for temporary access the requester does not hold.
type ApprovalRequest struct {
	ID               string         `json:"id"`
	Action           Permission     `json:"action"`
	RequesterID      string         `json:"requester_id"`
	Justification    string         `json:"justification"`
	RequestedAction  map[string]any `json:"requested_action,omitempty"`
	RequestedRegions RegionSet      `json:"requested_regions,omitempty"`
	Status           ApprovalStatus `json:"status"`
	Approvals        []ApprovalStep `json:"approvals"`
	DeniedBy         string         `json:"denied_by,omitempty"`
	DenyReason       string         `json:"deny_reason,omitempty"`
	GrantID          string         `json:"grant_id,omitempty"`
	Version          int            `json:"version"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

// ApprovedBy lists the approver ids in approval order.
func (r ApprovalRequest) ApprovedBy() []string {
	ids := make([]string, len(r.Approvals))
	for i, a := range r.Approvals {
		ids[i] = a.ApproverID
	}
	return ids
}
