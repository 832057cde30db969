package workflow

import (
	"fmt"
	"strings"

	"github.com/nathant30/ARCHIVED-xpress-ops-tower-sub003/internal/model"
)

// ValidationResult reports whether an approval request is well formed.
// Reasons is empty when Valid is true.
type ValidationResult struct {
	Valid   bool     `json:"valid"`
	Reasons []string `json:"reasons,omitempty"`
}

// ValidateApprovalRequest checks req against wf. Every failing check
// contributes a reason.
func ValidateApprovalRequest(req model.ApprovalRequest, wf model.WorkflowDefinition) ValidationResult {
	var reasons []string
	if strings.TrimSpace(req.Justification) == "" {
		reasons = append(reasons, "justification is required")
	}
	if strings.TrimSpace(req.RequesterID) == "" {
		reasons = append(reasons, "requester is required")
	}
	switch {
	case !req.Action.Valid():
		reasons = append(reasons, fmt.Sprintf("unknown action %q", req.Action))
	case req.Action != wf.Action:
		reasons = append(reasons, fmt.Sprintf("action %s does not match workflow %s", req.Action, wf.Action))
	}
	for _, field := range wf.RequiredFields {
		v, ok := req.RequestedAction[field]
		if !ok || isBlank(v) {
			reasons = append(reasons, fmt.Sprintf("missing required field %q", field))
		}
	}
	return ValidationResult{Valid: len(reasons) == 0, Reasons: reasons}
}

func isBlank(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	}
	return false
}

// CanUserApproveWorkflow reports whether an approver with the given role
// level and permissions may approve action. Holding approve_requests is
// always sufficient; otherwise the level must reach the workflow's
// sensitivity threshold. Actions without a workflow cannot be approved.
func (r *Registry) CanUserApproveWorkflow(level int, roleID string, perms model.PermissionSet, action model.Permission) bool {
	wf, ok := r.GetWorkflowDefinition(action)
	if !ok {
		return false
	}
	return canApprove(level, roleID, perms, wf)
}

func canApprove(level int, roleID string, perms model.PermissionSet, wf model.WorkflowDefinition) bool {
	if perms.Has(model.ApproveRequests) {
		return true
	}
	return roleID != "" && level >= wf.SensitivityLevel.MinApproverLevel()
}
