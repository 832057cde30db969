package mcp

import (
	"context"
	"errors"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/nathant30/ARCHIVED-xpress-ops-tower-sub003/internal/model"
	"github.com/nathant30/ARCHIVED-xpress-ops-tower-sub003/internal/policy"
	"github.com/nathant30/ARCHIVED-xpress-ops-tower-sub003/internal/workflow"
)

// registerTools registers the decision tools on the given server. Every
// tool is read-only: agents can ask questions but not change state.
func (s *MCPServer) registerTools(srv *server.MCPServer) {

	// ----- Decision tools -----

	srv.AddTool(
		mcp.NewTool("opstower_evaluate_policy",
			mcp.WithDescription(
				"Decide whether a user may perform an action on a resource. Returns "+
					"allow or deny with reasons, plus obligations: fields to mask, whether "+
					"MFA is required, and the audit level. Call this before reading or "+
					"changing operational data on a user's behalf.",
			),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
			mcp.WithString("user_id", mcp.Required(), mcp.Description("Acting user id")),
			mcp.WithString("action", mcp.Required(), mcp.Description("Permission key, e.g. view_vehicles_basic")),
			mcp.WithString("resource_type", mcp.Required(),
				mcp.Description("vehicle, driver, booking, incident, financial, user or report")),
			mcp.WithString("resource_id", mcp.Description("Resource id, for the audit trail")),
			mcp.WithString("region_id", mcp.Description("Region the resource belongs to. Required unless the action is region agnostic.")),
			mcp.WithString("data_class", mcp.Description("public, internal, confidential or restricted (default public)")),
			mcp.WithBoolean("contains_pii", mcp.Description("Whether the resource carries personal data")),
			mcp.WithString("ownership_type", mcp.Description("Vehicle ownership: xpress_owned, fleet_owned, operator_owned or driver_owned")),
			mcp.WithBoolean("mfa_present", mcp.Description("Whether the caller completed MFA step-up")),
			mcp.WithString("operation", mcp.Description("read or write (default read)")),
			mcp.WithString("request_id", mcp.Description("Correlation id echoed into the audit trail")),
		),
		s.handleEvaluatePolicy,
	)

	srv.AddTool(
		mcp.NewTool("opstower_evaluate_vehicle_access",
			mcp.WithDescription(
				"Decide a permission on a fleet vehicle and report how deep the caller "+
					"may see into it: basic, limited, detailed, financial or full.",
			),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
			mcp.WithString("user_id", mcp.Required(), mcp.Description("Acting user id")),
			mcp.WithString("vehicle_id", mcp.Required(), mcp.Description("Vehicle id")),
			mcp.WithString("permission", mcp.Required(), mcp.Description("Permission key, e.g. view_vehicles_detailed")),
			mcp.WithString("region_id", mcp.Required(), mcp.Description("Region the vehicle operates in")),
			mcp.WithString("ownership_type", mcp.Required(),
				mcp.Description("xpress_owned, fleet_owned, operator_owned or driver_owned")),
			mcp.WithString("data_class", mcp.Description("public, internal, confidential or restricted (default public)")),
			mcp.WithBoolean("contains_pii", mcp.Description("Whether the vehicle record carries personal data")),
			mcp.WithBoolean("mfa_present", mcp.Description("Whether the caller completed MFA step-up")),
			mcp.WithString("operation", mcp.Description("read or write (default read)")),
		),
		s.handleEvaluateVehicleAccess,
	)

	// ----- Scope tools -----

	srv.AddTool(
		mcp.NewTool("opstower_effective_scope",
			mcp.WithDescription(
				"Show what a user can reach right now: regions (emergency grants "+
					"included), PII scope, effective permissions and highest role level.",
			),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
			mcp.WithString("user_id", mcp.Required(), mcp.Description("User id")),
		),
		s.handleEffectiveScope,
	)

	// ----- Workflow tools -----

	srv.AddTool(
		mcp.NewTool("opstower_list_workflows",
			mcp.WithDescription(
				"List the approval workflows for sensitive actions, including sensitivity, "+
					"dual approval and MFA requirements, auto-granted permissions and grant TTL.",
			),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
		),
		s.handleListWorkflows,
	)

	srv.AddTool(
		mcp.NewTool("opstower_get_workflow",
			mcp.WithDescription("Get the approval workflow for one action."),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
			mcp.WithString("action", mcp.Required(), mcp.Description("Permission key, e.g. unmask_pii")),
		),
		s.handleGetWorkflow,
	)

	srv.AddTool(
		mcp.NewTool("opstower_validate_approval",
			mcp.WithDescription(
				"Check an approval request against its workflow without submitting it. "+
					"Returns every problem found, such as a missing justification or a "+
					"required field left blank.",
			),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
			mcp.WithString("action", mcp.Required(), mcp.Description("Permission being requested")),
			mcp.WithString("requester_id", mcp.Required(), mcp.Description("User asking for access")),
			mcp.WithString("justification", mcp.Description("Why the access is needed")),
			mcp.WithObject("requested_action", mcp.Description("Workflow fields, e.g. {\"subject_id\": \"drv-9\"}")),
			mcp.WithArray("regions", mcp.Description("Regions the access should cover"), mcp.WithStringItems()),
		),
		s.handleValidateApproval,
	)

	srv.AddTool(
		mcp.NewTool("opstower_can_approve",
			mcp.WithDescription(
				"Report whether a user may approve requests for an action, and whether "+
					"they must complete MFA first.",
			),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
			mcp.WithString("user_id", mcp.Required(), mcp.Description("Prospective approver")),
			mcp.WithString("action", mcp.Required(), mcp.Description("Permission whose workflow is checked")),
		),
		s.handleCanApprove,
	)

	if s.approvals != nil {
		srv.AddTool(
			mcp.NewTool("opstower_list_approvals",
				mcp.WithDescription("List approval requests, oldest first, optionally filtered by status."),
				mcp.WithToolAnnotation(readOnlyAnnotation()),
				mcp.WithString("status", mcp.Description("pending, approved or denied (default pending)")),
			),
			s.handleListApprovals,
		)
	}
}

// --------------------------------------------------------------------------
// Tool handlers
// --------------------------------------------------------------------------

func (s *MCPServer) handleEvaluatePolicy(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	userID, err := requireString(request, "user_id")
	if err != nil {
		return toolError("%v", err)
	}
	action, err := requirePermission(request, "action")
	if err != nil {
		return toolError("%v", err)
	}
	rawType, err := requireString(request, "resource_type")
	if err != nil {
		return toolError("%v", err)
	}
	rt, ok := model.ParseResourceType(rawType)
	if !ok {
		return toolError("unknown resource type %q", rawType)
	}
	class, err := optionalDataClass(request, "data_class")
	if err != nil {
		return toolError("%v", err)
	}
	owner, err := optionalOwnership(request, "ownership_type")
	if err != nil {
		return toolError("%v", err)
	}
	op, err := optionalOperation(request, "operation")
	if err != nil {
		return toolError("%v", err)
	}

	d := s.engine.EvaluatePolicy(ctx, model.PolicyEvaluationRequest{
		User: model.UserContext{ID: userID},
		Resource: model.ResourceContext{
			Type:          rt,
			ID:            optionalString(request, "resource_id"),
			RegionID:      optionalString(request, "region_id"),
			DataClass:     class,
			ContainsPII:   optionalBool(request, "contains_pii"),
			OwnershipType: owner,
		},
		Action: action,
		Context: model.InvocationContext{
			Channel:    model.ChannelAgent,
			MFAPresent: optionalBool(request, "mfa_present"),
			Operation:  op,
			RequestID:  optionalString(request, "request_id"),
		},
	})
	return successJSON(d)
}

func (s *MCPServer) handleEvaluateVehicleAccess(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	userID, err := requireString(request, "user_id")
	if err != nil {
		return toolError("%v", err)
	}
	vehicleID, err := requireString(request, "vehicle_id")
	if err != nil {
		return toolError("%v", err)
	}
	perm, err := requirePermission(request, "permission")
	if err != nil {
		return toolError("%v", err)
	}
	region, err := requireString(request, "region_id")
	if err != nil {
		return toolError("%v", err)
	}
	if _, err := requireString(request, "ownership_type"); err != nil {
		return toolError("%v", err)
	}
	owner, err := optionalOwnership(request, "ownership_type")
	if err != nil {
		return toolError("%v", err)
	}
	class, err := optionalDataClass(request, "data_class")
	if err != nil {
		return toolError("%v", err)
	}
	op, err := optionalOperation(request, "operation")
	if err != nil {
		return toolError("%v", err)
	}

	d := s.engine.EvaluateVehicleAccess(ctx, userID, policy.VehicleContext{
		VehicleID:     vehicleID,
		RegionID:      region,
		OwnershipType: owner,
		DataClass:     class,
		ContainsPII:   optionalBool(request, "contains_pii"),
		MFAPresent:    optionalBool(request, "mfa_present"),
		Operation:     op,
		Channel:       model.ChannelAgent,
	}, perm)
	return successJSON(d)
}

func (s *MCPServer) handleEffectiveScope(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	userID, err := requireString(request, "user_id")
	if err != nil {
		return toolError("%v", err)
	}
	sc, err := s.engine.EffectiveScope(ctx, userID)
	if err != nil {
		return toolError("%v", err)
	}
	return successJSON(sc)
}

func (s *MCPServer) handleListWorkflows(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return successJSON(s.engine.Workflows().List())
}

func (s *MCPServer) handleGetWorkflow(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	action, err := requirePermission(request, "action")
	if err != nil {
		return toolError("%v", err)
	}
	wf, ok := s.engine.Workflows().GetWorkflowDefinition(action)
	if !ok {
		return toolError("no approval workflow for %s", action)
	}
	return successJSON(wf)
}

func (s *MCPServer) handleValidateApproval(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	action, err := requirePermission(request, "action")
	if err != nil {
		return toolError("%v", err)
	}
	requester, err := requireString(request, "requester_id")
	if err != nil {
		return toolError("%v", err)
	}
	wf, ok := s.engine.Workflows().GetWorkflowDefinition(action)
	if !ok {
		return toolError("no approval workflow for %s", action)
	}
	req := model.ApprovalRequest{
		Action:           action,
		RequesterID:      requester,
		Justification:    optionalString(request, "justification"),
		RequestedAction:  getObjectArg(request, "requested_action"),
		RequestedRegions: model.RegionSet(optionalStringSlice(request, "regions")).Normalize(),
	}
	return successJSON(workflow.ValidateApprovalRequest(req, wf))
}

func (s *MCPServer) handleCanApprove(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	userID, err := requireString(request, "user_id")
	if err != nil {
		return toolError("%v", err)
	}
	action, err := requirePermission(request, "action")
	if err != nil {
		return toolError("%v", err)
	}
	wf, ok := s.engine.Workflows().GetWorkflowDefinition(action)
	if !ok {
		return toolError("no approval workflow for %s", action)
	}

	type answer struct {
		UserID      string `json:"user_id"`
		Action      string `json:"action"`
		CanApprove  bool   `json:"can_approve"`
		MFARequired bool   `json:"mfa_required"`
		Level       int    `json:"level"`
		MinLevel    int    `json:"min_level"`
		Reason      string `json:"reason,omitempty"`
	}
	out := answer{
		UserID:      userID,
		Action:      string(action),
		MFARequired: wf.MFARequiredForApproval,
		MinLevel:    wf.SensitivityLevel.MinApproverLevel(),
	}
	a, err := s.engine.Approver(ctx, userID, false)
	if err != nil {
		if errors.Is(err, workflow.ErrIneligibleApprover) {
			out.Reason = err.Error()
			return successJSON(out)
		}
		return toolError("%v", err)
	}
	out.Level = a.Level
	out.CanApprove = s.engine.Workflows().CanUserApproveWorkflow(a.Level, a.RoleID, a.Permissions, action)
	if !out.CanApprove {
		out.Reason = "role level below the workflow minimum and approve_requests not held"
	}
	return successJSON(out)
}

func (s *MCPServer) handleListApprovals(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	status := model.ApprovalStatus(strings.ToLower(optionalString(request, "status")))
	switch status {
	case "":
		status = model.ApprovalPending
	case model.ApprovalPending, model.ApprovalApproved, model.ApprovalDenied:
	default:
		return toolError("unknown status %q", status)
	}
	reqs, err := s.approvals.List(ctx, status)
	if err != nil {
		return toolError("list approvals: %v", err)
	}
	return successJSON(map[string]any{
		"status":    status,
		"count":     len(reqs),
		"approvals": reqs,
	})
}
