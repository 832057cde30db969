package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nathant30/ARCHIVED-xpress-ops-tower-sub003/internal/audit"
	"github.com/nathant30/ARCHIVED-xpress-ops-tower-sub003/internal/model"
)

var (
	ErrUnknownWorkflow    = errors.New("no workflow for action")
	ErrInvalidRequest     = errors.New("invalid approval request")
	ErrNotPending         = errors.New("approval request is not pending")
	ErrSelfApproval       = errors.New("requester may not approve their own request")
	ErrIneligibleApprover = errors.New("approver is not eligible for this workflow")
	ErrMFARequired        = errors.New("workflow requires MFA-verified approval")
	ErrDuplicateApprover  = errors.New("approver has already approved this request")
	ErrGrantFailed        = errors.New("approved request could not be granted")
)

// Store persists approval requests. UpdateApproval must reject stale
// versions so two approvers racing on one request cannot both win.
type Store interface {
	CreateApproval(ctx context.Context, req *model.ApprovalRequest) error
	GetApproval(ctx context.Context, id string) (*model.ApprovalRequest, error)
	UpdateApproval(ctx context.Context, req *model.ApprovalRequest) error
	ListApprovals(ctx context.Context, status model.ApprovalStatus) ([]model.ApprovalRequest, error)
}

// Granter turns a fully approved request into a temporary grant.
type Granter interface {
	Grant(ctx context.Context, req model.ApprovalRequest, wf model.WorkflowDefinition) (*model.TemporaryAccessGrant, error)
}

// Approver is the principal acting on a request, resolved by the caller.
type Approver struct {
	UserID      string
	RoleID      string
	Level       int
	Permissions model.PermissionSet
	MFAVerified bool
}

// Options configures a Manager.
type Options struct {
	// Now stamps approval steps. Nil means time.Now.
	Now func() time.Time
}

// Manager moves approval requests through pending, approved and denied.
type Manager struct {
	registry *Registry
	store    Store
	granter  Granter
	sink     audit.Sink
	logger   *slog.Logger
	now      func() time.Time
}

// NewManager returns a Manager. A nil sink discards audit events.
func NewManager(registry *Registry, store Store, granter Granter, sink audit.Sink, logger *slog.Logger, opts Options) *Manager {
	if sink == nil {
		sink = audit.Nop{}
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Manager{registry: registry, store: store, granter: granter, sink: sink, logger: logger, now: now}
}

// Registry returns the workflow table the manager validates against.
func (m *Manager) Registry() *Registry { return m.registry }

// Submit validates req and stores it as pending.
func (m *Manager) Submit(ctx context.Context, req model.ApprovalRequest) (*model.ApprovalRequest, error) {
	wf, ok := m.registry.GetWorkflowDefinition(req.Action)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownWorkflow, req.Action)
	}
	if res := ValidateApprovalRequest(req, wf); !res.Valid {
		return nil, fmt.Errorf("%w: %s", ErrInvalidRequest, strings.Join(res.Reasons, "; "))
	}

	req.ID = ""
	req.Status = model.ApprovalPending
	req.Approvals = nil
	req.DeniedBy, req.DenyReason, req.GrantID = "", "", ""
	req.RequestedRegions = req.RequestedRegions.Normalize()
	if err := m.store.CreateApproval(ctx, &req); err != nil {
		return nil, fmt.Errorf("create approval request: %w", err)
	}

	m.sink.LogSecurityEvent(ctx, audit.NewSecurityEvent(ctx, audit.EventApprovalRequested, audit.SeverityLow, req.RequesterID, map[string]any{
		"approval_id":        req.ID,
		"action":             req.Action,
		"sensitivity":        wf.SensitivityLevel.String(),
		"required_approvals": wf.RequiredApprovals(),
	}))
	m.logger.Info("approval requested", "approval_id", req.ID, "action", req.Action, "requester", req.RequesterID)
	return &req, nil
}

// Approve records a's sign-off. When the workflow's approval count is
// reached the request becomes approved and the grant is issued. If issuing
// fails the request is closed as denied and ErrGrantFailed is returned.
func (m *Manager) Approve(ctx context.Context, id string, a Approver) (*model.ApprovalRequest, error) {
	req, wf, err := m.loadPending(ctx, id)
	if err != nil {
		return nil, err
	}
	if a.UserID == req.RequesterID {
		return nil, ErrSelfApproval
	}
	if !canApprove(a.Level, a.RoleID, a.Permissions, wf) {
		return nil, fmt.Errorf("%w: %s (level %d) for %s workflow %s",
			ErrIneligibleApprover, a.UserID, a.Level, wf.SensitivityLevel, wf.Action)
	}
	if wf.MFARequiredForApproval && !a.MFAVerified {
		return nil, ErrMFARequired
	}
	for _, step := range req.Approvals {
		if step.ApproverID == a.UserID {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateApprover, a.UserID)
		}
	}

	req.Approvals = append(req.Approvals, model.ApprovalStep{
		ApproverID:  a.UserID,
		RoleID:      a.RoleID,
		Level:       a.Level,
		MFAVerified: a.MFAVerified,
		ApprovedAt:  m.now().UTC(),
	})
	final := len(req.Approvals) >= wf.RequiredApprovals()
	if final {
		req.Status = model.ApprovalApproved
	}
	if err := m.store.UpdateApproval(ctx, req); err != nil {
		return nil, fmt.Errorf("update approval request: %w", err)
	}
	m.sink.LogSecurityEvent(ctx, audit.NewSecurityEvent(ctx, audit.EventApprovalRecorded, audit.SeverityMedium, req.RequesterID, map[string]any{
		"approval_id": req.ID,
		"action":      req.Action,
		"approver":    a.UserID,
		"step":        len(req.Approvals),
		"final":       final,
	}))
	if !final {
		m.logger.Info("approval recorded", "approval_id", req.ID, "approver", a.UserID, "remaining", wf.RequiredApprovals()-len(req.Approvals))
		return req, nil
	}

	g, gerr := m.granter.Grant(ctx, *req, wf)
	if gerr != nil {
		req.Status = model.ApprovalDenied
		req.DeniedBy = a.UserID
		req.DenyReason = "grant failed: " + gerr.Error()
		if err := m.store.UpdateApproval(ctx, req); err != nil {
			m.logger.Error("failed to close approval after grant failure", "approval_id", req.ID, "error", err)
		}
		m.logger.Warn("grant failed for approved request", "approval_id", req.ID, "error", gerr)
		return req, fmt.Errorf("%w: %w", ErrGrantFailed, gerr)
	}
	req.GrantID = g.ID
	if err := m.store.UpdateApproval(ctx, req); err != nil {
		return req, fmt.Errorf("record grant on approval request: %w", err)
	}
	m.logger.Info("approval granted", "approval_id", req.ID, "grant_id", g.ID, "expires_at", g.ExpiresAt)
	return req, nil
}

// Deny closes a pending request. The requester may withdraw their own
// request; anyone else must be an eligible approver.
func (m *Manager) Deny(ctx context.Context, id string, a Approver, reason string) (*model.ApprovalRequest, error) {
	req, wf, err := m.loadPending(ctx, id)
	if err != nil {
		return nil, err
	}
	if a.UserID != req.RequesterID && !canApprove(a.Level, a.RoleID, a.Permissions, wf) {
		return nil, fmt.Errorf("%w: %s", ErrIneligibleApprover, a.UserID)
	}
	if strings.TrimSpace(reason) == "" {
		return nil, fmt.Errorf("%w: a reason is required to deny", ErrInvalidRequest)
	}
	req.Status = model.ApprovalDenied
	req.DeniedBy = a.UserID
	req.DenyReason = reason
	if err := m.store.UpdateApproval(ctx, req); err != nil {
		return nil, fmt.Errorf("update approval request: %w", err)
	}
	m.sink.LogSecurityEvent(ctx, audit.NewSecurityEvent(ctx, audit.EventApprovalDenied, audit.SeverityMedium, req.RequesterID, map[string]any{
		"approval_id": req.ID,
		"action":      req.Action,
		"denied_by":   a.UserID,
		"reason":      reason,
	}))
	m.logger.Info("approval denied", "approval_id", req.ID, "denied_by", a.UserID)
	return req, nil
}

// Get returns a request by id.
func (m *Manager) Get(ctx context.Context, id string) (*model.ApprovalRequest, error) {
	req, err := m.store.GetApproval(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get approval request %s: %w", id, err)
	}
	return req, nil
}

// ListPending returns pending requests, oldest first.
func (m *Manager) ListPending(ctx context.Context) ([]model.ApprovalRequest, error) {
	return m.List(ctx, model.ApprovalPending)
}

// List returns requests in status, or all requests when status is empty.
func (m *Manager) List(ctx context.Context, status model.ApprovalStatus) ([]model.ApprovalRequest, error) {
	reqs, err := m.store.ListApprovals(ctx, status)
	if err != nil {
		return nil, fmt.Errorf("list approval requests: %w", err)
	}
	return reqs, nil
}

func (m *Manager) loadPending(ctx context.Context, id string) (*model.ApprovalRequest, model.WorkflowDefinition, error) {
	req, err := m.Get(ctx, id)
	if err != nil {
		return nil, model.WorkflowDefinition{}, err
	}
	if req.Status != model.ApprovalPending {
		return nil, model.WorkflowDefinition{}, fmt.Errorf("%w: %s is %s", ErrNotPending, id, req.Status)
	}
	wf, ok := m.registry.GetWorkflowDefinition(req.Action)
	if !ok {
		return nil, model.WorkflowDefinition{}, fmt.Errorf("%w: %s", ErrUnknownWorkflow, req.Action)
	}
	return req, wf, nil
}
