package workflow

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nathant30/ARCHIVED-xpress-ops-tower-sub003/internal/config"
	"github.com/nathant30/ARCHIVED-xpress-ops-tower-sub003/internal/grant"
	"github.com/nathant30/ARCHIVED-xpress-ops-tower-sub003/internal/model"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDefaultsAreValid(t *testing.T) {
	r := DefaultRegistry()
	if r.Len() != len(Defaults()) {
		t.Errorf("Len: got %d, want %d", r.Len(), len(Defaults()))
	}
	wf, ok := r.GetWorkflowDefinition(model.UnmaskPII)
	if !ok {
		t.Fatal("unmask_pii workflow missing")
	}
	if !wf.DualApprovalRequired || wf.SensitivityLevel != model.SensitivityCritical {
		t.Errorf("unmask_pii: got dual=%v sensitivity=%s", wf.DualApprovalRequired, wf.SensitivityLevel)
	}
	if wf.PIIScopeOverride == nil || *wf.PIIScopeOverride != model.PIIFull {
		t.Errorf("unmask_pii override: got %v, want full", wf.PIIScopeOverride)
	}
	if _, ok := r.GetWorkflowDefinition(model.ViewVehiclesBasic); ok {
		t.Error("view_vehicles_basic should have no workflow")
	}

	list := r.List()
	for i := 1; i < len(list); i++ {
		if list[i-1].Action >= list[i].Action {
			t.Errorf("List not sorted at %d: %s >= %s", i, list[i-1].Action, list[i].Action)
		}
	}
}

func TestNewRegistryRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		def  model.WorkflowDefinition
	}{
		{"unknown action", model.WorkflowDefinition{Action: "fly", DefaultTTLSeconds: 60}},
		{"zero ttl", model.WorkflowDefinition{Action: model.ExportReports}},
		{"bad auto grant", model.WorkflowDefinition{Action: model.ExportReports, DefaultTTLSeconds: 60, AutoGrantPermissions: []model.Permission{"nope"}}},
		{"bad sensitivity", model.WorkflowDefinition{Action: model.ExportReports, DefaultTTLSeconds: 60, SensitivityLevel: 9}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRegistry([]model.WorkflowDefinition{tt.def})
			if !errors.Is(err, ErrInvalidWorkflow) {
				t.Errorf("got %v, want ErrInvalidWorkflow", err)
			}
		})
	}
}

func TestLoadFileOverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "workflows.yaml")
	body := `workflows:
  - action: export_reports
    sensitivity_level: high
    mfa_required_for_approval: true
    auto_grant_permissions: [export_reports]
    default_ttl_seconds: 600
    required_fields: [report_type, period]
  - action: manage_bookings
    sensitivity_level: low
    auto_grant_permissions: [manage_bookings]
    default_ttl_seconds: 900
    pii_scope_override: masked
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	r, err := LoadFile(path, Defaults())
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if r.Len() != len(Defaults())+1 {
		t.Errorf("Len: got %d, want %d", r.Len(), len(Defaults())+1)
	}
	wf, _ := r.GetWorkflowDefinition(model.ExportReports)
	if wf.SensitivityLevel != model.SensitivityHigh || wf.DefaultTTLSeconds != 600 || len(wf.RequiredFields) != 2 {
		t.Errorf("export_reports not overridden: %+v", wf)
	}
	mb, ok := r.GetWorkflowDefinition(model.ManageBookings)
	if !ok || mb.PIIScopeOverride == nil || *mb.PIIScopeOverride != model.PIIMasked {
		t.Errorf("manage_bookings: got %+v", mb)
	}
}

func TestLoadFileRejectsUnknownPermission(t *testing.T) {
	path := filepath.Join(t.TempDir(), "workflows.yaml")
	body := "workflows:\n  - action: export_reports\n    sensitivity_level: low\n    auto_grant_permissions: [launch_rockets]\n    default_ttl_seconds: 60\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := LoadFile(path, nil); !errors.Is(err, ErrInvalidWorkflow) {
		t.Errorf("got %v, want ErrInvalidWorkflow", err)
	}
}

func TestValidateApprovalRequest(t *testing.T) {
	wf, _ := DefaultRegistry().GetWorkflowDefinition(model.ApproveFinancialTransaction)
	good := model.ApprovalRequest{
		Action:          model.ApproveFinancialTransaction,
		RequesterID:     "fin-1",
		Justification:   "month-end settlement",
		RequestedAction: map[string]any{"transaction_id": "tx-9", "amount": 1200.5},
	}
	if res := ValidateApprovalRequest(good, wf); !res.Valid {
		t.Errorf("valid request rejected: %v", res.Reasons)
	}

	bad := good
	bad.Justification = "  "
	bad.RequestedAction = map[string]any{"transaction_id": ""}
	res := ValidateApprovalRequest(bad, wf)
	if res.Valid {
		t.Fatal("invalid request accepted")
	}
	if len(res.Reasons) != 3 {
		t.Errorf("reasons: got %v, want justification and two missing fields", res.Reasons)
	}

	mismatch := good
	mismatch.Action = model.ExportReports
	if res := ValidateApprovalRequest(mismatch, wf); res.Valid {
		t.Error("action mismatch accepted")
	}
}

func TestCanUserApproveWorkflow(t *testing.T) {
	r := DefaultRegistry()
	tests := []struct {
		name   string
		level  int
		perms  model.PermissionSet
		action model.Permission
		want   bool
	}{
		{"critical needs 40", 35, nil, model.UnmaskPII, false},
		{"critical at 40", 40, nil, model.UnmaskPII, true},
		{"explicit permission", 10, model.NewPermissionSet(model.ApproveRequests), model.UnmaskPII, true},
		{"medium at 20", 20, nil, model.ExportReports, true},
		{"low at 10", 10, nil, model.ManageDrivers, true},
		{"no workflow", 99, nil, model.ViewVehiclesBasic, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := r.CanUserApproveWorkflow(tt.level, "role", tt.perms, tt.action); got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

type fixture struct {
	store  *config.Store
	grants *grant.Manager
	mgr    *Manager
	now    time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s, err := config.NewStore("")
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	ctx := context.Background()
	for _, u := range []*model.User{
		{ID: "risk-1", Email: "risk@xpress.example", AllowedRegions: model.RegionSet{"ncr"}},
		{ID: "rm-1", Email: "rm1@xpress.example", AllowedRegions: model.RegionSet{"ncr"}},
		{ID: "rm-2", Email: "rm2@xpress.example", AllowedRegions: model.RegionSet{"ncr"}},
	} {
		if err := s.CreateUser(ctx, u); err != nil {
			t.Fatalf("CreateUser: %v", err)
		}
	}
	f := &fixture{store: s, now: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)}
	clock := func() time.Time { return f.now }
	f.grants = grant.NewManager(s, nil, discardLogger(), grant.Options{Now: clock})
	f.mgr = NewManager(DefaultRegistry(), s, f.grants, nil, discardLogger(), Options{Now: clock})
	return f
}

func manager(id string) Approver {
	return Approver{UserID: id, RoleID: "regional_manager", Level: 40, MFAVerified: true}
}

func unmaskRequest() model.ApprovalRequest {
	return model.ApprovalRequest{
		Action:           model.UnmaskPII,
		RequesterID:      "risk-1",
		Justification:    "fraud case 88",
		RequestedAction:  map[string]any{"subject_id": "drv-42"},
		RequestedRegions: model.RegionSet{"ncr"},
	}
}

func TestDualApprovalIssuesGrant(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req, err := f.mgr.Submit(ctx, unmaskRequest())
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if req.Status != model.ApprovalPending {
		t.Errorf("Status: got %s, want pending", req.Status)
	}

	req, err = f.mgr.Approve(ctx, req.ID, manager("rm-1"))
	if err != nil {
		t.Fatalf("first Approve: %v", err)
	}
	if req.Status != model.ApprovalPending || req.GrantID != "" {
		t.Errorf("after one approval: status %s grant %q", req.Status, req.GrantID)
	}

	if _, err := f.mgr.Approve(ctx, req.ID, manager("rm-1")); !errors.Is(err, ErrDuplicateApprover) {
		t.Errorf("same approver twice: got %v, want ErrDuplicateApprover", err)
	}

	req, err = f.mgr.Approve(ctx, req.ID, manager("rm-2"))
	if err != nil {
		t.Fatalf("second Approve: %v", err)
	}
	if req.Status != model.ApprovalApproved || req.GrantID == "" {
		t.Fatalf("after two approvals: status %s grant %q", req.Status, req.GrantID)
	}

	g, err := f.store.GetGrant(ctx, req.GrantID)
	if err != nil {
		t.Fatalf("GetGrant: %v", err)
	}
	if g.UserID != "risk-1" || !g.Covers(model.UnmaskPII) || g.ApprovalID != req.ID {
		t.Errorf("grant: %+v", g)
	}
	if len(g.ApprovedBy) != 2 {
		t.Errorf("ApprovedBy: got %v, want two approvers", g.ApprovedBy)
	}

	if _, err := f.mgr.Approve(ctx, req.ID, manager("rm-3")); !errors.Is(err, ErrNotPending) {
		t.Errorf("approve after close: got %v, want ErrNotPending", err)
	}
}

func TestApprovalStepsUseClock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req, err := f.mgr.Submit(ctx, unmaskRequest())
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	first := f.now
	if _, err := f.mgr.Approve(ctx, req.ID, manager("rm-1")); err != nil {
		t.Fatalf("first Approve: %v", err)
	}
	f.now = f.now.Add(20 * time.Minute)
	if _, err := f.mgr.Approve(ctx, req.ID, manager("rm-2")); err != nil {
		t.Fatalf("second Approve: %v", err)
	}

	got, err := f.store.GetApproval(ctx, req.ID)
	if err != nil {
		t.Fatalf("GetApproval: %v", err)
	}
	if len(got.Approvals) != 2 {
		t.Fatalf("Approvals: got %d, want 2", len(got.Approvals))
	}
	if !got.Approvals[0].ApprovedAt.Equal(first) || !got.Approvals[1].ApprovedAt.Equal(f.now) {
		t.Errorf("ApprovedAt: got %v and %v, want %v and %v",
			got.Approvals[0].ApprovedAt, got.Approvals[1].ApprovedAt, first, f.now)
	}
}

func TestApproveRejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req, err := f.mgr.Submit(ctx, unmaskRequest())
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	tests := []struct {
		name string
		a    Approver
		want error
	}{
		{"self approval", Approver{UserID: "risk-1", RoleID: "iam_admin", Level: 50, MFAVerified: true}, ErrSelfApproval},
		{"level too low", Approver{UserID: "rm-1", RoleID: "fleet_manager", Level: 30, MFAVerified: true}, ErrIneligibleApprover},
		{"no mfa", Approver{UserID: "rm-1", RoleID: "regional_manager", Level: 40}, ErrMFARequired},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := f.mgr.Approve(ctx, req.ID, tt.a); !errors.Is(err, tt.want) {
				t.Errorf("got %v, want %v", err, tt.want)
			}
		})
	}

	got, err := f.mgr.Get(ctx, req.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(got.Approvals) != 0 {
		t.Errorf("rejected approvals were recorded: %v", got.Approvals)
	}
}

func TestSubmitRejectsInvalid(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req := unmaskRequest()
	req.RequestedAction = nil
	if _, err := f.mgr.Submit(ctx, req); !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("missing subject: got %v, want ErrInvalidRequest", err)
	}

	req = unmaskRequest()
	req.Action = model.ViewVehiclesBasic
	if _, err := f.mgr.Submit(ctx, req); !errors.Is(err, ErrUnknownWorkflow) {
		t.Errorf("no workflow: got %v, want ErrUnknownWorkflow", err)
	}
}

func TestDenyClosesRequest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req, err := f.mgr.Submit(ctx, unmaskRequest())
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if _, err := f.mgr.Deny(ctx, req.ID, manager("rm-1"), ""); !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("empty reason: got %v, want ErrInvalidRequest", err)
	}
	denied, err := f.mgr.Deny(ctx, req.ID, manager("rm-1"), "no case number on file")
	if err != nil {
		t.Fatalf("Deny: %v", err)
	}
	if denied.Status != model.ApprovalDenied || denied.DeniedBy != "rm-1" {
		t.Errorf("Deny: got status %s by %q", denied.Status, denied.DeniedBy)
	}
	if _, err := f.mgr.Approve(ctx, req.ID, manager("rm-2")); !errors.Is(err, ErrNotPending) {
		t.Errorf("approve after deny: got %v, want ErrNotPending", err)
	}

	pending, err := f.mgr.ListPending(ctx)
	if err != nil {
		t.Fatalf("ListPending: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("ListPending: got %d, want 0", len(pending))
	}
}

func TestGrantFailureClosesRequest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := model.ApprovalRequest{
		Action:           model.CrossRegionOverride,
		RequesterID:      "risk-1",
		Justification:    "typhoon coverage",
		RequestedRegions: model.RegionSet{"davao"},
	}
	submitted, err := f.mgr.Submit(ctx, req)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	got, err := f.mgr.Approve(ctx, submitted.ID, manager("rm-1"))
	if !errors.Is(err, ErrGrantFailed) || !errors.Is(err, grant.ErrRegionNotCovered) {
		t.Fatalf("Approve: got %v, want ErrGrantFailed wrapping ErrRegionNotCovered", err)
	}
	if got.Status != model.ApprovalDenied || got.DenyReason == "" {
		t.Errorf("request not closed: status %s reason %q", got.Status, got.DenyReason)
	}
	stored, err := f.mgr.Get(ctx, submitted.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if stored.Status != model.ApprovalDenied {
		t.Errorf("stored status: got %s, want denied", stored.Status)
	}
}
