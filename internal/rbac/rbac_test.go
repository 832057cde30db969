package rbac

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/nathant30/ARCHIVED-xpress-ops-tower-sub003/internal/model"
)

func testRoles() []model.Role {
	return []model.Role{
		{ID: "viewer", Level: 10, Permissions: []model.Permission{model.ViewVehiclesBasic, model.ViewBookings}},
		{ID: "dispatcher", Level: 20, Permissions: []model.Permission{model.ManageBookings}, InheritsFrom: []string{"viewer"}},
		{ID: "analyst", Level: 25, Permissions: []model.Permission{model.ViewFinancials}},
		{ID: "manager", Level: 40, Permissions: []model.Permission{model.ApproveRequests}, InheritsFrom: []string{"dispatcher", "analyst"}},
	}
}

func mustGraph(t *testing.T) *Graph {
	t.Helper()
	g, err := NewGraph(testRoles())
	if err != nil {
		t.Fatalf("NewGraph: %v", err)
	}
	return g
}

func TestGraphTransitivePermissions(t *testing.T) {
	g := mustGraph(t)
	got := g.Permissions("manager").Sorted()
	want := []model.Permission{
		model.ApproveRequests, model.ManageBookings, model.ViewBookings,
		model.ViewFinancials, model.ViewVehiclesBasic,
	}
	if len(got) != len(want) {
		t.Fatalf("manager permissions: got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("manager permissions[%d]: got %s, want %s", i, got[i], want[i])
		}
	}
	if g.Permissions("nobody") != nil {
		t.Error("unknown role should have nil permissions")
	}
	if g.Level("manager") != 40 || g.Level("nobody") != 0 {
		t.Error("Level returned wrong result")
	}
	roles := g.Roles()
	if roles[0].ID != "manager" || roles[len(roles)-1].ID != "viewer" {
		t.Errorf("Roles order: got %s..%s", roles[0].ID, roles[len(roles)-1].ID)
	}
}

func TestGraphRejectsCycle(t *testing.T) {
	roles := []model.Role{
		{ID: "a", InheritsFrom: []string{"b"}},
		{ID: "b", InheritsFrom: []string{"c"}},
		{ID: "c", InheritsFrom: []string{"a"}},
	}
	_, err := NewGraph(roles)
	if !errors.Is(err, ErrCycle) {
		t.Fatalf("NewGraph: got %v, want ErrCycle", err)
	}
	if !strings.Contains(err.Error(), "a -> b -> c -> a") {
		t.Errorf("cycle path missing from %q", err)
	}
}

func TestGraphRejectsSelfInheritance(t *testing.T) {
	_, err := NewGraph([]model.Role{{ID: "a", InheritsFrom: []string{"a"}}})
	if !errors.Is(err, ErrCycle) {
		t.Errorf("got %v, want ErrCycle", err)
	}
}

func TestGraphRejectsBadInput(t *testing.T) {
	tests := []struct {
		name  string
		roles []model.Role
		want  error
	}{
		{"dangling parent", []model.Role{{ID: "a", InheritsFrom: []string{"ghost"}}}, ErrUnknownRole},
		{"duplicate", []model.Role{{ID: "a"}, {ID: "a"}}, ErrDuplicateRole},
		{"bad permission", []model.Role{{ID: "a", Permissions: []model.Permission{"fly"}}}, ErrInvalidPermission},
		{"empty id", []model.Role{{}}, ErrUnknownRole},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewGraph(tt.roles); !errors.Is(err, tt.want) {
				t.Errorf("NewGraph: got %v, want %v", err, tt.want)
			}
		})
	}
}

func TestResolvePermissions(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-24 * time.Hour)
	expired := now.Add(-time.Hour)
	r := NewResolver(mustGraph(t))

	u := &model.User{
		ID: "u1",
		Assignments: []model.RoleAssignment{
			{RoleID: "dispatcher", IsActive: true, ValidFrom: past},
			{RoleID: "analyst", IsActive: true, ValidFrom: past, ValidUntil: &expired},
			{RoleID: "manager", IsActive: false, ValidFrom: past},
			{RoleID: "ghost", IsActive: true, ValidFrom: past},
		},
	}
	got := r.ResolvePermissions(u, now)
	if !got.Has(model.ManageBookings) || !got.Has(model.ViewVehiclesBasic) {
		t.Errorf("missing dispatcher permissions: %v", got.Sorted())
	}
	if got.Has(model.ViewFinancials) {
		t.Error("expired assignment must not contribute")
	}
	if got.Has(model.ApproveRequests) {
		t.Error("inactive assignment must not contribute")
	}

	sources := r.ExpiredSources(u, model.ViewFinancials, now)
	if len(sources) != 1 || sources[0].RoleID != "analyst" {
		t.Errorf("ExpiredSources: got %+v", sources)
	}
	if len(r.ExpiredSources(u, model.ApproveRequests, now)) != 0 {
		t.Error("inactive assignment is not an expired source")
	}

	level, role := r.MaxLevel(u, now)
	if level != 20 || role != "dispatcher" {
		t.Errorf("MaxLevel: got (%d, %s), want (20, dispatcher)", level, role)
	}
}

func TestResolvePermissionsEmpty(t *testing.T) {
	r := NewResolver(mustGraph(t))
	got := r.ResolvePermissions(&model.User{ID: "u"}, time.Now())
	if len(got) != 0 {
		t.Errorf("got %v, want empty set", got.Sorted())
	}
	if level, role := r.MaxLevel(&model.User{}, time.Now()); level != 0 || role != "" {
		t.Errorf("MaxLevel: got (%d, %q)", level, role)
	}
}
