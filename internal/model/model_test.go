package model

import (
	"encoding/json"
	"reflect"
	"testing"
	"time"
)

func TestParsePermission(t *testing.T) {
	tests := []struct {
		in   string
		want Permission
		ok   bool
	}{
		{"view_vehicles_basic", ViewVehiclesBasic, true},
		{"  APPROVE_REQUESTS ", ApproveRequests, true},
		{"launch_missiles", PermissionUnknown, false},
		{"", PermissionUnknown, false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ParsePermission(tt.in)
			if got != tt.want || ok != tt.ok {
				t.Errorf("ParsePermission(%q): got (%q, %v), want (%q, %v)", tt.in, got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestParsePermissionsRejectsUnknown(t *testing.T) {
	if _, err := ParsePermissions([]string{"view_drivers", "fly"}); err == nil {
		t.Fatal("expected error for unknown permission")
	}
	got, err := ParsePermissions([]string{"view_drivers", "manage_users"})
	if err != nil {
		t.Fatalf("ParsePermissions: %v", err)
	}
	if len(got) != 2 || got[0] != ViewDrivers || got[1] != ManageUsers {
		t.Errorf("ParsePermissions: got %v", got)
	}
}

func TestCatalog(t *testing.T) {
	cat := Catalog()
	if len(cat) != 24 {
		t.Fatalf("catalog size: got %d, want 24", len(cat))
	}
	for i := 1; i < len(cat); i++ {
		if cat[i-1].Key >= cat[i].Key {
			t.Errorf("catalog not sorted at %d: %s >= %s", i, cat[i-1].Key, cat[i].Key)
		}
	}
	agnostic := 0
	for _, info := range cat {
		if info.Key == "" {
			t.Errorf("catalog entry without key: %+v", info)
		}
		if info.RegionAgnostic {
			agnostic++
		}
	}
	if agnostic != 4 {
		t.Errorf("region agnostic permissions: got %d, want 4", agnostic)
	}
	if !ManageUsers.RegionAgnostic() || ViewVehiclesBasic.RegionAgnostic() {
		t.Error("RegionAgnostic flags wrong")
	}
}

func TestPermissionSet(t *testing.T) {
	s := NewPermissionSet(ViewDrivers, ViewBookings)
	s.Merge(NewPermissionSet(ViewBookings, ManageBookings))
	want := []Permission{ManageBookings, ViewBookings, ViewDrivers}
	if got := s.Sorted(); !reflect.DeepEqual(got, want) {
		t.Errorf("Sorted: got %v, want %v", got, want)
	}
	if s.Has(ManageDrivers) {
		t.Error("Has(manage_drivers) = true, want false")
	}
}

func TestRegionSetUnion(t *testing.T) {
	tests := []struct {
		name string
		a    RegionSet
		b    []RegionSet
		want RegionSet
	}{
		{"dedup sorted", RegionSet{"ncr", "cebu"}, []RegionSet{{"cebu", "davao"}}, RegionSet{"cebu", "davao", "ncr"}},
		{"wildcard collapses", RegionSet{"ncr"}, []RegionSet{{"*"}}, RegionSet{"*"}},
		{"blank ignored", RegionSet{" ", "ncr"}, nil, RegionSet{"ncr"}},
		{"empty", nil, nil, RegionSet{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.a.Union(tt.b...)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Union: got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRegionSetContainsAndCovers(t *testing.T) {
	r := RegionSet{"ncr", "cebu"}
	if !r.Contains("ncr") || r.Contains("davao") || r.Contains("") {
		t.Error("Contains returned wrong result")
	}
	if !AllRegions().Contains("anything") {
		t.Error("wildcard should contain every region")
	}
	if !r.Covers(RegionSet{"cebu"}) || r.Covers(RegionSet{"cebu", "davao"}) {
		t.Error("Covers returned wrong result")
	}
	if r.Covers(AllRegions()) {
		t.Error("finite set must not cover wildcard")
	}
}

func TestPIITierOrderingAndText(t *testing.T) {
	if MaxPIITier(PIINone, PIIFull, PIIMasked) != PIIFull {
		t.Error("MaxPIITier: want full")
	}
	if MaxPIITier() != PIINone {
		t.Error("MaxPIITier of nothing: want none")
	}
	var tier PIITier
	if err := json.Unmarshal([]byte(`"masked"`), &tier); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if tier != PIIMasked {
		t.Errorf("tier: got %v, want masked", tier)
	}
	if err := json.Unmarshal([]byte(`"everything"`), &tier); err == nil {
		t.Error("expected error for unknown tier")
	}
}

func TestDataClassAtLeast(t *testing.T) {
	if !DataRestricted.AtLeast(DataConfidential) || DataInternal.AtLeast(DataConfidential) {
		t.Error("AtLeast returned wrong result")
	}
	c, err := ParseDataClass("Confidential")
	if err != nil || c != DataConfidential {
		t.Errorf("ParseDataClass: got (%v, %v)", c, err)
	}
}

func TestRoleAssignmentEffective(t *testing.T) {
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	tests := []struct {
		name      string
		a         RoleAssignment
		effective bool
		expired   bool
	}{
		{"open ended", RoleAssignment{IsActive: true, ValidFrom: past}, true, false},
		{"inactive", RoleAssignment{IsActive: false, ValidFrom: past}, false, false},
		{"not yet valid", RoleAssignment{IsActive: true, ValidFrom: future}, false, false},
		{"within window", RoleAssignment{IsActive: true, ValidFrom: past, ValidUntil: &future}, true, false},
		{"expired", RoleAssignment{IsActive: true, ValidFrom: past, ValidUntil: &past}, false, true},
		{"ends now", RoleAssignment{IsActive: true, ValidFrom: past, ValidUntil: &now}, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.a.Effective(now); got != tt.effective {
				t.Errorf("Effective: got %v, want %v", got, tt.effective)
			}
			if got := tt.a.Expired(now); got != tt.expired {
				t.Errorf("Expired: got %v, want %v", got, tt.expired)
			}
		})
	}
}

func TestGrantEffective(t *testing.T) {
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	g := TemporaryAccessGrant{IsActive: true, ExpiresAt: now.Add(time.Minute)}
	if !g.Effective(now) {
		t.Error("active unexpired grant should be effective")
	}
	if g.Effective(now.Add(time.Minute)) {
		t.Error("grant should not be effective at expiresAt")
	}
	g.IsActive = false
	if g.Effective(now) {
		t.Error("revoked grant should not be effective")
	}

	e := TemporaryAccessGrant{EscalationType: EscalationEmergency}
	if e.IsEmergency() {
		t.Error("emergency without case id is not an override")
	}
	e.CaseID = "INC-1"
	if !e.IsEmergency() {
		t.Error("emergency with case id should be an override")
	}
}

func TestSensitivity(t *testing.T) {
	tests := []struct {
		in    string
		want  Sensitivity
		level int
	}{
		{"low", SensitivityLow, 10},
		{"medium", SensitivityMedium, 20},
		{"high", SensitivityHigh, 30},
		{"critical", SensitivityCritical, 40},
	}
	for _, tt := range tests {
		got, err := ParseSensitivity(tt.in)
		if err != nil {
			t.Fatalf("ParseSensitivity(%q): %v", tt.in, err)
		}
		if got != tt.want || got.MinApproverLevel() != tt.level {
			t.Errorf("%s: got (%v, %d), want (%v, %d)", tt.in, got, got.MinApproverLevel(), tt.want, tt.level)
		}
	}
	if _, err := ParseSensitivity("extreme"); err == nil {
		t.Error("expected error for unknown sensitivity")
	}
}

func TestPolicyDecisionJSON(t *testing.T) {
	d := PolicyDecision{
		Decision:    DecisionAllow,
		Reasons:     []string{"ok"},
		Obligations: Obligations{AuditLevel: AuditStandard, MaskFields: []string{}},
		Metadata:    DecisionMetadata{PolicyVersion: "v1"},
	}
	b, err := json.Marshal(d)
	if err != nil {
		t.Fatalf("Marshal error: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		t.Fatalf("Unmarshal error: %v", err)
	}
	ob, ok := m["obligations"].(map[string]any)
	if !ok {
		t.Fatalf("obligations missing: %s", b)
	}
	if ob["require_mfa"] != false || ob["audit_level"] != "standard" {
		t.Errorf("obligations: got %v", ob)
	}
	if !d.Allowed() {
		t.Error("Allowed: want true")
	}
}
