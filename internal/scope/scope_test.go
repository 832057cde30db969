package scope

import (
	"reflect"
	"testing"
	"time"

	"github.com/nathant30/ARCHIVED-xpress-ops-tower-sub003/internal/model"
)

var now = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func tierPtr(t model.PIITier) *model.PIITier { return &t }

func TestEffectiveRegions(t *testing.T) {
	u := &model.User{
		AllowedRegions: model.RegionSet{"ncr"},
		Assignments: []model.RoleAssignment{
			{IsActive: true, ValidFrom: now.Add(-time.Hour), AllowedRegions: model.RegionSet{"cebu"}},
			{IsActive: false, ValidFrom: now.Add(-time.Hour), AllowedRegions: model.RegionSet{"iloilo"}},
		},
		Grants: []model.TemporaryAccessGrant{
			{IsActive: true, ExpiresAt: now.Add(time.Hour), GrantedRegions: model.RegionSet{"davao"}},
			{IsActive: true, ExpiresAt: now.Add(-time.Second), GrantedRegions: model.RegionSet{"baguio"}},
		},
	}
	want := model.RegionSet{"cebu", "davao", "ncr"}
	if got := EffectiveRegions(u, now); !reflect.DeepEqual(got, want) {
		t.Errorf("EffectiveRegions: got %v, want %v", got, want)
	}

	u.Grants = append(u.Grants, model.TemporaryAccessGrant{IsActive: true, ExpiresAt: now.Add(time.Hour), GrantedRegions: model.AllRegions()})
	if got := EffectiveRegions(u, now); !got.IsWildcard() {
		t.Errorf("EffectiveRegions with wildcard grant: got %v", got)
	}
	// Once the wildcard grant expires it contributes nothing.
	if got := EffectiveRegions(u, now.Add(2*time.Hour)); got.IsWildcard() {
		t.Errorf("EffectiveRegions after expiry: got %v", got)
	}
}

func TestEffectivePIIScope(t *testing.T) {
	u := &model.User{
		PIIScope: model.PIIMasked,
		Grants: []model.TemporaryAccessGrant{
			{IsActive: true, ExpiresAt: now.Add(-time.Minute), PIIScopeOverride: tierPtr(model.PIIFull)},
			{IsActive: true, ExpiresAt: now.Add(time.Minute), PIIScopeOverride: tierPtr(model.PIINone)},
		},
	}
	if got := EffectivePIIScope(u, now); got != model.PIIMasked {
		t.Errorf("expired override: got %v, want masked", got)
	}
	u.Grants[0].ExpiresAt = now.Add(time.Minute)
	if got := EffectivePIIScope(u, now); got != model.PIIFull {
		t.Errorf("active override: got %v, want full", got)
	}
}

func TestHonoredPIIScope(t *testing.T) {
	tests := []struct {
		tier     model.PIITier
		pii, mfa bool
		want     model.PIITier
	}{
		{model.PIIFull, true, false, model.PIIMasked},
		{model.PIIFull, true, true, model.PIIFull},
		{model.PIIFull, false, false, model.PIIFull},
		{model.PIIMasked, true, false, model.PIIMasked},
		{model.PIINone, true, true, model.PIINone},
	}
	for _, tt := range tests {
		if got := HonoredPIIScope(tt.tier, tt.pii, tt.mfa); got != tt.want {
			t.Errorf("HonoredPIIScope(%v, %v, %v): got %v, want %v", tt.tier, tt.pii, tt.mfa, got, tt.want)
		}
	}
}

func TestGrantedPermissionsAndExpired(t *testing.T) {
	u := &model.User{
		Grants: []model.TemporaryAccessGrant{
			{IsActive: true, ExpiresAt: now.Add(time.Minute), GrantedPermissions: []model.Permission{model.UnmaskPII}},
			{IsActive: true, ExpiresAt: now, GrantedPermissions: []model.Permission{model.ViewFinancials}},
			{IsActive: false, ExpiresAt: now.Add(time.Hour), GrantedPermissions: []model.Permission{model.ManageDrivers}},
		},
	}
	got := GrantedPermissions(u, now)
	if !got.Has(model.UnmaskPII) || got.Has(model.ViewFinancials) || got.Has(model.ManageDrivers) {
		t.Errorf("GrantedPermissions: got %v", got.Sorted())
	}
	if n := len(ExpiredGrants(u, model.ViewFinancials, now)); n != 1 {
		t.Errorf("ExpiredGrants(view_financials): got %d, want 1", n)
	}
	if n := len(ExpiredGrants(u, model.UnmaskPII, now)); n != 0 {
		t.Errorf("ExpiredGrants(unmask_pii): got %d, want 0", n)
	}
}

func TestEmergencyOverride(t *testing.T) {
	u := &model.User{
		Grants: []model.TemporaryAccessGrant{
			{IsActive: true, ExpiresAt: now.Add(time.Hour), EscalationType: model.EscalationApproval, CaseID: "X"},
			{IsActive: true, ExpiresAt: now.Add(time.Hour), EscalationType: model.EscalationEmergency},
			{IsActive: true, ExpiresAt: now.Add(time.Hour), EscalationType: model.EscalationEmergency, CaseID: "INC-7",
				GrantedPermissions: []model.Permission{model.InvestigateIncidents}},
		},
	}
	g, ok := EmergencyOverride(u, model.InvestigateIncidents, "cebu", now)
	if !ok || g.CaseID != "INC-7" {
		t.Fatalf("EmergencyOverride: got (%v, %v)", g, ok)
	}
	if _, ok := EmergencyOverride(u, model.ViewFinancials, "cebu", now); ok {
		t.Error("override must not cover an unlisted action")
	}
	if _, ok := EmergencyOverride(u, model.InvestigateIncidents, "cebu", now.Add(2*time.Hour)); ok {
		t.Error("expired override must not apply")
	}

	u.Grants[2].GrantedPermissions = nil
	if _, ok := EmergencyOverride(u, model.ViewFinancials, "cebu", now); !ok {
		t.Error("override without listed permissions should cover any action")
	}

	u.Grants[2].GrantedRegions = model.RegionSet{"cebu"}
	if _, ok := EmergencyOverride(u, model.InvestigateIncidents, "cebu", now); !ok {
		t.Error("override should reach its granted region")
	}
	if _, ok := EmergencyOverride(u, model.InvestigateIncidents, "davao", now); ok {
		t.Error("override must not reach a region it does not name")
	}
	u.Grants[2].GrantedRegions = model.AllRegions()
	if _, ok := EmergencyOverride(u, model.InvestigateIncidents, "davao", now); !ok {
		t.Error("wildcard override should reach every region")
	}
}

func TestNextExpiry(t *testing.T) {
	soon := now.Add(10 * time.Minute)
	later := now.Add(time.Hour)
	u := &model.User{
		Assignments: []model.RoleAssignment{
			{IsActive: true, ValidFrom: now.Add(-time.Hour), ValidUntil: &later},
		},
		Grants: []model.TemporaryAccessGrant{
			{IsActive: true, ExpiresAt: soon},
			{IsActive: false, ExpiresAt: now.Add(time.Minute)},
		},
	}
	if got := NextExpiry(u, now); !got.Equal(soon) {
		t.Errorf("NextExpiry: got %v, want %v", got, soon)
	}
	if got := NextExpiry(&model.User{}, now); !got.IsZero() {
		t.Errorf("NextExpiry of empty user: got %v", got)
	}
}

func TestStandingRegionsExcludesEmergency(t *testing.T) {
	u := &model.User{
		AllowedRegions: model.RegionSet{"ncr"},
		Grants: []model.TemporaryAccessGrant{
			{IsActive: true, ExpiresAt: now.Add(time.Hour), GrantedRegions: model.RegionSet{"cebu"}},
			{IsActive: true, ExpiresAt: now.Add(time.Hour), GrantedRegions: model.RegionSet{"davao"},
				EscalationType: model.EscalationEmergency, CaseID: "INC-7"},
		},
	}
	want := model.RegionSet{"cebu", "ncr"}
	if got := StandingRegions(u, now); !reflect.DeepEqual(got, want) {
		t.Errorf("StandingRegions: got %v, want %v", got, want)
	}
	if got := EffectiveRegions(u, now); !got.Contains("davao") {
		t.Errorf("EffectiveRegions should include emergency regions: got %v", got)
	}
}
