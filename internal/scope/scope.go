// Package scope computes a user's effective regions and PII visibility,
// folding in every temporary grant in force.
package scope

import (
	"time"

	"github.com/nathant30/ARCHIVED-xpress-ops-tower-sub003/internal/model"
)

// EffectiveRegions returns the union of the user's base regions, the
// regions of each assignment in force and the regions of each effective
// grant. A wildcard anywhere makes the result the wildcard.
func EffectiveRegions(u *model.User, now time.Time) model.RegionSet {
	return regions(u, now, true)
}

// StandingRegions is EffectiveRegions without emergency grants. Regional
// containment is checked against it so that a resource reached only through
// an emergency override is reported as such.
func StandingRegions(u *model.User, now time.Time) model.RegionSet {
	return regions(u, now, false)
}

func regions(u *model.User, now time.Time, withEmergency bool) model.RegionSet {
	sets := make([]model.RegionSet, 0, len(u.Assignments)+len(u.Grants))
	for _, a := range u.Assignments {
		if a.Effective(now) {
			sets = append(sets, a.AllowedRegions)
		}
	}
	for _, g := range u.Grants {
		if g.Effective(now) && (withEmergency || !g.IsEmergency()) {
			sets = append(sets, g.GrantedRegions)
		}
	}
	return u.AllowedRegions.Union(sets...)
}

// EffectivePIIScope returns the highest of the user's base tier and the
// overrides of every effective grant.
func EffectivePIIScope(u *model.User, now time.Time) model.PIITier {
	tier := u.PIIScope
	for _, g := range u.Grants {
		if g.Effective(now) && g.PIIScopeOverride != nil && *g.PIIScopeOverride > tier {
			tier = *g.PIIScopeOverride
		}
	}
	return tier
}

// HonoredPIIScope returns the tier the engine actually applies. Full
// visibility of a PII-bearing resource requires a verified step-up in the
// current invocation; without it the tier is capped at masked.
func HonoredPIIScope(tier model.PIITier, containsPII, mfaPresent bool) model.PIITier {
	if tier == model.PIIFull && containsPII && !mfaPresent {
		return model.PIIMasked
	}
	return tier
}

// GrantedPermissions returns the permissions carried by the user's
// effective grants.
func GrantedPermissions(u *model.User, now time.Time) model.PermissionSet {
	set := model.NewPermissionSet()
	for _, g := range u.Grants {
		if g.Effective(now) {
			set.Add(g.GrantedPermissions...)
		}
	}
	return set
}

// ExpiredGrants returns grants that would carry perm but have run out or
// been revoked.
func ExpiredGrants(u *model.User, perm model.Permission, now time.Time) []model.TemporaryAccessGrant {
	var out []model.TemporaryAccessGrant
	for _, g := range u.Grants {
		if !g.Effective(now) && g.Covers(perm) {
			out = append(out, g)
		}
	}
	return out
}

// EmergencyOverride returns the effective emergency grant that lets the
// user act on a resource in region. The grant must cover action, or list no
// permissions at all, in which case it covers every action the user already
// holds. A grant naming regions reaches only those; one naming none reaches
// every region.
func EmergencyOverride(u *model.User, action model.Permission, region string, now time.Time) (*model.TemporaryAccessGrant, bool) {
	for i := range u.Grants {
		g := &u.Grants[i]
		if !g.Effective(now) || !g.IsEmergency() {
			continue
		}
		if len(g.GrantedRegions) > 0 && !g.GrantedRegions.Contains(region) {
			continue
		}
		if len(g.GrantedPermissions) == 0 || g.Covers(action) || g.Covers(model.CrossRegionOverride) {
			return g, true
		}
	}
	return nil, false
}

// NextExpiry returns the earliest instant after now at which any of the
// user's assignments or grants stops or starts being in force. The zero
// time means nothing changes.
func NextExpiry(u *model.User, now time.Time) time.Time {
	var next time.Time
	consider := func(t time.Time) {
		if t.After(now) && (next.IsZero() || t.Before(next)) {
			next = t
		}
	}
	for _, a := range u.Assignments {
		if !a.IsActive {
			continue
		}
		consider(a.ValidFrom)
		if a.ValidUntil != nil {
			consider(*a.ValidUntil)
		}
	}
	for _, g := range u.Grants {
		if g.IsActive {
			consider(g.ExpiresAt)
		}
	}
	return next
}
