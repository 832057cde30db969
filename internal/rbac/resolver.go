package rbac

import (
	"time"

	"github.com/nathant30/ARCHIVED-xpress-ops-tower-sub003/internal/model"
)

// Resolver resolves users' role assignments against a Graph.
type Resolver struct {
	graph *Graph
}

// NewResolver returns a resolver over g.
func NewResolver(g *Graph) *Resolver {
	return &Resolver{graph: g}
}

// Graph returns the underlying role graph.
func (r *Resolver) Graph() *Graph { return r.graph }

// ResolvePermissions returns the union of the effective permissions of every
// assignment in force at now. Inactive, expired and not-yet-valid
// assignments contribute nothing; neither do unknown role ids. Temporary
// grants are not included.
func (r *Resolver) ResolvePermissions(u *model.User, now time.Time) model.PermissionSet {
	set := model.NewPermissionSet()
	for _, a := range u.Assignments {
		if !a.Effective(now) {
			continue
		}
		set.Merge(r.graph.Permissions(a.RoleID))
	}
	return set
}

// ExpiredSources returns the assignments that have run past their validity
// window but would otherwise grant perm.
func (r *Resolver) ExpiredSources(u *model.User, perm model.Permission, now time.Time) []model.RoleAssignment {
	var out []model.RoleAssignment
	for _, a := range u.Assignments {
		if !a.Expired(now) {
			continue
		}
		if r.graph.Permissions(a.RoleID).Has(perm) {
			out = append(out, a)
		}
	}
	return out
}

// MaxLevel returns the highest role level among assignments in force at
// now, together with the role holding it. Users without effective
// assignments get level 0 and an empty role id.
func (r *Resolver) MaxLevel(u *model.User, now time.Time) (int, string) {
	level, roleID := 0, ""
	for _, a := range u.Assignments {
		if !a.Effective(now) {
			continue
		}
		if l := r.graph.Level(a.RoleID); l > level || roleID == "" {
			if _, ok := r.graph.Role(a.RoleID); ok {
				level, roleID = l, a.RoleID
			}
		}
	}
	return level, roleID
}
