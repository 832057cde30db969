// Package rbac expands role assignments into effective permission sets.
//
// Roles form an explicit directed inheritance graph that is validated and
// flattened once when the graph is built. A Graph is immutable afterwards
// and safe for concurrent use.
package rbac

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/nathant30/ARCHIVED-xpress-ops-tower-sub003/internal/model"
)

var (
	// ErrCycle is returned when role inheritance loops back on itself.
	ErrCycle = errors.New("role inheritance cycle")
	// ErrUnknownRole is returned when a role inherits from a role that does
	// not exist.
	ErrUnknownRole = errors.New("unknown role")
	// ErrDuplicateRole is returned when two roles share an id.
	ErrDuplicateRole = errors.New("duplicate role")
	// ErrInvalidPermission is returned when a role lists a permission
	// outside the catalog.
	ErrInvalidPermission = errors.New("invalid permission")
)

type node struct {
	role      model.Role
	effective model.PermissionSet
}

// Graph is the validated role inheritance graph.
type Graph struct {
	nodes map[string]*node
}

// NewGraph validates roles and precomputes every role's effective
// permissions, the transitive union of its own and all inherited roles'.
func NewGraph(roles []model.Role) (*Graph, error) {
	g := &Graph{nodes: make(map[string]*node, len(roles))}
	for _, r := range roles {
		if r.ID == "" {
			return nil, fmt.Errorf("%w: empty role id", ErrUnknownRole)
		}
		if _, dup := g.nodes[r.ID]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateRole, r.ID)
		}
		for _, p := range r.Permissions {
			if !p.Valid() {
				return nil, fmt.Errorf("%w: role %s lists %q", ErrInvalidPermission, r.ID, p)
			}
		}
		g.nodes[r.ID] = &node{role: r}
	}
	for _, n := range g.nodes {
		for _, parent := range n.role.InheritsFrom {
			if _, ok := g.nodes[parent]; !ok {
				return nil, fmt.Errorf("%w: %s inherits from %s", ErrUnknownRole, n.role.ID, parent)
			}
		}
	}

	const (
		unvisited = iota
		visiting
		done
	)
	state := make(map[string]int, len(g.nodes))
	var visit func(id string, path []string) (model.PermissionSet, error)
	visit = func(id string, path []string) (model.PermissionSet, error) {
		n := g.nodes[id]
		switch state[id] {
		case done:
			return n.effective, nil
		case visiting:
			return nil, fmt.Errorf("%w: %s", ErrCycle, strings.Join(append(path, id), " -> "))
		}
		state[id] = visiting
		set := model.NewPermissionSet(n.role.Permissions...)
		for _, parent := range n.role.InheritsFrom {
			inherited, err := visit(parent, append(path, id))
			if err != nil {
				return nil, err
			}
			set.Merge(inherited)
		}
		n.effective = set
		state[id] = done
		return set, nil
	}

	// Visit in a stable order so cycle errors name the same path every time.
	ids := make([]string, 0, len(g.nodes))
	for id := range g.nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if _, err := visit(id, nil); err != nil {
			return nil, err
		}
	}
	return g, nil
}

// Role returns the role with the given id.
func (g *Graph) Role(id string) (model.Role, bool) {
	n, ok := g.nodes[id]
	if !ok {
		return model.Role{}, false
	}
	return n.role, true
}

// Permissions returns the effective permissions of a role. Unknown roles
// yield nil. Callers must not modify the returned set.
func (g *Graph) Permissions(id string) model.PermissionSet {
	n, ok := g.nodes[id]
	if !ok {
		return nil
	}
	return n.effective
}

// Level returns the level of a role, or 0 for unknown roles.
func (g *Graph) Level(id string) int {
	n, ok := g.nodes[id]
	if !ok {
		return 0
	}
	return n.role.Level
}

// Roles returns every role sorted by descending level then id.
func (g *Graph) Roles() []model.Role {
	out := make([]model.Role, 0, len(g.nodes))
	for _, n := range g.nodes {
		out = append(out, n.role)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Level != out[j].Level {
			return out[i].Level > out[j].Level
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Len returns the number of roles in the graph.
func (g *Graph) Len() int { return len(g.nodes) }
