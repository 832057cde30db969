package model

import (
	"sort"
	"strings"
)

// WildcardRegion matches every region.
const WildcardRegion = "*"

// RegionSet is a set of region identifiers. A set containing WildcardRegion
// matches every region.
type RegionSet []string

// AllRegions returns the wildcard set.
func AllRegions() RegionSet {
	return RegionSet{WildcardRegion}
}

// IsWildcard reports whether the set matches every region.
func (r RegionSet) IsWildcard() bool {
	for _, id := range r {
		if id == WildcardRegion {
			return true
		}
	}
	return false
}

// Contains reports whether region is covered by the set.
func (r RegionSet) Contains(region string) bool {
	region = strings.TrimSpace(region)
	for _, id := range r {
		if id == WildcardRegion || (region != "" && id == region) {
			return true
		}
	}
	return false
}

// Covers reports whether every region of other is covered by r.
func (r RegionSet) Covers(other RegionSet) bool {
	if r.IsWildcard() {
		return true
	}
	if other.IsWildcard() {
		return false
	}
	for _, id := range other {
		if !r.Contains(id) {
			return false
		}
	}
	return true
}

// Union returns the normalized union of r and others. The result collapses
// to the wildcard set if any input contains the wildcard.
func (r RegionSet) Union(others ...RegionSet) RegionSet {
	seen := make(map[string]struct{})
	add := func(set RegionSet) bool {
		for _, id := range set {
			id = strings.TrimSpace(id)
			if id == "" {
				continue
			}
			if id == WildcardRegion {
				return true
			}
			seen[id] = struct{}{}
		}
		return false
	}
	if add(r) {
		return AllRegions()
	}
	for _, o := range others {
		if add(o) {
			return AllRegions()
		}
	}
	out := make(RegionSet, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Normalize trims, deduplicates and sorts the set.
func (r RegionSet) Normalize() RegionSet {
	return r.Union()
}

// Sorted returns the regions in lexical order.
func (r RegionSet) Sorted() []string {
	return []string(r.Normalize())
}
