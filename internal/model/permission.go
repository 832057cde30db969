package model

import (
	"fmt"
	"sort"
	"strings"
)

// Permission identifies an action a user may perform against a resource.
// Permissions form a closed set: anything outside the catalog parses to
// PermissionUnknown and is rejected by every configuration loader.
type Permission string

const (
	PermissionUnknown Permission = ""

	ViewVehiclesBasic           Permission = "view_vehicles_basic"
	ViewVehiclesDetailed        Permission = "view_vehicles_detailed"
	ViewVehicleFinancials       Permission = "view_vehicle_financials"
	ManageVehicles              Permission = "manage_vehicles"
	AssignVehicleDrivers        Permission = "assign_vehicle_drivers"
	DecommissionVehicles        Permission = "decommission_vehicles"
	ViewDrivers                 Permission = "view_drivers"
	ManageDrivers               Permission = "manage_drivers"
	ViewBookings                Permission = "view_bookings"
	ManageBookings              Permission = "manage_bookings"
	ViewIncidents               Permission = "view_incidents"
	ManageIncidents             Permission = "manage_incidents"
	InvestigateIncidents        Permission = "investigate_incidents"
	ViewFinancials              Permission = "view_financials"
	ApproveFinancialTransaction Permission = "approve_financial_transactions"
	ApprovePayoutBatches        Permission = "approve_payout_batches"
	UnmaskPII                   Permission = "unmask_pii"
	ViewPIIFull                 Permission = "view_pii_full"
	CrossRegionOverride         Permission = "cross_region_override"
	ApproveRequests             Permission = "approve_requests"
	ManageUsers                 Permission = "manage_users"
	ManageRoles                 Permission = "manage_roles"
	ViewAuditLog                Permission = "view_audit_log"
	ExportReports               Permission = "export_reports"
)

// PermissionInfo describes a catalog entry.
type PermissionInfo struct {
	Key         Permission `json:"key"`
	Description string     `json:"description"`
	// RegionAgnostic permissions are not bound to a resource region, so a
	// request for them may omit the region id.
	RegionAgnostic bool `json:"region_agnostic"`
}

var catalog = map[Permission]PermissionInfo{
	ViewVehiclesBasic:           {Description: "View basic vehicle information"},
	ViewVehiclesDetailed:        {Description: "View detailed vehicle records"},
	ViewVehicleFinancials:       {Description: "View vehicle acquisition and depreciation data"},
	ManageVehicles:              {Description: "Create and update vehicles"},
	AssignVehicleDrivers:        {Description: "Assign drivers to vehicles"},
	DecommissionVehicles:        {Description: "Decommission vehicles from the fleet"},
	ViewDrivers:                 {Description: "View driver profiles"},
	ManageDrivers:               {Description: "Create and update driver profiles"},
	ViewBookings:                {Description: "View bookings"},
	ManageBookings:              {Description: "Modify and cancel bookings"},
	ViewIncidents:               {Description: "View incidents"},
	ManageIncidents:             {Description: "Create and update incidents"},
	InvestigateIncidents:        {Description: "Run incident investigations"},
	ViewFinancials:              {Description: "View financial reports"},
	ApproveFinancialTransaction: {Description: "Approve financial transactions"},
	ApprovePayoutBatches:        {Description: "Approve driver payout batches"},
	UnmaskPII:                   {Description: "Unmask personally identifiable information"},
	ViewPIIFull:                 {Description: "View full PII without masking"},
	CrossRegionOverride:         {Description: "Access resources outside assigned regions"},
	ApproveRequests:             {Description: "Approve access requests", RegionAgnostic: true},
	ManageUsers:                 {Description: "Manage user accounts", RegionAgnostic: true},
	ManageRoles:                 {Description: "Manage roles and assignments", RegionAgnostic: true},
	ViewAuditLog:                {Description: "Read the audit log", RegionAgnostic: true},
	ExportReports:               {Description: "Export operational reports"},
}

func init() {
	for k, v := range catalog {
		v.Key = k
		catalog[k] = v
	}
}

// ParsePermission maps s to a catalog permission. Unknown strings yield
// PermissionUnknown and false.
func ParsePermission(s string) (Permission, bool) {
	p := Permission(strings.TrimSpace(strings.ToLower(s)))
	if _, ok := catalog[p]; !ok {
		return PermissionUnknown, false
	}
	return p, true
}

// ParsePermissions parses every entry of values, failing on the first
// unknown permission.
func ParsePermissions(values []string) ([]Permission, error) {
	out := make([]Permission, 0, len(values))
	for _, v := range values {
		p, ok := ParsePermission(v)
		if !ok {
			return nil, fmt.Errorf("unknown permission %q", v)
		}
		out = append(out, p)
	}
	return out, nil
}

// Valid reports whether p is a catalog permission.
func (p Permission) Valid() bool {
	_, ok := catalog[p]
	return ok
}

// RegionAgnostic reports whether p can be evaluated without a region.
func (p Permission) RegionAgnostic() bool {
	return catalog[p].RegionAgnostic
}

func (p Permission) String() string { return string(p) }

// Catalog returns every known permission sorted by key.
func Catalog() []PermissionInfo {
	out := make([]PermissionInfo, 0, len(catalog))
	for _, info := range catalog {
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// PermissionSet is a deduplicated set of permissions.
type PermissionSet map[Permission]struct{}

// NewPermissionSet builds a set from perms.
func NewPermissionSet(perms ...Permission) PermissionSet {
	s := make(PermissionSet, len(perms))
	for _, p := range perms {
		s[p] = struct{}{}
	}
	return s
}

// Has reports whether p is in the set.
func (s PermissionSet) Has(p Permission) bool {
	_, ok := s[p]
	return ok
}

// Add inserts perms into the set.
func (s PermissionSet) Add(perms ...Permission) {
	for _, p := range perms {
		s[p] = struct{}{}
	}
}

// Merge inserts every member of other.
func (s PermissionSet) Merge(other PermissionSet) {
	for p := range other {
		s[p] = struct{}{}
	}
}

// Sorted returns the members in lexical order.
func (s PermissionSet) Sorted() []Permission {
	out := make([]Permission, 0, len(s))
	for p := range s {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
