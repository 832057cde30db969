package mfa

import "github.com/nathant30/ARCHIVED-xpress-ops-tower-sub003/internal/model"

// StepUpThreshold is the sensitivity at which a fresh verified challenge
// is demanded before the action is carried out.
const StepUpThreshold = 3

var sensitivity = map[model.Permission]int{
	model.UnmaskPII:                   4,
	model.ViewPIIFull:                 4,
	model.ApproveFinancialTransaction: 4,
	model.ApprovePayoutBatches:        4,
	model.CrossRegionOverride:         4,
	model.DecommissionVehicles:        3,
	model.InvestigateIncidents:        3,
	model.ManageRoles:                 3,
	model.ManageUsers:                 3,
	model.ViewFinancials:              2,
	model.ViewVehicleFinancials:       2,
	model.ExportReports:               2,
	model.ViewAuditLog:                2,
	model.ApproveRequests:             2,
	model.ManageVehicles:              2,
	model.ViewVehiclesDetailed:        1,
	model.AssignVehicleDrivers:        1,
	model.ViewDrivers:                 1,
	model.ManageDrivers:               1,
	model.ManageBookings:              1,
	model.ManageIncidents:             1,
}

// SensitivityLevel rates p from 0 (routine) to 4 (critical). Unknown
// permissions rate 0.
func SensitivityLevel(p model.Permission) int {
	return sensitivity[p]
}

// RequiresStepUp reports whether p is rated at or above StepUpThreshold.
func RequiresStepUp(p model.Permission) bool {
	return SensitivityLevel(p) >= StepUpThreshold
}
