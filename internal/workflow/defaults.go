package workflow

import "github.com/nathant30/ARCHIVED-xpress-ops-tower-sub003/internal/model"

// Defaults returns the built-in workflow table.
func Defaults() []model.WorkflowDefinition {
	full := model.PIIFull
	return []model.WorkflowDefinition{
		{
			Action:                 model.UnmaskPII,
			SensitivityLevel:       model.SensitivityCritical,
			DualApprovalRequired:   true,
			MFARequiredForApproval: true,
			AutoGrantPermissions:   []model.Permission{model.UnmaskPII, model.ViewPIIFull},
			DefaultTTLSeconds:      3600,
			RequiredFields:         []string{"subject_id"},
			PIIScopeOverride:       &full,
			Description:            "Unmask personal data for a named subject",
		},
		{
			Action:                 model.CrossRegionOverride,
			SensitivityLevel:       model.SensitivityHigh,
			MFARequiredForApproval: true,
			AutoGrantPermissions:   []model.Permission{model.CrossRegionOverride},
			DefaultTTLSeconds:      7200,
			Description:            "Temporary access to resources in additional regions",
		},
		{
			Action:                 model.ApproveFinancialTransaction,
			SensitivityLevel:       model.SensitivityHigh,
			DualApprovalRequired:   true,
			MFARequiredForApproval: true,
			AutoGrantPermissions:   []model.Permission{model.ApproveFinancialTransaction, model.ViewFinancials},
			DefaultTTLSeconds:      1800,
			RequiredFields:         []string{"transaction_id", "amount"},
			Description:            "Approve a single financial transaction",
		},
		{
			Action:                 model.ApprovePayoutBatches,
			SensitivityLevel:       model.SensitivityCritical,
			DualApprovalRequired:   true,
			MFARequiredForApproval: true,
			AutoGrantPermissions:   []model.Permission{model.ApprovePayoutBatches, model.ViewFinancials},
			DefaultTTLSeconds:      1800,
			RequiredFields:         []string{"batch_id"},
			Description:            "Release a driver payout batch",
		},
		{
			Action:                 model.DecommissionVehicles,
			SensitivityLevel:       model.SensitivityHigh,
			MFARequiredForApproval: true,
			AutoGrantPermissions:   []model.Permission{model.DecommissionVehicles},
			DefaultTTLSeconds:      3600,
			RequiredFields:         []string{"vehicle_id"},
			Description:            "Remove a vehicle from the active fleet",
		},
		{
			Action:                 model.InvestigateIncidents,
			SensitivityLevel:       model.SensitivityHigh,
			MFARequiredForApproval: true,
			AutoGrantPermissions:   []model.Permission{model.InvestigateIncidents, model.ViewIncidents},
			DefaultTTLSeconds:      14400,
			RequiredFields:         []string{"incident_id"},
			Description:            "Open an incident investigation",
		},
		{
			Action:               model.ViewVehicleFinancials,
			SensitivityLevel:     model.SensitivityMedium,
			AutoGrantPermissions: []model.Permission{model.ViewVehicleFinancials},
			DefaultTTLSeconds:    28800,
			Description:          "View vehicle acquisition cost and depreciation",
		},
		{
			Action:               model.ViewFinancials,
			SensitivityLevel:     model.SensitivityMedium,
			AutoGrantPermissions: []model.Permission{model.ViewFinancials},
			DefaultTTLSeconds:    28800,
			Description:          "View financial reports",
		},
		{
			Action:               model.ExportReports,
			SensitivityLevel:     model.SensitivityMedium,
			AutoGrantPermissions: []model.Permission{model.ExportReports},
			DefaultTTLSeconds:    3600,
			RequiredFields:       []string{"report_type"},
			Description:          "Export an operational report",
		},
		{
			Action:               model.ViewAuditLog,
			SensitivityLevel:     model.SensitivityMedium,
			AutoGrantPermissions: []model.Permission{model.ViewAuditLog},
			DefaultTTLSeconds:    3600,
			Description:          "Read the audit log",
		},
		{
			Action:               model.ManageDrivers,
			SensitivityLevel:     model.SensitivityLow,
			AutoGrantPermissions: []model.Permission{model.ManageDrivers},
			DefaultTTLSeconds:    28800,
			Description:          "Update driver profiles",
		},
	}
}
