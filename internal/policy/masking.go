package policy

import (
	"sort"

	"github.com/nathant30/ARCHIVED-xpress-ops-tower-sub003/internal/model"
)

// Field groups per resource type. A resource type missing from a table has
// no fields in that group.
var (
	identificationFields = map[model.ResourceType][]string{
		model.ResourceVehicle:   {"driver_license_number", "owner_government_id", "owner_name", "registration_number"},
		model.ResourceDriver:    {"date_of_birth", "government_id", "home_address", "license_number"},
		model.ResourceBooking:   {"dropoff_address", "passenger_name", "pickup_address"},
		model.ResourceIncident:  {"involved_party_names", "witness_statements"},
		model.ResourceFinancial: {"account_holder_name", "bank_account_number", "tax_id"},
		model.ResourceUser:      {"government_id", "home_address"},
		model.ResourceReport:    {"subject_identifiers"},
	}
	contactFields = map[model.ResourceType][]string{
		model.ResourceVehicle:   {"owner_email", "owner_phone"},
		model.ResourceDriver:    {"email", "emergency_contact", "phone"},
		model.ResourceBooking:   {"passenger_email", "passenger_phone"},
		model.ResourceIncident:  {"reporter_contact"},
		model.ResourceFinancial: {"billing_email"},
		model.ResourceUser:      {"email", "phone"},
	}
	financialFields = map[model.ResourceType][]string{
		model.ResourceVehicle:   {"acquisition_cost", "depreciation", "insurance_value", "monthly_revenue"},
		model.ResourceDriver:    {"earnings", "payout_account"},
		model.ResourceBooking:   {"driver_payout", "fare_breakdown"},
		model.ResourceIncident:  {"damage_cost", "settlement_amount"},
		model.ResourceFinancial: {"amount", "balance", "ledger_entries"},
		model.ResourceReport:    {"revenue_totals"},
	}
)

// MaskFields returns the sorted field names the caller must mask for a
// resource, given the PII tier actually honored for this invocation.
//
// Identification fields are masked on PII-bearing resources below full
// visibility, contact fields too when the tier is none. Financial fields
// are masked on confidential or restricted resources unless the tier is
// full or the caller holds a financial view permission.
func MaskFields(r model.ResourceContext, tier model.PIITier, perms model.PermissionSet) []string {
	set := make(map[string]struct{})
	add := func(fields []string) {
		for _, f := range fields {
			set[f] = struct{}{}
		}
	}
	if r.ContainsPII && tier < model.PIIFull {
		add(identificationFields[r.Type])
		if tier == model.PIINone {
			add(contactFields[r.Type])
		}
	}
	if r.DataClass.AtLeast(model.DataConfidential) && tier < model.PIIFull && !holdsFinancialView(r.Type, perms) {
		add(financialFields[r.Type])
	}
	out := make([]string, 0, len(set))
	for f := range set {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

func holdsFinancialView(t model.ResourceType, perms model.PermissionSet) bool {
	if perms.Has(model.ViewFinancials) {
		return true
	}
	return t == model.ResourceVehicle && perms.Has(model.ViewVehicleFinancials)
}
