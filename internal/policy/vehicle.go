package policy

import (
	"context"

	"github.com/nathant30/ARCHIVED-xpress-ops-tower-sub003/internal/model"
)

// VehicleContext describes a fleet vehicle and the call acting on it.
type VehicleContext struct {
	VehicleID     string              `json:"vehicle_id"`
	RegionID      string              `json:"region_id"`
	OwnershipType model.OwnershipType `json:"ownership_type"`
	DataClass     model.DataClass     `json:"data_class"`
	ContainsPII   bool                `json:"contains_pii"`
	MFAPresent    bool                `json:"mfa_present"`
	Operation     model.OperationType `json:"operation,omitempty"`
	Channel       model.Channel       `json:"channel,omitempty"`
	RequestID     string              `json:"request_id,omitempty"`
}

// VehicleAccessDecision adds the depth of vehicle data the caller may see.
// AccessLevel is empty on a deny.
type VehicleAccessDecision struct {
	model.PolicyDecision
	AccessLevel model.OwnershipAccessLevel `json:"ownership_access_level,omitempty"`
}

// EvaluateVehicleAccess decides perm on a vehicle with the same checks as
// EvaluatePolicy, then classifies the access depth.
func (e *Engine) EvaluateVehicleAccess(ctx context.Context, userID string, vc VehicleContext, perm model.Permission) VehicleAccessDecision {
	req := model.PolicyEvaluationRequest{
		User: model.UserContext{ID: userID},
		Resource: model.ResourceContext{
			Type:          model.ResourceVehicle,
			ID:            vc.VehicleID,
			RegionID:      vc.RegionID,
			DataClass:     vc.DataClass,
			ContainsPII:   vc.ContainsPII,
			OwnershipType: vc.OwnershipType,
		},
		Action: perm,
		Context: model.InvocationContext{
			Channel:    vc.Channel,
			MFAPresent: vc.MFAPresent,
			Timestamp:  e.now(),
			Operation:  vc.Operation,
			RequestID:  vc.RequestID,
		},
	}
	out := e.evaluate(ctx, req)
	d := VehicleAccessDecision{PolicyDecision: out.decision}
	if out.decision.Allowed() {
		d.AccessLevel = OwnershipAccessLevel(vc.OwnershipType, out.perms)
	}
	return d
}

// OwnershipAccessLevel classifies vehicle access from who owns the vehicle
// and what the caller holds. Driver-owned vehicles never expose financials.
func OwnershipAccessLevel(o model.OwnershipType, perms model.PermissionSet) model.OwnershipAccessLevel {
	switch {
	case perms.Has(model.ManageVehicles) && (o == model.OwnershipXpress || o == model.OwnershipFleet):
		return model.AccessFull
	case perms.Has(model.ViewVehicleFinancials) && o != model.OwnershipDriver:
		return model.AccessFinancial
	case perms.Has(model.ViewVehiclesDetailed):
		return model.AccessDetailed
	case o == model.OwnershipOperator || o == model.OwnershipDriver:
		return model.AccessLimited
	}
	return model.AccessBasic
}
