package policy

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/nathant30/ARCHIVED-xpress-ops-tower-sub003/internal/config"
	"github.com/nathant30/ARCHIVED-xpress-ops-tower-sub003/internal/model"
)

func TestOwnershipAccessLevel(t *testing.T) {
	basic := model.NewPermissionSet(model.ViewVehiclesBasic)
	detailed := model.NewPermissionSet(model.ViewVehiclesBasic, model.ViewVehiclesDetailed)
	finance := model.NewPermissionSet(model.ViewVehiclesBasic, model.ViewVehicleFinancials)
	manager := model.NewPermissionSet(model.ManageVehicles, model.ViewVehicleFinancials, model.ViewVehiclesDetailed)

	tests := []struct {
		name  string
		owner model.OwnershipType
		perms model.PermissionSet
		want  model.OwnershipAccessLevel
	}{
		{"basic on xpress", model.OwnershipXpress, basic, model.AccessBasic},
		{"basic on operator", model.OwnershipOperator, basic, model.AccessLimited},
		{"basic on driver", model.OwnershipDriver, basic, model.AccessLimited},
		{"detailed", model.OwnershipFleet, detailed, model.AccessDetailed},
		{"financial", model.OwnershipOperator, finance, model.AccessFinancial},
		{"no financials on driver owned", model.OwnershipDriver, finance, model.AccessLimited},
		{"manager on fleet", model.OwnershipFleet, manager, model.AccessFull},
		{"manager on operator", model.OwnershipOperator, manager, model.AccessFinancial},
		{"manager on driver", model.OwnershipDriver, manager, model.AccessDetailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := OwnershipAccessLevel(tt.owner, tt.perms); got != tt.want {
				t.Errorf("got %s, want %s", got, tt.want)
			}
		})
	}
}

func TestEvaluateVehicleAccess(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	d := f.engine.EvaluateVehicleAccess(ctx, "fleet", VehicleContext{
		VehicleID:     "veh-7",
		RegionID:      "ncr",
		OwnershipType: model.OwnershipFleet,
		DataClass:     model.DataConfidential,
	}, model.ViewVehicleFinancials)
	if !d.Allowed() {
		t.Fatalf("got %s %v, want allow", d.Decision, d.Reasons)
	}
	if d.AccessLevel != model.AccessFull {
		t.Errorf("AccessLevel: got %s, want full", d.AccessLevel)
	}
	if len(d.Obligations.MaskFields) != 0 {
		t.Errorf("financial viewer got masked fields %v", d.Obligations.MaskFields)
	}

	d = f.engine.EvaluateVehicleAccess(ctx, "basic", VehicleContext{
		VehicleID:     "veh-8",
		RegionID:      "ncr",
		OwnershipType: model.OwnershipDriver,
	}, model.ViewVehiclesBasic)
	if !d.Allowed() || d.AccessLevel != model.AccessLimited {
		t.Errorf("basic on driver owned: got %s %s", d.Decision, d.AccessLevel)
	}

	d = f.engine.EvaluateVehicleAccess(ctx, "basic", VehicleContext{VehicleID: "veh-9", RegionID: "ncr"}, model.ViewVehiclesBasic)
	if d.Allowed() || d.AccessLevel != "" || !hasReason(d.PolicyDecision, "invalid context") {
		t.Errorf("missing ownership: got %s %q %v", d.Decision, d.AccessLevel, d.Reasons)
	}

	d = f.engine.EvaluateVehicleAccess(ctx, "basic", VehicleContext{
		VehicleID:     "veh-10",
		RegionID:      "cebu",
		OwnershipType: model.OwnershipXpress,
	}, model.ViewVehiclesBasic)
	if d.Allowed() || d.AccessLevel != "" {
		t.Errorf("out of region: got %s %q", d.Decision, d.AccessLevel)
	}
}

// storeDirectory reads users from a store whose connection is mocked and
// roles from memory, so the failure lands on the per-request lookup.
type storeDirectory struct {
	*config.Store
}

func (storeDirectory) ListRoles(context.Context) ([]model.Role, error) {
	return testRoles(), nil
}

func (storeDirectory) RolesRevision(context.Context) (string, error) {
	return "fixed", nil
}

func TestStoreFailureFailsClosed(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	mock.ExpectQuery(`SELECT \* FROM users WHERE id = \?`).
		WithArgs("basic").
		WillReturnError(errors.New("i/o timeout"))

	sink := &recordingSink{}
	engine, err := NewEngine(context.Background(), storeDirectory{config.NewStoreFromDB(db, "sqlmock")}, Options{
		Sink:   sink,
		Cache:  NewCache(0, 0),
		Logger: discardLogger(),
	})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	d := engine.EvaluatePolicy(context.Background(), vehicleRequest("basic", model.ViewVehiclesBasic, "ncr", model.DataPublic, false))
	if d.Allowed() || !d.Metadata.Errored || d.Reasons[0] != ReasonSystemError {
		t.Errorf("got %s errored=%v %v", d.Decision, d.Metadata.Errored, d.Reasons)
	}
	if d.Obligations.AuditLevel != model.AuditEnhanced {
		t.Errorf("AuditLevel: got %s, want enhanced", d.Obligations.AuditLevel)
	}
	if len(sink.security) != 1 {
		t.Errorf("security events: got %d, want 1", len(sink.security))
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}
