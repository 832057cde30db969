package metrics

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/nathant30/ARCHIVED-xpress-ops-tower-sub003/internal/model"
)

type mockStore struct {
	data map[string]string
}

func newMockStore() *mockStore {
	return &mockStore{data: make(map[string]string)}
}

func (m *mockStore) GetSetting(_ context.Context, key string) (string, error) {
	v, ok := m.data[key]
	if !ok {
		return "", errors.New("not found")
	}
	return v, nil
}

func (m *mockStore) SetSetting(_ context.Context, key, value string) error {
	m.data[key] = value
	return nil
}

func TestObserveDecision(t *testing.T) {
	m := New(nil)
	allow := model.PolicyDecision{Decision: model.DecisionAllow}
	deny := model.PolicyDecision{Decision: model.DecisionDeny}
	failed := model.PolicyDecision{Decision: model.DecisionDeny, Metadata: model.DecisionMetadata{Errored: true}}

	m.ObserveDecision(model.ViewVehiclesBasic, allow, "", time.Millisecond)
	m.ObserveDecision(model.ViewVehiclesBasic, deny, "region", time.Millisecond)
	m.ObserveDecision(model.UnmaskPII, failed, "system", time.Millisecond)

	if got := testutil.ToFloat64(m.decisions.WithLabelValues("allow", "view_vehicles_basic")); got != 1 {
		t.Errorf("allow count: got %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.denials.WithLabelValues("region")); got != 1 {
		t.Errorf("region denials: got %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.errored); got != 1 {
		t.Errorf("errored: got %v, want 1", got)
	}
	if got := testutil.CollectAndCount(m.evalDuration); got != 1 {
		t.Errorf("histogram series: got %d, want 1", got)
	}
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.CacheHit()
	m.CacheMiss()
	m.GrantEvent("issued")
	m.ApprovalTransition("approved")
	m.ChallengeOutcome(model.ChallengeVerified)
	m.ObserveDecision(model.UnmaskPII, model.PolicyDecision{}, "", 0)
	m.RegisterAuditCounters(func() int64 { return 0 }, func() int64 { return 0 })
	if m.Registry() != nil {
		t.Error("nil metrics should have nil registry")
	}
}

func TestAuditCounters(t *testing.T) {
	m := New(nil)
	var dropped int64 = 3
	m.RegisterAuditCounters(func() int64 { return 10 }, func() int64 { return dropped })

	n, err := testutil.GatherAndCount(m.Registry(), "opstower_audit_records_dropped_total")
	if err != nil {
		t.Fatalf("GatherAndCount: %v", err)
	}
	if n != 1 {
		t.Errorf("dropped series: got %d, want 1", n)
	}
	want := `
# HELP opstower_audit_records_dropped_total Audit records dropped because the buffer was full.
# TYPE opstower_audit_records_dropped_total counter
opstower_audit_records_dropped_total 3
`
	if err := testutil.GatherAndCompare(m.Registry(), strings.NewReader(want), "opstower_audit_records_dropped_total"); err != nil {
		t.Errorf("GatherAndCompare: %v", err)
	}
}

func TestWriteTextfile(t *testing.T) {
	m := New(nil)
	m.CacheHit()
	m.CacheHit()
	m.CacheMiss()

	path := filepath.Join(t.TempDir(), "opstower.prom")
	if err := WriteTextfile(m.Registry(), path); err != nil {
		t.Fatalf("WriteTextfile: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.Contains(string(data), `opstower_decision_cache_lookups_total{result="hit"} 2`) {
		t.Errorf("textfile missing cache hits:\n%s", data)
	}
}

func TestNewExporterDisabled(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx := context.Background()
	m := New(nil)

	if e := NewExporter(ctx, newMockStore(), m, "test", "", 0, logger); e != nil {
		t.Error("expected nil exporter without a path")
	}

	store := newMockStore()
	store.data["metrics.enabled"] = "false"
	if e := NewExporter(ctx, store, m, "test", "/tmp/x.prom", 0, logger); e != nil {
		t.Error("expected nil exporter when disabled via setting")
	}

	for _, val := range []string{"0", "off", "FALSE", "No"} {
		t.Run(val, func(t *testing.T) {
			t.Setenv("OPSTOWER_METRICS", val)
			if e := NewExporter(ctx, newMockStore(), m, "test", "/tmp/x.prom", 0, logger); e != nil {
				t.Fatalf("expected nil exporter when OPSTOWER_METRICS=%s", val)
			}
		})
	}
}

func TestExporterPersistsInstanceID(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := newMockStore()
	m := New(nil)
	path := filepath.Join(t.TempDir(), "opstower.prom")

	e := NewExporter(context.Background(), store, m, "1.2.3", path, time.Hour, logger)
	if e == nil {
		t.Fatal("expected exporter")
	}
	if store.data["instance_id"] != e.InstanceID() {
		t.Errorf("instance id not persisted: %q vs %q", store.data["instance_id"], e.InstanceID())
	}
	again := NewExporter(context.Background(), store, New(nil), "1.2.3", path, time.Hour, logger)
	if again.InstanceID() != e.InstanceID() {
		t.Errorf("instance id changed: %q vs %q", again.InstanceID(), e.InstanceID())
	}

	e.Start()
	e.Shutdown()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.Contains(string(data), `instance_id="`+e.InstanceID()+`"`) {
		t.Errorf("build_info missing instance id:\n%s", data)
	}
}

func TestNilExporter(t *testing.T) {
	var e *Exporter
	e.Start()
	e.Shutdown()
	if e.InstanceID() != "" {
		t.Error("nil exporter should have empty instance id")
	}
}
