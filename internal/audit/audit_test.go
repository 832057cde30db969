package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nathant30/ARCHIVED-xpress-ops-tower-sub003/internal/model"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func sampleRecord() AccessRecord {
	req := model.PolicyEvaluationRequest{
		User:     model.UserContext{ID: "u1"},
		Resource: model.ResourceContext{Type: model.ResourceVehicle, ID: "v1", RegionID: "ncr"},
		Action:   model.ViewVehiclesBasic,
		Context:  model.InvocationContext{Channel: model.ChannelUI, RequestID: "req-1"},
	}
	d := model.PolicyDecision{
		Decision:    model.DecisionAllow,
		Reasons:     []string{"ok"},
		Obligations: model.Obligations{AuditLevel: model.AuditStandard},
		Metadata:    model.DecisionMetadata{EvaluatedAt: time.Now(), PolicyVersion: "test"},
	}
	return NewAccessRecord(req, d)
}

func TestLogSinkWritesStructuredRecord(t *testing.T) {
	var buf bytes.Buffer
	sink := NewLogSink(slog.New(slog.NewJSONHandler(&buf, nil)))
	sink.LogAccess(context.Background(), sampleRecord())

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log not valid JSON: %v (%s)", err, buf.String())
	}
	if entry["msg"] != "access decision" {
		t.Errorf("msg: got %v", entry["msg"])
	}
	if entry["user_id"] != "u1" || entry["request_id"] != "req-1" || entry["decision"] != "allow" {
		t.Errorf("unexpected fields: %v", entry)
	}
	if entry["component"] != "audit" {
		t.Errorf("component: got %v", entry["component"])
	}
}

func TestLogSinkSecurityEventLevel(t *testing.T) {
	var buf bytes.Buffer
	sink := NewLogSink(slog.New(slog.NewJSONHandler(&buf, nil)))
	ctx := WithActor(WithRequestID(context.Background(), "req-9"), "ops-admin")
	sink.LogSecurityEvent(ctx, NewSecurityEvent(ctx, EventEvaluationFailed, SeverityHigh, "u1", nil))

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log not valid JSON: %v", err)
	}
	if entry["level"] != "WARN" {
		t.Errorf("level: got %v, want WARN", entry["level"])
	}
	if entry["request_id"] != "req-9" || entry["actor_id"] != "ops-admin" {
		t.Errorf("context fields missing: %v", entry)
	}
}

type memRecorder struct {
	mu      sync.Mutex
	entries []Entry
	err     error
	block   chan struct{}
}

func (m *memRecorder) RecordAudit(_ context.Context, e Entry) error {
	if m.block != nil {
		<-m.block
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.entries = append(m.entries, e)
	return nil
}

func TestAsyncSinkDrainsOnClose(t *testing.T) {
	rec := &memRecorder{}
	sink := NewAsyncSink(rec, 16, discardLogger())
	ctx := context.Background()

	sink.LogAccess(ctx, sampleRecord())
	sink.LogSecurityEvent(ctx, NewSecurityEvent(ctx, EventGrantIssued, SeverityMedium, "u1", map[string]any{"grant_id": "g1"}))
	sink.LogDataMasking(ctx, MaskingEvent{ID: "m1", UserID: "u1", ResourceType: model.ResourceDriver, Fields: []string{"license_number"}})

	if err := sink.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if len(rec.entries) != 3 {
		t.Fatalf("entries: got %d, want 3", len(rec.entries))
	}
	kinds := []string{rec.entries[0].Kind, rec.entries[1].Kind, rec.entries[2].Kind}
	if strings.Join(kinds, ",") != "access,security,masking" {
		t.Errorf("kinds: got %v", kinds)
	}
	var payload map[string]any
	if err := json.Unmarshal([]byte(rec.entries[1].Payload), &payload); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if payload["type"] != EventGrantIssued {
		t.Errorf("payload type: got %v", payload["type"])
	}
	if sink.Written() != 3 || sink.Dropped() != 0 {
		t.Errorf("written/dropped: got %d/%d", sink.Written(), sink.Dropped())
	}

	// Events after close are dropped, not panics.
	sink.LogAccess(ctx, sampleRecord())
	if sink.Dropped() != 1 {
		t.Errorf("dropped after close: got %d, want 1", sink.Dropped())
	}
}

func TestAsyncSinkDropsWhenFull(t *testing.T) {
	rec := &memRecorder{block: make(chan struct{})}
	sink := NewAsyncSink(rec, 1, discardLogger())
	ctx := context.Background()

	// The writer takes at most one entry and blocks on it; the queue holds
	// one more. Everything beyond that must be dropped without blocking.
	for i := 0; i < 10; i++ {
		sink.LogAccess(ctx, sampleRecord())
	}
	if sink.Dropped() < 8 {
		t.Errorf("dropped: got %d, want at least 8", sink.Dropped())
	}
	close(rec.block)
	if err := sink.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestAsyncSinkRecorderError(t *testing.T) {
	rec := &memRecorder{err: errors.New("disk full")}
	sink := NewAsyncSink(rec, 4, discardLogger())
	sink.LogAccess(context.Background(), sampleRecord())
	if err := sink.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if sink.Written() != 0 {
		t.Errorf("written: got %d, want 0", sink.Written())
	}
}

type countingSink struct{ access, security, masking int }

func (c *countingSink) LogAccess(context.Context, AccessRecord) { c.access++ }
func (c *countingSink) LogSecurityEvent(context.Context, SecurityEvent) { c.security++ }
func (c *countingSink) LogDataMasking(context.Context, MaskingEvent) { c.masking++ }

func TestMultiFansOut(t *testing.T) {
	a, b := &countingSink{}, &countingSink{}
	m := Multi{a, Nop{}, b}
	ctx := context.Background()
	m.LogAccess(ctx, sampleRecord())
	m.LogSecurityEvent(ctx, SecurityEvent{})
	m.LogDataMasking(ctx, MaskingEvent{})
	for i, c := range []*countingSink{a, b} {
		if c.access != 1 || c.security != 1 || c.masking != 1 {
			t.Errorf("sink %d: got %+v", i, *c)
		}
	}
}

func TestNewAccessRecordCopiesDecision(t *testing.T) {
	rec := sampleRecord()
	if rec.ID == "" || len(rec.ID) != 26 {
		t.Errorf("ID: got %q", rec.ID)
	}
	if rec.Action != model.ViewVehiclesBasic || rec.RegionID != "ncr" || rec.PolicyVersion != "test" {
		t.Errorf("record: got %+v", rec)
	}
}
