package audit

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Entry kinds persisted by a Recorder.
const (
	KindAccess   = "access"
	KindSecurity = "security"
	KindMasking  = "masking"
)

// Entry is the storage envelope for any audit record.
type Entry struct {
	ID        string    `db:"id" json:"id"`
	Kind      string    `db:"kind" json:"kind"`
	Timestamp time.Time `db:"created_at" json:"timestamp"`
	UserID    string    `db:"user_id" json:"user_id"`
	Action    string    `db:"action" json:"action"`
	Severity  string    `db:"severity" json:"severity"`
	Payload   string    `db:"payload" json:"payload"`
}

// Recorder durably stores audit entries.
type Recorder interface {
	RecordAudit(ctx context.Context, e Entry) error
}

// DefaultBufferSize is the AsyncSink queue length when none is given.
const DefaultBufferSize = 1024

// AsyncSink queues events on a buffered channel drained by one writer
// goroutine. Callers never block: when the queue is full the event is
// dropped and counted.
type AsyncSink struct {
	rec     Recorder
	logger  *slog.Logger
	queue   chan Entry
	dropped atomic.Int64
	written atomic.Int64

	closeOnce sync.Once
	done      chan struct{}
}

// NewAsyncSink starts the writer goroutine. Call Close to drain it.
func NewAsyncSink(rec Recorder, bufferSize int, logger *slog.Logger) *AsyncSink {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	s := &AsyncSink{
		rec:    rec,
		logger: logger,
		queue:  make(chan Entry, bufferSize),
		done:   make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *AsyncSink) run() {
	defer close(s.done)
	for e := range s.queue {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := s.rec.RecordAudit(ctx, e); err != nil {
			s.logger.Error("audit write failed", "audit_id", e.ID, "kind", e.Kind, "error", err)
		} else {
			s.written.Add(1)
		}
		cancel()
	}
}

func (s *AsyncSink) enqueue(e Entry, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		s.logger.Error("audit encode failed", "audit_id", e.ID, "error", err)
		return
	}
	e.Payload = string(b)
	defer func() {
		// Send on a closed queue after Close counts as a drop.
		if recover() != nil {
			s.dropped.Add(1)
		}
	}()
	select {
	case s.queue <- e:
	default:
		s.dropped.Add(1)
	}
}

func (s *AsyncSink) LogAccess(_ context.Context, rec AccessRecord) {
	severity := string(SeverityLow)
	if rec.Errored {
		severity = string(SeverityHigh)
	}
	s.enqueue(Entry{
		ID:        rec.ID,
		Kind:      KindAccess,
		Timestamp: rec.Timestamp,
		UserID:    rec.UserID,
		Action:    string(rec.Action),
		Severity:  severity,
	}, rec)
}

func (s *AsyncSink) LogSecurityEvent(_ context.Context, ev SecurityEvent) {
	s.enqueue(Entry{
		ID:        ev.ID,
		Kind:      KindSecurity,
		Timestamp: ev.Timestamp,
		UserID:    ev.UserID,
		Action:    ev.Type,
		Severity:  string(ev.Severity),
	}, ev)
}

func (s *AsyncSink) LogDataMasking(_ context.Context, ev MaskingEvent) {
	s.enqueue(Entry{
		ID:        ev.ID,
		Kind:      KindMasking,
		Timestamp: ev.Timestamp,
		UserID:    ev.UserID,
		Action:    string(ev.ResourceType),
		Severity:  string(SeverityLow),
	}, ev)
}

// Dropped returns the number of events discarded because the queue was
// full or the sink was closed.
func (s *AsyncSink) Dropped() int64 { return s.dropped.Load() }

// Written returns the number of events successfully recorded.
func (s *AsyncSink) Written() int64 { return s.written.Load() }

// Close stops accepting events and waits for the queue to drain or ctx to
// end.
func (s *AsyncSink) Close(ctx context.Context) error {
	s.closeOnce.Do(func() { close(s.queue) })
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
