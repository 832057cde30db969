package metrics

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
)

// DefaultFlushInterval is how often the exporter rewrites its textfile.
const DefaultFlushInterval = 15 * time.Second

// SettingsStore is what the exporter needs from the config store.
type SettingsStore interface {
	GetSetting(ctx context.Context, key string) (string, error)
	SetSetting(ctx context.Context, key, value string) error
}

// Exporter periodically writes a registry in the Prometheus text format so
// a node exporter textfile collector can pick it up. The CLI is short lived
// and serves no HTTP, so this is how its metrics leave the process.
type Exporter struct {
	path       string
	instanceID string
	gatherer   prometheus.Gatherer
	interval   time.Duration
	logger     *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewExporter returns an Exporter writing m to path, or nil when export is
// disabled by an empty path, OPSTOWER_METRICS or the metrics.enabled
// setting. The instance id is persisted in store and set on build_info.
func NewExporter(ctx context.Context, store SettingsStore, m *Metrics, version, path string, interval time.Duration, logger *slog.Logger) *Exporter {
	if path == "" || m == nil {
		return nil
	}
	switch strings.ToLower(os.Getenv("OPSTOWER_METRICS")) {
	case "0", "false", "off", "no":
		return nil
	}
	if store != nil {
		val, err := store.GetSetting(ctx, "metrics.enabled")
		if err == nil && (val == "false" || val == "0") {
			return nil
		}
	}
	if interval <= 0 {
		interval = DefaultFlushInterval
	}

	id := resolveInstanceID(ctx, store)
	m.SetBuildInfo(version, id)
	return &Exporter{
		path:       path,
		instanceID: id,
		gatherer:   m.Registry(),
		interval:   interval,
		logger:     logger,
	}
}

// InstanceID returns the persistent id of this installation.
func (e *Exporter) InstanceID() string {
	if e == nil {
		return ""
	}
	return e.instanceID
}

// Start writes the textfile immediately and then every interval.
func (e *Exporter) Start() {
	if e == nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.flush()

		ticker := time.NewTicker(e.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				e.flush()
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Shutdown stops the loop and writes a final snapshot.
func (e *Exporter) Shutdown() {
	if e == nil {
		return
	}
	if e.cancel != nil {
		e.cancel()
	}
	e.wg.Wait()
	e.flush()
}

func (e *Exporter) flush() {
	if err := WriteTextfile(e.gatherer, e.path); err != nil {
		e.logger.Warn("metrics export failed", "path", e.path, "error", err)
	}
}

// WriteTextfile writes g to path atomically.
func WriteTextfile(g prometheus.Gatherer, path string) error {
	if err := prometheus.WriteToTextfile(path, g); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}

func resolveInstanceID(ctx context.Context, store SettingsStore) string {
	if store != nil {
		id, err := store.GetSetting(ctx, "instance_id")
		if err == nil && id != "" {
			return id
		}
	}
	id := uuid.NewString()
	if store != nil {
		_ = store.SetSetting(ctx, "instance_id", id)
	}
	return id
}
