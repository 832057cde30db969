package cli

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/nathant30/ARCHIVED-xpress-ops-tower-sub003/internal/audit"
	"github.com/nathant30/ARCHIVED-xpress-ops-tower-sub003/internal/config"
	"github.com/nathant30/ARCHIVED-xpress-ops-tower-sub003/internal/grant"
	"github.com/nathant30/ARCHIVED-xpress-ops-tower-sub003/internal/metrics"
	"github.com/nathant30/ARCHIVED-xpress-ops-tower-sub003/internal/mfa"
	"github.com/nathant30/ARCHIVED-xpress-ops-tower-sub003/internal/model"
	"github.com/nathant30/ARCHIVED-xpress-ops-tower-sub003/internal/policy"
	"github.com/nathant30/ARCHIVED-xpress-ops-tower-sub003/internal/workflow"
)

// dataDir holds the --data-dir persistent flag value (set on root command).
var dataDir string

const tokenSecretSetting = "mfa.token_secret"

// loadConfig returns the effective configuration: defaults, then the config
// file viper found, then OPSTOWER_* environment variables and flags.
func loadConfig() (*config.YAMLConfig, error) {
	cfg := config.DefaultYAMLConfig()
	if path := viper.ConfigFileUsed(); path != "" {
		if _, err := os.Stat(path); err == nil {
			loaded, err := config.LoadYAMLConfig(path)
			if err != nil {
				return nil, err
			}
			cfg = loaded
		}
	}

	overrideString(&cfg.Database.Driver, "database.driver")
	overrideString(&cfg.Database.DataDir, "database.data_dir")
	overrideString(&cfg.Database.DSN, "database.dsn")
	overrideString(&cfg.Policy.WorkflowsFile, "policy.workflows_file")
	overrideString(&cfg.Policy.CacheTTL, "policy.cache_ttl")
	overrideString(&cfg.MFA.TokenSecret, "mfa.token_secret")
	overrideString(&cfg.Metrics.Textfile, "metrics.textfile")
	overrideString(&cfg.MCP.Actor, "mcp.actor")
	overrideString(&cfg.Logging.Level, "logging.level")
	overrideString(&cfg.Logging.Format, "logging.format")
	if viper.IsSet("metrics.enabled") {
		cfg.Metrics.Enabled = viper.GetBool("metrics.enabled")
	}
	if dataDir != "" {
		cfg.Database.DataDir = dataDir
	}
	if envDir := os.Getenv("OPSTOWER_DATA_DIR"); envDir != "" && dataDir == "" {
		cfg.Database.DataDir = envDir
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func overrideString(dst *string, key string) {
	if viper.IsSet(key) {
		if v := viper.GetString(key); v != "" {
			*dst = v
		}
	}
}

// newLogger builds the process logger. Logs always go to stderr so stdout
// stays clean for JSON output and the MCP stdio transport.
func newLogger(cfg config.LoggingConfig) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.ToLower(cfg.Format) == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// openConfigStore opens the configured store without wiring the engine.
func openConfigStore() (*config.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return config.Open(cfg.Database)
}

// app is the fully wired engine behind every command that evaluates,
// grants or approves.
type app struct {
	cfg       *config.YAMLConfig
	logger    *slog.Logger
	store     *config.Store
	sink      audit.Sink
	async     *audit.AsyncSink
	metrics   *metrics.Metrics
	exporter  *metrics.Exporter
	engine    *policy.Engine
	grants    *grant.Manager
	approvals *workflow.Manager
	mfa       *mfa.Service
}

func openApp(ctx context.Context) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logger := newLogger(cfg.Logging)

	store, err := config.Open(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	a := &app{cfg: cfg, logger: logger, store: store}

	registry := workflow.DefaultRegistry()
	if cfg.Policy.WorkflowsFile != "" {
		registry, err = workflow.LoadFile(cfg.Policy.WorkflowsFile, workflow.Defaults())
		if err != nil {
			store.Close()
			return nil, err
		}
		logger.Info("workflow table loaded", "path", cfg.Policy.WorkflowsFile, "workflows", registry.Len())
	}

	if cfg.Metrics.Enabled {
		a.metrics = metrics.New(nil)
	}

	sinks := audit.Multi{metrics.NewSink(a.metrics)}
	if cfg.Audit.Store {
		a.async = audit.NewAsyncSink(store, cfg.Audit.BufferSize, logger)
		a.metrics.RegisterAuditCounters(a.async.Written, a.async.Dropped)
		sinks = append(sinks, a.async)
	}
	if cfg.Audit.Log {
		sinks = append(sinks, audit.NewLogSink(logger))
	}
	a.sink = sinks

	a.engine, err = policy.NewEngine(ctx, store, policy.Options{
		Workflows:     registry,
		Sink:          sinks,
		Cache:         policy.NewCache(config.Duration(cfg.Policy.CacheTTL, policy.DefaultCacheTTL), cfg.Policy.CacheSize),
		Metrics:       a.metrics,
		Logger:        logger,
		PolicyVersion: cfg.Policy.Version,
	})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("start engine: %w", err)
	}

	a.grants = grant.NewManager(store, sinks, logger, grant.Options{
		MaxEmergencyTTL: config.Duration(cfg.Policy.MaxEmergencyTTL, grant.DefaultMaxEmergencyTTL),
		Invalidate:      a.engine.Invalidate,
	})
	a.approvals = workflow.NewManager(registry, store, a.grants, sinks, logger, workflow.Options{})

	secret, err := resolveTokenSecret(ctx, store, cfg.MFA.TokenSecret)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.mfa, err = mfa.NewService(store, sinks, logger, mfa.Options{
		CodeTTL:     config.Duration(cfg.MFA.CodeTTL, mfa.DefaultCodeTTL),
		TokenTTL:    config.Duration(cfg.MFA.TokenTTL, mfa.DefaultTokenTTL),
		TokenSecret: secret,
		IssueRate:   cfg.MFA.IssueRate,
		IssueBurst:  cfg.MFA.IssueBurst,
	})
	if err != nil {
		a.Close()
		return nil, err
	}

	a.exporter = metrics.NewExporter(ctx, store, a.metrics, versionString(), cfg.Metrics.Textfile, metrics.DefaultFlushInterval, logger)
	a.exporter.Start()
	return a, nil
}

// Close drains the audit writer, writes a final metrics snapshot and
// closes the store, in that order.
func (a *app) Close() {
	if a.async != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := a.async.Close(ctx); err != nil {
			a.logger.Warn("audit drain incomplete", "error", err, "dropped", a.async.Dropped())
		}
		cancel()
	}
	a.exporter.Shutdown()
	a.store.Close()
}

// actorContext tags ctx with the --actor operator for audit events.
func actorContext(ctx context.Context, fallback string) context.Context {
	actor := viper.GetString("actor")
	if actor == "" {
		actor = fallback
	}
	if actor == "" {
		return ctx
	}
	return audit.WithActor(ctx, actor)
}

// resolveTokenSecret returns the configured step-up signing secret, or one
// persisted in the store so tokens survive across CLI invocations.
func resolveTokenSecret(ctx context.Context, store *config.Store, configured string) ([]byte, error) {
	if configured != "" {
		return []byte(configured), nil
	}
	if v, err := store.GetSetting(ctx, tokenSecretSetting); err == nil && v != "" {
		return hex.DecodeString(v)
	} else if err != nil && !errors.Is(err, config.ErrNotFound) {
		return nil, fmt.Errorf("read token secret: %w", err)
	}
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("generate token secret: %w", err)
	}
	if err := store.SetSetting(ctx, tokenSecretSetting, hex.EncodeToString(b)); err != nil {
		return nil, fmt.Errorf("persist token secret: %w", err)
	}
	return b, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// parsePermissions parses a comma or flag separated permission list.
func parsePermissions(values []string) ([]model.Permission, error) {
	var clean []string
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			clean = append(clean, v)
		}
	}
	return model.ParsePermissions(clean)
}

func parsePermission(v string) (model.Permission, error) {
	p, ok := model.ParsePermission(v)
	if !ok {
		return "", fmt.Errorf("unknown permission %q", v)
	}
	return p, nil
}

// parseTier parses an optional PII tier flag; empty means no override.
func parseTier(v string) (*model.PIITier, error) {
	if v == "" {
		return nil, nil
	}
	t, err := model.ParsePIITier(v)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// versionString returns a display version string.
func versionString() string {
	if appVersion == "" || appVersion == "dev" {
		return "dev"
	}
	if strings.HasPrefix(appVersion, "v") {
		return appVersion
	}
	return "v" + appVersion
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
