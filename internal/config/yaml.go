package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// YAMLConfig represents the top-level opstower configuration file.
type YAMLConfig struct {
	Database DatabaseConfig `yaml:"database"`
	Policy   PolicyConfig   `yaml:"policy"`
	MFA      MFAConfig      `yaml:"mfa"`
	Audit    AuditConfig    `yaml:"audit"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	MCP      MCPConfig      `yaml:"mcp"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// DatabaseConfig selects the store backend. Driver is "sqlite" (DataDir,
// empty for in-memory) or "postgres" (DSN).
type DatabaseConfig struct {
	Driver       string `yaml:"driver"`
	DataDir      string `yaml:"data_dir"`
	DSN          string `yaml:"dsn"`
	MaxOpenConns int    `yaml:"max_open_conns"`
}

// PolicyConfig controls the evaluation engine.
type PolicyConfig struct {
	Version         string `yaml:"version"`
	CacheTTL        string `yaml:"cache_ttl"`
	CacheSize       int    `yaml:"cache_size"`
	MaxEmergencyTTL string `yaml:"max_emergency_ttl"`
	WorkflowsFile   string `yaml:"workflows_file"`
}

// MFAConfig controls step-up challenges and tokens.
type MFAConfig struct {
	CodeTTL     string  `yaml:"code_ttl"`
	TokenTTL    string  `yaml:"token_ttl"`
	TokenSecret string  `yaml:"token_secret"`
	IssueRate   float64 `yaml:"issue_rate_per_minute"`
	IssueBurst  int     `yaml:"issue_burst"`
}

// AuditConfig selects audit sinks. Store persists to the audit_log table
// through a buffered writer; Log writes each event to the process logger.
type AuditConfig struct {
	Store      bool `yaml:"store"`
	Log        bool `yaml:"log"`
	BufferSize int  `yaml:"buffer_size"`
}

// MetricsConfig controls Prometheus metrics. When Textfile is set, the CLI
// writes the registry there on exit for node_exporter's textfile collector.
type MetricsConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Textfile string `yaml:"textfile"`
}

// MCPConfig controls the MCP (Model Context Protocol) server.
type MCPConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Transport string `yaml:"transport"`
	Actor     string `yaml:"actor"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// LoadYAMLConfig reads and parses a YAML configuration file. Environment
// variables referenced as ${VAR_NAME} in the file are expanded before
// parsing. Fields the file leaves out keep their defaults.
func LoadYAMLConfig(path string) (*YAMLConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	// Expand environment variables: ${VAR_NAME}
	content := os.ExpandEnv(string(data))

	cfg := DefaultYAMLConfig()
	if err := yaml.Unmarshal([]byte(content), cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// DefaultYAMLConfig returns a YAMLConfig pre-filled with sensible defaults.
func DefaultYAMLConfig() *YAMLConfig {
	return &YAMLConfig{
		Database: DatabaseConfig{
			Driver:  "sqlite",
			DataDir: "./data",
		},
		Policy: PolicyConfig{
			Version:         "2025.1",
			CacheTTL:        "30s",
			CacheSize:       10000,
			MaxEmergencyTTL: "4h",
		},
		MFA: MFAConfig{
			CodeTTL:    "5m",
			TokenTTL:   "5m",
			IssueRate:  5,
			IssueBurst: 3,
		},
		Audit: AuditConfig{
			Store:      true,
			Log:        true,
			BufferSize: 1024,
		},
		MCP: MCPConfig{
			Enabled:   true,
			Transport: "stdio",
			Actor:     "ops-agent",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Validate checks every duration field parses.
func (c *YAMLConfig) Validate() error {
	for name, v := range map[string]string{
		"policy.cache_ttl":         c.Policy.CacheTTL,
		"policy.max_emergency_ttl": c.Policy.MaxEmergencyTTL,
		"mfa.code_ttl":             c.MFA.CodeTTL,
		"mfa.token_ttl":            c.MFA.TokenTTL,
	} {
		if v == "" {
			continue
		}
		if _, err := time.ParseDuration(v); err != nil {
			return fmt.Errorf("invalid %s %q: %w", name, v, err)
		}
	}
	return nil
}

// Duration parses v, falling back to def when v is empty or malformed.
func Duration(v string, def time.Duration) time.Duration {
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

// WriteDefaultConfig writes the default configuration to a YAML file.
func WriteDefaultConfig(path string) error {
	cfg := DefaultYAMLConfig()
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
