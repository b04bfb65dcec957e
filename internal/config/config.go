// Package config loads and validates the breadcrumb runtime's configuration:
// record store connection details, identity, dispatcher tuning, bootstrap
// behavior and observability, following the same expand-env/defaults/validate
// pipeline the teacher project uses for its own YAML config.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DeploymentMode affects startup timing and discovery per spec §6.1.
type DeploymentMode string

const (
	ModeLocal   DeploymentMode = "local"
	ModeDocker  DeploymentMode = "docker"
	ModeDesktop DeploymentMode = "desktop"
)

// Config is the root configuration for a breadcrumbd runner process.
type Config struct {
	RecordStore   RecordStoreConfig   `yaml:"record_store"`
	Identity      IdentityConfig      `yaml:"identity"`
	Dispatcher    DispatcherConfig    `yaml:"dispatcher"`
	ContextBuilder ContextBuilderConfig `yaml:"context_builder"`
	Bootstrap     BootstrapConfig     `yaml:"bootstrap"`
	Observability ObservabilityConfig `yaml:"observability"`
	Logging       LoggingConfig       `yaml:"logging"`
}

// RecordStoreConfig describes how to reach the record store HTTP+SSE surface.
type RecordStoreConfig struct {
	BaseURL        string        `yaml:"base_url"`
	MaxRetries     int           `yaml:"max_retries"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	TokenRefresh   time.Duration `yaml:"token_refresh"`
}

// IdentityConfig identifies this runner process to the record store.
type IdentityConfig struct {
	OwnerID   string         `yaml:"owner_id"`
	AgentID   string         `yaml:"agent_id"`
	Workspace string         `yaml:"workspace"`
	Mode      DeploymentMode `yaml:"mode"`
}

// DispatcherConfig tunes the SSE Dispatcher's reconnect and guard behavior.
type DispatcherConfig struct {
	ReconnectInitial    time.Duration `yaml:"reconnect_initial"`
	ReconnectMax        time.Duration `yaml:"reconnect_max"`
	ReconnectJitter     float64       `yaml:"reconnect_jitter"`
	ProcessingTableSize int           `yaml:"processing_table_size"`
	HandlerTimeout      time.Duration `yaml:"handler_timeout"`
}

// ContextBuilderConfig tunes the Context Assembler's defaults.
type ContextBuilderConfig struct {
	MaxTokens              int           `yaml:"max_tokens"`
	DeduplicationThreshold float64       `yaml:"deduplication_threshold"`
	RebuildQueueSize       int           `yaml:"rebuild_queue_size"`
	RebuildOnDelete        bool          `yaml:"rebuild_on_delete"`
	DefaultTTL             time.Duration `yaml:"default_ttl"`
}

// BootstrapConfig configures the idempotent seeding pass.
type BootstrapConfig struct {
	Enabled    bool   `yaml:"enabled"`
	MarkerFile string `yaml:"marker_file"`
	// MarkerDB, if set, stores the completion marker (and a pending-waits
	// journal) in a local SQLite database instead of MarkerFile.
	MarkerDB string `yaml:"marker_db"`
	SeedDir  string `yaml:"seed_dir"`
	LocalKEK string `yaml:"local_kek_base64"`
}

// ObservabilityConfig controls metrics and tracing export.
type ObservabilityConfig struct {
	MetricsAddr   string `yaml:"metrics_addr"`
	TracingOTLP   string `yaml:"tracing_otlp_endpoint"`
	ServiceName   string `yaml:"service_name"`
}

// LoggingConfig controls the slog handler.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "json" or "text"
}

// Load reads, expands, defaults, and validates the configuration file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	decoder := yaml.NewDecoder(strings.NewReader(expanded))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyEnvOverrides(&cfg)
	applyDefaults(&cfg)

	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// applyEnvOverrides applies the environment variables recognised at boot
// per spec §6.1. A variable that is set and non-empty takes precedence over
// the file value.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("RCRT_BASE_URL"); v != "" {
		cfg.RecordStore.BaseURL = v
	}
	if v := os.Getenv("OWNER_ID"); v != "" {
		cfg.Identity.OwnerID = v
	}
	if v := os.Getenv("AGENT_ID"); v != "" {
		cfg.Identity.AgentID = v
	}
	if v := os.Getenv("WORKSPACE"); v != "" {
		cfg.Identity.Workspace = v
	}
	if v := os.Getenv("DEPLOYMENT_MODE"); v != "" {
		cfg.Identity.Mode = DeploymentMode(v)
	}
	if v := os.Getenv("LOCAL_KEK_BASE64"); v != "" {
		cfg.Bootstrap.LocalKEK = v
	}
}

func applyDefaults(cfg *Config) {
	applyRecordStoreDefaults(&cfg.RecordStore)
	applyDispatcherDefaults(&cfg.Dispatcher)
	applyContextBuilderDefaults(&cfg.ContextBuilder)
	applyBootstrapDefaults(&cfg.Bootstrap)
	applyObservabilityDefaults(&cfg.Observability)
	applyLoggingDefaults(&cfg.Logging)
	if cfg.Identity.Mode == "" {
		cfg.Identity.Mode = ModeLocal
	}
}

func applyRecordStoreDefaults(cfg *RecordStoreConfig) {
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if cfg.TokenRefresh == 0 {
		cfg.TokenRefresh = 10 * time.Minute
	}
}

func applyDispatcherDefaults(cfg *DispatcherConfig) {
	if cfg.ReconnectInitial == 0 {
		cfg.ReconnectInitial = 500 * time.Millisecond
	}
	if cfg.ReconnectMax == 0 {
		cfg.ReconnectMax = 30 * time.Second
	}
	if cfg.ReconnectJitter == 0 {
		cfg.ReconnectJitter = 0.2
	}
	if cfg.ProcessingTableSize == 0 {
		cfg.ProcessingTableSize = 1000
	}
	if cfg.HandlerTimeout == 0 {
		cfg.HandlerTimeout = 120 * time.Second
	}
}

func applyContextBuilderDefaults(cfg *ContextBuilderConfig) {
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 4000
	}
	if cfg.DeduplicationThreshold == 0 {
		cfg.DeduplicationThreshold = 0.95
	}
	if cfg.RebuildQueueSize == 0 {
		cfg.RebuildQueueSize = 8
	}
	if cfg.DefaultTTL == 0 {
		cfg.DefaultTTL = time.Hour
	}
}

func applyBootstrapDefaults(cfg *BootstrapConfig) {
	if cfg.MarkerFile == "" {
		cfg.MarkerFile = ".bootstrapped"
	}
}

func applyObservabilityDefaults(cfg *ObservabilityConfig) {
	if cfg.MetricsAddr == "" {
		cfg.MetricsAddr = ":9090"
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "breadcrumbd"
	}
}

func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "info"
	}
	if cfg.Format == "" {
		cfg.Format = "json"
	}
}

// validateConfig aggregates field-level validation failures into a single error.
func validateConfig(cfg *Config) error {
	var problems []string

	if strings.TrimSpace(cfg.RecordStore.BaseURL) == "" {
		problems = append(problems, "record_store.base_url (or RCRT_BASE_URL) is required")
	}
	if strings.TrimSpace(cfg.Identity.AgentID) == "" {
		problems = append(problems, "identity.agent_id (or AGENT_ID) is required")
	}
	if strings.TrimSpace(cfg.Identity.Workspace) == "" {
		problems = append(problems, "identity.workspace (or WORKSPACE) is required")
	}
	switch cfg.Identity.Mode {
	case ModeLocal, ModeDocker, ModeDesktop:
	default:
		problems = append(problems, fmt.Sprintf("identity.mode %q is not one of local|docker|desktop", cfg.Identity.Mode))
	}
	if cfg.Dispatcher.ReconnectMax < cfg.Dispatcher.ReconnectInitial {
		problems = append(problems, "dispatcher.reconnect_max must be >= dispatcher.reconnect_initial")
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration:\n  - %s", strings.Join(problems, "\n  - "))
	}
	return nil
}
