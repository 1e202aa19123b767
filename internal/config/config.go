// Package config loads and hot-reloads CortexOS's config.yaml: one
// section per kernel component, each mirroring the option set spec.md
// §6 enumerates for that component.
package config

import (
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// PoolConfig mirrors spec.md §6 "Pool".
type PoolConfig struct {
	MaxContainers      int    `yaml:"max_containers"`
	DefaultEnvironment string `yaml:"default_environment"`
	ContainerTimeoutMs int    `yaml:"container_timeout_ms"`
}

// ContextManagerConfig mirrors spec.md §6 "Context Manager".
type ContextManagerConfig struct {
	STMCapacity           int     `yaml:"stm_capacity"`
	LTMCapacity           int     `yaml:"ltm_capacity"`
	QLearningRate         float64 `yaml:"q_learning_rate"`
	QDiscountFactor       float64 `yaml:"q_discount_factor"`
	AutoCompressThreshold float64 `yaml:"auto_compress_threshold"`
	PromotionQThreshold   float64 `yaml:"promotion_q_threshold"`
	EnableSemanticIndex   bool    `yaml:"enable_semantic_index"`
}

// FinOpsConfig mirrors spec.md §6 "FinOps".
type FinOpsConfig struct {
	Enabled                     bool    `yaml:"enabled"`
	MaxRecords                  int     `yaml:"max_records"`
	ForecastEnabled             bool    `yaml:"forecast_enabled"`
	RightsizingEnabled          bool    `yaml:"rightsizing_enabled"`
	ReportIntervalMs            int     `yaml:"report_interval_ms"`
	ReportCronExpr              string  `yaml:"report_cron_expr,omitempty"`
	DefaultBudgetAlertThreshold float64 `yaml:"default_budget_alert_threshold"`
}

// GatewayConfig mirrors spec.md §6 "A2A Gateway". Port/Hostname are
// consumed by cmd/cortexosd when binding the listener; the remaining
// fields map onto internal/gateway.Config.
type GatewayConfig struct {
	Port               int      `yaml:"port"`
	Hostname           string   `yaml:"hostname"`
	MaxConcurrentTasks int      `yaml:"max_concurrent_tasks"`
	TaskTimeoutMs      int      `yaml:"task_timeout_ms"`
	APIKeys            []string `yaml:"api_keys,omitempty"`
	AllowOrigins       []string `yaml:"allow_origins,omitempty"`
	RateLimitPerMinute int      `yaml:"rate_limit_per_minute,omitempty"`
	RateLimitBurst     int      `yaml:"rate_limit_burst,omitempty"`
}

// FederationConfig mirrors spec.md §6 "Federation".
type FederationConfig struct {
	PeerID             string `yaml:"peer_id"`
	PeerName           string `yaml:"peer_name"`
	ListenPort         int    `yaml:"listen_port"`
	SyncIntervalMs     int64  `yaml:"sync_interval_ms"`
	SyncCronExpr       string `yaml:"sync_cron_expr,omitempty"`
	MaxPeers           int    `yaml:"max_peers"`
	ShareCapabilities  bool   `yaml:"share_capabilities"`
	AcceptRemoteAgents bool   `yaml:"accept_remote_agents"`
}

// TelemetryConfig controls internal/otel. Ambient, not a spec.md §6
// component config, but carried the same way the teacher carries its
// own Telemetry section.
type TelemetryConfig struct {
	Enabled        bool    `yaml:"enabled"`
	Exporter       string  `yaml:"exporter"`
	Endpoint       string  `yaml:"endpoint,omitempty"`
	ServiceName    string  `yaml:"service_name,omitempty"`
	SampleRate     float64 `yaml:"sample_rate"`
	MetricsEnabled bool    `yaml:"metrics_enabled"`
}

// PricingOverride adds or replaces a model entry in the shared pricing
// catalog (internal/pricing), e.g. for a self-hosted or newly announced
// model the built-in catalog doesn't carry yet.
type PricingOverride struct {
	ID              string   `yaml:"id"`
	Provider        string   `yaml:"provider"`
	Tier            string   `yaml:"tier"`
	PromptPer1M     float64  `yaml:"prompt_per_1m"`
	CompletionPer1M float64  `yaml:"completion_per_1m"`
	DowngradePath   []string `yaml:"downgrade_path,omitempty"`
}

// Config is the top-level CortexOS daemon configuration.
type Config struct {
	HomeDir string `yaml:"-"`

	LogLevel string `yaml:"log_level"`

	Pool           PoolConfig           `yaml:"pool"`
	ContextManager ContextManagerConfig `yaml:"context_manager"`
	FinOps         FinOpsConfig         `yaml:"finops"`
	Gateway        GatewayConfig        `yaml:"gateway"`
	Federation     FederationConfig     `yaml:"federation"`
	Telemetry      TelemetryConfig      `yaml:"telemetry"`

	PricingOverrides []PricingOverride `yaml:"pricing_overrides,omitempty"`

	NeedsGenesis bool `yaml:"-"`
}

// HomeDir returns the directory CortexOS reads config.yaml and writes
// its local state from. CORTEXOS_HOME overrides the default
// "~/.cortexos".
func HomeDir() string {
	if override := os.Getenv("CORTEXOS_HOME"); override != "" {
		return override
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		home = "."
	}
	return filepath.Join(home, ".cortexos")
}

// ConfigPath returns the path to config.yaml within homeDir.
func ConfigPath(homeDir string) string {
	return filepath.Join(homeDir, "config.yaml")
}

func defaultConfig() Config {
	return Config{
		LogLevel: "info",
		Pool: PoolConfig{
			MaxContainers:      10,
			DefaultEnvironment: "ubuntu-22.04",
			ContainerTimeoutMs: int((5 * time.Minute).Milliseconds()),
		},
		ContextManager: ContextManagerConfig{
			STMCapacity:           100,
			LTMCapacity:           1000,
			QLearningRate:         0.1,
			QDiscountFactor:       0.95,
			AutoCompressThreshold: 0.8,
			PromotionQThreshold:   0.7,
			EnableSemanticIndex:   true,
		},
		FinOps: FinOpsConfig{
			Enabled:                     true,
			MaxRecords:                  100_000,
			ForecastEnabled:             true,
			RightsizingEnabled:          true,
			ReportIntervalMs:            3_600_000,
			DefaultBudgetAlertThreshold: 0.8,
		},
		Gateway: GatewayConfig{
			Port:               3200,
			Hostname:           "0.0.0.0",
			MaxConcurrentTasks: 10,
			TaskTimeoutMs:      300_000,
		},
		Federation: FederationConfig{
			ListenPort:         9100,
			SyncIntervalMs:     60000,
			MaxPeers:           50,
			ShareCapabilities:  true,
			AcceptRemoteAgents: true,
		},
		Telemetry: TelemetryConfig{
			Enabled:  false,
			Exporter: "none",
		},
	}
}

// Load reads config.yaml from HomeDir, applies CORTEXOS_* environment
// overrides, fills in spec.md §6's defaults for anything left unset, and
// validates the result.
func Load() (Config, error) {
	cfg := defaultConfig()
	cfg.HomeDir = HomeDir()

	if err := os.MkdirAll(cfg.HomeDir, 0o755); err != nil {
		return cfg, fmt.Errorf("create cortexos home: %w", err)
	}

	configPath := ConfigPath(cfg.HomeDir)
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.NeedsGenesis = true
		} else {
			return cfg, fmt.Errorf("read config.yaml: %w", err)
		}
	} else if len(data) > 0 {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config.yaml: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	normalize(&cfg)
	if err := validate(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// normalize fills in any zero-valued field left after YAML parsing with
// spec.md §6's default, so a user's config.yaml only needs to name the
// fields it wants to override.
func normalize(cfg *Config) {
	d := defaultConfig()

	if cfg.LogLevel == "" {
		cfg.LogLevel = d.LogLevel
	}
	if cfg.Pool.MaxContainers <= 0 {
		cfg.Pool.MaxContainers = d.Pool.MaxContainers
	}
	if cfg.Pool.DefaultEnvironment == "" {
		cfg.Pool.DefaultEnvironment = d.Pool.DefaultEnvironment
	}
	if cfg.Pool.ContainerTimeoutMs <= 0 {
		cfg.Pool.ContainerTimeoutMs = d.Pool.ContainerTimeoutMs
	}

	if cfg.ContextManager.STMCapacity <= 0 {
		cfg.ContextManager.STMCapacity = d.ContextManager.STMCapacity
	}
	if cfg.ContextManager.LTMCapacity <= 0 {
		cfg.ContextManager.LTMCapacity = d.ContextManager.LTMCapacity
	}
	if cfg.ContextManager.QLearningRate <= 0 {
		cfg.ContextManager.QLearningRate = d.ContextManager.QLearningRate
	}
	if cfg.ContextManager.QDiscountFactor <= 0 {
		cfg.ContextManager.QDiscountFactor = d.ContextManager.QDiscountFactor
	}
	if cfg.ContextManager.AutoCompressThreshold <= 0 {
		cfg.ContextManager.AutoCompressThreshold = d.ContextManager.AutoCompressThreshold
	}
	if cfg.ContextManager.PromotionQThreshold <= 0 {
		cfg.ContextManager.PromotionQThreshold = d.ContextManager.PromotionQThreshold
	}

	if cfg.FinOps.MaxRecords <= 0 {
		cfg.FinOps.MaxRecords = d.FinOps.MaxRecords
	}
	if cfg.FinOps.ReportIntervalMs <= 0 {
		cfg.FinOps.ReportIntervalMs = d.FinOps.ReportIntervalMs
	}
	if cfg.FinOps.DefaultBudgetAlertThreshold <= 0 {
		cfg.FinOps.DefaultBudgetAlertThreshold = d.FinOps.DefaultBudgetAlertThreshold
	}

	if cfg.Gateway.Port <= 0 {
		cfg.Gateway.Port = d.Gateway.Port
	}
	if cfg.Gateway.Hostname == "" {
		cfg.Gateway.Hostname = d.Gateway.Hostname
	}
	if cfg.Gateway.MaxConcurrentTasks <= 0 {
		cfg.Gateway.MaxConcurrentTasks = d.Gateway.MaxConcurrentTasks
	}
	if cfg.Gateway.TaskTimeoutMs <= 0 {
		cfg.Gateway.TaskTimeoutMs = d.Gateway.TaskTimeoutMs
	}

	if cfg.Federation.ListenPort <= 0 {
		cfg.Federation.ListenPort = d.Federation.ListenPort
	}
	if cfg.Federation.SyncIntervalMs <= 0 {
		cfg.Federation.SyncIntervalMs = d.Federation.SyncIntervalMs
	}
	if cfg.Federation.MaxPeers <= 0 {
		cfg.Federation.MaxPeers = d.Federation.MaxPeers
	}
	if cfg.Federation.PeerID == "" {
		cfg.Federation.PeerID = generatePeerID(cfg.HomeDir)
	}
	if cfg.Federation.PeerName == "" {
		cfg.Federation.PeerName = cfg.Federation.PeerID
	}

	if cfg.Telemetry.Exporter == "" {
		cfg.Telemetry.Exporter = d.Telemetry.Exporter
	}
	if cfg.Telemetry.SampleRate <= 0 {
		cfg.Telemetry.SampleRate = 1.0
	}
}

// generatePeerID derives a stable peer id from the home directory path,
// so repeated runs against the same home keep the same federation
// identity without requiring an explicit config.yaml entry.
func generatePeerID(homeDir string) string {
	h := fnv.New64a()
	fmt.Fprint(h, homeDir)
	return fmt.Sprintf("peer-%x", h.Sum64())
}

// validate rejects configurations spec.md's invariants forbid.
func validate(cfg *Config) error {
	if cfg.Pool.MaxContainers <= 0 {
		return fmt.Errorf("pool.max_containers must be > 0")
	}
	if cfg.ContextManager.QLearningRate < 0 || cfg.ContextManager.QLearningRate > 1 {
		return fmt.Errorf("context_manager.q_learning_rate must be in [0,1]")
	}
	if cfg.ContextManager.QDiscountFactor < 0 || cfg.ContextManager.QDiscountFactor > 1 {
		return fmt.Errorf("context_manager.q_discount_factor must be in [0,1]")
	}
	if cfg.FinOps.DefaultBudgetAlertThreshold <= 0 || cfg.FinOps.DefaultBudgetAlertThreshold > 1 {
		return fmt.Errorf("finops.default_budget_alert_threshold must be in (0,1]")
	}
	if cfg.Federation.MaxPeers <= 0 {
		return fmt.Errorf("federation.max_peers must be > 0")
	}
	return nil
}

// Fingerprint returns a stable hash of the active config, useful for
// detecting whether a reload actually changed anything observable.
func (c Config) Fingerprint() string {
	h := fnv.New64a()
	fmt.Fprintf(h, "pool=%+v|ctx=%+v|finops=%+v|gateway=%+v|federation=%+v",
		c.Pool, c.ContextManager, c.FinOps, c.Gateway, c.Federation)
	return fmt.Sprintf("cfg-%x", h.Sum64())
}

func applyEnvOverrides(cfg *Config) {
	if raw := os.Getenv("CORTEXOS_LOG_LEVEL"); raw != "" {
		cfg.LogLevel = raw
	}
	if raw := os.Getenv("CORTEXOS_POOL_MAX_CONTAINERS"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			cfg.Pool.MaxContainers = v
		}
	}
	if raw := os.Getenv("CORTEXOS_GATEWAY_PORT"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			cfg.Gateway.Port = v
		}
	}
	if raw := os.Getenv("CORTEXOS_GATEWAY_HOSTNAME"); raw != "" {
		cfg.Gateway.Hostname = raw
	}
	if raw := os.Getenv("CORTEXOS_FEDERATION_PEER_ID"); raw != "" {
		cfg.Federation.PeerID = raw
	}
	if raw := os.Getenv("CORTEXOS_FEDERATION_PEER_NAME"); raw != "" {
		cfg.Federation.PeerName = raw
	}
	if raw := os.Getenv("CORTEXOS_FEDERATION_LISTEN_PORT"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			cfg.Federation.ListenPort = v
		}
	}
	if raw := os.Getenv("CORTEXOS_FINOPS_ENABLED"); raw != "" {
		cfg.FinOps.Enabled = raw == "true" || raw == "1"
	}
}

// Save writes cfg back to its config.yaml, preserving the YAML field
// names declared on Config.
func Save(cfg Config) error {
	out, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config.yaml: %w", err)
	}
	return os.WriteFile(ConfigPath(cfg.HomeDir), out, 0o644)
}
