package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"testnerd/internal/logging"
	"testnerd/internal/types"
)

// Config holds all testnerd configuration.
type Config struct {
	// Core settings
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// Diagnose -> remediate -> verify loop
	Cascade CascadeConfig `yaml:"cascade"`

	// Persisted known patterns
	Knowledge KnowledgeConfig `yaml:"knowledge"`

	// Offline unknown-condition sink
	Unknowns UnknownsConfig `yaml:"unknowns"`

	// Remote analysis service
	Gateway GatewayConfig `yaml:"gateway"`

	// Browser automation
	Browser BrowserConfig `yaml:"browser"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// CascadeConfig bounds the orchestrator.
type CascadeConfig struct {
	MaxDepth    int    `yaml:"max_depth"`
	RiskCeiling string `yaml:"risk_ceiling"` // LOW, MEDIUM, HIGH
	DryRun      bool   `yaml:"dry_run"`
	Offline     bool   `yaml:"offline"`
}

// KnowledgeConfig configures the knowledge store.
type KnowledgeConfig struct {
	Path string `yaml:"path"`

	// pair: min(2, n) signals; all: every defined signal (at least 2 when possible)
	MinSignalPolicy string `yaml:"min_signal_policy"`

	// Reload the active set when the file changes on disk
	Watch bool `yaml:"watch"`
}

// UnknownsConfig configures the unknown-condition sink.
type UnknownsConfig struct {
	DatabasePath string `yaml:"database_path"`
}

// GatewayConfig configures the remote analysis gateway.
type GatewayConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Provider string `yaml:"provider"` // gemini
	APIKey   string `yaml:"api_key"`
	Model    string `yaml:"model"`
	Timeout  string `yaml:"timeout"`

	// Token accounting file; empty disables tracking
	UsagePath string `yaml:"usage_path"`
}

// BrowserConfig configures the rod-backed live state.
type BrowserConfig struct {
	DebuggerURL     string `yaml:"debugger_url"` // attach to a running Chrome instead of launching
	Headless        bool   `yaml:"headless"`
	Launch          bool   `yaml:"launch"`
	NavigateTimeout string `yaml:"navigate_timeout"`
	SettleDelay     string `yaml:"settle_delay"`
	MaxConsoleLogs  int    `yaml:"max_console_logs"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level      string          `yaml:"level"`  // debug, info, warn, error
	Format     string          `yaml:"format"` // json, console
	File       string          `yaml:"file"`
	DebugMode  bool            `yaml:"debug_mode"`
	Categories map[string]bool `yaml:"categories,omitempty"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "testnerd",
		Version: "0.3.0",

		Cascade: CascadeConfig{
			MaxDepth:    3,
			RiskCeiling: "LOW",
		},

		Knowledge: KnowledgeConfig{
			Path:            ".testnerd/patterns.json",
			MinSignalPolicy: "pair",
		},

		Unknowns: UnknownsConfig{
			DatabasePath: ".testnerd/unknowns.db",
		},

		Gateway: GatewayConfig{
			Enabled:   true,
			Provider:  "gemini",
			Model:     "gemini-2.5-flash",
			Timeout:   "60s",
			UsagePath: ".testnerd/usage.json",
		},

		Browser: BrowserConfig{
			Headless:        true,
			Launch:          true,
			NavigateTimeout: "30s",
			SettleDelay:     "500ms",
			MaxConsoleLogs:  200,
		},

		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
			File:   ".testnerd/testnerd.log",
		},
	}
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// Return defaults if config file doesn't exist
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// Override with environment variables
	cfg.applyEnvOverrides()

	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	// Gateway API key from environment (GEMINI_API_KEY wins over GOOGLE_API_KEY)
	if key := os.Getenv("GOOGLE_API_KEY"); key != "" {
		c.Gateway.APIKey = key
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		c.Gateway.APIKey = key
	}
	if c.Gateway.APIKey != "" && c.Gateway.Provider == "" {
		c.Gateway.Provider = "gemini"
	}

	if path := os.Getenv("TESTNERD_KB"); path != "" {
		c.Knowledge.Path = path
	}
	if v := os.Getenv("TESTNERD_OFFLINE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Cascade.Offline = b
		}
	}
	if v := os.Getenv("TESTNERD_RISK_CEILING"); v != "" {
		c.Cascade.RiskCeiling = strings.ToUpper(v)
	}
	if url := os.Getenv("TESTNERD_DEBUGGER_URL"); url != "" {
		c.Browser.DebuggerURL = url
		c.Browser.Launch = false
	}
}

// GetGatewayTimeout returns the gateway timeout as a duration.
func (c *Config) GetGatewayTimeout() time.Duration {
	d, err := time.ParseDuration(c.Gateway.Timeout)
	if err != nil {
		return 60 * time.Second
	}
	return d
}

// GetNavigateTimeout returns the browser navigation timeout as a duration.
func (c *Config) GetNavigateTimeout() time.Duration {
	d, err := time.ParseDuration(c.Browser.NavigateTimeout)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

// GetSettleDelay returns how long to wait after a live-state mutation before re-reading the page.
func (c *Config) GetSettleDelay() time.Duration {
	d, err := time.ParseDuration(c.Browser.SettleDelay)
	if err != nil {
		return 500 * time.Millisecond
	}
	return d
}

// GetRiskCeiling returns the parsed risk ceiling, falling back to LOW.
func (c *Config) GetRiskCeiling() types.RiskTier {
	tier, err := types.ParseRiskTier(c.Cascade.RiskCeiling)
	if err != nil {
		return types.RiskLow
	}
	return tier
}

// GetMaxDepth returns the cascade depth, falling back to 3.
func (c *Config) GetMaxDepth() int {
	if c.Cascade.MaxDepth < 1 {
		return 3
	}
	return c.Cascade.MaxDepth
}

// LoggingOptions converts the logging section for logging.Initialize.
func (c *Config) LoggingOptions() logging.Config {
	return logging.Config{
		DebugMode:  c.Logging.DebugMode,
		Level:      c.Logging.Level,
		Format:     c.Logging.Format,
		File:       c.Logging.File,
		Categories: c.Logging.Categories,
	}
}

// ValidProviders lists all supported gateway providers.
var ValidProviders = []string{"gemini"}

// ValidMinSignalPolicies lists the accepted knowledge.min_signal_policy values.
var ValidMinSignalPolicies = []string{"pair", "all"}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Cascade.MaxDepth < 1 {
		return fmt.Errorf("%w: cascade.max_depth must be >= 1, got %d", ErrInvalidConfig, c.Cascade.MaxDepth)
	}
	if _, err := types.ParseRiskTier(c.Cascade.RiskCeiling); err != nil {
		return fmt.Errorf("%w: cascade.risk_ceiling: %v", ErrInvalidConfig, err)
	}
	if !contains(ValidMinSignalPolicies, c.Knowledge.MinSignalPolicy) {
		return fmt.Errorf("%w: invalid knowledge.min_signal_policy: %s (valid: %v)",
			ErrInvalidConfig, c.Knowledge.MinSignalPolicy, ValidMinSignalPolicies)
	}
	if c.Knowledge.Path == "" {
		return fmt.Errorf("%w: knowledge.path is empty", ErrInvalidConfig)
	}

	if c.Gateway.Enabled && !c.Cascade.Offline {
		if !contains(ValidProviders, c.Gateway.Provider) {
			return fmt.Errorf("%w: invalid gateway provider: %s (valid: %v)", ErrInvalidConfig, c.Gateway.Provider, ValidProviders)
		}
		if c.Gateway.APIKey == "" {
			return fmt.Errorf("%w: gateway API key not configured (set GEMINI_API_KEY or GOOGLE_API_KEY, or run offline)", ErrInvalidConfig)
		}
	}

	return nil
}

// UsesGateway reports whether remote analysis should be wired at all.
func (c *Config) UsesGateway() bool {
	return c.Gateway.Enabled && !c.Cascade.Offline && c.Gateway.APIKey != ""
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
