// Package config loads the runtime configuration from YAML, applies
// defaults, and clamps user values to the design ceilings.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/vrikshahq/vriksha/internal/routing"
)

// Hard ceilings on the agent tree. User configuration is clamped, never
// rejected, for these.
const (
	HardMaxDepth     = 10
	HardMaxSubAgents = 32
)

// Config is the root configuration.
type Config struct {
	Profile    string           `yaml:"profile"` // local, cloud, hybrid
	Agents     AgentsConfig     `yaml:"agents"`
	Routing    RoutingConfig    `yaml:"routing"`
	Retry      RetryConfig      `yaml:"retry"`
	RateLimits RateLimitConfig  `yaml:"rate_limits"`
	Supervisor SupervisorConfig `yaml:"supervisor"`
	Duty       DutyConfig       `yaml:"duty"`
	Storage    StorageConfig    `yaml:"storage"`
	Logging    LoggingConfig    `yaml:"logging"`
	Tracing    TracingConfig    `yaml:"tracing"`
}

type AgentsConfig struct {
	MaxDepth     int     `yaml:"max_depth"`
	MaxSubAgents int     `yaml:"max_sub_agents"`
	Temperature  float32 `yaml:"temperature"`
	MaxTokens    int     `yaml:"max_tokens"`
}

type RoutingConfig struct {
	MaxEscalations int `yaml:"max_escalations"`
}

type RetryConfig struct {
	MaxRetries int           `yaml:"max_retries"`
	BaseDelay  time.Duration `yaml:"base_delay"`
	MaxDelay   time.Duration `yaml:"max_delay"`
}

type RateLimitConfig struct {
	RequestsPerMinute int `yaml:"requests_per_minute"`
	TokensPerMinute   int `yaml:"tokens_per_minute"`
}

type SupervisorConfig struct {
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	StaleThreshold    time.Duration `yaml:"stale_threshold"`
	DeadThreshold     time.Duration `yaml:"dead_threshold"`
}

type DutyConfig struct {
	MaxActive            int           `yaml:"max_active"`
	MaxExecutionsPerHour int           `yaml:"max_executions_per_hour"`
	MinCooldown          time.Duration `yaml:"min_cooldown"`
	EvaluationInterval   time.Duration `yaml:"evaluation_interval"`
}

type StorageConfig struct {
	Path string `yaml:"path"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

type TracingConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	var cfg Config
	applyDefaults(&cfg)
	return cfg
}

// Load reads a YAML config file, expands ${ENV} references, applies
// defaults, and clamps ceilings. An empty path yields Default().
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	applyDefaults(&cfg)
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// RoutingProfile maps the configured profile name onto the routing layer's
// binding profile.
func (c Config) RoutingProfile() routing.Profile {
	switch c.Profile {
	case "local":
		return routing.ProfileLocal
	case "cloud":
		return routing.ProfileCloud
	default:
		return routing.ProfileHybrid
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Profile == "" {
		cfg.Profile = "hybrid"
	}
	if cfg.Agents.MaxDepth <= 0 {
		cfg.Agents.MaxDepth = 5
	}
	if cfg.Agents.MaxDepth > HardMaxDepth {
		cfg.Agents.MaxDepth = HardMaxDepth
	}
	if cfg.Agents.MaxSubAgents <= 0 {
		cfg.Agents.MaxSubAgents = 8
	}
	if cfg.Agents.MaxSubAgents > HardMaxSubAgents {
		cfg.Agents.MaxSubAgents = HardMaxSubAgents
	}
	if cfg.Agents.MaxTokens <= 0 {
		cfg.Agents.MaxTokens = 4096
	}
	if cfg.Routing.MaxEscalations <= 0 {
		cfg.Routing.MaxEscalations = 3
	}
	if cfg.Retry.MaxRetries < 0 {
		cfg.Retry.MaxRetries = 0
	}
	if cfg.Retry.MaxRetries == 0 {
		cfg.Retry.MaxRetries = 3
	}
	if cfg.Retry.BaseDelay <= 0 {
		cfg.Retry.BaseDelay = time.Second
	}
	if cfg.Retry.MaxDelay <= 0 {
		cfg.Retry.MaxDelay = 30 * time.Second
	}
	if cfg.RateLimits.RequestsPerMinute <= 0 {
		cfg.RateLimits.RequestsPerMinute = 60
	}
	if cfg.RateLimits.TokensPerMinute <= 0 {
		cfg.RateLimits.TokensPerMinute = 100_000
	}
	if cfg.Supervisor.HeartbeatInterval <= 0 {
		cfg.Supervisor.HeartbeatInterval = 5 * time.Second
	}
	if cfg.Supervisor.StaleThreshold <= 0 {
		cfg.Supervisor.StaleThreshold = 30 * time.Second
	}
	if cfg.Supervisor.DeadThreshold <= 0 {
		cfg.Supervisor.DeadThreshold = 2 * time.Minute
	}
	if cfg.Duty.EvaluationInterval <= 0 {
		cfg.Duty.EvaluationInterval = time.Minute
	}
	if cfg.Storage.Path == "" {
		cfg.Storage.Path = "vriksha.db"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Tracing.Endpoint == "" {
		cfg.Tracing.Endpoint = "localhost:4317"
	}
}

func (c Config) validate() error {
	switch c.Profile {
	case "local", "cloud", "hybrid":
	default:
		return fmt.Errorf("config: unknown profile %q", c.Profile)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: unknown log level %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "json", "text":
	default:
		return fmt.Errorf("config: unknown log format %q", c.Logging.Format)
	}
	if c.Supervisor.StaleThreshold >= c.Supervisor.DeadThreshold {
		return fmt.Errorf("config: stale threshold %s must be below dead threshold %s",
			c.Supervisor.StaleThreshold, c.Supervisor.DeadThreshold)
	}
	return nil
}
