package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server       ServerConfig     `yaml:"server"`
	Providers    []ProviderConfig `yaml:"providers"`
	Orchestrator OrchestratorCfg  `yaml:"orchestrator"`
	Timeouts     TimeoutConfig    `yaml:"adaptive_timeout"`
	Health       HealthConfig     `yaml:"health"`
	Cache        CacheConfig      `yaml:"cache"`
	Logging      LoggingConfig    `yaml:"logging"`
}

type ServerConfig struct {
	Listen     string `yaml:"listen"`
	GRPCListen string `yaml:"grpc_listen"`
}

type CircuitConfig struct {
	Threshold    int           `yaml:"threshold"`
	ResetTimeout time.Duration `yaml:"reset_timeout"`
}

type RateLimitConfig struct {
	Requests int           `yaml:"requests"`
	Window   time.Duration `yaml:"window"`
}

type ProviderConfig struct {
	Name         string            `yaml:"name"`
	Kind         string            `yaml:"kind"`
	Endpoint     string            `yaml:"endpoint"`
	APIKey       string            `yaml:"api_key"`
	Priority     int               `yaml:"priority"`
	Enabled      *bool             `yaml:"enabled"`
	Timeout      time.Duration     `yaml:"timeout"`
	MaxRetries   int               `yaml:"max_retries"`
	Circuit      CircuitConfig     `yaml:"circuit_breaker"`
	RateLimit    RateLimitConfig   `yaml:"rate_limit"`
	Headers      map[string]string `yaml:"headers"`
	Params       map[string]string `yaml:"params"`
	Technologies []string          `yaml:"technologies"`
	MaxResults   int               `yaml:"max_results"`
	Reliability  float64           `yaml:"reliability"`
}

func (p ProviderConfig) IsEnabled() bool {
	return p.Enabled == nil || *p.Enabled
}

type OrchestratorCfg struct {
	MaxConcurrentProviders int           `yaml:"max_concurrent_providers"`
	OverallTimeout         time.Duration `yaml:"overall_timeout"`
	ResultCap              int           `yaml:"result_cap"`
	CacheTTL               time.Duration `yaml:"cache_ttl"`
	HedgeEnabled           *bool         `yaml:"hedge_enabled"`
	HedgeDelay             time.Duration `yaml:"hedge_delay"`
	BreakerThreshold       int           `yaml:"breaker_threshold"`
	BreakerCooldown        time.Duration `yaml:"breaker_cooldown"`
}

func (o OrchestratorCfg) HedgingEnabled() bool {
	return o.HedgeEnabled == nil || *o.HedgeEnabled
}

type TimeoutConfig struct {
	Default    time.Duration `yaml:"default"`
	Min        time.Duration `yaml:"min"`
	Max        time.Duration `yaml:"max"`
	WindowSize int           `yaml:"window_size"`
	MinSamples int           `yaml:"min_samples"`
}

type HealthConfig struct {
	CheckInterval time.Duration `yaml:"check_interval"`
	CheckTimeout  time.Duration `yaml:"check_timeout"`
	AlertCooldown time.Duration `yaml:"alert_cooldown"`
}

type CacheConfig struct {
	L1              L1Config      `yaml:"l1"`
	L2              L2Config      `yaml:"l2"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

type L1Config struct {
	MaxEntries int           `yaml:"max_entries"`
	TTL        time.Duration `yaml:"ttl"`
}

type L2Config struct {
	Path                 string `yaml:"path"`
	CompressionThreshold int    `yaml:"compression_threshold"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

func Load(path string) (*Config, error) {
	path = expandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.Normalize()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

func (c *Config) Normalize() {
	if c.Server.Listen == "" {
		c.Server.Listen = "127.0.0.1:8660"
	}
	c.Cache.L2.Path = expandClean(c.Cache.L2.Path)
	c.Logging.File = expandClean(c.Logging.File)

	for i := range c.Providers {
		p := &c.Providers[i]
		if p.Timeout == 0 {
			p.Timeout = 10 * time.Second
		}
		if p.Circuit.Threshold == 0 {
			p.Circuit.Threshold = 5
		}
		if p.Circuit.ResetTimeout == 0 {
			p.Circuit.ResetTimeout = 60 * time.Second
		}
		if p.RateLimit.Window == 0 {
			p.RateLimit.Window = time.Minute
		}
		if p.MaxResults == 0 {
			p.MaxResults = 20
		}
		if p.Reliability == 0 {
			p.Reliability = 0.9
		}
	}

	if c.Orchestrator.MaxConcurrentProviders == 0 {
		c.Orchestrator.MaxConcurrentProviders = 3
	}
	if c.Orchestrator.OverallTimeout == 0 {
		c.Orchestrator.OverallTimeout = 5 * time.Second
	}
	if c.Orchestrator.ResultCap == 0 {
		c.Orchestrator.ResultCap = 20
	}
	if c.Orchestrator.CacheTTL == 0 {
		c.Orchestrator.CacheTTL = time.Hour
	}
	if c.Orchestrator.HedgeDelay == 0 {
		c.Orchestrator.HedgeDelay = 200 * time.Millisecond
	}
	if c.Orchestrator.BreakerThreshold == 0 {
		c.Orchestrator.BreakerThreshold = 3
	}
	if c.Orchestrator.BreakerCooldown == 0 {
		c.Orchestrator.BreakerCooldown = 30 * time.Second
	}

	if c.Timeouts.Default == 0 {
		c.Timeouts.Default = 2 * time.Second
	}
	if c.Timeouts.Min == 0 {
		c.Timeouts.Min = 500 * time.Millisecond
	}
	if c.Timeouts.Max == 0 {
		c.Timeouts.Max = 5 * time.Second
	}
	if c.Timeouts.WindowSize == 0 {
		c.Timeouts.WindowSize = 50
	}
	if c.Timeouts.MinSamples == 0 {
		c.Timeouts.MinSamples = 5
	}

	if c.Health.CheckInterval == 0 {
		c.Health.CheckInterval = 30 * time.Second
	}
	if c.Health.CheckTimeout == 0 {
		c.Health.CheckTimeout = 5 * time.Second
	}
	if c.Health.AlertCooldown == 0 {
		c.Health.AlertCooldown = 5 * time.Minute
	}

	if c.Cache.L1.MaxEntries == 0 {
		c.Cache.L1.MaxEntries = 1000
	}
	if c.Cache.L1.TTL == 0 {
		c.Cache.L1.TTL = time.Hour
	}
	if c.Cache.L2.CompressionThreshold == 0 {
		c.Cache.L2.CompressionThreshold = 4096
	}
	if c.Cache.CleanupInterval == 0 {
		c.Cache.CleanupInterval = 10 * time.Minute
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

func (c *Config) Validate() error {
	if len(c.Providers) == 0 {
		return fmt.Errorf("at least one provider is required")
	}
	seen := make(map[string]bool, len(c.Providers))
	for _, p := range c.Providers {
		if p.Name == "" {
			return fmt.Errorf("provider name is required")
		}
		if seen[p.Name] {
			return fmt.Errorf("provider %s: duplicate name", p.Name)
		}
		seen[p.Name] = true
		switch p.Kind {
		case "httpjson", "htmlpage":
		default:
			return fmt.Errorf("provider %s: unknown kind %q", p.Name, p.Kind)
		}
		if p.Endpoint == "" {
			return fmt.Errorf("provider %s: endpoint is required", p.Name)
		}
	}
	return nil
}

func expandPath(p string) string {
	p = os.ExpandEnv(p)
	if strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			p = filepath.Join(home, p[2:])
		}
	}
	return filepath.Clean(p)
}

func expandClean(p string) string {
	if p == "" {
		return ""
	}
	return expandPath(p)
}
