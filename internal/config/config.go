package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultHighLatencyMs     = 200
	DefaultPacketLossPct     = 3
	DefaultFlushIntervalSec  = 60
	DefaultFlushTimeoutSec   = 30
	DefaultMergeParallelism  = 4
	DefaultDatabasePath      = "hopwatch.db"
	DefaultListen            = ":8080"
	DefaultReverseDNSTimeout = "2s"
	DefaultReverseDNSRate    = 20
	DefaultReverseDNSMode    = "auto"
	DefaultReverseDNSRetries = 1
)

// Config is the hopwatch service configuration.
type Config struct {
	HighLatencyThresholdMs *float64         `yaml:"high_latency_threshold_ms"`
	PacketLossThresholdPct *float64         `yaml:"packet_loss_threshold_pct"`
	FlushIntervalSeconds   int              `yaml:"flush_interval_seconds"`
	FlushTimeoutSeconds    int              `yaml:"flush_timeout_seconds"`
	MergeParallelism       int              `yaml:"merge_parallelism"`
	LoggingEnabled         *bool            `yaml:"logging_enabled"`
	DatabasePath           string           `yaml:"database_path"`
	Listen                 string           `yaml:"listen"`
	ReverseDNS             ReverseDNSConfig `yaml:"reverse_dns"`
}

// ReverseDNSConfig controls PTR enrichment of hop hostnames.
type ReverseDNSConfig struct {
	Enabled       bool     `yaml:"enabled"`
	Resolvers     []string `yaml:"resolvers"`
	Timeout       string   `yaml:"timeout"`
	RatePerSecond float64  `yaml:"rate_per_second"`
	Transport     string   `yaml:"transport"`
	Retries       int      `yaml:"retries"`
}

// Load reads and parses a YAML config file.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse %s: %w", path, err)
	}

	ApplyDefaults(&cfg)
	return cfg, nil
}

// Save writes a YAML config file to disk.
func Save(path string, cfg Config) error {
	ApplyDefaults(&cfg)
	data, err := yaml.Marshal(&cfg)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0o600)
}

// Default returns a config with every default applied.
func Default() Config {
	var cfg Config
	ApplyDefaults(&cfg)
	return cfg
}

// ApplyDefaults fills in default values when empty.
func ApplyDefaults(cfg *Config) {
	if cfg.HighLatencyThresholdMs == nil {
		v := float64(DefaultHighLatencyMs)
		cfg.HighLatencyThresholdMs = &v
	}
	if cfg.PacketLossThresholdPct == nil {
		v := float64(DefaultPacketLossPct)
		cfg.PacketLossThresholdPct = &v
	}
	if cfg.FlushIntervalSeconds == 0 {
		cfg.FlushIntervalSeconds = DefaultFlushIntervalSec
	}
	if cfg.FlushTimeoutSeconds == 0 {
		cfg.FlushTimeoutSeconds = DefaultFlushTimeoutSec
	}
	if cfg.MergeParallelism == 0 {
		cfg.MergeParallelism = DefaultMergeParallelism
	}
	if cfg.LoggingEnabled == nil {
		v := true
		cfg.LoggingEnabled = &v
	}
	if cfg.DatabasePath == "" {
		cfg.DatabasePath = DefaultDatabasePath
	}
	if cfg.Listen == "" {
		cfg.Listen = DefaultListen
	}
	if cfg.ReverseDNS.Timeout == "" {
		cfg.ReverseDNS.Timeout = DefaultReverseDNSTimeout
	}
	if cfg.ReverseDNS.RatePerSecond == 0 {
		cfg.ReverseDNS.RatePerSecond = DefaultReverseDNSRate
	}
	if cfg.ReverseDNS.Transport == "" {
		cfg.ReverseDNS.Transport = DefaultReverseDNSMode
	}
	if cfg.ReverseDNS.Retries == 0 {
		cfg.ReverseDNS.Retries = DefaultReverseDNSRetries
	}
}

// Validate rejects values the service cannot run with.
func Validate(cfg Config) error {
	if cfg.HighLatencyThresholdMs != nil && *cfg.HighLatencyThresholdMs < 0 {
		return fmt.Errorf("high_latency_threshold_ms must not be negative")
	}
	if v := cfg.PacketLossThresholdPct; v != nil && (*v < 0 || *v > 100) {
		return fmt.Errorf("packet_loss_threshold_pct must be between 0 and 100")
	}
	if cfg.FlushIntervalSeconds < 0 {
		return fmt.Errorf("flush_interval_seconds must not be negative")
	}
	if cfg.FlushTimeoutSeconds < 0 {
		return fmt.Errorf("flush_timeout_seconds must not be negative")
	}
	if cfg.MergeParallelism < 0 {
		return fmt.Errorf("merge_parallelism must not be negative")
	}
	if cfg.Listen == "" {
		return fmt.Errorf("listen is required")
	}
	if cfg.ReverseDNS.Timeout != "" {
		if _, err := time.ParseDuration(cfg.ReverseDNS.Timeout); err != nil {
			return fmt.Errorf("reverse_dns.timeout: %w", err)
		}
	}
	if cfg.ReverseDNS.RatePerSecond < 0 {
		return fmt.Errorf("reverse_dns.rate_per_second must not be negative")
	}
	switch cfg.ReverseDNS.Transport {
	case "", "udp", "tcp", "auto":
	default:
		return fmt.Errorf("reverse_dns.transport must be udp, tcp or auto")
	}
	if cfg.ReverseDNS.Retries < 0 {
		return fmt.Errorf("reverse_dns.retries must not be negative")
	}
	return nil
}

func (c Config) FlushInterval() time.Duration {
	return time.Duration(c.FlushIntervalSeconds) * time.Second
}

func (c Config) FlushTimeout() time.Duration {
	return time.Duration(c.FlushTimeoutSeconds) * time.Second
}

// ReverseDNSTimeout returns the per-query timeout, zero when unset or invalid.
func (c Config) ReverseDNSTimeout() time.Duration {
	d, _ := time.ParseDuration(c.ReverseDNS.Timeout)
	return d
}

// Runtime holds settings that can change while the service runs.
type Runtime struct {
	mu             sync.RWMutex
	loggingEnabled bool
}

func NewRuntime(cfg Config) *Runtime {
	enabled := true
	if cfg.LoggingEnabled != nil {
		enabled = *cfg.LoggingEnabled
	}
	return &Runtime{loggingEnabled: enabled}
}

// LoggingEnabled reports whether anomaly events are persisted. A nil Runtime
// reports true.
func (r *Runtime) LoggingEnabled() bool {
	if r == nil {
		return true
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.loggingEnabled
}

func (r *Runtime) SetLoggingEnabled(enabled bool) {
	r.mu.Lock()
	r.loggingEnabled = enabled
	r.mu.Unlock()
}
