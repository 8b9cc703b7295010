package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// NodeConfig identifies this cluster node and its local data root
type NodeConfig struct {
	ID      string `yaml:"id"`
	DataDir string `yaml:"data_dir"`
}

// StorageConfig holds item persistence configuration
type StorageConfig struct {
	Backend    string `yaml:"backend"` // "badger" or "memory"
	Dir        string `yaml:"dir"`
	SyncWrites bool   `yaml:"sync_writes"`
}

// JournalConfig holds shared journal configuration
type JournalConfig struct {
	Dir            string        `yaml:"dir"`
	SyncWrites     bool          `yaml:"sync_writes"`
	SyncDelay      time.Duration `yaml:"sync_delay"`
	StopDelay      time.Duration `yaml:"stop_delay"`
	LockRetries    int           `yaml:"lock_retries"`
	LockRetryDelay time.Duration `yaml:"lock_retry_delay"`
}

// CacheConfig holds item cache configuration
type CacheConfig struct {
	MaxSize int           `yaml:"max_size"`
	TTL     time.Duration `yaml:"ttl"`
}

// NotifierConfig holds change notification worker pool configuration
type NotifierConfig struct {
	Workers   int `yaml:"workers"`
	QueueSize int `yaml:"queue_size"`
}

// GossipConfig holds gossip protocol configuration
type GossipConfig struct {
	Enabled        bool          `yaml:"enabled"`
	BindPort       int           `yaml:"bind_port"`
	SeedNodes      []string      `yaml:"seed_nodes"`
	GossipInterval time.Duration `yaml:"gossip_interval"`
	ProbeTimeout   time.Duration `yaml:"probe_timeout"`
	ProbeInterval  time.Duration `yaml:"probe_interval"`
}

// MetricsConfig holds metrics configuration
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Config represents the complete configuration for a repository node
type Config struct {
	Node     NodeConfig     `yaml:"node"`
	Storage  StorageConfig  `yaml:"storage"`
	Journal  JournalConfig  `yaml:"journal"`
	Cache    CacheConfig    `yaml:"cache"`
	Notifier NotifierConfig `yaml:"notifier"`
	Gossip   GossipConfig   `yaml:"gossip"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// LoadConfig loads configuration from a file
func LoadConfig(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	setDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default values for unspecified configuration
func setDefaults(cfg *Config) {
	if cfg.Node.DataDir == "" {
		cfg.Node.DataDir = "/var/lib/treestore"
	}

	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = "badger"
	}
	if cfg.Storage.Dir == "" {
		cfg.Storage.Dir = cfg.Node.DataDir + "/store"
	}

	if cfg.Journal.Dir == "" {
		cfg.Journal.Dir = cfg.Node.DataDir + "/journal"
	}
	if cfg.Journal.SyncDelay == 0 {
		cfg.Journal.SyncDelay = 5 * time.Second
	}
	if cfg.Journal.StopDelay == 0 {
		cfg.Journal.StopDelay = 10 * cfg.Journal.SyncDelay
	}
	if cfg.Journal.LockRetries == 0 {
		cfg.Journal.LockRetries = 50
	}
	if cfg.Journal.LockRetryDelay == 0 {
		cfg.Journal.LockRetryDelay = 100 * time.Millisecond
	}

	if cfg.Cache.MaxSize == 0 {
		cfg.Cache.MaxSize = 10000
	}
	if cfg.Cache.TTL == 0 {
		cfg.Cache.TTL = 5 * time.Minute
	}

	if cfg.Notifier.Workers == 0 {
		cfg.Notifier.Workers = 4
	}
	if cfg.Notifier.QueueSize == 0 {
		cfg.Notifier.QueueSize = 1024
	}

	if cfg.Gossip.BindPort == 0 {
		cfg.Gossip.BindPort = 7946
	}

	if cfg.Metrics.Port == 0 {
		cfg.Metrics.Port = 9090
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Node.ID == "" {
		return fmt.Errorf("node.id is required")
	}
	switch c.Storage.Backend {
	case "badger", "memory":
	default:
		return fmt.Errorf("storage.backend must be \"badger\" or \"memory\"")
	}
	if c.Journal.SyncDelay < 0 {
		return fmt.Errorf("journal.sync_delay must not be negative")
	}
	if c.Journal.StopDelay < c.Journal.SyncDelay {
		return fmt.Errorf("journal.stop_delay must be at least journal.sync_delay")
	}
	if c.Metrics.Enabled && (c.Metrics.Port < 1 || c.Metrics.Port > 65535) {
		return fmt.Errorf("metrics.port must be between 1 and 65535")
	}
	if c.Gossip.Enabled && (c.Gossip.BindPort < 1 || c.Gossip.BindPort > 65535) {
		return fmt.Errorf("gossip.bind_port must be between 1 and 65535")
	}
	return nil
}
