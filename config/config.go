// Package config loads disputeflow settings from a YAML file and
// DISPUTEFLOW_* environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"disputeflow/logging"
	"disputeflow/workflow"
)

const envPrefix = "DISPUTEFLOW"

type Config struct {
	Log      logging.Config `mapstructure:"log"`
	Store    StoreConfig    `mapstructure:"store"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Notify   NotifyConfig   `mapstructure:"notify"`
	Workflow WorkflowConfig `mapstructure:"workflow"`
	Sweep    SweepConfig    `mapstructure:"sweep"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

// StoreConfig picks the case store. Driver is "postgres" or "bolt".
type StoreConfig struct {
	Driver      string `mapstructure:"driver"`
	PostgresDSN string `mapstructure:"postgres_dsn"`
	BoltPath    string `mapstructure:"bolt_path"`
	MaxConns    int32  `mapstructure:"max_conns"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type KafkaConfig struct {
	Brokers      []string      `mapstructure:"brokers"`
	BatchTimeout time.Duration `mapstructure:"batch_timeout"`
}

// NotifyConfig picks the dispatcher: "kafka", "log" or "nop".
type NotifyConfig struct {
	Driver string `mapstructure:"driver"`
}

type WorkflowConfig struct {
	InitialDays        int `mapstructure:"initial_days"`
	RepresentationDays int `mapstructure:"representation_days"`
	PreArbitrationDays int `mapstructure:"pre_arbitration_days"`
	ArbitrationDays    int `mapstructure:"arbitration_days"`
	AppealWindowDays   int `mapstructure:"appeal_window_days"`
	MaxConflictRetries int `mapstructure:"max_conflict_retries"`
}

// Durations maps the phase lengths onto the workflow type.
func (w WorkflowConfig) Durations() workflow.Durations {
	return workflow.Durations{
		Initial:        w.InitialDays,
		Representation: w.RepresentationDays,
		PreArbitration: w.PreArbitrationDays,
		Arbitration:    w.ArbitrationDays,
	}
}

type SweepConfig struct {
	Interval    time.Duration `mapstructure:"interval"`
	BatchSize   int           `mapstructure:"batch_size"`
	Concurrency int           `mapstructure:"concurrency"`
	// UseLease makes replicas coordinate through a Redis lease.
	UseLease bool          `mapstructure:"use_lease"`
	LeaseKey string        `mapstructure:"lease_key"`
	LeaseTTL time.Duration `mapstructure:"lease_ttl"`
}

type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

const (
	DefaultStoreDriver  = "postgres"
	DefaultBoltPath     = "disputeflow.db"
	DefaultMaxConns     = 16
	DefaultRedisAddr    = "localhost:6379"
	DefaultKafkaBroker  = "localhost:9092"
	DefaultNotifyDriver = "log"

	DefaultAppealWindowDays   = 30
	DefaultMaxConflictRetries = 3

	DefaultSweepInterval    = time.Minute
	DefaultSweepBatchSize   = 500
	DefaultSweepConcurrency = 8
	DefaultLeaseKey         = "disputeflow:sweep:lease"

	DefaultMetricsAddr = ":9102"
)

func defaults() map[string]any {
	d := workflow.DefaultDurations
	return map[string]any{
		"log.level":                     "info",
		"log.format":                    "json",
		"store.driver":                  DefaultStoreDriver,
		"store.postgres_dsn":            "",
		"store.bolt_path":               DefaultBoltPath,
		"store.max_conns":               DefaultMaxConns,
		"redis.addr":                    DefaultRedisAddr,
		"redis.password":                "",
		"redis.db":                      0,
		"kafka.brokers":                 []string{DefaultKafkaBroker},
		"kafka.batch_timeout":           50 * time.Millisecond,
		"notify.driver":                 DefaultNotifyDriver,
		"workflow.initial_days":         d.Initial,
		"workflow.representation_days":  d.Representation,
		"workflow.pre_arbitration_days": d.PreArbitration,
		"workflow.arbitration_days":     d.Arbitration,
		"workflow.appeal_window_days":   DefaultAppealWindowDays,
		"workflow.max_conflict_retries": DefaultMaxConflictRetries,
		"sweep.interval":                DefaultSweepInterval,
		"sweep.batch_size":              DefaultSweepBatchSize,
		"sweep.concurrency":             DefaultSweepConcurrency,
		"sweep.use_lease":               false,
		"sweep.lease_key":               DefaultLeaseKey,
		"sweep.lease_ttl":               0,
		"metrics.addr":                  DefaultMetricsAddr,
	}
}

// newViper registers every key with its default so env overrides resolve
// even without a config file.
func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for k, val := range defaults() {
		v.SetDefault(k, val)
	}
	return v
}

// Load reads path (when non-empty), overlays DISPUTEFLOW_* variables,
// fills defaults and validates.
func Load(path string) (*Config, error) {
	v := newViper()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %q: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	ApplyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills zero-valued fields; explicit values win.
func ApplyDefaults(cfg *Config) {
	if cfg == nil {
		return
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.Store.Driver == "" {
		cfg.Store.Driver = DefaultStoreDriver
	}
	if cfg.Store.BoltPath == "" {
		cfg.Store.BoltPath = DefaultBoltPath
	}
	if cfg.Store.MaxConns == 0 {
		cfg.Store.MaxConns = DefaultMaxConns
	}
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = DefaultRedisAddr
	}
	if len(cfg.Kafka.Brokers) == 0 {
		cfg.Kafka.Brokers = []string{DefaultKafkaBroker}
	}
	if cfg.Notify.Driver == "" {
		cfg.Notify.Driver = DefaultNotifyDriver
	}

	d := workflow.DefaultDurations
	if cfg.Workflow.InitialDays == 0 {
		cfg.Workflow.InitialDays = d.Initial
	}
	if cfg.Workflow.RepresentationDays == 0 {
		cfg.Workflow.RepresentationDays = d.Representation
	}
	if cfg.Workflow.PreArbitrationDays == 0 {
		cfg.Workflow.PreArbitrationDays = d.PreArbitration
	}
	if cfg.Workflow.ArbitrationDays == 0 {
		cfg.Workflow.ArbitrationDays = d.Arbitration
	}
	if cfg.Workflow.AppealWindowDays == 0 {
		cfg.Workflow.AppealWindowDays = DefaultAppealWindowDays
	}
	if cfg.Workflow.MaxConflictRetries == 0 {
		cfg.Workflow.MaxConflictRetries = DefaultMaxConflictRetries
	}

	if cfg.Sweep.Interval == 0 {
		cfg.Sweep.Interval = DefaultSweepInterval
	}
	if cfg.Sweep.BatchSize == 0 {
		cfg.Sweep.BatchSize = DefaultSweepBatchSize
	}
	if cfg.Sweep.Concurrency == 0 {
		cfg.Sweep.Concurrency = DefaultSweepConcurrency
	}
	if cfg.Sweep.LeaseKey == "" {
		cfg.Sweep.LeaseKey = DefaultLeaseKey
	}
	if cfg.Sweep.LeaseTTL == 0 {
		cfg.Sweep.LeaseTTL = cfg.Sweep.Interval
	}
	if cfg.Metrics.Addr == "" {
		cfg.Metrics.Addr = DefaultMetricsAddr
	}
}

// Validate returns the first semantic problem found.
func (c *Config) Validate() error {
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("config: log.level: %w", err)
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("config: log.format %q is invalid; expected json|console", c.Log.Format)
	}

	switch c.Store.Driver {
	case "postgres":
		if c.Store.PostgresDSN == "" {
			return fmt.Errorf("config: store.postgres_dsn is required for the postgres driver")
		}
	case "bolt":
		if c.Store.BoltPath == "" {
			return fmt.Errorf("config: store.bolt_path is required for the bolt driver")
		}
	default:
		return fmt.Errorf("config: store.driver %q is invalid; expected postgres|bolt", c.Store.Driver)
	}

	switch c.Notify.Driver {
	case "kafka":
		if len(c.Kafka.Brokers) == 0 {
			return fmt.Errorf("config: kafka.brokers must contain at least one broker")
		}
	case "log", "nop":
	default:
		return fmt.Errorf("config: notify.driver %q is invalid; expected kafka|log|nop", c.Notify.Driver)
	}

	if c.Store.MaxConns < 1 {
		return fmt.Errorf("config: store.max_conns must be >= 1, got %d", c.Store.MaxConns)
	}
	if c.Redis.DB < 0 {
		return fmt.Errorf("config: redis.db must be >= 0, got %d", c.Redis.DB)
	}

	w := c.Workflow
	for name, days := range map[string]int{
		"initial_days":         w.InitialDays,
		"representation_days":  w.RepresentationDays,
		"pre_arbitration_days": w.PreArbitrationDays,
		"arbitration_days":     w.ArbitrationDays,
		"appeal_window_days":   w.AppealWindowDays,
	} {
		if days < 1 {
			return fmt.Errorf("config: workflow.%s must be >= 1, got %d", name, days)
		}
	}
	if w.MaxConflictRetries < 0 {
		return fmt.Errorf("config: workflow.max_conflict_retries must be >= 0, got %d", w.MaxConflictRetries)
	}

	if c.Sweep.Interval <= 0 {
		return fmt.Errorf("config: sweep.interval must be positive")
	}
	if c.Sweep.BatchSize < 1 {
		return fmt.Errorf("config: sweep.batch_size must be >= 1, got %d", c.Sweep.BatchSize)
	}
	if c.Sweep.Concurrency < 1 {
		return fmt.Errorf("config: sweep.concurrency must be >= 1, got %d", c.Sweep.Concurrency)
	}
	if c.Sweep.UseLease && c.Sweep.LeaseTTL <= 0 {
		return fmt.Errorf("config: sweep.lease_ttl must be positive when use_lease is set")
	}
	return nil
}
