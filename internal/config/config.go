// Package config holds Beacon's configuration: defaults, validation, and
// loading from a JSON or YAML file with BEACON_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/SmitUplenchwar2687/Beacon/internal/storage"
)

// Sink kinds.
const (
	SinkMemory = "memory"
	SinkHTTP   = "http"
	SinkRedis  = "redis"
	SinkKafka  = "kafka"
)

// Config is the top-level configuration for an agent and the collector.
type Config struct {
	// Version segments the sink path so releases don't mix.
	Version string `json:"version" mapstructure:"version"`
	// SinkNamespace is the root of the sink path.
	SinkNamespace string `json:"sink_namespace" mapstructure:"sink_namespace"`
	// EnableAdvanced turns on performance sampling and stuck-point tracking.
	EnableAdvanced bool          `json:"enable_advanced" mapstructure:"enable_advanced"`
	BeaconEndpoint string        `json:"beacon_endpoint" mapstructure:"beacon_endpoint"`
	StuckThreshold time.Duration `json:"stuck_threshold" mapstructure:"stuck_threshold"`
	SampleInterval time.Duration `json:"sample_interval" mapstructure:"sample_interval"`
	Tasks          []string      `json:"tasks" mapstructure:"tasks"`

	Sink      SinkConfig      `json:"sink" mapstructure:"sink"`
	Buffer    storage.Config  `json:"buffer" mapstructure:"buffer"`
	Collector CollectorConfig `json:"collector" mapstructure:"collector"`
	Log       LogConfig       `json:"log" mapstructure:"log"`
}

// SinkConfig selects where the agent delivers records.
type SinkConfig struct {
	Kind            string              `json:"kind" mapstructure:"kind"`
	URL             string              `json:"url" mapstructure:"url"`
	RequireIdentity bool                `json:"require_identity" mapstructure:"require_identity"`
	ProbeInterval   time.Duration       `json:"probe_interval" mapstructure:"probe_interval"`
	KafkaBrokers    []string            `json:"kafka_brokers" mapstructure:"kafka_brokers"`
	Redis           storage.RedisConfig `json:"redis" mapstructure:"redis"`
}

// CollectorConfig configures the development collector.
type CollectorConfig struct {
	Addr            string        `json:"addr" mapstructure:"addr"`
	DBPath          string        `json:"db_path" mapstructure:"db_path"`
	RequireIdentity bool          `json:"require_identity" mapstructure:"require_identity"`
	Rate            int           `json:"rate" mapstructure:"rate"`
	Window          time.Duration `json:"window" mapstructure:"window"`
	Burst           int           `json:"burst" mapstructure:"burst"`
}

// LogConfig configures the logger.
type LogConfig struct {
	Level  string `json:"level" mapstructure:"level"`
	Format string `json:"format" mapstructure:"format"`
}

// Default returns a Config with sensible defaults.
func Default() Config {
	return Config{
		Version:        "v0.1",
		SinkNamespace:  "template_feedback",
		EnableAdvanced: false,
		BeaconEndpoint: "/api/feedback",
		StuckThreshold: 5 * time.Second,
		SampleInterval: 5 * time.Second,
		Tasks:          []string{"login", "modify_title", "add_function", "test"},
		Sink: SinkConfig{
			Kind:          SinkHTTP,
			URL:           "http://localhost:8080",
			ProbeInterval: 5 * time.Second,
			Redis:         defaultRedis(),
		},
		Buffer: storage.Config{
			Backend: storage.BackendBolt,
			Path:    "beacon-buffer.db",
			Redis:   defaultRedis(),
		},
		Collector: CollectorConfig{
			Addr:   ":8080",
			DBPath: "beacon-collector.db",
			Rate:   120,
			Window: time.Minute,
			Burst:  30,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "human",
		},
	}
}

func defaultRedis() storage.RedisConfig {
	return storage.RedisConfig{
		Host:        "localhost",
		Port:        6379,
		PoolSize:    20,
		MaxRetries:  3,
		DialTimeout: 5 * time.Second,
	}
}

// Validate checks that the config is valid.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Version) == "" {
		errs = append(errs, errors.New("version is required"))
	}
	if strings.TrimSpace(c.SinkNamespace) == "" {
		errs = append(errs, errors.New("sink_namespace is required"))
	}
	if strings.ContainsAny(c.SinkNamespace+c.Version, "/ ") {
		errs = append(errs, fmt.Errorf("sink_namespace and version must not contain '/' or spaces"))
	}
	if c.StuckThreshold <= 0 {
		errs = append(errs, fmt.Errorf("stuck_threshold must be positive, got %s", c.StuckThreshold))
	}
	if c.SampleInterval <= 0 {
		errs = append(errs, fmt.Errorf("sample_interval must be positive, got %s", c.SampleInterval))
	}

	switch c.Sink.Kind {
	case SinkMemory:
	case SinkHTTP:
		if c.Sink.URL == "" {
			errs = append(errs, errors.New("sink.url is required for the http sink"))
		}
	case SinkRedis:
		if _, err := storage.NormalizeRedisConfig(&c.Sink.Redis); err != nil {
			errs = append(errs, fmt.Errorf("sink.redis: %w", err))
		}
	case SinkKafka:
		if len(c.Sink.KafkaBrokers) == 0 {
			errs = append(errs, errors.New("sink.kafka_brokers is required for the kafka sink"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown sink kind %q, must be one of: memory, http, redis, kafka", c.Sink.Kind))
	}

	switch c.Buffer.Backend {
	case storage.BackendMemory:
	case storage.BackendBolt, storage.BackendSQLite:
		if c.Buffer.Path == "" {
			errs = append(errs, fmt.Errorf("buffer.path is required for the %s backend", c.Buffer.Backend))
		}
	case storage.BackendRedis:
		if _, err := storage.NormalizeRedisConfig(&c.Buffer.Redis); err != nil {
			errs = append(errs, fmt.Errorf("buffer.redis: %w", err))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown buffer backend %q, must be one of: memory, bolt, sqlite, redis", c.Buffer.Backend))
	}

	if c.Collector.Rate <= 0 {
		errs = append(errs, fmt.Errorf("collector.rate must be positive, got %d", c.Collector.Rate))
	}
	if c.Collector.Window <= 0 {
		errs = append(errs, fmt.Errorf("collector.window must be positive, got %s", c.Collector.Window))
	}
	if c.Collector.Burst < 0 {
		errs = append(errs, fmt.Errorf("collector.burst must not be negative, got %d", c.Collector.Burst))
	}

	switch c.Log.Format {
	case "human", "json":
	default:
		errs = append(errs, fmt.Errorf("unknown log format %q, must be one of: human, json", c.Log.Format))
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("unknown log level %q, must be one of: debug, info, warn, error", c.Log.Level))
	}
	return errors.Join(errs...)
}

// Load builds a Config from defaults, the optional file at path, and
// BEACON_* environment variables, in increasing order of precedence.
// Nested keys map to env names with '.' replaced by '_', e.g.
// BEACON_SINK_URL.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v, Default())

	v.SetEnvPrefix("BEACON")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Default(), fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Default(), fmt.Errorf("parsing config: %w", err)
	}
	return cfg, nil
}

// LoadFile reads a JSON or YAML config file and merges it with defaults.
// Fields not specified in the file retain their default values.
func LoadFile(path string) (Config, error) {
	if path == "" {
		return Default(), errors.New("config file path is required")
	}
	return Load(path)
}

func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("version", d.Version)
	v.SetDefault("sink_namespace", d.SinkNamespace)
	v.SetDefault("enable_advanced", d.EnableAdvanced)
	v.SetDefault("beacon_endpoint", d.BeaconEndpoint)
	v.SetDefault("stuck_threshold", d.StuckThreshold)
	v.SetDefault("sample_interval", d.SampleInterval)
	v.SetDefault("tasks", d.Tasks)

	v.SetDefault("sink.kind", d.Sink.Kind)
	v.SetDefault("sink.url", d.Sink.URL)
	v.SetDefault("sink.require_identity", d.Sink.RequireIdentity)
	v.SetDefault("sink.probe_interval", d.Sink.ProbeInterval)
	v.SetDefault("sink.kafka_brokers", nonNil(d.Sink.KafkaBrokers))
	setRedisDefaults(v, "sink.redis", d.Sink.Redis)

	v.SetDefault("buffer.backend", d.Buffer.Backend)
	v.SetDefault("buffer.path", d.Buffer.Path)
	setRedisDefaults(v, "buffer.redis", d.Buffer.Redis)

	v.SetDefault("collector.addr", d.Collector.Addr)
	v.SetDefault("collector.db_path", d.Collector.DBPath)
	v.SetDefault("collector.require_identity", d.Collector.RequireIdentity)
	v.SetDefault("collector.rate", d.Collector.Rate)
	v.SetDefault("collector.window", d.Collector.Window)
	v.SetDefault("collector.burst", d.Collector.Burst)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
}

func setRedisDefaults(v *viper.Viper, prefix string, r storage.RedisConfig) {
	v.SetDefault(prefix+".host", r.Host)
	v.SetDefault(prefix+".port", r.Port)
	v.SetDefault(prefix+".password", r.Password)
	v.SetDefault(prefix+".db", r.DB)
	v.SetDefault(prefix+".cluster", r.Cluster)
	v.SetDefault(prefix+".cluster_nodes", nonNil(r.ClusterNodes))
	v.SetDefault(prefix+".pool_size", r.PoolSize)
	v.SetDefault(prefix+".max_retries", r.MaxRetries)
	v.SetDefault(prefix+".dial_timeout", r.DialTimeout)
}

// viper only binds env vars for keys it knows, and a nil default is not
// a key.
func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// WriteExample writes an example YAML config file to the given path.
func WriteExample(path string) error {
	example := `version: v0.1
sink_namespace: template_feedback
enable_advanced: false
beacon_endpoint: /api/feedback
stuck_threshold: 5s
sample_interval: 5s
tasks: [login, modify_title, add_function, test]

sink:
  kind: http            # memory, http, redis, kafka
  url: http://localhost:8080
  require_identity: false
  probe_interval: 5s
  kafka_brokers: []
  redis:
    host: localhost
    port: 6379

buffer:
  backend: bolt         # memory, bolt, sqlite, redis
  path: beacon-buffer.db

collector:
  addr: ":8080"
  db_path: beacon-collector.db
  require_identity: false
  rate: 120
  window: 1m
  burst: 30

log:
  level: info           # debug, info, warn, error
  format: human         # human, json
`
	return os.WriteFile(path, []byte(example), 0o644)
}
