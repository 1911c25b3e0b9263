package config

import internalconfig "github.com/SmitUplenchwar2687/Beacon/internal/config"

// Config is the top-level configuration for an agent and the collector.
type Config = internalconfig.Config

// SinkConfig selects where records are delivered.
type SinkConfig = internalconfig.SinkConfig

// CollectorConfig configures the development collector.
type CollectorConfig = internalconfig.CollectorConfig

// LogConfig configures the logger.
type LogConfig = internalconfig.LogConfig

// Default returns a Config with sensible defaults.
func Default() Config {
	return internalconfig.Default()
}

// Load merges defaults, the optional file at path and BEACON_* variables.
func Load(path string) (Config, error) {
	return internalconfig.Load(path)
}

// LoadFile reads a JSON or YAML config file and merges it with defaults.
func LoadFile(path string) (Config, error) {
	return internalconfig.LoadFile(path)
}

// WriteExample writes an example config file to the given path.
func WriteExample(path string) error {
	return internalconfig.WriteExample(path)
}
