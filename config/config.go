// Package config loads the proxy's YAML configuration via
// gopkg.in/yaml.v2, filling defaults for anything the file leaves unset.
package config

import (
	"os"

	"gopkg.in/yaml.v2"
)

// Redis holds the connection details for the cache backend.
type Redis struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	Database int    `yaml:"database"`
	Prefix   string `yaml:"prefix"`
}

// Relay holds the optional analytics-mirror settings. It is only consulted
// when Enabled is true.
type Relay struct {
	Enabled     bool     `yaml:"enabled"`
	NatsAddress string   `yaml:"nats_address"`
	NatsChannel string   `yaml:"nats_channel"`
	ClusterID   string   `yaml:"nats_cluster"`
	ClientID    string   `yaml:"nats_client"`
	Blacklist   []string `yaml:"blacklist"`
}

// Downstream holds the client-facing listener settings.
type Downstream struct {
	ListenAddress string `yaml:"listen_address"`
}

// Metrics holds the Prometheus listener settings.
type Metrics struct {
	ListenAddress string `yaml:"listen_address"`
}

// Logging controls the zerolog console/file setup.
type Logging struct {
	Level    string `yaml:"level"`
	FilePath string `yaml:"file_path"` // empty disables file logging
}

// Config is the full proxy configuration.
type Config struct {
	Token string `yaml:"token"`

	// Autoshard fetches the recommended shard count from Discord's
	// /gateway/bot endpoint; otherwise ShardCount is used as given.
	Autoshard  bool `yaml:"autoshard"`
	ShardCount int  `yaml:"shard_count"`

	IdentifyConcurrency int `yaml:"identify_concurrency"`

	Redis      Redis      `yaml:"redis"`
	Downstream Downstream `yaml:"downstream"`
	Metrics    Metrics    `yaml:"metrics"`
	Relay      Relay      `yaml:"relay"`
	Logging    Logging    `yaml:"logging"`
}

// Load reads and parses the YAML configuration at path, filling in
// defaults for anything the file leaves unset.
func Load(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		ShardCount:          1,
		IdentifyConcurrency: 1,
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, err
	}

	if cfg.Redis.Prefix == "" {
		cfg.Redis.Prefix = "gateway-proxy"
	}
	if cfg.Downstream.ListenAddress == "" {
		cfg.Downstream.ListenAddress = ":8080"
	}
	if cfg.Metrics.ListenAddress == "" {
		cfg.Metrics.ListenAddress = ":9090"
	}

	return cfg, nil
}
