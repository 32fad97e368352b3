// Package config provides configuration for the gamestore service.
// Settings load from a YAML file, then environment variables override
// individual values.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// ConfigFileName is the default config file name.
const ConfigFileName = "gamestore.yaml"

// Config is the full service configuration.
type Config struct {
	// Server configuration
	Server ServerConfig `yaml:"server"`

	// EventLog configuration
	EventLog EventLogConfig `yaml:"event_log"`

	// DocStore configuration
	DocStore DocStoreConfig `yaml:"doc_store"`

	// Relay configuration
	Relay RelayConfig `yaml:"relay"`

	// Observability configuration
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	// Addr is the listen address.
	Addr string `yaml:"addr" env:"GAMESTORE_SERVER_ADDR"`

	// ReadTimeout bounds request reads.
	ReadTimeout time.Duration `yaml:"read_timeout" env:"GAMESTORE_SERVER_READ_TIMEOUT"`

	// WriteTimeout bounds response writes.
	WriteTimeout time.Duration `yaml:"write_timeout" env:"GAMESTORE_SERVER_WRITE_TIMEOUT"`

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"GAMESTORE_SERVER_SHUTDOWN_TIMEOUT"`
}

// EventLogConfig contains event log adapter settings.
type EventLogConfig struct {
	// Driver selects the adapter: postgres or memory.
	Driver string `yaml:"driver" env:"GAMESTORE_EVENTLOG_DRIVER"`

	// URL is the postgres connection string.
	URL string `yaml:"url,omitempty" env:"GAMESTORE_EVENTLOG_URL"`

	// Schema is the postgres schema holding the log tables.
	Schema string `yaml:"schema" env:"GAMESTORE_EVENTLOG_SCHEMA"`

	// Codec selects the event payload encoding: json or msgpack.
	Codec string `yaml:"codec" env:"GAMESTORE_EVENTLOG_CODEC"`
}

// DocStoreConfig contains document store settings.
type DocStoreConfig struct {
	// Driver selects the store: elastic or memory.
	Driver string `yaml:"driver" env:"GAMESTORE_DOCSTORE_DRIVER"`

	// Addresses are the Elasticsearch node URLs.
	Addresses []string `yaml:"addresses" env:"GAMESTORE_DOCSTORE_ADDRESSES" envSeparator:","`

	// Username and Password are optional basic-auth credentials.
	Username string `yaml:"username,omitempty" env:"GAMESTORE_DOCSTORE_USERNAME"`
	Password string `yaml:"password,omitempty" env:"GAMESTORE_DOCSTORE_PASSWORD"`
}

// RelayConfig contains event relay settings. The relay only runs when
// brokers are configured.
type RelayConfig struct {
	// Brokers are the Kafka broker addresses.
	Brokers []string `yaml:"brokers" env:"GAMESTORE_RELAY_BROKERS" envSeparator:","`

	// TopicPrefix prefixes derived topic names.
	TopicPrefix string `yaml:"topic_prefix" env:"GAMESTORE_RELAY_TOPIC_PREFIX"`

	// PollInterval is how often the relay polls the log.
	PollInterval time.Duration `yaml:"poll_interval" env:"GAMESTORE_RELAY_POLL_INTERVAL"`

	// BatchSize caps events per poll.
	BatchSize int `yaml:"batch_size" env:"GAMESTORE_RELAY_BATCH_SIZE"`
}

// ObservabilityConfig contains metrics and tracing settings.
type ObservabilityConfig struct {
	// ServiceName labels metrics and spans.
	ServiceName string `yaml:"service_name" env:"GAMESTORE_SERVICE_NAME"`

	// Tracing enables the stdout span exporter.
	Tracing bool `yaml:"tracing" env:"GAMESTORE_TRACING"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		EventLog: EventLogConfig{
			Driver: "postgres",
			Schema: "gamestore",
			Codec:  "json",
		},
		DocStore: DocStoreConfig{
			Driver:    "elastic",
			Addresses: []string{"http://localhost:9200"},
		},
		Relay: RelayConfig{
			TopicPrefix:  "gamestore",
			PollInterval: time.Second,
			BatchSize:    100,
		},
		Observability: ObservabilityConfig{
			ServiceName: "gamestore",
		},
	}
}

// Load builds the configuration: defaults, then the YAML file at path
// (skipped when path is empty or the file does not exist), then
// environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			// defaults + env only
		case err != nil:
			return nil, fmt.Errorf("config: failed to read %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("config: failed to parse %s: %w", path, err)
			}
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config: failed to apply environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks driver names and required settings.
func (c *Config) Validate() error {
	switch c.EventLog.Driver {
	case "postgres":
		if c.EventLog.URL == "" {
			return fmt.Errorf("config: event_log.url is required for the postgres driver")
		}
	case "memory":
	default:
		return fmt.Errorf("config: unknown event_log.driver %q", c.EventLog.Driver)
	}

	switch c.EventLog.Codec {
	case "json", "msgpack":
	default:
		return fmt.Errorf("config: unknown event_log.codec %q", c.EventLog.Codec)
	}

	switch c.DocStore.Driver {
	case "elastic":
		if len(c.DocStore.Addresses) == 0 {
			return fmt.Errorf("config: doc_store.addresses is required for the elastic driver")
		}
	case "memory":
	default:
		return fmt.Errorf("config: unknown doc_store.driver %q", c.DocStore.Driver)
	}
	return nil
}

// Save writes the configuration to a YAML file.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
