package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ctt-hpc/ctt/pkg/topology"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes environment overrides, e.g. CTT_STORAGE_DRIVER
const EnvPrefix = "CTT"

// Config is the complete ctt configuration
type Config struct {
	PollInterval time.Duration       `mapstructure:"poll_interval"`
	Operator     string              `mapstructure:"operator"`
	Log          LogConfig           `mapstructure:"log"`
	Server       ServerConfig        `mapstructure:"server"`
	Storage      StorageConfig       `mapstructure:"storage"`
	Scheduler    SchedulerConfig     `mapstructure:"scheduler"`
	NodeTypes    []topology.NodeType `mapstructure:"node_types"`
	Notify       NotifyConfig        `mapstructure:"notify"`

	settings map[string]interface{}
}

type LogConfig struct {
	Level string `mapstructure:"level"`
	JSON  bool   `mapstructure:"json"`
}

type ServerConfig struct {
	Addr     string `mapstructure:"addr"`
	ReadOnly bool   `mapstructure:"read_only"`
}

type StorageConfig struct {
	Driver string `mapstructure:"driver"` // bolt or postgres
	Path   string `mapstructure:"path"`   // bolt data directory
	DSN    string `mapstructure:"dsn"`    // postgres connection string
}

type SchedulerConfig struct {
	Backend  string        `mapstructure:"backend"` // pbs or memory
	PBSNodes string        `mapstructure:"pbsnodes"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

type NotifyConfig struct {
	Slack SlackConfig `mapstructure:"slack"`
	NATS  NATSConfig  `mapstructure:"nats"`
}

type SlackConfig struct {
	WebhookURL string `mapstructure:"webhook_url"`
	Channel    string `mapstructure:"channel"`
}

type NATSConfig struct {
	URL     string `mapstructure:"url"`
	Subject string `mapstructure:"subject"`
}

const (
	DriverBolt     = "bolt"
	DriverPostgres = "postgres"
	BackendPBS     = "pbs"
	BackendMemory  = "memory"
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("poll_interval", "60s")
	v.SetDefault("operator", "ctt")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.json", false)
	v.SetDefault("server.addr", "127.0.0.1:8000")
	v.SetDefault("server.read_only", false)
	v.SetDefault("storage.driver", DriverBolt)
	v.SetDefault("storage.path", "./ctt-data")
	v.SetDefault("storage.dsn", "")
	v.SetDefault("scheduler.backend", BackendPBS)
	v.SetDefault("scheduler.pbsnodes", "pbsnodes")
	v.SetDefault("scheduler.timeout", "30s")
	v.SetDefault("node_types", []interface{}{})
	v.SetDefault("notify.slack.webhook_url", "")
	v.SetDefault("notify.slack.channel", "")
	v.SetDefault("notify.nats.url", "")
	v.SetDefault("notify.nats.subject", "ctt.changelog")
}

// Load reads configuration from path (skipped when empty), then applies
// CTT_ environment overrides on top of defaults
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.settings = v.AllSettings()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the configuration for values ctt cannot run with
func (c *Config) Validate() error {
	var errs []error
	if c.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("poll_interval must be positive, got %s", c.PollInterval))
	}
	if c.Scheduler.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("scheduler.timeout must be positive, got %s", c.Scheduler.Timeout))
	}
	switch c.Storage.Driver {
	case DriverBolt:
		if c.Storage.Path == "" {
			errs = append(errs, errors.New("storage.path is required for bolt"))
		}
	case DriverPostgres:
		if c.Storage.DSN == "" {
			errs = append(errs, errors.New("storage.dsn is required for postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage.driver %q", c.Storage.Driver))
	}
	switch c.Scheduler.Backend {
	case BackendPBS, BackendMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown scheduler.backend %q", c.Scheduler.Backend))
	}
	if c.Operator == "" {
		errs = append(errs, errors.New("operator must not be empty"))
	}
	for i, nt := range c.NodeTypes {
		if err := nt.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("node_types[%d]: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

// YAML renders the effective settings with secrets masked
func (c *Config) YAML() ([]byte, error) {
	settings := c.settings
	if settings == nil {
		settings = map[string]interface{}{}
	}
	masked := mask(settings, map[string]bool{
		"storage.dsn":              true,
		"notify.slack.webhook_url": true,
	}, "")
	return yaml.Marshal(masked)
}

func mask(m map[string]interface{}, secret map[string]bool, prefix string) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		key := prefix + k
		switch val := v.(type) {
		case map[string]interface{}:
			out[k] = mask(val, secret, key+".")
		default:
			if secret[key] && val != "" {
				out[k] = "********"
			} else {
				out[k] = val
			}
		}
	}
	return out
}
