// Package config loads server configuration from a YAML file with
// environment variable overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/xhit/go-str2duration/v2"
	"gopkg.in/yaml.v3"
)

var ErrConfigNotFound = errors.New("config file not found")

// Duration is a time.Duration that decodes from human friendly strings
// such as "30s", "5m" or "1h30m".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	dur, err := str2duration.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("error validating duration value '%s'. %w", s, err)
	}
	*d = Duration(dur)
	return nil
}

func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

type Server struct {
	Addr              string   `yaml:"addr" json:"addr"`
	ReadHeaderTimeout Duration `yaml:"read_header_timeout,omitempty" json:"read_header_timeout,omitempty"`
	ShutdownTimeout   Duration `yaml:"shutdown_timeout,omitempty" json:"shutdown_timeout,omitempty"`
}

type Channels struct {
	TransportLimit    int      `yaml:"transport_limit,omitempty" json:"transport_limit,omitempty"`
	IdleTimeout       Duration `yaml:"idle_timeout,omitempty" json:"idle_timeout,omitempty"`
	DisconnectTimeout Duration `yaml:"disconnect_timeout,omitempty" json:"disconnect_timeout,omitempty"`
	ContentType       string   `yaml:"content_type,omitempty" json:"content_type,omitempty"`
}

type Eventing struct {
	RedisURL string `yaml:"redis_url,omitempty" json:"redis_url,omitempty"`
}

type Config struct {
	LogFormat string   `yaml:"log_format,omitempty" json:"log_format,omitempty"`
	Server    Server   `yaml:"server" json:"server"`
	Channels  Channels `yaml:"channels" json:"channels"`
	Eventing  Eventing `yaml:"eventing,omitempty" json:"eventing,omitempty"`
}

// Default returns the configuration used when no file or overrides are given.
func Default() Config {
	return Config{
		LogFormat: "console",
		Server: Server{
			Addr:              ":8081",
			ReadHeaderTimeout: Duration(10 * time.Second),
			ShutdownTimeout:   Duration(15 * time.Second),
		},
	}
}

// Load reads the YAML configuration at filename, applies environment
// overrides and validates the result. A missing file returns
// ErrConfigNotFound; an empty filename skips the file entirely and uses
// defaults plus the environment.
func Load(filename string) (Config, error) {
	cfg := Default()
	if filename != "" {
		of, err := os.Open(filename)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, ErrConfigNotFound
			}
			return cfg, fmt.Errorf("failed to open config file: %s. %w", filename, err)
		}
		defer of.Close()
		if err := yaml.NewDecoder(of).Decode(&cfg); err != nil {
			return cfg, fmt.Errorf("failed to decode YAML config file: %s. %w", filename, err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return cfg, err
	}
	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("COMET_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("COMET_LOG_FORMAT"); v != "" {
		c.LogFormat = v
	}
	if v := os.Getenv("COMET_REDIS_URL"); v != "" {
		c.Eventing.RedisURL = v
	}
	if v := os.Getenv("COMET_TRANSPORT_LIMIT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("error validating COMET_TRANSPORT_LIMIT value '%s'. %w", v, err)
		}
		c.Channels.TransportLimit = n
	}
	if err := envDuration("COMET_IDLE_TIMEOUT", &c.Channels.IdleTimeout); err != nil {
		return err
	}
	if err := envDuration("COMET_DISCONNECT_TIMEOUT", &c.Channels.DisconnectTimeout); err != nil {
		return err
	}
	return nil
}

func envDuration(key string, dst *Duration) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	dur, err := str2duration.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("error validating %s value '%s'. %w", key, v, err)
	}
	*dst = Duration(dur)
	return nil
}

func (c *Config) validate() error {
	switch c.LogFormat {
	case "", "console", "json":
	default:
		return fmt.Errorf("invalid log_format value: %s. only console and json are supported", c.LogFormat)
	}
	if c.Server.Addr == "" {
		return errors.New("missing server.addr value")
	}
	switch c.Channels.ContentType {
	case "", "text/json", "application/msgpack":
	default:
		return fmt.Errorf("invalid channels.content_type value: %s. only text/json and application/msgpack are supported", c.Channels.ContentType)
	}
	if c.Channels.TransportLimit < 0 {
		return fmt.Errorf("channels.transport_limit must be >= 0, got %d", c.Channels.TransportLimit)
	}
	if c.Channels.IdleTimeout < 0 || c.Channels.DisconnectTimeout < 0 {
		return errors.New("channel timeouts must be >= 0")
	}
	return nil
}
