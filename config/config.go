package config

import (
	"errors"
	"fmt"
	"github.com/redis/go-redis/v9"
	"github.com/ssau-fiit/cloudocs-sync/client"
	"gopkg.in/yaml.v3"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// ServerURL is the relay base URL used by the documents command and to
	// derive Endpoint when it is not set.
	ServerURL string `yaml:"server_url"`
	// Endpoint is the websocket URL of a document, for example
	// ws://localhost:8080/api/v1/documents/123456.
	Endpoint  string `yaml:"endpoint"`
	SessionID string `yaml:"session_id"`
	ClientID  string `yaml:"client_id"`

	ReconnectInterval    time.Duration `yaml:"reconnect_interval"`
	MaxReconnectAttempts int           `yaml:"max_reconnect_attempts"`
	ReconnectStrategy    string        `yaml:"reconnect_strategy"`
	DebounceInterval     time.Duration `yaml:"debounce_interval"`
	ConnectTimeout       time.Duration `yaml:"connect_timeout"`
	VerifyChecksum       bool          `yaml:"verify_checksum"`

	LogLevel string `yaml:"log_level"`

	Server ServerConfig `yaml:"server"`
}

type ServerConfig struct {
	Listen    string        `yaml:"listen"`
	Store     string        `yaml:"store"`
	Heartbeat time.Duration `yaml:"heartbeat"`
	Redis     RedisConfig   `yaml:"redis"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

func Default() *Config {
	return &Config{
		ServerURL:            "http://localhost:8080",
		ReconnectInterval:    client.DefaultReconnectInterval,
		MaxReconnectAttempts: client.DefaultMaxReconnectAttempts,
		ReconnectStrategy:    string(client.ReconnectFixed),
		DebounceInterval:     client.DefaultDebounceInterval,
		ConnectTimeout:       client.DefaultConnectTimeout,
		LogLevel:             "info",
		Server: ServerConfig{
			Listen:    "0.0.0.0:8080",
			Store:     "memory",
			Heartbeat: 30 * time.Second,
			Redis: RedisConfig{
				Addr: "localhost:6379",
			},
		},
	}
}

// Load reads the YAML file at path over the defaults and then applies
// CLOUDOCS_* environment variables. A missing file is not an error when path
// is empty.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	setString(&c.ServerURL, "CLOUDOCS_SERVER_URL")
	setString(&c.Endpoint, "CLOUDOCS_ENDPOINT")
	setString(&c.SessionID, "CLOUDOCS_SESSION_ID")
	setString(&c.ClientID, "CLOUDOCS_CLIENT_ID")
	setString(&c.LogLevel, "CLOUDOCS_LOG_LEVEL")
	setString(&c.Server.Listen, "CLOUDOCS_LISTEN")
	setString(&c.Server.Store, "CLOUDOCS_STORE")
	setString(&c.Server.Redis.Addr, "CLOUDOCS_REDIS_ADDR")
	setString(&c.Server.Redis.Password, "CLOUDOCS_REDIS_PASSWORD")

	if v := os.Getenv("CLOUDOCS_MAX_RECONNECT_ATTEMPTS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid CLOUDOCS_MAX_RECONNECT_ATTEMPTS %q: %w", v, err)
		}
		c.MaxReconnectAttempts = n
	}
	for env, dst := range map[string]*time.Duration{
		"CLOUDOCS_RECONNECT_INTERVAL": &c.ReconnectInterval,
		"CLOUDOCS_DEBOUNCE_INTERVAL":  &c.DebounceInterval,
		"CLOUDOCS_CONNECT_TIMEOUT":    &c.ConnectTimeout,
	} {
		v := os.Getenv(env)
		if v == "" {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", env, v, err)
		}
		*dst = d
	}
	return nil
}

func setString(dst *string, env string) {
	if v := os.Getenv(env); v != "" {
		*dst = v
	}
}

// DocumentEndpoint returns Endpoint, or the websocket URL of the session's
// document on ServerURL.
func (c *Config) DocumentEndpoint() (string, error) {
	if c.Endpoint != "" {
		return c.Endpoint, nil
	}
	if c.ServerURL == "" || c.SessionID == "" {
		return "", errors.New("endpoint is not configured")
	}

	u, err := url.Parse(c.ServerURL)
	if err != nil {
		return "", fmt.Errorf("invalid server url %q: %w", c.ServerURL, err)
	}
	switch u.Scheme {
	case "https", "wss":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/api/v1/documents/" + url.PathEscape(c.SessionID)
	return u.String(), nil
}

// Client builds the sync client configuration.
func (c *Config) Client() (client.Config, error) {
	if c.SessionID == "" {
		return client.Config{}, errors.New("session id is not configured")
	}
	endpoint, err := c.DocumentEndpoint()
	if err != nil {
		return client.Config{}, err
	}

	cc := client.DefaultConfig(endpoint, c.SessionID)
	cc.ClientID = c.ClientID
	cc.ReconnectInterval = c.ReconnectInterval
	cc.MaxReconnectAttempts = c.MaxReconnectAttempts
	cc.ReconnectStrategy = client.ReconnectStrategy(c.ReconnectStrategy)
	cc.DebounceInterval = c.DebounceInterval
	cc.ConnectTimeout = c.ConnectTimeout
	cc.VerifyChecksum = c.VerifyChecksum
	return cc, nil
}

func (c *Config) RedisOptions() *redis.Options {
	return &redis.Options{
		Addr:     c.Server.Redis.Addr,
		Password: c.Server.Redis.Password,
		DB:       c.Server.Redis.DB,
	}
}
