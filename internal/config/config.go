// Package config loads vox settings from ~/.config/vox/config.yaml with
// VOX_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/voxhq/vox/internal/daemon"
	"github.com/voxhq/vox/internal/token"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g. VOX_ENDPOINT or
// VOX_CONNECTION_MAX_BACKOFF.
const EnvPrefix = "VOX"

// ErrNoCredentials is returned when neither a token nor an API key is set.
var ErrNoCredentials = errors.New("no token or api_key configured")

type Config struct {
	// Endpoint is the notes service: a unix socket path or a ws(s)/http(s) URL.
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`
	// Token is a pre-issued bearer token. When empty, one is issued with APIKey.
	Token   string `mapstructure:"token" yaml:"token,omitempty"`
	APIKey  string `mapstructure:"api_key" yaml:"api_key,omitempty"`
	AuthURL string `mapstructure:"auth_url" yaml:"auth_url"`

	DBPath      string `mapstructure:"db_path" yaml:"db_path"`
	MetricsAddr string `mapstructure:"metrics_addr" yaml:"metrics_addr"`
	LogLevel    string `mapstructure:"log_level" yaml:"log_level"`
	LogFile     string `mapstructure:"log_file" yaml:"log_file"`

	Cache      CacheConfig      `mapstructure:"cache" yaml:"cache"`
	Connection ConnectionConfig `mapstructure:"connection" yaml:"connection"`
	UI         UIConfig         `mapstructure:"ui" yaml:"ui"`
}

type CacheConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	// RetentionDays bounds `vox notes prune` when no cutoff is given.
	RetentionDays int `mapstructure:"retention_days" yaml:"retention_days"`
}

type ConnectionConfig struct {
	MinBackoff  time.Duration `mapstructure:"min_backoff" yaml:"min_backoff"`
	MaxBackoff  time.Duration `mapstructure:"max_backoff" yaml:"max_backoff"`
	StopTimeout time.Duration `mapstructure:"stop_timeout" yaml:"stop_timeout"`
	LevelTTL    time.Duration `mapstructure:"level_ttl" yaml:"level_ttl"`
}

type UIConfig struct {
	// Labels overrides the status labels, keyed by status name.
	Labels map[string]string `mapstructure:"labels" yaml:"labels,omitempty"`
	Bars   int               `mapstructure:"bars" yaml:"bars"`
}

func configDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		home, _ := os.UserHomeDir()
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "vox")
}

// DefaultPath returns the default config file path.
func DefaultPath() string {
	return filepath.Join(configDir(), "config.yaml")
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Endpoint:    daemon.SocketPath(),
		AuthURL:     token.DefaultAuthURL,
		DBPath:      filepath.Join(configDir(), "notes.sqlite"),
		LogLevel:    "info",
		LogFile:     filepath.Join(configDir(), "vox.log"),
		Cache:       CacheConfig{Enabled: true, RetentionDays: 30},
		Connection: ConnectionConfig{
			MinBackoff:  time.Second,
			MaxBackoff:  30 * time.Second,
			StopTimeout: 5 * time.Second,
			LevelTTL:    500 * time.Millisecond,
		},
		UI: UIConfig{Bars: 5},
	}
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("endpoint", d.Endpoint)
	v.SetDefault("token", d.Token)
	v.SetDefault("api_key", d.APIKey)
	v.SetDefault("auth_url", d.AuthURL)
	v.SetDefault("db_path", d.DBPath)
	v.SetDefault("metrics_addr", d.MetricsAddr)
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("log_file", d.LogFile)
	v.SetDefault("cache.enabled", d.Cache.Enabled)
	v.SetDefault("cache.retention_days", d.Cache.RetentionDays)
	v.SetDefault("connection.min_backoff", d.Connection.MinBackoff)
	v.SetDefault("connection.max_backoff", d.Connection.MaxBackoff)
	v.SetDefault("connection.stop_timeout", d.Connection.StopTimeout)
	v.SetDefault("connection.level_ttl", d.Connection.LevelTTL)
	v.SetDefault("ui.bars", d.UI.Bars)
}

// Load reads path (DefaultPath when empty), writing the defaults there
// first if the file does not exist. Environment variables take precedence
// over the file.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath()
	}

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if err := WriteDefaults(path); err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, fmt.Errorf("stat config %s: %w", path, err)
	}

	v := viper.New()
	setDefaults(v, Default())
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file %s: %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return &cfg, nil
}

// Validate checks the fields that would otherwise fail deep inside a
// connection.
func (c *Config) Validate() error {
	if _, err := daemon.ParseEndpoint(c.Endpoint); err != nil {
		return fmt.Errorf("endpoint: %w", err)
	}
	if _, err := c.SlogLevel(); err != nil {
		return err
	}
	if c.UI.Bars < 1 {
		return fmt.Errorf("ui.bars must be at least 1, got %d", c.UI.Bars)
	}
	if c.Connection.MinBackoff <= 0 || c.Connection.MaxBackoff < c.Connection.MinBackoff {
		return fmt.Errorf("connection backoff %s..%s is not a valid range",
			c.Connection.MinBackoff, c.Connection.MaxBackoff)
	}
	return nil
}

// RequireCredentials reports ErrNoCredentials when the TUI or MCP server
// would have nothing to initialize the controller with.
func (c *Config) RequireCredentials() error {
	if c.Token == "" && c.APIKey == "" {
		return ErrNoCredentials
	}
	return nil
}

// SlogLevel parses LogLevel.
func (c *Config) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo, fmt.Errorf("log_level: %w", err)
	}
	return level, nil
}

// Redacted returns a copy safe to print.
func (c *Config) Redacted() *Config {
	out := *c
	if out.Token != "" {
		out.Token = "<redacted>"
	}
	if out.APIKey != "" {
		out.APIKey = "<redacted>"
	}
	return &out
}

// WriteDefaults writes the default configuration to path atomically.
func WriteDefaults(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := yaml.Marshal(Default())
	if err != nil {
		return fmt.Errorf("marshal default config: %w", err)
	}
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o600); err != nil {
		return fmt.Errorf("write default config: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename default config: %w", err)
	}
	return nil
}
