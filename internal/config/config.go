// ABOUTME: Configuration loading and parsing for zgate
// ABOUTME: YAML or TOML files with ${VAR} expansion, duration parsing, defaults and ZGATE_* overrides

package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/2389/zgate/internal/store"
)

// MinJWTSecretLength mirrors the token signer's minimum secret size.
const MinJWTSecretLength = 32

// Config represents the complete zgate configuration
type Config struct {
	Server   ServerConfig   `yaml:"server" toml:"server"`
	Auth     AuthConfig     `yaml:"auth" toml:"auth"`
	Database DatabaseConfig `yaml:"database" toml:"database"`
	Gateway  GatewayConfig  `yaml:"gateway" toml:"gateway"`
	Logging  LoggingConfig  `yaml:"logging" toml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics" toml:"metrics"`
}

// ServerConfig holds the bind address
type ServerConfig struct {
	Host string `yaml:"host" toml:"host"`
	Port int    `yaml:"port" toml:"port"`
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	// RequireAuth turns off the token handshake when false; connections
	// are admitted as guests.
	RequireAuth bool   `yaml:"require_auth" toml:"require_auth"`
	JWTSecret   string `yaml:"jwt_secret" toml:"jwt_secret"`
	// AllowedOrigins are prefixes matched against the Origin header. Empty
	// means loopback origins only.
	AllowedOrigins []string `yaml:"allowed_origins" toml:"allowed_origins"`
	CacheSize      int      `yaml:"cache_size" toml:"cache_size"`
	// Apps maps application names to non-default identity table layouts.
	Apps map[string]store.AppSchema `yaml:"apps" toml:"apps"`

	TokenTTL time.Duration `yaml:"-" toml:"-"`
	CacheTTL time.Duration `yaml:"-" toml:"-"`

	// Raw string values for unmarshaling
	TokenTTLRaw string `yaml:"token_ttl" toml:"token_ttl"`
	CacheTTLRaw string `yaml:"cache_ttl" toml:"cache_ttl"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path" toml:"path"`
}

// GatewayConfig holds realtime connection tuning
type GatewayConfig struct {
	MaxMessageSize      int64 `yaml:"max_message_size" toml:"max_message_size"`
	MaxInflightCommands int64 `yaml:"max_inflight_commands" toml:"max_inflight_commands"`
	// SendQueueSize is how many outbound frames may wait for a slow peer
	// before the gateway drops the connection.
	SendQueueSize int `yaml:"send_queue_size" toml:"send_queue_size"`

	WriteTimeout   time.Duration `yaml:"-" toml:"-"`
	PingInterval   time.Duration `yaml:"-" toml:"-"`
	CommandTimeout time.Duration `yaml:"-" toml:"-"`

	WriteTimeoutRaw   string `yaml:"write_timeout" toml:"write_timeout"`
	PingIntervalRaw   string `yaml:"ping_interval" toml:"ping_interval"`
	CommandTimeoutRaw string `yaml:"command_timeout" toml:"command_timeout"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"`
	Path    string `yaml:"path" toml:"path"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Server: ServerConfig{Host: "127.0.0.1", Port: 8080},
		Auth: AuthConfig{
			RequireAuth: true,
			CacheSize:   1024,
			TokenTTL:    24 * time.Hour,
			CacheTTL:    time.Minute,
		},
		Database: DatabaseConfig{Path: defaultDatabasePath()},
		Gateway: GatewayConfig{
			MaxMessageSize:      64 * 1024,
			MaxInflightCommands: 16,
			SendQueueSize:       256,
			WriteTimeout:        10 * time.Second,
			PingInterval:        30 * time.Second,
			CommandTimeout:      30 * time.Second,
		},
		Logging: LoggingConfig{Level: "info", Format: "text"},
		Metrics: MetricsConfig{Enabled: true, Path: "/metrics"},
	}
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are decoded as TOML, everything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded, then
// ZGATE_* overrides are applied. An empty path loads defaults plus overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}

		expanded := expandEnvVars(string(data))

		if strings.EqualFold(filepath.Ext(path), ".toml") {
			if _, err := toml.Decode(expanded, cfg); err != nil {
				return nil, fmt.Errorf("parsing config file: %w", err)
			}
		} else if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := parseDurations(cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, fmt.Errorf("applying environment overrides: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// DefaultPath returns the config file to use: $ZGATE_CONFIG, then
// $XDG_CONFIG_HOME/zgate/gateway.yaml, then ~/.config/zgate/gateway.yaml.
func DefaultPath() string {
	if p := os.Getenv("ZGATE_CONFIG"); p != "" {
		return p
	}
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "zgate", "gateway.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "gateway.yaml"
	}
	return filepath.Join(home, ".config", "zgate", "gateway.yaml")
}

func defaultDatabasePath() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "zgate", "gateway.db")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "gateway.db"
	}
	return filepath.Join(home, ".local", "share", "zgate", "gateway.db")
}

// Addr returns host:port for the listener.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Server.Host, strconv.Itoa(c.Server.Port))
}

// AppSchema returns the identity table layout for appName, or nil for the
// built-in app_users table.
func (c *Config) AppSchema(appName string) *store.AppSchema {
	s, ok := c.Auth.Apps[appName]
	if !ok {
		return nil
	}
	return &s
}

var envVarRe = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarRe.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envVarRe.FindStringSubmatch(match)[1])
	})
}

// applyEnvOverrides applies ZGATE_* variables on top of the file values.
func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("ZGATE_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("ZGATE_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("ZGATE_PORT %q: %w", v, err)
		}
		cfg.Server.Port = port
	}
	if v := os.Getenv("ZGATE_REQUIRE_AUTH"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("ZGATE_REQUIRE_AUTH %q: %w", v, err)
		}
		cfg.Auth.RequireAuth = b
	}
	if v, ok := os.LookupEnv("ZGATE_ALLOWED_ORIGINS"); ok {
		cfg.Auth.AllowedOrigins = splitList(v)
	}
	if v := os.Getenv("ZGATE_JWT_SECRET"); v != "" {
		cfg.Auth.JWTSecret = v
	}
	if v := os.Getenv("ZGATE_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("ZGATE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}

	if c.Auth.RequireAuth {
		if len(c.Auth.JWTSecret) < MinJWTSecretLength {
			return fmt.Errorf("auth.jwt_secret must be at least %d bytes when auth.require_auth is true", MinJWTSecretLength)
		}
		if c.Database.Path == "" {
			return fmt.Errorf("database.path is required when auth.require_auth is true")
		}
	}

	for name, schema := range c.Auth.Apps {
		if err := schema.Validate(); err != nil {
			return fmt.Errorf("auth.apps.%s: %w", name, err)
		}
	}

	if c.Gateway.MaxMessageSize <= 0 {
		return fmt.Errorf("gateway.max_message_size must be positive")
	}
	if c.Gateway.MaxInflightCommands <= 0 {
		return fmt.Errorf("gateway.max_inflight_commands must be positive")
	}
	if c.Gateway.SendQueueSize <= 0 {
		return fmt.Errorf("gateway.send_queue_size must be positive")
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug, info, warn, error")
	}
	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json")
	}

	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("metrics.path must start with /")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"auth.token_ttl", cfg.Auth.TokenTTLRaw, &cfg.Auth.TokenTTL},
		{"auth.cache_ttl", cfg.Auth.CacheTTLRaw, &cfg.Auth.CacheTTL},
		{"gateway.write_timeout", cfg.Gateway.WriteTimeoutRaw, &cfg.Gateway.WriteTimeout},
		{"gateway.ping_interval", cfg.Gateway.PingIntervalRaw, &cfg.Gateway.PingInterval},
		{"gateway.command_timeout", cfg.Gateway.CommandTimeoutRaw, &cfg.Gateway.CommandTimeout},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %q", f.name, f.raw)
		}
		*f.dst = d
	}

	return nil
}
