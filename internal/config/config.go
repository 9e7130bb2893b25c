package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	envPrefix     = "UNITYBRIDGE"
	envConfigFile = "UNITYBRIDGE_CONFIG"
)

// defaults maps every configuration key to its default value. Only keys
// listed here are read from the environment and from flags.
var defaults = map[string]any{
	"listen_addr":          ":8080",
	"db_path":              "unitybridge.db",
	"log_level":            "info",
	"unity_addr":           "127.0.0.1:7777",
	"dial_timeout":         2 * time.Second,
	"call_ceiling":         5 * time.Minute,
	"max_in_flight":        4,
	"default_deadline":     1000 * time.Millisecond,
	"dispatch_grace":       25 * time.Millisecond,
	"retry_max_retries":    3,
	"retry_base_delay":     500 * time.Millisecond,
	"retry_exponential":    true,
	"mcp_calls_per_minute": 120,
}

// Config holds application configuration.
type Config struct {
	ListenAddr   string     `mapstructure:"listen_addr"`
	DBPath       string     `mapstructure:"db_path"`
	LogLevelName string     `mapstructure:"log_level"`
	LogLevel     slog.Level `mapstructure:"-"`
	UnityAddr    string     `mapstructure:"unity_addr"`

	DialTimeout     time.Duration `mapstructure:"dial_timeout"`
	CallCeiling     time.Duration `mapstructure:"call_ceiling"`
	MaxInFlight     int64         `mapstructure:"max_in_flight"`
	DefaultDeadline time.Duration `mapstructure:"default_deadline"`
	DispatchGrace   time.Duration `mapstructure:"dispatch_grace"`

	RetryMaxRetries  int           `mapstructure:"retry_max_retries"`
	RetryBaseDelay   time.Duration `mapstructure:"retry_base_delay"`
	RetryExponential bool          `mapstructure:"retry_exponential"`

	MCPCallsPerMinute int `mapstructure:"mcp_calls_per_minute"`
}

// Load reads configuration from defaults, then the config file, then
// UNITYBRIDGE_* environment variables, then flags that were set explicitly.
// path may be empty, in which case UNITYBRIDGE_CONFIG names the file; a
// missing file is not an error. Flag names match keys with dashes in place
// of underscores. flags may be nil.
func Load(path string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	for key, val := range defaults {
		v.SetDefault(key, val)
	}

	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()

	if path == "" {
		path = os.Getenv(envConfigFile)
	}
	if path != "" {
		v.SetConfigFile(path)
		if _, err := os.Stat(path); !errors.Is(err, fs.ErrNotExist) {
			if err := v.ReadInConfig(); err != nil {
				return Config{}, fmt.Errorf("read config %s: %w", path, err)
			}
		}
	}

	if flags != nil {
		var bindErr error
		flags.VisitAll(func(f *pflag.Flag) {
			key := strings.ReplaceAll(f.Name, "-", "_")
			if _, ok := defaults[key]; !ok || bindErr != nil {
				return
			}
			bindErr = v.BindPFlag(key, f)
		})
		if bindErr != nil {
			return Config{}, fmt.Errorf("bind flags: %w", bindErr)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.LogLevel = parseLogLevel(cfg.LogLevelName)

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch {
	case c.UnityAddr == "":
		return errors.New("unity_addr must not be empty")
	case c.RetryMaxRetries < 0:
		return fmt.Errorf("retry_max_retries must not be negative, got %d", c.RetryMaxRetries)
	case c.DefaultDeadline <= 0:
		return fmt.Errorf("default_deadline must be positive, got %s", c.DefaultDeadline)
	case c.MaxInFlight <= 0:
		return fmt.Errorf("max_in_flight must be positive, got %d", c.MaxInFlight)
	}
	return nil
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger creates a structured JSON logger writing to w at the configured level.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
}
