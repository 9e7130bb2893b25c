package config

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"
)

// clearEnv blanks every UNITYBRIDGE_* variable for the duration of the test.
// Empty values are treated as unset.
func clearEnv(t *testing.T) {
	t.Helper()
	t.Setenv(envConfigFile, "")
	for key := range defaults {
		t.Setenv(envPrefix+"_"+strings.ToUpper(key), "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load("", nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.ListenAddr != ":8080" {
		t.Errorf("ListenAddr = %q, want %q", cfg.ListenAddr, ":8080")
	}
	if cfg.DBPath != "unitybridge.db" {
		t.Errorf("DBPath = %q, want %q", cfg.DBPath, "unitybridge.db")
	}
	if cfg.LogLevel != slog.LevelInfo {
		t.Errorf("LogLevel = %v, want %v", cfg.LogLevel, slog.LevelInfo)
	}
	if cfg.UnityAddr != "127.0.0.1:7777" {
		t.Errorf("UnityAddr = %q, want %q", cfg.UnityAddr, "127.0.0.1:7777")
	}
	if cfg.DefaultDeadline != time.Second {
		t.Errorf("DefaultDeadline = %v, want 1s", cfg.DefaultDeadline)
	}
	if cfg.DispatchGrace != 25*time.Millisecond {
		t.Errorf("DispatchGrace = %v, want 25ms", cfg.DispatchGrace)
	}
	if cfg.RetryMaxRetries != 3 || cfg.RetryBaseDelay != 500*time.Millisecond || !cfg.RetryExponential {
		t.Errorf("retry = (%d, %v, %v), want (3, 500ms, true)",
			cfg.RetryMaxRetries, cfg.RetryBaseDelay, cfg.RetryExponential)
	}
	if cfg.MaxInFlight != 4 {
		t.Errorf("MaxInFlight = %d, want 4", cfg.MaxInFlight)
	}
	if cfg.MCPCallsPerMinute != 120 {
		t.Errorf("MCPCallsPerMinute = %d, want 120", cfg.MCPCallsPerMinute)
	}
}

func TestLoadFromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("UNITYBRIDGE_LISTEN_ADDR", ":9090")
	t.Setenv("UNITYBRIDGE_DB_PATH", "/tmp/test.db")
	t.Setenv("UNITYBRIDGE_LOG_LEVEL", "debug")
	t.Setenv("UNITYBRIDGE_DEFAULT_DEADLINE", "250ms")
	t.Setenv("UNITYBRIDGE_RETRY_EXPONENTIAL", "false")
	t.Setenv("UNITYBRIDGE_MAX_IN_FLIGHT", "8")

	cfg, err := Load("", nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.ListenAddr != ":9090" {
		t.Errorf("ListenAddr = %q, want %q", cfg.ListenAddr, ":9090")
	}
	if cfg.DBPath != "/tmp/test.db" {
		t.Errorf("DBPath = %q, want %q", cfg.DBPath, "/tmp/test.db")
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Errorf("LogLevel = %v, want %v", cfg.LogLevel, slog.LevelDebug)
	}
	if cfg.DefaultDeadline != 250*time.Millisecond {
		t.Errorf("DefaultDeadline = %v, want 250ms", cfg.DefaultDeadline)
	}
	if cfg.RetryExponential {
		t.Error("RetryExponential = true, want false")
	}
	if cfg.MaxInFlight != 8 {
		t.Errorf("MaxInFlight = %d, want 8", cfg.MaxInFlight)
	}
}

func TestLoadFromFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "unitybridge.yaml")
	content := "unity_addr: 10.0.0.5:7777\ndispatch_grace: 50ms\nlog_level: warn\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("UNITYBRIDGE_LOG_LEVEL", "error")

	cfg, err := Load(path, nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.UnityAddr != "10.0.0.5:7777" {
		t.Errorf("UnityAddr = %q, want %q", cfg.UnityAddr, "10.0.0.5:7777")
	}
	if cfg.DispatchGrace != 50*time.Millisecond {
		t.Errorf("DispatchGrace = %v, want 50ms", cfg.DispatchGrace)
	}
	// Environment overrides the file.
	if cfg.LogLevel != slog.LevelError {
		t.Errorf("LogLevel = %v, want %v", cfg.LogLevel, slog.LevelError)
	}
}

func TestLoadConfigFileFromEnv(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "bridge.yaml")
	if err := os.WriteFile(path, []byte("listen_addr: \":7070\"\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv(envConfigFile, path)

	cfg, err := Load("", nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ListenAddr != ":7070" {
		t.Errorf("ListenAddr = %q, want %q", cfg.ListenAddr, ":7070")
	}
}

func TestLoadMissingFileIgnored(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"), nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ListenAddr != ":8080" {
		t.Errorf("ListenAddr = %q, want default", cfg.ListenAddr)
	}
}

func TestLoadMalformedFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("listen_addr: [unclosed\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path, nil); err == nil {
		t.Fatal("expected error for malformed config file")
	}
}

func TestLoadFlagsOverrideEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("UNITYBRIDGE_UNITY_ADDR", "env-host:1")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("unity-addr", "", "")
	flags.String("listen-addr", ":8080", "")
	flags.String("unrelated", "", "")
	if err := flags.Parse([]string{"--unity-addr=flag-host:2"}); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load("", flags)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.UnityAddr != "flag-host:2" {
		t.Errorf("UnityAddr = %q, want %q", cfg.UnityAddr, "flag-host:2")
	}
	// Unset flags fall through to the default.
	if cfg.ListenAddr != ":8080" {
		t.Errorf("ListenAddr = %q, want %q", cfg.ListenAddr, ":8080")
	}
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"negative retries", "UNITYBRIDGE_RETRY_MAX_RETRIES", "-1"},
		{"zero deadline", "UNITYBRIDGE_DEFAULT_DEADLINE", "0s"},
		{"zero in flight", "UNITYBRIDGE_MAX_IN_FLIGHT", "0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(tt.key, tt.val)
			if _, err := Load("", nil); err == nil {
				t.Fatalf("expected validation error for %s=%s", tt.key, tt.val)
			}
		})
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"invalid", slog.LevelInfo},
		{"", slog.LevelInfo},
	}

	for _, tt := range tests {
		got := parseLogLevel(tt.input)
		if got != tt.want {
			t.Errorf("parseLogLevel(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestNewLoggerOutputsJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, slog.LevelInfo)
	if logger == nil {
		t.Fatal("NewLogger returned nil")
	}

	logger.Info("test message", "key", "value")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("logger output is not valid JSON: %v\noutput: %s", err, buf.String())
	}

	for _, key := range []string{"time", "level", "msg"} {
		if _, ok := entry[key]; !ok {
			t.Errorf("JSON output missing expected key %q", key)
		}
	}
	if entry["msg"] != "test message" {
		t.Errorf("msg = %v, want %q", entry["msg"], "test message")
	}
	if entry["key"] != "value" {
		t.Errorf("key = %v, want %q", entry["key"], "value")
	}
}
