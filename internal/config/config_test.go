package config

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"
)

// cliWithPath returns a CLI struct pointing at the given config file.
func cliWithPath(path string) *CLI {
	return &CLI{Config: path}
}

// writeConfig writes data to name inside a fresh temp dir and returns the path.
func writeConfig(t *testing.T, name, data string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	path := writeConfig(t, "config.toml", `
[server]
host = "127.0.0.1"
port = 9000
body_max_bytes = 4096
cors_origins = ["null", "http://localhost:8080"]

[upstream]
timeout_seconds = 20
max_body_bytes = 2048
idle_connections = 4

[log]
level = "debug"
format = "json"
`)

	cfg, err := Load(cliWithPath(path))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("Server.Host = %q, want %q", cfg.Server.Host, "127.0.0.1")
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("Server.Port = %d, want %d", cfg.Server.Port, 9000)
	}
	if len(cfg.Server.CORSOrigins) != 2 || cfg.Server.CORSOrigins[0] != "null" {
		t.Errorf("Server.CORSOrigins = %v, want [null http://localhost:8080]", cfg.Server.CORSOrigins)
	}
	if cfg.Upstream.TimeoutSeconds != 20 {
		t.Errorf("Upstream.TimeoutSeconds = %d, want %d", cfg.Upstream.TimeoutSeconds, 20)
	}
	if cfg.Upstream.MaxBodyBytes != 2048 {
		t.Errorf("Upstream.MaxBodyBytes = %d, want %d", cfg.Upstream.MaxBodyBytes, 2048)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "debug")
	}
	if cfg.Log.Format != "json" {
		t.Errorf("Log.Format = %q, want %q", cfg.Log.Format, "json")
	}
	if cfg.FilePath() != path {
		t.Errorf("FilePath() = %q, want %q", cfg.FilePath(), path)
	}
}

func TestLoad_YAMLConfig(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
server:
  host: localhost
  port: 5050
upstream:
  timeout_seconds: 5
metrics:
  enabled: true
  path: /internal/metrics
`)

	cfg, err := Load(cliWithPath(path))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Host != "localhost" {
		t.Errorf("Server.Host = %q, want %q", cfg.Server.Host, "localhost")
	}
	if cfg.Server.Port != 5050 {
		t.Errorf("Server.Port = %d, want %d", cfg.Server.Port, 5050)
	}
	if got := cfg.Upstream.Timeout(); got != 5*time.Second {
		t.Errorf("Upstream.Timeout() = %v, want %v", got, 5*time.Second)
	}
	if !cfg.Metrics.Enabled || cfg.Metrics.Path != "/internal/metrics" {
		t.Errorf("Metrics = %+v, want enabled at /internal/metrics", cfg.Metrics)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "config.yml", "server: [unterminated")

	if _, err := Load(cliWithPath(path)); err == nil {
		t.Fatal("Load() expected parse error for malformed YAML, got nil")
	}
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, "config.toml", "# empty\n")

	cfg, err := Load(cliWithPath(path))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("default Server.Host = %q, want %q", cfg.Server.Host, "127.0.0.1")
	}
	if cfg.Server.Port != 5000 {
		t.Errorf("default Server.Port = %d, want %d", cfg.Server.Port, 5000)
	}
	if cfg.Upstream.TimeoutSeconds != 15 {
		t.Errorf("default Upstream.TimeoutSeconds = %d, want %d", cfg.Upstream.TimeoutSeconds, 15)
	}
	if cfg.Upstream.MaxBodyBytes != 10*1024*1024 {
		t.Errorf("default Upstream.MaxBodyBytes = %d, want %d", cfg.Upstream.MaxBodyBytes, 10*1024*1024)
	}
	if len(cfg.Server.CORSOrigins) != 1 || cfg.Server.CORSOrigins[0] != "*" {
		t.Errorf("default Server.CORSOrigins = %v, want [*]", cfg.Server.CORSOrigins)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("default Log.Level = %q, want %q", cfg.Log.Level, "info")
	}
	if cfg.Log.Format != "text" {
		t.Errorf("default Log.Format = %q, want %q", cfg.Log.Format, "text")
	}
	if cfg.Metrics.Path != "/metrics" {
		t.Errorf("default Metrics.Path = %q, want %q", cfg.Metrics.Path, "/metrics")
	}
}

func TestDefault_MatchesLoadWithoutFile(t *testing.T) {
	cfg := Default()
	if got := cfg.Server.Addr(); got != "127.0.0.1:5000" {
		t.Errorf("Default().Server.Addr() = %q, want %q", got, "127.0.0.1:5000")
	}
	if cfg.FilePath() != "" {
		t.Errorf("Default().FilePath() = %q, want empty", cfg.FilePath())
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(cliWithPath("/nonexistent/config.toml"))
	if err == nil {
		t.Fatal("Load() expected error for missing explicit file, got nil")
	}
}

func TestLoad_CLIOverrides(t *testing.T) {
	path := writeConfig(t, "config.toml", `
[server]
host = "127.0.0.1"
port = 5000

[upstream]
timeout_seconds = 15

[log]
level = "info"
`)

	cli := &CLI{
		Config:   path,
		Host:     "::1",
		Port:     7000,
		Timeout:  30,
		LogLevel: "warn",
	}

	cfg, err := Load(cli)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Host != "::1" {
		t.Errorf("Server.Host = %q, want %q (CLI override)", cfg.Server.Host, "::1")
	}
	if cfg.Server.Port != 7000 {
		t.Errorf("Server.Port = %d, want %d (CLI override)", cfg.Server.Port, 7000)
	}
	if cfg.Upstream.TimeoutSeconds != 30 {
		t.Errorf("Upstream.TimeoutSeconds = %d, want %d (CLI override)", cfg.Upstream.TimeoutSeconds, 30)
	}
	if cfg.Log.Level != "warn" {
		t.Errorf("Log.Level = %q, want %q (CLI override)", cfg.Log.Level, "warn")
	}
	if got := cfg.Server.Addr(); got != "[::1]:7000" {
		t.Errorf("Addr() = %q, want %q", got, "[::1]:7000")
	}
}

func TestLoad_NonLoopbackHostRejected(t *testing.T) {
	for _, host := range []string{"0.0.0.0", "192.168.1.10", "example.com", "::"} {
		t.Run(host, func(t *testing.T) {
			path := writeConfig(t, "config.toml", "[server]\nhost = \""+host+"\"\n")
			_, err := Load(cliWithPath(path))
			if err == nil {
				t.Fatalf("Load() expected error for host %q, got nil", host)
			}
			if !strings.Contains(err.Error(), "loopback") {
				t.Errorf("error = %q, want mention of loopback", err)
			}
		})
	}
}

func TestLoad_NonLoopbackCLIHostRejected(t *testing.T) {
	path := writeConfig(t, "config.toml", "# empty\n")
	_, err := Load(&CLI{Config: path, Host: "0.0.0.0"})
	if err == nil {
		t.Fatal("Load() expected error for --host 0.0.0.0, got nil")
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		name string
		data string
		want string
	}{
		{"negative port", "[server]\nport = -1\n", "server.port"},
		{"port too large", "[server]\nport = 70000\n", "server.port"},
		{"negative body max", "[server]\nbody_max_bytes = -1\n", "server.body_max_bytes"},
		{"negative timeout", "[upstream]\ntimeout_seconds = -5\n", "upstream.timeout_seconds"},
		{"timeout too large", "[upstream]\ntimeout_seconds = 600\n", "upstream.timeout_seconds"},
		{"negative max body", "[upstream]\nmax_body_bytes = -1\n", "upstream.max_body_bytes"},
		{"negative idle", "[upstream]\nidle_connections = -1\n", "upstream.idle_connections"},
		{"empty cors origin", "[server]\ncors_origins = [\"\"]\n", "cors_origins"},
		{"log level", "[log]\nlevel = \"verbose\"\n", "log.level"},
		{"log format", "[log]\nformat = \"xml\"\n", "log.format"},
		{"rate limit", "[server.rate_limit]\nenabled = true\nrequests_per_second = 0\n", "requests_per_second"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, "config.toml", tt.data)
			_, err := Load(cliWithPath(path))
			if err == nil {
				t.Fatal("Load() expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %q, want mention of %q", err, tt.want)
			}
		})
	}
}

func TestLoad_RateLimitConfig_Enabled(t *testing.T) {
	path := writeConfig(t, "config.toml", `
[server.rate_limit]
enabled = true
requests_per_second = 2.5
`)

	cfg, err := Load(cliWithPath(path))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !cfg.Server.RateLimit.Enabled {
		t.Error("RateLimit.Enabled = false, want true")
	}
	if cfg.Server.RateLimit.RequestsPerSecond != 2.5 {
		t.Errorf("RateLimit.RequestsPerSecond = %v, want 2.5", cfg.Server.RateLimit.RequestsPerSecond)
	}
}

func TestLoad_MetricsPathNoLeadingSlash(t *testing.T) {
	path := writeConfig(t, "config.toml", `
[metrics]
enabled = true
path = "metrics"
`)

	if _, err := Load(cliWithPath(path)); err == nil {
		t.Fatal("Load() expected error for metrics path without leading slash, got nil")
	}
}

func TestLoad_MetricsPathConflictsWithRelayRoute(t *testing.T) {
	for _, p := range []string{"/dnb", "/dnb/metrics", "/healthz", "/proxy/status"} {
		t.Run(p, func(t *testing.T) {
			path := writeConfig(t, "config.toml", "[metrics]\nenabled = true\npath = \""+p+"\"\n")
			_, err := Load(cliWithPath(path))
			if err == nil {
				t.Fatalf("Load() expected error for metrics path %q, got nil", p)
			}
			if !strings.Contains(err.Error(), "conflicts") {
				t.Errorf("error = %q, want mention of conflict", err)
			}
		})
	}
}

func TestLoad_MetricsDisabledSkipsPathValidation(t *testing.T) {
	path := writeConfig(t, "config.toml", `
[metrics]
enabled = false
path = "/dnb"
`)

	if _, err := Load(cliWithPath(path)); err != nil {
		t.Fatalf("Load() error = %v; disabled metrics should skip path validation", err)
	}
}

func TestIsLoopback(t *testing.T) {
	tests := []struct {
		host string
		want bool
	}{
		{"127.0.0.1", true},
		{"127.1.2.3", true},
		{"localhost", true},
		{"LOCALHOST", true},
		{"::1", true},
		{"[::1]", true},
		{"0.0.0.0", false},
		{"::", false},
		{"10.0.0.1", false},
		{"dnb.no", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.host, func(t *testing.T) {
			if got := IsLoopback(tt.host); got != tt.want {
				t.Errorf("IsLoopback(%q) = %v, want %v", tt.host, got, tt.want)
			}
		})
	}
}

func TestWarnPermissions_Loose(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("permission bits not meaningful on Windows")
	}
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("# test"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.Chmod(path, 0o666); err != nil {
		t.Fatal(err)
	}

	cfg := &Config{filePath: path}
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}))
	cfg.WarnPermissions(logger)

	if !strings.Contains(buf.String(), "writable by group/others") {
		t.Errorf("expected permission warning, got: %q", buf.String())
	}
}

func TestWarnPermissions_Strict(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("permission bits not meaningful on Windows")
	}
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("# test"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := &Config{filePath: path}
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}))
	cfg.WarnPermissions(logger)

	if buf.Len() != 0 {
		t.Errorf("expected no warning for 0644 file, got: %q", buf.String())
	}
}

func TestWarnPermissions_NoFile(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	Default().WarnPermissions(logger)

	if buf.Len() != 0 {
		t.Errorf("expected no output when running on defaults, got: %q", buf.String())
	}
}

func TestFindConfigInPaths_Found(t *testing.T) {
	path := writeConfig(t, "config.toml", "[server]\nport = 5001\n")

	if got := findConfigInPaths([]string{path}); got != path {
		t.Errorf("findConfigInPaths() = %q, want %q", got, path)
	}
}

func TestFindConfigInPaths_NotFound(t *testing.T) {
	got := findConfigInPaths([]string{"/nonexistent/a.toml", "/nonexistent/b.yaml"})
	if got != "" {
		t.Errorf("findConfigInPaths() = %q, want empty", got)
	}
}

func TestFindConfigInPaths_Priority(t *testing.T) {
	path1 := writeConfig(t, "config.toml", "[server]\nport = 5001\n")
	path2 := writeConfig(t, "config.yaml", "server:\n  port: 5002\n")

	if got := findConfigInPaths([]string{path1, path2}); got != path1 {
		t.Errorf("findConfigInPaths() = %q, want first match %q", got, path1)
	}
}
