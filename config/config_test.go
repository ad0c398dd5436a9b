package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"
)

const minimalYAML = `
probe:
  base_url: https://tracker.example.com
`

func TestParse_MinimalConfig(t *testing.T) {
	cfg, err := Parse([]byte(minimalYAML))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	// check defaults applied
	if cfg.Port != 8080 {
		t.Errorf("Port = %d, want 8080", cfg.Port)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want info", cfg.LogLevel)
	}
	if cfg.Store.Type != StoreMemory {
		t.Errorf("Store.Type = %q, want memory", cfg.Store.Type)
	}

	p := cfg.Polling
	if p.InitialInterval.Duration() != 5*time.Second {
		t.Errorf("InitialInterval = %v, want 5s", p.InitialInterval.Duration())
	}
	if p.MaxInterval.Duration() != 5*time.Minute {
		t.Errorf("MaxInterval = %v, want 5m", p.MaxInterval.Duration())
	}
	if p.MaxLifetime.Duration() != 24*time.Hour {
		t.Errorf("MaxLifetime = %v, want 24h", p.MaxLifetime.Duration())
	}
	if p.BackoffThreshold == nil || *p.BackoffThreshold != 10 {
		t.Errorf("BackoffThreshold = %v, want 10", p.BackoffThreshold)
	}
	if p.SuccessGrowthFactor != 1.5 || p.FailureGrowthFactor != 2.0 {
		t.Errorf("growth factors = %g/%g, want 1.5/2", p.SuccessGrowthFactor, p.FailureGrowthFactor)
	}
	if p.MaxConcurrency != 10 {
		t.Errorf("MaxConcurrency = %d, want 10", p.MaxConcurrency)
	}
	if p.CompletedLimit != 1000 {
		t.Errorf("CompletedLimit = %d, want 1000", p.CompletedLimit)
	}
}

func TestParse_FullConfig(t *testing.T) {
	yml := `
port: 9090
log_level: debug

probe:
  base_url: https://tracker.example.com
  timeout: 5s
  rate_limit: 2.5
  headers:
    Authorization: Bearer token123
    ngrok-skip-browser-warning: "true"
  extractor: json:data.opened

polling:
  initial_interval: 2s
  max_interval: 10m
  max_lifetime: 48h
  backoff_threshold: 0
  success_growth_factor: 1.25
  failure_growth_factor: 3
  max_concurrency: 4
  completed_limit: 200
  reregister_completed: true

store:
  type: redis
  redis:
    addr: localhost:6379
    db: 2
    key: mail:sessions

notify:
  nats:
    url: nats://localhost:4222
    subject: mail.opened
`
	cfg, err := Parse([]byte(yml))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if cfg.Port != 9090 || cfg.LogLevel != "debug" {
		t.Errorf("Port/LogLevel = %d/%q", cfg.Port, cfg.LogLevel)
	}
	if cfg.Probe.Timeout.Duration() != 5*time.Second {
		t.Errorf("Probe.Timeout = %v, want 5s", cfg.Probe.Timeout.Duration())
	}
	if cfg.Probe.RateLimit != 2.5 {
		t.Errorf("Probe.RateLimit = %g, want 2.5", cfg.Probe.RateLimit)
	}
	if cfg.Probe.Headers["Authorization"] != "Bearer token123" {
		t.Errorf("Authorization header = %q", cfg.Probe.Headers["Authorization"])
	}
	if cfg.Probe.Extractor.Type != "json" || cfg.Probe.Extractor.Path != "data.opened" {
		t.Errorf("Extractor = %+v", cfg.Probe.Extractor)
	}

	p := cfg.Polling
	if *p.BackoffThreshold != 0 {
		t.Errorf("BackoffThreshold = %d, want explicit 0 kept", *p.BackoffThreshold)
	}
	if p.SuccessGrowthFactor != 1.25 || p.FailureGrowthFactor != 3 {
		t.Errorf("growth factors = %g/%g", p.SuccessGrowthFactor, p.FailureGrowthFactor)
	}
	if p.MaxConcurrency != 4 || p.CompletedLimit != 200 || !p.ReregisterCompleted {
		t.Errorf("Polling = %+v", p)
	}

	if cfg.Store.Type != StoreRedis || cfg.Store.Redis.Addr != "localhost:6379" || cfg.Store.Redis.DB != 2 {
		t.Errorf("Store = %+v", cfg.Store)
	}
	if cfg.Notify.NATS.Subject != "mail.opened" {
		t.Errorf("NATS.Subject = %q", cfg.Notify.NATS.Subject)
	}
}

func TestParse_ExtractorShorthand(t *testing.T) {
	tests := []struct {
		name     string
		value    string
		wantType string
		wantPath string
		wantErr  bool
	}{
		{name: "default", value: "default", wantType: "default"},
		{name: "json path", value: "json:data.opened", wantType: "json", wantPath: "data.opened"},
		{name: "nested json path", value: "json:events.0.opened", wantType: "json", wantPath: "events.0.opened"},
		{name: "json without path", value: "'json:'", wantErr: true},
		{name: "unknown type", value: "regex:open", wantErr: true},
		{name: "unknown shorthand", value: "magic", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			yml := minimalYAML + "  extractor: " + tt.value + "\n"
			cfg, err := Parse([]byte(yml))
			if tt.wantErr {
				if err == nil {
					t.Fatal("Parse() expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("Parse() error = %v", err)
			}
			if cfg.Probe.Extractor.Type != tt.wantType {
				t.Errorf("Type = %q, want %q", cfg.Probe.Extractor.Type, tt.wantType)
			}
			if cfg.Probe.Extractor.Path != tt.wantPath {
				t.Errorf("Path = %q, want %q", cfg.Probe.Extractor.Path, tt.wantPath)
			}
		})
	}
}

func TestParse_ExtractorStructured(t *testing.T) {
	yml := `
probe:
  base_url: https://tracker.example.com
  extractor:
    type: json
    path: data.read
    timestamp_path: data.readAt
`
	cfg, err := Parse([]byte(yml))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	ext := cfg.Probe.Extractor
	if ext.Type != "json" || ext.Path != "data.read" || ext.TimestampPath != "data.readAt" {
		t.Errorf("Extractor = %+v", ext)
	}
}

func TestParse_EnvVarSubstitution(t *testing.T) {
	t.Setenv("TEST_TRACKER_HOST", "tracker.internal")
	t.Setenv("TEST_TRACKER_TOKEN", "secret")

	yml := `
probe:
  base_url: https://${TEST_TRACKER_HOST}
  headers:
    Authorization: Bearer ${TEST_TRACKER_TOKEN}
store:
  type: file
  path: ${TEST_STATE_DIR:-/tmp}/sessions.json
`
	cfg, err := Parse([]byte(yml))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if cfg.Probe.BaseURL != "https://tracker.internal" {
		t.Errorf("BaseURL = %q", cfg.Probe.BaseURL)
	}
	if cfg.Probe.Headers["Authorization"] != "Bearer secret" {
		t.Errorf("Authorization = %q", cfg.Probe.Headers["Authorization"])
	}
	if cfg.Store.Path != "/tmp/sessions.json" {
		t.Errorf("Store.Path = %q, want default expansion", cfg.Store.Path)
	}
}

func TestParse_EnvVarMissing(t *testing.T) {
	yml := `
probe:
  base_url: https://${TRACKPOLL_TEST_UNSET_HOST}
`
	_, err := Parse([]byte(yml))
	if err == nil {
		t.Fatal("Parse() expected error for missing env var")
	}
	if !strings.Contains(err.Error(), "TRACKPOLL_TEST_UNSET_HOST") {
		t.Errorf("error = %v, want it to name the variable", err)
	}
}

func TestParse_EnvOverrides(t *testing.T) {
	t.Setenv("TRACKPOLL_PORT", "7070")
	t.Setenv("TRACKPOLL_LOG_LEVEL", "warn")
	t.Setenv("TRACKPOLL_PROBE_URL", "https://override.example.com")
	t.Setenv("TRACKPOLL_INITIAL_INTERVAL", "3s")
	t.Setenv("TRACKPOLL_MAX_CONCURRENCY", "2")
	t.Setenv("TRACKPOLL_STORE_TYPE", "redis")
	t.Setenv("TRACKPOLL_REDIS_ADDR", "redis:6379")
	t.Setenv("TRACKPOLL_NATS_URL", "nats://nats:4222")

	yml := `
port: 9090
probe:
  base_url: https://tracker.example.com
polling:
  initial_interval: 10s
`
	cfg, err := Parse([]byte(yml))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if cfg.Port != 7070 {
		t.Errorf("Port = %d, want env override 7070", cfg.Port)
	}
	if cfg.LogLevel != "warn" {
		t.Errorf("LogLevel = %q, want warn", cfg.LogLevel)
	}
	if cfg.Probe.BaseURL != "https://override.example.com" {
		t.Errorf("BaseURL = %q", cfg.Probe.BaseURL)
	}
	if cfg.Polling.InitialInterval.Duration() != 3*time.Second {
		t.Errorf("InitialInterval = %v, want 3s", cfg.Polling.InitialInterval.Duration())
	}
	if cfg.Polling.MaxConcurrency != 2 {
		t.Errorf("MaxConcurrency = %d, want 2", cfg.Polling.MaxConcurrency)
	}
	if cfg.Store.Type != StoreRedis || cfg.Store.Redis.Addr != "redis:6379" {
		t.Errorf("Store = %+v", cfg.Store)
	}
	if cfg.Notify.NATS.URL != "nats://nats:4222" {
		t.Errorf("NATS.URL = %q", cfg.Notify.NATS.URL)
	}
}

func TestParse_EnvOverrideInvalid(t *testing.T) {
	t.Setenv("TRACKPOLL_PORT", "not-a-number")

	if _, err := Parse([]byte(minimalYAML)); err == nil {
		t.Error("Parse() expected error for malformed TRACKPOLL_PORT")
	}
}

func TestParse_ValidationErrors(t *testing.T) {
	tests := []struct {
		name        string
		yaml        string
		wantErrLike string
	}{
		{
			name:        "missing base url",
			yaml:        `port: 8080`,
			wantErrLike: "base_url is required",
		},
		{
			name: "base url without scheme",
			yaml: `
probe:
  base_url: tracker.example.com
`,
			wantErrLike: "must have a scheme",
		},
		{
			name: "base url bad scheme",
			yaml: `
probe:
  base_url: ftp://tracker.example.com
`,
			wantErrLike: "scheme must be http or https",
		},
		{
			name:        "port out of range",
			yaml:        minimalYAML + "port: 70000\n",
			wantErrLike: "port must be between",
		},
		{
			name:        "bad log level",
			yaml:        minimalYAML + "log_level: verbose\n",
			wantErrLike: "log_level",
		},
		{
			name:        "sub-second timeout",
			yaml:        minimalYAML + "  timeout: 500ms\n",
			wantErrLike: "timeout must be at least 1s",
		},
		{
			name:        "negative rate limit",
			yaml:        minimalYAML + "  rate_limit: -1\n",
			wantErrLike: "rate_limit cannot be negative",
		},
		{
			name:        "initial interval too small",
			yaml:        minimalYAML + "polling:\n  initial_interval: 100ms\n",
			wantErrLike: "initial_interval must be at least 1s",
		},
		{
			name:        "max below initial",
			yaml:        minimalYAML + "polling:\n  initial_interval: 1m\n  max_interval: 30s\n",
			wantErrLike: "less than initial_interval",
		},
		{
			name:        "negative lifetime",
			yaml:        minimalYAML + "polling:\n  max_lifetime: -1h\n",
			wantErrLike: "max_lifetime must be positive",
		},
		{
			name:        "negative threshold",
			yaml:        minimalYAML + "polling:\n  backoff_threshold: -2\n",
			wantErrLike: "backoff_threshold cannot be negative",
		},
		{
			name:        "shrinking success factor",
			yaml:        minimalYAML + "polling:\n  success_growth_factor: 0.5\n",
			wantErrLike: "success_growth_factor must be at least 1",
		},
		{
			name:        "shrinking failure factor",
			yaml:        minimalYAML + "polling:\n  failure_growth_factor: 0.9\n",
			wantErrLike: "failure_growth_factor must be at least 1",
		},
		{
			name:        "negative concurrency",
			yaml:        minimalYAML + "polling:\n  max_concurrency: -1\n",
			wantErrLike: "max_concurrency must be at least 1",
		},
		{
			name:        "unknown store",
			yaml:        minimalYAML + "store:\n  type: postgres\n",
			wantErrLike: "unknown type",
		},
		{
			name:        "file store without path",
			yaml:        minimalYAML + "store:\n  type: file\n",
			wantErrLike: "requires a path",
		},
		{
			name:        "redis store without addr",
			yaml:        minimalYAML + "store:\n  type: redis\n",
			wantErrLike: "requires redis.addr",
		},
		{
			name:        "bad nats url",
			yaml:        minimalYAML + "notify:\n  nats:\n    url: '::bad'\n",
			wantErrLike: "notify.nats",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			if err == nil {
				t.Fatalf("Parse() expected error containing %q, got nil", tt.wantErrLike)
			}
			if !strings.Contains(err.Error(), tt.wantErrLike) {
				t.Errorf("Parse() error = %v, want error containing %q", err, tt.wantErrLike)
			}
		})
	}
}

func TestParse_InvalidYAML(t *testing.T) {
	_, err := Parse([]byte("probe: [unclosed"))
	if err == nil {
		t.Fatal("Parse() expected error for invalid YAML")
	}
	if !strings.Contains(err.Error(), "failed to parse YAML") {
		t.Errorf("error = %v", err)
	}
}

func TestParse_InvalidDuration(t *testing.T) {
	_, err := Parse([]byte(minimalYAML + "polling:\n  max_interval: forever\n"))
	if err == nil {
		t.Fatal("Parse() expected error for invalid duration")
	}
	if !strings.Contains(err.Error(), "invalid duration") {
		t.Errorf("error = %v", err)
	}
}

func TestDuration_UnmarshalYAML(t *testing.T) {
	tests := []struct {
		input string
		want  time.Duration
	}{
		{"5s", 5 * time.Second},
		{"1m30s", 90 * time.Second},
		{"500ms", 500 * time.Millisecond},
		{"24h", 24 * time.Hour},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			var d Duration
			if err := yaml.Unmarshal([]byte(tt.input), &d); err != nil {
				t.Fatalf("Unmarshal() error = %v", err)
			}
			if d.Duration() != tt.want {
				t.Errorf("Duration() = %v, want %v", d.Duration(), tt.want)
			}
		})
	}
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("TEST_VAR", "value")
	t.Setenv("EMPTY_VAR", "") // set but empty

	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{"no vars", "plain text", "plain text", false},
		{"simple var", "${TEST_VAR}", "value", false},
		{"var in text", "prefix ${TEST_VAR} suffix", "prefix value suffix", false},
		{"multiple vars", "${TEST_VAR}-${TEST_VAR}", "value-value", false},
		{"with default (var set)", "${TEST_VAR:-default}", "value", false},
		{"with default (var unset)", "${UNSET:-default}", "default", false},
		{"missing required", "${MISSING}", "", true},
		{"empty default (var unset)", "${UNSET:-}", "", false},
		{"set but empty var", "${EMPTY_VAR}", "", false},
		{"set but empty with default", "${EMPTY_VAR:-fallback}", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := expandEnvVars(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expandEnvVars() expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("expandEnvVars() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("expandEnvVars() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{in: "debug", want: slog.LevelDebug},
		{in: "INFO", want: slog.LevelInfo},
		{in: "warn", want: slog.LevelWarn},
		{in: "warning", want: slog.LevelWarn},
		{in: "error", want: slog.LevelError},
		{in: "trace", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseLevel() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("ParseLevel() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trackpoll.yaml")
	if err := os.WriteFile(path, []byte(minimalYAML), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Probe.BaseURL != "https://tracker.example.com" {
		t.Errorf("BaseURL = %q", cfg.Probe.BaseURL)
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Load() expected error for missing file")
	}
}
