// Package config provides YAML configuration parsing for trackpoll.
//
// This package enables running trackpoll as a standalone binary with a
// configuration file, as an alternative to the programmatic SDK approach.
//
// Example configuration:
//
//	port: 8080
//	log_level: info
//
//	probe:
//	  base_url: https://tracker.example.com
//	  timeout: 10s
//	  headers:
//	    Authorization: Bearer ${TRACKER_TOKEN}
//
//	polling:
//	  initial_interval: 5s
//	  max_interval: 5m
//	  max_lifetime: 24h
//
//	store:
//	  type: file
//	  path: /var/lib/trackpoll/sessions.json
//
// Settings can be overridden from the environment with TRACKPOLL_ prefixed
// variables, for example TRACKPOLL_PORT or TRACKPOLL_REDIS_ADDR.
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/jpalmerr/trackpoll/internal/poller"
)

// minInitialInterval is the minimum allowed first polling interval for
// production configs. This prevents accidental DoS of the tracking API.
const minInitialInterval = 1 * time.Second

// EnvPrefix prefixes the environment variables read by [Parse].
const EnvPrefix = "TRACKPOLL"

// Store types accepted in store.type.
const (
	StoreMemory = "memory"
	StoreFile   = "file"
	StoreRedis  = "redis"
)

// Config is the root configuration structure for trackpoll.
//
// It maps directly to the YAML configuration file structure.
// Use [Load] or [Parse] to create a Config from YAML.
type Config struct {
	// Port is the HTTP server port. Defaults to 8080.
	Port int `yaml:"port"`

	// LogLevel is one of debug, info, warn, error. Defaults to info.
	LogLevel string `yaml:"log_level"`

	Probe   ProbeConfig   `yaml:"probe"`
	Polling PollingConfig `yaml:"polling"`
	Store   StoreConfig   `yaml:"store"`
	Notify  NotifyConfig  `yaml:"notify"`
}

// ProbeConfig describes the tracking API.
type ProbeConfig struct {
	// BaseURL is the tracking API root; probes GET {base_url}/api/tracking/{id}.
	// Supports environment variable substitution: ${VAR} or ${VAR:-default}
	BaseURL string `yaml:"base_url"`

	// Timeout is the per-request timeout. Defaults to 10s.
	Timeout Duration `yaml:"timeout"`

	// RateLimit caps probe requests per second. Zero means unlimited.
	RateLimit float64 `yaml:"rate_limit"`

	// Headers are custom HTTP headers sent with each request.
	// Values support environment variable substitution.
	Headers map[string]string `yaml:"headers"`

	// Extractor determines how to interpret the response body.
	// Can be shorthand ("default", "json:data.opened") or structured.
	Extractor ExtractorConfig `yaml:"extractor"`
}

// PollingConfig tunes the backoff schedule and the scheduler.
type PollingConfig struct {
	InitialInterval Duration `yaml:"initial_interval"`
	MaxInterval     Duration `yaml:"max_interval"`
	MaxLifetime     Duration `yaml:"max_lifetime"`

	// BackoffThreshold is the number of polls before the interval starts
	// growing. Nil means the default of 10; zero grows from the first poll.
	BackoffThreshold *int `yaml:"backoff_threshold"`

	SuccessGrowthFactor float64 `yaml:"success_growth_factor"`
	FailureGrowthFactor float64 `yaml:"failure_growth_factor"`

	// MaxConcurrency bounds in-flight probes. Defaults to 10.
	MaxConcurrency int `yaml:"max_concurrency"`

	// CompletedLimit bounds the completed-id set before it is pruned.
	CompletedLimit int `yaml:"completed_limit"`

	// ReregisterCompleted lets an id whose condition was met be polled again.
	ReregisterCompleted bool `yaml:"reregister_completed"`
}

// StoreConfig selects where sessions are persisted.
type StoreConfig struct {
	// Type is memory (default), file or redis.
	Type string `yaml:"type"`

	// Path is the JSON file for type file.
	Path string `yaml:"path"`

	Redis RedisConfig `yaml:"redis"`
}

// RedisConfig configures the redis store.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Key      string `yaml:"key"`
}

// NotifyConfig configures outbound notifications.
type NotifyConfig struct {
	NATS NATSConfig `yaml:"nats"`
}

// NATSConfig enables publishing to NATS when URL is set.
type NATSConfig struct {
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
}

// ExtractorConfig specifies how to decide from a response body whether the
// recipient has opened the message.
//
// It supports two formats in YAML:
//
// Shorthand string:
//
//	extractor: default
//	extractor: json:data.opened
//
// Structured object:
//
//	extractor:
//	  type: json
//	  path: data.opened
//	  timestamp_path: data.openedAt
type ExtractorConfig struct {
	// Type is the extractor type: "default" or "json".
	Type string

	// Path is the JSON field path (for type: json).
	Path string

	// TimestampPath optionally names the field holding the open time.
	TimestampPath string
}

// Duration wraps time.Duration for YAML unmarshalling.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}

	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}

	*d = Duration(parsed)
	return nil
}

// Duration returns the underlying time.Duration value.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// UnmarshalYAML implements yaml.Unmarshaler for ExtractorConfig.
func (e *ExtractorConfig) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		var s string
		if err := node.Decode(&s); err != nil {
			return err
		}
		return e.parseShorthand(s)
	}

	if node.Kind == yaml.MappingNode {
		// temporary struct to avoid infinite recursion
		var raw struct {
			Type          string `yaml:"type"`
			Path          string `yaml:"path"`
			TimestampPath string `yaml:"timestamp_path"`
		}
		if err := node.Decode(&raw); err != nil {
			return err
		}
		e.Type = raw.Type
		e.Path = raw.Path
		e.TimestampPath = raw.TimestampPath
		return nil
	}

	return fmt.Errorf("extractor must be a string or object, got %v", node.Kind)
}

// parseShorthand parses extractor shorthand syntax.
//
// Supported formats:
//   - "default" → open-event report
//   - "json:path" → truthy JSON field
func (e *ExtractorConfig) parseShorthand(s string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}

	if typ, value, ok := strings.Cut(s, ":"); ok {
		if typ != "json" {
			return fmt.Errorf("unknown extractor type %q", typ)
		}
		e.Type = typ
		e.Path = value
		return nil
	}

	if s != "default" {
		return fmt.Errorf("unknown extractor %q (expected 'default' or 'json:path')", s)
	}
	e.Type = s
	return nil
}

// envOverrides are read from TRACKPOLL_* variables. Nil fields were not set.
type envOverrides struct {
	Port            *int           `split_words:"true"`
	LogLevel        *string        `split_words:"true"`
	ProbeURL        *string        `split_words:"true"`
	ProbeTimeout    *time.Duration `split_words:"true"`
	RateLimit       *float64       `split_words:"true"`
	InitialInterval *time.Duration `split_words:"true"`
	MaxInterval     *time.Duration `split_words:"true"`
	MaxLifetime     *time.Duration `split_words:"true"`
	MaxConcurrency  *int           `split_words:"true"`
	StoreType       *string        `split_words:"true"`
	StorePath       *string        `split_words:"true"`
	RedisAddr       *string        `split_words:"true"`
	RedisPassword   *string        `split_words:"true"`
	NatsURL         *string        `split_words:"true"`
	NatsSubject     *string        `split_words:"true"`
}

// applyEnv overlays TRACKPOLL_* environment variables onto c.
func (c *Config) applyEnv() error {
	var env envOverrides
	if err := envconfig.Process(EnvPrefix, &env); err != nil {
		return fmt.Errorf("failed to read environment: %w", err)
	}

	setInt(&c.Port, env.Port)
	setString(&c.LogLevel, env.LogLevel)
	setString(&c.Probe.BaseURL, env.ProbeURL)
	setDuration(&c.Probe.Timeout, env.ProbeTimeout)
	if env.RateLimit != nil {
		c.Probe.RateLimit = *env.RateLimit
	}
	setDuration(&c.Polling.InitialInterval, env.InitialInterval)
	setDuration(&c.Polling.MaxInterval, env.MaxInterval)
	setDuration(&c.Polling.MaxLifetime, env.MaxLifetime)
	setInt(&c.Polling.MaxConcurrency, env.MaxConcurrency)
	setString(&c.Store.Type, env.StoreType)
	setString(&c.Store.Path, env.StorePath)
	setString(&c.Store.Redis.Addr, env.RedisAddr)
	setString(&c.Store.Redis.Password, env.RedisPassword)
	setString(&c.Notify.NATS.URL, env.NatsURL)
	setString(&c.Notify.NATS.Subject, env.NatsSubject)
	return nil
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

func setDuration(dst *Duration, v *time.Duration) {
	if v != nil {
		*dst = Duration(*v)
	}
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns.
// Group 1: variable name
// Group 2: the ":-default" part (if present, indicates a default was specified)
// Group 3: the default value (may be empty for ${VAR:-})
var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(:-([^}]*))?\}`)

// expandEnvVars replaces ${VAR} and ${VAR:-default} patterns with environment values.
func expandEnvVars(s string) (string, error) {
	var firstErr error

	result := envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		if firstErr != nil {
			return match
		}

		sub := envVarPattern.FindStringSubmatch(match)
		name := sub[1]
		hasDefault := sub[2] != ""

		if value, ok := os.LookupEnv(name); ok {
			return value
		}
		if hasDefault {
			return sub[3]
		}
		firstErr = fmt.Errorf("environment variable %q is not set", name)
		return match
	})

	if firstErr != nil {
		return "", firstErr
	}
	return result, nil
}

// Load reads and parses a YAML configuration file.
//
// Environment variables in the file are expanded before parsing.
// Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse parses YAML configuration data.
//
// TRACKPOLL_* environment overrides are applied on top of the file, then
// defaults fill anything still unset. ${VAR} references are expanded in the
// probe URL, header values, store path and redis password.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	if err := cfg.expandAndValidate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Port == 0 {
		c.Port = 8080
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Store.Type == "" {
		c.Store.Type = StoreMemory
	}

	p := &c.Polling
	if p.InitialInterval == 0 {
		p.InitialInterval = Duration(poller.DefaultInitialInterval)
	}
	if p.MaxInterval == 0 {
		p.MaxInterval = Duration(poller.DefaultMaxInterval)
	}
	if p.MaxLifetime == 0 {
		p.MaxLifetime = Duration(poller.DefaultMaxLifetime)
	}
	if p.BackoffThreshold == nil {
		n := poller.DefaultBackoffThreshold
		p.BackoffThreshold = &n
	}
	if p.SuccessGrowthFactor == 0 {
		p.SuccessGrowthFactor = poller.DefaultSuccessGrowthFactor
	}
	if p.FailureGrowthFactor == 0 {
		p.FailureGrowthFactor = poller.DefaultFailureGrowthFactor
	}
	if p.MaxConcurrency == 0 {
		p.MaxConcurrency = poller.DefaultMaxConcurrency
	}
	if p.CompletedLimit == 0 {
		p.CompletedLimit = poller.DefaultCompletedLimit
	}
}

// expandAndValidate expands environment variables and validates the config.
func (c *Config) expandAndValidate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", c.Port)
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}

	if err := c.validateProbe(); err != nil {
		return err
	}
	if err := c.validatePolling(); err != nil {
		return err
	}
	if err := c.validateStore(); err != nil {
		return err
	}

	if c.Notify.NATS.URL != "" {
		u, err := url.Parse(c.Notify.NATS.URL)
		if err != nil || u.Host == "" {
			return fmt.Errorf("notify.nats: invalid url %q", c.Notify.NATS.URL)
		}
	}

	return nil
}

func (c *Config) validateProbe() error {
	p := &c.Probe

	if p.BaseURL == "" {
		return fmt.Errorf("probe: base_url is required")
	}
	expanded, err := expandEnvVars(p.BaseURL)
	if err != nil {
		return fmt.Errorf("probe: base_url: %w", err)
	}
	p.BaseURL = expanded

	parsedURL, err := url.Parse(p.BaseURL)
	if err != nil {
		return fmt.Errorf("probe: invalid base_url: %w", err)
	}
	if parsedURL.Scheme == "" {
		return fmt.Errorf("probe: base_url must have a scheme (http:// or https://)")
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return fmt.Errorf("probe: base_url scheme must be http or https, got %q", parsedURL.Scheme)
	}

	for k, v := range p.Headers {
		expanded, err := expandEnvVars(v)
		if err != nil {
			return fmt.Errorf("probe: headers[%s]: %w", k, err)
		}
		p.Headers[k] = expanded
	}

	if p.Timeout != 0 && p.Timeout.Duration() < time.Second {
		return fmt.Errorf("probe: timeout must be at least 1s if specified, got %s", p.Timeout.Duration())
	}
	if p.RateLimit < 0 {
		return fmt.Errorf("probe: rate_limit cannot be negative, got %g", p.RateLimit)
	}

	switch p.Extractor.Type {
	case "", "default":
	case "json":
		if p.Extractor.Path == "" {
			return fmt.Errorf("probe: extractor type 'json' requires a path")
		}
	default:
		return fmt.Errorf("probe: unknown extractor type %q", p.Extractor.Type)
	}
	return nil
}

func (c *Config) validatePolling() error {
	p := c.Polling

	if p.InitialInterval.Duration() < minInitialInterval {
		return fmt.Errorf("polling: initial_interval must be at least %s, got %s",
			minInitialInterval, p.InitialInterval.Duration())
	}
	if p.MaxInterval.Duration() < p.InitialInterval.Duration() {
		return fmt.Errorf("polling: max_interval %s is less than initial_interval %s",
			p.MaxInterval.Duration(), p.InitialInterval.Duration())
	}
	if p.MaxLifetime.Duration() <= 0 {
		return fmt.Errorf("polling: max_lifetime must be positive, got %s", p.MaxLifetime.Duration())
	}
	if *p.BackoffThreshold < 0 {
		return fmt.Errorf("polling: backoff_threshold cannot be negative, got %d", *p.BackoffThreshold)
	}
	if p.SuccessGrowthFactor < 1 {
		return fmt.Errorf("polling: success_growth_factor must be at least 1, got %g", p.SuccessGrowthFactor)
	}
	if p.FailureGrowthFactor < 1 {
		return fmt.Errorf("polling: failure_growth_factor must be at least 1, got %g", p.FailureGrowthFactor)
	}
	if p.MaxConcurrency < 1 {
		return fmt.Errorf("polling: max_concurrency must be at least 1, got %d", p.MaxConcurrency)
	}
	if p.CompletedLimit < 1 {
		return fmt.Errorf("polling: completed_limit must be at least 1, got %d", p.CompletedLimit)
	}
	return nil
}

func (c *Config) validateStore() error {
	s := &c.Store

	switch s.Type {
	case StoreMemory:
	case StoreFile:
		if s.Path == "" {
			return fmt.Errorf("store: type 'file' requires a path")
		}
		expanded, err := expandEnvVars(s.Path)
		if err != nil {
			return fmt.Errorf("store: path: %w", err)
		}
		s.Path = expanded
	case StoreRedis:
		if s.Redis.Addr == "" {
			return fmt.Errorf("store: type 'redis' requires redis.addr")
		}
		expanded, err := expandEnvVars(s.Redis.Password)
		if err != nil {
			return fmt.Errorf("store: redis.password: %w", err)
		}
		s.Redis.Password = expanded
		if s.Redis.DB < 0 {
			return fmt.Errorf("store: redis.db cannot be negative, got %d", s.Redis.DB)
		}
	default:
		return fmt.Errorf("store: unknown type %q (expected memory, file or redis)", s.Type)
	}
	return nil
}

// ParseLevel maps a log_level value to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("log_level must be debug, info, warn or error, got %q", s)
	}
}
