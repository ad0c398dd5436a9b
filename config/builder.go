package config

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/jpalmerr/trackpoll"
	"github.com/jpalmerr/trackpoll/internal/store"
)

// BuildOptions converts parsed configuration into SDK options.
//
// The returned options configure the probe, backoff policy, store and
// notifications; logger is passed through unchanged.
func BuildOptions(cfg *Config, logger *slog.Logger) []trackpoll.Option {
	p := cfg.Polling

	opts := []trackpoll.Option{
		trackpoll.WithPort(cfg.Port),
		trackpoll.WithProbeURL(cfg.Probe.BaseURL),
		trackpoll.WithInitialInterval(p.InitialInterval.Duration()),
		trackpoll.WithMaxInterval(p.MaxInterval.Duration()),
		trackpoll.WithMaxLifetime(p.MaxLifetime.Duration()),
		trackpoll.WithBackoffThreshold(*p.BackoffThreshold),
		trackpoll.WithGrowthFactors(p.SuccessGrowthFactor, p.FailureGrowthFactor),
		trackpoll.WithMaxConcurrency(p.MaxConcurrency),
		trackpoll.WithCompletedLimit(p.CompletedLimit),
		trackpoll.WithReregisterCompleted(p.ReregisterCompleted),
	}

	if logger != nil {
		opts = append(opts, trackpoll.WithLogger(logger))
	}

	if cfg.Probe.Timeout != 0 {
		opts = append(opts, trackpoll.WithProbeTimeout(cfg.Probe.Timeout.Duration()))
	}
	if cfg.Probe.RateLimit > 0 {
		opts = append(opts, trackpoll.WithRateLimit(cfg.Probe.RateLimit))
	}
	if len(cfg.Probe.Headers) > 0 {
		opts = append(opts, trackpoll.WithProbeHeaders(mapToKeyValuePairs(cfg.Probe.Headers)...))
	}
	if extractor := buildExtractor(cfg.Probe.Extractor); extractor != nil {
		opts = append(opts, trackpoll.WithExtractor(extractor))
	}

	switch cfg.Store.Type {
	case StoreFile:
		opts = append(opts, trackpoll.WithFileStore(cfg.Store.Path))
	case StoreRedis:
		r := cfg.Store.Redis
		opts = append(opts, trackpoll.WithRedisStore(trackpoll.RedisConfig{
			Addr:     r.Addr,
			Password: r.Password,
			DB:       r.DB,
			Key:      r.Key,
		}))
	default:
		opts = append(opts, trackpoll.WithMemoryStore())
	}

	if cfg.Notify.NATS.URL != "" {
		opts = append(opts, trackpoll.WithNATS(cfg.Notify.NATS.URL, cfg.Notify.NATS.Subject))
	}

	return opts
}

// OpenStore opens the configured session store directly, for tools that
// inspect persisted sessions without running the scheduler. The returned
// close function releases any connection and is never nil.
func OpenStore(cfg *Config) (store.Store, func() error, error) {
	noop := func() error { return nil }

	switch cfg.Store.Type {
	case StoreFile:
		st, err := store.NewFileStore(cfg.Store.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open file store: %w", err)
		}
		return st, noop, nil
	case StoreRedis:
		r := cfg.Store.Redis
		st, err := store.NewRedisStore(store.RedisOptions{
			Addr:     r.Addr,
			Password: r.Password,
			DB:       r.DB,
			Key:      r.Key,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		return st, st.Close, nil
	default:
		return store.NewMemoryStore(), noop, nil
	}
}

// mapToKeyValuePairs converts a map to a sorted slice of key-value pairs.
func mapToKeyValuePairs(m map[string]string) []string {
	// sort keys for deterministic ordering
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(m)*2)
	for _, k := range keys {
		pairs = append(pairs, k, m[k])
	}
	return pairs
}

// buildExtractor converts ExtractorConfig to an Extractor function.
// Returns nil for default/empty extractors (SDK uses OpenEventExtractor).
func buildExtractor(ec ExtractorConfig) trackpoll.Extractor {
	switch ec.Type {
	case "json":
		return trackpoll.JSONFieldExtractor(ec.Path, ec.TimestampPath)
	default:
		return nil
	}
}
