package trackpoll

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jpalmerr/trackpoll/internal/poller"
)

const (
	defaultPort = 8080
)

// RedisConfig configures the Redis session store. See [WithRedisStore].
type RedisConfig struct {
	// Addr is host:port of the Redis server.
	Addr string

	// Password is optional.
	Password string

	// DB selects the logical database.
	DB int

	// Key names the hash that holds the sessions. Empty uses
	// "trackpoll:sessions".
	Key string
}

type storeKind int

const (
	storeMemory storeKind = iota
	storeFile
	storeRedis
)

// trackerConfig holds mutable state during Tracker construction.
type trackerConfig struct {
	port          int
	serverEnabled bool
	logger        *slog.Logger

	probeURL     string
	probeHeaders map[string]string
	probeTimeout time.Duration
	rateLimit    float64
	extractor    Extractor
	prober       Prober

	sched          poller.Config
	restoreOnStart bool

	storeKind storeKind
	storePath string
	redis     RedisConfig

	natsURL     string
	natsSubject string

	callbacks []func(Notification)
}

// Option is a function that configures a [Tracker] instance during construction.
//
// Option implements the functional options pattern, allowing optional
// configuration to be passed to [New] in a type-safe, extensible way.
// Options return an error if validation fails.
type Option func(*trackerConfig) error

// WithPort sets the HTTP port for the session API.
//
// The API, event stream and metrics will be available at
// http://localhost:<port>. Defaults to 8080 if not specified.
//
// Returns an error if the port is outside the valid range (1-65535).
func WithPort(port int) Option {
	return func(cfg *trackerConfig) error {
		if port < 1 || port > 65535 {
			return errors.New("port must be between 1 and 65535")
		}
		cfg.port = port
		cfg.serverEnabled = true
		return nil
	}
}

// WithoutServer disables the HTTP API. Sessions are then managed only
// through [Tracker.Register] and [Tracker.Cancel].
func WithoutServer() Option {
	return func(cfg *trackerConfig) error {
		cfg.serverEnabled = false
		return nil
	}
}

// WithLogger sets a custom [slog.Logger] for the Tracker instance.
//
// If not specified, [slog.Default] is used.
//
// Returns an error if the logger is nil.
func WithLogger(logger *slog.Logger) Option {
	return func(cfg *trackerConfig) error {
		if logger == nil {
			return errors.New("logger cannot be nil")
		}
		cfg.logger = logger
		return nil
	}
}

// WithProbeURL sets the base URL of the tracking API. Each probe requests
// GET <url>/api/tracking/<id>.
//
// Either WithProbeURL or [WithProber] is required.
func WithProbeURL(url string) Option {
	return func(cfg *trackerConfig) error {
		if url == "" {
			return errors.New("probe URL cannot be empty")
		}
		cfg.probeURL = url
		return nil
	}
}

// WithProbeHeaders adds custom HTTP headers to every probe request.
//
// Arguments must be provided as key-value pairs. Headers override the
// defaults (Content-Type: application/json, Cache-Control: no-cache).
//
// Example:
//
//	trackpoll.WithProbeHeaders(
//	    "Authorization", "Bearer token",
//	    "ngrok-skip-browser-warning", "true",
//	)
//
// Returns an error if an odd number of arguments is provided.
func WithProbeHeaders(keyValues ...string) Option {
	return func(cfg *trackerConfig) error {
		if len(keyValues)%2 != 0 {
			return errors.New("WithProbeHeaders requires an even number of arguments (key-value pairs)")
		}
		for i := 0; i < len(keyValues); i += 2 {
			cfg.probeHeaders[keyValues[i]] = keyValues[i+1]
		}
		return nil
	}
}

// WithProbeTimeout sets the per-request timeout for probes. Defaults to 10
// seconds.
//
// Returns an error if the duration is zero or negative.
func WithProbeTimeout(d time.Duration) Option {
	return func(cfg *trackerConfig) error {
		if d <= 0 {
			return errors.New("probe timeout must be positive")
		}
		cfg.probeTimeout = d
		return nil
	}
}

// WithRateLimit caps probe requests per second across all sessions. By
// default probes are not rate limited.
//
// Returns an error if rps is negative.
func WithRateLimit(rps float64) Option {
	return func(cfg *trackerConfig) error {
		if rps < 0 {
			return errors.New("rate limit cannot be negative")
		}
		cfg.rateLimit = rps
		return nil
	}
}

// WithExtractor sets how probe responses are interpreted. Defaults to
// [OpenEventExtractor].
//
// Nil extractors are silently ignored.
func WithExtractor(e Extractor) Option {
	return func(cfg *trackerConfig) error {
		if e != nil {
			cfg.extractor = e
		}
		return nil
	}
}

// WithProber replaces the HTTP probe with a custom [Prober]. When set,
// [WithProbeURL], [WithProbeHeaders], [WithProbeTimeout], [WithRateLimit]
// and [WithExtractor] have no effect.
//
// Returns an error if the prober is nil.
func WithProber(p Prober) Option {
	return func(cfg *trackerConfig) error {
		if p == nil {
			return errors.New("prober cannot be nil")
		}
		cfg.prober = p
		return nil
	}
}

// WithInitialInterval sets the wait before a session's first probe, and
// after a restart. Defaults to 5 seconds.
//
// Returns an error if the duration is zero or negative.
func WithInitialInterval(d time.Duration) Option {
	return func(cfg *trackerConfig) error {
		if d <= 0 {
			return errors.New("initial interval must be positive")
		}
		cfg.sched.Policy.InitialInterval = d
		return nil
	}
}

// WithMaxInterval caps the wait between probes. Defaults to 5 minutes.
//
// Returns an error if the duration is zero or negative.
func WithMaxInterval(d time.Duration) Option {
	return func(cfg *trackerConfig) error {
		if d <= 0 {
			return errors.New("max interval must be positive")
		}
		cfg.sched.Policy.MaxInterval = d
		return nil
	}
}

// WithMaxLifetime bounds how long a session polls before it expires.
// Defaults to 24 hours.
//
// Returns an error if the duration is zero or negative.
func WithMaxLifetime(d time.Duration) Option {
	return func(cfg *trackerConfig) error {
		if d <= 0 {
			return errors.New("max lifetime must be positive")
		}
		cfg.sched.Policy.MaxLifetime = d
		return nil
	}
}

// WithBackoffThreshold sets how many probes run at the initial interval
// before "not yet" answers start growing it. Defaults to 10.
//
// Returns an error if n is negative.
func WithBackoffThreshold(n int) Option {
	return func(cfg *trackerConfig) error {
		if n < 0 {
			return errors.New("backoff threshold cannot be negative")
		}
		cfg.sched.Policy.BackoffThreshold = n
		return nil
	}
}

// WithGrowthFactors sets the interval multipliers applied after a "not yet"
// answer past the threshold (success) and after a failed probe (failure).
// Defaults to 1.5 and 2.0.
//
// Returns an error if either factor is below 1.
func WithGrowthFactors(success, failure float64) Option {
	return func(cfg *trackerConfig) error {
		if success < 1 || failure < 1 {
			return fmt.Errorf("growth factors must be at least 1, got %g and %g", success, failure)
		}
		cfg.sched.Policy.SuccessGrowthFactor = success
		cfg.sched.Policy.FailureGrowthFactor = failure
		return nil
	}
}

// WithMaxConcurrency sets the maximum number of probes run in parallel.
// Defaults to 10.
//
// Returns an error if the value is zero or negative.
func WithMaxConcurrency(n int) Option {
	return func(cfg *trackerConfig) error {
		if n <= 0 {
			return errors.New("max concurrency must be positive")
		}
		cfg.sched.MaxConcurrency = n
		return nil
	}
}

// WithCompletedLimit sets how many completed identifiers are remembered
// before the daily prune clears the list. Defaults to 1000.
//
// Returns an error if the value is zero or negative.
func WithCompletedLimit(n int) Option {
	return func(cfg *trackerConfig) error {
		if n <= 0 {
			return errors.New("completed limit must be positive")
		}
		cfg.sched.CompletedLimit = n
		return nil
	}
}

// WithReregisterCompleted controls what [Tracker.Register] does with an
// identifier whose condition was already met. When false (the default) the
// call returns [AlreadyCompleted]; when true a fresh session starts.
func WithReregisterCompleted(allow bool) Option {
	return func(cfg *trackerConfig) error {
		cfg.sched.ReregisterCompleted = allow
		return nil
	}
}

// WithRestoreOnStart controls whether [Tracker.Start] resumes sessions
// persisted by a previous run. Defaults to true.
func WithRestoreOnStart(restore bool) Option {
	return func(cfg *trackerConfig) error {
		cfg.restoreOnStart = restore
		return nil
	}
}

// WithMemoryStore keeps sessions in memory only. This is the default; sessions
// do not survive a restart.
func WithMemoryStore() Option {
	return func(cfg *trackerConfig) error {
		cfg.storeKind = storeMemory
		return nil
	}
}

// WithFileStore persists sessions to a JSON file at path.
//
// Returns an error if path is empty.
func WithFileStore(path string) Option {
	return func(cfg *trackerConfig) error {
		if path == "" {
			return errors.New("file store path cannot be empty")
		}
		cfg.storeKind = storeFile
		cfg.storePath = path
		return nil
	}
}

// WithRedisStore persists sessions in a Redis hash.
//
// Returns an error if no address is given.
func WithRedisStore(rc RedisConfig) Option {
	return func(cfg *trackerConfig) error {
		if rc.Addr == "" {
			return errors.New("redis address cannot be empty")
		}
		cfg.storeKind = storeRedis
		cfg.redis = rc
		return nil
	}
}

// WithNATS publishes a JSON notification to subject on the NATS server at url
// whenever a session completes. An empty subject uses
// "trackpoll.condition_met".
//
// Returns an error if url is empty.
func WithNATS(url, subject string) Option {
	return func(cfg *trackerConfig) error {
		if url == "" {
			return errors.New("NATS URL cannot be empty")
		}
		cfg.natsURL = url
		cfg.natsSubject = subject
		return nil
	}
}

// WithNotificationCallback registers a function to be called when a
// session's condition is met.
//
// Multiple callbacks may be registered by calling WithNotificationCallback
// multiple times; they execute in registration order.
//
// IMPORTANT: Callbacks must be non-blocking. Long-running operations should
// dispatch work to a separate goroutine. Panics within callbacks are
// recovered and logged; they do not crash the scheduler.
//
// Example:
//
//	tr, err := trackpoll.New(
//	    trackpoll.WithProbeURL("https://tracker.example.com"),
//	    trackpoll.WithNotificationCallback(func(n trackpoll.Notification) {
//	        log.Printf("%s opened at %s", n.ID, n.MatchedAt)
//	    }),
//	)
//
// Nil callbacks are silently ignored.
func WithNotificationCallback(cb func(Notification)) Option {
	return func(cfg *trackerConfig) error {
		if cb == nil {
			return nil // no-op for nil callback (safe to call)
		}
		cfg.callbacks = append(cfg.callbacks, cb)
		return nil
	}
}
