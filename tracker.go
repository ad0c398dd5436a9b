package trackpoll

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/jpalmerr/trackpoll/internal/events"
	"github.com/jpalmerr/trackpoll/internal/metrics"
	"github.com/jpalmerr/trackpoll/internal/poller"
	"github.com/jpalmerr/trackpoll/internal/probe"
	"github.com/jpalmerr/trackpoll/internal/server"
	"github.com/jpalmerr/trackpoll/internal/store"
)

// ErrEmptyID is returned by [Tracker.Register] for an empty identifier.
var ErrEmptyID = errors.New("tracking id cannot be empty")

// Tracker is the main orchestrator for adaptive open-detection polling.
//
// Tracker owns a set of poll sessions, one per tracking identifier. Each
// session probes the tracking API on a backoff schedule until the awaited
// condition is reported, the session reaches its maximum lifetime, or it is
// cancelled. Sessions are persisted so that a restarted Tracker resumes them.
//
// The typical lifecycle is:
//
//	tr, err := trackpoll.New(trackpoll.WithProbeURL("https://tracker.example.com"))
//	if err != nil {
//	    slog.Error("failed to create tracker", "error", err)
//	    os.Exit(1)
//	}
//
//	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
//	defer cancel()
//
//	tr.Start(ctx) // blocks until context cancelled
//
// Register and Cancel may be called from any goroutine, before or during
// Start. A Tracker runs once: after Start returns, its resources are closed.
type Tracker struct {
	port           int
	serverEnabled  bool
	restoreOnStart bool
	logger         *slog.Logger

	sched    *poller.Scheduler
	hub      *events.Hub
	registry *prometheus.Registry
	api      *server.Server

	closers   []func() error
	closeOnce sync.Once
	closeErr  error

	mu      sync.Mutex
	started bool
}

// New creates a new [Tracker] instance with the given options.
//
// A probe must be configured via [WithProbeURL] or [WithProber]. Other
// options have sensible defaults:
//   - Port: 8080
//   - Initial interval: 5 seconds, growing to at most 5 minutes
//   - Max lifetime: 24 hours
//   - Store: in memory
//
// New connects to any configured Redis store or NATS server and returns an
// error if that fails or any option is invalid.
func New(opts ...Option) (*Tracker, error) {
	cfg := &trackerConfig{
		port:           defaultPort,
		serverEnabled:  true,
		probeHeaders:   make(map[string]string),
		extractor:      OpenEventExtractor,
		sched:          poller.DefaultConfig(),
		restoreOnStart: true,
	}

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	if err := cfg.sched.Policy.Validate(); err != nil {
		return nil, fmt.Errorf("invalid polling policy: %w", err)
	}

	// default to slog.Default() if no logger provided
	logger := cfg.logger
	if logger == nil {
		logger = slog.Default()
	}

	t := &Tracker{
		port:           cfg.port,
		serverEnabled:  cfg.serverEnabled,
		restoreOnStart: cfg.restoreOnStart,
		logger:         logger,
		hub:            events.NewHub(),
		registry:       prometheus.NewRegistry(),
	}

	if err := t.build(cfg); err != nil {
		_ = t.Close()
		return nil, err
	}
	return t, nil
}

// build wires the probe, store, notifiers and scheduler. Resources opened
// here are appended to t.closers as they succeed.
func (t *Tracker) build(cfg *trackerConfig) error {
	prober, err := t.buildProber(cfg)
	if err != nil {
		return err
	}

	st, err := t.openStore(cfg)
	if err != nil {
		return err
	}

	notifiers := events.Fanout{t.hub}
	if cfg.natsURL != "" {
		pub, err := events.NewNATSPublisher(cfg.natsURL, cfg.natsSubject, t.logger)
		if err != nil {
			return fmt.Errorf("failed to connect to NATS: %w", err)
		}
		t.closers = append(t.closers, pub.Close)
		notifiers = append(notifiers, pub)
	}
	if len(cfg.callbacks) > 0 {
		callbacks := cfg.callbacks
		notifiers = append(notifiers, events.NotifierFunc(func(n events.Notification) {
			pub := Notification{ID: n.ID, MatchedAt: n.MatchedAt}
			for _, cb := range callbacks {
				invokeCallbackSafe(cb, pub, t.logger)
			}
		}))
	}

	t.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	sched, err := poller.NewScheduler(poller.Options{
		Prober:   prober,
		Store:    st,
		Notifier: notifiers,
		Logger:   t.logger,
		Metrics:  metrics.New(t.registry),
		Config:   cfg.sched,
	})
	if err != nil {
		return err
	}
	t.sched = sched
	t.api = server.NewServer(sched, t.hub, t.registry, t.port, t.logger)
	return nil
}

func (t *Tracker) buildProber(cfg *trackerConfig) (poller.Prober, error) {
	if cfg.prober != nil {
		custom := cfg.prober
		return poller.ProberFunc(func(ctx context.Context, id string) (poller.Result, error) {
			res, err := custom.Check(ctx, id)
			return poller.Result{Matched: res.Matched, MatchedAt: res.MatchedAt}, err
		}), nil
	}

	if cfg.probeURL == "" {
		return nil, errors.New("a probe URL or custom prober is required")
	}

	extractor := cfg.extractor
	client, err := probe.New(probe.Options{
		BaseURL:   cfg.probeURL,
		Headers:   cfg.probeHeaders,
		Timeout:   cfg.probeTimeout,
		RateLimit: cfg.rateLimit,
		Extractor: func(body []byte) (poller.Result, error) {
			res, err := extractor(body)
			return poller.Result{Matched: res.Matched, MatchedAt: res.MatchedAt}, err
		},
	})
	if err != nil {
		return nil, fmt.Errorf("invalid probe: %w", err)
	}
	t.closers = append(t.closers, func() error {
		client.Close()
		return nil
	})
	return client, nil
}

func (t *Tracker) openStore(cfg *trackerConfig) (store.Store, error) {
	switch cfg.storeKind {
	case storeFile:
		st, err := store.NewFileStore(cfg.storePath)
		if err != nil {
			return nil, fmt.Errorf("failed to open file store: %w", err)
		}
		return st, nil
	case storeRedis:
		st, err := store.NewRedisStore(store.RedisOptions{
			Addr:     cfg.redis.Addr,
			Password: cfg.redis.Password,
			DB:       cfg.redis.DB,
			Key:      cfg.redis.Key,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		t.closers = append(t.closers, st.Close)
		return st, nil
	default:
		return store.NewMemoryStore(), nil
	}
}

// Start restores persisted sessions, begins polling and serves the HTTP API.
//
// Start is a blocking call that runs until the provided context is cancelled.
// During execution:
//
//   - Sessions persisted by a previous run are resumed (see [WithRestoreOnStart])
//   - Due sessions are probed, with at most [WithMaxConcurrency] in flight
//   - The HTTP API is available at http://localhost:<port> unless disabled
//
// Returns nil on graceful shutdown. Returns an error if the HTTP server fails
// to start or the Tracker was already started. Start closes the Tracker's
// resources before returning.
func (t *Tracker) Start(ctx context.Context) error {
	t.mu.Lock()
	if t.started {
		t.mu.Unlock()
		return errors.New("tracker already started")
	}
	t.started = true
	t.mu.Unlock()

	defer func() {
		if err := t.Close(); err != nil {
			t.logger.Warn("failed to release resources", "error", err)
		}
	}()

	// check if context already cancelled
	if ctx.Err() != nil {
		return nil
	}

	t.logger.Info("trackpoll starting", "sessions", len(t.sched.Sessions()))

	if t.restoreOnStart {
		n, err := t.sched.RestoreAll(ctx)
		if err != nil {
			// keep going with whatever is in memory
			t.logger.Warn("failed to restore sessions", "error", err)
		} else {
			t.logger.Info("restore complete", "restored", n)
		}
	}

	t.sched.Start(ctx)

	if t.serverEnabled {
		if err := t.api.Start(ctx); err != nil {
			t.sched.Stop()
			return fmt.Errorf("failed to start HTTP server: %w", err)
		}
		t.logger.Info("api available", "url", fmt.Sprintf("http://localhost:%d", t.port))
	}

	<-ctx.Done()
	t.sched.Stop()
	t.logger.Info("trackpoll stopped")
	return nil
}

// Close stops polling and releases the probe client, store and NATS
// connection. It is called by [Tracker.Start] on return; call it directly
// only for a Tracker that was never started. Close is idempotent.
func (t *Tracker) Close() error {
	t.closeOnce.Do(func() {
		if t.sched != nil {
			t.sched.Stop()
		}
		var errs []error
		for i := len(t.closers) - 1; i >= 0; i-- {
			if err := t.closers[i](); err != nil {
				errs = append(errs, err)
			}
		}
		t.closeErr = errors.Join(errs...)
	})
	return t.closeErr
}

// Register starts polling id.
//
// Registering an identifier that is already being polled leaves the existing
// session untouched and returns [AlreadyActive]. Registering one whose
// condition was already met returns [AlreadyCompleted] unless
// [WithReregisterCompleted] is enabled.
//
// Returns [ErrEmptyID] if id is empty.
func (t *Tracker) Register(ctx context.Context, id string) (Session, RegisterResult, error) {
	if id == "" {
		return Session{}, 0, ErrEmptyID
	}
	snap, result := t.sched.Register(ctx, id)
	return sessionFromSnapshot(snap), RegisterResult(result), nil
}

// Cancel stops polling id and reports whether a session existed. Cancelling
// an unknown identifier is a safe no-op.
func (t *Tracker) Cancel(ctx context.Context, id string) bool {
	return t.sched.Cancel(ctx, id)
}

// RestoreAll resumes sessions persisted by a previous run and returns how
// many were resumed. [Tracker.Start] calls it automatically unless
// [WithRestoreOnStart] is false.
func (t *Tracker) RestoreAll(ctx context.Context) (int, error) {
	return t.sched.RestoreAll(ctx)
}

// Sessions returns every live session, ordered by identifier.
func (t *Tracker) Sessions() []Session {
	snaps := t.sched.Sessions()
	out := make([]Session, len(snaps))
	for i, snap := range snaps {
		out[i] = sessionFromSnapshot(snap)
	}
	return out
}

// Session returns the live session for id.
func (t *Tracker) Session(id string) (Session, bool) {
	snap, ok := t.sched.Session(id)
	if !ok {
		return Session{}, false
	}
	return sessionFromSnapshot(snap), true
}

// Handler returns the HTTP API without binding a port, for mounting into an
// existing server. Combine with [WithoutServer].
func (t *Tracker) Handler() http.Handler {
	return t.api.Handler()
}

// Gatherer returns the registry holding the Tracker's Prometheus metrics.
func (t *Tracker) Gatherer() prometheus.Gatherer {
	return t.registry
}

// Port returns the configured HTTP port for the API server.
func (t *Tracker) Port() int {
	return t.port
}

// invokeCallbackSafe calls a notification callback with panic recovery.
// Panics are logged but do not propagate.
func invokeCallbackSafe(cb func(Notification), n Notification, logger *slog.Logger) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("notification callback panicked",
				"panic", r,
				"id", n.ID,
			)
		}
	}()
	cb(n)
}
