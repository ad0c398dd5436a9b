package poller

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/jpalmerr/trackpoll/internal/events"
	"github.com/jpalmerr/trackpoll/internal/metrics"
	"github.com/jpalmerr/trackpoll/internal/store"
)

const (
	// DefaultMaxConcurrency bounds the number of probes a single tick runs
	// in parallel.
	DefaultMaxConcurrency = 10

	// DefaultPruneInterval is how often the background loop checks the
	// completed set against its limit.
	DefaultPruneInterval = 24 * time.Hour

	// maxIdleWait is the longest the loop sleeps when no session is queued.
	maxIdleWait = time.Minute
)

// Result is the outcome of one status probe.
type Result struct {
	// Matched is true when the awaited condition has been observed.
	Matched bool

	// MatchedAt is when the condition was first observed. A zero value is
	// replaced with the scheduler's clock at completion time.
	MatchedAt time.Time
}

// Prober checks the remote status of a tracked identifier.
//
// A returned error is treated as a transient failure and triggers the
// failure backoff. Check must honour ctx cancellation.
type Prober interface {
	Check(ctx context.Context, id string) (Result, error)
}

// ProberFunc adapts a function to the [Prober] interface.
type ProberFunc func(ctx context.Context, id string) (Result, error)

// Check calls f(ctx, id).
func (f ProberFunc) Check(ctx context.Context, id string) (Result, error) {
	return f(ctx, id)
}

// RegisterResult describes what [Scheduler.Register] did.
type RegisterResult int

const (
	// Registered means a new session was created and armed.
	Registered RegisterResult = iota

	// AlreadyActive means the identifier already has a live session.
	AlreadyActive

	// AlreadyCompleted means the identifier completed earlier and the
	// scheduler is configured not to re-arm it.
	AlreadyCompleted
)

// String returns the string representation of the result.
func (r RegisterResult) String() string {
	switch r {
	case Registered:
		return "registered"
	case AlreadyActive:
		return "already_active"
	case AlreadyCompleted:
		return "already_completed"
	default:
		return fmt.Sprintf("RegisterResult(%d)", int(r))
	}
}

// Config holds the scheduler's tunables.
type Config struct {
	// Policy controls interval growth and session lifetime.
	Policy Policy

	// MaxConcurrency bounds parallel probes per tick. Zero uses
	// [DefaultMaxConcurrency].
	MaxConcurrency int

	// CompletedLimit is the completed-set size above which a prune clears
	// it. Zero uses [DefaultCompletedLimit].
	CompletedLimit int

	// PruneInterval is how often the loop prunes the completed set. Zero
	// uses [DefaultPruneInterval].
	PruneInterval time.Duration

	// ReregisterCompleted lets Register arm a fresh session for an
	// identifier that has already completed. When false such a call
	// returns [AlreadyCompleted].
	ReregisterCompleted bool
}

// DefaultConfig returns a Config populated with default values.
func DefaultConfig() Config {
	return Config{
		Policy:         DefaultPolicy(),
		MaxConcurrency: DefaultMaxConcurrency,
		CompletedLimit: DefaultCompletedLimit,
		PruneInterval:  DefaultPruneInterval,
	}
}

// Options bundles the scheduler's collaborators.
type Options struct {
	// Prober performs status checks. Required.
	Prober Prober

	// Store persists session records. Defaults to an in-memory store.
	Store store.Store

	// Notifier receives a notification when a session completes. Optional.
	Notifier events.Notifier

	// Clock supplies the current time. Defaults to [SystemClock].
	Clock Clock

	// Logger receives scheduler events. Defaults to slog.Default().
	Logger *slog.Logger

	// Metrics records scheduler activity. Optional.
	Metrics *metrics.Metrics

	Config Config
}

// Scheduler owns the poll sessions and decides when each one is probed.
//
// Each session sits in a priority queue keyed by its next fire time.
// [Scheduler.Tick] pops every due session and probes them with bounded
// concurrency. The background loop started by [Scheduler.Start] sleeps until
// the earliest fire time and then ticks.
//
// State mutations are serialized by one mutex, and every mutation is written
// through to the store while that mutex is held, so the in-memory map and the
// store stay in step. Probes run outside the mutex.
//
// All methods are safe for concurrent use.
type Scheduler struct {
	cfg      Config
	prober   Prober
	store    store.Store
	notifier events.Notifier
	clock    Clock
	logger   *slog.Logger
	metrics  *metrics.Metrics

	mu        sync.Mutex
	sessions  map[string]*session
	queue     sessionQueue
	completed *CompletedSet

	// wake interrupts the loop's sleep when the queue head may have changed
	wake chan struct{}

	runMu   sync.Mutex
	started bool
	stopped bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewScheduler creates a [Scheduler]. It returns an error when no prober is
// given or the policy is invalid.
//
// The scheduler does not probe anything until [Scheduler.Start] is called or
// [Scheduler.Tick] is driven by the caller.
func NewScheduler(opts Options) (*Scheduler, error) {
	if opts.Prober == nil {
		return nil, errors.New("prober is required")
	}

	cfg := opts.Config
	if err := cfg.Policy.Validate(); err != nil {
		return nil, fmt.Errorf("invalid policy: %w", err)
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = DefaultMaxConcurrency
	}
	if cfg.CompletedLimit <= 0 {
		cfg.CompletedLimit = DefaultCompletedLimit
	}
	if cfg.PruneInterval <= 0 {
		cfg.PruneInterval = DefaultPruneInterval
	}

	st := opts.Store
	if st == nil {
		st = store.NewMemoryStore()
	}
	clock := opts.Clock
	if clock == nil {
		clock = SystemClock()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Scheduler{
		cfg:       cfg,
		prober:    opts.Prober,
		store:     st,
		notifier:  opts.Notifier,
		clock:     clock,
		logger:    logger,
		metrics:   opts.Metrics,
		sessions:  make(map[string]*session),
		completed: NewCompletedSet(cfg.CompletedLimit),
		wake:      make(chan struct{}, 1),
	}, nil
}

// Register starts polling id.
//
// A new session begins with the policy's initial interval and is persisted
// before Register returns. Registering an identifier that already has a live
// session leaves that session untouched and returns [AlreadyActive].
// Registering a completed identifier returns [AlreadyCompleted] unless the
// scheduler was configured with ReregisterCompleted.
func (s *Scheduler) Register(ctx context.Context, id string) (Snapshot, RegisterResult) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sess, ok := s.sessions[id]; ok {
		s.logger.Debug("session already active", "id", id)
		return sess.snapshot(), AlreadyActive
	}

	if s.completed.Contains(id) {
		if !s.cfg.ReregisterCompleted {
			s.logger.Debug("session already completed", "id", id)
			return Snapshot{ID: id, State: StateCompleted}, AlreadyCompleted
		}
		s.completed.Remove(id)
		s.metrics.SetCompleted(s.completed.Len())
	}

	now := s.clock.Now()
	sess := newSession(id, now, s.cfg.Policy.InitialInterval)
	s.sessions[id] = sess
	s.armLocked(sess, now)
	s.persistLocked(ctx, sess)

	s.metrics.Registered()
	s.metrics.SetActive(len(s.sessions))
	s.logger.Info("session registered", "id", id, "next_poll_in", sess.currentInterval)

	s.signal()
	return sess.snapshot(), Registered
}

// Cancel stops polling id and removes its persisted record. It reports
// whether a live session existed. Cancelling an unknown identifier is a
// no-op.
//
// A probe already in flight for id is not interrupted, but its result is
// discarded.
func (s *Scheduler) Cancel(ctx context.Context, id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return false
	}
	s.terminateLocked(ctx, sess, StateCancelled)
	s.logger.Info("session cancelled", "id", id, "polls", sess.pollCount)
	return true
}

// RestoreAll re-arms every persisted session that is still within its
// lifetime and returns how many were restored.
//
// Restored sessions keep their original start time and poll count; their
// interval restarts at the policy's initial interval. Records past their
// lifetime, and records for identifiers that already completed, are deleted
// from the store. Identifiers that already have a live session are skipped.
func (s *Scheduler) RestoreAll(ctx context.Context) (int, error) {
	records, err := s.store.GetAll(ctx)
	if err != nil {
		s.metrics.StoreError("get_all")
		return 0, fmt.Errorf("load sessions: %w", err)
	}

	ids := make([]string, 0, len(records))
	for id := range records {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	restored := 0
	for _, id := range ids {
		rec := records[id]
		if rec.ID == "" {
			rec.ID = id
		}
		if _, active := s.sessions[id]; active {
			continue
		}
		if s.completed.Contains(id) {
			s.removeRecordLocked(ctx, id)
			continue
		}
		if s.cfg.Policy.Expired(rec.Started(), now) {
			s.logger.Info("dropping expired session", "id", id, "started", rec.Started())
			s.removeRecordLocked(ctx, id)
			continue
		}

		sess := restoredSession(rec, s.cfg.Policy.InitialInterval)
		s.sessions[id] = sess
		s.armLocked(sess, now)
		s.persistLocked(ctx, sess)
		s.metrics.RestoredSession()
		restored++
	}

	s.metrics.SetActive(len(s.sessions))
	if restored > 0 {
		s.logger.Info("sessions restored", "count", restored)
		s.signal()
	}
	return restored, nil
}

// Tick probes every session whose fire time has been reached and returns the
// number of sessions it handled. It blocks until all of those probes have
// finished and their sessions have been rescheduled or terminated.
//
// Tick is exported so that callers with their own clock can drive the
// scheduler deterministically instead of using [Scheduler.Start].
func (s *Scheduler) Tick(ctx context.Context) int {
	due := s.popDue(s.clock.Now())
	if len(due) == 0 {
		return 0
	}

	var g errgroup.Group
	g.SetLimit(s.cfg.MaxConcurrency)
	for _, sess := range due {
		g.Go(func() error {
			s.runCycle(ctx, sess)
			return nil
		})
	}
	_ = g.Wait()

	return len(due)
}

// Start begins the scheduling loop in a background goroutine.
//
// Start is non-blocking and idempotent. If Stop was called before Start,
// Start is a no-op. If ctx is nil, context.Background() is used.
func (s *Scheduler) Start(ctx context.Context) {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	if s.started || s.stopped {
		return
	}
	s.started = true

	if ctx == nil {
		ctx = context.Background()
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.wg.Add(1)
	go s.loop(runCtx)
}

// Stop halts the scheduling loop and waits for in-flight probes to finish.
//
// Live sessions stay in the store so that a later [Scheduler.RestoreAll] can
// resume them. Stop is idempotent and safe to call before Start.
func (s *Scheduler) Stop() {
	s.runMu.Lock()
	if !s.stopped {
		s.stopped = true
		if s.cancel != nil {
			s.cancel()
		}
	}
	s.runMu.Unlock()

	s.wg.Wait()
}

// Sessions returns a snapshot of every live session, ordered by identifier.
func (s *Scheduler) Sessions() []Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Snapshot, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess.snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Session returns a snapshot of the live session for id.
func (s *Scheduler) Session(id string) (Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return Snapshot{}, false
	}
	return sess.snapshot(), true
}

// NextFire returns the time of the earliest queued probe.
func (s *Scheduler) NextFire() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	head := s.queue.peek()
	if head == nil {
		return time.Time{}, false
	}
	return head.nextFire, true
}

// IsCompleted reports whether id is in the completed set.
func (s *Scheduler) IsCompleted(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.completed.Contains(id)
}

// PruneCompleted clears the completed set if it has outgrown its limit and
// reports whether it did.
func (s *Scheduler) PruneCompleted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	pruned := s.completed.Prune()
	if pruned {
		s.logger.Info("completed set pruned", "limit", s.cfg.CompletedLimit)
		s.metrics.SetCompleted(0)
	}
	return pruned
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	prune := time.NewTicker(s.cfg.PruneInterval)
	defer prune.Stop()

	for {
		timer := time.NewTimer(s.untilNext())
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-s.wake:
			timer.Stop()
		case <-prune.C:
			timer.Stop()
			s.PruneCompleted()
		case <-timer.C:
			s.Tick(ctx)
		}
	}
}

// untilNext returns how long the loop may sleep before the queue head is due.
func (s *Scheduler) untilNext() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	head := s.queue.peek()
	if head == nil {
		return maxIdleWait
	}
	wait := head.nextFire.Sub(s.clock.Now())
	if wait < 0 {
		return 0
	}
	if wait > maxIdleWait {
		return maxIdleWait
	}
	return wait
}

func (s *Scheduler) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// popDue removes every session due at or before now from the queue.
func (s *Scheduler) popDue(now time.Time) []*session {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []*session
	for {
		head := s.queue.peek()
		if head == nil || head.nextFire.After(now) {
			break
		}
		due = append(due, heap.Pop(&s.queue).(*session))
	}
	return due
}

// runCycle performs one probe for sess and applies the result.
func (s *Scheduler) runCycle(ctx context.Context, sess *session) {
	s.mu.Lock()
	if s.sessions[sess.id] != sess {
		s.mu.Unlock()
		return
	}

	now := s.clock.Now()
	sess.pollCount++
	sess.lastPollTime = now

	id, polls := sess.id, sess.pollCount

	if s.cfg.Policy.Expired(sess.startTime, now) {
		s.terminateLocked(ctx, sess, StateExpired)
		s.mu.Unlock()
		s.logger.Info("session expired", "id", id, "polls", polls)
		return
	}
	s.mu.Unlock()

	start := time.Now()
	res, err := s.safeCheck(ctx, id)
	elapsed := time.Since(start)

	s.mu.Lock()
	if s.sessions[id] != sess {
		// cancelled, or replaced by a new registration, while probing
		s.mu.Unlock()
		s.logger.Debug("discarding probe result for inactive session", "id", id)
		return
	}

	now = s.clock.Now()
	switch {
	case err != nil && ctx.Err() != nil:
		// shutting down; keep the interval as it was
		s.metrics.ObserveProbe(metrics.OutcomeError, elapsed)
	case err != nil:
		s.metrics.ObserveProbe(metrics.OutcomeError, elapsed)
		sess.currentInterval = s.cfg.Policy.AfterFailure(sess.currentInterval)
		s.logger.Warn("probe failed",
			"id", id,
			"poll", polls,
			"next_poll_in", sess.currentInterval,
			"error", err,
		)
	case res.Matched:
		s.metrics.ObserveProbe(metrics.OutcomeMatched, elapsed)
		s.terminateLocked(ctx, sess, StateCompleted)
		s.completed.Add(id)
		s.metrics.SetCompleted(s.completed.Len())

		matchedAt := res.MatchedAt
		if matchedAt.IsZero() {
			matchedAt = now
		}
		s.mu.Unlock()

		s.logger.Info("condition met", "id", id, "polls", polls, "matched_at", matchedAt)
		s.emit(events.ConditionMet(id, matchedAt))
		return
	default:
		s.metrics.ObserveProbe(metrics.OutcomePending, elapsed)
		sess.currentInterval = s.cfg.Policy.AfterPending(sess.currentInterval, polls)
		s.logger.Debug("condition not met",
			"id", id,
			"poll", polls,
			"next_poll_in", sess.currentInterval,
		)
	}

	s.armLocked(sess, now)
	s.persistLocked(ctx, sess)
	s.mu.Unlock()
}

// safeCheck calls the prober with panic recovery.
// A panic is logged with its stack under a correlation ID and reported as a
// probe failure carrying that ID.
func (s *Scheduler) safeCheck(ctx context.Context, id string) (res Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			correlationID := uuid.NewString()
			s.logger.Error("prober panic",
				"correlation_id", correlationID,
				"id", id,
				"panic", fmt.Sprintf("%v", r),
				"stack", string(debug.Stack()),
			)
			res = Result{}
			err = fmt.Errorf("prober panic (correlation_id: %s)", correlationID)
		}
	}()
	return s.prober.Check(ctx, id)
}

// emit delivers n to the notifier. A panicking notifier is logged and
// otherwise ignored.
func (s *Scheduler) emit(n events.Notification) {
	if s.notifier == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("notifier panic",
				"id", n.ID,
				"panic", fmt.Sprintf("%v", r),
				"stack", string(debug.Stack()),
			)
		}
	}()
	s.notifier.Notify(n)
	s.metrics.Notified()
}

// armLocked queues sess to fire one interval after now.
func (s *Scheduler) armLocked(sess *session, now time.Time) {
	sess.state = StatePolling
	sess.nextFire = now.Add(sess.currentInterval)
	if sess.index >= 0 {
		heap.Fix(&s.queue, sess.index)
		return
	}
	heap.Push(&s.queue, sess)
}

// terminateLocked moves sess to a terminal state and drops it from the map,
// the queue and the store.
func (s *Scheduler) terminateLocked(ctx context.Context, sess *session, state State) {
	sess.state = state
	sess.nextFire = time.Time{}
	if sess.index >= 0 {
		heap.Remove(&s.queue, sess.index)
	}
	delete(s.sessions, sess.id)
	s.removeRecordLocked(ctx, sess.id)

	s.metrics.TerminatedSession(state.String())
	s.metrics.SetActive(len(s.sessions))
}

// persistLocked writes sess to the store. Failures are logged and counted;
// polling continues from the in-memory state.
func (s *Scheduler) persistLocked(ctx context.Context, sess *session) {
	// the write must land even when the caller's context is shutting down
	if err := s.store.Set(context.WithoutCancel(ctx), sess.record()); err != nil {
		s.metrics.StoreError("set")
		s.logger.Warn("failed to persist session", "id", sess.id, "error", err)
	}
}

func (s *Scheduler) removeRecordLocked(ctx context.Context, id string) {
	if err := s.store.Remove(context.WithoutCancel(ctx), id); err != nil {
		s.metrics.StoreError("remove")
		s.logger.Warn("failed to remove session record", "id", id, "error", err)
	}
}
