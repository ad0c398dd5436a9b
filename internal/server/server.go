package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jpalmerr/trackpoll/internal/events"
	"github.com/jpalmerr/trackpoll/internal/poller"
)

const (
	// sseWriteTimeout is the maximum time allowed for a single SSE write operation.
	// This prevents goroutine leaks when clients are slow or disconnected.
	// Must be <= shutdown timeout to ensure clean shutdown.
	sseWriteTimeout = 5 * time.Second

	shutdownTimeout = 5 * time.Second

	maxRequestBodySize = 64 << 10

	// MaxIDLength bounds the identifiers accepted by the session API.
	MaxIDLength = 256
)

// Sessions is the subset of the scheduler the API drives.
type Sessions interface {
	Register(ctx context.Context, id string) (poller.Snapshot, poller.RegisterResult)
	Cancel(ctx context.Context, id string) bool
	Sessions() []poller.Snapshot
	Session(id string) (poller.Snapshot, bool)
}

// Feed delivers notifications to SSE clients.
type Feed interface {
	Subscribe() <-chan events.Notification
	Unsubscribe(ch <-chan events.Notification)
}

// Server handles HTTP requests for the session API.
//
// The server is designed for graceful shutdown via context cancellation.
type Server struct {
	sessions Sessions
	feed     Feed
	gatherer prometheus.Gatherer
	port     int
	logger   *slog.Logger

	mu         sync.Mutex
	httpServer *http.Server
	addr       net.Addr
}

// NewServer creates a new HTTP [Server].
//
// Parameters:
//   - sessions: Scheduler that owns the poll sessions
//   - feed: Source of notifications for "/api/events" (may be nil)
//   - gatherer: Metrics registry served at "/metrics" (may be nil)
//   - port: TCP port to listen on; 0 picks a free port
//   - logger: Logger for server events
//
// The server is not started until [Server.Start] is called.
func NewServer(sessions Sessions, feed Feed, gatherer prometheus.Gatherer, port int, logger *slog.Logger) *Server {
	return &Server{
		sessions: sessions,
		feed:     feed,
		gatherer: gatherer,
		port:     port,
		logger:   logger,
	}
}

// Handler returns the server's routes without binding a port.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/sessions", s.handleRegister)
	mux.HandleFunc("GET /api/sessions", s.handleList)
	mux.HandleFunc("GET /api/sessions/{id}", s.handleGet)
	mux.HandleFunc("DELETE /api/sessions/{id}", s.handleCancel)
	mux.HandleFunc("GET /healthz", s.handleHealth)

	if s.feed != nil {
		mux.HandleFunc("GET /api/events", s.handleSSE)
	}
	if s.gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	return mux
}

// Start begins serving HTTP requests in a background goroutine.
//
// Start is non-blocking and returns immediately after confirming the server
// is listening. The server will continue running until the context is
// cancelled, at which point it initiates a graceful shutdown with a 5-second
// timeout.
//
// Returns an error if the server fails to bind to the configured port.
func (s *Server) Start(ctx context.Context) error {
	// create listener first to verify port availability synchronously
	addr := fmt.Sprintf(":%d", s.port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to bind to port %d: %w", s.port, err)
	}

	httpServer := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		// BaseContext derives all request contexts from the server context.
		// When ctx is cancelled, all request contexts are also cancelled,
		// enabling graceful shutdown of long-running handlers like SSE.
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	s.mu.Lock()
	s.httpServer = httpServer
	s.addr = ln.Addr()
	s.mu.Unlock()

	go func() {
		if err := httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server error", "error", err)
		}
	}()

	// shutdown on context cancellation
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("http server shutdown error", "error", err)
		}
	}()

	s.logger.Info("http server listening", "addr", ln.Addr().String())
	return nil
}

// Addr returns the address the server is bound to, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

type registerRequest struct {
	ID string `json:"id"`
}

// sessionView is the JSON form of a session.
type sessionView struct {
	ID                string     `json:"id"`
	State             string     `json:"state"`
	StartTime         time.Time  `json:"startTime"`
	LastPollTime      *time.Time `json:"lastPollTime,omitempty"`
	PollCount         int        `json:"pollCount"`
	CurrentIntervalMs int64      `json:"currentIntervalMs"`
	NextPollAt        *time.Time `json:"nextPollAt,omitempty"`
}

func newSessionView(snap poller.Snapshot) sessionView {
	v := sessionView{
		ID:                snap.ID,
		State:             snap.State.String(),
		StartTime:         snap.StartTime,
		PollCount:         snap.PollCount,
		CurrentIntervalMs: snap.CurrentInterval.Milliseconds(),
	}
	if !snap.LastPollTime.IsZero() {
		t := snap.LastPollTime
		v.LastPollTime = &t
	}
	if !snap.NextPollAt.IsZero() {
		t := snap.NextPollAt
		v.NextPollAt = &t
	}
	return v
}

type errorResponse struct {
	Error string `json:"error"`
	ID    string `json:"id,omitempty"`
}

// handleRegister starts polling the identifier in the request body.
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	id := strings.TrimSpace(req.ID)
	if id == "" {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "id is required"})
		return
	}
	if len(id) > MaxIDLength {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: fmt.Sprintf("id exceeds %d bytes", MaxIDLength)})
		return
	}

	snap, result := s.sessions.Register(r.Context(), id)
	switch result {
	case poller.Registered:
		s.writeJSON(w, http.StatusCreated, newSessionView(snap))
	case poller.AlreadyActive:
		s.writeJSON(w, http.StatusOK, newSessionView(snap))
	case poller.AlreadyCompleted:
		s.writeJSON(w, http.StatusConflict, errorResponse{Error: "session already completed", ID: id})
	default:
		s.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "unexpected register result"})
	}
}

// handleList returns every live session.
func (s *Server) handleList(w http.ResponseWriter, _ *http.Request) {
	snaps := s.sessions.Sessions()
	views := make([]sessionView, 0, len(snaps))
	for _, snap := range snaps {
		views = append(views, newSessionView(snap))
	}
	s.writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	snap, ok := s.sessions.Session(id)
	if !ok {
		s.writeJSON(w, http.StatusNotFound, errorResponse{Error: "session not found", ID: id})
		return
	}
	s.writeJSON(w, http.StatusOK, newSessionView(snap))
}

// handleCancel stops polling an identifier. Unknown identifiers are not an
// error.
func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	s.sessions.Cancel(r.Context(), r.PathValue("id"))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}

// handleSSE streams notifications via Server-Sent Events.
//
// The handler uses write deadlines to prevent goroutine leaks when clients are
// slow or disconnected. Without deadlines, a blocked Fprintf call would prevent
// the handler from detecting context cancellation or channel closure.
func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	if _, ok := w.(http.Flusher); !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	rc := http.NewResponseController(w)

	// track if write deadlines are supported (may not be for some ResponseWriter impls)
	deadlinesSupported := true

	writeAndFlush := func(data []byte) error {
		if deadlinesSupported {
			if err := rc.SetWriteDeadline(time.Now().Add(sseWriteTimeout)); err != nil {
				// deadline not supported by underlying connection, continue without
				s.logger.Warn("sse write deadlines not supported", "error", err)
				deadlinesSupported = false
			}
		}

		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			return err
		}
		return rc.Flush()
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	ch := s.feed.Subscribe()
	defer s.feed.Unsubscribe(ch)

	// commit headers so clients see the stream open before the first event
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		return
	}

	for {
		select {
		case n, ok := <-ch:
			if !ok {
				return
			}
			data, err := json.Marshal(n)
			if err != nil {
				continue
			}
			if err := writeAndFlush(data); err != nil {
				return
			}

		case <-r.Context().Done():
			// request context is derived from server context via BaseContext,
			// so this fires on both client disconnect AND server shutdown
			return
		}
	}
}
