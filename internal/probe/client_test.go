package probe

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jpalmerr/trackpoll/internal/poller"
)

// openedExtractor matches bodies of the form {"opened": true}.
func openedExtractor(body []byte) (poller.Result, error) {
	var doc struct {
		Opened bool `json:"opened"`
	}
	if err := json.Unmarshal(body, &doc); err != nil {
		return poller.Result{}, err
	}
	return poller.Result{Matched: doc.Opened}, nil
}

func newTestClient(t *testing.T, url string, mutate func(*Options)) *Client {
	t.Helper()

	opts := Options{BaseURL: url, Extractor: openedExtractor}
	if mutate != nil {
		mutate(&opts)
	}
	c, err := New(opts)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(c.Close)
	return c
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name    string
		opts    Options
		wantErr bool
	}{
		{name: "valid", opts: Options{BaseURL: "http://localhost:3000", Extractor: openedExtractor}},
		{name: "https with path", opts: Options{BaseURL: "https://example.com/tracker/", Extractor: openedExtractor}},
		{name: "empty URL", opts: Options{Extractor: openedExtractor}, wantErr: true},
		{name: "relative URL", opts: Options{BaseURL: "/api", Extractor: openedExtractor}, wantErr: true},
		{name: "unsupported scheme", opts: Options{BaseURL: "ftp://example.com", Extractor: openedExtractor}, wantErr: true},
		{name: "missing extractor", opts: Options{BaseURL: "http://localhost:3000"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.opts)
			if (err != nil) != tt.wantErr {
				t.Errorf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestClient_Check(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		body        string
		wantMatched bool
		wantErr     bool
	}{
		{name: "opened", status: http.StatusOK, body: `{"opened":true}`, wantMatched: true},
		{name: "not opened", status: http.StatusOK, body: `{"opened":false}`},
		{name: "not found", status: http.StatusNotFound, body: `{}`, wantErr: true},
		{name: "server error", status: http.StatusInternalServerError, body: `oops`, wantErr: true},
		{name: "malformed body", status: http.StatusOK, body: `not json`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			c := newTestClient(t, server.URL, nil)
			res, err := c.Check(context.Background(), "abc")

			if (err != nil) != tt.wantErr {
				t.Fatalf("Check() error = %v, wantErr %v", err, tt.wantErr)
			}
			if res.Matched != tt.wantMatched {
				t.Errorf("Matched = %v, want %v", res.Matched, tt.wantMatched)
			}
		})
	}
}

func TestClient_Check_StatusError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	c := newTestClient(t, server.URL, nil)
	_, err := c.Check(context.Background(), "abc")

	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("Check() error = %v, want *StatusError", err)
	}
	if statusErr.Code != http.StatusBadGateway {
		t.Errorf("Code = %d, want %d", statusErr.Code, http.StatusBadGateway)
	}
}

func TestClient_Check_RequestShape(t *testing.T) {
	var gotPath, gotMethod, gotContentType, gotCache, gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.EscapedPath()
		gotContentType = r.Header.Get("Content-Type")
		gotCache = r.Header.Get("Cache-Control")
		gotAuth = r.Header.Get("Authorization")
		_, _ = w.Write([]byte(`{"opened":false}`))
	}))
	defer server.Close()

	c := newTestClient(t, server.URL+"/", func(o *Options) {
		o.Headers = map[string]string{"Authorization": "Bearer secret"}
	})
	if _, err := c.Check(context.Background(), "a b/c"); err != nil {
		t.Fatalf("Check() error = %v", err)
	}

	if gotMethod != http.MethodGet {
		t.Errorf("method = %s, want GET", gotMethod)
	}
	if gotPath != "/api/tracking/a%20b%2Fc" {
		t.Errorf("path = %s, want /api/tracking/a%%20b%%2Fc", gotPath)
	}
	if gotContentType != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", gotContentType)
	}
	if gotCache != "no-cache" {
		t.Errorf("Cache-Control = %q, want no-cache", gotCache)
	}
	if gotAuth != "Bearer secret" {
		t.Errorf("Authorization = %q, want custom header", gotAuth)
	}
}

func TestClient_Check_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer server.Close()

	c := newTestClient(t, server.URL, func(o *Options) {
		o.Timeout = 50 * time.Millisecond
	})

	start := time.Now()
	_, err := c.Check(context.Background(), "slow")
	if err == nil {
		t.Fatal("Check() expected timeout error")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Check() took %s, want it bounded by the timeout", elapsed)
	}
}

func TestClient_Check_NoRetries(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	c := newTestClient(t, server.URL, nil)
	_, _ = c.Check(context.Background(), "abc")

	if got := hits.Load(); got != 1 {
		t.Errorf("server hit %d times, want 1", got)
	}
}

func TestClient_Check_BodyLimit(t *testing.T) {
	large := strings.Repeat("x", maxResponseBodySize+1024)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(large))
	}))
	defer server.Close()

	var seen int
	c := newTestClient(t, server.URL, func(o *Options) {
		o.Extractor = func(body []byte) (poller.Result, error) {
			seen = len(body)
			return poller.Result{}, nil
		}
	})
	if _, err := c.Check(context.Background(), "abc"); err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	if seen != maxResponseBodySize {
		t.Errorf("extractor saw %d bytes, want %d", seen, maxResponseBodySize)
	}
}

func TestClient_Check_RateLimit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"opened":false}`))
	}))
	defer server.Close()

	c := newTestClient(t, server.URL, func(o *Options) {
		o.RateLimit = 1
	})

	// the first request uses the single burst token
	if _, err := c.Check(context.Background(), "a"); err != nil {
		t.Fatalf("first Check() error = %v", err)
	}

	// the second must wait about a second, longer than this deadline
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := c.Check(ctx, "b"); err == nil {
		t.Error("second Check() within the rate window: expected error")
	}
}

func TestClient_Check_CancelledContext(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"opened":true}`))
	}))
	defer server.Close()

	c := newTestClient(t, server.URL, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := c.Check(ctx, "abc"); err == nil {
		t.Error("Check() with cancelled context: expected error")
	}
}

func TestClient_CloseIsSafe(t *testing.T) {
	var c *Client
	c.Close()

	c = newTestClient(t, "http://localhost:1", nil)
	c.Close()
	c.Close()
}
