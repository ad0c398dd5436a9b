package main

import (
	"encoding/json"
	"log/slog"
	"math/rand"
	"net/http"
	"sync"
	"time"
)

// mockMessage tracks how many polls remain before a message is opened.
type mockMessage struct {
	pollsLeft int
	openedAt  time.Time
}

// StartMockTrackingServer runs a mock tracking API. Each message is reported
// opened after 3-12 polls, and a few never open at all.
// Call this in a goroutine before creating the tracker.
func StartMockTrackingServer(addr string) {
	var (
		messages = make(map[string]*mockMessage)
		mu       sync.Mutex
	)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/tracking/{id}", func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")

		// simulate small latency variance
		time.Sleep(time.Duration(20+rand.Intn(80)) * time.Millisecond)

		// occasional outage exercises failure backoff
		if rand.Intn(10) == 0 {
			http.Error(w, "tracking backend unavailable", http.StatusServiceUnavailable)
			return
		}

		mu.Lock()
		msg, exists := messages[id]
		if !exists {
			msg = &mockMessage{pollsLeft: 3 + rand.Intn(10)}
			if rand.Intn(5) == 0 {
				msg.pollsLeft = -1 // never opens
			}
			messages[id] = msg
		}
		if msg.pollsLeft > 0 {
			msg.pollsLeft--
			if msg.pollsLeft == 0 {
				msg.openedAt = time.Now()
				slog.Info("message opened", "id", id)
			}
		}
		opened := msg.pollsLeft == 0
		openedAt := msg.openedAt
		mu.Unlock()

		resp := map[string]any{"opened": opened, "events": []any{}}
		if opened {
			resp["events"] = []map[string]any{{"type": "open", "timestamp": openedAt.UnixMilli()}}
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			slog.Error("failed to write response", "error", err)
		}
	})

	if err := http.ListenAndServe(addr, mux); err != nil {
		slog.Error("mock server error", "error", err)
	}
}
