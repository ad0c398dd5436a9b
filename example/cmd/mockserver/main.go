// Standalone mock tracking API for testing the CLI.
//
// Usage:
//
//	go run ./example/cmd/mockserver
//
// Then in another terminal:
//
//	go run ./cmd/trackpoll serve -c example/config.yaml
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"
)

func main() {
	addr := flag.String("addr", ":9999", "listen address")
	openAfter := flag.Int("open-after", 5, "polls before a message is reported opened")
	flag.Parse()

	fmt.Printf("Mock tracking API starting on %s\n", *addr)
	fmt.Printf("Messages open after %d polls\n", *openAfter)
	fmt.Println("Press Ctrl+C to stop")
	fmt.Println()

	var (
		polls    = make(map[string]int)
		openedAt = make(map[string]time.Time)
		mu       sync.Mutex
	)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/tracking/{id}", func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")

		mu.Lock()
		polls[id]++
		n := polls[id]
		if n == *openAfter {
			openedAt[id] = time.Now()
			slog.Info("message opened", "id", id, "polls", n)
		}
		at, opened := openedAt[id]
		mu.Unlock()

		events := []map[string]any{}
		if opened {
			events = append(events, map[string]any{"type": "open", "timestamp": at.Format(time.RFC3339)})
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"opened": opened,
			"events": events,
		})
	})

	if err := http.ListenAndServe(*addr, mux); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}
