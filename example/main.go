package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jpalmerr/trackpoll"
)

func main() {
	// start mock server (see mock_server.go)
	go StartMockTrackingServer(":9999")
	time.Sleep(100 * time.Millisecond)

	tr, err := trackpoll.New(
		trackpoll.WithProbeURL("http://localhost:9999"),
		trackpoll.WithInitialInterval(time.Second),
		trackpoll.WithMaxInterval(10*time.Second),
		trackpoll.WithMaxLifetime(2*time.Minute),
		trackpoll.WithBackoffThreshold(3),
		trackpoll.WithFileStore("trackpoll-demo.json"),
		trackpoll.WithPort(8080),
		trackpoll.WithNotificationCallback(func(n trackpoll.Notification) {
			fmt.Printf("  opened: %-8s at %s\n", n.ID, n.MatchedAt.Format(time.TimeOnly))
		}),
	)
	if err != nil {
		slog.Error("failed to create tracker", "error", err)
		os.Exit(1)
	}

	// set up context with signal handling for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	for i := 1; i <= 5; i++ {
		id := fmt.Sprintf("msg-%d", i)
		if _, res, err := tr.Register(ctx, id); err != nil {
			slog.Error("failed to register", "id", id, "error", err)
		} else if res != trackpoll.Registered {
			slog.Info("skipped registration", "id", id, "result", res.String())
		}
	}

	fmt.Println()
	fmt.Println("  trackpoll demo")
	fmt.Println()
	fmt.Println("  Polling 5 mock messages; most open within a minute.")
	fmt.Println("  Sessions:  curl http://localhost:8080/api/sessions")
	fmt.Println("  Events:    curl -N http://localhost:8080/api/events")
	fmt.Println("  Register:  curl -d '{\"id\":\"msg-9\"}' http://localhost:8080/api/sessions")
	fmt.Println()
	fmt.Println("  Press Ctrl+C to stop")
	fmt.Println()

	if err := tr.Start(ctx); err != nil {
		slog.Error("trackpoll error", "error", err)
		os.Exit(1)
	}
}
