// Command steward runs the colony steward beside colonysim. It observes the
// colony, triages storage pressure and stockpile balance, and acts through
// the admin API.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/talgya/mini-colony/internal/steward"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// Configuration from environment.
	apiURL := envOrDefault("COLONY_API_URL", "http://localhost:8080")
	adminKey := os.Getenv("COLONY_ADMIN_KEY")
	memoryPath := envOrDefault("STEWARD_MEMORY", "steward_memory.json")
	intervalSec := envIntOrDefault("STEWARD_INTERVAL", 30)

	if adminKey == "" {
		slog.Error("COLONY_ADMIN_KEY is required")
		os.Exit(1)
	}

	interval := time.Duration(intervalSec) * time.Second
	slog.Info("colony steward starting", "api_url", apiURL, "interval", interval)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	s := steward.New(apiURL, adminKey, memoryPath)

	slog.Info("waiting for colony API...")
	if !waitForAPI(ctx, s.Observer) {
		slog.Error("colony API did not become ready")
		os.Exit(1)
	}

	runCycle(ctx, s)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			runCycle(ctx, s)
		case <-ctx.Done():
			slog.Info("steward stopped")
			return
		}
	}
}

func runCycle(ctx context.Context, s *steward.Steward) {
	d, err := s.RunCycle(ctx)
	if err != nil {
		slog.Error("steward cycle failed", "error", err)
		return
	}
	slog.Info("steward cycle done", "action", d.Action)
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envIntOrDefault(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return defaultVal
}

// waitForAPI polls the status endpoint with exponential backoff until it
// responds. Gives up after 5 minutes or when ctx ends.
func waitForAPI(ctx context.Context, o *steward.Observer) bool {
	backoff := 2 * time.Second
	maxBackoff := 30 * time.Second
	deadline := time.Now().Add(5 * time.Minute)

	for {
		if o.Ready(ctx) {
			slog.Info("colony API is ready")
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		slog.Info("colony not ready, retrying...", "backoff", backoff)
		select {
		case <-ctx.Done():
			return false
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, maxBackoff)
	}
}
