// Command gameserver runs the authoritative settlement game server: the
// simulation tick loop, the event hub, and the HTTP/websocket surface.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/havenworlds/haven-server/internal/api"
	"github.com/havenworlds/haven-server/internal/config"
	"github.com/havenworlds/haven-server/internal/engine"
	"github.com/havenworlds/haven-server/internal/events"
	"github.com/havenworlds/haven-server/internal/persistence"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg := config.Load()

	if dir := filepath.Dir(cfg.DatabaseURL); dir != "." && cfg.DatabaseURL != ":memory:" {
		os.MkdirAll(dir, 0755)
	}
	store, err := persistence.Open(cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to open store", "dsn", cfg.DatabaseURL, "error", err)
		os.Exit(1)
	}
	defer store.Close()
	slog.Info("store opened", "dsn", cfg.DatabaseURL)

	hub := events.NewHub()
	eng := engine.New(store, hub, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	go eng.Run(ctx)
	slog.Info("tick loop started", "tickHz", cfg.TickHz, "batchInterval", cfg.BatchInterval)

	server := api.NewServer(eng, store, hub, cfg)
	if err := server.Start(ctx); err != nil {
		slog.Error("http server failed", "error", err)
		os.Exit(1)
	}

	slog.Info("server stopped")
}
