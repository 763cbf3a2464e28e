package main

import (
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/Mahmoud-Mh/IRC/internal/chat"
	"github.com/Mahmoud-Mh/IRC/internal/config"
	"github.com/Mahmoud-Mh/IRC/internal/server"
	"github.com/Mahmoud-Mh/IRC/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	}))
	slog.SetDefault(logger)

	st, err := store.Open(cfg.DatabasePath)
	if err != nil {
		logger.Error("failed to open store", "path", cfg.DatabasePath, "error", err)
		os.Exit(1)
	}

	hub := chat.NewHub(st, cfg, logger)
	go hub.Run()
	logger.Info("hub started and ready to manage WebSocket connections")

	handler := server.NewHandler(hub, st, cfg, logger)
	httpServer := server.CreateServer(cfg.Port, handler.Routes())

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.StartServer(httpServer, logger)
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", "error", err)
			os.Exit(1)
		}
	case sig := <-stop:
		logger.Info("received shutdown signal", "signal", sig.String())
	}

	if err := server.ShutdownServer(httpServer, cfg.ShutdownTimeout, logger); err != nil {
		logger.Error("HTTP server shutdown failed", "error", err)
	}
	if err := hub.Shutdown(cfg.ShutdownTimeout); err != nil {
		logger.Error("hub shutdown failed", "error", err)
	}

	logger.Info("server stopped")
}
