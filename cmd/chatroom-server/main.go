package main

import (
	"errors"
	stdlog "log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/thesjq/chatroom/internal/config"
	"github.com/thesjq/chatroom/internal/hub"
	"github.com/thesjq/chatroom/internal/logger"
	"github.com/thesjq/chatroom/internal/server"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadServer()
	if err != nil {
		stdlog.Fatalf("configuration: %v", err)
	}

	log := logger.New(cfg.LogLevel)
	defer func() { _ = log.Sync() }()

	h := hub.New(cfg.QueueCapacity, log.Named("hub"))
	go h.Run()

	srv := server.New(cfg, h, log.Named("server"))

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-stop:
		log.Info("shutting down", zap.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server failed", zap.Error(err))
		}
	}

	if err := srv.Shutdown(cfg.ShutdownTimeout); err != nil {
		log.Warn("server shutdown", zap.Error(err))
	}
	if err := h.Shutdown(cfg.ShutdownTimeout); err != nil {
		log.Warn("hub shutdown", zap.Error(err))
	}
}
