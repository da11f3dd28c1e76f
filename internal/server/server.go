// Package server exposes the chatroom hub over WebSocket. It upgrades HTTP
// connections, runs one connection adapter per client, and enforces origin,
// rate-limit, and frame-size policy at the edge so only well-formed events
// reach the hub.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/thesjq/chatroom/internal/config"
	"github.com/thesjq/chatroom/internal/hub"
)

// Server ties the hub to its HTTP front door.
type Server struct {
	cfg config.ServerConfig
	hub *hub.Hub
	log *zap.Logger

	upgrader websocket.Upgrader
	allowed  map[string]struct{}
	allowAll bool

	http *http.Server
}

// New builds a server around an already-running hub.
func New(cfg config.ServerConfig, h *hub.Hub, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}

	s := &Server{
		cfg: cfg,
		hub: h,
		log: log,
	}
	s.allowed, s.allowAll = normalizeOrigins(cfg.AllowedOrigins, log)
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	s.http = &http.Server{
		Addr:         cfg.BindAddress,
		Handler:      s.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Routes configures the HTTP mux: health check at the root and the
// WebSocket endpoint at /ws.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.HealthHandler)
	mux.HandleFunc("/ws", s.WebSocketHandler)
	return mux
}

// Start begins listening for connections and blocks until the server exits.
func (s *Server) Start() error {
	s.log.Info("server listening", zap.String("addr", s.http.Addr))
	return s.http.ListenAndServe()
}

// Shutdown gracefully stops the HTTP server, waiting for active connections
// to finish or the timeout to elapse.
func (s *Server) Shutdown(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := s.http.Shutdown(ctx); err != nil {
		s.log.Warn("http shutdown", zap.Error(err))
		return err
	}
	return nil
}
