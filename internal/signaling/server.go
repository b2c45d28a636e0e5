package signaling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/1ureka/duocall/internal/util"
)

// Server exposes a Hub over HTTP.
type Server struct {
	addr     string
	hub      *Hub
	listener net.Listener
	http     *http.Server
}

// NewServer creates a relay server that will listen on addr.
func NewServer(addr string) *Server {
	return &Server{
		addr: addr,
		hub:  NewHub(),
	}
}

// Hub returns the relay behind the server.
func (s *Server) Hub() *Hub { return s.hub }

// Handler returns the route table. Exposed for httptest.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/room/v1/{roomID}/ws", s.hub.ServeWS)
	mux.HandleFunc("GET /health", s.handleHealth)
	return mux
}

// Start begins listening. Returns the bound address, which differs from the
// configured one when the port is 0.
func (s *Server) Start() (string, error) {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return "", fmt.Errorf("failed to start relay server: %w", err)
	}
	s.listener = listener
	s.http = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := s.http.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			util.LogError("relay server stopped: %v", err)
		}
	}()

	return listener.Addr().String(), nil
}

// Close stops accepting connections and disconnects every peer. Hijacked
// WebSocket connections are not tracked by http.Server, so the hub closes
// them itself.
func (s *Server) Close(ctx context.Context) error {
	s.hub.Close()
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status": "ok",
		"rooms":  s.hub.RoomCount(),
	})
}
