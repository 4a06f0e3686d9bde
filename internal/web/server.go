package web

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Server hosts the status websocket endpoint.
type Server struct {
	hub  *Hub
	http *http.Server
}

// NewServer creates a server for the given hub listening on addr.
func NewServer(hub *Hub, addr string) *Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws/status", hub.HandleWS)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})

	return &Server{
		hub: hub,
		http: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

// ListenAndServe blocks until the server is shut down.
func (s *Server) ListenAndServe() error {
	webLog.Info("web_server_listening")
	err := s.http.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops the HTTP server and disconnects all hub clients.
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.Stop()
	return s.http.Shutdown(ctx)
}
