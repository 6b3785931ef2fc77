package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"

	"github.com/coachlink/rvcd/internal/feature"
)

// HTTPServer wraps net/http.Server around a Server's handler and adapts
// it to the feature lifecycle, mirroring the teacher's own ApiServer
// (client/doublezerod/internal/api.ApiServer) wrapping *http.Server with
// functional options — generalized here from a unix-socket listener to a
// TCP one, since the daemon's REST/WebSocket surface is network-facing.
type HTTPServer struct {
	*http.Server
	addr string
	log  *slog.Logger
}

// NewHTTPServer builds an HTTPServer serving s's handler on addr.
func NewHTTPServer(s *Server, addr string) *HTTPServer {
	return &HTTPServer{
		Server: &http.Server{Handler: s.NewMux()},
		addr:   addr,
		log:    s.log,
	}
}

func (h *HTTPServer) Init(ctx context.Context) error { return nil }

// Start binds addr and begins serving in a background goroutine; it
// returns as soon as the listener is established, not when serving ends.
func (h *HTTPServer) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", h.addr)
	if err != nil {
		return fmt.Errorf("api: listen on %s: %w", h.addr, err)
	}
	go func() {
		if err := h.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			h.log.Error("api: server exited", "error", err)
		}
	}()
	return nil
}

func (h *HTTPServer) Stop(ctx context.Context) error {
	return h.Shutdown(ctx)
}

func (h *HTTPServer) Health() feature.Health { return feature.HealthHealthy }
