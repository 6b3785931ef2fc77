package api

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewMux builds the http.ServeMux wiring every REST and WebSocket route to
// its handler, using Go 1.22+ method+pattern routing the way the teacher's
// own control APIs do (no router framework).
func (s *Server) NewMux() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /entities", s.handleListEntities)
	mux.HandleFunc("GET /entities/unmapped", s.handleUnmapped)
	mux.HandleFunc("GET /entities/unknown-pgns", s.handleUnknownPGNs)
	mux.HandleFunc("POST /entities/bulk-control", s.handleBulkControl)
	mux.HandleFunc("GET /entities/{id}", s.handleGetEntity)
	mux.HandleFunc("GET /entities/{id}/history", s.handleEntityHistory)
	mux.HandleFunc("POST /entities/{id}/control", s.handleControl)

	mux.HandleFunc("GET /can/interfaces", s.handleCANInterfaces)
	mux.HandleFunc("GET /can/statistics", s.handleCANStatistics)

	mux.HandleFunc("GET /diagnostics", s.handleDiagnostics)

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /features", s.handleFeatures)

	mux.HandleFunc("GET /ws", s.handleWebSocket)

	mux.Handle("GET /metrics", promhttp.Handler())

	return mux
}
