package api

import (
	"net/http"
	"sort"
)

// handleCANInterfaces serves GET /can/interfaces.
func (s *Server) handleCANInterfaces(w http.ResponseWriter, r *http.Request) {
	if s.transport == nil {
		writeJSON(w, http.StatusOK, []InterfaceView{})
		return
	}
	ifaces := s.transport.Interfaces()
	names := make([]string, 0, len(ifaces))
	for name := range ifaces {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]InterfaceView, 0, len(names))
	for _, name := range names {
		out = append(out, InterfaceView{Name: name, Up: ifaces[name]})
	}
	writeJSON(w, http.StatusOK, out)
}

// handleCANStatistics serves GET /can/statistics.
func (s *Server) handleCANStatistics(w http.ResponseWriter, r *http.Request) {
	if s.transport == nil {
		writeJSON(w, http.StatusOK, []InterfaceStatsView{})
		return
	}
	ifaces := s.transport.Interfaces()
	names := make([]string, 0, len(ifaces))
	for name := range ifaces {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]InterfaceStatsView, 0, len(names))
	for _, name := range names {
		stats, ok := s.transport.Stats(name)
		if !ok {
			continue
		}
		out = append(out, InterfaceStatsView{
			Interface: name,
			RxFrames: stats.RxFrames, TxFrames: stats.TxFrames,
			RxBytes: stats.RxBytes, TxBytes: stats.TxBytes,
			RxErrors: stats.RxErrors, TxErrors: stats.TxErrors,
			BusErrors: stats.BusErrors, Restarts: stats.Restarts,
			Overflow: stats.Overflow, ObservedPGNs: stats.ObservedPGNs,
		})
	}
	writeJSON(w, http.StatusOK, out)
}
