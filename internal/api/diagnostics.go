package api

import (
	"net/http"

	"github.com/coachlink/rvcd/internal/diagnostics"
)

// dtcView is the wire shape of one diagnostic trouble code.
type dtcView struct {
	Protocol      string `json:"protocol"`
	SourceAddress uint8  `json:"source_address"`
	Code          uint32 `json:"code"`
	Severity      string `json:"severity"`
	Active        bool   `json:"active"`
	Occurrence    uint64 `json:"occurrence"`
}

// correlationGroupView groups DTCs that different protocol decoders
// reported for what looks like the same underlying fault.
type correlationGroupView struct {
	SourceAddress uint8     `json:"source_address"`
	Code          uint32    `json:"code"`
	Members       []dtcView `json:"members"`
}

func toDTCView(d diagnostics.DTC) dtcView {
	return dtcView{
		Protocol: string(d.Protocol), SourceAddress: d.SourceAddress, Code: d.Code,
		Severity: string(d.Severity), Active: d.Active, Occurrence: d.Occurrence,
	}
}

// handleDiagnostics serves GET /diagnostics: every active DTC plus any
// cross-protocol correlation groups, the only external surface the
// diagnostics table has since spec.md's REST list doesn't name one
// explicitly.
func (s *Server) handleDiagnostics(w http.ResponseWriter, r *http.Request) {
	if s.diagnostics == nil {
		writeJSON(w, http.StatusOK, map[string]any{"active": []dtcView{}, "correlated": []correlationGroupView{}})
		return
	}

	active := s.diagnostics.Active()
	activeViews := make([]dtcView, 0, len(active))
	for _, d := range active {
		activeViews = append(activeViews, toDTCView(d))
	}

	groups := s.diagnostics.CorrelationGroups()
	groupViews := make([]correlationGroupView, 0, len(groups))
	for _, g := range groups {
		members := make([]dtcView, 0, len(g.Members))
		for _, m := range g.Members {
			members = append(members, toDTCView(m))
		}
		groupViews = append(groupViews, correlationGroupView{SourceAddress: g.SourceAddress, Code: g.Code, Members: members})
	}

	writeJSON(w, http.StatusOK, map[string]any{"active": activeViews, "correlated": groupViews})
}
