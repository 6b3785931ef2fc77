package api

import (
	"net/http"

	"github.com/coachlink/rvcd/internal/feature"
)

func featureViews(statuses []feature.Status) []FeatureView {
	out := make([]FeatureView, 0, len(statuses))
	for _, st := range statuses {
		out = append(out, FeatureView{
			Name: st.Name, Enabled: st.Enabled,
			Stage: string(st.Stage), Health: string(st.Health), Unclean: st.Unclean,
		})
	}
	return out
}

// handleFeatures serves GET /features.
func (s *Server) handleFeatures(w http.ResponseWriter, r *http.Request) {
	if s.features == nil {
		writeJSON(w, http.StatusOK, []FeatureView{})
		return
	}
	writeJSON(w, http.StatusOK, featureViews(s.features.Statuses()))
}

// handleHealth serves GET /health: overall status is "degraded" if any
// enabled feature is unclean or failed, "ok" otherwise.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.features == nil {
		writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
		return
	}
	statuses := s.features.Statuses()
	status := "ok"
	for _, st := range statuses {
		if !st.Enabled {
			continue
		}
		if st.Unclean || st.Health == feature.HealthFailed || st.Stage == feature.StageFailed {
			status = "degraded"
			break
		}
	}
	writeJSON(w, http.StatusOK, HealthResponse{Status: status, Features: featureViews(statuses)})
}
