package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/coachlink/rvcd/internal/diagnostics"
	"github.com/coachlink/rvcd/internal/feature"
	"github.com/stretchr/testify/require"
)

type fakeTransportInfo struct {
	up    map[string]bool
	stats map[string]InterfaceStats
}

func (f *fakeTransportInfo) Interfaces() map[string]bool { return f.up }
func (f *fakeTransportInfo) Stats(name string) (InterfaceStats, bool) {
	s, ok := f.stats[name]
	return s, ok
}

func TestHandleCANInterfaces(t *testing.T) {
	t.Parallel()
	s := New(Config{Transport: &fakeTransportInfo{
		up:    map[string]bool{"can0": true, "can1": false},
		stats: map[string]InterfaceStats{},
	}})
	req := httptest.NewRequest(http.MethodGet, "/can/interfaces", nil)
	w := httptest.NewRecorder()
	s.NewMux().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var views []InterfaceView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &views))
	require.Len(t, views, 2)
}

func TestHandleCANStatistics(t *testing.T) {
	t.Parallel()
	s := New(Config{Transport: &fakeTransportInfo{
		up: map[string]bool{"can0": true},
		stats: map[string]InterfaceStats{
			"can0": {RxFrames: 42, TxFrames: 3},
		},
	}})
	req := httptest.NewRequest(http.MethodGet, "/can/statistics", nil)
	w := httptest.NewRecorder()
	s.NewMux().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var views []InterfaceStatsView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &views))
	require.Len(t, views, 1)
	require.Equal(t, uint64(42), views[0].RxFrames)
}

func TestHandleHealth_OKWhenAllFeaturesHealthy(t *testing.T) {
	t.Parallel()
	m := feature.New(nil)
	m.Register("transport", &alwaysHealthyFeature{}, nil, nil, true)
	require.NoError(t, m.Resolve())

	s := New(Config{Features: m, Diagnostics: diagnostics.New(nil)})
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	s.NewMux().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, "ok", resp.Status)
}

type alwaysHealthyFeature struct{}

func (alwaysHealthyFeature) Init(ctx context.Context) error  { return nil }
func (alwaysHealthyFeature) Start(ctx context.Context) error { return nil }
func (alwaysHealthyFeature) Stop(ctx context.Context) error  { return nil }
func (alwaysHealthyFeature) Health() feature.Health          { return feature.HealthHealthy }
