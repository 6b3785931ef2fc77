package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coachlink/rvcd/internal/command"
	"github.com/coachlink/rvcd/internal/decode"
	"github.com/coachlink/rvcd/internal/entitystore"
	"github.com/coachlink/rvcd/internal/mapping"
	"github.com/stretchr/testify/require"
)

const testMappingDoc = `
bindings:
  - entity_id: light.main_galley
    friendly_name: Main Galley Light
    device_type: light
    area: galley
    capabilities: [on_off, brightness]
    protocol: rvc
    pgn: 130266
    instance: 4
  - entity_id: light.bedroom
    friendly_name: Bedroom Light
    device_type: light
    area: bedroom
    capabilities: [on_off, brightness]
    protocol: rvc
    pgn: 130266
    instance: 5
`

func testMapping(t *testing.T) *mapping.Mapping {
	t.Helper()
	mp, err := mapping.Parse([]byte(testMappingDoc), nil)
	require.NoError(t, err)
	return mp
}

// fakeEntities implements EntityReader and command.EntitySnapshot so a
// single fake can back both the read surface and the encoder's state
// lookups, matching how the daemon wires the concrete entitystore.Store
// for both roles.
type fakeEntities struct {
	snaps map[string]entitystore.Snapshot
}

func (f *fakeEntities) Snapshot(id string) (entitystore.Snapshot, bool) {
	s, ok := f.snaps[id]
	return s, ok
}

func (f *fakeEntities) SnapshotAll() []entitystore.Snapshot {
	out := make([]entitystore.Snapshot, 0, len(f.snaps))
	for _, s := range f.snaps {
		out = append(out, s)
	}
	return out
}

func (f *fakeEntities) SnapshotByType(t mapping.DeviceType) []entitystore.Snapshot {
	var out []entitystore.Snapshot
	for _, s := range f.snaps {
		if s.DeviceType == t {
			out = append(out, s)
		}
	}
	return out
}

func (f *fakeEntities) History(id string) ([]entitystore.HistoryEntry, error) {
	s, ok := f.snaps[id]
	if !ok {
		return nil, errNotFound(id)
	}
	return []entitystore.HistoryEntry{{At: s.LastUpdated, State: s.State}}, nil
}

func (f *fakeEntities) State(id string) (map[string]decode.Value, bool, bool) {
	s, ok := f.snaps[id]
	if !ok {
		return nil, false, false
	}
	return s.State, s.Available, true
}

type notFoundError string

func (e notFoundError) Error() string { return string(e) }
func errNotFound(id string) error     { return notFoundError("entity " + id + " not found") }

type fakeSubmitter struct {
	submitted []command.Result
	err       error
}

func (f *fakeSubmitter) Submit(ctx context.Context, result command.Result) error {
	f.submitted = append(f.submitted, result)
	return f.err
}

type fakeCommandRunner struct{}

func (fakeCommandRunner) ApplyBulk(ctx context.Context, mp *mapping.Mapping, entityIDs []string, cmd command.Command, opts entitystore.BulkOptions, sub entitystore.Submitter) entitystore.BulkResult {
	var outcomes []entitystore.Outcome
	for _, id := range entityIDs {
		binding, ok := mp.ByEntityID(id)
		if !ok {
			outcomes = append(outcomes, entitystore.Outcome{EntityID: id, Err: &command.Error{Failure: command.FailureUnknownEntity}})
			continue
		}
		_ = binding
		outcomes = append(outcomes, entitystore.Outcome{EntityID: id})
	}
	return entitystore.BulkResult{Outcomes: outcomes, TotalTime: time.Millisecond}
}

func testServer(t *testing.T) (*Server, *fakeEntities, *fakeSubmitter) {
	t.Helper()
	mp := testMapping(t)
	entities := &fakeEntities{snaps: map[string]entitystore.Snapshot{
		"light.main_galley": {
			ID: "light.main_galley", DeviceType: mapping.DeviceLight, Protocol: "rvc", Area: "galley",
			Capabilities: []string{"on_off", "brightness"},
			State:        map[string]decode.Value{"state": decode.Label("on"), "brightness": decode.Numeric(80)},
			LastUpdated:  time.Now(), Available: true,
		},
	}}
	sub := &fakeSubmitter{}
	s := New(Config{
		Mapping:   mp,
		Entities:  entities,
		Commands:  fakeCommandRunner{},
		Submitter: sub,
	})
	return s, entities, sub
}

func TestHandleListEntities(t *testing.T) {
	t.Parallel()
	s, _, _ := testServer(t)
	req := httptest.NewRequest(http.MethodGet, "/entities", nil)
	w := httptest.NewRecorder()
	s.NewMux().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp EntityListResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, 1, resp.TotalCount)
	require.Equal(t, "light.main_galley", resp.Entities[0].ID)
	require.Equal(t, "on", resp.Entities[0].State["state"])
}

func TestHandleGetEntity_NotFound(t *testing.T) {
	t.Parallel()
	s, _, _ := testServer(t)
	req := httptest.NewRequest(http.MethodGet, "/entities/light.nonexistent", nil)
	w := httptest.NewRecorder()
	s.NewMux().ServeHTTP(w, req)

	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandleControl_Success(t *testing.T) {
	t.Parallel()
	s, _, sub := testServer(t)
	body := strings.NewReader(`{"command":"brightness_up"}`)
	req := httptest.NewRequest(http.MethodPost, "/entities/light.main_galley/control", body)
	w := httptest.NewRecorder()
	s.NewMux().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var result OperationResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	require.Equal(t, StatusSuccess, result.Status)
	require.Len(t, sub.submitted, 1)
}

func TestHandleControl_UnknownEntity(t *testing.T) {
	t.Parallel()
	s, _, _ := testServer(t)
	body := strings.NewReader(`{"command":"toggle"}`)
	req := httptest.NewRequest(http.MethodPost, "/entities/light.nonexistent/control", body)
	w := httptest.NewRecorder()
	s.NewMux().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code) // operation results are always 200; status carries the failure
	var result OperationResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	require.Equal(t, StatusFailed, result.Status)
	require.Equal(t, string(command.FailureUnknownEntity), result.ErrorCode)
}

func TestHandleBulkControl_PartialFailureReturns207(t *testing.T) {
	t.Parallel()
	s, _, _ := testServer(t)
	body := strings.NewReader(`{"entity_ids":["light.main_galley","light.unknown"],"command":{"command":"set","state":false},"ignore_errors":true}`)
	req := httptest.NewRequest(http.MethodPost, "/entities/bulk-control", body)
	w := httptest.NewRecorder()
	s.NewMux().ServeHTTP(w, req)

	require.Equal(t, http.StatusMultiStatus, w.Code)
	var result BulkOperationResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	require.Equal(t, 2, result.TotalCount)
	require.Equal(t, 1, result.SuccessCount)
	require.Equal(t, 1, result.FailedCount)
}

func TestHandleBulkControl_RejectsEmptyEntityList(t *testing.T) {
	t.Parallel()
	s, _, _ := testServer(t)
	body := strings.NewReader(`{"entity_ids":[],"command":{"command":"set","state":false}}`)
	req := httptest.NewRequest(http.MethodPost, "/entities/bulk-control", body)
	w := httptest.NewRecorder()
	s.NewMux().ServeHTTP(w, req)

	require.Equal(t, http.StatusBadRequest, w.Code)
}
