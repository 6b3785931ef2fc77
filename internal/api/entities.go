package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/coachlink/rvcd/internal/command"
	"github.com/coachlink/rvcd/internal/decode"
	"github.com/coachlink/rvcd/internal/entitystore"
	"github.com/coachlink/rvcd/internal/mapping"
	"github.com/google/uuid"
)

const (
	defaultPage     = 1
	defaultPageSize = 50
	maxPageSize     = 500
)

func valueToWire(v decode.Value) any {
	switch v.Kind {
	case decode.KindNumeric:
		return v.Numeric
	case decode.KindLabel:
		return v.Label
	default:
		return nil
	}
}

func stateToWire(state map[string]decode.Value) map[string]any {
	out := make(map[string]any, len(state))
	for k, v := range state {
		out[k] = valueToWire(v)
	}
	return out
}

func toEntitySnapshot(snap entitystore.Snapshot) EntitySnapshot {
	return EntitySnapshot{
		ID:           snap.ID,
		DeviceType:   string(snap.DeviceType),
		Protocol:     snap.Protocol,
		Area:         snap.Area,
		Capabilities: snap.Capabilities,
		State:        stateToWire(snap.State),
		LastUpdated:  snap.LastUpdated,
		Available:    snap.Available,
	}
}

// handleListEntities serves GET /entities, filterable by device_type, area,
// and protocol, with offset-based pagination.
func (s *Server) handleListEntities(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	deviceType := q.Get("device_type")
	area := q.Get("area")
	protocol := q.Get("protocol")
	page := queryInt(q, "page", defaultPage)
	pageSize := queryInt(q, "page_size", defaultPageSize)
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}

	var all []entitystore.Snapshot
	if deviceType != "" {
		all = s.entities.SnapshotByType(mapping.DeviceType(deviceType))
	} else {
		all = s.entities.SnapshotAll()
	}

	filtered := all[:0:0]
	for _, snap := range all {
		if area != "" && snap.Area != area {
			continue
		}
		if protocol != "" && snap.Protocol != protocol {
			continue
		}
		filtered = append(filtered, snap)
	}

	total := len(filtered)
	start := (page - 1) * pageSize
	end := start + pageSize
	if start > total {
		start = total
	}
	if end > total {
		end = total
	}

	paged := filtered[start:end]
	out := make([]EntitySnapshot, 0, len(paged))
	for _, snap := range paged {
		out = append(out, toEntitySnapshot(snap))
	}

	filtersApplied := make(map[string]string)
	if deviceType != "" {
		filtersApplied["device_type"] = deviceType
	}
	if area != "" {
		filtersApplied["area"] = area
	}
	if protocol != "" {
		filtersApplied["protocol"] = protocol
	}

	writeJSON(w, http.StatusOK, EntityListResponse{
		Entities:       out,
		TotalCount:     total,
		Page:           page,
		PageSize:       pageSize,
		HasNext:        end < total,
		FiltersApplied: filtersApplied,
	})
}

func queryInt(q map[string][]string, key string, fallback int) int {
	vals, ok := q[key]
	if !ok || len(vals) == 0 {
		return fallback
	}
	n, err := strconv.Atoi(vals[0])
	if err != nil {
		return fallback
	}
	return n
}

// handleGetEntity serves GET /entities/{id}.
func (s *Server) handleGetEntity(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	snap, ok := s.entities.Snapshot(id)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("entity %q not found", id))
		return
	}
	writeJSON(w, http.StatusOK, toEntitySnapshot(snap))
}

// handleEntityHistory serves GET /entities/{id}/history.
func (s *Server) handleEntityHistory(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	history, err := s.entities.History(id)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}

	q := r.URL.Query()
	var since time.Time
	if raw := q.Get("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid since parameter: %v", err))
			return
		}
		since = parsed
	}
	limit := queryInt(q, "limit", 0)

	out := make([]HistoryEntry, 0, len(history))
	for _, h := range history {
		if !since.IsZero() && h.At.Before(since) {
			continue
		}
		out = append(out, HistoryEntry{Timestamp: h.At, State: stateToWire(h.State), Source: "can"})
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	writeJSON(w, http.StatusOK, out)
}

func parseControlCommand(body ControlCommand) (command.Command, error) {
	kind := command.Kind(body.Command)
	switch kind {
	case command.KindSet, command.KindToggle, command.KindBrightnessUp,
		command.KindBrightnessDown, command.KindLock, command.KindUnlock:
	default:
		return command.Command{}, fmt.Errorf("unrecognized command %q", body.Command)
	}
	return command.Command{Kind: kind, State: body.State, Brightness: body.Brightness}, nil
}

// handleControl serves POST /entities/{id}/control.
func (s *Server) handleControl(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	if !s.controlLimiter.Allow() {
		writeError(w, http.StatusTooManyRequests, "control rate limit exceeded")
		return
	}

	var body ControlCommand
	if err := decodeJSONBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	cmd, err := parseControlCommand(body)
	if err != nil {
		writeJSON(w, http.StatusOK, OperationResult{
			EntityID: id, Status: StatusFailed,
			ErrorMessage: err.Error(), ErrorCode: string(command.FailureUnsupportedCommand),
		})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), DefaultSingleCommandTimeout)
	defer cancel()

	start := time.Now()
	result := s.submitControl(ctx, id, cmd)
	result.ExecutionTimeMs = float64(time.Since(start).Microseconds()) / 1000.0
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) submitControl(ctx context.Context, entityID string, cmd command.Command) OperationResult {
	binding, ok := s.mapping.ByEntityID(entityID)
	if !ok {
		return OperationResult{EntityID: entityID, Status: StatusFailed, ErrorCode: string(command.FailureUnknownEntity), ErrorMessage: "no such entity"}
	}

	// command.Encode needs an EntitySnapshot; the EntityReader's Snapshot
	// method already satisfies that shape via entitystore.Store itself, so
	// the daemon wires the concrete *entitystore.Store in here too.
	snap, ok := s.entities.(command.EntitySnapshot)
	if !ok {
		return OperationResult{EntityID: entityID, Status: StatusFailed, ErrorCode: string(command.FailureUnknownEntity), ErrorMessage: "entity store unavailable"}
	}
	encoded, err := command.Encode(binding, cmd, snap)
	if err != nil {
		failure, _ := command.AsFailure(err)
		return OperationResult{EntityID: entityID, Status: StatusFailed, ErrorCode: string(failure), ErrorMessage: err.Error()}
	}

	if err := s.submitter.Submit(ctx, encoded); err != nil {
		if ctx.Err() != nil {
			return OperationResult{EntityID: entityID, Status: StatusTimeout, ErrorMessage: err.Error()}
		}
		return OperationResult{EntityID: entityID, Status: StatusFailed, ErrorMessage: err.Error()}
	}
	return OperationResult{EntityID: entityID, Status: StatusSuccess}
}

// handleBulkControl serves POST /entities/bulk-control.
func (s *Server) handleBulkControl(w http.ResponseWriter, r *http.Request) {
	var body BulkControlRequest
	if err := decodeJSONBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(body.EntityIDs) == 0 {
		writeError(w, http.StatusBadRequest, "entity_ids must not be empty")
		return
	}
	cmd, err := parseControlCommand(body.Command)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	timeout := DefaultBulkCommandTimeout
	if body.TimeoutSeconds > 0 {
		timeout = time.Duration(body.TimeoutSeconds) * time.Second
	}
	ctx, cancel := context.WithTimeout(r.Context(), timeout)
	defer cancel()

	bulk := s.commands.ApplyBulk(ctx, s.mapping, body.EntityIDs, cmd, entitystore.BulkOptions{IgnoreErrors: body.IgnoreErrors}, s.submitter)

	results := make([]OperationResult, 0, len(bulk.Outcomes))
	successCount, failedCount := 0, 0
	for _, o := range bulk.Outcomes {
		if o.Err == nil {
			results = append(results, OperationResult{EntityID: o.EntityID, Status: StatusSuccess})
			successCount++
			continue
		}
		failure, _ := command.AsFailure(o.Err)
		status := StatusFailed
		if ctx.Err() != nil {
			status = StatusTimeout
		}
		results = append(results, OperationResult{
			EntityID: o.EntityID, Status: status,
			ErrorCode: string(failure), ErrorMessage: o.Err.Error(),
		})
		failedCount++
	}

	status := http.StatusOK
	if failedCount > 0 {
		status = http.StatusMultiStatus
	}

	writeJSON(w, status, BulkOperationResult{
		OperationID:          uuid.NewString(),
		TotalCount:           len(body.EntityIDs),
		SuccessCount:         successCount,
		FailedCount:          failedCount,
		Results:              results,
		TotalExecutionTimeMs: float64(bulk.TotalTime.Microseconds()) / 1000.0,
	})
}

// handleUnmapped serves GET /entities/unmapped: (pgn, instance) pairs
// observed on the bus with no device binding.
func (s *Server) handleUnmapped(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, observedToView(s.unmapped))
}

// handleUnknownPGNs serves GET /entities/unknown-pgns: PGNs not present in
// the catalog at all.
func (s *Server) handleUnknownPGNs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, observedToView(s.unknown))
}

func observedToView(t *mapping.ObservedTable) []ObservedEntryView {
	if t == nil {
		return nil
	}
	snapshot := t.Snapshot()
	out := make([]ObservedEntryView, 0, len(snapshot))
	for key, entry := range snapshot {
		out = append(out, ObservedEntryView{
			PGN: key[0], Instance: key[1],
			FirstSeen: entry.FirstSeen, LastSeen: entry.LastSeen, Count: entry.Count,
		})
	}
	return out
}
