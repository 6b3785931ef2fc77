package api

import "time"

// EntitySnapshot is the wire shape of an entity's current state, returned
// by the list and single-entity endpoints.
type EntitySnapshot struct {
	ID           string         `json:"id"`
	DeviceType   string         `json:"device_type"`
	Protocol     string         `json:"protocol"`
	Area         string         `json:"area"`
	Capabilities []string       `json:"capabilities"`
	State        map[string]any `json:"state"`
	LastUpdated  time.Time      `json:"last_updated"`
	Available    bool           `json:"available"`
}

// EntityListResponse is the paginated GET /entities response.
type EntityListResponse struct {
	Entities      []EntitySnapshot `json:"entities"`
	TotalCount    int              `json:"total_count"`
	Page          int              `json:"page"`
	PageSize      int              `json:"page_size"`
	HasNext       bool             `json:"has_next"`
	FiltersApplied map[string]string `json:"filters_applied"`
}

// HistoryEntry is one retained (timestamp, state) pair for GET
// /entities/{id}/history.
type HistoryEntry struct {
	Timestamp time.Time      `json:"timestamp"`
	State     map[string]any `json:"state"`
	Source    string         `json:"source"`
}

// ControlCommand is the POST /entities/{id}/control request body.
type ControlCommand struct {
	Command    string `json:"command"`
	State      *bool  `json:"state,omitempty"`
	Brightness *int   `json:"brightness,omitempty"`
}

// OperationResult is the outcome of a single control command.
type OperationResult struct {
	EntityID        string  `json:"entity_id"`
	Status          string  `json:"status"`
	ErrorMessage    string  `json:"error_message,omitempty"`
	ErrorCode       string  `json:"error_code,omitempty"`
	ExecutionTimeMs float64 `json:"execution_time_ms"`
}

// Operation status values.
const (
	StatusSuccess      = "success"
	StatusFailed       = "failed"
	StatusTimeout      = "timeout"
	StatusUnauthorized = "unauthorized"
)

// BulkControlRequest is the POST /entities/bulk-control request body.
type BulkControlRequest struct {
	EntityIDs      []string       `json:"entity_ids"`
	Command        ControlCommand `json:"command"`
	IgnoreErrors   bool           `json:"ignore_errors,omitempty"`
	TimeoutSeconds int            `json:"timeout_seconds,omitempty"`
}

// BulkOperationResult is the POST /entities/bulk-control response body.
type BulkOperationResult struct {
	OperationID          string            `json:"operation_id"`
	TotalCount           int               `json:"total_count"`
	SuccessCount         int               `json:"success_count"`
	FailedCount          int               `json:"failed_count"`
	Results              []OperationResult `json:"results"`
	TotalExecutionTimeMs float64           `json:"total_execution_time_ms"`
}

// ObservedEntryView is one row of the unmapped/unknown-pgn diagnostic
// tables.
type ObservedEntryView struct {
	PGN       uint32    `json:"pgn"`
	Instance  uint32    `json:"instance,omitempty"`
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
	Count     uint64    `json:"count"`
}

// InterfaceView is one row of GET /can/interfaces.
type InterfaceView struct {
	Name string `json:"name"`
	Up   bool   `json:"up"`
}

// InterfaceStatsView is one row of GET /can/statistics.
type InterfaceStatsView struct {
	Interface    string   `json:"interface"`
	RxFrames     uint64   `json:"rx_frames"`
	TxFrames     uint64   `json:"tx_frames"`
	RxBytes      uint64   `json:"rx_bytes"`
	TxBytes      uint64   `json:"tx_bytes"`
	RxErrors     uint64   `json:"rx_errors"`
	TxErrors     uint64   `json:"tx_errors"`
	BusErrors    uint64   `json:"bus_errors"`
	Restarts     uint64   `json:"restarts"`
	Overflow     uint64   `json:"overflow"`
	ObservedPGNs []uint32 `json:"observed_pgns"`
}

// HealthResponse is the GET /health body.
type HealthResponse struct {
	Status   string         `json:"status"`
	Features []FeatureView  `json:"features"`
}

// FeatureView is one row of GET /features and the features section of
// GET /health.
type FeatureView struct {
	Name    string `json:"name"`
	Enabled bool   `json:"enabled"`
	Stage   string `json:"stage"`
	Health  string `json:"health"`
	Unclean bool   `json:"unclean"`
}

// errorBody is the uniform JSON error envelope for malformed requests and
// unexpected failures.
type errorBody struct {
	Error string `json:"error"`
}
