// Package api implements the REST and WebSocket boundary: a thin
// net/http layer translating wire requests into calls against the
// Entity Store, the Mapping table, the CAN Transport, the Feature
// Manager, and Cross-Protocol Diagnostics.
package api

import (
	"context"
	"log/slog"
	"time"

	"github.com/coachlink/rvcd/internal/broadcast"
	"github.com/coachlink/rvcd/internal/command"
	"github.com/coachlink/rvcd/internal/diagnostics"
	"github.com/coachlink/rvcd/internal/entitystore"
	"github.com/coachlink/rvcd/internal/feature"
	"github.com/coachlink/rvcd/internal/mapping"
	"golang.org/x/time/rate"
)

// DefaultSingleCommandTimeout and DefaultBulkCommandTimeout bound the
// control-path deadlines. The bulk deadline can be overridden per request
// via timeout_seconds; the single-command deadline is always
// DefaultSingleCommandTimeout and has no configuration option.
const (
	DefaultSingleCommandTimeout = 5 * time.Second
	DefaultBulkCommandTimeout   = 30 * time.Second
)

// DefaultControlRateLimit bounds how many control commands per second this
// server accepts before returning a 429, independent of the per-command
// timeout; protects the CAN Transport's outbound path from a runaway
// client rather than the bus itself (the Transport's own Submit already
// serializes per-interface sends).
const DefaultControlRateLimit = 50

// EntityReader is the read surface the API needs from the Entity Store.
type EntityReader interface {
	Snapshot(entityID string) (entitystore.Snapshot, bool)
	SnapshotAll() []entitystore.Snapshot
	SnapshotByType(t mapping.DeviceType) []entitystore.Snapshot
	History(entityID string) ([]entitystore.HistoryEntry, error)
}

// CommandRunner is the write surface the API needs from the Entity Store
// for bulk control; single-entity control is encoded directly against
// command.Encode and submitted via Transport.
type CommandRunner interface {
	ApplyBulk(ctx context.Context, mp *mapping.Mapping, entityIDs []string, cmd command.Command, opts entitystore.BulkOptions, sub entitystore.Submitter) entitystore.BulkResult
}

// InterfaceInfo is the read surface the API needs from the CAN Transport
// for the /can/* endpoints.
type InterfaceInfo interface {
	Interfaces() map[string]bool
	Stats(physicalName string) (InterfaceStats, bool)
}

// InterfaceStats mirrors transport.Snapshot structurally so this package
// doesn't need a //go:build linux dependency on the transport package
// itself; the daemon composition root adapts transport.Snapshot into
// this shape.
type InterfaceStats struct {
	RxFrames, TxFrames           uint64
	RxBytes, TxBytes             uint64
	RxErrors, TxErrors, BusErrors uint64
	Restarts, Overflow           uint64
	ObservedPGNs                 []uint32
}

// Server holds every dependency the HTTP and WebSocket handlers need.
// It is stateless beyond these handles — all mutable state lives in the
// components it delegates to.
type Server struct {
	log *slog.Logger

	mapping     *mapping.Mapping
	entities    EntityReader
	commands    CommandRunner
	submitter   entitystore.Submitter
	transport   InterfaceInfo
	diagnostics *diagnostics.Table
	features    *feature.Manager
	broadcaster *broadcast.Broadcaster
	unmapped    *mapping.ObservedTable
	unknown     *mapping.ObservedTable

	controlLimiter *rate.Limiter
}

// Config bundles every dependency Server needs.
type Config struct {
	Logger      *slog.Logger
	Mapping     *mapping.Mapping
	Entities    EntityReader
	Commands    CommandRunner
	Submitter   entitystore.Submitter
	Transport   InterfaceInfo
	Diagnostics *diagnostics.Table
	Features    *feature.Manager
	Broadcaster *broadcast.Broadcaster
	Unmapped    *mapping.ObservedTable
	Unknown     *mapping.ObservedTable
	// ControlRateLimit overrides DefaultControlRateLimit; zero keeps the
	// default.
	ControlRateLimit float64
}

// New constructs a Server from cfg.
func New(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	limit := cfg.ControlRateLimit
	if limit <= 0 {
		limit = DefaultControlRateLimit
	}
	return &Server{
		log:            cfg.Logger,
		mapping:        cfg.Mapping,
		entities:       cfg.Entities,
		commands:       cfg.Commands,
		submitter:      cfg.Submitter,
		transport:      cfg.Transport,
		diagnostics:    cfg.Diagnostics,
		features:       cfg.Features,
		broadcaster:    cfg.Broadcaster,
		unmapped:       cfg.Unmapped,
		unknown:        cfg.Unknown,
		controlLimiter: rate.NewLimiter(rate.Limit(limit), int(limit)),
	}
}
