package entitystore

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coachlink/rvcd/internal/decode"
	"github.com/coachlink/rvcd/internal/mapping"
	"github.com/jonboulle/clockwork"
)

// DefaultTickInterval is how often the store re-evaluates entity staleness.
const DefaultTickInterval = time.Second

// DeltaSink receives every Delta the store produces, in the order they
// are committed. Implemented by the Broadcaster; kept as a narrow
// interface here to avoid an import cycle.
type DeltaSink interface {
	PublishDelta(Delta)
}

type nopSink struct{}

func (nopSink) PublishDelta(Delta) {}

// command is the inbox message type; every store mutation and every
// consistent read is expressed as one of these and processed by the
// single run loop in order of arrival.
type command struct {
	kind reqKind

	// apply_decoded
	binding   *mapping.DeviceBinding
	signals   map[string]decode.Value
	timestamp time.Time
	ackDone   chan<- struct{}

	// reads
	entityID string
	respOne  chan<- (result)
	respAll  chan<- []Snapshot
	respHist chan<- []HistoryEntry
}

type reqKind int

const (
	reqApplyDecoded reqKind = iota
	reqSnapshot
	reqSnapshotAll
	reqHistory
	reqSnapshotByType
)

type result struct {
	snapshot  Snapshot
	available bool
	ok        bool
}

// Store is the single-writer authoritative entity table.
type Store struct {
	log  *slog.Logger
	sink DeltaSink

	entities map[string]*Entity
	byType   map[mapping.DeviceType][]*Entity

	inbox chan command
	tick  time.Duration
	clock clockwork.Clock

	wg       sync.WaitGroup
	running  atomic.Bool
	cancel   context.CancelFunc
	cancelMu sync.RWMutex
}

// Config configures a new Store.
type Config struct {
	Logger       *slog.Logger
	Sink         DeltaSink
	TickInterval time.Duration
	// Clock sources the staleness ticker; tests substitute
	// clockwork.NewFakeClock to advance time deterministically instead of
	// sleeping for real staleness windows.
	Clock      clockwork.Clock
	InboxDepth int
}

// New builds a Store pre-seeded with one Entity per binding in mp
// (invariant I3: every entity present has exactly one device binding).
func New(mp *mapping.Mapping, cfg Config) *Store {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Sink == nil {
		cfg.Sink = nopSink{}
	}
	if cfg.TickInterval == 0 {
		cfg.TickInterval = DefaultTickInterval
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.InboxDepth == 0 {
		cfg.InboxDepth = 256
	}

	s := &Store{
		log:      cfg.Logger,
		sink:     cfg.Sink,
		entities: make(map[string]*Entity),
		byType:   make(map[mapping.DeviceType][]*Entity),
		inbox:    make(chan command, cfg.InboxDepth),
		tick:     cfg.TickInterval,
		clock:    cfg.Clock,
	}
	if mp != nil {
		for _, b := range mp.All() {
			e := newEntity(b)
			s.entities[e.ID] = e
			s.byType[e.DeviceType] = append(s.byType[e.DeviceType], e)
		}
	}
	return s
}

// Start launches the run loop. Safe to call once; a second call while
// running is a no-op.
func (s *Store) Start(ctx context.Context) {
	if !s.running.CompareAndSwap(false, true) {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancelMu.Lock()
	s.cancel = cancel
	s.cancelMu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(ctx)
		s.running.Store(false)
	}()
}

// Stop cancels the run loop and blocks until it exits.
func (s *Store) Stop() {
	s.cancelMu.Lock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.cancelMu.Unlock()
	s.wg.Wait()
}

// IsRunning reports whether the run loop is active.
func (s *Store) IsRunning() bool { return s.running.Load() }

func (s *Store) run(ctx context.Context) {
	ticker := s.clock.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-s.inbox:
			s.handle(cmd)
		case now := <-ticker.Chan():
			s.checkStaleness(now)
		}
	}
}

func (s *Store) handle(cmd command) {
	switch cmd.kind {
	case reqApplyDecoded:
		s.applyDecoded(cmd.binding, cmd.signals, cmd.timestamp)
		if cmd.ackDone != nil {
			close(cmd.ackDone)
		}
	case reqSnapshot:
		e, ok := s.entities[cmd.entityID]
		if !ok {
			cmd.respOne <- result{ok: false}
			return
		}
		cmd.respOne <- result{snapshot: e.snapshot(), available: e.available, ok: true}
	case reqSnapshotAll:
		out := make([]Snapshot, 0, len(s.entities))
		for _, e := range s.entities {
			out = append(out, e.snapshot())
		}
		cmd.respAll <- out
	case reqSnapshotByType:
		var out []Snapshot
		for _, e := range s.byType[mapping.DeviceType(cmd.entityID)] {
			out = append(out, e.snapshot())
		}
		cmd.respAll <- out
	case reqHistory:
		e, ok := s.entities[cmd.entityID]
		if !ok {
			cmd.respHist <- nil
			return
		}
		cmd.respHist <- e.historySnapshot()
	}
}

// applyDecoded is invariant-bearing logic run only from the inbox
// goroutine: (I1) signal-level merge, (I2) monotonic last_updated.
func (s *Store) applyDecoded(b *mapping.DeviceBinding, signals map[string]decode.Value, ts time.Time) {
	e, ok := s.entities[b.EntityID]
	if !ok {
		s.log.Warn("entitystore: apply_decoded for unbound entity", "entity_id", b.EntityID)
		return
	}
	if !e.lastUpdated.IsZero() && !ts.After(e.lastUpdated) {
		s.log.Debug("entitystore: rejecting out-of-order update", "entity_id", b.EntityID, "ts", ts, "last_updated", e.lastUpdated)
		metricOutOfOrderDropsTotal.WithLabelValues(string(e.DeviceType)).Inc()
		return
	}

	pre := cloneState(e.state)
	changed := mergeSignals(e.state, signals)
	e.lastUpdated = ts
	wasAvailable := e.available
	e.available = true
	e.pushHistory(ts, cloneState(e.state))

	if wasAvailable != e.available {
		changed = append(changed, "available")
	}
	if len(changed) == 0 {
		return
	}
	_ = pre
	metricDeltasPublishedTotal.WithLabelValues(string(e.DeviceType)).Inc()
	s.sink.PublishDelta(Delta{
		EntityID:      e.ID,
		ChangedFields: changed,
		NewState:      cloneState(e.state),
		Available:     e.available,
		Timestamp:     ts,
	})
}

func (s *Store) checkStaleness(now time.Time) {
	// Staleness checks run on the same goroutine as writes, so no command
	// wrapper is needed; emit deltas directly.
	for _, e := range s.entities {
		if !e.available {
			continue
		}
		window := StalenessWindow(e.DeviceType)
		if e.lastUpdated.IsZero() || now.Sub(e.lastUpdated) < window {
			continue
		}
		e.available = false
		metricStalenessTransitionsTotal.WithLabelValues(string(e.DeviceType)).Inc()
		s.sink.PublishDelta(Delta{
			EntityID:      e.ID,
			ChangedFields: []string{"available"},
			NewState:      cloneState(e.state),
			Available:     false,
			Timestamp:     now,
		})
	}
}

// ApplyDecoded enqueues a decoded frame's signals for the named binding.
// Safe to call from any goroutine (typically the Dispatcher).
func (s *Store) ApplyDecoded(b *mapping.DeviceBinding, signals map[string]decode.Value, ts time.Time) {
	s.inbox <- command{kind: reqApplyDecoded, binding: b, signals: signals, timestamp: ts}
}

// ApplyDecodedSync behaves like ApplyDecoded but blocks until the update
// has been processed by the store's single writer — and, in particular,
// until any resulting delta has already reached the sink. The Dispatcher
// uses this to honor the ordering guarantee that raw-frame fan-out to the
// Broadcaster happens only after the Entity Store has produced its delta.
func (s *Store) ApplyDecodedSync(b *mapping.DeviceBinding, signals map[string]decode.Value, ts time.Time) {
	done := make(chan struct{})
	s.inbox <- command{kind: reqApplyDecoded, binding: b, signals: signals, timestamp: ts, ackDone: done}
	<-done
}

// State implements command.EntitySnapshot.
func (s *Store) State(entityID string) (map[string]decode.Value, bool, bool) {
	resp := make(chan result, 1)
	s.inbox <- command{kind: reqSnapshot, entityID: entityID, respOne: resp}
	r := <-resp
	if !r.ok {
		return nil, false, false
	}
	return r.snapshot.State, r.available, true
}

// Snapshot returns the full immutable snapshot of one entity.
func (s *Store) Snapshot(entityID string) (Snapshot, bool) {
	resp := make(chan result, 1)
	s.inbox <- command{kind: reqSnapshot, entityID: entityID, respOne: resp}
	r := <-resp
	return r.snapshot, r.ok
}

// SnapshotAll returns a snapshot of every entity in the store.
func (s *Store) SnapshotAll() []Snapshot {
	resp := make(chan []Snapshot, 1)
	s.inbox <- command{kind: reqSnapshotAll, respAll: resp}
	return <-resp
}

// SnapshotByType returns a snapshot of every entity of the given device type.
func (s *Store) SnapshotByType(t mapping.DeviceType) []Snapshot {
	resp := make(chan []Snapshot, 1)
	s.inbox <- command{kind: reqSnapshotByType, entityID: string(t), respAll: resp}
	return <-resp
}

// History returns the retained (timestamp, state) ring for one entity.
func (s *Store) History(entityID string) ([]HistoryEntry, error) {
	resp := make(chan []HistoryEntry, 1)
	s.inbox <- command{kind: reqHistory, entityID: entityID, respHist: resp}
	h := <-resp
	if h == nil {
		if _, ok := s.Snapshot(entityID); !ok {
			return nil, fmt.Errorf("entitystore: unknown entity %q", entityID)
		}
	}
	return h, nil
}
