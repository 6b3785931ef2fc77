// Package entitystore holds the in-memory authoritative state of every
// logical entity on the bus. It is the single writer: every mutation is
// serialized through one inbox goroutine, and every external reader sees
// an immutable snapshot produced at a point in that serialization.
package entitystore

import (
	"time"

	"github.com/coachlink/rvcd/internal/decode"
	"github.com/coachlink/rvcd/internal/mapping"
)

// DefaultHistoryDepth is the per-entity state-snapshot ring buffer depth.
const DefaultHistoryDepth = 256

// StalenessWindow returns how long an entity of the given device type may
// go without an applying frame before it is considered unavailable.
func StalenessWindow(t mapping.DeviceType) time.Duration {
	switch t {
	case mapping.DeviceLight:
		return 60 * time.Second
	case mapping.DeviceLock:
		return 30 * time.Second
	case mapping.DeviceTank:
		return 600 * time.Second
	case mapping.DeviceTemperature:
		return 300 * time.Second
	default:
		return 300 * time.Second
	}
}

// historyEntry is one retained (timestamp, state-snapshot) pair.
type historyEntry struct {
	At    time.Time
	State map[string]decode.Value
}

// Entity is the store's authoritative view of one logical device.
type Entity struct {
	ID           string
	DeviceType   mapping.DeviceType
	Protocol     string
	Area         string
	Capabilities []string

	state       map[string]decode.Value
	lastUpdated time.Time
	available   bool
	history     []historyEntry
	historyHead int
	historyLen  int
}

func newEntity(b *mapping.DeviceBinding) *Entity {
	return &Entity{
		ID:           b.EntityID,
		DeviceType:   b.DeviceType,
		Protocol:     b.Protocol,
		Area:         b.Area,
		Capabilities: append([]string(nil), b.Capabilities...),
		state:        make(map[string]decode.Value),
		history:      make([]historyEntry, DefaultHistoryDepth),
	}
}

// cloneState returns a shallow copy of the entity's current state map,
// safe for callers to read without further synchronization.
func cloneState(state map[string]decode.Value) map[string]decode.Value {
	out := make(map[string]decode.Value, len(state))
	for k, v := range state {
		out[k] = v
	}
	return out
}

// Snapshot is the immutable, caller-safe view of an entity at the moment
// it was produced.
type Snapshot struct {
	ID           string
	DeviceType   mapping.DeviceType
	Protocol     string
	Area         string
	Capabilities []string
	State        map[string]decode.Value
	LastUpdated  time.Time
	Available    bool
}

func (e *Entity) snapshot() Snapshot {
	return Snapshot{
		ID:           e.ID,
		DeviceType:   e.DeviceType,
		Protocol:     e.Protocol,
		Area:         e.Area,
		Capabilities: append([]string(nil), e.Capabilities...),
		State:        cloneState(e.state),
		LastUpdated:  e.lastUpdated,
		Available:    e.available,
	}
}

func (e *Entity) pushHistory(at time.Time, state map[string]decode.Value) {
	depth := len(e.history)
	e.history[e.historyHead] = historyEntry{At: at, State: state}
	e.historyHead = (e.historyHead + 1) % depth
	if e.historyLen < depth {
		e.historyLen++
	}
}

// HistoryEntry is a caller-facing (timestamp, state) pair.
type HistoryEntry struct {
	At    time.Time
	State map[string]decode.Value
}

func (e *Entity) historySnapshot() []HistoryEntry {
	depth := len(e.history)
	out := make([]HistoryEntry, 0, e.historyLen)
	start := (e.historyHead - e.historyLen + depth) % depth
	for i := 0; i < e.historyLen; i++ {
		idx := (start + i) % depth
		h := e.history[idx]
		out = append(out, HistoryEntry{At: h.At, State: cloneState(h.State)})
	}
	return out
}

// mergeSignals applies new decoded signal values on top of existing state,
// per-signal (invariant I1): only the signals named in updates are
// touched, everything else in state is preserved. Returns the set of
// changed field names.
func mergeSignals(state map[string]decode.Value, updates map[string]decode.Value) []string {
	var changed []string
	for name, v := range updates {
		if existing, ok := state[name]; ok && existing.Equal(v) {
			continue
		}
		state[name] = v
		changed = append(changed, name)
	}
	return changed
}
