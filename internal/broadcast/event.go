package broadcast

import (
	"time"

	"github.com/coachlink/rvcd/internal/decode"
)

// EventKind discriminates the three event shapes the Broadcaster fans out.
type EventKind string

const (
	EventEntityDelta EventKind = "entity_delta"
	EventRawFrame    EventKind = "raw_frame"
	EventSystem      EventKind = "system_event"
)

// Event is the wire-agnostic envelope delivered to every matching
// subscription. Exactly one of the payload fields is populated, selected
// by Kind.
type Event struct {
	Kind      EventKind    `json:"kind"`
	Timestamp time.Time    `json:"timestamp"`
	Delta     *EntityDelta `json:"entity_delta,omitempty"`
	Frame     *RawFrame    `json:"raw_frame,omitempty"`
	System    *SystemEvent `json:"system_event,omitempty"`
}

// EntityDelta is the wire shape of an entity state change, enriched with
// the device type/protocol the Broadcaster looks up from the mapping so
// subscription filters can match on them without round-tripping through
// the entity store.
type EntityDelta struct {
	EntityID      string         `json:"id"`
	DeviceType    string         `json:"device_type"`
	Protocol      string         `json:"protocol"`
	ChangedFields []string       `json:"changed_fields"`
	NewState      map[string]any `json:"new_state"`
	Available     bool           `json:"available"`
	Timestamp     time.Time      `json:"timestamp"`
}

// RawFrame is the raw-CAN firehose shape.
type RawFrame struct {
	Interface     string    `json:"interface"`
	ArbitrationID uint32    `json:"arbitration_id"`
	Payload       []byte    `json:"payload"`
	Timestamp     time.Time `json:"timestamp"`
}

// SystemEvent covers feature-state changes, interface up/down, and bulk
// command completion notices.
type SystemEvent struct {
	Kind   string         `json:"kind"`
	Detail map[string]any `json:"detail"`
}

// valueToWire renders a decoded signal value into a JSON-friendly form:
// a float64 for KindNumeric, a string for KindLabel, and nil for KindNA —
// never NaN, matching the decode package's own "N/A is a sentinel kind,
// not a numeric special value" discipline.
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
