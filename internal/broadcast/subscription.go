package broadcast

// Filter narrows the event stream a subscription receives. An empty/zero
// field within a dimension means "no restriction on this dimension";
// RawCAN additionally gates the RawFrame event kind independently of the
// other fields (a subscription can combine entity-delta filters with raw
// CAN, per the wire contract in internal/api).
type Filter struct {
	EntityIDs   map[string]bool
	DeviceTypes map[string]bool
	Protocols   map[string]bool
	RawCAN      bool
}

// NewFilter builds a Filter from slice inputs, the shape the WebSocket
// boundary decodes a subscription request into.
func NewFilter(entityIDs, deviceTypes, protocols []string, rawCAN bool) Filter {
	f := Filter{RawCAN: rawCAN}
	if len(entityIDs) > 0 {
		f.EntityIDs = toSet(entityIDs)
	}
	if len(deviceTypes) > 0 {
		f.DeviceTypes = toSet(deviceTypes)
	}
	if len(protocols) > 0 {
		f.Protocols = toSet(protocols)
	}
	return f
}

func toSet(vals []string) map[string]bool {
	out := make(map[string]bool, len(vals))
	for _, v := range vals {
		out[v] = true
	}
	return out
}

// matchesDelta reports whether an EntityDelta passes this filter. Device
// type and protocol are not part of the entity store's delta; the
// broadcaster looks them up from the binding at publish time and records
// them on the EntityDelta it passes here.
func (f Filter) matchesDelta(entityID, deviceType, protocol string) bool {
	if f.EntityIDs != nil && !f.EntityIDs[entityID] {
		return false
	}
	if f.DeviceTypes != nil && !f.DeviceTypes[deviceType] {
		return false
	}
	if f.Protocols != nil && !f.Protocols[protocol] {
		return false
	}
	return true
}

func (f Filter) matchesRaw() bool { return f.RawCAN }

func (f Filter) matchesSystem() bool { return true }

// DefaultQueueDepth is a subscription's bounded delivery queue size.
const DefaultQueueDepth = 256

// DefaultDropThreshold is how many dropped events a subscription tolerates
// before it is marked overflowed and closed.
const DefaultDropThreshold = 1024

// Subscription is one live client registration: a filter plus a bounded
// delivery queue drained by its own outbound pump goroutine.
type Subscription struct {
	ID     string
	Filter Filter

	queue   chan Event
	dropped uint64
	closed  bool
}

func newSubscription(id string, filter Filter, depth int) *Subscription {
	if depth <= 0 {
		depth = DefaultQueueDepth
	}
	return &Subscription{ID: id, Filter: filter, queue: make(chan Event, depth)}
}

// Events returns the channel the subscription's outbound pump should drain.
func (s *Subscription) Events() <-chan Event { return s.queue }

// Dropped reports how many events have been dropped under backpressure.
func (s *Subscription) Dropped() uint64 { return s.dropped }

// Overflowed reports whether this subscription has exceeded the drop
// threshold and been closed.
func (s *Subscription) Overflowed() bool { return s.dropped > DefaultDropThreshold }
