// Package broadcast fans decoded entity deltas, raw CAN frames, and
// system events out to subscribed WebSocket clients, each behind a
// bounded per-subscription queue with a drop-oldest overflow policy.
package broadcast

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coachlink/rvcd/internal/entitystore"
	"github.com/coachlink/rvcd/internal/frame"
	"github.com/coachlink/rvcd/internal/mapping"
)

// DefaultInboxDepth bounds the Broadcaster's own publish queue; producers
// (the Entity Store, the Dispatcher, feature/diagnostics system events)
// are on the hot ingestion path and must never block on a slow
// subscriber, so a full inbox drops the event and counts it separately
// from the per-subscription drop-oldest policy.
const DefaultInboxDepth = 4096

// EntityLookup resolves an entity id to the device type/protocol used for
// filter matching. Implemented by mapping.Mapping; declared narrowly here
// so this package depends on one method, not the whole mapping surface.
type EntityLookup interface {
	ByEntityID(id string) (*mapping.DeviceBinding, bool)
}

// Broadcaster owns the subscription set and the single goroutine that
// mutates it; Subscribe/Unsubscribe and every Publish* method are safe to
// call from any goroutine and simply enqueue a command.
type Broadcaster struct {
	log    *slog.Logger
	lookup EntityLookup

	inbox chan any // subscribeCmd | unsubscribeCmd | publishCmd

	subs map[string]*Subscription

	droppedInbox atomic.Uint64

	wg       sync.WaitGroup
	running  atomic.Bool
	cancel   context.CancelFunc
	cancelMu sync.RWMutex
}

// New constructs a Broadcaster. lookup may be nil if device-type/protocol
// filtering is not needed (e.g. in tests); deltas then carry empty
// DeviceType/Protocol fields and only match filters that don't constrain
// those dimensions.
func New(log *slog.Logger, lookup EntityLookup) *Broadcaster {
	if log == nil {
		log = slog.Default()
	}
	return &Broadcaster{
		log:    log,
		lookup: lookup,
		inbox:  make(chan any, DefaultInboxDepth),
		subs:   make(map[string]*Subscription),
	}
}

// Start launches the broadcaster's single-writer run loop.
func (b *Broadcaster) Start(ctx context.Context) {
	if !b.running.CompareAndSwap(false, true) {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	b.cancelMu.Lock()
	b.cancel = cancel
	b.cancelMu.Unlock()

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer b.running.Store(false)
		b.run(ctx)
	}()
}

// Stop cancels the run loop and waits for it to exit.
func (b *Broadcaster) Stop() {
	b.cancelMu.Lock()
	if b.cancel != nil {
		b.cancel()
		b.cancel = nil
	}
	b.cancelMu.Unlock()
	b.wg.Wait()
}

// IsRunning reports whether the run loop is active.
func (b *Broadcaster) IsRunning() bool { return b.running.Load() }

type subscribeCmd struct {
	sub  *Subscription
	resp chan<- struct{}
}

type unsubscribeCmd struct {
	id   string
	resp chan<- struct{}
}

type publishCmd struct {
	event Event
}

func (b *Broadcaster) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-b.inbox:
			switch c := cmd.(type) {
			case subscribeCmd:
				b.subs[c.sub.ID] = c.sub
				close(c.resp)
			case unsubscribeCmd:
				delete(b.subs, c.id)
				close(c.resp)
			case publishCmd:
				b.deliver(c.event)
			}
		}
	}
}

// Subscribe registers a new subscription and returns it; the caller reads
// Subscription.Events() from its own outbound pump goroutine.
func (b *Broadcaster) Subscribe(id string, filter Filter) *Subscription {
	sub := newSubscription(id, filter, DefaultQueueDepth)
	resp := make(chan struct{})
	b.inbox <- subscribeCmd{sub: sub, resp: resp}
	<-resp
	return sub
}

// Unsubscribe removes a subscription; its queue is left for the caller's
// outbound pump to drain and exit on its own (closing over the same
// context it was started with).
func (b *Broadcaster) Unsubscribe(id string) {
	resp := make(chan struct{})
	b.inbox <- unsubscribeCmd{id: id, resp: resp}
	<-resp
}

func (b *Broadcaster) publish(e Event) {
	select {
	case b.inbox <- publishCmd{event: e}:
	default:
		b.droppedInbox.Add(1)
		b.log.Warn("broadcast: inbox full, dropping event", "kind", e.Kind)
	}
}

// deliver evaluates every subscription's filter against e and enqueues a
// match onto that subscription's bounded queue, applying drop-oldest
// backpressure and the overflow-then-close policy. Runs only on the
// broadcaster's own goroutine.
func (b *Broadcaster) deliver(e Event) {
	for id, sub := range b.subs {
		if sub.closed {
			continue
		}
		if !b.matches(sub.Filter, e) {
			continue
		}
		select {
		case sub.queue <- e:
		default:
			select {
			case <-sub.queue:
				sub.dropped++
			default:
			}
			select {
			case sub.queue <- e:
			default:
			}
		}
		if sub.Overflowed() {
			sub.closed = true
			close(sub.queue)
			delete(b.subs, id)
			b.log.Warn("broadcast: subscription overflowed, closing", "subscription", id, "dropped", sub.dropped)
		}
	}
}

func (b *Broadcaster) matches(f Filter, e Event) bool {
	switch e.Kind {
	case EventEntityDelta:
		return f.matchesDelta(e.Delta.EntityID, e.Delta.DeviceType, e.Delta.Protocol)
	case EventRawFrame:
		return f.matchesRaw()
	case EventSystem:
		return f.matchesSystem()
	default:
		return false
	}
}

// PublishDelta implements entitystore.DeltaSink.
func (b *Broadcaster) PublishDelta(d entitystore.Delta) {
	deviceType, protocol := "", ""
	if b.lookup != nil {
		if binding, ok := b.lookup.ByEntityID(d.EntityID); ok {
			deviceType = string(binding.DeviceType)
			protocol = binding.Protocol
		}
	}
	b.publish(Event{
		Kind:      EventEntityDelta,
		Timestamp: d.Timestamp,
		Delta: &EntityDelta{
			EntityID:      d.EntityID,
			DeviceType:    deviceType,
			Protocol:      protocol,
			ChangedFields: d.ChangedFields,
			NewState:      stateToWire(d.NewState),
			Available:     d.Available,
			Timestamp:     d.Timestamp,
		},
	})
}

// PublishRawFrame implements dispatcher.RawSink.
func (b *Broadcaster) PublishRawFrame(f frame.Frame) {
	payload := make([]byte, f.Length)
	copy(payload, f.Payload())
	b.publish(Event{
		Kind:      EventRawFrame,
		Timestamp: f.ReceivedAt,
		Frame: &RawFrame{
			Interface:     f.Interface,
			ArbitrationID: f.ArbitrationID,
			Payload:       payload,
			Timestamp:     f.ReceivedAt,
		},
	})
}

// PublishSystemEvent implements diagnostics.EventSink and is also used
// directly by the Feature Manager and CAN Transport for up/down and
// bulk-command-completion notices.
func (b *Broadcaster) PublishSystemEvent(kind string, detail map[string]any) {
	b.publish(Event{
		Kind:      EventSystem,
		Timestamp: time.Now(),
		System:    &SystemEvent{Kind: kind, Detail: detail},
	})
}
