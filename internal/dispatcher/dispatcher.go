// Package dispatcher owns the bridge's central ingress: it pulls raw
// frames off the transport, runs them through the frame decoder, routes
// the result to the entity store or the observed-traffic tables, and
// fans raw frames out to the Broadcaster for "raw CAN" subscribers.
package dispatcher

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coachlink/rvcd/internal/catalog"
	"github.com/coachlink/rvcd/internal/decode"
	"github.com/coachlink/rvcd/internal/frame"
	"github.com/coachlink/rvcd/internal/mapping"
)

// EntityApplier is the entity store capability the dispatcher needs: a
// synchronous apply so the ordering guarantee (Broadcaster fan-out happens
// after the store has produced its delta) can be honored without the
// dispatcher importing entitystore directly.
type EntityApplier interface {
	ApplyDecodedSync(b *mapping.DeviceBinding, signals map[string]decode.Value, ts time.Time)
}

// RawSink receives every frame observed on the bus, decoded or not, after
// any entity-store update the frame produced has already been committed.
type RawSink interface {
	PublishRawFrame(frame.Frame)
}

type nopRawSink struct{}

func (nopRawSink) PublishRawFrame(frame.Frame) {}

// ProtocolResult is what a sibling-protocol decoder (J1939, Firefly,
// Spartan K2) returns for a frame it claims.
type ProtocolResult struct {
	SourceAddress uint8
	Code          uint32
	Description   string
}

// DecoderCapability is implemented by each non-RV-C protocol decoder under
// internal/protocols. Claims reports whether this decoder recognizes f
// (typically by source-address range or PGN pattern); Decode extracts
// whatever diagnostic information the protocol carries.
type DecoderCapability interface {
	Name() string
	Claims(f frame.Frame) bool
	Decode(f frame.Frame) (ProtocolResult, error)
}

// DiagnosticsSink receives protocol-decoded results for cross-protocol
// fault correlation (C10). Kept narrow to avoid an import cycle onto
// internal/diagnostics.
type DiagnosticsSink interface {
	Observe(protocol string, result ProtocolResult, at time.Time)
}

type nopDiagnosticsSink struct{}

func (nopDiagnosticsSink) Observe(string, ProtocolResult, time.Time) {}

// Stats counts what the dispatcher has routed, surfaced on the
// diagnostics/health endpoints.
type Stats struct {
	Decoded  atomic.Uint64
	Unmapped atomic.Uint64
	Unknown  atomic.Uint64
	Ignored  atomic.Uint64
	Protocol atomic.Uint64
}

// Config wires the dispatcher's collaborators.
type Config struct {
	Logger      *slog.Logger
	Catalog     *catalog.Catalog
	Mapping     *mapping.Mapping
	Store       EntityApplier
	RawSink     RawSink
	Diagnostics DiagnosticsSink
	// Protocols is consulted in order for any frame the RV-C decoder does
	// not resolve to Decoded/Unmapped against a known PGN; the first
	// decoder whose Claims returns true wins. Order is the fixed priority
	// J1939, then Firefly, then Spartan K2 unless the caller supplies a
	// different ordering.
	Protocols []DecoderCapability
}

// Dispatcher reads frames from an inbound channel and routes them.
type Dispatcher struct {
	log         *slog.Logger
	cat         *catalog.Catalog
	mp          *mapping.Mapping
	store       EntityApplier
	rawSink     RawSink
	diagnostics DiagnosticsSink
	protocols   []DecoderCapability

	unmapped *mapping.ObservedTable
	unknown  *mapping.ObservedTable

	Stats Stats

	wg       sync.WaitGroup
	running  atomic.Bool
	cancel   context.CancelFunc
	cancelMu sync.RWMutex
}

// New constructs a Dispatcher. unmapped/unknown are the observed-traffic
// tables fed by Unmapped/Unknown decode results respectively (distinct
// tables, since an unmapped (pgn, instance) and an altogether-unknown pgn
// surface through different API endpoints).
func New(cfg Config, unmapped, unknown *mapping.ObservedTable) *Dispatcher {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.RawSink == nil {
		cfg.RawSink = nopRawSink{}
	}
	if cfg.Diagnostics == nil {
		cfg.Diagnostics = nopDiagnosticsSink{}
	}
	return &Dispatcher{
		log:         cfg.Logger,
		cat:         cfg.Catalog,
		mp:          cfg.Mapping,
		store:       cfg.Store,
		rawSink:     cfg.RawSink,
		diagnostics: cfg.Diagnostics,
		protocols:   cfg.Protocols,
		unmapped:    unmapped,
		unknown:     unknown,
	}
}

// Run consumes inbound until ctx is canceled or inbound is closed,
// dispatching each frame in the calling goroutine's order of receipt
// (per-interface ordering is therefore whatever order the transport's
// merge pump delivered, which preserves per-interface receipt order).
func (d *Dispatcher) Run(ctx context.Context, inbound <-chan frame.Frame) {
	if !d.running.CompareAndSwap(false, true) {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	d.cancelMu.Lock()
	d.cancel = cancel
	d.cancelMu.Unlock()

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer d.running.Store(false)
		for {
			select {
			case <-ctx.Done():
				return
			case f, ok := <-inbound:
				if !ok {
					return
				}
				d.Dispatch(f)
			}
		}
	}()
}

// Stop cancels the run loop and waits for it to exit.
func (d *Dispatcher) Stop() {
	d.cancelMu.Lock()
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.cancelMu.Unlock()
	d.wg.Wait()
}

// IsRunning reports whether the dispatch loop is active.
func (d *Dispatcher) IsRunning() bool { return d.running.Load() }

// Dispatch routes one frame. It is exported directly so tests (and a
// future synchronous ingestion path) can drive it without a channel.
func (d *Dispatcher) Dispatch(f frame.Frame) {
	result := decode.Decode(f, d.cat, d.mp)

	switch result.Kind {
	case decode.Decoded:
		d.Stats.Decoded.Add(1)
		if d.store != nil {
			d.store.ApplyDecodedSync(result.Binding, result.Signals, f.ReceivedAt)
		}
	case decode.Unmapped:
		d.Stats.Unmapped.Add(1)
		if d.unmapped != nil {
			d.unmapped.Record(result.PGN, result.Instance, f.Payload(), f.ReceivedAt)
		}
	case decode.Unknown:
		d.Stats.Unknown.Add(1)
		d.dispatchProtocol(f)
		if d.unknown != nil {
			d.unknown.Record(result.PGN, 0, f.Payload(), f.ReceivedAt)
		}
	case decode.Ignore:
		d.Stats.Ignored.Add(1)
		d.log.Debug("dispatcher: malformed frame", "frame", f.String(), "error", result.Err)
	}

	// Raw fan-out happens last: for a Decoded frame this is after
	// ApplyDecodedSync has returned, which is after the entity store's
	// delta has already reached the Broadcaster's sink. Subscribers
	// therefore never observe a raw frame before the state change it
	// caused.
	d.rawSink.PublishRawFrame(f)
}

// dispatchProtocol offers an RV-C-unknown frame to each configured
// sibling-protocol decoder in fixed priority order; the first decoder
// that claims it drives cross-protocol diagnostics.
func (d *Dispatcher) dispatchProtocol(f frame.Frame) {
	for _, p := range d.protocols {
		if !p.Claims(f) {
			continue
		}
		res, err := p.Decode(f)
		if err != nil {
			d.log.Debug("dispatcher: protocol decode failed", "protocol", p.Name(), "error", err)
			return
		}
		d.Stats.Protocol.Add(1)
		d.diagnostics.Observe(p.Name(), res, f.ReceivedAt)
		return
	}
}
