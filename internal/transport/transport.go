//go:build linux

package transport

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/coachlink/rvcd/internal/command"
	"github.com/coachlink/rvcd/internal/frame"
)

// InterfaceConfig binds a logical name ("house", "chassis") used by device
// bindings and commands to a physical CAN interface ("can0").
type InterfaceConfig struct {
	LogicalName string
	Physical    string
}

// Transport owns one worker per configured physical interface and routes
// outbound commands by logical name.
type Transport struct {
	log     *slog.Logger
	workers map[string]*ifaceWorker // keyed by physical name
	byLogic map[string]*ifaceWorker // keyed by logical name
	inbound chan frame.Frame
}

// New constructs a Transport for the given interfaces. admin is injected
// so tests can supply a fake rather than touching real kernel links.
func New(log *slog.Logger, admin LinkAdmin, ifaces []InterfaceConfig) *Transport {
	if log == nil {
		log = slog.Default()
	}
	t := &Transport{
		log:     log,
		workers: make(map[string]*ifaceWorker, len(ifaces)),
		byLogic: make(map[string]*ifaceWorker, len(ifaces)),
		inbound: make(chan frame.Frame, DefaultInboundDepth),
	}
	for _, ic := range ifaces {
		w := newIfaceWorker(log, ic.Physical, admin)
		t.workers[ic.Physical] = w
		t.byLogic[ic.LogicalName] = w
	}
	return t
}

// Start brings up every configured interface's worker and begins
// forwarding received frames into Inbound().
func (t *Transport) Start(ctx context.Context) {
	for _, w := range t.workers {
		w.Start(ctx)
		go t.pump(ctx, w)
	}
}

func (t *Transport) pump(ctx context.Context, w *ifaceWorker) {
	for {
		select {
		case <-ctx.Done():
			return
		case f := <-w.inbound:
			select {
			case t.inbound <- f:
			case <-ctx.Done():
				return
			}
		}
	}
}

// Stop shuts down every interface worker.
func (t *Transport) Stop() {
	var wg sync.WaitGroup
	for _, w := range t.workers {
		wg.Add(1)
		go func(w *ifaceWorker) {
			defer wg.Done()
			w.Stop()
		}(w)
	}
	wg.Wait()
}

// Inbound is the merged stream of frames received across every configured
// interface, in arrival order per-interface (no cross-interface ordering
// guarantee, matching the dispatcher's per-interface ordering contract).
func (t *Transport) Inbound() <-chan frame.Frame { return t.inbound }

// Submit implements entitystore.Submitter: it sends
// every frame in result atomically from the caller's point of view to the
// named logical interface's worker.
func (t *Transport) Submit(ctx context.Context, result command.Result) error {
	w, ok := t.byLogic[result.Interface]
	if !ok {
		return fmt.Errorf("transport: unknown logical interface %q", result.Interface)
	}
	if !w.IsUp() {
		return ErrInterfaceDown
	}
	for _, f := range result.Frames {
		if err := w.Send(ctx, f); err != nil {
			return err
		}
	}
	return nil
}

// Stats returns a read-only snapshot of one physical interface's counters.
func (t *Transport) Stats(physicalName string) (Snapshot, bool) {
	w, ok := t.workers[physicalName]
	if !ok {
		return Snapshot{}, false
	}
	return w.stats.Snapshot(), true
}

// Interfaces lists every configured physical interface name and whether
// its worker currently believes the link is up.
func (t *Transport) Interfaces() map[string]bool {
	out := make(map[string]bool, len(t.workers))
	for name, w := range t.workers {
		out[name] = w.IsUp()
	}
	return out
}
