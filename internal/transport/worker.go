//go:build linux

package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/coachlink/rvcd/internal/decode"
	"github.com/coachlink/rvcd/internal/frame"
)

// DefaultInboundDepth is the bounded inbound channel depth; once full the
// oldest frame is dropped and Stats.Overflow is incremented (CAN is a
// best-effort bus and arrears must not unbounded-buffer).
const DefaultInboundDepth = 4096

// DefaultOutboundDepth is the bounded outbound channel depth.
const DefaultOutboundDepth = 1024

// DefaultOutboundTimeout bounds how long a Send blocks against a full
// outbound channel before failing.
const DefaultOutboundTimeout = 500 * time.Millisecond

// ErrInterfaceDown is returned immediately (never queued) when a command
// targets an interface that is administratively or operationally down.
var ErrInterfaceDown = errors.New("transport: interface down")

// ErrTxFailed surfaces a send failure on the originating command's future.
var ErrTxFailed = errors.New("transport: tx failed")

// rawConn is the minimal socket surface ifaceWorker depends on; satisfied
// by *socket against the real kernel, and by a fake in tests so the
// reconnect/backpressure/backoff logic can be exercised without root
// privileges or a real CAN interface.
type rawConn interface {
	readFrame() (frame.Frame, error)
	writeFrame(frame.Frame) error
	Close() error
}

// ifaceWorker owns one physical CAN interface: an inbound read loop, an
// outbound write loop, reconnection with backoff, and stats. Lifecycle
// mirrors the teacher's probing worker: Start(ctx)/Stop()/IsRunning().
type ifaceWorker struct {
	log    *slog.Logger
	name   string
	admin  LinkAdmin
	opener func(string) (rawConn, error)

	inbound  chan frame.Frame
	outbound chan outboundRequest
	stats    *Stats

	mu   sync.RWMutex
	sock rawConn
	up   bool

	wg       sync.WaitGroup
	running  atomic.Bool
	cancel   context.CancelFunc
	cancelMu sync.RWMutex
}

type outboundRequest struct {
	f    frame.Frame
	done chan error
}

func newIfaceWorker(log *slog.Logger, name string, admin LinkAdmin) *ifaceWorker {
	return &ifaceWorker{
		log:      log,
		name:     name,
		admin:    admin,
		opener:   func(n string) (rawConn, error) { return openSocket(n) },
		inbound:  make(chan frame.Frame, DefaultInboundDepth),
		outbound: make(chan outboundRequest, DefaultOutboundDepth),
		stats:    newStats(),
	}
}

func (w *ifaceWorker) Start(ctx context.Context) {
	if !w.running.CompareAndSwap(false, true) {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	w.cancelMu.Lock()
	w.cancel = cancel
	w.cancelMu.Unlock()

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.run(ctx)
		w.running.Store(false)
	}()
}

func (w *ifaceWorker) Stop() {
	w.cancelMu.Lock()
	if w.cancel != nil {
		w.cancel()
		w.cancel = nil
	}
	w.cancelMu.Unlock()
	w.wg.Wait()

	w.mu.Lock()
	if w.sock != nil {
		w.sock.Close()
		w.sock = nil
	}
	w.mu.Unlock()
}

func (w *ifaceWorker) IsRunning() bool { return w.running.Load() }

func (w *ifaceWorker) IsUp() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.up
}

// run owns the connect/reconnect loop: it (re)opens the socket with
// exponential backoff and, once connected, runs the rx/tx loops until
// either fails or ctx is canceled.
func (w *ifaceWorker) run(ctx context.Context) {
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 0 // retry indefinitely; the interface may come up later

	for {
		if ctx.Err() != nil {
			return
		}

		if w.admin != nil {
			if up, err := w.admin.IsUp(w.name); err != nil || !up {
				if err := w.admin.SetUp(w.name); err != nil {
					w.log.Warn("transport: failed to administratively bring up interface", "interface", w.name, "error", err)
				}
			}
		}

		sock, err := w.opener(w.name)
		if err != nil {
			w.log.Warn("transport: failed to open interface, retrying", "interface", w.name, "error", err)
			wait := bo.NextBackOff()
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
				continue
			}
		}
		bo.Reset()

		w.mu.Lock()
		w.sock = sock
		w.up = true
		w.mu.Unlock()
		w.stats.Restarts.Add(1)

		ifaceCtx, cancel := context.WithCancel(ctx)
		var loopWG sync.WaitGroup
		loopWG.Add(2)
		// Either loop returning (rx hits a read error, or the parent ctx
		// is canceled) tears down its sibling so Wait below can't block
		// on a loop that has no reason left to keep running.
		go func() { defer loopWG.Done(); w.rxLoop(ifaceCtx, sock); cancel() }()
		go func() { defer loopWG.Done(); w.txLoop(ifaceCtx, sock); cancel() }()
		loopWG.Wait()
		cancel()

		w.mu.Lock()
		w.up = false
		w.sock.Close()
		w.sock = nil
		w.mu.Unlock()

		if ctx.Err() != nil {
			return
		}
	}
}

func (w *ifaceWorker) rxLoop(ctx context.Context, sock rawConn) {
	for {
		if ctx.Err() != nil {
			return
		}
		f, err := sock.readFrame()
		if err != nil {
			w.stats.RxErrors.Add(1)
			w.log.Warn("transport: rx error, reconnecting", "interface", w.name, "error", err)
			return
		}
		w.stats.RxFrames.Add(1)
		w.stats.RxBytes.Add(uint64(f.Length))
		if f.IsError {
			w.stats.BusErrors.Add(1)
		} else {
			w.stats.observePGN(decode.ExtractPGN(f.ArbitrationID))
		}

		select {
		case w.inbound <- f:
		default:
			// Drop-oldest under backpressure: make room, then insert.
			select {
			case <-w.inbound:
				w.stats.Overflow.Add(1)
			default:
			}
			select {
			case w.inbound <- f:
			default:
			}
		}
	}
}

func (w *ifaceWorker) txLoop(ctx context.Context, sock rawConn) {
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-w.outbound:
			err := sock.writeFrame(req.f)
			if err != nil {
				w.stats.TxErrors.Add(1)
				req.done <- fmt.Errorf("%w: %v", ErrTxFailed, err)
				continue
			}
			w.stats.TxFrames.Add(1)
			w.stats.TxBytes.Add(uint64(req.f.Length))
			req.done <- nil
		}
	}
}

// Send enqueues f for transmission, blocking up to DefaultOutboundTimeout
// against a full outbound channel before failing; it returns once the
// write has actually been attempted (not merely queued).
func (w *ifaceWorker) Send(ctx context.Context, f frame.Frame) error {
	if !w.IsUp() {
		return ErrInterfaceDown
	}
	done := make(chan error, 1)
	select {
	case w.outbound <- outboundRequest{f: f, done: done}:
	case <-time.After(DefaultOutboundTimeout):
		return fmt.Errorf("%w: outbound queue full", ErrTxFailed)
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
