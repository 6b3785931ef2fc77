//go:build linux

package daemon

import (
	"context"
	"time"

	"github.com/coachlink/rvcd/internal/api"
	"github.com/coachlink/rvcd/internal/broadcast"
	"github.com/coachlink/rvcd/internal/diagnostics"
	"github.com/coachlink/rvcd/internal/dispatcher"
	"github.com/coachlink/rvcd/internal/entitystore"
	"github.com/coachlink/rvcd/internal/feature"
	"github.com/coachlink/rvcd/internal/frame"
	"github.com/coachlink/rvcd/internal/transport"
)

// runner is the Start(ctx)/Stop()/IsRunning() shape shared by the Entity
// Store and the Broadcaster; each already manages its own internal
// goroutine and IsRunning flag the way the teacher's own probingWorker
// does, so one adapter covers both.
type runner interface {
	Start(ctx context.Context)
	Stop()
	IsRunning() bool
}

// runnerFeature adapts a runner into feature.Feature. Init is a no-op
// since none of these components need anything beyond construction.
type runnerFeature struct {
	r runner
}

func (f *runnerFeature) Init(ctx context.Context) error  { return nil }
func (f *runnerFeature) Start(ctx context.Context) error { f.r.Start(ctx); return nil }
func (f *runnerFeature) Stop(ctx context.Context) error  { f.r.Stop(); return nil }
func (f *runnerFeature) Health() feature.Health {
	if !f.r.IsRunning() {
		return feature.HealthDegraded
	}
	return feature.HealthHealthy
}

var (
	_ runner = (*entitystore.Store)(nil)
	_ runner = (*broadcast.Broadcaster)(nil)
)

// transportFeature adapts *transport.Transport, which exposes
// Start(ctx)/Stop() but no aggregate IsRunning (only per-interface
// workers do), so it gets its own small Feature rather than sharing
// runnerFeature.
type transportFeature struct {
	t *transport.Transport
}

func (f *transportFeature) Init(ctx context.Context) error  { return nil }
func (f *transportFeature) Start(ctx context.Context) error { f.t.Start(ctx); return nil }
func (f *transportFeature) Stop(ctx context.Context) error  { f.t.Stop(); return nil }
func (f *transportFeature) Health() feature.Health { return feature.HealthHealthy }

// dispatcherFeature adapts *dispatcher.Dispatcher, whose Start method
// (Run) additionally needs the transport's inbound channel.
type dispatcherFeature struct {
	d       *dispatcher.Dispatcher
	inbound <-chan frame.Frame
}

func (f *dispatcherFeature) Init(ctx context.Context) error { return nil }
func (f *dispatcherFeature) Start(ctx context.Context) error {
	f.d.Run(ctx, f.inbound)
	return nil
}
func (f *dispatcherFeature) Stop(ctx context.Context) error { f.d.Stop(); return nil }
func (f *dispatcherFeature) Health() feature.Health {
	if !f.d.IsRunning() {
		return feature.HealthDegraded
	}
	return feature.HealthHealthy
}

// diagnosticsSink adapts *diagnostics.Table to dispatcher.DiagnosticsSink:
// the dispatcher reports one (protocol, result) observation per claimed
// frame, which the table records as a Raise against that protocol's DTC
// key. Severity defaults to warning; a sibling protocol frame alone
// doesn't carry the severity classification RV-C's DM1-style PGNs do.
type diagnosticsSink struct {
	table *diagnostics.Table
}

func (s *diagnosticsSink) Observe(protocol string, result dispatcher.ProtocolResult, at time.Time) {
	key := diagnostics.Key{
		Protocol:      diagnostics.Protocol(protocol),
		SourceAddress: result.SourceAddress,
		Code:          result.Code,
	}
	s.table.Raise(key, diagnostics.SeverityWarning, at)
}

// transportInfoAdapter adapts *transport.Transport to api.InterfaceInfo,
// translating transport.Snapshot into the structurally identical
// api.InterfaceStats so the api package never needs a //go:build linux
// dependency on transport itself.
type transportInfoAdapter struct {
	t *transport.Transport
}

func (a *transportInfoAdapter) Interfaces() map[string]bool { return a.t.Interfaces() }

func (a *transportInfoAdapter) Stats(physicalName string) (api.InterfaceStats, bool) {
	snap, ok := a.t.Stats(physicalName)
	if !ok {
		return api.InterfaceStats{}, false
	}
	return api.InterfaceStats{
		RxFrames: snap.RxFrames, TxFrames: snap.TxFrames,
		RxBytes: snap.RxBytes, TxBytes: snap.TxBytes,
		RxErrors: snap.RxErrors, TxErrors: snap.TxErrors, BusErrors: snap.BusErrors,
		Restarts: snap.Restarts, Overflow: snap.Overflow,
		ObservedPGNs: snap.ObservedPGNs,
	}, true
}
