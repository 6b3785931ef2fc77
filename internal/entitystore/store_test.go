package entitystore

import (
	"context"
	"testing"
	"time"

	"github.com/coachlink/rvcd/internal/catalog"
	"github.com/coachlink/rvcd/internal/command"
	"github.com/coachlink/rvcd/internal/decode"
	"github.com/coachlink/rvcd/internal/mapping"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
)

const catalogDoc = `
pgns:
  - pgn: 130266
    name: DC_DIMMER_STATUS_3
    signals:
      - {name: instance, start_bit: 0, length_bits: 8, byte_order: little}
`

const mappingDoc = `
bindings:
  - entity_id: light.main_galley
    device_type: light
    capabilities: [on_off, brightness]
    pgn: 130266
    instance: 4
  - entity_id: lock.front_door
    device_type: lock
    capabilities: [lock_unlock]
    pgn: 130266
    instance: 5
`

func realMapping(t *testing.T) *mapping.Mapping {
	t.Helper()
	cat, err := catalog.Parse([]byte(catalogDoc))
	require.NoError(t, err)
	mp, err := mapping.Parse([]byte(mappingDoc), cat)
	require.NoError(t, err)
	return mp
}

type recordingSink struct {
	deltas []Delta
}

func (r *recordingSink) PublishDelta(d Delta) { r.deltas = append(r.deltas, d) }

func newTestStore(t *testing.T, mp *mapping.Mapping, sink DeltaSink) *Store {
	t.Helper()
	s := New(mp, Config{Sink: sink, TickInterval: 10 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	t.Cleanup(func() {
		cancel()
		s.Stop()
	})
	return s
}

func TestApplyDecoded_MergesSignalsNotState(t *testing.T) {
	t.Parallel()
	mp := realMapping(t)
	sink := &recordingSink{}
	s := newTestStore(t, mp, sink)

	b, ok := mp.ByEntityID("light.main_galley")
	require.True(t, ok)

	now := time.Now()
	s.ApplyDecoded(b, map[string]decode.Value{"state": decode.Label("on")}, now)
	require.Eventually(t, func() bool {
		snap, _ := s.Snapshot("light.main_galley")
		return snap.State["state"].Label == "on"
	}, time.Second, 5*time.Millisecond)

	s.ApplyDecoded(b, map[string]decode.Value{"brightness": decode.Numeric(100)}, now.Add(time.Millisecond))
	require.Eventually(t, func() bool {
		snap, _ := s.Snapshot("light.main_galley")
		return snap.State["brightness"].Numeric == 100
	}, time.Second, 5*time.Millisecond)

	snap, ok := s.Snapshot("light.main_galley")
	require.True(t, ok)
	require.Equal(t, "on", snap.State["state"].Label)
	require.InDelta(t, 100.0, snap.State["brightness"].Numeric, 0.001)
	require.True(t, snap.Available)
}

func TestApplyDecoded_RejectsOutOfOrder(t *testing.T) {
	t.Parallel()
	mp := realMapping(t)
	sink := &recordingSink{}
	s := newTestStore(t, mp, sink)

	b, _ := mp.ByEntityID("light.main_galley")
	now := time.Now()
	s.ApplyDecoded(b, map[string]decode.Value{"state": decode.Label("on")}, now)
	require.Eventually(t, func() bool {
		snap, _ := s.Snapshot("light.main_galley")
		return snap.State["state"].Label == "on"
	}, time.Second, 5*time.Millisecond)

	// Stale update (earlier timestamp) must not overwrite.
	s.ApplyDecoded(b, map[string]decode.Value{"state": decode.Label("off")}, now.Add(-time.Second))
	time.Sleep(20 * time.Millisecond)

	snap, _ := s.Snapshot("light.main_galley")
	require.Equal(t, "on", snap.State["state"].Label)
}

func TestStaleness_TransitionsUnavailable(t *testing.T) {
	t.Parallel()
	mp := realMapping(t)
	sink := &recordingSink{}
	s := New(mp, Config{
		Sink:         sink,
		TickInterval: 5 * time.Millisecond,
	})
	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	defer func() { cancel(); s.Stop() }()

	b, _ := mp.ByEntityID("lock.front_door")
	s.ApplyDecoded(b, map[string]decode.Value{"state": decode.Label("locked")}, time.Now().Add(-time.Hour))

	require.Eventually(t, func() bool {
		snap, ok := s.Snapshot("lock.front_door")
		return ok && !snap.Available
	}, time.Second, 5*time.Millisecond)
}

func TestNew_SeedsOneSnapshotPerBinding(t *testing.T) {
	t.Parallel()
	mp := realMapping(t)
	s := newTestStore(t, mp, &recordingSink{})

	want := []Snapshot{
		{ID: "light.main_galley", DeviceType: mapping.DeviceType("light"), Capabilities: []string{"on_off", "brightness"}, State: map[string]decode.Value{}},
		{ID: "lock.front_door", DeviceType: mapping.DeviceType("lock"), Capabilities: []string{"lock_unlock"}, State: map[string]decode.Value{}},
	}
	got := s.SnapshotAll()

	if diff := cmp.Diff(want, got, cmpopts.SortSlices(func(a, b Snapshot) bool { return a.ID < b.ID })); diff != "" {
		t.Fatalf("seeded snapshots mismatch (-want +got):\n%s", diff)
	}
}

func TestStaleness_TransitionsUnavailable_WithFakeClock(t *testing.T) {
	t.Parallel()
	mp := realMapping(t)
	sink := &recordingSink{}
	clk := clockwork.NewFakeClock()
	s := New(mp, Config{
		Sink:         sink,
		TickInterval: time.Second,
		Clock:        clk,
	})
	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	defer func() { cancel(); s.Stop() }()

	b, _ := mp.ByEntityID("lock.front_door")
	s.ApplyDecodedSync(b, map[string]decode.Value{"state": decode.Label("locked")}, clk.Now())

	clk.BlockUntil(1)
	clk.Advance(StalenessWindow(b.DeviceType) + time.Second)

	require.Eventually(t, func() bool {
		snap, ok := s.Snapshot("lock.front_door")
		return ok && !snap.Available
	}, time.Second, 5*time.Millisecond)
}

type fakeSubmitter struct {
	submitted []command.Result
}

func (f *fakeSubmitter) Submit(ctx context.Context, r command.Result) error {
	f.submitted = append(f.submitted, r)
	return nil
}

func TestApplyBulk_PreservesOrderAndHandlesUnknownEntity(t *testing.T) {
	t.Parallel()
	mp := realMapping(t)
	s := newTestStore(t, mp, &recordingSink{})
	sub := &fakeSubmitter{}

	ids := []string{"light.main_galley", "entity.does_not_exist", "lock.front_door"}
	result := s.ApplyBulk(context.Background(), mp, ids, command.Command{Kind: command.KindLock}, BulkOptions{IgnoreErrors: true}, sub)

	require.Len(t, result.Outcomes, 3)
	require.Equal(t, "light.main_galley", result.Outcomes[0].EntityID)
	require.Equal(t, "entity.does_not_exist", result.Outcomes[1].EntityID)
	require.Error(t, result.Outcomes[1].Err)
	require.Equal(t, "lock.front_door", result.Outcomes[2].EntityID)
}

func TestHistory_ReturnsUnknownEntityError(t *testing.T) {
	t.Parallel()
	mp := realMapping(t)
	s := newTestStore(t, mp, &recordingSink{})

	_, err := s.History("nope")
	require.Error(t, err)
}
