package dispatcher

import (
	"sync"
	"testing"
	"time"

	"github.com/coachlink/rvcd/internal/catalog"
	"github.com/coachlink/rvcd/internal/decode"
	"github.com/coachlink/rvcd/internal/frame"
	"github.com/coachlink/rvcd/internal/mapping"
	"github.com/stretchr/testify/require"
)

const catalogDoc = `
enumerations:
  - name: on_off_status
    values:
      0: "off"
      1: "on"

pgns:
  - pgn: 130778
    name: DC_DIMMER_STATUS_3
    signals:
      - {name: instance, start_bit: 0, length_bits: 8, byte_order: little}
      - {name: state, start_bit: 16, length_bits: 8, byte_order: little, enum: on_off_status}
      - {name: brightness, start_bit: 24, length_bits: 8, byte_order: little, scale: 0.5}
`

const mappingDoc = `
bindings:
  - entity_id: light.main_galley
    friendly_name: Main Galley Light
    device_type: light
    area: galley
    capabilities: [on_off, brightness]
    protocol: rvc
    pgn: 130778
    instance: 4
`

func fixtures(t *testing.T) (*catalog.Catalog, *mapping.Mapping) {
	t.Helper()
	cat, err := catalog.Parse([]byte(catalogDoc))
	require.NoError(t, err)
	mp, err := mapping.Parse([]byte(mappingDoc), cat)
	require.NoError(t, err)
	return cat, mp
}

func dimmerFrame(iface string, instance byte) frame.Frame {
	// arbitration id DP=1 PF=0xFE PS=0xDA (PGN 0x1FEDA = 130778) broadcast PDU2.
	return frame.New(0x19FEDA80, []byte{instance, 0, 1, 200, 0, 0, 0, 0}, iface, time.Now(), false)
}

type fakeApplier struct {
	mu    sync.Mutex
	calls []map[string]decode.Value
}

func (f *fakeApplier) ApplyDecodedSync(b *mapping.DeviceBinding, signals map[string]decode.Value, ts time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, signals)
}

type fakeRawSink struct {
	mu     sync.Mutex
	frames []frame.Frame
}

func (s *fakeRawSink) PublishRawFrame(f frame.Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, f)
}

func TestDispatch_DecodedRoutesToStoreThenRawSink(t *testing.T) {
	t.Parallel()
	cat, mp := fixtures(t)
	applier := &fakeApplier{}
	raw := &fakeRawSink{}

	var order []string
	orderedApplier := applierFunc(func(b *mapping.DeviceBinding, signals map[string]decode.Value, ts time.Time) {
		order = append(order, "store")
		applier.ApplyDecodedSync(b, signals, ts)
	})
	orderedRaw := rawSinkFunc(func(f frame.Frame) {
		order = append(order, "raw")
		raw.PublishRawFrame(f)
	})

	d := New(Config{Catalog: cat, Mapping: mp, Store: orderedApplier, RawSink: orderedRaw}, nil, nil)
	d.Dispatch(dimmerFrame("can0", 4))

	require.Equal(t, []string{"store", "raw"}, order)
	require.Len(t, applier.calls, 1)
	require.EqualValues(t, 1, d.Stats.Decoded.Load())
}

func TestDispatch_UnmappedRecordsObservedTable(t *testing.T) {
	t.Parallel()
	cat, mp := fixtures(t)
	unmapped := mapping.NewObservedTable(64)
	defer unmapped.Close()

	d := New(Config{Catalog: cat, Mapping: mp}, unmapped, nil)
	d.Dispatch(dimmerFrame("can0", 9)) // instance 9 has no binding

	require.EqualValues(t, 1, d.Stats.Unmapped.Load())
	require.Equal(t, 1, unmapped.Len())
}

func TestDispatch_UnknownOffersToDecoderCapabilities(t *testing.T) {
	t.Parallel()
	cat, mp := fixtures(t)
	unknown := mapping.NewObservedTable(64)
	defer unknown.Close()

	claimed := &fakeProtocol{name: "j1939", claims: true}
	diag := &fakeDiagnostics{}

	d := New(Config{Catalog: cat, Mapping: mp, Protocols: []DecoderCapability{claimed}, Diagnostics: diag}, nil, unknown)
	f := frame.New(0x18FEEE80, []byte{1, 2, 3, 4}, "can0", time.Now(), false)
	d.Dispatch(f)

	require.EqualValues(t, 1, d.Stats.Unknown.Load())
	require.EqualValues(t, 1, d.Stats.Protocol.Load())
	require.Equal(t, 1, unknown.Len())
	require.Len(t, diag.observed, 1)
}

type applierFunc func(b *mapping.DeviceBinding, signals map[string]decode.Value, ts time.Time)

func (f applierFunc) ApplyDecodedSync(b *mapping.DeviceBinding, signals map[string]decode.Value, ts time.Time) {
	f(b, signals, ts)
}

type rawSinkFunc func(frame.Frame)

func (f rawSinkFunc) PublishRawFrame(fr frame.Frame) { f(fr) }

type fakeProtocol struct {
	name   string
	claims bool
}

func (p *fakeProtocol) Name() string               { return p.name }
func (p *fakeProtocol) Claims(f frame.Frame) bool   { return p.claims }
func (p *fakeProtocol) Decode(f frame.Frame) (ProtocolResult, error) {
	return ProtocolResult{SourceAddress: 0x80, Code: 42, Description: "fake fault"}, nil
}

type fakeDiagnostics struct {
	observed []ProtocolResult
}

func (d *fakeDiagnostics) Observe(protocol string, result ProtocolResult, at time.Time) {
	d.observed = append(d.observed, result)
}
