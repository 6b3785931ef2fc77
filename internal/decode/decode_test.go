package decode

import (
	"testing"
	"time"

	"github.com/coachlink/rvcd/internal/catalog"
	"github.com/coachlink/rvcd/internal/frame"
	"github.com/coachlink/rvcd/internal/mapping"
	"github.com/stretchr/testify/require"
)

var testReceivedAt = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func fixedTime(t *testing.T) time.Time {
	t.Helper()
	return testReceivedAt
}

const dimmerCatalogDoc = `
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

const dimmerMappingDoc = `
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

func dimmerFixtures(t *testing.T) (*catalog.Catalog, *mapping.Mapping) {
	t.Helper()
	cat, err := catalog.Parse([]byte(dimmerCatalogDoc))
	require.NoError(t, err)
	mp, err := mapping.Parse([]byte(dimmerMappingDoc), cat)
	require.NoError(t, err)
	return cat, mp
}

// TestDecode_DimmerStatus covers the canonical end-to-end scenario: a
// DC_DIMMER_STATUS_3 frame for instance 4 resolves to light.main_galley
// with state "on" and brightness 100.
func TestDecode_DimmerStatus(t *testing.T) {
	t.Parallel()
	cat, mp := dimmerFixtures(t)

	f := frame.New(0x19FEDA80, []byte{0x04, 0x00, 0x01, 0xC8, 0x00, 0x00, 0x00, 0x00}, "can0", fixedTime(t), false)

	result := Decode(f, cat, mp)
	require.Equal(t, Decoded, result.Kind)
	require.Equal(t, uint32(130778), result.PGN)
	require.Equal(t, uint32(4), result.Instance)
	require.Equal(t, "light.main_galley", result.Binding.EntityID)

	require.Equal(t, "on", result.Signals["state"].Label)
	require.InDelta(t, 100.0, result.Signals["brightness"].Numeric, 0.001)
}

func TestDecode_UnknownPGN(t *testing.T) {
	t.Parallel()
	cat, mp := dimmerFixtures(t)

	f := frame.New(0x19ABCD80, make([]byte, 8), "can0", fixedTime(t), false)
	result := Decode(f, cat, mp)
	require.Equal(t, Unknown, result.Kind)
}

func TestDecode_UnmappedInstance(t *testing.T) {
	t.Parallel()
	cat, mp := dimmerFixtures(t)

	// instance 9 is cataloged but has no device binding.
	f := frame.New(0x19FEDA80, []byte{0x09, 0x00, 0x01, 0xC8, 0x00, 0x00, 0x00, 0x00}, "can0", fixedTime(t), false)
	result := Decode(f, cat, mp)
	require.Equal(t, Unmapped, result.Kind)
	require.Equal(t, uint32(9), result.Instance)
	require.Nil(t, result.Binding)
}

// TestDecode_LengthUnderrun exercises the boundary named in the spec: a
// signal ending exactly at the 8th byte (bits 56..64) decodes fine against
// an 8-byte payload, but the same signal against a 7-byte payload (short
// by one byte) is malformed and must yield Ignore rather than panic or
// silently truncate.
func TestDecode_LengthUnderrun(t *testing.T) {
	t.Parallel()
	const doc = `
pgns:
  - pgn: 64000
    name: TEST_FULL_WIDTH
    signals:
      - {name: last_byte, start_bit: 56, length_bits: 8, byte_order: little}
`
	cat, err := catalog.Parse([]byte(doc))
	require.NoError(t, err)

	// arbitration id with PF=250, PS=0 (PDU2, pgn 64000 = 0xFA00)
	const arbID = 0x18FA0080

	full := frame.New(arbID, []byte{0, 0, 0, 0, 0, 0, 0, 0xAA}, "can0", fixedTime(t), false)
	result := Decode(full, cat, nil)
	require.Equal(t, Unmapped, result.Kind)
	require.InDelta(t, float64(0xAA), result.Signals["last_byte"].Numeric, 0.001)

	short := frame.New(arbID, []byte{0, 0, 0, 0, 0, 0, 0}, "can0", fixedTime(t), false)
	result = Decode(short, cat, nil)
	require.Equal(t, Ignore, result.Kind)
	require.ErrorIs(t, result.Err, ErrFrameMalformed)
}

func TestDecode_NotAvailableSentinel(t *testing.T) {
	t.Parallel()
	cat, mp := dimmerFixtures(t)

	f := frame.New(0x19FEDA80, []byte{0x04, 0x00, 0x01, 0xFF, 0x00, 0x00, 0x00, 0x00}, "can0", fixedTime(t), false)
	result := Decode(f, cat, mp)
	require.Equal(t, Decoded, result.Kind)
	require.Equal(t, KindNA, result.Signals["brightness"].Kind)
}
