package mapping

import (
	"testing"

	"github.com/coachlink/rvcd/internal/catalog"
	"github.com/stretchr/testify/require"
)

const catalogDoc = `
pgns:
  - pgn: 130266
    name: DC_DIMMER_STATUS_3
    signals:
      - {name: instance, start_bit: 0, length_bits: 8, byte_order: little}
      - {name: operating_status, start_bit: 16, length_bits: 8, byte_order: little, scale: 0.5}
`

const mappingDoc = `
bindings:
  - entity_id: light.main_galley
    friendly_name: Main Galley Light
    device_type: light
    area: galley
    capabilities: [on_off, brightness]
    protocol: rvc
    pgn: 130266
    instance: 4
`

func testCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	c, err := catalog.Parse([]byte(catalogDoc))
	require.NoError(t, err)
	return c
}

func TestParse_Valid(t *testing.T) {
	t.Parallel()
	m, err := Parse([]byte(mappingDoc), testCatalog(t))
	require.NoError(t, err)

	b, ok := m.Resolve(130266, 4)
	require.True(t, ok)
	require.Equal(t, "light.main_galley", b.EntityID)
	require.True(t, b.HasCapability("brightness"))

	_, ok = m.Resolve(130266, 99)
	require.False(t, ok)
}

func TestParse_UnknownPGN(t *testing.T) {
	t.Parallel()
	doc := `
bindings:
  - entity_id: light.x
    device_type: light
    pgn: 999999
    instance: 1
`
	_, err := Parse([]byte(doc), testCatalog(t))
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown pgn")
}

func TestParse_DuplicateEntityID(t *testing.T) {
	t.Parallel()
	doc := `
bindings:
  - entity_id: light.x
    device_type: light
    pgn: 130266
    instance: 1
  - entity_id: light.x
    device_type: light
    pgn: 130266
    instance: 2
`
	_, err := Parse([]byte(doc), testCatalog(t))
	require.Error(t, err)
	require.Contains(t, err.Error(), "duplicate entity id")
}

func TestParse_InvalidCapabilityForDeviceType(t *testing.T) {
	t.Parallel()
	doc := `
bindings:
  - entity_id: lock.x
    device_type: lock
    capabilities: [brightness]
    pgn: 130266
    instance: 1
`
	_, err := Parse([]byte(doc), testCatalog(t))
	require.Error(t, err)
	require.Contains(t, err.Error(), "not valid for device type")
}

func TestParse_DuplicateBindingKey(t *testing.T) {
	t.Parallel()
	doc := `
bindings:
  - entity_id: light.a
    device_type: light
    pgn: 130266
    instance: 1
  - entity_id: light.b
    device_type: light
    pgn: 130266
    instance: 1
`
	_, err := Parse([]byte(doc), testCatalog(t))
	require.Error(t, err)
	require.Contains(t, err.Error(), "already bound")
}

func TestEntitiesByType(t *testing.T) {
	t.Parallel()
	m, err := Parse([]byte(mappingDoc), testCatalog(t))
	require.NoError(t, err)
	lights := m.EntitiesByType(DeviceLight)
	require.Len(t, lights, 1)
	require.Empty(t, m.EntitiesByType(DeviceLock))
}
