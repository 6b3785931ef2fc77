package command

import (
	"testing"

	"github.com/coachlink/rvcd/internal/decode"
	"github.com/coachlink/rvcd/internal/mapping"
	"github.com/stretchr/testify/require"
)

type fakeSnapshot struct {
	states map[string]map[string]decode.Value
	avail  map[string]bool
}

func (f *fakeSnapshot) State(entityID string) (map[string]decode.Value, bool, bool) {
	s, ok := f.states[entityID]
	return s, f.avail[entityID], ok
}

func lightBinding() *mapping.DeviceBinding {
	return &mapping.DeviceBinding{
		EntityID:     "light.main_galley",
		DeviceType:   mapping.DeviceLight,
		Capabilities: []string{"on_off", "brightness"},
		Interface:    "house",
		Instance:     4,
	}
}

func lockBinding() *mapping.DeviceBinding {
	return &mapping.DeviceBinding{
		EntityID:     "lock.front_door",
		DeviceType:   mapping.DeviceLock,
		Capabilities: []string{"lock_unlock"},
		Interface:    "chassis",
		Instance:     1,
	}
}

func boolPtr(b bool) *bool { return &b }
func intPtr(i int) *int    { return &i }

func TestEncode_SetBrightness(t *testing.T) {
	t.Parallel()
	result, err := Encode(lightBinding(), Command{Kind: KindSet, Brightness: intPtr(50)}, nil)
	require.NoError(t, err)
	require.Len(t, result.Frames, 1)
	require.Equal(t, "house", result.Interface)
	require.Equal(t, uint8(100), result.Frames[0].Payload()[2]) // round(50*2)
}

func TestEncode_SetBrightnessClamps(t *testing.T) {
	t.Parallel()
	result, err := Encode(lightBinding(), Command{Kind: KindSet, Brightness: intPtr(150)}, nil)
	require.NoError(t, err)
	require.Equal(t, uint8(200), result.Frames[0].Payload()[2])
}

func TestEncode_UnsupportedCapability(t *testing.T) {
	t.Parallel()
	_, err := Encode(lockBinding(), Command{Kind: KindSet, Brightness: intPtr(50)}, nil)
	require.Error(t, err)
	f, ok := AsFailure(err)
	require.True(t, ok)
	require.Equal(t, FailureUnsupportedCommand, f)
}

func TestEncode_Toggle(t *testing.T) {
	t.Parallel()
	snap := &fakeSnapshot{
		states: map[string]map[string]decode.Value{
			"light.main_galley": {"state": decode.Label("off")},
		},
		avail: map[string]bool{"light.main_galley": true},
	}
	result, err := Encode(lightBinding(), Command{Kind: KindToggle}, snap)
	require.NoError(t, err)
	require.Equal(t, uint8(1), result.Frames[0].Payload()[4]) // now on
}

func TestEncode_ToggleUnavailable(t *testing.T) {
	t.Parallel()
	snap := &fakeSnapshot{
		states: map[string]map[string]decode.Value{
			"light.main_galley": {"state": decode.Label("on")},
		},
		avail: map[string]bool{"light.main_galley": false},
	}
	_, err := Encode(lightBinding(), Command{Kind: KindToggle}, snap)
	require.Error(t, err)
	f, ok := AsFailure(err)
	require.True(t, ok)
	require.Equal(t, FailureEntityUnavailable, f)
}

func TestEncode_BrightnessUpSaturates(t *testing.T) {
	t.Parallel()
	snap := &fakeSnapshot{
		states: map[string]map[string]decode.Value{
			"light.main_galley": {"brightness": decode.Numeric(95)},
		},
		avail: map[string]bool{"light.main_galley": true},
	}
	result, err := Encode(lightBinding(), Command{Kind: KindBrightnessUp}, snap)
	require.NoError(t, err)
	require.Equal(t, uint8(200), result.Frames[0].Payload()[2]) // clamped at 100% -> 200
}

func TestEncode_LockUnlock(t *testing.T) {
	t.Parallel()
	result, err := Encode(lockBinding(), Command{Kind: KindLock}, nil)
	require.NoError(t, err)
	require.Equal(t, "chassis", result.Interface)
	require.Equal(t, byte(1), result.Frames[0].Payload()[1])

	result, err = Encode(lockBinding(), Command{Kind: KindUnlock}, nil)
	require.NoError(t, err)
	require.Equal(t, byte(0), result.Frames[0].Payload()[1])
}

func TestEncode_UnknownEntity(t *testing.T) {
	t.Parallel()
	_, err := Encode(nil, Command{Kind: KindToggle}, nil)
	require.Error(t, err)
	f, ok := AsFailure(err)
	require.True(t, ok)
	require.Equal(t, FailureUnknownEntity, f)
}

func TestClampBrightness(t *testing.T) {
	t.Parallel()
	v, clamped := ClampBrightness(-5)
	require.Equal(t, 0, v)
	require.True(t, clamped)

	v, clamped = ClampBrightness(150)
	require.Equal(t, 100, v)
	require.True(t, clamped)

	v, clamped = ClampBrightness(42)
	require.Equal(t, 42, v)
	require.False(t, clamped)
}
