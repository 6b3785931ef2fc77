package spartank2

import (
	"testing"
	"time"

	"github.com/coachlink/rvcd/internal/frame"
	"github.com/stretchr/testify/require"
)

func chassisFrame(sourceAddress uint8, faultHi, faultLo byte) frame.Frame {
	const priority, pf, ps = 6, 0x10, 0xFF
	arbID := uint32(priority)<<26 | uint32(pf)<<16 | uint32(ps)<<8 | uint32(sourceAddress)
	return frame.New(arbID, []byte{faultHi, faultLo, 0, 0, 0, 0, 0, 0}, "can0", time.Now(), false)
}

func TestDecoder_ClaimsConfiguredSourceAddressOnly(t *testing.T) {
	t.Parallel()
	d := New([]uint8{0x30})

	require.True(t, d.Claims(chassisFrame(0x30, 0, 0)))
	require.False(t, d.Claims(chassisFrame(0x31, 0, 0)))
}

func TestDecoder_DecodeFoldsFaultBytes(t *testing.T) {
	t.Parallel()
	d := New([]uint8{0x30})

	result, err := d.Decode(chassisFrame(0x30, 0x01, 0x02))
	require.NoError(t, err)
	require.Equal(t, uint8(0x30), result.SourceAddress)
	require.Equal(t, uint32(0x0102), result.Code)
}

func TestDecoder_DecodeRejectsShortFrame(t *testing.T) {
	t.Parallel()
	d := New([]uint8{0x30})
	short := frame.New(chassisFrame(0x30, 0, 0).ArbitrationID, []byte{0x01}, "can0", time.Now(), false)

	_, err := d.Decode(short)
	require.Error(t, err)
}

func TestDecoder_Name(t *testing.T) {
	t.Parallel()
	require.Equal(t, "spartan_k2", New(nil).Name())
}
