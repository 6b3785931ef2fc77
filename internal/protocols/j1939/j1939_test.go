package j1939

import (
	"testing"
	"time"

	"github.com/coachlink/rvcd/internal/frame"
	"github.com/stretchr/testify/require"
)

func engineFrame(sourceAddress uint8) frame.Frame {
	const priority, pf, ps = 6, 0xF0, 0x04
	arbID := uint32(priority)<<26 | uint32(pf)<<16 | uint32(ps)<<8 | uint32(sourceAddress)
	return frame.New(arbID, []byte{0x12, 0x34, 0, 0, 0, 0, 0, 0}, "can0", time.Now(), false)
}

func TestDecoder_ClaimsConfiguredSourceAddressOnly(t *testing.T) {
	t.Parallel()
	d := New([]uint8{0x00, 0x03})

	require.True(t, d.Claims(engineFrame(0x00)))
	require.True(t, d.Claims(engineFrame(0x03)))
	require.False(t, d.Claims(engineFrame(0x28)))
}

func TestDecoder_DecodeExtractsCodeFromPayload(t *testing.T) {
	t.Parallel()
	d := New([]uint8{0x00})

	result, err := d.Decode(engineFrame(0x00))
	require.NoError(t, err)
	require.Equal(t, uint8(0x00), result.SourceAddress)
	require.Equal(t, uint32(0x3412), result.Code)
	require.Contains(t, result.Description, "0x00")
}

func TestDecoder_DecodeRejectsShortFrame(t *testing.T) {
	t.Parallel()
	d := New([]uint8{0x00})
	short := frame.New(engineFrame(0x00).ArbitrationID, []byte{0x01}, "can0", time.Now(), false)

	_, err := d.Decode(short)
	require.Error(t, err)
}

func TestDecoder_Name(t *testing.T) {
	t.Parallel()
	require.Equal(t, "j1939", New(nil).Name())
}
