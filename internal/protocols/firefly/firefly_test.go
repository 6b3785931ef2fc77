package firefly

import (
	"testing"
	"time"

	"github.com/coachlink/rvcd/internal/frame"
	"github.com/stretchr/testify/require"
)

func moduleFrame(pf, ps uint32, sourceAddress uint8, statusByte byte) frame.Frame {
	const priority = 6
	arbID := uint32(priority)<<26 | pf<<16 | ps<<8 | uint32(sourceAddress)
	return frame.New(arbID, []byte{statusByte, 0, 0, 0, 0, 0, 0, 0}, "can0", time.Now(), false)
}

func TestDecoder_ClaimsConfiguredPGNRangeOnly(t *testing.T) {
	t.Parallel()
	d := New([][2]uint32{{65040, 65045}})

	inRange := moduleFrame(0xFE, 0x10, 0x20, 0x01) // pgn 65040
	outOfRange := moduleFrame(0xFE, 0xEE, 0x20, 0x01)

	require.True(t, d.Claims(inRange))
	require.False(t, d.Claims(outOfRange))
}

func TestDecoder_DecodeFoldsPGNAndStatusByte(t *testing.T) {
	t.Parallel()
	d := New([][2]uint32{{65040, 65045}})

	result, err := d.Decode(moduleFrame(0xFE, 0x10, 0x20, 0x05))
	require.NoError(t, err)
	require.Equal(t, uint8(0x20), result.SourceAddress)
	require.Equal(t, uint32(65040)<<8|0x05, result.Code)
}

func TestDecoder_DecodeRejectsEmptyFrame(t *testing.T) {
	t.Parallel()
	d := New([][2]uint32{{65040, 65045}})
	empty := frame.New(moduleFrame(0xFE, 0x10, 0x20, 0).ArbitrationID, nil, "can0", time.Now(), false)

	_, err := d.Decode(empty)
	require.Error(t, err)
}

func TestDecoder_Name(t *testing.T) {
	t.Parallel()
	require.Equal(t, "firefly", New(nil).Name())
}
