// Package firefly implements a dispatcher.DecoderCapability for Firefly
// Integrations' proprietary CAN protocol, a common secondary bus
// citizen in coaches alongside RV-C.
package firefly

import (
	"fmt"

	"github.com/coachlink/rvcd/internal/decode"
	"github.com/coachlink/rvcd/internal/dispatcher"
	"github.com/coachlink/rvcd/internal/frame"
)

// pgnRange bounds the PGN window Firefly modules transmit within on a
// given coach; unlike J1939, Firefly claims by PGN pattern rather than a
// fixed source-address roster, since Firefly modules address themselves
// dynamically.
type pgnRange struct {
	low, high uint32
}

// Decoder claims frames whose PGN falls within one of its configured
// Firefly PGN ranges.
type Decoder struct {
	ranges []pgnRange
}

// New constructs a Decoder claiming frames whose PGN lies in any of the
// given [low, high] inclusive ranges.
func New(ranges [][2]uint32) *Decoder {
	d := &Decoder{ranges: make([]pgnRange, 0, len(ranges))}
	for _, r := range ranges {
		d.ranges = append(d.ranges, pgnRange{low: r[0], high: r[1]})
	}
	return d
}

func (d *Decoder) Name() string { return "firefly" }

// Claims reports whether f's PGN falls within a configured Firefly range.
func (d *Decoder) Claims(f frame.Frame) bool {
	pgn := decode.ExtractPGN(f.ArbitrationID)
	for _, r := range d.ranges {
		if pgn >= r.low && pgn <= r.high {
			return true
		}
	}
	return false
}

// Decode folds the PGN and leading payload byte into a diagnostic code;
// Firefly status frames carry a module health byte at offset 0.
func (d *Decoder) Decode(f frame.Frame) (dispatcher.ProtocolResult, error) {
	payload := f.Payload()
	if len(payload) < 1 {
		return dispatcher.ProtocolResult{}, fmt.Errorf("firefly: empty frame, no module status byte")
	}
	addr := decode.ExtractSourceAddress(f.ArbitrationID)
	pgn := decode.ExtractPGN(f.ArbitrationID)
	code := pgn<<8 | uint32(payload[0])
	return dispatcher.ProtocolResult{
		SourceAddress: addr,
		Code:          code,
		Description:   fmt.Sprintf("Firefly module 0x%02X status byte 0x%02X on PGN %d", addr, payload[0], pgn),
	}, nil
}
