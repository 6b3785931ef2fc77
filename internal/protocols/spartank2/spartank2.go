// Package spartank2 implements a dispatcher.DecoderCapability for the
// Spartan K2 chassis control bus, found on Spartan/Freightliner custom
// chassis sharing a bus segment with the RV-C habitat side.
package spartank2

import (
	"fmt"

	"github.com/coachlink/rvcd/internal/decode"
	"github.com/coachlink/rvcd/internal/dispatcher"
	"github.com/coachlink/rvcd/internal/frame"
)

// Decoder claims frames whose source address belongs to a configured set
// of Spartan K2 chassis controllers (ABS, ride height, brake-by-wire).
type Decoder struct {
	sourceAddresses map[uint8]bool
}

// New constructs a Decoder claiming frames from exactly the given source
// addresses.
func New(sourceAddresses []uint8) *Decoder {
	set := make(map[uint8]bool, len(sourceAddresses))
	for _, a := range sourceAddresses {
		set[a] = true
	}
	return &Decoder{sourceAddresses: set}
}

func (d *Decoder) Name() string { return "spartan_k2" }

// Claims reports whether f's source address belongs to this decoder's
// configured Spartan K2 chassis controller set.
func (d *Decoder) Claims(f frame.Frame) bool {
	return d.sourceAddresses[decode.ExtractSourceAddress(f.ArbitrationID)]
}

// Decode folds the two status bytes Spartan K2 controllers place at the
// start of their fault frames into one diagnostic code (first byte high);
// the PGN appears only in the description.
func (d *Decoder) Decode(f frame.Frame) (dispatcher.ProtocolResult, error) {
	payload := f.Payload()
	if len(payload) < 2 {
		return dispatcher.ProtocolResult{}, fmt.Errorf("spartank2: frame too short for a fault code: %d bytes", len(payload))
	}
	addr := decode.ExtractSourceAddress(f.ArbitrationID)
	pgn := decode.ExtractPGN(f.ArbitrationID)
	code := uint32(payload[0])<<8 | uint32(payload[1])
	return dispatcher.ProtocolResult{
		SourceAddress: addr,
		Code:          code,
		Description:   fmt.Sprintf("Spartan K2 controller 0x%02X fault 0x%04X on PGN %d", addr, code, pgn),
	}, nil
}
