// Package j1939 implements a dispatcher.DecoderCapability for the plain
// SAE J1939 traffic that shares the bus with RV-C (engine, transmission,
// and chassis ECUs addressed by the J1939 standard source-address
// assignment rather than an RV-C device binding).
package j1939

import (
	"encoding/binary"
	"fmt"

	"github.com/coachlink/rvcd/internal/decode"
	"github.com/coachlink/rvcd/internal/dispatcher"
	"github.com/coachlink/rvcd/internal/frame"
)

// Decoder claims frames whose source address falls within a configured
// set of known J1939 ECU addresses. The set is coach-specific (which
// physical ECUs are present and what addresses they claimed during
// address arbitration) and is supplied by the composition root, not
// hardcoded, since it varies per vehicle.
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

func (d *Decoder) Name() string { return "j1939" }

// Claims reports whether f's source address belongs to this decoder's
// configured J1939 ECU set.
func (d *Decoder) Claims(f frame.Frame) bool {
	return d.sourceAddresses[decode.ExtractSourceAddress(f.ArbitrationID)]
}

// Decode extracts the DM1-style active-fault shape: the source address,
// and the first two payload bytes (SPN/FMI in real J1939 DM1 framing)
// read little-endian as the diagnostic code. The PGN is not part of the
// code.
func (d *Decoder) Decode(f frame.Frame) (dispatcher.ProtocolResult, error) {
	payload := f.Payload()
	if len(payload) < 2 {
		return dispatcher.ProtocolResult{}, fmt.Errorf("j1939: frame too short for a diagnostic code: %d bytes", len(payload))
	}
	code := uint32(binary.LittleEndian.Uint16(payload[:2]))
	addr := decode.ExtractSourceAddress(f.ArbitrationID)
	return dispatcher.ProtocolResult{
		SourceAddress: addr,
		Code:          code,
		Description:   fmt.Sprintf("J1939 ECU 0x%02X reported code 0x%04X", addr, code),
	}, nil
}
