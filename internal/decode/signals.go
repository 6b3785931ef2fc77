package decode

import (
	"fmt"
	"strconv"

	"github.com/coachlink/rvcd/internal/catalog"
)

// ErrFrameMalformed indicates the payload was shorter than the highest
// signal's end bit requires (a length-underrun frame, per spec.md §4.3).
var ErrFrameMalformed = fmt.Errorf("decode: frame malformed")

// extractRaw reads the raw unsigned integer for a signal out of payload.
// RV-C signals are byte-aligned in practice (start_bit/length_bits are
// multiples of 8), so extraction walks whole bytes in the signal's byte
// order rather than doing generic sub-byte bit-shifting.
func extractRaw(payload []byte, s catalog.Signal) (uint64, error) {
	if s.EndBit()%8 != 0 || s.StartBit%8 != 0 {
		return 0, fmt.Errorf("decode: signal %q is not byte-aligned (start=%d len=%d)", s.Name, s.StartBit, s.LengthBits)
	}
	startByte := s.StartBit / 8
	numBytes := s.LengthBits / 8
	endByte := startByte + numBytes

	if int(endByte) > len(payload) {
		return 0, ErrFrameMalformed
	}

	raw := payload[startByte:endByte]
	var v uint64
	if s.ByteOrder == catalog.BigEndian {
		for _, b := range raw {
			v = (v << 8) | uint64(b)
		}
	} else {
		for i := len(raw) - 1; i >= 0; i-- {
			v = (v << 8) | uint64(raw[i])
		}
	}
	if s.ValueMask != nil {
		v &= *s.ValueMask
	}
	return v, nil
}

// notAvailableSentinel returns the RV-C "not available" sentinel for a
// signal of the given bit width, unless the descriptor overrides it.
func notAvailableSentinel(s catalog.Signal) uint64 {
	if s.NotAvailable != nil {
		return *s.NotAvailable
	}
	if s.LengthBits >= 64 {
		return ^uint64(0)
	}
	return (uint64(1) << s.LengthBits) - 1
}

// DecodeSignal extracts, scales, and optionally labels a single signal from
// payload. It never panics and never returns numeric NaN for N/A readings.
func DecodeSignal(payload []byte, s catalog.Signal, cat *catalog.Catalog) (Value, error) {
	raw, err := extractRaw(payload, s)
	if err != nil {
		return Value{}, err
	}

	if raw == notAvailableSentinel(s) {
		return NAValue, nil
	}

	if s.Enum != "" {
		label := strconv.FormatUint(raw, 10)
		if cat != nil {
			if e, ok := cat.Enumeration(s.Enum); ok {
				if l, ok := e.Values[raw]; ok {
					label = l
				}
			}
		}
		return Label(label), nil
	}

	scale := s.Scale
	if scale == 0 {
		scale = 1
	}
	return Numeric(float64(raw)*scale + s.Offset), nil
}

// DecodeSignals decodes every signal in descriptor against payload, writing
// results into dst (Decode passes a freshly allocated map per frame).
// Returns the first signal's error (ErrFrameMalformed for a length
// underrun); signals decoded before it have already been written to dst.
func DecodeSignals(payload []byte, descriptor *catalog.PGNDescriptor, cat *catalog.Catalog, dst map[string]Value) error {
	for _, s := range descriptor.Signals {
		v, err := DecodeSignal(payload, s, cat)
		if err != nil {
			return err
		}
		dst[s.Name] = v
	}
	return nil
}
