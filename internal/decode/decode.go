// Package decode turns raw CAN frames into structured signal readings.
//
// A frame passes through PGN extraction, catalog lookup, and mapping
// resolution in that order; each stage can short-circuit the result into
// one of four variants (Decoded, Unmapped, Unknown, Ignore) rather than
// returning an error, since an unrecognized frame on the bus is an expected
// condition, not a failure.
package decode

import (
	"github.com/coachlink/rvcd/internal/catalog"
	"github.com/coachlink/rvcd/internal/frame"
	"github.com/coachlink/rvcd/internal/mapping"
)

// ResultKind discriminates what a Decode call produced.
type ResultKind uint8

const (
	// Decoded means the PGN is in the catalog and a device binding exists
	// for (pgn, instance): Signals is populated and Binding identifies the
	// target entity.
	Decoded ResultKind = iota
	// Unmapped means the PGN is cataloged and decoded, but no device
	// binding claims this (pgn, instance) pair.
	Unmapped
	// Unknown means the PGN itself is absent from the catalog; the frame
	// carries no decodable signals.
	Unknown
	// Ignore means the frame could not be decoded at all (length
	// underrun against the catalog's signal layout) and should be counted
	// as malformed rather than routed anywhere.
	Ignore
)

// Result is the outcome of decoding a single frame.
type Result struct {
	Kind     ResultKind
	PGN      uint32
	Instance uint32
	Signals  map[string]Value
	Binding  *mapping.DeviceBinding
	Raw      frame.Frame
	Err      error
}

// instanceSignalName is the RV-C convention: the instance discriminator is
// carried in a signal literally named "instance".
const instanceSignalName = "instance"

// Decode extracts the PGN from f's arbitration id, looks it up in cat, and
// resolves a device binding from mp. It has no error return: "don't know
// this frame" conditions are Unknown/Unmapped/Ignore results, and an
// Ignore result carries the underlying decode error in Result.Err.
func Decode(f frame.Frame, cat *catalog.Catalog, mp *mapping.Mapping) Result {
	pgn := ExtractPGN(f.ArbitrationID)

	descriptor, ok := cat.Lookup(pgn)
	if !ok {
		return Result{Kind: Unknown, PGN: pgn, Raw: f}
	}

	signals := make(map[string]Value, len(descriptor.Signals))
	if err := DecodeSignals(f.Payload(), descriptor, cat, signals); err != nil {
		return Result{Kind: Ignore, PGN: pgn, Raw: f, Err: err}
	}

	instance := instanceFromSignals(signals)

	var binding *mapping.DeviceBinding
	if mp != nil {
		if b, ok := mp.Resolve(pgn, instance); ok {
			binding = b
		}
	}

	if binding == nil {
		return Result{Kind: Unmapped, PGN: pgn, Instance: instance, Signals: signals, Raw: f}
	}

	return Result{Kind: Decoded, PGN: pgn, Instance: instance, Signals: signals, Binding: binding, Raw: f}
}

// instanceFromSignals reads the instance discriminator out of a decoded
// signal set. Frames with no instance signal (global broadcasts) collapse
// to instance 0, matching the mapping package's "no instance" binding key.
func instanceFromSignals(signals map[string]Value) uint32 {
	v, ok := signals[instanceSignalName]
	if !ok || v.Kind != KindNumeric {
		return 0
	}
	return uint32(v.Numeric)
}
