// Package command encodes structured device commands into raw CAN frames.
// It is the inverse of decode, restricted to PGNs a device binding marks
// controllable, and never mutates the entity store — it only reads a
// snapshot to resolve relative commands like toggle and brightness_up.
package command

import (
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/coachlink/rvcd/internal/decode"
	"github.com/coachlink/rvcd/internal/frame"
	"github.com/coachlink/rvcd/internal/mapping"
)

// Kind enumerates the structured command vocabulary.
type Kind string

const (
	KindSet             Kind = "set"
	KindToggle          Kind = "toggle"
	KindBrightnessUp    Kind = "brightness_up"
	KindBrightnessDown  Kind = "brightness_down"
	KindLock            Kind = "lock"
	KindUnlock          Kind = "unlock"
)

// BrightnessStep is the fixed step size applied by brightness_up/down.
const BrightnessStep = 10

// Command is a structured request against one entity.
type Command struct {
	Kind       Kind
	State      *bool // used by KindSet
	Brightness *int  // 0..100, used by KindSet
}

// Failure classifies why encoding a command did not produce frames.
type Failure string

const (
	FailureUnknownEntity      Failure = "UNKNOWN_ENTITY"
	FailureUnsupportedCommand Failure = "UNSUPPORTED_COMMAND"
	FailureEntityUnavailable  Failure = "ENTITY_UNAVAILABLE"
	FailureInvalidParameter   Failure = "INVALID_PARAMETER"
)

// Error wraps a Failure with a human-readable message.
type Error struct {
	Failure Failure
	Message string
}

func (e *Error) Error() string { return fmt.Sprintf("command: %s: %s", e.Failure, e.Message) }

func fail(f Failure, format string, args ...any) error {
	return &Error{Failure: f, Message: fmt.Sprintf(format, args...)}
}

// AsFailure unwraps err into its Failure classification, if any.
func AsFailure(err error) (Failure, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Failure, true
	}
	return "", false
}

// EntitySnapshot is the minimal view of current entity state the encoder
// needs to resolve toggle/brightness_up/brightness_down against current
// values, and to refuse commands against unavailable entities. Implemented
// by entitystore.Store so this package has no dependency on it.
type EntitySnapshot interface {
	// State returns the current decoded signals of entityID, whether the
	// entity is currently available, and ok=false if it is unknown.
	State(entityID string) (state map[string]decode.Value, available bool, ok bool)
}

// Result is the outcome of encoding a command: one or more frames destined
// for the same interface, submitted as an atomic batch from the caller's
// point of view.
type Result struct {
	Interface string
	Frames    []frame.Frame
}

// Encode turns a structured command targeting binding into one or more raw
// frames, consulting snap only to resolve relative commands (toggle,
// brightness_up/down) and to check availability.
func Encode(binding *mapping.DeviceBinding, cmd Command, snap EntitySnapshot) (Result, error) {
	if binding == nil {
		return Result{}, fail(FailureUnknownEntity, "no device binding")
	}

	switch cmd.Kind {
	case KindSet:
		return encodeSet(binding, cmd)
	case KindToggle:
		return encodeToggle(binding, snap)
	case KindBrightnessUp:
		return encodeBrightnessStep(binding, snap, BrightnessStep)
	case KindBrightnessDown:
		return encodeBrightnessStep(binding, snap, -BrightnessStep)
	case KindLock:
		return encodeLock(binding, true)
	case KindUnlock:
		return encodeLock(binding, false)
	default:
		return Result{}, fail(FailureUnsupportedCommand, "unknown command kind %q", cmd.Kind)
	}
}

func requireCapability(binding *mapping.DeviceBinding, cap string) error {
	if !binding.HasCapability(cap) {
		return fail(FailureUnsupportedCommand, "entity %q does not support %q", binding.EntityID, cap)
	}
	return nil
}

func encodeSet(binding *mapping.DeviceBinding, cmd Command) (Result, error) {
	if cmd.Brightness != nil {
		if err := requireCapability(binding, "brightness"); err != nil {
			return Result{}, err
		}
		level, clamped := ClampBrightness(*cmd.Brightness)
		if clamped {
			slog.Warn("command: brightness out of range, clamped", "entity", binding.EntityID, "requested", *cmd.Brightness, "clamped", level)
		}
		return encodeDimmerFrame(binding, cmd.State, level), nil
	}
	if cmd.State != nil {
		if err := requireCapability(binding, "on_off"); err != nil {
			return Result{}, err
		}
		return encodeDimmerFrame(binding, cmd.State, onOffLevel(*cmd.State)), nil
	}
	return Result{}, fail(FailureInvalidParameter, "set command requires state or brightness")
}

func onOffLevel(on bool) int {
	if on {
		return 100
	}
	return 0
}

func encodeToggle(binding *mapping.DeviceBinding, snap EntitySnapshot) (Result, error) {
	if err := requireCapability(binding, "on_off"); err != nil {
		return Result{}, err
	}
	state, available, ok := snapshotOf(binding, snap)
	if !ok {
		return Result{}, fail(FailureUnknownEntity, "entity %q has no current state", binding.EntityID)
	}
	if !available {
		return Result{}, fail(FailureEntityUnavailable, "entity %q is stale", binding.EntityID)
	}
	currentlyOn := currentOnState(state)
	next := !currentlyOn
	return encodeDimmerFrame(binding, &next, onOffLevel(next)), nil
}

func encodeBrightnessStep(binding *mapping.DeviceBinding, snap EntitySnapshot, step int) (Result, error) {
	if err := requireCapability(binding, "brightness"); err != nil {
		return Result{}, err
	}
	state, available, ok := snapshotOf(binding, snap)
	if !ok {
		return Result{}, fail(FailureUnknownEntity, "entity %q has no current state", binding.EntityID)
	}
	if !available {
		return Result{}, fail(FailureEntityUnavailable, "entity %q is stale", binding.EntityID)
	}
	current := currentBrightness(state)
	next, _ := ClampBrightness(current + step)
	on := next > 0
	return encodeDimmerFrame(binding, &on, next), nil
}

func encodeLock(binding *mapping.DeviceBinding, lock bool) (Result, error) {
	if err := requireCapability(binding, "lock_unlock"); err != nil {
		return Result{}, err
	}
	return encodeLockFrame(binding, lock), nil
}

func snapshotOf(binding *mapping.DeviceBinding, snap EntitySnapshot) (map[string]decode.Value, bool, bool) {
	if snap == nil {
		return nil, false, false
	}
	return snap.State(binding.EntityID)
}

func currentOnState(state map[string]decode.Value) bool {
	v, ok := state["state"]
	if !ok {
		return false
	}
	return v.Label == "on"
}

func currentBrightness(state map[string]decode.Value) int {
	v, ok := state["brightness"]
	if !ok || v.Kind != decode.KindNumeric {
		return 0
	}
	return int(math.Round(v.Numeric))
}

// ClampBrightness clamps x into 0..100, reporting whether clamping was
// necessary so the caller can log a warning (spec: "clamped with a
// warning").
func ClampBrightness(x int) (clamped int, wasClamped bool) {
	if x < 0 {
		return 0, true
	}
	if x > 100 {
		return 100, true
	}
	return x, false
}

// onBusLevel converts a user-facing 0..100 brightness to the on-bus 0..200
// scale via round(x*2).
func onBusLevel(percent int) uint8 {
	return uint8(math.Round(float64(percent) * 2))
}
