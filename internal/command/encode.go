package command

import (
	"time"

	"github.com/coachlink/rvcd/internal/frame"
	"github.com/coachlink/rvcd/internal/mapping"
)

// Command PGNs mirror the RV-C convention of a dedicated "_COMMAND" PGN per
// status PGN family, addressed to the same instance. The encoder uses them
// to build the arbitration id of every frame it produces.
const (
	pgnDimmerCommand = 130262 // DC_DIMMER_COMMAND_2
	pgnLockCommand   = 130264 // LOCK_COMMAND
)

// dimmerCommandOpcode selects the instruction byte of a dimmer command
// frame: set to a level, or an on/off-only variant of the same.
const dimmerCommandOpcode byte = 0 // "set brightness" opcode

func arbitrationID(pgn uint32, priority uint8, sourceAddress uint8) uint32 {
	dataPage := (pgn >> 16) & 0x1
	reserved := (pgn >> 17) & 0x1
	pf := (pgn >> 8) & 0xFF
	var ps uint32
	if pf >= 240 {
		ps = pgn & 0xFF
	} else {
		ps = 0xFF // broadcast destination for PDU1 commands with no specific target encoded here
	}
	return (uint32(priority) << 26) | (reserved << 25) | (dataPage << 24) | (pf << 16) | (ps << 8) | uint32(sourceAddress)
}

// commandSourceAddress is the bridge daemon's own source address on the
// bus when originating commands.
const commandSourceAddress = 0xF9

func encodeDimmerFrame(binding *mapping.DeviceBinding, state *bool, brightnessPercent int) Result {
	id := arbitrationID(pgnDimmerCommand, 6, commandSourceAddress)
	on := brightnessPercent > 0
	if state != nil {
		on = *state
	}
	payload := [8]byte{
		byte(binding.Instance),
		0xFF, // group (unused)
		onBusLevel(brightnessPercent),
		dimmerCommandOpcode,
		boolByte(on),
		0xFF, 0xFF, 0xFF,
	}
	f := frame.New(id, payload[:], binding.Interface, time.Now(), false)
	return Result{Interface: binding.Interface, Frames: []frame.Frame{f}}
}

func encodeLockFrame(binding *mapping.DeviceBinding, lock bool) Result {
	id := arbitrationID(pgnLockCommand, 6, commandSourceAddress)
	payload := [8]byte{byte(binding.Instance), boolByte(lock), 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}
	f := frame.New(id, payload[:], binding.Interface, time.Now(), false)
	return Result{Interface: binding.Interface, Frames: []frame.Frame{f}}
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}
