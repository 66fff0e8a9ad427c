// Package state provides the workflow state machine for the chip-handling test stand.
package state

// State represents a stand workflow state.
type State string

const (
	// Normal cycle
	StateGround             State = "ground"
	StateSurveyingSockets   State = "surveying_sockets"
	StateMovingChipToSocket State = "moving_chip_to_socket"
	StateTesting            State = "testing"
	StateWritingResults     State = "writing_results"
	StateMovingChipToTray   State = "moving_chip_to_tray"

	// Control states
	StatePaused              State = "paused"
	StateReseat              State = "reseat"
	StateMovingChipToBadTray State = "moving_chip_to_bad_tray"
	StateCurtainTripped      State = "curtain_tripped"

	// Curtain recovery path
	StateWaitingToReturn     State = "waiting_to_return"
	StateReturningChipToTray State = "returning_chip_to_tray"
	StatePlacingChipOnTray   State = "placing_chip_on_tray"
	StateChipPlacedOnTray    State = "chip_placed_on_tray"

	// Faults
	StateNoServerConnection   State = "no_server_connection"
	StateChipInSocket         State = "chip_in_socket"
	StateVisionSequenceFailed State = "vision_sequence_failed"
	StateNoPressure           State = "no_pressure"
	StateLostVacuum           State = "lost_vacuum"
	StateBadContact           State = "bad_contact"
	StateNoChip               State = "no_chip"
	StateSafeGuard            State = "safe_guard"
	StateBadPins              State = "bad_pins"
	StateNoSerialNumber       State = "no_serial_number"
	StateFailedInit           State = "failed_init"
	StateNoWIBConnection      State = "no_wib_connection"
	StateFailedUpload         State = "failed_upload"
)

// String returns the string representation of the state.
func (s State) String() string {
	return string(s)
}

// Class classifies a state.
type Class int

const (
	ClassNormal Class = iota
	ClassPaused
	ClassError
	ClassResetting
	ClassTerminalFault
)

func (c Class) String() string {
	switch c {
	case ClassNormal:
		return "normal"
	case ClassPaused:
		return "paused"
	case ClassError:
		return "error"
	case ClassResetting:
		return "resetting"
	case ClassTerminalFault:
		return "terminal_fault"
	default:
		return "unknown"
	}
}

// TracksLastNormal reports whether entering a state of this class
// records it as the resume point.
func (c Class) TracksLastNormal() bool {
	return c == ClassNormal || c == ClassResetting
}

// GripperEffect describes what entering a state means for the gripper.
type GripperEffect int

const (
	GripperUnchanged GripperEffect = iota
	GripperHold
	GripperRelease
)

// NormalCycle is the order of the normal workflow. The state after the
// last element is the first one again.
var NormalCycle = []State{
	StateGround,
	StateSurveyingSockets,
	StateMovingChipToSocket,
	StateTesting,
	StateWritingResults,
	StateMovingChipToTray,
}

// Faults lists every fault state in table order.
var Faults = []State{
	StateNoServerConnection,
	StateChipInSocket,
	StateVisionSequenceFailed,
	StateNoPressure,
	StateLostVacuum,
	StateBadContact,
	StateNoChip,
	StateSafeGuard,
	StateBadPins,
	StateNoSerialNumber,
	StateFailedInit,
	StateNoWIBConnection,
	StateFailedUpload,
}

// Successor returns the state that follows s in the normal cycle.
func Successor(s State) (State, bool) {
	for i, c := range NormalCycle {
		if c == s {
			return NormalCycle[(i+1)%len(NormalCycle)], true
		}
	}
	return "", false
}

// IsNormal reports whether s is part of the normal cycle.
func (s State) IsNormal() bool {
	_, ok := Successor(s)
	return ok
}

// IsFault reports whether s is one of the fault states.
func (s State) IsFault() bool {
	for _, f := range Faults {
		if f == s {
			return true
		}
	}
	return false
}
