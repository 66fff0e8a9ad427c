package state

// Trigger names a transition group. Each group is fired on its own.
type Trigger string

const (
	TriggerCycle         Trigger = "cycle"
	TriggerPauseCycle    Trigger = "pause_cycle"
	TriggerErrorCycle    Trigger = "error_cycle"
	TriggerResetCycle    Trigger = "reset_cycle"
	TriggerStraightReset Trigger = "straight_reset"
	TriggerCurtainTrip   Trigger = "curtain_trip"

	// TriggerResume is not configured in the table. It labels history
	// entries written by ResumeToPrevious.
	TriggerResume Trigger = "resume_to_previous"
)

// String returns the string representation of the trigger.
func (t Trigger) String() string {
	return string(t)
}

// Groups lists the fireable transition groups.
var Groups = []Trigger{
	TriggerCycle,
	TriggerPauseCycle,
	TriggerErrorCycle,
	TriggerResetCycle,
	TriggerStraightReset,
	TriggerCurtainTrip,
}
