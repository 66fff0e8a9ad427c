package state

import "fmt"

// Guard selects which argument-dependent condition an edge needs.
type Guard int

const (
	// GuardNone fires unconditionally.
	GuardNone Guard = iota
	// GuardArg fires only when the first fire argument equals the
	// edge argument. It selects a fault for error_cycle and a resume
	// target for cycle out of paused.
	GuardArg
	// GuardChipsHeld fires only while the gripper holds a chip.
	GuardChipsHeld
	// GuardChipsEmpty fires only while the gripper is empty.
	GuardChipsEmpty
)

// StateDef declares one state of the table.
type StateDef struct {
	State   State
	Class   Class
	Gripper GripperEffect
}

// Edge is one legal move inside a transition group.
type Edge struct {
	Group Trigger
	From  State
	To    State
	Guard Guard

	// Arg is matched by GuardArg. Empty means To.
	Arg State
}

// Selector returns the argument GuardArg compares against.
func (e Edge) Selector() State {
	if e.Arg != "" {
		return e.Arg
	}
	return e.To
}

// Table is the data that configures a Machine. Variants of the stand
// are expressed as table edits.
type Table struct {
	Initial State
	States  []StateDef
	Edges   []Edge
}

// Def returns the declaration of s.
func (t Table) Def(s State) (StateDef, bool) {
	for _, d := range t.States {
		if d.State == s {
			return d, true
		}
	}
	return StateDef{}, false
}

// Sources returns the states from which group can be fired.
func (t Table) Sources(group Trigger) []State {
	seen := make(map[State]bool)
	var out []State
	for _, e := range t.Edges {
		if e.Group == group && !seen[e.From] {
			seen[e.From] = true
			out = append(out, e.From)
		}
	}
	return out
}

// Validate checks that the initial state and every edge endpoint are
// declared and that no two unguarded edges of a group share a source.
func (t Table) Validate() error {
	if _, ok := t.Def(t.Initial); !ok {
		return fmt.Errorf("initial state %q is not declared", t.Initial)
	}

	type key struct {
		group Trigger
		from  State
	}
	unguarded := make(map[key]bool)

	for _, e := range t.Edges {
		if _, ok := t.Def(e.From); !ok {
			return fmt.Errorf("edge %s: source %q is not declared", e.Group, e.From)
		}
		if _, ok := t.Def(e.To); !ok {
			return fmt.Errorf("edge %s: destination %q is not declared", e.Group, e.To)
		}
		if e.Guard == GuardNone {
			k := key{e.Group, e.From}
			if unguarded[k] {
				return fmt.Errorf("group %s has more than one unguarded edge from %q", e.Group, e.From)
			}
			unguarded[k] = true
		}
	}
	return nil
}

// faultKind says how a fault leaves its detection edge.
type faultKind int

const (
	// faultHeld waits in its own state for a recovery request.
	faultHeld faultKind = iota
	// faultProceed has a state of its own but needs no operator: the
	// stand records it and takes the recovery edge straight away.
	faultProceed
	// faultDivert has no state of its own; detecting it moves straight
	// to recoverTo.
	faultDivert
)

// faultRow is one row of the fault table: where the fault is detected
// and where it recovers to.
type faultRow struct {
	fault     State
	from      []State
	recoverTo State
	kind      faultKind
}

var faultTable = []faultRow{
	{StateNoServerConnection, []State{StateGround}, StateGround, faultHeld},
	{StateChipInSocket, []State{StateSurveyingSockets}, StateSurveyingSockets, faultHeld},
	{StateVisionSequenceFailed, []State{StateSurveyingSockets, StateMovingChipToSocket, StateMovingChipToTray}, StateSurveyingSockets, faultHeld},
	{StateNoPressure, []State{StateMovingChipToSocket, StateMovingChipToTray}, StateGround, faultHeld},
	{StateLostVacuum, []State{StateMovingChipToSocket, StateMovingChipToTray}, StateGround, faultHeld},
	{StateBadContact, []State{StateMovingChipToSocket, StateMovingChipToTray}, StateMovingChipToSocket, faultHeld},
	{StateNoChip, []State{StateMovingChipToSocket, StateMovingChipToTray}, StateSurveyingSockets, faultHeld},
	{StateSafeGuard, []State{StateMovingChipToSocket, StateMovingChipToTray}, StateGround, faultHeld},
	{StateBadPins, []State{StateMovingChipToSocket}, StateMovingChipToBadTray, faultDivert},
	{StateNoSerialNumber, []State{StateMovingChipToSocket}, StateMovingChipToBadTray, faultDivert},
	{StateFailedInit, []State{StateTesting}, StateReseat, faultHeld},
	{StateNoWIBConnection, []State{StateTesting}, StateTesting, faultHeld},
	{StateFailedUpload, []State{StateWritingResults}, StateMovingChipToTray, faultProceed},
}

// RecoveryTarget returns the state a fault recovers to. For diverting
// faults this is the state entered on detection.
func RecoveryTarget(fault State) (State, bool) {
	for _, r := range faultTable {
		if r.fault == fault {
			return r.recoverTo, true
		}
	}
	return "", false
}

// SelfRecovering reports whether the stand clears fault f without an
// operator: diverting faults and faults the workflow proceeds past.
func SelfRecovering(f State) bool {
	for _, r := range faultTable {
		if r.fault == f {
			return r.kind != faultHeld
		}
	}
	return false
}

// FaultStates returns the faults that are states of their own.
func FaultStates() []State {
	var out []State
	for _, r := range faultTable {
		if r.kind != faultDivert {
			out = append(out, r.fault)
		}
	}
	return out
}

// DefaultTable returns the production stand table.
func DefaultTable() Table {
	t := Table{Initial: StateGround}

	gripper := map[State]GripperEffect{
		StateGround:              GripperRelease,
		StateSurveyingSockets:    GripperRelease,
		StateMovingChipToSocket:  GripperHold,
		StateTesting:             GripperRelease,
		StateMovingChipToTray:    GripperHold,
		StateMovingChipToBadTray: GripperHold,
		StateChipPlacedOnTray:    GripperRelease,
	}
	declare := func(c Class, states ...State) {
		for _, s := range states {
			t.States = append(t.States, StateDef{State: s, Class: c, Gripper: gripper[s]})
		}
	}
	declare(ClassNormal, NormalCycle...)
	declare(ClassPaused, StatePaused)
	declare(ClassResetting,
		StateReseat, StateMovingChipToBadTray,
		StateWaitingToReturn, StateReturningChipToTray, StatePlacingChipOnTray, StateChipPlacedOnTray)
	declare(ClassError, FaultStates()...)
	declare(ClassTerminalFault, StateCurtainTripped)

	edge := func(g Trigger, from, to State, guard Guard) {
		t.Edges = append(t.Edges, Edge{Group: g, From: from, To: to, Guard: guard})
	}

	// cycle
	for _, s := range NormalCycle {
		next, _ := Successor(s)
		edge(TriggerCycle, s, next, GuardNone)
		edge(TriggerCycle, StatePaused, s, GuardArg)
	}

	// pause_cycle
	for _, s := range NormalCycle {
		edge(TriggerPauseCycle, s, StatePaused, GuardNone)
	}
	for _, s := range FaultStates() {
		edge(TriggerPauseCycle, s, StatePaused, GuardNone)
	}
	edge(TriggerPauseCycle, StateReseat, StatePaused, GuardNone)
	edge(TriggerPauseCycle, StateMovingChipToBadTray, StatePaused, GuardNone)

	// error_cycle
	for _, r := range faultTable {
		if r.kind == faultDivert {
			for _, from := range r.from {
				t.Edges = append(t.Edges, Edge{Group: TriggerErrorCycle, From: from, To: r.recoverTo, Guard: GuardArg, Arg: r.fault})
			}
			continue
		}
		for _, from := range r.from {
			edge(TriggerErrorCycle, from, r.fault, GuardArg)
		}
		edge(TriggerErrorCycle, r.fault, r.recoverTo, GuardNone)
	}
	edge(TriggerErrorCycle, StateMovingChipToBadTray, StateMovingChipToSocket, GuardNone)

	// reset_cycle
	edge(TriggerResetCycle, StateCurtainTripped, StateWaitingToReturn, GuardChipsHeld)
	edge(TriggerResetCycle, StateWaitingToReturn, StateReturningChipToTray, GuardNone)
	edge(TriggerResetCycle, StateReturningChipToTray, StatePlacingChipOnTray, GuardNone)
	edge(TriggerResetCycle, StatePlacingChipOnTray, StateChipPlacedOnTray, GuardNone)
	edge(TriggerResetCycle, StateChipPlacedOnTray, StateGround, GuardNone)
	edge(TriggerResetCycle, StatePaused, StateGround, GuardNone)
	edge(TriggerResetCycle, StateReseat, StateGround, GuardNone)
	edge(TriggerResetCycle, StateMovingChipToBadTray, StateGround, GuardNone)

	// straight_reset
	edge(TriggerStraightReset, StateCurtainTripped, StateGround, GuardChipsEmpty)

	// curtain_trip
	for _, d := range t.States {
		if d.State != StateCurtainTripped {
			edge(TriggerCurtainTrip, d.State, StateCurtainTripped, GuardNone)
		}
	}

	return t
}
