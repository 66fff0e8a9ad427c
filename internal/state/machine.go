package state

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/qmuntal/stateless"
)

var (
	// ErrTransitionNotPermitted is returned when a group is fired from a
	// state outside its legal sources. The machine is left unchanged.
	ErrTransitionNotPermitted = errors.New("transition not permitted")
	// ErrMachineExited is returned once the session has ended.
	ErrMachineExited = errors.New("state machine has exited")
	// ErrBusy is returned when a request needs the busy slot and another
	// request holds it.
	ErrBusy = errors.New("stand is busy")
)

// TransitionCallback is called when a state transition occurs.
// Callbacks run while the transition lock is held and must not fire
// transitions themselves.
type TransitionCallback func(ctx context.Context, from, to State, trigger Trigger)

// HistoryEntry is one record of the append-only transition log.
type HistoryEntry struct {
	From    State     `json:"from"`
	To      State     `json:"to"`
	Trigger Trigger   `json:"trigger"`
	At      time.Time `json:"at"`
}

// Snapshot is a consistent view of the machine data.
type Snapshot struct {
	State          State  `json:"state"`
	Class          string `json:"class"`
	LastNormal     State  `json:"last_normal"`
	ChipsOnGripper bool   `json:"chips_on_gripper"`
	Busy           bool   `json:"busy"`
	Exited         bool   `json:"exited"`
}

// Machine wraps the stateless state machine with the stand workflow
// table, the resume snapshot, the gripper flag and the busy slot.
type Machine struct {
	table Table
	sm    *stateless.StateMachine

	// fireMu serializes every mutation of the current state.
	fireMu sync.Mutex

	mu         sync.RWMutex
	current    State
	lastNormal State
	chips      bool
	history    []HistoryEntry
	exited     bool

	busy chan struct{}

	callbacks   []TransitionCallback
	callbacksMu sync.RWMutex
}

// NewMachine creates a machine from the default stand table, starting
// in ground.
func NewMachine() *Machine {
	m, err := NewMachineFromTable(DefaultTable())
	if err != nil {
		panic(fmt.Sprintf("default table is invalid: %v", err))
	}
	return m
}

// NewMachineFromTable creates a machine configured from t.
func NewMachineFromTable(t Table) (*Machine, error) {
	if err := t.Validate(); err != nil {
		return nil, fmt.Errorf("invalid state table: %w", err)
	}

	m := &Machine{
		table:      t,
		current:    t.Initial,
		lastNormal: t.Initial,
		busy:       make(chan struct{}, 1),
		callbacks:  make([]TransitionCallback, 0),
	}

	sm := stateless.NewStateMachineWithExternalStorage(
		func(_ context.Context) (stateless.State, error) {
			m.mu.RLock()
			defer m.mu.RUnlock()
			return m.current, nil
		},
		func(_ context.Context, s stateless.State) error {
			m.mu.Lock()
			m.current = s.(State)
			m.mu.Unlock()
			return nil
		},
		stateless.FiringImmediate,
	)

	for _, d := range t.States {
		sm.Configure(d.State)
	}
	for _, e := range t.Edges {
		sm.Configure(e.From).Permit(e.Group, e.To, m.guardFor(e))
	}

	sm.OnTransitioned(func(ctx context.Context, tr stateless.Transition) {
		m.entered(ctx, tr.Source.(State), tr.Destination.(State), tr.Trigger.(Trigger))
	})

	m.sm = sm
	return m, nil
}

func (m *Machine) guardFor(e Edge) stateless.GuardFunc {
	want := e.Selector()
	switch e.Guard {
	case GuardArg:
		return func(_ context.Context, args ...any) bool {
			return len(args) > 0 && argState(args[0]) == want
		}
	case GuardChipsHeld:
		return func(_ context.Context, _ ...any) bool {
			return m.ChipsOnGripper()
		}
	case GuardChipsEmpty:
		return func(_ context.Context, _ ...any) bool {
			return !m.ChipsOnGripper()
		}
	default:
		return func(_ context.Context, _ ...any) bool { return true }
	}
}

func argState(a any) State {
	switch v := a.(type) {
	case State:
		return v
	case string:
		return State(v)
	default:
		return ""
	}
}

// entered applies the entry bookkeeping for to and notifies callbacks.
func (m *Machine) entered(ctx context.Context, from, to State, trigger Trigger) {
	def, _ := m.table.Def(to)

	m.mu.Lock()
	if def.Class.TracksLastNormal() {
		m.lastNormal = to
	}
	// Going to ground from paused moves nothing, so a held chip is
	// still held.
	if from != StatePaused || trigger != TriggerResetCycle {
		switch def.Gripper {
		case GripperHold:
			m.chips = true
		case GripperRelease:
			m.chips = false
		}
	}
	m.history = append(m.history, HistoryEntry{From: from, To: to, Trigger: trigger, At: time.Now()})
	m.mu.Unlock()

	m.callbacksMu.RLock()
	callbacks := make([]TransitionCallback, len(m.callbacks))
	copy(callbacks, m.callbacks)
	m.callbacksMu.RUnlock()

	for _, cb := range callbacks {
		cb(ctx, from, to, trigger)
	}
}

// State returns the current state.
func (m *Machine) State(ctx context.Context) (State, error) {
	s, err := m.sm.State(ctx)
	if err != nil {
		return "", err
	}
	return s.(State), nil
}

// Current returns the current state without going through stateless.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Fire fires a transition group. Illegal fires return
// ErrTransitionNotPermitted and change nothing.
//
// pause_cycle snapshots the state being left only when it is a normal
// or resetting state. Pausing from a fault keeps the snapshot taken
// before the fault, so a resume goes back to where the fault was
// detected rather than into the fault.
func (m *Machine) Fire(ctx context.Context, trigger Trigger, args ...any) error {
	m.fireMu.Lock()
	defer m.fireMu.Unlock()

	if m.Exited() {
		return ErrMachineExited
	}

	from := m.Current()
	ok, err := m.sm.CanFireCtx(ctx, trigger, args...)
	if err != nil {
		return fmt.Errorf("check %s from %s: %w", trigger, from, err)
	}
	if !ok {
		return fmt.Errorf("%w: %s from %s", ErrTransitionNotPermitted, trigger, from)
	}

	if trigger == TriggerPauseCycle {
		// The snapshot must capture the state being left.
		if def, _ := m.table.Def(from); def.Class.TracksLastNormal() {
			m.mu.Lock()
			m.lastNormal = from
			m.mu.Unlock()
		}
	}

	return m.sm.FireCtx(ctx, trigger, args...)
}

// CanFire returns true if the trigger can be fired from the current state.
func (m *Machine) CanFire(ctx context.Context, trigger Trigger, args ...any) (bool, error) {
	if m.Exited() {
		return false, nil
	}
	return m.sm.CanFireCtx(ctx, trigger, args...)
}

// ResumeToPrevious sets the current state to the last-normal snapshot.
//
// This is an escape hatch, not a table edge: it skips legality checks.
// It reports the transition to callbacks like any other, but it does
// not run entry side effects. Callers that want them (the stand always
// does) must invoke them for the returned state.
func (m *Machine) ResumeToPrevious(ctx context.Context) (State, error) {
	m.fireMu.Lock()
	defer m.fireMu.Unlock()

	if m.Exited() {
		return "", ErrMachineExited
	}

	m.mu.Lock()
	from := m.current
	to := m.lastNormal
	m.current = to
	m.mu.Unlock()

	m.entered(ctx, from, to, TriggerResume)
	return to, nil
}

// IsInState returns true if the machine is in the specified state.
func (m *Machine) IsInState(ctx context.Context, state State) (bool, error) {
	currentState, err := m.State(ctx)
	if err != nil {
		return false, err
	}
	return currentState == state, nil
}

// OnTransition registers a callback to be called on state transitions.
func (m *Machine) OnTransition(cb TransitionCallback) {
	m.callbacksMu.Lock()
	defer m.callbacksMu.Unlock()
	m.callbacks = append(m.callbacks, cb)
}

// Class returns the class of s, or ClassNormal for undeclared states.
func (m *Machine) Class(s State) Class {
	def, _ := m.table.Def(s)
	return def.Class
}

// Table returns the table the machine was built from.
func (m *Machine) Table() Table {
	return m.table
}

// LastNormal returns the resume snapshot.
func (m *Machine) LastNormal() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastNormal
}

// ChipsOnGripper reports whether the gripper is believed to hold a chip.
func (m *Machine) ChipsOnGripper() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.chips
}

// SetChipsOnGripper overrides the gripper flag, for when a sensor
// reading disagrees with what the entered states imply.
func (m *Machine) SetChipsOnGripper(held bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chips = held
}

// History returns a copy of the transition log.
func (m *Machine) History() []HistoryEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]HistoryEntry, len(m.history))
	copy(out, m.history)
	return out
}

// PermittedGroups returns the groups whose legal sources include the
// current state, ignoring argument and gripper guards.
func (m *Machine) PermittedGroups() []Trigger {
	current := m.Current()
	var out []Trigger
	for _, g := range Groups {
		for _, s := range m.table.Sources(g) {
			if s == current {
				out = append(out, g)
				break
			}
		}
	}
	return out
}

// Snapshot returns a stable view for readers.
func (m *Machine) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	def, _ := m.table.Def(m.current)
	return Snapshot{
		State:          m.current,
		Class:          def.Class.String(),
		LastNormal:     m.lastNormal,
		ChipsOnGripper: m.chips,
		Busy:           len(m.busy) > 0,
		Exited:         m.exited,
	}
}

// TryAcquire takes the busy slot if it is free.
func (m *Machine) TryAcquire() bool {
	select {
	case m.busy <- struct{}{}:
		return true
	default:
		return false
	}
}

// Acquire blocks until the busy slot is taken or ctx is done.
func (m *Machine) Acquire(ctx context.Context) error {
	select {
	case m.busy <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release frees the busy slot.
func (m *Machine) Release() {
	select {
	case <-m.busy:
	default:
	}
}

// Idle reports whether no request currently holds the busy slot.
func (m *Machine) Idle() bool {
	return len(m.busy) == 0
}

// Exit marks the session as ended. Every later fire is refused.
func (m *Machine) Exit() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.exited = true
}

// Exited reports whether the session has ended.
func (m *Machine) Exited() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.exited
}

// MustState returns the current state, panicking on error.
func (m *Machine) MustState() State {
	state, err := m.State(context.Background())
	if err != nil {
		panic(err)
	}
	return state
}
