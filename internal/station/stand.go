// Package station runs the test stand: it serializes transition
// requests, runs state entry actions and holds the operator decision
// points.
package station

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fnal-rts/rts-coordinator/internal/motion"
	"github.com/fnal-rts/rts-coordinator/internal/plan"
	"github.com/fnal-rts/rts-coordinator/internal/state"
	"github.com/fnal-rts/rts-coordinator/internal/store"
)

// Persistence groups the repositories the stand writes to. Nil
// repositories are skipped.
type Persistence struct {
	State    store.StateRepository
	Sessions store.SessionRepository
	Results  store.ResultRepository
}

// Recorder receives fault and entry failure counts.
type Recorder interface {
	RecordFault(fault state.State)
	RecordEntryFailure(s state.State)
}

// Config wires a Stand.
type Config struct {
	Machine  *state.Machine
	Plan     *plan.ChipPlan
	Motion   Motion
	Caps     Capabilities
	Store    Persistence
	Recorder Recorder

	// Connected reports the controller link. Nil means always connected.
	Connected func() bool

	AutoRaiseFaults bool
	BadTray         motion.Location
	ImageDir        string
}

type runHandle struct {
	cancel context.CancelFunc
}

// Stand coordinates the machine, the chip plan, motion and the
// capabilities. Every transition runs on the goroutine inside Run.
type Stand struct {
	machine   *state.Machine
	plan      *plan.ChipPlan
	motion    Motion
	caps      Capabilities
	repos     Persistence
	recorder  Recorder
	connected func() bool
	autoRaise bool
	badTray   motion.Location
	log       *zap.Logger

	session store.Session
	entries map[state.State]EntryAction

	requests chan *request
	trips    chan struct{}
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
	started  atomic.Bool

	tripPending atomic.Bool

	promptMu sync.Mutex
	prompt   *prompt

	actionMu     sync.Mutex
	actionCancel context.CancelFunc

	runMu sync.Mutex
	run   *runHandle

	// Owned by the handler goroutine.
	source    string
	followups []state.State
	serial    string
	outcome   TestOutcome
	// wrapped is set when setting a chip aside moved the plan past its
	// last record.
	wrapped bool
}

// New creates a stand and opens a session. Call Run to start handling
// requests.
func New(cfg Config, log *zap.Logger) (*Stand, error) {
	if cfg.Machine == nil || cfg.Plan == nil || cfg.Motion == nil {
		return nil, errors.New("station: machine, plan and motion are required")
	}

	caps := cfg.Caps
	sim := Simulated(log)
	if caps.Vision == nil {
		caps.Vision = sim.Vision
	}
	if caps.Tester == nil {
		caps.Tester = sim.Tester
	}
	if caps.Uploader == nil {
		caps.Uploader = sim.Uploader
	}
	if caps.Notifier == nil {
		caps.Notifier = sim.Notifier
	}

	s := &Stand{
		machine:   cfg.Machine,
		plan:      cfg.Plan,
		motion:    cfg.Motion,
		caps:      caps,
		repos:     cfg.Store,
		recorder:  cfg.Recorder,
		connected: cfg.Connected,
		autoRaise: cfg.AutoRaiseFaults,
		badTray:   cfg.BadTray,
		log:       log.Named("station"),
		requests:  make(chan *request),
		trips:     make(chan struct{}, 1),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
		source:    SourceStation,
	}
	s.entries = s.entryTable()

	if err := s.openSession(cfg.ImageDir); err != nil {
		return nil, err
	}

	s.machine.OnTransition(s.onTransition)
	s.persistState(context.Background())
	return s, nil
}

func (s *Stand) openSession(imageDir string) error {
	now := time.Now()
	s.session = store.Session{
		ID:        uuid.NewString(),
		StartedAt: now,
		PlanSize:  s.plan.Len(),
	}
	if imageDir != "" {
		dir := filepath.Join(imageDir, "session_"+now.Format("20060102_150405"))
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create session image folder: %w", err)
		}
		s.session.ImageDir = dir
	}
	if s.repos.Sessions != nil {
		if err := s.repos.Sessions.Create(context.Background(), &s.session); err != nil {
			return fmt.Errorf("failed to record session: %w", err)
		}
	}
	s.log.Info("session started",
		zap.String("session_id", s.session.ID),
		zap.String("image_dir", s.session.ImageDir),
		zap.Int("plan_size", s.session.PlanSize),
	)
	return nil
}

// Session returns the current session record.
func (s *Stand) Session() store.Session {
	return s.session
}

func (s *Stand) onTransition(ctx context.Context, from, to state.State, trigger state.Trigger) {
	fields := []zap.Field{
		zap.Stringer("from", from),
		zap.Stringer("to", to),
		zap.Stringer("trigger", trigger),
		zap.String("source", s.source),
	}
	switch {
	case to == state.StateCurtainTripped:
		s.log.Error("curtain tripped", fields...)
	case to.IsFault():
		s.log.Warn("fault", fields...)
	default:
		s.log.Info("transition", fields...)
	}

	if s.repos.State == nil {
		return
	}
	pctx := context.WithoutCancel(ctx)
	if err := s.repos.State.LogTransition(pctx, from, to, string(trigger), s.source, ""); err != nil {
		s.log.Error("failed to log transition", zap.Error(err))
	}
	s.persistState(pctx)
}

func (s *Stand) persistState(ctx context.Context) {
	if s.repos.State == nil {
		return
	}
	snap := s.machine.Snapshot()
	err := s.repos.State.SaveState(ctx, &store.StandState{
		State:          snap.State,
		LastNormal:     snap.LastNormal,
		ChipsOnGripper: snap.ChipsOnGripper,
		SessionID:      s.session.ID,
	})
	if err != nil {
		s.log.Error("failed to save stand state", zap.Error(err))
	}
}

// Run handles requests until ctx is done or the session ends. The
// session is ended on return.
func (s *Stand) Run(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return errors.New("station: already running")
	}
	defer close(s.done)
	defer s.endSession()

	for {
		if s.machine.Exited() {
			return nil
		}

		// Curtain trips go before anything queued.
		select {
		case <-s.trips:
			s.handleTrip(ctx)
			continue
		default:
		}

		if s.settle(ctx) {
			continue
		}

		if len(s.followups) > 0 {
			s.raiseFollowup(ctx)
			continue
		}

		select {
		case <-ctx.Done():
			return nil
		case <-s.stop:
			return nil
		case <-s.trips:
			s.handleTrip(ctx)
		case req := <-s.requests:
			s.execute(ctx, req)
		}
	}
}

// Done is closed when Run has returned.
func (s *Stand) Done() <-chan struct{} {
	return s.done
}

// Close ends the session and waits for Run to return.
func (s *Stand) Close() error {
	s.endSession()
	if s.started.Load() {
		<-s.done
	}
	return nil
}

func (s *Stand) endSession() {
	s.stopOnce.Do(func() {
		s.machine.Exit()
		s.cancelAction()
		s.StopRun()
		if s.repos.Sessions != nil {
			if err := s.repos.Sessions.End(context.Background(), s.session.ID); err != nil {
				s.log.Error("failed to close session", zap.Error(err))
			}
		}
		close(s.stop)
		s.log.Info("session ended", zap.String("session_id", s.session.ID))
	})
}

func (s *Stand) execute(ctx context.Context, req *request) {
	if !req.held {
		if err := s.machine.Acquire(ctx); err != nil {
			req.reply <- err
			return
		}
	}
	s.source = req.source
	err := s.perform(ctx, req.action)
	s.machine.Release()
	if err != nil {
		s.log.Debug("request failed",
			zap.Stringer("action", req.action),
			zap.String("source", req.source),
			zap.Error(err),
		)
	}
	req.reply <- err
}

func (s *Stand) perform(ctx context.Context, a Action) error {
	switch a.Kind {
	case ActionCycle:
		if a.Target != "" {
			return s.fire(ctx, state.TriggerCycle, a.Target)
		}
		return s.fire(ctx, state.TriggerCycle)
	case ActionAdvanceTo:
		cur := s.machine.Current()
		next, ok := state.Successor(cur)
		if !ok || next != a.Target {
			return fmt.Errorf("%w: %s does not follow %s", state.ErrTransitionNotPermitted, a.Target, cur)
		}
		return s.fire(ctx, state.TriggerCycle)
	case ActionPause:
		return s.fire(ctx, state.TriggerPauseCycle)
	case ActionReportFault:
		if !a.Target.IsFault() {
			return fmt.Errorf("%w: %q is not a fault", state.ErrTransitionNotPermitted, a.Target)
		}
		return s.fire(ctx, state.TriggerErrorCycle, a.Target)
	case ActionRecover:
		return s.fire(ctx, state.TriggerErrorCycle)
	case ActionReset:
		return s.fire(ctx, state.TriggerResetCycle)
	case ActionReturnToGround:
		return s.returnToGround(ctx)
	case ActionRunFullCycle:
		return s.lap(ctx)
	}
	return fmt.Errorf("%w: %q", ErrUnknownAction, a.Kind)
}

// fire transitions and runs the entry action of the entered state.
func (s *Stand) fire(ctx context.Context, trigger state.Trigger, args ...any) error {
	if err := s.machine.Fire(ctx, trigger, args...); err != nil {
		return err
	}
	to := s.machine.Current()

	// A diverting fault has no state of its own to count on entry.
	if trigger == state.TriggerErrorCycle && len(args) > 0 && s.recorder != nil {
		if f, ok := args[0].(state.State); ok && f.IsFault() && f != to {
			s.recorder.RecordFault(f)
		}
	}
	return s.arrive(ctx, to)
}

func (s *Stand) arrive(ctx context.Context, to state.State) error {
	err := s.runEntry(ctx, to)
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) && s.tripPending.Load() {
		s.log.Info("entry action interrupted by curtain trip", zap.Stringer("state", to))
		return ErrInterrupted
	}

	s.log.Warn("entry action failed", zap.Stringer("state", to), zap.Error(err))
	if s.recorder != nil {
		s.recorder.RecordEntryFailure(to)
	}
	f := faultFor(to, err)
	if state.SelfRecovering(f) {
		if ok, _ := s.machine.CanFire(ctx, state.TriggerErrorCycle, f); ok {
			return s.clearFault(ctx, f)
		}
	}
	if s.autoRaise && f != "" {
		s.followups = append(s.followups, f)
	}
	return &EntryError{State: to, Err: err}
}

// clearFault enters a self-recovering fault and takes its recovery edge
// within the current request. A chip set aside on the last record of
// the plan is not followed by another; the arm goes back to ground.
func (s *Stand) clearFault(ctx context.Context, f state.State) error {
	s.log.Info("clearing fault", zap.Stringer("fault", f), zap.Stringer("state", s.machine.Current()))
	if err := s.fire(ctx, state.TriggerErrorCycle, f); err != nil {
		return err
	}
	if s.wrapped && s.machine.Current() == state.StateMovingChipToBadTray {
		return s.fire(ctx, state.TriggerResetCycle)
	}
	return s.fire(ctx, state.TriggerErrorCycle)
}

func (s *Stand) runEntry(ctx context.Context, st state.State) error {
	action, ok := s.entries[st]
	if !ok {
		return nil
	}
	if st != state.StateCurtainTripped && s.tripPending.Load() {
		return context.Canceled
	}

	actx, cancel := context.WithCancel(ctx)
	s.setActionCancel(cancel)
	defer func() {
		s.setActionCancel(nil)
		cancel()
	}()
	return action(actx, s.plan.Current())
}

func (s *Stand) setActionCancel(cancel context.CancelFunc) {
	s.actionMu.Lock()
	s.actionCancel = cancel
	s.actionMu.Unlock()
}

func (s *Stand) cancelAction() {
	s.actionMu.Lock()
	defer s.actionMu.Unlock()
	if s.actionCancel != nil {
		s.actionCancel()
	}
}

func (s *Stand) raiseFollowup(ctx context.Context) {
	fault := s.followups[0]
	s.followups = s.followups[1:]

	if ok, _ := s.machine.CanFire(ctx, state.TriggerErrorCycle, fault); !ok {
		s.log.Info("fault not legal from current state, dropped",
			zap.Stringer("fault", fault),
			zap.Stringer("state", s.machine.Current()),
		)
		return
	}
	s.execute(ctx, newRequest(SourceStation, Action{Kind: ActionReportFault, Target: fault}, false))
}

func (s *Stand) returnToGround(ctx context.Context) error {
	cur := s.machine.Current()
	for _, g := range []state.Trigger{state.TriggerCycle, state.TriggerResetCycle, state.TriggerStraightReset} {
		if !s.hasEdge(g, cur, state.StateGround) {
			continue
		}
		if ok, _ := s.machine.CanFire(ctx, g); ok {
			return s.fire(ctx, g)
		}
	}
	return fmt.Errorf("%w: no direct path to ground from %s", state.ErrTransitionNotPermitted, cur)
}

func (s *Stand) hasEdge(g state.Trigger, from, to state.State) bool {
	for _, e := range s.machine.Table().Edges {
		if e.Group == g && e.From == from && e.To == to {
			return true
		}
	}
	return false
}

// lap fires cycles until the chip in hand is back on its tray and the
// arm is at ground, then moves the plan on. From ground that is one
// full turn of six cycles; from inside a turn it finishes that turn.
// It returns plan.ErrEndOfPlan after wrapping back to the first chip.
func (s *Stand) lap(ctx context.Context) error {
	s.plan.Lock()
	s.wrapped = false
	for range state.NormalCycle {
		if s.tripPending.Load() {
			return ErrInterrupted
		}
		if err := s.fire(ctx, state.TriggerCycle); err != nil {
			return err
		}
		if s.machine.Current() == state.StateGround {
			break
		}
	}
	if cur := s.machine.Current(); cur != state.StateGround {
		return fmt.Errorf("%w: lap ended in %s", state.ErrTransitionNotPermitted, cur)
	}

	if s.wrapped {
		s.wrapped = false
		return plan.ErrEndOfPlan
	}
	if err := s.plan.Advance(); err != nil {
		if errors.Is(err, plan.ErrEndOfPlan) {
			s.plan.Reset()
		}
		return err
	}
	return nil
}

// CurtainTrip signals the light curtain. The running entry action is
// cancelled and the trip is applied before any queued request.
func (s *Stand) CurtainTrip() {
	s.tripPending.Store(true)
	s.cancelAction()
	select {
	case s.trips <- struct{}{}:
	default:
	}
}

func (s *Stand) handleTrip(ctx context.Context) {
	s.tripPending.Store(false)
	s.followups = nil

	if err := s.machine.Acquire(ctx); err != nil {
		return
	}
	defer s.machine.Release()

	s.source = SourceCurtain
	if err := s.fire(ctx, state.TriggerCurtainTrip); err != nil {
		s.log.Info("curtain trip not applied", zap.Error(err))
	}
}

// settle runs the decision point of the current state, if it has one.
func (s *Stand) settle(ctx context.Context) bool {
	if s.machine.Exited() {
		return false
	}
	var kind PromptKind
	switch s.machine.Current() {
	case state.StatePaused:
		kind = PromptPause
	case state.StateCurtainTripped:
		kind = PromptCurtain
	default:
		return false
	}

	d, ok := s.await(ctx, kind)
	if !ok {
		return false
	}
	s.apply(ctx, d)
	return true
}

func (s *Stand) await(ctx context.Context, kind PromptKind) (decision, bool) {
	p := &prompt{kind: kind, ch: make(chan decision, 1)}
	s.promptMu.Lock()
	s.prompt = p
	s.promptMu.Unlock()
	defer func() {
		s.promptMu.Lock()
		if s.prompt == p {
			s.prompt = nil
		}
		s.promptMu.Unlock()
	}()

	s.log.Info("awaiting decision", zap.String("prompt", string(kind)))

	// A trip during a pause waits in the channel until after the decision.
	trips := s.trips
	if kind == PromptPause {
		trips = nil
	}
	for {
		select {
		case d := <-p.ch:
			return d, true
		case <-trips:
			s.tripPending.Store(false)
			s.log.Info("curtain trip while already tripped, ignored")
		case <-ctx.Done():
			return decision{}, false
		case <-s.stop:
			return decision{}, false
		}
	}
}

func (s *Stand) apply(ctx context.Context, d decision) {
	if d.choice == ChoiceQuit {
		s.log.Info("operator ended the session", zap.String("source", d.source))
		s.endSession()
		return
	}

	if err := s.machine.Acquire(ctx); err != nil {
		return
	}
	defer s.machine.Release()
	s.source = d.source

	var err error
	switch d.choice {
	case ChoiceGround:
		if s.machine.ChipsOnGripper() {
			s.log.Warn("going to ground with a chip on the gripper",
				zap.Stringer("last_normal", s.machine.LastNormal()))
		}
		err = s.fire(ctx, state.TriggerResetCycle)
	case ChoiceResume, ChoiceCurtainContinue:
		err = s.resume(ctx)
	case ChoiceAdvance:
		if _, err = s.machine.ResumeToPrevious(ctx); err == nil {
			err = s.fire(ctx, state.TriggerCycle)
		}
	case ChoiceCurtainReset:
		err = s.curtainReset(ctx)
	}
	if err != nil {
		s.log.Warn("decision could not be applied",
			zap.Stringer("choice", d.choice),
			zap.Error(err),
		)
	}
}

// resume returns to the last normal state and re-runs its entry action.
func (s *Stand) resume(ctx context.Context) error {
	to, err := s.machine.ResumeToPrevious(ctx)
	if err != nil {
		return err
	}
	return s.arrive(ctx, to)
}

func (s *Stand) curtainReset(ctx context.Context) error {
	if !s.machine.ChipsOnGripper() {
		return s.fire(ctx, state.TriggerStraightReset)
	}
	for s.machine.Current() != state.StateGround {
		if err := s.fire(ctx, state.TriggerResetCycle); err != nil {
			return err
		}
	}
	return nil
}

// Decide answers the pending decision prompt.
func (s *Stand) Decide(source string, c Choice) error {
	s.promptMu.Lock()
	p := s.prompt
	if p == nil {
		s.promptMu.Unlock()
		return ErrNotAwaitingChoice
	}
	if !p.kind.allows(c) {
		s.promptMu.Unlock()
		return fmt.Errorf("%w: %s at %s prompt", ErrChoiceNotAllowed, c, p.kind)
	}
	s.prompt = nil
	s.promptMu.Unlock()

	p.ch <- decision{choice: c, source: source}
	return nil
}

// Awaiting returns the pending prompt, or "" if none.
func (s *Stand) Awaiting() PromptKind {
	s.promptMu.Lock()
	defer s.promptMu.Unlock()
	if s.prompt == nil {
		return ""
	}
	return s.prompt.kind
}

// AwaitingChoice implements health.Probe.
func (s *Stand) AwaitingChoice() string {
	return string(s.Awaiting())
}

// PlanCursor implements health.Probe.
func (s *Stand) PlanCursor() (int, int) {
	return s.plan.Index(), s.plan.Len()
}

// Connected implements health.Probe.
func (s *Stand) Connected() bool {
	if s.connected == nil {
		return true
	}
	return s.connected()
}

// Submit queues a request and waits for it to finish. It blocks while
// another request runs or a decision is pending.
func (s *Stand) Submit(ctx context.Context, source string, a Action) error {
	if s.machine.Exited() {
		return ErrSessionEnded
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	req := newRequest(source, a, false)
	select {
	case s.requests <- req:
	case <-ctx.Done():
		return ctx.Err()
	case <-s.stop:
		return ErrSessionEnded
	}
	return s.wait(ctx, req)
}

// TrySubmit hands a request to the stand only if it is idle. It takes
// the busy slot atomically and returns state.ErrBusy otherwise. The
// returned channel yields the request's result.
func (s *Stand) TrySubmit(source string, a Action) (<-chan error, error) {
	if s.machine.Exited() {
		return nil, ErrSessionEnded
	}
	if !s.machine.TryAcquire() {
		return nil, state.ErrBusy
	}
	req := newRequest(source, a, true)
	select {
	case s.requests <- req:
		return req.reply, nil
	default:
		s.machine.Release()
		return nil, state.ErrBusy
	}
}

func (s *Stand) wait(ctx context.Context, req *request) error {
	select {
	case err := <-req.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		select {
		case err := <-req.reply:
			return err
		default:
			return ErrSessionEnded
		}
	}
}

// Cycle advances one step along the normal cycle.
func (s *Stand) Cycle(ctx context.Context) error {
	return s.Submit(ctx, SourceOperator, Action{Kind: ActionCycle})
}

// AdvanceTo fires cycle if target directly follows the current state.
func (s *Stand) AdvanceTo(ctx context.Context, target state.State) error {
	return s.Submit(ctx, SourceOperator, Action{Kind: ActionAdvanceTo, Target: target})
}

// Pause enters paused. The decision prompt opens once it returns.
func (s *Stand) Pause(ctx context.Context) error {
	return s.Submit(ctx, SourceOperator, Action{Kind: ActionPause})
}

// ReportFault raises fault through error_cycle.
func (s *Stand) ReportFault(ctx context.Context, fault state.State) error {
	return s.Submit(ctx, SourceOperator, Action{Kind: ActionReportFault, Target: fault})
}

// Recover fires the recovery edge of the current fault.
func (s *Stand) Recover(ctx context.Context) error {
	return s.Submit(ctx, SourceOperator, Action{Kind: ActionRecover})
}

// Reset fires reset_cycle once.
func (s *Stand) Reset(ctx context.Context) error {
	return s.Submit(ctx, SourceOperator, Action{Kind: ActionReset})
}

// ReturnToGround takes whichever direct edge leads to ground.
func (s *Stand) ReturnToGround(ctx context.Context) error {
	return s.Submit(ctx, SourceOperator, Action{Kind: ActionReturnToGround})
}

// RunFullCycle finishes the current lap at ground and moves to the next
// chip. It reports whether the plan wrapped back to its first chip.
func (s *Stand) RunFullCycle(ctx context.Context) (bool, error) {
	return s.runFullCycle(ctx, SourceOperator)
}

func (s *Stand) runFullCycle(ctx context.Context, source string) (bool, error) {
	err := s.Submit(ctx, source, Action{Kind: ActionRunFullCycle})
	if errors.Is(err, plan.ErrEndOfPlan) {
		return true, nil
	}
	return false, err
}

// HandleTray runs full cycles until every chip of the plan is done.
func (s *Stand) HandleTray(ctx context.Context) error {
	return s.handleTray(ctx, SourceOperator)
}

func (s *Stand) handleTray(ctx context.Context, source string) error {
	for {
		wrapped, err := s.runFullCycle(ctx, source)
		if err != nil {
			return err
		}
		if wrapped {
			return nil
		}
	}
}

// StartRun processes the tray in the background.
func (s *Stand) StartRun() error {
	if s.machine.Exited() {
		return ErrSessionEnded
	}
	s.runMu.Lock()
	defer s.runMu.Unlock()
	if s.run != nil {
		return ErrRunInProgress
	}

	ctx, cancel := context.WithCancel(context.Background())
	h := &runHandle{cancel: cancel}
	s.run = h

	go func() {
		defer cancel()
		err := s.handleTray(ctx, SourceRun)
		switch {
		case err == nil:
			s.log.Info("run finished")
		case errors.Is(err, context.Canceled), errors.Is(err, ErrSessionEnded):
			s.log.Info("run stopped")
		default:
			s.log.Warn("run stopped on error", zap.Error(err))
		}

		s.runMu.Lock()
		if s.run == h {
			s.run = nil
		}
		s.runMu.Unlock()
	}()
	s.log.Info("run started")
	return nil
}

// StopRun stops the background run after the request in progress.
func (s *Stand) StopRun() {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	if s.run != nil {
		s.run.cancel()
		s.run = nil
	}
}

// Running reports whether a background run is active.
func (s *Stand) Running() bool {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	return s.run != nil
}

// SetChipsOnGripper overrides the gripper flag from a sensor reading.
func (s *Stand) SetChipsOnGripper(held bool) {
	s.machine.SetChipsOnGripper(held)
	s.log.Info("gripper flag overridden", zap.Bool("chips_on_gripper", held))
	s.persistState(context.Background())
}

// Snapshot returns a stable view of the machine.
func (s *Stand) Snapshot() state.Snapshot {
	return s.machine.Snapshot()
}

// Machine returns the underlying state machine for read access.
func (s *Stand) Machine() *state.Machine {
	return s.machine
}

// Plan returns the chip plan records and the active index.
func (s *Stand) Plan() ([]plan.ChipPosition, int) {
	return s.plan.Records(), s.plan.Index()
}

// History returns the most recent transitions, newest first.
func (s *Stand) History(ctx context.Context, limit int) ([]store.Transition, error) {
	if s.repos.State != nil {
		return s.repos.State.GetTransitionHistory(ctx, limit)
	}
	h := s.machine.History()
	if limit <= 0 || limit > len(h) {
		limit = len(h)
	}
	out := make([]store.Transition, 0, limit)
	for i := len(h) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, store.Transition{
			FromState: h[i].From,
			ToState:   h[i].To,
			Trigger:   string(h[i].Trigger),
			Timestamp: h[i].At,
		})
	}
	return out, nil
}

// PendingUploads lists results that never reached the results database.
func (s *Stand) PendingUploads(ctx context.Context) ([]store.ChipResult, error) {
	if s.repos.Results == nil {
		return nil, nil
	}
	return s.repos.Results.ListPending(ctx)
}

// RetryUploads re-sends pending results and returns how many succeeded.
func (s *Stand) RetryUploads(ctx context.Context) (int, error) {
	pending, err := s.PendingUploads(ctx)
	if err != nil {
		return 0, err
	}
	sent := 0
	for _, r := range pending {
		if err := s.caps.Uploader.UploadResults(ctx, r); err != nil {
			s.log.Warn("upload retry failed", zap.Int64("result_id", r.ID), zap.Error(err))
			continue
		}
		if err := s.repos.Results.MarkUploaded(ctx, r.ID); err != nil {
			return sent, err
		}
		sent++
	}
	return sent, nil
}
