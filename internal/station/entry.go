package station

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/fnal-rts/rts-coordinator/internal/motion"
	"github.com/fnal-rts/rts-coordinator/internal/plan"
	"github.com/fnal-rts/rts-coordinator/internal/state"
	"github.com/fnal-rts/rts-coordinator/internal/store"
	"github.com/fnal-rts/rts-coordinator/internal/transport"
)

// EntryAction is the side effect of entering a state.
type EntryAction func(ctx context.Context, pos plan.ChipPosition) error

var (
	errSocketOccupied = errors.New("destination socket is occupied")
	errNoSerial       = errors.New("no serial number could be read")
)

func (s *Stand) entryTable() map[state.State]EntryAction {
	t := map[state.State]EntryAction{
		state.StateSurveyingSockets:    s.surveySockets,
		state.StateMovingChipToSocket:  s.moveToSocket,
		state.StateTesting:             s.runTests,
		state.StateWritingResults:      s.writeResults,
		state.StateMovingChipToTray:    s.motion.MoveToTray,
		state.StateMovingChipToBadTray: s.moveToBadTray,
		state.StateReseat:              s.motion.Reseat,
		state.StateReturningChipToTray: s.motion.ReturnHeldChip,
		state.StateCurtainTripped:      s.haltOnTrip,
	}
	for _, f := range state.FaultStates() {
		t[f] = s.notifyFault(f)
	}
	return t
}

func (s *Stand) surveySockets(ctx context.Context, pos plan.ChipPosition) error {
	empty, err := s.caps.Vision.SocketsEmpty(ctx, pos)
	if err != nil {
		return Fault(state.StateVisionSequenceFailed, err)
	}
	if !empty {
		return Fault(state.StateChipInSocket, errSocketOccupied)
	}
	return nil
}

func (s *Stand) moveToSocket(ctx context.Context, pos plan.ChipPosition) error {
	s.serial = ""
	s.outcome = TestOutcome{}

	if err := s.motion.MoveToSocket(ctx, pos); err != nil {
		return err
	}
	serial, err := s.caps.Vision.ReadSerial(ctx, pos, s.session.ImageDir)
	if err != nil {
		return Fault(state.StateVisionSequenceFailed, err)
	}
	if serial == "" {
		return Fault(state.StateNoSerialNumber, errNoSerial)
	}
	s.serial = serial
	s.log.Info("chip seated", zap.Stringer("position", pos), zap.String("serial", serial))
	return nil
}

func (s *Stand) runTests(ctx context.Context, pos plan.ChipPosition) error {
	out, err := s.caps.Tester.RunTests(ctx, pos, s.serial)
	if err != nil {
		return err
	}
	s.outcome = out
	s.log.Info("tests finished",
		zap.String("serial", s.serial),
		zap.Bool("passed", out.Passed),
		zap.String("detail", out.Detail),
	)
	return nil
}

func (s *Stand) writeResults(ctx context.Context, pos plan.ChipPosition) error {
	res := store.ChipResult{
		SessionID: s.session.ID,
		Tray:      pos.Tray,
		Column:    pos.Column,
		Row:       pos.Row,
		Board:     pos.Board,
		Socket:    pos.Socket,
		Label:     pos.Label,
		Serial:    s.serial,
		Passed:    s.outcome.Passed,
		Detail:    s.outcome.Detail,
		CreatedAt: time.Now(),
	}
	if s.repos.Results != nil {
		if err := s.repos.Results.Save(ctx, &res); err != nil {
			return Fault(state.StateFailedUpload, fmt.Errorf("failed to store result: %w", err))
		}
	}

	if err := s.caps.Uploader.UploadResults(ctx, res); err != nil {
		return Fault(state.StateFailedUpload, err)
	}
	if s.repos.Results != nil {
		if err := s.repos.Results.MarkUploaded(ctx, res.ID); err != nil {
			s.log.Warn("failed to mark result uploaded", zap.Int64("result_id", res.ID), zap.Error(err))
		}
	}
	return nil
}

func (s *Stand) moveToBadTray(ctx context.Context, pos plan.ChipPosition) error {
	if err := s.motion.MoveToBadTray(ctx, pos, s.badTray); err != nil {
		return err
	}
	s.log.Info("chip moved to bad tray", zap.Stringer("position", pos))

	// The rejected chip is done with, so the plan moves on.
	err := s.plan.Advance()
	s.wrapped = errors.Is(err, plan.ErrEndOfPlan)
	if s.wrapped {
		s.plan.Reset()
	}
	return nil
}

func (s *Stand) haltOnTrip(ctx context.Context, _ plan.ChipPosition) error {
	// The running action was just cancelled by the trip.
	hctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	err := s.motion.Halt(hctx)
	if nerr := s.caps.Notifier.Notify(hctx, "Light curtain tripped", "The arm was halted. Continue or reset?"); nerr != nil {
		s.log.Warn("failed to send notification", zap.Error(nerr))
	}
	return err
}

func (s *Stand) notifyFault(f state.State) EntryAction {
	return func(ctx context.Context, pos plan.ChipPosition) error {
		body := fmt.Sprintf("Fault %s at %s", f, pos)
		if err := s.caps.Notifier.Notify(ctx, "Stand fault: "+string(f), body); err != nil {
			s.log.Warn("failed to send notification", zap.Stringer("fault", f), zap.Error(err))
		}
		return nil
	}
}

// faultFor picks the fault an entry failure in st is raised as, or ""
// if there is none.
func faultFor(st state.State, err error) state.State {
	var fe *FaultError
	if errors.As(err, &fe) {
		return fe.Fault
	}
	switch {
	case errors.Is(err, motion.ErrPlacementFailed):
		return state.StateBadContact
	case transport.IsConnectionError(err):
		return state.StateNoServerConnection
	}
	switch st {
	case state.StateSurveyingSockets, state.StateMovingChipToSocket, state.StateMovingChipToTray:
		return state.StateVisionSequenceFailed
	case state.StateTesting:
		return state.StateFailedInit
	case state.StateWritingResults:
		return state.StateFailedUpload
	}
	return ""
}
