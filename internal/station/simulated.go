package station

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/fnal-rts/rts-coordinator/internal/motion"
	"github.com/fnal-rts/rts-coordinator/internal/plan"
	"github.com/fnal-rts/rts-coordinator/internal/store"
)

// SimulatedMotion logs moves instead of driving the arm.
type SimulatedMotion struct {
	log *zap.Logger
}

// NewSimulatedMotion creates a SimulatedMotion.
func NewSimulatedMotion(log *zap.Logger) *SimulatedMotion {
	return &SimulatedMotion{log: log.Named("sim-motion")}
}

func (m *SimulatedMotion) MoveToSocket(_ context.Context, pos plan.ChipPosition) error {
	m.log.Info("simulated move to socket", zap.Stringer("position", pos))
	return nil
}

func (m *SimulatedMotion) MoveToTray(_ context.Context, pos plan.ChipPosition) error {
	m.log.Info("simulated move to tray", zap.Stringer("position", pos))
	return nil
}

func (m *SimulatedMotion) MoveToBadTray(_ context.Context, pos plan.ChipPosition, bad motion.Location) error {
	m.log.Info("simulated move to bad tray",
		zap.Stringer("position", pos),
		zap.Int("bad_tray", bad.Tray),
		zap.Int("bad_col", bad.Column),
		zap.Int("bad_row", bad.Row),
	)
	return nil
}

func (m *SimulatedMotion) Reseat(_ context.Context, pos plan.ChipPosition) error {
	m.log.Info("simulated reseat", zap.Stringer("position", pos))
	return nil
}

func (m *SimulatedMotion) ReturnHeldChip(_ context.Context, pos plan.ChipPosition) error {
	m.log.Info("simulated return of held chip", zap.Stringer("position", pos))
	return nil
}

func (m *SimulatedMotion) Halt(_ context.Context) error {
	m.log.Info("simulated halt")
	return nil
}

type simulatedVision struct{ log *zap.Logger }

func (v simulatedVision) SocketsEmpty(_ context.Context, pos plan.ChipPosition) (bool, error) {
	v.log.Info("simulated socket survey", zap.Stringer("position", pos))
	return true, nil
}

func (v simulatedVision) ReadSerial(_ context.Context, pos plan.ChipPosition, _ string) (string, error) {
	serial := fmt.Sprintf("SIM-%s-%d%02d%d", pos.Label, pos.Tray, pos.Column, pos.Row)
	v.log.Info("simulated serial read", zap.String("serial", serial))
	return serial, nil
}

type simulatedTester struct{ log *zap.Logger }

func (t simulatedTester) RunTests(_ context.Context, pos plan.ChipPosition, serial string) (TestOutcome, error) {
	t.log.Info("simulated test run", zap.Stringer("position", pos), zap.String("serial", serial))
	return TestOutcome{Passed: true, Detail: "simulated"}, nil
}

type simulatedUploader struct{ log *zap.Logger }

func (u simulatedUploader) UploadResults(_ context.Context, r store.ChipResult) error {
	u.log.Info("simulated upload", zap.String("serial", r.Serial), zap.Bool("passed", r.Passed))
	return nil
}

// LogNotifier writes notifications to the log.
type LogNotifier struct {
	log *zap.Logger
}

// NewLogNotifier creates a LogNotifier.
func NewLogNotifier(log *zap.Logger) *LogNotifier {
	return &LogNotifier{log: log.Named("notify")}
}

func (n *LogNotifier) Notify(_ context.Context, subject, body string) error {
	n.log.Warn(subject, zap.String("body", body))
	return nil
}

// Simulated returns capabilities that log instead of touching hardware.
func Simulated(log *zap.Logger) Capabilities {
	l := log.Named("sim")
	return Capabilities{
		Vision:   simulatedVision{log: l},
		Tester:   simulatedTester{log: l},
		Uploader: simulatedUploader{log: l},
		Notifier: NewLogNotifier(log),
	}
}
