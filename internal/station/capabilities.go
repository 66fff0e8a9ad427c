package station

import (
	"context"
	"fmt"

	"github.com/fnal-rts/rts-coordinator/internal/motion"
	"github.com/fnal-rts/rts-coordinator/internal/plan"
	"github.com/fnal-rts/rts-coordinator/internal/state"
	"github.com/fnal-rts/rts-coordinator/internal/store"
)

// Motion is the part of the arm the entry actions drive.
type Motion interface {
	MoveToSocket(ctx context.Context, pos plan.ChipPosition) error
	MoveToTray(ctx context.Context, pos plan.ChipPosition) error
	MoveToBadTray(ctx context.Context, pos plan.ChipPosition, bad motion.Location) error
	Reseat(ctx context.Context, pos plan.ChipPosition) error
	ReturnHeldChip(ctx context.Context, pos plan.ChipPosition) error
	Halt(ctx context.Context) error
}

// Vision inspects sockets and reads chip serial numbers.
type Vision interface {
	// SocketsEmpty reports whether the destination sockets are free.
	SocketsEmpty(ctx context.Context, pos plan.ChipPosition) (bool, error)
	// ReadSerial returns the serial number printed on the chip, or ""
	// if none could be read. Images go to imageDir.
	ReadSerial(ctx context.Context, pos plan.ChipPosition, imageDir string) (string, error)
}

// TestOutcome is what the test hardware reported for a chip.
type TestOutcome struct {
	Passed bool   `json:"passed"`
	Detail string `json:"detail,omitempty"`
}

// Tester powers the test board and runs the test suite.
type Tester interface {
	RunTests(ctx context.Context, pos plan.ChipPosition, serial string) (TestOutcome, error)
}

// Uploader sends a result to the results database.
type Uploader interface {
	UploadResults(ctx context.Context, r store.ChipResult) error
}

// Notifier tells people about faults.
type Notifier interface {
	Notify(ctx context.Context, subject, body string) error
}

// Capabilities bundles the collaborators used by entry actions.
type Capabilities struct {
	Vision   Vision
	Tester   Tester
	Uploader Uploader
	Notifier Notifier
}

// FaultError names the fault an entry action failure maps to.
type FaultError struct {
	Fault state.State
	Err   error
}

func (e *FaultError) Error() string {
	return fmt.Sprintf("%s: %v", e.Fault, e.Err)
}

func (e *FaultError) Unwrap() error {
	return e.Err
}

// Fault wraps err as a FaultError for fault.
func Fault(fault state.State, err error) error {
	return &FaultError{Fault: fault, Err: err}
}

// EntryError reports a failed entry action. The transition that
// entered State has already happened.
type EntryError struct {
	State state.State
	Err   error
}

func (e *EntryError) Error() string {
	return fmt.Sprintf("entry action for %s failed: %v", e.State, e.Err)
}

func (e *EntryError) Unwrap() error {
	return e.Err
}
