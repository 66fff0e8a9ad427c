// Package motion builds chip moves out of controller commands.
package motion

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// StatusInformational is a negative move status that is not a failure
// and is never retried.
const StatusInformational = -200

var (
	// ErrPlacementFailed is wrapped by PlacementError.
	ErrPlacementFailed = errors.New("chip placement failed")
	// ErrUnexpectedResponse is returned when a reply is neither the
	// expected keyword nor a status code.
	ErrUnexpectedResponse = errors.New("unexpected controller response")
)

// PlacementError reports a move that kept failing after every rehome.
type PlacementError struct {
	Move     string
	Status   int
	Attempts int
}

func (e *PlacementError) Error() string {
	return fmt.Sprintf("%s failed with status %d after %d attempts", e.Move, e.Status, e.Attempts)
}

func (e *PlacementError) Unwrap() error {
	return ErrPlacementFailed
}

// Commander sends one command and returns its reply line.
type Commander interface {
	Send(ctx context.Context, cmd string, args ...string) (string, error)
}

// DUTType selects how socket and tray numbers are mapped when a chip
// goes back from a socket to a tray.
type DUTType string

const (
	DUTFE  DUTType = "FE"
	DUTADC DUTType = "ADC"
	DUTCD  DUTType = "CD"
)

// Location is a tray slot.
type Location struct {
	Tray   int `json:"tray"`
	Column int `json:"column"`
	Row    int `json:"row"`
}

// Options tunes the retry behaviour.
type Options struct {
	// MaxRetries bounds the rehome-and-retry loop of a move.
	MaxRetries int
	// KeywordAttempts bounds how often a keyword command is repeated
	// before its reply is treated as unexpected.
	KeywordAttempts int
	// RetryDelay separates keyword command repeats.
	RetryDelay time.Duration
	// Settle is how long the arm is left alone after Quiet.
	Settle time.Duration

	DUT DUTType
}

// DefaultOptions returns the stand defaults.
func DefaultOptions() Options {
	return Options{
		MaxRetries:      2,
		KeywordAttempts: 3,
		RetryDelay:      time.Second,
		Settle:          5 * time.Second,
		DUT:             DUTCD,
	}
}

// Ops issues controller commands.
type Ops struct {
	cmd  Commander
	opts Options
	log  *zap.Logger
}

// NewOps creates Ops over a commander.
func NewOps(cmd Commander, opts Options, log *zap.Logger) *Ops {
	if opts.KeywordAttempts < 1 {
		opts.KeywordAttempts = 1
	}
	return &Ops{cmd: cmd, opts: opts, log: log.Named("motion")}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// expect sends cmd until the reply contains keyword.
func (o *Ops) expect(ctx context.Context, keyword, cmd string, args ...string) error {
	var reply string
	for i := 0; i < o.opts.KeywordAttempts; i++ {
		if i > 0 {
			if err := sleep(ctx, o.opts.RetryDelay); err != nil {
				return err
			}
		}
		var err error
		reply, err = o.cmd.Send(ctx, cmd, args...)
		if err != nil {
			return fmt.Errorf("%s: %w", cmd, err)
		}
		if strings.Contains(reply, keyword) {
			return nil
		}
		o.log.Warn("unexpected reply",
			zap.String("command", cmd),
			zap.String("reply", reply),
			zap.Int("attempt", i+1),
		)
	}
	return fmt.Errorf("%w: %s replied %q", ErrUnexpectedResponse, cmd, reply)
}

// Repeatable reports whether cmd is safe to send again when its reply
// was lost: power, status and absolute jumps. Anything that places or
// picks up a chip is not.
func Repeatable(cmd string) bool {
	switch cmd {
	case "MotorOn", "MotorOff", "PumpOff", "Quiet", "CoverStatus",
		"JumpToCamera", "JumpToTray", "JumpToSocket":
		return true
	}
	return false
}

func itoa(vals ...int) []string {
	out := make([]string, len(vals))
	for i, v := range vals {
		out[i] = strconv.Itoa(v)
	}
	return out
}

// MotorOn powers the arm.
func (o *Ops) MotorOn(ctx context.Context) error {
	return o.expect(ctx, "On", "MotorOn")
}

// MotorOff unpowers the arm.
func (o *Ops) MotorOff(ctx context.Context) error {
	return o.expect(ctx, "Off", "MotorOff")
}

// PumpOff stops the vacuum pump.
func (o *Ops) PumpOff(ctx context.Context) error {
	return o.expect(ctx, "Off", "PumpOff")
}

// JumpToCamera parks the arm over the camera.
func (o *Ops) JumpToCamera(ctx context.Context) error {
	return o.expect(ctx, "JumpToCamera", "JumpToCamera")
}

// Idle sends Quiet and waits for the arm to settle.
func (o *Ops) Idle(ctx context.Context) error {
	if err := o.expect(ctx, "Quiet", "Quiet"); err != nil {
		return err
	}
	return sleep(ctx, o.opts.Settle)
}

// JumpToTray moves over a tray slot.
func (o *Ops) JumpToTray(ctx context.Context, tray, col, row int) error {
	return o.expect(ctx, "JumpToTray", "JumpToTray", itoa(tray, col, row)...)
}

// DropToTray lowers into the tray slot and releases.
func (o *Ops) DropToTray(ctx context.Context) error {
	return o.expect(ctx, "DropToTray", "DropToTray")
}

// JumpToSocket moves over a socket.
func (o *Ops) JumpToSocket(ctx context.Context, board, socket int) error {
	return o.expect(ctx, "JumpToSocket", "JumpToSocket", itoa(board, socket)...)
}

// InsertIntoSocket lowers into the socket and releases.
func (o *Ops) InsertIntoSocket(ctx context.Context) error {
	return o.expect(ctx, "InsertIntoSocket", "InsertIntoSocket")
}

// CoverStatus returns the raw cover status reply.
func (o *Ops) CoverStatus(ctx context.Context) (string, error) {
	reply, err := o.cmd.Send(ctx, "CoverStatus")
	if err != nil {
		return "", fmt.Errorf("CoverStatus: %w", err)
	}
	return reply, nil
}

// Shutdown stops the pump and shuts the controller down.
func (o *Ops) Shutdown(ctx context.Context) error {
	if err := o.PumpOff(ctx); err != nil {
		return err
	}
	if _, err := o.cmd.Send(ctx, "Shutdown"); err != nil {
		return fmt.Errorf("Shutdown: %w", err)
	}
	o.log.Info("controller shut down")
	return nil
}
