package motion

import (
	"context"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"github.com/fnal-rts/rts-coordinator/internal/plan"
)

// move sends a status-returning move and retries recoverable failures,
// running rehome before each retry.
func (o *Ops) move(ctx context.Context, name string, args []int, rehome func(context.Context) error) (int, error) {
	attempts := 0
	for {
		attempts++
		reply, err := o.cmd.Send(ctx, name, itoa(args...)...)
		if err != nil {
			return 0, fmt.Errorf("%s: %w", name, err)
		}

		status, err := strconv.Atoi(reply)
		if err != nil {
			return 0, fmt.Errorf("%w: %s replied %q", ErrUnexpectedResponse, name, reply)
		}
		if status >= 0 || status == StatusInformational {
			return status, nil
		}

		o.log.Warn("move failed, moving chip back",
			zap.String("move", name),
			zap.Int("status", status),
			zap.Int("attempt", attempts),
		)
		if err := rehome(ctx); err != nil {
			return status, fmt.Errorf("rehome after %s: %w", name, err)
		}
		if attempts > o.opts.MaxRetries {
			return status, &PlacementError{Move: name, Status: status, Attempts: attempts}
		}
	}
}

func (o *Ops) settleAndPower(ctx context.Context) error {
	if err := o.JumpToCamera(ctx); err != nil {
		return err
	}
	if err := o.Idle(ctx); err != nil {
		return err
	}
	if err := sleep(ctx, o.opts.RetryDelay); err != nil {
		return err
	}
	return o.MotorOn(ctx)
}

func (o *Ops) rehomeToTray(tray, col, row int) func(context.Context) error {
	return func(ctx context.Context) error {
		if err := o.JumpToTray(ctx, tray, col, row); err != nil {
			return err
		}
		if err := o.DropToTray(ctx); err != nil {
			return err
		}
		return o.settleAndPower(ctx)
	}
}

func (o *Ops) rehomeToSocket(board, socket int) func(context.Context) error {
	return func(ctx context.Context) error {
		if err := o.JumpToSocket(ctx, board, socket); err != nil {
			return err
		}
		if err := o.InsertIntoSocket(ctx); err != nil {
			return err
		}
		return o.settleAndPower(ctx)
	}
}

// MoveChipFromTrayToSocket picks the chip at pos and inserts it into its socket.
func (o *Ops) MoveChipFromTrayToSocket(ctx context.Context, pos plan.ChipPosition) (int, error) {
	o.log.Info("move chip from tray to socket", zap.Stringer("position", pos))
	return o.move(ctx, "MoveChipFromTrayToSocket",
		[]int{pos.Board, pos.Socket, pos.Tray, pos.Column, pos.Row},
		o.rehomeToTray(pos.Tray, pos.Column, pos.Row))
}

// SocketToTray maps a socket and tray for the DUT type.
func SocketToTray(dut DUTType, socket, tray int) (int, int) {
	switch dut {
	case DUTADC:
		return socket + 10, tray
	case DUTCD:
		return (socket & 0x03) + 20, (tray & 0x03) + 10
	default:
		return socket, tray
	}
}

// MoveChipFromSocketToTray returns the chip in pos's socket to dst.
func (o *Ops) MoveChipFromSocketToTray(ctx context.Context, pos plan.ChipPosition, dst Location) (int, error) {
	socket, tray := SocketToTray(o.opts.DUT, pos.Socket, dst.Tray)
	o.log.Info("move chip from socket to tray",
		zap.Stringer("position", pos),
		zap.Int("mapped_socket", socket),
		zap.Int("mapped_tray", tray),
	)
	return o.move(ctx, "MoveChipFromSocketToTray",
		[]int{pos.Board, socket, tray, dst.Column, dst.Row},
		o.rehomeToSocket(pos.Board, pos.Socket))
}

// MoveChipFromTrayToTray moves a chip between tray slots.
func (o *Ops) MoveChipFromTrayToTray(ctx context.Context, src, dst Location) (int, error) {
	return o.move(ctx, "MoveChipFromTrayToTray",
		[]int{src.Tray, src.Column, src.Row, dst.Tray, dst.Column, dst.Row},
		o.rehomeToTray(src.Tray, src.Column, src.Row))
}

// MoveToSocket runs the full tray-to-socket sequence and leaves the arm
// parked and unpowered.
func (o *Ops) MoveToSocket(ctx context.Context, pos plan.ChipPosition) error {
	if err := o.MotorOn(ctx); err != nil {
		return err
	}
	if _, err := o.MoveChipFromTrayToSocket(ctx, pos); err != nil {
		return err
	}
	if err := o.JumpToCamera(ctx); err != nil {
		return err
	}
	if err := o.PumpOff(ctx); err != nil {
		return err
	}
	return o.MotorOff(ctx)
}

// MoveToTray runs the full socket-to-tray sequence back to pos's slot.
func (o *Ops) MoveToTray(ctx context.Context, pos plan.ChipPosition) error {
	return o.moveBack(ctx, pos, Location{Tray: pos.Tray, Column: pos.Column, Row: pos.Row})
}

// MoveToBadTray moves the chip in pos's socket to the bad tray.
func (o *Ops) MoveToBadTray(ctx context.Context, pos plan.ChipPosition, bad Location) error {
	return o.moveBack(ctx, pos, bad)
}

func (o *Ops) moveBack(ctx context.Context, pos plan.ChipPosition, dst Location) error {
	if err := o.MotorOn(ctx); err != nil {
		return err
	}
	if _, err := o.MoveChipFromSocketToTray(ctx, pos, dst); err != nil {
		return err
	}
	return o.JumpToCamera(ctx)
}

// Reseat pushes the chip back into its socket.
func (o *Ops) Reseat(ctx context.Context, pos plan.ChipPosition) error {
	if err := o.JumpToSocket(ctx, pos.Board, pos.Socket); err != nil {
		return err
	}
	if err := o.InsertIntoSocket(ctx); err != nil {
		return err
	}
	return o.JumpToCamera(ctx)
}

// ReturnHeldChip drops the chip on the gripper back into pos's slot.
func (o *Ops) ReturnHeldChip(ctx context.Context, pos plan.ChipPosition) error {
	if err := o.JumpToTray(ctx, pos.Tray, pos.Column, pos.Row); err != nil {
		return err
	}
	if err := o.DropToTray(ctx); err != nil {
		return err
	}
	return o.JumpToCamera(ctx)
}

// Halt unpowers the arm. Used on emergency stop.
func (o *Ops) Halt(ctx context.Context) error {
	return o.MotorOff(ctx)
}
