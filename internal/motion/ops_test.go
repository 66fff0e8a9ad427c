package motion

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fnal-rts/rts-coordinator/internal/plan"
)

// fakeCommander echoes every command unless replies has a queued answer
// for it.
type fakeCommander struct {
	mu      sync.Mutex
	sent    []string
	replies map[string][]string
	fail    error
}

func newFakeCommander() *fakeCommander {
	return &fakeCommander{replies: make(map[string][]string)}
}

func (f *fakeCommander) queue(cmd string, replies ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies[cmd] = append(f.replies[cmd], replies...)
}

func (f *fakeCommander) Send(_ context.Context, cmd string, args ...string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	line := cmd
	if len(args) > 0 {
		line += " " + strings.Join(args, " ")
	}
	f.sent = append(f.sent, line)

	if f.fail != nil {
		return "", f.fail
	}
	if q := f.replies[cmd]; len(q) > 0 {
		f.replies[cmd] = q[1:]
		return q[0], nil
	}
	switch cmd {
	case "MotorOn":
		return "On", nil
	case "MotorOff", "PumpOff":
		return "Off", nil
	case "MoveChipFromTrayToSocket", "MoveChipFromSocketToTray", "MoveChipFromTrayToTray":
		return "0", nil
	}
	return cmd, nil
}

func (f *fakeCommander) Sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.sent))
	copy(out, f.sent)
	return out
}

func testOps(cmd Commander) *Ops {
	opts := DefaultOptions()
	opts.RetryDelay = 0
	opts.Settle = 0
	return NewOps(cmd, opts, zap.NewNop())
}

func testPosition() plan.ChipPosition {
	return plan.ChipPosition{Tray: 2, Column: 3, Row: 4, Board: 1, Socket: 22, Label: "CD1"}
}

func TestOps_MoveToSocket(t *testing.T) {
	f := newFakeCommander()
	ops := testOps(f)

	require.NoError(t, ops.MoveToSocket(context.Background(), testPosition()))
	assert.Equal(t, []string{
		"MotorOn",
		"MoveChipFromTrayToSocket 1 22 2 3 4",
		"JumpToCamera",
		"PumpOff",
		"MotorOff",
	}, f.Sent())
}

func TestOps_MoveToTrayMapsCD(t *testing.T) {
	f := newFakeCommander()
	ops := testOps(f)

	require.NoError(t, ops.MoveToTray(context.Background(), testPosition()))
	assert.Equal(t, []string{
		"MotorOn",
		"MoveChipFromSocketToTray 1 22 12 3 4",
		"JumpToCamera",
	}, f.Sent())
}

func TestOps_MoveToBadTray(t *testing.T) {
	f := newFakeCommander()
	opts := DefaultOptions()
	opts.DUT = DUTFE
	ops := NewOps(f, opts, zap.NewNop())

	bad := Location{Tray: 1, Column: 1, Row: 1}
	require.NoError(t, ops.MoveToBadTray(context.Background(), testPosition(), bad))
	assert.Contains(t, f.Sent(), "MoveChipFromSocketToTray 1 22 1 1 1")
}

func TestSocketToTray(t *testing.T) {
	tests := []struct {
		dut        DUTType
		socket     int
		tray       int
		wantSocket int
		wantTray   int
	}{
		{DUTFE, 21, 2, 21, 2},
		{DUTADC, 1, 2, 11, 2},
		{DUTCD, 21, 1, 21, 11},
		{DUTCD, 22, 2, 22, 12},
	}

	for _, tt := range tests {
		t.Run(string(tt.dut), func(t *testing.T) {
			s, tr := SocketToTray(tt.dut, tt.socket, tt.tray)
			assert.Equal(t, tt.wantSocket, s)
			assert.Equal(t, tt.wantTray, tr)
		})
	}
}

func TestOps_MoveRetriesAfterRehome(t *testing.T) {
	f := newFakeCommander()
	f.queue("MoveChipFromTrayToSocket", "-5", "3")
	ops := testOps(f)

	status, err := ops.MoveChipFromTrayToSocket(context.Background(), testPosition())
	require.NoError(t, err)
	assert.Equal(t, 3, status)
	assert.Equal(t, []string{
		"MoveChipFromTrayToSocket 1 22 2 3 4",
		"JumpToTray 2 3 4",
		"DropToTray",
		"JumpToCamera",
		"Quiet",
		"MotorOn",
		"MoveChipFromTrayToSocket 1 22 2 3 4",
	}, f.Sent())
}

func TestOps_MoveGivesUp(t *testing.T) {
	f := newFakeCommander()
	f.queue("MoveChipFromSocketToTray", "-1", "-1", "-1", "-1")
	ops := testOps(f)

	_, err := ops.MoveChipFromSocketToTray(context.Background(), testPosition(), Location{Tray: 2, Column: 3, Row: 4})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPlacementFailed)

	var pe *PlacementError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, 3, pe.Attempts)
	assert.Equal(t, -1, pe.Status)
}

func TestOps_InformationalStatusIsNotRetried(t *testing.T) {
	f := newFakeCommander()
	f.queue("MoveChipFromTrayToSocket", "-200")
	ops := testOps(f)

	status, err := ops.MoveChipFromTrayToSocket(context.Background(), testPosition())
	require.NoError(t, err)
	assert.Equal(t, StatusInformational, status)
	assert.Len(t, f.Sent(), 1)
}

func TestOps_NonNumericMoveReply(t *testing.T) {
	f := newFakeCommander()
	f.queue("MoveChipFromTrayToSocket", "busy")
	ops := testOps(f)

	_, err := ops.MoveChipFromTrayToSocket(context.Background(), testPosition())
	assert.ErrorIs(t, err, ErrUnexpectedResponse)
}

func TestOps_KeywordRepeatsThenFails(t *testing.T) {
	f := newFakeCommander()
	f.queue("MotorOn", "Err", "On")
	ops := testOps(f)

	require.NoError(t, ops.MotorOn(context.Background()))
	assert.Equal(t, []string{"MotorOn", "MotorOn"}, f.Sent())

	f.queue("MotorOn", "Err", "Err", "Err")
	assert.ErrorIs(t, ops.MotorOn(context.Background()), ErrUnexpectedResponse)
}

func TestOps_TransportErrorPropagates(t *testing.T) {
	boom := errors.New("link down")
	f := newFakeCommander()
	f.fail = boom
	ops := testOps(f)

	assert.ErrorIs(t, ops.MoveToSocket(context.Background(), testPosition()), boom)
}

func TestOps_ReseatAndReturn(t *testing.T) {
	f := newFakeCommander()
	ops := testOps(f)
	ctx := context.Background()

	require.NoError(t, ops.Reseat(ctx, testPosition()))
	require.NoError(t, ops.ReturnHeldChip(ctx, testPosition()))
	assert.Equal(t, []string{
		"JumpToSocket 1 22",
		"InsertIntoSocket",
		"JumpToCamera",
		"JumpToTray 2 3 4",
		"DropToTray",
		"JumpToCamera",
	}, f.Sent())
}

func TestOps_Shutdown(t *testing.T) {
	f := newFakeCommander()
	ops := testOps(f)

	require.NoError(t, ops.Shutdown(context.Background()))
	assert.Equal(t, []string{"PumpOff", "Shutdown"}, f.Sent())
}

func TestOps_IdleHonoursContext(t *testing.T) {
	f := newFakeCommander()
	opts := DefaultOptions()
	ops := NewOps(f, opts, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, ops.Idle(ctx), context.Canceled)
}

func TestRepeatable(t *testing.T) {
	for _, cmd := range []string{"MotorOn", "Quiet", "CoverStatus", "JumpToTray", "JumpToSocket"} {
		assert.True(t, Repeatable(cmd), cmd)
	}
	for _, cmd := range []string{"DropToTray", "InsertIntoSocket", "MoveChipFromTrayToSocket", "Shutdown"} {
		assert.False(t, Repeatable(cmd), cmd)
	}
}
