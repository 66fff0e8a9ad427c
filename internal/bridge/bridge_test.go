package bridge

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fnal-rts/rts-coordinator/internal/config"
	"github.com/fnal-rts/rts-coordinator/internal/state"
	"github.com/fnal-rts/rts-coordinator/internal/station"
)

// FakeStand implements Stand for testing.
type FakeStand struct {
	mu        sync.Mutex
	current   state.State
	busy      bool
	awaiting  string
	submitted []station.Action
	decided   []station.Choice
	trips     int
	// hold keeps submitted requests in flight until closed.
	hold chan struct{}
	done chan struct{}
}

func NewFakeStand(current state.State) *FakeStand {
	return &FakeStand{current: current, done: make(chan struct{})}
}

func (f *FakeStand) TrySubmit(_ string, a station.Action) (<-chan error, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.busy {
		return nil, state.ErrBusy
	}
	f.submitted = append(f.submitted, a)
	reply := make(chan error, 1)
	if f.hold == nil {
		reply <- nil
		return reply, nil
	}
	hold := f.hold
	go func() {
		<-hold
		reply <- nil
	}()
	return reply, nil
}

func (f *FakeStand) CurtainTrip() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.trips++
}

func (f *FakeStand) Decide(_ string, c station.Choice) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.awaiting == "" {
		return station.ErrNotAwaitingChoice
	}
	f.decided = append(f.decided, c)
	f.awaiting = ""
	return nil
}

func (f *FakeStand) AwaitingChoice() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.awaiting
}

func (f *FakeStand) Snapshot() state.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return state.Snapshot{State: f.current}
}

func (f *FakeStand) Done() <-chan struct{} {
	return f.done
}

func (f *FakeStand) SetBusy(b bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.busy = b
}

func (f *FakeStand) Submitted() []station.Action {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]station.Action(nil), f.submitted...)
}

func (f *FakeStand) Trips() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.trips
}

func newTestBridge(t *testing.T, fs *FakeStand) (*Bridge, string) {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.FeedPath = filepath.Join(t.TempDir(), "status.log")
	cfg.PollInterval = 10 * time.Millisecond
	return NewBridge(cfg, fs, zap.NewNop()), cfg.FeedPath
}

func appendLine(t *testing.T, path, line string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString(line + "\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())
}

func TestMatcher_DefaultTokens(t *testing.T) {
	m := NewMatcher(DefaultTokens())

	tests := []struct {
		line   string
		kind   SignalKind
		target state.State
	}{
		{"curtainTripped", SignalCurtain, ""},
		{"Curtain tripped at 12:01", SignalCurtain, ""},
		{"stopping", SignalPause, ""},
		{"stopped", SignalPause, ""},
		{"started", SignalResume, ""},
		{"pickingChips", SignalAdvance, state.StateMovingChipToSocket},
		{"Picked up chip from tray 1", SignalAdvance, state.StateMovingChipToSocket},
		{"jumped to DAT", SignalAdvance, state.StateTesting},
		{"no_pressure", SignalFault, state.StateNoPressure},
		{"LOST VACUUM", SignalFault, state.StateLostVacuum},
		{"writing_results", SignalAdvance, state.StateWritingResults},
		{"ground", SignalGround, ""},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			sig, ok := m.Match(tt.line)
			require.True(t, ok)
			assert.Equal(t, tt.kind, sig.Kind)
			assert.Equal(t, tt.target, sig.Target)
			assert.Equal(t, tt.line, sig.Line)
		})
	}

	_, ok := m.Match("homing axis 3")
	assert.False(t, ok)
	_, ok = m.Match("   ")
	assert.False(t, ok)
}

func TestLastLine(t *testing.T) {
	dir := t.TempDir()

	line, err := LastLine(filepath.Join(dir, "missing.log"))
	require.NoError(t, err)
	assert.Empty(t, line)

	path := filepath.Join(dir, "feed.log")
	require.NoError(t, os.WriteFile(path, []byte("first\nsecond\r\n\n  \n"), 0o644))
	line, err = LastLine(path)
	require.NoError(t, err)
	assert.Equal(t, "second", line)

	// A last line longer than one read chunk.
	long := strings.Repeat("x", tailChunk+100)
	require.NoError(t, os.WriteFile(path, []byte("first\n"+long+"\n"), 0o644))
	line, err = LastLine(path)
	require.NoError(t, err)
	assert.Equal(t, long, line)

	require.NoError(t, os.WriteFile(path, []byte("only"), 0o644))
	line, err = LastLine(path)
	require.NoError(t, err)
	assert.Equal(t, "only", line)
}

func TestBridge_AdvanceOnlyToSuccessor(t *testing.T) {
	fs := NewFakeStand(state.StateSurveyingSockets)
	b, _ := newTestBridge(t, fs)
	m := NewMatcher(DefaultTokens())

	sig, _ := m.Match("pickingChips")
	assert.Equal(t, OutcomeSubmitted, b.Handle(sig))
	require.Eventually(t, func() bool { return !b.inFlight.Load() }, time.Second, 5*time.Millisecond)

	sig, _ = m.Match("jumped to dat")
	assert.Equal(t, OutcomeDropped, b.Handle(sig))

	sig, _ = m.Match("surveying_sockets")
	assert.Equal(t, OutcomeDropped, b.Handle(sig))

	assert.Equal(t, []station.Action{{Kind: station.ActionAdvanceTo, Target: state.StateMovingChipToSocket}}, fs.Submitted())
}

func TestBridge_BusyDefers(t *testing.T) {
	fs := NewFakeStand(state.StateGround)
	fs.SetBusy(true)
	b, _ := newTestBridge(t, fs)

	sig := NewSignal(SignalPause, "", "stopping")
	assert.Equal(t, OutcomeDeferred, b.Handle(sig))
	assert.False(t, b.inFlight.Load())

	fs.SetBusy(false)
	assert.Equal(t, OutcomeSubmitted, b.Handle(sig))
}

func TestBridge_InFlightIgnoresNewSignals(t *testing.T) {
	fs := NewFakeStand(state.StateGround)
	fs.hold = make(chan struct{})
	b, _ := newTestBridge(t, fs)

	assert.Equal(t, OutcomeSubmitted, b.Handle(NewSignal(SignalPause, "", "stopping")))
	assert.Equal(t, OutcomeIgnored, b.Handle(NewSignal(SignalFault, state.StateNoServerConnection, "no_server_connection")))

	// Curtain trips are never held back.
	assert.Equal(t, OutcomeSubmitted, b.Handle(NewSignal(SignalCurtain, "", "curtainTripped")))
	assert.Equal(t, 1, fs.Trips())

	close(fs.hold)
	require.Eventually(t, func() bool { return !b.inFlight.Load() }, time.Second, 5*time.Millisecond)
	assert.Len(t, fs.Submitted(), 1)
}

func TestBridge_ResumeDecidesPause(t *testing.T) {
	fs := NewFakeStand(state.StatePaused)
	b, _ := newTestBridge(t, fs)

	sig := NewSignal(SignalResume, "", "started")
	assert.Equal(t, OutcomeDropped, b.Handle(sig))

	fs.mu.Lock()
	fs.awaiting = string(station.PromptPause)
	fs.mu.Unlock()

	assert.Equal(t, OutcomeSubmitted, b.Handle(sig))
	fs.mu.Lock()
	assert.Equal(t, []station.Choice{station.ChoiceResume}, fs.decided)
	fs.mu.Unlock()
	assert.False(t, b.inFlight.Load())
}

func TestBridge_GroundAndFault(t *testing.T) {
	fs := NewFakeStand(state.StateGround)
	b, _ := newTestBridge(t, fs)

	assert.Equal(t, OutcomeDropped, b.Handle(NewSignal(SignalGround, "", "ground")))

	assert.Equal(t, OutcomeSubmitted, b.Handle(NewSignal(SignalFault, state.StateNoServerConnection, "no_server_connection")))
	require.Eventually(t, func() bool { return !b.inFlight.Load() }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []station.Action{{Kind: station.ActionReportFault, Target: state.StateNoServerConnection}}, fs.Submitted())
}

func TestBridge_RunTailsFeed(t *testing.T) {
	fs := NewFakeStand(state.StateGround)
	b, path := newTestBridge(t, fs)

	var mu sync.Mutex
	var seen []Outcome
	b.OnSignal(func(_ Signal, out Outcome) {
		mu.Lock()
		seen = append(seen, out)
		mu.Unlock()
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errc := make(chan error, 1)
	go func() { errc <- b.Run(ctx) }()

	appendLine(t, path, "stopping")
	require.Eventually(t, func() bool { return len(fs.Submitted()) == 1 }, time.Second, 5*time.Millisecond)

	// The same line seen again is not handled twice.
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, fs.Submitted(), 1)

	appendLine(t, path, "curtainTripped")
	require.Eventually(t, func() bool { return fs.Trips() == 1 }, time.Second, 5*time.Millisecond)

	mu.Lock()
	assert.Equal(t, []Outcome{OutcomeSubmitted, OutcomeSubmitted}, seen)
	mu.Unlock()

	cancel()
	select {
	case err := <-errc:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("bridge did not stop")
	}
}

func TestBridge_StopsWhenSessionEnds(t *testing.T) {
	fs := NewFakeStand(state.StateGround)
	b, _ := newTestBridge(t, fs)

	errc := make(chan error, 1)
	go func() { errc <- b.Run(context.Background()) }()

	close(fs.done)
	select {
	case err := <-errc:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("bridge did not stop")
	}
}

func TestBridge_DisabledWithoutFeed(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.FeedPath = ""
	b := NewBridge(cfg, NewFakeStand(state.StateGround), zap.NewNop())
	assert.NoError(t, b.Run(context.Background()))
}
