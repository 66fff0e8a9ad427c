package health

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fnal-rts/rts-coordinator/internal/config"
	"github.com/fnal-rts/rts-coordinator/internal/state"
)

type fakeProbe struct{}

func (fakeProbe) AwaitingChoice() string { return "pause" }
func (fakeProbe) PlanCursor() (int, int) { return 3, 40 }
func (fakeProbe) Connected() bool { return true }

func newTestMonitor(t *testing.T, cfg *config.Config) (*Monitor, *state.Machine, *Metrics) {
	t.Helper()
	sm := state.NewMachine()
	metrics := NewMetrics(prometheus.NewRegistry())
	m := NewMonitor(cfg, sm, metrics, zap.NewNop())
	t.Cleanup(m.Stop)
	return m, sm, metrics
}

func TestMonitor_GetStatus(t *testing.T) {
	m, _, _ := newTestMonitor(t, config.DefaultConfig())
	m.Start()

	status := m.GetStatus()
	assert.Equal(t, string(state.StateGround), status.State)
	assert.Equal(t, "normal", status.Class)
	assert.False(t, status.Connected)
	assert.GreaterOrEqual(t, status.UptimeSeconds, int64(0))

	m.SetProbe(fakeProbe{})
	status = m.GetStatus()
	assert.Equal(t, "pause", status.AwaitingChoice)
	assert.Equal(t, 3, status.PlanIndex)
	assert.Equal(t, 40, status.PlanSize)
	assert.True(t, status.Connected)
}

func TestMonitor_CountsTransitions(t *testing.T) {
	m, sm, metrics := newTestMonitor(t, config.DefaultConfig())
	ctx := context.Background()

	require.NoError(t, sm.Fire(ctx, state.TriggerCycle))
	require.NoError(t, sm.Fire(ctx, state.TriggerErrorCycle, state.StateChipInSocket))
	require.NoError(t, sm.Fire(ctx, state.TriggerCurtainTrip))

	status := m.GetStatus()
	assert.Equal(t, int64(3), status.Transitions)
	assert.Equal(t, int64(1), status.Faults)
	assert.Equal(t, int64(1), status.CurtainTrips)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Transitions.WithLabelValues("cycle", "ground", "surveying_sockets")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Faults.WithLabelValues("chip_in_socket")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.CurtainTrips))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.State.WithLabelValues("curtain_tripped")))
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.State.WithLabelValues("ground")))
}

func TestMonitor_RecordEntryFailure(t *testing.T) {
	m, _, metrics := newTestMonitor(t, config.DefaultConfig())

	m.RecordEntryFailure(state.StateTesting)
	m.RecordEntryFailure(state.StateTesting)

	assert.Equal(t, int64(2), m.GetStatus().EntryFailures)
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.EntryFailures.WithLabelValues("testing")))
}

func TestMonitor_ReconnectBackoff(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.ReconnectBaseDelay = 100 * time.Millisecond
	cfg.ReconnectMaxDelay = 1 * time.Second
	cfg.ReconnectMaxRetries = 5
	m, _, _ := newTestMonitor(t, cfg)

	// Backoff has randomization
	delay := m.GetNextReconnectDelay()
	assert.Greater(t, delay, time.Duration(0))
	assert.LessOrEqual(t, delay, cfg.ReconnectMaxDelay)

	_ = m.GetNextReconnectDelay()
	_ = m.GetNextReconnectDelay()

	m.ResetReconnectBackoff()
	delayAfterReset := m.GetNextReconnectDelay()
	assert.Greater(t, delayAfterReset, time.Duration(0))
	assert.LessOrEqual(t, delayAfterReset, cfg.ReconnectMaxDelay)
}

func TestMonitor_MaxRetriesExceeded(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.ReconnectMaxRetries = 2
	m, _, _ := newTestMonitor(t, cfg)

	for i := 0; i < 3; i++ {
		m.GetNextReconnectDelay()
	}
	assert.True(t, m.IsMaxRetriesExceeded())
	assert.False(t, m.ScheduleReconnect(func(context.Context) error { return nil }))

	m.ResetReconnectBackoff()
	assert.False(t, m.IsMaxRetriesExceeded())
}

func TestMonitor_ScheduleReconnect(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.ReconnectBaseDelay = time.Millisecond
	cfg.ReconnectMaxDelay = 5 * time.Millisecond
	cfg.ReconnectMaxRetries = 5
	m, _, metrics := newTestMonitor(t, cfg)

	var calls atomic.Int32
	done := make(chan struct{})
	ok := m.ScheduleReconnect(func(context.Context) error {
		if calls.Add(1) < 3 {
			return errors.New("refused")
		}
		close(done)
		return nil
	})
	require.True(t, ok)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("reconnect never succeeded")
	}

	assert.Eventually(t, func() bool { return m.GetReconnectCount() == 1 }, time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool { return !m.IsMaxRetriesExceeded() }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Reconnects))
}

func TestMonitor_StopCancelsPendingReconnect(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.ReconnectBaseDelay = time.Hour
	cfg.ReconnectMaxDelay = time.Hour
	sm := state.NewMachine()
	m := NewMonitor(cfg, sm, nil, zap.NewNop())

	called := atomic.Bool{}
	require.True(t, m.ScheduleReconnect(func(context.Context) error {
		called.Store(true)
		return nil
	}))
	m.Stop()
	assert.False(t, called.Load())
}
