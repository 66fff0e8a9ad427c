// Package health tracks stand health, exports metrics and paces
// controller reconnects.
package health

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/fnal-rts/rts-coordinator/internal/config"
	"github.com/fnal-rts/rts-coordinator/internal/state"
)

// Status represents the health status of the stand.
type Status struct {
	State          string `json:"state"`
	Class          string `json:"class"`
	LastNormal     string `json:"last_normal"`
	ChipsOnGripper bool   `json:"chips_on_gripper"`
	Busy           bool   `json:"busy"`
	Exited         bool   `json:"exited"`
	AwaitingChoice string `json:"awaiting_choice,omitempty"`
	PlanIndex      int    `json:"plan_index"`
	PlanSize       int    `json:"plan_size"`
	Connected      bool   `json:"connected"`
	UptimeSeconds  int64  `json:"uptime_seconds"`
	Transitions    int64  `json:"transitions"`
	Faults         int64  `json:"faults"`
	CurtainTrips   int64  `json:"curtain_trips"`
	ReconnectCount int    `json:"reconnect_count"`
	EntryFailures  int64  `json:"entry_failures"`
}

// Probe supplies stand details the state machine does not hold.
type Probe interface {
	AwaitingChoice() string
	PlanCursor() (index, size int)
	Connected() bool
}

// Monitor tracks stand health and paces reconnect attempts.
type Monitor struct {
	stateMachine *state.Machine
	metrics      *Metrics
	log          *zap.Logger

	reconnectBackoff *backoff.ExponentialBackOff
	maxRetries       int
	retryCount       int

	probe Probe

	startTime      time.Time
	reconnectCount int
	transitions    atomic.Int64
	faults         atomic.Int64
	curtainTrips   atomic.Int64
	entryFailures  atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.RWMutex
}

// NewMonitor creates a health monitor and subscribes it to sm.
// metrics may be nil.
func NewMonitor(cfg *config.Config, sm *state.Machine, metrics *Metrics, log *zap.Logger) *Monitor {
	ctx, cancel := context.WithCancel(context.Background())

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = cfg.ReconnectBaseDelay
	bo.MaxInterval = cfg.ReconnectMaxDelay
	bo.MaxElapsedTime = 0
	bo.Reset()

	m := &Monitor{
		stateMachine:     sm,
		metrics:          metrics,
		log:              log.Named("health"),
		reconnectBackoff: bo,
		maxRetries:       cfg.ReconnectMaxRetries,
		startTime:        time.Now(),
		ctx:              ctx,
		cancel:           cancel,
	}

	if metrics != nil {
		metrics.setState(sm.Current(), sm.Table())
	}
	sm.OnTransition(m.onTransition)
	return m
}

// SetProbe attaches the stand details source.
func (m *Monitor) SetProbe(p Probe) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.probe = p
}

// Start begins the health monitoring.
func (m *Monitor) Start() {
	m.mu.Lock()
	m.startTime = time.Now()
	m.mu.Unlock()
	m.log.Info("health monitor started")
}

// Stop cancels pending reconnects and waits for them.
func (m *Monitor) Stop() {
	m.cancel()
	m.wg.Wait()
	m.log.Info("health monitor stopped")
}

func (m *Monitor) onTransition(_ context.Context, from, to state.State, trigger state.Trigger) {
	m.transitions.Add(1)
	if m.metrics != nil {
		m.metrics.Transitions.WithLabelValues(string(trigger), string(from), string(to)).Inc()
		m.metrics.setState(to, m.stateMachine.Table())
	}

	switch {
	case to == state.StateCurtainTripped:
		m.curtainTrips.Add(1)
		if m.metrics != nil {
			m.metrics.CurtainTrips.Inc()
		}
	case to.IsFault() && trigger == state.TriggerErrorCycle:
		m.RecordFault(to)
	}
}

// RecordFault counts a raised fault. Faults that divert without a state
// of their own are recorded by the caller.
func (m *Monitor) RecordFault(fault state.State) {
	m.faults.Add(1)
	if m.metrics != nil {
		m.metrics.Faults.WithLabelValues(string(fault)).Inc()
	}
}

// RecordEntryFailure counts a failed entry action.
func (m *Monitor) RecordEntryFailure(s state.State) {
	m.entryFailures.Add(1)
	if m.metrics != nil {
		m.metrics.EntryFailures.WithLabelValues(string(s)).Inc()
	}
}

// GetStatus returns the current health status.
func (m *Monitor) GetStatus() Status {
	snap := m.stateMachine.Snapshot()

	m.mu.RLock()
	defer m.mu.RUnlock()

	st := Status{
		State:          string(snap.State),
		Class:          snap.Class,
		LastNormal:     string(snap.LastNormal),
		ChipsOnGripper: snap.ChipsOnGripper,
		Busy:           snap.Busy,
		Exited:         snap.Exited,
		UptimeSeconds:  int64(time.Since(m.startTime).Seconds()),
		Transitions:    m.transitions.Load(),
		Faults:         m.faults.Load(),
		CurtainTrips:   m.curtainTrips.Load(),
		ReconnectCount: m.reconnectCount,
		EntryFailures:  m.entryFailures.Load(),
	}
	if m.probe != nil {
		st.AwaitingChoice = m.probe.AwaitingChoice()
		st.PlanIndex, st.PlanSize = m.probe.PlanCursor()
		st.Connected = m.probe.Connected()
	}
	return st
}

// GetNextReconnectDelay returns the next reconnect delay using exponential backoff.
func (m *Monitor) GetNextReconnectDelay() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.retryCount++
	return m.reconnectBackoff.NextBackOff()
}

// ResetReconnectBackoff resets the backoff to initial values.
func (m *Monitor) ResetReconnectBackoff() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.reconnectBackoff.Reset()
	m.retryCount = 0
}

// IsMaxRetriesExceeded returns true if max reconnection retries have been exceeded.
func (m *Monitor) IsMaxRetriesExceeded() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.retryCount > m.maxRetries
}

// RecordReconnect counts a successful controller reconnect.
func (m *Monitor) RecordReconnect() {
	m.mu.Lock()
	m.reconnectCount++
	m.mu.Unlock()
	if m.metrics != nil {
		m.metrics.Reconnects.Inc()
	}
}

// GetReconnectCount returns the total number of reconnections.
func (m *Monitor) GetReconnectCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.reconnectCount
}

// ScheduleReconnect runs attempt after the next backoff delay. A failed
// attempt schedules another one until the retry budget is spent; a
// successful one resets the backoff. It returns false when no attempt
// was scheduled.
func (m *Monitor) ScheduleReconnect(attempt func(context.Context) error) bool {
	if m.IsMaxRetriesExceeded() {
		m.log.Error("max reconnection retries exceeded")
		return false
	}

	delay := m.GetNextReconnectDelay()
	m.log.Info("scheduling reconnect", zap.Duration("delay", delay))

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		t := time.NewTimer(delay)
		defer t.Stop()
		select {
		case <-t.C:
		case <-m.ctx.Done():
			return
		}

		if err := attempt(m.ctx); err != nil {
			m.log.Warn("reconnect attempt failed", zap.Error(err))
			m.ScheduleReconnect(attempt)
			return
		}
		m.RecordReconnect()
		m.OnConnectionRestored()
	}()
	return true
}

// OnConnectionRestored should be called when connection is restored.
func (m *Monitor) OnConnectionRestored() {
	m.ResetReconnectBackoff()
	m.log.Info("connection restored, backoff reset")
}
