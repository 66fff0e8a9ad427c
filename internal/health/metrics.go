package health

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/fnal-rts/rts-coordinator/internal/state"
)

// Metrics holds the stand's Prometheus collectors.
type Metrics struct {
	Transitions   *prometheus.CounterVec
	Faults        *prometheus.CounterVec
	CurtainTrips  prometheus.Counter
	Reconnects    prometheus.Counter
	State         *prometheus.GaugeVec
	EntryFailures *prometheus.CounterVec
}

// NewMetrics registers the collectors on reg. A nil reg uses the
// default registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &Metrics{
		Transitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "rts_transitions_total",
			Help: "State transitions by group and endpoints.",
		}, []string{"group", "from", "to"}),
		Faults: f.NewCounterVec(prometheus.CounterOpts{
			Name: "rts_faults_total",
			Help: "Faults raised, by fault name.",
		}, []string{"fault"}),
		CurtainTrips: f.NewCounter(prometheus.CounterOpts{
			Name: "rts_curtain_trips_total",
			Help: "Light curtain trips.",
		}),
		Reconnects: f.NewCounter(prometheus.CounterOpts{
			Name: "rts_transport_reconnects_total",
			Help: "Successful motion controller reconnects.",
		}),
		State: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "rts_state",
			Help: "1 for the current stand state, 0 otherwise.",
		}, []string{"state"}),
		EntryFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "rts_entry_action_failures_total",
			Help: "Failed state entry actions, by state.",
		}, []string{"state"}),
	}
}

func (m *Metrics) setState(current state.State, table state.Table) {
	for _, d := range table.States {
		v := 0.0
		if d.State == current {
			v = 1
		}
		m.State.WithLabelValues(string(d.State)).Set(v)
	}
}
