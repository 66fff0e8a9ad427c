package bridge

import (
	"time"

	"github.com/fnal-rts/rts-coordinator/internal/state"
)

// SignalKind is what a feed line asks the stand to do.
type SignalKind int

const (
	SignalCurtain SignalKind = iota
	SignalPause
	SignalResume
	SignalAdvance
	SignalFault
	SignalGround
)

// String returns the string representation of the signal kind.
func (k SignalKind) String() string {
	switch k {
	case SignalCurtain:
		return "curtain"
	case SignalPause:
		return "pause"
	case SignalResume:
		return "resume"
	case SignalAdvance:
		return "advance"
	case SignalFault:
		return "fault"
	case SignalGround:
		return "ground"
	default:
		return "unknown"
	}
}

// Signal is a feed line matched against the token table. Target is the
// state to advance to, or the fault to raise.
type Signal struct {
	Kind      SignalKind
	Target    state.State
	Line      string
	Timestamp time.Time
}

// NewSignal creates a new signal with the current timestamp.
func NewSignal(k SignalKind, target state.State, line string) Signal {
	return Signal{
		Kind:      k,
		Target:    target,
		Line:      line,
		Timestamp: time.Now(),
	}
}

// Outcome says what the bridge did with a signal.
type Outcome string

const (
	OutcomeSubmitted Outcome = "submitted"
	OutcomeDropped   Outcome = "dropped"
	OutcomeDeferred  Outcome = "deferred"
	OutcomeIgnored   Outcome = "ignored"
)
