package bridge

import (
	"github.com/fnal-rts/rts-coordinator/internal/state"
	"github.com/fnal-rts/rts-coordinator/internal/station"
)

// Stand is the part of the stand the bridge drives.
// This allows for easy faking in tests.
type Stand interface {
	// TrySubmit only accepts a request while the stand is idle.
	TrySubmit(source string, a station.Action) (<-chan error, error)
	CurtainTrip()
	Decide(source string, c station.Choice) error
	AwaitingChoice() string
	Snapshot() state.Snapshot
	Done() <-chan struct{}
}

var _ Stand = (*station.Stand)(nil)
