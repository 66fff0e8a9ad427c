// Package store persists stand state, the transition audit log, test
// sessions and chip results.
package store

import (
	"time"

	"github.com/fnal-rts/rts-coordinator/internal/state"
)

// StandState is the persisted singleton view of the state machine.
type StandState struct {
	State          state.State `json:"state"`
	LastNormal     state.State `json:"last_normal"`
	ChipsOnGripper bool        `json:"chips_on_gripper"`
	SessionID      string      `json:"session_id,omitempty"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

// Transition represents a state machine transition record.
type Transition struct {
	ID        int64       `json:"id"`
	FromState state.State `json:"from_state"`
	ToState   state.State `json:"to_state"`
	Trigger   string      `json:"trigger"`
	Source    string      `json:"source"`
	Timestamp time.Time   `json:"timestamp"`
	Error     string      `json:"error,omitempty"`
}

// Session is one run of the stand from start to quit.
type Session struct {
	ID        string     `json:"id"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
	ImageDir  string     `json:"image_dir"`
	PlanSize  int        `json:"plan_size"`
}

// ChipResult is the outcome of testing one chip.
type ChipResult struct {
	ID        int64     `json:"id"`
	SessionID string    `json:"session_id"`
	Tray      int       `json:"tray"`
	Column    int       `json:"column"`
	Row       int       `json:"row"`
	Board     int       `json:"board"`
	Socket    int       `json:"socket"`
	Label     string    `json:"label"`
	Serial    string    `json:"serial"`
	Passed    bool      `json:"passed"`
	Detail    string    `json:"detail,omitempty"`
	Uploaded  bool      `json:"uploaded"`
	CreatedAt time.Time `json:"created_at"`
}
