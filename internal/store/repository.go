package store

import (
	"context"
	"errors"

	"github.com/fnal-rts/rts-coordinator/internal/state"
)

// ErrNotFound is returned when a requested item is not found.
var ErrNotFound = errors.New("not found")

// StateRepository defines operations for state persistence.
type StateRepository interface {
	GetState(ctx context.Context) (*StandState, error)
	SaveState(ctx context.Context, s *StandState) error
	LogTransition(ctx context.Context, from, to state.State, trigger, source, errMsg string) error
	GetTransitionHistory(ctx context.Context, limit int) ([]Transition, error)
}

// SessionRepository defines operations for session persistence.
type SessionRepository interface {
	Create(ctx context.Context, s *Session) error
	End(ctx context.Context, id string) error
	Get(ctx context.Context, id string) (*Session, error)
}

// ResultRepository defines operations for chip result persistence.
type ResultRepository interface {
	Save(ctx context.Context, r *ChipResult) error
	MarkUploaded(ctx context.Context, id int64) error
	ListPending(ctx context.Context) ([]ChipResult, error)
	ListBySession(ctx context.Context, sessionID string) ([]ChipResult, error)
}
