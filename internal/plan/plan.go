// Package plan holds the ordered list of chip positions processed in a run.
package plan

import (
	"errors"
	"fmt"
	"sync"
)

// Grid and hardware bounds.
const (
	MaxColumn = 10
	MaxRow    = 4
)

var (
	// ErrEndOfPlan is returned by Advance when the cursor is on the last
	// record. It is a signal, not a failure: callers Reset and loop.
	ErrEndOfPlan = errors.New("end of chip plan")
	// ErrPlanLocked is returned when a locked plan is edited.
	ErrPlanLocked = errors.New("chip plan is locked")
	// ErrInvalidPosition wraps every validation failure.
	ErrInvalidPosition = errors.New("invalid chip position")
	// ErrEmptyPlan is returned when a plan would have no records.
	ErrEmptyPlan = errors.New("chip plan is empty")
)

var (
	validTrays   = map[int]bool{1: true, 2: true}
	validBoards  = map[int]bool{1: true, 2: true}
	validSockets = map[int]bool{21: true, 22: true}
	validLabels  = map[string]bool{"CD0": true, "CD1": true}
)

// ChipPosition is one physical chip slot and the socket it is tested in.
type ChipPosition struct {
	Tray   int    `yaml:"tray" json:"tray"`
	Column int    `yaml:"column" json:"column"`
	Row    int    `yaml:"row" json:"row"`
	Board  int    `yaml:"board" json:"board"`
	Socket int    `yaml:"socket" json:"socket"`
	Label  string `yaml:"label" json:"label"`
}

// Validate checks every field against the stand bounds.
func (p ChipPosition) Validate() error {
	switch {
	case !validTrays[p.Tray]:
		return fmt.Errorf("%w: tray %d (must be 1 or 2)", ErrInvalidPosition, p.Tray)
	case p.Column < 1 || p.Column > MaxColumn:
		return fmt.Errorf("%w: column %d (must be 1-%d)", ErrInvalidPosition, p.Column, MaxColumn)
	case p.Row < 1 || p.Row > MaxRow:
		return fmt.Errorf("%w: row %d (must be 1-%d)", ErrInvalidPosition, p.Row, MaxRow)
	case !validBoards[p.Board]:
		return fmt.Errorf("%w: board %d (must be 1 or 2)", ErrInvalidPosition, p.Board)
	case !validSockets[p.Socket]:
		return fmt.Errorf("%w: socket %d (must be 21 or 22)", ErrInvalidPosition, p.Socket)
	case !validLabels[p.Label]:
		return fmt.Errorf("%w: label %q (must be CD0 or CD1)", ErrInvalidPosition, p.Label)
	}
	return nil
}

func (p ChipPosition) String() string {
	return fmt.Sprintf("tray %d col %d row %d -> board %d socket %d (%s)",
		p.Tray, p.Column, p.Row, p.Board, p.Socket, p.Label)
}

// ChipPlan is an ordered sequence of positions with a cursor on the
// active one. Once locked only the cursor may change.
type ChipPlan struct {
	mu      sync.RWMutex
	records []ChipPosition
	cursor  int
	locked  bool
}

// FullTray returns the default plan: every column and row of one tray,
// column-major, alternating the two sockets by record parity.
func FullTray(tray, board int) (*ChipPlan, error) {
	records := make([]ChipPosition, 0, MaxColumn*MaxRow)
	for col := 1; col <= MaxColumn; col++ {
		for row := 1; row <= MaxRow; row++ {
			p := ChipPosition{Tray: tray, Column: col, Row: row, Board: board}
			if len(records)%2 == 0 {
				p.Socket, p.Label = 21, "CD0"
			} else {
				p.Socket, p.Label = 22, "CD1"
			}
			records = append(records, p)
		}
	}
	return FromRecords(records)
}

// FromRecords returns a plan over an explicit list of positions.
func FromRecords(records []ChipPosition) (*ChipPlan, error) {
	if len(records) == 0 {
		return nil, ErrEmptyPlan
	}
	for i, r := range records {
		if err := r.Validate(); err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
	}
	out := make([]ChipPosition, len(records))
	copy(out, records)
	return &ChipPlan{records: out}, nil
}

// Len returns the number of records.
func (p *ChipPlan) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.records)
}

// Index returns the cursor.
func (p *ChipPlan) Index() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cursor
}

// Current returns the active record.
func (p *ChipPlan) Current() ChipPosition {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.records[p.cursor]
}

// Advance moves the cursor to the next record. On the last record it
// leaves the cursor in place and returns ErrEndOfPlan.
func (p *ChipPlan) Advance() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cursor >= len(p.records)-1 {
		return ErrEndOfPlan
	}
	p.cursor++
	return nil
}

// Reset moves the cursor back to the first record.
func (p *ChipPlan) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cursor = 0
}

// Lock freezes the records. It is called when processing begins.
func (p *ChipPlan) Lock() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.locked = true
}

// Locked reports whether the records are frozen.
func (p *ChipPlan) Locked() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.locked
}

// Update replaces record i before the plan is locked.
func (p *ChipPlan) Update(i int, pos ChipPosition) error {
	if err := pos.Validate(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.locked {
		return ErrPlanLocked
	}
	if i < 0 || i >= len(p.records) {
		return fmt.Errorf("record %d out of range (0-%d)", i, len(p.records)-1)
	}
	p.records[i] = pos
	return nil
}

// Records returns a copy of the records.
func (p *ChipPlan) Records() []ChipPosition {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]ChipPosition, len(p.records))
	copy(out, p.records)
	return out
}
