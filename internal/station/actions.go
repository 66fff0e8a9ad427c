package station

import (
	"errors"
	"fmt"
	"strings"

	"github.com/fnal-rts/rts-coordinator/internal/state"
)

var (
	// ErrNotAwaitingChoice is returned by Decide when no decision is pending.
	ErrNotAwaitingChoice = errors.New("stand is not awaiting a decision")
	// ErrChoiceNotAllowed is returned for a choice the pending prompt does not offer.
	ErrChoiceNotAllowed = errors.New("choice not allowed at this prompt")
	// ErrRunInProgress is returned by StartRun while a run is active.
	ErrRunInProgress = errors.New("run already in progress")
	// ErrSessionEnded is returned once the session has been closed.
	ErrSessionEnded = errors.New("session has ended")
	// ErrInterrupted is returned when a curtain trip cut a request short.
	ErrInterrupted = errors.New("interrupted by curtain trip")
	// ErrUnknownAction is returned for an action kind the stand does not know.
	ErrUnknownAction = errors.New("unknown action")
)

// Request sources recorded in the transition log.
const (
	SourceOperator = "operator"
	SourceBridge   = "bridge"
	SourceRun      = "run"
	SourceStation  = "station"
	SourceCurtain  = "curtain"
)

// ActionKind selects what a request does.
type ActionKind string

const (
	ActionCycle          ActionKind = "cycle"
	ActionAdvanceTo      ActionKind = "advance_to"
	ActionPause          ActionKind = "pause"
	ActionReportFault    ActionKind = "report_fault"
	ActionRecover        ActionKind = "recover"
	ActionReset          ActionKind = "reset"
	ActionReturnToGround ActionKind = "return_to_ground"
	ActionRunFullCycle   ActionKind = "run_full_cycle"
)

// Action is a transition request. Target is the state for advance_to,
// the resume target for a cycle out of paused, or the fault for
// report_fault.
type Action struct {
	Kind   ActionKind  `json:"kind"`
	Target state.State `json:"target,omitempty"`
}

func (a Action) String() string {
	if a.Target == "" {
		return string(a.Kind)
	}
	return string(a.Kind) + "(" + string(a.Target) + ")"
}

// Choice answers a decision prompt.
type Choice int

const (
	ChoiceGround Choice = iota + 1
	ChoiceResume
	ChoiceAdvance
	ChoiceQuit
	ChoiceCurtainContinue
	ChoiceCurtainReset
)

var choiceNames = map[Choice]string{
	ChoiceGround:          "ground",
	ChoiceResume:          "resume",
	ChoiceAdvance:         "advance",
	ChoiceQuit:            "quit",
	ChoiceCurtainContinue: "continue",
	ChoiceCurtainReset:    "reset",
}

func (c Choice) String() string {
	if n, ok := choiceNames[c]; ok {
		return n
	}
	return fmt.Sprintf("choice(%d)", int(c))
}

// ParseChoice accepts a pause menu number (1-4) or a choice name.
func ParseChoice(s string) (Choice, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "1":
		return ChoiceGround, nil
	case "2":
		return ChoiceResume, nil
	case "3":
		return ChoiceAdvance, nil
	case "4":
		return ChoiceQuit, nil
	}
	for c, n := range choiceNames {
		if n == s {
			return c, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrChoiceNotAllowed, s)
}

// PromptKind names a decision point.
type PromptKind string

const (
	PromptPause   PromptKind = "pause"
	PromptCurtain PromptKind = "curtain"
)

func (k PromptKind) allows(c Choice) bool {
	switch k {
	case PromptPause:
		return c >= ChoiceGround && c <= ChoiceQuit
	case PromptCurtain:
		return c == ChoiceCurtainContinue || c == ChoiceCurtainReset
	}
	return false
}

type decision struct {
	choice Choice
	source string
}

type prompt struct {
	kind PromptKind
	ch   chan decision
}

type request struct {
	source string
	action Action
	// held is set when the busy slot was taken by the submitter.
	held  bool
	reply chan error
}

func newRequest(source string, a Action, held bool) *request {
	return &request{source: source, action: a, held: held, reply: make(chan error, 1)}
}
