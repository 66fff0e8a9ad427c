// Package api exposes the stand as MCP tools.
package api

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/fnal-rts/rts-coordinator/internal/plan"
	"github.com/fnal-rts/rts-coordinator/internal/state"
	"github.com/fnal-rts/rts-coordinator/internal/station"
)

// Error codes
const (
	ErrNotPermitted     = "NOT_PERMITTED"
	ErrBusy             = "BUSY"
	ErrAwaitingDecision = "AWAITING_DECISION"
	ErrNotAwaiting      = "NOT_AWAITING_DECISION"
	ErrSessionEnded     = "SESSION_ENDED"
	ErrRunInProgress    = "RUN_IN_PROGRESS"
	ErrEntryFailed      = "ENTRY_ACTION_FAILED"
	ErrInterrupted      = "INTERRUPTED"
	ErrInvalidInput     = "INVALID_INPUT"
	ErrInternal         = "INTERNAL_ERROR"
)

// MCPError represents a structured error for tool and HTTP responses.
type MCPError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Retry   bool   `json:"retry"`
}

// Error implements the error interface.
func (e *MCPError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// JSON returns the error as a JSON string.
func (e *MCPError) JSON() string {
	data, _ := json.Marshal(e)
	return string(data)
}

// NewAwaitingDecisionError is returned for transition requests while a
// decision prompt is open.
func NewAwaitingDecisionError(prompt string) *MCPError {
	return &MCPError{
		Code:    ErrAwaitingDecision,
		Message: fmt.Sprintf("Stand is waiting for a %s decision", prompt),
		Retry:   true,
	}
}

// NewInvalidInputError creates an error for invalid input.
func NewInvalidInputError(message string) *MCPError {
	return &MCPError{
		Code:    ErrInvalidInput,
		Message: message,
	}
}

// FromError classifies err.
func FromError(err error) *MCPError {
	var me *MCPError
	if errors.As(err, &me) {
		return me
	}

	e := &MCPError{Code: ErrInternal, Message: err.Error()}
	var entry *station.EntryError
	switch {
	case errors.Is(err, state.ErrBusy):
		e.Code, e.Retry = ErrBusy, true
	case errors.Is(err, state.ErrTransitionNotPermitted):
		e.Code = ErrNotPermitted
	case errors.Is(err, state.ErrMachineExited), errors.Is(err, station.ErrSessionEnded):
		e.Code = ErrSessionEnded
	case errors.Is(err, station.ErrNotAwaitingChoice):
		e.Code = ErrNotAwaiting
	case errors.Is(err, station.ErrChoiceNotAllowed), errors.Is(err, plan.ErrInvalidPosition):
		e.Code = ErrInvalidInput
	case errors.Is(err, station.ErrRunInProgress):
		e.Code = ErrRunInProgress
	case errors.Is(err, station.ErrInterrupted):
		e.Code, e.Retry = ErrInterrupted, true
	case errors.As(err, &entry):
		e.Code = ErrEntryFailed
	}
	return e
}
