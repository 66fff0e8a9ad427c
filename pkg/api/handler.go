package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/fnal-rts/rts-coordinator/internal/health"
	"github.com/fnal-rts/rts-coordinator/internal/plan"
	"github.com/fnal-rts/rts-coordinator/internal/state"
	"github.com/fnal-rts/rts-coordinator/internal/station"
	"github.com/fnal-rts/rts-coordinator/internal/store"
	"github.com/fnal-rts/rts-coordinator/pkg/mcp"
)

// Stand defines the stand operations exposed as tools.
type Stand interface {
	// Requests
	Cycle(ctx context.Context) error
	AdvanceTo(ctx context.Context, target state.State) error
	Pause(ctx context.Context) error
	ReportFault(ctx context.Context, fault state.State) error
	Recover(ctx context.Context) error
	RunFullCycle(ctx context.Context) (bool, error)
	Decide(source string, c station.Choice) error
	AwaitingChoice() string

	// Runs
	StartRun() error
	StopRun()
	Running() bool

	// Data
	Snapshot() state.Snapshot
	History(ctx context.Context, limit int) ([]store.Transition, error)
	Plan() ([]plan.ChipPosition, int)
	SetChipsOnGripper(held bool)
	PendingUploads(ctx context.Context) ([]store.ChipResult, error)
	RetryUploads(ctx context.Context) (int, error)
}

var _ Stand = (*station.Stand)(nil)

// Handler implements the MCP ToolHandler and ResourceProvider interfaces.
type Handler struct {
	stand  Stand
	health *health.Monitor
}

// NewHandler creates a new tool handler.
func NewHandler(stand Stand, health *health.Monitor) *Handler {
	return &Handler{
		stand:  stand,
		health: health,
	}
}

// GetTools returns all available tool definitions.
func (h *Handler) GetTools() []mcp.Tool {
	return GetAllTools()
}

// HandleTool handles a tool invocation and returns the result.
func (h *Handler) HandleTool(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error) {
	// Requests would queue behind an open decision prompt.
	if requiresNoPrompt(name) {
		if p := h.stand.AwaitingChoice(); p != "" {
			return h.errorResult(NewAwaitingDecisionError(p))
		}
	}

	switch name {
	// Status
	case ToolGetStandStatus:
		return h.successResult(h.health.GetStatus())
	case ToolGetTransitionHistory:
		return h.handleGetTransitionHistory(ctx, args)
	case ToolListChipPlan:
		return h.handleListChipPlan()

	// Runs
	case ToolStartRun:
		return h.handleStartRun()
	case ToolStopRun:
		h.stand.StopRun()
		return h.successResult(map[string]any{"success": true, "message": "Run stopping"})
	case ToolRunFullCycle:
		return h.handleRunFullCycle(ctx)

	// Transitions
	case ToolCycle:
		return h.transition(h.stand.Cycle(ctx))
	case ToolAdvanceTo:
		return h.handleAdvanceTo(ctx, args)
	case ToolPause:
		return h.transition(h.stand.Pause(ctx))
	case ToolReportFault:
		return h.handleReportFault(ctx, args)
	case ToolRecover:
		return h.transition(h.stand.Recover(ctx))

	// Decisions
	case ToolPauseChoice:
		return h.handlePauseChoice(args)
	case ToolCurtainContinue:
		return h.decide(station.ChoiceCurtainContinue)
	case ToolCurtainReset:
		return h.decide(station.ChoiceCurtainReset)

	// Maintenance
	case ToolSetChipsOnGripper:
		return h.handleSetChipsOnGripper(args)
	case ToolListPendingUploads:
		return h.handleListPendingUploads(ctx)
	case ToolRetryUploads:
		return h.handleRetryUploads(ctx)

	default:
		return h.errorResult(NewInvalidInputError(fmt.Sprintf("Unknown tool: %s", name)))
	}
}

// requiresNoPrompt returns true for tools that submit a transition request.
func requiresNoPrompt(name string) bool {
	switch name {
	case ToolCycle, ToolAdvanceTo, ToolPause, ToolReportFault, ToolRecover, ToolRunFullCycle:
		return true
	default:
		return false
	}
}

// ListResources implements mcp.ResourceProvider.
func (h *Handler) ListResources() []mcp.Resource {
	return []mcp.Resource{{
		URI:         ResourceStateURI,
		Name:        "Stand state",
		Description: "Current state, gripper flag, plan cursor and counters",
		MimeType:    "application/json",
	}}
}

// ReadResource implements mcp.ResourceProvider.
func (h *Handler) ReadResource(_ context.Context, uri string) (*mcp.ReadResourceResult, error) {
	if uri != ResourceStateURI {
		return nil, mcp.ErrResourceNotFound
	}
	data, err := json.MarshalIndent(h.health.GetStatus(), "", "  ")
	if err != nil {
		return nil, err
	}
	return &mcp.ReadResourceResult{
		Contents: []mcp.ResourceContent{{URI: uri, MimeType: "application/json", Text: string(data)}},
	}, nil
}

// Helper methods

func (h *Handler) transition(err error) (*mcp.CallToolResult, error) {
	if err != nil {
		return h.errorResult(FromError(err))
	}
	return h.successResult(h.stand.Snapshot())
}

func (h *Handler) decide(c station.Choice) (*mcp.CallToolResult, error) {
	if err := h.stand.Decide(station.SourceOperator, c); err != nil {
		return h.errorResult(FromError(err))
	}
	return h.successResult(map[string]any{"success": true, "choice": c.String()})
}

func (h *Handler) successResult(data any) (*mcp.CallToolResult, error) {
	jsonData, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode result: %w", err)
	}
	return &mcp.CallToolResult{
		Content: []mcp.ContentBlock{mcp.TextContent(string(jsonData))},
	}, nil
}

func (h *Handler) errorResult(err *MCPError) (*mcp.CallToolResult, error) {
	return &mcp.CallToolResult{
		Content: []mcp.ContentBlock{mcp.TextContent(err.JSON())},
		IsError: true,
	}, nil
}

func getString(args map[string]any, key string) string {
	switch v := args[key].(type) {
	case string:
		return v
	case float64:
		return fmt.Sprintf("%d", int(v))
	}
	return ""
}

func getInt(args map[string]any, key string, defaultVal int) int {
	if v, ok := args[key].(float64); ok {
		return int(v)
	}
	if v, ok := args[key].(int); ok {
		return v
	}
	return defaultVal
}

func getBool(args map[string]any, key string) (bool, bool) {
	v, ok := args[key].(bool)
	return v, ok
}
