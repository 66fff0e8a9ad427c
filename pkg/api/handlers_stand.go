package api

import (
	"context"
	"fmt"

	"github.com/fnal-rts/rts-coordinator/internal/state"
	"github.com/fnal-rts/rts-coordinator/internal/station"
	"github.com/fnal-rts/rts-coordinator/pkg/mcp"
)

func (h *Handler) handleGetTransitionHistory(ctx context.Context, args map[string]any) (*mcp.CallToolResult, error) {
	limit := getInt(args, "limit", 20)
	if limit <= 0 {
		return h.errorResult(NewInvalidInputError("limit must be positive"))
	}

	history, err := h.stand.History(ctx, limit)
	if err != nil {
		return h.errorResult(FromError(err))
	}
	return h.successResult(history)
}

func (h *Handler) handleListChipPlan() (*mcp.CallToolResult, error) {
	records, index := h.stand.Plan()
	return h.successResult(map[string]any{
		"records": records,
		"index":   index,
		"size":    len(records),
	})
}

func (h *Handler) handleStartRun() (*mcp.CallToolResult, error) {
	if err := h.stand.StartRun(); err != nil {
		return h.errorResult(FromError(err))
	}
	return h.successResult(map[string]any{"success": true, "message": "Run started"})
}

func (h *Handler) handleRunFullCycle(ctx context.Context) (*mcp.CallToolResult, error) {
	wrapped, err := h.stand.RunFullCycle(ctx)
	if err != nil {
		return h.errorResult(FromError(err))
	}
	_, index := h.stand.Plan()
	return h.successResult(map[string]any{
		"success":    true,
		"plan_index": index,
		"wrapped":    wrapped,
	})
}

func (h *Handler) handleAdvanceTo(ctx context.Context, args map[string]any) (*mcp.CallToolResult, error) {
	target := state.State(getString(args, "target"))
	if !target.IsNormal() {
		return h.errorResult(NewInvalidInputError(fmt.Sprintf("target %q is not a normal cycle state", target)))
	}
	return h.transition(h.stand.AdvanceTo(ctx, target))
}

func (h *Handler) handleReportFault(ctx context.Context, args map[string]any) (*mcp.CallToolResult, error) {
	fault := state.State(getString(args, "fault"))
	if !fault.IsFault() {
		return h.errorResult(NewInvalidInputError(fmt.Sprintf("unknown fault %q", fault)))
	}
	return h.transition(h.stand.ReportFault(ctx, fault))
}

func (h *Handler) handlePauseChoice(args map[string]any) (*mcp.CallToolResult, error) {
	c, err := station.ParseChoice(getString(args, "choice"))
	if err != nil {
		return h.errorResult(NewInvalidInputError(err.Error()))
	}
	return h.decide(c)
}

func (h *Handler) handleSetChipsOnGripper(args map[string]any) (*mcp.CallToolResult, error) {
	held, ok := getBool(args, "held")
	if !ok {
		return h.errorResult(NewInvalidInputError("held is required"))
	}
	h.stand.SetChipsOnGripper(held)
	return h.successResult(h.stand.Snapshot())
}

func (h *Handler) handleListPendingUploads(ctx context.Context) (*mcp.CallToolResult, error) {
	pending, err := h.stand.PendingUploads(ctx)
	if err != nil {
		return h.errorResult(FromError(err))
	}
	return h.successResult(pending)
}

func (h *Handler) handleRetryUploads(ctx context.Context) (*mcp.CallToolResult, error) {
	sent, err := h.stand.RetryUploads(ctx)
	if err != nil {
		return h.errorResult(FromError(err))
	}
	return h.successResult(map[string]any{"success": true, "uploaded": sent})
}
