package api

import (
	"github.com/fnal-rts/rts-coordinator/internal/state"
	"github.com/fnal-rts/rts-coordinator/pkg/mcp"
)

// Tool name constants
const (
	// Status (3)
	ToolGetStandStatus       = "get_stand_status"
	ToolGetTransitionHistory = "get_transition_history"
	ToolListChipPlan         = "list_chip_plan"

	// Runs (3)
	ToolStartRun     = "start_run"
	ToolStopRun      = "stop_run"
	ToolRunFullCycle = "run_full_cycle"

	// Transitions (5)
	ToolCycle       = "cycle"
	ToolAdvanceTo   = "advance_to"
	ToolPause       = "pause"
	ToolReportFault = "report_fault"
	ToolRecover     = "recover_fault"

	// Decisions (3)
	ToolPauseChoice     = "pause_choice"
	ToolCurtainContinue = "curtain_continue"
	ToolCurtainReset    = "curtain_reset"

	// Maintenance (3)
	ToolSetChipsOnGripper  = "set_chips_on_gripper"
	ToolListPendingUploads = "list_pending_uploads"
	ToolRetryUploads       = "retry_uploads"
)

// ResourceStateURI is the stand status resource.
const ResourceStateURI = "rts://state"

func stateNames(states []state.State) []string {
	out := make([]string, len(states))
	for i, s := range states {
		out[i] = string(s)
	}
	return out
}

func noArgs() map[string]any {
	return map[string]any{
		"type":       "object",
		"properties": map[string]any{},
	}
}

// GetAllTools returns every stand tool definition.
func GetAllTools() []mcp.Tool {
	return []mcp.Tool{
		// ============ STATUS ============
		{
			Name:        ToolGetStandStatus,
			Description: "Get the stand state, gripper flag, plan cursor, pending decision and counters",
			InputSchema: noArgs(),
		},
		{
			Name:        ToolGetTransitionHistory,
			Description: "List the most recent state transitions, newest first",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"limit": propInt("Maximum number of transitions (default 20)"),
				},
			},
		},
		{
			Name:        ToolListChipPlan,
			Description: "List the chip plan and the index of the chip being handled",
			InputSchema: noArgs(),
		},

		// ============ RUNS ============
		{
			Name:        ToolStartRun,
			Description: "Start processing the whole chip plan in the background",
			InputSchema: noArgs(),
		},
		{
			Name:        ToolStopRun,
			Description: "Stop the background run after the chip in progress",
			InputSchema: noArgs(),
		},
		{
			Name:        ToolRunFullCycle,
			Description: "Handle one chip: six cycle transitions, then move to the next chip",
			InputSchema: noArgs(),
		},

		// ============ TRANSITIONS ============
		{
			Name:        ToolCycle,
			Description: "Advance one step along the normal cycle",
			InputSchema: noArgs(),
		},
		{
			Name:        ToolAdvanceTo,
			Description: "Advance to a state, only if it directly follows the current one",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"target": propEnum("Normal cycle state to advance to", stateNames(state.NormalCycle)),
				},
				"required": []string{"target"},
			},
		},
		{
			Name:        ToolPause,
			Description: "Pause the stand and open the pause decision",
			InputSchema: noArgs(),
		},
		{
			Name:        ToolReportFault,
			Description: "Raise a fault detected outside the stand",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"fault": propEnum("Fault to raise", stateNames(state.Faults)),
				},
				"required": []string{"fault"},
			},
		},
		{
			Name:        ToolRecover,
			Description: "Leave the current fault through its recovery edge",
			InputSchema: noArgs(),
		},

		// ============ DECISIONS ============
		{
			Name:        ToolPauseChoice,
			Description: "Answer the pause decision: 1 ground, 2 resume, 3 advance, 4 quit",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"choice": prop("string", "1-4 or ground, resume, advance, quit"),
				},
				"required": []string{"choice"},
			},
		},
		{
			Name:        ToolCurtainContinue,
			Description: "After a curtain trip, resume the state before the trip",
			InputSchema: noArgs(),
		},
		{
			Name:        ToolCurtainReset,
			Description: "After a curtain trip, return any held chip and go to ground",
			InputSchema: noArgs(),
		},

		// ============ MAINTENANCE ============
		{
			Name:        ToolSetChipsOnGripper,
			Description: "Override whether the gripper holds a chip",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"held": propBool("True if a chip is on the gripper"),
				},
				"required": []string{"held"},
			},
		},
		{
			Name:        ToolListPendingUploads,
			Description: "List chip results that were not uploaded",
			InputSchema: noArgs(),
		},
		{
			Name:        ToolRetryUploads,
			Description: "Upload pending chip results again",
			InputSchema: noArgs(),
		},
	}
}

// Helper functions for schema creation
func prop(typeName, description string) map[string]any {
	return map[string]any{
		"type":        typeName,
		"description": description,
	}
}

func propInt(description string) map[string]any {
	return prop("integer", description)
}

func propBool(description string) map[string]any {
	return prop("boolean", description)
}

func propEnum(description string, values []string) map[string]any {
	p := prop("string", description)
	p["enum"] = values
	return p
}
