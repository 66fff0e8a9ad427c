package httpapi

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/fnal-rts/rts-coordinator/internal/state"
	"github.com/fnal-rts/rts-coordinator/internal/station"
	"github.com/fnal-rts/rts-coordinator/pkg/api"
)

// Operator events accepted by POST /api/v1/events.
const (
	EventStart           = "start"
	EventStop            = "stop"
	EventCycle           = "cycle"
	EventAdvanceTo       = "advance_to"
	EventPause           = "pause"
	EventReportFault     = "report_fault"
	EventRecover         = "recover"
	EventRunFullCycle    = "run_full_cycle"
	EventCurtainContinue = "curtain_continue"
	EventCurtainReset    = "curtain_reset"
)

// Response is the JSON envelope for every API reply.
type Response struct {
	Success bool          `json:"success"`
	Data    any           `json:"data,omitempty"`
	Error   *api.MCPError `json:"error,omitempty"`
}

// EventRequest is the body of POST /api/v1/events.
type EventRequest struct {
	Event  string `json:"event" binding:"required"`
	Target string `json:"target,omitempty"`
	Fault  string `json:"fault,omitempty"`
}

func (s *Server) healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) getStatus(c *gin.Context) {
	c.JSON(http.StatusOK, Response{Success: true, Data: s.monitor.GetStatus()})
}

func (s *Server) getHistory(c *gin.Context) {
	limit := 20
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.fail(c, api.NewInvalidInputError("limit must be a positive integer"))
			return
		}
		limit = n
	}

	history, err := s.stand.History(c.Request.Context(), limit)
	if err != nil {
		s.fail(c, api.FromError(err))
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: history})
}

func (s *Server) getPlan(c *gin.Context) {
	records, index := s.stand.Plan()
	c.JSON(http.StatusOK, Response{Success: true, Data: gin.H{
		"records": records,
		"index":   index,
		"size":    len(records),
	}})
}

func (s *Server) postEvent(c *gin.Context) {
	var req EventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, api.NewInvalidInputError(err.Error()))
		return
	}
	ctx := c.Request.Context()

	switch req.Event {
	case EventCycle, EventAdvanceTo, EventPause, EventReportFault, EventRecover, EventRunFullCycle:
		if p := s.stand.AwaitingChoice(); p != "" {
			s.fail(c, api.NewAwaitingDecisionError(p))
			return
		}
	}

	var err error
	var data any
	switch req.Event {
	case EventStart:
		err = s.stand.StartRun()
	case EventStop:
		s.stand.StopRun()
	case EventCycle:
		err = s.stand.Cycle(ctx)
	case EventAdvanceTo:
		target := state.State(req.Target)
		if !target.IsNormal() {
			s.fail(c, api.NewInvalidInputError(fmt.Sprintf("target %q is not a normal cycle state", req.Target)))
			return
		}
		err = s.stand.AdvanceTo(ctx, target)
	case EventPause:
		err = s.stand.Pause(ctx)
	case EventReportFault:
		fault := state.State(req.Fault)
		if !fault.IsFault() {
			s.fail(c, api.NewInvalidInputError(fmt.Sprintf("unknown fault %q", req.Fault)))
			return
		}
		err = s.stand.ReportFault(ctx, fault)
	case EventRecover:
		err = s.stand.Recover(ctx)
	case EventRunFullCycle:
		var wrapped bool
		wrapped, err = s.stand.RunFullCycle(ctx)
		data = gin.H{"wrapped": wrapped}
	case EventCurtainContinue:
		err = s.stand.Decide(station.SourceOperator, station.ChoiceCurtainContinue)
	case EventCurtainReset:
		err = s.stand.Decide(station.SourceOperator, station.ChoiceCurtainReset)
	default:
		s.fail(c, api.NewInvalidInputError(fmt.Sprintf("unknown event %q", req.Event)))
		return
	}

	if err != nil {
		s.fail(c, api.FromError(err))
		return
	}
	if data == nil {
		data = s.stand.Snapshot()
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: data})
}

func (s *Server) postPauseChoice(c *gin.Context) {
	choice, err := station.ParseChoice(c.Param("choice"))
	if err != nil {
		s.fail(c, api.NewInvalidInputError(err.Error()))
		return
	}
	if err := s.stand.Decide(station.SourceOperator, choice); err != nil {
		s.fail(c, api.FromError(err))
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: gin.H{"choice": choice.String()}})
}

func (s *Server) fail(c *gin.Context, e *api.MCPError) {
	c.JSON(statusFor(e.Code), Response{Success: false, Error: e})
}

func statusFor(code string) int {
	switch code {
	case api.ErrInvalidInput:
		return http.StatusBadRequest
	case api.ErrNotPermitted, api.ErrAwaitingDecision, api.ErrNotAwaiting, api.ErrRunInProgress, api.ErrInterrupted:
		return http.StatusConflict
	case api.ErrBusy:
		return http.StatusServiceUnavailable
	case api.ErrSessionEnded:
		return http.StatusGone
	case api.ErrEntryFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
