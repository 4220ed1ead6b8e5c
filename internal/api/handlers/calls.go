package handlers

import (
	stderrors "errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/phonehub/phonehub/internal/outbound"
	"github.com/phonehub/phonehub/pkg/audit"
	"github.com/phonehub/phonehub/pkg/errors"
	"github.com/phonehub/phonehub/pkg/middleware"
	"github.com/phonehub/phonehub/pkg/telephony"
	"github.com/phonehub/phonehub/pkg/utils"
)

// CreateCall places an outbound call with a briefing and objectives.
func (h *Handler) CreateCall(c *gin.Context) {
	var req outbound.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		errors.BadRequest(c, err.Error())
		return
	}
	req.Briefing = middleware.SanitizeString(req.Briefing)

	res, err := h.outbound.Initiate(c.Request.Context(), req)
	switch {
	case stderrors.Is(err, outbound.ErrInvalidRequest):
		errors.UnprocessableEntity(c, err.Error())
		return
	case stderrors.Is(err, telephony.ErrNotConfigured):
		errors.ServiceUnavailable(c, "telephony provider is not configured")
		return
	case stderrors.Is(err, outbound.ErrDialFailed):
		errors.BadGateway(c, "the telephony provider rejected the call")
		return
	case err != nil:
		errors.InternalError(c, err, h.logger)
		return
	}

	h.logger.Info("Call created",
		zap.String("call_sid", res.CallSID),
		zap.String("operator", c.GetString("operator_id")),
	)
	_ = h.audit.Record(c.Request.Context(), audit.Entry{
		OperatorID:   c.GetString("operator_id"),
		Role:         c.GetString("operator_role"),
		Action:       audit.ActionPlaceCall,
		ResourceType: "call",
		ResourceID:   res.CallSID,
		Metadata: map[string]interface{}{
			"persona_id": res.PersonaID,
			"to":         utils.MaskPhoneNumber(req.To),
			"objectives": len(res.Objectives),
		},
	})
	c.JSON(http.StatusCreated, res)
}

// PrepareCall runs one round of the call planning chat.
func (h *Handler) PrepareCall(c *gin.Context) {
	var req outbound.PlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errors.BadRequest(c, err.Error())
		return
	}
	if req.PersonaID != "" {
		if _, ok := h.registry.Lookup(req.PersonaID); !ok {
			errors.UnprocessableEntity(c, "unknown persona")
			return
		}
	}

	plan, err := h.planner.Prepare(c.Request.Context(), req)
	switch {
	case stderrors.Is(err, outbound.ErrEmptyConversation):
		errors.BadRequest(c, err.Error())
		return
	case err != nil:
		h.logger.Error("Failed to prepare call", zap.Error(err))
		errors.ServiceUnavailable(c, "no generation provider could answer")
		return
	}
	_ = h.audit.Record(c.Request.Context(), audit.Entry{
		OperatorID:   c.GetString("operator_id"),
		Role:         c.GetString("operator_role"),
		Action:       audit.ActionPrepareCall,
		ResourceType: "persona",
		ResourceID:   req.PersonaID,
		Metadata:     map[string]interface{}{"objectives": len(plan.Objectives)},
	})
	c.JSON(http.StatusOK, plan)
}

// CallView is what GetCall returns, whichever source answered.
type CallView struct {
	CallSID   string      `json:"call_sid"`
	Source    string      `json:"source"`
	Record    interface{} `json:"call"`
	FetchedAt time.Time   `json:"fetched_at"`
}

// GetCall returns the recorded call, or asks the telephony provider when
// nothing is recorded.
func (h *Handler) GetCall(c *gin.Context) {
	sid := c.Param("call_sid")
	ctx := c.Request.Context()

	if h.store != nil {
		rec, err := h.store.Get(ctx, sid)
		if err != nil {
			h.logger.Warn("Failed to load call record", zap.String("call_sid", sid), zap.Error(err))
		} else if rec != nil {
			c.JSON(http.StatusOK, CallView{CallSID: sid, Source: "store", Record: rec, FetchedAt: time.Now().UTC()})
			return
		}
	}

	if h.telephony == nil || !h.telephony.Configured() {
		errors.NotFound(c, "call not found")
		return
	}
	status, err := h.telephony.FetchCall(ctx, sid)
	if err != nil {
		if telephony.StatusOf(err) == http.StatusNotFound {
			errors.NotFound(c, "call not found")
			return
		}
		h.logger.Error("Failed to fetch call", zap.String("call_sid", sid), zap.Error(err))
		errors.BadGateway(c, "failed to fetch call from the telephony provider")
		return
	}
	c.JSON(http.StatusOK, CallView{CallSID: sid, Source: "telephony", Record: status, FetchedAt: time.Now().UTC()})
}
