package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/phonehub/phonehub/internal/callstore"
	"github.com/phonehub/phonehub/internal/dialog"
	"github.com/phonehub/phonehub/internal/summary"
	"github.com/phonehub/phonehub/pkg/logger"
	"github.com/phonehub/phonehub/pkg/persona"
	"github.com/phonehub/phonehub/pkg/utils"
	"github.com/phonehub/phonehub/pkg/voice"
)

const webhookIdempotencyTTL = 24 * time.Hour

// TwilioVoicePayload is the form Twilio posts to the voice webhooks.
type TwilioVoicePayload struct {
	CallSid      string `form:"CallSid"`
	From         string `form:"From"`
	To           string `form:"To"`
	CallStatus   string `form:"CallStatus"`
	Direction    string `form:"Direction"`
	SpeechResult string `form:"SpeechResult"`
	Digits       string `form:"Digits"`
}

// TwilioStatusPayload is the form of a status callback.
type TwilioStatusPayload struct {
	CallSid      string `form:"CallSid"`
	From         string `form:"From"`
	To           string `form:"To"`
	CallStatus   string `form:"CallStatus"`
	Direction    string `form:"Direction"`
	CallDuration string `form:"CallDuration"`
	RecordingUrl string `form:"RecordingUrl"`
}

// terminalStatuses end a call; nothing follows them.
var terminalStatuses = map[string]bool{
	"completed": true,
	"busy":      true,
	"no-answer": true,
	"failed":    true,
	"canceled":  true,
}

func (h *Handler) dialogRequest(c *gin.Context) dialog.Request {
	var p TwilioVoicePayload
	// A form that does not bind still gets a document; the engine defaults.
	_ = c.ShouldBind(&p)
	return dialog.Request{
		CallSID: p.CallSid,
		From:    p.From,
		To:      p.To,
		Token:   c.Query("data"),
		Speech:  p.SpeechResult,
		Digits:  p.Digits,
	}
}

func writeTwiML(c *gin.Context, doc *voice.Document) {
	c.Header("Content-Type", "text/xml")
	c.String(http.StatusOK, doc.XML)
}

// VoiceWebhook answers the first webhook of a call with the greeting.
func (h *Handler) VoiceWebhook(c *gin.Context) {
	req := h.dialogRequest(c)
	h.logger.Info("Voice webhook",
		zap.String("call_sid", req.CallSID),
		logger.MaskPhoneIfPresent("from", req.From),
		logger.MaskPhoneIfPresent("to", req.To),
		zap.Bool("has_context", req.Token != ""),
	)
	writeTwiML(c, h.engine.Greet(c.Request.Context(), req))
}

// TurnWebhook answers a gather callback.
func (h *Handler) TurnWebhook(c *gin.Context) {
	writeTwiML(c, h.engine.Turn(c.Request.Context(), h.dialogRequest(c)))
}

// DialWebhook serves the TwiML application used for calls placed from a
// browser or app client.
func (h *Handler) DialWebhook(c *gin.Context) {
	to := strings.TrimSpace(c.PostForm("To"))
	from := strings.TrimSpace(c.PostForm("From"))
	if strings.HasPrefix(from, "client:") || from == "" {
		from = h.cfg.TwilioFromNumber
	}
	if to != "" && utils.ValidateE164(utils.NormalizePhone(to)) {
		to = utils.NormalizePhone(to)
	}

	h.logger.Info("Dial webhook",
		logger.MaskPhoneIfPresent("to", to),
		logger.MaskPhone("caller_id", from),
	)
	writeTwiML(c, h.markup.DialOut(to, from))
}

// StatusWebhook records call progress and reports completed calls.
func (h *Handler) StatusWebhook(c *gin.Context) {
	var payload TwilioStatusPayload
	if err := c.ShouldBind(&payload); err != nil || payload.CallSid == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "CallSid is required"})
		return
	}
	status := strings.ToLower(payload.CallStatus)

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	// Twilio retries callbacks it did not see acknowledged.
	var dedupKey string
	if h.redis != nil {
		key := fmt.Sprintf("webhook:twilio:%s:%s", payload.CallSid, status)
		first, err := h.redis.SetNX(ctx, key, "processing", webhookIdempotencyTTL).Result()
		if err == nil && first {
			dedupKey = key
		}
		if err == nil && !first {
			h.logger.Info("Status webhook already processed",
				zap.String("call_sid", payload.CallSid),
				zap.String("status", status),
			)
			c.JSON(http.StatusOK, gin.H{"message": "webhook already processed"})
			return
		}
	}

	h.logger.Info("Call status update",
		zap.String("call_sid", payload.CallSid),
		zap.String("status", status),
		zap.String("duration", payload.CallDuration),
	)

	var known *callstore.Record
	if h.store != nil {
		var err error
		if known, err = h.store.Get(ctx, payload.CallSid); err != nil {
			h.logger.Warn("Failed to load call record", zap.String("call_sid", payload.CallSid), zap.Error(err))
		}
		err = h.store.Save(ctx, callstore.Record{
			CallSID:   payload.CallSid,
			Direction: payload.Direction,
			From:      payload.From,
			To:        payload.To,
			Status:    status,
			Duration:  payload.CallDuration,
			PersonaID: h.statusPersona(payload, known).ID,
		})
		if err != nil {
			h.logger.Error("Failed to record call status", zap.String("call_sid", payload.CallSid), zap.Error(err))
			// Let Twilio's retry of this status be processed again.
			if dedupKey != "" {
				if derr := h.redis.Del(context.WithoutCancel(ctx), dedupKey).Err(); derr != nil {
					h.logger.Warn("Failed to release webhook key", zap.String("key", dedupKey), zap.Error(derr))
				}
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to record call status"})
			return
		}
	}

	if terminalStatuses[status] && h.forwarder != nil {
		p := h.statusPersona(payload, known)
		ev := summary.Event{
			CallSID:      payload.CallSid,
			Status:       status,
			From:         payload.From,
			To:           payload.To,
			Direction:    payload.Direction,
			Duration:     payload.CallDuration,
			RecordingURL: payload.RecordingUrl,
		}
		if known != nil {
			ev.Notes = known.Briefing
		}
		bg := context.WithoutCancel(c.Request.Context())
		h.background(func() { h.forward(bg, p, ev) })
	}

	c.JSON(http.StatusOK, gin.H{"message": "webhook processed"})
}

func (h *Handler) forward(ctx context.Context, p persona.Persona, ev summary.Event) {
	payload, err := h.forwarder.Forward(ctx, p, ev)
	if err != nil {
		if !errors.Is(err, summary.ErrNotForwarded) {
			h.logger.Error("Failed to forward call summary", zap.String("call_sid", ev.CallSID), zap.Error(err))
		}
		return
	}
	if h.store == nil {
		return
	}
	err = h.store.Save(ctx, callstore.Record{
		CallSID:  ev.CallSID,
		Summary:  payload.Summary,
		Priority: payload.Priority,
	})
	if err != nil {
		h.logger.Warn("Failed to record call summary", zap.String("call_sid", ev.CallSID), zap.Error(err))
	}
}

// statusPersona picks the persona a call belonged to: the recorded one,
// else the one answering the number the call reached or came from.
func (h *Handler) statusPersona(payload TwilioStatusPayload, known *callstore.Record) persona.Persona {
	if known != nil && known.PersonaID != "" {
		return h.registry.ByID(known.PersonaID)
	}
	if strings.HasPrefix(payload.Direction, "outbound") {
		return h.registry.Resolve(payload.From)
	}
	return h.registry.Resolve(payload.To)
}
