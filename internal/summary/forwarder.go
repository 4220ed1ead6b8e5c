// Package summary reports finished calls to the persona's back office.
package summary

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/phonehub/phonehub/pkg/ai"
	"github.com/phonehub/phonehub/pkg/logger"
	"github.com/phonehub/phonehub/pkg/persona"
)

// Priority levels, most urgent first.
const (
	PriorityHigh   = "high"
	PriorityMedium = "medium"
	PriorityLow    = "low"
)

var (
	highWords   = []string{"emergency", "urgent", "asap", "immediately", "leak", "flooding"}
	mediumWords = []string{"broken", "not working", "repair", "fix"}
)

// ErrNotForwarded is returned when a call is not reported and nothing went wrong.
var ErrNotForwarded = errors.New("call not forwarded")

// Payload is the body posted to the summary webhook.
type Payload struct {
	CallID       string `json:"call_id"`
	CallerNumber string `json:"caller_number"`
	CallerName   string `json:"caller_name,omitempty"`
	Duration     int    `json:"duration"`
	Status       string `json:"status"`
	Summary      string `json:"summary"`
	Transcript   string `json:"transcript,omitempty"`
	Priority     string `json:"priority"`
}

// Event is a terminal status callback.
type Event struct {
	CallSID      string
	Status       string
	From         string
	To           string
	Direction    string
	Duration     string
	RecordingURL string
	// Notes is what the hub knew about the call beforehand, such as the briefing.
	Notes string
}

// Caller is the party on the other end of the line.
func (e Event) Caller() string {
	if strings.HasPrefix(e.Direction, "outbound") {
		return e.To
	}
	return e.From
}

// Summarizer writes a summary of a finished call.
type Summarizer interface {
	Summarize(ctx context.Context, req *ai.SummaryRequest) (string, error)
}

// Poster delivers a JSON body. *client.HTTPClient implements it.
type Poster interface {
	PostJSON(ctx context.Context, url, bearer string, body interface{}) error
}

// Forwarder posts summaries of completed calls.
type Forwarder struct {
	summarizer Summarizer
	poster     Poster
	token      string
	timeout    time.Duration
	logger     *zap.Logger
}

// NewForwarder creates a forwarder. token is sent as a bearer credential.
func NewForwarder(summarizer Summarizer, poster Poster, token string, logger *zap.Logger) *Forwarder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Forwarder{
		summarizer: summarizer,
		poster:     poster,
		token:      token,
		timeout:    20 * time.Second,
		logger:     logger,
	}
}

// Forward summarizes a completed call and posts it to p's webhook. Calls
// that did not complete, or personas without a webhook, return ErrNotForwarded.
func (f *Forwarder) Forward(ctx context.Context, p persona.Persona, ev Event) (*Payload, error) {
	if ev.Status != "completed" || p.SummaryWebhookURL == "" {
		return nil, ErrNotForwarded
	}
	if f.token == "" {
		f.logger.Warn("Summary webhook token not configured, skipping", zap.String("persona", p.ID))
		return nil, ErrNotForwarded
	}

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	payload := &Payload{
		CallID:       ev.CallSID,
		CallerNumber: ev.Caller(),
		Duration:     seconds(ev.Duration),
		Status:       ev.Status,
	}
	payload.Summary = f.summarize(ctx, p, ev, payload.Duration)
	payload.Priority = ClassifyPriority(payload.Summary)
	if ev.RecordingURL != "" {
		payload.Transcript = "Recording available"
	}

	if err := f.poster.PostJSON(ctx, p.SummaryWebhookURL, f.token, payload); err != nil {
		return payload, fmt.Errorf("failed to post summary of %s: %w", ev.CallSID, err)
	}

	f.logger.Info("Call summary forwarded",
		zap.String("call_sid", ev.CallSID),
		zap.String("persona", p.ID),
		logger.MaskPhoneIfPresent("caller", payload.CallerNumber),
		zap.Int("duration", payload.Duration),
		zap.String("priority", payload.Priority),
	)
	return payload, nil
}

func (f *Forwarder) summarize(ctx context.Context, p persona.Persona, ev Event, duration int) string {
	if f.summarizer != nil {
		text, err := f.summarizer.Summarize(ctx, &ai.SummaryRequest{
			CallSID:     ev.CallSID,
			PersonaName: p.DisplayName,
			Caller:      ev.Caller(),
			Notes:       fmt.Sprintf("Duration %dm %ds. %s", duration/60, duration%60, ev.Notes),
		})
		if err == nil && strings.TrimSpace(text) != "" {
			return strings.TrimSpace(text)
		}
		f.logger.Warn("Failed to generate call summary, using static text",
			zap.String("call_sid", ev.CallSID),
			zap.Error(err),
		)
	}
	return fmt.Sprintf("Caller %s spoke with %s for %dm %ds. Follow-up needed to discuss details.",
		ev.Caller(), p.DisplayName, duration/60, duration%60)
}

// ClassifyPriority grades a summary by the words in it.
func ClassifyPriority(text string) string {
	lower := strings.ToLower(text)
	for _, w := range highWords {
		if strings.Contains(lower, w) {
			return PriorityHigh
		}
	}
	for _, w := range mediumWords {
		if strings.Contains(lower, w) {
			return PriorityMedium
		}
	}
	return PriorityLow
}

func seconds(s string) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n < 0 {
		return 0
	}
	return n
}
