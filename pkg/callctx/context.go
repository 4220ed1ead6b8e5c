// Package callctx carries the state of a call between webhook invocations.
// Everything the dialog needs from earlier turns travels inside the callback
// URL as an opaque token; nothing is stored on the server.
package callctx

import (
	"strings"
	"unicode/utf8"
)

// Objective is one item the assistant should raise during the call.
type Objective struct {
	ID        string `json:"id"`
	Task      string `json:"task"`
	Completed bool   `json:"completed"`
}

// Exchange is one caller utterance and the reply spoken back.
type Exchange struct {
	Caller    string `json:"c"`
	Assistant string `json:"a"`
}

// CallContext is the full cross-turn state of a call. The JSON names of the
// first three fields match tokens issued by earlier versions of the hub.
type CallContext struct {
	Briefing   string      `json:"context"`
	Objectives []Objective `json:"todoList"`
	PersonaID  string      `json:"brandId"`

	// Outbound is set on calls placed by the hub rather than answered by it.
	Outbound   bool       `json:"o,omitempty"`
	Turn       int        `json:"turn,omitempty"`
	Reprompted bool       `json:"rp,omitempty"`
	History    []Exchange `json:"h,omitempty"`
}

// MaxExchangeRunes bounds each side of a remembered exchange.
const MaxExchangeRunes = 280

// Pending returns the objectives not yet completed, in order. Blank tasks
// are skipped.
func (c CallContext) Pending() []Objective {
	pending := make([]Objective, 0, len(c.Objectives))
	for _, o := range c.Objectives {
		if !o.Completed && strings.TrimSpace(o.Task) != "" {
			pending = append(pending, o)
		}
	}
	return pending
}

// Advance returns the context for the next turn: the exchange is appended to
// the history (keeping at most window entries), the turn counter is bumped
// and the reprompt flag cleared. The receiver is not modified.
func (c CallContext) Advance(caller, assistant string, window int) CallContext {
	next := c.clone()
	next.Turn++
	next.Reprompted = false

	if window <= 0 {
		next.History = nil
		return next
	}
	next.History = append(next.History, Exchange{
		Caller:    clip(caller, MaxExchangeRunes),
		Assistant: clip(assistant, MaxExchangeRunes),
	})
	if len(next.History) > window {
		next.History = next.History[len(next.History)-window:]
	}
	return next
}

// WithReprompt returns a copy of the context marked as having reprompted
// the caller after silence.
func (c CallContext) WithReprompt() CallContext {
	next := c.clone()
	next.Reprompted = true
	return next
}

func (c CallContext) clone() CallContext {
	out := c
	out.Objectives = append([]Objective{}, c.Objectives...)
	if len(c.History) > 0 {
		out.History = append([]Exchange(nil), c.History...)
	} else {
		out.History = nil
	}
	return out
}

// normalize fills the defaults Decode guarantees: a persona id, a non-nil
// objective list, a non-negative turn and at most window history entries.
// Field text is kept as given.
func (c CallContext) normalize(defaultPersona string, window int) CallContext {
	out := CallContext{
		Briefing:   c.Briefing,
		Objectives: append(make([]Objective, 0, len(c.Objectives)), c.Objectives...),
		PersonaID:  c.PersonaID,
		Outbound:   c.Outbound,
		Turn:       c.Turn,
		Reprompted: c.Reprompted,
	}
	if strings.TrimSpace(out.PersonaID) == "" {
		out.PersonaID = defaultPersona
	}
	if out.Turn < 0 {
		out.Turn = 0
	}
	if len(c.History) > 0 && window > 0 {
		h := c.History
		if len(h) > window {
			h = h[len(h)-window:]
		}
		out.History = append([]Exchange(nil), h...)
	}
	return out
}

func clip(s string, max int) string {
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return strings.TrimSpace(string(runes[:max]))
}
