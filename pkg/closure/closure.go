// Package closure decides whether a generated reply ends the call.
package closure

import (
	"strings"
)

// Signal names the kind of phrase that matched.
type Signal int

const (
	None Signal = iota
	Farewell
	ExplicitEnd
	Gratitude
	OpenQuestion
)

func (s Signal) String() string {
	switch s {
	case Farewell:
		return "farewell"
	case ExplicitEnd:
		return "explicit_end"
	case Gratitude:
		return "gratitude"
	case OpenQuestion:
		return "open_question"
	default:
		return "none"
	}
}

// Phrase is one entry of the closure table. Text is matched as a
// case-insensitive substring.
type Phrase struct {
	Text   string
	Signal Signal
}

// DefaultPhrases is the closure table used by the dialog engine.
var DefaultPhrases = []Phrase{
	{Text: "goodbye", Signal: Farewell},
	{Text: "end the call", Signal: ExplicitEnd},
	{Text: "thank you for your time", Signal: Gratitude},
}

// Policy is an ordered closure table plus the rule for replies that both
// close and ask something.
type Policy struct {
	Phrases []Phrase
	// QuestionsKeepOpen makes a trailing question mark win over a closing
	// phrase. Off by default: "Goodbye, anything else?" still ends the call.
	QuestionsKeepOpen bool
}

// Default returns the policy the engine runs with.
func Default() Policy {
	return Policy{Phrases: DefaultPhrases}
}

// Classify reports the first table phrase found in text.
func (p Policy) Classify(text string) (Signal, string) {
	lower := strings.ToLower(text)
	if p.QuestionsKeepOpen && strings.HasSuffix(strings.TrimSpace(lower), "?") {
		return OpenQuestion, ""
	}
	for _, phrase := range p.Phrases {
		needle := strings.ToLower(phrase.Text)
		if needle != "" && strings.Contains(lower, needle) {
			return phrase.Signal, phrase.Text
		}
	}
	return None, ""
}

// ShouldEnd reports whether text closes the call. It is a pure function of
// text and the policy.
func (p Policy) ShouldEnd(text string) bool {
	signal, _ := p.Classify(text)
	return signal != None && signal != OpenQuestion
}

// ShouldEnd applies the default policy.
func ShouldEnd(text string) bool {
	return Default().ShouldEnd(text)
}
