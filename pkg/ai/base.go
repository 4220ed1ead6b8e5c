package ai

import (
	"context"
)

// Provider is the base interface for all generation providers
type Provider interface {
	// Generate produces the next spoken line of a live call.
	Generate(ctx context.Context, req *DialogRequest) (string, error)

	// IsAvailable checks if the provider is available/configured
	IsAvailable() bool

	// Name returns the provider name
	Name() string
}

// Exchange is one caller utterance and the assistant reply that followed.
type Exchange struct {
	Caller    string `json:"c"`
	Assistant string `json:"a"`
}

// DialogRequest represents a single dialog turn
type DialogRequest struct {
	SystemInstruction string
	History           []Exchange
	Utterance         string
	MaxTokens         int
}

// SummaryRequest represents a post-call summary request
type SummaryRequest struct {
	CallSID     string
	PersonaName string
	Caller      string
	Transcript  []Exchange
	Notes       string
}

const summaryInstruction = `You summarize phone calls handled by an assistant for a small business or household.
Write two or three plain sentences covering who called, what they needed, and any follow-up promised.
Do not invent details that are not in the transcript.`
