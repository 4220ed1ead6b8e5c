package outbound

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/phonehub/phonehub/pkg/ai"
	"github.com/phonehub/phonehub/pkg/callctx"
	"github.com/phonehub/phonehub/pkg/persona"
)

// Completer runs a generation against providers until one answers.
// *ai.Manager implements it.
type Completer interface {
	ExecuteWithFallback(ctx context.Context, method func(context.Context, ai.Provider) (string, error)) (string, error)
}

// PlanMessage is one message of the planning chat with the operator.
type PlanMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// PlanRequest asks for a call plan.
type PlanRequest struct {
	Messages  []PlanMessage `json:"messages" binding:"required"`
	PersonaID string        `json:"persona_id"`
}

// Plan is the planner's answer. Briefing and Objectives are meant to be
// passed on to Initiate once the operator is happy with them.
type Plan struct {
	Response   string              `json:"response"`
	Objectives []callctx.Objective `json:"todoList"`
	Briefing   string              `json:"callContext"`
}

// ErrEmptyConversation is returned when there is no operator message to answer.
var ErrEmptyConversation = errors.New("no user message to plan from")

// Planner turns a short chat with the operator into a call briefing and a
// list of objectives.
type Planner struct {
	registry *persona.Registry
	gen      Completer
	logger   *zap.Logger
}

// NewPlanner creates a planner.
func NewPlanner(registry *persona.Registry, gen Completer, logger *zap.Logger) *Planner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Planner{registry: registry, gen: gen, logger: logger}
}

// Prepare answers the last operator message. A reply that is not the
// expected JSON is returned as plain Response with no objectives.
func (p *Planner) Prepare(ctx context.Context, req PlanRequest) (*Plan, error) {
	history, last := planHistory(req.Messages)
	if last == "" {
		return nil, ErrEmptyConversation
	}

	target := p.registry.ByID(req.PersonaID)
	dialogReq := &ai.DialogRequest{
		SystemInstruction: plannerInstruction(target),
		History:           history,
		Utterance:         last,
		MaxTokens:         800,
	}

	raw, err := p.gen.ExecuteWithFallback(ctx, func(ctx context.Context, provider ai.Provider) (string, error) {
		return provider.Generate(ctx, dialogReq)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to prepare call: %w", err)
	}

	plan, err := parsePlan(raw)
	if err != nil {
		p.logger.Warn("Planner reply was not a plan, returning it as text",
			zap.String("persona", target.ID),
			zap.Error(err),
		)
		return &Plan{Response: strings.TrimSpace(raw), Objectives: []callctx.Objective{}}, nil
	}
	return plan, nil
}

// planHistory pairs earlier user and assistant messages into exchanges and
// returns the final user message separately.
func planHistory(messages []PlanMessage) ([]ai.Exchange, string) {
	lastUser := -1
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "user" && strings.TrimSpace(messages[i].Content) != "" {
			lastUser = i
			break
		}
	}
	if lastUser < 0 {
		return nil, ""
	}

	var (
		history []ai.Exchange
		pending string
	)
	for _, m := range messages[:lastUser] {
		switch m.Role {
		case "user":
			if pending != "" {
				pending += "\n"
			}
			pending += m.Content
		case "assistant":
			history = append(history, ai.Exchange{Caller: pending, Assistant: m.Content})
			pending = ""
		}
	}

	last := strings.TrimSpace(messages[lastUser].Content)
	if pending != "" {
		last = pending + "\n" + last
	}
	return history, last
}

func parsePlan(raw string) (*Plan, error) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return nil, errors.New("no JSON object in reply")
	}

	var plan Plan
	if err := json.Unmarshal([]byte(raw[start:end+1]), &plan); err != nil {
		return nil, fmt.Errorf("failed to decode plan: %w", err)
	}

	objectives := make([]callctx.Objective, 0, len(plan.Objectives))
	for _, o := range plan.Objectives {
		o.Task = strings.TrimSpace(o.Task)
		if o.Task == "" {
			continue
		}
		if o.ID == "" {
			o.ID = uuid.NewString()[:8]
		}
		o.Completed = false
		objectives = append(objectives, o)
	}
	plan.Objectives = objectives
	plan.Response = strings.TrimSpace(plan.Response)
	plan.Briefing = strings.TrimSpace(plan.Briefing)
	return &plan, nil
}

func plannerInstruction(p persona.Persona) string {
	var b strings.Builder
	b.WriteString("You are an AI assistant helping to prepare for a phone call.\n\n")
	fmt.Fprintf(&b, "The user is making a call on behalf of %s.", p.DisplayName)
	if p.Description != "" {
		fmt.Fprintf(&b, " %s.", strings.TrimRight(p.Description, "."))
	}
	b.WriteString(`

Your role is to understand the purpose of the call, ask clarifying questions if needed,
generate a list of objectives for the call and write a context summary for the AI that
will handle the actual call. Objectives must be specific and actionable.

Reply with a single JSON object and nothing else:
{
  "response": "your conversational reply to the user",
  "todoList": [{"id": "1", "task": "Confirm available dates", "completed": false}],
  "callContext": "context summary for the calling agent, empty until you know enough"
}`)
	return b.String()
}
