package outbound

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/phonehub/phonehub/pkg/ai"
	"github.com/phonehub/phonehub/pkg/persona"
)

type stubProvider struct {
	reply   string
	err     error
	lastReq *ai.DialogRequest
}

func (s *stubProvider) Generate(_ context.Context, req *ai.DialogRequest) (string, error) {
	s.lastReq = req
	return s.reply, s.err
}

func (s *stubProvider) IsAvailable() bool { return true }
func (s *stubProvider) Name() string      { return "stub" }

func newPlanner(t *testing.T, provider *stubProvider) *Planner {
	t.Helper()
	registry, err := persona.New(persona.Defaults())
	require.NoError(t, err)
	return NewPlanner(registry, ai.NewManager([]ai.Provider{provider}, zap.NewNop()), zap.NewNop())
}

func TestPlanner_Prepare(t *testing.T) {
	tests := []struct {
		name           string
		reply          string
		wantResponse   string
		wantBriefing   string
		wantObjectives int
	}{
		{
			name:           "json reply",
			reply:          `{"response":"Got it.","todoList":[{"id":"1","task":"Book Tuesday slot","completed":true},{"task":"Confirm address"}],"callContext":"Calling to book a repair visit."}`,
			wantResponse:   "Got it.",
			wantBriefing:   "Calling to book a repair visit.",
			wantObjectives: 2,
		},
		{
			name:           "json wrapped in prose",
			reply:          "Here you go:\n```json\n{\"response\":\"Sure\",\"todoList\":[],\"callContext\":\"\"}\n```",
			wantResponse:   "Sure",
			wantObjectives: 0,
		},
		{
			name:           "plain text",
			reply:          "  Who should I call?  ",
			wantResponse:   "Who should I call?",
			wantObjectives: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider := &stubProvider{reply: tt.reply}
			planner := newPlanner(t, provider)

			plan, err := planner.Prepare(context.Background(), PlanRequest{
				PersonaID: "triton",
				Messages:  []PlanMessage{{Role: "user", Content: "Call Bob about the sink"}},
			})
			require.NoError(t, err)

			assert.Equal(t, tt.wantResponse, plan.Response)
			assert.Equal(t, tt.wantBriefing, plan.Briefing)
			assert.Len(t, plan.Objectives, tt.wantObjectives)
			for _, o := range plan.Objectives {
				assert.NotEmpty(t, o.ID)
				assert.False(t, o.Completed)
			}
			assert.Contains(t, provider.lastReq.SystemInstruction, "Triton Handyman")
		})
	}
}

func TestPlanner_History(t *testing.T) {
	provider := &stubProvider{reply: `{"response":"ok"}`}
	planner := newPlanner(t, provider)

	_, err := planner.Prepare(context.Background(), PlanRequest{Messages: []PlanMessage{
		{Role: "user", Content: "I need to call the school"},
		{Role: "assistant", Content: "What about?"},
		{Role: "user", Content: "Pickup time"},
		{Role: "assistant", Content: ""},
	}})
	require.NoError(t, err)

	require.Len(t, provider.lastReq.History, 1)
	assert.Equal(t, "I need to call the school", provider.lastReq.History[0].Caller)
	assert.Equal(t, "What about?", provider.lastReq.History[0].Assistant)
	assert.Equal(t, "Pickup time", provider.lastReq.Utterance)
}

func TestPlanner_Errors(t *testing.T) {
	t.Run("no user message", func(t *testing.T) {
		planner := newPlanner(t, &stubProvider{})
		_, err := planner.Prepare(context.Background(), PlanRequest{
			Messages: []PlanMessage{{Role: "assistant", Content: "hi"}},
		})
		assert.ErrorIs(t, err, ErrEmptyConversation)
	})

	t.Run("providers fail", func(t *testing.T) {
		planner := newPlanner(t, &stubProvider{err: errors.New("boom")})
		_, err := planner.Prepare(context.Background(), PlanRequest{
			Messages: []PlanMessage{{Role: "user", Content: "hi"}},
		})
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrEmptyConversation)
	})
}
