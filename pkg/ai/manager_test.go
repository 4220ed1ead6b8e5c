package ai

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/phonehub/phonehub/pkg/circuitbreaker"
)

// MockProvider is a mock implementation of Provider for testing
type MockProvider struct {
	name      string
	available bool
	shouldErr bool
	reply     string
	calls     int
	lastReq   *DialogRequest
}

func (m *MockProvider) Generate(ctx context.Context, req *DialogRequest) (string, error) {
	m.calls++
	m.lastReq = req
	if m.shouldErr {
		return "", errors.New("mock error")
	}
	if m.reply != "" {
		return m.reply, nil
	}
	return "reply from " + m.name, nil
}

func (m *MockProvider) IsAvailable() bool {
	return m.available
}

func (m *MockProvider) Name() string {
	return m.name
}

func TestManager_GetAvailableProvider(t *testing.T) {
	logger := zap.NewNop()

	tests := []struct {
		name      string
		providers []Provider
		want      string
		wantNil   bool
	}{
		{
			name: "returns first available provider",
			providers: []Provider{
				&MockProvider{name: "provider1", available: true},
				&MockProvider{name: "provider2", available: true},
			},
			want: "provider1",
		},
		{
			name: "returns nil when no providers available",
			providers: []Provider{
				&MockProvider{name: "provider1", available: false},
				&MockProvider{name: "provider2", available: false},
			},
			wantNil: true,
		},
		{
			name: "skips unavailable providers",
			providers: []Provider{
				&MockProvider{name: "provider1", available: false},
				&MockProvider{name: "provider2", available: true},
			},
			want: "provider2",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewManager(tt.providers, logger)
			got := m.GetAvailableProvider()

			if tt.wantNil {
				if got != nil {
					t.Errorf("Manager.GetAvailableProvider() = %v, want nil", got)
				}
				return
			}
			if got == nil {
				t.Fatalf("Manager.GetAvailableProvider() = nil, want %v", tt.want)
			}
			if got.Name() != tt.want {
				t.Errorf("Manager.GetAvailableProvider() = %v, want %v", got.Name(), tt.want)
			}
		})
	}
}

func TestManager_Generate_SingleAttempt(t *testing.T) {
	first := &MockProvider{name: "provider1", available: true, shouldErr: true}
	second := &MockProvider{name: "provider2", available: true}
	m := NewManager([]Provider{first, second}, zap.NewNop())

	_, err := m.Generate(context.Background(), &DialogRequest{Utterance: "hello"})
	require.Error(t, err)

	var genErr *GenerationError
	require.ErrorAs(t, err, &genErr)
	assert.Equal(t, "provider1", genErr.Provider)
	assert.Equal(t, 1, first.calls)
	assert.Equal(t, 0, second.calls, "Generate must not fall through to the next provider")
}

func TestManager_Fallback(t *testing.T) {
	tests := []struct {
		name      string
		providers []Provider
		failed    string
		want      string
		wantErr   bool
	}{
		{
			name: "uses next provider",
			providers: []Provider{
				&MockProvider{name: "provider1", available: true},
				&MockProvider{name: "provider2", available: true},
			},
			failed: "provider1",
			want:   "reply from provider2",
		},
		{
			name: "skips unavailable providers after the failed one",
			providers: []Provider{
				&MockProvider{name: "provider1", available: true},
				&MockProvider{name: "provider2", available: false},
				&MockProvider{name: "provider3", available: true},
			},
			failed: "provider1",
			want:   "reply from provider3",
		},
		{
			name: "no provider left",
			providers: []Provider{
				&MockProvider{name: "provider1", available: true},
			},
			failed:  "provider1",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewManager(tt.providers, zap.NewNop())
			got, err := m.Fallback(context.Background(), &DialogRequest{Utterance: "hi"}, tt.failed)

			if tt.wantErr {
				var genErr *GenerationError
				require.ErrorAs(t, err, &genErr)
				assert.Equal(t, KindUnavailable, genErr.Kind)
				assert.ErrorIs(t, err, ErrNoProvider)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestManager_BreakerSkipsUnhealthyProvider(t *testing.T) {
	flaky := &MockProvider{name: "flaky", available: true, shouldErr: true}
	healthy := &MockProvider{name: "healthy", available: true}
	m := NewManagerWithBreaker([]Provider{flaky, healthy}, circuitbreaker.Config{
		FailureThreshold: 2,
		SuccessThreshold: 1,
		Timeout:          time.Hour,
	}, zap.NewNop())

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		_, err := m.Generate(ctx, &DialogRequest{Utterance: "x"})
		require.Error(t, err)
	}

	got, err := m.Generate(ctx, &DialogRequest{Utterance: "x"})
	require.NoError(t, err)
	assert.Equal(t, "reply from healthy", got)
	assert.Equal(t, 2, flaky.calls)
	assert.Equal(t, "open", m.BreakerStats()["flaky"].State)
}

func TestManager_Generate_NoProviders(t *testing.T) {
	m := NewManager(nil, zap.NewNop())
	_, err := m.Generate(context.Background(), &DialogRequest{Utterance: "hi"})

	var genErr *GenerationError
	require.ErrorAs(t, err, &genErr)
	assert.Equal(t, KindUnavailable, genErr.Kind)
}

func TestManager_Summarize_WithFallback(t *testing.T) {
	first := &MockProvider{name: "provider1", available: true, shouldErr: true}
	second := &MockProvider{name: "provider2", available: true, reply: "Caller asked about a leak."}
	m := NewManager([]Provider{first, second}, zap.NewNop())

	summary, err := m.Summarize(context.Background(), &SummaryRequest{
		CallSID:     "CA123",
		PersonaName: "Triton Handyman",
		Transcript:  []Exchange{{Caller: "my sink is leaking", Assistant: "I can help with that."}},
	})
	require.NoError(t, err)
	assert.Equal(t, "Caller asked about a leak.", summary)
	require.NotNil(t, second.lastReq)
	assert.Contains(t, second.lastReq.Utterance, "my sink is leaking")
	assert.Equal(t, summaryInstruction, second.lastReq.SystemInstruction)
}

func TestGenerationError_Classification(t *testing.T) {
	tests := []struct {
		name   string
		status int
		err    error
		want   ErrorKind
	}{
		{"deadline", 0, context.DeadlineExceeded, KindTimeout},
		{"breaker open", 0, circuitbreaker.ErrOpen, KindUnavailable},
		{"server error", 500, errors.New("boom"), KindStatus},
		{"service unavailable", 503, errors.New("busy"), KindUnavailable},
		{"empty body", 0, errMalformed, KindMalformed},
		{"timeout text", 0, errors.New("i/o timeout"), KindTimeout},
		{"other", 0, errors.New("boom"), KindUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := newGenerationError("p", tt.status, tt.err)
			assert.Equal(t, tt.want, got.Kind)
			assert.ErrorIs(t, got, tt.err)
		})
	}
}
