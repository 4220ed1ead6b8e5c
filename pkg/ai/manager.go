package ai

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/phonehub/phonehub/pkg/circuitbreaker"
	"github.com/phonehub/phonehub/pkg/metrics"
	"github.com/phonehub/phonehub/pkg/otel"
)

// Manager manages generation providers. It never retries on its own: Generate
// makes exactly one attempt and Fallback lets the caller spend one more.
type Manager struct {
	providers []Provider
	breakers  map[string]*circuitbreaker.CircuitBreaker
	logger    *zap.Logger
}

// NewManager creates a new provider manager with default breaker settings
func NewManager(providers []Provider, logger *zap.Logger) *Manager {
	return NewManagerWithBreaker(providers, circuitbreaker.Config{
		FailureThreshold: 3,
		SuccessThreshold: 1,
		Timeout:          30 * time.Second,
		ResetTimeout:     2 * time.Minute,
	}, logger)
}

// NewManagerWithBreaker creates a manager whose providers each sit behind
// their own circuit breaker built from cfg.
func NewManagerWithBreaker(providers []Provider, cfg circuitbreaker.Config, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{
		providers: providers,
		breakers:  make(map[string]*circuitbreaker.CircuitBreaker, len(providers)),
		logger:    logger,
	}
	for _, p := range providers {
		name := p.Name()
		cb := circuitbreaker.New(cfg)
		cb.OnStateChange(func(from, to circuitbreaker.State) {
			metrics.UpdateCircuitBreaker("ai."+name, int(to))
			logger.Warn("Generation provider breaker changed state",
				zap.String("provider", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		})
		m.breakers[name] = cb
	}
	return m
}

// GetAvailableProvider returns the first configured provider whose breaker is not open
func (m *Manager) GetAvailableProvider() Provider {
	return m.nextAvailable("")
}

// nextAvailable returns the first usable provider after the one named after.
// An empty after starts from the top of the list.
func (m *Manager) nextAvailable(after string) Provider {
	skipping := after != ""
	for _, provider := range m.providers {
		if skipping {
			if provider.Name() == after {
				skipping = false
			}
			continue
		}
		if !provider.IsAvailable() {
			continue
		}
		if cb := m.breakers[provider.Name()]; cb != nil && cb.GetState() == circuitbreaker.StateOpen {
			continue
		}
		return provider
	}
	return nil
}

// Generate makes a single attempt with the first usable provider. Every
// error it returns is a *GenerationError.
func (m *Manager) Generate(ctx context.Context, req *DialogRequest) (string, error) {
	provider := m.GetAvailableProvider()
	if provider == nil {
		return "", newGenerationError("none", 0, ErrNoProvider)
	}
	return m.call(ctx, provider, req)
}

// Fallback makes a single attempt with the next usable provider after failed.
// It returns ErrNoProvider wrapped in a *GenerationError when there is none.
func (m *Manager) Fallback(ctx context.Context, req *DialogRequest, failed string) (string, error) {
	provider := m.nextAvailable(failed)
	if provider == nil {
		return "", newGenerationError("none", 0, ErrNoProvider)
	}
	return m.call(ctx, provider, req)
}

func (m *Manager) call(ctx context.Context, provider Provider, req *DialogRequest) (string, error) {
	name := provider.Name()
	start := time.Now()

	var text string
	run := func(ctx context.Context) error {
		var err error
		text, err = provider.Generate(ctx, req)
		return err
	}

	err := otel.Trace(ctx, "ai.generate", []attribute.KeyValue{
		attribute.String("ai.provider", name),
		attribute.Int("ai.history_len", len(req.History)),
	}, func(ctx context.Context) error {
		if cb := m.breakers[name]; cb != nil {
			return cb.Execute(ctx, func() error { return run(ctx) })
		}
		return run(ctx)
	})

	latency := time.Since(start)
	metrics.RecordServiceCall("ai."+name, err == nil, latency)

	if err != nil {
		genErr := newGenerationError(name, 0, err)
		m.logger.Warn("Generation failed",
			zap.String("provider", name),
			zap.String("kind", string(genErr.Kind)),
			zap.Duration("latency", latency),
			zap.Error(err),
		)
		return "", genErr
	}

	m.logger.Debug("Generation succeeded",
		zap.String("provider", name),
		zap.Duration("latency", latency),
	)
	return text, nil
}

// ExecuteWithFallback runs method against every usable provider in order
// until one succeeds. Only used off the call path.
func (m *Manager) ExecuteWithFallback(ctx context.Context, method func(context.Context, Provider) (string, error)) (string, error) {
	var lastErr error
	tried := 0
	for _, provider := range m.providers {
		if !provider.IsAvailable() {
			continue
		}
		tried++

		result, err := method(ctx, provider)
		if err == nil {
			return result, nil
		}

		lastErr = err
		m.logger.Warn("Provider failed, trying next",
			zap.String("provider", provider.Name()),
			zap.Error(err),
		)
	}

	if tried == 0 {
		return "", newGenerationError("none", 0, ErrNoProvider)
	}
	return "", fmt.Errorf("all generation providers failed: %w", lastErr)
}

// Summarize produces a short summary of a finished call, trying every provider.
func (m *Manager) Summarize(ctx context.Context, req *SummaryRequest) (string, error) {
	var transcript strings.Builder
	for _, ex := range req.Transcript {
		fmt.Fprintf(&transcript, "Caller: %s\nAssistant: %s\n", ex.Caller, ex.Assistant)
	}
	if transcript.Len() == 0 {
		transcript.WriteString("(no transcript captured)\n")
	}

	prompt := fmt.Sprintf("Call %s from %s to %s.\nNotes: %s\n\nTranscript:\n%s",
		req.CallSID, req.Caller, req.PersonaName, req.Notes, transcript.String())

	return m.ExecuteWithFallback(ctx, func(ctx context.Context, provider Provider) (string, error) {
		return m.call(ctx, provider, &DialogRequest{
			SystemInstruction: summaryInstruction,
			Utterance:         prompt,
			MaxTokens:         200,
		})
	})
}

// BreakerStats reports the breaker of every provider, keyed by provider name.
func (m *Manager) BreakerStats() map[string]circuitbreaker.Stats {
	stats := make(map[string]circuitbreaker.Stats, len(m.breakers))
	for name, cb := range m.breakers {
		stats[name] = cb.GetStats()
	}
	return stats
}
