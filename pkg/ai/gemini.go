package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"
)

// GeminiProvider implements the Provider interface for Google Gemini
type GeminiProvider struct {
	client    *genai.Client
	apiKey    string
	model     string
	maxTokens int
	timeout   time.Duration
	logger    *zap.Logger
}

// NewGeminiProvider creates a new Gemini provider. A client that cannot be
// constructed leaves the provider unavailable rather than failing startup.
func NewGeminiProvider(apiKey, model string, maxTokens int, timeout time.Duration, logger *zap.Logger) *GeminiProvider {
	if apiKey == "" {
		return &GeminiProvider{logger: logger}
	}

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		logger.Warn("Failed to create Gemini client", zap.Error(err))
		return &GeminiProvider{logger: logger}
	}

	return &GeminiProvider{
		client:    client,
		apiKey:    apiKey,
		model:     model,
		maxTokens: maxTokens,
		timeout:   timeout,
		logger:    logger,
	}
}

// Name returns the provider name
func (p *GeminiProvider) Name() string {
	return "gemini"
}

// IsAvailable checks if the provider is available
func (p *GeminiProvider) IsAvailable() bool {
	return p.apiKey != "" && p.client != nil
}

// Generate produces the next assistant line using GenerateContent
func (p *GeminiProvider) Generate(ctx context.Context, req *DialogRequest) (string, error) {
	if !p.IsAvailable() {
		return "", newGenerationError(p.Name(), 0, ErrNoProvider)
	}

	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	contents := make([]*genai.Content, 0, 2*len(req.History)+1)
	for _, ex := range req.History {
		contents = append(contents,
			&genai.Content{Role: genai.RoleUser, Parts: []*genai.Part{{Text: ex.Caller}}},
			&genai.Content{Role: genai.RoleModel, Parts: []*genai.Part{{Text: ex.Assistant}}},
		)
	}
	contents = append(contents, &genai.Content{Role: genai.RoleUser, Parts: []*genai.Part{{Text: req.Utterance}}})

	maxTokens := p.maxTokens
	if req.MaxTokens > 0 {
		maxTokens = req.MaxTokens
	}
	config := &genai.GenerateContentConfig{}
	if maxTokens > 0 {
		config.MaxOutputTokens = int32(min(maxTokens, 8192))
	}
	if req.SystemInstruction != "" {
		config.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: req.SystemInstruction}}}
	}

	resp, err := p.client.Models.GenerateContent(ctx, p.model, contents, config)
	if err != nil {
		status := 0
		var apiErr genai.APIError
		var apiErrPtr *genai.APIError
		switch {
		case errors.As(err, &apiErr):
			status = apiErr.Code
		case errors.As(err, &apiErrPtr):
			status = apiErrPtr.Code
		}
		return "", newGenerationError(p.Name(), status, fmt.Errorf("failed to generate content: %w", err))
	}

	var sb strings.Builder
	if resp != nil {
		for _, cand := range resp.Candidates {
			if cand == nil || cand.Content == nil {
				continue
			}
			for _, part := range cand.Content.Parts {
				if part != nil {
					sb.WriteString(part.Text)
				}
			}
			break
		}
	}

	text := strings.TrimSpace(sb.String())
	if text == "" {
		return "", newGenerationError(p.Name(), 0, errMalformed)
	}
	return text, nil
}
