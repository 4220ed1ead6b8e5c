package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.uber.org/zap"
)

// AnthropicProvider implements the Provider interface for Anthropic Claude
type AnthropicProvider struct {
	client    anthropic.Client
	apiKey    string
	model     string
	maxTokens int
	timeout   time.Duration
	logger    *zap.Logger
}

// NewAnthropicProvider creates a new Anthropic provider. baseURL may be empty.
func NewAnthropicProvider(apiKey, model, baseURL string, maxTokens int, timeout time.Duration, logger *zap.Logger) *AnthropicProvider {
	if apiKey == "" {
		return &AnthropicProvider{logger: logger}
	}

	// Retries are decided by the dialog controller, not the SDK.
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if strings.TrimSpace(baseURL) != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}

	return &AnthropicProvider{
		client:    anthropic.NewClient(opts...),
		apiKey:    apiKey,
		model:     model,
		maxTokens: maxTokens,
		timeout:   timeout,
		logger:    logger,
	}
}

// Name returns the provider name
func (p *AnthropicProvider) Name() string {
	return "anthropic"
}

// IsAvailable checks if the provider is available
func (p *AnthropicProvider) IsAvailable() bool {
	return p.apiKey != ""
}

// Generate produces the next assistant line using the Messages API
func (p *AnthropicProvider) Generate(ctx context.Context, req *DialogRequest) (string, error) {
	if !p.IsAvailable() {
		return "", newGenerationError(p.Name(), 0, ErrNoProvider)
	}

	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	maxTokens := p.maxTokens
	if req.MaxTokens > 0 {
		maxTokens = req.MaxTokens
	}

	messages := make([]anthropic.MessageParam, 0, 2*len(req.History)+1)
	for _, ex := range req.History {
		messages = append(messages,
			anthropic.NewUserMessage(anthropic.NewTextBlock(ex.Caller)),
			anthropic.NewAssistantMessage(anthropic.NewTextBlock(ex.Assistant)),
		)
	}
	messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(req.Utterance)))

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model),
		MaxTokens: int64(maxTokens),
		Messages:  messages,
	}
	if req.SystemInstruction != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.SystemInstruction}}
	}

	msg, err := p.client.Messages.New(ctx, params)
	if err != nil {
		status := 0
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) {
			status = apiErr.StatusCode
		}
		return "", newGenerationError(p.Name(), status, fmt.Errorf("failed to create message: %w", err))
	}

	var sb strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}

	text := strings.TrimSpace(sb.String())
	if text == "" {
		return "", newGenerationError(p.Name(), 0, errMalformed)
	}

	p.logger.Debug("Anthropic generation complete",
		zap.String("model", p.model),
		zap.Int64("output_tokens", msg.Usage.OutputTokens),
	)
	return text, nil
}
