package generation

import (
	"context"
	"strings"

	"github.com/Egham-7/letterpress/internal/models"
	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const defaultAnthropicModel = "claude-3-5-haiku-latest"

type AnthropicProvider struct {
	client *anthropic.Client
	model  string
}

func NewAnthropicProvider(cfg models.ProviderConfig) (*AnthropicProvider, error) {
	if cfg.APIKey == "" {
		return nil, models.NewProviderError(string(models.ProviderAnthropic), "API key not configured", nil)
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	for key, value := range cfg.Headers {
		opts = append(opts, option.WithHeader(key, value))
	}
	if hc := httpClientFor(cfg); hc != nil {
		opts = append(opts, option.WithHTTPClient(hc))
	}

	client := anthropic.NewClient(opts...)
	return &AnthropicProvider{client: &client, model: pick(cfg.TextModel, defaultAnthropicModel)}, nil
}

func (p *AnthropicProvider) Name() models.ProviderName { return models.ProviderAnthropic }

func (p *AnthropicProvider) GenerateText(ctx context.Context, req TextRequest) (*TextResult, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(pick(req.Model, p.model)),
		MaxTokens: req.MaxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}

	message, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return nil, models.NewProviderError(string(models.ProviderAnthropic), "message request failed", err)
	}

	var text strings.Builder
	for _, block := range message.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	return &TextResult{
		Text:  text.String(),
		Model: string(message.Model),
		Usage: models.TokenUsage{
			InputTokens:  message.Usage.InputTokens,
			OutputTokens: message.Usage.OutputTokens,
		},
	}, nil
}
