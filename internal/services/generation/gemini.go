package generation

import (
	"context"
	"fmt"

	"github.com/Egham-7/letterpress/internal/models"
	"github.com/Egham-7/letterpress/internal/utils/clientcache"
	fiberlog "github.com/gofiber/fiber/v2/log"
	"google.golang.org/genai"
)

const defaultGeminiModel = "gemini-2.0-flash"

// GeminiProvider builds its client on first use; genai.NewClient needs a context and may fail.
type GeminiProvider struct {
	cfg     models.ProviderConfig
	model   string
	clients *clientcache.Cache[*genai.Client]
}

func NewGeminiProvider(cfg models.ProviderConfig) (*GeminiProvider, error) {
	if cfg.APIKey == "" {
		return nil, models.NewProviderError(string(models.ProviderGemini), "API key not configured", nil)
	}
	return &GeminiProvider{
		cfg:     cfg,
		model:   pick(cfg.TextModel, defaultGeminiModel),
		clients: clientcache.NewCache[*genai.Client](),
	}, nil
}

func (p *GeminiProvider) Name() models.ProviderName { return models.ProviderGemini }

func (p *GeminiProvider) client(ctx context.Context) (*genai.Client, error) {
	return p.clients.GetOrCreate(string(models.ProviderGemini), func() (*genai.Client, error) {
		fiberlog.Debug("Creating new Gemini client")
		clientCfg := &genai.ClientConfig{
			APIKey:  p.cfg.APIKey,
			Backend: genai.BackendGeminiAPI,
		}
		if hc := httpClientFor(p.cfg); hc != nil {
			clientCfg.HTTPClient = hc
		}
		client, err := genai.NewClient(ctx, clientCfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create Gemini client: %w", err)
		}
		return client, nil
	})
}

func (p *GeminiProvider) GenerateText(ctx context.Context, req TextRequest) (*TextResult, error) {
	client, err := p.client(ctx)
	if err != nil {
		return nil, models.NewProviderError(string(models.ProviderGemini), "client unavailable", err)
	}

	config := &genai.GenerateContentConfig{
		MaxOutputTokens: int32(req.MaxTokens),
	}
	if req.System != "" {
		config.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}

	model := pick(req.Model, p.model)
	resp, err := client.Models.GenerateContent(ctx, model, genai.Text(req.Prompt), config)
	if err != nil {
		return nil, models.NewProviderError(string(models.ProviderGemini), "generate request failed", err)
	}

	result := &TextResult{Text: resp.Text(), Model: model}
	if resp.UsageMetadata != nil {
		result.Usage = models.TokenUsage{
			InputTokens:  int64(resp.UsageMetadata.PromptTokenCount),
			OutputTokens: int64(resp.UsageMetadata.CandidatesTokenCount),
		}
	}
	return result, nil
}
