package generation

import (
	"context"
	"fmt"
	"time"

	"github.com/Egham-7/letterpress/internal/models"
	fiberlog "github.com/gofiber/fiber/v2/log"
	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"github.com/openai/openai-go/v2/shared"
)

const (
	defaultOpenAITextModel  = "gpt-4o-mini"
	defaultOpenAIImageModel = "dall-e-2"
	defaultImageSize        = "1024x1024"
)

// OpenAIProvider serves text through chat completions and images through the images API.
type OpenAIProvider struct {
	client     *openai.Client
	textModel  string
	imageModel string
}

func NewOpenAIProvider(cfg models.ProviderConfig) (*OpenAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, models.NewProviderError(string(models.ProviderOpenAI), "API key not configured", nil)
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

	client := openai.NewClient(opts...)
	return &OpenAIProvider{
		client:     &client,
		textModel:  pick(cfg.TextModel, defaultOpenAITextModel),
		imageModel: pick(cfg.ImageModel, defaultOpenAIImageModel),
	}, nil
}

func (p *OpenAIProvider) Name() models.ProviderName { return models.ProviderOpenAI }

func (p *OpenAIProvider) GenerateText(ctx context.Context, req TextRequest) (*TextResult, error) {
	model := pick(req.Model, p.textModel)

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, 2)
	if req.System != "" {
		messages = append(messages, openai.SystemMessage(req.System))
	}
	messages = append(messages, openai.UserMessage(req.Prompt))

	start := time.Now()
	resp, err := p.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:               shared.ChatModel(model),
		Messages:            messages,
		MaxCompletionTokens: openai.Int(req.MaxTokens),
	})
	if err != nil {
		fiberlog.Errorf("OpenAI completion failed after %v: %v", time.Since(start), err)
		return nil, models.NewProviderError(string(models.ProviderOpenAI), "completion request failed", err)
	}
	if len(resp.Choices) == 0 {
		return nil, models.NewProviderError(string(models.ProviderOpenAI), "completion returned no choices", nil)
	}

	return &TextResult{
		Text:  resp.Choices[0].Message.Content,
		Model: resp.Model,
		Usage: models.TokenUsage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		},
	}, nil
}

func (p *OpenAIProvider) GenerateImage(ctx context.Context, req ImageRequest) (*ImageResult, error) {
	resp, err := p.client.Images.Generate(ctx, openai.ImageGenerateParams{
		Prompt: req.Prompt,
		Model:  openai.ImageModel(p.imageModel),
		N:      openai.Int(req.N),
		Size:   openai.ImageGenerateParamsSize(pick(req.Size, defaultImageSize)),
	})
	if err != nil {
		return nil, models.NewProviderError(string(models.ProviderOpenAI), "image generation failed", err)
	}
	return p.imageResult(resp), nil
}

func (p *OpenAIProvider) VaryImage(ctx context.Context, req ImageRequest) (*ImageResult, error) {
	if req.Image == nil {
		return nil, models.NewValidationError("image is required", nil)
	}
	resp, err := p.client.Images.NewVariation(ctx, openai.ImageNewVariationParams{
		Image: openai.File(req.Image.Reader, pick(req.Image.Filename, "image.png"), pick(req.Image.ContentType, "image/png")),
		Model: openai.ImageModel(p.imageModel),
		N:     openai.Int(req.N),
		Size:  openai.ImageNewVariationParamsSize(pick(req.Size, defaultImageSize)),
	})
	if err != nil {
		return nil, models.NewProviderError(string(models.ProviderOpenAI), "image variation failed", err)
	}
	return p.imageResult(resp), nil
}

func (p *OpenAIProvider) EditImage(ctx context.Context, req ImageRequest) (*ImageResult, error) {
	if req.Image == nil {
		return nil, models.NewValidationError("image is required", nil)
	}
	resp, err := p.client.Images.Edit(ctx, openai.ImageEditParams{
		Image: openai.ImageEditParamsImageUnion{
			OfFile: openai.File(req.Image.Reader, pick(req.Image.Filename, "image.png"), pick(req.Image.ContentType, "image/png")),
		},
		Prompt: req.Prompt,
		Model:  openai.ImageModel(p.imageModel),
		N:      openai.Int(req.N),
		Size:   openai.ImageEditParamsSize(pick(req.Size, defaultImageSize)),
	})
	if err != nil {
		return nil, models.NewProviderError(string(models.ProviderOpenAI), "image edit failed", err)
	}
	return p.imageResult(resp), nil
}

func (p *OpenAIProvider) imageResult(resp *openai.ImagesResponse) *ImageResult {
	result := &ImageResult{Model: p.imageModel}
	for _, img := range resp.Data {
		result.Images = append(result.Images, models.GeneratedImage{URL: img.URL, B64JSON: img.B64JSON})
	}
	return result
}

func (p *OpenAIProvider) String() string {
	return fmt.Sprintf("openai(text=%s, image=%s)", p.textModel, p.imageModel)
}
