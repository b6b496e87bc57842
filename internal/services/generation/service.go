package generation

import (
	"context"
	"fmt"
	"strings"

	"github.com/Egham-7/letterpress/internal/models"
	"github.com/Egham-7/letterpress/internal/services/credits"
	fiberlog "github.com/gofiber/fiber/v2/log"
)

const enhanceSystemPrompt = "You are an editor for email newsletters. Rewrite the text the user sends " +
	"so it is clearer and more engaging. Keep the meaning and the language. Reply with the rewritten text only."

type ServiceOption func(*Service)

func WithTextProvider(p TextProvider) ServiceOption {
	return func(s *Service) {
		if p != nil {
			s.text[p.Name()] = p
		}
	}
}

func WithImageProvider(p ImageProvider) ServiceOption {
	return func(s *Service) {
		s.images = p
	}
}

func WithPromptCache(c PromptCache) ServiceOption {
	return func(s *Service) {
		s.cache = c
	}
}

// Service runs metered generation calls against the configured providers.
type Service struct {
	meter           *Meter
	defaultProvider models.ProviderName
	text            map[models.ProviderName]TextProvider
	images          ImageProvider
	cache           PromptCache
}

func NewService(meter *Meter, defaultProvider models.ProviderName, opts ...ServiceOption) *Service {
	s := &Service{
		meter:           meter,
		defaultProvider: defaultProvider,
		text:            make(map[models.ProviderName]TextProvider),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.defaultProvider == "" {
		s.defaultProvider = models.ProviderOpenAI
	}
	return s
}

// ProvidersFromConfig builds a client for every provider with an API key. Images are served by OpenAI.
func ProvidersFromConfig(cfg models.ProvidersConfig) ([]ServiceOption, error) {
	var opts []ServiceOption

	if pc, ok := cfg.Get(models.ProviderOpenAI); ok {
		p, err := NewOpenAIProvider(pc)
		if err != nil {
			return nil, err
		}
		opts = append(opts, WithTextProvider(p), WithImageProvider(p))
	}
	if pc, ok := cfg.Get(models.ProviderAnthropic); ok {
		p, err := NewAnthropicProvider(pc)
		if err != nil {
			return nil, err
		}
		opts = append(opts, WithTextProvider(p))
	}
	if pc, ok := cfg.Get(models.ProviderGemini); ok {
		p, err := NewGeminiProvider(pc)
		if err != nil {
			return nil, err
		}
		opts = append(opts, WithTextProvider(p))
	}
	return opts, nil
}

func (s *Service) Close() {
	if s.cache != nil {
		s.cache.Close()
	}
}

func (s *Service) textProvider(name models.ProviderName) (TextProvider, error) {
	if name == "" {
		name = s.defaultProvider
	}
	p, ok := s.text[models.ProviderName(strings.ToLower(string(name)))]
	if !ok {
		return nil, models.NewValidationError(fmt.Sprintf("provider %s is not configured", name), nil)
	}
	return p, nil
}

func maxTokens(requested int64) (int64, error) {
	if requested < 0 {
		return 0, models.NewValidationError("max_tokens must not be negative", nil)
	}
	if requested == 0 {
		return models.DefaultMaxTokens, nil
	}
	return requested, nil
}

func imageCount(n int64) (int64, error) {
	switch {
	case n == 0:
		return 1, nil
	case n < 0 || n > models.MaxImagesPerCall:
		return 0, models.NewValidationError(fmt.Sprintf("n must be between 1 and %d", models.MaxImagesPerCall), nil)
	}
	return n, nil
}

// GenerateText charges one unit of TEXT_GENERATION per thousand tokens of the requested budget.
func (s *Service) GenerateText(ctx context.Context, userID, requestID string, req models.TextGenerationRequest) (*models.TextGenerationResponse, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, models.NewValidationError("prompt is required", nil)
	}
	budget, err := maxTokens(req.MaxTokens)
	if err != nil {
		return nil, err
	}
	provider, err := s.textProvider(req.Provider)
	if err != nil {
		return nil, err
	}

	var result *TextResult
	receipt, err := s.meter.Run(ctx, MeteredCall{
		UserID:      userID,
		Operation:   models.OperationTextGeneration,
		Quantity:    credits.UnitsForTokens(budget),
		Description: "Text generation",
		Provider:    provider.Name(),
		RequestID:   requestID,
	}, func(ctx context.Context) (Outcome, error) {
		fiberlog.Infof("[%s] Generating text with %s", requestID, provider.Name())
		res, err := provider.GenerateText(ctx, TextRequest{
			System:    req.System,
			Prompt:    req.Prompt,
			Model:     req.Model,
			MaxTokens: budget,
		})
		if err != nil {
			return Outcome{}, err
		}
		result = res
		return textOutcome(provider.Name(), result, false), nil
	})
	if err != nil {
		return nil, err
	}

	return &models.TextGenerationResponse{
		Text:     result.Text,
		Provider: provider.Name(),
		Model:    result.Model,
		Usage:    result.Usage,
		Credits:  *receipt,
	}, nil
}

// Enhance rewrites newsletter copy. Cached rewrites are still charged as TEXT_ENHANCEMENT.
func (s *Service) Enhance(ctx context.Context, userID, requestID string, req models.EnhanceRequest) (*models.TextGenerationResponse, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, models.NewValidationError("text is required", nil)
	}
	budget, err := maxTokens(req.MaxTokens)
	if err != nil {
		return nil, err
	}
	provider, err := s.textProvider(req.Provider)
	if err != nil {
		return nil, err
	}

	prompt := req.Text
	if req.Instructions != "" {
		prompt = req.Instructions + "\n\n" + req.Text
	}

	var (
		result *TextResult
		cached bool
	)
	receipt, err := s.meter.Run(ctx, MeteredCall{
		UserID:        userID,
		Operation:     models.OperationTextEnhancement,
		Quantity:      credits.UnitsForTokens(budget),
		ContextTokens: estimateTokens(req.Text),
		Description:   "Text enhancement",
		Provider:      provider.Name(),
		RequestID:     requestID,
	}, func(ctx context.Context) (Outcome, error) {
		if s.cache != nil {
			if hit, ok := s.cache.Get(ctx, prompt, requestID); ok {
				result, cached = hit, true
				return textOutcome(provider.Name(), result, true), nil
			}
		}

		res, err := provider.GenerateText(ctx, TextRequest{
			System:    enhanceSystemPrompt,
			Prompt:    prompt,
			MaxTokens: budget,
		})
		if err != nil {
			return Outcome{}, err
		}
		result = res
		if s.cache != nil {
			s.cache.Set(ctx, prompt, *result, requestID)
		}
		return textOutcome(provider.Name(), result, false), nil
	})
	if err != nil {
		return nil, err
	}

	return &models.TextGenerationResponse{
		Text:     result.Text,
		Provider: provider.Name(),
		Model:    result.Model,
		Usage:    result.Usage,
		Cached:   cached,
		Credits:  *receipt,
	}, nil
}

func (s *Service) GenerateImage(ctx context.Context, userID, requestID string, req models.ImageGenerationRequest) (*models.ImageGenerationResponse, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, models.NewValidationError("prompt is required", nil)
	}
	return s.runImage(ctx, userID, requestID, models.OperationImageGeneration, req.N,
		ImageRequest{Prompt: req.Prompt, Size: req.Size},
		func(p ImageProvider) func(context.Context, ImageRequest) (*ImageResult, error) { return p.GenerateImage })
}

func (s *Service) VaryImage(ctx context.Context, userID, requestID string, req models.ImageVariationRequest) (*models.ImageGenerationResponse, error) {
	if req.Image.Reader == nil {
		return nil, models.NewValidationError("image is required", nil)
	}
	return s.runImage(ctx, userID, requestID, models.OperationImageVariation, req.N,
		ImageRequest{Size: req.Size, Image: &req.Image},
		func(p ImageProvider) func(context.Context, ImageRequest) (*ImageResult, error) { return p.VaryImage })
}

func (s *Service) EditImage(ctx context.Context, userID, requestID string, req models.ImageEditRequest) (*models.ImageGenerationResponse, error) {
	if req.Image.Reader == nil {
		return nil, models.NewValidationError("image is required", nil)
	}
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, models.NewValidationError("prompt is required", nil)
	}
	return s.runImage(ctx, userID, requestID, models.OperationImageEdit, req.N,
		ImageRequest{Prompt: req.Prompt, Size: req.Size, Image: &req.Image},
		func(p ImageProvider) func(context.Context, ImageRequest) (*ImageResult, error) { return p.EditImage })
}

// runImage charges per requested image.
func (s *Service) runImage(
	ctx context.Context,
	userID, requestID string,
	op models.OperationType,
	n int64,
	req ImageRequest,
	method func(ImageProvider) func(context.Context, ImageRequest) (*ImageResult, error),
) (*models.ImageGenerationResponse, error) {
	if s.images == nil {
		return nil, models.NewValidationError("image generation is not configured", nil)
	}
	count, err := imageCount(n)
	if err != nil {
		return nil, err
	}
	req.N = count
	call := method(s.images)

	var result *ImageResult
	receipt, err := s.meter.Run(ctx, MeteredCall{
		UserID:      userID,
		Operation:   op,
		Quantity:    count,
		Description: fmt.Sprintf("%s x%d", op.Category(), count),
		Provider:    s.images.Name(),
		RequestID:   requestID,
	}, func(ctx context.Context) (Outcome, error) {
		fiberlog.Infof("[%s] Running %s for %d image(s)", requestID, op, count)
		res, err := call(ctx, req)
		if err != nil {
			return Outcome{}, err
		}
		result = res
		return Outcome{
			Detail: fmt.Sprintf("%s: %d image(s) via %s", op.Category(), len(result.Images), s.images.Name()),
			Extra:  map[string]any{"model": result.Model, "images": len(result.Images), "size": req.Size},
		}, nil
	})
	if err != nil {
		return nil, err
	}

	return &models.ImageGenerationResponse{
		Images:  result.Images,
		Model:   result.Model,
		Credits: *receipt,
	}, nil
}

func textOutcome(provider models.ProviderName, result *TextResult, cached bool) Outcome {
	return Outcome{
		Detail: fmt.Sprintf("%s via %s", result.Model, provider),
		Extra: map[string]any{
			"provider":      string(provider),
			"model":         result.Model,
			"input_tokens":  result.Usage.InputTokens,
			"output_tokens": result.Usage.OutputTokens,
			"cached":        cached,
		},
	}
}

// estimateTokens assumes roughly four bytes per token.
func estimateTokens(text string) int64 {
	return int64(len(text)+3) / 4
}
