package builder

import "github.com/Egham-7/letterpress/internal/models"

type ProviderBuilder struct {
	apiKey     string
	baseURL    string
	textModel  string
	imageModel string
	timeoutMs  int
	headers    map[string]string
}

func NewProviderBuilder(apiKey string) *ProviderBuilder {
	return &ProviderBuilder{
		apiKey:  apiKey,
		headers: make(map[string]string),
	}
}

func (pb *ProviderBuilder) WithBaseURL(url string) *ProviderBuilder {
	pb.baseURL = url
	return pb
}

func (pb *ProviderBuilder) WithTextModel(model string) *ProviderBuilder {
	pb.textModel = model
	return pb
}

func (pb *ProviderBuilder) WithImageModel(model string) *ProviderBuilder {
	pb.imageModel = model
	return pb
}

func (pb *ProviderBuilder) WithTimeout(ms int) *ProviderBuilder {
	pb.timeoutMs = ms
	return pb
}

func (pb *ProviderBuilder) WithHeader(key, value string) *ProviderBuilder {
	pb.headers[key] = value
	return pb
}

func (pb *ProviderBuilder) Build() models.ProviderConfig {
	return models.ProviderConfig{
		APIKey:     pb.apiKey,
		BaseURL:    pb.baseURL,
		TextModel:  pb.textModel,
		ImageModel: pb.imageModel,
		TimeoutMs:  pb.timeoutMs,
		Headers:    pb.headers,
	}
}

// AddOpenAIProvider registers OpenAI for text and for all image operations.
func (b *Builder) AddOpenAIProvider(cfg models.ProviderConfig) *Builder {
	b.cfg.Providers.OpenAI = &cfg
	return b
}

func (b *Builder) AddAnthropicProvider(cfg models.ProviderConfig) *Builder {
	b.cfg.Providers.Anthropic = &cfg
	return b
}

func (b *Builder) AddGeminiProvider(cfg models.ProviderConfig) *Builder {
	b.cfg.Providers.Gemini = &cfg
	return b
}

// DefaultProvider picks the text provider used when a request names none.
func (b *Builder) DefaultProvider(name models.ProviderName) *Builder {
	b.cfg.Providers.Default = name
	return b
}

// WithPromptCache enables the semantic cache for enhancement suggestions.
func (b *Builder) WithPromptCache(cfg models.PromptCacheConfig) *Builder {
	cfg.Enabled = true
	if cfg.SemanticThreshold == 0 {
		cfg.SemanticThreshold = 0.99
	}
	if cfg.EmbeddingModel == "" {
		cfg.EmbeddingModel = "text-embedding-3-small"
	}
	b.cfg.PromptCache = &cfg
	return b
}
