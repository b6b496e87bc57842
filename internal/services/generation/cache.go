package generation

import (
	"context"
	"fmt"

	"github.com/Egham-7/letterpress/internal/models"

	"github.com/botirk38/semanticcache"
	"github.com/botirk38/semanticcache/options"
	fiberlog "github.com/gofiber/fiber/v2/log"
)

const (
	defaultSemanticThreshold = 0.99
	defaultEmbeddingModel    = "text-embedding-3-small"
	defaultCacheCapacity     = 1000
)

// PromptCache stores enhancement results keyed by the prompt sent to the provider.
type PromptCache interface {
	Get(ctx context.Context, prompt, requestID string) (*TextResult, bool)
	Set(ctx context.Context, prompt string, result TextResult, requestID string)
	Close()
}

// SemanticPromptCache matches prompts exactly first, then by embedding similarity.
type SemanticPromptCache struct {
	cache     *semanticcache.SemanticCache[string, TextResult]
	threshold float32
}

func NewSemanticPromptCache(config models.PromptCacheConfig) (*SemanticPromptCache, error) {
	if config.OpenAIAPIKey == "" {
		return nil, fmt.Errorf("prompt cache requires an OpenAI API key for embeddings")
	}

	threshold := config.SemanticThreshold
	if threshold <= 0 || threshold > 1 {
		if config.SemanticThreshold != 0 {
			fiberlog.Warnf("PromptCache: Invalid threshold value %.2f, using default %.2f", config.SemanticThreshold, defaultSemanticThreshold)
		}
		threshold = defaultSemanticThreshold
	}

	embedModel := pick(config.EmbeddingModel, defaultEmbeddingModel)
	provider := options.WithOpenAIProvider[string, TextResult](config.OpenAIAPIKey, embedModel)

	var (
		cache *semanticcache.SemanticCache[string, TextResult]
		err   error
	)
	switch config.Backend {
	case models.CacheBackendMemory, "":
		capacity := config.Capacity
		if capacity <= 0 {
			capacity = defaultCacheCapacity
		}
		fiberlog.Debugf("PromptCache: Using in-memory LRU backend with capacity=%d", capacity)
		cache, err = semanticcache.New(provider, options.WithLRUBackend[string, TextResult](capacity))
	case models.CacheBackendRedis:
		if config.RedisURL == "" {
			return nil, fmt.Errorf("redis URL not set for redis backend")
		}
		fiberlog.Debugf("PromptCache: Using Redis backend")
		cache, err = semanticcache.New(provider, options.WithRedisBackend[string, TextResult](config.RedisURL, 0))
	default:
		return nil, fmt.Errorf("unsupported cache backend: %s (supported: redis, memory)", config.Backend)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create semantic cache: %w", err)
	}

	fiberlog.Infof("PromptCache: Semantic cache initialized with backend=%s, threshold=%.2f", pick(string(config.Backend), string(models.CacheBackendMemory)), threshold)
	return &SemanticPromptCache{cache: cache, threshold: float32(threshold)}, nil
}

func (pc *SemanticPromptCache) Get(ctx context.Context, prompt, requestID string) (*TextResult, bool) {
	if hit, found, err := pc.cache.Get(ctx, prompt); err != nil {
		fiberlog.Errorf("[%s] PromptCache: Error during exact lookup: %v", requestID, err)
	} else if found {
		fiberlog.Infof("[%s] PromptCache: Exact cache hit", requestID)
		return &hit, true
	}

	match, err := pc.cache.Lookup(ctx, prompt, pc.threshold)
	if err != nil {
		fiberlog.Errorf("[%s] PromptCache: Error during semantic lookup: %v", requestID, err)
		return nil, false
	}
	if match == nil {
		fiberlog.Debugf("[%s] PromptCache: Semantic cache miss", requestID)
		return nil, false
	}

	fiberlog.Infof("[%s] PromptCache: Semantic cache hit", requestID)
	return &match.Value, true
}

func (pc *SemanticPromptCache) Set(ctx context.Context, prompt string, result TextResult, requestID string) {
	if err := pc.cache.Set(ctx, prompt, prompt, result); err != nil {
		fiberlog.Errorf("[%s] PromptCache: Failed to store in semantic cache: %v", requestID, err)
	}
}

func (pc *SemanticPromptCache) Close() {
	pc.cache.Close()
}
