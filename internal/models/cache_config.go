package models

// CacheBackendType represents the type of cache backend to use
type CacheBackendType string

const (
	CacheBackendRedis  CacheBackendType = "redis"
	CacheBackendMemory CacheBackendType = "memory"
)

// PromptCacheConfig configures the semantic cache used for text enhancement suggestions
type PromptCacheConfig struct {
	Enabled           bool             `json:"enabled,omitzero" yaml:"enabled"`
	Backend           CacheBackendType `json:"backend,omitzero" yaml:"backend"`
	RedisURL          string           `json:"redis_url,omitzero" yaml:"redis_url"`
	Capacity          int              `json:"capacity,omitzero" yaml:"capacity"`
	SemanticThreshold float64          `json:"semantic_threshold,omitzero" yaml:"semantic_threshold"`
	OpenAIAPIKey      string           `json:"openai_api_key,omitzero" yaml:"openai_api_key"`
	EmbeddingModel    string           `json:"embedding_model,omitzero" yaml:"embedding_model"`
}

// RedisConfig configures the shared Redis client (notifications, circuit breakers)
type RedisConfig struct {
	URL           string `json:"url,omitzero" yaml:"url"`
	ChannelPrefix string `json:"channel_prefix,omitzero" yaml:"channel_prefix"`
}
