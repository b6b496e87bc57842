package models

type ProviderName string

const (
	ProviderOpenAI    ProviderName = "openai"
	ProviderAnthropic ProviderName = "anthropic"
	ProviderGemini    ProviderName = "gemini"
)

// ProviderConfig holds configuration for one AI provider
type ProviderConfig struct {
	APIKey     string            `yaml:"api_key" json:"api_key,omitzero"`
	BaseURL    string            `yaml:"base_url" json:"base_url,omitzero"`
	TextModel  string            `yaml:"text_model" json:"text_model,omitzero"`
	ImageModel string            `yaml:"image_model" json:"image_model,omitzero"`
	TimeoutMs  int               `yaml:"timeout_ms" json:"timeout_ms,omitzero"`
	Headers    map[string]string `yaml:"headers" json:"headers,omitzero"`
}

// ProvidersConfig lists the configured providers. Default names the text provider used when a
// request does not pick one.
type ProvidersConfig struct {
	Default   ProviderName    `yaml:"default" json:"default,omitzero"`
	OpenAI    *ProviderConfig `yaml:"openai,omitempty" json:"openai,omitzero"`
	Anthropic *ProviderConfig `yaml:"anthropic,omitempty" json:"anthropic,omitzero"`
	Gemini    *ProviderConfig `yaml:"gemini,omitempty" json:"gemini,omitzero"`
}

// Get returns the configuration for a provider, if present.
func (p ProvidersConfig) Get(name ProviderName) (ProviderConfig, bool) {
	var cfg *ProviderConfig
	switch name {
	case ProviderOpenAI:
		cfg = p.OpenAI
	case ProviderAnthropic:
		cfg = p.Anthropic
	case ProviderGemini:
		cfg = p.Gemini
	}
	if cfg == nil || cfg.APIKey == "" {
		return ProviderConfig{}, false
	}
	return *cfg, true
}
