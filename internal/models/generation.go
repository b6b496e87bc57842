package models

import "io"

const (
	DefaultMaxTokens int64 = 1024
	MaxImagesPerCall int64 = 10
)

type TextGenerationRequest struct {
	Prompt    string       `json:"prompt"`
	System    string       `json:"system,omitempty"`
	Provider  ProviderName `json:"provider,omitempty"`
	Model     string       `json:"model,omitempty"`
	MaxTokens int64        `json:"max_tokens,omitempty"`
}

type EnhanceRequest struct {
	Text         string       `json:"text"`
	Instructions string       `json:"instructions,omitempty"`
	Provider     ProviderName `json:"provider,omitempty"`
	MaxTokens    int64        `json:"max_tokens,omitempty"`
}

type TokenUsage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
}

// CreditReceipt tells the caller what a metered call cost.
type CreditReceipt struct {
	TransactionID uint  `json:"transaction_id"`
	Charged       int64 `json:"charged"`
	Remaining     int64 `json:"remaining"`
}

type TextGenerationResponse struct {
	Text     string        `json:"text"`
	Provider ProviderName  `json:"provider"`
	Model    string        `json:"model"`
	Usage    TokenUsage    `json:"usage"`
	Cached   bool          `json:"cached,omitempty"`
	Credits  CreditReceipt `json:"credits"`
}

type ImageGenerationRequest struct {
	Prompt string `json:"prompt"`
	N      int64  `json:"n,omitempty"`
	Size   string `json:"size,omitempty"`
}

// ImageInput is an uploaded source image for variations and edits.
type ImageInput struct {
	Reader      io.Reader
	Filename    string
	ContentType string
}

type ImageVariationRequest struct {
	Image ImageInput
	N     int64
	Size  string
}

type ImageEditRequest struct {
	Image  ImageInput
	Prompt string
	N      int64
	Size   string
}

type GeneratedImage struct {
	URL     string `json:"url,omitempty"`
	B64JSON string `json:"b64_json,omitempty"`
}

type ImageGenerationResponse struct {
	Images  []GeneratedImage `json:"images"`
	Model   string           `json:"model"`
	Credits CreditReceipt    `json:"credits"`
}
