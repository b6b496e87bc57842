package generation

import (
	"context"
	"net/http"
	"time"

	"github.com/Egham-7/letterpress/internal/models"
)

type TextRequest struct {
	System    string
	Prompt    string
	Model     string
	MaxTokens int64
}

type TextResult struct {
	Text  string
	Model string
	Usage models.TokenUsage
}

// TextProvider is one completion backend.
type TextProvider interface {
	Name() models.ProviderName
	GenerateText(ctx context.Context, req TextRequest) (*TextResult, error)
}

type ImageRequest struct {
	Prompt string
	N      int64
	Size   string
	Image  *models.ImageInput
}

type ImageResult struct {
	Images []models.GeneratedImage
	Model  string
}

// ImageProvider generates, varies and edits images.
type ImageProvider interface {
	Name() models.ProviderName
	GenerateImage(ctx context.Context, req ImageRequest) (*ImageResult, error)
	VaryImage(ctx context.Context, req ImageRequest) (*ImageResult, error)
	EditImage(ctx context.Context, req ImageRequest) (*ImageResult, error)
}

func httpClientFor(cfg models.ProviderConfig) *http.Client {
	if cfg.TimeoutMs <= 0 {
		return nil
	}
	return &http.Client{Timeout: time.Duration(cfg.TimeoutMs) * time.Millisecond}
}

func pick(value, fallback string) string {
	if value != "" {
		return value
	}
	return fallback
}
