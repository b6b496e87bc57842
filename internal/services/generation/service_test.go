package generation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/Egham-7/letterpress/internal/models"
	"github.com/Egham-7/letterpress/internal/services/credits"
	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type fakeText struct {
	name  models.ProviderName
	err   error
	calls int
	last  TextRequest
}

func (f *fakeText) Name() models.ProviderName { return f.name }

func (f *fakeText) GenerateText(_ context.Context, req TextRequest) (*TextResult, error) {
	f.calls++
	f.last = req
	if f.err != nil {
		return nil, f.err
	}
	return &TextResult{
		Text:  "rewritten: " + req.Prompt,
		Model: "fake-model",
		Usage: models.TokenUsage{InputTokens: 12, OutputTokens: 34},
	}, nil
}

type fakeImages struct {
	err   error
	calls []string
}

func (f *fakeImages) Name() models.ProviderName { return models.ProviderOpenAI }

func (f *fakeImages) result(kind string, req ImageRequest) (*ImageResult, error) {
	f.calls = append(f.calls, kind)
	if f.err != nil {
		return nil, f.err
	}
	images := make([]models.GeneratedImage, req.N)
	for i := range images {
		images[i] = models.GeneratedImage{URL: fmt.Sprintf("https://img.example/%s/%d.png", kind, i)}
	}
	return &ImageResult{Images: images, Model: "fake-image"}, nil
}

func (f *fakeImages) GenerateImage(_ context.Context, req ImageRequest) (*ImageResult, error) {
	return f.result("generate", req)
}

func (f *fakeImages) VaryImage(_ context.Context, req ImageRequest) (*ImageResult, error) {
	return f.result("vary", req)
}

func (f *fakeImages) EditImage(_ context.Context, req ImageRequest) (*ImageResult, error) {
	return f.result("edit", req)
}

type mapCache struct {
	mu      sync.Mutex
	entries map[string]TextResult
}

func (c *mapCache) Get(_ context.Context, prompt, _ string) (*TextResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.entries[prompt]
	if !ok {
		return nil, false
	}
	return &r, true
}

func (c *mapCache) Set(_ context.Context, prompt string, result TextResult, _ string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[prompt] = result
}

func (c *mapCache) Close() {}

type stubBreaker struct {
	allow    error
	recorded []error
}

func (b *stubBreaker) Allow(context.Context) error { return b.allow }

func (b *stubBreaker) Record(_ context.Context, err error) { b.recorded = append(b.recorded, err) }

type stubBreakers map[string]*stubBreaker

func (s stubBreakers) ForProvider(name string) Breaker {
	b, ok := s[name]
	if !ok {
		b = &stubBreaker{}
		s[name] = b
	}
	return b
}

func newTestLedger(t *testing.T) *credits.Ledger {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	ledger, err := credits.NewLedger(db, credits.DefaultConfig())
	if err != nil {
		t.Fatalf("NewLedger() error: %v", err)
	}
	if err := ledger.AutoMigrate(); err != nil {
		t.Fatalf("AutoMigrate() error: %v", err)
	}
	if _, err := ledger.Initialize(context.Background(), "user_1", "starter"); err != nil {
		t.Fatalf("Initialize() error: %v", err)
	}
	return ledger
}

func remaining(t *testing.T, ledger *credits.Ledger) int64 {
	t.Helper()
	balance, err := ledger.GetBalance(context.Background(), "user_1")
	if err != nil {
		t.Fatalf("GetBalance() error: %v", err)
	}
	return balance.Remaining
}

func TestService_GenerateTextChargesPerThousandTokens(t *testing.T) {
	ledger := newTestLedger(t)
	text := &fakeText{name: models.ProviderOpenAI}
	svc := NewService(NewMeter(ledger, nil), models.ProviderOpenAI, WithTextProvider(text))

	resp, err := svc.GenerateText(context.Background(), "user_1", "req-1", models.TextGenerationRequest{
		Prompt:    "Write a welcome note",
		MaxTokens: 2500,
	})
	if err != nil {
		t.Fatalf("GenerateText() error: %v", err)
	}

	if resp.Credits.Charged != 3 || resp.Credits.Remaining != 97 {
		t.Errorf("receipt = %+v, want charged 3 remaining 97", resp.Credits)
	}
	if text.last.MaxTokens != 2500 {
		t.Errorf("provider max tokens = %d", text.last.MaxTokens)
	}
	if resp.Usage.OutputTokens != 34 || resp.Provider != models.ProviderOpenAI {
		t.Errorf("response = %+v", resp)
	}
	if got := remaining(t, ledger); got != 97 {
		t.Errorf("remaining = %d, want 97", got)
	}
}

func TestService_GenerateTextDefaultsTokenBudget(t *testing.T) {
	ledger := newTestLedger(t)
	text := &fakeText{name: models.ProviderOpenAI}
	svc := NewService(NewMeter(ledger, nil), "", WithTextProvider(text))

	resp, err := svc.GenerateText(context.Background(), "user_1", "req-1", models.TextGenerationRequest{Prompt: "hi"})
	if err != nil {
		t.Fatalf("GenerateText() error: %v", err)
	}
	if text.last.MaxTokens != models.DefaultMaxTokens {
		t.Errorf("max tokens = %d, want %d", text.last.MaxTokens, models.DefaultMaxTokens)
	}
	if resp.Credits.Charged != 2 {
		t.Errorf("charged = %d, want 2", resp.Credits.Charged)
	}
}

func TestService_ProviderFailureRefunds(t *testing.T) {
	ledger := newTestLedger(t)
	boom := models.NewProviderError("anthropic", "overloaded", nil)
	text := &fakeText{name: models.ProviderAnthropic, err: boom}
	breakers := stubBreakers{}
	svc := NewService(NewMeter(ledger, breakers), models.ProviderAnthropic, WithTextProvider(text))

	_, err := svc.GenerateText(context.Background(), "user_1", "req-1", models.TextGenerationRequest{Prompt: "hi"})
	if !errors.Is(err, boom) {
		t.Fatalf("GenerateText() error = %v, want provider error", err)
	}
	if got := remaining(t, ledger); got != 100 {
		t.Errorf("remaining = %d, want 100 after refund", got)
	}

	b := breakers["anthropic"]
	if b == nil || len(b.recorded) != 1 || b.recorded[0] == nil {
		t.Errorf("breaker recordings = %+v, want one failure", b)
	}

	history, err := ledger.History(context.Background(), "user_1", 10, 0)
	if err != nil {
		t.Fatalf("History() error: %v", err)
	}
	kinds := make([]string, 0, len(history))
	for _, e := range history {
		kinds = append(kinds, string(e.Kind))
	}
	if strings.Join(kinds, ",") != "add,rollback,initialize" {
		t.Errorf("history kinds = %v", kinds)
	}
}

func TestService_OpenBreakerSkipsReservation(t *testing.T) {
	ledger := newTestLedger(t)
	text := &fakeText{name: models.ProviderOpenAI}
	breakers := stubBreakers{"openai": {allow: models.NewCircuitBreakerError("openai")}}
	svc := NewService(NewMeter(ledger, breakers), models.ProviderOpenAI, WithTextProvider(text))

	_, err := svc.GenerateText(context.Background(), "user_1", "req-1", models.TextGenerationRequest{Prompt: "hi"})
	var appErr *models.AppError
	if !errors.As(err, &appErr) || appErr.Type != models.ErrorTypeCircuitBreaker {
		t.Fatalf("error = %v, want circuit breaker error", err)
	}
	if text.calls != 0 {
		t.Errorf("provider called %d times", text.calls)
	}

	history, _ := ledger.History(context.Background(), "user_1", 10, 0)
	if len(history) != 1 {
		t.Errorf("history has %d entries, want only the initialize entry", len(history))
	}
}

func TestService_InsufficientCreditsNeverCallsProvider(t *testing.T) {
	ledger := newTestLedger(t)
	text := &fakeText{name: models.ProviderOpenAI}
	svc := NewService(NewMeter(ledger, nil), models.ProviderOpenAI, WithTextProvider(text))

	_, err := svc.GenerateText(context.Background(), "user_1", "req-1", models.TextGenerationRequest{
		Prompt:    "a very long essay",
		MaxTokens: 200_000,
	})
	if !errors.Is(err, models.ErrInsufficientCredits) {
		t.Fatalf("error = %v, want insufficient credits", err)
	}
	if text.calls != 0 {
		t.Errorf("provider called %d times", text.calls)
	}
}

func TestService_SettlesAfterCancellation(t *testing.T) {
	ledger := newTestLedger(t)
	ctx, cancel := context.WithCancel(context.Background())
	meter := NewMeter(ledger, nil)

	_, err := meter.Run(ctx, MeteredCall{
		UserID:    "user_1",
		Operation: models.OperationImageGeneration,
		Quantity:  2,
	}, func(ctx context.Context) (Outcome, error) {
		cancel()
		return Outcome{}, ctx.Err()
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() error = %v, want context.Canceled", err)
	}
	if got := remaining(t, ledger); got != 100 {
		t.Errorf("remaining = %d, want 100 after refund", got)
	}
}

func TestService_Validation(t *testing.T) {
	ledger := newTestLedger(t)
	svc := NewService(NewMeter(ledger, nil), models.ProviderOpenAI,
		WithTextProvider(&fakeText{name: models.ProviderOpenAI}),
		WithImageProvider(&fakeImages{}))
	ctx := context.Background()

	tests := []struct {
		name string
		call func() error
	}{
		{"empty prompt", func() error {
			_, err := svc.GenerateText(ctx, "user_1", "r", models.TextGenerationRequest{Prompt: "  "})
			return err
		}},
		{"negative max tokens", func() error {
			_, err := svc.GenerateText(ctx, "user_1", "r", models.TextGenerationRequest{Prompt: "x", MaxTokens: -1})
			return err
		}},
		{"unconfigured provider", func() error {
			_, err := svc.GenerateText(ctx, "user_1", "r", models.TextGenerationRequest{Prompt: "x", Provider: models.ProviderGemini})
			return err
		}},
		{"empty enhance text", func() error {
			_, err := svc.Enhance(ctx, "user_1", "r", models.EnhanceRequest{})
			return err
		}},
		{"too many images", func() error {
			_, err := svc.GenerateImage(ctx, "user_1", "r", models.ImageGenerationRequest{Prompt: "cat", N: 11})
			return err
		}},
		{"variation without image", func() error {
			_, err := svc.VaryImage(ctx, "user_1", "r", models.ImageVariationRequest{})
			return err
		}},
		{"edit without prompt", func() error {
			_, err := svc.EditImage(ctx, "user_1", "r", models.ImageEditRequest{Image: models.ImageInput{Reader: strings.NewReader("png")}})
			return err
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var appErr *models.AppError
			if err := tt.call(); !errors.As(err, &appErr) || appErr.Type != models.ErrorTypeValidation {
				t.Errorf("error = %v, want validation error", err)
			}
		})
	}

	if got := remaining(t, ledger); got != 100 {
		t.Errorf("remaining = %d, want 100", got)
	}
}

func TestService_EnhanceUsesCache(t *testing.T) {
	ledger := newTestLedger(t)
	text := &fakeText{name: models.ProviderOpenAI}
	cache := &mapCache{entries: map[string]TextResult{}}
	svc := NewService(NewMeter(ledger, nil), models.ProviderOpenAI, WithTextProvider(text), WithPromptCache(cache))
	req := models.EnhanceRequest{Text: "our launch is next week", Instructions: "make it punchy", MaxTokens: 1000}

	first, err := svc.Enhance(context.Background(), "user_1", "req-1", req)
	if err != nil {
		t.Fatalf("Enhance() error: %v", err)
	}
	second, err := svc.Enhance(context.Background(), "user_1", "req-2", req)
	if err != nil {
		t.Fatalf("Enhance() error: %v", err)
	}

	if text.calls != 1 {
		t.Errorf("provider calls = %d, want 1", text.calls)
	}
	if first.Cached || !second.Cached || first.Text != second.Text {
		t.Errorf("first = %+v, second = %+v", first, second)
	}
	if text.last.System != enhanceSystemPrompt || !strings.HasPrefix(text.last.Prompt, "make it punchy") {
		t.Errorf("provider request = %+v", text.last)
	}
	if got := remaining(t, ledger); got != 98 {
		t.Errorf("remaining = %d, want 98", got)
	}
}

func TestService_ImageOperations(t *testing.T) {
	tests := []struct {
		name        string
		run         func(*Service) (*models.ImageGenerationResponse, error)
		wantCall    string
		wantCharged int64
		wantImages  int
	}{
		{
			name: "generate three",
			run: func(s *Service) (*models.ImageGenerationResponse, error) {
				return s.GenerateImage(context.Background(), "user_1", "r", models.ImageGenerationRequest{Prompt: "header art", N: 3})
			},
			wantCall: "generate", wantCharged: 15, wantImages: 3,
		},
		{
			name: "vary defaults to one",
			run: func(s *Service) (*models.ImageGenerationResponse, error) {
				return s.VaryImage(context.Background(), "user_1", "r", models.ImageVariationRequest{
					Image: models.ImageInput{Reader: strings.NewReader("png"), Filename: "a.png"},
				})
			},
			wantCall: "vary", wantCharged: 3, wantImages: 1,
		},
		{
			name: "edit two",
			run: func(s *Service) (*models.ImageGenerationResponse, error) {
				return s.EditImage(context.Background(), "user_1", "r", models.ImageEditRequest{
					Image:  models.ImageInput{Reader: strings.NewReader("png")},
					Prompt: "add a sunset",
					N:      2,
				})
			},
			wantCall: "edit", wantCharged: 8, wantImages: 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ledger := newTestLedger(t)
			images := &fakeImages{}
			svc := NewService(NewMeter(ledger, nil), models.ProviderOpenAI, WithImageProvider(images))

			resp, err := tt.run(svc)
			if err != nil {
				t.Fatalf("error: %v", err)
			}
			if len(images.calls) != 1 || images.calls[0] != tt.wantCall {
				t.Errorf("calls = %v, want [%s]", images.calls, tt.wantCall)
			}
			if resp.Credits.Charged != tt.wantCharged || len(resp.Images) != tt.wantImages {
				t.Errorf("charged %d images %d, want %d and %d", resp.Credits.Charged, len(resp.Images), tt.wantCharged, tt.wantImages)
			}
			if got := remaining(t, ledger); got != 100-tt.wantCharged {
				t.Errorf("remaining = %d, want %d", got, 100-tt.wantCharged)
			}
		})
	}
}

func TestService_ImagesNotConfigured(t *testing.T) {
	svc := NewService(NewMeter(newTestLedger(t), nil), models.ProviderOpenAI)
	_, err := svc.GenerateImage(context.Background(), "user_1", "r", models.ImageGenerationRequest{Prompt: "x"})
	if err == nil {
		t.Fatal("GenerateImage() without an image provider should fail")
	}
}

func TestMeter_RecordsSuccessMetadata(t *testing.T) {
	ledger := newTestLedger(t)
	breakers := stubBreakers{}
	meter := NewMeter(ledger, breakers)

	receipt, err := meter.Run(context.Background(), MeteredCall{
		UserID:    "user_1",
		Operation: models.OperationTextGeneration,
		Provider:  models.ProviderGemini,
	}, func(context.Context) (Outcome, error) {
		return Outcome{Detail: "gemini-2.0-flash via gemini", Extra: map[string]any{"output_tokens": 10}}, nil
	})
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	history, err := ledger.History(context.Background(), "user_1", 1, 0)
	if err != nil || len(history) != 1 {
		t.Fatalf("History() = %v, %v", history, err)
	}
	entry := history[0]
	if entry.ID != receipt.TransactionID || entry.Kind != models.LedgerEntryUse {
		t.Errorf("entry = %+v, receipt = %+v", entry, receipt)
	}
	if entry.Description != "gemini-2.0-flash via gemini" || !strings.Contains(entry.Metadata, "output_tokens") {
		t.Errorf("entry description %q metadata %q", entry.Description, entry.Metadata)
	}
	if b := breakers["gemini"]; b == nil || len(b.recorded) != 1 || b.recorded[0] != nil {
		t.Errorf("breaker recordings = %+v, want one success", b)
	}
}

func TestMeter_RefundsWhenWorkPanics(t *testing.T) {
	ledger := newTestLedger(t)
	breakers := stubBreakers{}
	meter := NewMeter(ledger, breakers)

	func() {
		defer func() {
			if r := recover(); r != "provider client exploded" {
				t.Errorf("recovered %v, want the original panic", r)
			}
		}()
		_, _ = meter.Run(context.Background(), MeteredCall{
			UserID:    "user_1",
			Operation: models.OperationImageGeneration,
			Provider:  models.ProviderOpenAI,
			Quantity:  1,
		}, func(context.Context) (Outcome, error) {
			panic("provider client exploded")
		})
	}()

	if got := remaining(t, ledger); got != 100 {
		t.Errorf("remaining = %d, want 100 after refund", got)
	}
	if b := breakers["openai"]; b == nil || len(b.recorded) != 1 || b.recorded[0] == nil {
		t.Errorf("breaker recordings = %+v, want one failure", b)
	}

	history, err := ledger.History(context.Background(), "user_1", 10, 0)
	if err != nil {
		t.Fatalf("History() error: %v", err)
	}
	if len(history) != 3 || history[0].Kind != models.LedgerEntryAdd || !strings.Contains(history[0].Description, "panic") {
		t.Errorf("history = %+v, want a refund mentioning the panic", history)
	}
}
