package auth

import (
	"context"
	"fmt"
	"net/http"

	"github.com/clerk/clerk-sdk-go/v2"
	"github.com/clerk/clerk-sdk-go/v2/jwt"
	svix "github.com/svix/svix-webhooks/go"
)

// ClerkVerifier checks Clerk session tokens.
type ClerkVerifier struct {
	secretKey string
}

func NewClerkVerifier(secretKey string) *ClerkVerifier {
	clerk.SetKey(secretKey)

	return &ClerkVerifier{secretKey: secretKey}
}

func (v *ClerkVerifier) Verify(ctx context.Context, token string) (*AuthContext, error) {
	claims, err := jwt.Verify(ctx, &jwt.VerifyParams{
		Token: token,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	return &AuthContext{
		Type:   AuthTypeClerk,
		UserID: claims.Subject,
		Claims: claims,
	}, nil
}

// ClerkUserEvent is the part of a Clerk user webhook the credit system reads.
type ClerkUserEvent struct {
	Type string `json:"type"`
	Data struct {
		ID             string         `json:"id"`
		PublicMetadata map[string]any `json:"public_metadata"`
	} `json:"data"`
}

// Tier returns the subscription tier stored in the user's public metadata, if any.
func (e ClerkUserEvent) Tier() string {
	if tier, ok := e.Data.PublicMetadata["tier"].(string); ok {
		return tier
	}
	return ""
}

// ClerkWebhookVerifier checks svix signatures on Clerk webhook deliveries.
type ClerkWebhookVerifier struct {
	wh *svix.Webhook
}

func NewClerkWebhookVerifier(secret string) (*ClerkWebhookVerifier, error) {
	wh, err := svix.NewWebhook(secret)
	if err != nil {
		return nil, fmt.Errorf("invalid clerk webhook secret: %w", err)
	}
	return &ClerkWebhookVerifier{wh: wh}, nil
}

func (v *ClerkWebhookVerifier) Verify(payload []byte, headers http.Header) error {
	if err := v.wh.Verify(payload, headers); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return nil
}
