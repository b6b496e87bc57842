package auth

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestServiceTokens_RoundTrip(t *testing.T) {
	tokens, err := NewServiceTokens(testSecret)
	if err != nil {
		t.Fatalf("NewServiceTokens() error: %v", err)
	}

	tests := []struct {
		name    string
		service string
		userID  string
	}{
		{"acting for a user", "scheduler", "user_1"},
		{"service only", "billing-worker", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token, err := tokens.Issue(tt.service, tt.userID, time.Minute)
			if err != nil {
				t.Fatalf("Issue() error: %v", err)
			}
			authCtx, err := tokens.Verify(context.Background(), token)
			if err != nil {
				t.Fatalf("Verify() error: %v", err)
			}
			if !authCtx.IsService() || authCtx.Service != tt.service || authCtx.UserID != tt.userID {
				t.Errorf("auth context = %+v", authCtx)
			}
		})
	}
}

func TestServiceTokens_Rejects(t *testing.T) {
	tokens, _ := NewServiceTokens(testSecret)
	other, _ := NewServiceTokens(strings.Repeat("x", 32))

	expired, _ := tokens.Issue("scheduler", "", time.Minute)
	tokens.now = func() time.Time { return time.Now().Add(time.Hour) }
	defer func() { tokens.now = time.Now }()

	foreign, _ := other.Issue("scheduler", "", time.Minute)

	none := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{Subject: "scheduler", Issuer: serviceTokenIssuer})
	unsigned, _ := none.SignedString(jwt.UnsafeAllowNoneSignatureType)

	for name, token := range map[string]string{
		"expired":      expired,
		"wrong secret": foreign,
		"alg none":     unsigned,
		"garbage":      "not-a-jwt",
	} {
		t.Run(name, func(t *testing.T) {
			if _, err := tokens.Verify(context.Background(), token); !errors.Is(err, ErrInvalidToken) {
				t.Errorf("Verify() error = %v, want ErrInvalidToken", err)
			}
		})
	}
}

func TestNewServiceTokens_ShortSecret(t *testing.T) {
	if _, err := NewServiceTokens("short"); err == nil {
		t.Error("NewServiceTokens() accepted a short secret")
	}
}

func TestClerkUserEvent_Tier(t *testing.T) {
	var e ClerkUserEvent
	if e.Tier() != "" {
		t.Error("empty event has a tier")
	}
	e.Data.PublicMetadata = map[string]any{"tier": "growth"}
	if e.Tier() != "growth" {
		t.Errorf("Tier() = %q", e.Tier())
	}
}
