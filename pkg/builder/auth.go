package builder

import "github.com/Egham-7/letterpress/internal/models"

func (b *Builder) WithClerkAuth(secretKey, webhookSecret string) *Builder {
	b.cfg.Auth.ClerkConfig = &models.ClerkAuthConfig{
		SecretKey:     secretKey,
		WebhookSecret: webhookSecret,
	}
	return b
}

// WithServiceTokens enables the internal credit routes for callers holding a token signed with secret.
func (b *Builder) WithServiceTokens(secret string) *Builder {
	b.cfg.Auth.ServiceTokenSecret = secret
	return b
}

func (b *Builder) GetClerkWebhookSecret() (string, bool) {
	if b.cfg.Auth.ClerkConfig != nil {
		return b.cfg.Auth.ClerkConfig.WebhookSecret, true
	}
	return "", false
}
