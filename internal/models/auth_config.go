package models

type AuthConfig struct {
	ClerkConfig *ClerkAuthConfig `json:"clerk,omitempty" yaml:"clerk,omitempty"`
	// ServiceTokenSecret signs HS256 tokens used by internal services calling the ledger API.
	ServiceTokenSecret string `json:"service_token_secret,omitzero" yaml:"service_token_secret"`
}

type ClerkAuthConfig struct {
	SecretKey     string `json:"secret_key" yaml:"secret_key"`
	WebhookSecret string `json:"webhook_secret" yaml:"webhook_secret"`
}
