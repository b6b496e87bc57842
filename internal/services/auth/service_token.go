package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const serviceTokenIssuer = "letterpress"

// ServiceClaims identify an internal caller. UID, when set, is the user the caller acts for.
type ServiceClaims struct {
	UID string `json:"uid,omitempty"`
	jwt.RegisteredClaims
}

// ServiceTokens issues and verifies HS256 tokens for internal callers.
type ServiceTokens struct {
	secret []byte
	now    func() time.Time
}

func NewServiceTokens(secret string) (*ServiceTokens, error) {
	if len(secret) < 32 {
		return nil, errors.New("service token secret must be at least 32 bytes")
	}
	return &ServiceTokens{secret: []byte(secret), now: time.Now}, nil
}

func (s *ServiceTokens) Issue(service, userID string, ttl time.Duration) (string, error) {
	if service == "" {
		return "", errors.New("service name is required")
	}
	now := s.now()
	claims := ServiceClaims{
		UID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   service,
			Issuer:    serviceTokenIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign service token: %w", err)
	}
	return signed, nil
}

func (s *ServiceTokens) Verify(_ context.Context, token string) (*AuthContext, error) {
	var claims ServiceClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(serviceTokenIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}

	return &AuthContext{
		Type:    AuthTypeService,
		UserID:  claims.UID,
		Service: claims.Subject,
	}, nil
}
