package middleware

import (
	"strings"

	"github.com/Egham-7/letterpress/internal/services/auth"
	"github.com/gofiber/fiber/v2"
	fiberlog "github.com/gofiber/fiber/v2/log"
)

type AuthMiddleware struct {
	users    auth.TokenVerifier
	services auth.TokenVerifier
	config   *AuthMiddlewareConfig
}

type AuthMiddlewareConfig struct {
	HeaderNames []string
	SkipPaths   []string
}

func DefaultAuthMiddlewareConfig() *AuthMiddlewareConfig {
	return &AuthMiddlewareConfig{
		HeaderNames: []string{"Authorization"},
		SkipPaths: []string{
			"/health",
			"/webhooks",
		},
	}
}

// NewAuthMiddleware takes a verifier for user sessions and one for service tokens. Either may be nil.
func NewAuthMiddleware(users, services auth.TokenVerifier, config *AuthMiddlewareConfig) *AuthMiddleware {
	if config == nil {
		config = DefaultAuthMiddlewareConfig()
	}
	if len(config.HeaderNames) == 0 {
		config.HeaderNames = []string{"Authorization"}
	}
	return &AuthMiddleware{
		users:    users,
		services: services,
		config:   config,
	}
}

// Authenticate resolves the bearer token and stores the AuthContext in locals.
func (m *AuthMiddleware) Authenticate() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if m.shouldSkipPath(c.Path()) {
			return c.Next()
		}

		token := m.extractToken(c)
		if token == "" {
			return unauthorized(c, auth.ErrMissingToken.Error())
		}

		for _, verifier := range []auth.TokenVerifier{m.services, m.users} {
			if verifier == nil {
				continue
			}
			authCtx, err := verifier.Verify(c.UserContext(), token)
			if err != nil {
				fiberlog.Debugf("Token rejected by %T: %v", verifier, err)
				continue
			}
			auth.SetAuthContext(c, authCtx)
			return c.Next()
		}

		return unauthorized(c, auth.ErrInvalidToken.Error())
	}
}

// RequireUser admits callers that resolve to a user, whether by session or by a service acting for one.
func (m *AuthMiddleware) RequireUser() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if _, ok := auth.GetUserID(c); !ok {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error": "This operation requires a user identity",
			})
		}
		return c.Next()
	}
}

func (m *AuthMiddleware) RequireService() fiber.Handler {
	return func(c *fiber.Ctx) error {
		authCtx := auth.GetAuthContext(c)
		if authCtx == nil || !authCtx.IsService() {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error": "This operation requires a service token",
			})
		}
		return c.Next()
	}
}

func (m *AuthMiddleware) extractToken(c *fiber.Ctx) string {
	for _, headerName := range m.config.HeaderNames {
		if header := c.Get(headerName); header != "" {
			if after, ok := strings.CutPrefix(header, "Bearer "); ok {
				return strings.TrimSpace(after)
			}
			return strings.TrimSpace(header)
		}
	}
	return ""
}

func (m *AuthMiddleware) shouldSkipPath(path string) bool {
	for _, skipPath := range m.config.SkipPaths {
		if strings.HasPrefix(path, skipPath) {
			return true
		}
	}
	return false
}

func unauthorized(c *fiber.Ctx, message string) error {
	return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
		"error": message,
	})
}
