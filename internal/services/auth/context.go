package auth

import (
	"github.com/clerk/clerk-sdk-go/v2"
	"github.com/gofiber/fiber/v2"
)

type AuthType string

const (
	AuthTypeClerk   AuthType = "clerk"
	AuthTypeService AuthType = "service"
)

const authContextKey = "auth_context"

type AuthContext struct {
	Type AuthType
	// UserID is the account credits are charged to. Service callers may leave it empty.
	UserID  string
	Service string
	Claims  *clerk.SessionClaims
}

func (a *AuthContext) IsClerk() bool {
	return a.Type == AuthTypeClerk
}

func (a *AuthContext) IsService() bool {
	return a.Type == AuthTypeService
}

func SetAuthContext(c *fiber.Ctx, authCtx *AuthContext) {
	c.Locals(authContextKey, authCtx)
}

func GetAuthContext(c *fiber.Ctx) *AuthContext {
	authCtx, ok := c.Locals(authContextKey).(*AuthContext)
	if !ok {
		return nil
	}
	return authCtx
}

func GetUserID(c *fiber.Ctx) (string, bool) {
	authCtx := GetAuthContext(c)
	if authCtx == nil {
		return "", false
	}
	return authCtx.UserID, authCtx.UserID != ""
}
