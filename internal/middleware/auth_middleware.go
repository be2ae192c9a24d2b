// internal/middleware/auth_middleware.go
package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"audiotricks-service/internal/pkg/jwt"
	"audiotricks-service/internal/pkg/response"
	"audiotricks-service/internal/pkg/session"

	"github.com/gin-gonic/gin"
)

const (
	ctxUserID    = "user_id"
	ctxJTI       = "jti"
	ctxRoles     = "roles"
	ctxEmail     = "email"
	ctxDevice    = "device"
	ctxExpiresAt = "token_expires_at"
)

type TokenVerifier interface {
	VerifyAccessToken(token string) (*jwt.Claims, error)
}

type SessionChecker interface {
	IsTokenBlacklisted(ctx context.Context, jti string) (bool, error)
	GetSession(ctx context.Context, userID int64, jti string) (*session.SessionData, error)
}

type AuthMiddleware struct {
	verifier TokenVerifier
	sessions SessionChecker
}

func NewAuthMiddleware(verifier TokenVerifier, sessions SessionChecker) *AuthMiddleware {
	return &AuthMiddleware{
		verifier: verifier,
		sessions: sessions,
	}
}

// Auth validates the bearer token, rejects revoked tokens and requires a live session.
func (m *AuthMiddleware) Auth() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractToken(c)
		if token == "" {
			response.Error(c, http.StatusUnauthorized, "missing authorization token", nil)
			return
		}

		claims, err := m.verifier.VerifyAccessToken(token)
		if err != nil {
			response.Error(c, http.StatusUnauthorized, "invalid or expired token", err)
			return
		}

		ctx := c.Request.Context()
		blacklisted, err := m.sessions.IsTokenBlacklisted(ctx, claims.ID)
		if err != nil {
			response.Error(c, http.StatusInternalServerError, "failed to check token", err)
			return
		}
		if blacklisted {
			response.Error(c, http.StatusUnauthorized, "token has been revoked", nil)
			return
		}

		if _, err := m.sessions.GetSession(ctx, claims.UserID, claims.ID); err != nil {
			response.Error(c, http.StatusUnauthorized, "session expired or invalid", err)
			return
		}

		c.Set(ctxUserID, claims.UserID)
		c.Set(ctxJTI, claims.ID)
		c.Set(ctxRoles, claims.Roles)
		c.Set(ctxEmail, claims.Email)
		c.Set(ctxDevice, claims.Device)
		if claims.ExpiresAt != nil {
			c.Set(ctxExpiresAt, claims.ExpiresAt.Time)
		}

		c.Next()
	}
}

// RequireRole requires at least one of roles. Must run after Auth().
func (m *AuthMiddleware) RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		userRoles := GetRoles(c)
		for _, have := range userRoles {
			for _, want := range roles {
				if have == want {
					c.Next()
					return
				}
			}
		}

		response.Error(c, http.StatusForbidden, "insufficient permissions",
			errors.New("user does not have required role"),
			map[string]interface{}{"required_roles": roles},
		)
	}
}

// AdminOnly returns Auth + RequireRole for admin routes.
func (m *AuthMiddleware) AdminOnly() []gin.HandlerFunc {
	return []gin.HandlerFunc{
		m.Auth(),
		m.RequireRole("admin", "super_admin"),
	}
}

// extractToken reads the bearer token, falling back to ?token= for clients
// that cannot set headers.
func extractToken(c *gin.Context) string {
	if authHeader := c.GetHeader("Authorization"); authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
	}
	return c.Query("token")
}
