// internal/middleware/helpers.go
package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
)

func GetUserID(c *gin.Context) (int64, bool) {
	v, exists := c.Get(ctxUserID)
	if !exists {
		return 0, false
	}
	id, ok := v.(int64)
	return id, ok
}

// MustGetUserID panics outside an Auth() route.
func MustGetUserID(c *gin.Context) int64 {
	id, ok := GetUserID(c)
	if !ok {
		panic("user_id not found in context")
	}
	return id
}

func MustGetJTI(c *gin.Context) string {
	jti := c.GetString(ctxJTI)
	if jti == "" {
		panic("jti not found in context")
	}
	return jti
}

func GetEmail(c *gin.Context) string {
	return c.GetString(ctxEmail)
}

// GetTokenExpiry falls back to now, which makes a blacklist entry expire at once.
func GetTokenExpiry(c *gin.Context) time.Time {
	if v, ok := c.Get(ctxExpiresAt); ok {
		if t, ok := v.(time.Time); ok {
			return t
		}
	}
	return time.Now()
}

func GetRoles(c *gin.Context) []string {
	v, exists := c.Get(ctxRoles)
	if !exists {
		return []string{}
	}
	roles, ok := v.([]string)
	if !ok {
		return []string{}
	}
	return roles
}

func HasRole(c *gin.Context, role string) bool {
	for _, r := range GetRoles(c) {
		if r == role {
			return true
		}
	}
	return false
}

func IsAdmin(c *gin.Context) bool {
	return HasRole(c, "admin") || HasRole(c, "super_admin")
}
