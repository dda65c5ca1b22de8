package middleware

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
)

const (
	UserContextKey = "userID"
	RoleContextKey = "role"
	RoleAdmin      = "admin"
)

// AuthMiddleware reads identity headers injected by the API gateway,
// falling back to the gateway's cookies.
func AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := headerOrCookie(c, "X-User-ID", "user_id")
		role := headerOrCookie(c, "X-User-Role", "user_role")
		email := headerOrCookie(c, "X-User-Email", "user_email")

		if userID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			return
		}

		c.Set(UserContextKey, userID)
		c.Set(RoleContextKey, role)
		c.Set("email", email)
		c.Next()
	}
}

func headerOrCookie(c *gin.Context, header, cookie string) string {
	if v := c.GetHeader(header); v != "" {
		return v
	}
	if v, err := c.Cookie(cookie); err == nil {
		return v
	}
	return ""
}

// GetUserID extracts the user ID from the Gin context.
func GetUserID(c *gin.Context) (string, error) {
	if val, ok := c.Get(UserContextKey); ok {
		if id, ok := val.(string); ok && id != "" {
			return id, nil
		}
	}
	return "", errors.New("user ID not found in context")
}

// IsAdmin reports whether the authenticated caller has the admin role.
func IsAdmin(c *gin.Context) bool {
	return c.GetString(RoleContextKey) == RoleAdmin
}

// AdminOnly restricts access to admin role.
func AdminOnly() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !IsAdmin(c) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Admin role required"})
			return
		}
		c.Next()
	}
}
