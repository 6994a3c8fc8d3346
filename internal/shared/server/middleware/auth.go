package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"finsight-backend/internal/identity"
	"finsight-backend/internal/shared/server/respond"
)

const (
	userIDKey    = "userId"
	userEmailKey = "userEmail"
	userNameKey  = "userName"
)

// publicPrefixes are served without a bearer token. Blob downloads carry
// their own signature.
var publicPrefixes = []string{
	"/api/v1/health",
	"/api/v1/blobs/",
	"/metrics",
	"/health",
}

// Auth verifies the bearer token and stores the caller identity in context.
func Auth(verifier identity.Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method == http.MethodOptions {
			c.Status(http.StatusNoContent)
			return
		}

		path := c.Request.URL.Path
		for _, prefix := range publicPrefixes {
			if strings.HasPrefix(path, prefix) {
				c.Next()
				return
			}
		}

		authHeader := strings.TrimSpace(c.GetHeader("Authorization"))
		if !strings.HasPrefix(authHeader, "Bearer ") {
			respond.Error(c, http.StatusUnauthorized, "invalid_token", "missing or invalid token", nil)
			return
		}
		token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer"))
		if token == "" || verifier == nil {
			respond.Error(c, http.StatusUnauthorized, "invalid_token", "missing or invalid token", nil)
			return
		}

		claims, err := verifier.VerifyToken(c.Request.Context(), token)
		if err != nil {
			code := identity.ErrorCode(err)
			respond.Error(c, http.StatusUnauthorized, code, strings.ReplaceAll(code, "_", " "), nil)
			return
		}

		c.Set(userIDKey, claims.Subject)
		if claims.Email != "" {
			c.Set(userEmailKey, claims.Email)
		}
		if claims.Name != "" {
			c.Set(userNameKey, claims.Name)
		}
		c.Next()
	}
}

// UserIDFromContext fetches the user ID set by the auth middleware.
func UserIDFromContext(c *gin.Context) string {
	return stringFromContext(c, userIDKey)
}

// UserEmailFromContext fetches the user email set by the auth middleware.
func UserEmailFromContext(c *gin.Context) string {
	return stringFromContext(c, userEmailKey)
}

// UserNameFromContext fetches the display name set by the auth middleware.
func UserNameFromContext(c *gin.Context) string {
	return stringFromContext(c, userNameKey)
}

func stringFromContext(c *gin.Context, key string) string {
	if c == nil {
		return ""
	}
	val, _ := c.Get(key)
	if s, ok := val.(string); ok {
		return s
	}
	return ""
}

// ClaimsFromContext rebuilds the verified claims stored by Auth.
func ClaimsFromContext(c *gin.Context) identity.Claims {
	return identity.Claims{
		Subject: UserIDFromContext(c),
		Email:   UserEmailFromContext(c),
		Name:    UserNameFromContext(c),
	}
}
