package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	credentialsContextKey = "auth_credentials"
	authCookieName        = "auth_token"
)

// Middleware captures an optional bearer token from the Authorization header
// or the auth cookie. Anonymous requests pass through with zero credentials.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(credentialsContextKey, extractCredentials(c))
		c.Next()
	}
}

// RequireCredentials aborts requests that carry no bearer token.
func RequireCredentials() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !CredentialsFromContext(c).Present() {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": ErrNoCredentials.Error()})
			return
		}
		c.Next()
	}
}

// CredentialsFromContext retrieves the credentials captured by Middleware.
func CredentialsFromContext(c *gin.Context) Credentials {
	val, ok := c.Get(credentialsContextKey)
	if !ok {
		return extractCredentials(c)
	}
	creds, _ := val.(Credentials)
	return creds
}

func extractCredentials(c *gin.Context) Credentials {
	authHeader := c.GetHeader("Authorization")
	if strings.HasPrefix(strings.ToLower(authHeader), "bearer ") {
		return Bearer(authHeader)
	}
	if token, err := c.Cookie(authCookieName); err == nil && token != "" {
		return Bearer(token)
	}
	return Credentials{}
}
