package middleware

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

const (
	APIKeyHeader = "X-Bot-API-Key"
	adapterKey   = "adapter"
)

// GenerateAdapterToken issues a bearer token for a messenger adapter.
func GenerateAdapterToken(secret []byte, adapter string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   adapter,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// ValidateAdapterToken returns the adapter named by a valid token.
func ValidateAdapterToken(secret []byte, tokenString string) (string, error) {
	var claims jwt.RegisteredClaims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(t *jwt.Token) (any, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil || !token.Valid {
		return "", errors.New("invalid token")
	}
	if claims.Subject == "" {
		return "", errors.New("token has no subject")
	}
	return claims.Subject, nil
}

// AdapterAuth admits messenger adapters presenting either a bearer token signed
// with secret or an API key matching apiKeyHash. An empty hash disables keys.
func AdapterAuth(secret []byte, apiKeyHash string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if key := c.GetHeader(APIKeyHeader); key != "" {
			if apiKeyHash == "" || bcrypt.CompareHashAndPassword([]byte(apiKeyHash), []byte(key)) != nil {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid bot API key"})
				return
			}
			c.Set(adapterKey, "api-key")
			c.Next()
			return
		}

		header := c.GetHeader("Authorization")
		if header == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authorization required"})
			return
		}

		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization header format"})
			return
		}

		adapter, err := ValidateAdapterToken(secret, parts[1])
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired token"})
			return
		}

		c.Set(adapterKey, adapter)
		c.Next()
	}
}

// Adapter returns the authenticated adapter name.
func Adapter(c *gin.Context) string {
	return c.GetString(adapterKey)
}
