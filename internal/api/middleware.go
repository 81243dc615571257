package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/rongwang/groupledger/internal/models"
)

const (
	adapterSecretKey = "adapterSecret"
	adapterIDKey     = "adapterId"
)

// AdapterAuth exposes the adapter credentials AuthMiddleware checks against:
// the HMAC signing secret and the single client id tokens are issued to.
func AdapterAuth(secret []byte, clientID string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(adapterSecretKey, secret)
		c.Set(adapterIDKey, clientID)
		c.Next()
	}
}

// AuthMiddleware admits only tokens issued by /api/auth/token to the
// configured adapter. A token must be HS256, carry an expiry and name the
// adapter as its subject.
func AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			unauthorized(c, "Authentication required")
			return
		}

		parts := strings.Fields(authHeader)
		if len(parts) != 2 || parts[0] != "Bearer" {
			unauthorized(c, "Invalid token format")
			return
		}

		secret := c.MustGet(adapterSecretKey).([]byte)
		adapterID := c.GetString(adapterIDKey)
		if adapterID == "" {
			unauthorized(c, "Adapter not configured")
			return
		}

		claims := &jwt.RegisteredClaims{}
		token, err := jwt.ParseWithClaims(parts[1], claims, func(*jwt.Token) (interface{}, error) {
			return secret, nil
		},
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithExpirationRequired(),
			jwt.WithSubject(adapterID),
		)
		if err != nil || !token.Valid {
			unauthorized(c, "Invalid token")
			return
		}

		c.Set("clientId", claims.Subject)
		c.Next()
	}
}

func unauthorized(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, models.ErrorResponse{
		Status:  "error",
		Code:    "UNAUTHORIZED",
		Message: message,
	})
}
