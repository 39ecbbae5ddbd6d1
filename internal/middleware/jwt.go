package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/course-select-api/internal/models"
	appErrors "github.com/noah-isme/course-select-api/pkg/errors"
	"github.com/noah-isme/course-select-api/pkg/response"
)

// ContextUserKey is the gin context key storing JWT claims.
const ContextUserKey = "currentUser"

// TokenQueryParam carries an access token on websocket upgrades, where
// browsers cannot set headers.
const TokenQueryParam = "token"

// TokenValidator verifies access tokens.
type TokenValidator interface {
	ValidateToken(token string) (*models.JWTClaims, error)
}

// JWT protects routes by requiring a valid access token.
func JWT(auth TokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := bearerToken(c.GetHeader("Authorization"))
		if err != nil {
			response.Error(c, err)
			c.Abort()
			return
		}

		claims, err := auth.ValidateToken(token)
		if err != nil {
			response.Error(c, err)
			c.Abort()
			return
		}

		c.Set(ContextUserKey, claims)
		c.Next()
	}
}

// OptionalJWT attaches claims when a valid token is present in the
// Authorization header or the token query parameter, and never blocks.
func OptionalJWT(auth TokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.Query(TokenQueryParam)
		if header := c.GetHeader("Authorization"); header != "" {
			if parsed, err := bearerToken(header); err == nil {
				token = parsed
			}
		}
		if token == "" {
			c.Next()
			return
		}

		if claims, err := auth.ValidateToken(token); err == nil {
			c.Set(ContextUserKey, claims)
		}
		c.Next()
	}
}

func bearerToken(header string) (string, error) {
	if header == "" {
		return "", appErrors.ErrUnauthorized
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
		return "", appErrors.Clone(appErrors.ErrUnauthorized, "invalid authorization header")
	}
	return strings.TrimSpace(parts[1]), nil
}
