package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/course-select-api/internal/middleware"
	"github.com/noah-isme/course-select-api/internal/models"
	appErrors "github.com/noah-isme/course-select-api/pkg/errors"
	"github.com/noah-isme/course-select-api/pkg/response"
)

// claimsFromContext returns the identity stored by the JWT middlewares, or nil
// for anonymous websocket upgrades.
func claimsFromContext(c *gin.Context) *models.JWTClaims {
	if value, ok := c.Get(middleware.ContextUserKey); ok {
		if claims, ok := value.(*models.JWTClaims); ok && claims.UserID != "" {
			return claims
		}
	}
	return nil
}

// callerID returns the authenticated user id, answering 401 when the request
// carries no usable identity.
func callerID(c *gin.Context) (string, bool) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrUnauthorized, "missing caller identity"))
		return "", false
	}
	return claims.UserID, true
}
