package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/lessonloop/scheduling-api/internal/middleware"
	"github.com/lessonloop/scheduling-api/internal/models"
)

func claimsFromContext(c *gin.Context) *models.JWTClaims {
	value, exists := c.Get(middleware.ContextUserKey)
	if !exists {
		return nil
	}
	claims, ok := value.(*models.JWTClaims)
	if !ok {
		return nil
	}
	return claims
}

func actorID(c *gin.Context) string {
	if claims := claimsFromContext(c); claims != nil {
		return claims.UserID
	}
	return ""
}

func actorRole(c *gin.Context) models.UserRole {
	if claims := claimsFromContext(c); claims != nil {
		return claims.Role
	}
	return ""
}
