package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sitebook/authcore"
	"github.com/sitebook/authcore/middleware"
	"go.uber.org/zap"
)

const (
	msgInvalidCredentials = "Invalid credentials"
	msgTwoFactorRequired  = "Two-factor code required"
	msgNoRefreshToken     = "No refresh token provided"
	msgInvalidRefresh     = "Invalid refresh token"
	msgInvalidRequest     = "Invalid request"
)

// writeError maps an engine error to its status and generic body.
// KindInvalidToken also clears the refresh cookie.
func (h *Handler) writeError(c *gin.Context, err error) {
	kind := authcore.KindOf(err)
	switch kind {
	case authcore.KindInvalidCredentials:
		c.JSON(http.StatusUnauthorized, gin.H{"error": msgInvalidCredentials})
	case authcore.KindTwoFactorRequired:
		c.JSON(http.StatusUnauthorized, gin.H{"error": msgTwoFactorRequired, "twoFactorRequired": true})
	case authcore.KindInvalidToken:
		h.clearRefreshCookie(c)
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
	case authcore.KindAlreadyEnrolled:
		c.JSON(http.StatusBadRequest, gin.H{"error": "Two-factor authentication is already enabled"})
	case authcore.KindNotEnrolled:
		c.JSON(http.StatusBadRequest, gin.H{"error": "Two-factor authentication is not enabled"})
	case authcore.KindInvalidCode:
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid verification code"})
	case authcore.KindConflict:
		c.JSON(http.StatusConflict, gin.H{"error": "Email already registered"})
	case authcore.KindNotFound:
		c.JSON(http.StatusNotFound, gin.H{"error": "Session not found"})
	case authcore.KindInvalidInput:
		c.JSON(http.StatusBadRequest, gin.H{"error": msgInvalidRequest})
	case authcore.KindStorageUnavailable:
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Service unavailable"})
	default:
		h.logger.Error("unhandled engine error",
			zap.String("path", c.FullPath()),
			zap.String("request_id", middleware.RequestIDFrom(c)),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	}
}

// bindJSON decodes the body into req and writes 400 on failure.
func bindJSON(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": msgInvalidRequest})
		return false
	}
	return true
}
