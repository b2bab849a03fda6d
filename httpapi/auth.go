package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sitebook/authcore"
)

// Register creates an account and starts its first session.
func (h *Handler) Register(c *gin.Context) {
	var req registerRequest
	if !bindJSON(c, &req) {
		return
	}

	res, err := h.engine.Register(c.Request.Context(), authcore.RegisterInput{
		Email:       req.Email,
		Password:    req.Password,
		Name:        req.Name,
		Role:        req.Role,
		CompanyID:   req.CompanyID,
		PhoneNumber: req.PhoneNumber,
		UnionMember: req.UnionMember,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}

	h.setRefreshCookie(c, res.RefreshToken)
	c.JSON(http.StatusCreated, authResponse{User: newUserResponse(res.User), AccessToken: res.AccessToken})
}

// Login verifies credentials and, for enrolled users, the second factor.
func (h *Handler) Login(c *gin.Context) {
	var req loginRequest
	if !bindJSON(c, &req) {
		return
	}

	res, err := h.engine.Login(c.Request.Context(), authcore.LoginInput{
		Email:         req.Email,
		Password:      req.Password,
		TwoFactorCode: req.TwoFactorCode,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}

	h.setRefreshCookie(c, res.RefreshToken)
	c.JSON(http.StatusOK, authResponse{User: newUserResponse(res.User), AccessToken: res.AccessToken})
}

// Refresh rotates the refresh cookie and returns a new access token.
func (h *Handler) Refresh(c *gin.Context) {
	token, ok := refreshCookie(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": msgNoRefreshToken})
		return
	}

	res, err := h.engine.Refresh(c.Request.Context(), token)
	if err != nil {
		if errors.Is(err, authcore.ErrInvalidToken) {
			h.clearRefreshCookie(c)
			c.JSON(http.StatusUnauthorized, gin.H{"error": msgInvalidRefresh})
			return
		}
		h.writeError(c, err)
		return
	}

	h.setRefreshCookie(c, res.RefreshToken)
	c.JSON(http.StatusOK, gin.H{"accessToken": res.AccessToken})
}

// Logout ends every session of the caller and clears the cookie. It always
// succeeds.
func (h *Handler) Logout(c *gin.Context) {
	h.engine.Logout(c.Request.Context(), principal(c).UserID)
	h.clearRefreshCookie(c)
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// ChangePassword replaces the password, ends every other session and
// starts a fresh one for the caller.
func (h *Handler) ChangePassword(c *gin.Context) {
	var req changePasswordRequest
	if !bindJSON(c, &req) {
		return
	}

	res, err := h.engine.ChangePassword(c.Request.Context(), principal(c).UserID, req.CurrentPassword, req.NewPassword)
	if err != nil {
		h.writeError(c, err)
		return
	}

	h.setRefreshCookie(c, res.RefreshToken)
	c.JSON(http.StatusOK, gin.H{"success": true, "accessToken": res.AccessToken})
}
