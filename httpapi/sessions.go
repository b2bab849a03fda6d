package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// ListSessions returns the caller's Active sessions. The session of the
// presented refresh cookie, if any, is marked current.
func (h *Handler) ListSessions(c *gin.Context) {
	ctx := c.Request.Context()
	userID := principal(c).UserID

	rows, err := h.engine.ListSessions(ctx, userID, h.currentTokenID(c))
	if err != nil {
		h.writeError(c, err)
		return
	}

	out := make([]sessionResponse, 0, len(rows))
	for _, row := range rows {
		out = append(out, sessionResponse{
			ID:        row.ID,
			IPAddress: row.IPAddress,
			UserAgent: row.UserAgent,
			IssuedAt:  row.IssuedAt,
			ExpiresAt: row.ExpiresAt,
			Current:   row.Current,
		})
	}
	c.JSON(http.StatusOK, gin.H{"sessions": out})
}

// RevokeSession ends one session of the caller.
func (h *Handler) RevokeSession(c *gin.Context) {
	if err := h.engine.RevokeSession(c.Request.Context(), principal(c).UserID, c.Param("id")); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// RevokeOtherSessions ends every session except the one holding the
// presented refresh cookie.
func (h *Handler) RevokeOtherSessions(c *gin.Context) {
	current := h.currentTokenID(c)
	if current == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": msgNoRefreshToken})
		return
	}

	n, err := h.engine.RevokeOtherSessions(c.Request.Context(), principal(c).UserID, current)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "revoked": n})
}

// currentTokenID resolves the refresh cookie to its row id. An absent or
// unknown cookie yields "".
func (h *Handler) currentTokenID(c *gin.Context) string {
	token, ok := refreshCookie(c)
	if !ok {
		return ""
	}
	id, err := h.engine.ResolveSession(c.Request.Context(), token)
	if err != nil {
		return ""
	}
	return id
}
