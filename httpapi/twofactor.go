package httpapi

import (
	"encoding/base64"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	qrcode "github.com/skip2/go-qrcode"
)

const qrCodeSize = 256

// SetupTwoFactor issues a pending secret and renders it as a QR code.
func (h *Handler) SetupTwoFactor(c *gin.Context) {
	var req passwordRequest
	if !bindJSON(c, &req) {
		return
	}

	setup, err := h.engine.BeginTwoFactorSetup(c.Request.Context(), principal(c).UserID, req.Password)
	if err != nil {
		h.writeError(c, err)
		return
	}

	qr, err := qrDataURL(setup.QRPayload)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"qrCode":         qr,
		"manualEntryKey": setup.Secret,
		"otpauthUrl":     setup.QRPayload,
	})
}

// VerifyTwoFactor confirms a pending enrollment and returns the one-time
// backup codes.
func (h *Handler) VerifyTwoFactor(c *gin.Context) {
	var req codeRequest
	if !bindJSON(c, &req) {
		return
	}

	codes, err := h.engine.ConfirmTwoFactor(c.Request.Context(), principal(c).UserID, req.Token)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "backupCodes": codes})
}

func (h *Handler) TwoFactorStatus(c *gin.Context) {
	st, err := h.engine.TwoFactorStatus(c.Request.Context(), principal(c).UserID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"enabled":              st.Enabled,
		"pending":              st.Pending,
		"backupCodesRemaining": st.BackupCodesRemaining,
	})
}

func (h *Handler) DisableTwoFactor(c *gin.Context) {
	var req passwordRequest
	if !bindJSON(c, &req) {
		return
	}

	if err := h.engine.DisableTwoFactor(c.Request.Context(), principal(c).UserID, req.Password); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// RegenerateBackupCodes replaces every backup code of the caller.
func (h *Handler) RegenerateBackupCodes(c *gin.Context) {
	var req passwordRequest
	if !bindJSON(c, &req) {
		return
	}

	codes, err := h.engine.RegenerateBackupCodes(c.Request.Context(), principal(c).UserID, req.Password)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"backupCodes": codes})
}

func qrDataURL(payload string) (string, error) {
	png, err := qrcode.Encode(payload, qrcode.Medium, qrCodeSize)
	if err != nil {
		return "", fmt.Errorf("render qr code: %w", err)
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png), nil
}
