package httpapi

import (
	"time"

	"github.com/sitebook/authcore"
)

// userResponse is the public user view. The password hash and the TOTP
// secret never leave the engine.
type userResponse struct {
	ID               string    `json:"id"`
	Email            string    `json:"email"`
	Name             string    `json:"name"`
	Role             string    `json:"role"`
	CompanyID        string    `json:"companyId,omitempty"`
	PhoneNumber      string    `json:"phoneNumber,omitempty"`
	UnionMember      bool      `json:"unionMember"`
	TwoFactorEnabled bool      `json:"twoFactorEnabled"`
	CreatedAt        time.Time `json:"createdAt"`
}

func newUserResponse(u *authcore.User) userResponse {
	return userResponse{
		ID:               u.ID,
		Email:            u.Email,
		Name:             u.Name,
		Role:             u.Role,
		CompanyID:        u.CompanyID,
		PhoneNumber:      u.PhoneNumber,
		UnionMember:      u.UnionMember,
		TwoFactorEnabled: u.TwoFactorEnabled,
		CreatedAt:        u.CreatedAt,
	}
}

type sessionResponse struct {
	ID        string    `json:"id"`
	IPAddress string    `json:"ipAddress"`
	UserAgent string    `json:"userAgent"`
	IssuedAt  time.Time `json:"issuedAt"`
	ExpiresAt time.Time `json:"expiresAt"`
	Current   bool      `json:"current"`
}

type authResponse struct {
	User        userResponse `json:"user"`
	AccessToken string       `json:"accessToken"`
}

type registerRequest struct {
	Email       string `json:"email" binding:"required"`
	Password    string `json:"password" binding:"required"`
	Name        string `json:"name" binding:"required"`
	Role        string `json:"role"`
	CompanyID   string `json:"companyId"`
	UnionMember bool   `json:"unionMember"`
	PhoneNumber string `json:"phoneNumber"`
}

type loginRequest struct {
	Email         string `json:"email" binding:"required"`
	Password      string `json:"password" binding:"required"`
	TwoFactorCode string `json:"twoFactorCode"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword" binding:"required"`
	NewPassword     string `json:"newPassword" binding:"required"`
}

type passwordRequest struct {
	Password string `json:"password" binding:"required"`
}

type codeRequest struct {
	Token string `json:"token" binding:"required"`
}
