// Package httpapi exposes the authcore engine over HTTP with gin.
//
// Routes:
//
//	POST   /auth/register             {email, password, name, role?, companyId?, unionMember?, phoneNumber?}
//	POST   /auth/login                {email, password, twoFactorCode?}
//	POST   /auth/refresh              refresh cookie
//	POST   /auth/logout               access token
//	GET    /auth/sessions             access token
//	DELETE /auth/sessions/:id         access token
//	POST   /auth/revoke-all-sessions  access token and refresh cookie
//	POST   /auth/change-password      access token, {currentPassword, newPassword}
//	POST   /2fa/setup                 access token, {password}
//	POST   /2fa/verify                access token, {token}
//	GET    /2fa/status                access token
//	POST   /2fa/disable               access token, {password}
//	POST   /2fa/backup-codes          access token, {password}
//	GET    /healthz
//	GET    /metrics
//
// The refresh token only ever travels in the refreshToken cookie. Error
// bodies are {"error": "..."} with generic messages; the detail goes to
// the log.
package httpapi
