package authcore

import (
	"context"
	"errors"

	"go.uber.org/zap"
)

const (
	auditEventLoginSuccess           = "login_success"
	auditEventLoginFailure           = "login_failure"
	auditEventRegister               = "register"
	auditEventRefreshSuccess         = "refresh_success"
	auditEventRefreshInvalid         = "refresh_invalid"
	auditEventRefreshReuseDetected   = "refresh_reuse_detected"
	auditEventLogout                 = "logout"
	auditEventSessionRevoked         = "session_revoked"
	auditEventSessionsRevokedOthers  = "sessions_revoked_others"
	auditEventPasswordChanged        = "password_changed"
	auditEventTwoFactorSetupStarted  = "2fa_setup_started"
	auditEventTwoFactorEnabled       = "2fa_enabled"
	auditEventTwoFactorDisabled      = "2fa_disabled"
	auditEventBackupCodesRegenerated = "2fa_backup_codes_regenerated"
	auditEventTwoFactorVerifyFailure = "2fa_verify_failure"
	auditEventBackupCodeUsed         = "backup_code_used"
)

// AuditErrorCode is the stable error label recorded on failed audit
// events. It never contains user input.
type AuditErrorCode string

const (
	auditErrInvalidCredentials AuditErrorCode = "invalid_credentials"
	auditErrInvalidToken       AuditErrorCode = "invalid_token"
	auditErrAlreadyEnrolled    AuditErrorCode = "already_enrolled"
	auditErrNotEnrolled        AuditErrorCode = "not_enrolled"
	auditErrInvalidCode        AuditErrorCode = "invalid_code"
	auditErrTwoFactorRequired  AuditErrorCode = "two_factor_required"
	auditErrConflict           AuditErrorCode = "conflict"
	auditErrNotFound           AuditErrorCode = "not_found"
	auditErrUnavailable        AuditErrorCode = "backend_unavailable"
	auditErrInvalidInput       AuditErrorCode = "invalid_input"
	auditErrInternal           AuditErrorCode = "internal_error"
)

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	userID string,
	sessionID string,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := AuditEvent{
		Timestamp: e.now().UTC(),
		EventType: eventType,
		UserID:    userID,
		SessionID: sessionID,
		IP:        clientIPFromContext(ctx),
		UserAgent: userAgentFromContext(ctx),
		RequestID: requestIDFromContext(ctx),
		Success:   success,
		Metadata:  metadata,
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	e.audit.Emit(ctx, event)
}

// securityWarn logs a security-relevant failure with the caller's network
// identity. Bodies returned to clients stay generic; detail goes here.
func (e *Engine) securityWarn(ctx context.Context, msg, userID string, err error, fields ...zap.Field) {
	if e == nil || e.logger == nil {
		return
	}
	base := []zap.Field{
		zap.String("ip", clientIPFromContext(ctx)),
		zap.String("user_agent", userAgentFromContext(ctx)),
		zap.String("user_id", userID),
	}
	if rid := requestIDFromContext(ctx); rid != "" {
		base = append(base, zap.String("request_id", rid))
	}
	if err != nil {
		base = append(base, zap.Error(err))
	}
	e.logger.Warn(msg, append(base, fields...)...)
}

// storageError logs and counts a persistence failure.
func (e *Engine) storageError(ctx context.Context, op, userID string, err error) {
	e.metricInc(MetricStorageFailure)
	if e == nil || e.logger == nil {
		return
	}
	fields := []zap.Field{
		zap.String("op", op),
		zap.String("user_id", userID),
		zap.Error(err),
	}
	if rid := requestIDFromContext(ctx); rid != "" {
		fields = append(fields, zap.String("request_id", rid))
	}
	e.logger.Error("storage failure", fields...)
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrInvalidCredentials):
		return auditErrInvalidCredentials
	case errors.Is(err, ErrInvalidToken):
		return auditErrInvalidToken
	case errors.Is(err, ErrAlreadyEnrolled):
		return auditErrAlreadyEnrolled
	case errors.Is(err, ErrNotEnrolled):
		return auditErrNotEnrolled
	case errors.Is(err, ErrInvalidCode):
		return auditErrInvalidCode
	case errors.Is(err, ErrTwoFactorRequired):
		return auditErrTwoFactorRequired
	case errors.Is(err, ErrConflict):
		return auditErrConflict
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrUserNotFound):
		return auditErrNotFound
	case errors.Is(err, ErrStorageUnavailable):
		return auditErrUnavailable
	case errors.Is(err, ErrInvalidInput):
		return auditErrInvalidInput
	default:
		return auditErrInternal
	}
}
