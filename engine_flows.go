package authcore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sitebook/authcore/internal"
	internalflows "github.com/sitebook/authcore/internal/flows"
	"github.com/sitebook/authcore/session"
	"go.uber.org/zap"
)

func (e *Engine) buildFlowDeps() internalflows.Deps {
	now := func() time.Time { return e.now() }

	return internalflows.Deps{
		Sessions: internalflows.SessionDeps{
			RefreshTTL:      e.config.Session.RefreshTTL,
			Now:             now,
			NewID:           uuid.NewString,
			NewRefreshToken: internal.NewRefreshToken,
			ClientIP:        clientIPFromContext,
			UserAgent:       userAgentFromContext,
			Store:           e.sessions,
			Errors: internalflows.SessionErrors{
				NotFound:     ErrNotFound,
				InvalidToken: ErrInvalidToken,
				Unavailable:  ErrStorageUnavailable,
			},
		},
		Refresh: internalflows.RefreshDeps{
			RefreshTTL:       e.config.Session.RefreshTTL,
			ReuseDetection:   e.config.Security.EnforceRefreshReuseDetection,
			ReuseGrace:       e.config.Session.ReuseGrace,
			Now:              now,
			NewID:            uuid.NewString,
			NewRefreshToken:  internal.NewRefreshToken,
			HashRefreshToken: internal.HashRefreshToken,
			ClientIP:         clientIPFromContext,
			UserAgent:        userAgentFromContext,
			Store:            e.sessions,
		},
		Credentials: internalflows.CredentialDeps{
			UpgradeOnLogin: e.config.Password.UpgradeOnLogin,
			DummyHash:      e.dummyHash,
			Verify:         e.passwords.Verify,
			NeedsUpgrade:   e.passwords.NeedsUpgrade,
			Hash:           e.passwords.Hash,
			UpdateHash:     e.users.UpdatePasswordHash,
			Warn: func(msg, userID string, err error) {
				e.logger.Warn(msg, zap.String("user_id", userID), zap.Error(err))
			},
			Errors: internalflows.CredentialErrors{
				InvalidCredentials: ErrInvalidCredentials,
				Unavailable:        ErrStorageUnavailable,
			},
		},
		TwoFactor: internalflows.TwoFactorDeps{
			Digits:           e.config.TwoFactor.Digits,
			BackupCodeCount:  e.config.TwoFactor.BackupCodeCount,
			BackupCodeLength: e.config.TwoFactor.BackupCodeLength,
			Now:              now,

			GetUser:       e.twoFactorUser,
			CheckPassword: e.checkTwoFactorPassword,

			GenerateSecret: e.totp.GenerateSecret,
			ProvisionURI:   e.totp.ProvisionURI,
			DecodeSecret:   decodeTOTPSecret,
			VerifyCode:     e.totp.VerifyCode,

			SetPending: func(ctx context.Context, id, secret string) error {
				return e.userStoreError(ctx, "set_pending_2fa", id, e.users.SetPendingTwoFactor(ctx, id, secret))
			},
			Enable: func(ctx context.Context, id, secret string, counter int64, codes [][32]byte) (bool, error) {
				ok, err := e.users.EnableTwoFactor(ctx, id, secret, counter, codes)
				return ok, e.userStoreError(ctx, "enable_2fa", id, err)
			},
			Disable: func(ctx context.Context, id string) error {
				return e.userStoreError(ctx, "disable_2fa", id, e.users.DisableTwoFactor(ctx, id))
			},
			AdvanceCounter: func(ctx context.Context, id string, counter int64) (bool, error) {
				ok, err := e.users.AdvanceTOTPCounter(ctx, id, counter)
				return ok, e.userStoreError(ctx, "advance_totp_counter", id, err)
			},
			ReplaceBackupCodes: func(ctx context.Context, id string, codes [][32]byte) error {
				return e.userStoreError(ctx, "replace_backup_codes", id, e.users.ReplaceBackupCodes(ctx, id, codes))
			},
			ConsumeBackupCode: func(ctx context.Context, id string, hash [32]byte) (bool, error) {
				ok, err := e.users.ConsumeBackupCode(ctx, id, hash)
				return ok, e.userStoreError(ctx, "consume_backup_code", id, err)
			},
			CountBackupCodes: func(ctx context.Context, id string) (int, error) {
				n, err := e.users.CountBackupCodes(ctx, id)
				return n, e.userStoreError(ctx, "count_backup_codes", id, err)
			},

			MetricInc: func(id int) { e.metricInc(MetricID(id)) },
			EmitAudit: e.emitAudit,

			Metrics: internalflows.TwoFactorMetrics{
				Setup:                 int(MetricTwoFactorSetup),
				Enabled:               int(MetricTwoFactorEnabled),
				Disabled:              int(MetricTwoFactorDisabled),
				Failure:               int(MetricTwoFactorFailure),
				BackupCodeUsed:        int(MetricBackupCodeUsed),
				BackupCodeRegenerated: int(MetricBackupCodeRegenerated),
			},
			Events: internalflows.TwoFactorEvents{
				SetupStarted:           auditEventTwoFactorSetupStarted,
				Enabled:                auditEventTwoFactorEnabled,
				Disabled:               auditEventTwoFactorDisabled,
				VerifyFailure:          auditEventTwoFactorVerifyFailure,
				BackupCodeUsed:         auditEventBackupCodeUsed,
				BackupCodesRegenerated: auditEventBackupCodesRegenerated,
			},
			Errors: internalflows.TwoFactorErrors{
				InvalidCredentials: ErrInvalidCredentials,
				AlreadyEnrolled:    ErrAlreadyEnrolled,
				NotEnrolled:        ErrNotEnrolled,
				InvalidCode:        ErrInvalidCode,
				Unavailable:        ErrStorageUnavailable,
			},
		},
	}
}

// loadUser fetches a user by id. A missing user of an authenticated
// request means the token outlived its account, so it maps to
// ErrInvalidToken.
func (e *Engine) loadUser(ctx context.Context, id string) (*User, error) {
	user, err := e.users.GetUserByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, e.userStoreError(ctx, "get_user", id, err)
	}
	return user, nil
}

func (e *Engine) twoFactorUser(ctx context.Context, id string) (internalflows.TwoFactorUser, error) {
	user, err := e.loadUser(ctx, id)
	if err != nil {
		return internalflows.TwoFactorUser{}, err
	}
	return toTwoFactorUser(user), nil
}

func (e *Engine) checkTwoFactorPassword(ctx context.Context, user internalflows.TwoFactorUser, password string) error {
	_, err := internalflows.RunCheckPassword(ctx, internalflows.PasswordCheck{
		Found:        true,
		UserID:       user.ID,
		PasswordHash: user.PasswordHash,
	}, password, e.flows.Credentials)
	if err != nil {
		e.securityWarn(ctx, "password re-verification failed", user.ID, err)
	}
	return err
}

func toTwoFactorUser(u *User) internalflows.TwoFactorUser {
	return internalflows.TwoFactorUser{
		ID:           u.ID,
		Email:        u.Email,
		PasswordHash: u.PasswordHash,
		Secret:       u.TwoFactorSecret,
		Enabled:      u.TwoFactorEnabled,
		LastCounter:  u.TOTPLastCounter,
	}
}

// userStoreError passes engine sentinels through and wraps everything else
// as ErrStorageUnavailable after logging it.
func (e *Engine) userStoreError(ctx context.Context, op, userID string, err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, ErrUserNotFound), errors.Is(err, ErrConflict),
		errors.Is(err, ErrAlreadyEnrolled), errors.Is(err, ErrNotEnrolled),
		errors.Is(err, ErrStorageUnavailable):
		return err
	}
	e.storageError(ctx, op, userID, err)
	return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
}

// sessionStoreError logs and counts a flow error that wraps a session
// store failure.
func (e *Engine) sessionStoreError(ctx context.Context, op, userID string, err error) error {
	if err != nil && errors.Is(err, ErrStorageUnavailable) {
		e.storageError(ctx, op, userID, err)
	}
	return err
}

func sessionInfoFrom(row *session.RefreshToken, currentFamily string) SessionInfo {
	return SessionInfo{
		ID:        row.ID,
		FamilyID:  row.FamilyID,
		IPAddress: row.IPAddress,
		UserAgent: row.UserAgent,
		IssuedAt:  row.IssuedAt,
		ExpiresAt: row.ExpiresAt,
		Current:   currentFamily != "" && row.FamilyID == currentFamily,
	}
}
