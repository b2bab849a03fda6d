package authcore

import (
	"context"
	"errors"

	internalflows "github.com/sitebook/authcore/internal/flows"
)

// BeginTwoFactorSetup re-verifies the password and issues a pending TOTP
// secret. Calling it again before confirmation replaces the secret.
func (e *Engine) BeginTwoFactorSetup(ctx context.Context, userID, password string) (*TwoFactorSetup, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	secret, uri, err := internalflows.RunBeginEnrollment(ctx, userID, password, e.flows.TwoFactor)
	if err != nil {
		return nil, err
	}
	return &TwoFactorSetup{Secret: secret, QRPayload: uri}, nil
}

// ConfirmTwoFactor enables two-factor when code matches the pending secret
// and returns the backup codes. They are not retrievable later.
func (e *Engine) ConfirmTwoFactor(ctx context.Context, userID, code string) ([]string, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	codes, err := internalflows.RunConfirmEnrollment(ctx, userID, code, e.flows.TwoFactor)
	if err != nil {
		if errors.Is(err, ErrInvalidCode) {
			e.securityWarn(ctx, "two-factor enrollment code rejected", userID, err)
		}
		return nil, err
	}
	return codes, nil
}

func (e *Engine) DisableTwoFactor(ctx context.Context, userID, password string) error {
	if e == nil {
		return ErrEngineNotReady
	}
	return internalflows.RunDisableTwoFactor(ctx, userID, password, e.flows.TwoFactor)
}

func (e *Engine) TwoFactorStatus(ctx context.Context, userID string) (*TwoFactorStatus, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	state, err := internalflows.RunTwoFactorStatus(ctx, userID, e.flows.TwoFactor)
	if err != nil {
		return nil, err
	}
	return &TwoFactorStatus{
		Enabled:              state.Enabled,
		Pending:              state.Pending,
		BackupCodesRemaining: state.BackupCodesRemaining,
	}, nil
}

// RegenerateBackupCodes replaces the whole backup code set of an enrolled
// user after re-verifying the password.
func (e *Engine) RegenerateBackupCodes(ctx context.Context, userID, password string) ([]string, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	return internalflows.RunRegenerateBackupCodes(ctx, userID, password, e.flows.TwoFactor)
}

// VerifyTwoFactor checks a TOTP or backup code for an enrolled user. A
// TOTP code is accepted at most once; a backup code is consumed.
func (e *Engine) VerifyTwoFactor(ctx context.Context, userID, code string) error {
	if e == nil {
		return ErrEngineNotReady
	}
	user, err := e.loadUser(ctx, userID)
	if err != nil {
		return err
	}
	if _, err := internalflows.RunVerifyStepUp(ctx, toTwoFactorUser(user), code, e.flows.TwoFactor); err != nil {
		if errors.Is(err, ErrInvalidCode) {
			e.securityWarn(ctx, "two-factor code rejected", userID, err)
		}
		return err
	}
	return nil
}
