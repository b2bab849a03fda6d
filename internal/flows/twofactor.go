package flows

import (
	"context"
	"time"
)

// Step-up methods reported by RunVerifyStepUp.
const (
	StepUpTOTP       = "totp"
	StepUpBackupCode = "backup_code"
)

// TwoFactorUser is the part of a user the two-factor flows read.
// Secret is base32 and is set while pending and while enabled.
type TwoFactorUser struct {
	ID           string
	Email        string
	PasswordHash string
	Secret       string
	Enabled      bool
	LastCounter  int64
}

// TwoFactorState mirrors the public status view.
type TwoFactorState struct {
	Enabled              bool
	Pending              bool
	BackupCodesRemaining int
}

type TwoFactorMetrics struct {
	Setup                 int
	Enabled               int
	Disabled              int
	Failure               int
	BackupCodeUsed        int
	BackupCodeRegenerated int
}

type TwoFactorEvents struct {
	SetupStarted           string
	Enabled                string
	Disabled               string
	VerifyFailure          string
	BackupCodeUsed         string
	BackupCodesRegenerated string
}

type TwoFactorErrors struct {
	InvalidCredentials error
	AlreadyEnrolled    error
	NotEnrolled        error
	InvalidCode        error
	Unavailable        error
}

type TwoFactorDeps struct {
	Digits           int
	BackupCodeCount  int
	BackupCodeLength int

	Now func() time.Time

	// GetUser returns already-mapped errors.
	GetUser       func(ctx context.Context, id string) (TwoFactorUser, error)
	CheckPassword func(ctx context.Context, user TwoFactorUser, password string) error

	GenerateSecret func() (string, error)
	ProvisionURI   func(secret, account string) string
	DecodeSecret   func(secret string) ([]byte, error)
	VerifyCode     func(secret []byte, code string, now time.Time) (bool, int64, error)

	SetPending         func(ctx context.Context, id, secret string) error
	Enable             func(ctx context.Context, id, secret string, counter int64, codes [][32]byte) (bool, error)
	Disable            func(ctx context.Context, id string) error
	AdvanceCounter     func(ctx context.Context, id string, counter int64) (bool, error)
	ReplaceBackupCodes func(ctx context.Context, id string, codes [][32]byte) error
	ConsumeBackupCode  func(ctx context.Context, id string, hash [32]byte) (bool, error)
	CountBackupCodes   func(ctx context.Context, id string) (int, error)

	RandomIndex func(int) (int, error)

	MetricInc func(int)
	EmitAudit AuditFunc

	Metrics TwoFactorMetrics
	Events  TwoFactorEvents
	Errors  TwoFactorErrors
}

// RunBeginEnrollment re-verifies the password and stores a new pending
// secret, replacing any earlier pending one. It returns the secret and the
// otpauth URI.
func RunBeginEnrollment(ctx context.Context, userID, password string, deps TwoFactorDeps) (string, string, error) {
	normalizeTwoFactorDeps(&deps)

	user, err := deps.GetUser(ctx, userID)
	if err != nil {
		return "", "", err
	}
	if err := deps.CheckPassword(ctx, user, password); err != nil {
		return "", "", err
	}
	if user.Enabled {
		return "", "", deps.Errors.AlreadyEnrolled
	}

	secret, err := deps.GenerateSecret()
	if err != nil {
		return "", "", unavailable(deps.Errors.Unavailable, err)
	}
	if err := deps.SetPending(ctx, user.ID, secret); err != nil {
		return "", "", err
	}

	deps.MetricInc(deps.Metrics.Setup)
	deps.EmitAudit(ctx, deps.Events.SetupStarted, true, user.ID, "", nil, nil)
	return secret, deps.ProvisionURI(secret, user.Email), nil
}

// RunConfirmEnrollment checks code against the pending secret and, on
// success, enables two-factor together with a fresh backup code set. The
// plaintext codes are returned once.
func RunConfirmEnrollment(ctx context.Context, userID, code string, deps TwoFactorDeps) ([]string, error) {
	normalizeTwoFactorDeps(&deps)

	user, err := deps.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user.Enabled {
		return nil, deps.Errors.AlreadyEnrolled
	}
	if user.Secret == "" {
		return nil, deps.Errors.NotEnrolled
	}

	counter, ok, err := checkTOTP(user.Secret, code, deps)
	if err != nil {
		return nil, err
	}
	if !ok {
		deps.MetricInc(deps.Metrics.Failure)
		deps.EmitAudit(ctx, deps.Events.VerifyFailure, false, user.ID, "", deps.Errors.InvalidCode, func() map[string]string {
			return map[string]string{"stage": "enrollment"}
		})
		return nil, deps.Errors.InvalidCode
	}

	plain, hashes, err := generateBackupCodeSet(user.ID, deps)
	if err != nil {
		return nil, err
	}

	enabled, err := deps.Enable(ctx, user.ID, user.Secret, counter, hashes)
	if err != nil {
		return nil, err
	}
	if !enabled {
		// Another request enabled two-factor or replaced the pending secret.
		latest, err := deps.GetUser(ctx, user.ID)
		if err != nil {
			return nil, err
		}
		if latest.Enabled {
			return nil, deps.Errors.AlreadyEnrolled
		}
		return nil, deps.Errors.InvalidCode
	}

	deps.MetricInc(deps.Metrics.Enabled)
	deps.EmitAudit(ctx, deps.Events.Enabled, true, user.ID, "", nil, nil)
	return plain, nil
}

// RunDisableTwoFactor re-verifies the password and clears the secret, the
// backup codes and the enabled flag. A pending enrollment is cleared too.
func RunDisableTwoFactor(ctx context.Context, userID, password string, deps TwoFactorDeps) error {
	normalizeTwoFactorDeps(&deps)

	user, err := deps.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	if err := deps.CheckPassword(ctx, user, password); err != nil {
		return err
	}
	if !user.Enabled && user.Secret == "" {
		return deps.Errors.NotEnrolled
	}
	if err := deps.Disable(ctx, user.ID); err != nil {
		return err
	}

	deps.MetricInc(deps.Metrics.Disabled)
	deps.EmitAudit(ctx, deps.Events.Disabled, true, user.ID, "", nil, nil)
	return nil
}

// RunTwoFactorStatus reports enrollment state and remaining backup codes.
func RunTwoFactorStatus(ctx context.Context, userID string, deps TwoFactorDeps) (TwoFactorState, error) {
	normalizeTwoFactorDeps(&deps)

	user, err := deps.GetUser(ctx, userID)
	if err != nil {
		return TwoFactorState{}, err
	}
	state := TwoFactorState{
		Enabled: user.Enabled,
		Pending: !user.Enabled && user.Secret != "",
	}
	if !user.Enabled {
		return state, nil
	}
	remaining, err := deps.CountBackupCodes(ctx, user.ID)
	if err != nil {
		return TwoFactorState{}, err
	}
	state.BackupCodesRemaining = remaining
	return state, nil
}

// RunVerifyStepUp accepts a TOTP code or a backup code from an enrolled
// user. A TOTP code is accepted at most once per time step; a backup code
// is consumed. It returns which method matched.
func RunVerifyStepUp(ctx context.Context, user TwoFactorUser, code string, deps TwoFactorDeps) (string, error) {
	normalizeTwoFactorDeps(&deps)

	if !user.Enabled || user.Secret == "" {
		return "", deps.Errors.NotEnrolled
	}

	trimmed := CanonicalizeBackupCode(code)
	if len(trimmed) == deps.Digits && isDigits(trimmed) {
		counter, ok, err := checkTOTP(user.Secret, trimmed, deps)
		if err != nil {
			return "", err
		}
		if ok {
			advanced, err := deps.AdvanceCounter(ctx, user.ID, counter)
			if err != nil {
				return "", err
			}
			if advanced {
				return StepUpTOTP, nil
			}
		}
		deps.MetricInc(deps.Metrics.Failure)
		deps.EmitAudit(ctx, deps.Events.VerifyFailure, false, user.ID, "", deps.Errors.InvalidCode, func() map[string]string {
			return map[string]string{"method": StepUpTOTP}
		})
		return "", deps.Errors.InvalidCode
	}

	if err := runConsumeBackupCode(ctx, user.ID, trimmed, deps); err != nil {
		return "", err
	}
	return StepUpBackupCode, nil
}

func checkTOTP(secret, code string, deps TwoFactorDeps) (int64, bool, error) {
	raw, err := deps.DecodeSecret(secret)
	if err != nil {
		return 0, false, unavailable(deps.Errors.Unavailable, err)
	}
	ok, counter, err := deps.VerifyCode(raw, code, deps.Now())
	if err != nil {
		return 0, false, unavailable(deps.Errors.Unavailable, err)
	}
	return counter, ok, nil
}

func isDigits(v string) bool {
	if v == "" {
		return false
	}
	for i := 0; i < len(v); i++ {
		if v[i] < '0' || v[i] > '9' {
			return false
		}
	}
	return true
}

func normalizeTwoFactorDeps(deps *TwoFactorDeps) {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Digits == 0 {
		deps.Digits = 6
	}
	if deps.BackupCodeCount == 0 {
		deps.BackupCodeCount = 10
	}
	if deps.BackupCodeLength == 0 {
		deps.BackupCodeLength = 10
	}
	if deps.MetricInc == nil {
		deps.MetricInc = noopMetric
	}
	if deps.EmitAudit == nil {
		deps.EmitAudit = noopAudit
	}
	if deps.RandomIndex == nil {
		deps.RandomIndex = cryptoRandomIndex
	}
}
