package flows

import (
	"context"
	"strings"
)

// PasswordCheck is the stored side of a credential check. Found is false
// when no user matched; the check still spends one hash comparison.
type PasswordCheck struct {
	Found        bool
	UserID       string
	PasswordHash string
}

type CredentialErrors struct {
	InvalidCredentials error
	Unavailable        error
}

type CredentialDeps struct {
	UpgradeOnLogin bool
	// DummyHash is compared against when the user does not exist so that
	// both outcomes cost the same.
	DummyHash string

	Verify       func(password, encodedHash string) (bool, error)
	NeedsUpgrade func(encodedHash string) (bool, error)
	Hash         func(password string) (string, error)
	UpdateHash   func(ctx context.Context, userID, hash string) error
	Warn         func(msg string, userID string, err error)

	Errors CredentialErrors
}

// NormalizeEmail lower-cases and trims an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// RunCheckPassword verifies password against check. Unknown user, wrong
// password and an unreadable stored hash all return the same
// InvalidCredentials error. On success an outdated hash is upgraded
// best-effort; the returned bool reports whether that happened.
func RunCheckPassword(ctx context.Context, check PasswordCheck, password string, deps CredentialDeps) (bool, error) {
	if !check.Found {
		if deps.DummyHash != "" {
			_, _ = deps.Verify(password, deps.DummyHash)
		}
		return false, deps.Errors.InvalidCredentials
	}

	ok, err := deps.Verify(password, check.PasswordHash)
	if err != nil || !ok {
		if err != nil && deps.Warn != nil {
			deps.Warn("password verification failed", check.UserID, err)
		}
		return false, deps.Errors.InvalidCredentials
	}

	if !deps.UpgradeOnLogin || deps.NeedsUpgrade == nil || deps.UpdateHash == nil {
		return false, nil
	}
	stale, err := deps.NeedsUpgrade(check.PasswordHash)
	if err != nil || !stale {
		return false, nil
	}
	upgraded, err := deps.Hash(password)
	if err != nil {
		if deps.Warn != nil {
			deps.Warn("password rehash failed", check.UserID, err)
		}
		return false, nil
	}
	if err := deps.UpdateHash(ctx, check.UserID, upgraded); err != nil {
		if deps.Warn != nil {
			deps.Warn("password hash upgrade failed", check.UserID, err)
		}
		return false, nil
	}
	return true, nil
}
