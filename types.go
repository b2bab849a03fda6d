package authcore

import (
	"context"
	"time"
)

// User is the credential record the engine authenticates against.
//
// TwoFactorSecret is the base32 TOTP secret. It is set while enrollment is
// pending (TwoFactorEnabled false) and while enrolled. TOTPLastCounter is the
// last accepted TOTP time step, -1 when none has been accepted.
type User struct {
	ID               string
	Email            string
	PasswordHash     string
	Name             string
	Role             string
	CompanyID        string
	PhoneNumber      string
	UnionMember      bool
	TwoFactorEnabled bool
	TwoFactorSecret  string
	TOTPLastCounter  int64
	CreatedAt        time.Time
}

// TwoFactorPending reports whether a secret was issued but not confirmed.
func (u *User) TwoFactorPending() bool {
	return u != nil && !u.TwoFactorEnabled && u.TwoFactorSecret != ""
}

// UserStore is the persistence port for users, their two-factor state and
// their hashed backup codes.
//
// Implementations return ErrUserNotFound for missing users and ErrConflict
// when CreateUser hits an existing email. The compare-and-set methods report
// through their bool result whether the row changed.
type UserStore interface {
	CreateUser(ctx context.Context, u *User) error
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	GetUserByID(ctx context.Context, id string) (*User, error)
	UpdatePasswordHash(ctx context.Context, id, hash string) error

	// SetPendingTwoFactor stores secret as the pending secret of a user that
	// is not enabled, replacing any earlier pending secret.
	SetPendingTwoFactor(ctx context.Context, id, secret string) error
	// EnableTwoFactor enables two-factor only if the stored secret still
	// equals secret and the user is not yet enabled. The accepted counter and
	// the backup code set are written in the same step.
	EnableTwoFactor(ctx context.Context, id, secret string, counter int64, codes [][32]byte) (bool, error)
	// DisableTwoFactor clears the flag, the secret, the counter and every
	// backup code.
	DisableTwoFactor(ctx context.Context, id string) error
	// AdvanceTOTPCounter stores counter only if it is greater than the last
	// accepted counter.
	AdvanceTOTPCounter(ctx context.Context, id string, counter int64) (bool, error)
	// ReplaceBackupCodes swaps the whole code set in one step. It returns
	// ErrNotEnrolled when two-factor is not enabled at the time of the swap.
	ReplaceBackupCodes(ctx context.Context, id string, codes [][32]byte) error
	// ConsumeBackupCode marks an unused code as used.
	ConsumeBackupCode(ctx context.Context, id string, hash [32]byte) (bool, error)
	CountBackupCodes(ctx context.Context, id string) (int, error)
}

// RegisterInput is the registration request.
type RegisterInput struct {
	Email       string
	Password    string
	Name        string
	Role        string
	CompanyID   string
	PhoneNumber string
	UnionMember bool
}

// LoginInput is the login request. TwoFactorCode is a TOTP code or a backup
// code and is required only for enrolled users.
type LoginInput struct {
	Email         string
	Password      string
	TwoFactorCode string
}

// AuthResult is returned by Register, Login, Refresh and ChangePassword.
// RefreshToken is the opaque plaintext token; it is not stored anywhere.
type AuthResult struct {
	User             *User
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
	SessionID        string
}

// AccessPrincipal is the identity carried by a validated access token.
type AccessPrincipal struct {
	UserID    string
	Email     string
	Role      string
	CompanyID string
	ExpiresAt time.Time
}

// SessionInfo describes one Active refresh token of a user.
type SessionInfo struct {
	ID        string
	FamilyID  string
	IPAddress string
	UserAgent string
	IssuedAt  time.Time
	ExpiresAt time.Time
	Current   bool
}

// TwoFactorSetup is returned when enrollment begins. QRPayload is the
// otpauth URI the authenticator app scans.
type TwoFactorSetup struct {
	Secret    string
	QRPayload string
}

// TwoFactorStatus is the enrollment state of a user.
type TwoFactorStatus struct {
	Enabled              bool
	Pending              bool
	BackupCodesRemaining int
}
