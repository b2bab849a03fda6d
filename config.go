package authcore

import (
	"errors"
	"strings"
	"time"

	"github.com/sitebook/authcore/jwt"
	"github.com/sitebook/authcore/password"
)

// Config is the engine configuration. Build it with DefaultConfig and
// override the fields that differ.
type Config struct {
	Token     TokenConfig
	Session   SessionConfig
	Password  PasswordConfig
	TwoFactor TwoFactorConfig
	Security  SecurityConfig
	Audit     AuditConfig
	Metrics   MetricsConfig
}

/*
====================================
TOKEN CONFIG
====================================
*/

// TokenConfig controls access-token signing.
type TokenConfig struct {
	AccessTTL     time.Duration
	SigningMethod jwt.SigningMethod
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
	Leeway        time.Duration
	KeyID         string
	VerifyKeys    map[string][]byte
}

/*
====================================
SESSION CONFIG
====================================
*/

// SessionConfig controls refresh-token lifetime and store retention.
//
// Retention is how long rows are kept after they expire so that replays of
// old tokens can still be recognized. ReuseGrace is how long after a
// rotation the rotated token may be presented again without counting as
// replay. It only applies when the replaying request carries the same IP
// and user agent as the successor's rotation and the successor is still
// Active. Zero disables it.
type SessionConfig struct {
	RefreshTTL  time.Duration
	RedisPrefix string
	Retention   time.Duration
	ReuseGrace  time.Duration
}

/*
====================================
PASSWORD CONFIG
====================================
*/

// PasswordConfig holds argon2id parameters and length bounds.
type PasswordConfig struct {
	Memory         uint32
	Time           uint32
	Parallelism    uint8
	SaltLength     uint32
	KeyLength      uint32
	MinLength      int
	MaxLength      int
	UpgradeOnLogin bool
}

/*
====================================
TWO-FACTOR CONFIG
====================================
*/

// TwoFactorConfig controls TOTP parameters and backup codes.
type TwoFactorConfig struct {
	Issuer           string
	Digits           int
	Period           int
	Algorithm        string
	Skew             int
	BackupCodeCount  int
	BackupCodeLength int
}

/*
====================================
SECURITY CONFIG
====================================
*/

// SecurityConfig holds production and reuse-detection switches.
type SecurityConfig struct {
	ProductionMode bool
	// EnforceRefreshReuseDetection revokes every Active token of a user when
	// a revoked or rotated refresh token is presented again.
	EnforceRefreshReuseDetection bool
}

// AuditConfig controls the asynchronous audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig controls in-process counters.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

/*
====================================
DEFAULT CONFIG
====================================
*/

// DefaultConfig returns the production defaults. Signing keys are left empty
// and must be supplied.
func DefaultConfig() Config {
	return Config{
		Token: TokenConfig{
			AccessTTL:     15 * time.Minute,
			SigningMethod: jwt.MethodHS256,
			Issuer:        "authcore",
		},
		Session: SessionConfig{
			RefreshTTL:  7 * 24 * time.Hour,
			RedisPrefix: "art",
			Retention:   30 * 24 * time.Hour,
			ReuseGrace:  0,
		},
		Password: PasswordConfig{
			Memory:         65536,
			Time:           3,
			Parallelism:    2,
			SaltLength:     16,
			KeyLength:      32,
			MinLength:      password.DefaultMinPasswordBytes,
			MaxLength:      password.DefaultMaxPasswordBytes,
			UpgradeOnLogin: true,
		},
		TwoFactor: TwoFactorConfig{
			Issuer:           "SiteBook",
			Digits:           6,
			Period:           30,
			Algorithm:        "SHA1",
			Skew:             1,
			BackupCodeCount:  10,
			BackupCodeLength: 10,
		},
		Security: SecurityConfig{
			ProductionMode:               false,
			EnforceRefreshReuseDetection: true,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 true,
			EnableLatencyHistograms: false,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.Token.PrivateKey = cloneBytes(cfg.Token.PrivateKey)
	out.Token.PublicKey = cloneBytes(cfg.Token.PublicKey)
	if cfg.Token.VerifyKeys != nil {
		out.Token.VerifyKeys = make(map[string][]byte, len(cfg.Token.VerifyKeys))
		for kid, key := range cfg.Token.VerifyKeys {
			out.Token.VerifyKeys[kid] = cloneBytes(key)
		}
	}
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c.Token.AccessTTL <= 0 {
		return errors.New("access token TTL must be > 0")
	}
	if c.Token.AccessTTL > time.Hour {
		return errors.New("access token TTL must be <= 1h")
	}
	if c.Token.SigningMethod == jwt.MethodHS256 && len(c.Token.PrivateKey) < 32 {
		return errors.New("hs256 signing requires a secret of at least 32 bytes")
	}
	if c.Token.SigningMethod == jwt.MethodEd25519 && len(c.Token.PublicKey) == 0 && len(c.Token.VerifyKeys) == 0 {
		return errors.New("ed25519 signing requires a public key")
	}

	if c.Session.RefreshTTL <= 0 {
		return errors.New("refresh token TTL must be > 0")
	}
	if c.Session.RefreshTTL < c.Token.AccessTTL {
		return errors.New("refresh token TTL must be >= access token TTL")
	}
	if c.Session.Retention < 0 {
		return errors.New("session retention must be >= 0")
	}
	if c.Session.ReuseGrace < 0 || c.Session.ReuseGrace > 5*time.Second {
		return errors.New("session reuse grace must be between 0 and 5s")
	}

	if c.Password.MinLength < 1 {
		return errors.New("password min length must be >= 1")
	}
	if c.Password.MaxLength < c.Password.MinLength {
		return errors.New("password max length must be >= min length")
	}

	if strings.TrimSpace(c.TwoFactor.Issuer) == "" {
		return errors.New("two-factor issuer must not be empty")
	}
	if c.TwoFactor.Digits < 6 || c.TwoFactor.Digits > 8 {
		return errors.New("two-factor digits must be between 6 and 8")
	}
	if c.TwoFactor.Period <= 0 {
		return errors.New("two-factor period must be > 0")
	}
	if c.TwoFactor.Skew < 0 || c.TwoFactor.Skew > 3 {
		return errors.New("two-factor skew must be between 0 and 3")
	}
	switch strings.ToUpper(c.TwoFactor.Algorithm) {
	case "SHA1", "SHA256", "SHA512":
	default:
		return errors.New("two-factor algorithm must be SHA1, SHA256 or SHA512")
	}
	if c.TwoFactor.BackupCodeCount < 1 || c.TwoFactor.BackupCodeCount > 32 {
		return errors.New("backup code count must be between 1 and 32")
	}
	if c.TwoFactor.BackupCodeLength < 8 || c.TwoFactor.BackupCodeLength > 32 {
		return errors.New("backup code length must be between 8 and 32")
	}

	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("audit buffer size must be > 0 when audit is enabled")
	}

	return nil
}
