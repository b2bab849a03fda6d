package authcore

import (
	"strings"
	"testing"
	"time"

	"github.com/sitebook/authcore/jwt"
)

func validTestConfig() Config {
	cfg := DefaultConfig()
	cfg.Token.PrivateKey = []byte(strings.Repeat("k", 32))
	return cfg
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Config)
		wantValid bool
	}{
		{name: "defaults with secret", mutate: func(*Config) {}, wantValid: true},
		{
			name:      "short hs256 secret",
			mutate:    func(c *Config) { c.Token.PrivateKey = []byte("short") },
			wantValid: false,
		},
		{
			name:      "access ttl above one hour",
			mutate:    func(c *Config) { c.Token.AccessTTL = 2 * time.Hour },
			wantValid: false,
		},
		{
			name:      "refresh ttl below access ttl",
			mutate:    func(c *Config) { c.Session.RefreshTTL = time.Minute },
			wantValid: false,
		},
		{
			name:      "reuse grace enabled",
			mutate:    func(c *Config) { c.Session.ReuseGrace = 2 * time.Second },
			wantValid: true,
		},
		{
			name:      "reuse grace too long",
			mutate:    func(c *Config) { c.Session.ReuseGrace = 10 * time.Second },
			wantValid: false,
		},
		{
			name:      "ed25519 without public key",
			mutate:    func(c *Config) { c.Token.SigningMethod = jwt.MethodEd25519 },
			wantValid: false,
		},
		{
			name:      "totp digits",
			mutate:    func(c *Config) { c.TwoFactor.Digits = 4 },
			wantValid: false,
		},
		{
			name:      "totp algorithm",
			mutate:    func(c *Config) { c.TwoFactor.Algorithm = "MD5" },
			wantValid: false,
		},
		{
			name:      "totp algorithm lower case",
			mutate:    func(c *Config) { c.TwoFactor.Algorithm = "sha256" },
			wantValid: true,
		},
		{
			name:      "blank issuer",
			mutate:    func(c *Config) { c.TwoFactor.Issuer = "  " },
			wantValid: false,
		},
		{
			name:      "backup code length",
			mutate:    func(c *Config) { c.TwoFactor.BackupCodeLength = 4 },
			wantValid: false,
		},
		{
			name:      "password bounds",
			mutate:    func(c *Config) { c.Password.MaxLength = 4 },
			wantValid: false,
		},
		{
			name: "audit enabled without buffer",
			mutate: func(c *Config) {
				c.Audit.Enabled = true
				c.Audit.BufferSize = 0
			},
			wantValid: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validTestConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantValid && err != nil {
				t.Fatalf("expected valid, got %v", err)
			}
			if !tt.wantValid && err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestCloneConfigCopiesKeys(t *testing.T) {
	cfg := validTestConfig()
	cfg.Token.VerifyKeys = map[string][]byte{"old": []byte(strings.Repeat("o", 32))}

	out := cloneConfig(cfg)
	cfg.Token.PrivateKey[0] = 'x'
	cfg.Token.VerifyKeys["old"][0] = 'x'

	if out.Token.PrivateKey[0] != 'k' {
		t.Fatal("private key shares backing array")
	}
	if out.Token.VerifyKeys["old"][0] != 'o' {
		t.Fatal("verify keys share backing array")
	}
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("JWT_SECRET", strings.Repeat("e", 40))
	t.Setenv("ACCESS_TOKEN_TTL", "10m")
	t.Setenv("SESSION_REUSE_GRACE", "5s")
	t.Setenv("APP_ENV", "production")
	t.Setenv("REFRESH_REUSE_DETECTION", "false")
	t.Setenv("TOTP_ISSUER", "SiteBook Staging")
	t.Setenv("AUDIT_ENABLED", "yes")

	cfg, err := LoadConfigFromEnv()
	if err != nil {
		t.Fatalf("LoadConfigFromEnv failed: %v", err)
	}
	if cfg.Token.AccessTTL != 10*time.Minute {
		t.Fatalf("expected 10m access ttl, got %v", cfg.Token.AccessTTL)
	}
	if cfg.Session.ReuseGrace != 5*time.Second {
		t.Fatalf("expected 5s grace, got %v", cfg.Session.ReuseGrace)
	}
	if !cfg.Security.ProductionMode || cfg.Security.EnforceRefreshReuseDetection {
		t.Fatalf("unexpected security config %+v", cfg.Security)
	}
	if cfg.TwoFactor.Issuer != "SiteBook Staging" || !cfg.Audit.Enabled {
		t.Fatal("expected overrides applied")
	}
}

func TestLoadConfigFromEnvRequiresSecret(t *testing.T) {
	t.Setenv("JWT_SIGNING_METHOD", "hs256")
	t.Setenv("JWT_SECRET", "")

	if _, err := LoadConfigFromEnv(); err == nil {
		t.Fatal("expected missing secret to fail")
	}
}
