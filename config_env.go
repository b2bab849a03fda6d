package authcore

import (
	"encoding/base64"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sitebook/authcore/jwt"
)

// LoadConfigFromEnv starts from DefaultConfig and applies environment
// overrides. A .env file in the working directory is loaded first when
// present; variables already set in the environment win.
//
// JWT_SECRET is used verbatim for hs256. For ed25519, JWT_PRIVATE_KEY and
// JWT_PUBLIC_KEY hold base64 (std encoding) raw keys.
func LoadConfigFromEnv() (Config, error) {
	_ = godotenv.Load()

	cfg := DefaultConfig()

	cfg.Token.SigningMethod = jwt.SigningMethod(strings.ToLower(getEnv("JWT_SIGNING_METHOD", string(cfg.Token.SigningMethod))))
	cfg.Token.AccessTTL = getDuration("ACCESS_TOKEN_TTL", cfg.Token.AccessTTL)
	cfg.Token.Issuer = getEnv("JWT_ISSUER", cfg.Token.Issuer)
	cfg.Token.Audience = getEnv("JWT_AUDIENCE", cfg.Token.Audience)
	cfg.Token.KeyID = getEnv("JWT_KEY_ID", cfg.Token.KeyID)
	cfg.Token.Leeway = getDuration("JWT_LEEWAY", cfg.Token.Leeway)

	switch cfg.Token.SigningMethod {
	case jwt.MethodHS256:
		secret := os.Getenv("JWT_SECRET")
		if secret == "" {
			return Config{}, fmt.Errorf("JWT_SECRET is required for hs256")
		}
		cfg.Token.PrivateKey = []byte(secret)
	case jwt.MethodEd25519:
		priv, err := getBase64("JWT_PRIVATE_KEY")
		if err != nil {
			return Config{}, err
		}
		pub, err := getBase64("JWT_PUBLIC_KEY")
		if err != nil {
			return Config{}, err
		}
		cfg.Token.PrivateKey = priv
		cfg.Token.PublicKey = pub
	default:
		return Config{}, fmt.Errorf("unsupported JWT_SIGNING_METHOD %q", cfg.Token.SigningMethod)
	}

	cfg.Session.RefreshTTL = getDuration("REFRESH_TOKEN_TTL", cfg.Session.RefreshTTL)
	cfg.Session.RedisPrefix = getEnv("SESSION_REDIS_PREFIX", cfg.Session.RedisPrefix)
	cfg.Session.Retention = getDuration("SESSION_RETENTION", cfg.Session.Retention)
	cfg.Session.ReuseGrace = getDuration("SESSION_REUSE_GRACE", cfg.Session.ReuseGrace)

	cfg.Password.MinLength = getInt("PASSWORD_MIN_LENGTH", cfg.Password.MinLength)
	cfg.Password.UpgradeOnLogin = getBool("PASSWORD_UPGRADE_ON_LOGIN", cfg.Password.UpgradeOnLogin)

	cfg.TwoFactor.Issuer = getEnv("TOTP_ISSUER", cfg.TwoFactor.Issuer)
	cfg.TwoFactor.BackupCodeCount = getInt("BACKUP_CODE_COUNT", cfg.TwoFactor.BackupCodeCount)

	cfg.Security.ProductionMode = strings.EqualFold(getEnv("APP_ENV", "development"), "production")
	cfg.Security.EnforceRefreshReuseDetection = getBool("REFRESH_REUSE_DETECTION", cfg.Security.EnforceRefreshReuseDetection)

	cfg.Audit.Enabled = getBool("AUDIT_ENABLED", cfg.Audit.Enabled)
	cfg.Audit.BufferSize = getInt("AUDIT_BUFFER_SIZE", cfg.Audit.BufferSize)
	cfg.Metrics.Enabled = getBool("METRICS_ENABLED", cfg.Metrics.Enabled)
	cfg.Metrics.EnableLatencyHistograms = getBool("METRICS_LATENCY_HISTOGRAMS", cfg.Metrics.EnableLatencyHistograms)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func getEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return def
}

func getDuration(key string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok {
		d, err := time.ParseDuration(v)
		if err == nil {
			return d
		}
	}
	return def
}

func getInt(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok {
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	return def
}

func getBool(key string, def bool) bool {
	if v, ok := os.LookupEnv(key); ok {
		switch strings.ToLower(v) {
		case "1", "true", "t", "yes", "y", "on":
			return true
		case "0", "false", "f", "no", "n", "off":
			return false
		}
	}
	return def
}

func getBase64(key string) ([]byte, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return nil, nil
	}
	out, err := base64.StdEncoding.DecodeString(v)
	if err != nil {
		return nil, fmt.Errorf("%s must be base64: %w", key, err)
	}
	return out, nil
}
