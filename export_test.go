package authcore

import "time"

// SetClock replaces the engine clock used for session and TOTP time.
func SetClock(e *Engine, now func() time.Time) {
	e.now = now
}

// TOTPCodeAt returns the code for secret at the given time.
func TOTPCodeAt(cfg TwoFactorConfig, secret string, at time.Time) (string, error) {
	raw, err := decodeTOTPSecret(secret)
	if err != nil {
		return "", err
	}
	return hotpCode(raw, at.Unix()/int64(cfg.Period), cfg.Digits, cfg.Algorithm)
}
