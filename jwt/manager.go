package jwt

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// SigningMethod selects the access-token signature algorithm.
type SigningMethod string

const (
	// MethodEd25519 signs with EdDSA over an Ed25519 key pair.
	MethodEd25519 SigningMethod = "ed25519"
	// MethodHS256 signs with HMAC-SHA256 over a shared secret.
	MethodHS256 SigningMethod = "hs256"
)

const (
	minHMACKeyBytes     = 32
	defaultMaxFutureIAT = 10 * time.Minute
)

var (
	errMissingKID = errors.New("missing kid")
	errUnknownKID = errors.New("unknown kid")
)

// Config controls signing and verification of access tokens.
//
// VerifyKeys, when set, maps key ids to verification keys so that tokens
// signed by a previous key remain valid during a rotation window.
type Config struct {
	AccessTTL     time.Duration
	SigningMethod SigningMethod
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
	Leeway        time.Duration
	MaxFutureIAT  time.Duration
	KeyID         string
	VerifyKeys    map[string][]byte
}

// Subject is the identity an access token is minted for.
type Subject struct {
	UserID    string
	Email     string
	Role      string
	CompanyID string
}

// AccessClaims is the decoded access-token payload. The user id is the
// registered "sub" claim and every token gets a random "jti".
type AccessClaims struct {
	Email     string `json:"email"`
	Role      string `json:"role,omitempty"`
	CompanyID string `json:"company_id,omitempty"`
	jwt.RegisteredClaims
}

// keyring holds the parsed keys. signKey is nil for a verify-only manager.
type keyring struct {
	method    jwt.SigningMethod
	signKey   any
	verifyKey any
	byKID     map[string]any
}

// Manager signs and verifies access tokens. It holds no mutable state.
type Manager struct {
	config Config
	keys   keyring
	parser *jwt.Parser
	now    func() time.Time
}

// NewManager validates cfg, parses its keys and returns a [Manager].
func NewManager(cfg Config) (*Manager, error) {
	if cfg.AccessTTL <= 0 {
		return nil, errors.New("access ttl must be positive")
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("leeway must be between 0 and 2m")
	}
	if cfg.MaxFutureIAT == 0 {
		cfg.MaxFutureIAT = defaultMaxFutureIAT
	}
	if cfg.MaxFutureIAT < 0 || cfg.MaxFutureIAT > 24*time.Hour {
		return nil, errors.New("max future iat must be between 0 and 24h")
	}
	cfg.KeyID = strings.TrimSpace(cfg.KeyID)

	keys, err := loadKeys(cfg)
	if err != nil {
		return nil, err
	}

	m := &Manager{config: cfg, keys: keys, now: time.Now}
	m.parser = m.newParser()
	return m, nil
}

func loadKeys(cfg Config) (keyring, error) {
	var (
		kr    keyring
		parse func([]byte) (any, error)
	)
	switch cfg.SigningMethod {
	case MethodHS256:
		if len(cfg.PrivateKey) < minHMACKeyBytes {
			return kr, fmt.Errorf("hs256 requires a secret of at least %d bytes", minHMACKeyBytes)
		}
		kr.method = jwt.SigningMethodHS256
		kr.signKey = cfg.PrivateKey
		kr.verifyKey = cfg.PrivateKey
		parse = func(b []byte) (any, error) { return b, nil }
	case MethodEd25519:
		kr.method = jwt.SigningMethodEdDSA
		if len(cfg.PrivateKey) > 0 {
			priv, err := parseEdPrivateKey(cfg.PrivateKey)
			if err != nil {
				return kr, err
			}
			kr.signKey = priv
		}
		if len(cfg.PublicKey) > 0 {
			pub, err := parseEdPublicKey(cfg.PublicKey)
			if err != nil {
				return kr, err
			}
			kr.verifyKey = pub
		}
		if kr.verifyKey == nil && len(cfg.VerifyKeys) == 0 {
			return kr, errors.New("ed25519 requires a public key or verify keys")
		}
		parse = func(b []byte) (any, error) { return parseEdPublicKey(b) }
	default:
		return kr, fmt.Errorf("unsupported signing method %q", cfg.SigningMethod)
	}

	if len(cfg.VerifyKeys) > 0 {
		kr.byKID = make(map[string]any, len(cfg.VerifyKeys))
		for kid, raw := range cfg.VerifyKeys {
			if strings.TrimSpace(kid) == "" {
				return kr, errors.New("verify keys contain an empty kid")
			}
			key, err := parse(raw)
			if err != nil {
				return kr, fmt.Errorf("verify key %q: %w", kid, err)
			}
			kr.byKID[kid] = key
		}
		if cfg.KeyID != "" {
			if _, ok := kr.byKID[cfg.KeyID]; !ok {
				return kr, errors.New("KeyID is not present in VerifyKeys")
			}
		}
	}
	return kr, nil
}

func (j *Manager) newParser() *jwt.Parser {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{j.keys.method.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return j.now() }),
	}
	if j.config.Leeway > 0 {
		options = append(options, jwt.WithLeeway(j.config.Leeway))
	}
	if j.config.Issuer != "" {
		options = append(options, jwt.WithIssuer(j.config.Issuer))
	}
	if j.config.Audience != "" {
		options = append(options, jwt.WithAudience(j.config.Audience))
	}
	return jwt.NewParser(options...)
}

// CreateAccess mints a signed access token for sub and returns it with its
// expiry.
func (j *Manager) CreateAccess(sub Subject) (string, time.Time, error) {
	if sub.UserID == "" {
		return "", time.Time{}, errors.New("access token requires a subject")
	}
	if j.keys.signKey == nil {
		return "", time.Time{}, errors.New("manager has no signing key")
	}

	now := j.now()
	expires := now.Add(j.config.AccessTTL)
	claims := AccessClaims{
		Email:     sub.Email,
		Role:      sub.Role,
		CompanyID: sub.CompanyID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   sub.UserID,
			Issuer:    j.config.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
	if j.config.Audience != "" {
		claims.Audience = jwt.ClaimStrings{j.config.Audience}
	}

	token := jwt.NewWithClaims(j.keys.method, claims)
	if j.config.KeyID != "" {
		token.Header["kid"] = j.config.KeyID
	}
	signed, err := token.SignedString(j.keys.signKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign access token: %w", err)
	}
	return signed, expires, nil
}

// ParseAccess verifies the signature and registered claims of tokenStr and
// returns its payload.
func (j *Manager) ParseAccess(tokenStr string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	token, err := j.parser.ParseWithClaims(tokenStr, claims, j.lookupKey)
	if err != nil {
		return nil, err
	}
	if !token.Valid || claims.Subject == "" {
		return nil, jwt.ErrTokenInvalidClaims
	}
	if claims.IssuedAt != nil && claims.IssuedAt.After(j.now().Add(j.config.MaxFutureIAT)) {
		return nil, errors.New("token iat too far in the future")
	}
	return claims, nil
}

// lookupKey picks the verification key. With VerifyKeys the kid header
// selects it; otherwise a configured KeyID must match the header.
func (j *Manager) lookupKey(t *jwt.Token) (any, error) {
	if t.Method.Alg() != j.keys.method.Alg() {
		return nil, fmt.Errorf("unexpected signing algorithm: %s", t.Method.Alg())
	}
	kid, _ := t.Header["kid"].(string)

	if j.keys.byKID != nil {
		if kid == "" {
			return nil, errMissingKID
		}
		key, ok := j.keys.byKID[kid]
		if !ok {
			return nil, errUnknownKID
		}
		return key, nil
	}
	if j.config.KeyID != "" && kid != j.config.KeyID {
		return nil, errUnknownKID
	}
	if j.keys.verifyKey == nil {
		return nil, errors.New("manager has no verification key")
	}
	return j.keys.verifyKey, nil
}

func parseEdPrivateKey(key []byte) (ed25519.PrivateKey, error) {
	if len(key) == ed25519.PrivateKeySize {
		return ed25519.PrivateKey(key), nil
	}
	parsed, err := jwt.ParseEdPrivateKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 private key")
	}
	edKey, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, errors.New("invalid ed25519 private key type")
	}
	return edKey, nil
}

func parseEdPublicKey(key []byte) (ed25519.PublicKey, error) {
	if len(key) == ed25519.PublicKeySize {
		return ed25519.PublicKey(key), nil
	}
	parsed, err := jwt.ParseEdPublicKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 public key")
	}
	edKey, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return nil, errors.New("invalid ed25519 public key type")
	}
	return edKey, nil
}
