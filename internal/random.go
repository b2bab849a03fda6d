package internal

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
)

const refreshSecretSize = 32

// ErrMalformedRefreshToken is returned for a token that is not the
// base64url encoding of a full-size secret.
var ErrMalformedRefreshToken = errors.New("malformed refresh token")

// NewRefreshToken returns an opaque refresh token and the digest under which
// it is stored. The token is 32 random bytes, base64url without padding.
func NewRefreshToken() (string, [32]byte, error) {
	var secret [refreshSecretSize]byte
	if _, err := rand.Read(secret[:]); err != nil {
		return "", [32]byte{}, err
	}
	return base64.RawURLEncoding.EncodeToString(secret[:]), sha256.Sum256(secret[:]), nil
}

// HashRefreshToken decodes a presented token and returns its digest.
func HashRefreshToken(token string) ([32]byte, error) {
	if len(token) != base64.RawURLEncoding.EncodedLen(refreshSecretSize) {
		return [32]byte{}, ErrMalformedRefreshToken
	}
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil || len(raw) != refreshSecretSize {
		return [32]byte{}, ErrMalformedRefreshToken
	}
	return sha256.Sum256(raw), nil
}
