package postgres

import (
	"crypto/sha256"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/sitebook/authcore/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubRow scans a fixed refresh_tokens row in tokenColumns order.
type stubRow struct {
	hash      []byte
	revokedAt *time.Time
	reason    string
	err       error
}

func (r stubRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	issued := time.Unix(1_700_000_000, 0).UTC()
	*dest[0].(*string) = "tok-1"
	*dest[1].(*string) = "fam-1"
	*dest[2].(*string) = "user-1"
	*dest[3].(*[]byte) = r.hash
	*dest[4].(*time.Time) = issued
	*dest[5].(*time.Time) = issued.Add(7 * 24 * time.Hour)
	*dest[6].(**time.Time) = r.revokedAt
	*dest[7].(*string) = r.reason
	*dest[8].(*string) = "tok-2"
	*dest[9].(*string) = "10.0.0.1"
	*dest[10].(*string) = "SiteBook/2.1 iOS"
	return nil
}

func TestScanToken(t *testing.T) {
	digest := sha256.Sum256([]byte("refresh"))
	revokedAt := time.Unix(1_700_000_100, 0).UTC()

	tok, err := scanToken(stubRow{hash: digest[:], revokedAt: &revokedAt, reason: "rotated"})
	require.NoError(t, err)
	assert.Equal(t, digest, tok.TokenHash)
	assert.Equal(t, session.ReasonRotated, tok.RevokedReason)
	assert.Equal(t, "tok-2", tok.ReplacedBy)
	assert.Equal(t, "fam-1", tok.FamilyID)

	_, err = scanToken(stubRow{hash: []byte{1, 2, 3}})
	assert.ErrorContains(t, err, "corrupt token hash")

	_, err = scanToken(stubRow{err: pgx.ErrNoRows})
	assert.ErrorIs(t, lookupError(err), session.ErrTokenNotFound)
}

func TestRotateStatus(t *testing.T) {
	issued := time.Unix(1_700_000_000, 0).UTC()
	expires := issued.Add(time.Hour)
	revoked := issued.Add(time.Minute)

	tests := []struct {
		name    string
		row     session.RefreshToken
		now     time.Time
		wantErr error
	}{
		{
			name: "active",
			row:  session.RefreshToken{IssuedAt: issued, ExpiresAt: expires},
			now:  issued.Add(30 * time.Minute),
		},
		{
			name:    "rotated",
			row:     session.RefreshToken{IssuedAt: issued, ExpiresAt: expires, RevokedAt: &revoked, RevokedReason: session.ReasonRotated},
			now:     issued.Add(2 * time.Minute),
			wantErr: session.ErrTokenRevoked,
		},
		{
			name:    "revoked after expiry is still revoked",
			row:     session.RefreshToken{IssuedAt: issued, ExpiresAt: expires, RevokedAt: &revoked, RevokedReason: session.ReasonLogout},
			now:     expires.Add(time.Minute),
			wantErr: session.ErrTokenRevoked,
		},
		{
			name:    "expires exactly now",
			row:     session.RefreshToken{IssuedAt: issued, ExpiresAt: expires},
			now:     expires,
			wantErr: session.ErrTokenExpired,
		},
		{
			name:    "expired",
			row:     session.RefreshToken{IssuedAt: issued, ExpiresAt: expires},
			now:     expires.Add(time.Second),
			wantErr: session.ErrTokenExpired,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := rotateStatus(&tt.row, tt.now)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
		})
	}
}
