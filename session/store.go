package session

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrTokenNotFound is returned when no row matches the given hash or id.
	ErrTokenNotFound = errors.New("refresh token not found")
	// ErrTokenRevoked is returned by Rotate when the presented row was already
	// rotated or revoked. The row is returned alongside it.
	ErrTokenRevoked = errors.New("refresh token revoked")
	// ErrTokenExpired is returned by Rotate when the presented row is past its
	// expiry. The row is returned alongside it.
	ErrTokenExpired = errors.New("refresh token expired")
	// ErrStoreUnavailable wraps backend failures.
	ErrStoreUnavailable = errors.New("session store unavailable")
)

// Store is the persistence port for refresh tokens.
//
// Implementations must make Rotate a single atomic compare-and-set: for a
// given presented hash at most one concurrent caller observes success, and
// the revoke of the presented row and the insert of its successor are never
// visible separately. No method retries internally.
type Store interface {
	// Create persists tok as Active.
	Create(ctx context.Context, tok *RefreshToken) error

	// Rotate consumes the Active row whose hash is presented and inserts next
	// as its successor. next.UserID and next.FamilyID are filled from the
	// consumed row. On ErrTokenRevoked and ErrTokenExpired the presented row
	// is returned with the error.
	Rotate(ctx context.Context, presented [32]byte, next *RefreshToken, now time.Time) (*RefreshToken, error)

	// Get returns a row by id regardless of state.
	Get(ctx context.Context, id string) (*RefreshToken, error)

	// GetByHash returns a row by token hash regardless of state.
	GetByHash(ctx context.Context, hash [32]byte) (*RefreshToken, error)

	// Revoke moves an Active row to revoked with reason. It reports whether
	// the row changed; revoking a non-active row is a no-op.
	Revoke(ctx context.Context, id string, reason RevokeReason, now time.Time) (bool, error)

	// RevokeAllForUser revokes every Active row of userID and returns the count.
	RevokeAllForUser(ctx context.Context, userID string, reason RevokeReason, now time.Time) (int, error)

	// RevokeAllExceptFamily revokes every Active row of userID outside
	// familyID as one operation and returns the count.
	RevokeAllExceptFamily(ctx context.Context, userID, familyID string, reason RevokeReason, now time.Time) (int, error)

	// ListActive returns userID's Active rows, most recently issued first.
	ListActive(ctx context.Context, userID string, now time.Time) ([]*RefreshToken, error)

	// Ping checks backend reachability.
	Ping(ctx context.Context) (time.Duration, error)
}
