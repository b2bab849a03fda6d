package flows

import (
	"context"
	"errors"
	"time"

	"github.com/sitebook/authcore/session"
)

// RefreshFailureKind classifies refresh failures for root-level mapping.
// Every kind except Unavailable surfaces to callers as the same invalid
// token outcome.
type RefreshFailureKind int

const (
	RefreshFailureNone RefreshFailureKind = iota
	RefreshFailureMalformed
	RefreshFailureNotFound
	RefreshFailureExpired
	RefreshFailureRaced
	RefreshFailureReuse
	RefreshFailureUnavailable
)

func (k RefreshFailureKind) String() string {
	switch k {
	case RefreshFailureNone:
		return "none"
	case RefreshFailureMalformed:
		return "malformed"
	case RefreshFailureNotFound:
		return "not_found"
	case RefreshFailureExpired:
		return "expired"
	case RefreshFailureRaced:
		return "raced"
	case RefreshFailureReuse:
		return "reuse"
	default:
		return "unavailable"
	}
}

// RefreshResult carries the rotated pair or failure metadata.
//
// On RefreshFailureReuse, Revoked is the number of Active tokens revoked
// for the owner and RevokeErr is set when that revocation failed.
type RefreshResult struct {
	Failure   RefreshFailureKind
	Err       error
	Presented *session.RefreshToken
	Next      *session.RefreshToken
	Token     string
	Revoked   int
	RevokeErr error
}

type RefreshStore interface {
	Rotate(ctx context.Context, presented [32]byte, next *session.RefreshToken, now time.Time) (*session.RefreshToken, error)
	Get(ctx context.Context, id string) (*session.RefreshToken, error)
	RevokeAllForUser(ctx context.Context, userID string, reason session.RevokeReason, now time.Time) (int, error)
}

// RefreshDeps captures refresh flow dependencies.
//
// ReuseGrace is the window after a rotation during which presenting the
// rotated token again is treated as a lost race between concurrent
// refreshes of the same token rather than as replay. The race is only
// accepted when the successor is still Active and was issued to the same
// IP and user agent as the replaying request.
type RefreshDeps struct {
	RefreshTTL     time.Duration
	ReuseDetection bool
	ReuseGrace     time.Duration

	Now              func() time.Time
	NewID            func() string
	NewRefreshToken  func() (string, [32]byte, error)
	HashRefreshToken func(string) ([32]byte, error)
	ClientIP         func(context.Context) string
	UserAgent        func(context.Context) string

	Store RefreshStore
}

// RunRefresh consumes the presented token and issues its successor in one
// store operation. A token that was already rotated or revoked revokes the
// owner's whole Active set when reuse detection is on.
func RunRefresh(ctx context.Context, presented string, deps RefreshDeps) RefreshResult {
	digest, err := deps.HashRefreshToken(presented)
	if err != nil {
		return RefreshResult{Failure: RefreshFailureMalformed, Err: err}
	}

	token, nextDigest, err := deps.NewRefreshToken()
	if err != nil {
		return RefreshResult{Failure: RefreshFailureUnavailable, Err: err}
	}

	now := deps.Now()
	next := &session.RefreshToken{
		ID:        deps.NewID(),
		TokenHash: nextDigest,
		IssuedAt:  now,
		ExpiresAt: now.Add(deps.RefreshTTL),
		IPAddress: deps.ClientIP(ctx),
		UserAgent: deps.UserAgent(ctx),
	}

	row, err := deps.Store.Rotate(ctx, digest, next, now)
	switch {
	case err == nil:
		return RefreshResult{Presented: row, Next: next, Token: token}
	case errors.Is(err, session.ErrTokenNotFound):
		return RefreshResult{Failure: RefreshFailureNotFound, Err: err}
	case errors.Is(err, session.ErrTokenExpired):
		return RefreshResult{Failure: RefreshFailureExpired, Err: err, Presented: row}
	case errors.Is(err, session.ErrTokenRevoked):
		if withinGrace(ctx, deps.Store, row, next, now, deps.ReuseGrace) {
			return RefreshResult{Failure: RefreshFailureRaced, Err: err, Presented: row}
		}
		result := RefreshResult{Failure: RefreshFailureReuse, Err: err, Presented: row}
		if deps.ReuseDetection && row != nil {
			result.Revoked, result.RevokeErr = deps.Store.RevokeAllForUser(ctx, row.UserID, session.ReasonSecurity, now)
		}
		return result
	default:
		return RefreshResult{Failure: RefreshFailureUnavailable, Err: err}
	}
}

func withinGrace(ctx context.Context, store RefreshStore, row, replay *session.RefreshToken, now time.Time, grace time.Duration) bool {
	if grace <= 0 || row == nil || row.RevokedAt == nil {
		return false
	}
	if row.RevokedReason != session.ReasonRotated || row.ReplacedBy == "" {
		return false
	}
	if now.Sub(*row.RevokedAt) >= grace {
		return false
	}
	successor, err := store.Get(ctx, row.ReplacedBy)
	if err != nil || successor.StateAt(now) != session.StateActive {
		return false
	}
	return successor.IPAddress == replay.IPAddress && successor.UserAgent == replay.UserAgent
}
