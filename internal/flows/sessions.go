package flows

import (
	"context"
	"errors"
	"time"

	"github.com/sitebook/authcore/session"
)

// SessionStore is the subset of session.Store the session flows use.
type SessionStore interface {
	Create(ctx context.Context, tok *session.RefreshToken) error
	Get(ctx context.Context, id string) (*session.RefreshToken, error)
	Revoke(ctx context.Context, id string, reason session.RevokeReason, now time.Time) (bool, error)
	RevokeAllForUser(ctx context.Context, userID string, reason session.RevokeReason, now time.Time) (int, error)
	RevokeAllExceptFamily(ctx context.Context, userID, familyID string, reason session.RevokeReason, now time.Time) (int, error)
	ListActive(ctx context.Context, userID string, now time.Time) ([]*session.RefreshToken, error)
}

type SessionErrors struct {
	NotFound     error
	InvalidToken error
	Unavailable  error
}

type SessionDeps struct {
	RefreshTTL time.Duration

	Now             func() time.Time
	NewID           func() string
	NewRefreshToken func() (string, [32]byte, error)
	ClientIP        func(context.Context) string
	UserAgent       func(context.Context) string

	Store SessionStore

	Errors SessionErrors
}

// IssuedSession is a freshly persisted refresh token and its plaintext.
type IssuedSession struct {
	Token string
	Row   *session.RefreshToken
}

// RunIssueSession persists a new Active token that starts its own family.
func RunIssueSession(ctx context.Context, userID string, deps SessionDeps) (IssuedSession, error) {
	token, digest, err := deps.NewRefreshToken()
	if err != nil {
		return IssuedSession{}, unavailable(deps.Errors.Unavailable, err)
	}

	now := deps.Now()
	id := deps.NewID()
	row := &session.RefreshToken{
		ID:        id,
		FamilyID:  id,
		UserID:    userID,
		TokenHash: digest,
		IssuedAt:  now,
		ExpiresAt: now.Add(deps.RefreshTTL),
		IPAddress: deps.ClientIP(ctx),
		UserAgent: deps.UserAgent(ctx),
	}
	if err := deps.Store.Create(ctx, row); err != nil {
		return IssuedSession{}, unavailable(deps.Errors.Unavailable, err)
	}

	return IssuedSession{Token: token, Row: row}, nil
}

// RunListSessions returns userID's Active rows, most recent first.
func RunListSessions(ctx context.Context, userID string, deps SessionDeps) ([]*session.RefreshToken, error) {
	rows, err := deps.Store.ListActive(ctx, userID, deps.Now())
	if err != nil {
		return nil, unavailable(deps.Errors.Unavailable, err)
	}
	return rows, nil
}

// RunRevokeSession revokes the session that token id belongs to. When id
// names a row that was already rotated, the Active successor of its family
// is revoked instead, so a listed id stays usable after the device
// refreshes. Revoking an already revoked session succeeds without change.
func RunRevokeSession(ctx context.Context, userID, id string, reason session.RevokeReason, deps SessionDeps) (int, error) {
	row, err := deps.Store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, session.ErrTokenNotFound) {
			return 0, deps.Errors.NotFound
		}
		return 0, unavailable(deps.Errors.Unavailable, err)
	}
	if row.UserID != userID {
		return 0, deps.Errors.NotFound
	}

	now := deps.Now()
	revoked := 0
	changed, err := deps.Store.Revoke(ctx, row.ID, reason, now)
	if err != nil {
		return 0, unavailable(deps.Errors.Unavailable, err)
	}
	if changed {
		revoked++
	}
	if row.StateAt(now) != session.StateRotated {
		return revoked, nil
	}

	active, err := deps.Store.ListActive(ctx, userID, now)
	if err != nil {
		return revoked, unavailable(deps.Errors.Unavailable, err)
	}
	for _, successor := range active {
		if successor.FamilyID != row.FamilyID {
			continue
		}
		changed, err := deps.Store.Revoke(ctx, successor.ID, reason, now)
		if err != nil {
			return revoked, unavailable(deps.Errors.Unavailable, err)
		}
		if changed {
			revoked++
		}
	}
	return revoked, nil
}

// RevokeOthersResult reports the outcome of RunRevokeOthers.
// CurrentActive is false when the caller's own session was not Active
// after the bulk revoke.
type RevokeOthersResult struct {
	Revoked       int
	FamilyID      string
	CurrentActive bool
}

// RunRevokeOthers revokes every Active token of userID except the family
// of currentTokenID. The exclusion is keyed by the family id stored on the
// current row, so a concurrent rotation of the current token cannot drop
// it. The current session is reconfirmed after the bulk revoke completes.
func RunRevokeOthers(ctx context.Context, userID, currentTokenID string, reason session.RevokeReason, deps SessionDeps) (RevokeOthersResult, error) {
	current, err := deps.Store.Get(ctx, currentTokenID)
	if err != nil {
		if errors.Is(err, session.ErrTokenNotFound) {
			return RevokeOthersResult{}, deps.Errors.InvalidToken
		}
		return RevokeOthersResult{}, unavailable(deps.Errors.Unavailable, err)
	}
	if current.UserID != userID {
		return RevokeOthersResult{}, deps.Errors.InvalidToken
	}

	now := deps.Now()
	count, err := deps.Store.RevokeAllExceptFamily(ctx, userID, current.FamilyID, reason, now)
	if err != nil {
		return RevokeOthersResult{}, unavailable(deps.Errors.Unavailable, err)
	}

	result := RevokeOthersResult{Revoked: count, FamilyID: current.FamilyID}
	active, err := deps.Store.ListActive(ctx, userID, now)
	if err != nil {
		return result, unavailable(deps.Errors.Unavailable, err)
	}
	result.CurrentActive = activeInFamily(active, current.FamilyID)
	return result, nil
}

// RunRevokeAll revokes every Active token of userID.
func RunRevokeAll(ctx context.Context, userID string, reason session.RevokeReason, deps SessionDeps) (int, error) {
	count, err := deps.Store.RevokeAllForUser(ctx, userID, reason, deps.Now())
	if err != nil {
		return count, unavailable(deps.Errors.Unavailable, err)
	}
	return count, nil
}

func activeInFamily(rows []*session.RefreshToken, familyID string) bool {
	for _, row := range rows {
		if row.FamilyID == familyID {
			return true
		}
	}
	return false
}
