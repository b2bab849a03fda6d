package authcore

import (
	"context"
	"errors"
	"fmt"

	"github.com/sitebook/authcore/internal"
	internalflows "github.com/sitebook/authcore/internal/flows"
	"github.com/sitebook/authcore/session"
	"go.uber.org/zap"
)

// ResolveSession maps a plaintext refresh token to the id of its row. The
// row may be in any state; callers use the id to mark or keep the current
// session. Unknown and malformed tokens return ErrInvalidToken.
func (e *Engine) ResolveSession(ctx context.Context, refreshToken string) (string, error) {
	if e == nil {
		return "", ErrEngineNotReady
	}

	digest, err := internal.HashRefreshToken(refreshToken)
	if err != nil {
		return "", ErrInvalidToken
	}
	row, err := e.sessions.GetByHash(ctx, digest)
	if err != nil {
		if errors.Is(err, session.ErrTokenNotFound) {
			return "", ErrInvalidToken
		}
		e.storageError(ctx, "get_session_by_hash", "", err)
		return "", fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return row.ID, nil
}

// ListSessions returns userID's Active sessions, most recent first. The
// session whose family matches currentTokenID is marked Current;
// currentTokenID may be empty.
func (e *Engine) ListSessions(ctx context.Context, userID, currentTokenID string) ([]SessionInfo, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}

	rows, err := internalflows.RunListSessions(ctx, userID, e.flows.Sessions)
	if err != nil {
		return nil, e.sessionStoreError(ctx, "list_sessions", userID, err)
	}

	currentFamily := e.currentFamily(ctx, userID, currentTokenID)
	out := make([]SessionInfo, 0, len(rows))
	for _, row := range rows {
		out = append(out, sessionInfoFrom(row, currentFamily))
	}
	return out, nil
}

// RevokeSession revokes one session of userID. A session id that does not
// exist or belongs to someone else returns ErrNotFound. Revoking an
// already revoked session succeeds without change.
//
// Session ids go stale on every refresh, so an id naming a rotated row
// stands for its family: the family's Active successor is revoked too.
// This is the only case where revoking a non-active row changes state.
func (e *Engine) RevokeSession(ctx context.Context, userID, sessionID string) error {
	if e == nil {
		return ErrEngineNotReady
	}

	count, err := internalflows.RunRevokeSession(ctx, userID, sessionID, session.ReasonManual, e.flows.Sessions)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		return e.sessionStoreError(ctx, "revoke_session", userID, err)
	}

	e.metricInc(MetricSessionRevoked)
	e.emitAudit(ctx, auditEventSessionRevoked, true, userID, sessionID, nil, func() map[string]string {
		return map[string]string{"revoked": fmt.Sprint(count)}
	})
	return nil
}

// RevokeOtherSessions revokes every Active session of userID except the
// one currentTokenID belongs to and returns how many tokens were revoked.
// The current session survives even if it is rotated concurrently.
func (e *Engine) RevokeOtherSessions(ctx context.Context, userID, currentTokenID string) (int, error) {
	if e == nil {
		return 0, ErrEngineNotReady
	}

	res, err := internalflows.RunRevokeOthers(ctx, userID, currentTokenID, session.ReasonManual, e.flows.Sessions)
	if err != nil {
		if errors.Is(err, ErrInvalidToken) {
			e.securityWarn(ctx, "revoke others with foreign or unknown session", userID, err,
				zap.String("token_id", currentTokenID))
			return 0, ErrInvalidToken
		}
		return res.Revoked, e.sessionStoreError(ctx, "revoke_other_sessions", userID, err)
	}
	if !res.CurrentActive {
		e.logger.Info("current session no longer active after revoke-others",
			zap.String("user_id", userID),
			zap.String("family_id", res.FamilyID))
	}

	e.metricInc(MetricSessionsRevokedOthers)
	e.emitAudit(ctx, auditEventSessionsRevokedOthers, true, userID, currentTokenID, nil, func() map[string]string {
		return map[string]string{"revoked": fmt.Sprint(res.Revoked)}
	})
	return res.Revoked, nil
}

func (e *Engine) currentFamily(ctx context.Context, userID, tokenID string) string {
	if tokenID == "" {
		return ""
	}
	row, err := e.sessions.Get(ctx, tokenID)
	if err != nil {
		if !errors.Is(err, session.ErrTokenNotFound) {
			e.logger.Warn("current session lookup failed", zap.String("user_id", userID), zap.Error(err))
		}
		return ""
	}
	if row.UserID != userID {
		return ""
	}
	return row.FamilyID
}
