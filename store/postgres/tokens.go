package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sitebook/authcore/session"
)

var _ session.Store = (*TokenStore)(nil)

const tokenColumns = `id, family_id, user_id, token_hash, issued_at, expires_at,
revoked_at, revoked_reason, replaced_by, ip_address, user_agent`

const insertTokenSQL = `INSERT INTO refresh_tokens (id, family_id, user_id, token_hash, issued_at, expires_at,
revoked_at, revoked_reason, replaced_by, ip_address, user_agent)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

// TokenStore is a PostgreSQL-backed session.Store.
type TokenStore struct {
	db *pgxpool.Pool
}

func NewTokenStore(pool *pgxpool.Pool) *TokenStore {
	return &TokenStore{db: pool}
}

func (s *TokenStore) Create(ctx context.Context, tok *session.RefreshToken) error {
	if tok == nil || tok.ID == "" || tok.UserID == "" {
		return errors.New("refresh token requires id and user id")
	}
	if tok.FamilyID == "" {
		tok.FamilyID = tok.ID
	}
	if err := insertToken(ctx, s.db, tok); err != nil {
		return unavailable(err)
	}
	return nil
}

// Rotate locks the presented row, classifies it and, when it is Active,
// marks it rotated and inserts next in the same transaction. A concurrent
// caller blocks on the row lock and then sees the rotated row.
func (s *TokenStore) Rotate(ctx context.Context, presented [32]byte, next *session.RefreshToken, now time.Time) (*session.RefreshToken, error) {
	if next == nil || next.ID == "" {
		return nil, errors.New("successor token requires id")
	}

	var (
		consumed  *session.RefreshToken
		statusErr error
	)
	err := inTx(ctx, s.db, func(tx pgx.Tx) error {
		row, err := scanToken(tx.QueryRow(ctx,
			`SELECT `+tokenColumns+` FROM refresh_tokens WHERE token_hash = $1 FOR UPDATE`, presented[:]))
		if err != nil {
			return err
		}
		consumed = row

		if statusErr = rotateStatus(row, now); statusErr != nil {
			return nil
		}

		if _, err := tx.Exec(ctx,
			`UPDATE refresh_tokens SET revoked_at = $2, revoked_reason = $3, replaced_by = $4 WHERE id = $1`,
			row.ID, now, string(session.ReasonRotated), next.ID); err != nil {
			return err
		}
		next.UserID = row.UserID
		next.FamilyID = row.FamilyID
		if err := insertToken(ctx, tx, next); err != nil {
			return err
		}

		revokedAt := now
		consumed.RevokedAt = &revokedAt
		consumed.RevokedReason = session.ReasonRotated
		consumed.ReplacedBy = next.ID
		return nil
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, session.ErrTokenNotFound
		}
		return nil, unavailable(err)
	}
	if statusErr != nil {
		return consumed, statusErr
	}
	return consumed, nil
}

// rotateStatus reports why a locked row cannot be rotated at now, or nil
// when it is Active. Revocation wins over expiry.
func rotateStatus(row *session.RefreshToken, now time.Time) error {
	switch {
	case row.RevokedAt != nil:
		return session.ErrTokenRevoked
	case !now.Before(row.ExpiresAt):
		return session.ErrTokenExpired
	default:
		return nil
	}
}

func (s *TokenStore) Get(ctx context.Context, id string) (*session.RefreshToken, error) {
	row, err := scanToken(s.db.QueryRow(ctx, `SELECT `+tokenColumns+` FROM refresh_tokens WHERE id = $1`, id))
	return row, lookupError(err)
}

func (s *TokenStore) GetByHash(ctx context.Context, hash [32]byte) (*session.RefreshToken, error) {
	row, err := scanToken(s.db.QueryRow(ctx, `SELECT `+tokenColumns+` FROM refresh_tokens WHERE token_hash = $1`, hash[:]))
	return row, lookupError(err)
}

// Revoke moves an Active row to revoked. A second call is a no-op.
func (s *TokenStore) Revoke(ctx context.Context, id string, reason session.RevokeReason, now time.Time) (bool, error) {
	if !reason.Valid() {
		return false, fmt.Errorf("invalid revoke reason %q", reason)
	}

	tag, err := s.db.Exec(ctx,
		`UPDATE refresh_tokens SET revoked_at = $2, revoked_reason = $3
WHERE id = $1 AND revoked_at IS NULL AND expires_at > $2`,
		id, now, string(reason))
	if err != nil {
		return false, unavailable(err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}

	var exists bool
	if err := s.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM refresh_tokens WHERE id = $1)`, id).Scan(&exists); err != nil {
		return false, unavailable(err)
	}
	if !exists {
		return false, session.ErrTokenNotFound
	}
	return false, nil
}

func (s *TokenStore) RevokeAllForUser(ctx context.Context, userID string, reason session.RevokeReason, now time.Time) (int, error) {
	if !reason.Valid() {
		return 0, fmt.Errorf("invalid revoke reason %q", reason)
	}

	tag, err := s.db.Exec(ctx,
		`UPDATE refresh_tokens SET revoked_at = $2, revoked_reason = $3
WHERE user_id = $1 AND revoked_at IS NULL AND expires_at > $2`,
		userID, now, string(reason))
	if err != nil {
		return 0, unavailable(err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *TokenStore) RevokeAllExceptFamily(ctx context.Context, userID, familyID string, reason session.RevokeReason, now time.Time) (int, error) {
	if familyID == "" {
		return 0, errors.New("family id is required")
	}
	if !reason.Valid() {
		return 0, fmt.Errorf("invalid revoke reason %q", reason)
	}

	tag, err := s.db.Exec(ctx,
		`UPDATE refresh_tokens SET revoked_at = $2, revoked_reason = $3
WHERE user_id = $1 AND family_id <> $4 AND revoked_at IS NULL AND expires_at > $2`,
		userID, now, string(reason), familyID)
	if err != nil {
		return 0, unavailable(err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *TokenStore) ListActive(ctx context.Context, userID string, now time.Time) ([]*session.RefreshToken, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+tokenColumns+` FROM refresh_tokens
WHERE user_id = $1 AND revoked_at IS NULL AND expires_at > $2
ORDER BY issued_at DESC, id DESC`,
		userID, now)
	if err != nil {
		return nil, unavailable(err)
	}
	defer rows.Close()

	var out []*session.RefreshToken
	for rows.Next() {
		tok, err := scanToken(rows)
		if err != nil {
			return nil, unavailable(err)
		}
		out = append(out, tok)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable(err)
	}
	return out, nil
}

func (s *TokenStore) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if err := s.db.Ping(ctx); err != nil {
		return 0, unavailable(err)
	}
	return time.Since(start), nil
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func insertToken(ctx context.Context, db execer, tok *session.RefreshToken) error {
	_, err := db.Exec(ctx, insertTokenSQL,
		tok.ID,
		tok.FamilyID,
		tok.UserID,
		tok.TokenHash[:],
		tok.IssuedAt,
		tok.ExpiresAt,
		tok.RevokedAt,
		string(tok.RevokedReason),
		tok.ReplacedBy,
		tok.IPAddress,
		tok.UserAgent,
	)
	return err
}

func scanToken(row pgx.Row) (*session.RefreshToken, error) {
	var (
		tok    session.RefreshToken
		hash   []byte
		reason string
	)
	if err := row.Scan(
		&tok.ID,
		&tok.FamilyID,
		&tok.UserID,
		&hash,
		&tok.IssuedAt,
		&tok.ExpiresAt,
		&tok.RevokedAt,
		&reason,
		&tok.ReplacedBy,
		&tok.IPAddress,
		&tok.UserAgent,
	); err != nil {
		return nil, err
	}
	if len(hash) != len(tok.TokenHash) {
		return nil, fmt.Errorf("corrupt token hash for %s", tok.ID)
	}
	copy(tok.TokenHash[:], hash)
	tok.RevokedReason = session.RevokeReason(reason)
	return &tok, nil
}

func lookupError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, pgx.ErrNoRows):
		return session.ErrTokenNotFound
	default:
		return unavailable(err)
	}
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %v", session.ErrStoreUnavailable, err)
}
