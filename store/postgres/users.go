package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sitebook/authcore"
)

var _ authcore.UserStore = (*UserStore)(nil)

const userColumns = `id, email, password_hash, name, role, company_id, phone_number, union_member,
two_factor_enabled, two_factor_secret, totp_last_counter, created_at`

const insertUserSQL = `INSERT INTO users (id, email, password_hash, name, role, company_id, phone_number,
union_member, two_factor_enabled, two_factor_secret, totp_last_counter, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

// UserStore is a PostgreSQL-backed authcore.UserStore. Backup codes live in
// their own table keyed by (user_id, code_hash).
type UserStore struct {
	db *pgxpool.Pool
}

func NewUserStore(pool *pgxpool.Pool) *UserStore {
	return &UserStore{db: pool}
}

func (s *UserStore) CreateUser(ctx context.Context, u *authcore.User) error {
	_, err := s.db.Exec(ctx, insertUserSQL,
		u.ID,
		u.Email,
		u.PasswordHash,
		u.Name,
		u.Role,
		u.CompanyID,
		u.PhoneNumber,
		u.UnionMember,
		u.TwoFactorEnabled,
		u.TwoFactorSecret,
		u.TOTPLastCounter,
		u.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return authcore.ErrConflict
		}
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

func (s *UserStore) GetUserByEmail(ctx context.Context, email string) (*authcore.User, error) {
	u, err := scanUser(s.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email))
	if err != nil {
		return nil, userLookupError("get user by email", err)
	}
	return u, nil
}

func (s *UserStore) GetUserByID(ctx context.Context, id string) (*authcore.User, error) {
	u, err := scanUser(s.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if err != nil {
		return nil, userLookupError("get user by id", err)
	}
	return u, nil
}

func (s *UserStore) UpdatePasswordHash(ctx context.Context, id, hash string) error {
	tag, err := s.db.Exec(ctx, `UPDATE users SET password_hash = $2 WHERE id = $1`, id, hash)
	if err != nil {
		return fmt.Errorf("update password hash: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return authcore.ErrUserNotFound
	}
	return nil
}

func (s *UserStore) SetPendingTwoFactor(ctx context.Context, id, secret string) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE users SET two_factor_secret = $2 WHERE id = $1 AND NOT two_factor_enabled`, id, secret)
	if err != nil {
		return fmt.Errorf("set pending two-factor: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	if err := s.mustExist(ctx, id); err != nil {
		return err
	}
	return authcore.ErrAlreadyEnrolled
}

// EnableTwoFactor flips the flag only while the pending secret still
// matches, and writes the counter and the backup codes in the same
// transaction.
func (s *UserStore) EnableTwoFactor(ctx context.Context, id, secret string, counter int64, codes [][32]byte) (bool, error) {
	var enabled bool
	err := inTx(ctx, s.db, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE users SET two_factor_enabled = TRUE, totp_last_counter = $3
WHERE id = $1 AND NOT two_factor_enabled AND two_factor_secret = $2`,
			id, secret, counter)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return nil
		}
		enabled = true
		return replaceCodes(ctx, tx, id, codes)
	})
	if err != nil {
		return false, fmt.Errorf("enable two-factor: %w", err)
	}
	if !enabled {
		if err := s.mustExist(ctx, id); err != nil {
			return false, err
		}
	}
	return enabled, nil
}

func (s *UserStore) DisableTwoFactor(ctx context.Context, id string) error {
	found := false
	err := inTx(ctx, s.db, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE users SET two_factor_enabled = FALSE, two_factor_secret = '', totp_last_counter = -1 WHERE id = $1`, id)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return nil
		}
		found = true
		_, err = tx.Exec(ctx, `DELETE FROM backup_codes WHERE user_id = $1`, id)
		return err
	})
	if err != nil {
		return fmt.Errorf("disable two-factor: %w", err)
	}
	if !found {
		return authcore.ErrUserNotFound
	}
	return nil
}

func (s *UserStore) AdvanceTOTPCounter(ctx context.Context, id string, counter int64) (bool, error) {
	tag, err := s.db.Exec(ctx,
		`UPDATE users SET totp_last_counter = $2 WHERE id = $1 AND totp_last_counter < $2`, id, counter)
	if err != nil {
		return false, fmt.Errorf("advance totp counter: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}
	if err := s.mustExist(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

// ReplaceBackupCodes holds the user row lock while swapping codes so a
// concurrent DisableTwoFactor cannot interleave.
func (s *UserStore) ReplaceBackupCodes(ctx context.Context, id string, codes [][32]byte) error {
	err := inTx(ctx, s.db, func(tx pgx.Tx) error {
		var enabled bool
		err := tx.QueryRow(ctx,
			`SELECT two_factor_enabled FROM users WHERE id = $1 FOR UPDATE`, id).Scan(&enabled)
		if errors.Is(err, pgx.ErrNoRows) {
			return authcore.ErrUserNotFound
		}
		if err != nil {
			return err
		}
		if !enabled {
			return authcore.ErrNotEnrolled
		}
		return replaceCodes(ctx, tx, id, codes)
	})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, authcore.ErrUserNotFound), errors.Is(err, authcore.ErrNotEnrolled):
		return err
	default:
		return fmt.Errorf("replace backup codes: %w", err)
	}
}

func (s *UserStore) ConsumeBackupCode(ctx context.Context, id string, hash [32]byte) (bool, error) {
	tag, err := s.db.Exec(ctx,
		`UPDATE backup_codes SET used_at = NOW() WHERE user_id = $1 AND code_hash = $2 AND used_at IS NULL`,
		id, hash[:])
	if err != nil {
		return false, fmt.Errorf("consume backup code: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *UserStore) CountBackupCodes(ctx context.Context, id string) (int, error) {
	var n int
	if err := s.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM backup_codes WHERE user_id = $1 AND used_at IS NULL`, id).Scan(&n); err != nil {
		return 0, fmt.Errorf("count backup codes: %w", err)
	}
	return n, nil
}

func (s *UserStore) mustExist(ctx context.Context, id string) error {
	var exists bool
	if err := s.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("lookup user: %w", err)
	}
	if !exists {
		return authcore.ErrUserNotFound
	}
	return nil
}

func replaceCodes(ctx context.Context, tx pgx.Tx, id string, codes [][32]byte) error {
	if _, err := tx.Exec(ctx, `DELETE FROM backup_codes WHERE user_id = $1`, id); err != nil {
		return err
	}
	if len(codes) == 0 {
		return nil
	}
	_, err := tx.CopyFrom(ctx,
		pgx.Identifier{"backup_codes"},
		[]string{"user_id", "code_hash"},
		pgx.CopyFromSlice(len(codes), func(i int) ([]any, error) {
			return []any{id, codes[i][:]}, nil
		}),
	)
	return err
}

func scanUser(row pgx.Row) (*authcore.User, error) {
	var u authcore.User
	if err := row.Scan(
		&u.ID,
		&u.Email,
		&u.PasswordHash,
		&u.Name,
		&u.Role,
		&u.CompanyID,
		&u.PhoneNumber,
		&u.UnionMember,
		&u.TwoFactorEnabled,
		&u.TwoFactorSecret,
		&u.TOTPLastCounter,
		&u.CreatedAt,
	); err != nil {
		return nil, err
	}
	return &u, nil
}

func userLookupError(op string, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return authcore.ErrUserNotFound
	}
	return fmt.Errorf("%s: %w", op, err)
}
