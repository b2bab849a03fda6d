//go:build integration

package postgres_test

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sitebook/authcore"
	"github.com/sitebook/authcore/internal"
	"github.com/sitebook/authcore/session"
	"github.com/sitebook/authcore/store/postgres"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupDB(t *testing.T) *pgxpool.Pool {
	t.Helper()

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		t.Skip("DATABASE_URL must be set for integration tests")
	}

	ctx := context.Background()
	pool, err := postgres.NewPool(ctx, dbURL)
	require.NoError(t, err)
	require.NoError(t, postgres.Migrate(ctx, pool))
	t.Cleanup(pool.Close)
	return pool
}

func newToken(t *testing.T, userID string, now time.Time) (*session.RefreshToken, string) {
	t.Helper()
	plain, hash, err := internal.NewRefreshToken()
	require.NoError(t, err)
	return &session.RefreshToken{
		ID:        uuid.NewString(),
		UserID:    userID,
		TokenHash: hash,
		IssuedAt:  now,
		ExpiresAt: now.Add(7 * 24 * time.Hour),
		IPAddress: "10.1.1.1",
		UserAgent: "integration",
	}, plain
}

func TestTokenStoreRotateSingleWinner(t *testing.T) {
	pool := setupDB(t)
	store := postgres.NewTokenStore(pool)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)
	userID := uuid.NewString()

	tok, _ := newToken(t, userID, now)
	require.NoError(t, store.Create(ctx, tok))

	const racers = 8
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			next, _ := newToken(t, "", now)
			_, err := store.Rotate(ctx, tok.TokenHash, next, now)
			if err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, session.ErrTokenRevoked)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)

	active, err := store.ListActive(ctx, userID, now)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, tok.ID, active[0].FamilyID)
}

func TestTokenStoreRevokeFamilies(t *testing.T) {
	pool := setupDB(t)
	store := postgres.NewTokenStore(pool)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)
	userID := uuid.NewString()

	keep, _ := newToken(t, userID, now)
	other, _ := newToken(t, userID, now)
	require.NoError(t, store.Create(ctx, keep))
	require.NoError(t, store.Create(ctx, other))

	n, err := store.RevokeAllExceptFamily(ctx, userID, keep.FamilyID, session.ReasonManual, now)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	changed, err := store.Revoke(ctx, other.ID, session.ReasonManual, now)
	require.NoError(t, err)
	assert.False(t, changed)

	_, err = store.Revoke(ctx, uuid.NewString(), session.ReasonManual, now)
	assert.ErrorIs(t, err, session.ErrTokenNotFound)

	got, err := store.GetByHash(ctx, other.TokenHash)
	require.NoError(t, err)
	assert.Equal(t, session.ReasonManual, got.RevokedReason)
}

func TestUserStoreTwoFactor(t *testing.T) {
	pool := setupDB(t)
	users := postgres.NewUserStore(pool)
	ctx := context.Background()

	u := &authcore.User{
		ID:              uuid.NewString(),
		Email:           uuid.NewString() + "@example.com",
		PasswordHash:    "hash",
		Name:            "Integration",
		Role:            "worker",
		TOTPLastCounter: -1,
		CreatedAt:       time.Now().UTC(),
	}
	require.NoError(t, users.CreateUser(ctx, u))
	assert.ErrorIs(t, users.CreateUser(ctx, u), authcore.ErrConflict)

	require.NoError(t, users.SetPendingTwoFactor(ctx, u.ID, "SECRET"))
	ok, err := users.EnableTwoFactor(ctx, u.ID, "OTHER", 5, nil)
	require.NoError(t, err)
	assert.False(t, ok)

	codes := [][32]byte{{1}, {2}}
	ok, err = users.EnableTwoFactor(ctx, u.ID, "SECRET", 5, codes)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.ErrorIs(t, users.SetPendingTwoFactor(ctx, u.ID, "NEW"), authcore.ErrAlreadyEnrolled)

	advanced, err := users.AdvanceTOTPCounter(ctx, u.ID, 5)
	require.NoError(t, err)
	assert.False(t, advanced)

	used, err := users.ConsumeBackupCode(ctx, u.ID, codes[0])
	require.NoError(t, err)
	assert.True(t, used)
	used, err = users.ConsumeBackupCode(ctx, u.ID, codes[0])
	require.NoError(t, err)
	assert.False(t, used)

	n, err := users.CountBackupCodes(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, users.ReplaceBackupCodes(ctx, u.ID, [][32]byte{{3}}))
	require.NoError(t, users.DisableTwoFactor(ctx, u.ID))
	assert.ErrorIs(t, users.ReplaceBackupCodes(ctx, u.ID, [][32]byte{{4}}), authcore.ErrNotEnrolled)
	n, err = users.CountBackupCodes(ctx, u.ID)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.ErrorIs(t, users.ReplaceBackupCodes(ctx, uuid.NewString(), nil), authcore.ErrUserNotFound)

	_, err = users.GetUserByID(ctx, uuid.NewString())
	assert.True(t, errors.Is(err, authcore.ErrUserNotFound))
}
