package session

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = client.Close()
		mr.Close()
	})
	return NewRedisStore(client, "art", time.Hour), mr
}

func hashOf(s string) [32]byte {
	return sha256.Sum256([]byte(s))
}

func newRow(id, userID, secret string, issued time.Time) *RefreshToken {
	return &RefreshToken{
		ID:        id,
		UserID:    userID,
		TokenHash: hashOf(secret),
		IssuedAt:  issued,
		ExpiresAt: issued.Add(7 * 24 * time.Hour),
		IPAddress: "10.0.0.1",
		UserAgent: "test-agent",
	}
}

func successor(id, secret string, now time.Time) *RefreshToken {
	return &RefreshToken{
		ID:        id,
		TokenHash: hashOf(secret),
		IssuedAt:  now,
		ExpiresAt: now.Add(7 * 24 * time.Hour),
		IPAddress: "10.0.0.2",
		UserAgent: "rotated-agent",
	}
}

func TestCreateAndGetByHash(t *testing.T) {
	store, _ := newTestRedisStore(t)
	ctx := context.Background()
	now := time.Now()

	row := newRow("t1", "u1", "secret-1", now)
	if err := store.Create(ctx, row); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	got, err := store.GetByHash(ctx, hashOf("secret-1"))
	if err != nil {
		t.Fatalf("GetByHash failed: %v", err)
	}
	if got.ID != "t1" || got.UserID != "u1" || got.FamilyID != "t1" {
		t.Fatalf("unexpected row: %+v", got)
	}
	if got.ExpiresAt.Sub(got.IssuedAt) != 7*24*time.Hour {
		t.Fatalf("expected 7 day lifetime, got %v", got.ExpiresAt.Sub(got.IssuedAt))
	}
	if !got.ActiveAt(now) {
		t.Fatalf("expected new row to be active, state=%s", got.StateAt(now))
	}
	if got.IPAddress != "10.0.0.1" || got.UserAgent != "test-agent" {
		t.Fatalf("device metadata not persisted: %+v", got)
	}

	if _, err := store.GetByHash(ctx, hashOf("unknown")); !errors.Is(err, ErrTokenNotFound) {
		t.Fatalf("expected ErrTokenNotFound, got %v", err)
	}
}

func TestRotateIsSingleUse(t *testing.T) {
	store, _ := newTestRedisStore(t)
	ctx := context.Background()
	now := time.Now()

	if err := store.Create(ctx, newRow("t1", "u1", "secret-1", now)); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	next := successor("t2", "secret-2", now)
	consumed, err := store.Rotate(ctx, hashOf("secret-1"), next, now)
	if err != nil {
		t.Fatalf("Rotate failed: %v", err)
	}
	if consumed.ID != "t1" || consumed.StateAt(now) != StateRotated || consumed.ReplacedBy != "t2" {
		t.Fatalf("unexpected consumed row: %+v", consumed)
	}
	if next.UserID != "u1" || next.FamilyID != "t1" {
		t.Fatalf("successor did not inherit owner and family: %+v", next)
	}

	again, err := store.Rotate(ctx, hashOf("secret-1"), successor("t3", "secret-3", now), now)
	if !errors.Is(err, ErrTokenRevoked) {
		t.Fatalf("expected ErrTokenRevoked on replay, got %v", err)
	}
	if again == nil || again.UserID != "u1" {
		t.Fatalf("expected replayed row to be returned, got %+v", again)
	}
	if _, err := store.GetByHash(ctx, hashOf("secret-3")); !errors.Is(err, ErrTokenNotFound) {
		t.Fatalf("replay must not create a successor, got %v", err)
	}

	active, err := store.ListActive(ctx, "u1", now)
	if err != nil {
		t.Fatalf("ListActive failed: %v", err)
	}
	if len(active) != 1 || active[0].ID != "t2" {
		t.Fatalf("expected only successor active, got %+v", active)
	}
}

func TestRotateUnknownAndExpired(t *testing.T) {
	store, _ := newTestRedisStore(t)
	ctx := context.Background()
	now := time.Now()

	if _, err := store.Rotate(ctx, hashOf("missing"), successor("x", "y", now), now); !errors.Is(err, ErrTokenNotFound) {
		t.Fatalf("expected ErrTokenNotFound, got %v", err)
	}

	if err := store.Create(ctx, newRow("old", "u1", "old-secret", now.Add(-7*24*time.Hour-time.Minute))); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	row, err := store.Rotate(ctx, hashOf("old-secret"), successor("n", "n-secret", now), now)
	if !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
	if row == nil || row.RevokedAt != nil {
		t.Fatalf("expiry must not be written as a revocation: %+v", row)
	}
}

func TestRotateConcurrencySingleWinner(t *testing.T) {
	store, _ := newTestRedisStore(t)
	ctx := context.Background()
	now := time.Now()

	if err := store.Create(ctx, newRow("t1", "u1", "shared", now)); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	const workers = 16
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		success  int
		rejected int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := store.Rotate(ctx, hashOf("shared"), successor(fmt.Sprintf("n%d", i), fmt.Sprintf("s%d", i), now), now)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				success++
			case errors.Is(err, ErrTokenRevoked):
				rejected++
			default:
				t.Errorf("unexpected rotate error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if success != 1 || rejected != workers-1 {
		t.Fatalf("expected exactly one winner, got success=%d rejected=%d", success, rejected)
	}

	active, err := store.ListActive(ctx, "u1", now)
	if err != nil {
		t.Fatalf("ListActive failed: %v", err)
	}
	if len(active) != 1 {
		t.Fatalf("expected exactly one active descendant, got %d", len(active))
	}
}

func TestRevokeIsIdempotent(t *testing.T) {
	store, _ := newTestRedisStore(t)
	ctx := context.Background()
	now := time.Now()

	if err := store.Create(ctx, newRow("t1", "u1", "secret-1", now)); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	changed, err := store.Revoke(ctx, "t1", ReasonManual, now)
	if err != nil || !changed {
		t.Fatalf("first revoke: changed=%v err=%v", changed, err)
	}
	first, err := store.Get(ctx, "t1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}

	changed, err = store.Revoke(ctx, "t1", ReasonSecurity, now.Add(time.Minute))
	if err != nil || changed {
		t.Fatalf("second revoke must be a no-op: changed=%v err=%v", changed, err)
	}
	second, err := store.Get(ctx, "t1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}

	if second.RevokedReason != ReasonManual || !second.RevokedAt.Equal(*first.RevokedAt) {
		t.Fatalf("second revoke changed state: first=%+v second=%+v", first, second)
	}

	if _, err := store.Revoke(ctx, "missing", ReasonManual, now); !errors.Is(err, ErrTokenNotFound) {
		t.Fatalf("expected ErrTokenNotFound, got %v", err)
	}
	if _, err := store.Revoke(ctx, "t1", RevokeReason("bogus"), now); err == nil {
		t.Fatal("expected invalid reason to be rejected")
	}
}

func TestRevokeAllExceptFamily(t *testing.T) {
	store, _ := newTestRedisStore(t)
	ctx := context.Background()
	now := time.Now()

	for i, id := range []string{"t1", "t2", "t3"} {
		if err := store.Create(ctx, newRow(id, "u1", "secret-"+id, now.Add(time.Duration(i)*time.Second))); err != nil {
			t.Fatalf("Create %s failed: %v", id, err)
		}
	}
	if err := store.Create(ctx, newRow("other", "u2", "secret-other", now)); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	count, err := store.RevokeAllExceptFamily(ctx, "u1", "t1", ReasonManual, now.Add(time.Minute))
	if err != nil {
		t.Fatalf("RevokeAllExceptFamily failed: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 revoked, got %d", count)
	}

	check := now.Add(2 * time.Minute)
	for id, want := range map[string]State{"t1": StateActive, "t2": StateRevoked, "t3": StateRevoked, "other": StateActive} {
		row, err := store.Get(ctx, id)
		if err != nil {
			t.Fatalf("Get %s failed: %v", id, err)
		}
		if got := row.StateAt(check); got != want {
			t.Fatalf("%s: expected %s, got %s", id, want, got)
		}
	}
}

func TestRevokeAllForUserAndListOrder(t *testing.T) {
	store, _ := newTestRedisStore(t)
	ctx := context.Background()
	now := time.Now()

	for i, id := range []string{"a", "b", "c"} {
		if err := store.Create(ctx, newRow(id, "u1", "secret-"+id, now.Add(time.Duration(i)*time.Second))); err != nil {
			t.Fatalf("Create %s failed: %v", id, err)
		}
	}

	active, err := store.ListActive(ctx, "u1", now.Add(time.Minute))
	if err != nil {
		t.Fatalf("ListActive failed: %v", err)
	}
	if len(active) != 3 || active[0].ID != "c" || active[2].ID != "a" {
		t.Fatalf("expected most recent first, got %v", ids(active))
	}

	count, err := store.RevokeAllForUser(ctx, "u1", ReasonLogout, now.Add(time.Minute))
	if err != nil {
		t.Fatalf("RevokeAllForUser failed: %v", err)
	}
	if count != 3 {
		t.Fatalf("expected 3 revoked, got %d", count)
	}

	active, err = store.ListActive(ctx, "u1", now.Add(2*time.Minute))
	if err != nil {
		t.Fatalf("ListActive failed: %v", err)
	}
	if len(active) != 0 {
		t.Fatalf("expected no active rows, got %v", ids(active))
	}

	count, err = store.RevokeAllForUser(ctx, "u1", ReasonLogout, now.Add(3*time.Minute))
	if err != nil || count != 0 {
		t.Fatalf("repeat revoke-all must be a no-op: count=%d err=%v", count, err)
	}
}

func TestListActivePrunesDroppedRows(t *testing.T) {
	store, mr := newTestRedisStore(t)
	ctx := context.Background()
	now := time.Now()

	for i, id := range []string{"old", "live"} {
		if err := store.Create(ctx, newRow(id, "u1", "secret-"+id, now.Add(time.Duration(i)*time.Second))); err != nil {
			t.Fatalf("Create %s failed: %v", id, err)
		}
	}
	mr.Del("art:t:old")

	active, err := store.ListActive(ctx, "u1", now.Add(time.Minute))
	if err != nil {
		t.Fatalf("ListActive failed: %v", err)
	}
	if len(active) != 1 || active[0].ID != "live" {
		t.Fatalf("expected only live row, got %v", ids(active))
	}

	members, err := mr.ZMembers("art:u:u1")
	if err != nil {
		t.Fatalf("ZMembers failed: %v", err)
	}
	if len(members) != 1 || members[0] != "live" {
		t.Fatalf("expected dropped id pruned from index, got %v", members)
	}
}

func TestStoreUnavailable(t *testing.T) {
	store, mr := newTestRedisStore(t)
	mr.Close()

	if _, err := store.Rotate(context.Background(), hashOf("x"), successor("n", "s", time.Now()), time.Now()); !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
	if _, err := store.Ping(context.Background()); !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable from Ping, got %v", err)
	}
}

func ids(rows []*RefreshToken) []string {
	out := make([]string, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.ID)
	}
	return out
}
