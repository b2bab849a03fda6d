package authcore_test

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sitebook/authcore"
	"github.com/sitebook/authcore/session"
	"github.com/sitebook/authcore/store/memory"
	"go.uber.org/zap"
)

const testPassword = "correct-horse-battery"

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type testEnv struct {
	engine *authcore.Engine
	store  *session.RedisStore
	users  *memory.UserStore
	clock  *testClock
	mr     *miniredis.Miniredis
}

func testConfig() authcore.Config {
	cfg := authcore.DefaultConfig()
	cfg.Token.PrivateKey = []byte(strings.Repeat("s", 32))
	cfg.Password.Memory = 8192
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	return cfg
}

func newTestEnv(t *testing.T, cfg authcore.Config, logger *zap.Logger) *testEnv {
	t.Helper()
	return buildTestEnv(t, cfg, logger, nil)
}

func newTestEnvWithSink(t *testing.T, cfg authcore.Config, sink authcore.AuditSink) *testEnv {
	t.Helper()
	return buildTestEnv(t, cfg, nil, sink)
}

func buildTestEnv(t *testing.T, cfg authcore.Config, logger *zap.Logger, sink authcore.AuditSink) *testEnv {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := session.NewRedisStore(client, cfg.Session.RedisPrefix, cfg.Session.Retention)
	users := memory.NewUserStore()

	if logger == nil {
		logger = zap.NewNop()
	}
	builder := authcore.New().
		WithConfig(cfg).
		WithSessionStore(store).
		WithUserStore(users).
		WithLogger(logger)
	if sink != nil {
		builder = builder.WithAuditSink(sink)
	}
	engine, err := builder.Build()
	if err != nil {
		_ = client.Close()
		mr.Close()
		t.Fatalf("Build failed: %v", err)
	}

	clock := &testClock{now: time.Now().UTC().Truncate(time.Second)}
	authcore.SetClock(engine, clock.Now)

	t.Cleanup(func() {
		engine.Close()
		_ = client.Close()
		mr.Close()
	})

	return &testEnv{engine: engine, store: store, users: users, clock: clock, mr: mr}
}

func (env *testEnv) register(t *testing.T, email string) *authcore.AuthResult {
	t.Helper()
	res, err := env.engine.Register(context.Background(), authcore.RegisterInput{
		Email:     email,
		Password:  testPassword,
		Name:      "Test User",
		CompanyID: "company-1",
	})
	if err != nil {
		t.Fatalf("Register(%s) failed: %v", email, err)
	}
	return res
}

func (env *testEnv) login(t *testing.T, email string) *authcore.AuthResult {
	t.Helper()
	res, err := env.engine.Login(context.Background(), authcore.LoginInput{
		Email:    email,
		Password: testPassword,
	})
	if err != nil {
		t.Fatalf("Login(%s) failed: %v", email, err)
	}
	return res
}

func (env *testEnv) row(t *testing.T, id string) *session.RefreshToken {
	t.Helper()
	row, err := env.store.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("store.Get(%s) failed: %v", id, err)
	}
	return row
}

func (env *testEnv) activeIDs(t *testing.T, userID string) map[string]bool {
	t.Helper()
	rows, err := env.store.ListActive(context.Background(), userID, env.clock.Now())
	if err != nil {
		t.Fatalf("ListActive failed: %v", err)
	}
	out := make(map[string]bool, len(rows))
	for _, row := range rows {
		out[row.ID] = true
	}
	return out
}
