package authcore

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/coursemart/authcore/permission"
	"github.com/coursemart/authcore/session"
	"github.com/redis/go-redis/v9"
)

var (
	testAccessKey  = []byte("access-signing-key-0123456789abcdef")
	testRefreshKey = []byte("refresh-signing-key-0123456789abcdef")
)

type testClock struct{ unix atomic.Int64 }

func newTestClock() *testClock {
	c := &testClock{}
	c.unix.Store(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC).Unix())
	return c
}

func (c *testClock) Now() time.Time          { return time.Unix(c.unix.Load(), 0) }
func (c *testClock) Advance(d time.Duration) { c.unix.Add(int64(d / time.Second)) }

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Token.AccessKey = append([]byte(nil), testAccessKey...)
	cfg.Token.RefreshKey = append([]byte(nil), testRefreshKey...)
	cfg.Token.AccessTTL = 10 * time.Second
	cfg.Token.RefreshTTL = time.Hour
	return cfg
}

var (
	alice = Principal{ID: "u-alice", Role: permission.RoleStudent, DisplayName: "Alice", Active: true}
	ivan  = Principal{ID: "u-ivan", Role: permission.RoleInstructor, DisplayName: "Ivan", Active: true}
	ada   = Principal{ID: "u-ada", Role: permission.RoleAdmin, DisplayName: "Ada", Active: true}
)

func testPrincipals() *MemoryPrincipals {
	return NewMemoryPrincipals(alice, ivan, ada)
}

type redisFixture struct {
	engine     *Engine
	principals *MemoryPrincipals
	mr         *miniredis.Miniredis
	rdb        *redis.Client
}

// newRedisEngine builds an engine over a RedisStore on miniredis with the real clock.
func newRedisEngine(tb testing.TB, cfg Config, sink AuditSink) *redisFixture {
	tb.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		tb.Fatalf("miniredis.Run failed: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	principals := testPrincipals()

	engine, err := New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithPrincipalProvider(principals).
		WithAuditSink(sink).
		Build()
	if err != nil {
		mr.Close()
		tb.Fatalf("Build failed: %v", err)
	}

	tb.Cleanup(func() {
		engine.Close()
		_ = rdb.Close()
		mr.Close()
	})
	return &redisFixture{engine: engine, principals: principals, mr: mr, rdb: rdb}
}

// newClockedEngine builds an engine over a MemoryStore that shares clock.
func newClockedEngine(tb testing.TB, cfg Config, clock *testClock) (*Engine, *session.MemoryStore, *MemoryPrincipals) {
	tb.Helper()

	store := session.NewMemoryStore(session.WithMemoryClock(clock.Now))
	principals := testPrincipals()
	engine, err := New().
		WithConfig(cfg).
		WithStore(store).
		WithPrincipalProvider(principals).
		WithClock(clock.Now).
		Build()
	if err != nil {
		tb.Fatalf("Build failed: %v", err)
	}
	tb.Cleanup(engine.Close)
	return engine, store, principals
}

var errStoreDown = errors.New("store down")

// failingStore fails every call; engines built on it can only verify.
type failingStore struct{}

func (failingStore) Record(context.Context, session.Record) error         { return errStoreDown }
func (failingStore) Revoke(context.Context, string) error                 { return errStoreDown }
func (failingStore) RevokeAll(context.Context, string) error              { return errStoreDown }
func (failingStore) RevokeSession(context.Context, string) error          { return errStoreDown }
func (failingStore) IsLive(context.Context, string) (bool, error)         { return false, errStoreDown }
func (failingStore) Rotate(context.Context, string, session.Record) error { return errStoreDown }

// readOnlyPrincipals implements PrincipalProvider but not PrincipalAdmin.
type readOnlyPrincipals struct{}

func (readOnlyPrincipals) GetPrincipal(_ context.Context, id string) (Principal, error) {
	if id == alice.ID {
		return alice, nil
	}
	return Principal{}, ErrPrincipalNotFound
}
