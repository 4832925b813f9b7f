package main

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/coursemart/authcore"
	"github.com/coursemart/authcore/internal/config"
)

func testConfig() *config.Config {
	return &config.Config{
		Env:   config.EnvLocal,
		Store: config.Store{Kind: config.StoreMemory, RedisPrefix: "rt"},
		Tokens: config.Tokens{
			AccessTTL:     5 * time.Minute,
			RefreshTTL:    time.Hour,
			Issuer:        "coursemart",
			AccessSecret:  "access-secret-access-secret-0123",
			RefreshSecret: "refresh-secret-refresh-secret-01",
		},
		Audit:   true,
		Metrics: true,
	}
}

func TestEngineConfigValidates(t *testing.T) {
	c := engineConfig(testConfig())
	if err := c.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if c.Token.AccessTTL != 5*time.Minute || !c.Audit.Enabled || !c.Metrics.EnableLatencyHistograms {
		t.Fatalf("unexpected mapping: %+v", c)
	}
}

func TestAttachMemoryStoreBuildsEngine(t *testing.T) {
	cfg := testConfig()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	b := authcore.New().
		WithConfig(engineConfig(cfg)).
		WithPrincipalProvider(authcore.NewMemoryPrincipals())

	cleanup, err := attachStore(context.Background(), cfg, b, log)
	if err != nil {
		t.Fatalf("attachStore: %v", err)
	}
	defer cleanup()

	engine, err := b.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	engine.Close()
}

func TestAttachRedisStoreFailsFast(t *testing.T) {
	cfg := testConfig()
	cfg.Store.Kind = config.StoreRedis
	cfg.Store.RedisAddr = "127.0.0.1:1"
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	if _, err := attachStore(context.Background(), cfg, authcore.New(), log); err == nil {
		t.Fatal("expected unreachable redis to fail")
	}
}
