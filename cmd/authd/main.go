// Command authd serves the coursemart session endpoints: refresh, logout,
// identity and the admin principal actions.
package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/coursemart/authcore"
	"github.com/coursemart/authcore/httpapi"
	"github.com/coursemart/authcore/internal/config"
	promexport "github.com/coursemart/authcore/metrics/export/prometheus"
	"github.com/coursemart/authcore/session"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", os.Getenv("CONFIG_PATH"), "path to the YAML config file")
	flag.Parse()

	cfg := config.MustLoad(configPath)

	log := setupLogger(cfg.Env)
	if err := run(cfg, log); err != nil {
		log.Error("authd stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	principals := authcore.NewMemoryPrincipals()
	for _, p := range cfg.Principals {
		principals.Put(authcore.Principal{
			ID:          p.ID,
			Role:        p.Role,
			DisplayName: p.DisplayName,
			Active:      !p.Disabled,
		})
	}

	builder := authcore.New().
		WithConfig(engineConfig(cfg)).
		WithPrincipalProvider(principals).
		WithLogger(log).
		WithAuditSink(authcore.NewSlogSink(log.With("component", "audit")))

	closeStore, err := attachStore(ctx, cfg, builder, log)
	if err != nil {
		return err
	}
	defer closeStore()

	engine, err := builder.Build()
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}
	defer engine.Close()

	if cfg.Env == config.EnvProd {
		gin.SetMode(gin.ReleaseMode)
	}

	apiCfg := httpapi.Config{
		AllowedOrigins:     cfg.CORS.AllowedOrigins,
		AllowMissingOrigin: cfg.CORS.AllowMissingOrigin,
		TrustedProxies:     cfg.HTTPServer.TrustedProxies,
		RatePerSecond:      cfg.RateLimit.PerSecond,
		Burst:              cfg.RateLimit.Burst,
		DevLogin:           cfg.DevLogin,
	}
	if cfg.Metrics {
		apiCfg.Metrics = promexport.NewPrometheusExporter(engine).Handler()
	}

	srv := &http.Server{
		Addr:         cfg.HTTPServer.Address,
		Handler:      httpapi.NewRouter(engine, principals, apiCfg, log),
		ReadTimeout:  cfg.HTTPServer.ReadTimeout,
		WriteTimeout: cfg.HTTPServer.WriteTimeout,
		IdleTimeout:  cfg.HTTPServer.IdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("authd listening", "address", srv.Addr, "env", cfg.Env, "store", cfg.Store.Kind)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPServer.ShutdownTimeout)
		defer cancel()
		log.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func engineConfig(cfg *config.Config) authcore.Config {
	c := authcore.DefaultConfig()
	c.Token.AccessTTL = cfg.Tokens.AccessTTL
	c.Token.RefreshTTL = cfg.Tokens.RefreshTTL
	c.Token.Issuer = cfg.Tokens.Issuer
	c.Token.Audience = cfg.Tokens.Audience
	c.Token.AccessKey = []byte(cfg.Tokens.AccessSecret)
	c.Token.RefreshKey = []byte(cfg.Tokens.RefreshSecret)
	c.Session.RedisPrefix = cfg.Store.RedisPrefix

	c.RefreshThrottle.Enabled = cfg.Throttle.Enabled
	c.RefreshThrottle.MaxAttempts = cfg.Throttle.MaxAttempts
	c.RefreshThrottle.Window = cfg.Throttle.Window

	c.Audit.Enabled = cfg.Audit
	c.Metrics.Enabled = cfg.Metrics
	c.Metrics.EnableLatencyHistograms = cfg.Metrics
	return c
}

// attachStore wires the configured revocation store into b and returns its
// cleanup.
func attachStore(ctx context.Context, cfg *config.Config, b *authcore.Builder, log *slog.Logger) (func(), error) {
	switch cfg.Store.Kind {
	case config.StoreRedis:
		rdb := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{cfg.Store.RedisAddr}})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			_ = rdb.Close()
			return nil, fmt.Errorf("redis %s: %w", cfg.Store.RedisAddr, err)
		}
		b.WithRedis(rdb)
		return func() { _ = rdb.Close() }, nil

	case config.StorePostgres:
		db, err := sql.Open("pgx", cfg.Store.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		store := session.NewSQLStore(db)
		migrateCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if err := store.Migrate(migrateCtx); err != nil {
			_ = db.Close()
			return nil, err
		}
		b.WithStore(store)
		return func() { _ = db.Close() }, nil

	default:
		log.Warn("using the in-memory revocation store; sessions are lost on restart")
		b.WithStore(session.NewMemoryStore())
		return func() {}, nil
	}
}

func setupLogger(env string) *slog.Logger {
	var log *slog.Logger

	switch env {
	case config.EnvLocal:
		log = slog.New(
			slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}),
		)
	case config.EnvDev:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}),
		)
	default:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}),
		)
	}
	slog.SetDefault(log)
	return log
}
