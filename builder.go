package authcore

import (
	"errors"
	"log/slog"
	"time"

	"github.com/coursemart/authcore/internal/audit"
	"github.com/coursemart/authcore/internal/flows"
	"github.com/coursemart/authcore/internal/ids"
	"github.com/coursemart/authcore/internal/rate"
	"github.com/coursemart/authcore/jwt"
	"github.com/coursemart/authcore/permission"
	"github.com/coursemart/authcore/session"
	"github.com/redis/go-redis/v9"
)

// Builder assembles an [Engine]. A Builder can be built once.
type Builder struct {
	config Config
	redis  redis.UniversalClient
	store  session.Store

	table       *permission.Table
	permissions []string
	roles       map[string][]string

	principals PrincipalProvider
	auditSink  AuditSink
	logger     *slog.Logger
	now        func() time.Time

	built bool
}

func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis supplies the client for the refresh throttle and, unless
// [Builder.WithStore] is also used, a [session.RedisStore].
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithStore sets the revocation store explicitly.
func (b *Builder) WithStore(store session.Store) *Builder {
	b.store = store
	return b
}

// WithPermissionTable sets the role table. Without it (and without
// WithPermissions/WithRoles) the engine uses [permission.Default].
func (b *Builder) WithPermissionTable(table *permission.Table) *Builder {
	b.table = table
	return b
}

// WithPermissions and WithRoles build a table from a catalog and grants.
func (b *Builder) WithPermissions(perms []string) *Builder {
	b.permissions = perms
	return b
}

func (b *Builder) WithRoles(r map[string][]string) *Builder {
	b.roles = r
	return b
}

func (b *Builder) WithPrincipalProvider(p PrincipalProvider) *Builder {
	b.principals = p
	return b
}

func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

// WithClock overrides the clock used for issuing, verifying and recording
// tokens. Stores keep their own clocks.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and wires the engine.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if b.principals == nil {
		return nil, errors.New("principal provider required")
	}
	if cfg.RefreshThrottle.Enabled && b.redis == nil {
		return nil, errors.New("RefreshThrottle requires redis client")
	}

	// -------- PERMISSION TABLE --------
	table := b.table
	if table == nil {
		if len(b.permissions) > 0 || len(b.roles) > 0 {
			t, err := permission.NewTable(b.permissions, b.roles)
			if err != nil {
				return nil, err
			}
			table = t
		} else {
			table = permission.Default()
		}
	}

	// -------- SESSION STORE --------
	store := b.store
	if store == nil {
		if b.redis == nil {
			return nil, errors.New("session store or redis client required")
		}
		store = session.NewRedisStore(b.redis, cfg.Session.RedisPrefix)
	}

	now := b.now
	if now == nil {
		now = time.Now
	}
	logger := b.logger
	if logger == nil {
		logger = slog.Default()
	}

	// -------- TOKEN CODEC --------
	jm, err := jwt.NewManager(jwt.Config{
		Access: jwt.KeyConfig{
			SigningMethod: jwt.SigningMethod(cfg.Token.SigningMethod),
			PrivateKey:    cloneBytes(cfg.Token.AccessKey),
			PublicKey:     cloneBytes(cfg.Token.AccessPublicKey),
			KeyID:         cfg.Token.KeyID,
		},
		Refresh: jwt.KeyConfig{
			SigningMethod: jwt.SigningMethod(cfg.Token.SigningMethod),
			PrivateKey:    cloneBytes(cfg.Token.RefreshKey),
			PublicKey:     cloneBytes(cfg.Token.RefreshPublicKey),
			KeyID:         cfg.Token.KeyID,
		},
		Issuer:       cfg.Token.Issuer,
		Audience:     cfg.Token.Audience,
		MaxFutureIAT: cfg.Token.MaxFutureIAT,
		Now:          now,
	})
	if err != nil {
		return nil, err
	}

	engine := &Engine{
		config:     cloneConfig(cfg),
		table:      table,
		store:      store,
		principals: b.principals,
		jwtManager: jm,
		logger:     logger.With("component", "authcore"),
		now:        now,
		metrics:    NewMetrics(cfg.Metrics),
		audit: audit.NewDispatcher(audit.Config{
			Enabled:    cfg.Audit.Enabled,
			BufferSize: cfg.Audit.BufferSize,
			DropIfFull: cfg.Audit.DropIfFull,
		}, b.auditSink),
	}

	if cfg.RefreshThrottle.Enabled {
		engine.rateLimiter = rate.New(b.redis, rate.Config{
			MaxAttempts: cfg.RefreshThrottle.MaxAttempts,
			Window:      cfg.RefreshThrottle.Window,
			Prefix:      cfg.RefreshThrottle.RedisPrefix,
		})
	}

	engine.flows = flows.New(flows.Deps{
		Authorize: flows.AuthorizeDeps{
			Verify: func(token string) (*jwt.Claims, error) {
				return jm.Verify(token, jwt.KindAccess)
			},
			HasRole: table.HasRole,
			Allows:  table.Allows,
		},
		Refresh: flows.RefreshDeps{
			Verify: func(token string) (*jwt.Claims, error) {
				return jm.Verify(token, jwt.KindRefresh)
			},
			Issue:           jm.Issue,
			NewTokenID:      ids.NewTokenID,
			LookupPrincipal: engine.lookupPrincipal,
			Now:             now,
			AccessTTL:       cfg.Token.AccessTTL,
			RefreshTTL:      cfg.Token.RefreshTTL,
			RateLimiter:     engine.refreshLimiter(),
			SessionStore:    store,
		},
		Logout: flows.LogoutDeps{
			Verify: func(token string) (*jwt.Claims, error) {
				return jm.VerifyAllowExpired(token, jwt.KindRefresh)
			},
			SessionStore: store,
		},
	})

	b.built = true

	return engine, nil
}
