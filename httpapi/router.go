package httpapi

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/coursemart/authcore"
	"github.com/coursemart/authcore/middleware"
	"github.com/coursemart/authcore/permission"
)

// Config controls the router surface.
type Config struct {
	// AllowedOrigins is the CORS allow-list.
	AllowedOrigins []string
	// AllowMissingOrigin admits state-changing requests that carry no Origin
	// header. Browsers always send one; CLI and server-to-server clients do not.
	AllowMissingOrigin bool
	// TrustedProxies lists the proxy addresses or CIDRs whose X-Forwarded-For
	// is believed. Empty trusts none, so the client IP is the socket peer.
	TrustedProxies []string
	// RatePerSecond and Burst shape the per-IP limiter on /auth routes. Zero disables it.
	RatePerSecond float64
	Burst         int
	// DevLogin mounts POST /auth/login, which signs in any active principal by id.
	DevLogin bool
	// Metrics, when set, is served at GET /metrics.
	Metrics http.Handler
}

// Server holds the dependencies of the handlers.
type Server struct {
	engine     *authcore.Engine
	principals authcore.PrincipalProvider
	logger     *slog.Logger
}

// NewRouter builds the gin engine. principals is only used by the dev login route.
func NewRouter(engine *authcore.Engine, principals authcore.PrincipalProvider, cfg Config, logger *slog.Logger) *gin.Engine {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{engine: engine, principals: principals, logger: logger.With("component", "httpapi")}

	r := gin.New()
	if err := r.SetTrustedProxies(cfg.TrustedProxies); err != nil {
		s.logger.Error("invalid trusted proxies, trusting none", "error", err)
		_ = r.SetTrustedProxies(nil)
	}
	r.Use(gin.Recovery())
	r.Use(s.requestLog())
	r.Use(cors.New(corsConfig(cfg.AllowedOrigins)))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if cfg.Metrics != nil {
		r.GET("/metrics", gin.WrapH(cfg.Metrics))
	}

	auth := r.Group("/auth")
	auth.Use(requireOrigin(cfg.AllowMissingOrigin))
	if cfg.RatePerSecond > 0 {
		auth.Use(newIPLimiter(cfg.RatePerSecond, cfg.Burst, 5*time.Minute).handler())
	}
	{
		auth.POST("/refresh", s.refresh)
		auth.POST("/logout", s.logout)
		auth.POST("/logout-all", middleware.GinAuthenticated(engine), s.logoutAll)
		auth.GET("/me", middleware.GinAuthenticated(engine), s.me)
		if cfg.DevLogin && principals != nil {
			auth.POST("/login", s.devLogin)
		}
	}

	admin := r.Group("/admin")
	admin.Use(requireOrigin(cfg.AllowMissingOrigin))
	{
		admin.POST("/principals/:id/deactivate", middleware.Gin(engine, permission.UserDeactivate), s.deactivate)
		admin.PUT("/principals/:id/role", middleware.Gin(engine, permission.UserRole), s.changeRole)
	}

	return r
}

func corsConfig(origins []string) cors.Config {
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		allowed[o] = true
	}
	return cors.Config{
		AllowOriginFunc: func(origin string) bool {
			return allowed[origin]
		},
		AllowMethods:     []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length", "WWW-Authenticate"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
}

func (s *Server) requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}
