package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	auditdomain "github.com/onetimesecret/billing/internal/audit/domain"
	billingdomain "github.com/onetimesecret/billing/internal/billing/domain"
	catalogdomain "github.com/onetimesecret/billing/internal/catalog/domain"
	"github.com/onetimesecret/billing/internal/config"
	"github.com/onetimesecret/billing/internal/observability/logger"
	"github.com/onetimesecret/billing/internal/observability/metrics"
	orgdomain "github.com/onetimesecret/billing/internal/organization/domain"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const HeaderOrg = "X-Org-Id"

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	Cfg         config.Config
	Billing     billingdomain.Service
	Catalog     catalogdomain.Service
	Orgs        orgdomain.Service
	Audit       auditdomain.Service
	HTTPMetrics *metrics.HTTPMetrics `optional:"true"`
}

type Server struct {
	db          *gorm.DB
	log         *zap.Logger
	cfg         config.Config
	billingSvc  billingdomain.Service
	catalogSvc  catalogdomain.Service
	orgSvc      orgdomain.Service
	auditSvc    auditdomain.Service
	httpMetrics *metrics.HTTPMetrics
	limiter     *rateLimiter
}

func NewServer(p Params) *Server {
	limit := p.Cfg.RateLimitPerMinute
	if limit <= 0 {
		limit = 120
	}
	return &Server{
		db:          p.DB,
		log:         p.Log.Named("server"),
		cfg:         p.Cfg,
		billingSvc:  p.Billing,
		catalogSvc:  p.Catalog,
		orgSvc:      p.Orgs,
		auditSvc:    p.Audit,
		httpMetrics: p.HTTPMetrics,
		limiter:     newRateLimiter(limit, time.Minute),
	}
}

func NewEngine(cfg config.Config) *gin.Engine {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(logger.GinMiddleware(logger.MiddlewareConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	return engine
}

func (s *Server) RegisterRoutes(engine *gin.Engine) {
	engine.Use(metrics.GinMiddleware(s.httpMetrics))

	engine.GET("/healthz", s.Healthz)
	if s.cfg.MetricsEnabled {
		engine.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	engine.POST("/webhooks/stripe", s.StripeWebhook)

	api := engine.Group("/api")
	api.Use(s.RateLimit())
	api.Use(s.APIKeyRequired())
	{
		api.GET("/plans", s.ListPlans)
		api.GET("/audit", s.ListAuditLogs)

		billing := api.Group("/billing")
		{
			billing.POST("/conflict/classify", s.ClassifyConflict)
			billing.POST("/migration/assess", s.AssessMigration)
			billing.POST("/migration/graceful", s.GracefulMigration)
			billing.POST("/migration/immediate", s.ImmediateMigration)
		}
	}
}

func (s *Server) RateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.limiter.Allow(c.ClientIP()) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": gin.H{
				"code":    "rate_limited",
				"message": "too many requests",
			}})
			return
		}
		c.Next()
	}
}

func RunHTTP(lc fx.Lifecycle, engine *gin.Engine, cfg config.Config, log *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Error("http server stopped", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
	})
}

var Module = fx.Module("server",
	fx.Provide(NewEngine),
	fx.Provide(NewServer),
	fx.Invoke(func(s *Server, engine *gin.Engine) {
		s.RegisterRoutes(engine)
	}),
	fx.Invoke(RunHTTP),
)
