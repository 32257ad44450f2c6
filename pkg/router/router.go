package router

import (
	"context"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"spotlight/backend/internal/api"
	"spotlight/backend/pkg/config"
	"spotlight/backend/pkg/di"
	"spotlight/backend/pkg/errors"
	"spotlight/backend/pkg/health"
	"spotlight/backend/pkg/logger"
	"spotlight/backend/pkg/metrics"
	"spotlight/backend/pkg/middleware"
)

// Router is the main router for the application
type Router struct {
	Engine    *gin.Engine
	Container *di.Container
	Logger    *logger.Logger
	Config    *config.Config
	checker   *health.Checker
}

// New creates a new router with the given container
func New(container *di.Container) *Router {
	logger.SetGlobal(container.Logger)
	cfg := config.Get()

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	if err := engine.SetTrustedProxies(cfg.Security.TrustedProxies); err != nil {
		container.Logger.LogError(err, "invalid trusted proxy configuration")
	}
	engine.Use(logger.Middleware(container.Logger))
	engine.Use(errors.RecoveryWithLogger())

	limiterOpts := middleware.DefaultRateLimiterOptions()
	limiterOpts.Limit = rate.Limit(cfg.Security.RateLimit)
	limiterOpts.Burst = cfg.Security.RateLimitBurst
	rateLimiter := middleware.NewRateLimiter(container.Logger, limiterOpts)
	engine.Use(rateLimiter.Middleware())

	return &Router{
		Engine:    engine,
		Container: container,
		Logger:    container.Logger,
		Config:    cfg,
	}
}

// SetupRoutes registers all application routes
func (r *Router) SetupRoutes() {
	r.Engine.Use(cors.New(cors.Config{
		AllowOrigins:     r.Config.Security.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"},
		ExposeHeaders:    []string{"X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))

	dmController := api.NewDMController(
		r.Container.DMService,
		r.Container.Hub,
		r.Container.JWTService,
		r.Logger,
	)
	dmController.RegisterRoutes(r.Engine)

	r.Engine.GET("/metrics", metrics.Handler())

	r.checker = health.NewChecker(r.Logger, 30*time.Second)
	r.checker.RegisterDatabaseCheck(func() error {
		return config.TestConnection(r.Container.DB)
	})
	if r.Container.Cache != nil {
		r.checker.RegisterRedisCheck(func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return r.Container.Cache.Ping(ctx)
		})
	}
	r.checker.Start()
	r.Engine.GET("/health", gin.WrapF(r.checker.HTTPHandler()))
}
