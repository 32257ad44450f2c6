package di

import (
	"gorm.io/gorm"

	"spotlight/backend/internal/hub"
	"spotlight/backend/internal/repository"
	"spotlight/backend/internal/service"
	"spotlight/backend/pkg/cache"
	"spotlight/backend/pkg/config"
	"spotlight/backend/pkg/jwt"
	"spotlight/backend/pkg/logger"
)

// Container holds all the dependencies for the application
type Container struct {
	DB         *gorm.DB
	Logger     *logger.Logger
	Cache      *cache.Client
	JWTService *jwt.Service
	DMService  *service.DMService
	Hub        *hub.Hub
}

// Config holds the configuration for the container
type Config struct {
	LoggerConfig logger.Config
	JWTSecret    string
	// CacheDisabled skips Redis so history always reads from the database
	CacheDisabled bool
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	cfg := config.Get()
	return &Config{
		LoggerConfig: logger.DefaultConfig(),
		JWTSecret:    cfg.JWT.Secret,
	}
}

// New creates a new dependency injection container
func New(db *gorm.DB, containerCfg *Config) (*Container, error) {
	if containerCfg == nil {
		containerCfg = DefaultConfig()
	}
	cfg := config.Get()

	log := logger.New(containerCfg.LoggerConfig)

	jwtService := jwt.NewService(containerCfg.JWTSecret, cfg.JWT.Expiry)

	var cacheClient *cache.Client
	if !containerCfg.CacheDisabled {
		cacheClient = cache.New(log)
	}

	messageRepo := repository.NewGormMessageRepository(db)
	dmService := service.NewDMService(messageRepo, cacheClient, cfg.DM.HistoryCacheTTL, log)

	h := hub.New(dmService, log)

	return &Container{
		DB:         db,
		Logger:     log,
		Cache:      cacheClient,
		JWTService: jwtService,
		DMService:  dmService,
		Hub:        h,
	}, nil
}
