package container

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"popup-runtime/internal/bridge"
	"popup-runtime/internal/config"
	"popup-runtime/internal/handler"
	"popup-runtime/internal/identity"
	"popup-runtime/internal/loader"
	"popup-runtime/internal/metrics"
	"popup-runtime/internal/repository"
	"popup-runtime/internal/service"
	"popup-runtime/internal/visit"
	"popup-runtime/pkg/database"
	"popup-runtime/pkg/logger"
	"popup-runtime/pkg/redis"
)

// Container holds all application dependencies
type Container struct {
	Config       *config.Config
	Logger       *logger.Logger
	RedisClient  *redis.Client
	DB           *database.PostgresDB
	Registry     *prometheus.Registry
	Metrics      *metrics.Metrics
	Identity     *identity.Service
	Tracker      visit.Tracker
	Repositories *repository.Repositories
	Services     *service.Services
	Source       loader.Source
	Hub          *bridge.Hub
}

// New creates a new dependency injection container. Redis is optional; the database is
// required only when decisions are read from PostgreSQL.
func New(ctx context.Context, cfg *config.Config, log *logger.Logger) (*Container, error) {
	c := &Container{
		Config:       cfg,
		Logger:       log,
		Registry:     prometheus.NewRegistry(),
		Repositories: &repository.Repositories{},
		Services:     &service.Services{},
	}
	c.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	c.Metrics = metrics.New(c.Registry)

	// Initialize Redis client if Redis URL is configured
	if cfg.RedisURL != "" {
		client, err := redis.NewClient(cfg.RedisURL, cfg.Environment, log.Named("redis").Logger)
		if err != nil {
			log.WithError(err).Warn("Failed to initialize Redis client, proceeding without frequency storage")
		} else {
			c.RedisClient = client
			log.Info("Redis client initialized successfully")
		}
	} else {
		log.Info("Redis URL not configured, proceeding without frequency storage")
	}

	if cfg.DatabaseURL != "" {
		db, err := database.NewPostgresDB(ctx, cfg.DatabaseURL)
		switch {
		case err != nil && cfg.DecisionSource == config.SourcePostgres:
			c.closeRedis()
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		case err != nil:
			log.WithError(err).Warn("Failed to connect to database, events will not be stored")
		default:
			c.DB = db
			if err := db.CheckSchema(ctx); err != nil {
				log.WithError(err).Warn("Database schema incomplete")
			}
			c.Repositories.Decisions = repository.NewDecisionRepository(db)
			c.Repositories.Events = repository.NewEventRepository(db)
			log.Info("Database connection pool initialized successfully")
		}
	}

	c.wireServices()

	secret := cfg.IdentitySecret
	if secret == "" {
		log.Warn("IDENTITY_SECRET not set, visitor tokens will not survive a restart")
		secret = uuid.NewString()
	}
	c.Identity = identity.NewService(secret, cfg.SessionIdle)

	if c.RedisClient != nil {
		c.Tracker = visit.NewRedisTracker(c.RedisClient, log)
	} else {
		c.Tracker = visit.NewMemoryTracker(time.Now)
	}

	c.Hub = bridge.NewHub(bridge.Config{
		APIBase:        cfg.APIBase,
		DebugAllowed:   cfg.DebugAllowed,
		SessionIdle:    cfg.SessionIdle,
		OriginPatterns: bridge.OriginPatterns(cfg.AllowedOrigins),
	}, bridge.Deps{
		Source:   c.Source,
		Identity: c.Identity,
		Tracker:  c.Tracker,
		Redis:    c.RedisClient,
		Metrics:  c.Metrics,
		Logger:   log,
	})

	return c, nil
}

func (c *Container) wireServices() {
	cfg, log := c.Config, c.Logger

	if c.Repositories.Decisions != nil {
		payloads := service.NewPayloadService(c.RedisClient, c.Repositories.Decisions, cfg.PayloadCacheTTL, log, c.Metrics)
		c.Services.Payloads = payloads
	}

	switch {
	case cfg.DecisionSource == config.SourcePostgres && c.Services.Payloads != nil:
		c.Source = c.Services.Payloads
	default:
		c.Source = loader.NewHTTPSource(cfg.APIBase, nil, log)
	}

	c.Services.Limiter = service.NewRateLimiter(c.RedisClient, cfg.EventRateLimit, log)
	events := service.NewEventService(c.Repositories.Events, log, c.Metrics)
	c.Services.Events = events
	if c.Repositories.Events != nil {
		c.Services.Retention = events
	}
}

// GetLogger returns the logger
func (c *Container) GetLogger() *logger.Logger {
	return c.Logger
}

// GetConfig returns the configuration
func (c *Container) GetConfig() *config.Config {
	return c.Config
}

// GetRedisClient returns the Redis client (may be nil if not configured)
func (c *Container) GetRedisClient() *redis.Client {
	return c.RedisClient
}

// HasRedis returns true if Redis client is available
func (c *Container) HasRedis() bool {
	return c.RedisClient != nil
}

// HasDatabase returns true if the database pool is available
func (c *Container) HasDatabase() bool {
	return c.DB != nil
}

// HealthChecks lists the configured dependencies for the health endpoint
func (c *Container) HealthChecks() map[string]handler.Pinger {
	checks := make(map[string]handler.Pinger)
	if c.RedisClient != nil {
		checks["redis"] = c.RedisClient
	}
	if c.DB != nil {
		checks["database"] = c.DB
	}
	return checks
}

func (c *Container) closeRedis() {
	if c.RedisClient != nil {
		_ = c.RedisClient.Close()
		c.RedisClient = nil
	}
}
