package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"popup-runtime/internal/bridge"
	"popup-runtime/internal/config"
	"popup-runtime/internal/container"
	"popup-runtime/internal/handler"
	"popup-runtime/internal/middleware"
	"popup-runtime/internal/service"
	"popup-runtime/pkg/database"
	"popup-runtime/pkg/logger"
	"popup-runtime/pkg/redis"
)

// Resources holds all resources that need cleanup
type Resources struct {
	db          *database.PostgresDB
	redisClient *redis.Client
	hub         *bridge.Hub
	server      *http.Server
	log         *logger.Logger
	mu          sync.Mutex
	closed      bool
}

// Cleanup gracefully closes all resources
func (r *Resources) Cleanup(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true

	var errors []error

	r.log.Info("Starting graceful shutdown...")

	// Shutdown HTTP server first to stop accepting new requests
	if r.server != nil {
		r.log.Info("Shutting down HTTP server...")
		if err := r.server.Shutdown(ctx); err != nil {
			r.log.WithError(err).Error("Failed to shutdown HTTP server")
			errors = append(errors, fmt.Errorf("HTTP server shutdown: %w", err))
		} else {
			r.log.Info("HTTP server shutdown complete")
		}
	}

	// Hijacked websocket connections are not covered by server.Shutdown
	if r.hub != nil {
		r.log.WithField("sessions", r.hub.Count()).Info("Closing bridge sessions...")
		if err := r.hub.Shutdown(ctx); err != nil {
			r.log.WithError(err).Error("Failed to close bridge sessions")
			errors = append(errors, fmt.Errorf("bridge shutdown: %w", err))
		} else {
			r.log.Info("Bridge sessions closed")
		}
	}

	// Close Redis connection with health check
	if r.redisClient != nil {
		r.log.Info("Closing Redis connection...")

		// Quick health check before closing (with short timeout)
		healthCtx, healthCancel := context.WithTimeout(ctx, 2*time.Second)
		if err := r.redisClient.Health(healthCtx); err != nil {
			r.log.WithError(err).Warn("Redis health check failed before closing")
		}
		healthCancel()

		if err := r.redisClient.Close(); err != nil {
			r.log.WithError(err).Error("Failed to close Redis connection")
			errors = append(errors, fmt.Errorf("Redis close: %w", err))
		} else {
			r.log.Info("Redis connection closed successfully")
		}
	}

	// Close database connection pool
	if r.db != nil {
		r.log.Info("Closing database connection pool...")
		r.db.Close()
		r.log.Info("Database connection pool closed successfully")
	}

	if len(errors) > 0 {
		r.log.WithField("error_count", len(errors)).Error("Cleanup completed with errors")
		return fmt.Errorf("cleanup completed with %d errors: %v", len(errors), errors)
	}

	r.log.Info("Graceful shutdown completed successfully")
	return nil
}

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log, err := logger.NewWithOptions(logger.Options{
		Level:   cfg.LogLevel,
		Console: cfg.LogFormat == "console",
	})
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	log.WithFields(map[string]interface{}{
		"port":            cfg.Port,
		"log_level":       cfg.LogLevel,
		"environment":     cfg.Environment,
		"decision_source": cfg.DecisionSource,
	}).Info("Starting popupd")

	// Create dependency injection container
	ctx := context.Background()
	c, err := container.New(ctx, cfg, log)
	if err != nil {
		log.WithError(err).Fatal("Failed to create container")
	}

	router := setupRouter(c)

	server := &http.Server{
		Addr:           ":" + cfg.Port,
		Handler:        router,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   30 * time.Second,
		IdleTimeout:    120 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	resources := &Resources{
		db:          c.DB,
		redisClient: c.RedisClient,
		hub:         c.Hub,
		server:      server,
		log:         log,
	}

	retentionCtx, stopRetention := context.WithCancel(ctx)
	defer stopRetention()
	if cfg.EventRetention > 0 && c.Services.Retention != nil {
		go service.RunRetention(retentionCtx, c.Services.Retention, cfg.EventRetention, time.Hour, log)
	}

	// Setup graceful shutdown handling
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	// Setup cleanup function that will be called regardless of how the program exits
	defer func() {
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := resources.Cleanup(cleanupCtx); err != nil {
			log.WithError(err).Error("Cleanup completed with errors")
		}
	}()

	// Start server in a goroutine
	serverErrChan := make(chan error, 1)
	go func() {
		log.Info("Server starting on port " + cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("Server error occurred")
			serverErrChan <- err
		}
	}()

	// Wait for interrupt signal or server error
	select {
	case sig := <-quit:
		log.WithField("signal", sig.String()).Info("Received shutdown signal")
	case err := <-serverErrChan:
		log.WithError(err).Error("Server failed, initiating shutdown")
	}

	log.Info("Initiating graceful shutdown...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 25*time.Second)
	defer cancel()

	if err := resources.Cleanup(shutdownCtx); err != nil {
		log.WithError(err).Error("Graceful shutdown completed with errors")
		os.Exit(1)
	}

	log.Info("Application shutdown complete")
}

// setupRouter configures and returns the HTTP router
func setupRouter(c *container.Container) *chi.Mux {
	cfg := c.GetConfig()
	log := c.GetLogger()

	r := chi.NewRouter()

	corsConfig := middleware.DefaultCORSConfig()
	corsConfig.AllowedOrigins = cfg.AllowedOrigins

	r.Use(middleware.CORS(corsConfig, log))
	r.Use(middleware.RequestID(log))
	r.Use(middleware.Metrics(c.Metrics))
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Recoverer)

	healthHandler := handler.NewHealthHandler(log, c.HealthChecks())
	eventsHandler := handler.NewEventsHandler(c.Services.Events, c.Services.Limiter, cfg.EventRateLimit, log)

	// The bridge hijacks the connection; keep it out of the compress/timeout group
	r.Get("/ws", c.Hub.ServeHTTP)

	r.Group(func(r chi.Router) {
		r.Use(chiMiddleware.Compress(5))
		r.Use(chiMiddleware.Timeout(30 * time.Second))

		r.Get("/health", healthHandler.Check)
		r.Handle("/metrics", promhttp.HandlerFor(c.Registry, promhttp.HandlerOpts{}))

		r.Route("/api", func(r chi.Router) {
			r.Post("/events", eventsHandler.Ingest)

			// The boot endpoint is served only when this instance reads decisions itself
			if c.Services.Payloads != nil {
				bootHandler := handler.NewBootHandler(c.Services.Payloads, cfg.PayloadCacheTTL, log)
				r.Get("/boot/{siteId}", bootHandler.GetPayload)
				r.Delete("/boot/{siteId}", bootHandler.Invalidate)
			}
		})
	})

	// 404 handler
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"success":false,"error":{"type":"not_found","message":"Endpoint not found"}}`))
	})

	log.Info("Router configured successfully")
	return r
}
