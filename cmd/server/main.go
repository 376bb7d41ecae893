// Package main provides the API server entry point for the tag gallery service.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tag-gallery/internal/adapter"
	"github.com/tag-gallery/internal/api"
	"github.com/tag-gallery/internal/circuitbreaker"
	"github.com/tag-gallery/internal/config"
	"github.com/tag-gallery/internal/logging"
	"github.com/tag-gallery/internal/metrics"
	"github.com/tag-gallery/internal/moderation"
	"github.com/tag-gallery/internal/query"
	"github.com/tag-gallery/internal/ratelimit"
	"github.com/tag-gallery/internal/resolver"
	"github.com/tag-gallery/internal/service"
	"github.com/tag-gallery/internal/storage"
	"github.com/tag-gallery/internal/types"
	"github.com/tag-gallery/internal/worker"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		logging.GetGlobalLogger().WithError(err).Fatal("Failed to load configuration")
	}

	logging.InitGlobalLogger(logging.ParseLogLevel(cfg.Logging.Level), logging.ParseLogFormat(cfg.Logging.Format))
	logger := logging.GetGlobalLogger()
	logger.WithFields(map[string]interface{}{
		"tag":          cfg.Gallery.Tag,
		"defaultLimit": cfg.Gallery.DefaultLimit,
		"upstream":     cfg.Upstream.Endpoint,
	}).Info("Tag gallery starting")

	ctx := context.Background()
	m := metrics.NewMetrics()

	// Upstream client: optional shared budget, circuit breaker, no retries
	clientOpts := []adapter.TeztokOption{adapter.WithLogger(logger)}

	var budget *ratelimit.UpstreamBudget
	if cfg.UpstreamBudgetEnabled() {
		redisClient, err := storage.NewRedisClient(ctx, &cfg.Redis)
		if err != nil {
			logger.WithError(err).Fatal("Failed to connect to Redis")
		}
		defer redisClient.Close()

		budget, err = ratelimit.NewUpstreamBudget(&ratelimit.UpstreamBudgetConfig{
			Redis:      redisClient,
			Budget:     cfg.Upstream.Budget,
			WindowSize: cfg.Upstream.Window,
			Logger:     logger,
		})
		if err != nil {
			logger.WithError(err).Fatal("Failed to create upstream budget")
		}
		clientOpts = append(clientOpts, adapter.WithBudget(budget))
		logger.WithFields(map[string]interface{}{
			"budget": cfg.Upstream.Budget,
			"window": cfg.Upstream.Window.String(),
		}).Info("Upstream budget enabled")
	}

	breakerCfg := circuitbreaker.DefaultConfig("teztok")
	breakerCfg.IsFailure = adapter.IsBreakerFailure
	clientOpts = append(clientOpts, adapter.WithCircuitBreaker(circuitbreaker.NewCircuitBreaker(breakerCfg, logger)))

	client := adapter.NewTeztokClient(cfg.Upstream.Endpoint, cfg.Upstream.Timeout, clientOpts...)

	cache := storage.NewFetchCache(client,
		storage.WithRecorder(m),
		storage.WithCacheLogger(logger),
	)

	exclusions, err := moderation.Load(cfg.Moderation.Inline, cfg.Moderation.File)
	if err != nil {
		logger.WithError(err).Fatal("Failed to load excluded tokens")
	}
	logger.WithField("excluded", exclusions.Len()).Info("Moderation list loaded")

	previews := resolver.NewPreviews(resolver.Gateways{
		Default: cfg.Gateways.Default,
		ByPlatform: map[types.Platform]string{
			types.PlatformFxhash: cfg.Gateways.Fxhash,
			types.PlatformHEN:    cfg.Gateways.Teia,
		},
	}, "")
	assembler := service.NewAssembler(exclusions, resolver.NewLinks(), previews)

	gallery := service.NewGalleryService(service.GalleryServiceConfig{
		Scope:           query.NewScope(cfg.Gallery.Tag, cfg.Gallery.ExtraPredicate),
		DefaultPageSize: cfg.Gallery.DefaultLimit,
		MaxSessions:     cfg.Session.MaxSessions,
		Observer:        m,
		Logger:          logger,
	}, cache, assembler)

	serverOpts := []api.ServerOption{api.WithMetrics(m), api.WithLogger(logger)}
	if budget != nil {
		serverOpts = append(serverOpts, api.WithBudgetReporter(budget))
	}
	server := api.NewServer(&api.ServerConfig{
		Host:              cfg.Server.Host,
		Port:              cfg.Server.Port,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      cfg.Upstream.Timeout + 15*time.Second,
		IdleTimeout:       60 * time.Second,
		RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
		Burst:             cfg.RateLimit.Burst,
		MaxWait:           cfg.Upstream.Timeout,
	}, gallery, serverOpts...)

	reaper, err := worker.NewSessionReaper(&worker.SessionReaperConfig{
		Sessions:    gallery,
		Limiters:    server.RateLimiter(),
		IdleTimeout: cfg.Session.IdleTimeout,
		Interval:    cfg.Session.ReapInterval,
		Logger:      logger,
	})
	if err != nil {
		logger.WithError(err).Fatal("Failed to create session reaper")
	}
	if err := reaper.Start(ctx); err != nil {
		logger.WithError(err).Fatal("Failed to start session reaper")
	}

	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("Server failed to start")
		}
	}()

	logger.WithFields(map[string]interface{}{
		"host": cfg.Server.Host,
		"port": cfg.Server.Port,
	}).Info("Server started successfully")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Server forced to shutdown")
	}
	if err := reaper.Stop(shutdownCtx); err != nil {
		logger.WithError(err).Warn("Session reaper did not stop cleanly")
	}
	gallery.Shutdown()

	logger.Info("Server exited")
}
