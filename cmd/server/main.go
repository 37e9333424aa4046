package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/parley-chat/parley/internal/api"
	"github.com/parley-chat/parley/internal/auth"
	"github.com/parley-chat/parley/internal/cache"
	"github.com/parley-chat/parley/internal/config"
	"github.com/parley-chat/parley/internal/handlers"
	"github.com/parley-chat/parley/internal/store"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize logger
	var logger zerolog.Logger
	if cfg.IsDevelopment() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
			With().
			Timestamp().
			Logger()
	} else {
		logger = zerolog.New(os.Stdout).
			With().
			Timestamp().
			Logger()
	}

	ctx := context.Background()

	// Initialize document store
	var (
		conversations store.ConversationStore
		messages      store.MessageStore
		storePinger   handlers.Pinger
	)
	if cfg.MongoURI != "" {
		mongoStore, err := store.NewMongoStore(ctx, cfg.MongoURI)
		if err != nil {
			logger.Fatal().Err(err).Msg("mongodb connection failed")
		}
		defer mongoStore.Close(ctx)
		logger.Info().Msg("connected to MongoDB")
		conversations, messages, storePinger = mongoStore.Conversations, mongoStore.Messages, mongoStore
	} else {
		memStore := store.NewMemoryStore()
		logger.Warn().Msg("MONGODB_URI not set, using in-memory store")
		conversations, messages, storePinger = memStore.Conversations, memStore.Messages, memStore
	}

	// Initialize cache
	var (
		pageCache   cache.PageCache = cache.Null{}
		cachePinger handlers.Pinger
	)
	if cfg.RedisURL != "" {
		redisCache, err := cache.NewRedisCache(ctx, cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("redis connection failed")
		}
		defer redisCache.Close()
		logger.Info().Msg("connected to Redis")
		pageCache, cachePinger = redisCache, redisCache
	} else {
		logger.Warn().Msg("REDIS_URL not set, message page caching disabled")
	}

	verifier := auth.NewVerifier(cfg.JWTSecret)

	h := handlers.NewHandler(handlers.Config{
		Conversations:    conversations,
		Messages:         messages,
		Cache:            pageCache,
		Logger:           logger,
		StrictInvalidate: cfg.StrictInvalidate,
		StorePinger:      storePinger,
		CachePinger:      cachePinger,
	})

	router := api.NewRouter(logger, h, verifier)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("env", cfg.Env).
			Msg("starting parley messaging server")

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed to start")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server...")

	// Graceful shutdown with 30 second timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server forced to shutdown")
	}

	logger.Info().Msg("server stopped")
}
