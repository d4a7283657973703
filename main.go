package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"todoshare/auth"
	"todoshare/config"
	"todoshare/handlers"
	"todoshare/service"
	"todoshare/store"
	"todoshare/utils"
)

func main() {
	if err := run(); err != nil {
		slog.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)
	logger.Info("starting", "environment", cfg.Env, "addr", cfg.Addr)
	if cfg.GeneratedSecret {
		logger.Warn("TOKEN_SECRET not set, using a random secret; tokens will not survive a restart")
	}

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisClient, err = utils.OpenRedisPool(ctx, cfg.RedisURL)
		if err != nil {
			return err
		}
		defer redisClient.Close()
	} else {
		logger.Info("REDIS_URL not set, login throttling and activity tracking disabled")
	}

	tokens, err := auth.NewTokenService(auth.TokenConfig{
		Secret:    cfg.TokenSecret,
		Algorithm: cfg.TokenAlgorithm,
	})
	if err != nil {
		return err
	}

	h := handlers.New(handlers.Deps{
		Credentials: auth.NewCredentials(db, cfg.BCryptCost),
		Tokens:      tokens,
		Tasks:       service.NewTaskService(db),
		DB:          db,
		Activity:    utils.NewActivityTracker(redisClient),
		Throttle:    utils.NewLoginThrottle(redisClient, cfg.LoginMaxAttempts, cfg.LoginLockout),
		Logger:      logger,
	})

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           h.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down", "timeout", cfg.ShutdownTimeout)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
