package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	cfg "github.com/decodestudio/decodeauth/internal/config"
	"github.com/decodestudio/decodeauth/internal/logger"
	"github.com/decodestudio/decodeauth/internal/migrations"
)

func openDB(ctx context.Context, c *cfg.Config, log *slog.Logger) (DB, error) {
	switch c.DBAdapter {
	case "sqlite":
		if dir := filepath.Dir(c.SQLiteFile); dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, err
			}
		}
		return NewSQLiteDB(ctx, c.SQLiteFile, c.QueryTimeout)
	case "postgres":
		log.Info("applying database migrations", "dir", c.MigrationsDir)
		if err := migrations.Apply(c.MigrationsDir, c.PostgresDSN, log); err != nil {
			return nil, err
		}
		return NewPostgresDB(ctx, c.PostgresDSN, c.QueryTimeout)
	case "memory":
		log.Warn("using in-memory database (not recommended for production)")
		return NewMemoryDB(), nil
	}
	return nil, errors.New("unsupported DB_ADAPTER: " + c.DBAdapter)
}

func openLimiter(ctx context.Context, c *cfg.Config, log *slog.Logger) RateLimiter {
	if c.RedisAddr != "" {
		rl, err := NewRedisRateLimiter(ctx, c.RedisAddr, c.RedisPassword, c.RedisDB, c.RateLimitPerMinute, log)
		if err == nil {
			log.Info("using redis rate limiter", "addr", c.RedisAddr)
			return rl
		}
		log.Warn("redis rate limiter unavailable, falling back to memory", "error", err)
	}
	return NewMemoryRateLimiter(c.RateLimitPerMinute)
}

func main() {
	c, err := cfg.New()
	if err != nil {
		slog.Error("config", "error", err)
		os.Exit(1)
	}
	log := logger.New("decodeauth", c.LogLevel)

	ctx := context.Background()
	db, err := openDB(ctx, c, log)
	if err != nil {
		log.Error("database init", "adapter", c.DBAdapter, "error", err)
		os.Exit(1)
	}
	limiter := openLimiter(ctx, c, log)

	app, err := NewApp(c, db, limiter, log)
	if err != nil {
		log.Error("app init", "error", err)
		os.Exit(1)
	}

	if c.AdminEmail != "" && c.AdminPassword != "" {
		created, err := app.EnsureAdmin(ctx, c.AdminName, c.AdminEmail, c.AdminPassword)
		if err != nil {
			log.Error("bootstrap admin", "error", err)
			os.Exit(1)
		}
		if created {
			log.Info("bootstrap admin created", "email", c.AdminEmail)
		}
	}

	srv := &http.Server{
		Handler:           app.Router(),
		Addr:              ":" + c.Port,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      15 * time.Second,
	}

	go func() {
		log.Info("starting server", "port", c.Port, "env", c.Env, "db", c.DBAdapter)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown failed", "error", err)
	}
	_ = limiter.Close()
	_ = db.Close()
	log.Info("server exited properly")
}
