package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"taskpulse/internal/api"
	"taskpulse/internal/cache"
	"taskpulse/internal/config"
	"taskpulse/internal/db"
	"taskpulse/internal/telemetry"
	"taskpulse/pkg/history"
	"taskpulse/pkg/instance"
	"taskpulse/pkg/lifecycle"
	"taskpulse/pkg/metrics"
	"taskpulse/pkg/prefs"
	"taskpulse/pkg/template"
)

func main() {
	ctx := context.Background()

	// optional .env for local development
	_ = godotenv.Load()

	logger, shutdownTelemetry, err := telemetry.Setup(ctx)
	if err != nil {
		log.Fatalf("telemetry: %v", err)
	}
	defer func() {
		if err := shutdownTelemetry(context.Background()); err != nil {
			log.Printf("telemetry shutdown: %v", err)
		}
	}()

	cfg, err := config.Load()
	if err != nil {
		logger.Error("load config", "error", err)
		os.Exit(1)
	}

	var (
		store     instance.Store
		hist      history.Store
		templates template.Registry
		prefStore prefs.Store
	)
	switch cfg.Store.Backend {
	case "postgres":
		pool, err := db.Connect(ctx, cfg.Store.DatabaseURL)
		if err != nil {
			logger.Error("connect database", "error", err)
			os.Exit(1)
		}
		defer pool.Close()
		store = instance.NewPgStore(pool, logger)
		hist = history.NewPgStore(pool)
		templates = template.NewPgStore(pool)
		prefStore = prefs.NewPgStore(pool)
	default:
		store = instance.NewFileStore(cfg.Store.FilePath, logger)
		hist = history.NewMemStore(0)
		templates = template.NewStaticRegistry()
		prefStore = prefs.NewStaticStore()
	}
	if err := store.EnsureSchema(ctx); err != nil {
		logger.Error("ensure instance schema", "error", err)
		os.Exit(1)
	}
	if err := hist.EnsureTable(ctx); err != nil {
		logger.Error("ensure transition log", "error", err)
		os.Exit(1)
	}

	var scoreCache cache.Cache
	switch cfg.Cache.Backend {
	case "redis":
		rc, err := cache.NewRedisCache(ctx, cfg.Cache.RedisAddr, cfg.Cache.RedisPass, cfg.Cache.RedisDB)
		if err != nil {
			logger.Error("connect redis", "error", err)
			os.Exit(1)
		}
		defer rc.Close()
		scoreCache = rc
	default:
		scoreCache = cache.NewMemoryCache(cfg.Cache.Size, cfg.Cache.TTL)
	}

	manager := lifecycle.New(store, templates, logger, lifecycle.WithHistory(hist))
	engine := metrics.NewEngine(store, templates, prefStore, logger)
	cached := metrics.NewCachedEngine(engine, scoreCache, cfg.Cache.TTL, logger)

	server := api.New(manager, store, cached, hist, templates, logger)

	httpServer := &http.Server{Addr: cfg.Server.Addr, Handler: server}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("taskpulse listening", "addr", cfg.Server.Addr, "store", cfg.Store.Backend, "cache", cfg.Cache.Backend)
		errCh <- httpServer.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error("listen", "error", err)
			os.Exit(1)
		}
	case <-stop:
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown", "error", err)
		}
	}
}
