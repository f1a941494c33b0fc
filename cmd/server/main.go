package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gentlechase/api/internal/app"
	"github.com/gentlechase/api/internal/cache"
	"github.com/gentlechase/api/internal/config"
	"github.com/gentlechase/api/internal/db"
	"github.com/gentlechase/api/internal/importer"
	"github.com/gentlechase/api/internal/jobs"
	"github.com/gentlechase/api/internal/store"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := config.Load()
	if err != nil {
		logger.Error("load config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("connect database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	st := store.New(pool)

	synonyms := importer.DefaultSynonyms()
	if cfg.ImportSynonymsFile != "" {
		synonyms, err = importer.LoadSynonyms(cfg.ImportSynonymsFile)
		if err != nil {
			logger.Error("load import synonyms", "error", err, "path", cfg.ImportSynonymsFile)
			os.Exit(1)
		}
	}

	schedCfg := jobs.SchedulerConfig{ReminderSchedule: cfg.ReminderSchedule}
	var sessions importer.SessionStore
	if cfg.RedisURL != "" {
		client, err := cache.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			logger.Error("connect redis", "error", err)
			os.Exit(1)
		}
		defer client.Close()
		sessions = cache.NewSessionStore(client, cfg.ImportSessionTTL)
		logger.Info("import_sessions_backend", "backend", "redis")
	} else {
		mem := importer.NewMemoryStore(cfg.ImportSessionTTL)
		sessions = mem
		schedCfg.Sessions = mem
		logger.Info("import_sessions_backend", "backend", "memory")
	}
	if cfg.RemindersEnabled {
		schedCfg.Reminders = &jobs.ReminderSweep{Store: st, Logger: logger}
	}

	scheduler, err := jobs.NewScheduler(schedCfg, logger)
	if err != nil {
		logger.Error("build scheduler", "error", err)
		os.Exit(1)
	}
	scheduler.Start()

	router, err := app.NewRouter(cfg, app.Deps{
		Pool:     pool,
		Store:    st,
		Sessions: sessions,
		Synonyms: synonyms,
	}, logger)
	if err != nil {
		logger.Error("build router", "error", err)
		os.Exit(1)
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		ReadTimeout:       cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
	}

	go func() {
		logger.Info("api_started", "addr", cfg.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("api server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
	scheduler.Stop(shutdownCtx)
}
