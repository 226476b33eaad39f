// Command saverelayd runs the SaveRelay dispatch server: it serves the
// JSON API for operation creation, worker polling and status queries, and
// runs the background stuck-operation reaper.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/saverelay/saverelay/api"
	"github.com/saverelay/saverelay/pkg/config"
	"github.com/saverelay/saverelay/pkg/database"
	"github.com/saverelay/saverelay/pkg/engine"
	"github.com/saverelay/saverelay/pkg/logger"
	"github.com/saverelay/saverelay/pkg/reaper"
	"github.com/saverelay/saverelay/pkg/registry"
	"github.com/saverelay/saverelay/pkg/schedule"
	"github.com/saverelay/saverelay/pkg/storage"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "saverelayd: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// .env is optional; real deployments set env vars directly.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	zlog, err := logger.New(logger.Options{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
		File:   cfg.LogFile,
	})
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer zlog.Sync()

	slogger := slog.Default()

	db, err := database.New(cfg)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	store := storage.NewGormStorage(db.DB)
	if err := store.Migrate(context.Background()); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	reg := registry.New(store, registry.WithOfflineTimeout(cfg.OfflineTimeout))
	eng := engine.New(store, reg,
		engine.WithReapTimeout(cfg.ReapTimeout),
		engine.WithClaimLimit(cfg.ClaimLimit),
		engine.WithLogger(slogger),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rp := reaper.New(store,
		reaper.WithTimeout(cfg.ReapTimeout),
		reaper.WithSchedule(schedule.Every(cfg.ReapInterval)),
		reaper.WithLogger(slogger),
	)
	go func() {
		if err := rp.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			zlog.Error("reaper stopped", zap.Error(err))
		}
	}()

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "Authorization"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.Mount("/api/v1", api.Handler(eng, api.WithLogger(zlog)))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		zlog.Info("server listening",
			zap.Int("port", cfg.Port),
			zap.String("driver", cfg.DatabaseDriver),
			zap.Duration("reap_timeout", cfg.ReapTimeout))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	zlog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
