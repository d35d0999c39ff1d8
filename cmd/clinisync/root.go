package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/clinisync/clinisync/internal/api"
	"github.com/clinisync/clinisync/internal/config"
	"github.com/clinisync/clinisync/internal/search"
	"github.com/clinisync/clinisync/internal/store"
	clinisync "github.com/clinisync/clinisync/internal/sync"
	"github.com/clinisync/clinisync/internal/worker"
)

// Version is set at build time via ldflags: -ldflags "-X main.Version=1.0.0"
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:   "clinisync",
	Short: "CliniSync - local-first clinical record synchronization",
	RunE:  run,
}

func init() {
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(changesCmd)
}

// run is the server mode: local status API plus the background sync worker.
func run(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(),
		syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	initLogger(cfg)
	slog.Info("configuration loaded")

	db, err := openStore(cfg)
	if err != nil {
		return err
	}
	slog.Info("store initialized", "path", cfg.Database.Path)

	handler := api.NewHandler(db, Version)
	router := api.NewRouter(handler)

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout),
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout),
	}

	var wg sync.WaitGroup
	if cfg.Remote.BaseURL != "" {
		engine, err := newEngine(cfg, db)
		if err != nil {
			return err
		}
		coordinator := worker.NewSyncCoordinator(engine, time.Duration(cfg.Sync.Interval))
		startWorker(ctx, &wg, "sync", coordinator.Run)
	} else {
		slog.Warn("no remote configured, running offline only")
	}

	go func() {
		slog.Info("server starting", "address", addr)
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()
	slog.Info("shutdown initiated")

	shutdownCtx, shutdownCancel := context.WithTimeout(
		context.Background(),
		time.Duration(cfg.Server.ShutdownTimeout))
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	wg.Wait()

	if err := db.Close(); err != nil {
		slog.Error("store close error", "error", err)
	}

	slog.Info("shutdown complete")
	return nil
}

func initLogger(cfg *config.Config) {
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Log.Level)}
	var handler slog.Handler
	if cfg.Log.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func openStore(cfg *config.Config) (*store.SQLiteStore, error) {
	return store.NewSQLiteStore(cfg.Database.Path, search.DefaultRegistry())
}

// loadQuiet prepares config and store for read-only CLI commands, keeping
// log noise out of their output.
func loadQuiet() (*config.Config, *store.SQLiteStore, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	cfg.Log.Level = "warn"
	initLogger(cfg)

	db, err := openStore(cfg)
	if err != nil {
		return nil, nil, err
	}
	return cfg, db, nil
}

func newEngine(cfg *config.Config, db *store.SQLiteStore) (*clinisync.Engine, error) {
	source := newDataSource(cfg)
	return clinisync.NewEngine(db, source,
		clinisync.DefaultGeneratorConfig,
		clinisync.BundleMode(cfg.Sync.BundleMode))
}

// startWorker launches a background worker goroutine that respects context
// cancellation. Workers are tracked via WaitGroup for graceful shutdown.
func startWorker(ctx context.Context, wg *sync.WaitGroup, name string, fn func(ctx context.Context)) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		slog.Info("worker started", "worker", name)
		fn(ctx)
		slog.Info("worker stopped", "worker", name)
	}()
}
