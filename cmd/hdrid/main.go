// Command hdrid runs the HDRI conversion coordination service.
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/envlight/hdrid/internal/config"
	"github.com/envlight/hdrid/internal/handler"
	"github.com/envlight/hdrid/internal/harvest"
	"github.com/envlight/hdrid/internal/job/repository"
	"github.com/envlight/hdrid/internal/logging/logger"
	"github.com/envlight/hdrid/internal/provider"
	"github.com/envlight/hdrid/internal/queue"
	"github.com/envlight/hdrid/internal/service"
	"github.com/envlight/hdrid/internal/storage"
	"github.com/envlight/hdrid/internal/task"
	"github.com/envlight/hdrid/internal/webhook"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
)

// Set at build time via -ldflags.
var (
	version = "dev"
	commit  = "none"
)

func main() {
	root := &cobra.Command{
		Use:   "hdrid",
		Short: "Image-to-HDRI conversion coordination service",
		RunE:  runServe,
	}
	root.PersistentFlags().StringP("config", "c", "", "path to config file")

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the API server and queue workers",
		RunE:  runServe,
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(*cobra.Command, []string) {
			fmt.Printf("hdrid %s (%s)\n", version, commit)
		},
	}

	root.AddCommand(serve, versionCmd)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logCleanup, err := logger.New(cfg.Logger)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer logCleanup()
	ctx := context.Background()

	if dsn := cfg.Observes.SentryDSN; dsn != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:              dsn,
			AttachStacktrace: true,
			ServerName:       cfg.AppName,
			Release:          version,
			Environment:      cfg.RunMode,
		}); err != nil {
			logger.Warnf(ctx, "sentry init failed: %v", err)
		} else {
			defer sentry.Flush(2 * time.Second)
		}
	}

	db, err := sql.Open(cfg.Data.Driver, cfg.Data.Source)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer func() { _ = db.Close() }()

	repo, err := repository.New(db, cfg.Data.Driver)
	if err != nil {
		return fmt.Errorf("initialize repository: %w", err)
	}

	store, err := storage.NewStorage(cfg.Storage)
	if err != nil {
		return fmt.Errorf("initialize storage: %w", err)
	}

	client := provider.NewClient(cfg.Provider)
	harvester := harvest.New(store)

	q, err := queue.New(cfg.Queue)
	if err != nil {
		return fmt.Errorf("initialize queue: %w", err)
	}

	processing := task.NewProcessing(repo, client, harvester, store, cfg.Queue, cfg.Provider)
	maintenance := task.NewMaintenance(repo, store, cfg.Maintenance)
	q.Register(task.KindProcess, processing.Handle)
	q.Register(task.KindCleanup, maintenance.HandleCleanup)
	q.Register(task.KindHeartbeat, maintenance.HandleHeartbeat)
	q.AddLane(queue.LaneProcessing, cfg.Queue.ProcessingWorkers)
	q.AddLane(queue.LaneMaintenance, 1)
	q.AddLane(queue.LaneMonitoring, 1)
	q.Start()

	scheduler := task.NewScheduler(q, cfg.Maintenance)
	scheduler.Start()

	svc := service.New(repo, client, q, cfg.Provider)
	reconciler := webhook.New(repo, harvester, cfg.Webhook)

	gin.SetMode(cfg.RunMode)
	router := gin.New()
	router.Use(gin.Recovery())
	handler.New(svc, reconciler).Register(router)

	srv := &http.Server{
		Addr:              cfg.Address(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof(ctx, "%s listening on %s", cfg.AppName, cfg.Address())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case sig := <-quit:
		logger.Infof(ctx, "received %s, shutting down", sig)
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf(ctx, "http shutdown: %v", err)
	}
	scheduler.Stop()
	if err := q.Stop(shutdownCtx); err != nil {
		logger.Errorf(ctx, "queue shutdown: %v", err)
	}

	logger.Infof(ctx, "shutdown complete")
	return nil
}
