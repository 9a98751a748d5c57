package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/urfave/cli/v3"

	"github.com/ahmethakanbesel/diadict/internal/dictionary"
	"github.com/ahmethakanbesel/diadict/internal/job"
	"github.com/ahmethakanbesel/diadict/internal/platform/sqlite"
	dictrepo "github.com/ahmethakanbesel/diadict/internal/repository/dictionary"
	jobrepo "github.com/ahmethakanbesel/diadict/internal/repository/job"
	"github.com/ahmethakanbesel/diadict/internal/server"
)

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "run the HTTP server and the job workers",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "port",
				Usage: "HTTP port (defaults to PORT or 8080)",
			},
		},
		Action: runServe,
	}
}

func runServe(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if p := cmd.String("port"); p != "" {
		cfg.Port = p
	}

	// Root context: cancelled on shutdown so waiting start requests return
	// and workers stop between jobs.
	rootCtx, rootCancel := context.WithCancel(ctx)
	defer rootCancel()

	db, err := sqlite.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer func() { _ = db.Close() }()

	// Repositories
	jobRepo := jobrepo.NewRepository(db.DB)
	dictRepo := dictrepo.NewRepository(db.DB)

	// Services
	dictSvc := dictionary.NewService(dictRepo, jobRepo, cfg.MediaDir, cfg.Workers)
	jobSvc := job.NewService(jobRepo, dictSvc)

	// Jobs left behind by a previous run have lost their start requests.
	if err := jobSvc.RecoverStale(rootCtx); err != nil {
		slog.Error("failed to recover stale jobs", "error", err)
	}

	// Worker pool: picks up pending jobs in the background
	pool := job.NewWorkerPool(jobRepo, jobSvc, cfg.Workers)
	jobSvc.SetNotify(pool.Notify)
	poolDone := make(chan struct{})
	go func() {
		pool.Run(rootCtx)
		close(poolDone)
	}()

	scheduler := gocron.NewScheduler(time.UTC)
	scheduler.SingletonModeAll()
	if _, err := scheduler.Every(1).Hour().Do(func() {
		if _, err := jobSvc.Prune(rootCtx, cfg.Retention); err != nil {
			slog.Error("scheduled prune failed", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("schedule prune: %w", err)
	}
	scheduler.StartAsync()
	defer scheduler.Stop()

	srv := server.New(rootCtx, cfg.Port, jobSvc, cfg.CSRFToken)

	serveErr := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	slog.Info("server started", "port", cfg.Port, "media", cfg.MediaDir, "workers", cfg.Workers)

	select {
	case <-ctx.Done():
	case err = <-serveErr:
		slog.Error("server error", "error", err)
	}

	// Cancel root context first so in-flight requests begin winding down.
	rootCancel()

	// Wait for worker pool to drain before shutting down HTTP.
	<-poolDone

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if serr := srv.Shutdown(shutdownCtx); serr != nil {
		slog.Error("shutdown error", "error", serr)
	}
	slog.Info("server stopped")
	return err
}
