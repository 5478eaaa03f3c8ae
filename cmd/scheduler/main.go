// Package main is the entrypoint for the scheduler process.
//
// It registers three cron entries (near-expiry scan, warning scan, cleanup),
// each of which runs a trigger task under an hourly job lock, and serves the
// ops router (health, jobs, schedule) on OPS_PORT.
//
// Graceful shutdown is handled via OS signal interception (SIGINT, SIGTERM).
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"subwatch/internal/api"
	"subwatch/internal/app"
	"subwatch/internal/config"
	"subwatch/internal/db"
	"subwatch/internal/jobs"
	"subwatch/internal/queue"
	"subwatch/internal/scheduler"
	"subwatch/internal/types"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConfig(config.NewEnvVarProvider())
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := app.NewLogger(cfg.LogLevel)
	logger.Info("scheduler starting",
		"environment", cfg.Environment,
		"version", cfg.Build.Version,
		"commit", cfg.Build.Commit,
		"ops_port", cfg.Ops.Port,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer pool.Close()

	awsCfg, err := app.LoadAWSConfig(ctx, cfg.AWS)
	if err != nil {
		return err
	}

	clock := types.RealClock{}
	jobStore := db.NewJobRepository(pool)
	jobQueue := queue.NewSQSQueue(sqs.NewFromConfig(awsCfg), cfg.AWS.JobQueue, clock, logger)
	jobScheduler := jobs.NewScheduler(jobStore, jobQueue, clock, logger)

	trigger := scheduler.NewTrigger(scheduler.TriggerConfig{
		Scanner:  scheduler.NewScanner(db.NewSubscriptionRepository(pool), jobScheduler, logger),
		Enqueuer: jobScheduler,
		Locks:    db.NewTriggerLockRepository(pool, clock),
		History:  db.NewTaskHistoryRepository(pool),
		Clock:    clock,
		WorkerID: "scheduler-" + uuid.NewString(),
		LockTTL:  cfg.Schedule.LockTTL,
		Logger:   logger,
	})

	cron := scheduler.NewCron(clock, logger)
	if err := registerEntries(cron, trigger, cfg.Schedule); err != nil {
		return err
	}

	srv := api.NewServer(jobStore, cron, logger, databaseProbe(pool))
	srv.Build = cfg.Build.String()

	ln, err := net.Listen("tcp", ":"+cfg.Ops.Port)
	if err != nil {
		return fmt.Errorf("listening on ops port %s: %w", cfg.Ops.Port, err)
	}

	return serve(ctx, cron, srv, ln, cfg.Schedule.PollInterval, logger)
}

// registerEntries binds each cron expression to its trigger task.
func registerEntries(cron *scheduler.Cron, trigger *scheduler.Trigger, cfg config.ScheduleConfig) error {
	entries := []struct {
		name string
		spec string
		task scheduler.TaskType
	}{
		{"near_expiry", cfg.NearExpiryCron, scheduler.TaskScanNearExpiry},
		{"warnings", cfg.WarningCron, scheduler.TaskScanWarnings},
		{"cleanup", cfg.CleanupCron, scheduler.TaskCleanup},
	}
	for _, e := range entries {
		err := cron.Register(e.name, e.spec, func(ctx context.Context, now time.Time) error {
			_, err := trigger.Run(ctx, scheduler.TaskPayload{Task: e.task, ReferenceTime: &now})
			return err
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func databaseProbe(pool *pgxpool.Pool) api.HealthProbe {
	return api.ProbeFunc{ProbeName: "database", Fn: pool.Ping}
}

// serve runs the cron loop and the ops server on ln until ctx is cancelled
// or the server fails, then shuts both down with a bounded deadline.
func serve(ctx context.Context, cron *scheduler.Cron, srv *api.Server, ln net.Listener, poll time.Duration, logger *slog.Logger) error {
	httpServer := &http.Server{
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("ops server listening", "addr", ln.Addr().String())
		if err := httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	cronCtx, stopCron := context.WithCancel(ctx)
	defer stopCron()

	cronDone := make(chan struct{})
	go func() {
		defer close(cronDone)
		for _, e := range cron.Entries() {
			logger.Info("cron entry registered", "entry", e.Name, "spec", e.Spec, "next_run", e.Next.Format(time.RFC3339))
		}
		_ = cron.Run(cronCtx, poll)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		if err != nil {
			runErr = fmt.Errorf("ops server error: %w", err)
		}
	}

	logger.Info("initiating graceful shutdown")
	stopCron()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("ops server shutdown error", "error", err)
	}

	select {
	case <-cronDone:
	case <-shutdownCtx.Done():
		logger.Warn("cron loop did not stop before shutdown deadline")
	}

	logger.Info("scheduler stopped")
	return runErr
}
