// Package main implements the job-runner CLI tool for invoking trigger tasks
// directly, outside the scheduler's cron loop.
//
// This tool is intended for local development, manual backfilling, and
// operational debugging.
//
// Usage:
//
//	go run ./cmd/tools/job-runner --task=scan_warnings
//	go run ./cmd/tools/job-runner --task=scan_near_expiry --reference-time=2026-01-15T02:00:00Z
//	go run ./cmd/tools/job-runner --dry-run --task=cleanup
//	go run ./cmd/tools/job-runner --local --task=scan_warnings
//	go run ./cmd/tools/job-runner --list
//
// Configuration is read from the environment (or a .env file). Without
// --local the trigger enqueues onto SQS_JOBS like the scheduler does. With
// --local the jobs land in an in-memory queue and every job that is already
// due is executed in-process against Postgres with the stub email transport.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"subwatch/internal/app"
	"subwatch/internal/config"
	"subwatch/internal/db"
	"subwatch/internal/external"
	"subwatch/internal/jobs"
	"subwatch/internal/queue"
	"subwatch/internal/scheduler"
	"subwatch/internal/types"
)

var taskDescriptions = map[scheduler.TaskType]string{
	scheduler.TaskScanNearExpiry: "Enqueue expire jobs for subscriptions expiring within the hour or overdue",
	scheduler.TaskScanWarnings:   "Enqueue 7, 3 and 1 day expiry warnings",
	scheduler.TaskCleanup:        "Enqueue audit log, nonce and rate limit purges",
}

type options struct {
	task          string
	referenceTime string
	list          bool
	dryRun        bool
	local         bool
}

func parseOptions(args []string, stderr io.Writer) (options, error) {
	var opts options
	fs := flag.NewFlagSet("job-runner", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&opts.task, "task", "", "Task type to execute (e.g., scan_warnings)")
	fs.StringVar(&opts.referenceTime, "reference-time", "", "Override reference time (RFC3339, e.g., 2026-01-15T02:00:00Z)")
	fs.BoolVar(&opts.list, "list", false, "List all available task types and exit")
	fs.BoolVar(&opts.dryRun, "dry-run", false, "Print the JSON payload without executing")
	fs.BoolVar(&opts.local, "local", false, "Run due jobs in-process instead of enqueuing to SQS")
	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: job-runner [flags]\n\n")
		fmt.Fprintf(stderr, "Invoke scheduler trigger tasks directly.\n\n")
		fmt.Fprintf(stderr, "Flags:\n")
		fs.PrintDefaults()
		fmt.Fprintf(stderr, "\nUse --list to see all available task types.\n")
	}
	err := fs.Parse(args)
	return opts, err
}

// buildPayload validates the task and reference time flags.
func buildPayload(opts options) (scheduler.TaskPayload, error) {
	if opts.task == "" {
		return scheduler.TaskPayload{}, errors.New("--task is required")
	}
	task, err := scheduler.ParseTaskType(opts.task)
	if err != nil {
		return scheduler.TaskPayload{}, err
	}

	payload := scheduler.TaskPayload{Task: task}
	if opts.referenceTime != "" {
		t, err := time.Parse(time.RFC3339, opts.referenceTime)
		if err != nil {
			return scheduler.TaskPayload{}, fmt.Errorf("invalid --reference-time %q (expected RFC3339): %w", opts.referenceTime, err)
		}
		t = t.UTC()
		payload.ReferenceTime = &t
	}
	return payload, nil
}

func main() {
	opts, err := parseOptions(os.Args[1:], os.Stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		os.Exit(2)
	}

	if opts.list {
		printAvailableTasks(os.Stderr)
		return
	}

	payload, err := buildPayload(opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n\n", err)
		printAvailableTasks(os.Stderr)
		os.Exit(1)
	}

	if opts.dryRun {
		if err := printPayload(os.Stdout, payload); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := execute(ctx, payload, opts.local); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func execute(ctx context.Context, payload scheduler.TaskPayload, local bool) error {
	cfg, err := config.LoadConfig(config.NewEnvVarProvider())
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	logger := app.NewLogger(cfg.LogLevel)

	pool, err := db.NewPool(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer pool.Close()

	clock := types.RealClock{}
	var (
		jobQueue queue.JobQueue
		memQueue *queue.MemoryQueue
	)
	if local {
		memQueue = queue.NewMemoryQueue()
		jobQueue = memQueue
	} else {
		awsCfg, err := app.LoadAWSConfig(ctx, cfg.AWS)
		if err != nil {
			return err
		}
		jobQueue = queue.NewSQSQueue(sqs.NewFromConfig(awsCfg), cfg.AWS.JobQueue, clock, logger)
	}

	result, err := runTrigger(ctx, pool, jobQueue, clock, cfg, logger, payload)
	if err != nil {
		return err
	}
	logger.Info("task execution succeeded",
		"task", string(result.Task),
		"lock_id", result.LockID,
		"skipped", result.Skipped,
		"items", result.Items,
	)

	if !local {
		return nil
	}

	executor := app.NewExecutor(app.ExecutorDeps{
		Config:    cfg,
		DB:        pool,
		Queue:     memQueue,
		Transport: external.NewStubTransport(logger),
		Metrics:   jobs.NopMetrics{},
		Clock:     clock,
		Logger:    logger,
	})
	counts := drain(ctx, memQueue, executor, clock, logger)
	logger.Info("local drain finished", "states", counts, "pending", memQueue.Len())
	return nil
}

func runTrigger(
	ctx context.Context,
	pool *pgxpool.Pool,
	jobQueue queue.JobQueue,
	clock types.Clock,
	cfg *config.Config,
	logger *slog.Logger,
	payload scheduler.TaskPayload,
) (scheduler.RunResult, error) {
	jobScheduler := jobs.NewScheduler(db.NewJobRepository(pool), jobQueue, clock, logger)
	trigger := scheduler.NewTrigger(scheduler.TriggerConfig{
		Scanner:  scheduler.NewScanner(db.NewSubscriptionRepository(pool), jobScheduler, logger),
		Enqueuer: jobScheduler,
		Locks:    db.NewTriggerLockRepository(pool, clock),
		History:  db.NewTaskHistoryRepository(pool),
		Clock:    clock,
		WorkerID: "job-runner-" + uuid.NewString(),
		LockTTL:  cfg.Schedule.LockTTL,
		Logger:   logger,
	})
	return trigger.Run(ctx, payload)
}

// JobRunner executes one delivered job.
type JobRunner interface {
	Run(ctx context.Context, job *types.Job) (types.JobState, error)
}

// drain runs every due job, including retries that become due while
// draining, and returns the count of jobs per final state.
func drain(ctx context.Context, q *queue.MemoryQueue, runner JobRunner, clock types.Clock, logger *slog.Logger) map[types.JobState]int {
	counts := make(map[types.JobState]int)
	for ctx.Err() == nil {
		due := q.Due(clock.Now())
		if len(due) == 0 {
			break
		}
		for _, job := range due {
			state, err := runner.Run(ctx, job)
			if err != nil {
				logger.Warn("job run failed", "job_id", job.ID, "class", string(job.Class), "error", err)
			}
			counts[state]++
		}
	}
	return counts
}

// printAvailableTasks prints all valid task types and their descriptions.
func printAvailableTasks(w io.Writer) {
	fmt.Fprintf(w, "Available task types:\n\n")

	maxLen := 0
	for _, t := range scheduler.Tasks {
		maxLen = max(maxLen, len(t))
	}
	for _, t := range scheduler.Tasks {
		fmt.Fprintf(w, "  %-*s  %s\n", maxLen, string(t), taskDescriptions[t])
	}
	fmt.Fprintln(w)
}

// printPayload writes the payload as pretty-printed JSON for inspection or
// piping into the scheduler's trigger.
func printPayload(w io.Writer, payload scheduler.TaskPayload) error {
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
