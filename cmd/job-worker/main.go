// Package main is the entrypoint for the Job Worker Lambda function.
//
// The worker consumes job envelopes from the jobs SQS queue and runs each one
// through the executor, which claims the job, dispatches it to the class
// handler and settles it as completed, retrying or dead.
//
// Cold Start (main):
//  1. Load configuration and initialize the structured logger.
//  2. Open the Postgres pool and load AWS SDK configuration.
//  3. Build the SQS queue, CloudWatch metrics and email transport.
//  4. Wire repositories, notification pipeline, sweeper and executor.
//  5. Register the handler with lambda.Start (or read one event from stdin
//     when APP_ENV=local).
//
// Records in a batch are processed concurrently. A record whose job could not
// be settled is reported in BatchItemFailures so SQS redelivers only that
// record. An undecodable record that still names a job marks that job dead
// so it leaves an audit trail; one that names no job is acknowledged and
// logged.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"golang.org/x/sync/errgroup"

	"subwatch/internal/app"
	"subwatch/internal/config"
	"subwatch/internal/db"
	"subwatch/internal/queue"
	"subwatch/internal/types"
)

const defaultConcurrency = 4

// slogAdapter wraps *slog.Logger to implement the types.Logger interface.
type slogAdapter struct {
	logger *slog.Logger
}

func (a *slogAdapter) Info(msg string, args ...any)  { a.logger.Info(msg, args...) }
func (a *slogAdapter) Error(msg string, args ...any) { a.logger.Error(msg, args...) }
func (a *slogAdapter) Warn(msg string, args ...any)  { a.logger.Warn(msg, args...) }
func (a *slogAdapter) With(args ...any) types.Logger {
	return &slogAdapter{logger: a.logger.With(args...)}
}

// JobRunner executes one delivered job, or marks a job dead when its
// envelope cannot be decoded. *jobs.Executor implements it.
type JobRunner interface {
	Run(ctx context.Context, job *types.Job) (types.JobState, error)
	Reject(ctx context.Context, id string, class types.JobClass, cause error) (types.JobState, error)
}

// Handler holds the dependencies for the job worker Lambda handler.
type Handler struct {
	runner      JobRunner
	concurrency int
	logger      types.Logger
}

// Handle processes an SQS batch using partial batch responses.
func (h *Handler) Handle(ctx context.Context, sqsEvent events.SQSEvent) (events.SQSEventResponse, error) {
	var (
		mu       sync.Mutex
		response events.SQSEventResponse
	)

	limit := h.concurrency
	if limit <= 0 {
		limit = defaultConcurrency
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for _, record := range sqsEvent.Records {
		g.Go(func() error {
			if err := h.processRecord(gctx, record); err != nil {
				h.logger.Error("job delivery not settled, requesting redelivery",
					"message_id", record.MessageId,
					"error", err.Error(),
				)
				mu.Lock()
				response.BatchItemFailures = append(response.BatchItemFailures,
					events.SQSBatchItemFailure{ItemIdentifier: record.MessageId},
				)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	return response, nil
}

// processRecord returns an error only when the record should be redelivered.
func (h *Handler) processRecord(ctx context.Context, record events.SQSMessage) error {
	ctx = types.WithRequestID(ctx, record.MessageId)

	var job types.Job
	if err := json.Unmarshal([]byte(record.Body), &job); err != nil {
		return h.reject(ctx, record.MessageId, &job, err)
	}

	logger := h.logger.With("job_id", job.ID, "class", string(job.Class), "attempt", job.Attempt)

	state, err := h.runner.Run(ctx, &job)
	if err != nil {
		if !types.IsRetryable(err) {
			logger.Error("job rejected", "error", err.Error())
			return nil
		}
		return fmt.Errorf("running job %s: %w", job.ID, err)
	}

	logger.Info("job delivery handled", "state", string(state))
	return nil
}

// reject settles an envelope that failed to decode. Redelivery cannot fix
// it, so only a store failure while recording the rejection is retried.
func (h *Handler) reject(ctx context.Context, messageID string, job *types.Job, cause error) error {
	logger := h.logger.With("message_id", messageID, "code", string(types.ErrCodeConfiguration))
	if job.ID == "" {
		logger.Error("discarding undecodable job envelope", "error", cause.Error())
		return nil
	}

	logger = logger.With("job_id", job.ID, "class", string(job.Class))
	state, err := h.runner.Reject(ctx, job.ID, job.Class, cause)
	if err != nil {
		if !types.IsRetryable(err) {
			logger.Error("undecodable job could not be marked dead", "error", err.Error())
			return nil
		}
		return fmt.Errorf("rejecting job %s: %w", job.ID, err)
	}

	logger.Error("undecodable job envelope rejected", "error", cause.Error(), "state", string(state))
	return nil
}

func main() {
	cfg, err := config.LoadConfig(config.NewEnvVarProvider())
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: loading configuration: %v\n", err)
		os.Exit(1)
	}

	logger := app.NewLogger(cfg.LogLevel)
	logger.Info("Job Worker Lambda initializing (cold start)",
		"environment", cfg.Environment,
		"version", cfg.Build.String(),
	)

	ctx := context.Background()

	pool, err := db.NewPool(ctx, cfg.Database)
	if err != nil {
		logger.Error("Failed to open database pool", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	awsCfg, err := app.LoadAWSConfig(ctx, cfg.AWS)
	if err != nil {
		logger.Error("Failed to load AWS SDK config", "error", err)
		os.Exit(1)
	}

	clock := types.RealClock{}
	executor := app.NewExecutor(app.ExecutorDeps{
		Config:    cfg,
		DB:        pool,
		Queue:     queue.NewSQSQueue(sqs.NewFromConfig(awsCfg), cfg.AWS.JobQueue, clock, logger),
		Transport: app.NewTransport(cfg.Email, logger),
		Metrics:   app.NewMetrics(cfg.Observability, awsCfg, logger),
		Clock:     clock,
		Logger:    logger,
	})

	handler := &Handler{
		runner:      executor,
		concurrency: defaultConcurrency,
		logger:      &slogAdapter{logger: logger},
	}

	logger.Info("Job Worker Lambda initialized",
		"job_queue", cfg.AWS.JobQueue,
		"email_provider", cfg.Email.Provider,
		"metrics_enabled", cfg.Observability.EnableMetrics,
	)

	if cfg.Environment == "local" {
		if err := runLocal(ctx, handler, os.Stdin); err != nil {
			logger.Error("local invocation failed", "error", err)
			os.Exit(1)
		}
		return
	}

	lambda.Start(handler.Handle)
}

// runLocal decodes one SQS event from r and prints the batch response.
func runLocal(ctx context.Context, h *Handler, r io.Reader) error {
	var event events.SQSEvent
	if err := json.NewDecoder(r).Decode(&event); err != nil {
		return fmt.Errorf("decoding SQS event from stdin: %w", err)
	}
	resp, err := h.Handle(ctx, event)
	if err != nil {
		return err
	}
	return json.NewEncoder(os.Stdout).Encode(resp)
}

// Compile-time assertion that slogAdapter implements types.Logger.
var _ types.Logger = (*slogAdapter)(nil)
