// Package app assembles the runtime object graph shared by the entrypoints:
// logger, AWS clients, repositories, notification pipeline, retention sweeper
// and job executor.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"

	"subwatch/internal/config"
	"subwatch/internal/db"
	"subwatch/internal/external"
	"subwatch/internal/jobs"
	"subwatch/internal/notifications"
	"subwatch/internal/queue"
	"subwatch/internal/retention"
	"subwatch/internal/types"
)

// NewLogger returns a JSON logger at the named level.
func NewLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

// LoadAWSConfig loads the default AWS configuration, pointing every client at
// AWS_ENDPOINT_URL when it is set (LocalStack).
func LoadAWSConfig(ctx context.Context, cfg config.AWSConfig) (aws.Config, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.EndpointURL != "" {
		opts = append(opts, awsconfig.WithBaseEndpoint(cfg.EndpointURL))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("loading aws config: %w", err)
	}
	return awsCfg, nil
}

// NewTransport selects the email transport named by cfg.Provider.
func NewTransport(cfg config.EmailConfig, logger *slog.Logger) notifications.Transport {
	if cfg.Provider == "stub" {
		return external.NewStubTransport(logger)
	}
	return external.NewSendGridTransport(external.SendGridConfig{
		APIKey:      cfg.SendGridAPIKey,
		BaseURL:     cfg.SendGridURL,
		FromAddress: cfg.FromAddress,
		FromName:    cfg.FromName,
		Timeout:     cfg.Timeout,
		Logger:      logger,
	})
}

// NewMetrics returns CloudWatch metrics when enabled, otherwise a no-op.
func NewMetrics(cfg config.ObservabilityConfig, awsCfg aws.Config, logger *slog.Logger) jobs.Metrics {
	if !cfg.EnableMetrics {
		return jobs.NopMetrics{}
	}
	return jobs.NewCloudWatchMetrics(cloudwatch.NewFromConfig(awsCfg), cfg.MetricNamespace, logger)
}

// ExecutorDeps holds what NewExecutor needs beyond configuration.
type ExecutorDeps struct {
	Config    *config.Config
	DB        db.DBTX
	Queue     queue.JobQueue
	Transport notifications.Transport
	Metrics   jobs.Metrics
	Clock     types.Clock
	Logger    *slog.Logger
}

// NewExecutor wires the job executor against Postgres.
func NewExecutor(d ExecutorDeps) *jobs.Executor {
	clock := d.Clock
	if clock == nil {
		clock = types.RealClock{}
	}

	subs := db.NewSubscriptionRepository(d.DB)
	audit := db.NewAuditRepository(d.DB)

	guard := notifications.NewGuard(audit, d.Logger)
	dispatcher := notifications.NewDispatcher(db.NewProfileRepository(d.DB), d.Transport, audit, clock, d.Logger)

	var archiver retention.Archiver
	if dir := d.Config.Retention.ArchiveDir; dir != "" {
		archiver = retention.NewFileArchiver(dir)
	}
	sweeper := retention.NewSweeper(audit, db.NewTransientRepository(d.DB), archiver, RetentionDefaults(d.Config.Retention), d.Logger)

	return jobs.NewExecutor(jobs.ExecutorConfig{
		Store: db.NewJobRepository(d.DB),
		Queue: d.Queue,
		Handlers: jobs.Handlers{
			Expire:  jobs.NewExpireHandler(subs, guard, dispatcher, d.Logger),
			Warning: jobs.NewWarningHandler(subs, guard, dispatcher),
			Cleanup: jobs.NewCleanupHandler(sweeper),
		},
		Audit:        audit,
		Metrics:      d.Metrics,
		Clock:        clock,
		RunningLease: d.Config.Schedule.RunningLease,
		Logger:       d.Logger,
	})
}

// RetentionDefaults maps retention configuration onto sweeper defaults.
func RetentionDefaults(cfg config.RetentionConfig) retention.Defaults {
	return retention.Defaults{
		AuditLogMonths: cfg.AuditLogMonths,
		NonceTTL:       cfg.NonceTTL,
		RateLimitTTL:   cfg.RateLimitTTL,
		BatchSize:      cfg.BatchSize,
	}
}
