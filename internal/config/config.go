// Package config defines the process configuration for the subwatch services.
// Configuration is loaded once at startup and is immutable thereafter.
//
// Values are resolved via a priority chain:
//
//	OS Environment (Highest) -> Dotenv File -> SecretProvider (Lowest)
//
// Any missing required value or invalid format fails startup.
package config

import (
	"fmt"
	"time"

	"subwatch/internal/types"
)

// SecretString is an alias for types.SecretString so config consumers do not
// need to import types for secret fields.
type SecretString = types.SecretString

// Config is the top-level configuration struct. Sub-components receive only
// the config subset they require.
type Config struct {
	Environment string `envconfig:"APP_ENV" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"OTEL_SERVICE_NAME" default:"subwatch"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`

	Database      DatabaseConfig
	AWS           AWSConfig
	Email         EmailConfig
	Schedule      ScheduleConfig
	Retention     RetentionConfig
	Ops           OpsConfig
	Observability ObservabilityConfig

	// Injected via ldflags, not env.
	Build BuildInfo
}

// DatabaseConfig holds the Postgres connection string and pool tuning.
type DatabaseConfig struct {
	URL SecretString `envconfig:"DATABASE_URL" validate:"required"`

	MaxConns        int           `envconfig:"DB_MAX_CONNS" default:"10" validate:"gte=1"`
	MinConns        int           `envconfig:"DB_MIN_CONNS" default:"1" validate:"gte=0"`
	MaxConnLifetime time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	AcquireTimeout  time.Duration `envconfig:"DB_ACQUIRE_TIMEOUT" default:"2s"`
}

// AWSConfig holds AWS resource identifiers.
type AWSConfig struct {
	Region   string `envconfig:"AWS_REGION" default:"us-east-1"`
	JobQueue string `envconfig:"SQS_JOBS" validate:"required,url"`

	// LocalStack support (empty in prod)
	EndpointURL string `envconfig:"AWS_ENDPOINT_URL"`
}

// EmailConfig selects and configures the notification transport.
type EmailConfig struct {
	Provider       string        `envconfig:"EMAIL_PROVIDER" default:"sendgrid" validate:"oneof=sendgrid stub"`
	SendGridAPIKey SecretString  `envconfig:"SENDGRID_API_KEY" validate:"required_if=Provider sendgrid"`
	SendGridURL    string        `envconfig:"SENDGRID_BASE_URL" validate:"omitempty,url"`
	FromAddress    string        `envconfig:"EMAIL_FROM_ADDRESS" default:"no-reply@subwatch.local" validate:"email"`
	FromName       string        `envconfig:"EMAIL_FROM_NAME" default:"Subscriptions"`
	Timeout        time.Duration `envconfig:"EMAIL_TIMEOUT" default:"10s"`
}

// ScheduleConfig holds the trigger cron expressions (standard 5-field syntax,
// evaluated in UTC) and scheduler loop tuning.
type ScheduleConfig struct {
	NearExpiryCron string        `envconfig:"CRON_NEAR_EXPIRY" default:"0 * * * *" validate:"required"`
	WarningCron    string        `envconfig:"CRON_WARNINGS" default:"0 9 * * *" validate:"required"`
	CleanupCron    string        `envconfig:"CRON_CLEANUP" default:"0 3 * * *" validate:"required"`
	PollInterval   time.Duration `envconfig:"SCHEDULER_POLL_INTERVAL" default:"30s"`
	LockTTL        time.Duration `envconfig:"TRIGGER_LOCK_TTL" default:"15m"`
	RunningLease   time.Duration `envconfig:"JOB_RUNNING_LEASE" default:"5m"`
}

// RetentionConfig holds purge windows for the audit ledger and transient records.
type RetentionConfig struct {
	AuditLogMonths int           `envconfig:"AUDIT_RETENTION_MONTHS" default:"24" validate:"gte=1"`
	NonceTTL       time.Duration `envconfig:"NONCE_TTL" default:"24h"`
	RateLimitTTL   time.Duration `envconfig:"RATE_LIMIT_TTL" default:"24h"`
	BatchSize      int           `envconfig:"AUDIT_PURGE_BATCH_SIZE" default:"500" validate:"gte=1,lte=10000"`

	// Local directory for zstd archives of purged audit entries. Empty disables archival.
	ArchiveDir string `envconfig:"AUDIT_ARCHIVE_DIR"`
}

// OpsConfig holds the operator HTTP surface settings.
type OpsConfig struct {
	Port string `envconfig:"OPS_PORT" default:"8081"`
}

// ObservabilityConfig holds telemetry settings.
type ObservabilityConfig struct {
	MetricNamespace string `envconfig:"METRIC_NAMESPACE" default:"Subwatch"`
	EnableMetrics   bool   `envconfig:"ENABLE_METRICS" default:"true"`
}

// BuildInfo holds build-time metadata injected via ldflags.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildTime string
}

func (b BuildInfo) String() string {
	return fmt.Sprintf("%s (%s, built %s)", b.Version, b.Commit, b.BuildTime)
}

// Linker-injected build metadata, for example:
//
//	go build -ldflags "-X subwatch/internal/config.version=1.2.3 -X subwatch/internal/config.commit=$(git rev-parse --short HEAD)"
var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

// NewBuildInfo constructs a BuildInfo from the linker-injected variables.
func NewBuildInfo() BuildInfo {
	return BuildInfo{
		Version:   version,
		Commit:    commit,
		BuildTime: buildTime,
	}
}

// ConfigErrorType categorizes configuration loading failures.
type ConfigErrorType string

const (
	ErrMissingEnv    ConfigErrorType = "MISSING_ENV"
	ErrSSMResolution ConfigErrorType = "SSM_FAILURE"
	ErrValidation    ConfigErrorType = "VALIDATION_FAILED"
	ErrParsing       ConfigErrorType = "PARSING_FAILED"
)
