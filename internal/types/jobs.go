package types

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// JobClass is a named category of background work with its own fixed
// retry/backoff policy.
type JobClass string

const (
	JobExpireSubscription JobClass = "expire-subscription"
	JobExpiryWarning      JobClass = "expiry-warning"
	JobCleanup            JobClass = "cleanup"
)

// JobState is the executor state of a job.
//
//	pending -> running -> completed | retrying | dead
//	retrying -> running
type JobState string

const (
	JobPending   JobState = "pending"
	JobRunning   JobState = "running"
	JobCompleted JobState = "completed"
	JobRetrying  JobState = "retrying"
	JobDead      JobState = "dead"
)

// IsTerminal reports whether no further execution will happen for the state.
func (s JobState) IsTerminal() bool {
	return s == JobCompleted || s == JobDead
}

// ParseJobState validates an operator-supplied state name.
func ParseJobState(s string) (JobState, error) {
	switch st := JobState(s); st {
	case JobPending, JobRunning, JobCompleted, JobRetrying, JobDead:
		return st, nil
	default:
		return "", NewAppError(ErrCodeValidationInvalidState, fmt.Sprintf("unknown job state %q", s), nil)
	}
}

// CleanupTarget names the class of records a cleanup job purges.
type CleanupTarget string

const (
	CleanupNonces     CleanupTarget = "nonces"
	CleanupRateLimits CleanupTarget = "rate_limits"
	CleanupAuditLogs  CleanupTarget = "audit_logs"
)

// CleanupTargets lists every valid cleanup target.
var CleanupTargets = []CleanupTarget{CleanupNonces, CleanupRateLimits, CleanupAuditLogs}

// JobPayload is the closed set of job payloads. Only the variants in this file
// implement it; handlers switch over them exhaustively.
type JobPayload interface {
	Class() JobClass
	Validate() error
	isJobPayload()
}

// ExpireSubscriptionPayload asks the executor to transition a subscription to
// expired once its expiry instant has passed.
type ExpireSubscriptionPayload struct {
	SubscriptionID string    `json:"subscription_id" validate:"required"`
	UserID         string    `json:"user_id" validate:"required"`
	ExpiresAt      time.Time `json:"expires_at" validate:"required"`
}

// ExpiryWarningPayload asks the executor to send the warning due DaysUntilExpiry
// days before expiry.
type ExpiryWarningPayload struct {
	SubscriptionID  string    `json:"subscription_id" validate:"required"`
	UserID          string    `json:"user_id" validate:"required"`
	ExpiresAt       time.Time `json:"expires_at" validate:"required"`
	DaysUntilExpiry int       `json:"days_until_expiry" validate:"gte=1"`
}

// CleanupPayload asks the executor to purge one class of stale records.
// OlderThanDays of zero selects the configured default for the target.
type CleanupPayload struct {
	Target        CleanupTarget `json:"type" validate:"required,oneof=nonces rate_limits audit_logs"`
	OlderThanDays int           `json:"older_than_days,omitempty" validate:"gte=0,lte=3650"`
}

func (ExpireSubscriptionPayload) Class() JobClass { return JobExpireSubscription }
func (ExpiryWarningPayload) Class() JobClass      { return JobExpiryWarning }
func (CleanupPayload) Class() JobClass            { return JobCleanup }

func (ExpireSubscriptionPayload) isJobPayload() {}
func (ExpiryWarningPayload) isJobPayload()      {}
func (CleanupPayload) isJobPayload()            {}

var payloadValidator = validator.New()

func (p ExpireSubscriptionPayload) Validate() error { return validatePayload(p) }
func (p ExpiryWarningPayload) Validate() error      { return validatePayload(p) }
func (p CleanupPayload) Validate() error            { return validatePayload(p) }

func validatePayload(p JobPayload) error {
	if err := payloadValidator.Struct(p); err != nil {
		return NewAppError(ErrCodeConfiguration, fmt.Sprintf("invalid %s payload", p.Class()), err)
	}
	return nil
}

// DecodePayload decodes a raw payload for the given class. Unknown classes and
// payloads that fail validation are configuration errors.
func DecodePayload(class JobClass, raw []byte) (JobPayload, error) {
	var (
		payload JobPayload
		err     error
	)
	switch class {
	case JobExpireSubscription:
		var p ExpireSubscriptionPayload
		err = json.Unmarshal(raw, &p)
		payload = p
	case JobExpiryWarning:
		var p ExpiryWarningPayload
		err = json.Unmarshal(raw, &p)
		payload = p
	case JobCleanup:
		var p CleanupPayload
		err = json.Unmarshal(raw, &p)
		payload = p
	default:
		return nil, NewAppError(ErrCodeConfiguration, fmt.Sprintf("unknown job class %q", class), nil)
	}
	if err != nil {
		return nil, NewAppError(ErrCodeConfiguration, fmt.Sprintf("malformed %s payload", class), err)
	}
	if err := payload.Validate(); err != nil {
		return nil, err
	}
	return payload, nil
}

// JobResult is the per-run result object reported for logging and metrics.
type JobResult interface {
	isJobResult()
}

// ExpireResult is the result of an expire-subscription run.
type ExpireResult struct {
	Expired bool   `json:"expired"`
	Reason  string `json:"reason,omitempty"`
}

// NotifyResult is the result of an expiry-warning run.
type NotifyResult struct {
	Notified        bool   `json:"notified"`
	SubscriptionID  string `json:"subscription_id"`
	DaysUntilExpiry int    `json:"days_until_expiry,omitempty"`
	Reason          string `json:"reason,omitempty"`
}

// CleanupResult is the result of a cleanup run.
type CleanupResult struct {
	Cleaned int           `json:"cleaned"`
	Type    CleanupTarget `json:"type"`
}

func (ExpireResult) isJobResult()  {}
func (NotifyResult) isJobResult()  {}
func (CleanupResult) isJobResult() {}

// DecodeResult decodes a stored result for the given class.
func DecodeResult(class JobClass, raw []byte) (JobResult, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	switch class {
	case JobExpireSubscription:
		var r ExpireResult
		err := unmarshalResult(raw, &r)
		return r, err
	case JobExpiryWarning:
		var r NotifyResult
		err := unmarshalResult(raw, &r)
		return r, err
	case JobCleanup:
		var r CleanupResult
		err := unmarshalResult(raw, &r)
		return r, err
	default:
		return nil, NewAppError(ErrCodeConfiguration, fmt.Sprintf("unknown job class %q", class), nil)
	}
}

func unmarshalResult(raw []byte, dst any) error {
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("decoding job result: %w", err)
	}
	return nil
}

// Job is a named, delayed, retryable unit of work.
//
// The wire envelope carries ID, Class, Payload, Attempt, MaxAttempts,
// NotBefore and CreatedAt. The remaining fields are maintained by the job
// store and exposed to operators.
type Job struct {
	ID          string     `json:"id"`
	Class       JobClass   `json:"class"`
	Payload     JobPayload `json:"payload"`
	Attempt     int        `json:"attempt"`
	MaxAttempts int        `json:"max_attempts"`
	NotBefore   time.Time  `json:"not_before"`
	CreatedAt   time.Time  `json:"created_at"`

	State      JobState   `json:"state,omitempty"`
	LastError  string     `json:"last_error,omitempty"`
	Result     JobResult  `json:"result,omitempty"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// UnmarshalJSON decodes the payload and result according to the job class.
func (j *Job) UnmarshalJSON(data []byte) error {
	type alias Job
	aux := struct {
		*alias
		Payload json.RawMessage `json:"payload"`
		Result  json.RawMessage `json:"result,omitempty"`
	}{alias: (*alias)(j)}

	if err := json.Unmarshal(data, &aux); err != nil {
		return NewAppError(ErrCodeConfiguration, "malformed job envelope", err)
	}

	payload, err := DecodePayload(j.Class, aux.Payload)
	if err != nil {
		return err
	}
	j.Payload = payload

	result, err := DecodeResult(j.Class, aux.Result)
	if err != nil {
		return err
	}
	j.Result = result
	return nil
}
