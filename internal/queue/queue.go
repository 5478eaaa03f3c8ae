// Package queue delivers jobs to the job worker. Production uses SQS; the
// in-memory queue backs local runs and tests.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqsTypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"subwatch/internal/types"
)

// MaxDelay is the longest delivery delay SQS supports. Jobs due later are
// delivered early and deferred again by the executor.
const MaxDelay = 900 * time.Second

// JobQueue hands a job to the worker fleet. Delivery is at-least-once and no
// earlier than job.NotBefore, subject to the transport's delay limit.
type JobQueue interface {
	Enqueue(ctx context.Context, job *types.Job) error
}

// SQSSender abstracts the SQS SendMessage operation for testability.
// Production code uses the *sqs.Client from aws-sdk-go-v2.
type SQSSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// SQSQueue sends each job as a JSON envelope to a single SQS queue.
type SQSQueue struct {
	client   SQSSender
	queueURL string
	clock    types.Clock
	logger   *slog.Logger
}

// NewSQSQueue creates an SQSQueue. A nil clock uses the system clock and a
// nil logger uses slog.Default().
func NewSQSQueue(client SQSSender, queueURL string, clock types.Clock, logger *slog.Logger) *SQSQueue {
	if clock == nil {
		clock = types.RealClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SQSQueue{
		client:   client,
		queueURL: queueURL,
		clock:    clock,
		logger:   logger,
	}
}

// Enqueue sends the job with DelaySeconds set to the time remaining until
// NotBefore, clamped to [0, MaxDelay].
func (q *SQSQueue) Enqueue(ctx context.Context, job *types.Job) error {
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("queue: failed to marshal job %s: %w", job.ID, err)
	}

	delay := DelayFor(job.NotBefore, q.clock.Now())

	input := &sqs.SendMessageInput{
		QueueUrl:     aws.String(q.queueURL),
		MessageBody:  aws.String(string(body)),
		DelaySeconds: int32(delay / time.Second),
		MessageAttributes: map[string]sqsTypes.MessageAttributeValue{
			"class": {
				DataType:    aws.String("String"),
				StringValue: aws.String(string(job.Class)),
			},
		},
	}

	if _, err := q.client.SendMessage(ctx, input); err != nil {
		return types.NewAppError(types.ErrCodeTransientIO,
			fmt.Sprintf("queue: failed to send job %s", job.ID), err)
	}

	q.logger.DebugContext(ctx, "job enqueued",
		"job_id", job.ID,
		"class", string(job.Class),
		"attempt", job.Attempt,
		"delay_seconds", input.DelaySeconds,
	)
	return nil
}

// DelayFor returns how long to hold a message due at notBefore, rounded up to
// whole seconds and clamped to [0, MaxDelay].
func DelayFor(notBefore, now time.Time) time.Duration {
	d := notBefore.Sub(now)
	if d <= 0 {
		return 0
	}
	d = (d + time.Second - 1).Truncate(time.Second)
	if d > MaxDelay {
		return MaxDelay
	}
	return d
}
