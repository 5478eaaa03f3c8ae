package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"subwatch/internal/types"
)

// Metric names and dimensions emitted by the executor.
const (
	MetricJobOutcome = "JobOutcome"
	MetricJobLatency = "JobLatency"
	DimClass         = "Class"
	DimState         = "State"
)

// Metrics records executor outcomes. Implementations must not block job
// processing on a metrics failure.
type Metrics interface {
	RecordOutcome(ctx context.Context, class types.JobClass, state types.JobState)
	RecordLatency(ctx context.Context, class types.JobClass, d time.Duration)
}

// NopMetrics discards everything.
type NopMetrics struct{}

func (NopMetrics) RecordOutcome(context.Context, types.JobClass, types.JobState) {}
func (NopMetrics) RecordLatency(context.Context, types.JobClass, time.Duration)  {}

// CloudWatchClient abstracts the CloudWatch PutMetricData operation for testability.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

var _ Metrics = (*CloudWatchMetrics)(nil)

// CloudWatchMetrics publishes job metrics to CloudWatch.
//
// Metrics emitted:
//   - JobOutcome: Dims {Class, State}, one per executed job
//   - JobLatency: Dims {Class}, handler wall time in milliseconds
type CloudWatchMetrics struct {
	client    CloudWatchClient
	namespace string
	logger    *slog.Logger
}

func NewCloudWatchMetrics(client CloudWatchClient, namespace string, logger *slog.Logger) *CloudWatchMetrics {
	if logger == nil {
		logger = slog.Default()
	}
	return &CloudWatchMetrics{client: client, namespace: namespace, logger: logger}
}

func (m *CloudWatchMetrics) RecordOutcome(ctx context.Context, class types.JobClass, state types.JobState) {
	m.put(ctx, cwtypes.MetricDatum{
		MetricName: aws.String(MetricJobOutcome),
		Value:      aws.Float64(1),
		Unit:       cwtypes.StandardUnitCount,
		Dimensions: []cwtypes.Dimension{
			{Name: aws.String(DimClass), Value: aws.String(string(class))},
			{Name: aws.String(DimState), Value: aws.String(string(state))},
		},
	})
}

func (m *CloudWatchMetrics) RecordLatency(ctx context.Context, class types.JobClass, d time.Duration) {
	m.put(ctx, cwtypes.MetricDatum{
		MetricName: aws.String(MetricJobLatency),
		Value:      aws.Float64(float64(d.Milliseconds())),
		Unit:       cwtypes.StandardUnitMilliseconds,
		Dimensions: []cwtypes.Dimension{
			{Name: aws.String(DimClass), Value: aws.String(string(class))},
		},
	})
}

func (m *CloudWatchMetrics) put(ctx context.Context, datum cwtypes.MetricDatum) {
	_, err := m.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace:  aws.String(m.namespace),
		MetricData: []cwtypes.MetricDatum{datum},
	})
	if err != nil {
		m.logger.ErrorContext(ctx, "failed to record job metric",
			"metric", aws.ToString(datum.MetricName),
			"error", err,
		)
	}
}
