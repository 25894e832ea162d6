// Package observability emits operational metrics for the scheduler and
// publish pipeline to AWS CloudWatch.
package observability

import (
	"context"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"salonpost/internal/types"
)

// CloudWatchClient abstracts the CloudWatch PutMetricData operation for testability.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// MetricResult is the Result dimension value for publish attempt metrics.
type MetricResult string

const (
	ResultSuccess MetricResult = "success"
	ResultFailure MetricResult = "failure"
)

// Metrics records scheduler and publish pipeline metrics. Recording failures
// are logged and swallowed; metrics must never affect the publish path.
type Metrics interface {
	RecordPublishAttempt(ctx context.Context, network types.Network, result MetricResult)
	RecordRecoveredPosts(ctx context.Context, count int)
	RecordTickDuration(ctx context.Context, job string, duration time.Duration)
	RecordDuePosts(ctx context.Context, count int)
}

// CloudWatchMetrics implements Metrics by emitting to a CloudWatch namespace.
//
// Metrics emitted:
//   - PublishAttempt: Dims {Network, Result} -- on every publish outcome
//   - RecoveredPosts: No dims -- posts requeued per recovery sweep
//   - TickDuration: Dims {Job} -- wall time of a scheduler or recovery run
//   - DuePosts: No dims -- posts due at the start of a scheduler tick
type CloudWatchMetrics struct {
	client    CloudWatchClient
	namespace string
	logger    *slog.Logger
}

var _ Metrics = (*CloudWatchMetrics)(nil)

// NewCloudWatchMetrics creates a recorder publishing to the given namespace.
// An empty namespace falls back to the default application namespace.
func NewCloudWatchMetrics(client CloudWatchClient, namespace string, logger *slog.Logger) *CloudWatchMetrics {
	if namespace == "" {
		namespace = types.MetricNamespace
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CloudWatchMetrics{
		client:    client,
		namespace: namespace,
		logger:    logger,
	}
}

func (m *CloudWatchMetrics) RecordPublishAttempt(ctx context.Context, network types.Network, result MetricResult) {
	m.put(ctx, cwtypes.MetricDatum{
		MetricName: aws.String(types.MetricPublishAttempt),
		Value:      aws.Float64(1),
		Unit:       cwtypes.StandardUnitCount,
		Dimensions: []cwtypes.Dimension{
			{Name: aws.String(types.DimNetwork), Value: aws.String(string(network))},
			{Name: aws.String(types.DimResult), Value: aws.String(string(result))},
		},
	})
}

func (m *CloudWatchMetrics) RecordRecoveredPosts(ctx context.Context, count int) {
	m.put(ctx, cwtypes.MetricDatum{
		MetricName: aws.String(types.MetricRecoveredPosts),
		Value:      aws.Float64(float64(count)),
		Unit:       cwtypes.StandardUnitCount,
	})
}

func (m *CloudWatchMetrics) RecordTickDuration(ctx context.Context, job string, duration time.Duration) {
	m.put(ctx, cwtypes.MetricDatum{
		MetricName: aws.String(types.MetricTickDuration),
		Value:      aws.Float64(float64(duration.Milliseconds())),
		Unit:       cwtypes.StandardUnitMilliseconds,
		Dimensions: []cwtypes.Dimension{
			{Name: aws.String(types.DimJob), Value: aws.String(job)},
		},
	})
}

func (m *CloudWatchMetrics) RecordDuePosts(ctx context.Context, count int) {
	m.put(ctx, cwtypes.MetricDatum{
		MetricName: aws.String(types.MetricDuePosts),
		Value:      aws.Float64(float64(count)),
		Unit:       cwtypes.StandardUnitCount,
	})
}

func (m *CloudWatchMetrics) put(ctx context.Context, datum cwtypes.MetricDatum) {
	input := &cloudwatch.PutMetricDataInput{
		Namespace:  aws.String(m.namespace),
		MetricData: []cwtypes.MetricDatum{datum},
	}

	if _, err := m.client.PutMetricData(ctx, input); err != nil {
		m.logger.ErrorContext(ctx, "failed to record metric",
			"metric", aws.ToString(datum.MetricName),
			"error", err.Error(),
		)
	}
}

// NopMetrics discards all metrics. Used in tests and local development.
type NopMetrics struct{}

var _ Metrics = NopMetrics{}

func (NopMetrics) RecordPublishAttempt(context.Context, types.Network, MetricResult) {}
func (NopMetrics) RecordRecoveredPosts(context.Context, int)                         {}
func (NopMetrics) RecordTickDuration(context.Context, string, time.Duration)         {}
func (NopMetrics) RecordDuePosts(context.Context, int)                               {}
