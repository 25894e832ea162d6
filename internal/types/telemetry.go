package types

// Telemetry metric names for CloudWatch.
// All components MUST use these constants.
const (
	// Metric Names
	MetricPublishAttempt = "PublishAttempt"
	MetricRecoveredPosts = "RecoveredPosts"
	MetricTickDuration   = "TickDuration"
	MetricDuePosts       = "DuePosts"

	// Dimension Keys
	DimNetwork = "Network"
	DimResult  = "Result"
	DimJob     = "Job"

	// Metric Namespace
	MetricNamespace = "SalonPost"
)
