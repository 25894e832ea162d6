// Package config defines the global configuration structure for the SalonPost
// scheduling engine. Configuration is loaded once at process initialization
// and is immutable thereafter. It follows 12-Factor App principles by strictly
// separating code from configuration.
//
// Values are resolved via a priority chain:
//
//	OS Environment (Highest) -> Dotenv File (Lowest)
//
// Any missing required value or invalid format causes the application to fail
// immediately on startup.
package config

import (
	"time"

	"salonpost/internal/types"
)

// SecretString is an alias for types.SecretString, the redacted secret type
// used throughout configuration to prevent accidental logging of sensitive
// values.
type SecretString = types.SecretString

// Config is the top-level configuration struct for the scheduling engine.
// It is populated once during process initialization and never modified.
// Sub-components receive only the specific config subsets they require.
type Config struct {
	// System Metadata
	Environment string `envconfig:"APP_ENV" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"salonpost-scheduler"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	// Domain Configurations
	Server    ServerConfig
	Database  DatabaseConfig
	Scheduler SchedulerConfig
	Policy    PolicyDefaults
	Meta      MetaConfig
	AWS       AWSConfig
	Security  SecurityConfig
	Feature   FeatureConfig
}

// ServerConfig holds HTTP server configuration for the enqueue/ops API.
type ServerConfig struct {
	Port            string        `envconfig:"PORT" default:"8080"`
	ShutdownTimeout time.Duration `envconfig:"SERVER_SHUTDOWN_TIMEOUT" default:"10s"`
}

// DatabaseConfig holds database connection and pool tuning parameters.
type DatabaseConfig struct {
	URL SecretString `envconfig:"DATABASE_URL" validate:"required,url"`

	// Tuning Parameters
	MaxConns          int           `envconfig:"DB_MAX_CONNS" default:"10"`
	MinConns          int           `envconfig:"DB_MIN_CONNS" default:"2"`
	MaxConnLifetime   time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	AcquireTimeout    time.Duration `envconfig:"DB_ACQUIRE_TIMEOUT" default:"2s"`
	HealthCheckPeriod time.Duration `envconfig:"DB_HEALTH_CHECK_PERIOD" default:"1m"`
}

// SchedulerConfig holds the tick cadence and retry policy for the scheduler
// loop and the recovery sweep. The two tasks run on independent tickers; each
// tick runs to completion before the next trigger of the same task fires.
type SchedulerConfig struct {
	TickInterval     time.Duration `envconfig:"SCHEDULER_TICK_INTERVAL" default:"15m"`
	RecoveryInterval time.Duration `envconfig:"RECOVERY_SWEEP_INTERVAL" default:"15m"`

	// FastTestMode shortens both intervals to 30 seconds for integration
	// testing, regardless of the configured values.
	FastTestMode bool `envconfig:"SCHEDULER_FAST_TEST_MODE" default:"false"`

	// MaxRetries bounds how many times the recovery sweep will re-enqueue a
	// stuck post before leaving it for operator intervention.
	MaxRetries int `envconfig:"SCHEDULER_MAX_RETRIES" default:"3"`

	// PublishTimeout bounds each publish adapter call so a hung network call
	// cannot block a salon's remaining posts for the whole tick.
	PublishTimeout time.Duration `envconfig:"SCHEDULER_PUBLISH_TIMEOUT" default:"30s"`

	// ParallelTenants > 1 processes salons concurrently within a tick.
	// Posts never cross salon boundaries, so per-salon ordering is preserved.
	ParallelTenants int `envconfig:"SCHEDULER_PARALLEL_TENANTS" default:"1"`

	// OverdueAfter is how far past its scheduled time a post must be before
	// the recovery sweep considers it stuck. Zero means any past-due post
	// qualifies; the sweep cadence supplies the slack.
	OverdueAfter time.Duration `envconfig:"RECOVERY_OVERDUE_AFTER" default:"0s"`

	// RecoveryBatchLimit caps the number of posts re-enqueued per sweep.
	RecoveryBatchLimit int `envconfig:"RECOVERY_BATCH_LIMIT" default:"100"`

	// LeaseTTL is the job-lock lease duration claimed at each tick entry point.
	LeaseTTL time.Duration `envconfig:"SCHEDULER_LEASE_TTL" default:"14m"`
}

// FastTestInterval is the tick cadence used when FastTestMode is enabled.
const FastTestInterval = 30 * time.Second

// EffectiveTickInterval returns the scheduler loop cadence, honoring fast-test mode.
func (c SchedulerConfig) EffectiveTickInterval() time.Duration {
	if c.FastTestMode {
		return FastTestInterval
	}
	return c.TickInterval
}

// EffectiveRecoveryInterval returns the recovery sweep cadence, honoring fast-test mode.
func (c SchedulerConfig) EffectiveRecoveryInterval() time.Duration {
	if c.FastTestMode {
		return FastTestInterval
	}
	return c.RecoveryInterval
}

// PolicyDefaults holds the process-wide fallback policy. Salons without an
// override row (or with malformed override fields) inherit these values
// field-by-field.
type PolicyDefaults struct {
	WindowStart     string `envconfig:"POLICY_WINDOW_START" default:"09:00"`
	WindowEnd       string `envconfig:"POLICY_WINDOW_END" default:"19:00"`
	DelayMinMinutes int    `envconfig:"POLICY_DELAY_MIN_MINUTES" default:"20"`
	DelayMaxMinutes int    `envconfig:"POLICY_DELAY_MAX_MINUTES" default:"45"`
	Timezone        string `envconfig:"POLICY_TIMEZONE" default:"America/New_York"`
}

// MetaConfig holds Meta Graph API settings shared by the Facebook and
// Instagram publish adapters.
type MetaConfig struct {
	GraphAPIBaseURL string        `envconfig:"GRAPH_API_BASE_URL" default:"https://graph.facebook.com"`
	GraphAPIVersion string        `envconfig:"GRAPH_API_VERSION" default:"v19.0"`
	Timeout         time.Duration `envconfig:"GRAPH_API_TIMEOUT" default:"30s"`
}

// AWSConfig holds AWS resource identifiers and regional configuration for the
// analytics event sink and CloudWatch metrics.
type AWSConfig struct {
	Region string `envconfig:"AWS_REGION" default:"us-east-1"`

	// EventsQueueURL is the SQS queue the analytics event sink publishes to.
	// Empty disables the sink (events are dropped with a log line).
	EventsQueueURL string `envconfig:"SQS_EVENTS_QUEUE"`

	MetricNamespace string `envconfig:"METRIC_NAMESPACE" default:"SalonPost"`

	// LocalStack Support (Empty in Prod)
	EndpointURL string `envconfig:"AWS_ENDPOINT_URL"`
}

// SecurityConfig holds the ops API key protecting the enqueue surface.
type SecurityConfig struct {
	AdminAPIKey SecretString `envconfig:"ADMIN_API_KEY" validate:"required"`
}

// FeatureConfig holds emergency kill switches for system capabilities.
type FeatureConfig struct {
	EnableInstagram bool `envconfig:"FEATURE_ENABLE_INSTAGRAM" default:"true"`
}

// ConfigErrorType categorizes configuration loading failures to aid debugging.
type ConfigErrorType string

const (
	// ErrValidation indicates the configuration failed struct validation rules.
	ErrValidation ConfigErrorType = "VALIDATION_FAILED"
	// ErrParsing indicates a failure when parsing environment variable values
	// into their target types.
	ErrParsing ConfigErrorType = "PARSING_FAILED"
)
