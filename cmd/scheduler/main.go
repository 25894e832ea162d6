// Package main is the entrypoint for the scheduler daemon.
//
// The daemon runs two periodic jobs against the shared Postgres database:
//   - the scheduler loop, which publishes due posts per salon, and
//   - the recovery sweep, which requeues posts left behind by downtime.
//
// Both jobs claim a database lease before running so multiple replicas can be
// deployed without double-processing. This file handles dependency wiring and
// delegates all business logic to the internal/scheduler package.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"salonpost/internal/config"
	"salonpost/internal/db"
	"salonpost/internal/events"
	"salonpost/internal/external"
	"salonpost/internal/observability"
	"salonpost/internal/policy"
	"salonpost/internal/scheduler"
)

const (
	lockSchedulerLoop = "scheduler_loop"
	lockRecoverySweep = "recovery_sweep"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg.Database)
	if err != nil {
		logger.Error("failed to create database pool", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		logger.Error("failed to ping database", "error", err)
		os.Exit(1)
	}

	sink, metrics := newTelemetry(ctx, cfg, logger)

	defaults, err := policy.DefaultsFromConfig(cfg.Policy)
	if err != nil {
		logger.Error("invalid default policy configuration", "error", err)
		os.Exit(1)
	}

	postRepo := db.NewPostRepository(pool)
	policyRepo := db.NewPolicyRepository(pool)
	credRepo := db.NewCredentialRepository(pool)
	lockRepo := db.NewJobLockRepository(pool)
	historyRepo := db.NewJobHistoryRepository(pool)

	resolver := policy.NewResolver(policyRepo, defaults, logger)

	fbClient := external.NewFacebookClient(cfg.Meta, logger)
	igClient := external.NewInstagramClient(cfg.Meta, logger)

	loop := scheduler.NewLoop(postRepo, credRepo, resolver, fbClient, igClient, sink, metrics,
		scheduler.LoopConfig{
			PublishTimeout:  cfg.Scheduler.PublishTimeout,
			ParallelTenants: cfg.Scheduler.ParallelTenants,
			EnableInstagram: cfg.Feature.EnableInstagram,
		}, logger)

	recovery := scheduler.NewRecovery(postRepo, resolver, sink, metrics,
		scheduler.RecoveryConfig{
			MaxRetries:   cfg.Scheduler.MaxRetries,
			BatchLimit:   cfg.Scheduler.RecoveryBatchLimit,
			OverdueAfter: cfg.Scheduler.OverdueAfter,
		}, logger)

	hostname, _ := os.Hostname()
	workerID := fmt.Sprintf("%s-%s", hostname, uuid.New().String()[:8])

	runner := &jobRunner{
		locks:    lockRepo,
		history:  historyRepo,
		metrics:  metrics,
		workerID: workerID,
		leaseTTL: cfg.Scheduler.LeaseTTL,
		logger:   logger,
	}

	logger.Info("scheduler daemon starting",
		"worker_id", workerID,
		"environment", cfg.Environment,
		"tick_interval", cfg.Scheduler.EffectiveTickInterval().String(),
		"recovery_interval", cfg.Scheduler.EffectiveRecoveryInterval().String(),
		"parallel_tenants", cfg.Scheduler.ParallelTenants,
		"instagram_enabled", cfg.Feature.EnableInstagram,
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return runner.runEvery(gctx, lockSchedulerLoop, cfg.Scheduler.EffectiveTickInterval(), func(ctx context.Context, now time.Time) (int, error) {
			result, err := loop.Tick(ctx, now)
			return result.Processed(), err
		})
	})

	g.Go(func() error {
		return runner.runEvery(gctx, lockRecoverySweep, cfg.Scheduler.EffectiveRecoveryInterval(), func(ctx context.Context, now time.Time) (int, error) {
			return recovery.Sweep(ctx, now)
		})
	})

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		logger.Error("scheduler daemon stopped with error", "error", err)
		os.Exit(1)
	}

	logger.Info("scheduler daemon stopped")
}

// jobRunner wraps a periodic job with database lease acquisition and job
// history bookkeeping.
type jobRunner struct {
	locks    *db.JobLockRepository
	history  *db.JobHistoryRepository
	metrics  observability.Metrics
	workerID string
	leaseTTL time.Duration
	logger   *slog.Logger
}

// runEvery runs fn once immediately and then on every tick until ctx is
// cancelled. A run that cannot claim the lease is skipped silently; another
// replica owns it.
func (jr *jobRunner) runEvery(ctx context.Context, jobType string, interval time.Duration, fn func(context.Context, time.Time) (int, error)) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	jr.runOnce(ctx, jobType, fn)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			jr.runOnce(ctx, jobType, fn)
		}
	}
}

func (jr *jobRunner) runOnce(ctx context.Context, jobType string, fn func(context.Context, time.Time) (int, error)) {
	acquired, err := jr.locks.Acquire(ctx, jobType, jr.workerID, jr.leaseTTL)
	if err != nil {
		jr.logger.ErrorContext(ctx, "failed to acquire job lease",
			"job", jobType,
			"error", err.Error(),
		)
		return
	}
	if !acquired {
		jr.logger.DebugContext(ctx, "job lease held by another worker", "job", jobType)
		return
	}

	historyID, err := jr.history.Start(ctx, jobType)
	if err != nil {
		jr.logger.ErrorContext(ctx, "failed to record job start",
			"job", jobType,
			"error", err.Error(),
		)
		// Run anyway; history is bookkeeping, not a gate.
	}

	start := time.Now()
	items, runErr := fn(ctx, start.UTC())
	duration := time.Since(start)

	jr.metrics.RecordTickDuration(ctx, jobType, duration)

	status := "completed"
	if runErr != nil {
		status = "failed"
		jr.logger.ErrorContext(ctx, "job run failed",
			"job", jobType,
			"duration_ms", duration.Milliseconds(),
			"error", runErr.Error(),
		)
	}

	if historyID != 0 {
		if err := jr.history.Finish(ctx, historyID, status, items, runErr); err != nil {
			jr.logger.ErrorContext(ctx, "failed to record job finish",
				"job", jobType,
				"history_id", historyID,
				"error", err.Error(),
			)
		}
	}
}

// newLogger builds the process-wide JSON logger at the configured level.
func newLogger(cfg *config.Config) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	})).With("service", cfg.Service)
}

// newTelemetry wires the analytics event sink and metrics recorder. Local
// environments and deployments without a queue run with no-op telemetry.
func newTelemetry(ctx context.Context, cfg *config.Config, logger *slog.Logger) (events.Sink, observability.Metrics) {
	var sink events.Sink = events.NopSink{}
	var metrics observability.Metrics = observability.NopMetrics{}

	if cfg.Environment == "local" && cfg.AWS.EndpointURL == "" {
		return sink, metrics
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
	if err != nil {
		logger.Warn("failed to load aws sdk config, telemetry disabled", "error", err)
		return sink, metrics
	}

	cwClient := cloudwatch.NewFromConfig(awsCfg, func(o *cloudwatch.Options) {
		if cfg.AWS.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.AWS.EndpointURL)
		}
	})
	metrics = observability.NewCloudWatchMetrics(cwClient, cfg.AWS.MetricNamespace, logger)

	if cfg.AWS.EventsQueueURL != "" {
		sqsClient := sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
			if cfg.AWS.EndpointURL != "" {
				o.BaseEndpoint = aws.String(cfg.AWS.EndpointURL)
			}
		})
		sink = events.NewSQSSink(sqsClient, cfg.AWS.EventsQueueURL, logger)
	} else {
		logger.Info("no events queue configured, analytics events disabled")
	}

	return sink, metrics
}
