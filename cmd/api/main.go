// Package main is the entrypoint for the ops API server.
//
// The API is the enqueue surface of the scheduling engine: operators and
// upstream services create approved posts and push them into the publish
// queue. Publishing itself is done by the scheduler daemon.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"salonpost/internal/api"
	"salonpost/internal/config"
	"salonpost/internal/db"
	"salonpost/internal/events"
	"salonpost/internal/policy"
	"salonpost/internal/scheduler"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	})).With("service", "salonpost-api")
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

	defaults, err := policy.DefaultsFromConfig(cfg.Policy)
	if err != nil {
		logger.Error("invalid default policy configuration", "error", err)
		os.Exit(1)
	}

	postRepo := db.NewPostRepository(pool)
	policyRepo := db.NewPolicyRepository(pool)
	resolver := policy.NewResolver(policyRepo, defaults, logger)

	sink := newEventSink(ctx, cfg, logger)
	enqueueSvc := scheduler.NewEnqueueService(postRepo, resolver, sink, logger)

	handler := api.NewPostHandler(postRepo, enqueueSvc)
	server := api.NewServer(cfg.Server, cfg.Security, handler, pool, logger)

	logger.Info("ops api starting", "port", cfg.Server.Port, "environment", cfg.Environment)

	if err := server.Run(ctx); err != nil {
		logger.Error("ops api stopped with error", "error", err)
		os.Exit(1)
	}

	logger.Info("ops api stopped")
}

// newEventSink wires the analytics event sink, falling back to a no-op when
// no queue is configured.
func newEventSink(ctx context.Context, cfg *config.Config, logger *slog.Logger) events.Sink {
	if cfg.AWS.EventsQueueURL == "" {
		logger.Info("no events queue configured, analytics events disabled")
		return events.NopSink{}
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
	if err != nil {
		logger.Warn("failed to load aws sdk config, analytics events disabled", "error", err)
		return events.NopSink{}
	}

	client := sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
		if cfg.AWS.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.AWS.EndpointURL)
		}
	})
	return events.NewSQSSink(client, cfg.AWS.EventsQueueURL, logger)
}
