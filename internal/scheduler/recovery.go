package scheduler

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"time"

	"salonpost/internal/events"
	"salonpost/internal/observability"
	"salonpost/internal/types"
)

// RecoveryConfig carries the tunables for the recovery sweep.
type RecoveryConfig struct {
	// MaxRetries caps how many times a post can be recovered. Posts at the
	// cap are left alone for manual review.
	MaxRetries int
	// BatchLimit bounds how many posts a single sweep will requeue.
	BatchLimit int
	// OverdueAfter is the grace period past the scheduled time before a
	// post counts as stuck. Zero means no grace period.
	OverdueAfter time.Duration
}

// Recovery requeues posts that are still sitting past their scheduled time,
// typically because the scheduler was down or a publish kept failing. Each
// recovered post gets a fresh jittered delay and one retry spent.
type Recovery struct {
	posts    PostStore
	resolver PolicyResolver
	events   events.Sink
	metrics  observability.Metrics
	cfg      RecoveryConfig
	logger   *slog.Logger
	randFn   func(int) int
}

// NewRecovery creates a recovery sweep. Nil sink, metrics, or logger fall
// back to no-op or default implementations.
func NewRecovery(
	posts PostStore,
	resolver PolicyResolver,
	sink events.Sink,
	metrics observability.Metrics,
	cfg RecoveryConfig,
	logger *slog.Logger,
) *Recovery {
	if sink == nil {
		sink = events.NopSink{}
	}
	if metrics == nil {
		metrics = observability.NopMetrics{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Recovery{
		posts:    posts,
		resolver: resolver,
		events:   sink,
		metrics:  metrics,
		cfg:      cfg,
		logger:   logger,
		randFn:   rand.IntN,
	}
}

// Sweep runs one recovery pass at the given instant and returns how many
// posts were requeued. A sweep that finds nothing overdue performs no writes.
func (r *Recovery) Sweep(ctx context.Context, now time.Time) (int, error) {
	cutoff := now.Add(-r.cfg.OverdueAfter)
	overdue, err := r.posts.ListOverdue(ctx, cutoff, r.cfg.MaxRetries, r.cfg.BatchLimit)
	if err != nil {
		return 0, err
	}
	if len(overdue) == 0 {
		r.logger.DebugContext(ctx, "recovery sweep idle, no overdue posts")
		return 0, nil
	}

	// Policies are resolved once per salon; a sweep batch often holds many
	// posts from the same tenant.
	policies := make(map[string]types.Policy)

	recovered := 0
	for _, post := range overdue {
		policy, ok := policies[post.SalonID]
		if !ok {
			policy = r.resolver.Resolve(ctx, post.SalonID)
			policies[post.SalonID] = policy
		}

		delay := jitterDelay(r.randFn, policy.Delay)
		at := now.Add(delay).UTC()

		updated, err := r.posts.Recover(ctx, post.ID, at, r.cfg.MaxRetries)
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to recover post",
				"post_id", post.ID,
				"salon_id", post.SalonID,
				"error", err.Error(),
			)
			continue
		}
		if !updated {
			// Retry budget exhausted or status changed since listing.
			continue
		}
		recovered++

		r.logger.InfoContext(ctx, "overdue post recovered",
			"post_id", post.ID,
			"salon_id", post.SalonID,
			"rescheduled_for", at.Format(time.RFC3339),
			"retry_count", post.RetryCount+1,
		)

		r.events.Emit(ctx, types.Event{
			Name:    types.EventRecoveredPost,
			SalonID: post.SalonID,
			PostID:  post.ID,
			Data: events.Data(
				"rescheduled_for", at.Format(time.RFC3339),
				"retry_count", post.RetryCount+1,
			),
		})
	}

	r.metrics.RecordRecoveredPosts(ctx, recovered)

	r.logger.InfoContext(ctx, "recovery sweep complete",
		"overdue", len(overdue),
		"recovered", recovered,
	)

	return recovered, nil
}
