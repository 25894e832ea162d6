// Package scheduler contains the post scheduling engine: the enqueue service
// that assigns humanized publish times, the tick loop that publishes due posts
// per salon, and the recovery sweep that requeues posts left behind by
// downtime or transient failures.
package scheduler

import (
	"context"
	"time"

	"salonpost/internal/types"
)

const (
	// windowDeferral is how far a due post is pushed when the current time
	// falls outside the salon's posting window.
	windowDeferral = time.Hour

	// publishBackoff is how far a post is pushed after a failed publish
	// attempt. Retry accounting is owned by the recovery sweep, so the loop
	// only moves the clock.
	publishBackoff = 30 * time.Minute
)

// PostStore is the subset of the post repository the scheduling engine needs.
type PostStore interface {
	GetByID(ctx context.Context, id string) (*types.Post, error)
	DistinctDueTenants(ctx context.Context, now time.Time) ([]string, error)
	ListDueForSalon(ctx context.Context, salonID string, now time.Time) ([]*types.Post, error)
	Enqueue(ctx context.Context, id string, scheduledFor time.Time) (bool, error)
	ForceEnqueue(ctx context.Context, id string, scheduledFor time.Time) (bool, error)
	MarkPublished(ctx context.Context, id string, fbPostID string, igMediaID *string, publishedAt time.Time) (bool, error)
	Reschedule(ctx context.Context, id string, at time.Time) (bool, error)
	RequeueWithBackoff(ctx context.Context, id string, at time.Time, lastError string) (bool, error)
	ListOverdue(ctx context.Context, now time.Time, maxRetries int, limit int) ([]*types.Post, error)
	Recover(ctx context.Context, id string, at time.Time, maxRetries int) (bool, error)
}

// CredentialStore loads a salon's social account credentials.
type CredentialStore interface {
	GetBySalon(ctx context.Context, salonID string) (*types.SalonCredentials, error)
}

// PolicyResolver resolves the effective scheduling policy for a salon.
// Resolution never fails; invalid overrides fall back to defaults.
type PolicyResolver interface {
	Resolve(ctx context.Context, salonID string) types.Policy
}

// TickResult summarizes one pass of the scheduler loop.
type TickResult struct {
	Tenants   int
	Due       int
	Published int
	Deferred  int
	Failed    int
}

// Processed is the number of posts the tick acted on in any way.
func (r TickResult) Processed() int {
	return r.Published + r.Deferred + r.Failed
}

func (r TickResult) add(o TickResult) TickResult {
	return TickResult{
		Tenants:   r.Tenants + o.Tenants,
		Due:       r.Due + o.Due,
		Published: r.Published + o.Published,
		Deferred:  r.Deferred + o.Deferred,
		Failed:    r.Failed + o.Failed,
	}
}

// jitterDelay picks a random delay within the policy's bounds, inclusive at
// both ends. randFn returns a value in [0, n), matching rand.IntN.
func jitterDelay(randFn func(int) int, bounds types.DelayBounds) time.Duration {
	span := bounds.Max - bounds.Min + 1
	minutes := bounds.Min
	if span > 1 {
		minutes += randFn(span)
	}
	return time.Duration(minutes) * time.Minute
}
