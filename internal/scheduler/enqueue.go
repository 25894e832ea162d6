package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"salonpost/internal/events"
	"salonpost/internal/types"
)

// EnqueueService moves an approved post into the publish queue. The publish
// time is the current time plus a random delay drawn from the salon's jitter
// bounds, so batches of approvals do not all go live at the same minute.
type EnqueueService struct {
	posts    PostStore
	resolver PolicyResolver
	events   events.Sink
	logger   *slog.Logger
	nowFn    func() time.Time
	randFn   func(int) int
}

// NewEnqueueService creates an EnqueueService. If logger is nil, the default
// logger is used.
func NewEnqueueService(posts PostStore, resolver PolicyResolver, sink events.Sink, logger *slog.Logger) *EnqueueService {
	if logger == nil {
		logger = slog.Default()
	}
	if sink == nil {
		sink = events.NopSink{}
	}
	return &EnqueueService{
		posts:    posts,
		resolver: resolver,
		events:   sink,
		logger:   logger,
		nowFn:    func() time.Time { return time.Now().UTC() },
		randFn:   rand.IntN,
	}
}

// Enqueue schedules the post for publishing and returns its scheduled time in
// UTC. Only approved posts can be enqueued; calling Enqueue on an already
// queued post re-rolls its delay, which lets an operator bump a post that was
// deferred too far. With force set, an operator can pull a post in any other
// state into the queue, skipping the review flow. Published posts always
// conflict; forcing one would publish it twice.
func (s *EnqueueService) Enqueue(ctx context.Context, postID string, force bool) (time.Time, error) {
	post, err := s.posts.GetByID(ctx, postID)
	if err != nil {
		return time.Time{}, err
	}

	allowed := post.Status == types.PostApproved || post.Status == types.PostQueued
	if post.Status == types.PostPublished || (!allowed && !force) {
		return time.Time{}, types.NewAppErrorWithDetails(
			types.ErrCodeConflictStatus,
			fmt.Sprintf("post cannot be enqueued from status %q", post.Status),
			nil,
			map[string]any{"post_id": post.ID, "status": string(post.Status)},
		)
	}
	if post.SalonID == "" {
		return time.Time{}, types.NewAppError(
			types.ErrCodeValidationMissingField,
			"post has no salon",
			nil,
		)
	}
	if post.FinalCaption == "" {
		return time.Time{}, types.NewAppError(
			types.ErrCodeValidationMissingField,
			"post has no final caption",
			nil,
		)
	}

	policy := s.resolver.Resolve(ctx, post.SalonID)

	now := s.nowFn()
	delay := jitterDelay(s.randFn, policy.Delay)
	scheduledFor := now.Add(delay).UTC()

	// The forced transition uses a wider status gate at the store level; the
	// regular one still protects against races with the review flow.
	transition := s.posts.Enqueue
	if force {
		transition = s.posts.ForceEnqueue
	}
	updated, err := transition(ctx, post.ID, scheduledFor)
	if err != nil {
		return time.Time{}, err
	}
	if !updated {
		// The post changed status between the read and the update.
		return time.Time{}, types.NewAppError(
			types.ErrCodeConflictConcurrent,
			"post status changed during enqueue",
			nil,
		)
	}

	s.logger.InfoContext(ctx, "post enqueued",
		"post_id", post.ID,
		"salon_id", post.SalonID,
		"scheduled_for", scheduledFor.Format(time.RFC3339),
		"delay_minutes", int(delay.Minutes()),
		"forced", force,
	)

	s.events.Emit(ctx, types.Event{
		Name:    types.EventPostEnqueued,
		SalonID: post.SalonID,
		PostID:  post.ID,
		Data: events.Data(
			"scheduled_for", scheduledFor.Format(time.RFC3339),
			"delay_minutes", int(delay.Minutes()),
		),
	})

	return scheduledFor, nil
}
