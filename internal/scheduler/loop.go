package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"salonpost/internal/events"
	"salonpost/internal/external"
	"salonpost/internal/observability"
	"salonpost/internal/types"
)

// LoopConfig carries the tunables for the scheduler loop.
type LoopConfig struct {
	// PublishTimeout bounds each individual Graph API publish call.
	PublishTimeout time.Duration
	// ParallelTenants is the number of salons processed concurrently per
	// tick. Posts within a salon are always processed in order.
	ParallelTenants int
	// EnableInstagram gates cross-posting to Instagram.
	EnableInstagram bool
}

// Loop publishes due posts. Each tick finds salons with due posts, checks the
// salon's posting window, and publishes in scheduled order: Facebook first,
// then Instagram when enabled. A tick with nothing due touches nothing.
type Loop struct {
	posts     PostStore
	creds     CredentialStore
	resolver  PolicyResolver
	facebook  external.FacebookPublisher
	instagram external.InstagramPublisher
	events    events.Sink
	metrics   observability.Metrics
	cfg       LoopConfig
	logger    *slog.Logger
}

// NewLoop creates a scheduler loop. Nil sink, metrics, or logger fall back to
// no-op or default implementations.
func NewLoop(
	posts PostStore,
	creds CredentialStore,
	resolver PolicyResolver,
	facebook external.FacebookPublisher,
	instagram external.InstagramPublisher,
	sink events.Sink,
	metrics observability.Metrics,
	cfg LoopConfig,
	logger *slog.Logger,
) *Loop {
	if sink == nil {
		sink = events.NopSink{}
	}
	if metrics == nil {
		metrics = observability.NopMetrics{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ParallelTenants < 1 {
		cfg.ParallelTenants = 1
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 30 * time.Second
	}
	return &Loop{
		posts:     posts,
		creds:     creds,
		resolver:  resolver,
		facebook:  facebook,
		instagram: instagram,
		events:    sink,
		metrics:   metrics,
		cfg:       cfg,
		logger:    logger,
	}
}

// Tick runs one pass of the loop at the given instant. It returns a summary
// of what was published, deferred, and failed. Per-post failures are absorbed
// into the result; only infrastructure errors (listing tenants) surface as an
// error.
func (l *Loop) Tick(ctx context.Context, now time.Time) (TickResult, error) {
	tenants, err := l.posts.DistinctDueTenants(ctx, now)
	if err != nil {
		return TickResult{}, err
	}
	if len(tenants) == 0 {
		l.logger.DebugContext(ctx, "scheduler tick idle, no due posts")
		return TickResult{}, nil
	}

	var (
		mu     sync.Mutex
		result TickResult
	)
	result.Tenants = len(tenants)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.cfg.ParallelTenants)

	for _, salonID := range tenants {
		g.Go(func() error {
			tr := l.processSalon(gctx, salonID, now)
			mu.Lock()
			result = result.add(tr)
			mu.Unlock()
			return nil
		})
	}

	// Worker funcs never return errors; Wait only propagates ctx cancellation.
	if err := g.Wait(); err != nil {
		return result, err
	}

	l.metrics.RecordDuePosts(ctx, result.Due)

	l.logger.InfoContext(ctx, "scheduler tick complete",
		"tenants", result.Tenants,
		"due", result.Due,
		"published", result.Published,
		"deferred", result.Deferred,
		"failed", result.Failed,
	)

	return result, nil
}

// processSalon handles all due posts for one salon, in scheduled order.
func (l *Loop) processSalon(ctx context.Context, salonID string, now time.Time) TickResult {
	var tr TickResult

	posts, err := l.posts.ListDueForSalon(ctx, salonID, now)
	if err != nil {
		l.logger.ErrorContext(ctx, "failed to list due posts",
			"salon_id", salonID,
			"error", err.Error(),
		)
		return tr
	}
	tr.Due = len(posts)
	if len(posts) == 0 {
		return tr
	}

	policy := l.resolver.Resolve(ctx, salonID)

	if !policy.InWindow(now) {
		for _, post := range posts {
			l.deferOutsideWindow(ctx, post, now)
			tr.Deferred++
		}
		return tr
	}

	creds, err := l.creds.GetBySalon(ctx, salonID)
	if err != nil {
		// Missing or unreadable credentials fail every due post the same
		// way a publish failure would, so the recovery sweep picks them up.
		l.logger.ErrorContext(ctx, "failed to load salon credentials",
			"salon_id", salonID,
			"error", err.Error(),
		)
		for _, post := range posts {
			l.failPublish(ctx, post, now, err)
			tr.Failed++
		}
		return tr
	}

	for _, post := range posts {
		if l.publishPost(ctx, post, *creds, now) {
			tr.Published++
		} else {
			tr.Failed++
		}
	}
	return tr
}

// deferOutsideWindow pushes the post one hour ahead without touching the
// adapters. The retry counter is not a factor here; waiting for the window to
// open is not a failure.
func (l *Loop) deferOutsideWindow(ctx context.Context, post *types.Post, now time.Time) {
	at := now.Add(windowDeferral).UTC()
	updated, err := l.posts.Reschedule(ctx, post.ID, at)
	if err != nil {
		l.logger.ErrorContext(ctx, "failed to defer post outside posting window",
			"post_id", post.ID,
			"salon_id", post.SalonID,
			"error", err.Error(),
		)
		return
	}
	if !updated {
		return
	}

	l.logger.InfoContext(ctx, "post deferred outside posting window",
		"post_id", post.ID,
		"salon_id", post.SalonID,
		"rescheduled_for", at.Format(time.RFC3339),
	)

	l.events.Emit(ctx, types.Event{
		Name:    types.EventDelayOutsideWindow,
		SalonID: post.SalonID,
		PostID:  post.ID,
		Data: events.Data(
			"rescheduled_for", at.Format(time.RFC3339),
		),
	})
}

// publishPost publishes one post to Facebook and, when enabled and possible,
// Instagram. Returns true if the post reached published state.
func (l *Loop) publishPost(ctx context.Context, post *types.Post, creds types.SalonCredentials, now time.Time) bool {
	fbCtx, cancel := context.WithTimeout(ctx, l.cfg.PublishTimeout)
	fbPostID, err := l.facebook.PublishPagePost(fbCtx, creds, *post)
	cancel()
	if err != nil {
		l.metrics.RecordPublishAttempt(ctx, types.NetworkFacebook, observability.ResultFailure)
		l.failPublish(ctx, post, now, err)
		return false
	}
	l.metrics.RecordPublishAttempt(ctx, types.NetworkFacebook, observability.ResultSuccess)

	var igMediaID *string
	partialErr := ""
	if l.instagramEligible(creds, post) {
		igCtx, cancel := context.WithTimeout(ctx, l.cfg.PublishTimeout)
		igID, igErr := l.instagram.PublishMedia(igCtx, creds, *post)
		cancel()
		if igErr != nil {
			// The Facebook post is live, so the post still counts as
			// published. The miss is surfaced as a partial event instead of
			// a retry that would duplicate the Facebook post.
			l.metrics.RecordPublishAttempt(ctx, types.NetworkInstagram, observability.ResultFailure)
			partialErr = igErr.Error()
			l.logger.WarnContext(ctx, "instagram publish failed after facebook succeeded",
				"post_id", post.ID,
				"salon_id", post.SalonID,
				"fb_post_id", fbPostID,
				"error", partialErr,
			)
		} else {
			l.metrics.RecordPublishAttempt(ctx, types.NetworkInstagram, observability.ResultSuccess)
			igMediaID = &igID
		}
	}

	updated, err := l.posts.MarkPublished(ctx, post.ID, fbPostID, igMediaID, now.UTC())
	if err != nil {
		l.logger.ErrorContext(ctx, "failed to record publish",
			"post_id", post.ID,
			"salon_id", post.SalonID,
			"fb_post_id", fbPostID,
			"error", err.Error(),
		)
		return false
	}
	if !updated {
		// Another worker already moved the post out of queued. The network
		// call above may have duplicated, which is the accepted trade-off
		// for running without distributed locking per post.
		l.logger.WarnContext(ctx, "post left queued state before publish was recorded",
			"post_id", post.ID,
			"salon_id", post.SalonID,
			"fb_post_id", fbPostID,
		)
		return false
	}

	l.logger.InfoContext(ctx, "post published",
		"post_id", post.ID,
		"salon_id", post.SalonID,
		"fb_post_id", fbPostID,
		"ig_media_id", igMediaID,
	)

	if partialErr != "" {
		l.events.Emit(ctx, types.Event{
			Name:    types.EventPostPublishPartial,
			SalonID: post.SalonID,
			PostID:  post.ID,
			Data: events.Data(
				"fb_post_id", fbPostID,
				"instagram_error", partialErr,
			),
		})
	} else {
		l.events.Emit(ctx, types.Event{
			Name:    types.EventPostPublished,
			SalonID: post.SalonID,
			PostID:  post.ID,
			Data: events.Data(
				"fb_post_id", fbPostID,
				"ig_media_id", igMediaID,
			),
		})
	}
	return true
}

// failPublish moves the post's scheduled time back by the publish backoff and
// records the failure reason. The retry counter is deliberately untouched;
// only the recovery sweep spends retries.
func (l *Loop) failPublish(ctx context.Context, post *types.Post, now time.Time, cause error) {
	at := now.Add(publishBackoff).UTC()
	if _, err := l.posts.RequeueWithBackoff(ctx, post.ID, at, cause.Error()); err != nil {
		l.logger.ErrorContext(ctx, "failed to requeue post after publish failure",
			"post_id", post.ID,
			"salon_id", post.SalonID,
			"error", err.Error(),
		)
		return
	}

	l.logger.ErrorContext(ctx, "post publish failed",
		"post_id", post.ID,
		"salon_id", post.SalonID,
		"retry_at", at.Format(time.RFC3339),
		"error", cause.Error(),
	)

	l.events.Emit(ctx, types.Event{
		Name:    types.EventPostPublishFailed,
		SalonID: post.SalonID,
		PostID:  post.ID,
		Data: events.Data(
			"error", cause.Error(),
			"retry_at", at.Format(time.RFC3339),
		),
	})
}

func (l *Loop) instagramEligible(creds types.SalonCredentials, post *types.Post) bool {
	if !l.cfg.EnableInstagram || l.instagram == nil {
		return false
	}
	if creds.IGUserID == "" {
		return false
	}
	return post.ImageURL != nil && *post.ImageURL != ""
}
