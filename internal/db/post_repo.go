package db

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"salonpost/internal/types"
)

// postColumns is the canonical SELECT column list for scanning a Post row.
const postColumns = `id, salon_id, status, final_caption, image_url,
	scheduled_for, retry_count, fb_post_id, ig_media_id, published_at,
	last_error, created_at, updated_at`

// PostRepository provides data access for the posts table. It implements the
// persisted-queue query surface the scheduler requires: distinct tenants with
// due work, due posts per tenant in publish order, overdue posts with retry
// budget remaining, and single-row conditional updates keyed by post id.
//
// All timestamps are stored and compared in UTC. Conditional updates use a
// status guard in the WHERE clause so concurrent mutation (another sweep, an
// operator action) makes the UPDATE a no-op instead of clobbering state.
type PostRepository struct {
	db DBTX
}

// NewPostRepository creates a new PostRepository backed by the given database
// connection (pool or transaction).
func NewPostRepository(db DBTX) *PostRepository {
	return &PostRepository{db: db}
}

// Create inserts a new post row. The caller supplies the ID (uuid) and the
// content payload; scheduling fields start empty.
func (r *PostRepository) Create(ctx context.Context, p *types.Post) error {
	now := time.Now().UTC()
	_, err := r.db.Exec(ctx,
		`INSERT INTO posts
		 (id, salon_id, status, final_caption, image_url, retry_count, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, 0, $6, $6)`,
		p.ID,
		p.SalonID,
		string(p.Status),
		p.FinalCaption,
		p.ImageURL,
		now,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to create post", err)
	}
	p.CreatedAt = now
	p.UpdatedAt = now
	return nil
}

// GetByID returns a single post by id.
func (r *PostRepository) GetByID(ctx context.Context, id string) (*types.Post, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+postColumns+` FROM posts WHERE id = $1`,
		id,
	)

	p, err := scanPost(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundPost, "post not found", err)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query post", err)
	}
	return p, nil
}

// DistinctDueTenants returns the distinct salon IDs that have at least one
// queued post whose scheduled_for is at or before now.
//
// SQL: SELECT DISTINCT salon_id FROM posts
//      WHERE status = 'queued' AND scheduled_for <= $1
func (r *PostRepository) DistinctDueTenants(ctx context.Context, now time.Time) ([]string, error) {
	rows, err := r.db.Query(ctx,
		`SELECT DISTINCT salon_id FROM posts
		 WHERE status = 'queued' AND scheduled_for IS NOT NULL AND scheduled_for <= $1
		 ORDER BY salon_id`,
		now,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query due tenants", err)
	}
	defer rows.Close()

	var salonIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan salon id", err)
		}
		salonIDs = append(salonIDs, id)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating due tenants", err)
	}

	return salonIDs, nil
}

// ListDueForSalon returns the salon's due queued posts ordered by
// scheduled_for ascending with post id as a stable tie-break. This ordering
// guarantees the oldest-due content is attempted first within a salon.
func (r *PostRepository) ListDueForSalon(ctx context.Context, salonID string, now time.Time) ([]*types.Post, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+postColumns+` FROM posts
		 WHERE salon_id = $1 AND status = 'queued'
		 AND scheduled_for IS NOT NULL AND scheduled_for <= $2
		 ORDER BY scheduled_for ASC, id ASC`,
		salonID,
		now,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query due posts", err)
	}
	defer rows.Close()

	return collectPosts(rows)
}

// Enqueue transitions a post to 'queued' with the given publish time. The
// transition is allowed from 'approved' (first enqueue) and from 'queued'
// (idempotent re-enqueue recomputes the publish time). Returns false if the
// post was in neither state.
//
// SQL: UPDATE posts SET status = 'queued', scheduled_for = $2, updated_at = NOW()
//      WHERE id = $1 AND status IN ('approved', 'queued')
func (r *PostRepository) Enqueue(ctx context.Context, id string, scheduledFor time.Time) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE posts
		 SET status = 'queued', scheduled_for = $2, updated_at = NOW()
		 WHERE id = $1 AND status IN ('approved', 'queued')`,
		id,
		scheduledFor,
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to enqueue post", err)
	}
	return tag.RowsAffected() > 0, nil
}

// ForceEnqueue is the operator override of Enqueue: it moves a post to
// 'queued' from any state except 'published', skipping the review flow.
// Published rows stay guarded so a forced enqueue can never publish twice.
// Returns false if the post was already published or does not exist.
func (r *PostRepository) ForceEnqueue(ctx context.Context, id string, scheduledFor time.Time) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE posts
		 SET status = 'queued', scheduled_for = $2, updated_at = NOW()
		 WHERE id = $1 AND status <> 'published'`,
		id,
		scheduledFor,
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to force-enqueue post", err)
	}
	return tag.RowsAffected() > 0, nil
}

// MarkPublished records a successful publish. The status guard ensures a post
// is published at most once from the store's perspective: once the row leaves
// 'queued', no later tick can overwrite fb_post_id, ig_media_id, or
// published_at. Returns false if the post was no longer queued.
func (r *PostRepository) MarkPublished(ctx context.Context, id string, fbPostID string, igMediaID *string, publishedAt time.Time) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE posts
		 SET status = 'published', fb_post_id = $2, ig_media_id = $3,
		     published_at = $4, last_error = NULL, updated_at = NOW()
		 WHERE id = $1 AND status = 'queued'`,
		id,
		fbPostID,
		igMediaID,
		publishedAt,
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to mark post published", err)
	}
	return tag.RowsAffected() > 0, nil
}

// Reschedule moves a queued post's publish time without touching anything
// else. Used for posting-window deferrals. Returns false if the post was no
// longer queued.
func (r *PostRepository) Reschedule(ctx context.Context, id string, at time.Time) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE posts
		 SET scheduled_for = $2, updated_at = NOW()
		 WHERE id = $1 AND status = 'queued'`,
		id,
		at,
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to reschedule post", err)
	}
	return tag.RowsAffected() > 0, nil
}

// RequeueWithBackoff records a publish failure: the post stays queued, its
// publish time moves to the backoff deadline, and the failure detail is kept
// for operators. retry_count is deliberately untouched; only the recovery
// sweep increments it. Returns false if the post was no longer queued.
func (r *PostRepository) RequeueWithBackoff(ctx context.Context, id string, at time.Time, lastError string) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE posts
		 SET scheduled_for = $2, last_error = $3, updated_at = NOW()
		 WHERE id = $1 AND status = 'queued'`,
		id,
		at,
		lastError,
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to requeue post", err)
	}
	return tag.RowsAffected() > 0, nil
}

// ListOverdue returns posts stuck past their due time with retry budget
// remaining: status queued or failed, scheduled_for in the past, and
// retry_count below maxRetries. Posts that have exhausted their budget are
// excluded and remain visible for operator intervention.
func (r *PostRepository) ListOverdue(ctx context.Context, now time.Time, maxRetries int, limit int) ([]*types.Post, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+postColumns+` FROM posts
		 WHERE status IN ('queued', 'failed')
		 AND scheduled_for IS NOT NULL AND scheduled_for < $1
		 AND retry_count < $2
		 ORDER BY scheduled_for ASC, id ASC
		 LIMIT $3`,
		now,
		maxRetries,
		limit,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query overdue posts", err)
	}
	defer rows.Close()

	return collectPosts(rows)
}

// Recover re-enqueues a stuck post with a fresh publish time and increments
// its retry count. The retry_count guard in the WHERE clause makes the cap
// authoritative at the store level: a concurrent sweep cannot push a post past
// maxRetries. Returns false if the post was already recovered, already past
// the cap, or no longer in a recoverable state.
func (r *PostRepository) Recover(ctx context.Context, id string, at time.Time, maxRetries int) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE posts
		 SET status = 'queued', scheduled_for = $2,
		     retry_count = retry_count + 1, updated_at = NOW()
		 WHERE id = $1 AND status IN ('queued', 'failed') AND retry_count < $3`,
		id,
		at,
		maxRetries,
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to recover post", err)
	}
	return tag.RowsAffected() > 0, nil
}

// scanPost scans a single post row from the canonical column list.
func scanPost(row pgx.Row) (*types.Post, error) {
	var (
		p      types.Post
		status string
	)
	if err := row.Scan(
		&p.ID,
		&p.SalonID,
		&status,
		&p.FinalCaption,
		&p.ImageURL,
		&p.ScheduledFor,
		&p.RetryCount,
		&p.FBPostID,
		&p.IGMediaID,
		&p.PublishedAt,
		&p.LastError,
		&p.CreatedAt,
		&p.UpdatedAt,
	); err != nil {
		return nil, err
	}
	p.Status = types.PostStatus(status)
	return &p, nil
}

// collectPosts drains rows into a slice using scanPost.
func collectPosts(rows pgx.Rows) ([]*types.Post, error) {
	var posts []*types.Post
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan post", err)
		}
		posts = append(posts, p)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating posts", err)
	}
	return posts, nil
}
