package types

// PostStatus represents the lifecycle state of a post.
type PostStatus string

const (
	PostDraft          PostStatus = "draft"
	PostManagerPending PostStatus = "manager_pending"
	PostApproved       PostStatus = "approved"
	PostQueued         PostStatus = "queued"
	PostPublished      PostStatus = "published"
	PostDenied         PostStatus = "denied"
	PostFailed         PostStatus = "failed"
	PostCancelled      PostStatus = "cancelled"
)

// Terminal reports whether the status is an end state the scheduler never
// moves a post out of.
func (s PostStatus) Terminal() bool {
	switch s {
	case PostPublished, PostDenied, PostCancelled:
		return true
	}
	return false
}

// Network identifies a publish target.
type Network string

const (
	NetworkFacebook  Network = "facebook"
	NetworkInstagram Network = "instagram"
)

// Analytics event names emitted by the scheduling engine.
// All components MUST use these constants.
const (
	EventPostEnqueued       = "post_enqueued"
	EventDelayOutsideWindow = "scheduler_delay_outside_window"
	EventPostPublished      = "post_published"
	EventPostPublishFailed  = "post_publish_failed"
	EventPostPublishPartial = "post_publish_partial"
	EventRecoveredPost      = "scheduler_recovered_post"
)
