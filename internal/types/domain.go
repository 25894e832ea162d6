// Package types defines the shared domain model for the SalonPost scheduling
// engine: posts, per-salon policies, publish credentials, analytics events,
// and the application error type used across all packages.
package types

import "time"

// Post is the unit of scheduling work. A post is created by the upstream
// approval flow, enqueued with a jittered publish time, picked up by the
// scheduler loop, and driven to a terminal state.
type Post struct {
	ID           string     `json:"id"`
	SalonID      string     `json:"salon_id"`
	Status       PostStatus `json:"status"`
	FinalCaption string     `json:"final_caption"`
	ImageURL     *string    `json:"image_url,omitempty"`

	// ScheduledFor is always stored and compared in UTC. It is nil until the
	// post is enqueued and is the sole ordering key within a salon.
	ScheduledFor *time.Time `json:"scheduled_for,omitempty"`

	// RetryCount is incremented only by the recovery sweep.
	RetryCount int `json:"retry_count"`

	// Populated only on successful publish. PublishedAt non-nil implies
	// Status == PostPublished and is never cleared.
	FBPostID    *string    `json:"fb_post_id,omitempty"`
	IGMediaID   *string    `json:"ig_media_id,omitempty"`
	PublishedAt *time.Time `json:"published_at,omitempty"`

	// LastError holds the most recent publish failure detail for operators.
	LastError *string `json:"last_error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Due reports whether the post is queued with a publish time at or before now.
func (p *Post) Due(now time.Time) bool {
	return p.Status == PostQueued && p.ScheduledFor != nil && !p.ScheduledFor.After(now)
}

// ClockTime is a wall-clock time of day (HH:MM) with no date or zone attached.
type ClockTime struct {
	Hour   int `json:"hour"`
	Minute int `json:"minute"`
}

// Minutes returns the clock time as minutes since midnight.
func (c ClockTime) Minutes() int {
	return c.Hour*60 + c.Minute
}

// PostingWindow is the local-time interval during which a salon permits
// publishing. Start must be strictly before End within a single day;
// overnight-wrapping windows are not supported.
type PostingWindow struct {
	Start ClockTime `json:"start"`
	End   ClockTime `json:"end"`
}

// DelayBounds are the inclusive jitter bounds, in minutes, applied at enqueue
// and recovery time. Min <= Max, both non-negative.
type DelayBounds struct {
	Min int `json:"min"`
	Max int `json:"max"`
}

// Policy is the effective per-salon scheduling policy: a posting window
// interpreted in the salon's timezone plus jitter bounds. It is produced by
// the policy resolver (salon override merged over the global default) and is
// read-only at scheduling time.
type Policy struct {
	Window   PostingWindow `json:"posting_window"`
	Delay    DelayBounds   `json:"random_delay_minutes"`
	Timezone string        `json:"timezone"`

	// Location is the resolved IANA zone for Timezone. The resolver guarantees
	// it is non-nil on every Policy it returns.
	Location *time.Location `json:"-"`
}

// InWindow reports whether t, converted to the policy's timezone, falls within
// [Start, End). Posts due outside the window are deferred, not failed.
func (p Policy) InWindow(t time.Time) bool {
	loc := p.Location
	if loc == nil {
		loc = time.UTC
	}
	local := t.In(loc)
	minutes := local.Hour()*60 + local.Minute()
	return minutes >= p.Window.Start.Minutes() && minutes < p.Window.End.Minutes()
}

// PolicyOverrides is the raw per-salon configuration row. Every field is
// optional; nil fields inherit the corresponding global default. The values
// are user-editable and therefore untrusted: the resolver validates each field
// independently and falls back on anything malformed.
type PolicyOverrides struct {
	SalonID         string  `json:"salon_id"`
	WindowStart     *string `json:"window_start,omitempty"` // "HH:MM"
	WindowEnd       *string `json:"window_end,omitempty"`   // "HH:MM"
	DelayMinMinutes *int    `json:"delay_min_minutes,omitempty"`
	DelayMaxMinutes *int    `json:"delay_max_minutes,omitempty"`
	Timezone        *string `json:"timezone,omitempty"` // IANA zone name
}

// SalonCredentials are the per-salon tokens and account identifiers required
// by the publish adapters. Acquisition (OAuth) happens elsewhere; the
// scheduler only reads them.
type SalonCredentials struct {
	SalonID   string
	PageID    string
	PageToken SecretString
	// IGUserID is empty when the salon has not connected Instagram.
	IGUserID string
}

// Event is a fire-and-forget analytics record emitted by the scheduling
// engine. Sinks must never fail scheduling: delivery errors are logged and
// swallowed.
type Event struct {
	ID        string         `json:"id"`
	Name      string         `json:"event"`
	SalonID   string         `json:"salon_id"`
	PostID    string         `json:"post_id"`
	Data      map[string]any `json:"data,omitempty"`
	EmittedAt time.Time      `json:"emitted_at"`
}
