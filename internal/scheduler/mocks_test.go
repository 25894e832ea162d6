package scheduler

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"time"

	"salonpost/internal/observability"
	"salonpost/internal/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func ctx() context.Context {
	return context.Background()
}

func strPtr(s string) *string {
	return &s
}

func timePtr(t time.Time) *time.Time {
	return &t
}

// testPolicy builds a policy with an [startHour, endHour) window in the given
// zone and 20-45 minute jitter bounds.
func testPolicy(startHour, endHour int, tz string) types.Policy {
	loc, err := time.LoadLocation(tz)
	if err != nil {
		panic(err)
	}
	return types.Policy{
		Window: types.PostingWindow{
			Start: types.ClockTime{Hour: startHour},
			End:   types.ClockTime{Hour: endHour},
		},
		Delay:    types.DelayBounds{Min: 20, Max: 45},
		Timezone: tz,
		Location: loc,
	}
}

// queuedPost builds a queued post due at the given time.
func queuedPost(id, salonID string, scheduledFor time.Time) *types.Post {
	return &types.Post{
		ID:           id,
		SalonID:      salonID,
		Status:       types.PostQueued,
		FinalCaption: "fresh balayage by our stylists",
		ImageURL:     strPtr("https://cdn.example.com/looks/" + id + ".jpg"),
		ScheduledFor: timePtr(scheduledFor),
	}
}

// ============================================================
// Mock: PostStore
// ============================================================

type enqueueCall struct {
	id string
	at time.Time
}

type publishCall struct {
	id        string
	fbPostID  string
	igMediaID *string
	at        time.Time
}

type requeueCall struct {
	id        string
	at        time.Time
	lastError string
}

type recoverCall struct {
	id string
	at time.Time
}

type mockPostStore struct {
	mu sync.Mutex

	// GetByID
	posts  map[string]*types.Post
	getErr error

	// DistinctDueTenants
	dueTenants    []string
	dueTenantsErr error

	// ListDueForSalon
	dueBySalon map[string][]*types.Post
	listDueErr error

	// Enqueue / ForceEnqueue
	enqueueConflict bool
	enqueueErr      error
	enqueued        []enqueueCall
	forceEnqueued   []enqueueCall

	// MarkPublished
	publishConflict bool
	publishErr      error
	published       []publishCall

	// Reschedule
	rescheduleErr error
	rescheduled   []enqueueCall

	// RequeueWithBackoff
	requeueErr error
	requeued   []requeueCall

	// ListOverdue / Recover
	overdue       []*types.Post
	overdueCutoff time.Time
	overdueErr    error
	recoverDenied map[string]bool
	recoverErr    error
	recovered     []recoverCall
}

func (m *mockPostStore) GetByID(_ context.Context, id string) (*types.Post, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	p, ok := m.posts[id]
	if !ok {
		return nil, types.NewAppError(types.ErrCodeNotFoundPost, "post not found", nil)
	}
	cp := *p
	return &cp, nil
}

func (m *mockPostStore) DistinctDueTenants(_ context.Context, _ time.Time) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.dueTenantsErr != nil {
		return nil, m.dueTenantsErr
	}
	return m.dueTenants, nil
}

func (m *mockPostStore) ListDueForSalon(_ context.Context, salonID string, _ time.Time) ([]*types.Post, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listDueErr != nil {
		return nil, m.listDueErr
	}
	return m.dueBySalon[salonID], nil
}

func (m *mockPostStore) Enqueue(_ context.Context, id string, scheduledFor time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.enqueueErr != nil {
		return false, m.enqueueErr
	}
	if m.enqueueConflict {
		return false, nil
	}
	m.enqueued = append(m.enqueued, enqueueCall{id: id, at: scheduledFor})
	return true, nil
}

func (m *mockPostStore) ForceEnqueue(_ context.Context, id string, scheduledFor time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.enqueueErr != nil {
		return false, m.enqueueErr
	}
	if m.enqueueConflict {
		return false, nil
	}
	m.forceEnqueued = append(m.forceEnqueued, enqueueCall{id: id, at: scheduledFor})
	return true, nil
}

func (m *mockPostStore) MarkPublished(_ context.Context, id string, fbPostID string, igMediaID *string, publishedAt time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.publishErr != nil {
		return false, m.publishErr
	}
	if m.publishConflict {
		return false, nil
	}
	m.published = append(m.published, publishCall{id: id, fbPostID: fbPostID, igMediaID: igMediaID, at: publishedAt})
	return true, nil
}

func (m *mockPostStore) Reschedule(_ context.Context, id string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rescheduleErr != nil {
		return false, m.rescheduleErr
	}
	m.rescheduled = append(m.rescheduled, enqueueCall{id: id, at: at})
	return true, nil
}

func (m *mockPostStore) RequeueWithBackoff(_ context.Context, id string, at time.Time, lastError string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.requeueErr != nil {
		return false, m.requeueErr
	}
	m.requeued = append(m.requeued, requeueCall{id: id, at: at, lastError: lastError})
	return true, nil
}

func (m *mockPostStore) ListOverdue(_ context.Context, cutoff time.Time, _ int, _ int) ([]*types.Post, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.overdueCutoff = cutoff
	if m.overdueErr != nil {
		return nil, m.overdueErr
	}
	return m.overdue, nil
}

func (m *mockPostStore) Recover(_ context.Context, id string, at time.Time, _ int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.recoverErr != nil {
		return false, m.recoverErr
	}
	if m.recoverDenied[id] {
		return false, nil
	}
	m.recovered = append(m.recovered, recoverCall{id: id, at: at})
	return true, nil
}

// ============================================================
// Mock: CredentialStore
// ============================================================

type mockCredStore struct {
	mu    sync.Mutex
	creds map[string]*types.SalonCredentials
	err   error
	calls int
}

func (m *mockCredStore) GetBySalon(_ context.Context, salonID string) (*types.SalonCredentials, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	c, ok := m.creds[salonID]
	if !ok {
		return nil, types.NewAppError(types.ErrCodeNotFoundCredentials, "credentials not found", nil)
	}
	return c, nil
}

// ============================================================
// Mock: PolicyResolver
// ============================================================

type mockResolver struct {
	mu       sync.Mutex
	policies map[string]types.Policy
	fallback types.Policy
	calls    int
}

func (m *mockResolver) Resolve(_ context.Context, salonID string) types.Policy {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if p, ok := m.policies[salonID]; ok {
		return p
	}
	return m.fallback
}

// ============================================================
// Mock: Publishers
// ============================================================

type mockFBPublisher struct {
	mu     sync.Mutex
	postID string
	err    error
	failOn map[string]error // post id -> error
	calls  []string
}

func (m *mockFBPublisher) PublishPagePost(_ context.Context, _ types.SalonCredentials, post types.Post) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, post.ID)
	if m.failOn != nil {
		if err, ok := m.failOn[post.ID]; ok {
			return "", err
		}
	}
	if m.err != nil {
		return "", m.err
	}
	if m.postID != "" {
		return m.postID, nil
	}
	return "fb_" + post.ID, nil
}

type mockIGPublisher struct {
	mu      sync.Mutex
	mediaID string
	err     error
	calls   []string
}

func (m *mockIGPublisher) PublishMedia(_ context.Context, _ types.SalonCredentials, post types.Post) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, post.ID)
	if m.err != nil {
		return "", m.err
	}
	if m.mediaID != "" {
		return m.mediaID, nil
	}
	return "ig_" + post.ID, nil
}

// ============================================================
// Mock: Event Sink
// ============================================================

type mockSink struct {
	mu     sync.Mutex
	events []types.Event
}

func (m *mockSink) Emit(_ context.Context, event types.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
}

func (m *mockSink) byName(name string) []types.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []types.Event
	for _, e := range m.events {
		if e.Name == name {
			out = append(out, e)
		}
	}
	return out
}

// ============================================================
// Mock: Metrics
// ============================================================

type mockMetrics struct {
	mu        sync.Mutex
	attempts  map[string]int // network/result -> count
	recovered int
	duePosts  int
}

func (m *mockMetrics) RecordPublishAttempt(_ context.Context, network types.Network, result observability.MetricResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.attempts == nil {
		m.attempts = make(map[string]int)
	}
	m.attempts[string(network)+"/"+string(result)]++
}

func (m *mockMetrics) RecordRecoveredPosts(_ context.Context, count int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recovered += count
}

func (m *mockMetrics) RecordTickDuration(_ context.Context, _ string, _ time.Duration) {}

func (m *mockMetrics) RecordDuePosts(_ context.Context, count int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.duePosts += count
}
