package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"salonpost/internal/types"
)

// PostStore is the data access contract for the post handler. Mirrors the
// concrete db.PostRepository methods used here.
type PostStore interface {
	Create(ctx context.Context, p *types.Post) error
	GetByID(ctx context.Context, id string) (*types.Post, error)
}

// Enqueuer schedules an approved post for publishing. Force bypasses the
// approved/queued status gate for operator intervention.
type Enqueuer interface {
	Enqueue(ctx context.Context, postID string, force bool) (time.Time, error)
}

// CreatePostRequest is the request body for POST /v1/posts.
type CreatePostRequest struct {
	SalonID      string  `json:"salon_id" validate:"required,max=64"`
	FinalCaption string  `json:"final_caption" validate:"required,max=5000"`
	ImageURL     *string `json:"image_url,omitempty" validate:"omitempty,url"`
	Status       string  `json:"status,omitempty" validate:"omitempty,oneof=draft manager_pending approved"`
}

// EnqueueRequest is the optional request body for POST /v1/posts/{id}/enqueue.
type EnqueueRequest struct {
	// Force enqueues a post that is not approved, e.g. a draft an operator
	// wants out immediately. Published posts cannot be forced.
	Force bool `json:"force"`
}

// EnqueueResponse is the response body for POST /v1/posts/{id}/enqueue.
type EnqueueResponse struct {
	PostID       string    `json:"post_id"`
	Status       string    `json:"status"`
	ScheduledFor time.Time `json:"scheduled_for"`
}

// PostHandler serves the ops endpoints for creating, inspecting, and
// enqueuing posts.
type PostHandler struct {
	posts    PostStore
	enqueuer Enqueuer
	validate *validator.Validate
}

// NewPostHandler creates a PostHandler.
func NewPostHandler(posts PostStore, enqueuer Enqueuer) *PostHandler {
	return &PostHandler{
		posts:    posts,
		enqueuer: enqueuer,
		validate: validator.New(),
	}
}

// RegisterRoutes mounts the post routes on the provided chi.Router.
func (h *PostHandler) RegisterRoutes(r chi.Router) {
	r.Route("/posts", func(r chi.Router) {
		r.Post("/", h.Create)

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.Get)
			r.Post("/enqueue", h.Enqueue)
		})
	})
}

// Create handles POST /v1/posts. New posts default to approved so they can be
// enqueued immediately; a caller running its own review flow can create them
// as draft or manager_pending instead.
func (h *PostHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreatePostRequest
	if err := DecodeJSON(w, r, &req); err != nil {
		Error(w, r, err)
		return
	}

	if err := h.validate.Struct(req); err != nil {
		Error(w, r, types.NewAppError(
			types.ErrCodeValidationMissingField,
			err.Error(),
			err,
		))
		return
	}

	status := types.PostStatus(req.Status)
	if req.Status == "" {
		status = types.PostApproved
	}

	now := time.Now().UTC()
	post := &types.Post{
		ID:           "post_" + uuid.New().String(),
		SalonID:      req.SalonID,
		Status:       status,
		FinalCaption: req.FinalCaption,
		ImageURL:     req.ImageURL,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := h.posts.Create(r.Context(), post); err != nil {
		Error(w, r, err)
		return
	}

	JSON(w, r, http.StatusCreated, APIResponse{Data: post})
}

// Get handles GET /v1/posts/{id}.
func (h *PostHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	post, err := h.posts.GetByID(r.Context(), id)
	if err != nil {
		Error(w, r, err)
		return
	}

	JSON(w, r, http.StatusOK, APIResponse{Data: post})
}

// Enqueue handles POST /v1/posts/{id}/enqueue. The post moves to queued with
// a jittered publish time and is picked up by the scheduler loop when due.
// The body is optional; {"force": true} pulls a non-approved post into the
// queue.
func (h *PostHandler) Enqueue(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req EnqueueRequest
	if r.ContentLength != 0 {
		if err := DecodeJSON(w, r, &req); err != nil {
			Error(w, r, err)
			return
		}
	}

	scheduledFor, err := h.enqueuer.Enqueue(r.Context(), id, req.Force)
	if err != nil {
		Error(w, r, err)
		return
	}

	JSON(w, r, http.StatusOK, APIResponse{Data: EnqueueResponse{
		PostID:       id,
		Status:       string(types.PostQueued),
		ScheduledFor: scheduledFor,
	}})
}
