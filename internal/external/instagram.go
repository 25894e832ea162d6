package external

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"salonpost/internal/config"
	"salonpost/internal/types"
)

// InstagramClient publishes posts to Instagram Business accounts through the
// Graph API content publishing flow: create a media container, then publish it.
type InstagramClient struct {
	base    *BaseClient
	baseURL string
	version string
	logger  *slog.Logger
}

var _ InstagramPublisher = (*InstagramClient)(nil)

// NewInstagramClient creates a Graph API client for Instagram publishing.
func NewInstagramClient(cfg config.MetaConfig, logger *slog.Logger, opts ...BaseClientOption) *InstagramClient {
	if logger == nil {
		logger = slog.Default()
	}

	httpClient := &http.Client{Timeout: cfg.Timeout}
	base := NewBaseClient(httpClient, "instagram-graph", DefaultRetryPolicy(), "salonpost/1.0", opts...)

	return &InstagramClient{
		base:    base,
		baseURL: strings.TrimRight(cfg.GraphAPIBaseURL, "/"),
		version: cfg.GraphAPIVersion,
		logger:  logger,
	}
}

// PublishMedia runs the two-phase Instagram publish: POST /{ig-user-id}/media
// to create a container from the post's image and caption, then
// POST /{ig-user-id}/media_publish to make it live. Instagram requires an
// image; posts without one are rejected before any network call.
func (c *InstagramClient) PublishMedia(ctx context.Context, creds types.SalonCredentials, post types.Post) (string, error) {
	if post.ImageURL == nil || *post.ImageURL == "" {
		return "", types.NewAppError(types.ErrCodeValidationMissingImage,
			"instagram publishing requires an image", nil)
	}
	if creds.IGUserID == "" {
		return "", types.NewAppError(types.ErrCodeNotFoundCredentials,
			"salon has no instagram business account linked", nil)
	}

	containerID, err := c.createContainer(ctx, creds, post.FinalCaption, *post.ImageURL)
	if err != nil {
		return "", err
	}

	c.logger.DebugContext(ctx, "instagram media container created",
		"salon_id", creds.SalonID,
		"post_id", post.ID,
		"container_id", containerID,
	)

	return c.publishContainer(ctx, creds, containerID)
}

func (c *InstagramClient) createContainer(ctx context.Context, creds types.SalonCredentials, caption, imageURL string) (string, error) {
	form := url.Values{}
	form.Set("image_url", imageURL)
	form.Set("caption", caption)
	form.Set("access_token", creds.PageToken.Unmask())

	endpoint := fmt.Sprintf("%s/%s/%s/media", c.baseURL, c.version, creds.IGUserID)

	var out graphIDResponse
	if err := c.postForm(ctx, endpoint, form, &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

func (c *InstagramClient) publishContainer(ctx context.Context, creds types.SalonCredentials, containerID string) (string, error) {
	form := url.Values{}
	form.Set("creation_id", containerID)
	form.Set("access_token", creds.PageToken.Unmask())

	endpoint := fmt.Sprintf("%s/%s/%s/media_publish", c.baseURL, c.version, creds.IGUserID)

	var out graphIDResponse
	if err := c.postForm(ctx, endpoint, form, &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

func (c *InstagramClient) postForm(ctx context.Context, endpoint string, form url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "failed to build graph api request", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.base.Do(req)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return types.NewAppError(types.ErrCodeUpstreamTimeout, "instagram graph api call timed out", err)
		}
		return err
	}
	defer resp.Body.Close()

	return decodeGraphResponse(resp, out, types.ErrCodeUpstreamInstagram, "instagram")
}
