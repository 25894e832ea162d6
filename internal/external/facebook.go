package external

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"salonpost/internal/config"
	"salonpost/internal/types"
)

// graphError is the error envelope returned by the Meta Graph API.
type graphError struct {
	Error struct {
		Message   string `json:"message"`
		Type      string `json:"type"`
		Code      int    `json:"code"`
		FBTraceID string `json:"fbtrace_id"`
	} `json:"error"`
}

// graphIDResponse is the success envelope for object-creating Graph calls.
type graphIDResponse struct {
	ID string `json:"id"`
	// Photo posts return the feed post id separately from the photo id.
	PostID string `json:"post_id"`
}

// FacebookClient publishes posts to Facebook Pages through the Graph API.
type FacebookClient struct {
	base    *BaseClient
	baseURL string
	version string
	logger  *slog.Logger
}

var _ FacebookPublisher = (*FacebookClient)(nil)

// NewFacebookClient creates a Graph API client for Facebook Page publishing.
func NewFacebookClient(cfg config.MetaConfig, logger *slog.Logger, opts ...BaseClientOption) *FacebookClient {
	if logger == nil {
		logger = slog.Default()
	}

	httpClient := &http.Client{Timeout: cfg.Timeout}
	base := NewBaseClient(httpClient, "facebook-graph", DefaultRetryPolicy(), "salonpost/1.0", opts...)

	return &FacebookClient{
		base:    base,
		baseURL: strings.TrimRight(cfg.GraphAPIBaseURL, "/"),
		version: cfg.GraphAPIVersion,
		logger:  logger,
	}
}

// PublishPagePost publishes the post to the salon's Facebook Page. Posts with
// an image are created as photo posts via /{page-id}/photos. If the photo
// upload is rejected the post falls back to a text-only feed post so the
// caption still goes out. Text-only posts go straight to /{page-id}/feed.
func (c *FacebookClient) PublishPagePost(ctx context.Context, creds types.SalonCredentials, post types.Post) (string, error) {
	if post.ImageURL != nil && *post.ImageURL != "" {
		postID, err := c.publishPhoto(ctx, creds, post.FinalCaption, *post.ImageURL)
		if err == nil {
			return postID, nil
		}

		appErr, ok := err.(*types.AppError)
		if !ok || appErr.Code != types.ErrCodeUpstreamFacebook {
			return "", err
		}

		c.logger.WarnContext(ctx, "photo upload rejected, falling back to text-only feed post",
			"salon_id", creds.SalonID,
			"post_id", post.ID,
			"error", appErr.Message,
		)
		return c.publishFeed(ctx, creds, post.FinalCaption)
	}

	return c.publishFeed(ctx, creds, post.FinalCaption)
}

func (c *FacebookClient) publishPhoto(ctx context.Context, creds types.SalonCredentials, caption, imageURL string) (string, error) {
	form := url.Values{}
	form.Set("url", imageURL)
	form.Set("caption", caption)
	form.Set("access_token", creds.PageToken.Unmask())

	endpoint := fmt.Sprintf("%s/%s/%s/photos", c.baseURL, c.version, creds.PageID)

	var out graphIDResponse
	if err := c.postForm(ctx, endpoint, form, &out); err != nil {
		return "", err
	}

	if out.PostID != "" {
		return out.PostID, nil
	}
	return out.ID, nil
}

func (c *FacebookClient) publishFeed(ctx context.Context, creds types.SalonCredentials, caption string) (string, error) {
	form := url.Values{}
	form.Set("message", caption)
	form.Set("access_token", creds.PageToken.Unmask())

	endpoint := fmt.Sprintf("%s/%s/%s/feed", c.baseURL, c.version, creds.PageID)

	var out graphIDResponse
	if err := c.postForm(ctx, endpoint, form, &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

func (c *FacebookClient) postForm(ctx context.Context, endpoint string, form url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "failed to build graph api request", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.base.Do(req)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return types.NewAppError(types.ErrCodeUpstreamTimeout, "facebook graph api call timed out", err)
		}
		return err
	}
	defer resp.Body.Close()

	return decodeGraphResponse(resp, out, types.ErrCodeUpstreamFacebook, "facebook")
}

// decodeGraphResponse decodes a Graph API response body into out, translating
// error envelopes into AppErrors with the given upstream code.
func decodeGraphResponse(resp *http.Response, out any, code types.ErrorCode, network string) error {
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return types.NewAppError(types.ErrCodeUpstreamUnavailable,
			fmt.Sprintf("failed to read %s graph api response", network), err)
	}

	if resp.StatusCode >= 400 {
		var gErr graphError
		if jsonErr := json.Unmarshal(body, &gErr); jsonErr == nil && gErr.Error.Message != "" {
			return types.NewAppErrorWithDetails(code,
				fmt.Sprintf("%s graph api error: %s", network, gErr.Error.Message),
				nil,
				map[string]any{
					"graph_code":  gErr.Error.Code,
					"graph_type":  gErr.Error.Type,
					"fbtrace_id":  gErr.Error.FBTraceID,
					"http_status": resp.StatusCode,
				})
		}
		return types.NewAppError(code,
			fmt.Sprintf("%s graph api returned status %d", network, resp.StatusCode), nil)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return types.NewAppError(types.ErrCodeUpstreamUnavailable,
			fmt.Sprintf("failed to decode %s graph api response", network), err)
	}
	return nil
}
