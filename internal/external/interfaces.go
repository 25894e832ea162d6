package external

import (
	"context"

	"salonpost/internal/types"
)

// FacebookPublisher publishes a post to a Facebook Page via the Graph API.
type FacebookPublisher interface {
	// PublishPagePost creates a post on the salon's Facebook Page and returns
	// the Graph API post id. Posts with an image are created as photo posts;
	// text-only posts go to the page feed.
	PublishPagePost(ctx context.Context, creds types.SalonCredentials, post types.Post) (string, error)
}

// InstagramPublisher publishes a post to an Instagram Business account via the
// Graph API's two-phase container flow.
type InstagramPublisher interface {
	// PublishMedia creates a media container for the post's image and caption,
	// publishes it, and returns the resulting media id. Posts without an image
	// cannot be published to Instagram.
	PublishMedia(ctx context.Context, creds types.SalonCredentials, post types.Post) (string, error)
}
