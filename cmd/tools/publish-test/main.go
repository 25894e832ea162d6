// Package main implements the publish-test CLI tool for exercising the Graph
// API adapters directly, bypassing the scheduler and the database.
//
// This tool is intended for onboarding new salons (verifying page tokens and
// Instagram links) and for operational debugging of publish failures.
//
// Usage:
//
//	go run ./cmd/tools/publish-test --page-id=123 --token=EAAB... --caption="hello"
//	go run ./cmd/tools/publish-test --page-id=123 --token=EAAB... --caption="hello" \
//	    --image-url=https://cdn.example.com/look.jpg --ig-user-id=178..
//	go run ./cmd/tools/publish-test --dry-run --page-id=123 --token=EAAB... --caption="hello"
//
// Graph API settings (base URL, version, timeout) come from environment
// variables (or a .env file via godotenv). In --dry-run mode the tool prints
// what it would publish without making any network calls.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"salonpost/internal/config"
	"salonpost/internal/external"
	"salonpost/internal/types"
)

func main() {
	var (
		pageID   = flag.String("page-id", "", "Facebook Page id (required)")
		token    = flag.String("token", "", "Page access token (required)")
		caption  = flag.String("caption", "", "Post caption (required)")
		imageURL = flag.String("image-url", "", "Image URL for a photo post")
		igUserID = flag.String("ig-user-id", "", "Instagram Business account id; enables cross-posting")
		dryRun   = flag.Bool("dry-run", false, "Print what would be published without calling the Graph API")
		timeout  = flag.Duration("timeout", 60*time.Second, "Overall timeout for the publish run")
	)
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))

	if *pageID == "" || *token == "" || *caption == "" {
		fmt.Fprintln(os.Stderr, "error: --page-id, --token, and --caption are required")
		flag.Usage()
		os.Exit(2)
	}

	// Best effort; the tool runs fine on defaults without a .env file.
	_ = godotenv.Load()

	var metaCfg config.MetaConfig
	if err := envconfig.Process("", &metaCfg); err != nil {
		fmt.Fprintf(os.Stderr, "error: failed to read graph api settings: %v\n", err)
		os.Exit(1)
	}

	creds := types.SalonCredentials{
		SalonID:   "publish-test",
		PageID:    *pageID,
		PageToken: types.SecretString(*token),
		IGUserID:  *igUserID,
	}

	post := types.Post{
		ID:           "publish-test",
		SalonID:      "publish-test",
		Status:       types.PostQueued,
		FinalCaption: *caption,
	}
	if *imageURL != "" {
		post.ImageURL = imageURL
	}

	if *dryRun {
		fmt.Printf("would publish to page %s via %s/%s\n", *pageID, metaCfg.GraphAPIBaseURL, metaCfg.GraphAPIVersion)
		fmt.Printf("  caption:    %q\n", *caption)
		if *imageURL != "" {
			fmt.Printf("  image_url:  %s\n", *imageURL)
		}
		if *igUserID != "" {
			fmt.Printf("  ig_user_id: %s\n", *igUserID)
		}
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	fb := external.NewFacebookClient(metaCfg, logger)
	fbPostID, err := fb.PublishPagePost(ctx, creds, post)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: facebook publish failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("facebook post created: %s\n", fbPostID)

	if *igUserID != "" {
		if *imageURL == "" {
			fmt.Fprintln(os.Stderr, "skipping instagram: --image-url is required for instagram publishing")
			return
		}
		ig := external.NewInstagramClient(metaCfg, logger)
		igMediaID, err := ig.PublishMedia(ctx, creds, post)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: instagram publish failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("instagram media published: %s\n", igMediaID)
	}
}
