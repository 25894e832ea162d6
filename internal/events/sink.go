// Package events provides the analytics event sink. Every significant domain
// transition (enqueue, publish, deferral, recovery) is recorded as an event so
// downstream analytics can reconstruct the lifecycle of a post.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqsTypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/google/uuid"

	"salonpost/internal/types"
)

// SQSSender abstracts the SQS SendMessage operation for testability.
// Production code uses the *sqs.Client from aws-sdk-go-v2.
type SQSSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// Sink records analytics events. Emit is fire-and-forget: implementations log
// delivery failures but never propagate them, so an analytics outage cannot
// block publishing.
type Sink interface {
	Emit(ctx context.Context, event types.Event)
}

// SQSSink delivers events to an SQS queue as JSON messages.
type SQSSink struct {
	client   SQSSender
	queueURL string
	logger   *slog.Logger
}

var _ Sink = (*SQSSink)(nil)

// NewSQSSink creates a sink that sends events to the given queue URL.
func NewSQSSink(client SQSSender, queueURL string, logger *slog.Logger) *SQSSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &SQSSink{
		client:   client,
		queueURL: queueURL,
		logger:   logger,
	}
}

// Emit serializes the event and sends it to the queue. Missing IDs and
// timestamps are filled in so callers only need to set the domain fields.
func (s *SQSSink) Emit(ctx context.Context, event types.Event) {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.EmittedAt.IsZero() {
		event.EmittedAt = time.Now().UTC()
	}

	body, err := json.Marshal(event)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to marshal analytics event",
			"event_name", event.Name,
			"salon_id", event.SalonID,
			"post_id", event.PostID,
			"error", err.Error(),
		)
		return
	}

	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(s.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]sqsTypes.MessageAttributeValue{
			"event_name": {
				DataType:    aws.String("String"),
				StringValue: aws.String(event.Name),
			},
		},
	}

	if _, err := s.client.SendMessage(ctx, input); err != nil {
		s.logger.ErrorContext(ctx, "failed to deliver analytics event",
			"event_name", event.Name,
			"salon_id", event.SalonID,
			"post_id", event.PostID,
			"queue_url", s.queueURL,
			"error", err.Error(),
		)
		return
	}

	s.logger.DebugContext(ctx, "analytics event delivered",
		"event_id", event.ID,
		"event_name", event.Name,
		"salon_id", event.SalonID,
		"post_id", event.PostID,
	)
}

// NopSink discards all events. Used when no events queue is configured.
type NopSink struct{}

var _ Sink = NopSink{}

func (NopSink) Emit(context.Context, types.Event) {}

// Data builds the free-form payload map for an event from key-value pairs.
// Keys must be strings; a dangling key is dropped.
func Data(pairs ...any) map[string]any {
	data := make(map[string]any, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		key, ok := pairs[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", pairs[i])
		}
		data[key] = pairs[i+1]
	}
	return data
}
