// Package notify publishes batch lifecycle events to EventBridge.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	eventbridgetypes "github.com/aws/aws-sdk-go-v2/service/eventbridge/types"
	"github.com/rs/zerolog/log"

	"github.com/fpang/media-bundler/internal/pipeline"
)

const (
	// Source is the EventBridge source of every event this package emits.
	Source = "media-bundler"
	// DetailTypeBatchCompleted marks a finished batch, archived or not.
	DetailTypeBatchCompleted = "BatchCompleted"
)

// EventsAPI is the part of *eventbridge.Client used here.
type EventsAPI interface {
	PutEvents(ctx context.Context, params *eventbridge.PutEventsInput, optFns ...func(*eventbridge.Options)) (*eventbridge.PutEventsOutput, error)
}

// BatchCompleted is the event detail.
type BatchCompleted struct {
	BatchID     string `json:"batchId"`
	SourceRef   string `json:"sourceRef"`
	Succeeded   int    `json:"succeeded"`
	Failed      int    `json:"failed"`
	Skipped     int    `json:"skipped"`
	Cancelled   bool   `json:"cancelled"`
	ArchiveKey  string `json:"archiveKey,omitempty"`
	ArchiveURL  string `json:"archiveUrl,omitempty"`
	ArchiveSize int64  `json:"archiveSize,omitempty"`
	Error       string `json:"error,omitempty"`
	DurationMs  int64  `json:"durationMs"`
	CompletedAt string `json:"completedAt"`
}

// NewBatchCompleted builds the event detail for a batch result. err is the
// batch-fatal error from Execute, if any.
func NewBatchCompleted(sourceRef string, res *pipeline.BatchResult, err error) BatchCompleted {
	ev := BatchCompleted{
		BatchID:     res.BatchID,
		SourceRef:   sourceRef,
		Succeeded:   res.Succeeded,
		Failed:      res.Failed,
		Skipped:     res.Skipped,
		Cancelled:   res.Cancelled,
		DurationMs:  res.Duration.Milliseconds(),
		CompletedAt: time.Now().UTC().Format(time.RFC3339),
	}
	if res.Archive != nil {
		ev.ArchiveSize = res.Archive.Size
	}
	if err != nil {
		ev.Error = err.Error()
	}
	return ev
}

// EmitBatchCompleted sends one BatchCompleted event to bus. A nil client
// is a no-op so callers need not check whether notifications are enabled.
func EmitBatchCompleted(ctx context.Context, client EventsAPI, bus string, event BatchCompleted) error {
	if client == nil {
		return nil
	}
	detail, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal BatchCompleted: %w", err)
	}

	entry := eventbridgetypes.PutEventsRequestEntry{
		Source:     aws.String(Source),
		DetailType: aws.String(DetailTypeBatchCompleted),
		Detail:     aws.String(string(detail)),
	}
	if bus != "" {
		entry.EventBusName = aws.String(bus)
	}

	result, err := client.PutEvents(ctx, &eventbridge.PutEventsInput{
		Entries: []eventbridgetypes.PutEventsRequestEntry{entry},
	})
	if err != nil {
		log.Error().Err(err).Str("batch", event.BatchID).Msg("EventBridge PutEvents failed")
		return fmt.Errorf("PutEvents: %w", err)
	}

	if result.FailedEntryCount > 0 {
		for i, e := range result.Entries {
			if e.ErrorCode != nil || e.ErrorMessage != nil {
				log.Error().
					Int("index", i).
					Str("errorCode", aws.ToString(e.ErrorCode)).
					Str("errorMessage", aws.ToString(e.ErrorMessage)).
					Str("batch", event.BatchID).
					Msg("EventBridge PutEvents entry failed")
				return fmt.Errorf("PutEvents entry %d failed: %s - %s", i, aws.ToString(e.ErrorCode), aws.ToString(e.ErrorMessage))
			}
		}
	}

	log.Debug().Str("batch", event.BatchID).Msg("BatchCompleted emitted to EventBridge")
	return nil
}
