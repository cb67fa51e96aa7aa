// Package store persists batch records so batch status survives process
// restarts and can be read from a different Lambda invocation than the one
// that ran the batch.
//
// The DynamoDB implementation uses a single-table design where all records
// for a batch share a partition key (BATCH#{batchId}). Sort keys
// distinguish record types: META for the batch itself and ITEM#{index} for
// each item. A TTL attribute (expiresAt) auto-deletes records after 24
// hours, matching the archive bucket lifecycle policy.
package store

import (
	"context"
	"time"

	"github.com/fpang/media-bundler/internal/pipeline"
)

// BatchTTL is the default time-to-live for all records.
const BatchTTL = 24 * time.Hour

// Batch statuses.
const (
	StatusQueued    = "queued"
	StatusRunning   = "running"
	StatusComplete  = "complete"
	StatusCancelled = "cancelled"
	StatusFailed    = "failed"
)

// BatchStore defines the persistence interface for batch state.
// Each method is safe for concurrent use.
//
// Get methods return (nil, nil) when the requested record does not exist.
// Put methods perform full-item replacement (upsert semantics).
type BatchStore interface {
	// PutBatch creates or replaces a batch record.
	PutBatch(ctx context.Context, batch *BatchRecord) error

	// GetBatch retrieves a batch by ID. Returns nil, nil if not found.
	GetBatch(ctx context.Context, batchID string) (*BatchRecord, error)

	// UpdateBatchStatus updates status and error of a batch without
	// overwriting other fields.
	UpdateBatchStatus(ctx context.Context, batchID, status, errMsg string) error

	// PutItems replaces the item records of a batch.
	PutItems(ctx context.Context, batchID string, items []ItemRecord) error

	// GetItems returns the item records of a batch in index order.
	GetItems(ctx context.Context, batchID string) ([]ItemRecord, error)

	// DeleteBatch removes a batch and its items.
	DeleteBatch(ctx context.Context, batchID string) error
}

// --- Domain types ---
//
// ID fields are derived from PK/SK on read and excluded from attributes on
// write (via dynamodbav:"-").

// BatchRecord is the persisted summary of a batch.
type BatchRecord struct {
	ID          string   `json:"id" dynamodbav:"-"`
	SourceRef   string   `json:"sourceRef" dynamodbav:"sourceRef"`
	Status      string   `json:"status" dynamodbav:"status"`
	ItemIDs     []string `json:"itemIds" dynamodbav:"itemIds"`
	Concurrency int      `json:"concurrency" dynamodbav:"concurrency"`
	Transcode   bool     `json:"transcode" dynamodbav:"transcode"`
	Numbered    bool     `json:"numbered" dynamodbav:"numbered"`
	Succeeded   int      `json:"succeeded" dynamodbav:"succeeded"`
	Failed      int      `json:"failed" dynamodbav:"failed"`
	Skipped     int      `json:"skipped" dynamodbav:"skipped"`
	ArchiveKey  string   `json:"archiveKey,omitempty" dynamodbav:"archiveKey,omitempty"`
	ArchiveURL  string   `json:"archiveUrl,omitempty" dynamodbav:"archiveUrl,omitempty"`
	ArchiveSize int64    `json:"archiveSize,omitempty" dynamodbav:"archiveSize,omitempty"`
	Error       string   `json:"error,omitempty" dynamodbav:"error,omitempty"`
	CreatedAt   int64    `json:"createdAt" dynamodbav:"createdAt"`
	UpdatedAt   int64    `json:"updatedAt" dynamodbav:"updatedAt"`
}

// ItemRecord is the persisted final state of one item.
type ItemRecord struct {
	Index    int      `json:"index" dynamodbav:"-"`
	ID       string   `json:"id" dynamodbav:"id"`
	Name     string   `json:"name" dynamodbav:"name"`
	Kind     string   `json:"kind" dynamodbav:"kind"`
	Status   string   `json:"status" dynamodbav:"status"`
	Outcome  string   `json:"outcome" dynamodbav:"outcome"`
	Reason   string   `json:"reason,omitempty" dynamodbav:"reason,omitempty"`
	Notes    []string `json:"notes,omitempty" dynamodbav:"notes,omitempty"`
	Bytes    int64    `json:"bytes,omitempty" dynamodbav:"bytes,omitempty"`
	Archived bool     `json:"archived" dynamodbav:"archived"`
}

// ApplyResult copies the counters of a finished batch into b and returns
// the matching item records.
func (b *BatchRecord) ApplyResult(res *pipeline.BatchResult) []ItemRecord {
	b.Succeeded = res.Succeeded
	b.Failed = res.Failed
	b.Skipped = res.Skipped
	b.UpdatedAt = time.Now().Unix()
	b.Status = StatusComplete
	if res.Cancelled {
		b.Status = StatusCancelled
	}
	if res.Archive != nil {
		b.ArchiveSize = res.Archive.Size
	}

	items := make([]ItemRecord, len(res.Items))
	for i, it := range res.Items {
		items[i] = ItemRecord{
			Index:    it.Index,
			ID:       it.ID,
			Name:     it.Name,
			Kind:     string(it.Kind),
			Status:   string(it.Status),
			Outcome:  string(it.Outcome),
			Reason:   it.Reason,
			Notes:    it.Notes,
			Bytes:    it.Bytes,
			Archived: it.Archived,
		}
	}
	return items
}
