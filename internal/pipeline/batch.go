// Package pipeline runs a batch of media items through download, optional
// video normalization and archive assembly.
//
// All per-item state lives in a ledger owned by a single goroutine. Workers
// never touch item records; they send transitions over a channel and the
// ledger applies them in arrival order, publishing each one as an Event.
package pipeline

import (
	"errors"
	"fmt"
	"time"

	"github.com/fpang/media-bundler/internal/archive"
	"github.com/fpang/media-bundler/internal/media"
)

const (
	// DefaultConcurrency is used when a batch does not set one.
	DefaultConcurrency = 3
	// DefaultMaxConcurrency is the ceiling for any batch.
	DefaultMaxConcurrency = 10
)

// Notes attached to items. They are part of the public result.
const (
	NoteTranscoderUnavailable = "skipped: transcoder unavailable"
	NoteAlreadyCompatible     = "already compatible"
	NoteAmbiguous             = "metadata ambiguous, defaults applied"
	NoteTranscodeCancelled    = "transcode skipped: cancelled"

	ReasonCancelled = "not attempted: cancelled"
	ReasonAborted   = "not attempted: batch aborted"
)

var (
	// ErrEmptyBatch is returned for a batch without items.
	ErrEmptyBatch = errors.New("batch has no items")
	// ErrDuplicateItem is returned when two items share an ID.
	ErrDuplicateItem = errors.New("duplicate item in batch")
)

// Batch is one caller-submitted set of items.
type Batch struct {
	ID        string
	SourceRef string
	Items     []media.Item

	// Concurrency is the download limit. Zero means DefaultConcurrency;
	// values above the coordinator maximum are clamped.
	Concurrency int
	// Transcode enables video normalization.
	Transcode bool
	// Numbered prefixes archive names with the item position ("001_").
	Numbered bool
}

func (b *Batch) validate() error {
	if len(b.Items) == 0 {
		return ErrEmptyBatch
	}
	if b.Concurrency < 0 {
		return fmt.Errorf("invalid concurrency %d", b.Concurrency)
	}
	seen := make(map[string]int, len(b.Items))
	for i, it := range b.Items {
		id := it.ID
		if id == "" {
			id = it.Raw.ID
		}
		if id == "" {
			return fmt.Errorf("item %d has no ID", i)
		}
		if j, ok := seen[id]; ok {
			return fmt.Errorf("%w: %q at positions %d and %d", ErrDuplicateItem, id, j, i)
		}
		seen[id] = i
	}
	return nil
}

// ItemDetail is the final state of one item.
type ItemDetail struct {
	Index int        `json:"index"`
	ID    string     `json:"id"`
	Name  string     `json:"name"`
	Kind  media.Kind `json:"kind"`
	Size  int64      `json:"size,omitempty"`

	// Status is Finalized for every attempted item and Pending otherwise.
	Status media.Status `json:"status"`

	// Outcome is the last status before Finalized.
	Outcome  media.Status `json:"outcome"`
	Reason   string       `json:"reason,omitempty"`
	Notes    []string     `json:"notes,omitempty"`
	Bytes    int64        `json:"bytes,omitempty"`
	Attempts int          `json:"attempts,omitempty"`
	Archived bool         `json:"archived"`
}

// BatchResult aggregates a finished batch. Succeeded+Failed+Skipped always
// equals the number of items.
type BatchResult struct {
	BatchID   string            `json:"batchId"`
	Succeeded int               `json:"succeeded"`
	Failed    int               `json:"failed"`
	Skipped   int               `json:"skipped"`
	Cancelled bool              `json:"cancelled"`
	Items     []ItemDetail      `json:"items"`
	Archive   *archive.Handle   `json:"archive,omitempty"`
	Manifest  *archive.Manifest `json:"manifest,omitempty"`
	Duration  time.Duration     `json:"duration"`
}

// Count returns the number of items whose final outcome is s.
func (r *BatchResult) Count(s media.Status) int {
	n := 0
	for _, it := range r.Items {
		if it.Outcome == s {
			n++
		}
	}
	return n
}
