// Package jobutil provides shared helpers for batch lifecycle bookkeeping.
//
// SetBatchError is the one place a binary logs a batch-fatal error and
// marks the batch record failed.
package jobutil

import (
	"context"

	"github.com/rs/zerolog/log"
)

// StatusWriter persists a batch status and error message. The
// UpdateBatchStatus method of a store.BatchStore satisfies it.
type StatusWriter func(ctx context.Context, batchID, status, errMsg string) error

// FailedStatus is the record status written by SetBatchError.
const FailedStatus = "failed"

// SetBatchError logs the error and delegates persistence to write. A nil
// writer only logs.
func SetBatchError(ctx context.Context, batchID, msg string, write StatusWriter) error {
	log.Error().
		Str("batch", batchID).
		Str("error", msg).
		Msg("Batch failed")
	if write == nil {
		return nil
	}
	return write(ctx, batchID, FailedStatus, msg)
}
