// Package source defines the media source capability the pipeline consumes
// and its concrete implementations: a local directory, an S3 prefix, and an
// HTTP gateway in front of the messaging platform.
//
// Every implementation reports failures as either transient (eligible for a
// retry) or permanent. Unclassified errors are treated as transient.
package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/fpang/media-bundler/internal/media"
)

// Source lists attachments of a chat/channel and streams their bytes.
type Source interface {
	// List returns up to limit attachments for ref, newest first.
	List(ctx context.Context, ref string, limit int) ([]media.RawMetadata, error)
	// Fetch opens the bytes of one attachment. The caller closes the reader.
	Fetch(ctx context.Context, raw media.RawMetadata) (io.ReadCloser, error)
}

// TransientError wraps a failure that may succeed on retry (timeouts,
// throttling, 5xx). RetryAfter is the upstream's requested wait, or zero.
type TransientError struct {
	Err        error
	RetryAfter time.Duration
}

func (e *TransientError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("transient: %v (retry after %s)", e.Err, e.RetryAfter)
	}
	return "transient: " + e.Err.Error()
}

func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError wraps a failure that will not succeed on retry (not found,
// forbidden, malformed reference).
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return "permanent: " + e.Err.Error() }

func (e *PermanentError) Unwrap() error { return e.Err }

// Transient marks err as retryable.
func Transient(err error, retryAfter time.Duration) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err, RetryAfter: retryAfter}
}

// Permanent marks err as not retryable.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err carries a permanent classification.
// Context cancellation is treated as permanent: retrying a cancelled fetch
// is pointless.
func IsPermanent(err error) bool {
	var perm *PermanentError
	if errors.As(err, &perm) {
		return true
	}
	return errors.Is(err, context.Canceled)
}

// IsTransient reports whether err is eligible for a retry.
func IsTransient(err error) bool {
	return err != nil && !IsPermanent(err)
}

// RetryAfter returns the wait requested by the upstream, or zero.
func RetryAfter(err error) time.Duration {
	var tr *TransientError
	if errors.As(err, &tr) {
		return tr.RetryAfter
	}
	return 0
}

// ErrNotFound is returned (wrapped as permanent) when an item or chat does
// not exist.
var ErrNotFound = errors.New("not found")

// ErrUnauthorized is returned (wrapped as permanent) when the source
// rejects the session credential.
var ErrUnauthorized = errors.New("unauthorized")
