// Package download fetches item bytes from a media source into scoped
// temporary files with bounded concurrency.
//
// At most Limit items are downloading at any moment. A slot is taken from a
// weighted semaphore before an item is dispatched and released when its
// download ends, so a slow item never holds up the dispatcher. Cancellation
// is checked before every dispatch; items never dispatched stay Pending.
package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/fpang/media-bundler/internal/media"
	"github.com/fpang/media-bundler/internal/metrics"
	"github.com/fpang/media-bundler/internal/source"
)

// ErrStorageExhausted aborts a whole batch: the temp filesystem is full.
var ErrStorageExhausted = errors.New("temporary storage exhausted")

const (
	// DefaultMaxRetryWait caps the delay before the single retry.
	DefaultMaxRetryWait = 30 * time.Second

	// completeRatio is the share of the declared size a download must reach.
	completeRatio = 0.95

	copyBufferSize = 64 * 1024
)

// Job is one item to download into Path. Paths are unique per job.
type Job struct {
	Index int
	Item  media.Item
	Path  string
}

// Update reports a status change or, when Status repeats the current
// status, download progress.
type Update struct {
	Index    int
	Status   media.Status
	Progress int // 0-100, or -1 when the size is unknown
	Bytes    int64
	Err      error
	Notes    []string
}

// Result is the outcome of one job. Status is Downloaded, DownloadFailed,
// or Pending for a job that was never dispatched.
type Result struct {
	Index    int
	ItemID   string
	Status   media.Status
	Path     string
	Bytes    int64
	Attempts int
	Err      error
	Elapsed  time.Duration
}

// Options tunes a Pool.
type Options struct {
	// Limit is the maximum number of concurrent downloads (min 1).
	Limit int
	// RetryDelay is the minimum wait before retrying a transient failure.
	RetryDelay time.Duration
	// MaxRetryWait caps the wait, even when the upstream asks for longer.
	MaxRetryWait time.Duration
	// RatePerSecond spaces fetch starts; 0 disables the limiter.
	RatePerSecond float64
	// ProgressStep is the minimum percentage change between progress updates.
	ProgressStep int
}

// Pool downloads jobs from a single source.
type Pool struct {
	src     source.Source
	opts    Options
	limiter *rate.Limiter
	sleep   func(context.Context, time.Duration) error
}

// New creates a Pool reading from src.
func New(src source.Source, opts Options) *Pool {
	if opts.Limit < 1 {
		opts.Limit = 1
	}
	if opts.MaxRetryWait <= 0 {
		opts.MaxRetryWait = DefaultMaxRetryWait
	}
	if opts.ProgressStep <= 0 {
		opts.ProgressStep = 5
	}
	p := &Pool{src: src, opts: opts, sleep: sleepCtx}
	if opts.RatePerSecond > 0 {
		p.limiter = rate.NewLimiter(rate.Limit(opts.RatePerSecond), 1)
	}
	return p
}

// Limit returns the effective concurrency limit.
func (p *Pool) Limit() int {
	return p.opts.Limit
}

// Run downloads jobs and sends every transition to updates, which must be
// drained by the caller. It returns one Result per job, in job order.
// The error is non-nil only for batch-fatal conditions (ErrStorageExhausted).
func (p *Pool) Run(ctx context.Context, jobs []Job, updates chan<- Update) ([]Result, error) {
	results := make([]Result, len(jobs))
	for i, job := range jobs {
		results[i] = Result{Index: job.Index, ItemID: job.Item.ID, Status: media.StatusPending}
	}

	runCtx, abort := context.WithCancelCause(ctx)
	defer abort(nil)

	sem := semaphore.NewWeighted(int64(p.opts.Limit))
	var wg sync.WaitGroup

	start := time.Now()
	dispatched := 0
	for i := range jobs {
		if err := sem.Acquire(runCtx, 1); err != nil {
			break
		}
		if runCtx.Err() != nil {
			sem.Release(1)
			break
		}
		dispatched++

		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			defer sem.Release(1)
			results[i] = p.download(runCtx, jobs[i], updates)
			if errors.Is(results[i].Err, ErrStorageExhausted) {
				abort(ErrStorageExhausted)
			}
		}(i)
	}
	wg.Wait()

	fatal := context.Cause(runCtx)
	if !errors.Is(fatal, ErrStorageExhausted) {
		fatal = nil
	}

	log.Info().
		Int("jobs", len(jobs)).
		Int("dispatched", dispatched).
		Int("limit", p.opts.Limit).
		Dur("elapsed", time.Since(start)).
		Msg("Download stage finished")

	return results, fatal
}

// download runs one job with at most one retry.
func (p *Pool) download(ctx context.Context, job Job, updates chan<- Update) Result {
	res := Result{Index: job.Index, ItemID: job.Item.ID, Path: job.Path}
	updates <- Update{Index: job.Index, Status: media.StatusDownloading, Progress: initialProgress(job.Item.Size)}

	start := time.Now()
	for attempt := 1; ; attempt++ {
		res.Attempts = attempt
		n, err := p.fetchOnce(ctx, job, updates)
		if err == nil {
			res.Status = media.StatusDownloaded
			res.Bytes = n
			res.Elapsed = time.Since(start)
			updates <- Update{Index: job.Index, Status: media.StatusDownloaded, Progress: 100, Bytes: n}
			log.Debug().
				Str("item", job.Item.ID).
				Str("size", humanize.Bytes(uint64(n))).
				Dur("elapsed", res.Elapsed).
				Int("attempts", attempt).
				Msg("Item downloaded")
			metrics.New(metrics.Namespace).
				Metric("DownloadMs", float64(res.Elapsed.Milliseconds()), metrics.UnitMilliseconds).
				Metric("DownloadBytes", float64(n), metrics.UnitBytes).
				Count("Downloads").
				Flush()
			return res
		}

		if attempt == 1 && source.IsTransient(err) && !errors.Is(err, ErrStorageExhausted) {
			wait := p.retryWait(err)
			log.Warn().
				Err(err).
				Str("item", job.Item.ID).
				Dur("retry_in", wait).
				Msg("Transient download failure, retrying once")
			sleepErr := p.sleep(ctx, wait)
			if sleepErr == nil {
				continue
			}
			err = sleepErr
		}

		res.Status = media.StatusDownloadFailed
		res.Err = err
		res.Elapsed = time.Since(start)
		updates <- Update{Index: job.Index, Status: media.StatusDownloadFailed, Err: err}
		log.Warn().
			Err(err).
			Str("item", job.Item.ID).
			Int("attempts", attempt).
			Msg("Item download failed")
		metrics.New(metrics.Namespace).Count("DownloadErrors").Flush()
		return res
	}
}

// retryWait is max(RetryDelay, Retry-After) capped at MaxRetryWait.
func (p *Pool) retryWait(err error) time.Duration {
	wait := p.opts.RetryDelay
	if ra := source.RetryAfter(err); ra > wait {
		wait = ra
	}
	if wait > p.opts.MaxRetryWait {
		wait = p.opts.MaxRetryWait
	}
	return wait
}

// fetchOnce streams the item into job.Path, truncating any earlier attempt.
// The file is removed on any error.
func (p *Pool) fetchOnce(ctx context.Context, job Job, updates chan<- Update) (int64, error) {
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return 0, err
		}
	}

	raw := job.Item.Raw
	if raw.ID == "" {
		raw = media.RawMetadata{ID: job.Item.ID, Filename: job.Item.Filename}
	}
	body, err := p.src.Fetch(ctx, raw)
	if err != nil {
		return 0, err
	}
	defer body.Close()

	f, err := os.OpenFile(job.Path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return 0, localError("create", err)
	}

	prog := newProgress(job.Item.Size, p.opts.ProgressStep, func(pct int, done int64) {
		updates <- Update{Index: job.Index, Status: media.StatusDownloading, Progress: pct, Bytes: done}
	})
	n, err := copyStream(f, body, prog)
	if closeErr := f.Close(); err == nil && closeErr != nil {
		err = localError("close", closeErr)
	}
	if err == nil && job.Item.Size > 0 && float64(n) < float64(job.Item.Size)*completeRatio {
		err = source.Transient(fmt.Errorf("incomplete download: %s / %s",
			humanize.Bytes(uint64(n)), humanize.Bytes(uint64(job.Item.Size))), 0)
	}
	if err != nil {
		if rmErr := os.Remove(job.Path); rmErr != nil && !os.IsNotExist(rmErr) {
			log.Warn().Err(rmErr).Str("path", job.Path).Msg("Failed to remove partial download")
		}
		return n, err
	}
	return n, nil
}

// copyStream is io.Copy that tells source read errors apart from local
// write errors.
func copyStream(dst io.Writer, src io.Reader, prog *progress) (int64, error) {
	buf := make([]byte, copyBufferSize)
	var written int64
	for {
		n, readErr := src.Read(buf)
		if n > 0 {
			if _, err := dst.Write(buf[:n]); err != nil {
				return written, localError("write", err)
			}
			written += int64(n)
			prog.add(int64(n))
		}
		if readErr == io.EOF {
			return written, nil
		}
		if readErr != nil {
			if source.IsPermanent(readErr) || errors.Is(readErr, context.Canceled) {
				return written, readErr
			}
			var tr *source.TransientError
			if errors.As(readErr, &tr) {
				return written, readErr
			}
			return written, source.Transient(fmt.Errorf("read: %w", readErr), 0)
		}
	}
}

// localError classifies a temp-file failure: a full disk is batch-fatal,
// anything else fails only the item.
func localError(op string, err error) error {
	if errors.Is(err, syscall.ENOSPC) {
		return fmt.Errorf("%s temp file: %w: %w", op, ErrStorageExhausted, err)
	}
	return source.Permanent(fmt.Errorf("%s temp file: %w", op, err))
}

func initialProgress(size int64) int {
	if size > 0 {
		return 0
	}
	return -1
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
