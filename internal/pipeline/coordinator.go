package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/fpang/media-bundler/internal/archive"
	"github.com/fpang/media-bundler/internal/download"
	"github.com/fpang/media-bundler/internal/media"
	"github.com/fpang/media-bundler/internal/mediaprobe"
	"github.com/fpang/media-bundler/internal/metrics"
	"github.com/fpang/media-bundler/internal/source"
	"github.com/fpang/media-bundler/internal/transcode"
)

// Options tunes a Coordinator.
type Options struct {
	// TempDir holds per-batch working directories ("" for the OS temp dir).
	TempDir string
	// MaxConcurrency clamps Batch.Concurrency (default 10).
	MaxConcurrency int
	// TranscodeConcurrency limits parallel ffmpeg runs (default 1). It is
	// never more than half the batch download limit, and at least 1.
	TranscodeConcurrency int

	RetryDelay    time.Duration
	MaxRetryWait  time.Duration
	RatePerSecond float64

	// SourceName labels metrics.
	SourceName string
}

// Coordinator drives batches. It holds no per-batch state, so one
// Coordinator can run many batches concurrently.
type Coordinator struct {
	src       source.Source
	adapter   *transcode.Adapter
	assembler *archive.Assembler
	registry  *archive.Registry
	opts      Options
}

// NewCoordinator wires a Coordinator. adapter carries the transcoder
// capability detected at startup; a nil adapter disables normalization.
// When registry is nil the caller owns the produced archive.
func NewCoordinator(src source.Source, adapter *transcode.Adapter, assembler *archive.Assembler, registry *archive.Registry, opts Options) *Coordinator {
	if opts.MaxConcurrency <= 0 {
		opts.MaxConcurrency = DefaultMaxConcurrency
	}
	if opts.TranscodeConcurrency <= 0 {
		opts.TranscodeConcurrency = 1
	}
	if opts.TempDir == "" {
		opts.TempDir = os.TempDir()
	}
	if adapter == nil {
		adapter = transcode.NewAdapter(transcode.Unavailable("not configured"), nil, transcode.Options{})
	}
	if assembler == nil {
		assembler = archive.NewAssembler(opts.TempDir, archive.CompressDeflate)
	}
	return &Coordinator{src: src, adapter: adapter, assembler: assembler, registry: registry, opts: opts}
}

// Capability returns the transcoder capability batches run with.
func (c *Coordinator) Capability() transcode.Capability {
	return c.adapter.Capability()
}

// Limit returns the effective download limit for a requested concurrency.
func (c *Coordinator) Limit(requested int) int {
	if requested <= 0 {
		requested = DefaultConcurrency
	}
	return min(requested, c.opts.MaxConcurrency)
}

// transcodeLimit is the transcode stage cap for a download limit.
func (c *Coordinator) transcodeLimit(downloadLimit int) int {
	return min(c.opts.TranscodeConcurrency, max(1, downloadLimit/2))
}

// itemState is the coordinator's private bookkeeping for one item. Each
// entry is written by exactly one goroutine per stage.
type itemState struct {
	path       string
	status     media.Status
	normalized bool
	attempts   int
	bytes      int64
	notes      []string
}

// Execute runs batch to completion and returns its result. Cancelling ctx
// stops dispatching new work; finished items are still archived. The
// error is non-nil only when storage ran out or the archive could not be
// written, and even then the result lists every item.
func (c *Coordinator) Execute(ctx context.Context, batch Batch, sink Sink) (*BatchResult, error) {
	if err := batch.validate(); err != nil {
		return nil, err
	}
	if batch.ID == "" {
		batch.ID = uuid.NewString()
	}
	start := time.Now()
	limit := c.Limit(batch.Concurrency)

	items := make([]media.Item, len(batch.Items))
	for i, it := range batch.Items {
		if !it.Probed {
			raw := it.Raw
			if raw.ID == "" {
				raw = media.RawMetadata{ID: it.ID, Kind: string(it.Kind), Filename: it.Filename, MIMEType: it.MIMEType, Size: it.Size}
			}
			it = mediaprobe.Classify(raw)
		}
		items[i] = it
	}

	log.Info().
		Str("batch", batch.ID).
		Str("source", batch.SourceRef).
		Int("items", len(items)).
		Int("concurrency", limit).
		Bool("transcode", batch.Transcode).
		Bool("transcoder_available", c.adapter.Capability().Available).
		Msg("Batch started")

	if err := os.MkdirAll(c.opts.TempDir, 0o700); err != nil {
		return nil, fmt.Errorf("create temp root: %w", err)
	}
	workDir, err := os.MkdirTemp(c.opts.TempDir, archive.BatchDirPrefix+batch.ID+"-")
	if err != nil {
		return nil, fmt.Errorf("create batch work dir: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(workDir); err != nil {
			log.Warn().Err(err).Str("dir", workDir).Msg("Failed to purge batch work dir")
		}
	}()

	l := newLedger(batch.ID, items, sink)
	l.start()

	states := make([]itemState, len(items))
	jobs := make([]download.Job, len(items))
	for i, it := range items {
		ext := strings.ToLower(filepath.Ext(it.Filename))
		jobs[i] = download.Job{Index: i, Item: it, Path: filepath.Join(workDir, fmt.Sprintf("%04d%s", i, ext))}
		states[i] = itemState{status: media.StatusPending}
		if it.Ambiguous {
			states[i].notes = append(states[i].notes, NoteAmbiguous)
		}
	}

	pool := download.New(c.src, download.Options{
		Limit:         limit,
		RetryDelay:    c.opts.RetryDelay,
		MaxRetryWait:  c.opts.MaxRetryWait,
		RatePerSecond: c.opts.RatePerSecond,
	})
	results, fatal := pool.Run(ctx, jobs, l.updates)
	for _, r := range results {
		st := &states[r.Index]
		st.status = r.Status
		st.path = r.Path
		st.attempts = r.Attempts
		st.bytes = r.Bytes
	}

	if fatal == nil && batch.Transcode {
		c.transcodeStage(ctx, items, states, limit, l.updates)
	}

	for i := range states {
		st := &states[i]
		if st.status == media.StatusPending {
			continue
		}
		l.updates <- download.Update{Index: i, Status: media.StatusFinalized, Progress: 100, Notes: st.notes}
	}
	records := l.close()

	result := &BatchResult{
		BatchID:   batch.ID,
		Cancelled: ctx.Err() != nil,
		Items:     make([]ItemDetail, len(items)),
	}
	for i, it := range items {
		rec := records[i]
		d := ItemDetail{
			Index:    i,
			ID:       it.ID,
			Name:     it.Filename,
			Kind:     it.Kind,
			Size:     it.Size,
			Status:   rec.status,
			Outcome:  rec.outcome,
			Reason:   rec.reason,
			Notes:    rec.notes,
			Bytes:    states[i].bytes,
			Attempts: states[i].attempts,
		}
		switch {
		case rec.status == media.StatusPending:
			d.Reason = ReasonCancelled
			if fatal != nil {
				d.Reason = ReasonAborted
			}
			result.Skipped++
		case rec.outcome == media.StatusDownloadFailed:
			result.Failed++
		default:
			result.Succeeded++
		}
		result.Items[i] = d
	}

	if fatal != nil {
		result.Duration = time.Since(start)
		c.finish(batch, result, nil)
		return result, fatal
	}

	entries := c.archiveEntries(batch, items, states)
	handle, err := c.assembler.Assemble(context.WithoutCancel(ctx), batch.ID, entries)
	if err != nil {
		result.Duration = time.Since(start)
		c.finish(batch, result, nil)
		return result, err
	}
	if handle != nil {
		for i := range result.Items {
			if name, ok := handle.NameOf(i); ok {
				result.Items[i].Name = name
				result.Items[i].Archived = true
			}
		}
	}
	result.Archive = handle
	result.Duration = time.Since(start)
	c.finish(batch, result, handle)
	return result, nil
}

// transcodeStage normalizes downloaded videos after every download has
// ended. It records outcomes in states and sends transitions to updates.
func (c *Coordinator) transcodeStage(ctx context.Context, items []media.Item, states []itemState, downloadLimit int, updates chan<- download.Update) {
	if !c.adapter.Capability().Available {
		for i := range states {
			if states[i].status == media.StatusDownloaded {
				states[i].notes = append(states[i].notes, NoteTranscoderUnavailable)
			}
		}
		return
	}

	limit := c.transcodeLimit(downloadLimit)
	var g errgroup.Group
	g.SetLimit(limit)

	queued := 0
	for i := range items {
		st := &states[i]
		if st.status != media.StatusDownloaded || !c.adapter.NeedsNormalization(items[i]) {
			continue
		}
		if ctx.Err() != nil {
			st.notes = append(st.notes, NoteTranscodeCancelled)
			continue
		}
		queued++
		g.Go(func() error {
			if ctx.Err() != nil {
				st.notes = append(st.notes, NoteTranscodeCancelled)
				return nil
			}
			updates <- download.Update{Index: i, Status: media.StatusTranscoding}
			res := c.adapter.Normalize(ctx, st.path, items[i])
			switch res.Outcome {
			case transcode.Normalized:
				st.status = media.StatusTranscoded
				st.path = res.Path
				st.normalized = true
				updates <- download.Update{Index: i, Status: media.StatusTranscoded, Progress: 100}
			case transcode.NotNeeded:
				st.status = media.StatusTranscoded
				updates <- download.Update{Index: i, Status: media.StatusTranscoded, Progress: 100, Notes: []string{NoteAlreadyCompatible}}
			default:
				st.status = media.StatusTranscodeFailed
				st.path = res.Path
				updates <- download.Update{Index: i, Status: media.StatusTranscodeFailed, Err: errors.New(res.Reason)}
			}
			return nil
		})
	}
	_ = g.Wait()

	if queued > 0 {
		log.Info().Int("items", queued).Int("limit", limit).Msg("Transcode stage finished")
	}
}

// archiveEntries lists the files worth archiving, in batch order, under
// the names they should carry.
func (c *Coordinator) archiveEntries(batch Batch, items []media.Item, states []itemState) []archive.Entry {
	var entries []archive.Entry
	for i, st := range states {
		if !st.status.HasFile() {
			continue
		}
		name := items[i].Filename
		if st.normalized {
			name = mediaprobe.ReplaceExtension(name, ".mp4")
		}
		if batch.Numbered {
			name = mediaprobe.Numbered(i+1, name)
		}
		entries = append(entries, archive.Entry{Index: i, Name: name, Path: st.path})
	}
	return entries
}

// finish builds the manifest, registers the archive and reports the batch.
func (c *Coordinator) finish(batch Batch, result *BatchResult, handle *archive.Handle) {
	manifest := &archive.Manifest{
		BatchID:   batch.ID,
		CreatedAt: time.Now().UTC(),
		Entries:   make([]archive.ManifestEntry, len(result.Items)),
	}
	if handle != nil {
		manifest.ArchiveID = handle.ID
		manifest.ArchiveName = handle.Filename()
		manifest.ArchiveSize = handle.Size
	}
	var total int64
	for i, it := range result.Items {
		var size int64
		if handle != nil {
			for _, f := range handle.Files {
				if f.Index == i {
					size = f.Size
				}
			}
		}
		manifest.Entries[i] = archive.ManifestEntry{
			Index:    i,
			ItemID:   it.ID,
			Name:     it.Name,
			Status:   string(it.Outcome),
			Archived: it.Archived,
			Size:     size,
			Reason:   it.Reason,
			Notes:    it.Notes,
		}
		total += it.Bytes
	}
	result.Manifest = manifest

	if c.registry != nil {
		c.registry.Put(batch.ID, handle, manifest)
	}

	metrics.RecordBatch(metrics.BatchSummary{
		Source:    c.opts.SourceName,
		Items:     len(result.Items),
		Succeeded: result.Succeeded,
		Failed:    result.Failed,
		Skipped:   result.Skipped,
		Bytes:     total,
		Duration:  result.Duration,
		Cancelled: result.Cancelled,
	})

	ev := log.Info()
	if result.Failed > 0 {
		ev = log.Warn()
	}
	ev.Str("batch", batch.ID).
		Int("succeeded", result.Succeeded).
		Int("failed", result.Failed).
		Int("skipped", result.Skipped).
		Bool("cancelled", result.Cancelled).
		Str("downloaded", humanize.Bytes(uint64(total))).
		Dur("elapsed", result.Duration).
		Msg("Batch finished")
}
