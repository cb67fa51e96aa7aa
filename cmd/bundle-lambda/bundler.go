package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"

	"github.com/fpang/media-bundler/internal/archive"
	"github.com/fpang/media-bundler/internal/config"
	"github.com/fpang/media-bundler/internal/jobs"
	"github.com/fpang/media-bundler/internal/jobutil"
	"github.com/fpang/media-bundler/internal/notify"
	"github.com/fpang/media-bundler/internal/pipeline"
	"github.com/fpang/media-bundler/internal/setup"
	"github.com/fpang/media-bundler/internal/source"
	"github.com/fpang/media-bundler/internal/store"
	"github.com/fpang/media-bundler/internal/transcode"
)

// bundler runs one queued batch per invocation.
type bundler struct {
	cfg       *config.Config
	store     store.BatchStore
	adapter   *transcode.Adapter
	s3        source.S3API
	publisher *archive.S3Publisher
	events    notify.EventsAPI
	bus       string
}

// run executes ev and records the outcome. Failures are written to the
// batch record and not returned: an error would make Lambda retry the
// async invocation and download everything a second time.
func (b *bundler) run(ctx context.Context, ev jobs.BundleEvent) error {
	if !jobs.ValidID(ev.BatchID, jobs.BatchPrefix) {
		log.Error().Str("batch", ev.BatchID).Msg("Rejecting bundle event with malformed batch ID")
		return nil
	}

	rec, err := b.store.GetBatch(ctx, ev.BatchID)
	if err != nil {
		return fmt.Errorf("read batch %s: %w", ev.BatchID, err)
	}
	if rec == nil {
		rec = &store.BatchRecord{ID: ev.BatchID, SourceRef: ev.Chat}
	}
	switch rec.Status {
	case store.StatusComplete, store.StatusCancelled, store.StatusFailed:
		log.Warn().Str("batch", ev.BatchID).Str("status", rec.Status).Msg("Batch already finished, ignoring duplicate delivery")
		return nil
	}
	rec.Status = store.StatusRunning
	rec.Concurrency = ev.Concurrency
	rec.Transcode = ev.Transcode
	rec.Numbered = ev.Numbered
	if err := b.store.PutBatch(ctx, rec); err != nil {
		return fmt.Errorf("mark batch %s running: %w", ev.BatchID, err)
	}

	src, err := setup.Source(ev.Chat, b.cfg, b.s3)
	if err != nil {
		return b.fail(ctx, ev.BatchID, "open source: "+err.Error())
	}
	sel := setup.Selection{Kinds: ev.Kinds, IDs: ev.ItemIDs, Limit: ev.Limit}
	items, err := setup.ListItems(ctx, src, ev.Chat, sel, b.cfg.Download.FetchLimit)
	if err != nil {
		return b.fail(ctx, ev.BatchID, err.Error())
	}
	if len(items) == 0 {
		return b.fail(ctx, ev.BatchID, "no media matched the selection")
	}

	coord, err := setup.Coordinator(src, b.adapter, b.cfg, nil, setup.SourceName(ev.Chat, b.cfg))
	if err != nil {
		return b.fail(ctx, ev.BatchID, err.Error())
	}

	batch := pipeline.Batch{
		ID:          ev.BatchID,
		SourceRef:   ev.Chat,
		Items:       items,
		Concurrency: ev.Concurrency,
		Transcode:   ev.Transcode,
		Numbered:    ev.Numbered,
	}
	res, runErr := coord.Execute(ctx, batch, pipeline.SinkFunc(logTransition))
	if res == nil {
		return b.fail(ctx, ev.BatchID, runErr.Error())
	}

	itemRecs := rec.ApplyResult(res)
	rec.ItemIDs = make([]string, len(items))
	for i, it := range items {
		rec.ItemIDs[i] = it.ID
	}
	if runErr != nil {
		rec.Status = store.StatusFailed
		rec.Error = runErr.Error()
	}

	if res.Archive != nil {
		defer removeArchive(res.Archive.Path)
		pub, err := b.publisher.Publish(ctx, res.Archive)
		if err != nil {
			rec.Status = store.StatusFailed
			rec.Error = err.Error()
			runErr = errors.Join(runErr, err)
		} else {
			rec.ArchiveKey = pub.Key
			rec.ArchiveURL = pub.URL
		}
	}

	if err := b.store.PutBatch(ctx, rec); err != nil {
		log.Error().Err(err).Str("batch", ev.BatchID).Msg("Failed to persist batch result")
	}
	if err := b.store.PutItems(ctx, ev.BatchID, itemRecs); err != nil {
		log.Error().Err(err).Str("batch", ev.BatchID).Msg("Failed to persist item results")
	}

	done := notify.NewBatchCompleted(ev.Chat, res, runErr)
	done.ArchiveKey = rec.ArchiveKey
	done.ArchiveURL = rec.ArchiveURL
	if err := notify.EmitBatchCompleted(ctx, b.events, b.bus, done); err != nil {
		log.Warn().Err(err).Str("batch", ev.BatchID).Msg("Batch completion event not delivered")
	}

	log.Info().
		Str("batch", ev.BatchID).
		Str("status", rec.Status).
		Int("succeeded", rec.Succeeded).
		Int("failed", rec.Failed).
		Int("skipped", rec.Skipped).
		Dur("duration", res.Duration).
		Msg("Batch finished")
	return nil
}

func (b *bundler) fail(ctx context.Context, batchID, msg string) error {
	if err := jobutil.SetBatchError(ctx, batchID, msg, b.store.UpdateBatchStatus); err != nil {
		log.Error().Err(err).Str("batch", batchID).Msg("Failed to record batch error")
	}
	return nil
}

func logTransition(e pipeline.Event) {
	if e.IsProgress() {
		return
	}
	log.Debug().
		Str("batch", e.BatchID).
		Int("index", e.Index).
		Str("from", string(e.From)).
		Str("to", string(e.To)).
		Str("error", e.Err).
		Msg("Item transition")
}

func removeArchive(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		log.Warn().Err(err).Str("path", path).Msg("Failed to delete local archive")
	}
}
