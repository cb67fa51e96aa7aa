package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fpang/media-bundler/internal/archive"
	"github.com/fpang/media-bundler/internal/jobs"
	"github.com/fpang/media-bundler/internal/jobutil"
	"github.com/fpang/media-bundler/internal/media"
	"github.com/fpang/media-bundler/internal/pipeline"
	"github.com/fpang/media-bundler/internal/setup"
	"github.com/fpang/media-bundler/internal/store"
)

// eventWait bounds a long-poll on the event feed.
const eventWait = 25 * time.Second

type batchRequest struct {
	Chat        string   `json:"chat"`
	Kinds       []string `json:"kinds,omitempty"`
	IDs         []string `json:"ids,omitempty"`
	Limit       int      `json:"limit,omitempty"`
	Concurrency int      `json:"concurrency,omitempty"`
	Transcode   *bool    `json:"transcode,omitempty"`
	Numbered    bool     `json:"numbered,omitempty"`
}

// POST /api/batches
// Body: {"chat": "@name", "kinds": ["video"], "ids": [...], "concurrency": 3}
func (s *server) handleBatchStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httpError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req batchRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Chat = strings.TrimSpace(req.Chat)
	if req.Chat == "" {
		httpError(w, http.StatusBadRequest, "chat is required")
		return
	}
	if containsPathTraversal(req.Chat) {
		httpError(w, http.StatusBadRequest, "invalid chat reference")
		return
	}
	sel := setup.Selection{Kinds: req.Kinds, IDs: req.IDs, Limit: req.Limit}
	if err := sel.Validate(); err != nil {
		httpError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Concurrency < 0 || req.Concurrency > s.cfg.Download.MaxConcurrency {
		httpError(w, http.StatusBadRequest, fmt.Sprintf("concurrency must be between 1 and %d", s.cfg.Download.MaxConcurrency))
		return
	}
	if req.Concurrency == 0 {
		req.Concurrency = s.cfg.Download.Concurrency
	}
	transcode := s.cfg.Transcode.Enabled
	if req.Transcode != nil {
		transcode = *req.Transcode
	}

	ref, err := s.resolveRef(req.Chat)
	if err != nil {
		httpError(w, http.StatusBadRequest, err.Error())
		return
	}

	rec := &store.BatchRecord{
		ID:          jobs.GenerateID(jobs.BatchPrefix),
		SourceRef:   ref,
		Status:      store.StatusQueued,
		ItemIDs:     req.IDs,
		Concurrency: req.Concurrency,
		Transcode:   transcode,
		Numbered:    req.Numbered,
	}

	if s.remote() {
		s.startRemote(w, r, rec, sel)
		return
	}
	s.startLocal(w, r, rec, sel)
}

func (s *server) startRemote(w http.ResponseWriter, r *http.Request, rec *store.BatchRecord, sel setup.Selection) {
	ctx := r.Context()
	if err := s.store.PutBatch(ctx, rec); err != nil {
		log.Error().Err(err).Str("batch", rec.ID).Msg("Failed to persist batch")
		httpError(w, http.StatusInternalServerError, "failed to create batch")
		return
	}
	err := s.dispatch(ctx, jobs.BundleEvent{
		BatchID:     rec.ID,
		Chat:        rec.SourceRef,
		ItemIDs:     sel.IDs,
		Kinds:       sel.Kinds,
		Limit:       sel.Limit,
		Concurrency: rec.Concurrency,
		Transcode:   rec.Transcode,
		Numbered:    rec.Numbered,
	})
	if err != nil {
		jobutil.SetBatchError(ctx, rec.ID, "dispatch failed: "+err.Error(), s.store.UpdateBatchStatus)
		httpError(w, http.StatusBadGateway, "failed to start batch")
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]string{"id": rec.ID})
}

func (s *server) startLocal(w http.ResponseWriter, r *http.Request, rec *store.BatchRecord, sel setup.Selection) {
	src, err := setup.Source(rec.SourceRef, s.cfg, s.s3)
	if err != nil {
		sourceError(w, err)
		return
	}
	items, err := setup.ListItems(r.Context(), src, rec.SourceRef, sel, s.cfg.Download.FetchLimit)
	if err != nil {
		sourceError(w, err)
		return
	}
	if len(items) == 0 {
		httpError(w, http.StatusUnprocessableEntity, "no media matched the selection")
		return
	}
	coord, err := setup.Coordinator(src, s.adapter, s.cfg, s.registry, setup.SourceName(rec.SourceRef, s.cfg))
	if err != nil {
		httpError(w, http.StatusInternalServerError, err.Error())
		return
	}

	rec.ItemIDs = make([]string, len(items))
	for i, it := range items {
		rec.ItemIDs[i] = it.ID
	}
	if err := s.store.PutBatch(r.Context(), rec); err != nil {
		log.Error().Err(err).Str("batch", rec.ID).Msg("Failed to persist batch")
		httpError(w, http.StatusInternalServerError, "failed to create batch")
		return
	}

	ctx, cancel := context.WithCancel(s.base)
	rb := &runningBatch{feed: pipeline.NewFeed(), cancel: cancel}
	s.track(rec.ID, rb)

	batch := pipeline.Batch{
		ID:          rec.ID,
		SourceRef:   rec.SourceRef,
		Items:       items,
		Concurrency: rec.Concurrency,
		Transcode:   rec.Transcode,
		Numbered:    rec.Numbered,
	}
	s.wg.Add(1)
	go s.runLocal(ctx, coord, batch, rec, rb)

	respondJSON(w, http.StatusAccepted, map[string]any{"id": rec.ID, "items": len(items)})
}

// runLocal executes a batch in-process and records its outcome. The
// record is written with a context detached from cancellation so a
// cancelled batch still reports its final counters.
func (s *server) runLocal(ctx context.Context, coord *pipeline.Coordinator, batch pipeline.Batch, rec *store.BatchRecord, rb *runningBatch) {
	defer s.wg.Done()
	defer s.forget(batch.ID)
	defer rb.cancel()
	defer rb.feed.Close()

	persist := context.WithoutCancel(ctx)
	if err := s.store.UpdateBatchStatus(persist, batch.ID, store.StatusRunning, ""); err != nil {
		log.Warn().Err(err).Str("batch", batch.ID).Msg("Failed to mark batch running")
	}

	res, runErr := coord.Execute(ctx, batch, rb.feed)
	if res == nil {
		jobutil.SetBatchError(persist, batch.ID, runErr.Error(), s.store.UpdateBatchStatus)
		return
	}

	items := rec.ApplyResult(res)
	if runErr != nil {
		rec.Status = store.StatusFailed
		rec.Error = runErr.Error()
	}
	if err := s.store.PutBatch(persist, rec); err != nil {
		log.Error().Err(err).Str("batch", batch.ID).Msg("Failed to persist batch result")
	}
	if err := s.store.PutItems(persist, batch.ID, items); err != nil {
		log.Error().Err(err).Str("batch", batch.ID).Msg("Failed to persist item results")
	}
}

// handleBatchRoutes dispatches /api/batches/{id}[/{action}].
func (s *server) handleBatchRoutes(w http.ResponseWriter, r *http.Request) {
	batchID, action, ok := jobs.ParseRoute(r.URL.Path, "/api/batches/", jobs.BatchPrefix)
	if !ok || !jobs.ValidID(batchID, jobs.BatchPrefix) {
		httpError(w, http.StatusNotFound, "not found")
		return
	}

	switch action {
	case "":
		s.handleBatchStatus(w, r, batchID)
	case "events":
		s.handleBatchEvents(w, r, batchID)
	case "cancel":
		s.handleBatchCancel(w, r, batchID)
	case "archive":
		s.handleBatchArchive(w, r, batchID)
	case "manifest":
		s.handleBatchManifest(w, r, batchID)
	default:
		httpError(w, http.StatusNotFound, "not found")
	}
}

// GET /api/batches/{id}
func (s *server) handleBatchStatus(w http.ResponseWriter, r *http.Request, batchID string) {
	if r.Method != http.MethodGet {
		httpError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	rec, err := s.store.GetBatch(r.Context(), batchID)
	if err != nil {
		log.Error().Err(err).Str("batch", batchID).Msg("Failed to read batch")
		httpError(w, http.StatusInternalServerError, "failed to read batch")
		return
	}
	if rec == nil {
		httpError(w, http.StatusNotFound, "not found")
		return
	}
	items, err := s.store.GetItems(r.Context(), batchID)
	if err != nil {
		log.Error().Err(err).Str("batch", batchID).Msg("Failed to read items")
		httpError(w, http.StatusInternalServerError, "failed to read batch")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"batch": rec,
		"items": items,
	})
}

// GET /api/batches/{id}/events?after=N&wait=true
// Returns ledger events with Seq greater than after. With wait, blocks
// until at least one exists or the batch ends.
func (s *server) handleBatchEvents(w http.ResponseWriter, r *http.Request, batchID string) {
	if r.Method != http.MethodGet {
		httpError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	rb := s.lookup(batchID)
	if rb == nil {
		httpError(w, http.StatusNotFound, "no event feed for batch")
		return
	}

	var after int64
	if v := r.URL.Query().Get("after"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			httpError(w, http.StatusBadRequest, "after must be a non-negative number")
			return
		}
		after = n
	}

	var (
		events []pipeline.Event
		done   bool
	)
	if wait, _ := strconv.ParseBool(r.URL.Query().Get("wait")); wait {
		ctx, cancel := context.WithTimeout(r.Context(), eventWait)
		defer cancel()
		var err error
		events, done, err = rb.feed.Wait(ctx, after)
		if err != nil && !errors.Is(err, context.DeadlineExceeded) {
			return
		}
	} else {
		events, done = rb.feed.Since(after)
	}

	next := after
	if len(events) > 0 {
		next = events[len(events)-1].Seq
	}
	if events == nil {
		events = []pipeline.Event{}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"events": events,
		"next":   next,
		"done":   done,
	})
}

// POST /api/batches/{id}/cancel
func (s *server) handleBatchCancel(w http.ResponseWriter, r *http.Request, batchID string) {
	if r.Method != http.MethodPost {
		httpError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.remote() {
		httpError(w, http.StatusConflict, "remote batches cannot be cancelled")
		return
	}
	rb := s.lookup(batchID)
	if rb == nil {
		httpError(w, http.StatusNotFound, "not found")
		return
	}
	rb.cancel()
	log.Info().Str("batch", batchID).Msg("Batch cancellation requested")
	respondJSON(w, http.StatusAccepted, map[string]string{"id": batchID, "status": "cancelling"})
}

// GET /api/batches/{id}/archive
// Streams the archive once; it is deleted afterwards. Remote batches
// redirect to the presigned S3 URL.
func (s *server) handleBatchArchive(w http.ResponseWriter, r *http.Request, batchID string) {
	if r.Method != http.MethodGet {
		httpError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	if s.remote() {
		rec, err := s.store.GetBatch(r.Context(), batchID)
		if err != nil || rec == nil || rec.ArchiveURL == "" {
			httpError(w, http.StatusNotFound, "no archive for batch")
			return
		}
		http.Redirect(w, r, rec.ArchiveURL, http.StatusFound)
		return
	}

	rt, err := s.registry.Take(batchID)
	switch {
	case errors.Is(err, archive.ErrNoArchive):
		httpError(w, http.StatusNotFound, "no archive for batch")
		return
	case errors.Is(err, archive.ErrAlreadyTaken):
		httpError(w, http.StatusGone, "archive already retrieved")
		return
	case err != nil:
		log.Error().Err(err).Str("batch", batchID).Msg("Failed to open archive")
		httpError(w, http.StatusInternalServerError, "failed to open archive")
		return
	}
	defer rt.Close()

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, rt.Handle.Filename()))
	w.Header().Set("Content-Length", strconv.FormatInt(rt.Handle.Size, 10))
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rt); err != nil {
		log.Warn().Err(err).Str("batch", batchID).Msg("Archive download interrupted")
	}
}

// GET /api/batches/{id}/manifest
func (s *server) handleBatchManifest(w http.ResponseWriter, r *http.Request, batchID string) {
	if r.Method != http.MethodGet {
		httpError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if m, ok := s.registry.Manifest(batchID); ok {
		respondJSON(w, http.StatusOK, m)
		return
	}

	rec, err := s.store.GetBatch(r.Context(), batchID)
	if err != nil || rec == nil || rec.Status == store.StatusQueued || rec.Status == store.StatusRunning {
		httpError(w, http.StatusNotFound, "no manifest for batch")
		return
	}
	items, err := s.store.GetItems(r.Context(), batchID)
	if err != nil {
		httpError(w, http.StatusInternalServerError, "failed to read batch")
		return
	}
	respondJSON(w, http.StatusOK, manifestFromRecords(rec, items))
}

func manifestFromRecords(rec *store.BatchRecord, items []store.ItemRecord) *archive.Manifest {
	m := &archive.Manifest{
		BatchID:     rec.ID,
		ArchiveName: archiveName(rec),
		ArchiveSize: rec.ArchiveSize,
		CreatedAt:   time.Unix(rec.UpdatedAt, 0).UTC(),
		Entries:     make([]archive.ManifestEntry, len(items)),
	}
	for i, it := range items {
		status := it.Outcome
		if it.Status == string(media.StatusPending) {
			status = it.Status
		}
		m.Entries[i] = archive.ManifestEntry{
			Index:    it.Index,
			ItemID:   it.ID,
			Name:     it.Name,
			Status:   status,
			Archived: it.Archived,
			Size:     it.Bytes,
			Reason:   it.Reason,
			Notes:    it.Notes,
		}
	}
	return m
}

func archiveName(rec *store.BatchRecord) string {
	if rec.ArchiveSize == 0 {
		return ""
	}
	return (&archive.Handle{BatchID: rec.ID}).Filename()
}
