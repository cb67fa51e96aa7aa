package main

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/fpang/media-bundler/internal/archive"
	"github.com/fpang/media-bundler/internal/config"
	"github.com/fpang/media-bundler/internal/jobs"
	"github.com/fpang/media-bundler/internal/pipeline"
	"github.com/fpang/media-bundler/internal/source"
	"github.com/fpang/media-bundler/internal/store"
	"github.com/fpang/media-bundler/internal/transcode"
)

// dispatcher hands a queued batch to another process (bundle-lambda).
type dispatcher func(ctx context.Context, ev jobs.BundleEvent) error

// runningBatch is a batch executing in this process.
type runningBatch struct {
	feed   *pipeline.Feed
	cancel context.CancelFunc
}

// server holds everything the handlers share. With a dispatcher set,
// batches run remotely and only the store is consulted; otherwise they run
// in-process and archives are held by the registry.
type server struct {
	cfg      *config.Config
	store    store.BatchStore
	registry *archive.Registry
	adapter  *transcode.Adapter
	s3       source.S3API
	dispatch dispatcher
	picker   func() (string, error)

	base context.Context
	wg   sync.WaitGroup

	mu      sync.Mutex
	running map[string]*runningBatch
}

func newServer(base context.Context, cfg *config.Config, st store.BatchStore, adapter *transcode.Adapter) *server {
	return &server{
		cfg:      cfg,
		store:    st,
		registry: archive.NewRegistry(cfg.ArchiveTTL()),
		adapter:  adapter,
		picker:   pickDirectory,
		base:     base,
		running:  make(map[string]*runningBatch),
	}
}

func (s *server) remote() bool {
	return s.dispatch != nil
}

func (s *server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/health", s.handleHealth)
	mux.HandleFunc("/api/sources/list", s.handleSourceList)
	mux.HandleFunc("/api/pick", s.handlePick)
	mux.HandleFunc("/api/batches", s.handleBatchStart)
	mux.HandleFunc("/api/batches/", s.handleBatchRoutes)
	return mux
}

func (s *server) track(id string, rb *runningBatch) {
	s.mu.Lock()
	s.running[id] = rb
	s.mu.Unlock()
}

func (s *server) lookup(id string) *runningBatch {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running[id]
}

// forget drops a finished batch's feed once its archive can no longer be
// retrieved.
func (s *server) forget(id string) {
	time.AfterFunc(s.cfg.ArchiveTTL(), func() {
		s.mu.Lock()
		delete(s.running, id)
		s.mu.Unlock()
	})
}

// shutdown cancels in-process batches, waits for them to record their
// results and deletes archives nobody retrieved.
func (s *server) shutdown() {
	s.mu.Lock()
	for _, rb := range s.running {
		rb.cancel()
	}
	s.mu.Unlock()
	s.wg.Wait()
	s.registry.Close()
}

func (s *server) resolveRef(chat string) (string, error) {
	if strings.HasPrefix(chat, "s3://") || s.cfg.Source.GatewayURL == "" {
		return chat, nil
	}
	ref, err := source.ParseRef(chat)
	if err != nil {
		return "", err
	}
	return ref.String(), nil
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"service":    "media-bundler",
		"commit":     commitHash,
		"transcoder": s.adapter.Capability(),
	})
}
