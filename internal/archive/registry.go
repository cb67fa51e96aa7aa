package archive

import (
	"errors"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// DefaultTTL is how long an unretrieved archive is kept.
const DefaultTTL = time.Hour

var (
	// ErrNoArchive is returned for unknown or expired batches.
	ErrNoArchive = errors.New("no archive for batch")
	// ErrAlreadyTaken is returned when the archive was already retrieved.
	ErrAlreadyTaken = errors.New("archive already retrieved")
)

type slot struct {
	handle   *Handle
	manifest *Manifest
	timer    *time.Timer
	taken    bool
}

// Registry owns produced archives. An archive is deleted once the caller
// has retrieved it (Take + Close) or when it has been idle for the TTL,
// whichever comes first. Manifests stay readable until the TTL expires.
type Registry struct {
	mu    sync.Mutex
	ttl   time.Duration
	slots map[string]*slot
}

// NewRegistry creates a Registry with the given idle TTL.
func NewRegistry(ttl time.Duration) *Registry {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Registry{ttl: ttl, slots: make(map[string]*slot)}
}

// Put registers the result of a batch. handle may be nil when the batch
// produced no archive. A previous entry for the same batch is discarded.
func (r *Registry) Put(batchID string, handle *Handle, manifest *Manifest) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if old, ok := r.slots[batchID]; ok {
		r.discardLocked(batchID, old)
	}
	s := &slot{handle: handle, manifest: manifest}
	s.timer = time.AfterFunc(r.ttl, func() { r.expire(batchID, s) })
	r.slots[batchID] = s
}

// Manifest returns the manifest recorded for a batch.
func (r *Registry) Manifest(batchID string) (*Manifest, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.slots[batchID]
	if !ok || s.manifest == nil {
		return nil, false
	}
	return s.manifest, true
}

// Lookup returns the archive of a batch without retrieving it.
func (r *Registry) Lookup(batchID string) (*Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.slots[batchID]
	if !ok || s.handle == nil || s.taken {
		return nil, false
	}
	return s.handle, true
}

// Retrieval is an open archive handed to a caller. Closing it deletes the
// archive file.
type Retrieval struct {
	*os.File
	Handle *Handle
}

// Close closes and deletes the archive.
func (rt *Retrieval) Close() error {
	err := rt.File.Close()
	if rmErr := os.Remove(rt.Handle.Path); rmErr != nil && !os.IsNotExist(rmErr) {
		log.Warn().Err(rmErr).Str("path", rt.Handle.Path).Msg("Failed to delete retrieved archive")
	}
	return err
}

// Take hands the archive of a batch to the caller. It can be taken once.
func (r *Registry) Take(batchID string) (*Retrieval, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.slots[batchID]
	switch {
	case !ok || s.handle == nil:
		return nil, ErrNoArchive
	case s.taken:
		return nil, ErrAlreadyTaken
	}

	f, err := os.Open(s.handle.Path)
	if err != nil {
		return nil, err
	}
	s.taken = true
	log.Debug().Str("batch", batchID).Str("archive", s.handle.Path).Msg("Archive retrieved")
	return &Retrieval{File: f, Handle: s.handle}, nil
}

// Close deletes every archive still held.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, s := range r.slots {
		r.discardLocked(id, s)
	}
}

// Len returns the number of batches tracked.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.slots)
}

func (r *Registry) expire(batchID string, s *slot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.slots[batchID] != s {
		return
	}
	log.Info().Str("batch", batchID).Dur("ttl", r.ttl).Msg("Expiring idle archive")
	r.discardLocked(batchID, s)
}

func (r *Registry) discardLocked(batchID string, s *slot) {
	s.timer.Stop()
	if s.handle != nil && !s.taken {
		if err := os.Remove(s.handle.Path); err != nil && !os.IsNotExist(err) {
			log.Warn().Err(err).Str("path", s.handle.Path).Msg("Failed to delete archive")
		}
	}
	delete(r.slots, batchID)
}
