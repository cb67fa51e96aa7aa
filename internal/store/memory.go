package store

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process BatchStore for the local server and tests.
// Records do not survive a restart.
type MemoryStore struct {
	mu      sync.Mutex
	batches map[string]BatchRecord
	items   map[string][]ItemRecord
}

var _ BatchStore = (*MemoryStore)(nil)

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		batches: make(map[string]BatchRecord),
		items:   make(map[string][]ItemRecord),
	}
}

func (m *MemoryStore) PutBatch(_ context.Context, batch *BatchRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().Unix()
	if batch.CreatedAt == 0 {
		batch.CreatedAt = now
	}
	batch.UpdatedAt = now
	rec := *batch
	rec.ItemIDs = append([]string(nil), batch.ItemIDs...)
	m.batches[batch.ID] = rec
	return nil
}

func (m *MemoryStore) GetBatch(_ context.Context, batchID string) (*BatchRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.batches[batchID]
	if !ok {
		return nil, nil
	}
	rec.ItemIDs = append([]string(nil), rec.ItemIDs...)
	return &rec, nil
}

func (m *MemoryStore) UpdateBatchStatus(_ context.Context, batchID, status, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.batches[batchID]
	if !ok {
		rec = BatchRecord{ID: batchID, CreatedAt: time.Now().Unix()}
	}
	rec.Status = status
	rec.Error = errMsg
	rec.UpdatedAt = time.Now().Unix()
	m.batches[batchID] = rec
	return nil
}

func (m *MemoryStore) PutItems(_ context.Context, batchID string, items []ItemRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[batchID] = append([]ItemRecord(nil), items...)
	return nil
}

func (m *MemoryStore) GetItems(_ context.Context, batchID string) ([]ItemRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ItemRecord(nil), m.items[batchID]...), nil
}

func (m *MemoryStore) DeleteBatch(_ context.Context, batchID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.batches, batchID)
	delete(m.items, batchID)
	return nil
}
