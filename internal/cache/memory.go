package cache

import (
	"context"
	"sync"

	"github.com/makereels/sync/internal/model"
)

// MemoryStore is an in-process Store used by tests and by deployments
// that explicitly opt out of restart durability.
type MemoryStore struct {
	mu   sync.Mutex
	snap *Snapshot
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Load(ctx context.Context) (*Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snap == nil {
		return nil, nil
	}
	if s.snap.SchemaVersion != SchemaVersion {
		s.snap = nil
		return nil, nil
	}
	copied := *s.snap
	copied.Jobs = append([]model.ProcessingJob(nil), s.snap.Jobs...)
	return &copied, nil
}

func (s *MemoryStore) Save(ctx context.Context, snap *Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *snap
	copied.Jobs = append([]model.ProcessingJob(nil), snap.Jobs...)
	s.snap = &copied
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap = nil
	return nil
}
