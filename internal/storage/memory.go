package storage

import (
	"context"
	"errors"
	"sort"
	"sync"

	"genepool/internal/model"
)

type MemoryStore struct {
	mu          sync.RWMutex
	initialized bool
	dumps       map[string]model.Dump
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Init(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.initialized {
		return nil
	}
	s.initialized = true
	s.dumps = make(map[string]model.Dump)
	return nil
}

func (s *MemoryStore) SaveDump(_ context.Context, dump model.Dump) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return errors.New("store is not initialized")
	}
	s.dumps[dump.ID] = cloneDump(dump)
	return nil
}

func (s *MemoryStore) GetDump(_ context.Context, id string) (model.Dump, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	dump, ok := s.dumps[id]
	if !ok {
		return model.Dump{}, false, nil
	}
	return cloneDump(dump), true, nil
}

func (s *MemoryStore) ListDumps(_ context.Context) ([]model.DumpSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.DumpSummary, 0, len(s.dumps))
	for _, dump := range s.dumps {
		out = append(out, dump.Summary())
	}
	sortSummaries(out)
	return out, nil
}

func cloneDump(d model.Dump) model.Dump {
	out := d
	out.Queues = make(map[string][][]byte, len(d.Queues))
	for name, bodies := range d.Queues {
		copied := make([][]byte, len(bodies))
		for i, body := range bodies {
			copied[i] = append([]byte(nil), body...)
		}
		out.Queues[name] = copied
	}
	return out
}

func sortSummaries(summaries []model.DumpSummary) {
	sort.Slice(summaries, func(i, j int) bool {
		if summaries[i].CreatedAt.Equal(summaries[j].CreatedAt) {
			return summaries[i].ID < summaries[j].ID
		}
		return summaries[i].CreatedAt.Before(summaries[j].CreatedAt)
	})
}
