package store

import (
	"context"
	"sync"

	"github.com/piwi3910/SlabQuote/internal/model"
)

// MemoryStore keeps results in process memory. It is the default backend
// for the CLI and for tests.
type MemoryStore struct {
	mu        sync.Mutex
	results   map[string]model.OptimizationResult
	sequences map[string]int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		results:   make(map[string]model.OptimizationResult),
		sequences: make(map[string]int64),
	}
}

func (s *MemoryStore) Latest(_ context.Context, quoteID string) (model.OptimizationResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, ok := s.results[quoteID]
	if !ok {
		return model.OptimizationResult{}, model.ErrNotFound
	}
	return res, nil
}

func (s *MemoryStore) Commit(_ context.Context, result model.OptimizationResult) error {
	if err := validateCommit(result); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.results[result.QuoteID]; ok && result.Sequence <= cur.Sequence {
		return model.ErrStaleWrite
	}
	s.results[result.QuoteID] = result
	if s.sequences[result.QuoteID] < result.Sequence {
		s.sequences[result.QuoteID] = result.Sequence
	}
	return nil
}

func (s *MemoryStore) NextSequence(_ context.Context, quoteID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sequences[quoteID]++
	return s.sequences[quoteID], nil
}

func (s *MemoryStore) Close() error { return nil }
