package repository

import (
	"context"
	"sync"

	"NiftyQuant/internal/domain/models"
	domrepo "NiftyQuant/internal/domain/repository"
)

// MemoryResultStore keeps the latest run per symbol in process.
type MemoryResultStore struct {
	mu   sync.RWMutex
	runs map[string]*models.PipelineResult
}

func NewMemoryResultStore() *MemoryResultStore {
	return &MemoryResultStore{runs: make(map[string]*models.PipelineResult)}
}

func (s *MemoryResultStore) Init(context.Context) error { return nil }

// SaveRun stores r. Results are treated as immutable once saved.
func (s *MemoryResultStore) SaveRun(_ context.Context, r *models.PipelineResult) error {
	s.mu.Lock()
	s.runs[r.Symbol] = r
	s.mu.Unlock()
	return nil
}

func (s *MemoryResultStore) LatestRun(_ context.Context, symbol string) (*models.PipelineResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.runs[symbol]
	if !ok {
		return nil, domrepo.ErrNotFound
	}
	return r, nil
}

func (s *MemoryResultStore) Close() error { return nil }

// MemoryModelStore keeps serialized models in process.
type MemoryModelStore struct {
	mu     sync.RWMutex
	models map[string][]byte
}

func NewMemoryModelStore() *MemoryModelStore {
	return &MemoryModelStore{models: make(map[string][]byte)}
}

func (s *MemoryModelStore) SaveModel(_ context.Context, key string, data []byte, _ string) error {
	cp := append([]byte(nil), data...)
	s.mu.Lock()
	s.models[key] = cp
	s.mu.Unlock()
	return nil
}

func (s *MemoryModelStore) LoadModel(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.models[key]
	if !ok {
		return nil, domrepo.ErrNotFound
	}
	return append([]byte(nil), b...), nil
}

var (
	_ domrepo.ResultStore = (*MemoryResultStore)(nil)
	_ domrepo.ModelStore  = (*MemoryModelStore)(nil)
)
