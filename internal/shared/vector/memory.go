// Package vector 内存实现（测试用）
package vector

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/containerd/errdefs"
)

// MemoryStore 内存向量库
type MemoryStore struct {
	mu         sync.RWMutex
	namespaces map[string]map[string]Point // namespace -> point id -> point
	dims       map[string]int
	aliases    map[string]string
}

var _ VectorStore = (*MemoryStore)(nil)

// NewMemoryStore 创建内存向量库
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		namespaces: make(map[string]map[string]Point),
		dims:       make(map[string]int),
		aliases:    make(map[string]string),
	}
}

func (s *MemoryStore) EnsureNamespace(ctx context.Context, namespace string, dim int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.namespaces[namespace]; !ok {
		s.namespaces[namespace] = make(map[string]Point)
		s.dims[namespace] = dim
	}
	return nil
}

func (s *MemoryStore) UpsertPoints(ctx context.Context, namespace string, points []Point) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ns, ok := s.namespaces[namespace]
	if !ok {
		return fmt.Errorf("namespace %s: %w", namespace, errdefs.ErrNotFound)
	}
	for _, p := range points {
		ns[p.ID] = p
	}
	return nil
}

func (s *MemoryStore) CountPoints(ctx context.Context, namespace string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.namespaces[namespace])), nil
}

func (s *MemoryStore) SetAlias(ctx context.Context, alias, namespace string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.namespaces[namespace]; !ok {
		return fmt.Errorf("namespace %s: %w", namespace, errdefs.ErrNotFound)
	}
	s.aliases[alias] = namespace
	return nil
}

func (s *MemoryStore) GetAlias(ctx context.Context, alias string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.aliases[alias], nil
}

func (s *MemoryStore) SearchByAlias(ctx context.Context, alias string, vector []float32, limit int) ([]SearchHit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	namespace, ok := s.aliases[alias]
	if !ok {
		return nil, fmt.Errorf("alias %s: %w", alias, errdefs.ErrNotFound)
	}

	var hits []SearchHit
	for _, p := range s.namespaces[namespace] {
		hits = append(hits, SearchHit{
			ID:      p.ID,
			Score:   CosineSimilarity(vector, p.Vector),
			Payload: p.Payload,
		})
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

func (s *MemoryStore) Close() error {
	return nil
}
