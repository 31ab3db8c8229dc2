// Package objstore 内存实现（测试用）
package objstore

import (
	"context"
	"fmt"
	"sync"

	"github.com/containerd/errdefs"
)

// MemoryStore 内存产物存储
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

var _ ArtifactStore = (*MemoryStore)(nil)

// NewMemoryStore 创建内存产物存储
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string][]byte)}
}

func (s *MemoryStore) WriteArtifact(ctx context.Context, key string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := make([]byte, len(data))
	copy(copied, data)
	s.objects[key] = copied
	return nil
}

func (s *MemoryStore) ReadArtifact(ctx context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.objects[key]
	if !ok {
		return nil, fmt.Errorf("artifact %s: %w", key, errdefs.ErrNotFound)
	}
	copied := make([]byte, len(data))
	copy(copied, data)
	return copied, nil
}

func (s *MemoryStore) ArtifactExists(ctx context.Context, key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.objects[key]
	return ok, nil
}

func (s *MemoryStore) DeleteArtifact(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, key)
	return nil
}
