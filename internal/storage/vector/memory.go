// Copyright 2026 fanjia1024
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package vector

import (
	"cmp"
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
)

const defaultTopK = 10

// MemoryStore 进程内切片索引，开发环境与测试使用
type MemoryStore struct {
	mu      sync.RWMutex
	indexes map[string]*memoryIndex
}

type memoryIndex struct {
	def     Index
	entries map[string]Entry
}

// NewMemoryStore 创建空的内存索引
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{indexes: make(map[string]*memoryIndex)}
}

// Create 实现 Store
func (s *MemoryStore) Create(_ context.Context, index Index) error {
	if index.Name == "" || index.Dimension <= 0 {
		return fmt.Errorf("invalid index %q (dimension %d)", index.Name, index.Dimension)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.indexes[index.Name]; ok {
		return fmt.Errorf("index %s already exists", index.Name)
	}
	s.indexes[index.Name] = &memoryIndex{def: index, entries: make(map[string]Entry)}
	return nil
}

// Add 写入或覆盖切片；维度必须与索引一致
func (s *MemoryStore) Add(_ context.Context, indexName string, entries []Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, ok := s.indexes[indexName]
	if !ok {
		return fmt.Errorf("index %s: %w", indexName, ErrNotFound)
	}
	for _, e := range entries {
		if len(e.Values) != idx.def.Dimension {
			return fmt.Errorf("chunk %s has dimension %d, index %s expects %d", e.ID, len(e.Values), indexName, idx.def.Dimension)
		}
	}
	for _, e := range entries {
		e.Metadata = maps.Clone(e.Metadata)
		idx.entries[e.ID] = e
	}
	return nil
}

// Search 全量打分；同分按 ID 升序，保证同一查询排名稳定
func (s *MemoryStore) Search(_ context.Context, indexName string, query []float64, opts SearchOptions) ([]Match, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx, ok := s.indexes[indexName]
	if !ok {
		return nil, fmt.Errorf("index %s: %w", indexName, ErrNotFound)
	}
	if len(query) != idx.def.Dimension {
		return nil, fmt.Errorf("query has dimension %d, index %s expects %d", len(query), indexName, idx.def.Dimension)
	}
	topK := opts.TopK
	if topK <= 0 {
		topK = defaultTopK
	}

	matches := make([]Match, 0, len(idx.entries))
	for id, e := range idx.entries {
		if !matchesFilter(e.Metadata, opts.Filter) {
			continue
		}
		score := similarity(idx.def.Distance, query, e.Values)
		if score < opts.MinScore {
			continue
		}
		matches = append(matches, Match{ID: id, Score: score, Metadata: e.Metadata})
	}
	slices.SortFunc(matches, func(a, b Match) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	if len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

// Get 实现 Store
func (s *MemoryStore) Get(_ context.Context, indexName, id string) (*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx, ok := s.indexes[indexName]
	if !ok {
		return nil, fmt.Errorf("index %s: %w", indexName, ErrNotFound)
	}
	e, ok := idx.entries[id]
	if !ok {
		return nil, fmt.Errorf("chunk %s: %w", id, ErrNotFound)
	}
	return &e, nil
}

// ListIndexes 实现 Store
func (s *MemoryStore) ListIndexes(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Sorted(maps.Keys(s.indexes)), nil
}

func matchesFilter(meta, filter map[string]string) bool {
	for k, v := range filter {
		if meta[k] != v {
			return false
		}
	}
	return true
}
