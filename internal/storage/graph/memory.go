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

package graph

import (
	"context"
	"sync"
)

// MemoryStore 内存图实现
type MemoryStore struct {
	mu   sync.RWMutex
	next map[string][]string
	prev map[string][]string
}

// NewMemoryStore 创建内存图
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		next: make(map[string][]string),
		prev: make(map[string][]string),
	}
}

// AddNext 添加边 src -[:NEXT]-> dst
func (s *MemoryStore) AddNext(src, dst string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next[src] = append(s.next[src], dst)
	s.prev[dst] = append(s.prev[dst], src)
}

// Neighbors 实现 Store
func (s *MemoryStore) Neighbors(ctx context.Context, chunkID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return dedupIDs(s.next[chunkID], s.prev[chunkID]), nil
}

// Close 实现 Store
func (s *MemoryStore) Close() error { return nil }

func dedupIDs(lists ...[]string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, l := range lists {
		for _, id := range l {
			if id == "" {
				continue
			}
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	return out
}
