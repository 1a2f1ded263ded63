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
	"context"
	"errors"
	"fmt"
	"strconv"

	einoembed "github.com/cloudwego/eino/components/embedding"
)

// Chunk 待写入索引的文本切片
type Chunk struct {
	ID         string
	Source     string
	ChunkIndex int
	Content    string
}

// MemorySearcher 在内存 vector.Store 之上做文本检索（query 先经 Embedder 向量化）
type MemorySearcher struct {
	store    Store
	index    string
	embedder einoembed.Embedder
}

// NewMemorySearcher 创建内存检索器
func NewMemorySearcher(store Store, index string, embedder einoembed.Embedder) (*MemorySearcher, error) {
	if store == nil || embedder == nil {
		return nil, fmt.Errorf("MemorySearcher requires Store and Embedder")
	}
	if index == "" {
		index = "default"
	}
	return &MemorySearcher{store: store, index: index, embedder: embedder}, nil
}

// SearchWithScore 实现 Searcher
func (m *MemorySearcher) SearchWithScore(ctx context.Context, query string, k int) ([]Hit, error) {
	if k <= 0 {
		return nil, nil
	}
	vecs, err := m.embedder.EmbedStrings(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("searcher embedding: %w", err)
	}
	if len(vecs) == 0 {
		return nil, fmt.Errorf("embedding returned empty")
	}
	matches, err := m.store.Search(ctx, m.index, vecs[0], SearchOptions{TopK: k, MinScore: -1})
	if errors.Is(err, ErrNotFound) {
		// 索引尚未写入任何切片
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("vector store search: %w", err)
	}
	hits := make([]Hit, 0, len(matches))
	for _, r := range matches {
		h := hitFromMetadata(r.ID, r.Metadata)
		h.Score = r.Score
		hits = append(hits, h)
	}
	return hits, nil
}

// Lookup 实现 Searcher；向量 ID 即 chunk_id
func (m *MemorySearcher) Lookup(ctx context.Context, chunkID string) (*Hit, error) {
	e, err := m.store.Get(ctx, m.index, chunkID)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("vector store get: %w", err)
	}
	h := hitFromMetadata(e.ID, e.Metadata)
	return &h, nil
}

// AddChunk 写入一个切片
func (m *MemorySearcher) AddChunk(ctx context.Context, chunkID, source string, chunkIndex int, content string) error {
	return m.AddChunks(ctx, []Chunk{{ID: chunkID, Source: source, ChunkIndex: chunkIndex, Content: content}})
}

// AddChunks 批量向量化并写入；首次写入时按向量维度建索引
func (m *MemorySearcher) AddChunks(ctx context.Context, chunks []Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}
	vecs, err := m.embedder.EmbedStrings(ctx, texts)
	if err != nil {
		return fmt.Errorf("chunk embedding: %w", err)
	}
	if len(vecs) != len(chunks) {
		return fmt.Errorf("embedding returned %d vectors for %d chunks", len(vecs), len(chunks))
	}
	if err := EnsureIndex(ctx, m.store, m.index, len(vecs[0]), DistanceCosine); err != nil {
		return err
	}
	entries := make([]Entry, len(chunks))
	for i, c := range chunks {
		entries[i] = Entry{
			ID:     c.ID,
			Values: vecs[i],
			Metadata: map[string]string{
				FieldContent:    c.Content,
				FieldSource:     c.Source,
				FieldChunkIndex: strconv.Itoa(c.ChunkIndex),
				FieldChunkID:    c.ID,
			},
		}
	}
	return m.store.Add(ctx, m.index, entries)
}

func hitFromMetadata(id string, meta map[string]string) Hit {
	h := Hit{ChunkID: id}
	if meta == nil {
		return h
	}
	h.Content = meta[FieldContent]
	h.Source = meta[FieldSource]
	if cid := meta[FieldChunkID]; cid != "" {
		h.ChunkID = cid
	}
	if idx, err := strconv.Atoi(meta[FieldChunkIndex]); err == nil {
		h.ChunkIndex = idx
	}
	return h
}
