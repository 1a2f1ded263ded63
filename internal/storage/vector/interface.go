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
)

// ErrNotFound 索引或切片不存在
var ErrNotFound = errors.New("vector: not found")

// 切片元数据字段名（memory 与 redis 后端一致）
const (
	FieldContent    = "content"
	FieldSource     = "source"
	FieldChunkIndex = "chunk_index"
	FieldChunkID    = "chunk_id"
)

// Hit 一条带分数的检索结果
type Hit struct {
	ChunkID    string
	Source     string
	ChunkIndex int
	Content    string
	Score      float64
}

// Searcher 相似度检索契约：按分数降序返回，保留存储给出的排名
type Searcher interface {
	// SearchWithScore 相似度检索 top-k
	SearchWithScore(ctx context.Context, query string, k int) ([]Hit, error)
	// Lookup 按 chunk_id 精确查找；不存在返回 nil, nil
	Lookup(ctx context.Context, chunkID string) (*Hit, error)
}

// Store 切片向量索引，MemorySearcher 的底层存储
type Store interface {
	Create(ctx context.Context, index Index) error
	Add(ctx context.Context, indexName string, entries []Entry) error
	Search(ctx context.Context, indexName string, query []float64, opts SearchOptions) ([]Match, error)
	// Get 精确读取；不存在返回 ErrNotFound
	Get(ctx context.Context, indexName, id string) (*Entry, error)
	ListIndexes(ctx context.Context) ([]string, error)
}

// Index 索引定义；Distance 为 cosine 或 euclidean
type Index struct {
	Name      string
	Dimension int
	Distance  string
}

// Entry 一个切片向量及其元数据
type Entry struct {
	ID       string
	Values   []float64
	Metadata map[string]string
}

// SearchOptions TopK <= 0 时取 10；低于 MinScore 的结果丢弃
type SearchOptions struct {
	TopK     int
	MinScore float64
	Filter   map[string]string
}

// Match 一条索引命中
type Match struct {
	ID       string
	Score    float64
	Metadata map[string]string
}
