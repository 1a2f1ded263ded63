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
	"fmt"
	"strconv"
	"strings"

	redisretriever "github.com/cloudwego/eino-ext/components/retriever/redis"
	einoembed "github.com/cloudwego/eino/components/embedding"
	einoretriever "github.com/cloudwego/eino/components/retriever"
	"github.com/cloudwego/eino/schema"
	"github.com/redis/go-redis/v9"

	"grounded-rag/pkg/config"
)

const defaultRedisTopK = 10

// RedisSearcher 基于 eino-ext Redis retriever（RediSearch 向量索引）的检索实现；
// 切片以 hash 形式存放在 <collection><chunk_id>，精确查找直接 HGETALL。
type RedisSearcher struct {
	client    *redis.Client
	retriever einoretriever.Retriever
	keyPrefix string
}

// RedisOptionsFromVectorConfig 由 VectorConfig 构造 go-redis 连接参数
func RedisOptionsFromVectorConfig(cfg config.VectorConfig) *redis.Options {
	addr := cfg.Addr
	if addr == "" {
		addr = "localhost:6379"
	}
	return &redis.Options{Addr: addr, Password: cfg.Password, DB: cfg.DB}
}

// NewRedisSearcher 连接 Redis 并创建 eino-ext retriever
func NewRedisSearcher(ctx context.Context, cfg config.VectorConfig, embedder einoembed.Embedder) (*RedisSearcher, error) {
	client := redis.NewClient(RedisOptionsFromVectorConfig(cfg))
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	collection := cfg.Collection
	if collection == "" {
		collection = "default"
	}
	ret, err := redisretriever.NewRetriever(ctx, &redisretriever.RetrieverConfig{
		Client:       client,
		Index:        collection,
		TopK:         defaultRedisTopK,
		ReturnFields: []string{FieldContent, FieldSource, FieldChunkIndex, FieldChunkID, "distance"},
		Embedding:    embedder,
	})
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis retriever: %w", err)
	}
	return &RedisSearcher{client: client, retriever: ret, keyPrefix: collection}, nil
}

// SearchWithScore 实现 Searcher
func (r *RedisSearcher) SearchWithScore(ctx context.Context, query string, k int) ([]Hit, error) {
	if k <= 0 {
		return nil, nil
	}
	docs, err := r.retriever.Retrieve(ctx, query, einoretriever.WithTopK(k))
	if err != nil {
		return nil, fmt.Errorf("redis retrieve: %w", err)
	}
	hits := make([]Hit, 0, len(docs))
	for _, d := range docs {
		hits = append(hits, r.hitFromDocument(d))
	}
	return hits, nil
}

// Lookup 实现 Searcher
func (r *RedisSearcher) Lookup(ctx context.Context, chunkID string) (*Hit, error) {
	fields, err := r.client.HGetAll(ctx, r.keyPrefix+chunkID).Result()
	if err != nil {
		return nil, fmt.Errorf("redis hgetall: %w", err)
	}
	if len(fields) == 0 {
		return nil, nil
	}
	h := hitFromMetadata(chunkID, fields)
	return &h, nil
}

// Close 关闭 Redis 连接
func (r *RedisSearcher) Close() error {
	return r.client.Close()
}

func (r *RedisSearcher) hitFromDocument(d *schema.Document) Hit {
	meta := make(map[string]string, len(d.MetaData))
	for k, v := range d.MetaData {
		meta[k] = fmt.Sprint(v)
	}
	h := hitFromMetadata(strings.TrimPrefix(d.ID, r.keyPrefix), meta)
	h.Content = d.Content
	if h.Content == "" {
		h.Content = meta[FieldContent]
	}
	h.Score = d.Score()
	// RediSearch 返回余弦距离时换算为相似度
	if dist, err := strconv.ParseFloat(meta["distance"], 64); err == nil && h.Score == 0 {
		h.Score = 1 - dist
	}
	return h
}
