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

package query

import (
	"context"
	"fmt"
	"sort"
	"time"

	"grounded-rag/internal/model/rerank"
	"grounded-rag/internal/pipeline/common"
	"grounded-rag/internal/storage/graph"
	"grounded-rag/internal/storage/vector"
	"grounded-rag/pkg/config"
	"grounded-rag/pkg/log"
	"grounded-rag/pkg/tracing"
)

// Retriever 相似度检索 + 图邻居扩展 + 条件重排 + 合并去重
type Retriever struct {
	name            string
	searcher        vector.Searcher
	graph           graph.Store     // nil 表示未启用
	reranker        rerank.Reranker // nil 表示未配置
	rerankCfg       config.RerankerConfig
	marginThreshold float64
	maxEvidence     int
	sink            log.EventSink
	logger          *log.Logger
}

// NewRetriever 创建检索器；graphStore 与 reranker 可为 nil
func NewRetriever(searcher vector.Searcher, graphStore graph.Store, reranker rerank.Reranker, cfg *config.Config, sink log.EventSink, logger *log.Logger) *Retriever {
	maxEvidence := cfg.Retrieval.MaxEvidence
	if maxEvidence <= 0 {
		maxEvidence = common.MaxEvidence
	}
	return &Retriever{
		name:            "retriever",
		searcher:        searcher,
		graph:           graphStore,
		reranker:        reranker,
		rerankCfg:       cfg.Reranker,
		marginThreshold: cfg.Router.MarginThreshold,
		maxEvidence:     maxEvidence,
		sink:            orNop(sink),
		logger:          orNopLogger(logger),
	}
}

// Name 返回组件名称
func (r *Retriever) Name() string {
	return r.name
}

// Retrieve 执行检索；只有主检索失败会返回错误，图扩展与重排失败仅记录日志
func (r *Retriever) Retrieve(ctx context.Context, q common.Question, d common.RoutingDecision, meta common.RequestMeta) ([]common.EvidenceItem, error) {
	ctx, span := tracing.StartStageSpan(ctx, common.StageRetrieval, meta.TraceID)
	defer span.End()
	started := time.Now()

	hits, err := r.searcher.SearchWithScore(ctx, q.Text, d.K)
	if err != nil {
		return nil, common.NewPipelineError(common.StageRetrieval, "主检索失败",
			fmt.Errorf("%w: %w", common.ErrRetrievalFailed, err))
	}
	retrieveMs := time.Since(started).Milliseconds()
	primary := evidenceFromHits(hits)

	var extra []common.EvidenceItem
	var graphMs int64
	if d.UseGraph && r.graph != nil {
		t := time.Now()
		extra = r.expandNeighbors(ctx, primary, meta)
		graphMs = time.Since(t).Milliseconds()
	}

	var rerankMs int64
	rerankerName := ""
	if r.shouldRerank(hits) {
		t := time.Now()
		if reranked, err := r.rerank(ctx, q.Text, primary); err != nil {
			r.logger.Warn("重排失败，保留原始排序", "trace_id", meta.TraceID, "error", err)
		} else {
			primary = reranked
			rerankerName = r.reranker.Name()
		}
		rerankMs = time.Since(t).Milliseconds()
	}

	merged := common.MergeEvidence(r.maxEvidence, primary, extra)

	observeStage(common.StageRetrieval, started)
	emitStage(r.sink, common.StageRetrieval, meta, log.Fields{
		"k":          d.K,
		"use_graph":  d.UseGraph,
		"latency_ms": map[string]int64{"retrieve": retrieveMs, "graph": graphMs, "rerank": rerankMs},
		"reranker":   rerankerName,
		"selected":   selectedFields(merged),
	})
	return merged, nil
}

// expandNeighbors 取每个主结果的 1 跳邻居并按 chunk_id 精确查找内容
func (r *Retriever) expandNeighbors(ctx context.Context, primary []common.EvidenceItem, meta common.RequestMeta) []common.EvidenceItem {
	seen := make(map[string]struct{})
	var ids []string
	for _, item := range primary {
		if item.ChunkID == "" {
			continue
		}
		neighbors, err := r.graph.Neighbors(ctx, item.ChunkID)
		if err != nil {
			r.logger.Warn("图扩展失败，跳过", "trace_id", meta.TraceID, "chunk_id", item.ChunkID, "error", err)
			break
		}
		for _, id := range neighbors {
			if _, ok := seen[id]; ok || id == "" {
				continue
			}
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}

	out := make([]common.EvidenceItem, 0, len(ids))
	for _, id := range ids {
		hit, err := r.searcher.Lookup(ctx, id)
		if err != nil {
			r.logger.Debug("邻居查找失败", "trace_id", meta.TraceID, "chunk_id", id, "error", err)
			continue
		}
		if hit == nil {
			continue
		}
		out = append(out, common.EvidenceItem{
			Content:    hit.Content,
			Source:     hit.Source,
			ChunkIndex: hit.ChunkIndex,
			ChunkID:    hit.ChunkID,
		})
	}
	return out
}

// shouldRerank 已配置 reranker 且主检索置信度、top 或 margin 低于重排阈值
func (r *Retriever) shouldRerank(hits []vector.Hit) bool {
	if r.reranker == nil || !r.rerankCfg.EnableByConf {
		return false
	}
	conf, ok := confidenceFromHits(hits, r.marginThreshold, 1, 1)
	if !ok {
		return false
	}
	return conf.Value < r.rerankCfg.ConfThreshold ||
		conf.Top < r.rerankCfg.TopThreshold ||
		conf.Margin < r.rerankCfg.MarginThreshold
}

// rerank 按 reranker 分数降序重排主结果，不丢弃任何条目
func (r *Retriever) rerank(ctx context.Context, query string, items []common.EvidenceItem) ([]common.EvidenceItem, error) {
	texts := make([]string, len(items))
	for i, it := range items {
		texts[i] = it.Content
	}
	scores, err := r.reranker.Score(ctx, query, texts)
	if err != nil {
		return nil, err
	}
	if len(scores) != len(items) {
		return nil, fmt.Errorf("reranker 返回 %d 个分数，期望 %d", len(scores), len(items))
	}
	out := make([]common.EvidenceItem, len(items))
	copy(out, items)
	for i := range out {
		s := scores[i]
		out[i].Score = &s
	}
	sort.SliceStable(out, func(i, j int) bool { return *out[i].Score > *out[j].Score })
	return out, nil
}

func evidenceFromHits(hits []vector.Hit) []common.EvidenceItem {
	out := make([]common.EvidenceItem, 0, len(hits))
	for i, h := range hits {
		score := h.Score
		out = append(out, common.EvidenceItem{
			Content:    h.Content,
			Source:     h.Source,
			ChunkIndex: h.ChunkIndex,
			ChunkID:    h.ChunkID,
			Score:      &score,
			Rank:       i + 1,
		})
	}
	return out
}

func selectedFields(items []common.EvidenceItem) []map[string]any {
	out := make([]map[string]any, 0, len(items))
	for _, it := range items {
		out = append(out, map[string]any{
			"doc_id":      it.Source,
			"source":      it.Source,
			"chunk_index": it.ChunkIndex,
			"chunk_id":    it.ChunkID,
			"score":       it.Score,
			"rank":        it.Rank,
		})
	}
	return out
}
