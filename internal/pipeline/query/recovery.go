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
	"strings"
	"time"

	"grounded-rag/internal/pipeline/common"
	"grounded-rag/internal/storage/vector"
	"grounded-rag/pkg/config"
	"grounded-rag/pkg/log"
	"grounded-rag/pkg/metrics"
	"grounded-rag/pkg/tracing"
)

// DegradedMessage 恢复失败时返回的固定回答
const DegradedMessage = "I couldn't find grounded evidence for exact commands in the current context. " +
	"Here are high-level steps you can follow. If you want, I can expand the search to related notes."

// 恢复结果
const (
	OutcomeRecovered = "recovered"
	OutcomeDegraded  = "degraded"
	OutcomeAborted   = "aborted"
)

const recoveryAction = "expand_k+query_rewrite"

// Outcome 恢复阶段结果
type Outcome struct {
	Answer    string
	Recovered bool
	Status    string
}

// Recovery 策略门失败后的单次扩大检索重试
type Recovery struct {
	name      string
	searcher  vector.Searcher
	generator *Generator
	verifier  *Verifier
	synonyms  []string
	kLow      int
	sink      log.EventSink
	logger    *log.Logger
}

// NewRecovery 创建恢复控制器
func NewRecovery(searcher vector.Searcher, generator *Generator, verifier *Verifier, cfg *config.Config, sink log.EventSink, logger *log.Logger) *Recovery {
	return &Recovery{
		name:      "recovery",
		searcher:  searcher,
		generator: generator,
		verifier:  verifier,
		synonyms:  cfg.Recovery.Synonyms,
		kLow:      cfg.Retrieval.KLow,
		sink:      orNop(sink),
		logger:    orNopLogger(logger),
	}
}

// Name 返回组件名称
func (r *Recovery) Name() string {
	return r.name
}

// Recover 只尝试一次：扩展查询、扩大 k、合并证据、重新生成并校验。
// 任何错误都被吞掉并降级为固定回答。
func (r *Recovery) Recover(ctx context.Context, q common.Question, d common.RoutingDecision, evidence []common.EvidenceItem, history []common.Turn, meta common.RequestMeta) Outcome {
	ctx, span := tracing.StartStageSpan(ctx, common.StageRecovery, meta.TraceID)
	defer span.End()
	started := time.Now()

	k := max(r.kLow, d.K*2)
	fields := log.Fields{"attempts": 1, "action": recoveryAction, "k": k}
	finish := func(out Outcome, err error) Outcome {
		fields["outcome"] = out.Status
		fields["latency_ms"] = observeStage(common.StageRecovery, started)
		if err != nil {
			fields["error"] = err.Error()
			r.logger.Warn("恢复阶段中止", "trace_id", meta.TraceID, "error", err)
		}
		metrics.RecoveryTotal.WithLabelValues(out.Status).Inc()
		emitStage(r.sink, common.StageRecovery, meta, fields)
		return out
	}
	degraded := Outcome{Answer: DegradedMessage, Status: OutcomeDegraded}
	aborted := Outcome{Answer: DegradedMessage, Status: OutcomeAborted}

	hits, err := r.searcher.SearchWithScore(ctx, AugmentQuery(q.Text, r.synonyms), k)
	if err != nil {
		return finish(aborted, err)
	}
	merged := common.MergeEvidence(0, evidence, evidenceFromHits(hits))
	fields["evidence"] = len(merged)

	ans, err := r.generator.Generate(ctx, q, merged, history, meta)
	if err != nil {
		return finish(aborted, err)
	}
	ver, err := r.verifier.Verify(ctx, q, ans.Text, merged, meta)
	if err != nil {
		return finish(aborted, err)
	}
	if !ver.PassesPolicy {
		return finish(degraded, nil)
	}
	return finish(Outcome{Answer: ans.Text, Recovered: true, Status: OutcomeRecovered}, nil)
}

// AugmentQuery 在原问题后追加同义词，以 " | " 分隔；没有同义词时原样返回
func AugmentQuery(question string, synonyms []string) string {
	if len(synonyms) == 0 {
		return question
	}
	return question + " | " + strings.Join(synonyms, " | ")
}
