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
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"grounded-rag/internal/model/llm"
	"grounded-rag/internal/model/rerank"
	"grounded-rag/internal/pipeline/common"
	"grounded-rag/internal/storage/graph"
	"grounded-rag/internal/storage/vector"
	"grounded-rag/pkg/config"
	"grounded-rag/pkg/log"
	"grounded-rag/pkg/metrics"
	"grounded-rag/pkg/tracing"
)

// SafeMessage 不检索路径上回答被判为无依据时返回
const SafeMessage = "I don't have sufficient grounded context to provide exact commands. " +
	"Would you like me to expand the search or outline high-level steps?"

// DefaultConvID 未指定会话时使用
const DefaultConvID = "default"

// Memory Pipeline 所需的对话记忆能力；实现必须 best-effort，不返回错误
type Memory interface {
	EnsureBackfill(ctx context.Context, convID string)
	GetBuffer(ctx context.Context, convID string) []common.Turn
	AppendTurn(ctx context.Context, convID string, role common.Role, text string, meta map[string]any) common.Turn
}

// Response 单次问答结果
type Response struct {
	Answer           string `json:"answer"`
	ConvID           string `json:"conv_id"`
	HistoryTurnsUsed int    `json:"history_turns_used"`
}

// Dependencies 构造 Pipeline 的协作者；Graph、Reranker、Memory、Sink、Logger 可为空
type Dependencies struct {
	Config       *config.Config
	Searcher     vector.Searcher
	LLM          llm.Client
	Graph        graph.Store
	Reranker     rerank.Reranker
	Memory       Memory
	Sink         log.EventSink
	Logger       *log.Logger
	ModelVersion common.ModelVersion
}

// Pipeline 每个请求顺序执行：路由、检索、生成、校验、恢复
type Pipeline struct {
	classifier   *Classifier
	router       *Router
	retriever    *Retriever
	generator    *Generator
	verifier     *Verifier
	recovery     *Recovery
	memory       Memory
	sink         log.EventSink
	logger       *log.Logger
	indexVersion string
	modelVersion common.ModelVersion
	minCoverage  float64
	newTraceID   func() string
}

// NewPipeline 组装 Pipeline；Searcher 与 LLM 必填
func NewPipeline(deps Dependencies) (*Pipeline, error) {
	if deps.Config == nil {
		return nil, common.NewValidationError("config", "不能为空")
	}
	if deps.Searcher == nil {
		return nil, common.NewValidationError("searcher", "不能为空")
	}
	if deps.LLM == nil {
		return nil, common.NewValidationError("llm", "不能为空")
	}
	cfg := deps.Config
	sink := orNop(deps.Sink)
	logger := orNopLogger(deps.Logger)

	generator := NewGenerator(deps.LLM, cfg, sink, logger)
	verifier := NewVerifier(deps.LLM, cfg, sink, logger)
	return &Pipeline{
		classifier:   NewClassifier(cfg.Router),
		router:       NewRouter(deps.Searcher, cfg, sink, logger),
		retriever:    NewRetriever(deps.Searcher, deps.Graph, deps.Reranker, cfg, sink, logger),
		generator:    generator,
		verifier:     verifier,
		recovery:     NewRecovery(deps.Searcher, generator, verifier, cfg, sink, logger),
		memory:       deps.Memory,
		sink:         sink,
		logger:       logger,
		indexVersion: cfg.RAG.IndexVersion,
		modelVersion: deps.ModelVersion,
		minCoverage:  cfg.Policy.CitationMinCoverage,
		newTraceID:   func() string { return uuid.New().String() },
	}, nil
}

// Invoke 回答一个问题；只有生成或主检索失败时返回错误
func (p *Pipeline) Invoke(ctx context.Context, question, convID string) (Response, error) {
	if strings.TrimSpace(question) == "" {
		return Response{}, fmt.Errorf("%w: %w", common.ErrInvalidInput, common.NewValidationError("question", "不能为空"))
	}
	if convID = strings.TrimSpace(convID); convID == "" {
		convID = DefaultConvID
	}

	q := p.classifier.Classify(question)
	meta := p.requestMeta(q)
	ctx, span := tracing.StartRequestSpan(ctx, meta.TraceID, convID)
	defer span.End()

	var history []common.Turn
	if p.memory != nil {
		p.memory.EnsureBackfill(ctx, convID)
		history = p.memory.GetBuffer(ctx, convID)
		p.memory.AppendTurn(ctx, convID, common.RoleUser, question, map[string]any{"trace_id": meta.TraceID})
	}

	decision := p.router.Decide(ctx, q, meta)

	var (
		answer Answer
		final  string
		passed bool
		err    error
	)
	if !decision.NeedRetrieval {
		answer, final, passed, err = p.answerWithoutEvidence(ctx, q, history, meta)
	} else {
		answer, final, passed, err = p.answerWithEvidence(ctx, q, decision, history, meta)
	}
	if err != nil {
		p.logger.Error("pipeline 执行失败", "trace_id", meta.TraceID, "error", err)
		return Response{}, err
	}

	if p.memory != nil {
		p.memory.AppendTurn(ctx, convID, common.RoleAssistant, final, map[string]any{
			"trace_id": meta.TraceID,
			"passed":   passed,
		})
	}
	return Response{Answer: final, ConvID: convID, HistoryTurnsUsed: answer.HistoryTurnsUsed}, nil
}

// answerWithoutEvidence 不检索：无证据作答，校验明确判为无依据时换成安全提示
func (p *Pipeline) answerWithoutEvidence(ctx context.Context, q common.Question, history []common.Turn, meta common.RequestMeta) (Answer, string, bool, error) {
	ans, err := p.generator.Generate(ctx, q, nil, history, meta)
	if err != nil {
		return Answer{}, "", false, err
	}
	ver, err := p.verifier.Verify(ctx, q, ans.Text, nil, meta)
	if err != nil {
		return Answer{}, "", false, err
	}
	passed := !ver.IsUngrounded()
	emitStage(p.sink, "citation_gate", meta, log.Fields{"required": true, "passed": passed})
	if !passed {
		return ans, SafeMessage, false, nil
	}
	return ans, ans.Text, true, nil
}

// answerWithEvidence 检索、生成、校验；策略门失败时执行一次恢复
func (p *Pipeline) answerWithEvidence(ctx context.Context, q common.Question, d common.RoutingDecision, history []common.Turn, meta common.RequestMeta) (Answer, string, bool, error) {
	evidence, err := p.retriever.Retrieve(ctx, q, d, meta)
	if err != nil {
		return Answer{}, "", false, err
	}
	ans, err := p.generator.Generate(ctx, q, evidence, history, meta)
	if err != nil {
		return Answer{}, "", false, err
	}
	ver, err := p.verifier.Verify(ctx, q, ans.Text, evidence, meta)
	if err != nil {
		return Answer{}, "", false, err
	}

	final, passed, recovered := ans.Text, true, false
	if !ver.PassesPolicy {
		out := p.recovery.Recover(ctx, q, d, evidence, history, meta)
		final, passed, recovered = out.Answer, out.Recovered, out.Recovered
	}
	metrics.PolicyTotal.WithLabelValues(strconv.FormatBool(passed)).Inc()
	emitStage(p.sink, common.StagePolicy, meta, log.Fields{
		"citation_gate": map[string]any{"required": true, "min_coverage": p.minCoverage},
		"passed":        passed,
		"recovered":     recovered,
	})
	return ans, final, passed, nil
}

func (p *Pipeline) requestMeta(q common.Question) common.RequestMeta {
	sum := sha1.Sum([]byte(q.Text))
	return common.RequestMeta{
		TraceID:      p.newTraceID(),
		QuestionHash: hex.EncodeToString(sum[:]),
		Question:     q,
		IndexVersion: p.indexVersion,
		ModelVersion: p.modelVersion,
		StartedAt:    time.Now(),
	}
}
