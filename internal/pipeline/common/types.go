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

package common

import (
	"strconv"
	"time"
)

// Intent 问题意图
type Intent string

const (
	IntentChitchat Intent = "chitchat"
	IntentTask     Intent = "task"
)

// DefaultDomain 未命中任何领域关键词时使用
const DefaultDomain = "default"

// Question 请求内只计算一次的问题及其派生元数据
type Question struct {
	Text   string `json:"text"`
	Lang   string `json:"lang"`
	Length int    `json:"len"`
	Intent Intent `json:"intent"`
	Domain string `json:"domain"`
}

// Bucket 置信度档位
type Bucket string

const (
	BucketHigh   Bucket = "high"
	BucketMedium Bucket = "medium"
	BucketLow    Bucket = "low"
)

// RoutingDecision 路由决策，每个请求由 Router 生成一次
type RoutingDecision struct {
	NeedRetrieval bool     `json:"need"`
	UseGraph      bool     `json:"use_graph"`
	K             int      `json:"k"`
	Confidence    *float64 `json:"retrieval_confidence,omitempty"` // nil 表示探测失败或无结果
	Bucket        Bucket   `json:"retrieval_confidence_bucket,omitempty"`
	Reason        string   `json:"reason"`
	Lang          string   `json:"lang,omitempty"`
}

// EvidenceItem 一条检索证据
type EvidenceItem struct {
	Content    string   `json:"content"`
	Source     string   `json:"source"`
	ChunkIndex int      `json:"chunk_index"`
	ChunkID    string   `json:"chunk_id,omitempty"`
	Score      *float64 `json:"score,omitempty"` // 图扩展得到的证据没有分数
	Rank       int      `json:"rank"`
}

// DedupKey 去重键：优先 chunk_id，缺失时退化为 (source, chunk_index)
func (e EvidenceItem) DedupKey() string {
	if e.ChunkID != "" {
		return "id:" + e.ChunkID
	}
	return "src:" + e.Source + "#" + strconv.Itoa(e.ChunkIndex)
}

// Citation 校验器给出的一条引用
type Citation struct {
	ClaimID string `json:"claim_id"`
	Source  string `json:"source"`
	Rank    int    `json:"rank"`
}

// VerificationResult 一次校验的结果，计算后不再修改
type VerificationResult struct {
	Grounded            *bool      `json:"grounded"` // nil 表示未知（输出无法解析）
	Reason              string     `json:"reason"`
	ClaimsTotal         int        `json:"claims_total"`
	ClaimsSupported     int        `json:"claims_supported"`
	Citations           []Citation `json:"citations"`
	AttributionCoverage float64    `json:"attribution_coverage"`
	EvidenceDiversity   int        `json:"evidence_diversity"`
	PassesPolicy        bool       `json:"passes_policy"`
}

// IsGrounded grounded 明确为 true
func (v VerificationResult) IsGrounded() bool {
	return v.Grounded != nil && *v.Grounded
}

// IsUngrounded grounded 明确为 false（未知不算）
func (v VerificationResult) IsUngrounded() bool {
	return v.Grounded != nil && !*v.Grounded
}

// ModelVersion 请求元数据中的模型版本
type ModelVersion struct {
	Embedder string `json:"embedder"`
	LLM      string `json:"llm"`
	Reranker string `json:"reranker"`
}

// RequestMeta 每个阶段事件共享的请求元数据
type RequestMeta struct {
	TraceID      string       `json:"trace_id"`
	QuestionHash string       `json:"question_hash"`
	Question     Question     `json:"question_meta"`
	IndexVersion string       `json:"index_version"`
	ModelVersion ModelVersion `json:"model_version"`
	StartedAt    time.Time    `json:"-"`
}

// Fields 展开为事件负载
func (m RequestMeta) Fields() map[string]any {
	return map[string]any{
		"trace_id":      m.TraceID,
		"question_hash": m.QuestionHash,
		"question_meta": map[string]any{
			"lang":   m.Question.Lang,
			"len":    m.Question.Length,
			"intent": string(m.Question.Intent),
			"domain": m.Question.Domain,
		},
		"index_version": m.IndexVersion,
		"model_version": map[string]any{
			"embedder": m.ModelVersion.Embedder,
			"llm":      m.ModelVersion.LLM,
			"reranker": m.ModelVersion.Reranker,
		},
	}
}

// Role 对话角色
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn 一条对话记录；Seq 在同一 conv_id 内单调递增
type Turn struct {
	TS     string         `json:"ts"`
	ConvID string         `json:"conv_id"`
	Seq    int64          `json:"seq"`
	Role   Role           `json:"role"`
	Text   string         `json:"text"`
	Meta   map[string]any `json:"meta"`
}
