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
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"grounded-rag/internal/model/llm"
	"grounded-rag/internal/pipeline/common"
	"grounded-rag/pkg/config"
	"grounded-rag/pkg/log"
	"grounded-rag/pkg/tracing"
)

// maxReasonRunes 无法解析时保留的原始输出长度
const maxReasonRunes = 500

// Verifier 让 LLM 对照证据检查回答，计算覆盖率与多样性并执行策略门
type Verifier struct {
	name        string
	client      llm.Client
	prompt      config.PromptConfig
	minCoverage float64
	sink        log.EventSink
	logger      *log.Logger
}

// NewVerifier 创建校验器
func NewVerifier(client llm.Client, cfg *config.Config, sink log.EventSink, logger *log.Logger) *Verifier {
	return &Verifier{
		name:        "verifier",
		client:      client,
		prompt:      cfg.Prompt,
		minCoverage: cfg.Policy.CitationMinCoverage,
		sink:        orNop(sink),
		logger:      orNopLogger(logger),
	}
}

// Name 返回组件名称
func (v *Verifier) Name() string {
	return v.name
}

// Verify 校验回答；输出格式错误不报错，只有 LLM 调用失败才返回错误
func (v *Verifier) Verify(ctx context.Context, q common.Question, answer string, evidence []common.EvidenceItem, meta common.RequestMeta) (common.VerificationResult, error) {
	ctx, span := tracing.StartStageSpan(ctx, common.StageVerify, meta.TraceID)
	defer span.End()
	started := time.Now()

	human := strings.NewReplacer(
		"{question}", q.Text,
		"{answer}", answer,
		"{context}", common.RenderEvidence(evidence),
	).Replace(v.prompt.VerifyHuman)
	raw, err := v.client.ChatWithContext(ctx, []llm.Message{
		llm.SystemMessage(v.prompt.VerifySystem),
		llm.UserMessage(human),
	}, llm.GenerateOptions{Temperature: 0})
	latency := observeStage(common.StageVerify, started)
	if err != nil {
		return common.VerificationResult{}, common.NewPipelineError(common.StageVerify, "校验调用失败",
			fmt.Errorf("%w: %w", common.ErrVerificationFailed, err))
	}

	res := ApplyPolicy(ParseVerification(raw), v.minCoverage)
	if res.Grounded == nil {
		v.logger.Debug("校验输出无法解析", "trace_id", meta.TraceID)
	}
	emitStage(v.sink, common.StageVerify, meta, log.Fields{
		"latency_ms":           latency,
		"grounded":             res.Grounded,
		"reason":               res.Reason,
		"claims_total":         res.ClaimsTotal,
		"claims_supported":     res.ClaimsSupported,
		"citations":            res.Citations,
		"attribution_coverage": res.AttributionCoverage,
		"evidence_diversity":   res.EvidenceDiversity,
		"passes_policy":        res.PassesPolicy,
	})
	return res, nil
}

// ParseVerification 宽松解析校验输出：取文本中第一个完整的 JSON 对象；
// 解析失败时 reason 为截断后的原文，grounded 未知，计数为 0。
func ParseVerification(raw string) common.VerificationResult {
	obj, ok := firstJSONObject(raw)
	if !ok {
		return common.VerificationResult{Reason: truncateRunes(raw, maxReasonRunes), Citations: []common.Citation{}}
	}
	parsed := gjson.Parse(obj)
	grounded := parsed.Get("grounded").Bool()
	res := common.VerificationResult{
		Grounded:        &grounded,
		Reason:          parsed.Get("reason").String(),
		ClaimsTotal:     nonNegative(parsed.Get("claims_total").Int()),
		ClaimsSupported: nonNegative(parsed.Get("claims_supported").Int()),
		Citations:       []common.Citation{},
	}
	if cites := parsed.Get("citations"); cites.IsArray() {
		cites.ForEach(func(_, c gjson.Result) bool {
			if c.IsObject() {
				res.Citations = append(res.Citations, common.Citation{
					ClaimID: c.Get("claim_id").String(),
					Source:  c.Get("source").String(),
					Rank:    int(c.Get("rank").Int()),
				})
			}
			return true
		})
	}
	return res
}

// ApplyPolicy 计算覆盖率、来源多样性与策略门
func ApplyPolicy(res common.VerificationResult, minCoverage float64) common.VerificationResult {
	res.AttributionCoverage = 0
	if res.ClaimsTotal > 0 {
		res.AttributionCoverage = float64(res.ClaimsSupported) / float64(res.ClaimsTotal)
	}
	sources := make(map[string]struct{}, len(res.Citations))
	for _, c := range res.Citations {
		if c.Source != "" {
			sources[c.Source] = struct{}{}
		}
	}
	res.EvidenceDiversity = len(sources)
	res.PassesPolicy = res.IsGrounded() && res.AttributionCoverage >= minCoverage
	return res
}

// firstJSONObject 找出第一个括号平衡且合法的 {...}，跳过字符串内的括号
func firstJSONObject(s string) (string, bool) {
	for start := strings.IndexByte(s, '{'); start >= 0; {
		if end := matchBrace(s, start); end > 0 {
			candidate := s[start : end+1]
			if gjson.Valid(candidate) {
				return candidate, true
			}
		}
		next := strings.IndexByte(s[start+1:], '{')
		if next < 0 {
			break
		}
		start += next + 1
	}
	return "", false
}

func matchBrace(s string, start int) int {
	depth := 0
	inString, escaped := false, false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func nonNegative(v int64) int {
	if v < 0 {
		return 0
	}
	return int(v)
}
