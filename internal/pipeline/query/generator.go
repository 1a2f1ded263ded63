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

	"grounded-rag/internal/model/llm"
	"grounded-rag/internal/pipeline/common"
	"grounded-rag/pkg/config"
	"grounded-rag/pkg/log"
	"grounded-rag/pkg/tracing"
)

// Answer 生成结果
type Answer struct {
	Text             string
	HistoryTurnsUsed int
}

// Generator 按领域选提示词、按意图选生成参数，单次调用 LLM
type Generator struct {
	name    string
	client  llm.Client
	answer  config.AnswerConfig
	prompt  config.PromptConfig
	history config.HistoryConfig
	sink    log.EventSink
	logger  *log.Logger
}

// NewGenerator 创建生成器
func NewGenerator(client llm.Client, cfg *config.Config, sink log.EventSink, logger *log.Logger) *Generator {
	return &Generator{
		name:    "generator",
		client:  client,
		answer:  cfg.Answer,
		prompt:  cfg.Prompt,
		history: cfg.History,
		sink:    orNop(sink),
		logger:  orNopLogger(logger),
	}
}

// Name 返回组件名称
func (g *Generator) Name() string {
	return g.name
}

// Generate 生成回答；LLM 失败直接返回错误，不重试
func (g *Generator) Generate(ctx context.Context, q common.Question, evidence []common.EvidenceItem, history []common.Turn, meta common.RequestMeta) (Answer, error) {
	ctx, span := tracing.StartStageSpan(ctx, common.StageAnswer, meta.TraceID)
	defer span.End()
	started := time.Now()

	turns := g.historyWindow(history)
	opts := g.options(q.Intent)
	messages := []llm.Message{
		llm.SystemMessage(g.systemPrompt(q.Domain)),
		llm.UserMessage(buildAnswerPrompt(q.Text, turns, evidence)),
	}

	text, err := g.client.ChatWithContext(ctx, messages, opts)
	latency := observeStage(common.StageAnswer, started)
	if err != nil {
		return Answer{}, common.NewPipelineError(common.StageAnswer, "生成回答失败",
			fmt.Errorf("%w: %w", common.ErrGenerationFailed, err))
	}

	emitStage(g.sink, common.StageAnswer, meta, log.Fields{
		"latency_ms": latency,
		"gen": map[string]any{
			"max_tokens":  opts.MaxTokens,
			"temperature": opts.Temperature,
			"stop":        opts.Stop,
		},
		"evidence":           len(evidence),
		"history_turns_used": len(turns),
	})
	return Answer{Text: text, HistoryTurnsUsed: len(turns)}, nil
}

// systemPrompt 按领域选择，缺省回退 default，再附加后缀
func (g *Generator) systemPrompt(domain string) string {
	system := g.prompt.SystemByDomain[domain]
	if system == "" {
		system = g.prompt.SystemByDomain[common.DefaultDomain]
	}
	if system == "" {
		system = g.prompt.SystemGeneric
	}
	if suffix := strings.TrimSpace(g.answer.PromptSuffix); suffix != "" {
		system += "\n\n" + suffix
	}
	return system
}

func (g *Generator) options(intent common.Intent) llm.GenerateOptions {
	opts := llm.GenerateOptions{
		Temperature: g.answer.TemperatureTask,
		MaxTokens:   g.answer.MaxTokensTask,
		Stop:        g.answer.StopSequences,
	}
	if intent == common.IntentChitchat {
		opts.Temperature = g.answer.TemperatureChitchat
		opts.MaxTokens = g.answer.MaxTokensChitchat
	}
	return opts
}

// historyWindow 最近 N 轮；未启用或 N 为 0 时不注入
func (g *Generator) historyWindow(history []common.Turn) []common.Turn {
	if !g.history.Enabled || g.history.Turns <= 0 || len(history) == 0 {
		return nil
	}
	if len(history) > g.history.Turns {
		return history[len(history)-g.history.Turns:]
	}
	return history
}

func buildAnswerPrompt(question string, history []common.Turn, evidence []common.EvidenceItem) string {
	var b strings.Builder
	b.WriteString("Question:\n")
	b.WriteString(question)
	if len(history) > 0 {
		b.WriteString("\n\nConversation:\n")
		b.WriteString(renderHistory(history))
	}
	b.WriteString("\n\nContext:\n")
	b.WriteString(common.RenderEvidence(evidence))
	return b.String()
}

func renderHistory(turns []common.Turn) string {
	lines := make([]string, 0, len(turns))
	for _, t := range turns {
		speaker := "User"
		if t.Role == common.RoleAssistant {
			speaker = "Assistant"
		}
		lines = append(lines, speaker+": "+strings.TrimSpace(t.Text))
	}
	return strings.Join(lines, "\n")
}
