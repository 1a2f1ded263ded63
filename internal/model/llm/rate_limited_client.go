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

package llm

import (
	"context"
	"strings"
	"time"

	"grounded-rag/pkg/metrics"
)

// slowWait 超过该时长的限流等待计入直方图
const slowWait = 100 * time.Millisecond

// RateLimitedClient 在生成与校验调用前过限流闸，并记录估算的 token 用量
type RateLimitedClient struct {
	inner   Client
	limiter *Limiter
}

// NewRateLimitedClient 包装 inner；limiter 为 nil 时只记 token 指标
func NewRateLimitedClient(inner Client, limiter *Limiter) *RateLimitedClient {
	return &RateLimitedClient{inner: inner, limiter: limiter}
}

// ChatWithContext 实现 Client
func (c *RateLimitedClient) ChatWithContext(ctx context.Context, messages []Message, options GenerateOptions) (string, error) {
	promptTokens := estimateTokens(messagesText(messages), 0)
	if c.limiter != nil {
		start := time.Now()
		release, err := c.limiter.Acquire(ctx, promptTokens+options.MaxTokens)
		if err != nil {
			return "", err
		}
		defer release()
		if waited := time.Since(start); waited > slowWait {
			metrics.RateLimitWaitSeconds.WithLabelValues("llm", c.inner.Provider()).Observe(waited.Seconds())
		}
	}

	result, err := c.inner.ChatWithContext(ctx, messages, options)
	if err != nil {
		return "", err
	}
	metrics.LLMTokensTotal.WithLabelValues("prompt").Add(float64(promptTokens))
	metrics.LLMTokensTotal.WithLabelValues("completion").Add(float64(estimateTokens(result, 0)))
	return result, nil
}

// Model 实现 Client
func (c *RateLimitedClient) Model() string { return c.inner.Model() }

// Provider 实现 Client
func (c *RateLimitedClient) Provider() string { return c.inner.Provider() }

// estimateTokens 按 4 字节约 1 token 粗估，并加上生成上限；至少为 1
func estimateTokens(text string, maxTokens int) int {
	return max(1, len(text)/4+max(0, maxTokens))
}

func messagesText(msgs []Message) string {
	n := 0
	for _, m := range msgs {
		n += len(m.Content)
	}
	var sb strings.Builder
	sb.Grow(n)
	for _, m := range msgs {
		sb.WriteString(m.Content)
	}
	return sb.String()
}
