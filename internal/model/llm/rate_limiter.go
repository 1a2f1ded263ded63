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
	"fmt"

	"golang.org/x/time/rate"
)

// Limits 生成后端的限额；各项为 0 表示不限
type Limits struct {
	RequestsPerMinute float64
	TokensPerMinute   int
	MaxConcurrent     int
}

// Enabled 是否配置了任一限额
func (l Limits) Enabled() bool {
	return l.RequestsPerMinute > 0 || l.TokensPerMinute > 0 || l.MaxConcurrent > 0
}

// Limiter 请求速率、token 预算与并发上限三道闸；突发额度为两秒的配额
type Limiter struct {
	requests *rate.Limiter
	tokens   *rate.Limiter
	slots    chan struct{}
}

// NewLimiter 按限额创建限流器
func NewLimiter(l Limits) *Limiter {
	lim := &Limiter{}
	if l.RequestsPerMinute > 0 {
		perSec := l.RequestsPerMinute / 60
		lim.requests = rate.NewLimiter(rate.Limit(perSec), max(1, int(perSec*2)))
	}
	if l.TokensPerMinute > 0 {
		perSec := float64(l.TokensPerMinute) / 60
		lim.tokens = rate.NewLimiter(rate.Limit(perSec), max(1, int(perSec*2)))
	}
	if l.MaxConcurrent > 0 {
		lim.slots = make(chan struct{}, l.MaxConcurrent)
	}
	return lim
}

// Acquire 阻塞到三道闸都放行；成功时返回的 release 必须调用一次。
// 预估 token 超过突发额度时按突发额度扣减，避免永远等不到。
func (l *Limiter) Acquire(ctx context.Context, estimatedTokens int) (release func(), err error) {
	if l.requests != nil {
		if err := l.requests.Wait(ctx); err != nil {
			return nil, fmt.Errorf("request rate limit: %w", err)
		}
	}
	if l.tokens != nil && estimatedTokens > 0 {
		if err := l.tokens.WaitN(ctx, min(estimatedTokens, l.tokens.Burst())); err != nil {
			return nil, fmt.Errorf("token budget: %w", err)
		}
	}
	if l.slots == nil {
		return func() {}, nil
	}
	select {
	case l.slots <- struct{}{}:
		return func() { <-l.slots }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// InFlight 当前占用的并发槽位数
func (l *Limiter) InFlight() int {
	return len(l.slots)
}
