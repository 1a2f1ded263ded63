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
	"time"
)

// Client LLM 客户端接口（生成与校验共用）
type Client interface {
	// ChatWithContext 使用上下文聊天，单次调用，不做业务层重试
	ChatWithContext(ctx context.Context, messages []Message, options GenerateOptions) (string, error)
	// Model 返回模型名称
	Model() string
	// Provider 返回提供商名称
	Provider() string
}

// GenerateOptions 生成选项
type GenerateOptions struct {
	Temperature float64  `json:"temperature"`
	MaxTokens   int      `json:"max_tokens"`
	TopP        float64  `json:"top_p,omitempty"`
	Stop        []string `json:"stop,omitempty"`
}

// Message 聊天消息
type Message struct {
	Role    string `json:"role"` // system, user, assistant
	Content string `json:"content"`
}

// SystemMessage 构造 system 消息
func SystemMessage(content string) Message { return Message{Role: "system", Content: content} }

// UserMessage 构造 user 消息
func UserMessage(content string) Message { return Message{Role: "user", Content: content} }

// NewClient 创建新的 LLM 客户端；openai 走 resty 直连 OpenAI 兼容端点，eino 走 eino-ext ChatModel
func NewClient(provider, model, apiKey, baseURL string, timeout time.Duration) (Client, error) {
	var (
		c   Client
		err error
	)
	switch provider {
	case "", "openai", "lmstudio":
		c, err = NewOpenAIClientWithBaseURL(model, apiKey, baseURL, timeout)
	case "eino":
		c, err = NewEinoClient(model, apiKey, baseURL, timeout)
	case "claude":
		c, err = NewClaudeClient(model, apiKey, baseURL, timeout)
	case "gemini":
		c, err = NewGeminiClient(model, apiKey, baseURL, timeout)
	default:
		return nil, fmt.Errorf("不支持的 LLM provider: %s", provider)
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}
