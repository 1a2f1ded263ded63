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

	"github.com/cloudwego/eino-ext/components/model/openai"
	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// chatGenerator eino ChatModel 的最小子集
type chatGenerator interface {
	Generate(ctx context.Context, input []*schema.Message, opts ...einomodel.Option) (*schema.Message, error)
}

// EinoClient 基于 eino-ext OpenAI ChatModel 的 Client 实现
type EinoClient struct {
	model string
	chat  chatGenerator
}

// NewEinoClient 创建 eino ChatModel 客户端
func NewEinoClient(model, apiKey, baseURL string, timeout time.Duration) (*EinoClient, error) {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	cm, err := openai.NewChatModel(context.Background(), &openai.ChatModelConfig{
		Model:   model,
		APIKey:  apiKey,
		BaseURL: baseURL,
		Timeout: timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("创建 OpenAI ChatModel failed: %w", err)
	}
	return &EinoClient{model: model, chat: cm}, nil
}

// ChatWithContext 实现 Client
func (c *EinoClient) ChatWithContext(ctx context.Context, messages []Message, options GenerateOptions) (string, error) {
	input := make([]*schema.Message, 0, len(messages))
	for _, m := range messages {
		input = append(input, &schema.Message{Role: schema.RoleType(m.Role), Content: m.Content})
	}
	opts := []einomodel.Option{einomodel.WithTemperature(float32(options.Temperature))}
	if options.MaxTokens > 0 {
		opts = append(opts, einomodel.WithMaxTokens(options.MaxTokens))
	}
	if options.TopP > 0 {
		opts = append(opts, einomodel.WithTopP(float32(options.TopP)))
	}
	if len(options.Stop) > 0 {
		opts = append(opts, einomodel.WithStop(options.Stop))
	}
	out, err := c.chat.Generate(ctx, input, opts...)
	if err != nil {
		return "", fmt.Errorf("eino chat model generate: %w", err)
	}
	if out == nil {
		return "", fmt.Errorf("eino chat model returned nil message")
	}
	return out.Content, nil
}

// Model 返回模型名称
func (c *EinoClient) Model() string { return c.model }

// Provider 返回提供商名称
func (c *EinoClient) Provider() string { return "eino" }
