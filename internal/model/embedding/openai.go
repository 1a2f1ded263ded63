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

package embedding

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	einoembed "github.com/cloudwego/eino/components/embedding"
	"github.com/go-resty/resty/v2"
)

// OpenAIClient OpenAI 兼容的 embeddings 客户端（LM Studio / OpenAI / vLLM），
// 同时实现 eino embedding.Embedder，供向量检索组件直接使用
type OpenAIClient struct {
	model   string
	apiKey  string
	baseURL string
	client  *resty.Client

	dimOnce sync.Once
	dim     int
	dimErr  error
}

var _ einoembed.Embedder = (*OpenAIClient)(nil)

// NewOpenAIClient 创建 embeddings 客户端；dimension > 0 时跳过探测
func NewOpenAIClient(baseURL, apiKey, model string, timeout time.Duration, dimension int) *OpenAIClient {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	client := resty.New()
	client.SetTimeout(timeout)
	client.SetRetryCount(2)
	client.SetRetryWaitTime(500 * time.Millisecond)
	c := &OpenAIClient{
		model:   model,
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
	}
	if dimension > 0 {
		c.dim = dimension
		c.dimOnce.Do(func() {})
	}
	return c
}

// Model 返回模型名称
func (c *OpenAIClient) Model() string {
	return c.model
}

// EmbedStrings 实现 eino embedding.Embedder；逐条请求以兼容只接受单条 input 的本地服务
func (c *OpenAIClient) EmbedStrings(ctx context.Context, texts []string, _ ...einoembed.Option) ([][]float64, error) {
	out := make([][]float64, 0, len(texts))
	for _, t := range texts {
		v, err := c.embedOne(ctx, t)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// Dimension 启动时探测一次向量维度
func (c *OpenAIClient) Dimension(ctx context.Context) (int, error) {
	c.dimOnce.Do(func() {
		v, err := c.embedOne(ctx, "dimension probe")
		if err != nil {
			c.dimErr = err
			return
		}
		c.dim = len(v)
	})
	return c.dim, c.dimErr
}

func (c *OpenAIClient) embedOne(ctx context.Context, text string) ([]float64, error) {
	response, err := c.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeader("Authorization", "Bearer "+c.apiKey).
		SetBody(map[string]interface{}{"model": c.model, "input": text}).
		Post(c.baseURL + "/embeddings")
	if err != nil {
		return nil, fmt.Errorf("调用 embeddings API failed: %w", err)
	}
	if response.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("embeddings API 返回错误: %s", response.String())
	}
	var result struct {
		Data []struct {
			Embedding []float64 `json:"embedding"`
		} `json:"data"`
	}
	if err := json.Unmarshal(response.Body(), &result); err != nil {
		return nil, fmt.Errorf("解析 embeddings 响应failed: %w", err)
	}
	if len(result.Data) == 0 || len(result.Data[0].Embedding) == 0 {
		return nil, fmt.Errorf("embeddings API 没有返回结果")
	}
	return result.Data[0].Embedding, nil
}
