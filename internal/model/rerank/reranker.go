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

package rerank

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// Reranker 交叉编码重排：对每条文本给出与 query 的相关性分数，顺序与 texts 一致
type Reranker interface {
	Score(ctx context.Context, query string, texts []string) ([]float64, error)
	Name() string
}

// HTTPReranker 调用 TEI 风格的 /rerank 端点
type HTTPReranker struct {
	model    string
	endpoint string
	apiKey   string
	client   *resty.Client
}

// NewHTTPReranker 创建 reranker 客户端；model 或 endpoint 为空时返回 nil
func NewHTTPReranker(model, endpoint, apiKey string, timeout time.Duration) *HTTPReranker {
	if model == "" || endpoint == "" {
		return nil
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	client := resty.New()
	client.SetTimeout(timeout)
	return &HTTPReranker{
		model:    model,
		endpoint: strings.TrimRight(endpoint, "/"),
		apiKey:   apiKey,
		client:   client,
	}
}

// Name 返回模型名称
func (r *HTTPReranker) Name() string { return r.model }

// Score 实现 Reranker
func (r *HTTPReranker) Score(ctx context.Context, query string, texts []string) ([]float64, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	req := r.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(map[string]interface{}{"model": r.model, "query": query, "texts": texts})
	if r.apiKey != "" {
		req.SetHeader("Authorization", "Bearer "+r.apiKey)
	}
	response, err := req.Post(r.endpoint + "/rerank")
	if err != nil {
		return nil, fmt.Errorf("调用 rerank API failed: %w", err)
	}
	if response.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("rerank API 返回错误: %s", response.String())
	}
	var result []struct {
		Index int     `json:"index"`
		Score float64 `json:"score"`
	}
	if err := json.Unmarshal(response.Body(), &result); err != nil {
		return nil, fmt.Errorf("解析 rerank 响应failed: %w", err)
	}
	scores := make([]float64, len(texts))
	seen := make([]bool, len(texts))
	for _, item := range result {
		if item.Index < 0 || item.Index >= len(texts) {
			return nil, fmt.Errorf("rerank 返回越界 index %d", item.Index)
		}
		scores[item.Index] = item.Score
		seen[item.Index] = true
	}
	for i, ok := range seen {
		if !ok {
			return nil, fmt.Errorf("rerank 缺少 index %d 的分数", i)
		}
	}
	return scores, nil
}
