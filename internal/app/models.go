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

package app

import (
	"time"

	"grounded-rag/internal/model/embedding"
	"grounded-rag/internal/model/llm"
	"grounded-rag/internal/model/rerank"
	"grounded-rag/pkg/config"
	"grounded-rag/pkg/errors"
)

// NewLLMClientFromConfig 根据 model.llm 创建生成客户端；配置了任一限额时套上限流
func NewLLMClientFromConfig(cfg *config.Config) (llm.Client, error) {
	lc := cfg.Model.LLM
	client, err := llm.NewClient(lc.Provider, lc.Model, lc.APIKey, lc.BaseURL, config.ParseDuration(lc.Timeout, 30*time.Second))
	if err != nil {
		return nil, errors.Wrapf(err, "创建 LLM 客户端失败（provider=%s）", lc.Provider)
	}
	limits := llm.Limits{
		RequestsPerMinute: lc.RequestsPerMinute,
		TokensPerMinute:   lc.TokensPerMinute,
		MaxConcurrent:     lc.MaxConcurrent,
	}
	if !limits.Enabled() {
		return client, nil
	}
	return llm.NewRateLimitedClient(client, llm.NewLimiter(limits)), nil
}

// NewEmbedderFromConfig 根据 model.embedding 创建 query 向量化客户端
func NewEmbedderFromConfig(cfg *config.Config) *embedding.OpenAIClient {
	ec := cfg.Model.Embedding
	return embedding.NewOpenAIClient(ec.BaseURL, ec.APIKey, ec.Model, config.ParseDuration(ec.Timeout, 60*time.Second), ec.Dimension)
}

// NewRerankerFromConfig 未配置 model/endpoint 时返回 nil（条件重排关闭）
func NewRerankerFromConfig(cfg *config.Config) rerank.Reranker {
	rc := cfg.Reranker
	r := rerank.NewHTTPReranker(rc.Model, rc.Endpoint, rc.APIKey, config.ParseDuration(rc.Timeout, 10*time.Second))
	if r == nil {
		return nil
	}
	return r
}
