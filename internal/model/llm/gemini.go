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
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// GeminiClient Gemini 客户端（generateContent）
type GeminiClient struct {
	provider string
	model    string
	apiKey   string
	baseURL  string
	client   *resty.Client
}

// NewGeminiClient 创建新的 Gemini 客户端；baseURL 为空时用默认或 GEMINI_BASE_URL
func NewGeminiClient(model, apiKey, baseURL string, timeout time.Duration) (*GeminiClient, error) {
	if model == "" {
		model = "gemini-1.5-flash"
	}
	if baseURL == "" {
		baseURL = "https://generativelanguage.googleapis.com/v1beta"
		if envURL := os.Getenv("GEMINI_BASE_URL"); envURL != "" {
			baseURL = envURL
		}
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	client := resty.New()
	client.SetTimeout(timeout)

	return &GeminiClient{
		provider: "gemini",
		model:    model,
		apiKey:   apiKey,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   client,
	}, nil
}

// ChatWithContext 使用上下文聊天；system 消息走 systemInstruction，assistant 映射为 model
func (c *GeminiClient) ChatWithContext(ctx context.Context, messages []Message, options GenerateOptions) (string, error) {
	var system []map[string]interface{}
	contents := make([]map[string]interface{}, 0, len(messages))
	for _, msg := range messages {
		part := []map[string]interface{}{{"text": msg.Content}}
		switch msg.Role {
		case "system":
			system = append(system, part...)
			continue
		case "assistant":
			contents = append(contents, map[string]interface{}{"role": "model", "parts": part})
		default:
			contents = append(contents, map[string]interface{}{"role": "user", "parts": part})
		}
	}

	generation := map[string]interface{}{"temperature": options.Temperature}
	if options.MaxTokens > 0 {
		generation["maxOutputTokens"] = options.MaxTokens
	}
	if options.TopP > 0 {
		generation["topP"] = options.TopP
	}
	if len(options.Stop) > 0 {
		generation["stopSequences"] = options.Stop
	}
	request := map[string]interface{}{
		"contents":         contents,
		"generationConfig": generation,
	}
	if len(system) > 0 {
		request["systemInstruction"] = map[string]interface{}{"parts": system}
	}

	response, err := c.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetQueryParam("key", c.apiKey).
		SetBody(request).
		Post(c.baseURL + "/models/" + url.PathEscape(c.model) + ":generateContent")
	if err != nil {
		return "", fmt.Errorf("调用 Gemini API 失败: %w", err)
	}
	if response.StatusCode() != http.StatusOK {
		return "", fmt.Errorf("Gemini API 返回错误: %s", response.String())
	}

	var result struct {
		Candidates []struct {
			Content struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"content"`
		} `json:"candidates"`
	}
	if err := json.Unmarshal(response.Body(), &result); err != nil {
		return "", fmt.Errorf("解析 Gemini 响应失败: %w", err)
	}
	if len(result.Candidates) == 0 {
		return "", fmt.Errorf("Gemini API 没有返回结果")
	}
	var sb strings.Builder
	for _, p := range result.Candidates[0].Content.Parts {
		sb.WriteString(p.Text)
	}
	if sb.Len() == 0 {
		return "", fmt.Errorf("Gemini API 没有返回文本")
	}
	return sb.String(), nil
}

// Model 返回模型名称
func (c *GeminiClient) Model() string {
	return c.model
}

// Provider 返回提供商名称
func (c *GeminiClient) Provider() string {
	return c.provider
}
