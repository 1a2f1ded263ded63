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

package http

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/hlog"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"golang.org/x/sync/singleflight"

	"grounded-rag/internal/pipeline/common"
	"grounded-rag/internal/pipeline/query"
	"grounded-rag/pkg/log"
	"grounded-rag/pkg/metrics"
)

// QueryService 问答入口，由 query.Pipeline 实现
type QueryService interface {
	Invoke(ctx context.Context, question, convID string) (query.Response, error)
}

// InitFunc 启动时问答管线不可用时，请求到来再尝试构建一次
type InitFunc func(ctx context.Context) (QueryService, error)

// Handler HTTP 处理器
type Handler struct {
	mu      sync.RWMutex
	service QueryService
	initFn  InitFunc
	inits   singleflight.Group
	logger  *log.Logger
}

// NewHandler 创建 HTTP 处理器；service 为 nil 时 /query 会调用 initFn 重试，
// 同一时刻只有一次构建在跑，并发请求共享其结果
func NewHandler(service QueryService, initFn InitFunc, logger *log.Logger) *Handler {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Handler{service: service, initFn: initFn, logger: logger}
}

type queryRequest struct {
	Question string `json:"question"`
	ConvID   string `json:"conv_id"`
}

// Query 问答
// POST /query
func (h *Handler) Query(ctx context.Context, c *app.RequestContext) {
	var req queryRequest
	if err := c.BindJSON(&req); err != nil {
		c.JSON(consts.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		c.JSON(consts.StatusBadRequest, map[string]string{"error": "question is required"})
		return
	}

	service, err := h.ensureService(ctx)
	if err != nil {
		h.logger.Warn("问答管线不可用", "error", err)
		c.JSON(consts.StatusServiceUnavailable, map[string]string{"error": "pipeline unavailable"})
		return
	}

	resp, err := service.Invoke(ctx, req.Question, req.ConvID)
	if err != nil {
		if errors.Is(err, common.ErrInvalidInput) {
			c.JSON(consts.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		hlog.CtxErrorf(ctx, "query failed: %v", err)
		c.JSON(consts.StatusInternalServerError, map[string]string{"error": "pipeline error: " + err.Error()})
		return
	}
	c.JSON(consts.StatusOK, resp)
}

// HealthCheck 健康检查；问答管线未就绪时为 degraded
// GET /health
func (h *Handler) HealthCheck(ctx context.Context, c *app.RequestContext) {
	status := "ok"
	if h.current() == nil {
		status = "degraded"
	}
	c.JSON(consts.StatusOK, map[string]string{"status": status})
}

// Metrics Prometheus 文本格式指标
// GET /metrics
func (h *Handler) Metrics(ctx context.Context, c *app.RequestContext) {
	var buf bytes.Buffer
	if err := metrics.WritePrometheus(&buf); err != nil {
		c.JSON(consts.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	c.Data(consts.StatusOK, "text/plain; version=0.0.4; charset=utf-8", buf.Bytes())
}

func (h *Handler) current() QueryService {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.service
}

func (h *Handler) ensureService(ctx context.Context) (QueryService, error) {
	if svc := h.current(); svc != nil {
		return svc, nil
	}
	if h.initFn == nil {
		return nil, errors.New("pipeline not initialized")
	}
	v, err, _ := h.inits.Do("pipeline", func() (any, error) {
		if svc := h.current(); svc != nil {
			return svc, nil
		}
		// 构建结果被所有等待者共享，不随发起请求取消
		svc, err := h.initFn(context.WithoutCancel(ctx))
		if err != nil {
			return nil, err
		}
		if svc == nil {
			return nil, errors.New("pipeline init returned nil")
		}
		h.mu.Lock()
		h.service = svc
		h.mu.Unlock()
		return svc, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(QueryService), nil
}
