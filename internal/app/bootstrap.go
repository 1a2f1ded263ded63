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
	"context"
	stderrors "errors"
	"io"
	"os"
	"sync"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"grounded-rag/internal/memory"
	"grounded-rag/internal/pipeline/common"
	"grounded-rag/internal/pipeline/query"
	"grounded-rag/internal/storage/cache"
	"grounded-rag/internal/storage/graph"
	"grounded-rag/internal/storage/object"
	"grounded-rag/internal/storage/vector"
	"grounded-rag/pkg/config"
	"grounded-rag/pkg/errors"
	"grounded-rag/pkg/log"
	"grounded-rag/pkg/tracing"
	"grounded-rag/pkg/utils"
)

// Bootstrap 统一初始化：日志、事件、追踪与对话记忆在启动时建好；问答管线由 BuildPipeline 构建，失败可重试
type Bootstrap struct {
	Config *config.Config
	Logger *log.Logger
	Sink   log.EventSink
	Memory *memory.Conversation // nil 表示对话记忆关闭

	tracer  *sdktrace.TracerProvider
	mu      sync.Mutex
	closers []io.Closer
}

// NewBootstrap 根据配置创建 Bootstrap；记忆后端不可用时降级而不是失败
func NewBootstrap(ctx context.Context, cfg *config.Config) (*Bootstrap, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	logger, err := log.NewLogger(&log.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, File: cfg.Log.File})
	if err != nil {
		return nil, errors.Wrap(err, "初始化日志失败")
	}
	b := &Bootstrap{Config: cfg, Logger: logger, Sink: log.NopSink{}}

	if cfg.Log.EventPath != "" {
		sink, err := log.NewFileSink(cfg.Log.EventPath, logger)
		if err != nil {
			logger.Warn("事件日志不可用，阶段事件将被丢弃", "path", cfg.Log.EventPath, "error", err)
		} else {
			b.Sink = sink
			b.closers = append(b.closers, sink)
		}
	}

	if tc := cfg.Monitoring.Tracing; tc.Enable {
		serviceName := utils.Coalesce(tc.ServiceName, "grounded-rag")
		endpoint := utils.Coalesce(tc.ExportEndpoint, os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))
		if endpoint == "" {
			logger.Warn("链路追踪已开启但未配置 export_endpoint，跳过")
		} else if tp, err := tracing.InitTracer(tracing.OTelConfig{
			ServiceName:    serviceName,
			ExportEndpoint: endpoint,
			Insecure:       tc.Insecure,
		}); err != nil {
			logger.Warn("链路追踪初始化失败", "error", err)
		} else {
			b.tracer = tp
			logger.Info("链路追踪已启用", "service_name", serviceName, "endpoint", endpoint)
		}
	}

	mem, err := b.newMemory(ctx)
	if err != nil {
		return nil, err
	}
	b.Memory = mem
	return b, nil
}

func (b *Bootstrap) newMemory(ctx context.Context) (*memory.Conversation, error) {
	cfg := b.Config.Storage
	cacheStore, err := cache.NewCache(ctx, cfg.Cache)
	if err != nil {
		b.Logger.Warn("对话缓存不可用，降级为无缓存", "type", cfg.Cache.Type, "error", errors.Wrap(err, "cache"))
		cacheStore = nil
	} else if cacheStore != nil {
		b.closers = append(b.closers, cacheStore)
	}
	objects, err := object.NewStore(ctx, cfg.Object)
	if err != nil {
		b.Logger.Warn("对话持久日志不可用，降级为仅缓存", "type", cfg.Object.Type, "error", errors.Wrap(err, "object"))
		objects = nil
	} else if objects != nil {
		b.closers = append(b.closers, objects)
	}
	if cacheStore == nil && objects == nil {
		b.Logger.Info("对话记忆关闭")
		return nil, nil
	}
	mem, err := memory.NewConversation(cacheStore, objects, memory.OptionsFromConfig(cfg), b.Sink, b.Logger)
	if err != nil {
		return nil, errors.Wrap(err, "初始化对话记忆失败")
	}
	return mem, nil
}

// BuildPipeline 构建检索、生成与可选的图/重排后端并组装问答管线；
// 失败时关闭本次已打开的后端，成功后才交给 Close 管理
func (b *Bootstrap) BuildPipeline(ctx context.Context) (_ *query.Pipeline, err error) {
	cfg := b.Config
	client, err := NewLLMClientFromConfig(cfg)
	if err != nil {
		return nil, err
	}

	var opened []io.Closer
	defer func() {
		if err != nil {
			if cerr := errors.CloseAll(opened); cerr != nil {
				b.Logger.Warn("回收未完成管线的后端失败", "error", cerr)
			}
			return
		}
		b.mu.Lock()
		b.closers = append(b.closers, opened...)
		b.mu.Unlock()
	}()

	embedder := NewEmbedderFromConfig(cfg)
	searcher, err := vector.NewSearcher(ctx, cfg.Storage.Vector, embedder)
	if err != nil {
		return nil, errors.Wrapf(err, "初始化向量检索失败（type=%s）", cfg.Storage.Vector.Type)
	}
	if c, ok := searcher.(io.Closer); ok {
		opened = append(opened, c)
	}

	graphStore, err := graph.NewStore(ctx, cfg.Storage.Graph)
	if err != nil {
		b.Logger.Warn("图后端不可用，关闭邻居扩展", "type", cfg.Storage.Graph.Type, "error", err)
		graphStore, err = nil, nil
	} else if graphStore != nil {
		opened = append(opened, graphStore)
	}

	reranker := NewRerankerFromConfig(cfg)
	version := common.ModelVersion{Embedder: embedder.Model(), LLM: client.Model()}
	if reranker != nil {
		version.Reranker = reranker.Name()
	}

	deps := query.Dependencies{
		Config:       cfg,
		Searcher:     searcher,
		LLM:          client,
		Graph:        graphStore,
		Reranker:     reranker,
		Sink:         b.Sink,
		Logger:       b.Logger,
		ModelVersion: version,
	}
	if b.Memory != nil {
		deps.Memory = b.Memory
	}
	p, err := query.NewPipeline(deps)
	if err != nil {
		return nil, errors.Wrap(err, "组装问答管线失败")
	}
	b.Logger.Info("问答管线就绪",
		"vector", cfg.Storage.Vector.Type,
		"llm_provider", client.Provider(),
		"llm_model", client.Model(),
		"graph", graphStore != nil,
		"reranker", version.Reranker,
	)
	return p, nil
}

// Close 关闭后端连接与事件日志，并刷出未导出的 span
func (b *Bootstrap) Close(ctx context.Context) error {
	var tracerErr error
	if b.tracer != nil {
		tracerErr = b.tracer.Shutdown(ctx)
	}
	b.mu.Lock()
	closers := b.closers
	b.closers = nil
	b.mu.Unlock()
	return stderrors.Join(tracerErr, errors.CloseAll(closers))
}
