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

package api

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/hlog"
	hertzslog "github.com/hertz-contrib/logger/slog"
	hertztracing "github.com/hertz-contrib/obs-opentelemetry/tracing"

	"grounded-rag/internal/api/http"
	"grounded-rag/internal/api/http/middleware"
	"grounded-rag/internal/app"
	"grounded-rag/pkg/log"
)

// App API 应用（装配 HTTP Router、Handler、Middleware）
type App struct {
	config *app.Bootstrap
	router *http.Router
	hertz  *server.Hertz
}

// NewApp 创建 API 应用（由 cmd/api 调用）；问答管线构建失败时服务仍启动，/query 请求时再重试
func NewApp(ctx context.Context, bootstrap *app.Bootstrap) (*App, error) {
	if bootstrap == nil {
		return nil, fmt.Errorf("bootstrap 不能为空")
	}
	initFn := func(ctx context.Context) (http.QueryService, error) {
		p, err := bootstrap.BuildPipeline(ctx)
		if err != nil {
			return nil, err
		}
		return p, nil
	}

	var service http.QueryService
	if svc, err := initFn(ctx); err != nil {
		bootstrap.Logger.Warn("问答管线初始化失败，将在请求时重试", "error", err)
	} else {
		service = svc
	}

	handler := http.NewHandler(service, initFn, bootstrap.Logger)
	router := http.NewRouter(handler, middleware.NewMiddleware(bootstrap.Logger))
	router.SetMetricsEnabled(bootstrap.Config.Monitoring.Prometheus.Enable)
	return &App{config: bootstrap, router: router}, nil
}

// Run 启动 HTTP 服务，addr 如 ":8080"
func (a *App) Run(addr string) error {
	a.config.Logger.Info("API 服务启动", "addr", addr)

	// 使用 Hertz slog 扩展，与 bootstrap 配置对齐
	output := os.Stdout
	if a.config.Config.Log.File != "" {
		f, err := os.OpenFile(a.config.Config.Log.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return fmt.Errorf("打开日志文件失败: %w", err)
		}
		output = f
	}
	levelVar := &slog.LevelVar{}
	levelVar.Set(log.ParseLevel(a.config.Config.Log.Level))
	hlog.SetLogger(hertzslog.NewLogger(
		hertzslog.WithOutput(output),
		hertzslog.WithLevel(levelVar),
	))

	// 全局 TracerProvider 由 bootstrap 初始化，这里只挂服务端 span
	if a.config.Config.Monitoring.Tracing.Enable {
		tracerOpt, cfg := hertztracing.NewServerTracer()
		a.router.Use(hertztracing.ServerMiddleware(cfg))
		a.hertz = a.router.Build(addr, tracerOpt)
	} else {
		a.hertz = a.router.Build(addr)
	}
	return a.hertz.Run()
}

// Shutdown 优雅关闭（传入 ctx 以支持超时，如 cmd 层 WithTimeout）
func (a *App) Shutdown(ctx context.Context) error {
	if a.hertz != nil {
		if err := a.hertz.Shutdown(ctx); err != nil {
			return err
		}
	}
	return a.config.Close(ctx)
}
