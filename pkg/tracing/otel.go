// Copyright 2026 fanjia1024
// OpenTelemetry integration for distributed tracing

package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"
)

// OTelConfig OpenTelemetry 配置
type OTelConfig struct {
	ServiceName    string
	ExportEndpoint string
	Insecure       bool
}

// InitTracer 初始化 OpenTelemetry tracer
func InitTracer(config OTelConfig) (*sdktrace.TracerProvider, error) {
	ctx := context.Background()

	// 创建 OTLP exporter
	opts := []otlptracehttp.Option{
		otlptracehttp.WithEndpoint(config.ExportEndpoint),
	}
	if config.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}

	exporter, err := otlptrace.New(ctx, otlptracehttp.NewClient(opts...))
	if err != nil {
		return nil, err
	}

	// 创建 resource
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(config.ServiceName),
		),
	)
	if err != nil {
		return nil, err
	}

	// 创建 tracer provider
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)

	otel.SetTracerProvider(tp)
	return tp, nil
}

// StartStageSpan 开始 pipeline 阶段 span（route / retrieval / answer / verify / recovery）
func StartStageSpan(ctx context.Context, stage string, traceID string) (context.Context, trace.Span) {
	tracer := otel.Tracer("grounded-rag")
	ctx, span := tracer.Start(ctx, "rag."+stage,
		trace.WithAttributes(
			attribute.String("rag.stage", stage),
			attribute.String("rag.trace_id", traceID),
		),
	)
	return ctx, span
}

// StartRequestSpan 开始单次问答请求 span
func StartRequestSpan(ctx context.Context, traceID string, convID string) (context.Context, trace.Span) {
	tracer := otel.Tracer("grounded-rag")
	ctx, span := tracer.Start(ctx, "rag.query",
		trace.WithAttributes(
			attribute.String("rag.trace_id", traceID),
			attribute.String("rag.conv_id", convID),
		),
	)
	return ctx, span
}
