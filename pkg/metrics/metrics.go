package metrics

import (
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
)

// 全局 Registry，供 API 注册与暴露
var DefaultRegistry = prometheus.NewRegistry()

func init() {
	DefaultRegistry.MustRegister(
		RouteTotal, StageDuration,
		PolicyTotal, RecoveryTotal,
		MemoryErrorsTotal, LLMTokensTotal,
		RateLimitWaitSeconds,
	)
}

// RouteTotal 路由决策数（按置信度档位与是否检索）
var RouteTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "rag_route_total",
		Help: "路由决策总数",
	},
	[]string{"bucket", "need"}, // bucket: high | medium | low | none
)

// StageDuration 各阶段耗时（秒）
var StageDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "rag_stage_duration_seconds",
		Help:    "Pipeline 各阶段耗时（秒）",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"stage"}, // route | retrieval | answer | verify | recovery
)

// PolicyTotal 策略门结果
var PolicyTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "rag_policy_total",
		Help: "引用策略门判定总数",
	},
	[]string{"passed"},
)

// RecoveryTotal 恢复阶段结果
var RecoveryTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "rag_recovery_total",
		Help: "恢复阶段结果总数",
	},
	[]string{"outcome"}, // recovered | degraded | aborted
)

// MemoryErrorsTotal 对话记忆后端错误（best-effort，不影响请求）
var MemoryErrorsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "rag_memory_errors_total",
		Help: "对话记忆后端错误总数",
	},
	[]string{"backend"}, // cache | object
)

// LLMTokensTotal LLM 调用 token 数（按字符数估算）
var LLMTokensTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "rag_llm_tokens_total",
		Help: "LLM 调用 token 总数",
	},
	[]string{"direction"}, // prompt | completion
)

// RateLimitWaitSeconds 限流等待耗时
var RateLimitWaitSeconds = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "rag_rate_limit_wait_seconds",
		Help:    "限流等待耗时（秒）",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"kind", "provider"},
)

// WritePrometheus 将 Prometheus 文本格式写入 w（供 Hertz 等复用）
func WritePrometheus(w io.Writer) error {
	metrics, err := DefaultRegistry.Gather()
	if err != nil {
		return err
	}
	enc := expfmt.NewEncoder(w, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range metrics {
		if err := enc.Encode(mf); err != nil {
			return err
		}
	}
	return nil
}
