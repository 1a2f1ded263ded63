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

package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config 应用配置结构体，启动时构造一次，之后只读并显式传给各组件
type Config struct {
	API        APIConfig        `mapstructure:"api"`
	RAG        RAGConfig        `mapstructure:"rag"`
	Router     RouterConfig     `mapstructure:"router"`
	Retrieval  RetrievalConfig  `mapstructure:"retrieval"`
	Reranker   RerankerConfig   `mapstructure:"reranker"`
	Continuity ContinuityConfig `mapstructure:"continuity"`
	Recovery   RecoveryConfig   `mapstructure:"recovery"`
	Policy     PolicyConfig     `mapstructure:"policy"`
	Answer     AnswerConfig     `mapstructure:"answer"`
	Prompt     PromptConfig     `mapstructure:"prompt"`
	History    HistoryConfig    `mapstructure:"history"`
	Model      ModelConfig      `mapstructure:"model"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Log        LogConfig        `mapstructure:"log"`
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
}

// APIConfig API 服务配置
type APIConfig struct {
	Port int    `mapstructure:"port"`
	Host string `mapstructure:"host"`
}

// RAGConfig 索引版本等请求元数据
type RAGConfig struct {
	IndexVersion string `mapstructure:"index_version"`
}

// RouterConfig 路由阈值与问题分类
type RouterConfig struct {
	TopscoreThreshold float64  `mapstructure:"topscore_threshold"`
	MarginThreshold   float64  `mapstructure:"margin_threshold"`
	ConfHigh          float64  `mapstructure:"conf_high"`
	ConfMed           float64  `mapstructure:"conf_med"`
	ChitchatVocab     []string `mapstructure:"chitchat_vocab"`
	LangDetectEnabled bool     `mapstructure:"lang_detect_enabled"`
	LangAllow         []string `mapstructure:"lang_allow"`
	LangMismatchK     int      `mapstructure:"lang_mismatch_k"`
	// DomainKeywords domain -> 关键词；命中则问题打上该 domain
	DomainKeywords map[string][]string `mapstructure:"domain_keywords"`
}

// RetrievalConfig 各置信度档位的 k
type RetrievalConfig struct {
	KHigh       int `mapstructure:"k_high"`
	KMed        int `mapstructure:"k_med"`
	KLow        int `mapstructure:"k_low"`
	KOverride   int `mapstructure:"k_override"` // 0 表示关闭
	MaxEvidence int `mapstructure:"max_evidence"`
}

// RerankerConfig 条件重排配置；Model 为空表示未配置 reranker
type RerankerConfig struct {
	Model           string  `mapstructure:"model"`
	Endpoint        string  `mapstructure:"endpoint"`
	APIKey          string  `mapstructure:"api_key"`
	Timeout         string  `mapstructure:"timeout"`
	EnableByConf    bool    `mapstructure:"enable_by_conf"`
	ConfThreshold   float64 `mapstructure:"conf_threshold"`
	TopThreshold    float64 `mapstructure:"top_threshold"`
	MarginThreshold float64 `mapstructure:"margin_threshold"`
}

// ContinuityConfig 命中关键词时走图扩展
type ContinuityConfig struct {
	Keywords []string `mapstructure:"keywords"`
}

// RecoveryConfig 恢复阶段的查询扩展词
type RecoveryConfig struct {
	Synonyms []string `mapstructure:"synonyms"`
}

// PolicyConfig 引用覆盖率门槛
type PolicyConfig struct {
	CitationMinCoverage float64 `mapstructure:"citation_min_coverage"`
}

// AnswerConfig 按意图区分的生成参数
type AnswerConfig struct {
	MaxTokensTask       int      `mapstructure:"max_tokens_task"`
	MaxTokensChitchat   int      `mapstructure:"max_tokens_chitchat"`
	TemperatureTask     float64  `mapstructure:"temperature_task"`
	TemperatureChitchat float64  `mapstructure:"temperature_chitchat"`
	StopSequences       []string `mapstructure:"stop_sequences"`
	PromptSuffix        string   `mapstructure:"prompt_suffix"`
}

// PromptConfig 系统提示词
type PromptConfig struct {
	SystemGeneric  string            `mapstructure:"system_generic"`
	SystemByDomain map[string]string `mapstructure:"system_by_domain"`
	VerifySystem   string            `mapstructure:"verify_system"`
	VerifyHuman    string            `mapstructure:"verify_human"`
}

// HistoryConfig 对话历史注入
type HistoryConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Turns   int  `mapstructure:"turns"` // 0 表示不注入
}

// ModelConfig 模型配置
type ModelConfig struct {
	LLM       LLMConfig       `mapstructure:"llm"`
	Embedding EmbeddingConfig `mapstructure:"embedding"`
}

// LLMConfig 生成后端配置
type LLMConfig struct {
	Provider          string  `mapstructure:"provider"` // openai | eino | claude | gemini
	BaseURL           string  `mapstructure:"base_url"`
	APIKey            string  `mapstructure:"api_key"`
	Model             string  `mapstructure:"model"`
	Timeout           string  `mapstructure:"timeout"`
	RequestsPerMinute float64 `mapstructure:"requests_per_minute"`
	TokensPerMinute   int     `mapstructure:"tokens_per_minute"`
	MaxConcurrent     int     `mapstructure:"max_concurrent"`
}

// EmbeddingConfig Embedding 后端配置
type EmbeddingConfig struct {
	BaseURL   string `mapstructure:"base_url"`
	APIKey    string `mapstructure:"api_key"`
	Model     string `mapstructure:"model"`
	Timeout   string `mapstructure:"timeout"`
	Dimension int    `mapstructure:"dimension"` // 0 时启动探测一次
}

// StorageConfig 存储配置
type StorageConfig struct {
	Vector VectorConfig `mapstructure:"vector"`
	Graph  GraphConfig  `mapstructure:"graph"`
	Cache  CacheConfig  `mapstructure:"cache"`
	Object ObjectConfig `mapstructure:"object"`
}

// VectorConfig 向量存储配置（memory 为内置内存；redis 使用 eino-ext retriever）
type VectorConfig struct {
	Type       string `mapstructure:"type"`
	Addr       string `mapstructure:"addr"`
	DB         int    `mapstructure:"db"`
	Password   string `mapstructure:"password"`
	Collection string `mapstructure:"collection"` // 索引名；redis 下同时作为 key 前缀
	SeedPath   string `mapstructure:"seed_path"`  // memory 后端启动时灌入的 NDJSON 切片文件
}

// GraphConfig 图邻居扩展后端（none | memory | postgres）
type GraphConfig struct {
	Type string `mapstructure:"type"`
	DSN  string `mapstructure:"dsn"`
}

// CacheConfig 对话短期缓存（none | memory | redis）
type CacheConfig struct {
	Type     string        `mapstructure:"type"`
	Addr     string        `mapstructure:"addr"`
	DB       int           `mapstructure:"db"`
	Password string        `mapstructure:"password"`
	TTL      time.Duration `mapstructure:"ttl"`
	MaxTurns int           `mapstructure:"max_turns"`
}

// ObjectConfig 对话持久日志（none | memory | gcs）
type ObjectConfig struct {
	Type             string `mapstructure:"type"`
	Bucket           string `mapstructure:"bucket"`
	Prefix           string `mapstructure:"prefix"`
	CredentialsFile  string `mapstructure:"credentials_file"`
	BackfillMaxLines int    `mapstructure:"backfill_max_lines"`
	BackfillDays     int    `mapstructure:"backfill_days"`
}

// LogConfig 日志配置；EventPath 为阶段事件 NDJSON 追加写入路径
type LogConfig struct {
	Level     string `mapstructure:"level"`
	Format    string `mapstructure:"format"`
	File      string `mapstructure:"file"`
	EventPath string `mapstructure:"event_path"`
}

// MonitoringConfig 监控配置
type MonitoringConfig struct {
	Prometheus PrometheusConfig `mapstructure:"prometheus"`
	Tracing    TracingConfig    `mapstructure:"tracing"`
}

// TracingConfig 链路追踪配置（OpenTelemetry）
type TracingConfig struct {
	Enable         bool   `mapstructure:"enable"`
	ServiceName    string `mapstructure:"service_name"`
	ExportEndpoint string `mapstructure:"export_endpoint"`
	Insecure       bool   `mapstructure:"insecure"`
}

// PrometheusConfig Prometheus 配置
type PrometheusConfig struct {
	Enable bool `mapstructure:"enable"`
}

const (
	defaultSystemPrompt = "You are a precise assistant. Answer using ONLY the provided context. If the answer isn't in the context, say you don't know."
	defaultVerifySystem = "You are a strict verifier. Extract claims, count them, and map citations. Return JSON with: grounded (true/false), reason (string), claims_total (int), claims_supported (int), citations (array of objects with claim_id, source, rank)."
	defaultVerifyHuman  = "Question:\n{question}\n\nAnswer:\n{answer}\n\nContext:\n{context}\n\nReturn JSON with fields: grounded (true/false), reason (string), claims_total (int), claims_supported (int), citations (list)."
)

// setDefaults 每个可调参数都在这里登记，保证仅靠环境变量也能覆盖
func setDefaults(v *viper.Viper) {
	v.SetDefault("api.port", 8080)
	v.SetDefault("api.host", "0.0.0.0")
	v.SetDefault("rag.index_version", "v1")

	v.SetDefault("router.topscore_threshold", 0.35)
	v.SetDefault("router.margin_threshold", 0.10)
	v.SetDefault("router.conf_high", 0.70)
	v.SetDefault("router.conf_med", 0.40)
	v.SetDefault("router.chitchat_vocab", []string{"hola", "hi", "hello", "gracias", "thanks", "ok", "vale"})
	v.SetDefault("router.lang_detect_enabled", true)
	v.SetDefault("router.lang_allow", []string{})
	v.SetDefault("router.lang_mismatch_k", 0)

	v.SetDefault("retrieval.k_high", 6)
	v.SetDefault("retrieval.k_med", 12)
	v.SetDefault("retrieval.k_low", 20)
	v.SetDefault("retrieval.k_override", 0)
	v.SetDefault("retrieval.max_evidence", 8)

	v.SetDefault("reranker.model", "")
	v.SetDefault("reranker.endpoint", "")
	v.SetDefault("reranker.api_key", "")
	v.SetDefault("reranker.timeout", "30s")
	v.SetDefault("reranker.enable_by_conf", true)
	v.SetDefault("reranker.conf_threshold", 0.50)
	v.SetDefault("reranker.top_threshold", 0.80)
	v.SetDefault("reranker.margin_threshold", 0.08)

	v.SetDefault("continuity.keywords", []string{})
	v.SetDefault("recovery.synonyms", []string{})
	v.SetDefault("policy.citation_min_coverage", 0.9)

	v.SetDefault("answer.max_tokens_task", 512)
	v.SetDefault("answer.max_tokens_chitchat", 256)
	v.SetDefault("answer.temperature_task", 0.1)
	v.SetDefault("answer.temperature_chitchat", 0.6)
	v.SetDefault("answer.stop_sequences", []string{})
	v.SetDefault("answer.prompt_suffix", "")

	v.SetDefault("prompt.system_generic", defaultSystemPrompt)
	v.SetDefault("prompt.verify_system", defaultVerifySystem)
	v.SetDefault("prompt.verify_human", defaultVerifyHuman)

	v.SetDefault("history.enabled", true)
	v.SetDefault("history.turns", 6)

	v.SetDefault("model.llm.provider", "openai")
	v.SetDefault("model.llm.base_url", "http://localhost:1234/v1")
	v.SetDefault("model.llm.api_key", "lm-studio")
	v.SetDefault("model.llm.model", "gpt-oss-20b")
	v.SetDefault("model.llm.timeout", "120s")
	v.SetDefault("model.llm.requests_per_minute", 0)
	v.SetDefault("model.llm.tokens_per_minute", 0)
	v.SetDefault("model.llm.max_concurrent", 0)
	v.SetDefault("model.embedding.base_url", "http://localhost:1234/v1")
	v.SetDefault("model.embedding.api_key", "lm-studio")
	v.SetDefault("model.embedding.model", "nomic-ai/nomic-embed-text-v1.5")
	v.SetDefault("model.embedding.timeout", "60s")
	v.SetDefault("model.embedding.dimension", 0)

	v.SetDefault("storage.vector.type", "memory")
	v.SetDefault("storage.vector.addr", "localhost:6379")
	v.SetDefault("storage.vector.db", 0)
	v.SetDefault("storage.vector.password", "")
	v.SetDefault("storage.vector.collection", "docs")
	v.SetDefault("storage.vector.seed_path", "")
	v.SetDefault("storage.graph.type", "none")
	v.SetDefault("storage.graph.dsn", "")
	v.SetDefault("storage.cache.type", "memory")
	v.SetDefault("storage.cache.addr", "localhost:6379")
	v.SetDefault("storage.cache.db", 0)
	v.SetDefault("storage.cache.password", "")
	v.SetDefault("storage.cache.ttl", "24h")
	v.SetDefault("storage.cache.max_turns", 20)
	v.SetDefault("storage.object.type", "none")
	v.SetDefault("storage.object.bucket", "")
	v.SetDefault("storage.object.prefix", "memlog")
	v.SetDefault("storage.object.credentials_file", "")
	v.SetDefault("storage.object.backfill_max_lines", 50)
	v.SetDefault("storage.object.backfill_days", 3)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.file", "")
	v.SetDefault("log.event_path", "logs/rag.log")

	v.SetDefault("monitoring.prometheus.enable", true)
	v.SetDefault("monitoring.tracing.enable", false)
	v.SetDefault("monitoring.tracing.service_name", "grounded-rag")
	v.SetDefault("monitoring.tracing.export_endpoint", "")
	v.SetDefault("monitoring.tracing.insecure", false)
}

// LoadConfig 加载配置文件；configPath 为空或文件不存在时只使用默认值 + 环境变量
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !os.IsNotExist(err) {
				return nil, fmt.Errorf("无法读取配置文件: %w", err)
			}
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("无法解析配置文件: %w", err)
	}

	if err := applyJSONEnv(&config); err != nil {
		return nil, err
	}
	replaceEnvVars(&config)
	config.normalize()
	return &config, nil
}

// applyJSONEnv map 类配置无法直接走 AutomaticEnv，单独从 JSON 环境变量读取
func applyJSONEnv(config *Config) error {
	if raw := os.Getenv("PROMPT_SYSTEM_BY_DOMAIN_JSON"); raw != "" {
		var m map[string]string
		if err := json.Unmarshal([]byte(raw), &m); err != nil {
			return fmt.Errorf("PROMPT_SYSTEM_BY_DOMAIN_JSON 不是合法 JSON 对象: %w", err)
		}
		config.Prompt.SystemByDomain = m
	}
	if raw := os.Getenv("DOMAIN_KEYWORDS_JSON"); raw != "" {
		var m map[string][]string
		if err := json.Unmarshal([]byte(raw), &m); err != nil {
			return fmt.Errorf("DOMAIN_KEYWORDS_JSON 不是合法 JSON 对象: %w", err)
		}
		config.Router.DomainKeywords = m
	}
	return nil
}

// replaceEnvVars 替换 ${VAR} 形式的密钥
func replaceEnvVars(config *Config) {
	config.Model.LLM.APIKey = expandEnv(config.Model.LLM.APIKey)
	config.Model.Embedding.APIKey = expandEnv(config.Model.Embedding.APIKey)
	config.Reranker.APIKey = expandEnv(config.Reranker.APIKey)
	config.Storage.Graph.DSN = expandEnv(config.Storage.Graph.DSN)
	config.Storage.Cache.Password = expandEnv(config.Storage.Cache.Password)
	config.Storage.Vector.Password = expandEnv(config.Storage.Vector.Password)
}

func expandEnv(s string) string {
	if !strings.HasPrefix(s, "$") {
		return s
	}
	envVar := strings.TrimPrefix(strings.TrimSuffix(s, "}"), "${")
	envVar = strings.TrimPrefix(envVar, "$")
	if val := os.Getenv(envVar); val != "" {
		return val
	}
	return s
}

// normalize 清洗列表项并补齐依赖其它字段的默认值
func (c *Config) normalize() {
	c.Router.ChitchatVocab = cleanList(c.Router.ChitchatVocab, true)
	c.Router.LangAllow = cleanList(c.Router.LangAllow, true)
	c.Continuity.Keywords = cleanList(c.Continuity.Keywords, true)
	c.Recovery.Synonyms = cleanList(c.Recovery.Synonyms, false)
	c.Answer.StopSequences = cleanList(c.Answer.StopSequences, false)
	if c.Router.LangMismatchK <= 0 {
		c.Router.LangMismatchK = c.Retrieval.KLow
	}
	if c.Retrieval.MaxEvidence <= 0 {
		c.Retrieval.MaxEvidence = 8
	}
	if c.Prompt.SystemByDomain == nil {
		c.Prompt.SystemByDomain = map[string]string{}
	}
	if _, ok := c.Prompt.SystemByDomain["default"]; !ok {
		c.Prompt.SystemByDomain["default"] = c.Prompt.SystemGeneric
	}
	if c.History.Turns < 0 {
		c.History.Turns = 0
	}
}

func cleanList(in []string, lower bool) []string {
	out := make([]string, 0, len(in))
	for _, raw := range in {
		// 环境变量里的逗号列表在 viper 中可能整体落成一个元素
		for _, s := range strings.Split(raw, ",") {
			s = strings.TrimSpace(s)
			if s == "" {
				continue
			}
			if lower {
				s = strings.ToLower(s)
			}
			out = append(out, s)
		}
	}
	return out
}

// ParseDuration 解析时长字符串，无效或空时返回 defaultVal
func ParseDuration(s string, defaultVal time.Duration) time.Duration {
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return defaultVal
	}
	return d
}

// Default 返回纯默认配置（不读文件），便于测试与本地调试
func Default() *Config {
	cfg, err := LoadConfig("")
	if err != nil {
		// 默认值本身不会解析失败
		panic(err)
	}
	return cfg
}
