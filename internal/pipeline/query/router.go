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

package query

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"grounded-rag/internal/pipeline/common"
	"grounded-rag/internal/storage/vector"
	"grounded-rag/pkg/config"
	"grounded-rag/pkg/log"
	"grounded-rag/pkg/metrics"
	"grounded-rag/pkg/tracing"
)

// probeK 路由探测检索的条数
const probeK = 2

// Router 决定是否检索、检索多少、是否走图扩展
type Router struct {
	name       string
	searcher   vector.Searcher
	router     config.RouterConfig
	retrieval  config.RetrievalConfig
	chitchat   keywords
	continuity keywords
	sink       log.EventSink
	logger     *log.Logger
}

// NewRouter 创建路由器
func NewRouter(searcher vector.Searcher, cfg *config.Config, sink log.EventSink, logger *log.Logger) *Router {
	return &Router{
		name:       "router",
		searcher:   searcher,
		router:     cfg.Router,
		retrieval:  cfg.Retrieval,
		chitchat:   newKeywords(cfg.Router.ChitchatVocab),
		continuity: newKeywords(cfg.Continuity.Keywords),
		sink:       orNop(sink),
		logger:     orNopLogger(logger),
	}
}

// Name 返回组件名称
func (r *Router) Name() string {
	return r.name
}

// Decide 生成路由决策；探测失败时强制检索，不向调用方返回错误
func (r *Router) Decide(ctx context.Context, q common.Question, meta common.RequestMeta) common.RoutingDecision {
	ctx, span := tracing.StartStageSpan(ctx, common.StageRoute, meta.TraceID)
	defer span.End()
	started := time.Now()

	d := common.RoutingDecision{NeedRetrieval: true, K: r.retrieval.KHigh, Reason: "default"}
	text := newKeywordText(q.Text)
	if r.chitchat.matchAny(text) {
		d.NeedRetrieval = false
		d.Reason = "chitchat"
	}

	hits, err := r.searcher.SearchWithScore(ctx, q.Text, probeK)
	if err != nil {
		r.logger.Warn("路由探测检索失败", "trace_id", meta.TraceID, "error", err)
		d.NeedRetrieval = true
		d.Reason = "retrieval_error"
	} else if conf, ok := confidenceFromHits(hits, r.router.MarginThreshold, r.router.ConfHigh, r.router.ConfMed); ok {
		value := conf.Value
		d.Confidence = &value
		d.Bucket = conf.Bucket
		d.K = r.kForBucket(conf.Bucket)
		d.NeedRetrieval = conf.Top < r.router.TopscoreThreshold ||
			conf.Margin < r.router.MarginThreshold ||
			conf.Bucket != common.BucketHigh
		d.Reason = fmt.Sprintf("scores(top=%.3f,margin=%.3f)", conf.Top, conf.Margin)
	}
	if r.retrieval.KOverride > 0 {
		d.K = r.retrieval.KOverride
	}

	if r.router.LangDetectEnabled {
		d.Lang = q.Lang
		if len(r.router.LangAllow) > 0 && (q.Lang == "" || !slices.Contains(r.router.LangAllow, q.Lang)) {
			d.K = max(d.K, r.router.LangMismatchK)
			d.Reason = strings.Trim(d.Reason+"; lang_mismatch", "; ")
		}
	}

	if r.continuity.matchAny(text) {
		d.UseGraph = true
	}

	bucket := string(d.Bucket)
	if bucket == "" {
		bucket = "none"
	}
	metrics.RouteTotal.WithLabelValues(bucket, strconv.FormatBool(d.NeedRetrieval)).Inc()
	emitStage(r.sink, common.StageRoute, meta, log.Fields{
		"need":                        d.NeedRetrieval,
		"use_graph":                   d.UseGraph,
		"k":                           d.K,
		"reason":                      d.Reason,
		"retrieval_confidence":        d.Confidence,
		"retrieval_confidence_bucket": d.Bucket,
		"lang":                        d.Lang,
		"lang_allow":                  r.router.LangAllow,
		"latency_ms":                  observeStage(common.StageRoute, started),
	})
	return d
}

func (r *Router) kForBucket(b common.Bucket) int {
	switch b {
	case common.BucketHigh:
		return r.retrieval.KHigh
	case common.BucketMedium:
		return r.retrieval.KMed
	default:
		return r.retrieval.KLow
	}
}
