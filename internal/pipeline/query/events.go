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
	"time"

	"grounded-rag/internal/pipeline/common"
	"grounded-rag/pkg/log"
	"grounded-rag/pkg/metrics"
)

// emitStage 写一条阶段事件：请求元数据 + stage + 阶段字段
func emitStage(sink log.EventSink, event string, meta common.RequestMeta, fields log.Fields) {
	if sink == nil {
		return
	}
	payload := log.Fields(meta.Fields())
	payload["stage"] = event
	for k, v := range fields {
		payload[k] = v
	}
	sink.Emit(event, payload)
}

// observeStage 记录阶段耗时并返回毫秒数
func observeStage(stage string, started time.Time) int64 {
	d := time.Since(started)
	metrics.StageDuration.WithLabelValues(stage).Observe(d.Seconds())
	return d.Milliseconds()
}

func orNop(sink log.EventSink) log.EventSink {
	if sink == nil {
		return log.NopSink{}
	}
	return sink
}

func orNopLogger(logger *log.Logger) *log.Logger {
	if logger == nil {
		return log.NewNop()
	}
	return logger
}
