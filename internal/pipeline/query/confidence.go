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
	"math"

	"grounded-rag/internal/pipeline/common"
	"grounded-rag/internal/storage/vector"
)

// marginEpsilon margin_threshold 接近 0 时的分母下限
const marginEpsilon = 1e-6

// Confidence 探测检索得到的置信度
type Confidence struct {
	Top    float64
	Margin float64
	Value  float64
	Bucket common.Bucket
}

// EstimateConfidence 由 top-2 分数计算置信度与档位；top 为 nil（无探测结果）时返回 false。
// second 缺省按 0 计算；档位在阈值处取高档。
func EstimateConfidence(top, second *float64, marginThreshold, confHigh, confMed float64) (Confidence, bool) {
	if top == nil {
		return Confidence{}, false
	}
	s := 0.0
	if second != nil {
		s = *second
	}
	margin := *top - s
	value := clamp01(0.5**top + 0.5*(margin/math.Max(marginEpsilon, 2*marginThreshold)))

	bucket := common.BucketLow
	switch {
	case value >= confHigh:
		bucket = common.BucketHigh
	case value >= confMed:
		bucket = common.BucketMedium
	}
	return Confidence{Top: *top, Margin: margin, Value: value, Bucket: bucket}, true
}

// confidenceFromHits 取检索结果前两名的分数
func confidenceFromHits(hits []vector.Hit, marginThreshold, confHigh, confMed float64) (Confidence, bool) {
	if len(hits) == 0 {
		return Confidence{}, false
	}
	top := hits[0].Score
	var second *float64
	if len(hits) > 1 {
		s := hits[1].Score
		second = &s
	}
	return EstimateConfidence(&top, second, marginThreshold, confHigh, confMed)
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(1, v))
}
