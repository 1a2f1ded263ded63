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

package vector

import (
	"context"
	"fmt"
	"math"
	"slices"
)

const (
	DistanceCosine    = "cosine"
	DistanceEuclidean = "euclidean"
)

// EnsureIndex 索引不存在时按给定维度创建
func EnsureIndex(ctx context.Context, s Store, name string, dimension int, distance string) error {
	names, err := s.ListIndexes(ctx)
	if err != nil {
		return fmt.Errorf("list indexes: %w", err)
	}
	if slices.Contains(names, name) {
		return nil
	}
	if distance == "" {
		distance = DistanceCosine
	}
	return s.Create(ctx, Index{Name: name, Dimension: dimension, Distance: distance})
}

// similarity 分数越大越相近；euclidean 映射为 1/(1+d)
func similarity(distance string, a, b []float64) float64 {
	if distance == DistanceEuclidean {
		var sum float64
		for i := range a {
			d := a[i] - b[i]
			sum += d * d
		}
		return 1 / (1 + math.Sqrt(sum))
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
