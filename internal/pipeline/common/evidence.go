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

package common

import (
	"fmt"
	"strings"
)

// MaxEvidence 合并后证据列表的默认上限
const MaxEvidence = 8

// MergeEvidence 按顺序拼接多组证据，按 DedupKey 去重（先出现者保留），重新编号 Rank（从 1 开始）。
// limit <= 0 表示不截断。输入切片不会被修改。
func MergeEvidence(limit int, sets ...[]EvidenceItem) []EvidenceItem {
	total := 0
	for _, s := range sets {
		total += len(s)
	}
	seen := make(map[string]struct{}, total)
	out := make([]EvidenceItem, 0, total)
	for _, s := range sets {
		for _, item := range s {
			key := item.DedupKey()
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			item.Rank = len(out) + 1
			out = append(out, item)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// RenderEvidence 渲染为编号列表：[i] content\nSOURCE: source，保持传入顺序
func RenderEvidence(items []EvidenceItem) string {
	parts := make([]string, 0, len(items))
	for i, it := range items {
		parts = append(parts, fmt.Sprintf("[%d] %s\nSOURCE: %s", i+1, it.Content, it.Source))
	}
	return strings.Join(parts, "\n\n")
}
