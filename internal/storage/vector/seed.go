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
	"os"

	"github.com/tidwall/gjson"
)

// seedBatchSize 每批向量化的切片数
const seedBatchSize = 64

// LoadSeedFile 从 NDJSON 文件灌入切片，每行 {"chunk_id","source","chunk_index","content"}；
// 缺 chunk_id 或 content 的行视为格式错误。返回写入的切片数。
func LoadSeedFile(ctx context.Context, s *MemorySearcher, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read seed file: %w", err)
	}
	chunks, err := parseSeed(string(data))
	if err != nil {
		return 0, fmt.Errorf("seed file %s: %w", path, err)
	}
	for start := 0; start < len(chunks); start += seedBatchSize {
		end := min(start+seedBatchSize, len(chunks))
		if err := s.AddChunks(ctx, chunks[start:end]); err != nil {
			return start, fmt.Errorf("seed file %s: %w", path, err)
		}
	}
	return len(chunks), nil
}

func parseSeed(data string) ([]Chunk, error) {
	var (
		chunks []Chunk
		bad    error
		n      int
	)
	gjson.ForEachLine(data, func(r gjson.Result) bool {
		n++
		if !r.IsObject() {
			bad = fmt.Errorf("record %d: not a JSON object", n)
			return false
		}
		c := Chunk{
			ID:         r.Get(FieldChunkID).String(),
			Source:     r.Get(FieldSource).String(),
			ChunkIndex: int(r.Get(FieldChunkIndex).Int()),
			Content:    r.Get(FieldContent).String(),
		}
		if c.ID == "" || c.Content == "" {
			bad = fmt.Errorf("record %d: chunk_id and content are required", n)
			return false
		}
		chunks = append(chunks, c)
		return true
	})
	return chunks, bad
}
