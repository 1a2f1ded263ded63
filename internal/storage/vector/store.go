package vector

import (
	"context"
	"fmt"

	einoembed "github.com/cloudwego/eino/components/embedding"

	"grounded-rag/pkg/config"
)

// NewSearcher 根据配置创建 Searcher（memory 用内存索引，可由 seed_path 预灌切片；redis 用 eino-ext）
func NewSearcher(ctx context.Context, cfg config.VectorConfig, embedder einoembed.Embedder) (Searcher, error) {
	switch cfg.Type {
	case "", "memory":
		s, err := NewMemorySearcher(NewMemoryStore(), cfg.Collection, embedder)
		if err != nil {
			return nil, err
		}
		if cfg.SeedPath != "" {
			if _, err := LoadSeedFile(ctx, s, cfg.SeedPath); err != nil {
				return nil, err
			}
		}
		return s, nil
	case "redis":
		s, err := NewRedisSearcher(ctx, cfg, embedder)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unsupported vector type: %s", cfg.Type)
	}
}
