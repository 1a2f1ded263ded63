package graph

import (
	"context"
	"fmt"

	"grounded-rag/pkg/config"
)

// NewStore 根据配置创建图后端；type=none 返回 nil, nil（图扩展关闭）
func NewStore(ctx context.Context, cfg config.GraphConfig) (Store, error) {
	switch cfg.Type {
	case "", "none":
		return nil, nil
	case "memory":
		return NewMemoryStore(), nil
	case "postgres":
		s, err := NewPostgresStore(ctx, cfg.DSN)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("不支持的图存储类型: %s", cfg.Type)
	}
}
