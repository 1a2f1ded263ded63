package object

import (
	"context"
	"fmt"

	"grounded-rag/pkg/config"
)

// NewStore 根据配置创建对象存储；type=none 返回 nil, nil（持久日志关闭）
func NewStore(ctx context.Context, cfg config.ObjectConfig) (Store, error) {
	switch cfg.Type {
	case "", "none":
		return nil, nil
	case "memory":
		return NewMemoryStore(), nil
	case "gcs":
		s, err := NewGCSStore(ctx, cfg.Bucket, cfg.CredentialsFile)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("不支持的对象存储类型: %s", cfg.Type)
	}
}
