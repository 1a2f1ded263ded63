package graph

import "context"

// Store 切片连续性图：chunk 之间的 NEXT 边
type Store interface {
	// Neighbors 返回 1 跳前驱与后继的 chunk_id（先后继，后前驱，去重）
	Neighbors(ctx context.Context, chunkID string) ([]string, error)
	// Close 关闭连接
	Close() error
}
