package cache

import (
	"context"
	"errors"
	"time"
)

// ErrNil 键不存在
var ErrNil = errors.New("cache: key not found")

// Store 缓存存储接口：对话缓冲使用的列表与计数器原语，语义与 Redis 对齐
type Store interface {
	// Set 设置字符串值，expiration 为 0 表示不过期
	Set(ctx context.Context, key string, value string, expiration time.Duration) error
	// Get 获取字符串值，不存在返回 ErrNil
	Get(ctx context.Context, key string) (string, error)
	// Delete 删除键（不存在不报错）
	Delete(ctx context.Context, key string) error
	// Incr 计数器自增并返回新值
	Incr(ctx context.Context, key string) (int64, error)
	// RPush 追加到列表尾部，返回列表长度
	RPush(ctx context.Context, key string, values ...string) (int64, error)
	// LRange 读取列表区间，支持负下标
	LRange(ctx context.Context, key string, start, stop int64) ([]string, error)
	// LTrim 裁剪列表只保留区间内元素，支持负下标
	LTrim(ctx context.Context, key string, start, stop int64) error
	// LLen 列表长度
	LLen(ctx context.Context, key string) (int64, error)
	// Expire 刷新 TTL
	Expire(ctx context.Context, key string, ttl time.Duration) error
	// Close 关闭缓存连接
	Close() error
}
