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

package cache

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"
)

// MemoryStore 内存缓存存储实现（单进程开发与测试用）
type MemoryStore struct {
	items map[string]*cacheItem
	mu    sync.Mutex
	now   func() time.Time
}

// cacheItem 缓存项：value 与 list 二选一
type cacheItem struct {
	value      string
	list       []string
	isList     bool
	expiration time.Time
}

// NewMemoryStore 创建新的内存缓存存储
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		items: make(map[string]*cacheItem),
		now:   time.Now,
	}
}

// lookup 取未过期的项，过期项顺便删除；调用方持锁
func (s *MemoryStore) lookup(key string) *cacheItem {
	item, ok := s.items[key]
	if !ok {
		return nil
	}
	if !item.expiration.IsZero() && !s.now().Before(item.expiration) {
		delete(s.items, key)
		return nil
	}
	return item
}

// Set 设置缓存
func (s *MemoryStore) Set(ctx context.Context, key string, value string, expiration time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	item := &cacheItem{value: value}
	if expiration > 0 {
		item.expiration = s.now().Add(expiration)
	}
	s.items[key] = item
	return nil
}

// Get 获取缓存
func (s *MemoryStore) Get(ctx context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item := s.lookup(key)
	if item == nil {
		return "", ErrNil
	}
	if item.isList {
		return "", fmt.Errorf("cache item with key %s holds a list", key)
	}
	return item.value, nil
}

// Delete 删除缓存
func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, key)
	return nil
}

// Incr 计数器自增
func (s *MemoryStore) Incr(ctx context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item := s.lookup(key)
	if item == nil {
		item = &cacheItem{value: "0"}
		s.items[key] = item
	}
	if item.isList {
		return 0, fmt.Errorf("cache item with key %s holds a list", key)
	}
	n, err := strconv.ParseInt(item.value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("cache item with key %s is not an integer", key)
	}
	n++
	item.value = strconv.FormatInt(n, 10)
	return n, nil
}

// RPush 追加到列表尾部
func (s *MemoryStore) RPush(ctx context.Context, key string, values ...string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item := s.lookup(key)
	if item == nil {
		item = &cacheItem{isList: true}
		s.items[key] = item
	}
	if !item.isList {
		return 0, fmt.Errorf("cache item with key %s is not a list", key)
	}
	item.list = append(item.list, values...)
	return int64(len(item.list)), nil
}

// LRange 读取列表区间
func (s *MemoryStore) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item := s.lookup(key)
	if item == nil || !item.isList {
		return []string{}, nil
	}
	from, to, ok := normalizeRange(int64(len(item.list)), start, stop)
	if !ok {
		return []string{}, nil
	}
	out := make([]string, to-from+1)
	copy(out, item.list[from:to+1])
	return out, nil
}

// LTrim 裁剪列表
func (s *MemoryStore) LTrim(ctx context.Context, key string, start, stop int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	item := s.lookup(key)
	if item == nil || !item.isList {
		return nil
	}
	from, to, ok := normalizeRange(int64(len(item.list)), start, stop)
	if !ok {
		delete(s.items, key)
		return nil
	}
	item.list = append([]string(nil), item.list[from:to+1]...)
	return nil
}

// LLen 列表长度
func (s *MemoryStore) LLen(ctx context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item := s.lookup(key)
	if item == nil || !item.isList {
		return 0, nil
	}
	return int64(len(item.list)), nil
}

// Expire 刷新 TTL
func (s *MemoryStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	item := s.lookup(key)
	if item == nil {
		return nil
	}
	if ttl <= 0 {
		delete(s.items, key)
		return nil
	}
	item.expiration = s.now().Add(ttl)
	return nil
}

// Close 关闭缓存连接
func (s *MemoryStore) Close() error {
	return nil
}

// normalizeRange 按 Redis 规则把可能为负的闭区间转换为合法下标
func normalizeRange(n, start, stop int64) (int64, int64, bool) {
	if start < 0 {
		start += n
	}
	if stop < 0 {
		stop += n
	}
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	if n == 0 || start > stop || start >= n {
		return 0, 0, false
	}
	return start, stop, true
}
