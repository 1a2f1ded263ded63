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

package memory

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"grounded-rag/internal/pipeline/common"
	"grounded-rag/internal/storage/cache"
	"grounded-rag/internal/storage/object"
	"grounded-rag/pkg/config"
	"grounded-rag/pkg/log"
	"grounded-rag/pkg/metrics"
)

// DefaultConvID 未指定会话时使用
const DefaultConvID = "default"

// seqFloorSize 进程内记录最近发号的会话数
const seqFloorSize = 4096

// Options 对话记忆参数
type Options struct {
	MaxTurns         int
	TTL              time.Duration
	Prefix           string
	BackfillMaxLines int
	BackfillDays     int
}

// OptionsFromConfig 由存储配置得到记忆参数
func OptionsFromConfig(cfg config.StorageConfig) Options {
	return Options{
		MaxTurns:         cfg.Cache.MaxTurns,
		TTL:              cfg.Cache.TTL,
		Prefix:           cfg.Object.Prefix,
		BackfillMaxLines: cfg.Object.BackfillMaxLines,
		BackfillDays:     cfg.Object.BackfillDays,
	}
}

func (o Options) withDefaults() Options {
	if o.MaxTurns <= 0 {
		o.MaxTurns = 20
	}
	if o.TTL <= 0 {
		o.TTL = 24 * time.Hour
	}
	if o.BackfillMaxLines <= 0 {
		o.BackfillMaxLines = 50
	}
	if o.BackfillDays <= 0 {
		o.BackfillDays = 3
	}
	o.Prefix = strings.Trim(o.Prefix, "/")
	return o
}

// Conversation 两级对话记忆：有界带 TTL 的缓存列表 + 按天分区的 NDJSON 持久日志。
// 所有操作 best-effort，后端不可用时只降级，不返回错误。
type Conversation struct {
	cache   cache.Store  // nil 表示未启用
	objects object.Store // nil 表示未启用
	opts    Options
	sink    log.EventSink
	logger  *log.Logger

	seqFloor *lru.Cache[string, int64]
	locks    keyedMutex
	now      func() time.Time
}

// NewConversation 创建对话记忆；cacheStore 与 objects 均可为 nil
func NewConversation(cacheStore cache.Store, objects object.Store, opts Options, sink log.EventSink, logger *log.Logger) (*Conversation, error) {
	floor, err := lru.New[string, int64](seqFloorSize)
	if err != nil {
		return nil, fmt.Errorf("创建 seq 缓存失败: %w", err)
	}
	if sink == nil {
		sink = log.NopSink{}
	}
	if logger == nil {
		logger = log.NewNop()
	}
	c := &Conversation{
		cache:    cacheStore,
		objects:  objects,
		opts:     opts.withDefaults(),
		sink:     sink,
		logger:   logger,
		seqFloor: floor,
		locks:    keyedMutex{locks: make(map[string]*keyedLock)},
		now:      time.Now,
	}
	sink.Emit("mem.init", log.Fields{
		"cache_enabled":  cacheStore != nil,
		"object_enabled": objects != nil,
		"object_prefix":  c.opts.Prefix,
		"max_turns":      c.opts.MaxTurns,
		"ttl_seconds":    int64(c.opts.TTL.Seconds()),
	})
	return c, nil
}

// AppendTurn 分配 seq，写入缓存列表（裁剪并刷新 TTL），再追加到当天的持久日志
func (c *Conversation) AppendTurn(ctx context.Context, convID string, role common.Role, text string, meta map[string]any) common.Turn {
	convID = normalizeConvID(convID)
	if meta == nil {
		meta = map[string]any{}
	}
	ts := c.now().UTC()
	turn := common.Turn{
		TS:     ts.Format(time.RFC3339Nano),
		ConvID: convID,
		Seq:    c.nextSeq(ctx, convID),
		Role:   role,
		Text:   text,
		Meta:   meta,
	}
	line, err := json.Marshal(turn)
	if err != nil {
		c.logger.Warn("对话记录序列化失败", "conv_id", convID, "error", err)
		return turn
	}
	c.appendToCache(ctx, turn, line)
	c.appendToObject(ctx, turn, ts, line)
	return turn
}

// GetBuffer 按写入顺序返回缓存中的对话；缓存不可用时返回空
func (c *Conversation) GetBuffer(ctx context.Context, convID string) []common.Turn {
	if c.cache == nil {
		return nil
	}
	convID = normalizeConvID(convID)
	items, err := c.cache.LRange(ctx, bufferKey(convID), 0, -1)
	if err != nil {
		metrics.MemoryErrorsTotal.WithLabelValues("cache").Inc()
		c.logger.Debug("读取对话缓存失败", "conv_id", convID, "error", err)
		return nil
	}
	out := make([]common.Turn, 0, len(items))
	for _, it := range items {
		var t common.Turn
		if err := json.Unmarshal([]byte(it), &t); err != nil {
			continue
		}
		out = append(out, t)
	}
	c.sink.Emit("mem.redis.read", log.Fields{"conv_id": convID, "count": len(out)})
	return out
}

// EnsureBackfill 缓存为空时从最近几天的持久日志重建缓存，并把计数器重置为见过的最大 seq
func (c *Conversation) EnsureBackfill(ctx context.Context, convID string) {
	convID = normalizeConvID(convID)
	if c.cache == nil || c.objects == nil {
		c.sink.Emit("mem.backfill.skip", log.Fields{
			"conv_id":    convID,
			"reason":     "missing_cache_or_object",
			"has_cache":  c.cache != nil,
			"has_object": c.objects != nil,
		})
		return
	}
	key := bufferKey(convID)
	n, err := c.cache.LLen(ctx, key)
	if err != nil {
		c.backfillError(convID, err)
		return
	}
	if n > 0 {
		c.sink.Emit("mem.backfill.skip", log.Fields{"conv_id": convID, "reason": "buffer_not_empty"})
		return
	}

	turns := c.readRecent(ctx, convID)
	if len(turns) == 0 {
		c.sink.Emit("mem.backfill.empty", log.Fields{"conv_id": convID, "max_lines": c.opts.BackfillMaxLines})
		return
	}

	var lastSeq int64
	for _, t := range turns {
		lastSeq = max(lastSeq, t.Seq)
	}
	replay := turns
	if len(replay) > c.opts.MaxTurns {
		replay = replay[len(replay)-c.opts.MaxTurns:]
	}
	values := make([]string, 0, len(replay))
	for _, t := range replay {
		b, err := json.Marshal(t)
		if err != nil {
			continue
		}
		values = append(values, string(b))
	}
	if _, err := c.cache.RPush(ctx, key, values...); err != nil {
		c.backfillError(convID, err)
		return
	}
	if err := c.cache.Expire(ctx, key, c.opts.TTL); err != nil {
		c.backfillError(convID, err)
		return
	}
	if err := c.resetSeq(ctx, convID, lastSeq); err != nil {
		c.backfillError(convID, err)
		return
	}
	c.sink.Emit("mem.backfill.ok", log.Fields{"conv_id": convID, "added": len(values), "last_seq": lastSeq})
}

func (c *Conversation) backfillError(convID string, err error) {
	metrics.MemoryErrorsTotal.WithLabelValues("cache").Inc()
	c.logger.Debug("对话回填失败", "conv_id", convID, "error", err)
	c.sink.Emit("mem.backfill.error", log.Fields{"conv_id": convID, "error": err.Error()})
}

// nextSeq 优先用缓存计数器；不可用时退化为 unix 秒。
// 同一会话的发号在进程内串行，取号、追平与记录下限不会被其他写者插入。
func (c *Conversation) nextSeq(ctx context.Context, convID string) int64 {
	unlock := c.locks.Lock(seqLockKey(convID))
	defer unlock()

	reason := "no_cache"
	if c.cache != nil {
		n, err := c.cache.Incr(ctx, seqKey(convID))
		if err == nil {
			if last, ok := c.seqFloor.Get(convID); ok && n <= last {
				n = last + 1
				// 计数器落后于本进程已发出的 seq（例如曾经退化过），追平它
				_ = c.cache.Set(ctx, seqKey(convID), strconv.FormatInt(n, 10), 0)
			}
			c.seqFloor.Add(convID, n)
			return n
		}
		reason = "cache_incr_error"
		metrics.MemoryErrorsTotal.WithLabelValues("cache").Inc()
	}
	c.sink.Emit("mem.seq.fallback", log.Fields{"conv_id": convID, "reason": reason})
	seq := c.now().Unix()
	if last, ok := c.seqFloor.Get(convID); ok && seq <= last {
		seq = last + 1
	}
	c.seqFloor.Add(convID, seq)
	return seq
}

// resetSeq 回填后把计数器对齐到日志中的最大 seq，并抬高进程内下限
func (c *Conversation) resetSeq(ctx context.Context, convID string, seq int64) error {
	unlock := c.locks.Lock(seqLockKey(convID))
	defer unlock()
	if err := c.cache.Set(ctx, seqKey(convID), strconv.FormatInt(seq, 10), 0); err != nil {
		return err
	}
	if last, ok := c.seqFloor.Get(convID); !ok || last < seq {
		c.seqFloor.Add(convID, seq)
	}
	return nil
}

func (c *Conversation) appendToCache(ctx context.Context, turn common.Turn, line []byte) {
	if c.cache == nil {
		return
	}
	key := bufferKey(turn.ConvID)
	err := func() error {
		if _, err := c.cache.RPush(ctx, key, string(line)); err != nil {
			return err
		}
		if err := c.cache.LTrim(ctx, key, -int64(c.opts.MaxTurns), -1); err != nil {
			return err
		}
		return c.cache.Expire(ctx, key, c.opts.TTL)
	}()
	if err != nil {
		metrics.MemoryErrorsTotal.WithLabelValues("cache").Inc()
		c.sink.Emit("mem.redis.append.error", log.Fields{"conv_id": turn.ConvID, "error": err.Error()})
		return
	}
	c.sink.Emit("mem.redis.append", log.Fields{"conv_id": turn.ConvID, "role": turn.Role, "seq": turn.Seq})
}

// appendToObject 读取当天对象、追加一行、整体写回；同一会话在进程内串行
func (c *Conversation) appendToObject(ctx context.Context, turn common.Turn, ts time.Time, line []byte) {
	if c.objects == nil {
		return
	}
	path := c.dailyPath(turn.ConvID, ts)
	unlock := c.locks.Lock(turn.ConvID)
	defer unlock()

	existing, err := object.ReadAll(ctx, c.objects, path)
	if err != nil && !errors.Is(err, object.ErrNotFound) {
		c.objectError(turn.ConvID, path, err)
		return
	}
	var buf bytes.Buffer
	buf.Grow(len(existing) + len(line) + 1)
	buf.Write(existing)
	buf.Write(line)
	buf.WriteByte('\n')
	size := int64(buf.Len())
	if err := c.objects.Put(ctx, path, &buf, size, map[string]string{"conv_id": turn.ConvID}); err != nil {
		c.objectError(turn.ConvID, path, err)
		return
	}
	c.sink.Emit("mem.object.append", log.Fields{"conv_id": turn.ConvID, "object": path, "bytes": size})
}

func (c *Conversation) objectError(convID, path string, err error) {
	metrics.MemoryErrorsTotal.WithLabelValues("object").Inc()
	c.sink.Emit("mem.object.append.error", log.Fields{
		"conv_id":    convID,
		"object":     path,
		"error":      err.Error(),
		"error_type": fmt.Sprintf("%T", err),
	})
}

// readRecent 从今天往前扫描最多 BackfillDays 个分区，按时间顺序返回最后 BackfillMaxLines 条；无法解析的行跳过
func (c *Conversation) readRecent(ctx context.Context, convID string) []common.Turn {
	today := c.now().UTC()
	var days [][]common.Turn // 新到旧
	total := 0
	for delta := 0; delta < c.opts.BackfillDays && total < c.opts.BackfillMaxLines; delta++ {
		path := c.dailyPath(convID, today.AddDate(0, 0, -delta))
		data, err := object.ReadAll(ctx, c.objects, path)
		if err != nil {
			if !errors.Is(err, object.ErrNotFound) {
				metrics.MemoryErrorsTotal.WithLabelValues("object").Inc()
				c.logger.Debug("读取对话日志失败", "object", path, "error", err)
			}
			continue
		}
		turns := decodeLines(data)
		days = append(days, turns)
		total += len(turns)
	}

	var out []common.Turn
	for i := len(days) - 1; i >= 0; i-- {
		out = append(out, days[i]...)
	}
	if len(out) > c.opts.BackfillMaxLines {
		out = out[len(out)-c.opts.BackfillMaxLines:]
	}
	return out
}

func decodeLines(data []byte) []common.Turn {
	var turns []common.Turn
	for _, ln := range bytes.Split(data, []byte("\n")) {
		if len(bytes.TrimSpace(ln)) == 0 {
			continue
		}
		var t common.Turn
		if err := json.Unmarshal(ln, &t); err != nil {
			continue
		}
		turns = append(turns, t)
	}
	return turns
}

func (c *Conversation) dailyPath(convID string, day time.Time) string {
	name := convID + "/" + day.UTC().Format("2006-01-02") + ".ndjson"
	if c.opts.Prefix == "" {
		return name
	}
	return c.opts.Prefix + "/" + name
}

func bufferKey(convID string) string { return "buffer:" + convID }

func seqKey(convID string) string { return "buffer:" + convID + ":seq" }

func seqLockKey(convID string) string { return "seq\x00" + convID }

func normalizeConvID(convID string) string {
	if convID = strings.TrimSpace(convID); convID == "" {
		return DefaultConvID
	}
	return convID
}

// keyedMutex 按 key 加锁，无人持有时回收
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	sync.Mutex
	refs int
}

// Lock 锁住 key，返回解锁函数
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &keyedLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
