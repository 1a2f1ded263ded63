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

package log

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Fields 单条阶段事件的负载
type Fields map[string]any

// EventSink 阶段事件追加写入口；实现不得向调用方返回错误，也不得阻断控制流
type EventSink interface {
	Emit(event string, fields Fields)
}

// NopSink 丢弃所有事件
type NopSink struct{}

// Emit 实现 EventSink
func (NopSink) Emit(string, Fields) {}

// FileSink 以 NDJSON 追加写入文件，每行 {ts, event, ...fields}
type FileSink struct {
	mu     sync.Mutex
	f      *os.File
	logger *Logger
}

// NewFileSink 打开（必要时创建）事件日志文件
func NewFileSink(path string, logger *Logger) (*FileSink, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	return &FileSink{f: f, logger: logger}, nil
}

// Emit 写入一行事件；序列化或写入失败只记 debug 日志
func (s *FileSink) Emit(event string, fields Fields) {
	line, err := encodeEvent(time.Now().UTC(), event, fields)
	if err != nil {
		s.debug("事件序列化失败", event, err)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.f.Write(line); err != nil {
		s.debug("事件写入失败", event, err)
	}
}

// Close 关闭底层文件
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.f.Close()
}

func (s *FileSink) debug(msg, event string, err error) {
	if s.logger != nil {
		s.logger.Debug(msg, "event", event, "error", err)
	}
}

// MemorySink 把事件保存在内存中，测试与调试用
type MemorySink struct {
	mu     sync.Mutex
	events []Event
}

// Event 已记录的事件
type Event struct {
	Name   string
	Fields Fields
}

// Emit 实现 EventSink
func (s *MemorySink) Emit(event string, fields Fields) {
	cp := make(Fields, len(fields))
	for k, v := range fields {
		cp[k] = v
	}
	s.mu.Lock()
	s.events = append(s.events, Event{Name: event, Fields: cp})
	s.mu.Unlock()
}

// Events 返回已记录事件的副本
func (s *MemorySink) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}

// Named 返回指定名称的事件
func (s *MemorySink) Named(name string) []Event {
	var out []Event
	for _, e := range s.Events() {
		if e.Name == name {
			out = append(out, e)
		}
	}
	return out
}

func encodeEvent(ts time.Time, event string, fields Fields) ([]byte, error) {
	payload := make(map[string]any, len(fields)+2)
	for k, v := range fields {
		payload[k] = v
	}
	payload["ts"] = ts.Format(time.RFC3339Nano)
	payload["event"] = event
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}
