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

package graph

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Querier pgxpool.Pool 的最小子集，便于用 pgxmock 测试
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Close()
}

// neighborsSQL 边表 chunk_next(src, dst)：后继在前，前驱在后
const neighborsSQL = `
SELECT dst AS id, 0 AS dir FROM chunk_next WHERE src = $1
UNION ALL
SELECT src AS id, 1 AS dir FROM chunk_next WHERE dst = $1
ORDER BY dir, id`

// PostgresStore 基于 PostgreSQL 边表的图实现
type PostgresStore struct {
	db Querier
}

// NewPostgresStore 连接 PostgreSQL
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("graph postgres dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &PostgresStore{db: pool}, nil
}

// NewPostgresStoreWithQuerier 使用已有连接（测试注入 pgxmock）
func NewPostgresStoreWithQuerier(db Querier) *PostgresStore {
	return &PostgresStore{db: db}
}

// Neighbors 实现 Store
func (s *PostgresStore) Neighbors(ctx context.Context, chunkID string) ([]string, error) {
	rows, err := s.db.Query(ctx, neighborsSQL, chunkID)
	if err != nil {
		return nil, fmt.Errorf("query neighbors: %w", err)
	}
	defer rows.Close()
	var next, prev []string
	for rows.Next() {
		var id string
		var dir int
		if err := rows.Scan(&id, &dir); err != nil {
			return nil, fmt.Errorf("scan neighbor: %w", err)
		}
		if dir == 0 {
			next = append(next, id)
		} else {
			prev = append(prev, id)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate neighbors: %w", err)
	}
	return dedupIDs(next, prev), nil
}

// Close 关闭连接池
func (s *PostgresStore) Close() error {
	s.db.Close()
	return nil
}
