// Copyright 2025 Praxis Authors
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

package config

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// DBPool shares *sql.DB handles across components so that sessions, tasks
// and approvals use the same connection pool per DSN. For SQLite the pool is
// capped at one connection to avoid "database is locked" errors.
type DBPool struct {
	mu    sync.Mutex
	pools map[string]*sql.DB
}

func NewDBPool() *DBPool {
	return &DBPool{pools: make(map[string]*sql.DB)}
}

// DriverName maps the config driver to the database/sql driver name.
func (c *StorageConfig) DriverName() string {
	switch c.Driver {
	case "sqlite":
		return "sqlite3"
	default:
		return c.Driver
	}
}

// Dialect returns the normalized dialect name used by SQL stores.
func (c *StorageConfig) Dialect() string {
	if c.Driver == "" {
		return "sqlite"
	}
	return c.Driver
}

// Get returns a shared connection pool for the storage config, opening one
// on first use.
func (p *DBPool) Get(cfg *StorageConfig) (*sql.DB, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	key := cfg.DriverName() + "|" + cfg.DSN
	if db, ok := p.pools[key]; ok {
		return db, nil
	}

	db, err := openDB(cfg)
	if err != nil {
		return nil, err
	}
	p.pools[key] = db
	return db, nil
}

func openDB(cfg *StorageConfig) (*sql.DB, error) {
	db, err := sql.Open(cfg.DriverName(), cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// SQLite supports one writer at a time; a single connection serializes
	// access.
	if cfg.DriverName() == "sqlite3" {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}
	db.SetConnMaxLifetime(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	if cfg.DriverName() == "sqlite3" {
		if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
			slog.Warn("Failed to enable WAL mode", "error", err)
		}
		if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout=10000"); err != nil {
			slog.Warn("Failed to set busy timeout", "error", err)
		}
	}
	return db, nil
}

// Close closes every pooled connection. The first error wins.
func (p *DBPool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var firstErr error
	for key, db := range p.pools {
		if err := db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(p.pools, key)
	}
	return firstErr
}
