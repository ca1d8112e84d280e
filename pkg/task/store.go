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

package task

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/a2aproject/a2a-go/a2a"
	"github.com/a2aproject/a2a-go/a2asrv"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// SQLTaskStore persists a2a.Task objects in a SQL database, implementing
// a2asrv.TaskStore so A2A request handlers survive process restarts.
// Status, history, artifacts and metadata are stored as JSON columns.
type SQLTaskStore struct {
	db      *sql.DB
	dialect string
}

const createTasksSQL = `
CREATE TABLE IF NOT EXISTS a2a_tasks (
    id VARCHAR(255) PRIMARY KEY,
    context_id VARCHAR(255) NOT NULL,
    status_json TEXT NOT NULL,
    history_json TEXT,
    artifacts_json TEXT,
    metadata_json TEXT,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
)`

const createTasksContextIndexSQL = `
CREATE INDEX IF NOT EXISTS idx_a2a_tasks_context_id ON a2a_tasks(context_id)`

const createTasksUpdatedIndexSQL = `
CREATE INDEX IF NOT EXISTS idx_a2a_tasks_updated_at ON a2a_tasks(updated_at)`

// NewSQLTaskStore creates a SQL-backed task store and initializes the
// schema. Share the db handle with other services on the same database
// to avoid SQLite lock contention.
func NewSQLTaskStore(db *sql.DB, dialect string) (*SQLTaskStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	switch dialect {
	case "sqlite3":
		dialect = "sqlite"
	case "postgres", "mysql", "sqlite":
	default:
		return nil, fmt.Errorf("unsupported dialect: %s (supported: postgres, mysql, sqlite)", dialect)
	}

	s := &SQLTaskStore{db: db, dialect: dialect}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize task schema: %w", err)
	}
	return s, nil
}

func (s *SQLTaskStore) initSchema() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// One statement per Exec for SQLite compatibility.
	for _, stmt := range []string{
		createTasksSQL,
		createTasksContextIndexSQL,
		createTasksUpdatedIndexSQL,
	} {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("execute schema statement: %w", err)
		}
	}
	return nil
}

// Save upserts a task. A task loaded through Get carries its row
// timestamp in Metadata["_updated_at"]; a mismatch on save means a
// concurrent writer got there first, which is logged, not rejected,
// since the protocol layer owns state transitions.
func (s *SQLTaskStore) Save(ctx context.Context, task *a2a.Task) error {
	if task == nil {
		return fmt.Errorf("task is required")
	}

	if expected, ok := task.Metadata["_updated_at"].(string); ok {
		current, err := s.taskUpdatedAt(ctx, task.ID)
		if err == nil && current != "" && current != expected {
			slog.Warn("stale task save",
				"taskID", task.ID, "expected", expected, "current", current)
		}
	}

	statusJSON, err := json.Marshal(task.Status)
	if err != nil {
		return fmt.Errorf("marshal status: %w", err)
	}
	historyJSON, err := marshalOr(task.History, "[]")
	if err != nil {
		return fmt.Errorf("marshal history: %w", err)
	}
	artifactsJSON, err := marshalOr(task.Artifacts, "[]")
	if err != nil {
		return fmt.Errorf("marshal artifacts: %w", err)
	}
	metadataJSON, err := marshalOr(task.Metadata, "{}")
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	now := time.Now()
	_, err = s.db.ExecContext(ctx, s.upsertTaskQuery(),
		string(task.ID), task.ContextID, statusJSON,
		historyJSON, artifactsJSON, metadataJSON, now, now)
	if err != nil {
		return fmt.Errorf("save task: %w", err)
	}
	return nil
}

// Get retrieves a task by ID. Missing tasks return a2a.ErrTaskNotFound.
func (s *SQLTaskStore) Get(ctx context.Context, taskID a2a.TaskID) (*a2a.Task, error) {
	query := s.placeholders(`
SELECT id, context_id, status_json, history_json, artifacts_json, metadata_json, updated_at
FROM a2a_tasks WHERE id = ?`)

	var (
		id, contextID                            string
		statusJSON                               string
		historyJSON, artifactsJSON, metadataJSON sql.NullString
		updatedAt                                time.Time
	)
	err := s.db.QueryRowContext(ctx, query, string(taskID)).Scan(
		&id, &contextID, &statusJSON, &historyJSON,
		&artifactsJSON, &metadataJSON, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, a2a.ErrTaskNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query task: %w", err)
	}

	task := &a2a.Task{
		ID:        a2a.TaskID(id),
		ContextID: contextID,
		History:   []*a2a.Message{},
		Artifacts: []*a2a.Artifact{},
		Metadata:  map[string]any{},
	}
	if err := json.Unmarshal([]byte(statusJSON), &task.Status); err != nil {
		return nil, fmt.Errorf("unmarshal status: %w", err)
	}
	if historyJSON.String != "" && historyJSON.String != "[]" {
		if err := json.Unmarshal([]byte(historyJSON.String), &task.History); err != nil {
			return nil, fmt.Errorf("unmarshal history: %w", err)
		}
	}
	if artifactsJSON.String != "" && artifactsJSON.String != "[]" {
		if err := json.Unmarshal([]byte(artifactsJSON.String), &task.Artifacts); err != nil {
			return nil, fmt.Errorf("unmarshal artifacts: %w", err)
		}
	}
	if metadataJSON.String != "" && metadataJSON.String != "{}" {
		if err := json.Unmarshal([]byte(metadataJSON.String), &task.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}

	// Round-trip the row timestamp for stale-save detection.
	task.Metadata["_updated_at"] = updatedAt.Format(time.RFC3339Nano)
	return task, nil
}

func (s *SQLTaskStore) taskUpdatedAt(ctx context.Context, taskID a2a.TaskID) (string, error) {
	var updatedAt time.Time
	query := s.placeholders(`SELECT updated_at FROM a2a_tasks WHERE id = ?`)
	if err := s.db.QueryRowContext(ctx, query, string(taskID)).Scan(&updatedAt); err != nil {
		return "", err
	}
	return updatedAt.Format(time.RFC3339Nano), nil
}

func (s *SQLTaskStore) upsertTaskQuery() string {
	switch s.dialect {
	case "postgres":
		return `INSERT INTO a2a_tasks (id, context_id, status_json, history_json, artifacts_json, metadata_json, created_at, updated_at)
            VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
            ON CONFLICT (id) DO UPDATE SET
                context_id = EXCLUDED.context_id,
                status_json = EXCLUDED.status_json,
                history_json = EXCLUDED.history_json,
                artifacts_json = EXCLUDED.artifacts_json,
                metadata_json = EXCLUDED.metadata_json,
                updated_at = EXCLUDED.updated_at`
	case "mysql":
		return `INSERT INTO a2a_tasks (id, context_id, status_json, history_json, artifacts_json, metadata_json, created_at, updated_at)
            VALUES (?, ?, ?, ?, ?, ?, ?, ?)
            ON DUPLICATE KEY UPDATE
                context_id = VALUES(context_id),
                status_json = VALUES(status_json),
                history_json = VALUES(history_json),
                artifacts_json = VALUES(artifacts_json),
                metadata_json = VALUES(metadata_json),
                updated_at = VALUES(updated_at)`
	default: // sqlite, keeps created_at on conflict
		return `INSERT INTO a2a_tasks (id, context_id, status_json, history_json, artifacts_json, metadata_json, created_at, updated_at)
            VALUES (?, ?, ?, ?, ?, ?, ?, ?)
            ON CONFLICT(id) DO UPDATE SET
                context_id = excluded.context_id,
                status_json = excluded.status_json,
                history_json = excluded.history_json,
                artifacts_json = excluded.artifacts_json,
                metadata_json = excluded.metadata_json,
                updated_at = excluded.updated_at`
	}
}

// placeholders rewrites ? markers to $n for postgres.
func (s *SQLTaskStore) placeholders(query string) string {
	if s.dialect != "postgres" {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 1
	for _, c := range query {
		if c == '?' {
			fmt.Fprintf(&b, "$%d", n)
			n++
		} else {
			b.WriteRune(c)
		}
	}
	return b.String()
}

func marshalOr[T any](v T, empty string) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	out := string(raw)
	if out == "null" {
		return empty, nil
	}
	return out, nil
}

var _ a2asrv.TaskStore = (*SQLTaskStore)(nil)
