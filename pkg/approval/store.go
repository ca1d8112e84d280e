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

package approval

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// ErrTaskNotFound is returned when a task ID has no stored record.
var ErrTaskNotFound = errors.New("approval task not found")

// Store persists workflow tasks in sqlite so paused approvals survive
// process restarts.
type Store struct {
	db *sql.DB
}

const createApprovalTasksSQL = `
CREATE TABLE IF NOT EXISTS tasks (
    task_id TEXT PRIMARY KEY,
    thread_id TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    status TEXT NOT NULL,
    current_node TEXT,
    pending_action TEXT,
    user_input TEXT,
    error_message TEXT
)`

const createApprovalStatusIndexSQL = `
CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status)`

const createApprovalThreadIndexSQL = `
CREATE INDEX IF NOT EXISTS idx_tasks_thread ON tasks(thread_id)`

// NewStore creates a task store and initializes the schema.
func NewStore(db *sql.DB) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	for _, stmt := range []string{
		createApprovalTasksSQL,
		createApprovalStatusIndexSQL,
		createApprovalThreadIndexSQL,
	} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return nil, fmt.Errorf("initialize approval schema: %w", err)
		}
	}
	return &Store{db: db}, nil
}

// Create inserts a new task record.
func (s *Store) Create(ctx context.Context, task *Task) error {
	if task == nil || task.ID == "" {
		return fmt.Errorf("task with ID is required")
	}

	now := time.Now().UTC()
	task.CreatedAt = now
	task.UpdatedAt = now
	if task.Status == "" {
		task.Status = StatusPending
	}

	pendingJSON, err := marshalPlan(task.PendingAction)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
INSERT INTO tasks (task_id, thread_id, created_at, updated_at, status, current_node, pending_action, user_input, error_message)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		task.ID, task.ThreadID, task.CreatedAt, task.UpdatedAt,
		task.Status, task.CurrentNode, pendingJSON, task.UserInput, task.ErrorMessage)
	if err != nil {
		return fmt.Errorf("create task: %w", err)
	}
	return nil
}

// Get loads a task by ID.
func (s *Store) Get(ctx context.Context, taskID string) (*Task, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT task_id, thread_id, created_at, updated_at, status, current_node, pending_action, user_input, error_message
FROM tasks WHERE task_id = ?`, taskID)
	return scanTask(row)
}

// Update rewrites the mutable columns of a task and bumps updated_at.
func (s *Store) Update(ctx context.Context, task *Task) error {
	if task == nil || task.ID == "" {
		return fmt.Errorf("task with ID is required")
	}
	task.UpdatedAt = time.Now().UTC()

	pendingJSON, err := marshalPlan(task.PendingAction)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `
UPDATE tasks SET updated_at = ?, status = ?, current_node = ?, pending_action = ?, error_message = ?
WHERE task_id = ?`,
		task.UpdatedAt, task.Status, task.CurrentNode, pendingJSON, task.ErrorMessage, task.ID)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrTaskNotFound
	}
	return nil
}

// ListByStatus returns tasks in the given status, oldest first.
func (s *Store) ListByStatus(ctx context.Context, status string) ([]*Task, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT task_id, thread_id, created_at, updated_at, status, current_node, pending_action, user_input, error_message
FROM tasks WHERE status = ? ORDER BY created_at`, status)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var tasks []*Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

// PendingApprovals returns tasks waiting for a human decision.
func (s *Store) PendingApprovals(ctx context.Context) ([]*Task, error) {
	return s.ListByStatus(ctx, StatusWaitingApproval)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*Task, error) {
	var (
		task                     Task
		currentNode, pendingJSON sql.NullString
		userInput, errorMessage  sql.NullString
	)
	err := row.Scan(&task.ID, &task.ThreadID, &task.CreatedAt, &task.UpdatedAt,
		&task.Status, &currentNode, &pendingJSON, &userInput, &errorMessage)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTaskNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan task: %w", err)
	}

	task.CurrentNode = currentNode.String
	task.UserInput = userInput.String
	task.ErrorMessage = errorMessage.String
	if pendingJSON.String != "" {
		var plan ActionPlan
		if err := json.Unmarshal([]byte(pendingJSON.String), &plan); err != nil {
			return nil, fmt.Errorf("unmarshal pending action: %w", err)
		}
		task.PendingAction = &plan
	}
	return &task, nil
}

func marshalPlan(plan *ActionPlan) (string, error) {
	if plan == nil {
		return "", nil
	}
	raw, err := json.Marshal(plan)
	if err != nil {
		return "", fmt.Errorf("marshal pending action: %w", err)
	}
	return string(raw), nil
}
