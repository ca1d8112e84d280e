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

// Package durable provides journaled execution: named steps run once
// and replay their recorded result on re-run, and awakeables let
// external callers resolve a paused execution. Both survive process
// restarts through a sqlite journal.
package durable

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

var (
	// ErrAwakeableNotFound is returned for an unknown awakeable ID.
	ErrAwakeableNotFound = errors.New("awakeable not found")

	// ErrAwakeableSettled is returned when resolving or rejecting an
	// awakeable that already has an outcome.
	ErrAwakeableSettled = errors.New("awakeable already settled")

	// ErrRejected is returned from Await when the awakeable was
	// rejected; the rejection reason is joined onto it.
	ErrRejected = errors.New("awakeable rejected")
)

// Awakeable statuses as stored in the journal.
const (
	awakeablePending  = "pending"
	awakeableResolved = "resolved"
	awakeableRejected = "rejected"
)

// Journal persists step results and awakeable outcomes.
type Journal struct {
	db *sql.DB
}

const createStepsSQL = `
CREATE TABLE IF NOT EXISTS durable_steps (
    execution_id TEXT NOT NULL,
    step_name TEXT NOT NULL,
    result TEXT,
    error_message TEXT,
    completed INTEGER NOT NULL DEFAULT 0,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (execution_id, step_name)
)`

const createAwakeablesSQL = `
CREATE TABLE IF NOT EXISTS durable_awakeables (
    awakeable_id TEXT PRIMARY KEY,
    execution_id TEXT NOT NULL,
    status TEXT NOT NULL,
    result TEXT,
    error_message TEXT,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
)`

const createAwakeableExecIndexSQL = `
CREATE INDEX IF NOT EXISTS idx_awakeables_execution ON durable_awakeables(execution_id)`

// NewJournal creates a journal and initializes the schema.
func NewJournal(db *sql.DB) (*Journal, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	for _, stmt := range []string{
		createStepsSQL,
		createAwakeablesSQL,
		createAwakeableExecIndexSQL,
	} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return nil, fmt.Errorf("initialize durable schema: %w", err)
		}
	}
	return &Journal{db: db}, nil
}

// completedResult returns the recorded result of a step, or ok=false
// when the step has not completed yet.
func (j *Journal) completedResult(ctx context.Context, executionID, stepName string) (json.RawMessage, bool, error) {
	var (
		result    sql.NullString
		completed bool
	)
	err := j.db.QueryRowContext(ctx, `
SELECT result, completed FROM durable_steps
WHERE execution_id = ? AND step_name = ?`, executionID, stepName).Scan(&result, &completed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("load step: %w", err)
	}
	if !completed {
		return nil, false, nil
	}
	return json.RawMessage(result.String), true, nil
}

// recordCompletion journals a successful step result.
func (j *Journal) recordCompletion(ctx context.Context, executionID, stepName string, result json.RawMessage) error {
	_, err := j.db.ExecContext(ctx, `
INSERT INTO durable_steps (execution_id, step_name, result, error_message, completed, updated_at)
VALUES (?, ?, ?, '', 1, ?)
ON CONFLICT (execution_id, step_name) DO UPDATE SET
    result = excluded.result, error_message = '', completed = 1, updated_at = excluded.updated_at`,
		executionID, stepName, string(result), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("journal step: %w", err)
	}
	return nil
}

// recordFailure journals the last error of a step without marking it
// complete, so a later run retries it.
func (j *Journal) recordFailure(ctx context.Context, executionID, stepName string, cause error) error {
	_, err := j.db.ExecContext(ctx, `
INSERT INTO durable_steps (execution_id, step_name, result, error_message, completed, updated_at)
VALUES (?, ?, '', ?, 0, ?)
ON CONFLICT (execution_id, step_name) DO UPDATE SET
    error_message = excluded.error_message, completed = 0, updated_at = excluded.updated_at`,
		executionID, stepName, cause.Error(), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("journal step failure: %w", err)
	}
	return nil
}

func (j *Journal) createAwakeable(ctx context.Context, awakeableID, executionID string) error {
	now := time.Now().UTC()
	_, err := j.db.ExecContext(ctx, `
INSERT INTO durable_awakeables (awakeable_id, execution_id, status, result, error_message, created_at, updated_at)
VALUES (?, ?, ?, '', '', ?, ?)`,
		awakeableID, executionID, awakeablePending, now, now)
	if err != nil {
		return fmt.Errorf("create awakeable: %w", err)
	}
	return nil
}

// Resolve settles an awakeable with a value. External callers use this
// to unblock a paused execution.
func (j *Journal) Resolve(ctx context.Context, awakeableID string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal awakeable result: %w", err)
	}
	return j.settle(ctx, awakeableID, awakeableResolved, string(raw), "")
}

// Reject settles an awakeable with a failure reason.
func (j *Journal) Reject(ctx context.Context, awakeableID, reason string) error {
	return j.settle(ctx, awakeableID, awakeableRejected, "", reason)
}

func (j *Journal) settle(ctx context.Context, awakeableID, status, result, errorMessage string) error {
	res, err := j.db.ExecContext(ctx, `
UPDATE durable_awakeables SET status = ?, result = ?, error_message = ?, updated_at = ?
WHERE awakeable_id = ? AND status = ?`,
		status, result, errorMessage, time.Now().UTC(), awakeableID, awakeablePending)
	if err != nil {
		return fmt.Errorf("settle awakeable: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		// Either unknown or already settled; look once more to tell
		// the two apart.
		var current string
		err := j.db.QueryRowContext(ctx, `
SELECT status FROM durable_awakeables WHERE awakeable_id = ?`, awakeableID).Scan(&current)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrAwakeableNotFound
		}
		if err != nil {
			return fmt.Errorf("load awakeable: %w", err)
		}
		return ErrAwakeableSettled
	}
	return nil
}

// awakeableOutcome reads the current state of an awakeable.
func (j *Journal) awakeableOutcome(ctx context.Context, awakeableID string) (status string, result json.RawMessage, errorMessage string, err error) {
	var res, msg sql.NullString
	err = j.db.QueryRowContext(ctx, `
SELECT status, result, error_message FROM durable_awakeables
WHERE awakeable_id = ?`, awakeableID).Scan(&status, &res, &msg)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil, "", ErrAwakeableNotFound
	}
	if err != nil {
		return "", nil, "", fmt.Errorf("load awakeable: %w", err)
	}
	return status, json.RawMessage(res.String), msg.String, nil
}
