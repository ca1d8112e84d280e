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

package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"strings"
	"time"

	"github.com/a2aproject/a2a-go/a2a"
	"github.com/google/uuid"

	"github.com/praxisagents/praxis/pkg/agent"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// SQLService implements Service on sqlite, postgres or mysql. Concurrency
// control is left to database transactions; no process-level locking.
type SQLService struct {
	db      *sql.DB
	dialect string
}

type sessionRow struct {
	AppName   string
	UserID    string
	ID        string
	StateJSON string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type eventRow struct {
	ID           string
	AppName      string
	UserID       string
	SessionID    string
	Author       string
	InvocationID string
	Branch       string

	Role        string
	ContentJSON string

	StateDeltaJSON    string
	ArtifactDeltaJSON string
	SkipSummarization bool
	TransferToAgent   string
	Escalate          bool
	RequireInput      bool
	InputPrompt       string

	Partial            bool
	TurnComplete       bool
	Interrupted        bool
	LongRunningToolIDs string

	ErrorCode    string
	ErrorMessage string

	ToolCallsJSON   string
	ToolResultsJSON string
	MetadataJSON    string

	SequenceNum int
	CreatedAt   time.Time
}

const createSessionsSQL = `
CREATE TABLE IF NOT EXISTS sessions (
    app_name VARCHAR(255) NOT NULL,
    user_id VARCHAR(255) NOT NULL,
    id VARCHAR(255) NOT NULL,
    state_json TEXT,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (app_name, user_id, id)
)`

const createSessionsIndexSQL = `
CREATE INDEX IF NOT EXISTS idx_sessions_user ON sessions(app_name, user_id)`

const createAppStatesSQL = `
CREATE TABLE IF NOT EXISTS app_states (
    app_name VARCHAR(255) PRIMARY KEY,
    state_json TEXT NOT NULL,
    updated_at TIMESTAMP NOT NULL
)`

const createUserStatesSQL = `
CREATE TABLE IF NOT EXISTS user_states (
    app_name VARCHAR(255) NOT NULL,
    user_id VARCHAR(255) NOT NULL,
    state_json TEXT NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (app_name, user_id)
)`

const createEventsSQL = `
CREATE TABLE IF NOT EXISTS session_events (
    id VARCHAR(255) NOT NULL,
    app_name VARCHAR(255) NOT NULL,
    user_id VARCHAR(255) NOT NULL,
    session_id VARCHAR(255) NOT NULL,
    author VARCHAR(255),
    invocation_id VARCHAR(255),
    branch VARCHAR(255),
    role VARCHAR(50),
    content_json TEXT,
    state_delta_json TEXT,
    artifact_delta_json TEXT,
    skip_summarization BOOLEAN DEFAULT FALSE,
    transfer_to_agent VARCHAR(255),
    escalate BOOLEAN DEFAULT FALSE,
    require_input BOOLEAN DEFAULT FALSE,
    input_prompt TEXT,
    partial BOOLEAN DEFAULT FALSE,
    turn_complete BOOLEAN DEFAULT FALSE,
    interrupted BOOLEAN DEFAULT FALSE,
    long_running_tool_ids TEXT,
    error_code VARCHAR(100),
    error_message TEXT,
    tool_calls_json TEXT,
    tool_results_json TEXT,
    metadata_json TEXT,
    sequence_num INTEGER NOT NULL,
    created_at TIMESTAMP NOT NULL,
    PRIMARY KEY (app_name, user_id, session_id, id)
)`

const createEventsIndexSQL = `
CREATE INDEX IF NOT EXISTS idx_events_session ON session_events(app_name, user_id, session_id, sequence_num)`

// NewSQLService creates a SQL-backed session service and initializes the
// schema.
func NewSQLService(db *sql.DB, dialect string) (*SQLService, error) {
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

	s := &SQLService{db: db, dialect: dialect}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize session schema: %w", err)
	}
	return s, nil
}

func (s *SQLService) initSchema() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// One statement per Exec for SQLite compatibility.
	for _, stmt := range []string{
		createSessionsSQL,
		createSessionsIndexSQL,
		createAppStatesSQL,
		createUserStatesSQL,
		createEventsSQL,
		createEventsIndexSQL,
	} {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("execute schema statement: %w", err)
		}
	}
	return nil
}

func (s *SQLService) Get(ctx context.Context, req *GetRequest) (*GetResponse, error) {
	sess, err := s.getSession(ctx, req.AppName, req.UserID, req.SessionID)
	if err != nil {
		return nil, err
	}

	appState, err := s.getScopedState(ctx, `SELECT state_json FROM app_states WHERE app_name = ?`, req.AppName)
	if err != nil {
		return nil, fmt.Errorf("get app state: %w", err)
	}
	userState, err := s.getScopedState(ctx, `SELECT state_json FROM user_states WHERE app_name = ? AND user_id = ?`, req.AppName, req.UserID)
	if err != nil {
		return nil, fmt.Errorf("get user state: %w", err)
	}

	sess.state = newMemoryState(mergeStates(appState, userState, sess.state.All()))

	events, err := s.getEvents(ctx, req.AppName, req.UserID, req.SessionID, req.NumRecentEvents, req.After)
	if err != nil {
		return nil, fmt.Errorf("get events: %w", err)
	}
	sess.events = &memoryEvents{events: events}

	return &GetResponse{Session: sess}, nil
}

func (s *SQLService) Create(ctx context.Context, req *CreateRequest) (*CreateResponse, error) {
	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	now := time.Now()

	appDelta, userDelta, sessionState := extractStateDeltas(req.State)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if len(appDelta) > 0 {
		if err := s.upsertAppStateTx(ctx, tx, req.AppName, appDelta); err != nil {
			return nil, fmt.Errorf("save app state: %w", err)
		}
	}
	if len(userDelta) > 0 {
		if err := s.upsertUserStateTx(ctx, tx, req.AppName, req.UserID, userDelta); err != nil {
			return nil, fmt.Errorf("save user state: %w", err)
		}
	}

	stateJSON, err := json.Marshal(sessionState)
	if err != nil {
		return nil, fmt.Errorf("marshal state: %w", err)
	}

	insert := s.placeholders(`INSERT INTO sessions (app_name, user_id, id, state_json, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?)`)
	if _, err := tx.ExecContext(ctx, insert, req.AppName, req.UserID, sessionID, string(stateJSON), now, now); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}

	sess := &memorySession{
		id:             sessionID,
		appName:        req.AppName,
		userID:         req.UserID,
		state:          newMemoryState(sessionState),
		events:         &memoryEvents{},
		lastUpdateTime: now,
	}
	return &CreateResponse{Session: sess}, nil
}

func (s *SQLService) AppendEvent(ctx context.Context, session Session, event *agent.Event) error {
	if session == nil {
		return fmt.Errorf("session is nil")
	}
	if event == nil {
		return fmt.Errorf("event is nil")
	}
	if event.Partial {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	stateDelta := trimTempState(event.Actions.StateDelta)
	appDelta, userDelta, sessionDelta := extractStateDeltas(stateDelta)

	if len(appDelta) > 0 {
		if err := s.upsertAppStateTx(ctx, tx, session.AppName(), appDelta); err != nil {
			return fmt.Errorf("save app state: %w", err)
		}
	}
	if len(userDelta) > 0 {
		if err := s.upsertUserStateTx(ctx, tx, session.AppName(), session.UserID(), userDelta); err != nil {
			return fmt.Errorf("save user state: %w", err)
		}
	}
	if len(sessionDelta) > 0 {
		if err := s.updateSessionStateTx(ctx, tx, session.AppName(), session.UserID(), session.ID(), sessionDelta); err != nil {
			return fmt.Errorf("update session state: %w", err)
		}
	}

	seqNum, err := s.nextSequenceNumTx(ctx, tx, session.AppName(), session.UserID(), session.ID())
	if err != nil {
		return fmt.Errorf("get sequence number: %w", err)
	}

	if err := s.insertEventTx(ctx, tx, session, event, seqNum); err != nil {
		return fmt.Errorf("insert event: %w", err)
	}

	now := time.Now()
	touch := s.placeholders(`UPDATE sessions SET updated_at = ? WHERE app_name = ? AND user_id = ? AND id = ?`)
	if _, err := tx.ExecContext(ctx, touch, now, session.AppName(), session.UserID(), session.ID()); err != nil {
		return fmt.Errorf("touch session: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	if ms, ok := session.(*memorySession); ok {
		ms.appendEvent(event)
		applyDelta(ms.state, event.Actions.StateDelta)
		ms.lastUpdateTime = now
	}
	return nil
}

func (s *SQLService) List(ctx context.Context, req *ListRequest) (*ListResponse, error) {
	query := `SELECT app_name, user_id, id, state_json, created_at, updated_at
              FROM sessions WHERE app_name = ?`
	args := []any{req.AppName}
	if req.UserID != "" {
		query += " AND user_id = ?"
		args = append(args, req.UserID)
	}

	rows, err := s.db.QueryContext(ctx, s.placeholders(query), args...)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		var row sessionRow
		if err := rows.Scan(&row.AppName, &row.UserID, &row.ID, &row.StateJSON, &row.CreatedAt, &row.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sess, err := rowToSession(&row)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	return &ListResponse{Sessions: sessions}, rows.Err()
}

func (s *SQLService) Delete(ctx context.Context, req *DeleteRequest) error {
	eventQuery := s.placeholders(`DELETE FROM session_events WHERE app_name = ? AND user_id = ? AND session_id = ?`)
	if _, err := s.db.ExecContext(ctx, eventQuery, req.AppName, req.UserID, req.SessionID); err != nil {
		return fmt.Errorf("delete events: %w", err)
	}
	query := s.placeholders(`DELETE FROM sessions WHERE app_name = ? AND user_id = ? AND id = ?`)
	if _, err := s.db.ExecContext(ctx, query, req.AppName, req.UserID, req.SessionID); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// Rewind deletes every event from the first event of invocationID onward and
// rebuilds session state from the surviving StateDeltas.
func (s *SQLService) Rewind(ctx context.Context, appName, userID, sessionID, invocationID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var cutSeq sql.NullInt64
	seqQuery := s.placeholders(`SELECT MIN(sequence_num) FROM session_events
        WHERE app_name = ? AND user_id = ? AND session_id = ? AND invocation_id = ?`)
	if err := tx.QueryRowContext(ctx, seqQuery, appName, userID, sessionID, invocationID).Scan(&cutSeq); err != nil {
		return fmt.Errorf("find invocation: %w", err)
	}
	if !cutSeq.Valid {
		return fmt.Errorf("invocation %s not found in session %s", invocationID, sessionID)
	}

	delQuery := s.placeholders(`DELETE FROM session_events
        WHERE app_name = ? AND user_id = ? AND session_id = ? AND sequence_num >= ?`)
	if _, err := tx.ExecContext(ctx, delQuery, appName, userID, sessionID, cutSeq.Int64); err != nil {
		return fmt.Errorf("delete events: %w", err)
	}

	// Replay surviving deltas into a fresh session state.
	deltaQuery := s.placeholders(`SELECT state_delta_json FROM session_events
        WHERE app_name = ? AND user_id = ? AND session_id = ? ORDER BY sequence_num ASC`)
	rows, err := tx.QueryContext(ctx, deltaQuery, appName, userID, sessionID)
	if err != nil {
		return fmt.Errorf("replay deltas: %w", err)
	}

	rebuilt := make(map[string]any)
	for rows.Next() {
		var deltaJSON string
		if err := rows.Scan(&deltaJSON); err != nil {
			rows.Close()
			return err
		}
		if deltaJSON == "" {
			continue
		}
		var delta map[string]any
		if err := json.Unmarshal([]byte(deltaJSON), &delta); err != nil {
			rows.Close()
			return fmt.Errorf("unmarshal state delta: %w", err)
		}
		_, _, sessionDelta := extractStateDeltas(delta)
		for k, v := range sessionDelta {
			if v == nil {
				delete(rebuilt, k)
				continue
			}
			rebuilt[k] = v
		}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	stateJSON, err := json.Marshal(rebuilt)
	if err != nil {
		return fmt.Errorf("marshal rebuilt state: %w", err)
	}
	update := s.placeholders(`UPDATE sessions SET state_json = ?, updated_at = ? WHERE app_name = ? AND user_id = ? AND id = ?`)
	if _, err := tx.ExecContext(ctx, update, string(stateJSON), time.Now(), appName, userID, sessionID); err != nil {
		return fmt.Errorf("update session state: %w", err)
	}

	return tx.Commit()
}

// Close closes the underlying database handle.
func (s *SQLService) Close() error {
	return s.db.Close()
}

// ---------------------------------------------------------------------------
// Query helpers
// ---------------------------------------------------------------------------

func (s *SQLService) getSession(ctx context.Context, appName, userID, sessionID string) (*memorySession, error) {
	query := s.placeholders(`SELECT app_name, user_id, id, state_json, created_at, updated_at
        FROM sessions WHERE app_name = ? AND user_id = ? AND id = ?`)

	var row sessionRow
	err := s.db.QueryRowContext(ctx, query, appName, userID, sessionID).Scan(
		&row.AppName, &row.UserID, &row.ID, &row.StateJSON, &row.CreatedAt, &row.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return rowToSession(&row)
}

func (s *SQLService) getScopedState(ctx context.Context, query string, args ...any) (map[string]any, error) {
	var stateJSON string
	err := s.db.QueryRowContext(ctx, s.placeholders(query), args...).Scan(&stateJSON)
	if err == sql.ErrNoRows {
		return make(map[string]any), nil
	}
	if err != nil {
		return nil, err
	}

	var state map[string]any
	if err := json.Unmarshal([]byte(stateJSON), &state); err != nil {
		return nil, err
	}
	return state, nil
}

func (s *SQLService) upsertAppStateTx(ctx context.Context, tx *sql.Tx, appName string, delta map[string]any) error {
	var stateJSON string
	query := s.placeholders(`SELECT state_json FROM app_states WHERE app_name = ?`)
	err := tx.QueryRowContext(ctx, query, appName).Scan(&stateJSON)
	existing := make(map[string]any)
	if err == nil && stateJSON != "" {
		_ = json.Unmarshal([]byte(stateJSON), &existing)
	}

	maps.Copy(existing, delta)
	newJSON, err := json.Marshal(existing)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, s.upsertAppStateQuery(), appName, string(newJSON), time.Now())
	return err
}

func (s *SQLService) upsertUserStateTx(ctx context.Context, tx *sql.Tx, appName, userID string, delta map[string]any) error {
	var stateJSON string
	query := s.placeholders(`SELECT state_json FROM user_states WHERE app_name = ? AND user_id = ?`)
	err := tx.QueryRowContext(ctx, query, appName, userID).Scan(&stateJSON)
	existing := make(map[string]any)
	if err == nil && stateJSON != "" {
		_ = json.Unmarshal([]byte(stateJSON), &existing)
	}

	maps.Copy(existing, delta)
	newJSON, err := json.Marshal(existing)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, s.upsertUserStateQuery(), appName, userID, string(newJSON), time.Now())
	return err
}

func (s *SQLService) updateSessionStateTx(ctx context.Context, tx *sql.Tx, appName, userID, sessionID string, delta map[string]any) error {
	var stateJSON string
	query := s.placeholders(`SELECT state_json FROM sessions WHERE app_name = ? AND user_id = ? AND id = ?`)
	if err := tx.QueryRowContext(ctx, query, appName, userID, sessionID).Scan(&stateJSON); err != nil {
		return err
	}

	var existing map[string]any
	if stateJSON != "" {
		if err := json.Unmarshal([]byte(stateJSON), &existing); err != nil {
			return err
		}
	}
	if existing == nil {
		existing = make(map[string]any)
	}

	for k, v := range delta {
		if v == nil {
			delete(existing, k)
			continue
		}
		existing[k] = v
	}

	newJSON, err := json.Marshal(existing)
	if err != nil {
		return err
	}

	update := s.placeholders(`UPDATE sessions SET state_json = ? WHERE app_name = ? AND user_id = ? AND id = ?`)
	_, err = tx.ExecContext(ctx, update, string(newJSON), appName, userID, sessionID)
	return err
}

func (s *SQLService) nextSequenceNumTx(ctx context.Context, tx *sql.Tx, appName, userID, sessionID string) (int, error) {
	query := s.placeholders(`SELECT COALESCE(MAX(sequence_num), 0) + 1 FROM session_events
        WHERE app_name = ? AND user_id = ? AND session_id = ?`)

	var seqNum int
	if err := tx.QueryRowContext(ctx, query, appName, userID, sessionID).Scan(&seqNum); err != nil {
		return 0, err
	}
	return seqNum, nil
}

func (s *SQLService) insertEventTx(ctx context.Context, tx *sql.Tx, session Session, event *agent.Event, seqNum int) error {
	row, err := eventToRow(session, event, seqNum)
	if err != nil {
		return err
	}

	query := s.placeholders(`INSERT INTO session_events (
        id, app_name, user_id, session_id,
        author, invocation_id, branch,
        role, content_json,
        state_delta_json, artifact_delta_json,
        skip_summarization, transfer_to_agent, escalate, require_input, input_prompt,
        partial, turn_complete, interrupted, long_running_tool_ids,
        error_code, error_message,
        tool_calls_json, tool_results_json, metadata_json,
        sequence_num, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)

	_, err = tx.ExecContext(ctx, query,
		row.ID, row.AppName, row.UserID, row.SessionID,
		row.Author, row.InvocationID, row.Branch,
		row.Role, row.ContentJSON,
		row.StateDeltaJSON, row.ArtifactDeltaJSON,
		row.SkipSummarization, row.TransferToAgent, row.Escalate, row.RequireInput, row.InputPrompt,
		row.Partial, row.TurnComplete, row.Interrupted, row.LongRunningToolIDs,
		row.ErrorCode, row.ErrorMessage,
		row.ToolCallsJSON, row.ToolResultsJSON, row.MetadataJSON,
		row.SequenceNum, row.CreatedAt)
	return err
}

func (s *SQLService) getEvents(ctx context.Context, appName, userID, sessionID string, numRecent int, after time.Time) ([]*agent.Event, error) {
	cols := `id, app_name, user_id, session_id, author, invocation_id, branch,
        role, content_json, state_delta_json, artifact_delta_json,
        skip_summarization, transfer_to_agent, escalate, require_input, input_prompt,
        partial, turn_complete, interrupted, long_running_tool_ids,
        error_code, error_message,
        tool_calls_json, tool_results_json, metadata_json,
        sequence_num, created_at`

	var query string
	args := []any{appName, userID, sessionID}

	if numRecent > 0 {
		// Subquery keeps the N most recent events in chronological order.
		query = `SELECT ` + cols + ` FROM (
            SELECT ` + cols + ` FROM session_events
            WHERE app_name = ? AND user_id = ? AND session_id = ?`
		if !after.IsZero() {
			query += " AND created_at >= ?"
			args = append(args, after)
		}
		query += ` ORDER BY sequence_num DESC LIMIT ?
        ) sub ORDER BY sequence_num ASC`
		args = append(args, numRecent)
	} else {
		query = `SELECT ` + cols + ` FROM session_events
            WHERE app_name = ? AND user_id = ? AND session_id = ?`
		if !after.IsZero() {
			query += " AND created_at >= ?"
			args = append(args, after)
		}
		query += " ORDER BY sequence_num ASC"
	}

	rows, err := s.db.QueryContext(ctx, s.placeholders(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*agent.Event
	for rows.Next() {
		var row eventRow
		if err := rows.Scan(
			&row.ID, &row.AppName, &row.UserID, &row.SessionID,
			&row.Author, &row.InvocationID, &row.Branch,
			&row.Role, &row.ContentJSON,
			&row.StateDeltaJSON, &row.ArtifactDeltaJSON,
			&row.SkipSummarization, &row.TransferToAgent, &row.Escalate, &row.RequireInput, &row.InputPrompt,
			&row.Partial, &row.TurnComplete, &row.Interrupted, &row.LongRunningToolIDs,
			&row.ErrorCode, &row.ErrorMessage,
			&row.ToolCallsJSON, &row.ToolResultsJSON, &row.MetadataJSON,
			&row.SequenceNum, &row.CreatedAt,
		); err != nil {
			return nil, err
		}

		event, err := rowToEvent(&row)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

// ---------------------------------------------------------------------------
// Dialect-specific queries
// ---------------------------------------------------------------------------

func (s *SQLService) upsertAppStateQuery() string {
	switch s.dialect {
	case "postgres":
		return `INSERT INTO app_states (app_name, state_json, updated_at)
            VALUES ($1, $2, $3)
            ON CONFLICT (app_name) DO UPDATE SET state_json = $2, updated_at = $3`
	case "mysql":
		return `INSERT INTO app_states (app_name, state_json, updated_at)
            VALUES (?, ?, ?)
            ON DUPLICATE KEY UPDATE state_json = VALUES(state_json), updated_at = VALUES(updated_at)`
	default: // sqlite
		return `INSERT INTO app_states (app_name, state_json, updated_at)
            VALUES (?, ?, ?)
            ON CONFLICT (app_name) DO UPDATE SET state_json = excluded.state_json, updated_at = excluded.updated_at`
	}
}

func (s *SQLService) upsertUserStateQuery() string {
	switch s.dialect {
	case "postgres":
		return `INSERT INTO user_states (app_name, user_id, state_json, updated_at)
            VALUES ($1, $2, $3, $4)
            ON CONFLICT (app_name, user_id) DO UPDATE SET state_json = $3, updated_at = $4`
	case "mysql":
		return `INSERT INTO user_states (app_name, user_id, state_json, updated_at)
            VALUES (?, ?, ?, ?)
            ON DUPLICATE KEY UPDATE state_json = VALUES(state_json), updated_at = VALUES(updated_at)`
	default: // sqlite
		return `INSERT INTO user_states (app_name, user_id, state_json, updated_at)
            VALUES (?, ?, ?, ?)
            ON CONFLICT (app_name, user_id) DO UPDATE SET state_json = excluded.state_json, updated_at = excluded.updated_at`
	}
}

// placeholders rewrites ? markers to $n for postgres.
func (s *SQLService) placeholders(query string) string {
	if s.dialect != "postgres" {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 20)
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

// ---------------------------------------------------------------------------
// Row conversion
// ---------------------------------------------------------------------------

func rowToSession(row *sessionRow) (*memorySession, error) {
	var state map[string]any
	if row.StateJSON != "" {
		if err := json.Unmarshal([]byte(row.StateJSON), &state); err != nil {
			return nil, fmt.Errorf("unmarshal state: %w", err)
		}
	}
	return &memorySession{
		id:             row.ID,
		appName:        row.AppName,
		userID:         row.UserID,
		state:          newMemoryState(state),
		events:         &memoryEvents{},
		lastUpdateTime: row.UpdatedAt,
	}, nil
}

func eventToRow(session Session, event *agent.Event, seqNum int) (*eventRow, error) {
	row := &eventRow{
		ID:           event.ID,
		AppName:      session.AppName(),
		UserID:       session.UserID(),
		SessionID:    session.ID(),
		Author:       event.Author,
		InvocationID: event.InvocationID,
		Branch:       event.Branch,
		SequenceNum:  seqNum,
		CreatedAt:    event.Timestamp,
	}

	if event.Message != nil {
		row.Role = string(event.Message.Role)
		if len(event.Message.Parts) > 0 {
			partsJSON, err := json.Marshal(event.Message.Parts)
			if err != nil {
				return nil, fmt.Errorf("marshal message parts: %w", err)
			}
			row.ContentJSON = string(partsJSON)
		}
	}

	if delta := trimTempState(event.Actions.StateDelta); len(delta) > 0 {
		b, _ := json.Marshal(delta)
		row.StateDeltaJSON = string(b)
	}
	if len(event.Actions.ArtifactDelta) > 0 {
		b, _ := json.Marshal(event.Actions.ArtifactDelta)
		row.ArtifactDeltaJSON = string(b)
	}
	row.SkipSummarization = event.Actions.SkipSummarization
	row.TransferToAgent = event.Actions.TransferToAgent
	row.Escalate = event.Actions.Escalate
	row.RequireInput = event.Actions.RequireInput
	row.InputPrompt = event.Actions.InputPrompt

	row.Partial = event.Partial
	row.TurnComplete = event.TurnComplete
	row.Interrupted = event.Interrupted
	if len(event.LongRunningToolIDs) > 0 {
		b, _ := json.Marshal(event.LongRunningToolIDs)
		row.LongRunningToolIDs = string(b)
	}

	row.ErrorCode = event.ErrorCode
	row.ErrorMessage = event.ErrorMessage

	if len(event.ToolCalls) > 0 {
		b, _ := json.Marshal(event.ToolCalls)
		row.ToolCallsJSON = string(b)
	}
	if len(event.ToolResults) > 0 {
		b, _ := json.Marshal(event.ToolResults)
		row.ToolResultsJSON = string(b)
	}
	if len(event.CustomMetadata) > 0 {
		b, _ := json.Marshal(event.CustomMetadata)
		row.MetadataJSON = string(b)
	}
	return row, nil
}

func rowToEvent(row *eventRow) (*agent.Event, error) {
	event := &agent.Event{
		ID:           row.ID,
		Timestamp:    row.CreatedAt,
		InvocationID: row.InvocationID,
		Branch:       row.Branch,
		Author:       row.Author,
		Partial:      row.Partial,
		TurnComplete: row.TurnComplete,
		Interrupted:  row.Interrupted,
		ErrorCode:    row.ErrorCode,
		ErrorMessage: row.ErrorMessage,
		Actions: agent.EventActions{
			SkipSummarization: row.SkipSummarization,
			TransferToAgent:   row.TransferToAgent,
			Escalate:          row.Escalate,
			RequireInput:      row.RequireInput,
			InputPrompt:       row.InputPrompt,
		},
	}

	if row.ContentJSON != "" {
		var rawParts []json.RawMessage
		if err := json.Unmarshal([]byte(row.ContentJSON), &rawParts); err != nil {
			return nil, fmt.Errorf("unmarshal content: %w", err)
		}

		var parts a2a.ContentParts
		for _, raw := range rawParts {
			part, err := parsePart(raw)
			if err != nil {
				return nil, fmt.Errorf("parse part: %w", err)
			}
			if part != nil {
				parts = append(parts, part)
			}
		}
		if len(parts) > 0 {
			event.Message = &a2a.Message{
				Role:  a2a.MessageRole(row.Role),
				Parts: parts,
			}
		}
	}

	if row.StateDeltaJSON != "" {
		var delta map[string]any
		if err := json.Unmarshal([]byte(row.StateDeltaJSON), &delta); err != nil {
			return nil, err
		}
		event.Actions.StateDelta = delta
	}
	if row.ArtifactDeltaJSON != "" {
		var delta map[string]int64
		if err := json.Unmarshal([]byte(row.ArtifactDeltaJSON), &delta); err != nil {
			return nil, err
		}
		event.Actions.ArtifactDelta = delta
	}
	if row.LongRunningToolIDs != "" {
		var ids []string
		if err := json.Unmarshal([]byte(row.LongRunningToolIDs), &ids); err != nil {
			return nil, err
		}
		event.LongRunningToolIDs = ids
	}
	if row.ToolCallsJSON != "" {
		var calls []agent.ToolCallState
		if err := json.Unmarshal([]byte(row.ToolCallsJSON), &calls); err != nil {
			return nil, err
		}
		event.ToolCalls = calls
	}
	if row.ToolResultsJSON != "" {
		var results []agent.ToolResultState
		if err := json.Unmarshal([]byte(row.ToolResultsJSON), &results); err != nil {
			return nil, err
		}
		event.ToolResults = results
	}
	if row.MetadataJSON != "" {
		var meta map[string]any
		if err := json.Unmarshal([]byte(row.MetadataJSON), &meta); err != nil {
			return nil, err
		}
		event.CustomMetadata = meta
	}
	return event, nil
}

// parsePart decodes a persisted a2a.Part by its "kind" discriminator.
// Unknown kinds are skipped.
func parsePart(raw json.RawMessage) (a2a.Part, error) {
	var peek struct {
		Kind string `json:"kind"`
	}
	if err := json.Unmarshal(raw, &peek); err != nil {
		return nil, fmt.Errorf("peek part kind: %w", err)
	}

	switch peek.Kind {
	case "text":
		var part a2a.TextPart
		if err := json.Unmarshal(raw, &part); err != nil {
			return nil, err
		}
		return part, nil
	case "file":
		var part a2a.FilePart
		if err := json.Unmarshal(raw, &part); err != nil {
			return nil, err
		}
		return part, nil
	case "data":
		var part a2a.DataPart
		if err := json.Unmarshal(raw, &part); err != nil {
			return nil, err
		}
		return part, nil
	default:
		slog.Debug("Unknown part kind in stored event", "kind", peek.Kind)
		return nil, nil
	}
}

var (
	_ Service  = (*SQLService)(nil)
	_ Rewinder = (*SQLService)(nil)
	_ Rewinder = (*inMemoryService)(nil)
)
