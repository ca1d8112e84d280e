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
	"errors"
	"testing"

	"github.com/a2aproject/a2a-go/a2a"

	"github.com/praxisagents/praxis/pkg/agent"
)

func newTestSQLService(t *testing.T) *SQLService {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("sql.Open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	svc, err := NewSQLService(db, "sqlite3")
	if err != nil {
		t.Fatalf("NewSQLService: %v", err)
	}
	return svc
}

func sqlTestEvent(invocationID, author, text string, delta map[string]any) *agent.Event {
	ev := agent.NewEvent(invocationID)
	ev.Author = author
	if text != "" {
		ev.Message = a2a.NewMessage(a2a.MessageRoleAgent, a2a.TextPart{Text: text})
	}
	if delta != nil {
		ev.Actions = agent.EventActions{StateDelta: delta}
	}
	return ev
}

func TestSQLService_CreateAndGet(t *testing.T) {
	svc := newTestSQLService(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, &CreateRequest{
		AppName:   "app",
		UserID:    "alice",
		SessionID: "s1",
		State: map[string]any{
			"topic":        "weather",
			"app:theme":    "dark",
			"user:lang":    "en",
			"temp:scratch": "gone",
		},
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if created.Session.ID() != "s1" {
		t.Errorf("session ID = %q", created.Session.ID())
	}

	got, err := svc.Get(ctx, &GetRequest{AppName: "app", UserID: "alice", SessionID: "s1"})
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	state := got.Session.State()
	for key, want := range map[string]string{
		"topic":     "weather",
		"app:theme": "dark",
		"user:lang": "en",
	} {
		if v, _ := state.Get(key); v != want {
			t.Errorf("state[%q] = %v, want %q", key, v, want)
		}
	}
	if _, ok := state.Get("temp:scratch"); ok {
		t.Error("temp: key survived persistence")
	}

	if _, err := svc.Get(ctx, &GetRequest{AppName: "app", UserID: "alice", SessionID: "missing"}); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Get missing session: %v, want ErrSessionNotFound", err)
	}
}

func TestSQLService_AppendEventMergesState(t *testing.T) {
	svc := newTestSQLService(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, &CreateRequest{AppName: "app", UserID: "alice", SessionID: "s1"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	ev := sqlTestEvent("inv-1", "assistant", "hello", map[string]any{
		"counter":    "one",
		"app:shared": "v1",
		"user:pref":  "compact",
		"temp:note":  "discard",
	})
	if err := svc.AppendEvent(ctx, created.Session, ev); err != nil {
		t.Fatalf("AppendEvent: %v", err)
	}

	// Partial events are skipped, not persisted.
	partial := sqlTestEvent("inv-1", "assistant", "hel", nil)
	partial.Partial = true
	if err := svc.AppendEvent(ctx, created.Session, partial); err != nil {
		t.Fatalf("AppendEvent partial: %v", err)
	}

	got, err := svc.Get(ctx, &GetRequest{AppName: "app", UserID: "alice", SessionID: "s1"})
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Session.Events().Len() != 1 {
		t.Fatalf("events = %d, want 1", got.Session.Events().Len())
	}
	stored := got.Session.Events().All()[0]
	if stored.Author != "assistant" || stored.Text() != "hello" {
		t.Errorf("stored event = %q / %q", stored.Author, stored.Text())
	}

	state := got.Session.State()
	for key, want := range map[string]string{
		"counter":    "one",
		"app:shared": "v1",
		"user:pref":  "compact",
	} {
		if v, _ := state.Get(key); v != want {
			t.Errorf("state[%q] = %v, want %q", key, v, want)
		}
	}
	if _, ok := state.Get("temp:note"); ok {
		t.Error("temp: key survived persistence")
	}
}

func TestSQLService_ScopedStateUpserts(t *testing.T) {
	svc := newTestSQLService(t)
	ctx := context.Background()

	alice, err := svc.Create(ctx, &CreateRequest{AppName: "app", UserID: "alice", SessionID: "s1"})
	if err != nil {
		t.Fatalf("Create alice: %v", err)
	}
	if _, err := svc.Create(ctx, &CreateRequest{AppName: "app", UserID: "bob", SessionID: "s2"}); err != nil {
		t.Fatalf("Create bob: %v", err)
	}

	first := sqlTestEvent("inv-1", "assistant", "", map[string]any{
		"app:banner": "welcome",
		"user:pref":  "compact",
	})
	if err := svc.AppendEvent(ctx, alice.Session, first); err != nil {
		t.Fatalf("AppendEvent: %v", err)
	}
	// A later delta overwrites the app-scoped value in place.
	second := sqlTestEvent("inv-2", "assistant", "", map[string]any{"app:banner": "maintenance"})
	if err := svc.AppendEvent(ctx, alice.Session, second); err != nil {
		t.Fatalf("AppendEvent: %v", err)
	}

	got, err := svc.Get(ctx, &GetRequest{AppName: "app", UserID: "alice", SessionID: "s1"})
	if err != nil {
		t.Fatalf("Get alice: %v", err)
	}
	if v, _ := got.Session.State().Get("app:banner"); v != "maintenance" {
		t.Errorf("app:banner = %v, want maintenance", v)
	}

	// App state is shared across users; user state is not.
	bob, err := svc.Get(ctx, &GetRequest{AppName: "app", UserID: "bob", SessionID: "s2"})
	if err != nil {
		t.Fatalf("Get bob: %v", err)
	}
	if v, _ := bob.Session.State().Get("app:banner"); v != "maintenance" {
		t.Errorf("bob app:banner = %v, want maintenance", v)
	}
	if _, ok := bob.Session.State().Get("user:pref"); ok {
		t.Error("alice's user state leaked into bob's session")
	}
}

func TestSQLService_Rewind(t *testing.T) {
	svc := newTestSQLService(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, &CreateRequest{AppName: "app", UserID: "alice", SessionID: "s1"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	turns := []*agent.Event{
		sqlTestEvent("inv-1", "user", "set topic", nil),
		sqlTestEvent("inv-1", "assistant", "done", map[string]any{"topic": "weather"}),
		sqlTestEvent("inv-2", "user", "change it", nil),
		sqlTestEvent("inv-2", "assistant", "changed", map[string]any{"topic": "sports", "mood": "upbeat"}),
	}
	for _, ev := range turns {
		if err := svc.AppendEvent(ctx, created.Session, ev); err != nil {
			t.Fatalf("AppendEvent: %v", err)
		}
	}

	if err := svc.Rewind(ctx, "app", "alice", "s1", "inv-2"); err != nil {
		t.Fatalf("Rewind: %v", err)
	}

	got, err := svc.Get(ctx, &GetRequest{AppName: "app", UserID: "alice", SessionID: "s1"})
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Session.Events().Len() != 2 {
		t.Errorf("events after rewind = %d, want 2", got.Session.Events().Len())
	}
	if v, _ := got.Session.State().Get("topic"); v != "weather" {
		t.Errorf("topic = %v, want weather (pre-rewind value)", v)
	}
	if _, ok := got.Session.State().Get("mood"); ok {
		t.Error("state from the rewound turn survived")
	}

	if err := svc.Rewind(ctx, "app", "alice", "s1", "inv-99"); err == nil {
		t.Error("expected error rewinding an unknown invocation")
	}
}

func TestSQLService_ListAndDelete(t *testing.T) {
	svc := newTestSQLService(t)
	ctx := context.Background()

	for _, id := range []string{"s1", "s2"} {
		if _, err := svc.Create(ctx, &CreateRequest{AppName: "app", UserID: "alice", SessionID: id}); err != nil {
			t.Fatalf("Create %s: %v", id, err)
		}
	}
	if _, err := svc.Create(ctx, &CreateRequest{AppName: "app", UserID: "bob", SessionID: "s3"}); err != nil {
		t.Fatalf("Create s3: %v", err)
	}

	all, err := svc.List(ctx, &ListRequest{AppName: "app"})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all.Sessions) != 3 {
		t.Errorf("sessions = %d, want 3", len(all.Sessions))
	}

	mine, err := svc.List(ctx, &ListRequest{AppName: "app", UserID: "alice"})
	if err != nil {
		t.Fatalf("List alice: %v", err)
	}
	if len(mine.Sessions) != 2 {
		t.Errorf("alice sessions = %d, want 2", len(mine.Sessions))
	}

	if err := svc.Delete(ctx, &DeleteRequest{AppName: "app", UserID: "alice", SessionID: "s1"}); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := svc.Get(ctx, &GetRequest{AppName: "app", UserID: "alice", SessionID: "s1"}); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Get after delete: %v, want ErrSessionNotFound", err)
	}
}
