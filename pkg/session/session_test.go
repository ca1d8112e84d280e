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
	"testing"

	"github.com/a2aproject/a2a-go/a2a"

	"github.com/praxisagents/praxis/pkg/agent"
)

func TestInMemoryService_CreateAndGet(t *testing.T) {
	svc := InMemoryService()
	ctx := context.Background()

	created, err := svc.Create(ctx, &CreateRequest{
		AppName: "app",
		UserID:  "user1",
		State:   map[string]any{"greeting": "hello", "app:theme": "dark"},
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if created.Session.ID() == "" {
		t.Fatal("expected generated session ID")
	}

	got, err := svc.Get(ctx, &GetRequest{
		AppName:   "app",
		UserID:    "user1",
		SessionID: created.Session.ID(),
	})
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}

	if v, _ := got.Session.State().Get("greeting"); v != "hello" {
		t.Errorf("expected session state greeting=hello, got %v", v)
	}
	if v, _ := got.Session.State().Get("app:theme"); v != "dark" {
		t.Errorf("expected app-scoped state visible with prefix, got %v", v)
	}
}

func TestInMemoryService_GetNotFound(t *testing.T) {
	svc := InMemoryService()
	_, err := svc.Get(context.Background(), &GetRequest{
		AppName: "app", UserID: "u", SessionID: "missing",
	})
	if err != ErrSessionNotFound {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestInMemoryService_AppendEventAppliesStateDelta(t *testing.T) {
	svc := InMemoryService()
	ctx := context.Background()

	created, _ := svc.Create(ctx, &CreateRequest{AppName: "app", UserID: "u"})

	ev := agent.NewEvent("inv-1")
	ev.Author = "assistant"
	ev.Message = a2a.NewMessage(a2a.MessageRoleAgent, a2a.TextPart{Text: "done"})
	ev.Actions.StateDelta = map[string]any{
		"result":      42,
		"user:name":   "ada",
		"temp:scratch": "ephemeral",
	}

	if err := svc.AppendEvent(ctx, created.Session, ev); err != nil {
		t.Fatalf("AppendEvent failed: %v", err)
	}

	got, _ := svc.Get(ctx, &GetRequest{AppName: "app", UserID: "u", SessionID: created.Session.ID()})
	if v, _ := got.Session.State().Get("result"); v != 42 {
		t.Errorf("expected result=42, got %v", v)
	}
	if v, _ := got.Session.State().Get("user:name"); v != "ada" {
		t.Errorf("expected user:name=ada, got %v", v)
	}
	if got.Session.Events().Len() != 1 {
		t.Errorf("expected 1 event, got %d", got.Session.Events().Len())
	}
}

func TestInMemoryService_PartialEventsSkipped(t *testing.T) {
	svc := InMemoryService()
	ctx := context.Background()
	created, _ := svc.Create(ctx, &CreateRequest{AppName: "app", UserID: "u"})

	ev := agent.NewEvent("inv-1")
	ev.Partial = true
	if err := svc.AppendEvent(ctx, created.Session, ev); err != nil {
		t.Fatalf("AppendEvent failed: %v", err)
	}

	got, _ := svc.Get(ctx, &GetRequest{AppName: "app", UserID: "u", SessionID: created.Session.ID()})
	if got.Session.Events().Len() != 0 {
		t.Errorf("partial event persisted, want 0 events, got %d", got.Session.Events().Len())
	}
}

func TestInMemoryService_UserStateSharedAcrossSessions(t *testing.T) {
	svc := InMemoryService()
	ctx := context.Background()

	s1, _ := svc.Create(ctx, &CreateRequest{AppName: "app", UserID: "u"})
	ev := agent.NewEvent("inv-1")
	ev.Actions.StateDelta = map[string]any{"user:lang": "tr"}
	if err := svc.AppendEvent(ctx, s1.Session, ev); err != nil {
		t.Fatalf("AppendEvent failed: %v", err)
	}

	s2, _ := svc.Create(ctx, &CreateRequest{AppName: "app", UserID: "u"})
	got, _ := svc.Get(ctx, &GetRequest{AppName: "app", UserID: "u", SessionID: s2.Session.ID()})
	if v, _ := got.Session.State().Get("user:lang"); v != "tr" {
		t.Errorf("expected user state shared across sessions, got %v", v)
	}
}

func TestInMemoryService_Rewind(t *testing.T) {
	svc := InMemoryService()
	ctx := context.Background()
	created, _ := svc.Create(ctx, &CreateRequest{AppName: "app", UserID: "u"})
	id := created.Session.ID()

	for i, inv := range []string{"inv-1", "inv-1", "inv-2", "inv-3"} {
		ev := agent.NewEvent(inv)
		ev.Author = "assistant"
		ev.Actions.StateDelta = map[string]any{"step": i}
		if err := svc.AppendEvent(ctx, created.Session, ev); err != nil {
			t.Fatalf("AppendEvent %d failed: %v", i, err)
		}
	}

	rw := svc.(Rewinder)
	if err := rw.Rewind(ctx, "app", "u", id, "inv-2"); err != nil {
		t.Fatalf("Rewind failed: %v", err)
	}

	got, _ := svc.Get(ctx, &GetRequest{AppName: "app", UserID: "u", SessionID: id})
	if got.Session.Events().Len() != 2 {
		t.Fatalf("expected 2 events after rewind, got %d", got.Session.Events().Len())
	}
	if v, _ := got.Session.State().Get("step"); v != 1 {
		t.Errorf("expected state rebuilt to step=1, got %v", v)
	}
}

func TestExtractStateDeltas(t *testing.T) {
	app, user, sess := extractStateDeltas(map[string]any{
		"app:a":  1,
		"user:b": 2,
		"c":      3,
		"temp:d": 4,
	})
	if app["a"] != 1 {
		t.Errorf("app delta missing: %v", app)
	}
	if user["b"] != 2 {
		t.Errorf("user delta missing: %v", user)
	}
	if sess["c"] != 3 {
		t.Errorf("session delta missing: %v", sess)
	}
	if _, ok := sess["temp:d"]; ok {
		t.Error("temp key leaked into session delta")
	}
}

func TestClearTempKeys(t *testing.T) {
	state := newMemoryState(map[string]any{"temp:x": 1, "keep": 2})
	ClearTempKeys(state)
	if _, ok := state.Get("temp:x"); ok {
		t.Error("temp key survived ClearTempKeys")
	}
	if _, ok := state.Get("keep"); !ok {
		t.Error("non-temp key removed")
	}
}
