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

package remoteagent

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/a2aproject/a2a-go/a2a"

	"github.com/praxisagents/praxis/pkg/agent"
	"github.com/praxisagents/praxis/pkg/session"
)

func newInvocation(t *testing.T) agent.InvocationContext {
	t.Helper()
	svc := session.InMemoryService()
	created, err := svc.Create(context.Background(), &session.CreateRequest{
		AppName: "app", UserID: "u", SessionID: "s",
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return agent.NewInvocationContext(context.Background(), agent.InvocationContextParams{
		Session: created.Session,
		Branch:  "root",
	})
}

func TestNewA2A_Validation(t *testing.T) {
	if _, err := NewA2A(Config{URL: "http://localhost:9000"}); err == nil {
		t.Error("expected error for missing name")
	}
	if _, err := NewA2A(Config{Name: "remote"}); err == nil {
		t.Error("expected error when no card source is given")
	}
	if _, err := NewA2A(Config{Name: "remote", URL: "http://localhost:9000"}); err != nil {
		t.Errorf("NewA2A: %v", err)
	}
}

func TestResolveAgentCard_FromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "card.json")
	card := `{"name": "billing", "description": "Invoices", "url": "http://localhost:9000"}`
	if err := os.WriteFile(path, []byte(card), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	a := &a2aAgent{cfg: Config{Name: "billing", AgentCardSource: path}}
	got, err := a.resolveAgentCard(context.Background())
	if err != nil {
		t.Fatalf("resolveAgentCard: %v", err)
	}
	if got.Name != "billing" {
		t.Errorf("card name = %q", got.Name)
	}

	a = &a2aAgent{cfg: Config{AgentCardSource: filepath.Join(t.TempDir(), "missing.json")}}
	if _, err := a.resolveAgentCard(context.Background()); err == nil {
		t.Error("expected error for missing card file")
	}
}

func TestConvertEvent_Message(t *testing.T) {
	a := &a2aAgent{cfg: Config{Name: "remote"}}
	ctx := newInvocation(t)

	msg := a2a.NewMessage(a2a.MessageRoleAgent, a2a.TextPart{Text: "hello"})
	msg.TaskID = "task-1"
	msg.Metadata = map[string]any{metaKeyTransfer: "other"}

	event := a.convertEvent(ctx, msg)
	if event == nil {
		t.Fatal("message event was skipped")
	}
	if event.Author != "remote" {
		t.Errorf("author = %q", event.Author)
	}
	if event.Branch != "root" {
		t.Errorf("branch = %q", event.Branch)
	}
	if event.Text() != "hello" {
		t.Errorf("text = %q", event.Text())
	}
	if event.CustomMetadata[metaKeyTaskID] != "task-1" {
		t.Errorf("task metadata = %v", event.CustomMetadata)
	}
	if event.Actions.TransferToAgent != "other" {
		t.Errorf("transfer action = %q", event.Actions.TransferToAgent)
	}
}

func TestConvertEvent_StatusUpdates(t *testing.T) {
	a := &a2aAgent{cfg: Config{Name: "remote"}}
	ctx := newInvocation(t)

	// Intermediate update with no message carries nothing.
	working := &a2a.TaskStatusUpdateEvent{
		TaskID: "task-1",
		Status: a2a.TaskStatus{State: a2a.TaskStateWorking},
	}
	if got := a.convertEvent(ctx, working); got != nil {
		t.Errorf("empty working update produced event %+v", got)
	}

	// Intermediate update with a message is partial.
	working.Status.Message = a2a.NewMessage(a2a.MessageRoleAgent, a2a.TextPart{Text: "thinking"})
	event := a.convertEvent(ctx, working)
	if event == nil || !event.Partial {
		t.Fatalf("working update event = %+v, want partial", event)
	}

	// Final update completes the turn.
	final := &a2a.TaskStatusUpdateEvent{
		TaskID: "task-1",
		Final:  true,
		Status: a2a.TaskStatus{
			State:   a2a.TaskStateCompleted,
			Message: a2a.NewMessage(a2a.MessageRoleAgent, a2a.TextPart{Text: "done"}),
		},
	}
	event = a.convertEvent(ctx, final)
	if event == nil || !event.TurnComplete || event.Partial {
		t.Fatalf("final update event = %+v, want turn complete", event)
	}
	if event.Text() != "done" {
		t.Errorf("text = %q", event.Text())
	}
}

func TestConvertEvent_ArtifactUpdate(t *testing.T) {
	a := &a2aAgent{cfg: Config{Name: "remote"}}
	ctx := newInvocation(t)

	empty := &a2a.TaskArtifactUpdateEvent{TaskID: "task-1"}
	if got := a.convertEvent(ctx, empty); got != nil {
		t.Errorf("empty artifact produced event %+v", got)
	}

	update := &a2a.TaskArtifactUpdateEvent{
		TaskID: "task-1",
		Artifact: &a2a.Artifact{
			Parts: []a2a.Part{a2a.TextPart{Text: "chunk"}},
		},
		LastChunk: true,
	}
	event := a.convertEvent(ctx, update)
	if event == nil {
		t.Fatal("artifact event was skipped")
	}
	if event.Partial {
		t.Error("last chunk should not be partial")
	}
	if event.Text() != "chunk" {
		t.Errorf("text = %q", event.Text())
	}
}

func TestConvertEvent_TaskSnapshot(t *testing.T) {
	a := &a2aAgent{cfg: Config{Name: "remote"}}
	ctx := newInvocation(t)

	task := &a2a.Task{
		ID: "task-1",
		Status: a2a.TaskStatus{
			State:   a2a.TaskStateCompleted,
			Message: a2a.NewMessage(a2a.MessageRoleAgent, a2a.TextPart{Text: "summary"}),
		},
		Artifacts: []*a2a.Artifact{
			{Parts: []a2a.Part{a2a.TextPart{Text: "artifact text"}}},
		},
	}
	event := a.convertEvent(ctx, task)
	if event == nil {
		t.Fatal("task event was skipped")
	}
	if !event.TurnComplete {
		t.Error("completed task should complete the turn")
	}
	if len(event.Message.Parts) != 2 {
		t.Errorf("parts = %d, want artifact + status message", len(event.Message.Parts))
	}
}
