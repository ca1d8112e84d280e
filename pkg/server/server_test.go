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

package server

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/a2aproject/a2a-go/a2a"
	"github.com/a2aproject/a2a-go/a2asrv"

	"github.com/praxisagents/praxis/pkg/agent"
	"github.com/praxisagents/praxis/pkg/auth"
	"github.com/praxisagents/praxis/pkg/config"
	"github.com/praxisagents/praxis/pkg/passport"
	"github.com/praxisagents/praxis/pkg/runner"
	"github.com/praxisagents/praxis/pkg/session"
)

func TestExtractApprovalResponse(t *testing.T) {
	approveData := a2a.NewMessage(a2a.MessageRoleUser, a2a.DataPart{Data: map[string]any{
		"type":         "tool_approval",
		"decision":     "approve",
		"tool_call_id": "call-1",
		"task_id":      "task-1",
	}})
	resp := ExtractApprovalResponse(approveData)
	if resp == nil {
		t.Fatal("expected approval response for tool_approval data part")
	}
	if resp.Decision != "approve" || resp.ToolCallID != "call-1" || resp.TaskID != "task-1" {
		t.Errorf("unexpected approval: %+v", resp)
	}

	for text, want := range map[string]string{
		"approve":  "approve",
		"approved": "approve",
		"deny":     "deny",
		"reject":   "deny",
	} {
		resp := ExtractApprovalResponse(a2a.NewMessage(a2a.MessageRoleUser, a2a.TextPart{Text: text}))
		if resp == nil || resp.Decision != want {
			t.Errorf("text %q: got %+v, want decision %q", text, resp, want)
		}
	}

	ordinary := a2a.NewMessage(a2a.MessageRoleUser, a2a.TextPart{Text: "what's the weather?"})
	if resp := ExtractApprovalResponse(ordinary); resp != nil {
		t.Errorf("ordinary message parsed as approval: %+v", resp)
	}
	if resp := ExtractApprovalResponse(nil); resp != nil {
		t.Error("nil message parsed as approval")
	}
}

func TestToInvocationMeta(t *testing.T) {
	msg := a2a.NewMessage(a2a.MessageRoleUser, a2a.TextPart{Text: "hi"})
	msg.Metadata = map[string]any{"user_id": "alice"}

	meta := toInvocationMeta(&a2asrv.RequestContext{
		TaskID:    a2a.TaskID("task-1"),
		ContextID: "ctx-1",
		Message:   msg,
	})
	if meta.sessionID != "ctx-1" {
		t.Errorf("sessionID = %q, want ctx-1", meta.sessionID)
	}
	if meta.userID != "alice" {
		t.Errorf("userID = %q, want alice", meta.userID)
	}

	meta = toInvocationMeta(&a2asrv.RequestContext{ContextID: "ctx-2"})
	if meta.userID != "default" {
		t.Errorf("userID = %q, want default", meta.userID)
	}
}

func newTestProcessor() *eventProcessor {
	reqCtx := &a2asrv.RequestContext{
		TaskID:    a2a.TaskID("task-1"),
		ContextID: "ctx-1",
	}
	return newEventProcessor(reqCtx, invocationMeta{
		userID:    "default",
		sessionID: "ctx-1",
		eventMeta: map[string]any{},
	})
}

func contentEvent(text string) *agent.Event {
	event := agent.NewEvent("inv-1")
	event.Author = "assistant"
	event.Message = a2a.NewMessage(a2a.MessageRoleAgent, a2a.TextPart{Text: text})
	return event
}

func TestEventProcessor_StreamsIntoOneArtifact(t *testing.T) {
	p := newTestProcessor()

	first := p.process(contentEvent("hello"))
	if first == nil {
		t.Fatal("expected artifact event for first content")
	}
	second := p.process(contentEvent(" world"))
	if second == nil {
		t.Fatal("expected artifact event for second content")
	}
	if first.Artifact.ID != second.Artifact.ID {
		t.Errorf("chunks split across artifacts: %q vs %q", first.Artifact.ID, second.Artifact.ID)
	}

	terminal := p.makeTerminalEvents()
	if len(terminal) != 2 {
		t.Fatalf("terminal events = %d, want 2 (last chunk + completed)", len(terminal))
	}

	lastChunk, ok := terminal[0].(*a2a.TaskArtifactUpdateEvent)
	if !ok || !lastChunk.LastChunk {
		t.Errorf("first terminal event should close the artifact, got %T", terminal[0])
	}
	status, ok := terminal[1].(*a2a.TaskStatusUpdateEvent)
	if !ok {
		t.Fatalf("second terminal event = %T, want status update", terminal[1])
	}
	if status.Status.State != a2a.TaskStateCompleted || !status.Final {
		t.Errorf("terminal status = %+v, want final completed", status.Status)
	}
}

func TestEventProcessor_SkipsContentlessEvents(t *testing.T) {
	p := newTestProcessor()

	stateOnly := agent.NewEvent("inv-1")
	stateOnly.Author = "assistant"
	stateOnly.Actions = agent.EventActions{StateDelta: map[string]any{"k": "v"}}
	if got := p.process(stateOnly); got != nil {
		t.Errorf("state-only event produced artifact update: %+v", got)
	}
	if got := p.process(nil); got != nil {
		t.Error("nil event produced artifact update")
	}
}

func TestEventProcessor_InputRequired(t *testing.T) {
	p := newTestProcessor()

	paused := agent.NewEvent("inv-1")
	paused.Author = "assistant"
	paused.LongRunningToolIDs = []string{"call-7"}
	paused.Actions = agent.EventActions{InputPrompt: "Approve delete_file?"}
	p.process(paused)

	terminal := p.makeTerminalEvents()
	if len(terminal) != 1 {
		t.Fatalf("terminal events = %d, want 1", len(terminal))
	}
	status, ok := terminal[0].(*a2a.TaskStatusUpdateEvent)
	if !ok {
		t.Fatalf("terminal event = %T, want status update", terminal[0])
	}
	if status.Status.State != a2a.TaskStateInputRequired || !status.Final {
		t.Errorf("status = %+v, want final input_required", status.Status)
	}
	if status.Metadata["input_required"] != true {
		t.Error("input_required metadata missing")
	}
	if status.Status.Message == nil {
		t.Error("expected prompt message on status")
	}
}

func TestEventProcessor_RunFailure(t *testing.T) {
	p := newTestProcessor()

	failed := p.makeFailedEvent(context.DeadlineExceeded, nil)
	if failed.Status.State != a2a.TaskStateFailed || !failed.Final {
		t.Errorf("status = %+v, want final failed", failed.Status)
	}
	if failed.Status.Message == nil {
		t.Error("failed status should carry the cause")
	}
}

func TestEventProcessor_EscalateInTerminalMeta(t *testing.T) {
	p := newTestProcessor()

	escalated := contentEvent("stopping")
	escalated.Actions.Escalate = true
	p.process(escalated)

	terminal := p.makeTerminalEvents()
	status := terminal[len(terminal)-1].(*a2a.TaskStatusUpdateEvent)
	if status.Metadata[metaKeyEscalate] != true {
		t.Error("escalate flag missing from terminal metadata")
	}
}

// faultyStore fails Get with a fixed error and counts Create calls.
type faultyStore struct {
	session.Service
	getErr  error
	creates int
}

func (f *faultyStore) Get(ctx context.Context, req *session.GetRequest) (*session.GetResponse, error) {
	return nil, f.getErr
}

func (f *faultyStore) Create(ctx context.Context, req *session.CreateRequest) (*session.CreateResponse, error) {
	f.creates++
	return f.Service.Create(ctx, req)
}

func TestPrepareSession_GetErrorDoesNotCreate(t *testing.T) {
	storeErr := errors.New("store unavailable")
	svc := &faultyStore{Service: session.InMemoryService(), getErr: storeErr}
	e := NewExecutor(ExecutorConfig{RunnerConfig: runner.Config{AppName: "test", SessionService: svc}})
	meta := invocationMeta{userID: "u1", sessionID: "s1"}

	err := e.prepareSession(context.Background(), meta)
	if err == nil || !errors.Is(err, storeErr) {
		t.Fatalf("expected the Get error to surface, got %v", err)
	}
	if svc.creates != 0 {
		t.Errorf("expected no session creation on a failing Get, got %d", svc.creates)
	}

	// A genuinely missing session still gets created.
	svc.getErr = session.ErrSessionNotFound
	if err := e.prepareSession(context.Background(), meta); err != nil {
		t.Fatalf("prepareSession failed for a missing session: %v", err)
	}
	if svc.creates != 1 {
		t.Errorf("expected one session creation, got %d", svc.creates)
	}
}

type staticValidator struct{}

func (staticValidator) ValidateToken(ctx context.Context, token string) (*auth.Claims, error) {
	return &auth.Claims{Subject: "tester"}, nil
}

func testConfig() *config.Config {
	cfg := &config.Config{
		Version: "1.2.3",
		Agents: map[string]*config.AgentConfig{
			"assistant": {Description: "General assistant", Model: "default"},
		},
	}
	cfg.Server.SetDefaults()
	return cfg
}

func TestBuildAgentCard(t *testing.T) {
	s := NewHTTPServer(testConfig(), map[string]*Executor{})

	card := s.buildAgentCard("assistant", s.cfg.Agents["assistant"])
	if card.Name != "assistant" || card.Version != "1.2.3" {
		t.Errorf("card identity: %q %q", card.Name, card.Version)
	}
	if card.URL != s.cfg.Server.BaseURL+"/agents/assistant" {
		t.Errorf("card URL = %q", card.URL)
	}

	var declared bool
	for _, ext := range card.Capabilities.Extensions {
		if ext.URI == passport.ExtensionURI {
			declared = true
		}
	}
	if !declared {
		t.Error("card does not declare the secure-passport extension")
	}
	if card.SecuritySchemes != nil {
		t.Error("security schemes present without auth validator")
	}

	s = NewHTTPServer(testConfig(), map[string]*Executor{}, WithAuthValidator(staticValidator{}))
	card = s.buildAgentCard("assistant", s.cfg.Agents["assistant"])
	if card.SecuritySchemes == nil {
		t.Error("security schemes missing with auth validator")
	}
}

func TestHTTPServerRoutes(t *testing.T) {
	s := NewHTTPServer(testConfig(), map[string]*Executor{})
	mux := s.setupRoutes()

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("GET", "/health", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("/health status = %d, want 200", rec.Code)
	}

	// No executor registered, so discovery is empty but well-formed.
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("GET", "/agents", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("/agents status = %d, want 200", rec.Code)
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("POST", "/agents/unknown", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown agent status = %d, want 404", rec.Code)
	}
}
