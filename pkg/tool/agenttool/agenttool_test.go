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

package agenttool

import (
	"context"
	"iter"
	"strings"
	"testing"

	"github.com/a2aproject/a2a-go/a2a"

	"github.com/praxisagents/praxis/pkg/agent"
	"github.com/praxisagents/praxis/pkg/session"
	"github.com/praxisagents/praxis/pkg/tool"
)

// echoAgent records the request it receives and the state it sees, then
// answers with a fixed reply.
type echoAgent struct {
	gotRequest string
	gotBranch  string
	gotState   map[string]any
	reply      string
}

func newEchoAgent(t *testing.T, ea *echoAgent) agent.Agent {
	t.Helper()
	a, err := agent.New(agent.Config{
		Name:        "researcher",
		Description: "Digs up facts",
		Run: func(ctx agent.InvocationContext) iter.Seq2[*agent.Event, error] {
			return func(yield func(*agent.Event, error) bool) {
				if uc := ctx.UserContent(); uc != nil && len(uc.Parts) > 0 {
					if tp, ok := uc.Parts[0].(a2a.TextPart); ok {
						ea.gotRequest = tp.Text
					}
				}
				ea.gotBranch = ctx.Branch()
				if sess := ctx.Session(); sess != nil {
					ea.gotState = sess.State().All()
				}
				ev := agent.NewEvent(ctx.InvocationID())
				ev.Author = "researcher"
				ev.Message = a2a.NewMessage(a2a.MessageRoleAgent, a2a.TextPart{Text: ea.reply})
				yield(ev, nil)
			}
		},
	})
	if err != nil {
		t.Fatalf("agent.New: %v", err)
	}
	return a
}

// testToolContext is the minimal tool context a flow hands to tools.
type testToolContext struct {
	agent.CallbackContext
	invCtx  agent.InvocationContext
	actions *agent.EventActions
}

func (c *testToolContext) FunctionCallID() string                     { return "call-1" }
func (c *testToolContext) Actions() *agent.EventActions               { return c.actions }
func (c *testToolContext) InvocationContext() agent.InvocationContext { return c.invCtx }

func newToolContext(t *testing.T, state map[string]any) *testToolContext {
	t.Helper()
	svc := session.InMemoryService()
	created, err := svc.Create(context.Background(), &session.CreateRequest{
		AppName: "app", UserID: "u", SessionID: "s", State: state,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	invCtx := agent.NewInvocationContext(context.Background(), agent.InvocationContextParams{
		Session: created.Session,
		Branch:  "root",
	})
	actions := &agent.EventActions{}
	return &testToolContext{
		CallbackContext: agent.NewCallbackContext(invCtx, actions),
		invCtx:          invCtx,
		actions:         actions,
	}
}

func TestNew_NilAgent(t *testing.T) {
	if New(nil, nil) != nil {
		t.Error("New(nil) should return nil")
	}
}

func TestSchema_DefaultRequestParameter(t *testing.T) {
	ea := &echoAgent{reply: "ok"}
	at := New(newEchoAgent(t, ea), nil).(tool.CallableTool)

	schema := at.Schema()
	props, ok := schema["properties"].(map[string]any)
	if !ok {
		t.Fatalf("schema has no properties: %v", schema)
	}
	if _, ok := props["request"]; !ok {
		t.Error("schema missing request parameter")
	}
}

func TestCall_RunsChildInIsolatedSession(t *testing.T) {
	ea := &echoAgent{reply: "the answer is 42"}
	at := New(newEchoAgent(t, ea), nil).(tool.CallableTool)

	ctx := newToolContext(t, map[string]any{
		"topic":            "physics",
		"_approval:call-1": "approve",
	})
	result, err := at.Call(ctx, map[string]any{"request": "find the answer"})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}

	if ea.gotRequest != "find the answer" {
		t.Errorf("child request = %q", ea.gotRequest)
	}
	if ea.gotBranch != "root/researcher" {
		t.Errorf("child branch = %q, want %q", ea.gotBranch, "root/researcher")
	}
	if ea.gotState["topic"] != "physics" {
		t.Errorf("parent state not copied: %v", ea.gotState)
	}
	for k := range ea.gotState {
		if strings.HasPrefix(k, "_") {
			t.Errorf("internal key %q leaked into child session", k)
		}
	}

	if result["result"] != "the answer is 42" {
		t.Errorf("result = %v", result["result"])
	}
	if result["agent_name"] != "researcher" {
		t.Errorf("agent_name = %v", result["agent_name"])
	}
	if result["event_count"] != 1 {
		t.Errorf("event_count = %v", result["event_count"])
	}
	if result["invocation_id"] == "" {
		t.Error("invocation_id is empty")
	}
}

func TestCall_SkipSummarization(t *testing.T) {
	ea := &echoAgent{reply: "done"}
	at := New(newEchoAgent(t, ea), &Config{SkipSummarization: true}).(tool.CallableTool)

	ctx := newToolContext(t, nil)
	if _, err := at.Call(ctx, map[string]any{"request": "go"}); err != nil {
		t.Fatalf("Call: %v", err)
	}
	if !ctx.actions.SkipSummarization {
		t.Error("SkipSummarization action not set")
	}
}

func TestCall_MissingRequest(t *testing.T) {
	ea := &echoAgent{reply: "done"}
	at := New(newEchoAgent(t, ea), nil).(tool.CallableTool)

	ctx := newToolContext(t, nil)
	if _, err := at.Call(ctx, map[string]any{}); err == nil {
		t.Error("expected error for missing request")
	}
	if _, err := at.Call(ctx, map[string]any{"request": 7}); err == nil {
		t.Error("expected error for non-string request")
	}
}
