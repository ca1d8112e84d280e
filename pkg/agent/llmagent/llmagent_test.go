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

package llmagent

import (
	"context"
	"fmt"
	"iter"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/a2aproject/a2a-go/a2a"

	"github.com/praxisagents/praxis/pkg/agent"
	"github.com/praxisagents/praxis/pkg/config"
	"github.com/praxisagents/praxis/pkg/model"
	"github.com/praxisagents/praxis/pkg/observability"
	"github.com/praxisagents/praxis/pkg/runner"
	"github.com/praxisagents/praxis/pkg/session"
	"github.com/praxisagents/praxis/pkg/tool"
	"github.com/praxisagents/praxis/pkg/tool/functiontool"
)

// fakeLLM yields one queued response per GenerateContent call.
type fakeLLM struct {
	queue    []*model.Response
	requests []*model.Request
}

func (m *fakeLLM) Name() string             { return "fake-model" }
func (m *fakeLLM) Provider() model.Provider { return model.ProviderUnknown }
func (m *fakeLLM) Close() error             { return nil }

func (m *fakeLLM) GenerateContent(ctx context.Context, req *model.Request, stream bool) iter.Seq2[*model.Response, error] {
	m.requests = append(m.requests, req)
	return func(yield func(*model.Response, error) bool) {
		if len(m.queue) == 0 {
			yield(nil, fmt.Errorf("fake model: no responses queued"))
			return
		}
		resp := m.queue[0]
		m.queue = m.queue[1:]
		yield(resp, nil)
	}
}

func textResponse(text string) *model.Response {
	return &model.Response{
		Content: &model.Content{
			Parts: []a2a.Part{a2a.TextPart{Text: text}},
			Role:  a2a.MessageRoleAgent,
		},
		TurnComplete: true,
		FinishReason: model.FinishReasonStop,
	}
}

func toolCallResponse(id, name string, args map[string]any) *model.Response {
	return &model.Response{
		ToolCalls:    []tool.ToolCall{{ID: id, Name: name, Args: args}},
		FinishReason: model.FinishReasonToolCalls,
	}
}

type addArgs struct {
	A float64 `json:"a"`
	B float64 `json:"b"`
}

func addTool(t *testing.T, called *int) tool.CallableTool {
	t.Helper()
	ct, err := functiontool.New(functiontool.Config{
		Name:        "add",
		Description: "Add two numbers",
	}, func(ctx tool.Context, args addArgs) (map[string]any, error) {
		if called != nil {
			*called++
		}
		return map[string]any{"content": fmt.Sprintf("%v", args.A+args.B)}, nil
	})
	if err != nil {
		t.Fatalf("functiontool.New: %v", err)
	}
	return ct
}

func collectEvents(t *testing.T, seq iter.Seq2[*agent.Event, error]) []*agent.Event {
	t.Helper()
	var events []*agent.Event
	for ev, err := range seq {
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		events = append(events, ev)
	}
	return events
}

func newTestRunner(t *testing.T, a agent.Agent, svc session.Service) *runner.Runner {
	t.Helper()
	r, err := runner.New(runner.Config{
		AppName:        "test-app",
		Agent:          a,
		SessionService: svc,
	})
	if err != nil {
		t.Fatalf("runner.New: %v", err)
	}
	return r
}

func TestNew_RequiresModel(t *testing.T) {
	if _, err := New(Config{Name: "a"}); err == nil {
		t.Fatal("expected error for missing model")
	}
	if _, err := New(Config{Model: &fakeLLM{}}); err == nil {
		t.Fatal("expected error for missing name")
	}
}

func TestRun_FinalTextResponse(t *testing.T) {
	llm := &fakeLLM{queue: []*model.Response{textResponse("hello there")}}
	a, err := New(Config{
		Name:      "assistant",
		Model:     llm,
		OutputKey: "answer",
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	svc := session.InMemoryService()
	r := newTestRunner(t, a, svc)

	events := collectEvents(t, r.Run(context.Background(), "u1", "s1", agent.NewTextContent("hi"), agent.RunConfig{}))

	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	final := events[0]
	if got := final.Text(); got != "hello there" {
		t.Errorf("final text = %q, want %q", got, "hello there")
	}
	if !final.IsFinalResponse() {
		t.Error("expected final response")
	}
	if got := final.Actions.StateDelta["answer"]; got != "hello there" {
		t.Errorf("output key delta = %v, want %q", got, "hello there")
	}

	got, err := svc.Get(context.Background(), &session.GetRequest{AppName: "test-app", UserID: "u1", SessionID: "s1"})
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if v, ok := got.Session.State().Get("answer"); !ok || v != "hello there" {
		t.Errorf("persisted answer = %v (ok=%v)", v, ok)
	}
}

func TestRun_ToolCallRoundTrip(t *testing.T) {
	var called int
	llm := &fakeLLM{queue: []*model.Response{
		toolCallResponse("call-1", "add", map[string]any{"a": 4, "b": 5}),
		textResponse("the sum is 9"),
	}}
	a, err := New(Config{
		Name:  "assistant",
		Model: llm,
		Tools: []tool.Tool{addTool(t, &called)},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	svc := session.InMemoryService()
	r := newTestRunner(t, a, svc)

	events := collectEvents(t, r.Run(context.Background(), "u1", "s1", agent.NewTextContent("add 4 and 5"), agent.RunConfig{}))

	// tool_use, tool_result, final text
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	if called != 1 {
		t.Errorf("tool called %d times, want 1", called)
	}

	toolUse := events[0]
	if len(toolUse.ToolCalls) != 1 || toolUse.ToolCalls[0].Name != "add" {
		t.Fatalf("unexpected tool calls: %+v", toolUse.ToolCalls)
	}
	if toolUse.IsFinalResponse() {
		t.Error("tool_use event must not be final")
	}

	toolResult := events[1]
	if len(toolResult.ToolResults) != 1 {
		t.Fatalf("unexpected tool results: %+v", toolResult.ToolResults)
	}
	if got := toolResult.ToolResults[0].Content; got != "9" {
		t.Errorf("tool result = %v, want %q", got, "9")
	}
	if toolResult.Message.Role != a2a.MessageRoleUser {
		t.Errorf("tool result role = %v, want user", toolResult.Message.Role)
	}

	if got := events[2].Text(); got != "the sum is 9" {
		t.Errorf("final text = %q", got)
	}

	// Second model call must include the tool result in history.
	if len(llm.requests) != 2 {
		t.Fatalf("expected 2 model calls, got %d", len(llm.requests))
	}
	var sawResult bool
	for _, msg := range llm.requests[1].Messages {
		for _, part := range msg.Parts {
			if dp, ok := part.(a2a.DataPart); ok && dp.Data["type"] == "tool_result" {
				sawResult = true
			}
		}
	}
	if !sawResult {
		t.Error("second request missing tool_result in history")
	}
}

func TestRun_ApprovalPausesRun(t *testing.T) {
	var called int
	dangerous, err := functiontool.New(functiontool.Config{
		Name:            "delete_everything",
		Description:     "Dangerous",
		RequireApproval: true,
	}, func(ctx tool.Context, args struct{}) (map[string]any, error) {
		called++
		return map[string]any{"content": "done"}, nil
	})
	if err != nil {
		t.Fatalf("functiontool.New: %v", err)
	}

	llm := &fakeLLM{queue: []*model.Response{
		toolCallResponse("call-9", "delete_everything", map[string]any{}),
	}}
	a, err := New(Config{Name: "assistant", Model: llm, Tools: []tool.Tool{dangerous}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	svc := session.InMemoryService()
	r := newTestRunner(t, a, svc)

	events := collectEvents(t, r.Run(context.Background(), "u1", "s1", agent.NewTextContent("wipe it"), agent.RunConfig{}))

	if called != 0 {
		t.Fatalf("tool executed %d times before approval", called)
	}

	last := events[len(events)-1]
	if len(last.LongRunningToolIDs) != 1 || last.LongRunningToolIDs[0] != "call-9" {
		t.Fatalf("LongRunningToolIDs = %v", last.LongRunningToolIDs)
	}
	if !last.Actions.RequireInput {
		t.Error("expected RequireInput")
	}
	if last.Actions.InputPrompt == "" {
		t.Error("expected input prompt")
	}
	if !last.IsFinalResponse() {
		t.Error("pause event must be final")
	}
}

func TestRun_ApprovedToolResumes(t *testing.T) {
	var called int
	dangerous, err := functiontool.New(functiontool.Config{
		Name:            "launch",
		Description:     "Dangerous",
		RequireApproval: true,
	}, func(ctx tool.Context, args struct{}) (map[string]any, error) {
		called++
		return map[string]any{"content": "launched"}, nil
	})
	if err != nil {
		t.Fatalf("functiontool.New: %v", err)
	}

	llm := &fakeLLM{queue: []*model.Response{
		toolCallResponse("call-7", "launch", map[string]any{}),
		textResponse("launch complete"),
	}}
	a, err := New(Config{Name: "assistant", Model: llm, Tools: []tool.Tool{dangerous}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	svc := session.InMemoryService()
	r := newTestRunner(t, a, svc)
	ctx := context.Background()

	collectEvents(t, r.Run(ctx, "u1", "s1", agent.NewTextContent("launch it"), agent.RunConfig{}))
	if called != 0 {
		t.Fatal("tool ran before approval")
	}

	// Record the approval decision, as the server does on user response.
	got, err := svc.Get(ctx, &session.GetRequest{AppName: "test-app", UserID: "u1", SessionID: "s1"})
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	decision := agent.NewEvent("approval-turn")
	decision.Author = agent.AuthorUser
	decision.Actions.StateDelta = map[string]any{approvalStatePrefix + "call-7": "approve"}
	if err := svc.AppendEvent(ctx, got.Session, decision); err != nil {
		t.Fatalf("AppendEvent: %v", err)
	}

	events := collectEvents(t, r.Run(ctx, "u1", "s1", agent.NewTextContent("approved"), agent.RunConfig{}))

	if called != 1 {
		t.Fatalf("tool called %d times, want 1", called)
	}

	var sawResult, sawFinal bool
	for _, ev := range events {
		for _, tr := range ev.ToolResults {
			if tr.ID == "call-7" && tr.Content == "launched" {
				sawResult = true
			}
		}
		if ev.Text() == "launch complete" {
			sawFinal = true
		}
	}
	if !sawResult {
		t.Error("missing executed tool result")
	}
	if !sawFinal {
		t.Error("missing final response")
	}

	// Decision key is cleared once consumed.
	got, err = svc.Get(ctx, &session.GetRequest{AppName: "test-app", UserID: "u1", SessionID: "s1"})
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if _, ok := got.Session.State().Get(approvalStatePrefix + "call-7"); ok {
		t.Error("approval decision not cleared")
	}
}

func TestRun_MixedApprovalBatchKeepsExecutedResults(t *testing.T) {
	var added int
	launched := 0
	dangerous, err := functiontool.New(functiontool.Config{
		Name:            "launch",
		Description:     "Dangerous",
		RequireApproval: true,
	}, func(ctx tool.Context, args struct{}) (map[string]any, error) {
		launched++
		return map[string]any{"content": "launched"}, nil
	})
	if err != nil {
		t.Fatalf("functiontool.New: %v", err)
	}

	// One model turn requests a gated and an ungated tool together.
	llm := &fakeLLM{queue: []*model.Response{
		{
			ToolCalls: []tool.ToolCall{
				{ID: "call-add", Name: "add", Args: map[string]any{"a": 4, "b": 5}},
				{ID: "call-launch", Name: "launch", Args: map[string]any{}},
			},
			FinishReason: model.FinishReasonToolCalls,
		},
		textResponse("sum is 9, launch complete"),
	}}
	a, err := New(Config{
		Name:  "assistant",
		Model: llm,
		Tools: []tool.Tool{addTool(t, &added), dangerous},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	svc := session.InMemoryService()
	r := newTestRunner(t, a, svc)
	ctx := context.Background()

	collectEvents(t, r.Run(ctx, "u1", "s1", agent.NewTextContent("add then launch"), agent.RunConfig{}))
	if added != 1 {
		t.Fatalf("ungated tool ran %d times, want 1", added)
	}
	if launched != 0 {
		t.Fatal("gated tool ran before approval")
	}

	got, err := svc.Get(ctx, &session.GetRequest{AppName: "test-app", UserID: "u1", SessionID: "s1"})
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	decision := agent.NewEvent("approval-turn")
	decision.Author = agent.AuthorUser
	decision.Actions.StateDelta = map[string]any{approvalStatePrefix + "call-launch": "approve"}
	if err := svc.AppendEvent(ctx, got.Session, decision); err != nil {
		t.Fatalf("AppendEvent: %v", err)
	}

	collectEvents(t, r.Run(ctx, "u1", "s1", agent.NewTextContent("approved"), agent.RunConfig{}))

	if added != 1 {
		t.Fatalf("ungated tool re-executed, ran %d times", added)
	}
	if launched != 1 {
		t.Fatalf("gated tool ran %d times after approval, want 1", launched)
	}

	// The resumed request must pair every tool_use with a tool_result:
	// the executed result from the first run survives alongside the
	// approved one, and no pending placeholder remains.
	if len(llm.requests) != 2 {
		t.Fatalf("expected 2 model calls, got %d", len(llm.requests))
	}
	uses := map[string]bool{}
	resultStatus := map[string]string{}
	for _, msg := range llm.requests[1].Messages {
		for _, part := range msg.Parts {
			dp, ok := part.(a2a.DataPart)
			if !ok {
				continue
			}
			switch dp.Data["type"] {
			case "tool_use":
				uses[dp.Data["id"].(string)] = true
			case "tool_result":
				resultStatus[dp.Data["tool_call_id"].(string)] = dp.Data["status"].(string)
			}
		}
	}
	for _, id := range []string{"call-add", "call-launch"} {
		if !uses[id] {
			t.Errorf("history missing tool_use %s", id)
		}
		if status := resultStatus[id]; status != "success" {
			t.Errorf("tool_result %s status = %q, want success", id, status)
		}
	}
}

func TestRun_DeniedToolFeedsDenialToModel(t *testing.T) {
	var called int
	dangerous, err := functiontool.New(functiontool.Config{
		Name:            "launch",
		Description:     "Dangerous",
		RequireApproval: true,
	}, func(ctx tool.Context, args struct{}) (map[string]any, error) {
		called++
		return map[string]any{"content": "launched"}, nil
	})
	if err != nil {
		t.Fatalf("functiontool.New: %v", err)
	}

	llm := &fakeLLM{queue: []*model.Response{
		toolCallResponse("call-3", "launch", map[string]any{}),
		textResponse("understood, I will not launch"),
	}}
	a, err := New(Config{Name: "assistant", Model: llm, Tools: []tool.Tool{dangerous}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	svc := session.InMemoryService()
	r := newTestRunner(t, a, svc)
	ctx := context.Background()

	collectEvents(t, r.Run(ctx, "u1", "s1", agent.NewTextContent("launch it"), agent.RunConfig{}))

	got, err := svc.Get(ctx, &session.GetRequest{AppName: "test-app", UserID: "u1", SessionID: "s1"})
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	decision := agent.NewEvent("approval-turn")
	decision.Author = agent.AuthorUser
	decision.Actions.StateDelta = map[string]any{approvalStatePrefix + "call-3": "deny"}
	if err := svc.AppendEvent(ctx, got.Session, decision); err != nil {
		t.Fatalf("AppendEvent: %v", err)
	}

	events := collectEvents(t, r.Run(ctx, "u1", "s1", agent.NewTextContent("no"), agent.RunConfig{}))

	if called != 0 {
		t.Fatalf("denied tool executed %d times", called)
	}

	var sawDenial bool
	for _, ev := range events {
		for _, tr := range ev.ToolResults {
			if content, ok := tr.Content.(string); ok && strings.HasPrefix(content, "TOOL_EXECUTION_DENIED") {
				if !tr.IsError {
					t.Error("denial result must be an error")
				}
				sawDenial = true
			}
		}
	}
	if !sawDenial {
		t.Error("missing denial tool result")
	}
	if got := events[len(events)-1].Text(); got != "understood, I will not launch" {
		t.Errorf("final text = %q", got)
	}
}

func TestRun_TransferToSubAgent(t *testing.T) {
	sub, err := agent.New(agent.Config{
		Name:        "specialist",
		Description: "Handles special requests",
		Run: func(ctx agent.InvocationContext) iter.Seq2[*agent.Event, error] {
			return func(yield func(*agent.Event, error) bool) {
				ev := agent.NewEvent(ctx.InvocationID())
				ev.Author = "specialist"
				ev.Message = a2a.NewMessage(a2a.MessageRoleAgent, a2a.TextPart{Text: "specialist here"})
				yield(ev, nil)
			}
		},
	})
	if err != nil {
		t.Fatalf("agent.New: %v", err)
	}

	llm := &fakeLLM{queue: []*model.Response{
		toolCallResponse("call-t", "transfer_to_specialist", map[string]any{"request": "take over"}),
	}}
	a, err := New(Config{Name: "root", Model: llm, SubAgents: []agent.Agent{sub}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	svc := session.InMemoryService()
	r := newTestRunner(t, a, svc)

	events := collectEvents(t, r.Run(context.Background(), "u1", "s1", agent.NewTextContent("help"), agent.RunConfig{}))

	var sawTransfer, sawSpecialist bool
	for _, ev := range events {
		if ev.Actions.TransferToAgent == "specialist" {
			sawTransfer = true
		}
		if ev.Author == "specialist" && ev.Text() == "specialist here" {
			sawSpecialist = true
		}
	}
	if !sawTransfer {
		t.Error("missing transfer action")
	}
	if !sawSpecialist {
		t.Error("sub-agent events not forwarded")
	}
}

func TestRun_BeforeModelCallbackShortCircuits(t *testing.T) {
	llm := &fakeLLM{} // empty queue: any model call would fail the test
	a, err := New(Config{
		Name:  "assistant",
		Model: llm,
		BeforeModelCallbacks: []BeforeModelCallback{
			func(ctx agent.CallbackContext, req *model.Request) (*model.Response, error) {
				return textResponse("from cache"), nil
			},
		},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	svc := session.InMemoryService()
	r := newTestRunner(t, a, svc)

	events := collectEvents(t, r.Run(context.Background(), "u1", "s1", agent.NewTextContent("hi"), agent.RunConfig{}))

	if got := events[len(events)-1].Text(); got != "from cache" {
		t.Errorf("final text = %q, want %q", got, "from cache")
	}
	if len(llm.requests) != 0 {
		t.Errorf("model called %d times, want 0", len(llm.requests))
	}
}

func TestRun_RecordsTelemetry(t *testing.T) {
	mgr := observability.NewManager(config.ObservabilityConfig{
		Enabled:    true,
		Exporter:   "stdout",
		SampleRate: 1.0,
		Metrics:    true,
	}, "test", "0.1.0")
	if err := mgr.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	defer mgr.Shutdown(context.Background())
	defer observability.SetGlobalMetrics(nil)

	var called int
	llm := &fakeLLM{queue: []*model.Response{
		toolCallResponse("call-1", "add", map[string]any{"a": 1, "b": 2}),
		textResponse("the sum is 3"),
	}}
	a, err := New(Config{Name: "assistant", Model: llm, Tools: []tool.Tool{addTool(t, &called)}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	svc := session.InMemoryService()
	r := newTestRunner(t, a, svc)
	collectEvents(t, r.Run(context.Background(), "u1", "s1", agent.NewTextContent("add"), agent.RunConfig{}))

	rec := httptest.NewRecorder()
	mgr.MetricsHandler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body := rec.Body.String()
	for _, metric := range []string{
		"praxis_agent_runs_total",
		"praxis_llm_requests_total",
		"praxis_llm_input_tokens_total",
		"praxis_tool_calls_total",
	} {
		if !strings.Contains(body, metric) {
			t.Errorf("agent run did not record %s", metric)
		}
	}
}

func TestRun_MaxIterationsExceeded(t *testing.T) {
	var called int
	llm := &fakeLLM{queue: []*model.Response{
		toolCallResponse("c1", "add", map[string]any{"a": 1, "b": 1}),
		toolCallResponse("c2", "add", map[string]any{"a": 2, "b": 2}),
		toolCallResponse("c3", "add", map[string]any{"a": 3, "b": 3}),
	}}
	a, err := New(Config{
		Name:          "assistant",
		Model:         llm,
		Tools:         []tool.Tool{addTool(t, &called)},
		MaxIterations: 2,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	svc := session.InMemoryService()
	r := newTestRunner(t, a, svc)

	var loopErr error
	for _, err := range r.Run(context.Background(), "u1", "s1", agent.NewTextContent("loop"), agent.RunConfig{}) {
		if err != nil {
			loopErr = err
			break
		}
	}
	if loopErr == nil {
		t.Fatal("expected iteration limit error")
	}
	if !strings.Contains(loopErr.Error(), "iterations") {
		t.Errorf("unexpected error: %v", loopErr)
	}
}
