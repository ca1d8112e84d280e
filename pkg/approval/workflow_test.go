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
	"fmt"
	"iter"
	"testing"
	"time"

	"github.com/a2aproject/a2a-go/a2a"

	"github.com/praxisagents/praxis/pkg/config"
	"github.com/praxisagents/praxis/pkg/model"
)

// fakeLLM yields one queued response per GenerateContent call.
type fakeLLM struct {
	queue []*model.Response
}

func (m *fakeLLM) Name() string             { return "fake-model" }
func (m *fakeLLM) Provider() model.Provider { return model.ProviderUnknown }
func (m *fakeLLM) Close() error             { return nil }

func (m *fakeLLM) GenerateContent(ctx context.Context, req *model.Request, stream bool) iter.Seq2[*model.Response, error] {
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

func analysisResponse(actionType, description, risk string) *model.Response {
	return textResponse(fmt.Sprintf(`{
		"analysis": "test",
		"action_type": %q,
		"description": %q,
		"risk_level": %q,
		"parameters": {},
		"reason": "test"
	}`, actionType, description, risk))
}

func newTestWorkflow(t *testing.T, llm *fakeLLM) (*Workflow, *Store) {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("sql.Open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	store, err := NewStore(db)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	wf, err := NewWorkflow(llm, store, config.ApprovalConfig{Timeout: 10 * time.Minute}, nil)
	if err != nil {
		t.Fatalf("NewWorkflow: %v", err)
	}
	return wf, store
}

func TestTriageRisk(t *testing.T) {
	tests := []struct {
		plan *ActionPlan
		want RiskLevel
	}{
		{&ActionPlan{ActionType: "query_info", RiskLevel: RiskCritical}, RiskLow},
		{&ActionPlan{ActionType: "make_payment", RiskLevel: RiskLow}, RiskCritical},
		{&ActionPlan{ActionType: "other", RiskLevel: RiskHigh}, RiskHigh},
		{&ActionPlan{ActionType: "other", RiskLevel: "bogus"}, RiskMedium},
		{nil, RiskHigh},
	}
	for _, tt := range tests {
		if got := TriageRisk(tt.plan); got != tt.want {
			t.Errorf("TriageRisk(%+v) = %q, want %q", tt.plan, got, tt.want)
		}
	}
}

func TestRun_LowRiskExecutesImmediately(t *testing.T) {
	llm := &fakeLLM{queue: []*model.Response{
		analysisResponse("query_info", "look up the weather", "low"),
		textResponse("The weather lookup is done."),
	}}
	wf, _ := newTestWorkflow(t, llm)

	result, err := wf.Run(context.Background(), "what is the weather")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Status != StatusCompleted {
		t.Errorf("status = %q, want completed", result.Status)
	}
	if result.Answer != "The weather lookup is done." {
		t.Errorf("answer = %q", result.Answer)
	}
}

func TestRun_HighRiskWaitsForApproval(t *testing.T) {
	llm := &fakeLLM{queue: []*model.Response{
		analysisResponse("delete_data", "delete the account", "high"),
	}}
	wf, store := newTestWorkflow(t, llm)

	result, err := wf.Run(context.Background(), "delete my account")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Status != StatusWaitingApproval {
		t.Fatalf("status = %q, want waiting_approval", result.Status)
	}
	if result.Answer != "" {
		t.Errorf("answer = %q, want empty while waiting", result.Answer)
	}

	pending, err := store.PendingApprovals(context.Background())
	if err != nil {
		t.Fatalf("PendingApprovals: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != result.TaskID {
		t.Errorf("pending = %+v", pending)
	}
	if pending[0].PendingAction == nil || pending[0].PendingAction.ActionType != "delete_data" {
		t.Errorf("pending action = %+v", pending[0].PendingAction)
	}
}

func TestRun_CriticalRiskAutoRejects(t *testing.T) {
	llm := &fakeLLM{queue: []*model.Response{
		analysisResponse("make_payment", "wire the funds", "critical"),
		textResponse("The payment was rejected."),
	}}
	wf, store := newTestWorkflow(t, llm)

	result, err := wf.Run(context.Background(), "wire all funds to this account")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Status != StatusRejected {
		t.Errorf("status = %q, want rejected", result.Status)
	}

	task, err := store.Get(context.Background(), result.TaskID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if task.Status != StatusRejected {
		t.Errorf("stored status = %q", task.Status)
	}
}

func TestResume_ApprovedExecutes(t *testing.T) {
	llm := &fakeLLM{queue: []*model.Response{
		analysisResponse("delete_data", "delete stale rows", "high"),
	}}
	wf, _ := newTestWorkflow(t, llm)

	result, err := wf.Run(context.Background(), "clean up stale rows")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	llm.queue = append(llm.queue, textResponse("Stale rows are gone."))
	resumed, err := wf.Resume(context.Background(), result.TaskID, true, "verified backup exists")
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if resumed.Status != StatusCompleted {
		t.Errorf("status = %q, want completed", resumed.Status)
	}
	if resumed.Answer != "Stale rows are gone." {
		t.Errorf("answer = %q", resumed.Answer)
	}
}

func TestResume_RejectedDoesNotExecute(t *testing.T) {
	executed := false
	llm := &fakeLLM{queue: []*model.Response{
		analysisResponse("send_message", "notify all users", "high"),
	}}
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("sql.Open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	store, err := NewStore(db)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	wf, err := NewWorkflow(llm, store, config.ApprovalConfig{}, func(ctx context.Context, plan *ActionPlan) (string, error) {
		executed = true
		return "sent", nil
	})
	if err != nil {
		t.Fatalf("NewWorkflow: %v", err)
	}

	result, err := wf.Run(context.Background(), "notify everyone")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	llm.queue = append(llm.queue, textResponse("The notification was not sent."))
	resumed, err := wf.Resume(context.Background(), result.TaskID, false, "too broad")
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if resumed.Status != StatusRejected {
		t.Errorf("status = %q, want rejected", resumed.Status)
	}
	if executed {
		t.Error("executor ran for a rejected action")
	}
}

func TestResume_WrongStatus(t *testing.T) {
	llm := &fakeLLM{queue: []*model.Response{
		analysisResponse("query_info", "read data", "low"),
		textResponse("done"),
	}}
	wf, _ := newTestWorkflow(t, llm)

	result, err := wf.Run(context.Background(), "read it")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if _, err := wf.Resume(context.Background(), result.TaskID, true, ""); err == nil {
		t.Error("expected error resuming a completed task")
	}
}

func TestExpireStale(t *testing.T) {
	llm := &fakeLLM{queue: []*model.Response{
		analysisResponse("delete_data", "drop table", "high"),
	}}
	wf, store := newTestWorkflow(t, llm)

	result, err := wf.Run(context.Background(), "drop the table")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	// Not stale yet.
	expired, err := wf.ExpireStale(context.Background(), time.Now())
	if err != nil {
		t.Fatalf("ExpireStale: %v", err)
	}
	if len(expired) != 0 {
		t.Errorf("expired = %v, want none", expired)
	}

	expired, err = wf.ExpireStale(context.Background(), time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("ExpireStale: %v", err)
	}
	if len(expired) != 1 || expired[0] != result.TaskID {
		t.Errorf("expired = %v", expired)
	}

	task, err := store.Get(context.Background(), result.TaskID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if task.Status != StatusFailed {
		t.Errorf("status = %q, want failed", task.Status)
	}
}

func TestAnalyze_UnparseableEscalates(t *testing.T) {
	llm := &fakeLLM{queue: []*model.Response{
		textResponse("I cannot answer in JSON, sorry."),
	}}
	wf, _ := newTestWorkflow(t, llm)

	result, err := wf.Run(context.Background(), "do something vague")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Status != StatusWaitingApproval {
		t.Errorf("status = %q, want waiting_approval for unparseable analysis", result.Status)
	}
	if result.Plan.RiskLevel != RiskHigh {
		t.Errorf("risk = %q, want high", result.Plan.RiskLevel)
	}
}

func TestStripCodeFence(t *testing.T) {
	fenced := "```json\n{\"a\": 1}\n```"
	if got := stripCodeFence(fenced); got != `{"a": 1}` {
		t.Errorf("stripCodeFence = %q", got)
	}
	if got := stripCodeFence(`{"a": 1}`); got != `{"a": 1}` {
		t.Errorf("raw passthrough = %q", got)
	}
}
