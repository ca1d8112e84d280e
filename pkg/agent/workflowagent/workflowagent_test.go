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

package workflowagent

import (
	"context"
	"iter"
	"sync"
	"testing"

	"github.com/a2aproject/a2a-go/a2a"

	"github.com/praxisagents/praxis/pkg/agent"
	"github.com/praxisagents/praxis/pkg/session"
)

// recorder tracks sub-agent executions across goroutines.
type recorder struct {
	mu    sync.Mutex
	names []string
}

func (r *recorder) record(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.names = append(r.names, name)
}

func (r *recorder) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.names...)
}

func stubAgent(t *testing.T, name string, rec *recorder, escalateAfter int) agent.Agent {
	t.Helper()
	calls := 0
	a, err := agent.New(agent.Config{
		Name: name,
		Run: func(ctx agent.InvocationContext) iter.Seq2[*agent.Event, error] {
			return func(yield func(*agent.Event, error) bool) {
				calls++
				rec.record(name)
				ev := agent.NewEvent(ctx.InvocationID())
				ev.Author = name
				ev.Branch = ctx.Branch()
				ev.Message = a2a.NewMessage(a2a.MessageRoleAgent, a2a.TextPart{Text: name + " done"})
				if escalateAfter > 0 && calls >= escalateAfter {
					ev.Actions.Escalate = true
				}
				yield(ev, nil)
			}
		},
	})
	if err != nil {
		t.Fatalf("agent.New(%s): %v", name, err)
	}
	return a
}

func newInvocation(t *testing.T, a agent.Agent) agent.InvocationContext {
	t.Helper()
	svc := session.InMemoryService()
	created, err := svc.Create(context.Background(), &session.CreateRequest{
		AppName: "app", UserID: "u", SessionID: "s",
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return agent.NewInvocationContext(context.Background(), agent.InvocationContextParams{
		Session:     created.Session,
		Agent:       a,
		UserContent: agent.NewTextContent("go"),
	})
}

func TestSequential_RunsInOrder(t *testing.T) {
	rec := &recorder{}
	seq, err := NewSequential(SequentialConfig{
		Name: "pipeline",
		SubAgents: []agent.Agent{
			stubAgent(t, "first", rec, 0),
			stubAgent(t, "second", rec, 0),
			stubAgent(t, "third", rec, 0),
		},
	})
	if err != nil {
		t.Fatalf("NewSequential: %v", err)
	}

	var branches []string
	for ev, err := range seq.Run(newInvocation(t, seq)) {
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		branches = append(branches, ev.Branch)
	}

	want := []string{"first", "second", "third"}
	got := rec.all()
	if len(got) != len(want) {
		t.Fatalf("executions = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("execution[%d] = %q, want %q", i, got[i], want[i])
		}
	}

	if branches[0] != "pipeline/first" {
		t.Errorf("branch = %q, want %q", branches[0], "pipeline/first")
	}
}

func TestLoop_MaxIterations(t *testing.T) {
	rec := &recorder{}
	loop, err := NewLoop(LoopConfig{
		Name:          "refine",
		SubAgents:     []agent.Agent{stubAgent(t, "worker", rec, 0)},
		MaxIterations: 3,
	})
	if err != nil {
		t.Fatalf("NewLoop: %v", err)
	}

	count := 0
	for _, err := range loop.Run(newInvocation(t, loop)) {
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		count++
	}
	if count != 3 {
		t.Errorf("events = %d, want 3", count)
	}
}

func TestLoop_EscalateExits(t *testing.T) {
	rec := &recorder{}
	loop, err := NewLoop(LoopConfig{
		Name:          "refine",
		SubAgents:     []agent.Agent{stubAgent(t, "worker", rec, 2)},
		MaxIterations: 10,
	})
	if err != nil {
		t.Fatalf("NewLoop: %v", err)
	}

	for _, err := range loop.Run(newInvocation(t, loop)) {
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	if got := len(rec.all()); got != 2 {
		t.Errorf("worker ran %d times, want 2 (escalate on second)", got)
	}
}

func TestParallel_RunsAllSubAgents(t *testing.T) {
	rec := &recorder{}
	par, err := NewParallel(ParallelConfig{
		Name: "voters",
		SubAgents: []agent.Agent{
			stubAgent(t, "v1", rec, 0),
			stubAgent(t, "v2", rec, 0),
			stubAgent(t, "v3", rec, 0),
		},
	})
	if err != nil {
		t.Fatalf("NewParallel: %v", err)
	}

	branches := make(map[string]bool)
	for ev, err := range par.Run(newInvocation(t, par)) {
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		branches[ev.Branch] = true
	}

	for _, want := range []string{"voters/v1", "voters/v2", "voters/v3"} {
		if !branches[want] {
			t.Errorf("missing branch %q (got %v)", want, branches)
		}
	}
	if got := len(rec.all()); got != 3 {
		t.Errorf("executions = %d, want 3", got)
	}
}
