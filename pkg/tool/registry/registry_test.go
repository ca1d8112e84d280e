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

package registry

import (
	"testing"

	"github.com/praxisagents/praxis/pkg/tool"
)

type namedTool string

func (n namedTool) Name() string           { return string(n) }
func (n namedTool) Description() string    { return "test tool " + string(n) }
func (n namedTool) IsLongRunning() bool    { return false }
func (n namedTool) RequiresApproval() bool { return false }

func TestRegisterAndGet(t *testing.T) {
	r := New()
	if err := r.Register(namedTool("clock")); err != nil {
		t.Fatalf("Register: %v", err)
	}
	got, ok := r.Get("clock")
	if !ok {
		t.Fatal("Get missed registered tool")
	}
	if got.Name() != "clock" {
		t.Errorf("Get returned %q", got.Name())
	}
	if _, ok := r.Get("missing"); ok {
		t.Error("Get found unregistered tool")
	}
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	r := New()
	if err := r.Register(namedTool("clock")); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := r.Register(namedTool("clock")); err == nil {
		t.Error("duplicate Register succeeded")
	}
	if err := r.Register(nil); err == nil {
		t.Error("nil Register succeeded")
	}
	if err := r.Register(namedTool("")); err == nil {
		t.Error("empty-name Register succeeded")
	}
}

func TestNamesSorted(t *testing.T) {
	r := New()
	r.MustRegister(namedTool("zebra"), namedTool("apple"), namedTool("mango"))

	names := r.Names()
	want := []string{"apple", "mango", "zebra"}
	if len(names) != len(want) {
		t.Fatalf("Names = %v", names)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("Names[%d] = %q, want %q", i, names[i], want[i])
		}
	}

	r.Unregister("mango")
	if len(r.Names()) != 2 {
		t.Errorf("Names after Unregister = %v", r.Names())
	}
}

func TestToolsetFiltering(t *testing.T) {
	r := New()
	r.MustRegister(namedTool("read_file"), namedTool("write_file"), namedTool("clock"))

	ts := r.Toolset("files", tool.Allow("read_file", "write_file"))
	if ts.Name() != "files" {
		t.Errorf("toolset name = %q", ts.Name())
	}
	tools, err := ts.Tools(nil)
	if err != nil {
		t.Fatalf("Tools: %v", err)
	}
	if len(tools) != 2 {
		t.Fatalf("filtered toolset has %d tools, want 2", len(tools))
	}
	for _, tl := range tools {
		if tl.Name() == "clock" {
			t.Error("predicate did not exclude clock")
		}
	}

	all, err := r.Toolset("everything", nil).Tools(nil)
	if err != nil {
		t.Fatalf("Tools: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("nil predicate exposed %d tools, want 3", len(all))
	}
}
