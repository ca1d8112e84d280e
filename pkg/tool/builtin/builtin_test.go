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

package builtin

import (
	"strings"
	"testing"
	"time"
)

func TestClock(t *testing.T) {
	clock, err := NewClock()
	if err != nil {
		t.Fatalf("NewClock: %v", err)
	}
	if clock.Name() != "current_time" {
		t.Errorf("name = %q", clock.Name())
	}

	out, err := clock.Call(nil, map[string]any{})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if out["timezone"] != "UTC" {
		t.Errorf("default timezone = %v", out["timezone"])
	}
	if _, err := time.Parse(time.RFC3339, out["time"].(string)); err != nil {
		t.Errorf("time not RFC3339: %v", err)
	}

	out, err = clock.Call(nil, map[string]any{"timezone": "Europe/Istanbul"})
	if err != nil {
		t.Fatalf("Call with timezone: %v", err)
	}
	if out["timezone"] != "Europe/Istanbul" {
		t.Errorf("timezone = %v", out["timezone"])
	}

	if _, err := clock.Call(nil, map[string]any{"timezone": "Mars/Olympus"}); err == nil {
		t.Error("unknown timezone accepted")
	}
}

func TestCalculator(t *testing.T) {
	calc, err := NewCalculator()
	if err != nil {
		t.Fatalf("NewCalculator: %v", err)
	}

	tests := []struct {
		op   string
		a, b float64
		want float64
	}{
		{"add", 2, 3, 5},
		{"subtract", 10, 4, 6},
		{"multiply", 6, 7, 42},
		{"divide", 9, 3, 3},
	}
	for _, tt := range tests {
		out, err := calc.Call(nil, map[string]any{"operation": tt.op, "a": tt.a, "b": tt.b})
		if err != nil {
			t.Fatalf("%s: %v", tt.op, err)
		}
		if out["result"] != tt.want {
			t.Errorf("%s(%v, %v) = %v, want %v", tt.op, tt.a, tt.b, out["result"], tt.want)
		}
	}

	if _, err := calc.Call(nil, map[string]any{"operation": "divide", "a": 1, "b": 0}); err == nil {
		t.Error("division by zero accepted")
	}
	_, err = calc.Call(nil, map[string]any{"operation": "modulo", "a": 1, "b": 2})
	if err == nil || !strings.Contains(err.Error(), "unsupported") {
		t.Errorf("unsupported operation error = %v", err)
	}
}

func TestAll(t *testing.T) {
	tools, err := All()
	if err != nil {
		t.Fatalf("All: %v", err)
	}
	if len(tools) != 2 {
		t.Fatalf("All returned %d tools", len(tools))
	}
}
