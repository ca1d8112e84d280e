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

package functiontool

import (
	"testing"

	"github.com/praxisagents/praxis/pkg/tool"
)

type weatherArgs struct {
	City string `json:"city" jsonschema:"required,description=City to look up"`
	Unit string `json:"unit,omitempty"`
}

func newWeatherTool(t *testing.T) tool.CallableTool {
	t.Helper()
	wt, err := New(Config{Name: "get_weather", Description: "Looks up the weather."},
		func(_ tool.Context, args weatherArgs) (map[string]any, error) {
			return map[string]any{"city": args.City, "temp_c": 21}, nil
		})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return wt
}

func TestNewValidation(t *testing.T) {
	fn := func(_ tool.Context, _ weatherArgs) (map[string]any, error) { return nil, nil }

	if _, err := New(Config{Description: "d"}, fn); err == nil {
		t.Error("missing name accepted")
	}
	if _, err := New(Config{Name: "n"}, fn); err == nil {
		t.Error("missing description accepted")
	}
	if _, err := New[weatherArgs](Config{Name: "n", Description: "d"}, nil); err == nil {
		t.Error("nil function accepted")
	}
}

func TestSchemaReflection(t *testing.T) {
	wt := newWeatherTool(t)

	schema := wt.Schema()
	if schema["type"] != "object" {
		t.Errorf("schema type = %v", schema["type"])
	}
	props, ok := schema["properties"].(map[string]any)
	if !ok {
		t.Fatalf("schema has no properties: %v", schema)
	}
	if _, ok := props["city"]; !ok {
		t.Error("city property missing from schema")
	}
	if _, ok := schema["$schema"]; ok {
		t.Error("schema carries $schema key")
	}

	required, _ := schema["required"].([]any)
	found := false
	for _, r := range required {
		if r == "city" {
			found = true
		}
	}
	if !found {
		t.Errorf("required = %v, want city", required)
	}
}

func TestCallDecodesArgs(t *testing.T) {
	wt := newWeatherTool(t)

	out, err := wt.Call(nil, map[string]any{"city": "Oslo"})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if out["city"] != "Oslo" {
		t.Errorf("result = %v", out)
	}

	if _, err := wt.Call(nil, map[string]any{"city": 42}); err == nil {
		t.Error("type-mismatched args accepted")
	}
}

func TestNewWithValidation(t *testing.T) {
	wt, err := NewWithValidation(Config{Name: "get_weather", Description: "Looks up the weather."},
		func(_ tool.Context, args weatherArgs) (map[string]any, error) {
			return map[string]any{"city": args.City}, nil
		})
	if err != nil {
		t.Fatalf("NewWithValidation: %v", err)
	}

	if _, err := wt.Call(nil, map[string]any{"unit": "celsius"}); err == nil {
		t.Error("missing required argument accepted")
	}
	if _, err := wt.Call(nil, map[string]any{"city": true}); err == nil {
		t.Error("wrong-typed argument accepted")
	}
	out, err := wt.Call(nil, map[string]any{"city": "Oslo"})
	if err != nil {
		t.Fatalf("valid args rejected: %v", err)
	}
	if out["city"] != "Oslo" {
		t.Errorf("result = %v", out)
	}
}
