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

package aui

import (
	"encoding/json"
	"strings"
	"testing"
)

func loginSurface() *Surface {
	return NewBuilder("login").
		Text("title", "Sign in", "h1").
		TextField("username", "/login/username", "Username", "you@example.com").
		TextField("password", "/login/password", "Password", "").
		Button("submit", "Sign in", "login", "filled").
		Column("form", []string{"title", "username", "password", "submit"}, 16).
		Card("card", "form", 1).
		Surface("card")
}

func TestSurface_WireFormat(t *testing.T) {
	surface := loginSurface()
	if err := surface.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	data, err := json.Marshal(surface)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	wire := string(data)
	for _, want := range []string{
		`"surface_id":"login"`,
		`"root":"card"`,
		`"component":{"Text":{"text":{"literalString":"Sign in"},"usageHint":"h1"}}`,
		`"component":{"Button":{"child":"submit_label","action":{"name":"login"},"style":"filled"}}`,
		`"value":{"path":"/login/username"}`,
	} {
		if !strings.Contains(wire, want) {
			t.Errorf("wire format missing %s\ngot: %s", want, wire)
		}
	}

	var decoded Surface
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if err := decoded.Validate(); err != nil {
		t.Fatalf("Validate after round trip: %v", err)
	}
	if len(decoded.Components) != len(surface.Components) {
		t.Fatalf("components = %d, want %d", len(decoded.Components), len(surface.Components))
	}
	var button *Component
	for i := range decoded.Components {
		if decoded.Components[i].ID == "submit" {
			button = &decoded.Components[i]
		}
	}
	if button == nil {
		t.Fatal("submit button not decoded")
	}
	props, ok := button.Props.(*ButtonProps)
	if !ok {
		t.Fatalf("button props = %T, want *ButtonProps", button.Props)
	}
	if props.Action == nil || props.Action.Name != "login" {
		t.Errorf("button action = %+v, want login", props.Action)
	}
}

func TestComponent_UnmarshalRejectsMultipleTypes(t *testing.T) {
	var c Component
	err := json.Unmarshal([]byte(`{"id": "x", "component": {"Text": {}, "Card": {}}}`), &c)
	if err == nil {
		t.Fatal("expected error for two type keys")
	}
}

func TestSurface_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Surface)
		wantErr string
	}{
		{"valid", func(s *Surface) {}, ""},
		{"missing root", func(s *Surface) { s.Root = "" }, "missing root"},
		{"undefined root", func(s *Surface) { s.Root = "nope" }, "not defined"},
		{"duplicate id", func(s *Surface) {
			s.Components = append(s.Components, Component{ID: "title", Type: TypeDivider, Props: &DividerProps{}})
		}, "duplicate"},
		{"unknown type", func(s *Surface) {
			s.Components[0].Type = "Carousel"
		}, "unknown type"},
		{"dangling reference", func(s *Surface) {
			s.Components = append(s.Components, Component{
				ID: "extra", Type: TypeCard, Props: &CardProps{Child: "ghost"},
			})
		}, "undefined"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			surface := loginSurface()
			tt.mutate(surface)
			err := surface.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestBuilder_LabelChildren(t *testing.T) {
	surface := NewBuilder("s").
		Checkbox("remember", "Remember me", "/login/remember").
		Column("col", []string{"remember"}, 8).
		Surface("col")
	if err := surface.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	var found bool
	for i := range surface.Components {
		if surface.Components[i].ID == "remember_label" {
			found = true
		}
	}
	if !found {
		t.Error("checkbox label component not created")
	}
}
