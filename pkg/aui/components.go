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

// Package aui implements generative user interfaces: a declarative
// component tree that agents emit as JSON and clients render, plus a
// model-backed generator and an SSE server that pushes surface updates.
package aui

import (
	"encoding/json"
	"fmt"
)

// Component type names as they appear on the wire.
const (
	TypeText      = "Text"
	TypeButton    = "Button"
	TypeTextField = "TextField"
	TypeCheckbox  = "Checkbox"
	TypeImage     = "Image"
	TypeDivider   = "Divider"
	TypeSpacer    = "Spacer"
	TypeColumn    = "Column"
	TypeRow       = "Row"
	TypeCard      = "Card"
	TypeContainer = "Container"
)

// Value is a string that is either literal or bound to a data-model
// path such as "/user/name".
type Value struct {
	LiteralString string `json:"literalString,omitempty"`
	Path          string `json:"path,omitempty"`
}

// Literal wraps a literal string as a Value.
func Literal(s string) *Value { return &Value{LiteralString: s} }

// Bind wraps a data-model path as a Value.
func Bind(path string) *Value { return &Value{Path: path} }

// Action names the client-side event a Button fires.
type Action struct {
	Name string `json:"name"`
}

// TextProps renders a piece of text. UsageHint is a style class such
// as "h1", "h2" or "body".
type TextProps struct {
	Text      *Value `json:"text,omitempty"`
	UsageHint string `json:"usageHint,omitempty"`
}

// ButtonProps renders a button. Child references the component that
// supplies the label. Style is "filled", "outlined" or "text".
type ButtonProps struct {
	Child  string  `json:"child,omitempty"`
	Action *Action `json:"action,omitempty"`
	Style  string  `json:"style,omitempty"`
}

// TextFieldProps renders a single input bound to a data-model path.
type TextFieldProps struct {
	Value     *Value `json:"value,omitempty"`
	LabelText *Value `json:"labelText,omitempty"`
	HintText  *Value `json:"hintText,omitempty"`
	MaxLines  int    `json:"maxLines,omitempty"`
}

// CheckboxProps renders a checkbox. Label references the component
// that supplies the label text.
type CheckboxProps struct {
	Label string `json:"label,omitempty"`
	Value *Value `json:"value,omitempty"`
}

// ImageProps renders an image from a URL or bound source.
type ImageProps struct {
	Source  *Value `json:"source,omitempty"`
	AltText *Value `json:"altText,omitempty"`
}

// DividerProps renders a horizontal rule.
type DividerProps struct{}

// SpacerProps inserts fixed vertical space, in pixels.
type SpacerProps struct {
	Size int `json:"size,omitempty"`
}

// LayoutProps backs both Column and Row. Children are component IDs
// laid out in order.
type LayoutProps struct {
	Children          []string `json:"children,omitempty"`
	MainAxisAlignment string   `json:"mainAxisAlignment,omitempty"`
	Spacing           int      `json:"spacing,omitempty"`
}

// CardProps wraps a single child in an elevated card.
type CardProps struct {
	Child     string `json:"child,omitempty"`
	Elevation int    `json:"elevation,omitempty"`
}

// ContainerProps wraps a single child with padding and an optional
// background color.
type ContainerProps struct {
	Child           string `json:"child,omitempty"`
	Padding         int    `json:"padding,omitempty"`
	BackgroundColor string `json:"backgroundColor,omitempty"`
}

// Component is one node of a surface. On the wire it serializes as
//
//	{"id": "title", "component": {"Text": {...}}}
//
// with exactly one type key under "component".
type Component struct {
	ID    string
	Type  string
	Props any
}

func (c Component) MarshalJSON() ([]byte, error) {
	props := c.Props
	if props == nil {
		props = struct{}{}
	}
	return json.Marshal(struct {
		ID        string         `json:"id"`
		Component map[string]any `json:"component"`
	}{ID: c.ID, Component: map[string]any{c.Type: props}})
}

func (c *Component) UnmarshalJSON(data []byte) error {
	var raw struct {
		ID        string                     `json:"id"`
		Component map[string]json.RawMessage `json:"component"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if len(raw.Component) != 1 {
		return fmt.Errorf("component %q: want exactly one type key, got %d", raw.ID, len(raw.Component))
	}
	c.ID = raw.ID
	for typ, props := range raw.Component {
		c.Type = typ
		decoded, err := decodeProps(typ, props)
		if err != nil {
			return fmt.Errorf("component %q: %w", raw.ID, err)
		}
		c.Props = decoded
	}
	return nil
}

func decodeProps(typ string, data json.RawMessage) (any, error) {
	var dst any
	switch typ {
	case TypeText:
		dst = &TextProps{}
	case TypeButton:
		dst = &ButtonProps{}
	case TypeTextField:
		dst = &TextFieldProps{}
	case TypeCheckbox:
		dst = &CheckboxProps{}
	case TypeImage:
		dst = &ImageProps{}
	case TypeDivider:
		dst = &DividerProps{}
	case TypeSpacer:
		dst = &SpacerProps{}
	case TypeColumn, TypeRow:
		dst = &LayoutProps{}
	case TypeCard:
		dst = &CardProps{}
	case TypeContainer:
		dst = &ContainerProps{}
	default:
		// Unknown types survive decoding so Validate can report them
		// with their ID instead of failing the whole unmarshal.
		dst = &map[string]any{}
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, dst); err != nil {
			return nil, err
		}
	}
	return dst, nil
}

// references lists the component IDs this component points at.
func (c *Component) references() []string {
	switch p := c.Props.(type) {
	case *ButtonProps:
		if p.Child != "" {
			return []string{p.Child}
		}
	case *CheckboxProps:
		if p.Label != "" {
			return []string{p.Label}
		}
	case *LayoutProps:
		return p.Children
	case *CardProps:
		if p.Child != "" {
			return []string{p.Child}
		}
	case *ContainerProps:
		if p.Child != "" {
			return []string{p.Child}
		}
	}
	return nil
}

// Surface is a complete renderable tree: a flat component list plus
// the ID of the root component and an optional data model for bound
// values.
type Surface struct {
	SurfaceID  string         `json:"surface_id"`
	Components []Component    `json:"components"`
	Data       map[string]any `json:"data,omitempty"`
	Root       string         `json:"root"`
}

// Validate checks structural integrity: unique IDs, known component
// types, an existing root and no dangling references.
func (s *Surface) Validate() error {
	if s.Root == "" {
		return fmt.Errorf("surface %q: missing root", s.SurfaceID)
	}
	seen := make(map[string]bool, len(s.Components))
	for i := range s.Components {
		c := &s.Components[i]
		if c.ID == "" {
			return fmt.Errorf("surface %q: component %d has no id", s.SurfaceID, i)
		}
		if seen[c.ID] {
			return fmt.Errorf("surface %q: duplicate component id %q", s.SurfaceID, c.ID)
		}
		seen[c.ID] = true
		if !knownType(c.Type) {
			return fmt.Errorf("surface %q: component %q has unknown type %q", s.SurfaceID, c.ID, c.Type)
		}
	}
	if !seen[s.Root] {
		return fmt.Errorf("surface %q: root %q not defined", s.SurfaceID, s.Root)
	}
	for i := range s.Components {
		c := &s.Components[i]
		for _, ref := range c.references() {
			if !seen[ref] {
				return fmt.Errorf("surface %q: component %q references undefined %q", s.SurfaceID, c.ID, ref)
			}
		}
	}
	return nil
}

func knownType(typ string) bool {
	switch typ {
	case TypeText, TypeButton, TypeTextField, TypeCheckbox, TypeImage,
		TypeDivider, TypeSpacer, TypeColumn, TypeRow, TypeCard, TypeContainer:
		return true
	}
	return false
}
