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
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/a2aproject/a2a-go/a2a"

	"github.com/praxisagents/praxis/pkg/model"
)

const catalogInstruction = `You generate user interfaces as a single JSON object:
{
  "surface_id": "...",
  "components": [...],
  "root": "<root component id>"
}

Available components:

Text: {"id": "x", "component": {"Text": {"text": {"literalString": "..."}, "usageHint": "h1|h2|h3|body|caption"}}}
Button: {"id": "x", "component": {"Button": {"child": "<label text id>", "action": {"name": "..."}, "style": "filled|outlined|text"}}}
TextField: {"id": "x", "component": {"TextField": {"value": {"path": "/some/path"}, "labelText": {"literalString": "..."}}}}
Checkbox: {"id": "x", "component": {"Checkbox": {"label": "<label text id>", "value": {"path": "/some/path"}}}}
Image: {"id": "x", "component": {"Image": {"source": {"literalString": "https://..."}, "altText": {"literalString": "..."}}}}
Divider: {"id": "x", "component": {"Divider": {}}}
Spacer: {"id": "x", "component": {"Spacer": {"size": 16}}}
Column: {"id": "x", "component": {"Column": {"children": ["id1", "id2"], "spacing": 16}}}
Row: {"id": "x", "component": {"Row": {"children": ["id1", "id2"], "spacing": 8}}}
Card: {"id": "x", "component": {"Card": {"child": "<content id>", "elevation": 1}}}

Rules:
1. Component IDs are unique.
2. Every referenced child ID must appear in "components".
3. Prefer concrete literalString content over path bindings.
4. Return only the JSON object, no explanation.`

// Generator turns natural-language prompts into validated surfaces
// using a language model.
type Generator struct {
	llm model.LLM
}

// NewGenerator creates a generator backed by the given model.
func NewGenerator(llm model.LLM) (*Generator, error) {
	if llm == nil {
		return nil, errors.New("aui: llm is required")
	}
	return &Generator{llm: llm}, nil
}

// Generate asks the model for a surface matching the prompt. The
// returned surface carries the given surfaceID regardless of what
// the model chose, and has passed Validate.
func (g *Generator) Generate(ctx context.Context, surfaceID, prompt string) (*Surface, error) {
	req := &model.Request{
		SystemInstruction: catalogInstruction,
		Messages: []*a2a.Message{
			a2a.NewMessage(a2a.MessageRoleUser, a2a.TextPart{Text: "Generate a UI for: " + prompt}),
		},
	}

	var final *model.Response
	for resp, err := range g.llm.GenerateContent(ctx, req, false) {
		if err != nil {
			return nil, fmt.Errorf("generate surface: %w", err)
		}
		final = resp
	}
	if final == nil {
		return nil, errors.New("aui: model returned no response")
	}

	surface, err := ParseSurface(final.TextContent())
	if err != nil {
		return nil, err
	}
	surface.SurfaceID = surfaceID
	return surface, nil
}

// ParseSurface extracts the JSON payload from model output, which may
// be fenced or surrounded by prose, and validates the decoded surface.
func ParseSurface(text string) (*Surface, error) {
	payload := extractJSON(text)
	if payload == "" {
		return nil, errors.New("aui: no JSON object in model output")
	}
	var surface Surface
	if err := json.Unmarshal([]byte(payload), &surface); err != nil {
		return nil, fmt.Errorf("decode surface: %w", err)
	}
	if err := surface.Validate(); err != nil {
		return nil, err
	}
	return &surface, nil
}

func extractJSON(text string) string {
	text = strings.TrimSpace(text)
	if i := strings.Index(text, "```json"); i >= 0 {
		text = text[i+len("```json"):]
		if j := strings.Index(text, "```"); j >= 0 {
			text = text[:j]
		}
	} else if i := strings.Index(text, "```"); i >= 0 {
		text = text[i+3:]
		if j := strings.Index(text, "```"); j >= 0 {
			text = text[:j]
		}
	}
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return ""
	}
	return text[start : end+1]
}
