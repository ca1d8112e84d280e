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

// Package tool defines the tool abstractions agents call during a turn.
package tool

import (
	"iter"

	"github.com/praxisagents/praxis/pkg/agent"
)

// Tool is the base interface all tools implement.
type Tool interface {
	Name() string
	Description() string

	// IsLongRunning marks tools whose results arrive asynchronously.
	IsLongRunning() bool

	// RequiresApproval marks tools that pause the run for human approval
	// before executing.
	RequiresApproval() bool
}

// CallableTool is a tool invoked synchronously with JSON arguments.
type CallableTool interface {
	Tool

	// Call executes the tool. The result map is serialized back to the
	// model as the tool response.
	Call(ctx Context, args map[string]any) (map[string]any, error)

	// Schema returns the JSON schema of the tool parameters.
	Schema() map[string]any
}

// StreamingTool produces incremental results.
type StreamingTool interface {
	Tool

	CallStreaming(ctx Context, args map[string]any) iter.Seq2[*Result, error]
	Schema() map[string]any
}

// Result is one chunk of streaming tool output.
type Result struct {
	Content   any            `json:"content"`
	Streaming bool           `json:"streaming,omitempty"`
	Error     string         `json:"error,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Context is the execution context handed to tools. It extends the agent
// callback context with the identity of the triggering function call and
// access to the pending event actions.
type Context interface {
	agent.CallbackContext

	// FunctionCallID identifies the model function call being served.
	FunctionCallID() string

	// Actions exposes the pending event actions so tools can request
	// side effects (state deltas, escalation, input pauses).
	Actions() *agent.EventActions
}

// Toolset supplies a dynamic set of tools per invocation.
type Toolset interface {
	Name() string
	Tools(ctx agent.ReadonlyContext) ([]Tool, error)
}

// Definition is the wire description of a tool sent to the model.
type Definition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// ToDefinition builds the wire definition for a tool, reading the
// parameter schema when the tool exposes one.
func ToDefinition(t Tool) Definition {
	def := Definition{
		Name:        t.Name(),
		Description: t.Description(),
	}
	switch st := t.(type) {
	case CallableTool:
		def.Parameters = st.Schema()
	case StreamingTool:
		def.Parameters = st.Schema()
	}
	return def
}

// WithApproval wraps a callable tool so every invocation pauses for human
// approval before executing. The wrapped tool is otherwise unchanged.
func WithApproval(t CallableTool) CallableTool {
	return approvalGated{t}
}

type approvalGated struct {
	CallableTool
}

func (approvalGated) RequiresApproval() bool { return true }

// ToolCall is a model-requested tool invocation.
type ToolCall struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

// ToolResult pairs a tool call with its outcome.
type ToolResult struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Content any    `json:"content,omitempty"`
	IsError bool   `json:"is_error,omitempty"`
}

// StringPredicate filters names. Used for tool allow/deny lists.
type StringPredicate func(string) bool

// AllowAll accepts every name.
func AllowAll(string) bool { return true }

// DenyAll rejects every name.
func DenyAll(string) bool { return false }

// Allow accepts only the listed names.
func Allow(names ...string) StringPredicate {
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		set[n] = struct{}{}
	}
	return func(name string) bool {
		_, ok := set[name]
		return ok
	}
}

// Combine requires all predicates to accept.
func Combine(preds ...StringPredicate) StringPredicate {
	return func(name string) bool {
		for _, p := range preds {
			if !p(name) {
				return false
			}
		}
		return true
	}
}

// Or accepts when any predicate accepts.
func Or(preds ...StringPredicate) StringPredicate {
	return func(name string) bool {
		for _, p := range preds {
			if p(name) {
				return true
			}
		}
		return false
	}
}

// Not inverts a predicate.
func Not(p StringPredicate) StringPredicate {
	return func(name string) bool { return !p(name) }
}
