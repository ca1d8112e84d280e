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

package agent

import (
	"time"

	"github.com/a2aproject/a2a-go/a2a"
	"github.com/google/uuid"
)

// Well-known event authors.
const (
	AuthorUser   = "user"
	AuthorSystem = "system"
)

// Event is the unit of agent output. Events are yielded by Agent.Run and
// persisted to the session (partials excepted), making the session event
// log the source of truth for conversation history.
type Event struct {
	// ID uniquely identifies the event.
	ID string `json:"id"`

	// Timestamp records when the event was created.
	Timestamp time.Time `json:"timestamp"`

	// InvocationID groups all events produced by one runner invocation.
	InvocationID string `json:"invocation_id"`

	// Branch is the agent tree path that produced this event
	// (e.g. "pipeline/market_research"). Empty for the root agent.
	Branch string `json:"branch,omitempty"`

	// Author is the agent name, or AuthorUser for user input.
	Author string `json:"author"`

	// Message holds the event content as A2A parts.
	Message *a2a.Message `json:"message,omitempty"`

	// Actions carry side effects to apply when the event is persisted.
	Actions EventActions `json:"actions,omitempty"`

	// LongRunningToolIDs lists tool call IDs that did not complete inline,
	// e.g. calls paused for human approval.
	LongRunningToolIDs []string `json:"long_running_tool_ids,omitempty"`

	// Partial marks streaming chunks. Partial events are not persisted.
	Partial bool `json:"partial,omitempty"`

	// TurnComplete marks the end of the agent turn.
	TurnComplete bool `json:"turn_complete,omitempty"`

	// Interrupted is set when the run was cancelled mid-turn.
	Interrupted bool `json:"interrupted,omitempty"`

	ErrorCode    string `json:"error_code,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`

	// ToolCalls tracks in-flight tool executions for streaming consumers.
	ToolCalls []ToolCallState `json:"tool_calls,omitempty"`

	// ToolResults tracks completed tool executions.
	ToolResults []ToolResultState `json:"tool_results,omitempty"`

	// CustomMetadata carries provider- or transport-specific extras.
	CustomMetadata map[string]any `json:"custom_metadata,omitempty"`
}

// ToolCallState describes a tool call surfaced in an event.
type ToolCallState struct {
	ID     string         `json:"id"`
	Name   string         `json:"name"`
	Args   map[string]any `json:"args,omitempty"`
	Status string         `json:"status,omitempty"`
}

// ToolResultState describes a tool result surfaced in an event.
type ToolResultState struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Content any    `json:"content,omitempty"`
	IsError bool   `json:"is_error,omitempty"`
}

// EventActions are side effects applied against the session when a
// non-partial event is appended.
type EventActions struct {
	// StateDelta mutates session state. A nil value deletes the key.
	StateDelta map[string]any `json:"state_delta,omitempty"`

	// ArtifactDelta records artifact versions saved during the event.
	ArtifactDelta map[string]int64 `json:"artifact_delta,omitempty"`

	// SkipSummarization ends the turn without a final model pass over
	// tool results.
	SkipSummarization bool `json:"skip_summarization,omitempty"`

	// TransferToAgent hands the conversation to the named sub-agent.
	TransferToAgent string `json:"transfer_to_agent,omitempty"`

	// Escalate signals a loop/workflow parent to stop iterating.
	Escalate bool `json:"escalate,omitempty"`

	// RequireInput pauses the task until the user responds.
	RequireInput bool `json:"require_input,omitempty"`

	// InputPrompt is shown to the user when RequireInput is set.
	InputPrompt string `json:"input_prompt,omitempty"`
}

// NewEvent creates an event for the given invocation with a fresh ID.
func NewEvent(invocationID string) *Event {
	return &Event{
		ID:           uuid.NewString(),
		Timestamp:    time.Now(),
		InvocationID: invocationID,
	}
}

// NewTextContent builds an agent-authored content from plain text.
func NewTextContent(text string) *Content {
	return &Content{
		Role:  a2a.MessageRoleAgent,
		Parts: []a2a.Part{a2a.TextPart{Text: text}},
	}
}

// Content is a role-attributed set of A2A parts.
type Content struct {
	Parts []a2a.Part
	Role  a2a.MessageRole
}

// Text returns the concatenated text parts.
func (c *Content) Text() string {
	if c == nil {
		return ""
	}
	var out string
	for _, p := range c.Parts {
		if tp, ok := p.(a2a.TextPart); ok {
			out += tp.Text
		}
	}
	return out
}

// IsFinalResponse reports whether the event completes the agent turn.
//
// Events carrying pending approvals (LongRunningToolIDs) are final: the
// turn cannot proceed without external input. Partials and tool
// call/result events are never final.
func (e *Event) IsFinalResponse() bool {
	if e.Actions.SkipSummarization || len(e.LongRunningToolIDs) > 0 {
		return true
	}
	if e.Partial {
		return false
	}
	if len(e.ToolCalls) > 0 || len(e.ToolResults) > 0 {
		return false
	}
	return true
}

// Text returns the concatenated text parts of the event message.
func (e *Event) Text() string {
	if e == nil || e.Message == nil {
		return ""
	}
	var out string
	for _, p := range e.Message.Parts {
		if tp, ok := p.(a2a.TextPart); ok {
			out += tp.Text
		}
	}
	return out
}

// IsError reports whether the event carries an error.
func (e *Event) IsError() bool {
	return e.ErrorCode != "" || e.ErrorMessage != ""
}

// ToMessage converts the content to an a2a.Message. The role defaults to
// agent when unset.
func (c *Content) ToMessage() *a2a.Message {
	if c == nil {
		return nil
	}
	role := c.Role
	if role == "" {
		role = a2a.MessageRoleAgent
	}
	return a2a.NewMessage(role, c.Parts...)
}

func contentToMessage(c *Content) *a2a.Message { return c.ToMessage() }
