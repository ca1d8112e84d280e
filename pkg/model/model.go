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

// Package model defines the LLM abstraction used by agents.
//
// An LLM takes a Request (conversation messages, tool definitions, and
// generation config) and produces a stream of Responses. Streaming and
// non-streaming providers share the same iterator-based signature: a
// non-streaming call simply yields a single final Response.
package model

import (
	"context"
	"iter"

	"github.com/a2aproject/a2a-go/a2a"

	"github.com/praxisagents/praxis/pkg/tool"
)

// Provider identifies an LLM backend.
type Provider string

const (
	ProviderGemini  Provider = "gemini"
	ProviderUnknown Provider = "unknown"
)

// LLM is the interface all model providers implement.
type LLM interface {
	// Name returns the model name (e.g. "gemini-2.0-flash").
	Name() string

	// Provider returns the backend this model belongs to.
	Provider() Provider

	// GenerateContent generates a response for the given request.
	// When stream is true, partial responses are yielded as they arrive,
	// followed by a final aggregated response with TurnComplete set.
	GenerateContent(ctx context.Context, req *Request, stream bool) iter.Seq2[*Response, error]

	// Close releases any resources held by the model.
	Close() error
}

// Request is a generation request.
type Request struct {
	// Messages is the conversation history, oldest first.
	Messages []*a2a.Message

	// Tools are the tool definitions offered to the model.
	Tools []tool.Definition

	// Config holds generation parameters. Nil means provider defaults.
	Config *GenerateConfig

	// SystemInstruction is prepended as the system prompt.
	SystemInstruction string
}

// GenerateConfig holds generation parameters. Pointer fields distinguish
// "unset" from zero values.
type GenerateConfig struct {
	Temperature   *float64 `yaml:"temperature,omitempty"`
	MaxTokens     *int     `yaml:"max_tokens,omitempty"`
	TopP          *float64 `yaml:"top_p,omitempty"`
	TopK          *int     `yaml:"top_k,omitempty"`
	StopSequences []string `yaml:"stop_sequences,omitempty"`

	// ResponseMIMEType requests a specific output format
	// (e.g. "application/json" for structured output).
	ResponseMIMEType string `yaml:"response_mime_type,omitempty"`

	// ResponseSchema constrains JSON output to the given schema.
	ResponseSchema map[string]any `yaml:"response_schema,omitempty"`

	// EnableThinking turns on provider-side reasoning.
	EnableThinking bool `yaml:"enable_thinking,omitempty"`

	// ThinkingBudget caps reasoning tokens. Zero means provider default.
	ThinkingBudget int `yaml:"thinking_budget,omitempty"`
}

// Clone returns a deep copy of the config.
func (c *GenerateConfig) Clone() *GenerateConfig {
	if c == nil {
		return nil
	}
	clone := *c
	if c.Temperature != nil {
		v := *c.Temperature
		clone.Temperature = &v
	}
	if c.MaxTokens != nil {
		v := *c.MaxTokens
		clone.MaxTokens = &v
	}
	if c.TopP != nil {
		v := *c.TopP
		clone.TopP = &v
	}
	if c.TopK != nil {
		v := *c.TopK
		clone.TopK = &v
	}
	if c.StopSequences != nil {
		clone.StopSequences = append([]string(nil), c.StopSequences...)
	}
	if c.ResponseSchema != nil {
		schema := make(map[string]any, len(c.ResponseSchema))
		for k, v := range c.ResponseSchema {
			schema[k] = v
		}
		clone.ResponseSchema = schema
	}
	return &clone
}

// FinishReason explains why generation stopped.
type FinishReason string

const (
	FinishReasonStop          FinishReason = "stop"
	FinishReasonLength        FinishReason = "length"
	FinishReasonToolCalls     FinishReason = "tool_calls"
	FinishReasonContentFilter FinishReason = "content_filter"
	FinishReasonError         FinishReason = "error"
)

// Content is a role-attributed set of message parts.
type Content struct {
	Parts []a2a.Part
	Role  a2a.MessageRole
}

// Usage reports token consumption for a request.
type Usage struct {
	InputTokens    int
	OutputTokens   int
	ThinkingTokens int
}

// TotalTokens returns the combined token count.
func (u *Usage) TotalTokens() int {
	if u == nil {
		return 0
	}
	return u.InputTokens + u.OutputTokens + u.ThinkingTokens
}

// ThinkingBlock carries provider reasoning output.
type ThinkingBlock struct {
	Text string
	// Complete is set once the provider signals the thinking stream ended.
	Complete bool
}

// Response is a single model output, partial or final.
type Response struct {
	// Content holds the generated parts. Nil for pure tool-call responses.
	Content *Content

	// Partial marks an incremental streaming chunk. The final response of a
	// stream has Partial=false and carries the aggregated content.
	Partial bool

	// TurnComplete marks the end of the model turn.
	TurnComplete bool

	// ToolCalls are function invocations requested by the model.
	ToolCalls []tool.ToolCall

	// Usage is set on final responses when the provider reports it.
	Usage *Usage

	// Thinking carries reasoning output, when enabled.
	Thinking *ThinkingBlock

	FinishReason FinishReason

	ErrorCode    string
	ErrorMessage string
}

// TextContent returns the concatenated text parts of the response.
func (r *Response) TextContent() string {
	if r == nil || r.Content == nil {
		return ""
	}
	var text string
	for _, part := range r.Content.Parts {
		if tp, ok := part.(a2a.TextPart); ok {
			text += tp.Text
		}
	}
	return text
}

// HasToolCalls reports whether the model requested tool executions.
func (r *Response) HasToolCalls() bool {
	return r != nil && len(r.ToolCalls) > 0
}

// ToMessage converts the response content to an A2A message.
func (r *Response) ToMessage() *a2a.Message {
	if r == nil || r.Content == nil {
		return nil
	}
	role := r.Content.Role
	if role == "" {
		role = a2a.MessageRoleAgent
	}
	return a2a.NewMessage(role, r.Content.Parts...)
}
