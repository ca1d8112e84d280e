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

package model

import (
	"iter"

	"github.com/a2aproject/a2a-go/a2a"

	"github.com/praxisagents/praxis/pkg/tool"
)

// StreamingAggregator accumulates partial streaming chunks and produces
// both incremental responses for live consumers and one final aggregated
// response for persistence.
//
//	agg := NewStreamingAggregator()
//	for chunk := range providerStream {
//	    for resp, err := range agg.ProcessTextDelta(chunk.Text) {
//	        yield(resp, err)
//	    }
//	}
//	if final := agg.Close(); final != nil {
//	    yield(final, nil)
//	}
type StreamingAggregator struct {
	text         string
	thinkingText string
	role         a2a.MessageRole
	toolCalls    []tool.ToolCall
	usage        *Usage
	finishReason FinishReason
}

// NewStreamingAggregator creates an aggregator for one model turn.
func NewStreamingAggregator() *StreamingAggregator {
	return &StreamingAggregator{role: a2a.MessageRoleAgent}
}

// ProcessTextDelta records a text chunk and yields it as a partial response.
func (s *StreamingAggregator) ProcessTextDelta(text string) iter.Seq2[*Response, error] {
	return func(yield func(*Response, error) bool) {
		if text == "" {
			return
		}
		s.text += text
		yield(&Response{
			Content: &Content{
				Parts: []a2a.Part{a2a.TextPart{Text: text}},
				Role:  s.role,
			},
			Partial: true,
		}, nil)
	}
}

// ProcessThinkingDelta records a reasoning chunk and yields it as a
// partial response carrying only the delta.
func (s *StreamingAggregator) ProcessThinkingDelta(thinking string) iter.Seq2[*Response, error] {
	return func(yield func(*Response, error) bool) {
		if thinking == "" {
			return
		}
		s.thinkingText += thinking
		yield(&Response{
			Content: &Content{Role: s.role},
			Partial: true,
			Thinking: &ThinkingBlock{
				Text: thinking,
			},
		}, nil)
	}
}

// ProcessToolCall records a complete tool call and yields it as a partial.
func (s *StreamingAggregator) ProcessToolCall(tc tool.ToolCall) iter.Seq2[*Response, error] {
	return func(yield func(*Response, error) bool) {
		s.toolCalls = append(s.toolCalls, tc)
		yield(&Response{
			Content: &Content{
				Parts: []a2a.Part{
					a2a.DataPart{
						Data: map[string]any{
							"type":      "tool_use",
							"id":        tc.ID,
							"name":      tc.Name,
							"arguments": tc.Args,
						},
					},
				},
				Role: s.role,
			},
			Partial:   true,
			ToolCalls: []tool.ToolCall{tc},
		}, nil)
	}
}

// SetUsage records token usage for the final response.
func (s *StreamingAggregator) SetUsage(usage *Usage) { s.usage = usage }

// SetFinishReason records the finish reason for the final response.
func (s *StreamingAggregator) SetFinishReason(reason FinishReason) { s.finishReason = reason }

// Close builds the final aggregated response and resets the aggregator.
// Returns nil when no content was accumulated.
func (s *StreamingAggregator) Close() *Response {
	if s.text == "" && s.thinkingText == "" && len(s.toolCalls) == 0 {
		return nil
	}

	var parts []a2a.Part
	if s.text != "" {
		parts = append(parts, a2a.TextPart{Text: s.text})
	}

	resp := &Response{
		Content: &Content{
			Parts: parts,
			Role:  s.role,
		},
		TurnComplete: true,
		ToolCalls:    s.toolCalls,
		Usage:        s.usage,
		FinishReason: s.finishReason,
	}
	if s.thinkingText != "" {
		resp.Thinking = &ThinkingBlock{Text: s.thinkingText, Complete: true}
	}

	*s = StreamingAggregator{role: s.role}
	return resp
}
