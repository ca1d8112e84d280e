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

package server

import (
	"github.com/a2aproject/a2a-go/a2a"

	"github.com/praxisagents/praxis/pkg/agent"
)

// toContent converts an inbound A2A message to agent content. Parts
// carry over untouched; both layers speak A2A parts.
func toContent(msg *a2a.Message) *agent.Content {
	if msg == nil {
		return nil
	}
	return &agent.Content{
		Parts: msg.Parts,
		Role:  msg.Role,
	}
}

// ApprovalResponse is a user's decision on a pending tool approval.
type ApprovalResponse struct {
	// Decision is "approve" or "deny".
	Decision string

	// ToolCallID identifies the paused tool call.
	ToolCallID string

	// TaskID is the task the approval belongs to.
	TaskID string
}

// ExtractApprovalResponse detects an approval answer in a message.
// Returns nil for ordinary messages.
//
// Two shapes are accepted: a DataPart with type "tool_approval"
// carrying the decision and tool call ID, or a bare text part saying
// approve/deny for simple clients.
func ExtractApprovalResponse(msg *a2a.Message) *ApprovalResponse {
	if msg == nil || len(msg.Parts) == 0 {
		return nil
	}

	for _, part := range msg.Parts {
		if dp, ok := part.(a2a.DataPart); ok {
			if partType, ok := dp.Data["type"].(string); ok && partType == "tool_approval" {
				decision, _ := dp.Data["decision"].(string)
				toolCallID, _ := dp.Data["tool_call_id"].(string)
				taskID, _ := dp.Data["task_id"].(string)
				if decision != "" {
					return &ApprovalResponse{
						Decision:   decision,
						ToolCallID: toolCallID,
						TaskID:     taskID,
					}
				}
			}
		}

		if tp, ok := part.(a2a.TextPart); ok {
			switch tp.Text {
			case "approve", "approved":
				return &ApprovalResponse{Decision: "approve"}
			case "deny", "denied", "reject":
				return &ApprovalResponse{Decision: "deny"}
			}
		}
	}
	return nil
}
