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

// Package approvaltool provides a tool that pauses the run for human
// approval before a sensitive action proceeds.
//
// The call returns immediately with a pending status and raises
// RequireInput on the event actions; the task transitions to
// input_required until the user approves or denies.
package approvaltool

import (
	"fmt"

	"github.com/praxisagents/praxis/pkg/tool"
)

// Config configures the approval tool.
type Config struct {
	// Name defaults to "request_approval".
	Name string

	Description string

	// RequiredFields adds extra required string parameters to the schema.
	RequiredFields []string
}

// ApprovalTool pauses the run until a human approves or denies.
type ApprovalTool struct {
	name           string
	description    string
	requiredFields []string
}

// New creates an approval tool.
func New(cfg Config) *ApprovalTool {
	name := cfg.Name
	if name == "" {
		name = "request_approval"
	}
	description := cfg.Description
	if description == "" {
		description = "Request human approval for a sensitive operation. " +
			"Returns immediately with a pending status; the task pauses until a human responds."
	}
	return &ApprovalTool{
		name:           name,
		description:    description,
		requiredFields: cfg.RequiredFields,
	}
}

func (t *ApprovalTool) Name() string        { return t.name }
func (t *ApprovalTool) Description() string { return t.description }
func (t *ApprovalTool) IsLongRunning() bool { return false }

// RequiresApproval is what routes this tool through the HITL gate.
func (t *ApprovalTool) RequiresApproval() bool { return true }

// Schema returns the parameter schema.
func (t *ApprovalTool) Schema() map[string]any {
	properties := map[string]any{
		"action": map[string]any{
			"type":        "string",
			"description": "The action requiring approval",
		},
		"reason": map[string]any{
			"type":        "string",
			"description": "Why approval is needed",
		},
		"details": map[string]any{
			"type":        "object",
			"description": "Additional details for the approver",
		},
	}
	required := []string{"action", "reason"}

	for _, field := range t.requiredFields {
		if _, exists := properties[field]; !exists {
			properties[field] = map[string]any{
				"type":        "string",
				"description": fmt.Sprintf("Required field: %s", field),
			}
		}
		required = append(required, field)
	}

	return map[string]any{
		"type":       "object",
		"properties": properties,
		"required":   required,
	}
}

// Call returns a pending status and flags the event for user input.
func (t *ApprovalTool) Call(ctx tool.Context, args map[string]any) (map[string]any, error) {
	action, _ := args["action"].(string)
	reason, _ := args["reason"].(string)
	details, _ := args["details"].(map[string]any)

	if actions := ctx.Actions(); actions != nil {
		actions.RequireInput = true
		actions.InputPrompt = fmt.Sprintf("Approval required for: %s\nReason: %s", action, reason)
	}

	return map[string]any{
		"status":      "pending",
		"message":     fmt.Sprintf("Awaiting approval for: %s", action),
		"action":      action,
		"reason":      reason,
		"details":     details,
		"approval_id": ctx.FunctionCallID(),
	}, nil
}

var _ tool.CallableTool = (*ApprovalTool)(nil)
