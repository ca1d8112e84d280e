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

package llmagent

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/a2aproject/a2a-go/a2a"

	"github.com/praxisagents/praxis/pkg/agent"
	"github.com/praxisagents/praxis/pkg/model"
	"github.com/praxisagents/praxis/pkg/tool"
)

// transferToolPrefix names the synthetic tools that hand the
// conversation to a sub-agent.
const transferToolPrefix = "transfer_to_"

// buildRequest assembles the model request for one loop step.
// History comes from the session event log on every step; the request
// holds no state of its own.
func (f *flow) buildRequest(ctx agent.InvocationContext) (*model.Request, error) {
	instruction, err := f.agent.resolveInstruction(ctx)
	if err != nil {
		return nil, err
	}

	req := &model.Request{
		SystemInstruction: instruction,
		Messages:          f.buildMessages(ctx),
		Tools:             f.agent.collectToolDefinitions(ctx),
	}

	cfg := f.agent.generateConfig.Clone()
	if f.agent.outputSchema != nil {
		if cfg == nil {
			cfg = &model.GenerateConfig{}
		}
		cfg.ResponseSchema = f.agent.outputSchema
		cfg.ResponseMIMEType = "application/json"
		// Structured output and function calling are mutually exclusive.
		req.Tools = nil
	}
	req.Config = cfg

	return req, nil
}

// placeholderPattern matches {key} and {key?} instruction placeholders.
var placeholderPattern = regexp.MustCompile(`\{([a-zA-Z_][a-zA-Z0-9_:.-]*)(\?)?\}`)

func (a *llmAgent) resolveInstruction(ctx agent.InvocationContext) (string, error) {
	instruction := a.instruction
	if a.instructionProvider != nil {
		var err error
		instruction, err = a.instructionProvider(ctx)
		if err != nil {
			return "", fmt.Errorf("instruction provider: %w", err)
		}
	}

	instruction = injectState(instruction, ctx.ReadonlyState())

	if a.globalInstruction != "" {
		if instruction == "" {
			instruction = a.globalInstruction
		} else {
			instruction = a.globalInstruction + "\n\n" + instruction
		}
	}

	if a.outputSchema != nil {
		suffix := "Respond only with JSON matching the required output schema."
		if instruction == "" {
			instruction = suffix
		} else {
			instruction += "\n\n" + suffix
		}
	}

	return instruction, nil
}

// injectState resolves {key} placeholders from session state. Optional
// placeholders ({key?}) resolve to empty when the key is absent;
// required ones are left untouched so the omission is visible.
func injectState(instruction string, state agent.ReadonlyState) string {
	if instruction == "" || state == nil {
		return instruction
	}
	return placeholderPattern.ReplaceAllStringFunc(instruction, func(match string) string {
		groups := placeholderPattern.FindStringSubmatch(match)
		key, optional := groups[1], groups[2] == "?"
		if value, ok := state.Get(key); ok {
			return fmt.Sprintf("%v", value)
		}
		if optional {
			return ""
		}
		return match
	})
}

// buildMessages converts the session event log into model messages.
// Partial events, events from other branches, and pending-approval
// placeholders are skipped; messages from other agents are converted to
// user-role context.
func (f *flow) buildMessages(ctx agent.InvocationContext) []*a2a.Message {
	sess := ctx.Session()
	if sess == nil {
		if uc := ctx.UserContent(); uc != nil {
			return []*a2a.Message{uc.ToMessage()}
		}
		return nil
	}

	events := sess.Events().All()

	if f.agent.includeContents == IncludeContentsNone {
		// Current turn only: start at the latest user event.
		start := 0
		for i := len(events) - 1; i >= 0; i-- {
			if events[i].Author == agent.AuthorUser {
				start = i
				break
			}
		}
		events = events[start:]
	}

	branch := ctx.Branch()
	var messages []*a2a.Message
	for _, ev := range events {
		if ev.Message == nil || ev.Partial {
			continue
		}
		if !eventBelongsToBranch(branch, ev.Branch) {
			continue
		}
		msg := stripPendingApprovalParts(ev.Message)
		if msg == nil {
			continue
		}
		messages = append(messages, convertForeignAgentMessage(f.agent.Name(), ev.Author, msg))
	}

	return messages
}

// stripPendingApprovalParts removes pending-approval placeholder results
// from a message. These never reach the model; the real result arrives
// after the decision. Other parts of the same event are kept: a turn can
// mix a gated call with executed ones, and dropping the whole event
// would leave the executed calls without their results in history.
// Returns nil when nothing remains.
func stripPendingApprovalParts(msg *a2a.Message) *a2a.Message {
	dropped := 0
	for _, part := range msg.Parts {
		if isPendingApprovalResult(part) {
			dropped++
		}
	}
	if dropped == 0 {
		return msg
	}
	if dropped == len(msg.Parts) {
		return nil
	}

	kept := make([]a2a.Part, 0, len(msg.Parts)-dropped)
	for _, part := range msg.Parts {
		if !isPendingApprovalResult(part) {
			kept = append(kept, part)
		}
	}
	stripped := *msg
	stripped.Parts = kept
	return &stripped
}

func isPendingApprovalResult(part a2a.Part) bool {
	dp, ok := part.(a2a.DataPart)
	if !ok {
		return false
	}
	return dp.Data["type"] == "tool_result" && dp.Data["status"] == "pending_approval"
}

// convertForeignAgentMessage rewrites agent-role messages authored by a
// different agent as user-role context, so the model does not mistake a
// peer's output for its own.
func convertForeignAgentMessage(self, author string, msg *a2a.Message) *a2a.Message {
	if msg.Role != a2a.MessageRoleAgent {
		return msg
	}
	if author == self || author == agent.AuthorUser || author == agent.AuthorSystem {
		return msg
	}

	parts := make([]a2a.Part, 0, len(msg.Parts)+1)
	parts = append(parts, a2a.TextPart{
		Text: fmt.Sprintf("[Message from agent %q]:", author),
	})
	parts = append(parts, msg.Parts...)
	return a2a.NewMessage(a2a.MessageRoleUser, parts...)
}

// eventBelongsToBranch reports whether an event is visible from the
// given branch. Ancestor events are visible; sibling branches are not.
// The slash delimiter avoids false prefix matches (agent_1 vs agent_10).
func eventBelongsToBranch(invocationBranch, eventBranch string) bool {
	if invocationBranch == "" || eventBranch == "" {
		return true
	}
	if eventBranch == invocationBranch {
		return true
	}
	return strings.HasPrefix(invocationBranch, eventBranch+"/")
}

func transferToolDefinition(sub agent.Agent) tool.Definition {
	description := fmt.Sprintf("Transfer the conversation to agent %q.", sub.Name())
	if sub.Description() != "" {
		description += " " + sub.Description()
	}
	return tool.Definition{
		Name:        transferToolPrefix + sub.Name(),
		Description: description,
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"request": map[string]any{
					"type":        "string",
					"description": "What the target agent should do.",
				},
			},
			"required": []string{"request"},
		},
	}
}
