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

// Package agenttool wraps an agent as a callable tool, so a parent
// agent can delegate a task and receive a structured result while
// keeping control of the conversation.
//
// The child agent runs in an isolated session: parent state is copied
// in (internal keys filtered out) and child state changes never reach
// the parent session.
//
//	search, _ := llmagent.New(llmagent.Config{Name: "search", ...})
//	root, _ := llmagent.New(llmagent.Config{
//	    Tools: []tool.Tool{agenttool.New(search, nil)},
//	})
package agenttool

import (
	"context"
	"fmt"
	"strings"

	"github.com/a2aproject/a2a-go/a2a"

	"github.com/praxisagents/praxis/pkg/agent"
	"github.com/praxisagents/praxis/pkg/session"
	"github.com/praxisagents/praxis/pkg/tool"
)

// Config holds optional agent tool settings.
type Config struct {
	// SkipSummarization marks the tool result as final, so the parent
	// model does not rephrase the child's output.
	SkipSummarization bool
}

type agentTool struct {
	agent             agent.Agent
	skipSummarization bool
}

// New wraps ag as a callable tool. The tool name is the agent name and
// the description is the agent description. A nil cfg uses defaults.
func New(ag agent.Agent, cfg *Config) tool.Tool {
	if ag == nil {
		return nil
	}
	t := &agentTool{agent: ag}
	if cfg != nil {
		t.skipSummarization = cfg.SkipSummarization
	}
	return t
}

func (t *agentTool) Name() string           { return t.agent.Name() }
func (t *agentTool) Description() string    { return t.agent.Description() }
func (t *agentTool) IsLongRunning() bool    { return false }
func (t *agentTool) RequiresApproval() bool { return false }

// Schema returns the parameter schema. Agents exposing an InputSchema
// use it directly; otherwise a single "request" string is expected.
func (t *agentTool) Schema() map[string]any {
	if provider, ok := t.agent.(interface{ InputSchema() map[string]any }); ok {
		if schema := provider.InputSchema(); schema != nil {
			return schema
		}
	}
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"request": map[string]any{
				"type":        "string",
				"description": "The task for the " + t.agent.Name() + " agent",
			},
		},
		"required": []string{"request"},
	}
}

// Call runs the child agent to completion in an isolated session and
// returns its final text output.
func (t *agentTool) Call(ctx tool.Context, args map[string]any) (map[string]any, error) {
	request, ok := args["request"].(string)
	if !ok || request == "" {
		return nil, fmt.Errorf("request parameter must be a non-empty string")
	}

	if t.skipSummarization {
		if actions := ctx.Actions(); actions != nil {
			actions.SkipSummarization = true
		}
	}

	parentCtx := extractInvocationContext(ctx)
	if parentCtx == nil {
		return nil, fmt.Errorf("tool context does not expose an invocation context")
	}

	childSession, err := t.createIsolatedSession(parentCtx)
	if err != nil {
		return nil, fmt.Errorf("create isolated session: %w", err)
	}

	childCtx := agent.NewInvocationContext(parentCtx, agent.InvocationContextParams{
		Agent:       t.agent,
		Session:     childSession,
		Artifacts:   parentCtx.Artifacts(),
		UserContent: &agent.Content{
			Role:  a2a.MessageRoleUser,
			Parts: []a2a.Part{a2a.TextPart{Text: request}},
		},
		RunConfig:   parentCtx.RunConfig(),
		Branch:      childBranch(ctx.Branch(), t.agent.Name()),
	})

	var output string
	var eventCount int
	for event, err := range t.agent.Run(childCtx) {
		if err != nil {
			return nil, fmt.Errorf("agent %q: %w", t.agent.Name(), err)
		}
		if event == nil || event.Partial {
			continue
		}
		eventCount++
		if text := event.Text(); text != "" {
			output = text
		}
	}

	if output == "" {
		output = fmt.Sprintf("Task completed by %s agent", t.agent.Name())
	}

	return map[string]any{
		"result":        output,
		"agent_name":    t.agent.Name(),
		"event_count":   eventCount,
		"invocation_id": childCtx.InvocationID(),
	}, nil
}

// createIsolatedSession builds a throwaway in-memory session seeded with
// the parent's state, minus internal keys.
func (t *agentTool) createIsolatedSession(parentCtx agent.InvocationContext) (session.Session, error) {
	svc := session.InMemoryService()

	state := make(map[string]any)
	if parent := parentCtx.Session(); parent != nil {
		for k, v := range parent.State().All() {
			if strings.HasPrefix(k, "_") {
				continue
			}
			state[k] = v
		}
	}

	resp, err := svc.Create(context.Background(), &session.CreateRequest{
		AppName: t.agent.Name(),
		UserID:  parentCtx.UserID(),
		State:   state,
	})
	if err != nil {
		return nil, err
	}
	return resp.Session, nil
}

func childBranch(branch, child string) string {
	if branch == "" {
		return child
	}
	return branch + "/" + child
}

// extractInvocationContext recovers the full invocation context from a
// tool context.
func extractInvocationContext(ctx tool.Context) agent.InvocationContext {
	if invCtx, ok := ctx.(agent.InvocationContext); ok {
		return invCtx
	}
	type holder interface {
		InvocationContext() agent.InvocationContext
	}
	if h, ok := ctx.(holder); ok {
		return h.InvocationContext()
	}
	return nil
}

var _ tool.CallableTool = (*agentTool)(nil)
