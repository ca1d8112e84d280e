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

// Package agent defines the core agent abstractions: the Agent interface,
// events, and execution contexts.
//
// Agents produce events through an iterator:
//
//	for event, err := range agent.Run(ctx) {
//	    if err != nil { ... }
//	    // handle event
//	}
//
// Custom agents are built with agent.New; LLM-backed agents live in the
// llmagent subpackage and workflow compositions in workflowagent.
package agent

import (
	"fmt"
	"iter"
)

// Agent is a unit of execution in the agent tree.
type Agent interface {
	// Name returns the unique agent name within its tree.
	Name() string

	// Description explains what the agent does. Parent LLM agents use it
	// to decide transfers.
	Description() string

	// Run executes the agent, yielding events until the turn completes.
	Run(ctx InvocationContext) iter.Seq2[*Event, error]

	// SubAgents returns the direct children of this agent.
	SubAgents() []Agent
}

// BeforeAgentCallback runs before the agent body. Returning non-nil
// content short-circuits the run with that content as the final event.
type BeforeAgentCallback func(ctx CallbackContext) (*Content, error)

// AfterAgentCallback runs after the agent body. Returning non-nil content
// appends an extra final event.
type AfterAgentCallback func(ctx CallbackContext) (*Content, error)

// Config configures a custom agent.
type Config struct {
	// Name is required and must be unique within the agent tree.
	Name string

	Description string

	// Run is the agent body. Required.
	Run func(ctx InvocationContext) iter.Seq2[*Event, error]

	SubAgents []Agent

	BeforeAgentCallbacks []BeforeAgentCallback
	AfterAgentCallbacks  []AfterAgentCallback
}

// New creates a custom agent from cfg.
func New(cfg Config) (Agent, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("agent name is required")
	}
	if cfg.Run == nil {
		return nil, fmt.Errorf("agent %q: run function is required", cfg.Name)
	}
	return &baseAgent{cfg: cfg}, nil
}

type baseAgent struct {
	cfg Config
}

func (a *baseAgent) Name() string        { return a.cfg.Name }
func (a *baseAgent) Description() string { return a.cfg.Description }
func (a *baseAgent) SubAgents() []Agent  { return a.cfg.SubAgents }

func (a *baseAgent) Run(ctx InvocationContext) iter.Seq2[*Event, error] {
	return func(yield func(*Event, error) bool) {
		var actions EventActions
		cbCtx := NewCallbackContext(ctx, &actions)

		for _, cb := range a.cfg.BeforeAgentCallbacks {
			content, err := cb(cbCtx)
			if err != nil {
				yield(nil, fmt.Errorf("agent %q: before callback: %w", a.cfg.Name, err))
				return
			}
			if content != nil {
				event := a.contentEvent(ctx, content, actions)
				yield(event, nil)
				return
			}
		}

		if len(actions.StateDelta) > 0 {
			// Callbacks wrote state without short-circuiting; surface it
			// so the session applies the delta before the agent body runs.
			if !yield(a.stateEvent(ctx, actions), nil) {
				return
			}
			actions = EventActions{}
		}

		for event, err := range a.cfg.Run(ctx) {
			if !yield(event, err) {
				return
			}
			if err != nil {
				return
			}
		}

		for _, cb := range a.cfg.AfterAgentCallbacks {
			content, err := cb(cbCtx)
			if err != nil {
				yield(nil, fmt.Errorf("agent %q: after callback: %w", a.cfg.Name, err))
				return
			}
			if content != nil {
				if !yield(a.contentEvent(ctx, content, actions), nil) {
					return
				}
				actions = EventActions{}
			}
		}

		if len(actions.StateDelta) > 0 {
			yield(a.stateEvent(ctx, actions), nil)
		}
	}
}

// stateEvent carries callback state writes without any content.
func (a *baseAgent) stateEvent(ctx InvocationContext, actions EventActions) *Event {
	event := NewEvent(ctx.InvocationID())
	event.Author = a.cfg.Name
	event.Branch = ctx.Branch()
	event.Actions = actions
	return event
}

func (a *baseAgent) contentEvent(ctx InvocationContext, content *Content, actions EventActions) *Event {
	event := NewEvent(ctx.InvocationID())
	event.Author = a.cfg.Name
	event.Branch = ctx.Branch()
	event.Actions = actions
	event.TurnComplete = true
	if content != nil {
		event.Message = contentToMessage(content)
	}
	return event
}

// FindAgent walks the tree rooted at root looking for name.
func FindAgent(root Agent, name string) Agent {
	if root == nil {
		return nil
	}
	if root.Name() == name {
		return root
	}
	for _, sub := range root.SubAgents() {
		if found := FindAgent(sub, name); found != nil {
			return found
		}
	}
	return nil
}
