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
	"context"

	"github.com/google/uuid"
)

// ReadonlyState is read-only access to session state.
type ReadonlyState interface {
	// Get returns the value for key. ok is false when the key is absent.
	Get(key string) (value any, ok bool)

	// All returns a copy of the full state map.
	All() map[string]any
}

// State is mutable session state. Writes through a callback context are
// tracked as a StateDelta on the produced event.
type State interface {
	ReadonlyState

	// Set stores a value under key.
	Set(key string, value any)

	// Delete removes key.
	Delete(key string)
}

// Events is read access to the session event log.
type Events interface {
	// All returns the persisted events, oldest first.
	All() []*Event

	// Len returns the number of persisted events.
	Len() int
}

// Session is the conversation container agents operate in.
type Session interface {
	ID() string
	AppName() string
	UserID() string
	State() State
	Events() Events
}

// Artifacts stores named binary artifacts with versions.
type Artifacts interface {
	// Save stores data under name and returns the new version.
	Save(ctx context.Context, name string, data []byte, mimeType string) (int64, error)

	// Load returns the given version of name. Version <0 loads the latest.
	Load(ctx context.Context, name string, version int64) ([]byte, string, error)

	// List returns the artifact names in the session.
	List(ctx context.Context) ([]string, error)
}

// ReadonlyContext is the minimal context exposed to instruction providers
// and toolset filters.
type ReadonlyContext interface {
	context.Context

	InvocationID() string
	AgentName() string
	AppName() string
	UserID() string
	SessionID() string
	Branch() string
	UserContent() *Content
	ReadonlyState() ReadonlyState
}

// CallbackContext is handed to agent/model/tool callbacks. State writes
// through it accumulate into the pending event's StateDelta.
type CallbackContext interface {
	ReadonlyContext

	State() State
	Artifacts() Artifacts
}

// InvocationContext is the full execution context for one agent run.
type InvocationContext interface {
	CallbackContext

	Agent() Agent
	Session() Session
	RunConfig() RunConfig
}

// StreamingMode controls how much intermediate output agents emit.
type StreamingMode string

const (
	// StreamingModeNone yields only final events.
	StreamingModeNone StreamingMode = "none"

	// StreamingModeSSE yields partial text deltas suitable for SSE.
	StreamingModeSSE StreamingMode = "sse"
)

// RunConfig is per-invocation runtime configuration.
type RunConfig struct {
	StreamingMode StreamingMode
}

// InvocationContextParams configures NewInvocationContext.
type InvocationContextParams struct {
	Session      Session
	Agent        Agent
	Artifacts    Artifacts
	Branch       string
	InvocationID string
	UserContent  *Content
	RunConfig    RunConfig
}

// NewInvocationContext creates an invocation context rooted at ctx.
// A fresh invocation ID is generated when none is supplied.
func NewInvocationContext(ctx context.Context, params InvocationContextParams) InvocationContext {
	id := params.InvocationID
	if id == "" {
		id = uuid.NewString()
	}
	return &invocationContext{
		Context:      ctx,
		session:      params.Session,
		agent:        params.Agent,
		artifacts:    params.Artifacts,
		branch:       params.Branch,
		invocationID: id,
		userContent:  params.UserContent,
		runConfig:    params.RunConfig,
	}
}

type invocationContext struct {
	context.Context

	session      Session
	agent        Agent
	artifacts    Artifacts
	branch       string
	invocationID string
	userContent  *Content
	runConfig    RunConfig
}

func (c *invocationContext) InvocationID() string { return c.invocationID }
func (c *invocationContext) AgentName() string {
	if c.agent == nil {
		return ""
	}
	return c.agent.Name()
}
func (c *invocationContext) AppName() string {
	if c.session == nil {
		return ""
	}
	return c.session.AppName()
}
func (c *invocationContext) UserID() string {
	if c.session == nil {
		return ""
	}
	return c.session.UserID()
}
func (c *invocationContext) SessionID() string {
	if c.session == nil {
		return ""
	}
	return c.session.ID()
}
func (c *invocationContext) Branch() string        { return c.branch }
func (c *invocationContext) UserContent() *Content { return c.userContent }
func (c *invocationContext) ReadonlyState() ReadonlyState {
	if c.session == nil {
		return nil
	}
	return c.session.State()
}
func (c *invocationContext) State() State {
	if c.session == nil {
		return nil
	}
	return c.session.State()
}
func (c *invocationContext) Artifacts() Artifacts  { return c.artifacts }
func (c *invocationContext) Agent() Agent          { return c.agent }
func (c *invocationContext) Session() Session      { return c.session }
func (c *invocationContext) RunConfig() RunConfig  { return c.runConfig }

// WithBranchAndAgent derives a child invocation context for a sub-agent,
// keeping the session and invocation ID.
func WithBranchAndAgent(parent InvocationContext, branch string, sub Agent) InvocationContext {
	return &invocationContext{
		Context:      parent,
		session:      parent.Session(),
		agent:        sub,
		artifacts:    parent.Artifacts(),
		branch:       branch,
		invocationID: parent.InvocationID(),
		userContent:  parent.UserContent(),
		runConfig:    parent.RunConfig(),
	}
}

// NewCallbackContext wraps an invocation context so that state writes are
// captured in actions.StateDelta instead of mutating the session directly.
func NewCallbackContext(ctx InvocationContext, actions *EventActions) CallbackContext {
	return &callbackContext{
		InvocationContext: ctx,
		actions:           actions,
	}
}

type callbackContext struct {
	InvocationContext
	actions *EventActions
}

func (c *callbackContext) State() State {
	return &callbackState{
		base:    c.InvocationContext.State(),
		actions: c.actions,
	}
}

// callbackState overlays pending StateDelta writes on session state.
type callbackState struct {
	base    State
	actions *EventActions
}

func (s *callbackState) Get(key string) (any, bool) {
	if s.actions != nil && s.actions.StateDelta != nil {
		if v, ok := s.actions.StateDelta[key]; ok {
			if v == nil {
				return nil, false
			}
			return v, true
		}
	}
	if s.base == nil {
		return nil, false
	}
	return s.base.Get(key)
}

func (s *callbackState) All() map[string]any {
	out := make(map[string]any)
	if s.base != nil {
		for k, v := range s.base.All() {
			out[k] = v
		}
	}
	if s.actions != nil {
		for k, v := range s.actions.StateDelta {
			if v == nil {
				delete(out, k)
				continue
			}
			out[k] = v
		}
	}
	return out
}

func (s *callbackState) Set(key string, value any) {
	if s.actions == nil {
		return
	}
	if s.actions.StateDelta == nil {
		s.actions.StateDelta = make(map[string]any)
	}
	s.actions.StateDelta[key] = value
}

func (s *callbackState) Delete(key string) {
	s.Set(key, nil)
}
