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

// Package task holds server-side task plumbing: an Awaiter that parks a
// running task until a human responds, and a SQL-backed a2asrv.TaskStore.
package task

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/praxisagents/praxis/pkg/tool"
)

var (
	ErrInputTimeout = errors.New("input timeout")
	ErrNoWaiter     = errors.New("no waiter for task")
	ErrWaiterFull   = errors.New("waiter channel full")
)

// InputType classifies what kind of human input a task is waiting on.
type InputType string

const (
	InputTypeToolApproval  InputType = "tool_approval"
	InputTypeConfirmation  InputType = "confirmation"
	InputTypeClarification InputType = "clarification"
)

// InputOption is a choice presented to the user.
type InputOption struct {
	ID        string `json:"id"`
	Label     string `json:"label"`
	Value     any    `json:"value,omitempty"`
	IsDefault bool   `json:"is_default,omitempty"`
}

// InputRequirement describes the input a paused task needs before it
// can continue.
type InputRequirement struct {
	Type    InputType     `json:"type"`
	Prompt  string        `json:"prompt,omitempty"`
	Options []InputOption `json:"options,omitempty"`
	Timeout time.Duration `json:"timeout,omitempty"`

	// ToolCall is set for tool approval requirements.
	ToolCall *tool.ToolCall `json:"tool_call,omitempty"`
}

// InputResponse is the human's answer to an input requirement.
type InputResponse struct {
	// OptionID is the selected option, when options were offered.
	OptionID string `json:"option_id,omitempty"`

	// Value carries free-form input.
	Value any `json:"value,omitempty"`

	// Approved reports the decision for approval requirements.
	Approved bool `json:"approved"`

	// Message is an optional note from the user.
	Message string `json:"message,omitempty"`
}

// Awaiter parks tasks that need human input. WaitForInput blocks the
// task goroutine (streaming mode); ProvideInput is called from the API
// side when the user answers.
type Awaiter struct {
	mu      sync.RWMutex
	waiters map[string]chan *InputResponse

	defaultTimeout time.Duration
}

// NewAwaiter creates an awaiter. A zero defaultTimeout means 5 minutes.
func NewAwaiter(defaultTimeout time.Duration) *Awaiter {
	if defaultTimeout == 0 {
		defaultTimeout = 5 * time.Minute
	}
	return &Awaiter{
		waiters:        make(map[string]chan *InputResponse),
		defaultTimeout: defaultTimeout,
	}
}

// WaitForInput blocks until input for taskID arrives, the requirement's
// timeout elapses, or ctx is canceled.
func (a *Awaiter) WaitForInput(ctx context.Context, taskID string, req *InputRequirement) (*InputResponse, error) {
	if req == nil {
		return nil, errors.New("input requirement is required")
	}

	ch := make(chan *InputResponse, 1)
	a.mu.Lock()
	a.waiters[taskID] = ch
	a.mu.Unlock()

	defer func() {
		a.mu.Lock()
		delete(a.waiters, taskID)
		a.mu.Unlock()
	}()

	timeout := req.Timeout
	if timeout == 0 {
		timeout = a.defaultTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, ErrInputTimeout
	case resp := <-ch:
		return resp, nil
	}
}

// ProvideInput delivers a response to a waiting task.
func (a *Awaiter) ProvideInput(taskID string, resp *InputResponse) error {
	a.mu.RLock()
	ch, ok := a.waiters[taskID]
	a.mu.RUnlock()
	if !ok {
		return ErrNoWaiter
	}

	select {
	case ch <- resp:
		return nil
	default:
		return ErrWaiterFull
	}
}

// IsWaiting reports whether taskID has a parked waiter.
func (a *Awaiter) IsWaiting(taskID string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	_, ok := a.waiters[taskID]
	return ok
}

// ApprovalRequest builds a tool approval requirement with approve/deny
// options.
func ApprovalRequest(tc *tool.ToolCall, prompt string, timeout time.Duration) *InputRequirement {
	return &InputRequirement{
		Type:     InputTypeToolApproval,
		Prompt:   prompt,
		ToolCall: tc,
		Timeout:  timeout,
		Options: []InputOption{
			{ID: "approve", Label: "Approve", Value: true},
			{ID: "deny", Label: "Deny", Value: false},
		},
	}
}

// ConfirmationRequest builds a yes/no confirmation requirement.
func ConfirmationRequest(prompt string, timeout time.Duration) *InputRequirement {
	return &InputRequirement{
		Type:    InputTypeConfirmation,
		Prompt:  prompt,
		Timeout: timeout,
		Options: []InputOption{
			{ID: "yes", Label: "Yes", Value: true},
			{ID: "no", Label: "No", Value: false, IsDefault: true},
		},
	}
}

// ClarificationRequest builds a free-form clarification requirement.
func ClarificationRequest(prompt string, timeout time.Duration) *InputRequirement {
	return &InputRequirement{
		Type:    InputTypeClarification,
		Prompt:  prompt,
		Timeout: timeout,
	}
}
