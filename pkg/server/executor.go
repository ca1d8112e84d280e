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

// Package server exposes agents over the A2A protocol.
//
// Executor implements a2asrv.AgentExecutor, translating the runner's
// event stream into A2A task updates:
//
//   - New task: TaskStatusUpdateEvent with TaskStateSubmitted
//   - Before the runner starts: TaskStateWorking
//   - Each content event: TaskArtifactUpdateEvent with the event parts
//   - After the last event: artifact update with LastChunk=true
//   - Pending tool approval: TaskStateInputRequired (final)
//   - Run error: TaskStateFailed (final)
//   - Otherwise: TaskStateCompleted (final)
//
// HTTPServer mounts one JSON-RPC handler and one agent-card handler
// per agent, built from a2a-go's native handlers.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/a2aproject/a2a-go/a2a"
	"github.com/a2aproject/a2a-go/a2asrv"
	"github.com/a2aproject/a2a-go/a2asrv/eventqueue"

	"github.com/praxisagents/praxis/pkg/agent"
	"github.com/praxisagents/praxis/pkg/passport"
	"github.com/praxisagents/praxis/pkg/runner"
	"github.com/praxisagents/praxis/pkg/session"
)

// ExecutorConfig configures the A2A executor for one agent.
type ExecutorConfig struct {
	// RunnerConfig creates the runner for each execution.
	RunnerConfig runner.Config

	// RunConfig is the per-invocation runtime configuration.
	RunConfig agent.RunConfig
}

// Executor bridges one agent tree to the A2A protocol.
type Executor struct {
	config ExecutorConfig
}

// NewExecutor creates an A2A executor.
func NewExecutor(config ExecutorConfig) *Executor {
	return &Executor{config: config}
}

// Execute implements a2asrv.AgentExecutor.
func (e *Executor) Execute(ctx context.Context, reqCtx *a2asrv.RequestContext, queue eventqueue.Queue) error {
	msg := reqCtx.Message
	if msg == nil {
		slog.Error("Execute: message not provided")
		return fmt.Errorf("message not provided")
	}

	// Verify the caller's passport, if one is attached. A tampered
	// passport fails the task before any agent work happens.
	ctx, err := passport.Validate(ctx, msg)
	if err != nil {
		event := toFailedStatusEvent(reqCtx, err, nil)
		return queue.Write(ctx, event)
	}

	// A user answering an approval prompt arrives as a regular message;
	// detect it and route the decision into session state.
	approval := ExtractApprovalResponse(msg)
	if approval != nil {
		slog.Debug("Execute: approval response",
			"decision", approval.Decision, "toolCallID", approval.ToolCallID)
	}

	content := toContent(msg)

	r, err := runner.New(e.config.RunnerConfig)
	if err != nil {
		slog.Error("Execute: create runner", "error", err)
		return fmt.Errorf("create runner: %w", err)
	}

	if reqCtx.StoredTask == nil {
		event := a2a.NewStatusUpdateEvent(reqCtx, a2a.TaskStateSubmitted, nil)
		if err := queue.Write(ctx, event); err != nil {
			return fmt.Errorf("write submitted event: %w", err)
		}
	}

	meta := toInvocationMeta(reqCtx)

	if err := e.prepareSession(ctx, meta); err != nil {
		event := toFailedStatusEvent(reqCtx, err, meta.eventMeta)
		return queue.Write(ctx, event)
	}

	if approval != nil {
		if err := e.storeApprovalDecision(ctx, meta, approval); err != nil {
			slog.Warn("Execute: store approval decision", "error", err)
		}
	}

	workingEvent := a2a.NewStatusUpdateEvent(reqCtx, a2a.TaskStateWorking, nil)
	workingEvent.Metadata = meta.eventMeta
	if err := queue.Write(ctx, workingEvent); err != nil {
		return err
	}

	processor := newEventProcessor(reqCtx, meta)
	return e.process(ctx, r, processor, content, queue)
}

// Cancel implements a2asrv.AgentExecutor.
func (e *Executor) Cancel(ctx context.Context, reqCtx *a2asrv.RequestContext, queue eventqueue.Queue) error {
	event := a2a.NewStatusUpdateEvent(reqCtx, a2a.TaskStateCanceled, nil)
	event.Final = true
	return queue.Write(ctx, event)
}

func (e *Executor) process(ctx context.Context, r *runner.Runner, processor *eventProcessor, content *agent.Content, q eventqueue.Queue) error {
	meta := processor.meta

	for event, err := range r.Run(ctx, meta.userID, meta.sessionID, content, e.config.RunConfig) {
		if err != nil {
			failedEvent := processor.makeFailedEvent(fmt.Errorf("agent run failed: %w", err), nil)
			if writeErr := q.Write(ctx, failedEvent); writeErr != nil {
				return fmt.Errorf("write error event: %w (original: %w)", writeErr, err)
			}
			return nil
		}

		a2aEvent := processor.process(event)
		if a2aEvent != nil {
			if err := q.Write(ctx, a2aEvent); err != nil {
				return fmt.Errorf("write event: %w", err)
			}
		}
	}

	for _, ev := range processor.makeTerminalEvents() {
		if err := q.Write(ctx, ev); err != nil {
			return fmt.Errorf("write terminal event: %w", err)
		}
	}
	return nil
}

func (e *Executor) prepareSession(ctx context.Context, meta invocationMeta) error {
	service := e.config.RunnerConfig.SessionService

	_, err := service.Get(ctx, &session.GetRequest{
		AppName:   e.config.RunnerConfig.AppName,
		UserID:    meta.userID,
		SessionID: meta.sessionID,
	})
	if err == nil {
		return nil
	}
	if !errors.Is(err, session.ErrSessionNotFound) {
		return fmt.Errorf("get session: %w", err)
	}

	_, err = service.Create(ctx, &session.CreateRequest{
		AppName:   e.config.RunnerConfig.AppName,
		UserID:    meta.userID,
		SessionID: meta.sessionID,
		State:     make(map[string]any),
	})
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

// storeApprovalDecision writes the decision into session state under
// "_approval:<tool_call_id>", where the agent flow picks it up when
// the turn resumes.
func (e *Executor) storeApprovalDecision(ctx context.Context, meta invocationMeta, approval *ApprovalResponse) error {
	service := e.config.RunnerConfig.SessionService

	resp, err := service.Get(ctx, &session.GetRequest{
		AppName:   e.config.RunnerConfig.AppName,
		UserID:    meta.userID,
		SessionID: meta.sessionID,
	})
	if err != nil {
		return fmt.Errorf("get session: %w", err)
	}

	delta := make(map[string]any)
	if approval.ToolCallID != "" {
		delta["_approval:"+approval.ToolCallID] = approval.Decision
	} else {
		// Plain-text approvals carry no call ID; the decision applies
		// to whatever calls paused the task.
		for _, id := range pendingApprovalCalls(resp.Session) {
			delta["_approval:"+id] = approval.Decision
		}
	}
	if len(delta) == 0 {
		return fmt.Errorf("no pending approval to resolve")
	}

	event := agent.NewEvent("approval")
	event.Author = agent.AuthorUser
	event.Actions = agent.EventActions{StateDelta: delta}
	if err := service.AppendEvent(ctx, resp.Session, event); err != nil {
		return fmt.Errorf("store approval: %w", err)
	}
	return nil
}

// pendingApprovalCalls returns the tool call IDs from the latest event
// that paused for input.
func pendingApprovalCalls(sess session.Session) []string {
	events := sess.Events().All()
	for i := len(events) - 1; i >= 0; i-- {
		if events[i] != nil && len(events[i].LongRunningToolIDs) > 0 {
			return events[i].LongRunningToolIDs
		}
	}
	return nil
}

var _ a2asrv.AgentExecutor = (*Executor)(nil)
