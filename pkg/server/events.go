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
	"log/slog"
	"maps"

	"github.com/a2aproject/a2a-go/a2a"
	"github.com/a2aproject/a2a-go/a2asrv"

	"github.com/praxisagents/praxis/pkg/agent"
)

// Metadata keys attached to outbound A2A events.
const (
	metaKeyTaskID    = "praxis:task_id"
	metaKeyContextID = "praxis:context_id"
	metaKeyEscalate  = "praxis:escalate"
	metaKeyTransfer  = "praxis:transfer_to_agent"
)

// invocationMeta identifies the session an A2A request maps onto.
type invocationMeta struct {
	userID    string
	sessionID string
	eventMeta map[string]any
}

func toInvocationMeta(reqCtx *a2asrv.RequestContext) invocationMeta {
	meta := invocationMeta{
		eventMeta: make(map[string]any),
	}

	// The a2asrv context ID doubles as the session ID: a2a-go either
	// echoes the client-provided context_id or generates one and stores
	// it on the task, so continuations land in the same session.
	meta.sessionID = reqCtx.ContextID
	slog.Debug("mapping A2A context to session",
		"sessionID", meta.sessionID, "taskID", string(reqCtx.TaskID))

	if reqCtx.Message != nil && reqCtx.Message.Metadata != nil {
		if uid, ok := reqCtx.Message.Metadata["user_id"].(string); ok {
			meta.userID = uid
		}
	}
	if meta.userID == "" {
		meta.userID = "default"
	}
	return meta
}

// eventProcessor translates agent events into A2A artifact updates and
// accumulates the terminal status to emit when the stream ends.
type eventProcessor struct {
	reqCtx *a2asrv.RequestContext
	meta   invocationMeta

	terminalActions agent.EventActions
	responseID      a2a.ArtifactID
	terminalEvents  map[a2a.TaskState]*a2a.TaskStatusUpdateEvent
}

func newEventProcessor(reqCtx *a2asrv.RequestContext, meta invocationMeta) *eventProcessor {
	return &eventProcessor{
		reqCtx:         reqCtx,
		meta:           meta,
		terminalEvents: make(map[a2a.TaskState]*a2a.TaskStatusUpdateEvent),
	}
}

func (p *eventProcessor) process(event *agent.Event) *a2a.TaskArtifactUpdateEvent {
	if event == nil {
		return nil
	}

	p.updateTerminalActions(event)

	if event.IsError() {
		ev := a2a.NewStatusUpdateEvent(p.reqCtx, a2a.TaskStateFailed,
			a2a.NewMessageForTask(a2a.MessageRoleAgent, p.reqCtx,
				a2a.TextPart{Text: event.ErrorMessage}))
		ev.Final = true
		ev.Metadata = p.makeEventMeta(event)
		p.terminalEvents[a2a.TaskStateFailed] = ev
	}

	// A turn paused on human input ends in input_required. Both signals
	// mean the same thing: long-running tool IDs from approval pauses,
	// and the explicit RequireInput action.
	if len(event.LongRunningToolIDs) > 0 || event.Actions.RequireInput {
		var statusMsg *a2a.Message
		if event.Actions.InputPrompt != "" {
			statusMsg = a2a.NewMessageForTask(
				a2a.MessageRoleAgent,
				p.reqCtx,
				a2a.TextPart{Text: event.Actions.InputPrompt},
			)
		}

		ev := a2a.NewStatusUpdateEvent(p.reqCtx, a2a.TaskStateInputRequired, statusMsg)
		ev.Final = true
		ev.Metadata = map[string]any{"input_required": true}
		if len(event.LongRunningToolIDs) > 0 {
			toolIDs := make([]any, len(event.LongRunningToolIDs))
			for i, id := range event.LongRunningToolIDs {
				toolIDs[i] = id
			}
			ev.Metadata["long_running_tool_ids"] = toolIDs
		}
		p.terminalEvents[a2a.TaskStateInputRequired] = ev
	}

	hasParts := event.Message != nil && len(event.Message.Parts) > 0
	hasToolCalls := len(event.ToolCalls) > 0
	hasToolResults := len(event.ToolResults) > 0
	if !hasParts && !hasToolCalls && !hasToolResults {
		return nil
	}

	var parts []a2a.Part
	if event.Message != nil {
		parts = event.Message.Parts
	}

	// First content event opens the response artifact; subsequent
	// events append chunks to it.
	var result *a2a.TaskArtifactUpdateEvent
	if p.responseID == "" {
		result = a2a.NewArtifactEvent(p.reqCtx, parts...)
		p.responseID = result.Artifact.ID
	} else {
		result = a2a.NewArtifactUpdateEvent(p.reqCtx, p.responseID, parts...)
	}

	if eventMeta := p.makeEventMeta(event); len(eventMeta) > 0 {
		result.Metadata = eventMeta
	}
	return result
}

func (p *eventProcessor) makeTerminalEvents() []a2a.Event {
	result := make([]a2a.Event, 0, 2)

	if p.responseID != "" {
		ev := a2a.NewArtifactUpdateEvent(p.reqCtx, p.responseID)
		ev.LastChunk = true
		result = append(result, ev)
	}

	for _, state := range []a2a.TaskState{a2a.TaskStateFailed, a2a.TaskStateInputRequired} {
		if ev, ok := p.terminalEvents[state]; ok {
			ev.Metadata = p.setActionsMeta(ev.Metadata)
			result = append(result, ev)
			return result
		}
	}

	ev := a2a.NewStatusUpdateEvent(p.reqCtx, a2a.TaskStateCompleted, nil)
	ev.Final = true
	ev.Metadata = p.setActionsMeta(maps.Clone(p.meta.eventMeta))
	result = append(result, ev)
	return result
}

func (p *eventProcessor) makeFailedEvent(cause error, event *agent.Event) *a2a.TaskStatusUpdateEvent {
	meta := p.meta.eventMeta
	if event != nil {
		meta = p.makeEventMeta(event)
	}
	return toFailedStatusEvent(p.reqCtx, cause, meta)
}

func (p *eventProcessor) updateTerminalActions(event *agent.Event) {
	p.terminalActions.Escalate = p.terminalActions.Escalate || event.Actions.Escalate
	if event.Actions.TransferToAgent != "" {
		p.terminalActions.TransferToAgent = event.Actions.TransferToAgent
	}
}

func (p *eventProcessor) makeEventMeta(event *agent.Event) map[string]any {
	meta := maps.Clone(p.meta.eventMeta)
	if meta == nil {
		meta = make(map[string]any)
	}

	meta["event_id"] = event.ID
	meta["author"] = event.Author
	if event.Branch != "" {
		meta["branch"] = event.Branch
	}
	// Clients de-duplicate streamed content against the final event by
	// checking this flag.
	meta["partial"] = event.Partial

	if len(event.ToolCalls) > 0 {
		toolCalls := make([]map[string]any, len(event.ToolCalls))
		for i, tc := range event.ToolCalls {
			toolCalls[i] = map[string]any{
				"id":     tc.ID,
				"name":   tc.Name,
				"args":   tc.Args,
				"status": tc.Status,
			}
		}
		meta["tool_calls"] = toolCalls
	}

	if len(event.ToolResults) > 0 {
		toolResults := make([]map[string]any, len(event.ToolResults))
		for i, tr := range event.ToolResults {
			toolResults[i] = map[string]any{
				"tool_call_id": tr.ID,
				"name":         tr.Name,
				"content":      tr.Content,
				"is_error":     tr.IsError,
			}
		}
		meta["tool_results"] = toolResults
	}
	return meta
}

func (p *eventProcessor) setActionsMeta(meta map[string]any) map[string]any {
	if meta == nil {
		meta = make(map[string]any)
	}
	if p.terminalActions.Escalate {
		meta[metaKeyEscalate] = true
	}
	if p.terminalActions.TransferToAgent != "" {
		meta[metaKeyTransfer] = p.terminalActions.TransferToAgent
	}
	return meta
}

func toFailedStatusEvent(reqCtx *a2asrv.RequestContext, cause error, meta map[string]any) *a2a.TaskStatusUpdateEvent {
	msg := a2a.NewMessageForTask(a2a.MessageRoleAgent, reqCtx, a2a.TextPart{Text: cause.Error()})
	ev := a2a.NewStatusUpdateEvent(reqCtx, a2a.TaskStateFailed, msg)
	ev.Metadata = meta
	ev.Final = true
	return ev
}
