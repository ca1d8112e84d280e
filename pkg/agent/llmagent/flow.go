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
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"strings"
	"time"

	"github.com/a2aproject/a2a-go/a2a"
	"github.com/google/uuid"

	"github.com/praxisagents/praxis/pkg/agent"
	"github.com/praxisagents/praxis/pkg/model"
	"github.com/praxisagents/praxis/pkg/observability"
	"github.com/praxisagents/praxis/pkg/tool"
)

// State key prefixes for approval decisions. The server writes a
// decision under these keys when a user responds to an approval
// request; the flow reads and clears them.
const (
	approvalStatePrefix     = "_approval:"
	approvalNameStatePrefix = "_approval_name:"
)

// deniedResultContent is fed back to the model when a user denies a
// tool execution.
const deniedResultContent = "TOOL_EXECUTION_DENIED: The user rejected this tool execution. " +
	"Do not retry it or fabricate results; acknowledge the denial and offer an alternative."

// clientCallIDPrefix marks tool call IDs generated client-side when the
// model omits them.
const clientCallIDPrefix = "praxis-"

// flow runs the reason/act loop for one invocation.
//
// The loop continues until the last event is a final response: no tool
// calls pending, or the run paused for human input. Session events are
// the source of truth; every step rebuilds the request from the event
// log rather than accumulating messages locally.
type flow struct {
	agent *llmAgent
}

func newFlow(a *llmAgent) *flow {
	return &flow{agent: a}
}

// Run executes the loop, yielding partial and final events.
func (f *flow) Run(ctx agent.InvocationContext) iter.Seq2[*agent.Event, error] {
	return func(yield func(*agent.Event, error) bool) {
		// Resume tool calls that were waiting for approval and now have
		// a decision in session state.
		if stopped := f.resumeDecidedTools(ctx, yield); stopped {
			return
		}

		for iteration := 0; iteration < f.agent.maxIterations; iteration++ {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}

			var last *agent.Event
			for ev, err := range f.runOneStep(ctx) {
				if err != nil {
					yield(nil, err)
					return
				}
				if !yield(ev, nil) {
					return
				}
				if !ev.Partial {
					last = ev
				}
			}

			if last == nil || last.IsFinalResponse() {
				return
			}
		}

		yield(nil, fmt.Errorf("agent %q: loop exceeded %d iterations", f.agent.Name(), f.agent.maxIterations))
	}
}

// runOneStep performs one iteration: build request, call model, yield
// the model event, then execute any requested tools.
func (f *flow) runOneStep(ctx agent.InvocationContext) iter.Seq2[*agent.Event, error] {
	return func(yield func(*agent.Event, error) bool) {
		req, err := f.buildRequest(ctx)
		if err != nil {
			yield(nil, err)
			return
		}

		actions := &agent.EventActions{StateDelta: make(map[string]any)}
		cbCtx := agent.NewCallbackContext(ctx, actions)

		resp, err := f.callModel(ctx, cbCtx, req, yield)
		if err != nil {
			yield(nil, err)
			return
		}
		if resp == nil {
			return
		}

		modelEvent := f.buildModelResponseEvent(ctx, resp, actions)
		if !yield(modelEvent, nil) {
			return
		}

		if !resp.HasToolCalls() {
			return
		}

		toolEvent := f.handleToolCalls(ctx, resp.ToolCalls, yield)
		if toolEvent == nil {
			return
		}
		if !yield(toolEvent, nil) {
			return
		}

		if target := toolEvent.Actions.TransferToAgent; target != "" {
			f.runTransfer(ctx, target, yield)
		}
	}
}

// callModel runs before/after model callbacks around the model call and
// yields partial events while streaming. Returns the final response.
func (f *flow) callModel(
	ctx agent.InvocationContext,
	cbCtx agent.CallbackContext,
	req *model.Request,
	yield func(*agent.Event, error) bool,
) (*model.Response, error) {
	for _, cb := range f.agent.beforeModelCallbacks {
		resp, err := cb(cbCtx, req)
		if err != nil {
			return nil, fmt.Errorf("before-model callback: %w", err)
		}
		if resp != nil {
			return resp, nil
		}
	}

	stream := ctx.RunConfig().StreamingMode == agent.StreamingModeSSE

	startedAt := time.Now()
	genCtx, span := observability.GlobalTracer().StartLLMCall(ctx, string(f.agent.model.Provider()), f.agent.model.Name())
	defer span.End()

	var final *model.Response
	for resp, err := range f.agent.model.GenerateContent(genCtx, req, stream) {
		if err != nil {
			observability.RecordError(span, err)
			observability.GlobalMetrics().RecordLLMCall(ctx, f.agent.model.Name(), time.Since(startedAt), 0, 0, err)

			resp, cbErr := f.runAfterModelCallbacks(cbCtx, nil, err)
			if cbErr != nil {
				return nil, cbErr
			}
			if resp != nil {
				return resp, nil
			}
			return nil, fmt.Errorf("model generation: %w", err)
		}
		if resp == nil {
			continue
		}

		if resp.Partial {
			if !yield(f.buildPartialEvent(ctx, resp), nil) {
				return nil, fmt.Errorf("streaming interrupted")
			}
			continue
		}
		final = resp
	}

	var inputTokens, outputTokens int
	if final != nil {
		observability.AddFinishReason(span, string(final.FinishReason))
		if final.Usage != nil {
			inputTokens, outputTokens = final.Usage.InputTokens, final.Usage.OutputTokens
			observability.AddLLMUsage(span, inputTokens, outputTokens)
		}
	}
	observability.GlobalMetrics().RecordLLMCall(ctx, f.agent.model.Name(), time.Since(startedAt), inputTokens, outputTokens, nil)

	resp, err := f.runAfterModelCallbacks(cbCtx, final, nil)
	if err != nil {
		return nil, err
	}
	if resp != nil {
		return resp, nil
	}
	return final, nil
}

func (f *flow) runAfterModelCallbacks(cbCtx agent.CallbackContext, resp *model.Response, llmErr error) (*model.Response, error) {
	for _, cb := range f.agent.afterModelCallbacks {
		replaced, err := cb(cbCtx, resp, llmErr)
		if err != nil {
			return nil, fmt.Errorf("after-model callback: %w", err)
		}
		if replaced != nil {
			return replaced, nil
		}
	}
	return nil, nil
}

// buildModelResponseEvent converts a final model response into an event.
func (f *flow) buildModelResponseEvent(ctx agent.InvocationContext, resp *model.Response, actions *agent.EventActions) *agent.Event {
	populateToolCallIDs(resp)

	event := agent.NewEvent(ctx.InvocationID())
	event.Author = f.agent.Name()
	event.Branch = ctx.Branch()
	event.Actions = *actions

	var parts []a2a.Part
	if resp.Content != nil {
		parts = append(parts, resp.Content.Parts...)
	}

	for _, tc := range resp.ToolCalls {
		event.ToolCalls = append(event.ToolCalls, agent.ToolCallState{
			ID:     tc.ID,
			Name:   tc.Name,
			Args:   tc.Args,
			Status: "working",
		})
		parts = append(parts, a2a.DataPart{
			Data: map[string]any{
				"type":      "tool_use",
				"id":        tc.ID,
				"name":      tc.Name,
				"arguments": tc.Args,
			},
		})
	}

	if len(parts) > 0 {
		event.Message = a2a.NewMessage(a2a.MessageRoleAgent, parts...)
	}

	if resp.Thinking != nil && resp.Thinking.Text != "" {
		if event.CustomMetadata == nil {
			event.CustomMetadata = make(map[string]any)
		}
		event.CustomMetadata["thinking"] = resp.Thinking.Text
	}

	if resp.Usage != nil {
		slog.Debug("Model turn complete",
			"agent", f.agent.Name(),
			"model", f.agent.model.Name(),
			"input_tokens", resp.Usage.InputTokens,
			"output_tokens", resp.Usage.OutputTokens,
			"thinking_tokens", resp.Usage.ThinkingTokens)
	}

	if f.agent.outputKey != "" && !resp.HasToolCalls() {
		if text := resp.TextContent(); text != "" {
			if event.Actions.StateDelta == nil {
				event.Actions.StateDelta = make(map[string]any)
			}
			event.Actions.StateDelta[f.agent.outputKey] = text
		}
	}

	event.TurnComplete = resp.TurnComplete
	return event
}

// buildPartialEvent converts a streaming chunk into a partial event.
// Partial events reach SSE consumers but are never persisted.
func (f *flow) buildPartialEvent(ctx agent.InvocationContext, resp *model.Response) *agent.Event {
	event := agent.NewEvent(ctx.InvocationID())
	event.Author = f.agent.Name()
	event.Branch = ctx.Branch()
	event.Partial = true

	var parts []a2a.Part
	if resp.Thinking != nil && resp.Thinking.Text != "" {
		parts = append(parts, a2a.DataPart{
			Data: map[string]any{
				"type": "thinking",
				"text": resp.Thinking.Text,
			},
		})
	}
	if resp.Content != nil {
		parts = append(parts, resp.Content.Parts...)
	}

	for _, tc := range resp.ToolCalls {
		event.ToolCalls = append(event.ToolCalls, agent.ToolCallState{
			ID:     tc.ID,
			Name:   tc.Name,
			Args:   tc.Args,
			Status: "working",
		})
	}

	if len(parts) > 0 {
		event.Message = a2a.NewMessage(a2a.MessageRoleAgent, parts...)
	}
	return event
}

// handleToolCalls executes the requested tools and builds one merged
// tool-response event. Tools requiring approval are not executed;
// instead the event pauses the run with LongRunningToolIDs and an input
// prompt until a decision lands in session state.
func (f *flow) handleToolCalls(ctx agent.InvocationContext, calls []tool.ToolCall, yield func(*agent.Event, error) bool) *agent.Event {
	var resultParts []a2a.Part
	var results []agent.ToolResultState
	var longRunningIDs []string
	var inputPrompt string
	merged := &agent.EventActions{StateDelta: make(map[string]any)}

	for _, tc := range calls {
		if target, ok := transferTarget(tc.Name); ok {
			if f.agent.findSubAgent(target) == nil {
				results, resultParts = appendToolResult(results, resultParts, tc,
					fmt.Sprintf("Error: unknown agent %q", target), true, "failed")
				continue
			}
			merged.TransferToAgent = target
			results, resultParts = appendToolResult(results, resultParts, tc,
				fmt.Sprintf("Transferring to agent %q.", target), false, "success")
			continue
		}

		t := f.agent.findTool(ctx, tc.Name)
		if t == nil {
			results, resultParts = appendToolResult(results, resultParts, tc,
				fmt.Sprintf("Error: tool %q not found", tc.Name), true, "failed")
			continue
		}

		if t.RequiresApproval() {
			switch f.approvalDecision(ctx, tc.ID, tc.Name) {
			case "approve":
				content, isError := f.executeTool(ctx, t, tc, merged, yield)
				f.clearApprovalDecision(merged, tc.ID, tc.Name)
				status := "success"
				if isError {
					status = "failed"
				}
				results, resultParts = appendToolResult(results, resultParts, tc, content, isError, status)
			case "deny":
				f.clearApprovalDecision(merged, tc.ID, tc.Name)
				slog.Info("Tool execution denied", "tool", tc.Name, "call_id", tc.ID)
				results, resultParts = appendToolResult(results, resultParts, tc, deniedResultContent, true, "denied")
			default:
				slog.Debug("Tool requires approval, pausing", "tool", tc.Name, "call_id", tc.ID)
				longRunningIDs = append(longRunningIDs, tc.ID)
				prompt := fmt.Sprintf("Tool %q requires approval.\nArguments: %v", tc.Name, tc.Args)
				if inputPrompt == "" {
					inputPrompt = prompt
				} else {
					inputPrompt += "\n\n" + prompt
				}
				results, resultParts = appendToolResult(results, resultParts, tc,
					fmt.Sprintf("Awaiting approval for tool: %s", tc.Name), false, "pending_approval")
			}
			continue
		}

		content, isError := f.executeTool(ctx, t, tc, merged, yield)
		status := "success"
		if isError {
			status = "failed"
		}
		results, resultParts = appendToolResult(results, resultParts, tc, content, isError, status)
	}

	event := agent.NewEvent(ctx.InvocationID())
	event.Author = f.agent.Name()
	event.Branch = ctx.Branch()
	event.ToolResults = results
	event.Message = a2a.NewMessage(a2a.MessageRoleUser, resultParts...)
	event.Actions = *merged

	if len(longRunningIDs) > 0 {
		event.LongRunningToolIDs = longRunningIDs
		event.Actions.RequireInput = true
		event.Actions.InputPrompt = inputPrompt
	}

	return event
}

// executeTool runs one tool with before/after callbacks. Streaming
// tools yield partial events per chunk. Actions raised by the tool are
// merged into the pending event.
func (f *flow) executeTool(
	ctx agent.InvocationContext,
	t tool.Tool,
	tc tool.ToolCall,
	merged *agent.EventActions,
	yield func(*agent.Event, error) bool,
) (content string, isError bool) {
	toolCtx := newToolContext(ctx, tc.ID)
	defer mergeEventActions(merged, toolCtx.Actions())

	startedAt := time.Now()
	_, span := observability.GlobalTracer().StartToolExecution(ctx, t.Name(), tc.ID)
	defer func() {
		var failure error
		if isError {
			failure = errors.New(content)
		}
		observability.RecordError(span, failure)
		span.End()
		observability.GlobalMetrics().RecordToolCall(ctx, t.Name(), time.Since(startedAt), failure)
	}()

	for _, cb := range f.agent.beforeToolCallbacks {
		result, err := cb(toolCtx, t, tc.Args)
		if err != nil {
			return fmt.Sprintf("Error: before-tool callback: %v", err), true
		}
		if result != nil {
			return formatToolResult(result), false
		}
	}

	var result map[string]any
	var toolErr error

	switch impl := t.(type) {
	case tool.StreamingTool:
		var accumulated string
		var finalResult *tool.Result
		for chunk, err := range impl.CallStreaming(toolCtx, tc.Args) {
			if err != nil {
				toolErr = err
				break
			}
			if chunk == nil {
				continue
			}
			if !chunk.Streaming {
				finalResult = chunk
				continue
			}
			accumulated += fmt.Sprintf("%v", chunk.Content)

			partial := agent.NewEvent(ctx.InvocationID())
			partial.Author = f.agent.Name()
			partial.Branch = ctx.Branch()
			partial.Partial = true
			partial.ToolResults = []agent.ToolResultState{{
				ID:      tc.ID,
				Name:    tc.Name,
				Content: accumulated,
			}}
			if !yield(partial, nil) {
				return accumulated, false
			}
		}
		switch {
		case toolErr != nil:
		case finalResult != nil:
			result = map[string]any{"content": finalResult.Content}
			if finalResult.Error != "" {
				toolErr = fmt.Errorf("%s", finalResult.Error)
			}
		default:
			result = map[string]any{"content": accumulated}
		}
	case tool.CallableTool:
		result, toolErr = impl.Call(toolCtx, tc.Args)
	default:
		return fmt.Sprintf("Error: tool %q is not callable", t.Name()), true
	}

	for _, cb := range f.agent.afterToolCallbacks {
		replaced, err := cb(toolCtx, t, tc.Args, result, toolErr)
		if err != nil {
			return fmt.Sprintf("Error: after-tool callback: %v", err), true
		}
		if replaced != nil {
			result = replaced
			toolErr = nil
		}
	}

	if toolErr != nil {
		return fmt.Sprintf("Error: %v", toolErr), true
	}
	return formatToolResult(result), false
}

// resumeDecidedTools finds tool calls that paused for approval and now
// have a decision in session state, executes or denies them, and yields
// the result events. Returns true when the consumer quit.
func (f *flow) resumeDecidedTools(ctx agent.InvocationContext, yield func(*agent.Event, error) bool) bool {
	sess := ctx.Session()
	if sess == nil {
		return false
	}

	events := sess.Events().All()
	for i := len(events) - 1; i >= 0; i-- {
		ev := events[i]
		if ev.Message == nil || ev.Message.Role != a2a.MessageRoleAgent {
			continue
		}

		for _, part := range ev.Message.Parts {
			dp, ok := part.(a2a.DataPart)
			if !ok || dp.Data["type"] != "tool_use" {
				continue
			}

			callID, _ := dp.Data["id"].(string)
			name, _ := dp.Data["name"].(string)
			args, _ := dp.Data["arguments"].(map[string]any)

			decision := f.approvalDecision(ctx, callID, name)
			if decision == "" {
				continue
			}
			if hasFinalToolResult(events, i, callID) {
				continue
			}

			tc := tool.ToolCall{ID: callID, Name: name, Args: args}
			merged := &agent.EventActions{StateDelta: make(map[string]any)}

			var content string
			var isError bool
			var status string
			if decision == "approve" {
				t := f.agent.findTool(ctx, name)
				if t == nil {
					content, isError, status = fmt.Sprintf("Error: tool %q not found", name), true, "failed"
				} else {
					slog.Info("Executing approved tool", "tool", name, "call_id", callID)
					content, isError = f.executeTool(ctx, t, tc, merged, yield)
					status = "success"
					if isError {
						status = "failed"
					}
				}
			} else {
				slog.Info("Tool execution denied", "tool", name, "call_id", callID)
				content, isError, status = deniedResultContent, true, "denied"
			}
			f.clearApprovalDecision(merged, callID, name)

			results, parts := appendToolResult(nil, nil, tc, content, isError, status)
			event := agent.NewEvent(ctx.InvocationID())
			event.Author = f.agent.Name()
			event.Branch = ctx.Branch()
			event.ToolResults = results
			event.Message = a2a.NewMessage(a2a.MessageRoleUser, parts...)
			event.Actions = *merged

			if !yield(event, nil) {
				return true
			}
		}
	}

	return false
}

// hasFinalToolResult reports whether a settled result (success, failed,
// or denied) already exists for the tool call after the given index.
func hasFinalToolResult(events []*agent.Event, fromIndex int, callID string) bool {
	for j := fromIndex + 1; j < len(events); j++ {
		ev := events[j]
		if ev.Message == nil {
			continue
		}
		for _, part := range ev.Message.Parts {
			dp, ok := part.(a2a.DataPart)
			if !ok || dp.Data["type"] != "tool_result" {
				continue
			}
			if dp.Data["tool_call_id"] != callID {
				continue
			}
			if status, ok := dp.Data["status"].(string); ok {
				if status == "success" || status == "failed" || status == "denied" {
					return true
				}
			}
		}
	}
	return false
}

// approvalDecision reads a decision from session state, by call ID
// first, then by tool name. Returns "approve", "deny", or "".
func (f *flow) approvalDecision(ctx agent.InvocationContext, callID, name string) string {
	sess := ctx.Session()
	if sess == nil {
		return ""
	}
	state := sess.State()
	if state == nil {
		return ""
	}

	keys := []string{}
	if callID != "" {
		keys = append(keys, approvalStatePrefix+callID)
	}
	if name != "" {
		keys = append(keys, approvalNameStatePrefix+name)
	}

	for _, key := range keys {
		if v, ok := state.Get(key); ok {
			if decision, ok := v.(string); ok && (decision == "approve" || decision == "deny") {
				return decision
			}
		}
	}
	return ""
}

// clearApprovalDecision schedules removal of the decision keys through
// the event's state delta, so clearing persists with the event.
func (f *flow) clearApprovalDecision(actions *agent.EventActions, callID, name string) {
	if actions.StateDelta == nil {
		actions.StateDelta = make(map[string]any)
	}
	if callID != "" {
		actions.StateDelta[approvalStatePrefix+callID] = nil
	}
	if name != "" {
		actions.StateDelta[approvalNameStatePrefix+name] = nil
	}
}

// runTransfer hands the conversation to a sub-agent and forwards its
// events.
func (f *flow) runTransfer(ctx agent.InvocationContext, name string, yield func(*agent.Event, error) bool) {
	sub := f.agent.findSubAgent(name)
	if sub == nil {
		yield(nil, fmt.Errorf("transfer target agent not found: %s", name))
		return
	}

	subCtx := agent.WithBranchAndAgent(ctx, ctx.Branch(), sub)
	for ev, err := range sub.Run(subCtx) {
		if !yield(ev, err) || err != nil {
			return
		}
	}
}

func transferTarget(toolName string) (string, bool) {
	if !strings.HasPrefix(toolName, transferToolPrefix) {
		return "", false
	}
	return strings.TrimPrefix(toolName, transferToolPrefix), true
}

func appendToolResult(
	results []agent.ToolResultState,
	parts []a2a.Part,
	tc tool.ToolCall,
	content string,
	isError bool,
	status string,
) ([]agent.ToolResultState, []a2a.Part) {
	results = append(results, agent.ToolResultState{
		ID:      tc.ID,
		Name:    tc.Name,
		Content: content,
		IsError: isError,
	})
	parts = append(parts, a2a.DataPart{
		Data: map[string]any{
			"type":         "tool_result",
			"tool_call_id": tc.ID,
			"tool_name":    tc.Name,
			"content":      content,
			"is_error":     isError,
			"status":       status,
		},
	})
	return results, parts
}

// formatToolResult flattens a tool result map for the model. A lone
// "content" entry is unwrapped; anything else renders as-is.
func formatToolResult(result map[string]any) string {
	if result == nil {
		return ""
	}
	if content, ok := result["content"]; ok && len(result) == 1 {
		if s, ok := content.(string); ok {
			trimmed := strings.TrimSpace(s)
			if trimmed == "" {
				return "(no output)"
			}
			return trimmed
		}
		return fmt.Sprintf("%v", content)
	}
	return fmt.Sprintf("%v", result)
}

// mergeEventActions merges actions raised by a tool into the pending
// event's actions.
func mergeEventActions(base, other *agent.EventActions) {
	if other == nil {
		return
	}
	if other.SkipSummarization {
		base.SkipSummarization = true
	}
	if other.TransferToAgent != "" {
		base.TransferToAgent = other.TransferToAgent
	}
	if other.Escalate {
		base.Escalate = true
	}
	if other.RequireInput {
		base.RequireInput = true
		if other.InputPrompt != "" {
			base.InputPrompt = other.InputPrompt
		}
	}
	for k, v := range other.StateDelta {
		base.StateDelta[k] = v
	}
	for k, v := range other.ArtifactDelta {
		if base.ArtifactDelta == nil {
			base.ArtifactDelta = make(map[string]int64)
		}
		base.ArtifactDelta[k] = v
	}
}

// populateToolCallIDs assigns client-side IDs to tool calls the model
// returned without one, so calls can be paired with results later.
func populateToolCallIDs(resp *model.Response) {
	if resp == nil {
		return
	}
	for i := range resp.ToolCalls {
		if resp.ToolCalls[i].ID == "" {
			resp.ToolCalls[i].ID = clientCallIDPrefix + uuid.NewString()
		}
	}
}
