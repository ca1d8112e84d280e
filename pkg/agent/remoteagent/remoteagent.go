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

// Package remoteagent runs agents that live in another process, reached
// over the A2A protocol. A remote agent behaves like any local agent:
// it can be a sub-agent for transfer, a workflow step, or wrapped as a
// tool with agenttool.New.
//
//	remote, _ := remoteagent.NewA2A(remoteagent.Config{
//	    Name:        "billing",
//	    Description: "Handles invoices and refunds",
//	    URL:         "http://localhost:9000",
//	})
package remoteagent

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/a2aproject/a2a-go/a2a"
	"github.com/a2aproject/a2a-go/a2aclient"
	"github.com/a2aproject/a2a-go/a2aclient/agentcard"

	"github.com/praxisagents/praxis/pkg/agent"
)

const agentCardPath = "/.well-known/agent-card.json"

// Metadata keys set on events converted from A2A stream events.
const (
	metaKeyTaskID    = "a2a_task_id"
	metaKeyContextID = "a2a_context_id"
	metaKeyEscalate  = "escalate"
	metaKeyTransfer  = "transfer_to_agent"
)

// Config configures a remote A2A agent.
type Config struct {
	// Name is the local name for this remote agent. Required.
	Name string

	// Description describes what the remote agent does.
	Description string

	// URL is the base URL of the remote A2A server. The agent card is
	// resolved from its well-known path.
	URL string

	// AgentCard provides the card directly, skipping resolution.
	// Takes precedence over URL and AgentCardSource.
	AgentCard *a2a.AgentCard

	// AgentCardSource is an HTTP URL or local file path to load the
	// card from. Used when AgentCard is nil.
	AgentCardSource string

	// Timeout bounds each remote invocation. Default 30s.
	Timeout time.Duration

	// MessageSendConfig is attached to every message sent.
	MessageSendConfig *a2a.MessageSendConfig
}

type a2aAgent struct {
	cfg  Config
	card *a2a.AgentCard
}

// NewA2A creates an agent backed by a remote A2A server. One of URL,
// AgentCard, or AgentCardSource must be set.
func NewA2A(cfg Config) (agent.Agent, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("name is required")
	}
	if cfg.URL == "" && cfg.AgentCard == nil && cfg.AgentCardSource == "" {
		return nil, fmt.Errorf("one of URL, AgentCard, or AgentCardSource is required")
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.URL != "" && cfg.AgentCard == nil && cfg.AgentCardSource == "" {
		cfg.AgentCardSource = strings.TrimSuffix(cfg.URL, "/") + agentCardPath
	}

	remote := &a2aAgent{cfg: cfg, card: cfg.AgentCard}
	return agent.New(agent.Config{
		Name:        cfg.Name,
		Description: cfg.Description,
		Run:         remote.run,
	})
}

func (a *a2aAgent) run(ctx agent.InvocationContext) iter.Seq2[*agent.Event, error] {
	return func(yield func(*agent.Event, error) bool) {
		callCtx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
		defer cancel()

		card, err := a.resolveAgentCard(callCtx)
		if err != nil {
			yield(nil, fmt.Errorf("agent %q: resolve card: %w", a.cfg.Name, err))
			return
		}
		a.card = card

		client, err := a2aclient.NewFromCard(callCtx, card)
		if err != nil {
			yield(nil, fmt.Errorf("agent %q: create client: %w", a.cfg.Name, err))
			return
		}
		defer func() { _ = client.Destroy() }()

		msg := a.buildMessage(ctx)
		if len(msg.Parts) == 0 {
			yield(a.newEvent(ctx), nil)
			return
		}

		req := &a2a.MessageSendParams{
			Message: msg,
			Config:  a.cfg.MessageSendConfig,
		}
		for a2aEvent, err := range client.SendStreamingMessage(callCtx, req) {
			if err != nil {
				yield(nil, fmt.Errorf("agent %q: stream: %w", a.cfg.Name, err))
				return
			}
			event := a.convertEvent(ctx, a2aEvent)
			if event == nil {
				continue
			}
			if !yield(event, nil) {
				return
			}
		}
	}
}

func (a *a2aAgent) resolveAgentCard(ctx context.Context) (*a2a.AgentCard, error) {
	if a.card != nil {
		return a.card, nil
	}

	source := a.cfg.AgentCardSource
	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		card, err := agentcard.DefaultResolver.Resolve(ctx, source)
		if err != nil {
			return nil, fmt.Errorf("fetch agent card from %s: %w", source, err)
		}
		return card, nil
	}

	raw, err := os.ReadFile(source)
	if err != nil {
		return nil, fmt.Errorf("read agent card %q: %w", source, err)
	}
	var card a2a.AgentCard
	if err := json.Unmarshal(raw, &card); err != nil {
		return nil, fmt.Errorf("unmarshal agent card %q: %w", source, err)
	}
	return &card, nil
}

func (a *a2aAgent) buildMessage(ctx agent.InvocationContext) *a2a.Message {
	content := ctx.UserContent()
	if content == nil {
		return a2a.NewMessage(a2a.MessageRoleUser)
	}
	return a2a.NewMessage(a2a.MessageRoleUser, content.Parts...)
}

func (a *a2aAgent) newEvent(ctx agent.InvocationContext) *agent.Event {
	event := agent.NewEvent(ctx.InvocationID())
	event.Author = a.cfg.Name
	event.Branch = ctx.Branch()
	return event
}

// convertEvent maps a single A2A stream event onto a runtime event.
// Unknown event types are skipped.
func (a *a2aAgent) convertEvent(ctx agent.InvocationContext, a2aEvent a2a.Event) *agent.Event {
	switch e := a2aEvent.(type) {
	case *a2a.Message:
		return a.messageEvent(ctx, e)
	case *a2a.Task:
		return a.taskEvent(ctx, e)
	case *a2a.TaskStatusUpdateEvent:
		return a.statusEvent(ctx, e)
	case *a2a.TaskArtifactUpdateEvent:
		if e.Artifact == nil || len(e.Artifact.Parts) == 0 {
			return nil
		}
		return a.artifactEvent(ctx, e)
	default:
		slog.Debug("skipping unknown A2A event type", "agent", a.cfg.Name, "type", fmt.Sprintf("%T", e))
		return nil
	}
}

func (a *a2aAgent) messageEvent(ctx agent.InvocationContext, msg *a2a.Message) *agent.Event {
	event := a.newEvent(ctx)
	event.Message = msg
	if msg.TaskID != "" || msg.ContextID != "" {
		event.CustomMetadata = map[string]any{
			metaKeyTaskID:    string(msg.TaskID),
			metaKeyContextID: string(msg.ContextID),
		}
	}
	event.Actions = extractEventActions(msg.Metadata)
	return event
}

func (a *a2aAgent) taskEvent(ctx agent.InvocationContext, task *a2a.Task) *agent.Event {
	event := a.newEvent(ctx)

	var parts []a2a.Part
	for _, artifact := range task.Artifacts {
		parts = append(parts, artifact.Parts...)
	}
	if task.Status.Message != nil {
		parts = append(parts, task.Status.Message.Parts...)
	}
	if len(parts) > 0 {
		event.Message = a2a.NewMessage(a2a.MessageRoleAgent, parts...)
	}

	event.CustomMetadata = map[string]any{
		metaKeyTaskID:    string(task.ID),
		metaKeyContextID: string(task.ContextID),
	}
	event.Partial = !task.Status.State.Terminal() && task.Status.State != a2a.TaskStateInputRequired
	event.TurnComplete = task.Status.State.Terminal()
	return event
}

func (a *a2aAgent) statusEvent(ctx agent.InvocationContext, update *a2a.TaskStatusUpdateEvent) *agent.Event {
	if !update.Final && update.Status.Message == nil {
		return nil
	}

	event := a.newEvent(ctx)
	if update.Status.Message != nil {
		event.Message = update.Status.Message
	}
	event.CustomMetadata = map[string]any{
		metaKeyTaskID:    string(update.TaskID),
		metaKeyContextID: string(update.ContextID),
	}
	if update.Final {
		event.Actions = extractEventActions(update.Metadata)
		event.TurnComplete = true
	} else {
		event.Partial = true
	}
	return event
}

func (a *a2aAgent) artifactEvent(ctx agent.InvocationContext, update *a2a.TaskArtifactUpdateEvent) *agent.Event {
	event := a.newEvent(ctx)
	event.Message = a2a.NewMessage(a2a.MessageRoleAgent, update.Artifact.Parts...)
	event.CustomMetadata = map[string]any{
		metaKeyTaskID:    string(update.TaskID),
		metaKeyContextID: string(update.ContextID),
	}
	event.Partial = !update.LastChunk
	return event
}

// extractEventActions reads cross-agent action hints from A2A message
// or status metadata.
func extractEventActions(meta map[string]any) agent.EventActions {
	var actions agent.EventActions
	if meta == nil {
		return actions
	}
	if v, ok := meta[metaKeyEscalate].(bool); ok {
		actions.Escalate = v
	}
	if v, ok := meta[metaKeyTransfer].(string); ok {
		actions.TransferToAgent = v
	}
	return actions
}
