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

// Package runner orchestrates agent execution within sessions: it creates
// or loads the session, selects the agent to continue the conversation,
// persists non-partial events and cleans up invocation-scoped state.
package runner

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/praxisagents/praxis/pkg/agent"
	"github.com/praxisagents/praxis/pkg/observability"
	"github.com/praxisagents/praxis/pkg/session"
)

// Config configures a Runner.
type Config struct {
	// AppName identifies the application in session storage.
	AppName string

	// Agent is the root of the agent tree.
	Agent agent.Agent

	// SessionService is the event log and state store. The session is the
	// source of truth for conversation history.
	SessionService session.Service

	// ArtifactService stores binary artifacts (optional).
	ArtifactService agent.Artifacts
}

// Runner drives agent invocations against sessions.
type Runner struct {
	appName         string
	rootAgent       agent.Agent
	sessionService  session.Service
	artifactService agent.Artifacts
	parents         ParentMap
}

// New creates a Runner. The agent tree must have unique names.
func New(cfg Config) (*Runner, error) {
	if cfg.Agent == nil {
		return nil, fmt.Errorf("root agent is required")
	}
	if cfg.SessionService == nil {
		return nil, fmt.Errorf("session service is required")
	}

	parents, err := BuildParentMap(cfg.Agent)
	if err != nil {
		return nil, fmt.Errorf("build agent tree: %w", err)
	}

	return &Runner{
		appName:         cfg.AppName,
		rootAgent:       cfg.Agent,
		sessionService:  cfg.SessionService,
		artifactService: cfg.ArtifactService,
		parents:         parents,
	}, nil
}

// Run executes one turn for the given user input, yielding events as the
// agent produces them. Non-partial events are persisted before being
// yielded; temp: state is cleared when the invocation finishes.
func (r *Runner) Run(ctx context.Context, userID, sessionID string, content *agent.Content, cfg agent.RunConfig) iter.Seq2[*agent.Event, error] {
	return func(yield func(*agent.Event, error) bool) {
		sess, err := r.getOrCreateSession(ctx, userID, sessionID)
		if err != nil {
			yield(nil, err)
			return
		}

		agentToRun := r.findAgentToRun(sess)
		invocationID := uuid.NewString()

		startedAt := time.Now()
		ctx, span := observability.GlobalTracer().StartAgentRun(ctx, agentToRun.Name(), invocationID, sessionID)
		var runErr error
		defer func() {
			observability.RecordError(span, runErr)
			span.End()
			observability.GlobalMetrics().RecordAgentRun(ctx, agentToRun.Name(), time.Since(startedAt), runErr)
		}()

		defer session.ClearTempKeys(sess.State())

		invCtx := agent.NewInvocationContext(ctx, agent.InvocationContextParams{
			Agent:        agentToRun,
			Session:      sess,
			Artifacts:    r.artifactService,
			InvocationID: invocationID,
			UserContent:  content,
			RunConfig:    cfg,
		})

		if err := r.appendUserMessage(ctx, sess, content, invocationID); err != nil {
			runErr = err
			yield(nil, err)
			return
		}

		for event, err := range agentToRun.Run(invCtx) {
			if err != nil {
				runErr = err
				if !yield(event, err) {
					return
				}
				continue
			}

			if !event.Partial {
				if err := r.sessionService.AppendEvent(ctx, sess, event); err != nil {
					runErr = err
					yield(nil, fmt.Errorf("persist event: %w", err))
					return
				}
			}

			if !yield(event, nil) {
				return
			}
		}
	}
}

// Rewind undoes the invocation identified by invocationID and everything
// after it: the events are dropped and session state rebuilt from the
// surviving event log. The session service must support rewinding.
func (r *Runner) Rewind(ctx context.Context, userID, sessionID, invocationID string) error {
	rw, ok := r.sessionService.(session.Rewinder)
	if !ok {
		return fmt.Errorf("session service does not support rewind")
	}
	return rw.Rewind(ctx, r.appName, userID, sessionID, invocationID)
}

// FindAgent searches the agent tree by name.
func (r *Runner) FindAgent(name string) agent.Agent {
	return agent.FindAgent(r.rootAgent, name)
}

// RootAgent returns the root of the agent tree.
func (r *Runner) RootAgent() agent.Agent { return r.rootAgent }

// AppName returns the application name.
func (r *Runner) AppName() string { return r.appName }

func (r *Runner) getOrCreateSession(ctx context.Context, userID, sessionID string) (session.Session, error) {
	resp, err := r.sessionService.Get(ctx, &session.GetRequest{
		AppName:   r.appName,
		UserID:    userID,
		SessionID: sessionID,
	})
	if err == nil && resp != nil {
		return resp.Session, nil
	}
	if err != nil && !errors.Is(err, session.ErrSessionNotFound) {
		return nil, fmt.Errorf("get session: %w", err)
	}

	createResp, err := r.sessionService.Create(ctx, &session.CreateRequest{
		AppName:   r.appName,
		UserID:    userID,
		SessionID: sessionID,
		State:     make(map[string]any),
	})
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return createResp.Session, nil
}

func (r *Runner) appendUserMessage(ctx context.Context, sess session.Session, content *agent.Content, invocationID string) error {
	if content == nil {
		return nil
	}

	event := agent.NewEvent(invocationID)
	event.Author = agent.AuthorUser
	event.Message = content.ToMessage()

	return r.sessionService.AppendEvent(ctx, sess, event)
}

// findAgentToRun picks the agent that last spoke in the session, falling
// back to the root agent. This keeps multi-turn conversations with a
// transferred-to sub-agent on that sub-agent.
func (r *Runner) findAgentToRun(sess session.Session) agent.Agent {
	events := sess.Events().All()
	for i := len(events) - 1; i >= 0; i-- {
		event := events[i]
		if event == nil || event.Author == agent.AuthorUser || event.Author == agent.AuthorSystem {
			continue
		}

		sub := agent.FindAgent(r.rootAgent, event.Author)
		if sub == nil {
			slog.Debug("Event from unknown agent", "agent", event.Author, "event_id", event.ID)
			continue
		}
		return sub
	}
	return r.rootAgent
}

// ParentMap maps agent names to their parent agents.
type ParentMap map[string]agent.Agent

// BuildParentMap walks the agent tree, rejecting duplicate names.
func BuildParentMap(root agent.Agent) (ParentMap, error) {
	parents := make(ParentMap)
	if err := buildParentMap(root, nil, parents); err != nil {
		return nil, err
	}
	return parents, nil
}

func buildParentMap(ag, parent agent.Agent, parents ParentMap) error {
	if ag == nil {
		return nil
	}
	if _, exists := parents[ag.Name()]; exists {
		return fmt.Errorf("duplicate agent name in tree: %s", ag.Name())
	}
	parents[ag.Name()] = parent

	for _, sub := range ag.SubAgents() {
		if err := buildParentMap(sub, ag, parents); err != nil {
			return err
		}
	}
	return nil
}
