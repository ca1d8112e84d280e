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

package workflowagent

import (
	"iter"

	"github.com/praxisagents/praxis/pkg/agent"
)

// LoopConfig configures a loop agent.
type LoopConfig struct {
	Name        string
	Description string

	// SubAgents run in order on every iteration.
	SubAgents []agent.Agent

	// MaxIterations caps the loop. Zero means loop until a sub-agent
	// escalates.
	MaxIterations uint
}

// NewLoop creates an agent that repeatedly runs its sub-agents in
// sequence until a sub-agent escalates or MaxIterations is reached.
func NewLoop(cfg LoopConfig) (agent.Agent, error) {
	maxIterations := cfg.MaxIterations

	return agent.New(agent.Config{
		Name:        cfg.Name,
		Description: cfg.Description,
		SubAgents:   cfg.SubAgents,
		Run: func(ctx agent.InvocationContext) iter.Seq2[*agent.Event, error] {
			return runLoop(ctx, maxIterations)
		},
	})
}

func runLoop(ctx agent.InvocationContext, maxIterations uint) iter.Seq2[*agent.Event, error] {
	remaining := maxIterations

	return func(yield func(*agent.Event, error) bool) {
		for {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}

			for _, sub := range ctx.Agent().SubAgents() {
				subCtx := agent.WithBranchAndAgent(ctx, childBranch(ctx.Branch(), ctx.Agent().Name(), sub.Name()), sub)

				escalated := false
				for event, err := range sub.Run(subCtx) {
					if !yield(event, err) {
						return
					}
					if err != nil {
						return
					}
					if event.Actions.Escalate {
						escalated = true
					}
				}
				if escalated {
					return
				}
			}

			if remaining > 0 {
				remaining--
				if remaining == 0 {
					return
				}
			}
		}
	}
}

// childBranch extends the invocation branch with parent/child segments.
func childBranch(branch, parent, child string) string {
	segment := parent + "/" + child
	if branch == "" {
		return segment
	}
	return branch + "/" + segment
}
