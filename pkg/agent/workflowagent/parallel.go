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
	"fmt"
	"iter"

	"golang.org/x/sync/errgroup"

	"github.com/praxisagents/praxis/pkg/agent"
)

// ParallelConfig configures a parallel agent.
type ParallelConfig struct {
	Name        string
	Description string

	// SubAgents all receive the same input and run concurrently, each on
	// its own branch so their histories stay isolated.
	SubAgents []agent.Agent
}

// NewParallel creates an agent that runs its sub-agents concurrently
// and yields their events as they arrive.
func NewParallel(cfg ParallelConfig) (agent.Agent, error) {
	return agent.New(agent.Config{
		Name:        cfg.Name,
		Description: cfg.Description,
		SubAgents:   cfg.SubAgents,
		Run: func(ctx agent.InvocationContext) iter.Seq2[*agent.Event, error] {
			return runParallel(ctx)
		},
	})
}

type parallelResult struct {
	event *agent.Event
	err   error
}

func runParallel(ctx agent.InvocationContext) iter.Seq2[*agent.Event, error] {
	return func(yield func(*agent.Event, error) bool) {
		group, groupCtx := errgroup.WithContext(ctx)
		done := make(chan struct{})
		results := make(chan parallelResult)

		parent := ctx.Agent()
		for _, sub := range parent.SubAgents() {
			branch := childBranch(ctx.Branch(), parent.Name(), sub.Name())

			group.Go(func() error {
				subCtx := agent.NewInvocationContext(groupCtx, agent.InvocationContextParams{
					Session:      ctx.Session(),
					Agent:        sub,
					Artifacts:    ctx.Artifacts(),
					Branch:       branch,
					InvocationID: ctx.InvocationID(),
					UserContent:  ctx.UserContent(),
					RunConfig:    ctx.RunConfig(),
				})
				if err := forwardSubAgent(subCtx, sub, results, done); err != nil {
					return fmt.Errorf("sub-agent %q: %w", sub.Name(), err)
				}
				return nil
			})
		}

		go func() {
			_ = group.Wait()
			close(results)
		}()

		defer close(done)
		for res := range results {
			if !yield(res.event, res.err) {
				return
			}
			if res.err != nil {
				return
			}
		}
	}
}

func forwardSubAgent(ctx agent.InvocationContext, sub agent.Agent, results chan<- parallelResult, done <-chan struct{}) error {
	for event, err := range sub.Run(ctx) {
		select {
		case <-done:
			return nil
		case <-ctx.Done():
			select {
			case <-done:
			case results <- parallelResult{err: ctx.Err()}:
			}
			return ctx.Err()
		case results <- parallelResult{event: event, err: err}:
			if err != nil {
				return err
			}
		}
	}
	return nil
}
