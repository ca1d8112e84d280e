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

// Package workflowagent composes agents into deterministic flows.
//
// # Sequential
//
// Runs sub-agents once, in listed order:
//
//	pipeline, _ := workflowagent.NewSequential(workflowagent.SequentialConfig{
//	    Name:      "pipeline",
//	    SubAgents: []agent.Agent{research, analysis, report},
//	})
//
// # Loop
//
// Repeats the sub-agent sequence until an agent escalates or the
// iteration cap is reached:
//
//	refiner, _ := workflowagent.NewLoop(workflowagent.LoopConfig{
//	    Name:          "refiner",
//	    SubAgents:     []agent.Agent{reviewer, improver},
//	    MaxIterations: 3,
//	})
//
// # Parallel
//
// Runs sub-agents concurrently on isolated branches:
//
//	voters, _ := workflowagent.NewParallel(workflowagent.ParallelConfig{
//	    Name:      "voters",
//	    SubAgents: []agent.Agent{voter1, voter2, voter3},
//	})
package workflowagent
