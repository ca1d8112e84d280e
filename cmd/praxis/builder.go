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

package main

import (
	"fmt"
	"slices"

	"github.com/praxisagents/praxis/pkg/agent"
	"github.com/praxisagents/praxis/pkg/agent/llmagent"
	"github.com/praxisagents/praxis/pkg/config"
	"github.com/praxisagents/praxis/pkg/model"
	"github.com/praxisagents/praxis/pkg/model/gemini"
	"github.com/praxisagents/praxis/pkg/runner"
	"github.com/praxisagents/praxis/pkg/server"
	"github.com/praxisagents/praxis/pkg/session"
	"github.com/praxisagents/praxis/pkg/tool"
	"github.com/praxisagents/praxis/pkg/tool/builtin"
	"github.com/praxisagents/praxis/pkg/tool/mcptoolset"
)

// builder assembles models and agent trees from configuration. Models are
// shared across agents; agents are built once and reused when referenced
// as sub-agents.
type builder struct {
	cfg    *config.Config
	models map[string]model.LLM
	agents map[string]agent.Agent

	// building detects sub-agent reference cycles.
	building map[string]bool
}

func newBuilder(cfg *config.Config) *builder {
	return &builder{
		cfg:      cfg,
		models:   make(map[string]model.LLM),
		agents:   make(map[string]agent.Agent),
		building: make(map[string]bool),
	}
}

// Model returns the LLM for a config reference, creating it on first use.
func (b *builder) Model(ref string) (model.LLM, error) {
	if llm, ok := b.models[ref]; ok {
		return llm, nil
	}
	modelCfg, ok := b.cfg.Models[ref]
	if !ok {
		return nil, fmt.Errorf("unknown model reference %q", ref)
	}

	llm, err := gemini.New(gemini.Config{
		APIKey:      modelCfg.APIKey,
		Model:       modelCfg.Model,
		Temperature: modelCfg.Temperature,
		MaxTokens:   modelCfg.MaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("model %q: %w", ref, err)
	}
	b.models[ref] = llm
	return llm, nil
}

// Agent builds the named agent and its sub-agent tree.
func (b *builder) Agent(name string) (agent.Agent, error) {
	if a, ok := b.agents[name]; ok {
		return a, nil
	}
	if b.building[name] {
		return nil, fmt.Errorf("agent %q: sub-agent cycle", name)
	}

	agentCfg, ok := b.cfg.Agents[name]
	if !ok {
		return nil, fmt.Errorf("unknown agent %q", name)
	}

	b.building[name] = true
	defer delete(b.building, name)

	llm, err := b.Model(agentCfg.Model)
	if err != nil {
		return nil, fmt.Errorf("agent %q: %w", name, err)
	}

	tools, toolsets, err := b.agentTools(agentCfg)
	if err != nil {
		return nil, fmt.Errorf("agent %q: %w", name, err)
	}

	var subAgents []agent.Agent
	for _, sub := range agentCfg.SubAgents {
		subAgent, err := b.Agent(sub)
		if err != nil {
			return nil, err
		}
		subAgents = append(subAgents, subAgent)
	}

	a, err := llmagent.New(llmagent.Config{
		Name:          name,
		Description:   agentCfg.Description,
		Model:         llm,
		Instruction:   agentCfg.Instruction,
		Tools:         tools,
		Toolsets:      toolsets,
		SubAgents:     subAgents,
		OutputKey:     agentCfg.OutputKey,
		MaxIterations: agentCfg.MaxIterations,
	})
	if err != nil {
		return nil, err
	}
	b.agents[name] = a
	return a, nil
}

// agentTools resolves an agent's tool references. Tools named in
// approve_tools are wrapped so they pause for human approval; for MCP
// toolsets the whole set is approval-gated.
func (b *builder) agentTools(agentCfg *config.AgentConfig) ([]tool.Tool, []tool.Toolset, error) {
	var tools []tool.Tool
	var toolsets []tool.Toolset

	for _, ref := range agentCfg.Tools {
		toolCfg, ok := b.cfg.Tools[ref]
		if !ok {
			return nil, nil, fmt.Errorf("unknown tool reference %q", ref)
		}
		gated := slices.Contains(agentCfg.ApproveTools, ref)

		switch toolCfg.Type {
		case "builtin":
			t, err := buildBuiltinTool(ref, toolCfg)
			if err != nil {
				return nil, nil, err
			}
			if gated {
				t = tool.WithApproval(t)
			}
			tools = append(tools, t)

		case "mcp":
			var settings config.MCPSettings
			if err := toolCfg.DecodeSettings(&settings); err != nil {
				return nil, nil, fmt.Errorf("tool %q: %w", ref, err)
			}
			ts, err := mcptoolset.New(mcptoolset.Config{
				Name:            ref,
				URL:             settings.URL,
				Transport:       settings.Transport,
				Command:         settings.Command,
				Args:            settings.Args,
				Env:             settings.Env,
				RequireApproval: gated,
			})
			if err != nil {
				return nil, nil, fmt.Errorf("tool %q: %w", ref, err)
			}
			toolsets = append(toolsets, ts)

		default:
			return nil, nil, fmt.Errorf("tool %q: unknown type %q", ref, toolCfg.Type)
		}
	}
	return tools, toolsets, nil
}

// builtinTools maps builtin tool names to their constructors.
var builtinTools = map[string]func() (tool.CallableTool, error){
	"current_time": builtin.NewClock,
	"calculate":    builtin.NewCalculator,
}

// BuiltinToolNames lists the available builtin tools, for flag parsing and
// zero-config synthesis.
func BuiltinToolNames() []string {
	names := make([]string, 0, len(builtinTools))
	for name := range builtinTools {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func buildBuiltinTool(ref string, toolCfg *config.ToolConfig) (tool.CallableTool, error) {
	// The settings may rename the tool; the config key is the default.
	var settings struct {
		Name string `mapstructure:"name"`
	}
	if err := toolCfg.DecodeSettings(&settings); err != nil {
		return nil, fmt.Errorf("tool %q: %w", ref, err)
	}
	name := settings.Name
	if name == "" {
		name = ref
	}

	factory, ok := builtinTools[name]
	if !ok {
		return nil, fmt.Errorf("tool %q: no builtin tool named %q", ref, name)
	}
	return factory()
}

// Executors builds one A2A executor per configured agent, sharing the
// session and artifact services.
func (b *builder) Executors(sessionSvc session.Service, artifacts agent.Artifacts) (map[string]*server.Executor, error) {
	executors := make(map[string]*server.Executor, len(b.cfg.Agents))
	for name := range b.cfg.Agents {
		root, err := b.Agent(name)
		if err != nil {
			return nil, err
		}
		executors[name] = server.NewExecutor(server.ExecutorConfig{
			RunnerConfig: runner.Config{
				AppName:         b.cfg.Name,
				Agent:           root,
				SessionService:  sessionSvc,
				ArtifactService: artifacts,
			},
			RunConfig: agent.RunConfig{StreamingMode: agent.StreamingModeSSE},
		})
	}
	return executors, nil
}
