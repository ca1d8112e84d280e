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

// Package llmagent provides the LLM-backed agent implementation.
//
// An LLM agent turns session history into model requests, streams the
// model's output as events, executes requested tools, and loops until
// the model produces a final text response. Tools that require human
// approval pause the run until a decision arrives in session state.
//
// # Usage
//
//	assistant, err := llmagent.New(llmagent.Config{
//	    Name:        "assistant",
//	    Model:       geminiModel,
//	    Instruction: "You are a helpful assistant.",
//	    Tools:       []tool.Tool{clock, calculator},
//	})
package llmagent

import (
	"fmt"
	"iter"
	"log/slog"

	"github.com/praxisagents/praxis/pkg/agent"
	"github.com/praxisagents/praxis/pkg/model"
	"github.com/praxisagents/praxis/pkg/tool"
)

// InstructionProvider generates the instruction per invocation.
// Takes precedence over the static Instruction when set.
type InstructionProvider func(ctx agent.ReadonlyContext) (string, error)

// BeforeModelCallback runs before each model call.
// Returning a non-nil Response skips the actual call.
type BeforeModelCallback func(ctx agent.CallbackContext, req *model.Request) (*model.Response, error)

// AfterModelCallback runs after each model call.
// Returning a non-nil Response replaces the model's response.
type AfterModelCallback func(ctx agent.CallbackContext, resp *model.Response, err error) (*model.Response, error)

// BeforeToolCallback runs before each tool execution.
// Returning a non-nil result skips the actual execution.
type BeforeToolCallback func(ctx tool.Context, t tool.Tool, args map[string]any) (map[string]any, error)

// AfterToolCallback runs after each tool execution.
// Returning a non-nil result replaces the tool result.
type AfterToolCallback func(ctx tool.Context, t tool.Tool, args, result map[string]any, err error) (map[string]any, error)

// IncludeContents controls how much conversation history the model sees.
type IncludeContents string

const (
	// IncludeContentsDefault includes the full session history.
	IncludeContentsDefault IncludeContents = "default"

	// IncludeContentsNone includes only the current turn.
	IncludeContentsNone IncludeContents = "none"
)

// defaultMaxIterations bounds the reason/act loop per invocation.
const defaultMaxIterations = 10

// Config configures an LLM agent.
type Config struct {
	// Name must be unique within the agent tree.
	Name string

	// Description helps parent agents decide when to transfer here.
	Description string

	// Model is the LLM used for generation. Required.
	Model model.LLM

	// Instruction guides the agent. Placeholders like {key} are resolved
	// from session state; {key?} resolves to empty when absent.
	Instruction string

	// InstructionProvider generates the instruction dynamically.
	InstructionProvider InstructionProvider

	// GlobalInstruction is prepended to the instruction. Intended for
	// tree-wide behavior set on the root agent.
	GlobalInstruction string

	// GenerateConfig holds generation parameters for every model call.
	GenerateConfig *model.GenerateConfig

	// Tools are statically registered tools.
	Tools []tool.Tool

	// Toolsets resolve tools per invocation (e.g. MCP servers).
	Toolsets []tool.Toolset

	// SubAgents can receive the conversation via transfer tools.
	SubAgents []agent.Agent

	BeforeAgentCallbacks []agent.BeforeAgentCallback
	AfterAgentCallbacks  []agent.AfterAgentCallback
	BeforeModelCallbacks []BeforeModelCallback
	AfterModelCallbacks  []AfterModelCallback
	BeforeToolCallbacks  []BeforeToolCallback
	AfterToolCallbacks   []AfterToolCallback

	// OutputKey saves the final text output into session state.
	OutputKey string

	// InputSchema validates input when the agent is wrapped as a tool.
	InputSchema map[string]any

	// OutputSchema constrains the model to structured JSON output.
	OutputSchema map[string]any

	// IncludeContents controls history inclusion. Defaults to full history.
	IncludeContents IncludeContents

	// MaxIterations bounds the reason/act loop. Defaults to 10.
	MaxIterations int
}

// llmAgent implements agent.Agent backed by a model.LLM.
type llmAgent struct {
	agent.Agent

	model               model.LLM
	instruction         string
	instructionProvider InstructionProvider
	globalInstruction   string
	generateConfig      *model.GenerateConfig
	tools               []tool.Tool
	toolsets            []tool.Toolset

	beforeModelCallbacks []BeforeModelCallback
	afterModelCallbacks  []AfterModelCallback
	beforeToolCallbacks  []BeforeToolCallback
	afterToolCallbacks   []AfterToolCallback

	outputKey       string
	inputSchema     map[string]any
	outputSchema    map[string]any
	includeContents IncludeContents
	maxIterations   int
}

// New creates an LLM agent from cfg.
func New(cfg Config) (agent.Agent, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("agent name is required")
	}
	if cfg.Model == nil {
		return nil, fmt.Errorf("agent %q: model is required", cfg.Name)
	}

	maxIterations := cfg.MaxIterations
	if maxIterations <= 0 {
		maxIterations = defaultMaxIterations
	}

	a := &llmAgent{
		model:                cfg.Model,
		instruction:          cfg.Instruction,
		instructionProvider:  cfg.InstructionProvider,
		globalInstruction:    cfg.GlobalInstruction,
		generateConfig:       cfg.GenerateConfig,
		tools:                cfg.Tools,
		toolsets:             cfg.Toolsets,
		beforeModelCallbacks: cfg.BeforeModelCallbacks,
		afterModelCallbacks:  cfg.AfterModelCallbacks,
		beforeToolCallbacks:  cfg.BeforeToolCallbacks,
		afterToolCallbacks:   cfg.AfterToolCallbacks,
		outputKey:            cfg.OutputKey,
		inputSchema:          cfg.InputSchema,
		outputSchema:         cfg.OutputSchema,
		includeContents:      cfg.IncludeContents,
		maxIterations:        maxIterations,
	}

	base, err := agent.New(agent.Config{
		Name:                 cfg.Name,
		Description:          cfg.Description,
		SubAgents:            cfg.SubAgents,
		BeforeAgentCallbacks: cfg.BeforeAgentCallbacks,
		AfterAgentCallbacks:  cfg.AfterAgentCallbacks,
		Run:                  a.run,
	})
	if err != nil {
		return nil, err
	}

	a.Agent = base
	return a, nil
}

func (a *llmAgent) run(ctx agent.InvocationContext) iter.Seq2[*agent.Event, error] {
	return newFlow(a).Run(ctx)
}

// Model returns the underlying LLM.
func (a *llmAgent) Model() model.LLM { return a.model }

// InputSchema returns the input schema for agent-as-tool use.
func (a *llmAgent) InputSchema() map[string]any { return a.inputSchema }

// OutputSchema returns the structured output schema, if any.
func (a *llmAgent) OutputSchema() map[string]any { return a.outputSchema }

// OutputKey returns the state key the final output is saved under.
func (a *llmAgent) OutputKey() string { return a.outputKey }

// collectToolDefinitions gathers wire definitions for every tool the
// model may call: static tools, toolset tools, and transfer tools for
// sub-agents.
func (a *llmAgent) collectToolDefinitions(ctx agent.InvocationContext) []tool.Definition {
	var defs []tool.Definition

	for _, t := range a.tools {
		defs = append(defs, tool.ToDefinition(t))
	}

	for _, ts := range a.toolsets {
		tools, err := ts.Tools(ctx)
		if err != nil {
			slog.Warn("Toolset failed to provide tools",
				"toolset", ts.Name(),
				"agent", a.Name(),
				"error", err)
			continue
		}
		for _, t := range tools {
			defs = append(defs, tool.ToDefinition(t))
		}
	}

	for _, sub := range a.SubAgents() {
		defs = append(defs, transferToolDefinition(sub))
	}

	return defs
}

func (a *llmAgent) findTool(ctx agent.InvocationContext, name string) tool.Tool {
	for _, t := range a.tools {
		if t.Name() == name {
			return t
		}
	}

	for _, ts := range a.toolsets {
		tools, err := ts.Tools(ctx)
		if err != nil {
			slog.Debug("Toolset error during tool lookup",
				"toolset", ts.Name(),
				"tool", name,
				"error", err)
			continue
		}
		for _, t := range tools {
			if t.Name() == name {
				return t
			}
		}
	}

	return nil
}

func (a *llmAgent) findSubAgent(name string) agent.Agent {
	for _, sub := range a.SubAgents() {
		if sub.Name() == name {
			return sub
		}
	}
	return nil
}
