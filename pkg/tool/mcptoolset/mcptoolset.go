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

// Package mcptoolset exposes tools from an MCP (Model Context Protocol)
// server as a tool.Toolset.
//
// The connection is lazy: nothing is dialed until Tools() is first called.
// Supported transports: stdio (subprocess), sse, and streamable-http.
package mcptoolset

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/praxisagents/praxis/pkg/agent"
	"github.com/praxisagents/praxis/pkg/tool"
)

const protocolVersion = "2024-11-05"

// Config configures an MCP toolset.
type Config struct {
	// Name identifies this toolset.
	Name string

	// URL is the MCP server URL for HTTP transports.
	URL string

	// Transport is one of "stdio", "sse", "streamable-http".
	// Defaults to stdio when Command is set, streamable-http otherwise.
	Transport string

	// Command and Args spawn a stdio MCP server.
	Command string
	Args    []string
	Env     map[string]string

	// Filter limits which tool names are exposed. Empty exposes all.
	Filter []string

	// RequireApproval marks every exposed tool as approval-gated.
	RequireApproval bool
}

// Toolset is an MCP-backed toolset with lazy connection.
type Toolset struct {
	cfg Config

	mu        sync.Mutex
	client    *client.Client
	tools     []tool.Tool
	connected bool
	filter    tool.StringPredicate
}

// New creates an MCP toolset.
func New(cfg Config) (*Toolset, error) {
	if cfg.URL == "" && cfg.Command == "" {
		return nil, fmt.Errorf("either url or command is required")
	}
	filter := tool.AllowAll
	if len(cfg.Filter) > 0 {
		filter = tool.Allow(cfg.Filter...)
	}
	return &Toolset{cfg: cfg, filter: filter}, nil
}

// Name returns the toolset name.
func (t *Toolset) Name() string { return t.cfg.Name }

// Tools returns the server's tools, connecting on first use.
func (t *Toolset) Tools(ctx agent.ReadonlyContext) ([]tool.Tool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.connected {
		var base context.Context = context.Background()
		if ctx != nil {
			base = ctx
		}
		if err := t.connect(base); err != nil {
			return nil, fmt.Errorf("mcp connect: %w", err)
		}
	}
	return t.tools, nil
}

// Close shuts down the MCP connection.
func (t *Toolset) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.client != nil {
		err := t.client.Close()
		t.client = nil
		t.connected = false
		t.tools = nil
		return err
	}
	return nil
}

func (t *Toolset) connect(ctx context.Context) error {
	mcpClient, err := t.newClient()
	if err != nil {
		return err
	}

	if err := mcpClient.Start(ctx); err != nil {
		return fmt.Errorf("start client: %w", err)
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ClientInfo = mcp.Implementation{
		Name:    "praxis",
		Version: "0.1.0",
	}
	initReq.Params.ProtocolVersion = protocolVersion

	if _, err := mcpClient.Initialize(ctx, initReq); err != nil {
		_ = mcpClient.Close()
		return fmt.Errorf("initialize: %w", err)
	}

	listResp, err := mcpClient.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		_ = mcpClient.Close()
		return fmt.Errorf("list tools: %w", err)
	}

	var tools []tool.Tool
	for _, remote := range listResp.Tools {
		if !t.filter(remote.Name) {
			continue
		}
		tools = append(tools, &mcpTool{
			toolset:         t,
			name:            remote.Name,
			desc:            remote.Description,
			schema:          schemaToMap(remote.InputSchema),
			requireApproval: t.cfg.RequireApproval,
		})
	}

	t.client = mcpClient
	t.tools = tools
	t.connected = true

	slog.Info("Connected to MCP server",
		"name", t.cfg.Name,
		"transport", t.transport(),
		"tools", len(tools),
	)
	return nil
}

func (t *Toolset) transport() string {
	if t.cfg.Transport != "" {
		return t.cfg.Transport
	}
	if t.cfg.Command != "" {
		return "stdio"
	}
	return "streamable-http"
}

func (t *Toolset) newClient() (*client.Client, error) {
	switch t.transport() {
	case "stdio":
		env := make([]string, 0, len(t.cfg.Env))
		for k, v := range t.cfg.Env {
			env = append(env, k+"="+v)
		}
		return client.NewStdioMCPClient(t.cfg.Command, env, t.cfg.Args...)
	case "sse":
		return client.NewSSEMCPClient(t.cfg.URL)
	case "streamable-http":
		return client.NewStreamableHttpClient(t.cfg.URL)
	default:
		return nil, fmt.Errorf("unsupported transport %q", t.cfg.Transport)
	}
}

// mcpTool adapts an MCP tool to tool.CallableTool.
type mcpTool struct {
	toolset         *Toolset
	name            string
	desc            string
	schema          map[string]any
	requireApproval bool
}

func (w *mcpTool) Name() string           { return w.name }
func (w *mcpTool) Description() string    { return w.desc }
func (w *mcpTool) IsLongRunning() bool    { return false }
func (w *mcpTool) RequiresApproval() bool { return w.requireApproval }
func (w *mcpTool) Schema() map[string]any { return w.schema }

func (w *mcpTool) Call(ctx tool.Context, args map[string]any) (map[string]any, error) {
	w.toolset.mu.Lock()
	mcpClient := w.toolset.client
	w.toolset.mu.Unlock()

	if mcpClient == nil {
		return nil, fmt.Errorf("mcp client not connected")
	}

	req := mcp.CallToolRequest{}
	req.Params.Name = w.name
	req.Params.Arguments = args

	var callCtx context.Context = context.Background()
	if ctx != nil {
		callCtx = ctx
	}

	resp, err := mcpClient.CallTool(callCtx, req)
	if err != nil {
		return nil, fmt.Errorf("mcp call %q: %w", w.name, err)
	}
	return parseToolResult(resp), nil
}

func parseToolResult(resp *mcp.CallToolResult) map[string]any {
	result := make(map[string]any)

	var texts []string
	for _, content := range resp.Content {
		if tc, ok := content.(mcp.TextContent); ok {
			texts = append(texts, tc.Text)
		}
	}

	if resp.IsError {
		if len(texts) > 0 {
			result["error"] = texts[0]
		} else {
			result["error"] = "unknown error"
		}
		return result
	}

	switch len(texts) {
	case 0:
	case 1:
		result["result"] = texts[0]
	default:
		result["results"] = texts
	}
	return result
}

func schemaToMap(schema mcp.ToolInputSchema) map[string]any {
	data, err := json.Marshal(schema)
	if err != nil {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil
	}
	return out
}

var (
	_ tool.Toolset      = (*Toolset)(nil)
	_ tool.CallableTool = (*mcpTool)(nil)
)
