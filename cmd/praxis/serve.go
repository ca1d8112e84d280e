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
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"strings"
	"syscall"

	"github.com/praxisagents/praxis/pkg/auth"
	"github.com/praxisagents/praxis/pkg/config"
	"github.com/praxisagents/praxis/pkg/observability"
	"github.com/praxisagents/praxis/pkg/server"
	"github.com/praxisagents/praxis/pkg/session"
	"github.com/praxisagents/praxis/pkg/task"
)

// ServeCmd starts the A2A server.
type ServeCmd struct {
	// Zero-config options, used when no config file is given.
	Provider     string  `help:"LLM provider." default:"gemini"`
	Model        string  `help:"Model name." default:"gemini-2.0-flash"`
	APIKey       string  `name:"api-key" help:"API key (defaults to GOOGLE_API_KEY)."`
	Temperature  float64 `help:"Temperature for generation." default:"0.7"`
	MaxTokens    int     `name:"max-tokens" help:"Max tokens for generation." default:"4096"`
	Instruction  string  `help:"System instruction for the agent."`
	Tools        string  `help:"Enable builtin tools: 'all' or a comma-separated list (e.g. 'current_time,calculate')."`
	ApproveTools string  `name:"approve-tools" help:"Require human approval for specific tools (comma-separated)." placeholder:"TOOL1,TOOL2"`
	MCPURL       string  `name:"mcp-url" help:"MCP server URL to expose as tools."`

	// Storage enables task and session persistence.
	Storage    string `help:"Storage driver: sqlite, postgres, mysql (default: in-memory)." placeholder:"DRIVER"`
	StorageDSN string `name:"storage-dsn" help:"Storage DSN (default: praxis.db for sqlite)." placeholder:"DSN"`

	// Observe enables tracing and metrics.
	Observe bool `help:"Enable observability (OTLP tracing to localhost:4317 + Prometheus metrics)."`

	Port int `help:"Port to listen on." default:"8080"`
}

func (c *ServeCmd) Run(cli *CLI) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := c.loadConfig(cli.Config)
	if err != nil {
		return err
	}
	if c.Port != 0 && c.Port != 8080 {
		cfg.Server.Port = c.Port
	}

	// One pool per DSN: sessions, tasks and approvals share connections,
	// which is what keeps SQLite from locking up.
	dbPool := config.NewDBPool()
	defer dbPool.Close()

	sessionSvc, taskStore, err := buildStorage(cfg, dbPool)
	if err != nil {
		return err
	}

	executors, err := newBuilder(cfg).Executors(sessionSvc, session.InMemoryArtifacts())
	if err != nil {
		return fmt.Errorf("build agents: %w", err)
	}

	var serverOpts []server.HTTPServerOption
	if taskStore != nil {
		serverOpts = append(serverOpts, server.WithTaskStore(taskStore))
		slog.Info("Task persistence enabled", "driver", cfg.Storage.Driver)
	}

	validator, err := auth.NewValidator(&cfg.Auth)
	if err != nil {
		return fmt.Errorf("configure auth: %w", err)
	}
	if validator != nil {
		serverOpts = append(serverOpts, server.WithAuthValidator(validator))
	}

	obs := observability.NewManager(cfg.Observability, cfg.Name, cfg.Version)
	if err := obs.Initialize(ctx); err != nil {
		return fmt.Errorf("initialize observability: %w", err)
	}
	defer func() {
		if err := obs.Shutdown(context.Background()); err != nil {
			slog.Warn("Observability shutdown failed", "error", err)
		}
	}()
	if cfg.Observability.Enabled {
		serverOpts = append(serverOpts, server.WithObservability(obs))
	}

	srv := server.NewHTTPServer(cfg, executors, serverOpts...)

	fmt.Printf("\npraxis server ready\n")
	fmt.Printf("   Discovery:  http://%s/agents\n", srv.Address())
	fmt.Printf("   Health:     http://%s/health\n", srv.Address())
	if obs.MetricsEnabled() {
		fmt.Printf("   Metrics:    http://%s%s\n", srv.Address(), obs.MetricsEndpoint())
	}
	fmt.Println("\n   Agents (A2A JSON-RPC endpoints):")
	for name := range cfg.Agents {
		fmt.Printf("     - http://%s/agents/%s\n", srv.Address(), name)
	}
	fmt.Println("\nPress Ctrl+C to stop")

	return srv.Start(ctx)
}

// loadConfig loads the config file, or synthesizes one from flags.
func (c *ServeCmd) loadConfig(configPath string) (*config.Config, error) {
	if configPath != "" {
		_ = config.LoadDotEnvForConfig(configPath)
		cfg, err := config.Load(configPath)
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		slog.Info("Loaded configuration", "path", configPath)
		return cfg, nil
	}
	return c.zeroConfig()
}

// zeroConfig builds a single-agent configuration from serve flags.
func (c *ServeCmd) zeroConfig() (*config.Config, error) {
	cfg := &config.Config{
		Name: "praxis",
		Models: map[string]*config.ModelConfig{
			"default": {
				Provider:    c.Provider,
				Model:       c.Model,
				APIKey:      c.APIKey,
				Temperature: c.Temperature,
				MaxTokens:   c.MaxTokens,
			},
		},
		Agents: map[string]*config.AgentConfig{
			"assistant": {
				Description:  "General-purpose assistant",
				Model:        "default",
				Instruction:  c.Instruction,
				ApproveTools: splitList(c.ApproveTools),
			},
		},
		Tools: map[string]*config.ToolConfig{},
	}
	cfg.Server.Port = c.Port

	toolNames, err := resolveToolFlag(c.Tools)
	if err != nil {
		return nil, err
	}
	for _, name := range toolNames {
		cfg.Tools[name] = &config.ToolConfig{Type: "builtin"}
		cfg.Agents["assistant"].Tools = append(cfg.Agents["assistant"].Tools, name)
	}

	if c.MCPURL != "" {
		cfg.Tools["mcp"] = &config.ToolConfig{
			Type:     "mcp",
			Settings: map[string]any{"url": c.MCPURL},
		}
		cfg.Agents["assistant"].Tools = append(cfg.Agents["assistant"].Tools, "mcp")
	}

	if c.Storage != "" {
		dsn := c.StorageDSN
		if dsn == "" && c.Storage == "sqlite" {
			dsn = "praxis.db"
		}
		cfg.Storage = config.StorageConfig{Driver: c.Storage, DSN: dsn}
	}

	if c.Observe {
		cfg.Observability = config.ObservabilityConfig{
			Enabled:  true,
			Exporter: "otlp",
			Endpoint: "localhost:4317",
			Metrics:  true,
		}
	}

	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("zero-config: %w", err)
	}
	slog.Info("Using zero-config mode", "model", c.Model, "tools", toolNames)
	return cfg, nil
}

// buildStorage creates the session service and task store. Without a
// storage driver both are in-memory (the task store falls back to the
// protocol handler's own memory store).
func buildStorage(cfg *config.Config, dbPool *config.DBPool) (session.Service, *task.SQLTaskStore, error) {
	if cfg.Storage.Driver == "" {
		return session.InMemoryService(), nil, nil
	}

	db, err := dbPool.Get(&cfg.Storage)
	if err != nil {
		return nil, nil, fmt.Errorf("open storage: %w", err)
	}
	sessionSvc, err := session.NewSQLService(db, cfg.Storage.Dialect())
	if err != nil {
		return nil, nil, fmt.Errorf("create session service: %w", err)
	}
	taskStore, err := task.NewSQLTaskStore(db, cfg.Storage.Dialect())
	if err != nil {
		return nil, nil, fmt.Errorf("create task store: %w", err)
	}
	return sessionSvc, taskStore, nil
}

func resolveToolFlag(flag string) ([]string, error) {
	switch strings.TrimSpace(flag) {
	case "":
		return nil, nil
	case "all":
		return BuiltinToolNames(), nil
	}

	names := splitList(flag)
	for _, name := range names {
		if _, ok := builtinTools[name]; !ok {
			return nil, fmt.Errorf("unknown builtin tool %q (available: %s)",
				name, strings.Join(BuiltinToolNames(), ", "))
		}
	}
	return names, nil
}

func splitList(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
