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

// Package config loads and validates the YAML configuration tree.
//
// Every string value supports environment expansion: ${VAR}, ${VAR:-default}
// and $VAR forms. Defaults are applied after expansion, validation after
// defaults.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration document.
type Config struct {
	Name        string `yaml:"name,omitempty"`
	Version     string `yaml:"version,omitempty"`
	Description string `yaml:"description,omitempty"`

	Server        ServerConfig        `yaml:"server,omitempty"`
	Logging       LoggingConfig       `yaml:"logging,omitempty"`
	Storage       StorageConfig       `yaml:"storage,omitempty"`
	Observability ObservabilityConfig `yaml:"observability,omitempty"`
	Auth          AuthConfig          `yaml:"auth,omitempty"`
	Approval      ApprovalConfig      `yaml:"approval,omitempty"`

	Models map[string]*ModelConfig `yaml:"models,omitempty"`
	Agents map[string]*AgentConfig `yaml:"agents,omitempty"`
	Tools  map[string]*ToolConfig  `yaml:"tools,omitempty"`
}

// ServerConfig configures the A2A HTTP server.
type ServerConfig struct {
	Host    string `yaml:"host,omitempty"`
	Port    int    `yaml:"port,omitempty"`
	BaseURL string `yaml:"base_url,omitempty"`
}

func (c *ServerConfig) SetDefaults() {
	if c.Host == "" {
		c.Host = "0.0.0.0"
	}
	if c.Port == 0 {
		c.Port = 8080
	}
	if c.BaseURL == "" {
		c.BaseURL = fmt.Sprintf("http://localhost:%d", c.Port)
	}
}

func (c *ServerConfig) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("server: port %d out of range", c.Port)
	}
	return nil
}

// LoggingConfig configures slog.
type LoggingConfig struct {
	Level  string `yaml:"level,omitempty"`
	Format string `yaml:"format,omitempty"`
	File   string `yaml:"file,omitempty"`
}

func (c *LoggingConfig) SetDefaults() {
	if c.Level == "" {
		c.Level = "info"
	}
	if c.Format == "" {
		c.Format = "simple"
	}
}

// StorageConfig selects the backing database for sessions and tasks.
type StorageConfig struct {
	// Driver is one of sqlite, postgres, mysql. Empty means in-memory.
	Driver string `yaml:"driver,omitempty"`
	DSN    string `yaml:"dsn,omitempty"`
}

func (c *StorageConfig) Validate() error {
	switch c.Driver {
	case "", "sqlite", "postgres", "mysql":
		return nil
	default:
		return fmt.Errorf("storage: unknown driver %q", c.Driver)
	}
}

// ObservabilityConfig configures tracing and metrics.
type ObservabilityConfig struct {
	Enabled    bool    `yaml:"enabled,omitempty"`
	Exporter   string  `yaml:"exporter,omitempty"` // otlp or stdout
	Endpoint   string  `yaml:"endpoint,omitempty"`
	SampleRate float64 `yaml:"sample_rate,omitempty"`
	Metrics    bool    `yaml:"metrics,omitempty"`
}

func (c *ObservabilityConfig) SetDefaults() {
	if c.Exporter == "" {
		c.Exporter = "stdout"
	}
	if c.SampleRate == 0 {
		c.SampleRate = 1.0
	}
}

func (c *ObservabilityConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	switch c.Exporter {
	case "otlp", "stdout":
	default:
		return fmt.Errorf("observability: unknown exporter %q", c.Exporter)
	}
	if c.Exporter == "otlp" && c.Endpoint == "" {
		return fmt.Errorf("observability: otlp exporter requires endpoint")
	}
	if c.SampleRate < 0 || c.SampleRate > 1 {
		return fmt.Errorf("observability: sample_rate must be in [0, 1]")
	}
	return nil
}

// AuthConfig configures JWT bearer validation.
type AuthConfig struct {
	Enabled      bool     `yaml:"enabled,omitempty"`
	JWKSURL      string   `yaml:"jwks_url,omitempty"`
	Secret       string   `yaml:"secret,omitempty"`
	Issuer       string   `yaml:"issuer,omitempty"`
	Audience     string   `yaml:"audience,omitempty"`
	ExcludePaths []string `yaml:"exclude_paths,omitempty"`
}

func (c *AuthConfig) SetDefaults() {
	if len(c.ExcludePaths) == 0 {
		c.ExcludePaths = []string{"/health", "/.well-known/agent-card.json"}
	}
}

func (c *AuthConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.JWKSURL == "" && c.Secret == "" {
		return fmt.Errorf("auth: either jwks_url or secret is required")
	}
	if c.JWKSURL != "" && c.Secret != "" {
		return fmt.Errorf("auth: jwks_url and secret are mutually exclusive")
	}
	return nil
}

// ApprovalConfig configures the human-in-the-loop workflow.
type ApprovalConfig struct {
	Timeout       time.Duration `yaml:"timeout,omitempty"`
	SweepInterval time.Duration `yaml:"sweep_interval,omitempty"`
}

func (c *ApprovalConfig) SetDefaults() {
	if c.Timeout == 0 {
		c.Timeout = 10 * time.Minute
	}
	if c.SweepInterval == 0 {
		c.SweepInterval = time.Minute
	}
}

// ModelConfig configures an LLM provider instance.
type ModelConfig struct {
	Provider    string  `yaml:"provider,omitempty"`
	Model       string  `yaml:"model,omitempty"`
	APIKey      string  `yaml:"api_key,omitempty"`
	Temperature float64 `yaml:"temperature,omitempty"`
	MaxTokens   int     `yaml:"max_tokens,omitempty"`
}

func (c *ModelConfig) SetDefaults() {
	if c.Provider == "" {
		c.Provider = "gemini"
	}
	if c.APIKey == "" && c.Provider == "gemini" {
		c.APIKey = os.Getenv("GOOGLE_API_KEY")
	}
}

func (c *ModelConfig) Validate() error {
	if c.Provider != "gemini" {
		return fmt.Errorf("model: unsupported provider %q", c.Provider)
	}
	return nil
}

// AgentConfig configures a single agent.
type AgentConfig struct {
	Description   string   `yaml:"description,omitempty"`
	Model         string   `yaml:"model,omitempty"`
	Instruction   string   `yaml:"instruction,omitempty"`
	Tools         []string `yaml:"tools,omitempty"`
	SubAgents     []string `yaml:"sub_agents,omitempty"`
	OutputKey     string   `yaml:"output_key,omitempty"`
	MaxIterations int      `yaml:"max_iterations,omitempty"`

	// ApproveTools lists tool names that require human approval.
	ApproveTools []string `yaml:"approve_tools,omitempty"`

	// Visibility controls agent-card exposure: public or internal.
	Visibility string `yaml:"visibility,omitempty"`
}

func (c *AgentConfig) SetDefaults() {
	if c.MaxIterations == 0 {
		c.MaxIterations = 10
	}
	if c.Visibility == "" {
		c.Visibility = "public"
	}
}

func (c *AgentConfig) Validate(name string) error {
	if c.Model == "" {
		return fmt.Errorf("agent %q: model reference is required", name)
	}
	switch c.Visibility {
	case "public", "internal":
	default:
		return fmt.Errorf("agent %q: unknown visibility %q", name, c.Visibility)
	}
	return nil
}

// ToolConfig configures a named tool or toolset. Settings are type-specific
// and decoded with DecodeSettings.
type ToolConfig struct {
	// Type is one of builtin, mcp.
	Type     string         `yaml:"type,omitempty"`
	Settings map[string]any `yaml:"settings,omitempty"`
}

func (c *ToolConfig) Validate(name string) error {
	switch c.Type {
	case "builtin", "mcp":
		return nil
	default:
		return fmt.Errorf("tool %q: unknown type %q", name, c.Type)
	}
}

// DecodeSettings decodes the tool settings map into a typed struct.
func (c *ToolConfig) DecodeSettings(out any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
		TagName:          "mapstructure",
	})
	if err != nil {
		return fmt.Errorf("tool settings decoder: %w", err)
	}
	if err := decoder.Decode(c.Settings); err != nil {
		return fmt.Errorf("decode tool settings: %w", err)
	}
	return nil
}

// MCPSettings are the settings for a tool of type mcp.
type MCPSettings struct {
	Transport string            `mapstructure:"transport"` // stdio, sse, streamable-http
	URL       string            `mapstructure:"url"`
	Command   string            `mapstructure:"command"`
	Args      []string          `mapstructure:"args"`
	Env       map[string]string `mapstructure:"env"`
}

// SetDefaults applies defaults across the whole tree.
func (c *Config) SetDefaults() {
	if c.Name == "" {
		c.Name = "praxis"
	}
	c.Server.SetDefaults()
	c.Logging.SetDefaults()
	c.Observability.SetDefaults()
	c.Auth.SetDefaults()
	c.Approval.SetDefaults()
	for _, m := range c.Models {
		m.SetDefaults()
	}
	for _, a := range c.Agents {
		a.SetDefaults()
	}
}

// Validate checks the whole tree. Call after SetDefaults.
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return err
	}
	if err := c.Storage.Validate(); err != nil {
		return err
	}
	if err := c.Observability.Validate(); err != nil {
		return err
	}
	if err := c.Auth.Validate(); err != nil {
		return err
	}
	for name, m := range c.Models {
		if err := m.Validate(); err != nil {
			return fmt.Errorf("model %q: %w", name, err)
		}
	}
	for name, a := range c.Agents {
		if err := a.Validate(name); err != nil {
			return err
		}
		if _, ok := c.Models[a.Model]; !ok {
			return fmt.Errorf("agent %q: unknown model reference %q", name, a.Model)
		}
		for _, sub := range a.SubAgents {
			if _, ok := c.Agents[sub]; !ok {
				return fmt.Errorf("agent %q: unknown sub-agent %q", name, sub)
			}
		}
		for _, t := range a.Tools {
			if _, ok := c.Tools[t]; !ok {
				return fmt.Errorf("agent %q: unknown tool reference %q", name, t)
			}
		}
	}
	for name, t := range c.Tools {
		if err := t.Validate(name); err != nil {
			return err
		}
	}
	return nil
}

// Load reads, env-expands, defaults and validates a YAML config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	return Parse(data)
}

// Parse parses raw YAML config bytes.
func Parse(data []byte) (*Config, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	expanded, err := yaml.Marshal(ExpandEnvInData(raw))
	if err != nil {
		return nil, fmt.Errorf("re-marshal config: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(expanded, cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
