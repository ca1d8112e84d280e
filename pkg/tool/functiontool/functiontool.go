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

// Package functiontool turns plain Go functions into tools.
//
// The parameter schema is reflected from the Args type parameter:
//
//	type WeatherArgs struct {
//	    City string `json:"city" jsonschema:"required,description=City name"`
//	}
//
//	t, err := functiontool.New(functiontool.Config{
//	    Name:        "get_weather",
//	    Description: "Get current weather for a city",
//	}, func(ctx tool.Context, args WeatherArgs) (map[string]any, error) {
//	    ...
//	})
package functiontool

import (
	"fmt"

	"github.com/praxisagents/praxis/pkg/tool"
)

// Config configures a function tool.
type Config struct {
	// Name is the tool name exposed to the model. Required.
	Name string

	// Description tells the model when to use the tool. Required.
	Description string

	// LongRunning marks the tool as asynchronous.
	LongRunning bool

	// RequireApproval pauses the run for human approval before execution.
	RequireApproval bool
}

// Func is the tool implementation signature.
type Func[Args any] func(ctx tool.Context, args Args) (map[string]any, error)

type functionTool[Args any] struct {
	cfg      Config
	fn       Func[Args]
	schema   map[string]any
	validate bool
}

// New creates a callable tool from fn, reflecting the parameter schema
// from the Args struct.
func New[Args any](cfg Config, fn Func[Args]) (tool.CallableTool, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("tool name is required")
	}
	if cfg.Description == "" {
		return nil, fmt.Errorf("tool %q: description is required", cfg.Name)
	}
	if fn == nil {
		return nil, fmt.Errorf("tool %q: function is required", cfg.Name)
	}

	var zero Args
	schema, err := reflectSchema(zero)
	if err != nil {
		return nil, fmt.Errorf("tool %q: schema reflection failed: %w", cfg.Name, err)
	}

	return &functionTool[Args]{cfg: cfg, fn: fn, schema: schema}, nil
}

// NewWithValidation creates a callable tool that checks arguments against
// the reflected schema (required keys, primitive types) before decoding.
// Invalid arguments produce an error result for the model instead of a
// decode failure.
func NewWithValidation[Args any](cfg Config, fn Func[Args]) (tool.CallableTool, error) {
	t, err := New(cfg, fn)
	if err != nil {
		return nil, err
	}
	ft := t.(*functionTool[Args])
	ft.validate = true
	return ft, nil
}

// Must is New that panics on error. For package-level tool declarations.
func Must[Args any](cfg Config, fn Func[Args]) tool.CallableTool {
	t, err := New(cfg, fn)
	if err != nil {
		panic(err)
	}
	return t
}

func (t *functionTool[Args]) Name() string           { return t.cfg.Name }
func (t *functionTool[Args]) Description() string    { return t.cfg.Description }
func (t *functionTool[Args]) IsLongRunning() bool    { return t.cfg.LongRunning }
func (t *functionTool[Args]) RequiresApproval() bool { return t.cfg.RequireApproval }
func (t *functionTool[Args]) Schema() map[string]any { return t.schema }

func (t *functionTool[Args]) Call(ctx tool.Context, args map[string]any) (map[string]any, error) {
	if t.validate {
		if err := validateArgs(t.schema, args); err != nil {
			return nil, fmt.Errorf("tool %q: invalid arguments: %w", t.cfg.Name, err)
		}
	}
	var typed Args
	if err := decodeArgs(args, &typed); err != nil {
		return nil, fmt.Errorf("tool %q: invalid arguments: %w", t.cfg.Name, err)
	}
	return t.fn(ctx, typed)
}

var _ tool.CallableTool = (*functionTool[struct{}])(nil)
