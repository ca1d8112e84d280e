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

// Package builtin provides small local tools that need no external services.
package builtin

import (
	"fmt"
	"time"

	"github.com/praxisagents/praxis/pkg/tool"
	"github.com/praxisagents/praxis/pkg/tool/functiontool"
)

// ClockArgs are the arguments for the current_time tool.
type ClockArgs struct {
	// Timezone is an IANA zone name like "Europe/Istanbul".
	// Empty means UTC.
	Timezone string `json:"timezone,omitempty" jsonschema:"description=IANA timezone name; defaults to UTC"`
}

// NewClock returns the current_time tool.
func NewClock() (tool.CallableTool, error) {
	return functiontool.New(functiontool.Config{
		Name:        "current_time",
		Description: "Get the current date and time, optionally in a specific IANA timezone.",
	}, func(_ tool.Context, args ClockArgs) (map[string]any, error) {
		loc := time.UTC
		if args.Timezone != "" {
			var err error
			loc, err = time.LoadLocation(args.Timezone)
			if err != nil {
				return nil, fmt.Errorf("unknown timezone %q: %w", args.Timezone, err)
			}
		}
		now := time.Now().In(loc)
		return map[string]any{
			"time":     now.Format(time.RFC3339),
			"timezone": loc.String(),
			"weekday":  now.Weekday().String(),
		}, nil
	})
}

// CalculatorArgs are the arguments for the calculate tool.
type CalculatorArgs struct {
	Operation string  `json:"operation" jsonschema:"required,enum=add,enum=subtract,enum=multiply,enum=divide,description=Arithmetic operation"`
	A         float64 `json:"a" jsonschema:"required,description=First operand"`
	B         float64 `json:"b" jsonschema:"required,description=Second operand"`
}

// NewCalculator returns the calculate tool.
func NewCalculator() (tool.CallableTool, error) {
	return functiontool.New(functiontool.Config{
		Name:        "calculate",
		Description: "Perform basic arithmetic on two numbers.",
	}, func(_ tool.Context, args CalculatorArgs) (map[string]any, error) {
		var result float64
		switch args.Operation {
		case "add":
			result = args.A + args.B
		case "subtract":
			result = args.A - args.B
		case "multiply":
			result = args.A * args.B
		case "divide":
			if args.B == 0 {
				return nil, fmt.Errorf("division by zero")
			}
			result = args.A / args.B
		default:
			return nil, fmt.Errorf("unsupported operation %q", args.Operation)
		}
		return map[string]any{
			"operation": args.Operation,
			"result":    result,
		}, nil
	})
}

// All returns all builtin tools.
func All() ([]tool.CallableTool, error) {
	clock, err := NewClock()
	if err != nil {
		return nil, err
	}
	calc, err := NewCalculator()
	if err != nil {
		return nil, err
	}
	return []tool.CallableTool{clock, calc}, nil
}
