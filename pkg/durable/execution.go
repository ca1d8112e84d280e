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

package durable

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"
)

// RetryPolicy controls how a step retries before giving up for this
// run. A step that exhausts its attempts stays incomplete in the
// journal and runs again on the next execution of the same ID.
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
}

// SetDefaults fills zero fields with 3 attempts and 100ms..5s
// exponential backoff.
func (p *RetryPolicy) SetDefaults() {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 3
	}
	if p.InitialBackoff <= 0 {
		p.InitialBackoff = 100 * time.Millisecond
	}
	if p.MaxBackoff <= 0 {
		p.MaxBackoff = 5 * time.Second
	}
	if p.Multiplier <= 1 {
		p.Multiplier = 2
	}
}

// Execution is one durable run identified by its ID. Re-creating an
// execution with the same ID against the same journal replays the
// results of steps that already completed.
type Execution struct {
	journal *Journal
	id      string
	retry   RetryPolicy
}

// NewExecution binds an execution ID to a journal. The zero retry
// policy gets defaults applied.
func NewExecution(journal *Journal, id string, retry RetryPolicy) (*Execution, error) {
	if journal == nil {
		return nil, fmt.Errorf("journal is required")
	}
	if id == "" {
		return nil, fmt.Errorf("execution ID is required")
	}
	retry.SetDefaults()
	return &Execution{journal: journal, id: id, retry: retry}, nil
}

// ID returns the execution's identifier.
func (e *Execution) ID() string { return e.id }

// Step runs a named step exactly once per execution. A completed step
// replays its journaled result without calling fn; an incomplete one
// runs fn under the retry policy and journals the outcome. Step names
// must be unique within an execution.
func Step[T any](ctx context.Context, e *Execution, name string, fn func(context.Context) (T, error)) (T, error) {
	var zero T

	recorded, done, err := e.journal.completedResult(ctx, e.id, name)
	if err != nil {
		return zero, err
	}
	if done {
		var out T
		if err := json.Unmarshal(recorded, &out); err != nil {
			return zero, fmt.Errorf("replay step %q: %w", name, err)
		}
		slog.Debug("durable step replayed", "executionID", e.id, "step", name)
		return out, nil
	}

	backoff := e.retry.InitialBackoff
	var lastErr error
	for attempt := 1; attempt <= e.retry.MaxAttempts; attempt++ {
		out, err := fn(ctx)
		if err == nil {
			raw, err := json.Marshal(out)
			if err != nil {
				return zero, fmt.Errorf("marshal step %q result: %w", name, err)
			}
			if err := e.journal.recordCompletion(ctx, e.id, name, raw); err != nil {
				return zero, err
			}
			return out, nil
		}
		lastErr = err
		slog.Warn("durable step failed",
			"executionID", e.id, "step", name, "attempt", attempt, "error", err)

		if attempt == e.retry.MaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(backoff):
		}
		backoff = time.Duration(float64(backoff) * e.retry.Multiplier)
		if backoff > e.retry.MaxBackoff {
			backoff = e.retry.MaxBackoff
		}
	}

	if err := e.journal.recordFailure(ctx, e.id, name, lastErr); err != nil {
		slog.Error("journal step failure", "executionID", e.id, "step", name, "error", err)
	}
	return zero, fmt.Errorf("step %q failed after %d attempts: %w", name, e.retry.MaxAttempts, lastErr)
}
