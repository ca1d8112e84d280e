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
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// defaultPollInterval is how often Await re-reads the journal while
// the awakeable is pending.
const defaultPollInterval = 250 * time.Millisecond

// Awakeable is a promise an external caller settles through the
// journal, typically a human decision arriving over HTTP. Because
// both the ID and the outcome live in the journal, a restarted
// execution picks up where it left off.
type Awakeable[T any] struct {
	journal      *Journal
	id           string
	pollInterval time.Duration
}

// NewAwakeable registers an awakeable for an execution under a step
// name. The ID is journaled as a step, so a replayed execution gets
// the same awakeable back instead of minting a fresh one.
func NewAwakeable[T any](ctx context.Context, e *Execution, name string) (*Awakeable[T], error) {
	id, err := Step(ctx, e, name, func(ctx context.Context) (string, error) {
		id := "prm_" + uuid.NewString()
		if err := e.journal.createAwakeable(ctx, id, e.id); err != nil {
			return "", err
		}
		return id, nil
	})
	if err != nil {
		return nil, err
	}
	return &Awakeable[T]{journal: e.journal, id: id, pollInterval: defaultPollInterval}, nil
}

// Attach re-binds to an existing awakeable ID, for callers that hold
// the ID but not the execution, such as an HTTP resolve endpoint.
func Attach[T any](journal *Journal, awakeableID string) *Awakeable[T] {
	return &Awakeable[T]{journal: journal, id: awakeableID, pollInterval: defaultPollInterval}
}

// ID returns the identifier external callers settle against.
func (a *Awakeable[T]) ID() string { return a.id }

// Peek returns the outcome without blocking. settled is false while
// the awakeable is pending.
func (a *Awakeable[T]) Peek(ctx context.Context) (value T, settled bool, err error) {
	var zero T
	status, result, errorMessage, err := a.journal.awakeableOutcome(ctx, a.id)
	if err != nil {
		return zero, false, err
	}
	switch status {
	case awakeablePending:
		return zero, false, nil
	case awakeableRejected:
		return zero, true, fmt.Errorf("%w: %s", ErrRejected, errorMessage)
	}
	var out T
	if err := json.Unmarshal(result, &out); err != nil {
		return zero, true, fmt.Errorf("decode awakeable result: %w", err)
	}
	return out, true, nil
}

// Await blocks until the awakeable is settled or the context ends.
func (a *Awakeable[T]) Await(ctx context.Context) (T, error) {
	ticker := time.NewTicker(a.pollInterval)
	defer ticker.Stop()
	for {
		value, settled, err := a.Peek(ctx)
		if settled || (err != nil && !errors.Is(err, ErrRejected)) {
			return value, err
		}
		select {
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		case <-ticker.C:
		}
	}
}
