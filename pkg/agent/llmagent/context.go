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

package llmagent

import (
	"github.com/praxisagents/praxis/pkg/agent"
	"github.com/praxisagents/praxis/pkg/tool"
)

// toolContext implements tool.Context. State writes made by the tool
// land in the pending event's StateDelta rather than mutating the
// session directly.
type toolContext struct {
	agent.CallbackContext

	functionCallID string
	actions        *agent.EventActions
	invCtx         agent.InvocationContext
}

func newToolContext(invCtx agent.InvocationContext, functionCallID string) *toolContext {
	actions := &agent.EventActions{StateDelta: make(map[string]any)}
	return &toolContext{
		CallbackContext: agent.NewCallbackContext(invCtx, actions),
		functionCallID:  functionCallID,
		actions:         actions,
		invCtx:          invCtx,
	}
}

func (c *toolContext) FunctionCallID() string {
	return c.functionCallID
}

func (c *toolContext) Actions() *agent.EventActions {
	return c.actions
}

// InvocationContext returns the underlying invocation context. Used by
// agenttool to derive child invocations.
func (c *toolContext) InvocationContext() agent.InvocationContext {
	return c.invCtx
}

var _ tool.Context = (*toolContext)(nil)
