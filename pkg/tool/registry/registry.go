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

// Package registry provides a named tool registry. Agents consume it as a
// toolset, optionally filtered by an allow/deny predicate, so a single
// registry can back many agents with different tool surfaces.
package registry

import (
	"fmt"
	"sort"
	"sync"

	"github.com/praxisagents/praxis/pkg/agent"
	"github.com/praxisagents/praxis/pkg/tool"
)

// Registry holds tools by name.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]tool.Tool
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{tools: make(map[string]tool.Tool)}
}

// Register adds a tool. Duplicate names are rejected.
func (r *Registry) Register(t tool.Tool) error {
	if t == nil {
		return fmt.Errorf("tool is nil")
	}
	name := t.Name()
	if name == "" {
		return fmt.Errorf("tool has empty name")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("tool %q already registered", name)
	}
	r.tools[name] = t
	return nil
}

// MustRegister registers tools, panicking on conflict. For wiring code.
func (r *Registry) MustRegister(tools ...tool.Tool) {
	for _, t := range tools {
		if err := r.Register(t); err != nil {
			panic(err)
		}
	}
}

// Get returns the named tool.
func (r *Registry) Get(name string) (tool.Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Unregister removes the named tool.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
}

// Names returns the registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// List returns all registered tools, ordered by name.
func (r *Registry) List() []tool.Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]tool.Tool, 0, len(names))
	for _, name := range names {
		out = append(out, r.tools[name])
	}
	return out
}

// Toolset returns a toolset view of the registry filtered by pred.
// A nil predicate exposes everything.
func (r *Registry) Toolset(name string, pred tool.StringPredicate) tool.Toolset {
	if pred == nil {
		pred = tool.AllowAll
	}
	return &registryToolset{name: name, registry: r, pred: pred}
}

type registryToolset struct {
	name     string
	registry *Registry
	pred     tool.StringPredicate
}

func (s *registryToolset) Name() string { return s.name }

func (s *registryToolset) Tools(_ agent.ReadonlyContext) ([]tool.Tool, error) {
	var out []tool.Tool
	for _, t := range s.registry.List() {
		if s.pred(t.Name()) {
			out = append(out, t)
		}
	}
	return out, nil
}

var _ tool.Toolset = (*registryToolset)(nil)
