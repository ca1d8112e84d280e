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

package session

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/praxisagents/praxis/pkg/agent"
)

// ErrArtifactNotFound is returned when an artifact name or version
// does not exist.
var ErrArtifactNotFound = errors.New("artifact not found")

type artifactVersion struct {
	data     []byte
	mimeType string
}

type inMemoryArtifacts struct {
	mu       sync.RWMutex
	versions map[string][]artifactVersion
}

// InMemoryArtifacts returns an artifact store backed by process
// memory. Versions start at 0 and increment per save.
func InMemoryArtifacts() agent.Artifacts {
	return &inMemoryArtifacts{versions: make(map[string][]artifactVersion)}
}

func (a *inMemoryArtifacts) Save(_ context.Context, name string, data []byte, mimeType string) (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	copied := append([]byte(nil), data...)
	a.versions[name] = append(a.versions[name], artifactVersion{data: copied, mimeType: mimeType})
	return int64(len(a.versions[name]) - 1), nil
}

func (a *inMemoryArtifacts) Load(_ context.Context, name string, version int64) ([]byte, string, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	all := a.versions[name]
	if len(all) == 0 {
		return nil, "", ErrArtifactNotFound
	}
	if version < 0 {
		version = int64(len(all) - 1)
	}
	if version >= int64(len(all)) {
		return nil, "", ErrArtifactNotFound
	}
	v := all[version]
	return append([]byte(nil), v.data...), v.mimeType, nil
}

func (a *inMemoryArtifacts) List(_ context.Context) ([]string, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	names := make([]string, 0, len(a.versions))
	for name := range a.versions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}
