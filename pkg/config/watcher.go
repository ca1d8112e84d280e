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

package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const watchDebounce = 100 * time.Millisecond

// Watch watches a config file for changes and sends a reloaded Config on the
// returned channel after each change. Decode or validation failures are
// logged and skipped, keeping the last good config in effect. The channel is
// closed when ctx is done.
func Watch(ctx context.Context, path string) (<-chan *Config, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create file watcher: %w", err)
	}

	// Watch the directory: editors that rename-replace would otherwise
	// drop the watch on the file itself.
	if err := watcher.Add(filepath.Dir(absPath)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(absPath), err)
	}

	ch := make(chan *Config, 1)
	go watchLoop(ctx, watcher, absPath, ch)

	slog.Info("Watching config file", "path", absPath)
	return ch, nil
}

func watchLoop(ctx context.Context, watcher *fsnotify.Watcher, absPath string, ch chan<- *Config) {
	defer close(ch)
	defer watcher.Close()

	var debounce *time.Timer
	base := filepath.Base(absPath)

	for {
		select {
		case <-ctx.Done():
			if debounce != nil {
				debounce.Stop()
			}
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != base {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(watchDebounce, func() {
				cfg, err := Load(absPath)
				if err != nil {
					slog.Error("Config reload failed, keeping previous config", "path", absPath, "error", err)
					return
				}
				select {
				case ch <- cfg:
					slog.Info("Config reloaded", "path", absPath)
				default:
					// A reload is already pending.
				}
			})

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			slog.Error("Config watcher error", "error", err)
		}
	}
}
