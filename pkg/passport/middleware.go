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

package passport

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/a2aproject/a2a-go/a2a"
)

type contextKey struct{}

// WithCallerContext stores a verified passport on the context.
func WithCallerContext(ctx context.Context, cc *CallerContext) context.Context {
	return context.WithValue(ctx, contextKey{}, cc)
}

// FromContext returns the verified passport attached to the context, if
// any.
func FromContext(ctx context.Context) (*CallerContext, bool) {
	cc, ok := ctx.Value(contextKey{}).(*CallerContext)
	return cc, ok
}

// Validate inspects an inbound message and annotates the context with
// its passport when present and verified. Messages without a passport
// pass through untouched; a passport that fails verification is an
// error so callers can refuse tampered identity claims.
func Validate(ctx context.Context, msg *a2a.Message) (context.Context, error) {
	cc, err := Extract(msg)
	if err != nil {
		return ctx, err
	}
	if cc == nil {
		return ctx, nil
	}
	if !cc.Verified() {
		return ctx, fmt.Errorf("passport from %q failed verification", cc.ClientID)
	}
	slog.Debug("verified caller passport", "clientID", cc.ClientID)
	return WithCallerContext(ctx, cc), nil
}
