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

package auth

import (
	"context"

	"github.com/a2aproject/a2a-go/a2asrv"
)

// Interceptor bridges HTTP-layer claims to the A2A call context. The
// HTTP middleware validates the token and stores claims on the request
// context; Before copies them into the a2asrv CallContext so executors
// see an authenticated user.
type Interceptor struct {
	// RequireAuth when true rejects calls without validated claims.
	RequireAuth bool
}

// NewInterceptor creates an interceptor.
func NewInterceptor(requireAuth bool) *Interceptor {
	return &Interceptor{RequireAuth: requireAuth}
}

// Before implements a2asrv.CallInterceptor.
func (i *Interceptor) Before(ctx context.Context, callCtx *a2asrv.CallContext, req *a2asrv.Request) (context.Context, error) {
	claims := ClaimsFromContext(ctx)
	if claims != nil {
		callCtx.User = &AuthenticatedUser{claims: claims}
	} else if i.RequireAuth {
		// The HTTP middleware should have rejected this already; this
		// is the safety net for non-HTTP transports.
		return ctx, ErrUnauthorized
	}
	return ctx, nil
}

// After implements a2asrv.CallInterceptor.
func (i *Interceptor) After(ctx context.Context, callCtx *a2asrv.CallContext, resp *a2asrv.Response) error {
	return nil
}

var _ a2asrv.CallInterceptor = (*Interceptor)(nil)

// AuthenticatedUser wraps Claims as an a2asrv.User.
type AuthenticatedUser struct {
	claims *Claims
}

// Name returns the token subject.
func (u *AuthenticatedUser) Name() string {
	if u.claims == nil {
		return ""
	}
	return u.claims.Subject
}

// Authenticated reports true.
func (u *AuthenticatedUser) Authenticated() bool { return true }

// Claims returns the underlying claims.
func (u *AuthenticatedUser) Claims() *Claims { return u.claims }

var _ a2asrv.User = (*AuthenticatedUser)(nil)

// ClaimsFromCallContext extracts Claims from an A2A call context, or
// nil when the caller is unauthenticated.
func ClaimsFromCallContext(callCtx *a2asrv.CallContext) *Claims {
	if callCtx == nil || callCtx.User == nil {
		return nil
	}
	if user, ok := callCtx.User.(*AuthenticatedUser); ok {
		return user.Claims()
	}
	return nil
}
