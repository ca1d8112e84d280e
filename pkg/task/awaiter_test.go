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

package task

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/praxisagents/praxis/pkg/tool"
)

func TestAwaiter_ProvideInputUnblocksWaiter(t *testing.T) {
	a := NewAwaiter(time.Second)
	req := ApprovalRequest(&tool.ToolCall{ID: "call-1", Name: "deploy"}, "Deploy?", time.Second)

	done := make(chan struct{})
	var resp *InputResponse
	var err error
	go func() {
		defer close(done)
		resp, err = a.WaitForInput(context.Background(), "task-1", req)
	}()

	// Wait for the waiter to register before answering.
	deadline := time.Now().Add(time.Second)
	for !a.IsWaiting("task-1") {
		if time.Now().After(deadline) {
			t.Fatal("waiter never registered")
		}
		time.Sleep(time.Millisecond)
	}

	if err := a.ProvideInput("task-1", &InputResponse{OptionID: "approve", Approved: true}); err != nil {
		t.Fatalf("ProvideInput: %v", err)
	}
	<-done

	if err != nil {
		t.Fatalf("WaitForInput: %v", err)
	}
	if !resp.Approved || resp.OptionID != "approve" {
		t.Errorf("response = %+v", resp)
	}
	if a.IsWaiting("task-1") {
		t.Error("waiter not cleaned up")
	}
}

func TestAwaiter_Timeout(t *testing.T) {
	a := NewAwaiter(time.Second)
	req := ConfirmationRequest("Sure?", 10*time.Millisecond)

	_, err := a.WaitForInput(context.Background(), "task-1", req)
	if !errors.Is(err, ErrInputTimeout) {
		t.Errorf("err = %v, want ErrInputTimeout", err)
	}
}

func TestAwaiter_ContextCancel(t *testing.T) {
	a := NewAwaiter(time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(5 * time.Millisecond)
		cancel()
	}()

	_, err := a.WaitForInput(ctx, "task-1", ClarificationRequest("What city?", time.Minute))
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestAwaiter_NoWaiter(t *testing.T) {
	a := NewAwaiter(0)
	if err := a.ProvideInput("missing", &InputResponse{}); !errors.Is(err, ErrNoWaiter) {
		t.Errorf("err = %v, want ErrNoWaiter", err)
	}
}
