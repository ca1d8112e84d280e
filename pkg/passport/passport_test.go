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
	"encoding/json"
	"testing"

	"github.com/a2aproject/a2a-go/a2a"
)

func premiumPassport() *CallerContext {
	return New("a2a://travel-orchestrator.example.com", map[string]any{
		"tier":        "Platinum",
		"permissions": []any{"book_flights", "book_hotels"},
		"user_id":     "user_42",
	}).Sign()
}

func TestSignAndVerify(t *testing.T) {
	cc := premiumPassport()
	if len(cc.Signature) != signatureLen {
		t.Errorf("signature length = %d", len(cc.Signature))
	}
	if !cc.Verified() {
		t.Error("signed passport failed verification")
	}

	cc.State["tier"] = "Basic"
	if cc.Verified() {
		t.Error("tampered state still verified")
	}

	unsigned := New("a2a://caller.example.com", nil)
	if unsigned.Verified() {
		t.Error("unsigned passport verified")
	}
}

func TestAttachExtractRoundTrip(t *testing.T) {
	msg := a2a.NewMessage(a2a.MessageRoleUser, a2a.TextPart{Text: "book a flight"})
	if Has(msg) {
		t.Fatal("fresh message reports a passport")
	}

	cc := premiumPassport()
	if err := Attach(msg, cc); err != nil {
		t.Fatalf("Attach: %v", err)
	}
	if !Has(msg) {
		t.Fatal("passport not found after Attach")
	}

	// Survive wire serialization the way a real peer receives it.
	raw, err := json.Marshal(msg.Metadata)
	if err != nil {
		t.Fatalf("marshal metadata: %v", err)
	}
	var meta map[string]any
	if err := json.Unmarshal(raw, &meta); err != nil {
		t.Fatalf("unmarshal metadata: %v", err)
	}
	received := a2a.NewMessage(a2a.MessageRoleUser, a2a.TextPart{Text: "book a flight"})
	received.Metadata = meta

	got, err := Extract(received)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if got == nil {
		t.Fatal("passport missing after round trip")
	}
	if got.ClientID != cc.ClientID {
		t.Errorf("client ID = %q", got.ClientID)
	}
	if !got.Verified() {
		t.Error("round-tripped passport failed verification")
	}
	if got.State["tier"] != "Platinum" {
		t.Errorf("state = %v", got.State)
	}
	if !got.Permission("book_flights") {
		t.Error("permission lost in round trip")
	}
	if got.Permission("delete_account") {
		t.Error("unexpected permission granted")
	}
}

func TestExtract_AbsenceIsNotAnError(t *testing.T) {
	msg := a2a.NewMessage(a2a.MessageRoleUser, a2a.TextPart{Text: "plain request"})
	got, err := Extract(msg)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if got != nil {
		t.Errorf("passport = %+v, want nil", got)
	}
}

func TestValidate(t *testing.T) {
	msg := a2a.NewMessage(a2a.MessageRoleUser, a2a.TextPart{Text: "hello"})

	// No passport: context unchanged, no error.
	ctx, err := Validate(context.Background(), msg)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if _, ok := FromContext(ctx); ok {
		t.Error("caller context set without a passport")
	}

	// Verified passport annotates the context.
	if err := Attach(msg, premiumPassport()); err != nil {
		t.Fatalf("Attach: %v", err)
	}
	ctx, err = Validate(context.Background(), msg)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	cc, ok := FromContext(ctx)
	if !ok || cc.ClientID != "a2a://travel-orchestrator.example.com" {
		t.Errorf("caller context = %+v", cc)
	}

	// Tampered passport is rejected.
	bad := premiumPassport()
	bad.Signature = "00000000000000000000000000000000"
	tampered := a2a.NewMessage(a2a.MessageRoleUser, a2a.TextPart{Text: "hello"})
	if err := Attach(tampered, bad); err != nil {
		t.Fatalf("Attach: %v", err)
	}
	if _, err := Validate(context.Background(), tampered); err == nil {
		t.Error("tampered passport passed validation")
	}
}

func TestDeclaration(t *testing.T) {
	decl := Declaration()
	if decl.URI != ExtensionURI {
		t.Errorf("URI = %q", decl.URI)
	}
	if decl.Required {
		t.Error("extension must be optional for backward compatibility")
	}
}
