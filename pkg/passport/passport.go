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

// Package passport implements the secure-passport A2A extension: a
// sidecar on message metadata that lets a calling agent voluntarily
// share its identity and state (tier, billing codes, permissions) with
// the receiving agent. Receivers that don't know the extension ignore
// it, so the wire format stays backward compatible.
package passport

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/a2aproject/a2a-go/a2a"
)

// ExtensionURI is the secure-passport extension namespace.
const ExtensionURI = "a2a://extensions/secure-passport/v1"

// signatureLen is the hex length of the demo signature.
const signatureLen = 32

// CallerContext is the passport: the calling agent's identity and
// whatever enterprise state it chooses to share.
type CallerContext struct {
	// ClientID is a URI identifying the caller,
	// e.g. "a2a://travel-orchestrator.example.com".
	ClientID string `json:"client_id"`

	// State carries custom caller data: tier, billing codes,
	// permissions, user IDs.
	State map[string]any `json:"state,omitempty"`

	// Signature covers ClientID and State.
	Signature string `json:"signature,omitempty"`

	// Timestamp is when the passport was issued, RFC 3339.
	Timestamp string `json:"timestamp,omitempty"`
}

// New creates an unsigned passport stamped with the current time.
func New(clientID string, state map[string]any) *CallerContext {
	return &CallerContext{
		ClientID:  clientID,
		State:     state,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}

// Sign computes the demo signature over ClientID and State and returns
// the passport for chaining. Production deployments would replace this
// with an asymmetric signature keyed to the ClientID URI.
func (c *CallerContext) Sign() *CallerContext {
	c.Signature = c.computeSignature()
	return c
}

// Verified reports whether the signature matches the passport contents.
// Unsigned passports are never verified.
func (c *CallerContext) Verified() bool {
	if c.Signature == "" {
		return false
	}
	expected := c.computeSignature()
	return subtle.ConstantTimeCompare([]byte(c.Signature), []byte(expected)) == 1
}

// computeSignature hashes "clientID:" plus the canonical JSON of State.
// encoding/json writes map keys in sorted order, which makes the
// marshaled state canonical.
func (c *CallerContext) computeSignature() string {
	stateJSON, err := json.Marshal(c.State)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256([]byte(c.ClientID + ":" + string(stateJSON)))
	return hex.EncodeToString(sum[:])[:signatureLen]
}

// Permission reports whether the passport state grants a permission,
// reading State["permissions"] as a list.
func (c *CallerContext) Permission(name string) bool {
	perms, ok := c.State["permissions"].([]any)
	if !ok {
		return false
	}
	for _, p := range perms {
		if s, ok := p.(string); ok && s == name {
			return true
		}
	}
	return false
}

// Attach stores the passport in the message metadata under the
// extension URI.
func Attach(msg *a2a.Message, cc *CallerContext) error {
	if msg == nil || cc == nil {
		return fmt.Errorf("message and passport are required")
	}
	raw, err := json.Marshal(cc)
	if err != nil {
		return fmt.Errorf("marshal passport: %w", err)
	}
	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return fmt.Errorf("encode passport payload: %w", err)
	}

	if msg.Metadata == nil {
		msg.Metadata = make(map[string]any)
	}
	msg.Metadata[ExtensionURI] = payload
	return nil
}

// Extract reads the passport from message metadata. A missing passport
// returns (nil, nil): absence is the backward-compatible case, not an
// error.
func Extract(msg *a2a.Message) (*CallerContext, error) {
	if msg == nil || msg.Metadata == nil {
		return nil, nil
	}
	payload, ok := msg.Metadata[ExtensionURI]
	if !ok {
		return nil, nil
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("read passport payload: %w", err)
	}
	var cc CallerContext
	if err := json.Unmarshal(raw, &cc); err != nil {
		return nil, fmt.Errorf("decode passport: %w", err)
	}
	return &cc, nil
}

// Has reports whether the message carries a passport.
func Has(msg *a2a.Message) bool {
	if msg == nil || msg.Metadata == nil {
		return false
	}
	_, ok := msg.Metadata[ExtensionURI]
	return ok
}

// Declaration returns the extension entry for agent cards.
func Declaration() a2a.AgentExtension {
	return a2a.AgentExtension{
		URI:         ExtensionURI,
		Description: "Secure Passport - caller identity and state shared as an optional sidecar on message metadata",
		Required:    false,
	}
}
