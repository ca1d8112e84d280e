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

// Package session persists conversation sessions and their event logs.
//
// State keys are scoped by prefix: "app:" keys are shared across users,
// "user:" keys across one user's sessions, "temp:" keys live only for the
// current invocation and are never persisted. Unprefixed keys are
// session-local.
package session

import (
	"context"
	"errors"
	"maps"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/praxisagents/praxis/pkg/agent"
)

// State key prefixes.
const (
	KeyPrefixApp  = "app:"
	KeyPrefixUser = "user:"
	KeyPrefixTemp = "temp:"
)

// ErrSessionNotFound is returned when the requested session does not exist.
var ErrSessionNotFound = errors.New("session not found")

// Session is the stored conversation container.
type Session = agent.Session

// GetRequest identifies a session to fetch.
type GetRequest struct {
	AppName   string
	UserID    string
	SessionID string

	// NumRecentEvents limits the event log to the N most recent events.
	// Zero means all.
	NumRecentEvents int

	// After filters out events created before the given time.
	After time.Time
}

type GetResponse struct {
	Session Session
}

// CreateRequest creates a session. SessionID is generated when empty.
type CreateRequest struct {
	AppName   string
	UserID    string
	SessionID string
	State     map[string]any
}

type CreateResponse struct {
	Session Session
}

type ListRequest struct {
	AppName string
	UserID  string // optional filter
}

type ListResponse struct {
	Sessions []Session
}

type DeleteRequest struct {
	AppName   string
	UserID    string
	SessionID string
}

// Service stores sessions and their event logs.
type Service interface {
	Get(ctx context.Context, req *GetRequest) (*GetResponse, error)
	Create(ctx context.Context, req *CreateRequest) (*CreateResponse, error)
	List(ctx context.Context, req *ListRequest) (*ListResponse, error)
	Delete(ctx context.Context, req *DeleteRequest) error

	// AppendEvent appends a non-partial event and applies its StateDelta.
	// Partial events are silently skipped.
	AppendEvent(ctx context.Context, session Session, event *agent.Event) error
}

// Rewinder is implemented by services that can drop events from an
// invocation onward and rebuild state, undoing those turns.
type Rewinder interface {
	Rewind(ctx context.Context, appName, userID, sessionID, invocationID string) error
}

// ---------------------------------------------------------------------------
// In-memory implementation
// ---------------------------------------------------------------------------

type memoryState struct {
	mu   sync.RWMutex
	data map[string]any
}

func newMemoryState(data map[string]any) *memoryState {
	if data == nil {
		data = make(map[string]any)
	}
	return &memoryState{data: data}
}

func (s *memoryState) Get(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[key]
	return v, ok
}

func (s *memoryState) All() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]any, len(s.data))
	maps.Copy(out, s.data)
	return out
}

func (s *memoryState) Set(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = value
}

func (s *memoryState) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
}

type memoryEvents struct {
	mu     sync.RWMutex
	events []*agent.Event
}

func (e *memoryEvents) All() []*agent.Event {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*agent.Event, len(e.events))
	copy(out, e.events)
	return out
}

func (e *memoryEvents) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.events)
}

func (e *memoryEvents) append(ev *agent.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, ev)
}

type memorySession struct {
	id             string
	appName        string
	userID         string
	state          *memoryState
	events         *memoryEvents
	lastUpdateTime time.Time
}

func (s *memorySession) ID() string           { return s.id }
func (s *memorySession) AppName() string      { return s.appName }
func (s *memorySession) UserID() string       { return s.userID }
func (s *memorySession) State() agent.State   { return s.state }
func (s *memorySession) Events() agent.Events { return s.events }

func (s *memorySession) appendEvent(ev *agent.Event) {
	s.events.append(ev)
}

type sessionKey struct {
	appName, userID, sessionID string
}

// InMemoryService returns a Service backed by process memory. Suitable for
// tests and single-process deployments without persistence.
func InMemoryService() Service {
	return &inMemoryService{
		sessions:   make(map[sessionKey]*memorySession),
		appStates:  make(map[string]map[string]any),
		userStates: make(map[string]map[string]any),
	}
}

type inMemoryService struct {
	mu         sync.RWMutex
	sessions   map[sessionKey]*memorySession
	appStates  map[string]map[string]any // appName -> state
	userStates map[string]map[string]any // appName+"\x00"+userID -> state
}

func userStateKey(appName, userID string) string { return appName + "\x00" + userID }

func (s *inMemoryService) Get(ctx context.Context, req *GetRequest) (*GetResponse, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[sessionKey{req.AppName, req.UserID, req.SessionID}]
	if !ok {
		return nil, ErrSessionNotFound
	}

	events := sess.events.All()
	if !req.After.IsZero() {
		filtered := events[:0:0]
		for _, ev := range events {
			if !ev.Timestamp.Before(req.After) {
				filtered = append(filtered, ev)
			}
		}
		events = filtered
	}
	if req.NumRecentEvents > 0 && len(events) > req.NumRecentEvents {
		events = events[len(events)-req.NumRecentEvents:]
	}

	merged := mergeStates(s.appStates[req.AppName], s.userStates[userStateKey(req.AppName, req.UserID)], sess.state.All())

	view := &memorySession{
		id:             sess.id,
		appName:        sess.appName,
		userID:         sess.userID,
		state:          newMemoryState(merged),
		events:         &memoryEvents{events: events},
		lastUpdateTime: sess.lastUpdateTime,
	}
	return &GetResponse{Session: view}, nil
}

func (s *inMemoryService) Create(ctx context.Context, req *CreateRequest) (*CreateResponse, error) {
	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	appDelta, userDelta, sessionState := extractStateDeltas(req.State)
	s.applyAppDelta(req.AppName, appDelta)
	s.applyUserDelta(req.AppName, req.UserID, userDelta)

	sess := &memorySession{
		id:             sessionID,
		appName:        req.AppName,
		userID:         req.UserID,
		state:          newMemoryState(sessionState),
		events:         &memoryEvents{},
		lastUpdateTime: time.Now(),
	}
	s.sessions[sessionKey{req.AppName, req.UserID, sessionID}] = sess

	return &CreateResponse{Session: sess}, nil
}

func (s *inMemoryService) List(ctx context.Context, req *ListRequest) (*ListResponse, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Session
	for key, sess := range s.sessions {
		if key.appName != req.AppName {
			continue
		}
		if req.UserID != "" && key.userID != req.UserID {
			continue
		}
		out = append(out, sess)
	}
	return &ListResponse{Sessions: out}, nil
}

func (s *inMemoryService) Delete(ctx context.Context, req *DeleteRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionKey{req.AppName, req.UserID, req.SessionID})
	return nil
}

func (s *inMemoryService) AppendEvent(ctx context.Context, session Session, event *agent.Event) error {
	if session == nil {
		return errors.New("session is nil")
	}
	if event == nil {
		return errors.New("event is nil")
	}
	if event.Partial {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionKey{session.AppName(), session.UserID(), session.ID()}]
	if !ok {
		return ErrSessionNotFound
	}

	appDelta, userDelta, sessionDelta := extractStateDeltas(event.Actions.StateDelta)
	s.applyAppDelta(session.AppName(), appDelta)
	s.applyUserDelta(session.AppName(), session.UserID(), userDelta)
	applyDelta(sess.state, sessionDelta)

	// temp: keys live on the in-memory session only, so callers can read
	// them for the rest of the invocation.
	for key, value := range event.Actions.StateDelta {
		if strings.HasPrefix(key, KeyPrefixTemp) {
			if value == nil {
				sess.state.Delete(key)
			} else {
				sess.state.Set(key, value)
			}
		}
	}

	sess.appendEvent(event)
	sess.lastUpdateTime = time.Now()

	// Keep the caller's view in sync when it is a detached copy.
	if ms, ok := session.(*memorySession); ok && ms != sess {
		ms.appendEvent(event)
		applyDelta(ms.state, event.Actions.StateDelta)
	}
	return nil
}

// Rewind drops all events belonging to invocationID and later and rebuilds
// session state by replaying the surviving StateDeltas.
func (s *inMemoryService) Rewind(ctx context.Context, appName, userID, sessionID, invocationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionKey{appName, userID, sessionID}]
	if !ok {
		return ErrSessionNotFound
	}

	events := sess.events.All()
	cut := len(events)
	for i, ev := range events {
		if ev.InvocationID == invocationID {
			cut = i
			break
		}
	}
	kept := events[:cut]

	rebuilt := newMemoryState(nil)
	for _, ev := range kept {
		_, _, sessionDelta := extractStateDeltas(ev.Actions.StateDelta)
		applyDelta(rebuilt, sessionDelta)
	}

	sess.events = &memoryEvents{events: kept}
	sess.state = rebuilt
	sess.lastUpdateTime = time.Now()
	return nil
}

func (s *inMemoryService) applyAppDelta(appName string, delta map[string]any) {
	if len(delta) == 0 {
		return
	}
	if s.appStates[appName] == nil {
		s.appStates[appName] = make(map[string]any)
	}
	maps.Copy(s.appStates[appName], delta)
}

func (s *inMemoryService) applyUserDelta(appName, userID string, delta map[string]any) {
	if len(delta) == 0 {
		return
	}
	key := userStateKey(appName, userID)
	if s.userStates[key] == nil {
		s.userStates[key] = make(map[string]any)
	}
	maps.Copy(s.userStates[key], delta)
}

func applyDelta(state *memoryState, delta map[string]any) {
	for key, value := range delta {
		if value == nil {
			state.Delete(key)
			continue
		}
		state.Set(key, value)
	}
}

// ---------------------------------------------------------------------------
// State helpers shared with the SQL implementation
// ---------------------------------------------------------------------------

// extractStateDeltas splits a delta by prefix into app, user and session
// parts. temp: keys are dropped.
func extractStateDeltas(state map[string]any) (appDelta, userDelta, sessionDelta map[string]any) {
	appDelta = make(map[string]any)
	userDelta = make(map[string]any)
	sessionDelta = make(map[string]any)

	for key, value := range state {
		switch {
		case strings.HasPrefix(key, KeyPrefixApp):
			appDelta[strings.TrimPrefix(key, KeyPrefixApp)] = value
		case strings.HasPrefix(key, KeyPrefixUser):
			userDelta[strings.TrimPrefix(key, KeyPrefixUser)] = value
		case !strings.HasPrefix(key, KeyPrefixTemp):
			sessionDelta[key] = value
		}
	}
	return
}

// mergeStates combines app, user and session state with proper prefixes.
func mergeStates(appState, userState, sessionState map[string]any) map[string]any {
	merged := make(map[string]any, len(appState)+len(userState)+len(sessionState))
	maps.Copy(merged, sessionState)
	for k, v := range appState {
		merged[KeyPrefixApp+k] = v
	}
	for k, v := range userState {
		merged[KeyPrefixUser+k] = v
	}
	return merged
}

// trimTempState removes temp: keys before persistence.
func trimTempState(state map[string]any) map[string]any {
	if state == nil {
		return nil
	}
	out := make(map[string]any, len(state))
	for k, v := range state {
		if !strings.HasPrefix(k, KeyPrefixTemp) {
			out[k] = v
		}
	}
	return out
}

// ClearTempKeys deletes temp: keys from a session's state. Called by the
// runner when an invocation completes.
func ClearTempKeys(state agent.State) {
	for key := range state.All() {
		if strings.HasPrefix(key, KeyPrefixTemp) {
			state.Delete(key)
		}
	}
}
