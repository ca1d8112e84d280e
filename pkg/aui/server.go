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

package aui

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
)

// EventSurfaceUpdate is the SSE event name for full surface frames.
const EventSurfaceUpdate = "surface-update"

type sseFrame struct {
	event string
	data  []byte
}

type surfaceState struct {
	current *Surface
	subs    map[chan sseFrame]struct{}
}

// Server streams generated surfaces to clients over SSE. Each surface
// ID holds its latest tree; subscribers get a replay on connect and
// every update after that.
type Server struct {
	gen *Generator

	mu       sync.Mutex
	surfaces map[string]*surfaceState
}

// NewServer creates a surface server. The generator may be nil, in
// which case prompt requests are rejected and only Publish feeds
// subscribers.
func NewServer(gen *Generator) *Server {
	return &Server{
		gen:      gen,
		surfaces: make(map[string]*surfaceState),
	}
}

// Router returns the HTTP routes for the surface server.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Route("/surfaces/{surface}", func(r chi.Router) {
		r.Post("/prompt", s.handlePrompt)
		r.Post("/actions", s.handleAction)
		r.Get("/events", s.handleEvents)
	})
	return r
}

// Surface returns the latest tree for a surface ID, or nil.
func (s *Server) Surface(surfaceID string) *Surface {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st := s.surfaces[surfaceID]; st != nil {
		return st.current
	}
	return nil
}

// Update stores a surface and pushes it to subscribers. Agents that
// build trees directly, without the generator, publish through here.
func (s *Server) Update(surface *Surface) error {
	if surface == nil || surface.SurfaceID == "" {
		return fmt.Errorf("aui: surface with an ID is required")
	}
	if err := surface.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(surface)
	if err != nil {
		return err
	}
	s.mu.Lock()
	st := s.state(surface.SurfaceID)
	st.current = surface
	s.broadcastLocked(st, sseFrame{event: EventSurfaceUpdate, data: data})
	s.mu.Unlock()
	return nil
}

// Publish pushes an arbitrary event to a surface's subscribers, used
// to mirror agent streaming output alongside surface updates.
func (s *Server) Publish(surfaceID, event string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.broadcastLocked(s.state(surfaceID), sseFrame{event: event, data: payload})
	s.mu.Unlock()
	return nil
}

// state returns the record for a surface ID, creating it if needed.
// Callers hold s.mu.
func (s *Server) state(surfaceID string) *surfaceState {
	st := s.surfaces[surfaceID]
	if st == nil {
		st = &surfaceState{subs: make(map[chan sseFrame]struct{})}
		s.surfaces[surfaceID] = st
	}
	return st
}

// broadcastLocked delivers a frame to every subscriber without
// blocking; a subscriber that cannot keep up misses the frame and
// catches up on the next one. Callers hold s.mu.
func (s *Server) broadcastLocked(st *surfaceState, frame sseFrame) {
	for ch := range st.subs {
		select {
		case ch <- frame:
		default:
			slog.Warn("aui subscriber lagging, frame dropped")
		}
	}
}

func (s *Server) subscribe(surfaceID string) (chan sseFrame, func()) {
	ch := make(chan sseFrame, 16)
	s.mu.Lock()
	st := s.state(surfaceID)
	st.subs[ch] = struct{}{}
	if st.current != nil {
		if data, err := json.Marshal(st.current); err == nil {
			ch <- sseFrame{event: EventSurfaceUpdate, data: data}
		}
	}
	s.mu.Unlock()
	return ch, func() {
		s.mu.Lock()
		delete(st.subs, ch)
		s.mu.Unlock()
	}
}

// hasSubscriber reports whether any client is streaming the surface.
func (s *Server) hasSubscriber(surfaceID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.surfaces[surfaceID]
	return st != nil && len(st.subs) > 0
}

func (s *Server) handlePrompt(w http.ResponseWriter, r *http.Request) {
	surfaceID := chi.URLParam(r, "surface")
	if s.gen == nil {
		writeJSONError(w, http.StatusNotImplemented, "no generator configured")
		return
	}

	var req struct {
		Prompt string `json:"prompt"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Prompt == "" {
		writeJSONError(w, http.StatusBadRequest, "prompt is required")
		return
	}

	surface, err := s.gen.Generate(r.Context(), surfaceID, req.Prompt)
	if err != nil {
		slog.Warn("surface generation failed, serving fallback",
			"surfaceID", surfaceID, "error", err)
		surface = fallbackSurface(surfaceID, req.Prompt)
	}

	if err := s.Update(surface); err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(surface); err != nil {
		slog.Error("write surface response", "error", err)
	}
}

func (s *Server) handleAction(w http.ResponseWriter, r *http.Request) {
	surfaceID := chi.URLParam(r, "surface")

	var req struct {
		Action string         `json:"action"`
		Data   map[string]any `json:"data,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Action == "" {
		writeJSONError(w, http.StatusBadRequest, "action is required")
		return
	}

	slog.Info("surface action", "surfaceID", surfaceID, "action", req.Action)
	if err := s.Publish(surfaceID, "action", req); err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"status":"ok","action":%q}`+"\n", req.Action)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	surfaceID := chi.URLParam(r, "surface")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch, unsubscribe := s.subscribe(surfaceID)
	defer unsubscribe()

	for {
		select {
		case <-r.Context().Done():
			return
		case frame := <-ch:
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", frame.event, frame.data)
			flusher.Flush()
		}
	}
}

// fallbackSurface is served when generation fails, so the client
// still renders something actionable.
func fallbackSurface(surfaceID, prompt string) *Surface {
	return NewBuilder(surfaceID).
		Text("title", "Assistant", "h2").
		Text("msg", "Received request: "+prompt, "body").
		Text("hint", "The interface could not be generated; try rephrasing.", "caption").
		Column("content", []string{"title", "msg", "hint"}, 16).
		Card("card", "content", 1).
		Surface("card")
}

func writeJSONError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
