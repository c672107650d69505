// Package tracesink broadcasts runtime-entry trace events — IC misses,
// deoptimizations, OSR transitions, and function entry/exit — to
// WebSocket-attached observers. It is the `trace_*` flag family's
// wire: a boolean flag decides whether an event is worth building at
// all, and the sink decides whether it is worth sending right now.
//
// Narrowed from an arbitrary client-to-client WebSocket messaging
// pattern down to one server broadcasting one kind of payload: trace
// events.
package tracesink

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"sentra/internal/vmregister"
)

// EventKind names the family of events a trace_* flag gates.
type EventKind string

const (
	EventICMiss        EventKind = "ic_miss"
	EventMegamorphic   EventKind = "megamorphic"
	EventDeoptimize    EventKind = "deoptimize"
	EventOSR           EventKind = "osr"
	EventPatch         EventKind = "patch"
	EventFunctionEntry EventKind = "function_entry"
	EventFunctionExit  EventKind = "function_exit"
)

// Event is one broadcast payload. Fields are strings/primitives only —
// the sink never holds a reference to a managed Value, so it cannot
// interfere with GC or outlive the frame that produced it.
type Event struct {
	Kind      EventKind `json:"kind"`
	Function  string    `json:"function,omitempty"`
	ClassID   uint32    `json:"class_id,omitempty"`
	PC        int       `json:"pc,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// client is one attached observer's WebSocket connection.
type client struct {
	id   string
	conn *websocket.Conn
	mu   sync.Mutex
}

// Sink is a broadcast server: any number of observers connect over
// WebSocket and receive every Event passed to Broadcast as JSON text
// frames. There is no backchannel — observers are read-only.
type Sink struct {
	mu       sync.RWMutex
	clients  map[string]*client
	upgrader websocket.Upgrader
	server   *http.Server
	nextID   uint64
}

// New constructs a Sink with no listener started; call ListenAndServe to
// accept observers on addr.
func New() *Sink {
	return &Sink{
		clients: make(map[string]*client),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// ListenAndServe starts the HTTP server backing the WebSocket upgrade
// endpoint in the background and returns immediately; call Close to
// stop it.
func (s *Sink) ListenAndServe(addr string) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/trace", s.handleUpgrade)
	s.server = &http.Server{Addr: addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-time.After(50 * time.Millisecond):
		return nil
	}
}

func (s *Sink) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	s.mu.Lock()
	s.nextID++
	id := fmt.Sprintf("observer-%d", s.nextID)
	c := &client{id: id, conn: conn}
	s.clients[id] = c
	s.mu.Unlock()

	go s.readUntilClosed(c)
}

// readUntilClosed drains (and discards) frames from an observer so the
// underlying connection's read deadline machinery stays healthy, and
// removes the client once it disconnects.
func (s *Sink) readUntilClosed(c *client) {
	defer func() {
		s.mu.Lock()
		delete(s.clients, c.id)
		s.mu.Unlock()
		c.conn.Close()
	}()
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// Broadcast sends ev as JSON to every currently attached observer. A
// write failure drops that observer rather than failing the call —
// tracing is diagnostic-only and must never affect the mutator's
// control flow: a slow or dead observer is the sink's problem, not
// the engine's.
func (s *Sink) Broadcast(ev Event) {
	ev.Timestamp = time.Now()
	payload, err := json.Marshal(ev)
	if err != nil {
		return
	}

	s.mu.RLock()
	targets := make([]*client, 0, len(s.clients))
	for _, c := range s.clients {
		targets = append(targets, c)
	}
	s.mu.RUnlock()

	var dead []string
	for _, c := range targets {
		c.mu.Lock()
		err := c.conn.WriteMessage(websocket.TextMessage, payload)
		c.mu.Unlock()
		if err != nil {
			dead = append(dead, c.id)
		}
	}

	if len(dead) == 0 {
		return
	}
	s.mu.Lock()
	for _, id := range dead {
		delete(s.clients, id)
	}
	s.mu.Unlock()
}

// Emit implements engine.TraceEmitter, translating the core's discrete
// trace parameters into a broadcast Event. This is the only point of
// contact between the engine package and tracesink: engine never
// imports this package, it only holds a Sink behind the TraceEmitter
// interface.
func (s *Sink) Emit(kind, function string, classID vmregister.ClassID, pc int, detail string) {
	s.Broadcast(Event{
		Kind:     EventKind(kind),
		Function: function,
		ClassID:  uint32(classID),
		PC:       pc,
		Detail:   detail,
	})
}

// ObserverCount reports how many observers are currently attached.
func (s *Sink) ObserverCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// Close stops the listener and disconnects every observer.
func (s *Sink) Close() error {
	s.mu.Lock()
	for _, c := range s.clients {
		c.conn.Close()
	}
	s.clients = make(map[string]*client)
	srv := s.server
	s.mu.Unlock()

	if srv != nil {
		return srv.Close()
	}
	return nil
}
