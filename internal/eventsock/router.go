package eventsock

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/hubenschmidt/voice-streaming-gateway/internal/errs"
)

// connWriter serializes all writes to one client connection, so outbound
// events for a session are observed in the order emitted by C7/C9.
type connWriter struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *connWriter) emitJSON(name string, payload any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	body, err := json.Marshal(outboundEnvelope{Event: name, Payload: payload})
	if err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, body)
}

func (c *connWriter) emitFrame(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteMessage(websocket.BinaryMessage, data)
}

// Router multiplexes outbound events from the frame scheduler (C7) and the
// turn machine (C9) to the connection owning each session, dropping events
// for sessions that have since detached. It implements frame.Sink.
type Router struct {
	mu    sync.RWMutex
	conns map[string]*connWriter
}

// NewRouter creates an empty outbound event router.
func NewRouter() *Router {
	return &Router{conns: make(map[string]*connWriter)}
}

// Attach registers conn as the outbound target for sessionID.
func (r *Router) Attach(sessionID string, conn *websocket.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[sessionID] = &connWriter{conn: conn}
}

// Detach removes sessionID's outbound target. Subsequent Emit calls for
// this session are silently dropped; EmitFrame calls return an error.
func (r *Router) Detach(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.conns, sessionID)
}

func (r *Router) writer(sessionID string) *connWriter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.conns[sessionID]
}

// Emit sends a named JSON event to sessionID's connection, or drops it if
// the session has detached.
func (r *Router) Emit(sessionID, name string, payload any) {
	w := r.writer(sessionID)
	if w == nil {
		return
	}
	if err := w.emitJSON(name, payload); err != nil {
		slog.Error("eventsock: emit failed", "session_id", sessionID, "event", name, "error", err)
	}
}

// EmitFrame sends one raw binary PCM frame to sessionID's connection. A
// detached session is reported as an error so the scheduler treats it like
// a transport stall rather than silently leaking frames.
func (r *Router) EmitFrame(sessionID string, data []byte) error {
	w := r.writer(sessionID)
	if w == nil {
		return errs.New("eventsock.emit_frame", errs.SessionUnknown, fmt.Errorf("session %q detached", sessionID))
	}
	if err := w.emitFrame(data); err != nil {
		return errs.New("eventsock.emit_frame", errs.TransportStalled, err)
	}
	return nil
}
