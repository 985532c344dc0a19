package eventsock

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/hubenschmidt/voice-streaming-gateway/internal/diagnostics"
	"github.com/hubenschmidt/voice-streaming-gateway/internal/session"
	"github.com/hubenschmidt/voice-streaming-gateway/internal/turn"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  16384,
	WriteBufferSize: 16384,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Handler upgrades incoming connections and runs one session loop per
// client, dispatching inbound events to the turn machine (C9).
type Handler struct {
	sessions *session.Store
	machine  *turn.Machine
	router   *Router
	diag     *diagnostics.Store
}

// NewHandler wires a Handler against the shared session store, turn
// machine, and outbound event router. diag may be nil to disable
// session-lifecycle recording.
func NewHandler(sessions *session.Store, machine *turn.Machine, router *Router, diag *diagnostics.Store) *Handler {
	return &Handler{sessions: sessions, machine: machine, router: router, diag: diag}
}

// ServeHTTP upgrades the connection and runs its session loop until the
// client disconnects.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("eventsock: upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	h.runSession(conn)
}

func (h *Handler) runSession(conn *websocket.Conn) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sessionID := uuid.NewString()
	s := h.sessions.GetOrCreate(sessionID)
	h.router.Attach(sessionID, conn)

	if h.diag != nil {
		if err := h.diag.RecordSessionStart(sessionID); err != nil {
			slog.Warn("diagnostics: record session start failed", "session_id", sessionID, "error", err)
		}
	}

	slog.Info("eventsock: session started", "session_id", sessionID)

	defer func() {
		h.router.Detach(sessionID)
		h.sessions.Destroy(sessionID)
		if h.diag != nil {
			if err := h.diag.RecordSessionEnd(sessionID); err != nil {
				slog.Warn("diagnostics: record session end failed", "session_id", sessionID, "error", err)
			}
		}
		slog.Info("eventsock: session ended", "session_id", sessionID)
	}()

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		h.dispatch(ctx, s, data)
	}
}

func (h *Handler) dispatch(ctx context.Context, s *session.Session, data []byte) {
	var env inboundEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		slog.Warn("eventsock: malformed inbound frame", "error", err)
		return
	}

	switch env.Event {
	case "start_voice_recording":
		h.machine.StartVoiceRecording(s)

	case "voice_chunk":
		var p voiceChunkPayload
		if json.Unmarshal(env.Payload, &p) == nil {
			h.machine.VoiceChunk(s, p.Format, p.Data)
		}

	case "voice_data":
		var p voiceDataPayload
		if json.Unmarshal(env.Payload, &p) == nil {
			h.machine.VoiceData(ctx, s, p.Format, p.Data)
		}

	case "stop_voice_recording":
		h.machine.StopVoiceRecording(ctx, s)

	case "cancel_voice_input":
		h.machine.CancelVoiceInput(s)

	case "conversation_text_input":
		var p textInputPayload
		if json.Unmarshal(env.Payload, &p) == nil {
			h.machine.ConversationTextInput(ctx, s, p.Text)
		}

	case "start_tts":
		var p startTTSPayload
		if json.Unmarshal(env.Payload, &p) == nil {
			h.machine.StartTTS(ctx, s, p.Text, p.VoiceID)
		}

	case "stop_tts":
		h.machine.StopTTS(s)

	case "audio_buffer_status":
		var p audioBufferStatusPayload
		if json.Unmarshal(env.Payload, &p) == nil {
			h.machine.AudioBufferStatus(s, p.BufferFrames, p.UnderrunCount)
		}

	case "heartbeat":
		var p heartbeatPayload
		if json.Unmarshal(env.Payload, &p) == nil {
			h.machine.Heartbeat(s, p.T)
		}

	case "clear_conversation":
		h.machine.ClearConversation(s)

	default:
		slog.Warn("eventsock: unknown inbound event", "event", env.Event)
	}
}
