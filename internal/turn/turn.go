// Package turn coordinates STT → Memory.next_response → Scheduler.start
// for a voice turn and Memory.next_response → Scheduler.start for a text
// turn (C9), enforcing the session phase transition table and serializing
// all transitions per session.
package turn

import (
	"context"
	"log/slog"
	"time"

	"github.com/hubenschmidt/voice-streaming-gateway/internal/errs"
	"github.com/hubenschmidt/voice-streaming-gateway/internal/frame"
	"github.com/hubenschmidt/voice-streaming-gateway/internal/llmadapter"
	"github.com/hubenschmidt/voice-streaming-gateway/internal/memory"
	"github.com/hubenschmidt/voice-streaming-gateway/internal/metrics"
	"github.com/hubenschmidt/voice-streaming-gateway/internal/session"
	"github.com/hubenschmidt/voice-streaming-gateway/internal/sttadapter"
	"github.com/hubenschmidt/voice-streaming-gateway/internal/ttsadapter"
)

// Diagnostics records session lifecycle, per-stage durations, and error
// kinds for offline inspection. A nil Diagnostics on Config disables
// recording entirely; satisfied by *diagnostics.Store.
type Diagnostics interface {
	RecordSessionStart(sessionID string) error
	RecordSessionEnd(sessionID string) error
	RecordStage(sessionID, stage string, duration time.Duration) error
	RecordError(sessionID, stage string, kind errs.Kind) error
}

// Config bundles the collaborators and tunables the machine drives.
type Config struct {
	Sessions      *session.Store
	Memory        *memory.Memory
	Transcriber   sttadapter.Transcriber
	Completer     llmadapter.Completer
	Scheduler     *frame.Scheduler
	Sink          frame.Sink
	Diagnostics   Diagnostics
	LLMEngine     string
	TTSEngine     string
	DefaultVoice  string
	STTTimeout    time.Duration
	LLMTimeout    time.Duration
	resolveTTS    func(engine string) (ttsadapter.Synthesizer, error)
}

// recordStage logs a stage duration to the optional diagnostics store,
// warning (not failing the turn) on a write error.
func (m *Machine) recordStage(sessionID, stage string, d time.Duration) {
	if m.cfg.Diagnostics == nil {
		return
	}
	if err := m.cfg.Diagnostics.RecordStage(sessionID, stage, d); err != nil {
		slog.Warn("diagnostics: record stage failed", "session_id", sessionID, "stage", stage, "error", err)
	}
}

// recordError logs an error kind to the optional diagnostics store.
func (m *Machine) recordError(sessionID, stage string, kind errs.Kind) {
	if m.cfg.Diagnostics == nil {
		return
	}
	if err := m.cfg.Diagnostics.RecordError(sessionID, stage, kind); err != nil {
		slog.Warn("diagnostics: record error failed", "session_id", sessionID, "stage", stage, "error", err)
	}
}

// NewConfig wires a Config; resolveTTS resolves the named TTS engine (or
// fallback) to a concrete Synthesizer, typically ttsadapter.MultiSynthesizer.Resolve.
func NewConfig(sessions *session.Store, mem *memory.Memory, transcriber sttadapter.Transcriber, completer llmadapter.Completer, scheduler *frame.Scheduler, sink frame.Sink, resolveTTS func(string) (ttsadapter.Synthesizer, error)) *Config {
	return &Config{
		Sessions:     sessions,
		Memory:       mem,
		Transcriber:  transcriber,
		Completer:    completer,
		Scheduler:    scheduler,
		Sink:         sink,
		DefaultVoice: "default",
		STTTimeout:   30 * time.Second,
		LLMTimeout:   30 * time.Second,
		resolveTTS:   resolveTTS,
	}
}

// Machine applies inbound events to sessions, driving C3/C4/C7 as needed.
type Machine struct {
	cfg *Config
}

// New creates a Machine over cfg.
func New(cfg *Config) *Machine {
	return &Machine{cfg: cfg}
}

func (m *Machine) rejectInvalidState(s *session.Session, op string) {
	metrics.Errors.WithLabelValues(op, string(errs.InvalidState)).Inc()
	m.cfg.Sink.Emit(s.ID, "transcription_error", map[string]any{
		"error": "event not valid for current phase",
		"kind":  string(errs.InvalidState),
	})
}

// StartVoiceRecording handles start_voice_recording: Idle → Listening.
func (m *Machine) StartVoiceRecording(s *session.Session) {
	s.LockHandler()
	defer s.UnlockHandler()

	if !s.TryTransition([]session.Phase{session.PhaseIdle}, session.PhaseListening) {
		m.rejectInvalidState(s, "start_voice_recording")
		return
	}
	s.ClearAudio()
	s.Touch()
	m.cfg.Sink.Emit(s.ID, "voice_recording_started", map[string]any{})
}

// VoiceChunk handles voice_chunk: append while Listening, else reject
// silently (the client is expected to have observed the phase already).
func (m *Machine) VoiceChunk(s *session.Session, format string, data []byte) {
	s.LockHandler()
	defer s.UnlockHandler()
	s.AppendAudio(format, data)
	s.Touch()
}

// CancelVoiceInput handles cancel_voice_input: Listening → Idle, discarding
// the buffer. No transcription event is emitted for the cancelled
// recording.
func (m *Machine) CancelVoiceInput(s *session.Session) {
	s.LockHandler()
	defer s.UnlockHandler()

	if !s.TryTransition([]session.Phase{session.PhaseListening}, session.PhaseIdle) {
		m.rejectInvalidState(s, "cancel_voice_input")
		return
	}
	s.ClearAudio()
	s.Touch()
}

// StopVoiceRecording handles stop_voice_recording: Listening → Transcribing,
// then runs the STT → LLM → TTS chain on the accumulated buffer.
func (m *Machine) StopVoiceRecording(ctx context.Context, s *session.Session) {
	s.LockHandler()
	if !s.TryTransition([]session.Phase{session.PhaseListening}, session.PhaseTranscribing) {
		m.rejectInvalidState(s, "stop_voice_recording")
		s.UnlockHandler()
		return
	}
	data, format := s.DrainAudio()
	s.Touch()
	s.UnlockHandler()

	m.transcribeAndRespond(ctx, s, data, format)
}

// VoiceData handles voice_data: replaces audio_in wholesale and transitions
// to Transcribing, running the same chain. It is accepted from Idle as well
// as Listening; an Idle session passes through Listening first.
func (m *Machine) VoiceData(ctx context.Context, s *session.Session, format string, data []byte) {
	s.LockHandler()
	s.TryTransition([]session.Phase{session.PhaseIdle}, session.PhaseListening)
	if !s.ReplaceAudio(format, data) {
		m.rejectInvalidState(s, "voice_data")
		s.UnlockHandler()
		return
	}
	if !s.TryTransition([]session.Phase{session.PhaseListening}, session.PhaseTranscribing) {
		s.UnlockHandler()
		return
	}
	drained, drainedFormat := s.DrainAudio()
	s.Touch()
	s.UnlockHandler()

	m.transcribeAndRespond(ctx, s, drained, drainedFormat)
}

// transcribeAndRespond runs C3 then, on success, the Thinking → Speaking
// chain. Any failure returns the session to Idle.
func (m *Machine) transcribeAndRespond(ctx context.Context, s *session.Session, data []byte, format string) {
	m.cfg.Sink.Emit(s.ID, "transcription_started", map[string]any{})

	sttCtx, cancel := context.WithTimeout(ctx, m.cfg.STTTimeout)
	start := time.Now()
	text, err := m.cfg.Transcriber.Transcribe(sttCtx, data, format)
	cancel()
	metrics.StageDuration.WithLabelValues("stt").Observe(time.Since(start).Seconds())
	m.recordStage(s.ID, "stt", time.Since(start))

	if err != nil {
		kind := errs.ProviderUnavailable
		if ctx.Err() != nil {
			kind = errs.TransportStalled
		} else if k, ok := errs.KindOf(err); ok {
			kind = k
		}
		metrics.Errors.WithLabelValues("stt", string(kind)).Inc()
		m.recordError(s.ID, "stt", kind)
		s.SetPhase(session.PhaseIdle)
		m.cfg.Sink.Emit(s.ID, "transcription_error", map[string]any{"error": err.Error(), "kind": string(kind)})
		return
	}

	if text == "" {
		s.SetPhase(session.PhaseIdle)
		return
	}

	m.cfg.Sink.Emit(s.ID, "transcription_complete", map[string]any{"text": text})

	m.cfg.Memory.AppendUser(text)
	if !s.TryTransition([]session.Phase{session.PhaseTranscribing}, session.PhaseThinking) {
		return
	}
	m.think(ctx, s)
}

// ConversationTextInput handles conversation_text_input: Idle → Thinking,
// appending the user turn directly (no STT stage).
func (m *Machine) ConversationTextInput(ctx context.Context, s *session.Session, text string) {
	s.LockHandler()
	if !s.TryTransition([]session.Phase{session.PhaseIdle}, session.PhaseThinking) {
		m.rejectInvalidState(s, "conversation_text_input")
		s.UnlockHandler()
		return
	}
	s.Touch()
	s.UnlockHandler()

	m.cfg.Memory.AppendUser(text)
	m.think(ctx, s)
}

// think runs C4/C5's next_response and, on success, immediately starts a
// Speaking stream with the reply (auto-TTS: there is no separate step
// awaiting a client request to speak).
func (m *Machine) think(ctx context.Context, s *session.Session) {
	m.cfg.Sink.Emit(s.ID, "ai_thinking", map[string]any{})

	llmCtx, cancel := context.WithTimeout(ctx, m.cfg.LLMTimeout)
	start := time.Now()
	reply, err := m.cfg.Memory.NextResponse(llmCtx, m.cfg.Completer, m.cfg.LLMEngine, nil)
	cancel()
	metrics.StageDuration.WithLabelValues("llm").Observe(time.Since(start).Seconds())
	m.recordStage(s.ID, "llm", time.Since(start))

	if err != nil {
		kind := errs.ProviderUnavailable
		if ctx.Err() != nil {
			kind = errs.TransportStalled
		} else if k, ok := errs.KindOf(err); ok {
			kind = k
		}
		metrics.Errors.WithLabelValues("llm", string(kind)).Inc()
		m.recordError(s.ID, "llm", kind)
		reply = "Sorry, I couldn't come up with a reply just now."
		s.SetPhase(session.PhaseIdle)
		m.cfg.Sink.Emit(s.ID, "ai_response_complete", map[string]any{"text": reply})
		return
	}

	m.cfg.Sink.Emit(s.ID, "ai_response_complete", map[string]any{"text": reply})

	if !s.TryTransition([]session.Phase{session.PhaseThinking}, session.PhaseSpeaking) {
		return
	}
	m.speak(ctx, s, reply, m.cfg.DefaultVoice)
}

// StartTTS handles start_tts: a direct Speaking stream from literal text,
// valid from Idle or Speaking (replacing any prior stream); does not touch
// memory.
func (m *Machine) StartTTS(ctx context.Context, s *session.Session, text, voiceID string) {
	s.LockHandler()
	if !s.TryTransition([]session.Phase{session.PhaseIdle, session.PhaseSpeaking}, session.PhaseSpeaking) {
		m.rejectInvalidState(s, "start_tts")
		s.UnlockHandler()
		return
	}
	s.Touch()
	s.UnlockHandler()

	if voiceID == "" {
		voiceID = m.cfg.DefaultVoice
	}
	m.speak(ctx, s, text, voiceID)
}

// StopTTS handles stop_tts: cancels the active stream, idempotent.
func (m *Machine) StopTTS(s *session.Session) {
	m.cfg.Scheduler.Stop(s.ID)
}

// speak resolves the configured TTS engine and starts a stream, wiring a
// background watcher that returns the session to Idle once the stream
// reaches a terminal state (unless a newer stream has since replaced it).
func (m *Machine) speak(ctx context.Context, s *session.Session, text, voiceID string) {
	backend, err := m.cfg.resolveTTS(m.cfg.TTSEngine)
	if err != nil {
		s.SetPhase(session.PhaseIdle)
		metrics.Errors.WithLabelValues("tts", string(errs.ProviderUnavailable)).Inc()
		m.recordError(s.ID, "tts", errs.ProviderUnavailable)
		m.cfg.Sink.Emit(s.ID, "tts_error", map[string]any{"error": err.Error(), "kind": string(errs.ProviderUnavailable)})
		return
	}

	h := m.cfg.Scheduler.Start(ctx, s.ID, ttsadapter.AsFrameSynthesizer(backend), s, m.cfg.Sink, text, voiceID)
	s.SetStreamSpeaking(h)

	go func() {
		h.Wait()
		s.ClearStreamIfCurrent(h)
	}()
}

// AudioBufferStatus handles audio_buffer_status: updates backpressure
// feedback, never surfaced to application logic.
func (m *Machine) AudioBufferStatus(s *session.Session, bufferFrames, underruns int) {
	s.UpdateFeedback(bufferFrames, underruns)
	s.Touch()
}

// Heartbeat handles heartbeat: ack only, updates last_activity_at.
func (m *Machine) Heartbeat(s *session.Session, t int64) {
	s.Touch()
	m.cfg.Sink.Emit(s.ID, "heartbeat_ack", map[string]any{"t": t})
}

// ClearConversation handles clear_conversation: resets memory, preserving
// the system turn.
func (m *Machine) ClearConversation(s *session.Session) {
	m.cfg.Memory.Reset()
}
