// Package session holds the per-client bundle of state (C6): current
// phase, inbound audio buffer, active stream handle, and client-reported
// backpressure feedback.
package session

import (
	"sync"
	"time"

	"github.com/hubenschmidt/voice-streaming-gateway/internal/frame"
	"github.com/hubenschmidt/voice-streaming-gateway/internal/metrics"
)

// Phase is a session's position in the turn state machine (C9).
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseListening
	PhaseTranscribing
	PhaseThinking
	PhaseSpeaking
	PhaseError
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseListening:
		return "listening"
	case PhaseTranscribing:
		return "transcribing"
	case PhaseThinking:
		return "thinking"
	case PhaseSpeaking:
		return "speaking"
	case PhaseError:
		return "error"
	default:
		return "unknown"
	}
}

// DefaultClientBufferFrames is the assumed outbound buffer depth before the
// first heartbeat arrives.
const DefaultClientBufferFrames = 60

// Session is one connected client's state. All mutation goes through
// methods that hold mu, serializing writers within a session; the store
// allows distinct sessions to be mutated concurrently.
type Session struct {
	ID string

	// serial serializes whole inbound-event handlers (C9) for this session,
	// distinct from mu which only guards individual field reads/writes.
	serial sync.Mutex

	mu                 sync.Mutex
	phase              Phase
	audioIn            []byte
	audioInFormat      string
	stream             *frame.Handle
	clientBufferFrames int
	clientUnderruns    int
	createdAt          time.Time
	lastActivityAt     time.Time
}

// New creates a session in Idle phase with default feedback values.
func New(id string) *Session {
	now := time.Now()
	return &Session{
		ID:                 id,
		phase:              PhaseIdle,
		clientBufferFrames: DefaultClientBufferFrames,
		createdAt:          now,
		lastActivityAt:     now,
	}
}

// Phase returns the current phase.
func (s *Session) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// SetPhase transitions the session to p. Callers (C9) are responsible for
// validating the transition before calling this.
func (s *Session) SetPhase(p Phase) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.phase = p
}

// LockHandler serializes a full inbound-event handler for this session; C9
// holds it for the duration of one event's processing so transitions never
// interleave within a session.
func (s *Session) LockHandler()   { s.serial.Lock() }
func (s *Session) UnlockHandler() { s.serial.Unlock() }

// TryTransition atomically moves the session from one of the allowed
// phases to next, returning false (no mutation) if the current phase is
// not among allowed. This is how C9 enforces the transition table without
// a separate check-then-set race.
func (s *Session) TryTransition(allowed []Phase, next Phase) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range allowed {
		if s.phase == p {
			s.phase = next
			return true
		}
	}
	return false
}

// Touch updates last_activity_at to now.
func (s *Session) Touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActivityAt = time.Now()
}

// LastActivity returns the last recorded activity timestamp.
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivityAt
}

// AppendAudio appends a chunk to audio_in iff the session is Listening, and
// records its format. Returns false (no-op) if not Listening.
func (s *Session) AppendAudio(format string, data []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase != PhaseListening {
		return false
	}
	s.audioInFormat = format
	s.audioIn = append(s.audioIn, data...)
	return true
}

// ReplaceAudio replaces audio_in wholesale iff Listening (used by
// voice_data, which both sets the buffer and transitions out of
// Listening in one inbound event).
func (s *Session) ReplaceAudio(format string, data []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase != PhaseListening {
		return false
	}
	s.audioInFormat = format
	s.audioIn = append([]byte(nil), data...)
	return true
}

// DrainAudio returns and clears the accumulated buffer and its format.
func (s *Session) DrainAudio() ([]byte, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data := s.audioIn
	fmtName := s.audioInFormat
	s.audioIn = nil
	s.audioInFormat = ""
	return data, fmtName
}

// ClearAudio discards the accumulated buffer without returning it.
func (s *Session) ClearAudio() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audioIn = nil
	s.audioInFormat = ""
}

// Stream returns the active stream handle, or nil.
func (s *Session) Stream() *frame.Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stream
}

// SetStreamSpeaking installs h as the active stream and moves the phase to
// Speaking in one critical section, so a concurrent ClearStreamIfCurrent for
// a handle being replaced can never observe a stream/phase pair that
// contradicts it.
func (s *Session) SetStreamSpeaking(h *frame.Handle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stream = h
	s.phase = PhaseSpeaking
}

// ClearStreamIfCurrent clears the stream and moves the phase to Idle, but
// only if h is still the installed stream. Reports whether it did so. A
// stream's own completion watcher uses this instead of a separate check-
// then-clear, which would race a replacement stream's SetStreamSpeaking
// call landing between the check and the clear.
func (s *Session) ClearStreamIfCurrent(h *frame.Handle) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stream != h {
		return false
	}
	s.stream = nil
	s.phase = PhaseIdle
	return true
}

// UpdateFeedback atomically records the latest client-reported buffer
// depth and underrun count, per an audio_buffer_status heartbeat.
func (s *Session) UpdateFeedback(bufferFrames, underruns int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clientBufferFrames = bufferFrames
	s.clientUnderruns = underruns
}

// ClientBufferFrames implements frame.Feedback.
func (s *Session) ClientBufferFrames() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clientBufferFrames
}

// ClientUnderruns implements frame.Feedback.
func (s *Session) ClientUnderruns() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clientUnderruns
}

// Snapshot is a point-in-time, diagnostics-safe view of a session. It never
// includes transcript or assistant text.
type Snapshot struct {
	ID                 string
	Phase              Phase
	ClientBufferFrames int
	ClientUnderruns    int
	AudioInBytes       int
	CreatedAt          time.Time
	LastActivityAt     time.Time
}

// Snap takes a consistent snapshot for diagnostics or admin inspection.
func (s *Session) Snap() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		ID:                 s.ID,
		Phase:              s.phase,
		ClientBufferFrames: s.clientBufferFrames,
		ClientUnderruns:    s.clientUnderruns,
		AudioInBytes:       len(s.audioIn),
		CreatedAt:          s.createdAt,
		LastActivityAt:     s.lastActivityAt,
	}
}

// Store holds all live sessions, keyed by SessionID. Distinct sessions may
// be mutated concurrently; GetOrCreate/Destroy only ever touch the map.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

// NewStore creates an empty session store.
func NewStore() *Store {
	return &Store{sessions: make(map[string]*Session)}
}

// GetOrCreate returns the existing session for id, or creates and records a
// new one.
func (st *Store) GetOrCreate(id string) *Session {
	st.mu.Lock()
	defer st.mu.Unlock()
	if s, ok := st.sessions[id]; ok {
		return s
	}
	s := New(id)
	st.sessions[id] = s
	metrics.SessionsActive.Inc()
	metrics.SessionsTotal.Inc()
	return s
}

// Get returns the session for id, or nil if absent.
func (st *Store) Get(id string) *Session {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.sessions[id]
}

// Destroy removes the session, cancelling its active stream and releasing
// its buffers.
func (st *Store) Destroy(id string) {
	st.mu.Lock()
	s, ok := st.sessions[id]
	delete(st.sessions, id)
	st.mu.Unlock()
	if !ok {
		return
	}
	if h := s.Stream(); h != nil {
		h.Cancel()
	}
	s.ClearAudio()
	metrics.SessionsActive.Dec()
}

// Snapshots returns a point-in-time snapshot of every live session, for
// diagnostics.
func (st *Store) Snapshots() []Snapshot {
	st.mu.Lock()
	sessions := make([]*Session, 0, len(st.sessions))
	for _, s := range st.sessions {
		sessions = append(sessions, s)
	}
	st.mu.Unlock()

	out := make([]Snapshot, len(sessions))
	for i, s := range sessions {
		out[i] = s.Snap()
	}
	return out
}
