package frame

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hubenschmidt/voice-streaming-gateway/internal/errs"
	"github.com/hubenschmidt/voice-streaming-gateway/internal/metrics"
)

// State is a stream's position in the Created → Running →
// {Completed | Errored | Cancelled} state machine. No other transitions
// are permitted.
type State int

const (
	StateCreated State = iota
	StateRunning
	StateCompleted
	StateErrored
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateErrored:
		return "errored"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Source is a cancellable, lazy sequence of float32 PCM chunks produced by a
// TTS adapter (C2). Chunks closes when the stream ends; Err reports the
// terminal error, if any, and is only meaningful once Chunks has closed.
type Source interface {
	Chunks() <-chan []float32
	Err() error
}

// Synthesizer resolves a Source for the given text and voice. An error
// returned here means the adapter failed before producing a first chunk.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, voiceID string) (Source, error)
}

// Feedback exposes a session's live, heartbeat-updated backpressure signal.
type Feedback interface {
	ClientBufferFrames() int
	ClientUnderruns() int
}

// Sink is how the scheduler talks back to the event router (C8). Emit sends
// a JSON-payload event; EmitFrame sends one binary frame and reports an
// error if the transport could not accept it promptly.
type Sink interface {
	Emit(sessionID, name string, payload any)
	EmitFrame(sessionID string, data []byte) error
}

// Handle is a single stream's live state, readable concurrently with the
// goroutine driving it.
type Handle struct {
	SessionID string
	StartedAt time.Time

	framesEmitted int64
	bytesEmitted  int64

	state int32
	cancel context.CancelFunc
	done   chan struct{}
}

func (h *Handle) State() State           { return State(atomic.LoadInt32(&h.state)) }
func (h *Handle) setState(s State)       { atomic.StoreInt32(&h.state, int32(s)) }
func (h *Handle) FramesEmitted() int64   { return atomic.LoadInt64(&h.framesEmitted) }
func (h *Handle) BytesEmitted() int64    { return atomic.LoadInt64(&h.bytesEmitted) }

// Cancel requests termination of the stream and blocks until it has fully
// stopped. Idempotent.
func (h *Handle) Cancel() {
	h.cancel()
	<-h.done
}

// Wait blocks until the stream reaches a terminal state on its own, without
// requesting cancellation.
func (h *Handle) Wait() {
	<-h.done
}

// Scheduler runs at most one active stream per session, per the session
// invariant "stream ≠ nil ⇔ phase = Speaking".
type Scheduler struct {
	mu      sync.Mutex
	streams map[string]*Handle
}

// NewScheduler returns an empty Scheduler.
func NewScheduler() *Scheduler {
	return &Scheduler{streams: make(map[string]*Handle)}
}

// Start begins a new streaming job for sessionID. If a stream already
// exists for the session, it is cancelled and awaited before the new one
// begins emitting frames, per spec.
func (s *Scheduler) Start(parent context.Context, sessionID string, synth Synthesizer, feedback Feedback, sink Sink, text, voiceID string) *Handle {
	s.mu.Lock()
	prev := s.streams[sessionID]
	s.mu.Unlock()
	if prev != nil {
		prev.Cancel()
	}

	streamCtx, cancel := context.WithCancel(parent)
	h := &Handle{
		SessionID: sessionID,
		StartedAt: time.Now(),
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	h.setState(StateCreated)

	s.mu.Lock()
	s.streams[sessionID] = h
	s.mu.Unlock()

	metrics.StreamsStarted.Inc()
	go s.run(streamCtx, h, synth, feedback, sink, text, voiceID)
	return h
}

// Stop cancels the active stream for sessionID, if any. Idempotent.
func (s *Scheduler) Stop(sessionID string) {
	s.mu.Lock()
	h := s.streams[sessionID]
	s.mu.Unlock()
	if h != nil {
		h.Cancel()
	}
}

// Active returns the currently running handle for sessionID, if any.
func (s *Scheduler) Active(sessionID string) *Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streams[sessionID]
}

func (s *Scheduler) run(ctx context.Context, h *Handle, synth Synthesizer, feedback Feedback, sink Sink, text, voiceID string) {
	defer func() {
		s.mu.Lock()
		if s.streams[h.SessionID] == h {
			delete(s.streams, h.SessionID)
		}
		s.mu.Unlock()
		h.cancel()
		close(h.done)
	}()

	h.setState(StateRunning)

	source, err := synth.Synthesize(ctx, text, voiceID)
	if err != nil {
		h.setState(StateErrored)
		kind := classifyTTSErr(err)
		metrics.Errors.WithLabelValues("tts", string(kind)).Inc()
		sink.Emit(h.SessionID, "tts_error", map[string]any{"error": err.Error(), "kind": string(kind)})
		return
	}

	sink.Emit(h.SessionID, "tts_started", map[string]any{})

	cond := NewConditioner()
	baseDelay := BaseDelay(feedback.ClientBufferFrames())
	nextDeadline := time.Now().Add(baseDelay)
	lastUnderruns := feedback.ClientUnderruns()
	lastEmit := time.Now()

	var cancelled, stalled bool

	emit := func(data []byte) bool {
		now := time.Now()
		if now.Before(nextDeadline) {
			timer := time.NewTimer(nextDeadline.Sub(now))
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return false
			}
		} else {
			select {
			case <-ctx.Done():
				return false
			default:
			}
		}

		stallCtx, stallCancel := context.WithTimeout(context.Background(), 2*baseDelay)
		defer stallCancel()
		writeErr := make(chan error, 1)
		go func() { writeErr <- sink.EmitFrame(h.SessionID, data) }()
		select {
		case werr := <-writeErr:
			if werr != nil {
				stalled = true
				return false
			}
		case <-stallCtx.Done():
			stalled = true
			return false
		}

		now = time.Now()
		metrics.InterFrameInterval.Observe(now.Sub(lastEmit).Seconds())
		lastEmit = now
		atomic.AddInt64(&h.framesEmitted, 1)
		atomic.AddInt64(&h.bytesEmitted, int64(len(data)))
		metrics.FramesEmitted.Inc()

		nextDeadline = nextDeadline.Add(baseDelay)
		if nextDeadline.Before(now.Add(-2 * baseDelay)) {
			nextDeadline = now.Add(baseDelay)
			metrics.PacingDriftReset.Inc()
		}

		cbf := feedback.ClientBufferFrames()
		underruns := feedback.ClientUnderruns()
		if cbf == 0 && underruns > lastUnderruns {
			metrics.PacingSlow.Inc()
		}
		lastUnderruns = underruns
		baseDelay = BaseDelay(cbf)
		return true
	}

	var streamErr error
drain:
	for chunk := range source.Chunks() {
		for _, f := range cond.Push(chunk) {
			if !emit(f) {
				if ctx.Err() == nil {
					stalled = true
				} else {
					cancelled = true
				}
				break drain
			}
		}
	}

	if !cancelled && !stalled {
		if sErr := source.Err(); sErr != nil {
			streamErr = sErr
		} else if last, ok := cond.Flush(); ok {
			if !emit(last) {
				if ctx.Err() == nil {
					stalled = true
				} else {
					cancelled = true
				}
			}
		}
	}

	switch {
	case cancelled:
		h.setState(StateCancelled)
		metrics.StreamsCancelled.Inc()
	case stalled:
		h.setState(StateCancelled)
		metrics.StreamsCancelled.Inc()
		metrics.Errors.WithLabelValues("frame_scheduler", string(errs.TransportStalled)).Inc()
	case streamErr != nil:
		h.setState(StateErrored)
		kind := classifyTTSErr(streamErr)
		metrics.Errors.WithLabelValues("tts", string(kind)).Inc()
		sink.Emit(h.SessionID, "tts_error", map[string]any{"error": streamErr.Error(), "kind": string(kind)})
	default:
		h.setState(StateCompleted)
		metrics.StreamsCompleted.Inc()
		sink.Emit(h.SessionID, "tts_completed", map[string]any{
			"frames":      h.FramesEmitted(),
			"bytes":       h.BytesEmitted(),
			"duration_ms": time.Since(h.StartedAt).Milliseconds(),
		})
	}
}

func classifyTTSErr(err error) errs.Kind {
	if k, ok := errs.KindOf(err); ok {
		return k
	}
	return errs.ProviderUnavailable
}
