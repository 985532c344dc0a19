package turn

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hubenschmidt/voice-streaming-gateway/internal/errs"
	"github.com/hubenschmidt/voice-streaming-gateway/internal/frame"
	"github.com/hubenschmidt/voice-streaming-gateway/internal/llmadapter"
	"github.com/hubenschmidt/voice-streaming-gateway/internal/memory"
	"github.com/hubenschmidt/voice-streaming-gateway/internal/session"
	"github.com/hubenschmidt/voice-streaming-gateway/internal/ttsadapter"
)

type recordedEvent struct {
	name    string
	payload any
}

type fakeSink struct {
	mu     sync.Mutex
	events []recordedEvent
	frames int
}

func newFakeSink() *fakeSink { return &fakeSink{} }

func (f *fakeSink) Emit(sessionID, name string, payload any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, recordedEvent{name: name, payload: payload})
}

func (f *fakeSink) EmitFrame(sessionID string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames++
	return nil
}

func (f *fakeSink) frameCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.frames
}

func (f *fakeSink) has(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range f.events {
		if e.name == name {
			return true
		}
	}
	return false
}

type fakeSource struct {
	chunks chan []float32
}

func (s *fakeSource) Chunks() <-chan []float32 { return s.chunks }
func (s *fakeSource) Err() error                { return nil }

func literalSource(totalSamples int) ttsadapter.Source {
	ch := make(chan []float32, 1)
	samples := make([]float32, totalSamples)
	ch <- samples
	close(ch)
	return &fakeSource{chunks: ch}
}

type fakeSynth struct{ samples int }

func (f *fakeSynth) Synthesize(ctx context.Context, text, voiceID string) (ttsadapter.Source, error) {
	return literalSource(f.samples), nil
}

type fakeTranscriber struct {
	text string
	err  error
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, data []byte, format string) (string, error) {
	return f.text, f.err
}

type fakeCompleter struct {
	reply string
	err   error
}

func (f *fakeCompleter) Complete(ctx context.Context, systemPrompt string, history []llmadapter.Message, userMessage, engine string, onToken llmadapter.TokenCallback) (*llmadapter.Result, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &llmadapter.Result{Text: f.reply}, nil
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met before deadline")
}

func newMachine(sink *fakeSink, synth ttsadapter.Synthesizer, transcriber *fakeTranscriber, completer *fakeCompleter) (*Machine, *session.Store) {
	store := session.NewStore()
	mem := memory.New("be helpful", 50)
	sched := frame.NewScheduler()
	cfg := NewConfig(store, mem, transcriber, completer, sched, sink, func(string) (ttsadapter.Synthesizer, error) {
		return synth, nil
	})
	return New(cfg), store
}

func TestStartTTSDirectLiteralText(t *testing.T) {
	sink := newFakeSink()
	m, store := newMachine(sink, &fakeSynth{samples: 441 * 3}, nil, nil)
	s := store.GetOrCreate("sess1")

	m.StartTTS(context.Background(), s, "Hi.", "")
	waitFor(t, func() bool { return s.Phase() == session.PhaseIdle })

	if !sink.has("tts_started") || !sink.has("tts_completed") {
		t.Fatalf("expected tts_started and tts_completed, got %+v", sink.events)
	}
	if sink.frameCount() != 3 {
		t.Fatalf("expected 3 frames, got %d", sink.frameCount())
	}
}

func TestConversationTextInputAutoSpeaks(t *testing.T) {
	sink := newFakeSink()
	m, store := newMachine(sink, &fakeSynth{samples: 441 * 10}, nil, &fakeCompleter{reply: "hello there"})
	s := store.GetOrCreate("sess1")

	m.ConversationTextInput(context.Background(), s, "Say hello.")
	waitFor(t, func() bool { return s.Phase() == session.PhaseIdle })

	if !sink.has("ai_thinking") || !sink.has("ai_response_complete") || !sink.has("tts_started") || !sink.has("tts_completed") {
		t.Fatalf("missing expected events: %+v", sink.events)
	}
}

func TestVoiceTurnHappyPath(t *testing.T) {
	sink := newFakeSink()
	m, store := newMachine(sink, &fakeSynth{samples: 441 * 5}, &fakeTranscriber{text: "what is the weather"}, &fakeCompleter{reply: "sunny"})
	s := store.GetOrCreate("sess1")

	m.StartVoiceRecording(s)
	m.VoiceChunk(s, "wav", []byte("chunk1"))
	m.StopVoiceRecording(context.Background(), s)

	waitFor(t, func() bool { return s.Phase() == session.PhaseIdle })

	order := []string{"voice_recording_started", "transcription_started", "transcription_complete", "ai_thinking", "ai_response_complete", "tts_started", "tts_completed"}
	for _, name := range order {
		if !sink.has(name) {
			t.Fatalf("missing event %q: %+v", name, sink.events)
		}
	}
}

func TestCancelVoiceInputClearsBufferNoTranscription(t *testing.T) {
	sink := newFakeSink()
	m, store := newMachine(sink, &fakeSynth{samples: 0}, &fakeTranscriber{text: "unused"}, &fakeCompleter{reply: "unused"})
	s := store.GetOrCreate("sess1")

	m.StartVoiceRecording(s)
	m.VoiceChunk(s, "wav", []byte("chunk"))
	m.CancelVoiceInput(s)

	if s.Phase() != session.PhaseIdle {
		t.Fatalf("expected Idle after cancel, got %v", s.Phase())
	}
	if sink.has("transcription_started") {
		t.Fatalf("expected no transcription event for cancelled recording")
	}
}

func TestUnsupportedAudioFormatReturnsToIdle(t *testing.T) {
	sink := newFakeSink()
	m, store := newMachine(sink, &fakeSynth{}, &fakeTranscriber{err: errs.New("stt.transcribe", errs.AudioUnsupported, errors.New("unsupported"))}, &fakeCompleter{})
	s := store.GetOrCreate("sess1")

	m.VoiceData(context.Background(), s, "flac", []byte("not-audio"))
	waitFor(t, func() bool { return s.Phase() == session.PhaseIdle })

	if !sink.has("transcription_error") {
		t.Fatalf("expected transcription_error, got %+v", sink.events)
	}
	found := false
	for _, e := range sink.events {
		if e.name != "transcription_error" {
			continue
		}
		if m, ok := e.payload.(map[string]any); ok && m["kind"] == string(errs.AudioUnsupported) {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected AudioUnsupported kind in transcription_error payload")
	}
}

func TestInvalidStateRejectedWithoutPhaseChange(t *testing.T) {
	sink := newFakeSink()
	m, store := newMachine(sink, &fakeSynth{}, nil, nil)
	s := store.GetOrCreate("sess1")

	m.StopVoiceRecording(context.Background(), s) // Idle, not Listening
	if s.Phase() != session.PhaseIdle {
		t.Fatalf("expected phase to remain Idle, got %v", s.Phase())
	}
	if !sink.has("transcription_error") {
		t.Fatalf("expected transcription_error-shaped InvalidState ack")
	}
}

func TestStartTTSReplacesPriorStream(t *testing.T) {
	sink := newFakeSink()
	m, store := newMachine(sink, &fakeSynth{samples: 441 * 2}, nil, nil)
	s := store.GetOrCreate("sess1")

	m.StartTTS(context.Background(), s, "first", "")
	m.StartTTS(context.Background(), s, "second", "")
	waitFor(t, func() bool { return s.Phase() == session.PhaseIdle })

	count := 0
	for _, e := range sink.events {
		if e.name == "tts_started" {
			count++
		}
	}
	if count != 2 {
		t.Fatalf("expected 2 tts_started events across replace, got %d", count)
	}
}
