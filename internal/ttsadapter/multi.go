package ttsadapter

import (
	"context"

	"github.com/hubenschmidt/voice-streaming-gateway/internal/router"
)

// MultiSynthesizer dispatches Synthesize calls to one of several engine
// backends (e.g. distinct voice providers), falling back to a default
// engine, mirroring the teacher's per-engine TTS routing.
type MultiSynthesizer struct {
	route *router.Router[Synthesizer]
}

// NewMultiSynthesizer wraps backends behind a named-engine router.
func NewMultiSynthesizer(backends map[string]Synthesizer, fallback string) *MultiSynthesizer {
	return &MultiSynthesizer{route: router.New(backends, fallback)}
}

// Engines lists the registered engine names.
func (m *MultiSynthesizer) Engines() []string { return m.route.Engines() }

// Has reports whether engine is registered.
func (m *MultiSynthesizer) Has(engine string) bool { return m.route.Has(engine) }

// SynthesizeWithEngine resolves the named engine (or the fallback) and
// synthesizes against it.
func (m *MultiSynthesizer) SynthesizeWithEngine(ctx context.Context, engine, text, voiceID string) (Source, error) {
	backend, err := m.route.Route(engine)
	if err != nil {
		return nil, err
	}
	return backend.Synthesize(ctx, text, voiceID)
}

// Resolve returns the Synthesizer for the named engine (or the fallback),
// for callers that need to bind a specific backend before handing it to
// the frame scheduler.
func (m *MultiSynthesizer) Resolve(engine string) (Synthesizer, error) {
	return m.route.Route(engine)
}
