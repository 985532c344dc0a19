package ttsadapter

import (
	"context"

	"github.com/hubenschmidt/voice-streaming-gateway/internal/frame"
)

// frameSynthesizer adapts a Synthesizer to the frame package's Synthesizer
// contract. The two interfaces are structurally identical but distinct named
// types, so a concrete adapter is needed to cross the package boundary -
// interface-to-interface return values convert for free, only the method
// itself needs restating.
type frameSynthesizer struct {
	inner Synthesizer
}

func (f frameSynthesizer) Synthesize(ctx context.Context, text, voiceID string) (frame.Source, error) {
	return f.inner.Synthesize(ctx, text, voiceID)
}

// AsFrameSynthesizer exposes a Synthesizer to the frame scheduler (C7).
func AsFrameSynthesizer(s Synthesizer) frame.Synthesizer {
	return frameSynthesizer{inner: s}
}
