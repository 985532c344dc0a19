package ttsadapter

import "context"

// Source is a cancellable, lazy sequence of float32 PCM chunks. It
// structurally satisfies the frame.Source contract the scheduler (C7)
// consumes; the frame package does not import this one (bridge.go adapts
// a Synthesizer to frame.Synthesizer).
type Source interface {
	Chunks() <-chan []float32
	Err() error
}

// Synthesizer resolves a Source for the given text and voice.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, voiceID string) (Source, error)
}
