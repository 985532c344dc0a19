package sttadapter

import (
	"bytes"
	"fmt"

	"github.com/go-audio/wav"
)

// decodeWAV parses a WAV container and returns mono float32 samples in
// [-1, 1] plus the file's native sample rate.
func decodeWAV(data []byte) ([]float32, int, error) {
	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		return nil, 0, fmt.Errorf("not a valid wav container")
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, 0, fmt.Errorf("read wav pcm: %w", err)
	}
	if buf.Format == nil || len(buf.Data) == 0 {
		return nil, 0, nil
	}

	channels := buf.Format.NumChannels
	if channels < 1 {
		channels = 1
	}
	bitDepth := buf.SourceBitDepth
	if bitDepth <= 0 {
		bitDepth = 16
	}
	maxAmp := float32(int64(1) << (bitDepth - 1))

	frameCount := len(buf.Data) / channels
	samples := make([]float32, frameCount)
	for i := 0; i < frameCount; i++ {
		var sum float32
		for c := 0; c < channels; c++ {
			sum += float32(buf.Data[i*channels+c]) / maxAmp
		}
		samples[i] = sum / float32(channels)
	}

	return samples, buf.Format.SampleRate, nil
}
