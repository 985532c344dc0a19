package frame

import (
	"math"
	"testing"
)

func constSamples(n int, v float32) []float32 {
	s := make([]float32, n)
	for i := range s {
		s[i] = v
	}
	return s
}

func TestConditionerFrameLength(t *testing.T) {
	c := NewConditioner()
	frames := c.Push(constSamples(Samples, 0.1))
	if len(frames) != 1 {
		t.Fatalf("expected 1 frame, got %d", len(frames))
	}
	if len(frames[0]) != Bytes {
		t.Fatalf("expected %d bytes, got %d", Bytes, len(frames[0]))
	}
}

func TestConditionerDeterministic(t *testing.T) {
	samples := constSamples(Samples*3+100, 0.37)

	c1 := NewConditioner()
	var out1 [][]byte
	out1 = append(out1, c1.Push(samples)...)
	if last, ok := c1.Flush(); ok {
		out1 = append(out1, last)
	}

	c2 := NewConditioner()
	var out2 [][]byte
	out2 = append(out2, c2.Push(samples)...)
	if last, ok := c2.Flush(); ok {
		out2 = append(out2, last)
	}

	if len(out1) != len(out2) {
		t.Fatalf("frame count mismatch: %d vs %d", len(out1), len(out2))
	}
	for i := range out1 {
		if string(out1[i]) != string(out2[i]) {
			t.Fatalf("frame %d differs between runs", i)
		}
	}
}

func TestConditionerZeroSamplesProducesNoFrames(t *testing.T) {
	c := NewConditioner()
	frames := c.Push(nil)
	if len(frames) != 0 {
		t.Fatalf("expected no frames, got %d", len(frames))
	}
	if _, ok := c.Flush(); ok {
		t.Fatalf("expected no pending data to flush")
	}
}

func TestConditionerPartialFrameZeroPadded(t *testing.T) {
	c := NewConditioner()
	total := Samples + 100
	frames := c.Push(constSamples(total, 0.2))
	if len(frames) != 1 {
		t.Fatalf("expected 1 full frame before flush, got %d", len(frames))
	}
	last, ok := c.Flush()
	if !ok {
		t.Fatalf("expected a trailing partial frame")
	}
	if len(last) != Bytes {
		t.Fatalf("expected padded frame of %d bytes, got %d", Bytes, len(last))
	}
	expectedFrames := int(math.Ceil(float64(total) / float64(Samples)))
	if expectedFrames != 2 {
		t.Fatalf("test setup invariant broken: expected 2 frames total, got %d", expectedFrames)
	}
	// the tail 100 samples are conditioned, the remaining 341 must be silence (zero)
	for i := 100; i < Samples; i++ {
		lo := last[i*2]
		hi := last[i*2+1]
		if lo != 0 || hi != 0 {
			t.Fatalf("expected zero padding at sample %d, got bytes %d,%d", i, lo, hi)
		}
	}
}

func TestSoftClipBounded(t *testing.T) {
	c := NewConditioner()
	// large constant input should converge but never produce a value that
	// decodes outside int16 range; quantize already clamps, so just
	// verify we don't panic and frames are emitted.
	frames := c.Push(constSamples(Samples, 5.0))
	if len(frames) != 1 {
		t.Fatalf("expected 1 frame, got %d", len(frames))
	}
}

func TestIIRConvergence(t *testing.T) {
	c := NewConditioner()
	const x = 0.3
	frames := c.Push(constSamples(Samples, x))
	if len(frames) != 1 {
		t.Fatalf("expected 1 frame")
	}
	// last sample in the frame should be close to gain*x (below soft-clip
	// threshold, so soft clip is a no-op) after ~30 samples of convergence.
	lastIdx := Samples - 1
	lo := frames[0][lastIdx*2]
	hi := frames[0][lastIdx*2+1]
	got := int16(uint16(lo) | uint16(hi)<<8)
	want := gain * x
	gotF := float64(got) / math.MaxInt16
	if math.Abs(gotF-want) > 0.02 {
		t.Fatalf("expected convergence near %f, got %f", want, gotF)
	}
}
