// Package frame implements the signal-conditioning DSP stage (C1) and the
// paced frame scheduler (C7) that together turn a lazy stream of float32 TTS
// samples into a wall-clock-accurate sequence of 882-byte PCM frames.
package frame

import "math"

const (
	// SampleRate is the fixed on-wire sample rate, in Hz.
	SampleRate = 22050
	// Samples is the number of int16 samples per frame (20ms at SampleRate).
	Samples = 441
	// Bytes is the wire size of one frame: Samples * 2 (int16 LE).
	Bytes = Samples * 2

	gain  = 1.8
	alpha = 0.15
)

// Conditioner applies gain, one-pole IIR smoothing, and soft clipping to a
// stream of float32 samples, assembling the result into fixed 882-byte
// frames. State (the IIR history and the partially filled frame buffer) is
// private to one stream and must not be shared across streams.
type Conditioner struct {
	iirPrev float64
	pending []int16
}

// NewConditioner returns a Conditioner with zeroed filter state, as required
// for deterministic, reproducible output.
func NewConditioner() *Conditioner {
	return &Conditioner{pending: make([]int16, 0, Samples)}
}

// Push conditions samples and returns zero or more completed 882-byte
// frames. Samples that don't fill a complete frame are buffered until the
// next call or until Flush.
func (c *Conditioner) Push(samples []float32) [][]byte {
	var frames [][]byte
	for _, s := range samples {
		c.pending = append(c.pending, c.conditionOne(s))
		if len(c.pending) == Samples {
			frames = append(frames, encodeFrame(c.pending))
			c.pending = c.pending[:0]
		}
	}
	return frames
}

// Flush zero-pads any partially filled frame and returns it. It returns
// false if there is no pending data.
func (c *Conditioner) Flush() ([]byte, bool) {
	if len(c.pending) == 0 {
		return nil, false
	}
	padded := make([]int16, Samples)
	copy(padded, c.pending)
	c.pending = c.pending[:0]
	return encodeFrame(padded), true
}

func (c *Conditioner) conditionOne(s float32) int16 {
	x := float64(s) * gain
	c.iirPrev = alpha*x + (1-alpha)*c.iirPrev
	clipped := softClip(c.iirPrev)
	return quantize(clipped)
}

func softClip(x float64) float64 {
	switch {
	case x > 1:
		return 1 - math.Exp(-(x - 1))
	case x < -1:
		return -1 + math.Exp(-(math.Abs(x) - 1))
	default:
		return x
	}
}

func quantize(x float64) int16 {
	v := math.Round(x * math.MaxInt16)
	switch {
	case v > math.MaxInt16:
		return math.MaxInt16
	case v < math.MinInt16:
		return math.MinInt16
	default:
		return int16(v)
	}
}

func encodeFrame(samples []int16) []byte {
	buf := make([]byte, Bytes)
	for i, s := range samples {
		buf[i*2] = byte(uint16(s))
		buf[i*2+1] = byte(uint16(s) >> 8)
	}
	return buf
}
