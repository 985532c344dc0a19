package sttadapter

import "math"

// resample converts samples from srcRate to dstRate using linear
// interpolation. Returns the input unchanged if rates already match.
func resample(samples []float32, srcRate, dstRate int) []float32 {
	if srcRate == dstRate || len(samples) == 0 {
		return samples
	}

	ratio := float64(srcRate) / float64(dstRate)
	outLen := int(float64(len(samples)) / ratio)
	out := make([]float32, outLen)

	for i := range outLen {
		srcIdx := float64(i) * ratio
		idx := int(srcIdx)
		frac := float32(srcIdx - float64(idx))
		out[i] = interpolate(samples, idx, frac)
	}

	return out
}

func interpolate(samples []float32, idx int, frac float32) float32 {
	if idx+1 >= len(samples) {
		return samples[len(samples)-1]
	}
	return samples[idx]*(1-frac) + samples[idx+1]*frac
}

// energyDB returns the RMS energy of samples in decibels, or a large
// negative number for silence/empty input.
func energyDB(samples []float32) float64 {
	if len(samples) == 0 {
		return -120
	}
	var sumSquares float64
	for _, s := range samples {
		sumSquares += float64(s) * float64(s)
	}
	rms := sumSquares / float64(len(samples))
	if rms <= 0 {
		return -120
	}
	return 10 * math.Log10(rms)
}
