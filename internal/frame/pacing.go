package frame

import "time"

// BaseDelay selects the inter-frame pacing interval from the adaptive
// pacing table, driven by the client's last-reported outbound buffer depth.
func BaseDelay(clientBufferFrames int) time.Duration {
	switch {
	case clientBufferFrames > 100:
		return 14 * time.Millisecond
	case clientBufferFrames >= 40:
		return 16 * time.Millisecond
	default:
		return 20 * time.Millisecond
	}
}
