// Package eventsock is the gateway's event-based transport (C8): it
// demultiplexes inbound client events to the turn state machine (C9) and
// multiplexes outbound events — including raw PCM frames — back to the
// originating session only.
package eventsock

import "encoding/json"

// inboundEnvelope is the text-frame shape for every inbound event except
// pcm_frame (which only ever flows outbound).
type inboundEnvelope struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// outboundEnvelope is the text-frame shape for every outbound event except
// pcm_frame, which is sent as a raw binary message with no envelope.
type outboundEnvelope struct {
	Event   string `json:"event"`
	Payload any    `json:"payload"`
}

type voiceChunkPayload struct {
	Data   []byte `json:"data"`
	Format string `json:"format"`
}

type voiceDataPayload struct {
	Data   []byte `json:"data"`
	Format string `json:"format"`
}

type textInputPayload struct {
	Text string `json:"text"`
}

type startTTSPayload struct {
	Text    string `json:"text"`
	VoiceID string `json:"voice_id"`
}

type audioBufferStatusPayload struct {
	BufferFrames  int `json:"buffer_frames"`
	UnderrunCount int `json:"underrun_count"`
}

type heartbeatPayload struct {
	T int64 `json:"t"`
}
