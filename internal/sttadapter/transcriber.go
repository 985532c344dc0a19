// Package sttadapter implements the STT Adapter (C3): accepting an
// accumulated audio buffer in one of several container formats and
// returning a single transcript string.
package sttadapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/hubenschmidt/voice-streaming-gateway/internal/errs"
	"github.com/hubenschmidt/voice-streaming-gateway/internal/metrics"
)

// targetSampleRate is the rate the provider expects preprocessed audio at.
const targetSampleRate = 16000

// silenceFloorDB below which audio is treated as AudioEmpty.
const silenceFloorDB = -60

var supportedFormats = map[string]bool{
	"wav":  true,
	"webm": true,
	"mp3":  true,
	"m4a":  true,
	"mp4":  true,
}

// Transcriber is the C3 contract: transcribe(bytes, format) -> string.
type Transcriber interface {
	Transcribe(ctx context.Context, data []byte, format string) (string, error)
}

// HTTPTranscriber dispatches audio to an HTTP STT provider. WAV payloads
// are decoded locally to run the zero-energy check and to resample to
// 16kHz; other supported containers are forwarded as opaque bytes since
// decoding proprietary/compressed formats is the provider's job.
type HTTPTranscriber struct {
	baseURL string
	apiKey  string
	client  *http.Client
	timeout time.Duration
}

// NewHTTPTranscriber creates a transcriber against baseURL.
func NewHTTPTranscriber(baseURL, apiKey string, poolSize int, timeout time.Duration) *HTTPTranscriber {
	return &HTTPTranscriber{
		baseURL: baseURL,
		apiKey:  apiKey,
		client: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        poolSize,
				MaxIdleConnsPerHost: poolSize,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		timeout: timeout,
	}
}

// Transcribe accepts bytes in one of the accepted container formats and
// returns a trimmed plain-text transcript.
func (t *HTTPTranscriber) Transcribe(ctx context.Context, data []byte, format string) (string, error) {
	if !supportedFormats[strings.ToLower(format)] {
		return "", errs.New("stt.transcribe", errs.AudioUnsupported, fmt.Errorf("format %q not accepted", format))
	}
	if len(data) == 0 {
		return "", errs.New("stt.transcribe", errs.AudioEmpty, fmt.Errorf("empty audio buffer"))
	}

	uploadData := data
	uploadFormat := strings.ToLower(format)

	if uploadFormat == "wav" {
		samples, sampleRate, err := decodeWAV(data)
		if err != nil {
			return "", errs.New("stt.transcribe", errs.AudioUnsupported, err)
		}
		if energyDB(samples) < silenceFloorDB {
			return "", errs.New("stt.transcribe", errs.AudioEmpty, fmt.Errorf("zero-energy audio"))
		}
		resampled := resample(samples, sampleRate, targetSampleRate)
		uploadData = encodeWAV(resampled, targetSampleRate)
	}

	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	start := time.Now()
	text, err := t.dispatch(ctx, uploadData, uploadFormat)
	if err != nil {
		kind := errs.ProviderUnavailable
		if ctx.Err() != nil {
			kind = errs.ProviderTimeout
		} else if k, ok := errs.KindOf(err); ok {
			kind = k
		}
		metrics.Errors.WithLabelValues("stt", string(kind)).Inc()
		return "", errs.New("stt.transcribe", kind, err)
	}
	metrics.StageDuration.WithLabelValues("stt").Observe(time.Since(start).Seconds())

	return strings.TrimSpace(text), nil
}

func (t *HTTPTranscriber) dispatch(ctx context.Context, data []byte, format string) (string, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", "audio."+format)
	if err != nil {
		return "", fmt.Errorf("create form file: %w", err)
	}
	if _, err = part.Write(data); err != nil {
		return "", fmt.Errorf("write audio data: %w", err)
	}
	if err = writer.Close(); err != nil {
		return "", fmt.Errorf("close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/transcribe", &body)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	if t.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+t.apiKey)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return "", errs.New("stt.dispatch", errs.ProviderRejected, fmt.Errorf("status %d: %s", resp.StatusCode, string(respBody)))
	}

	var out struct {
		Text string `json:"text"`
	}
	if err = json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	return out.Text, nil
}
