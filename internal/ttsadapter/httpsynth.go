package ttsadapter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hubenschmidt/voice-streaming-gateway/internal/errs"
	"github.com/hubenschmidt/voice-streaming-gateway/internal/metrics"
)

// HTTPSynthesizer is the default TTS backend: it POSTs text to a
// provider's synthesize endpoint and streams back raw float32 LE PCM
// samples at 22050 Hz mono over a chunked response body, satisfying the
// "does not buffer the whole stream" requirement.
type HTTPSynthesizer struct {
	baseURL           string
	apiKey            string
	client            *http.Client
	defaultVoice      string
	firstChunkTimeout time.Duration
}

// NewPooledHTTPClient creates an http.Client tuned for many concurrent
// long-lived streaming requests.
func NewPooledHTTPClient(poolSize int, timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			MaxIdleConns:          poolSize,
			MaxIdleConnsPerHost:   poolSize,
			IdleConnTimeout:       90 * time.Second,
			ResponseHeaderTimeout: 30 * time.Second,
			ForceAttemptHTTP2:     true,
		},
	}
}

// NewHTTPSynthesizer creates an HTTPSynthesizer against baseURL. The
// returned *http.Client has no overall timeout: request lifetime is bound
// to the context passed to Synthesize (the stream's own lifetime), not a
// fixed deadline, so long streams aren't truncated.
func NewHTTPSynthesizer(baseURL, apiKey, defaultVoice string, poolSize int, firstChunkTimeout time.Duration) *HTTPSynthesizer {
	return &HTTPSynthesizer{
		baseURL:           baseURL,
		apiKey:            apiKey,
		client:            NewPooledHTTPClient(poolSize, 0),
		defaultVoice:      defaultVoice,
		firstChunkTimeout: firstChunkTimeout,
	}
}

type synthRequest struct {
	Text  string `json:"text"`
	Voice string `json:"voice"`
}

func (c *HTTPSynthesizer) resolveVoice(voiceID string) string {
	if voiceID != "" {
		return voiceID
	}
	return c.defaultVoice
}

type fetchResult struct {
	body  io.ReadCloser
	first []float32
	err   error
}

// Synthesize begins a streaming synthesis job. It blocks only until the
// response headers arrive and the first chunk is read (bounded by
// firstChunkTimeout); the remainder streams lazily through the returned
// Source.
func (c *HTTPSynthesizer) Synthesize(ctx context.Context, text, voiceID string) (Source, error) {
	reqCtx, cancel := context.WithCancel(ctx)

	reqBody, err := json.Marshal(synthRequest{Text: text, Voice: c.resolveVoice(voiceID)})
	if err != nil {
		cancel()
		return nil, errs.New("tts.synthesize", errs.ProviderRejected, fmt.Errorf("marshal request: %w", err))
	}

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.baseURL+"/synthesize", bytes.NewReader(reqBody))
	if err != nil {
		cancel()
		return nil, errs.New("tts.synthesize", errs.ProviderRejected, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resultCh := make(chan fetchResult, 1)
	go c.fetchFirstChunk(req, resultCh)

	start := time.Now()
	select {
	case r := <-resultCh:
		if r.err != nil {
			cancel()
			metrics.Errors.WithLabelValues("tts", string(kindOf(r.err))).Inc()
			return nil, r.err
		}
		metrics.StageDuration.WithLabelValues("tts_first_chunk").Observe(time.Since(start).Seconds())
		return newHTTPSource(r.body, r.first), nil
	case <-time.After(c.firstChunkTimeout):
		cancel()
		err := errs.New("tts.synthesize", errs.ProviderTimeout, errors.New("first chunk timeout"))
		metrics.Errors.WithLabelValues("tts", string(errs.ProviderTimeout)).Inc()
		return nil, err
	case <-ctx.Done():
		cancel()
		return nil, errs.New("tts.synthesize", errs.ProviderUnavailable, ctx.Err())
	}
}

func (c *HTTPSynthesizer) fetchFirstChunk(req *http.Request, out chan<- fetchResult) {
	resp, err := c.client.Do(req)
	if err != nil {
		out <- fetchResult{err: errs.New("tts.synthesize", errs.ProviderUnavailable, err)}
		return
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		out <- fetchResult{err: errs.New("tts.synthesize", errs.ProviderRejected, fmt.Errorf("status %d: %s", resp.StatusCode, string(body)))}
		return
	}

	buf := make([]byte, readChunkBytes)
	n, readErr := io.ReadFull(resp.Body, buf)
	if readErr != nil && readErr != io.ErrUnexpectedEOF && readErr != io.EOF {
		resp.Body.Close()
		out <- fetchResult{err: errs.New("tts.synthesize", errs.ProviderUnavailable, readErr)}
		return
	}
	usable := n - (n % 4)
	out <- fetchResult{body: resp.Body, first: bytesToFloats(buf[:usable])}
}

func kindOf(err error) errs.Kind {
	if k, ok := errs.KindOf(err); ok {
		return k
	}
	return errs.ProviderUnavailable
}
