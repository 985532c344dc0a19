package sttadapter

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hubenschmidt/voice-streaming-gateway/internal/errs"
)

func sineWAV(t *testing.T, freq float64, durationSec float64, sampleRate int) []byte {
	t.Helper()
	n := int(float64(sampleRate) * durationSec)
	samples := make([]float32, n)
	for i := range samples {
		samples[i] = float32(0.5 * math.Sin(2*math.Pi*freq*float64(i)/float64(sampleRate)))
	}
	return encodeWAV(samples, sampleRate)
}

func silentWAV(sampleRate int, n int) []byte {
	return encodeWAV(make([]float32, n), sampleRate)
}

func TestTranscribeUnsupportedFormat(t *testing.T) {
	tr := NewHTTPTranscriber("http://unused", "", 1, time.Second)
	_, err := tr.Transcribe(context.Background(), []byte("not audio"), "flac")
	if k, ok := errs.KindOf(err); !ok || k != errs.AudioUnsupported {
		t.Fatalf("expected AudioUnsupported, got %v (err=%v)", k, err)
	}
}

func TestTranscribeEmptyBuffer(t *testing.T) {
	tr := NewHTTPTranscriber("http://unused", "", 1, time.Second)
	_, err := tr.Transcribe(context.Background(), nil, "wav")
	if k, ok := errs.KindOf(err); !ok || k != errs.AudioEmpty {
		t.Fatalf("expected AudioEmpty, got %v (err=%v)", k, err)
	}
}

func TestTranscribeZeroEnergyWAV(t *testing.T) {
	tr := NewHTTPTranscriber("http://unused", "", 1, time.Second)
	_, err := tr.Transcribe(context.Background(), silentWAV(16000, 1600), "wav")
	if k, ok := errs.KindOf(err); !ok || k != errs.AudioEmpty {
		t.Fatalf("expected AudioEmpty for silence, got %v (err=%v)", k, err)
	}
}

func TestTranscribeHappyPath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(10 << 20); err != nil {
			t.Fatalf("server: parse multipart: %v", err)
		}
		json.NewEncoder(w).Encode(map[string]string{"text": "  hello world  "})
	}))
	defer srv.Close()

	tr := NewHTTPTranscriber(srv.URL, "", 1, time.Second)
	wav := sineWAV(t, 440, 1.0, 16000)
	text, err := tr.Transcribe(context.Background(), wav, "WAV")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "hello world" {
		t.Fatalf("expected trimmed transcript, got %q", text)
	}
}

func TestTranscribeProviderRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	tr := NewHTTPTranscriber(srv.URL, "", 1, time.Second)
	wav := sineWAV(t, 440, 1.0, 16000)
	_, err := tr.Transcribe(context.Background(), wav, "wav")
	if k, ok := errs.KindOf(err); !ok || k != errs.ProviderRejected {
		t.Fatalf("expected ProviderRejected, got %v (err=%v)", k, err)
	}
}

func TestTranscribeOpaqueFormatForwarded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"text": "ok"})
	}))
	defer srv.Close()

	tr := NewHTTPTranscriber(srv.URL, "", 1, time.Second)
	text, err := tr.Transcribe(context.Background(), []byte{0x1a, 0x45, 0xdf, 0xa3}, "webm")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "ok" {
		t.Fatalf("expected ok, got %q", text)
	}
}
