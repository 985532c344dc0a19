package ttsadapter

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"sync"
)

const readChunkBytes = 4096

// httpSource streams float32 PCM chunks from an HTTP response body. It
// satisfies the Chunks()/Err() contract the frame scheduler (C7) expects
// from a frame.Source, without importing that package.
type httpSource struct {
	ch   chan []float32
	body io.ReadCloser

	mu  sync.Mutex
	err error
}

func newHTTPSource(body io.ReadCloser, first []float32) *httpSource {
	s := &httpSource{ch: make(chan []float32, 4), body: body}
	go s.run(first)
	return s
}

func (s *httpSource) Chunks() <-chan []float32 { return s.ch }

func (s *httpSource) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *httpSource) setErr(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

func (s *httpSource) run(first []float32) {
	defer close(s.ch)
	defer s.body.Close()

	if len(first) > 0 {
		s.ch <- first
	}

	buf := make([]byte, readChunkBytes)
	var carry []byte
	for {
		n, readErr := s.body.Read(buf)
		if n > 0 {
			data := append(carry, buf[:n]...)
			usable := len(data) - (len(data) % 4)
			if usable > 0 {
				s.ch <- bytesToFloats(data[:usable])
			}
			carry = append(carry[:0], data[usable:]...)
		}
		if readErr != nil {
			if readErr != io.EOF {
				s.setErr(fmt.Errorf("tts stream read: %w", readErr))
			}
			return
		}
	}
}

func bytesToFloats(b []byte) []float32 {
	out := make([]float32, len(b)/4)
	for i := range out {
		bits := binary.LittleEndian.Uint32(b[i*4:])
		out[i] = math.Float32frombits(bits)
	}
	return out
}
