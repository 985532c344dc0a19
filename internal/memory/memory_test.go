package memory

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/hubenschmidt/voice-streaming-gateway/internal/llmadapter"
)

type fakeCompleter struct {
	mu       sync.Mutex
	calls    int
	failNext bool
	reply    string
}

func (f *fakeCompleter) Complete(ctx context.Context, systemPrompt string, history []llmadapter.Message, userMessage, engine string, onToken llmadapter.TokenCallback) (*llmadapter.Result, error) {
	f.mu.Lock()
	f.calls++
	fail := f.failNext
	f.failNext = false
	f.mu.Unlock()
	if fail {
		return nil, errors.New("boom")
	}
	if onToken != nil {
		onToken(f.reply)
	}
	return &llmadapter.Result{Text: f.reply}, nil
}

func TestNewMemoryHasSystemTurnAtHead(t *testing.T) {
	m := New("be concise", 10)
	snap := m.Snapshot()
	if len(snap) != 1 || snap[0].Role != "system" || snap[0].Content != "be concise" {
		t.Fatalf("unexpected initial snapshot: %+v", snap)
	}
}

func TestNextResponseAppendsOnSuccess(t *testing.T) {
	m := New("sys", 10)
	m.AppendUser("hello")
	c := &fakeCompleter{reply: "hi there"}
	text, err := m.NextResponse(context.Background(), c, "ollama", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "hi there" {
		t.Fatalf("unexpected reply: %q", text)
	}
	snap := m.Snapshot()
	if len(snap) != 3 || snap[1].Content != "hello" || snap[2].Content != "hi there" {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
}

func TestNextResponseFailureLeavesMemoryUntouched(t *testing.T) {
	m := New("sys", 10)
	m.AppendUser("hello")
	before := m.NonSystemCount()
	c := &fakeCompleter{reply: "unused", failNext: true}
	_, err := m.NextResponse(context.Background(), c, "ollama", nil)
	if err == nil {
		t.Fatalf("expected error")
	}
	if m.NonSystemCount() != before {
		t.Fatalf("expected no turns appended after failed call")
	}
}

func TestMemoryEvictsOldestPairBeyondMaxTurns(t *testing.T) {
	m := New("sys", 2)
	c := &fakeCompleter{reply: "r"}
	for i := 0; i < 3; i++ {
		m.AppendUser("msg")
		if _, err := m.NextResponse(context.Background(), c, "e", nil); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if m.NonSystemCount() != 2 {
		t.Fatalf("expected eviction down to 2 non-system turns, got %d", m.NonSystemCount())
	}
	snap := m.Snapshot()
	if snap[0].Role != "system" {
		t.Fatalf("expected system turn to survive eviction at index 0")
	}
}

func TestNextResponseSerializesConcurrentCalls(t *testing.T) {
	m := New("sys", 100)
	c := &fakeCompleter{reply: "r"}
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.AppendUser("msg")
			m.NextResponse(context.Background(), c, "e", nil)
		}()
	}
	wg.Wait()
	if m.NonSystemCount() != 40 {
		t.Fatalf("expected all 20 calls to append a user+assistant pair each, got %d", m.NonSystemCount())
	}
}

func TestResetClearsHistoryButKeepsSystemTurn(t *testing.T) {
	m := New("sys", 10)
	c := &fakeCompleter{reply: "r"}
	m.AppendUser("msg")
	m.NextResponse(context.Background(), c, "e", nil)
	m.Reset()
	snap := m.Snapshot()
	if len(snap) != 1 || snap[0].Role != "system" {
		t.Fatalf("expected only system turn after reset, got %+v", snap)
	}
}
