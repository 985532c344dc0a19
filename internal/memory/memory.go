// Package memory holds the bounded, ordered conversation log used to
// build each LLM call's context window (C4): a fixed system directive
// followed by alternating user/assistant turns, with calls against a
// single memory serialized so two turns never interleave assistant
// writes.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hubenschmidt/voice-streaming-gateway/internal/llmadapter"
	"github.com/hubenschmidt/voice-streaming-gateway/internal/metrics"
)

// DefaultMaxTurns bounds how many non-system turns a Memory retains before
// evicting the oldest user/assistant pair, absent an explicit override.
const DefaultMaxTurns = 50

// Turn is one role-tagged utterance in conversation memory.
type Turn struct {
	Role      llmadapter.Role
	Content   string
	CreatedAt time.Time
}

const roleSystem = llmadapter.Role("system")

// replyLengthHint is appended to the system directive on every
// NextResponse call to keep replies short.
const replyLengthHint = "Reply in at most two short sentences."

// Memory holds the system turn plus bounded conversation history, and
// serializes the call/response cycle that extends it. mu guards the turn
// slice and is held only across append+evict, never across external I/O;
// callMu spans the entire NextResponse call (including the LLM round
// trip) so two concurrent turns on the same memory queue rather than race.
type Memory struct {
	mu       sync.Mutex
	callMu   sync.Mutex
	turns    []Turn
	maxTurns int
}

// New creates a Memory with the given system directive and a non-system
// turn cap (DefaultMaxTurns if 0). The system turn is permanent at index 0.
func New(systemPrompt string, maxTurns int) *Memory {
	if maxTurns <= 0 {
		maxTurns = DefaultMaxTurns
	}
	return &Memory{
		turns:    []Turn{{Role: roleSystem, Content: systemPrompt, CreatedAt: time.Now()}},
		maxTurns: maxTurns,
	}
}

// SystemPrompt returns the fixed system directive.
func (m *Memory) SystemPrompt() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.turns[0].Content
}

// Snapshot returns a copy of all turns, including the system turn at index 0.
func (m *Memory) Snapshot() []Turn {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Turn, len(m.turns))
	copy(out, m.turns)
	return out
}

// Reset clears all turns except the system turn.
func (m *Memory) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.turns = m.turns[:1]
}

// AppendUser inserts a user turn at the tail, evicting the oldest
// non-system pair if over capacity.
func (m *Memory) AppendUser(text string) {
	m.append(Turn{Role: llmadapter.RoleUser, Content: text, CreatedAt: time.Now()})
}

// AppendAssistant inserts an assistant turn at the tail, evicting the
// oldest non-system pair if over capacity.
func (m *Memory) AppendAssistant(text string) {
	m.append(Turn{Role: llmadapter.RoleAssistant, Content: text, CreatedAt: time.Now()})
}

func (m *Memory) append(t Turn) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.turns = append(m.turns, t)
	nonSystem := len(m.turns) - 1
	if nonSystem > m.maxTurns {
		evict := nonSystem - m.maxTurns
		if evict%2 != 0 {
			evict++ // keep system turn followed by a complete user/assistant pair
		}
		m.turns = append(m.turns[:1], m.turns[1+evict:]...)
		metrics.MemoryEvictions.Add(float64(evict))
	}
}

// NonSystemCount returns the number of turns after the system turn.
func (m *Memory) NonSystemCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.turns) - 1
}

// NextResponse calls the completer with the current turn log, limited to a
// short reply hint, and on success appends the reply as an assistant turn.
// On failure memory is left untouched. The caller must have already
// appended the user turn via AppendUser; NextResponse answers whatever the
// most recent turn is. callMu is held for the whole method so a second
// concurrent call on the same memory queues behind this one.
func (m *Memory) NextResponse(ctx context.Context, completer llmadapter.Completer, engine string, onToken llmadapter.TokenCallback) (string, error) {
	m.callMu.Lock()
	defer m.callMu.Unlock()

	snap := m.Snapshot()
	if len(snap) < 2 || snap[len(snap)-1].Role != llmadapter.RoleUser {
		return "", fmt.Errorf("memory: next_response called with no pending user turn")
	}
	systemPrompt := snap[0].Content + "\n\n" + replyLengthHint
	current := snap[len(snap)-1].Content
	history := make([]llmadapter.Message, 0, len(snap)-2)
	for _, t := range snap[1 : len(snap)-1] {
		history = append(history, llmadapter.Message{Role: t.Role, Content: t.Content})
	}

	result, err := completer.Complete(ctx, systemPrompt, history, current, engine, onToken)
	if err != nil {
		return "", err
	}

	m.AppendAssistant(result.Text)
	return result.Text, nil
}
