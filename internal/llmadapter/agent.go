package llmadapter

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nlpodyssey/openai-agents-go/agents"
	"github.com/nlpodyssey/openai-agents-go/modelsettings"
	"github.com/openai/openai-go/v2/packages/param"

	"github.com/hubenschmidt/voice-streaming-gateway/internal/router"
)

// AgentCompleter routes completions to the resolved engine's SDK provider,
// flattening conversation history into a single prompt string the way a
// completions-only model expects.
type AgentCompleter struct {
	route     *router.Router[agents.ModelProvider]
	models    map[string]string // engine -> default model
	maxTokens int
}

// NewAgentCompleter creates an AgentCompleter with the given fallback engine
// and per-call max token budget.
func NewAgentCompleter(fallback string, maxTokens int) *AgentCompleter {
	return &AgentCompleter{
		route:     router.New(map[string]agents.ModelProvider{}, fallback),
		models:    make(map[string]string),
		maxTokens: maxTokens,
	}
}

// Register adds an OpenAI-compatible provider and its default model for the
// named engine.
func (a *AgentCompleter) Register(engine string, provider agents.ModelProvider, defaultModel string) {
	a.route.Register(engine, provider)
	a.models[engine] = defaultModel
}

// Engines lists the registered engine names.
func (a *AgentCompleter) Engines() []string { return a.route.Engines() }

// Has reports whether engine is registered.
func (a *AgentCompleter) Has(engine string) bool { return a.route.Has(engine) }

// Complete streams a completion from the resolved engine's provider. History
// is flattened to "User: ...\nAssistant: ...\n" pairs followed by the
// current user message, matching the single-string prompt the completions
// SDK call expects; systemPrompt is passed separately as the agent's
// instructions.
func (a *AgentCompleter) Complete(ctx context.Context, systemPrompt string, history []Message, userMessage, engine string, onToken TokenCallback) (*Result, error) {
	provider, err := a.route.Route(engine)
	if err != nil {
		return nil, fmt.Errorf("llmadapter: %w", err)
	}
	model := a.models[engine]
	if model == "" {
		model = a.models[a.route.Fallback()]
	}

	agent := agents.New("assistant").
		WithInstructions(systemPrompt).
		WithModel(model).
		WithModelSettings(modelsettings.ModelSettings{
			MaxTokens: param.NewOpt(int64(a.maxTokens)),
		})

	runner := agents.Runner{Config: agents.RunConfig{
		ModelProvider:   provider,
		MaxTurns:        1,
		TracingDisabled: true,
	}}

	start := time.Now()
	prompt := formatInput(history, userMessage)

	events, errCh, err := runner.RunStreamedChan(ctx, agent, prompt)
	if err != nil {
		return nil, fmt.Errorf("llmadapter: stream start: %w", err)
	}

	var textBuf strings.Builder
	var ttft time.Time
	for ev := range events {
		raw, ok := ev.(agents.RawResponsesStreamEvent)
		if !ok || raw.Data.Type != "response.output_text.delta" {
			continue
		}
		if ttft.IsZero() {
			ttft = time.Now()
		}
		if onToken != nil {
			onToken(raw.Data.Delta)
		}
		textBuf.WriteString(raw.Data.Delta)
	}

	if streamErr := <-errCh; streamErr != nil {
		return nil, fmt.Errorf("llmadapter: stream: %w", streamErr)
	}

	latency := time.Since(start)
	ttftMs := float64(0)
	if !ttft.IsZero() {
		ttftMs = float64(ttft.Sub(start).Milliseconds())
	}

	return &Result{
		Text:               textBuf.String(),
		LatencyMs:          float64(latency.Milliseconds()),
		TimeToFirstTokenMs: ttftMs,
	}, nil
}

// formatInput flattens prior turns into "User: ...\nAssistant: ...\n" pairs
// followed by the current user message.
func formatInput(history []Message, current string) string {
	if len(history) == 0 {
		return current
	}
	var b strings.Builder
	var pendingUser string
	for _, m := range history {
		switch m.Role {
		case RoleUser:
			if pendingUser != "" {
				fmt.Fprintf(&b, "User: %s\nAssistant:\n", pendingUser)
			}
			pendingUser = m.Content
		case RoleAssistant:
			fmt.Fprintf(&b, "User: %s\nAssistant: %s\n", pendingUser, m.Content)
			pendingUser = ""
		}
	}
	if pendingUser != "" {
		fmt.Fprintf(&b, "User: %s\nAssistant:\n", pendingUser)
	}
	fmt.Fprintf(&b, "User: %s", current)
	return b.String()
}
