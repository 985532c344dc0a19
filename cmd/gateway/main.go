package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nlpodyssey/openai-agents-go/agents"
	"github.com/openai/openai-go/v2/packages/param"

	"github.com/hubenschmidt/voice-streaming-gateway/internal/diagnostics"
	"github.com/hubenschmidt/voice-streaming-gateway/internal/eventsock"
	"github.com/hubenschmidt/voice-streaming-gateway/internal/frame"
	"github.com/hubenschmidt/voice-streaming-gateway/internal/llmadapter"
	"github.com/hubenschmidt/voice-streaming-gateway/internal/memory"
	"github.com/hubenschmidt/voice-streaming-gateway/internal/session"
	"github.com/hubenschmidt/voice-streaming-gateway/internal/sttadapter"
	"github.com/hubenschmidt/voice-streaming-gateway/internal/ttsadapter"
	"github.com/hubenschmidt/voice-streaming-gateway/internal/turn"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})))

	cfg := loadConfig()

	sessions := session.NewStore()
	mem := memory.New(cfg.llmSystemPrompt, cfg.memoryMaxTurns)

	transcriber := initSTT(cfg)
	completer := initLLM(cfg)
	synths := initTTS(cfg)

	sched := frame.NewScheduler()
	router := eventsock.NewRouter()

	var diag *diagnostics.Store
	if cfg.postgresURL != "" {
		var err error
		diag, err = diagnostics.Open(cfg.postgresURL)
		if err != nil {
			slog.Error("diagnostics store open failed", "error", err)
		} else {
			slog.Info("diagnostics enabled")
		}
	}

	turnCfg := turn.NewConfig(sessions, mem, transcriber, completer, sched, router, synths.Resolve)
	turnCfg.LLMEngine = cfg.llmFallbackEngine
	turnCfg.TTSEngine = cfg.ttsFallbackEngine
	turnCfg.DefaultVoice = cfg.ttsDefaultVoiceID
	turnCfg.STTTimeout = cfg.sttTimeout
	turnCfg.LLMTimeout = cfg.llmTimeout
	if diag != nil {
		turnCfg.Diagnostics = diag
	}
	machine := turn.New(turnCfg)

	handler := eventsock.NewHandler(sessions, machine, router, diag)

	mux := http.NewServeMux()
	registerRoutes(mux, deps{
		sessions:    sessions,
		wsHandler:   handler,
		diagnostics: diag,
	})

	addr := cfg.host + ":" + cfg.port
	srv := &http.Server{Addr: addr, Handler: mux}

	go awaitShutdown(srv, diag)

	slog.Info("gateway starting", "addr", addr)

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}

	slog.Info("gateway stopped")
}

// awaitShutdown blocks until SIGINT/SIGTERM, then drains the HTTP server
// and closes the diagnostics store.
func awaitShutdown(srv *http.Server, diag *diagnostics.Store) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	slog.Info("shutting down", "signal", sig)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if diag != nil {
		if err := diag.Close(); err != nil {
			slog.Warn("diagnostics close", "error", err)
		}
	}

	srv.Shutdown(ctx)
}

func initSTT(cfg config) sttadapter.Transcriber {
	return sttadapter.NewHTTPTranscriber(cfg.sttBaseURL, cfg.sttAPIKey, cfg.sttPoolSize, cfg.sttTimeout)
}

func initLLM(cfg config) llmadapter.Completer {
	completer := llmadapter.NewAgentCompleter(cfg.llmFallbackEngine, cfg.llmMaxTokens)
	completer.Register("ollama", agents.NewOpenAIProvider(agents.OpenAIProviderParams{
		BaseURL:      param.NewOpt(cfg.ollamaBaseURL + "/v1/"),
		APIKey:       param.NewOpt("ollama"),
		UseResponses: param.NewOpt(false),
	}), cfg.ollamaModel)
	if cfg.openaiAPIKey != "" {
		completer.Register("openai", agents.NewOpenAIProvider(agents.OpenAIProviderParams{
			BaseURL:      param.NewOpt(cfg.openaiBaseURL + "/v1/"),
			APIKey:       param.NewOpt(cfg.openaiAPIKey),
			UseResponses: param.NewOpt(true),
		}), cfg.openaiModel)
	}
	if cfg.anthropicAPIKey != "" {
		completer.Register("anthropic", agents.NewOpenAIProvider(agents.OpenAIProviderParams{
			BaseURL:      param.NewOpt(cfg.anthropicBaseURL + "/v1/"),
			APIKey:       param.NewOpt(cfg.anthropicAPIKey),
			UseResponses: param.NewOpt(false),
		}), cfg.anthropicModel)
	}
	return completer
}

func initTTS(cfg config) *ttsadapter.MultiSynthesizer {
	backends := map[string]ttsadapter.Synthesizer{
		"fast": ttsadapter.NewHTTPSynthesizer(cfg.ttsBaseURL, cfg.ttsAPIKey, cfg.ttsDefaultVoiceID, cfg.ttsPoolSize, cfg.ttsFirstChunkTimeout),
	}
	if cfg.ttsQualityBaseURL != "" {
		backends["quality"] = ttsadapter.NewHTTPSynthesizer(cfg.ttsQualityBaseURL, cfg.ttsQualityAPIKey, cfg.ttsDefaultVoiceID, cfg.ttsPoolSize, cfg.ttsFirstChunkTimeout)
	}
	return ttsadapter.NewMultiSynthesizer(backends, cfg.ttsFallbackEngine)
}
