package main

import (
	"time"

	"github.com/hubenschmidt/voice-streaming-gateway/internal/env"
)

// config holds deployment-level settings read from the environment (the
// recognized variables from C3/C5/C7) plus provider credentials.
type config struct {
	host string
	port string

	memoryMaxTurns  int
	llmSystemPrompt string

	sttTimeout           time.Duration
	llmTimeout           time.Duration
	ttsFirstChunkTimeout time.Duration

	sttPoolSize int
	ttsPoolSize int

	sttBaseURL string
	sttAPIKey  string

	llmFallbackEngine string
	llmMaxTokens      int
	llmTemperature    float64

	openaiBaseURL string
	openaiAPIKey  string
	openaiModel   string

	anthropicBaseURL string
	anthropicAPIKey  string
	anthropicModel   string

	ollamaBaseURL string
	ollamaModel   string

	ttsFallbackEngine string
	ttsDefaultVoiceID string
	ttsBaseURL        string
	ttsAPIKey         string
	ttsQualityBaseURL string
	ttsQualityAPIKey  string

	postgresURL string
}

// loadConfig reads deployment configuration from the environment, falling
// back to values suitable for local development against sidecar services.
func loadConfig() config {
	return config{
		host: env.Str("HOST", "0.0.0.0"),
		port: env.Str("PORT", "8080"),

		memoryMaxTurns:  env.Int("MEMORY_MAX_TURNS", 50),
		llmSystemPrompt: env.Str("LLM_SYSTEM_PROMPT", "You are a helpful voice assistant. Keep replies concise and conversational."),

		sttTimeout:           time.Duration(env.Float("STT_TIMEOUT_S", 30)) * time.Second,
		llmTimeout:           time.Duration(env.Float("LLM_TIMEOUT_S", 30)) * time.Second,
		ttsFirstChunkTimeout: time.Duration(env.Float("TTS_FIRST_CHUNK_TIMEOUT_S", 5)) * time.Second,

		sttPoolSize: env.Int("STT_POOL_SIZE", 50),
		ttsPoolSize: env.Int("TTS_POOL_SIZE", 50),

		sttBaseURL: env.Str("STT_BASE_URL", "http://localhost:9000"),
		sttAPIKey:  env.Str("STT_API_KEY", ""),

		llmFallbackEngine: env.Str("LLM_FALLBACK_ENGINE", "ollama"),
		llmMaxTokens:      env.Int("LLM_MAX_TOKENS", 2048),
		llmTemperature:    env.Float("LLM_TEMPERATURE", 0.7),

		openaiBaseURL: env.Str("OPENAI_BASE_URL", "https://api.openai.com"),
		openaiAPIKey:  env.Str("OPENAI_API_KEY", ""),
		openaiModel:   env.Str("LLM_MODEL", "gpt-4.1-nano"),

		anthropicBaseURL: env.Str("ANTHROPIC_BASE_URL", "https://api.anthropic.com"),
		anthropicAPIKey:  env.Str("ANTHROPIC_API_KEY", ""),
		anthropicModel:   env.Str("ANTHROPIC_MODEL", "claude-sonnet-4-5"),

		ollamaBaseURL: env.Str("OLLAMA_URL", "http://localhost:11434"),
		ollamaModel:   env.Str("OLLAMA_MODEL", "llama3.2:3b"),

		ttsFallbackEngine: env.Str("TTS_FALLBACK_ENGINE", "fast"),
		ttsDefaultVoiceID: env.Str("TTS_VOICE_ID", "default"),
		ttsBaseURL:        env.Str("TTS_BASE_URL", "http://localhost:9001"),
		ttsAPIKey:         env.Str("TTS_API_KEY", ""),
		ttsQualityBaseURL: env.Str("TTS_QUALITY_BASE_URL", ""),
		ttsQualityAPIKey:  env.Str("TTS_QUALITY_API_KEY", ""),

		postgresURL: env.Str("POSTGRES_URL", ""),
	}
}
