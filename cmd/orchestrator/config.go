package main

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// appConfig holds every recognized configuration option (spec §6), loaded
// via viper from the process environment, grounded on the teacher's
// gateway.json + per-key env lookup but collapsed onto a single
// viper.Viper so every option is overrideable the same way and carries a
// documented default.
type appConfig struct {
	Port string

	// Audio
	JitterTargetFrames int
	JitterMaxFrames    int
	VADAggressiveness  int
	VADPaddingMS       int
	VADMinSegmentMS    int
	VADMaxSegmentMS    int
	LoudnormEnabled    bool
	DenoiseEnabled     bool

	// Adapters
	InputAdapter  string
	OutputAdapter string

	// Agents
	AgentDefault        string
	AgentRoutingEnabled bool
	AgentTimeoutMS      int

	// Sessions
	SessionBackend    string // memory|postgres|redis
	SessionTTLMinutes int
	SessionMax        int
	ContextMaxTurns   int
	PostgresDSN       string
	RedisAddr         string

	// Upstream clients
	STTURL          string
	TTSURL          string
	GuardrailURL    string
	OllamaURL       string
	OllamaModel     string
	OpenAIAPIKey    string
	OpenAIURL       string
	OpenAIModel     string
	AnthropicAPIKey string
	AnthropicURL    string
	AnthropicModel  string
	LLMSystemPrompt string
	LLMMaxTokens    int

	STTTimeoutMS int
	LLMTimeoutMS int
	TTSTimeoutMS int
	TTSCacheSize int
	TTSCacheTTLS int
	TTSVoiceID   string

	QdrantURL         string
	EmbeddingModel    string
	RAGEnabled        bool
	RAGCollection     string
	RAGTopK           int
	RAGScoreThreshold float64

	// Auth / rate limiting
	BearerSecret string
	RPSPerClient int

	// Observability
	ObservabilityEnabled bool
	OTLPEndpoint         string
	SamplerRatio         float64
	TracePostgresDSN     string

	// Tool registry / MCP (C11). A single stdio server is enough to give
	// the tool-invoking agent a live tool to call; MCPServerCommand empty
	// leaves the registry connected to nothing, same as today.
	MCPServerName    string
	MCPServerCommand string
}

// loadConfig binds every recognized option to its environment variable and
// applies the spec's defaults, so an unset process environment still
// produces a runnable configuration.
func loadConfig() appConfig {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("port", "8000")

	v.SetDefault("jitter_target_frames", 3)
	v.SetDefault("jitter_max_frames", 8)
	v.SetDefault("vad_aggressiveness", 1)
	v.SetDefault("vad_padding_ms", 200)
	v.SetDefault("vad_min_segment_ms", 300)
	v.SetDefault("vad_max_segment_ms", 30000)
	v.SetDefault("loudnorm_enabled", true)
	v.SetDefault("denoise_enabled", false)

	v.SetDefault("audio_input_adapter", "voice-chat")
	v.SetDefault("audio_output_adapter", "voice-chat")

	v.SetDefault("agent_default", "echo")
	v.SetDefault("agent_routing_enabled", true)
	v.SetDefault("agent_timeout_ms", 15000)

	v.SetDefault("session_backend", "memory")
	v.SetDefault("session_ttl_minutes", 60)
	v.SetDefault("session_max", 1000)
	v.SetDefault("context_max_turns", 20)
	v.SetDefault("postgres_url", "")
	v.SetDefault("redis_addr", "")

	v.SetDefault("stt_url", "http://localhost:8001")
	v.SetDefault("tts_url", "http://localhost:5100")
	v.SetDefault("guardrail_url", "")
	v.SetDefault("ollama_url", "http://localhost:11434")
	v.SetDefault("ollama_model", "llama3.2:3b")
	v.SetDefault("openai_api_key", "")
	v.SetDefault("openai_url", "https://api.openai.com")
	v.SetDefault("openai_model", "gpt-4.1-nano")
	v.SetDefault("anthropic_api_key", "")
	v.SetDefault("anthropic_url", "https://api.anthropic.com")
	v.SetDefault("anthropic_model", "claude-sonnet-4-5")
	v.SetDefault("llm_system_prompt", "You are a helpful voice assistant. Keep responses concise and conversational.")
	v.SetDefault("llm_max_tokens", 2048)

	v.SetDefault("stt_timeout_ms", 8000)
	v.SetDefault("llm_timeout_ms", 20000)
	v.SetDefault("tts_timeout_ms", 30000)
	v.SetDefault("tts_cache_size", 256)
	v.SetDefault("tts_cache_ttl_s", 3600)
	v.SetDefault("tts_voice_id", "default")

	v.SetDefault("qdrant_url", "")
	v.SetDefault("embedding_model", "nomic-embed-text")
	v.SetDefault("rag_enabled", false)
	v.SetDefault("rag_collection", "voxfabric-kb")
	v.SetDefault("rag_top_k", 3)
	v.SetDefault("rag_score_threshold", 0.7)

	v.SetDefault("bearer_tokens", "")
	v.SetDefault("rps_per_client", 10)

	v.SetDefault("observability_enabled", false)
	v.SetDefault("otlp_endpoint", "")
	v.SetDefault("sampler_ratio", 1.0)
	v.SetDefault("trace_postgres_url", "")

	v.SetDefault("mcp_server_name", "")
	v.SetDefault("mcp_server_command", "")

	return appConfig{
		Port: v.GetString("port"),

		JitterTargetFrames: v.GetInt("jitter_target_frames"),
		JitterMaxFrames:    v.GetInt("jitter_max_frames"),
		VADAggressiveness:  v.GetInt("vad_aggressiveness"),
		VADPaddingMS:       v.GetInt("vad_padding_ms"),
		VADMinSegmentMS:    v.GetInt("vad_min_segment_ms"),
		VADMaxSegmentMS:    v.GetInt("vad_max_segment_ms"),
		LoudnormEnabled:    v.GetBool("loudnorm_enabled"),
		DenoiseEnabled:     v.GetBool("denoise_enabled"),

		InputAdapter:  v.GetString("audio_input_adapter"),
		OutputAdapter: v.GetString("audio_output_adapter"),

		AgentDefault:        v.GetString("agent_default"),
		AgentRoutingEnabled: v.GetBool("agent_routing_enabled"),
		AgentTimeoutMS:      v.GetInt("agent_timeout_ms"),

		SessionBackend:    v.GetString("session_backend"),
		SessionTTLMinutes: v.GetInt("session_ttl_minutes"),
		SessionMax:        v.GetInt("session_max"),
		ContextMaxTurns:   v.GetInt("context_max_turns"),
		PostgresDSN:       v.GetString("postgres_url"),
		RedisAddr:         v.GetString("redis_addr"),

		STTURL:          v.GetString("stt_url"),
		TTSURL:          v.GetString("tts_url"),
		GuardrailURL:    v.GetString("guardrail_url"),
		OllamaURL:       v.GetString("ollama_url"),
		OllamaModel:     v.GetString("ollama_model"),
		OpenAIAPIKey:    v.GetString("openai_api_key"),
		OpenAIURL:       v.GetString("openai_url"),
		OpenAIModel:     v.GetString("openai_model"),
		AnthropicAPIKey: v.GetString("anthropic_api_key"),
		AnthropicURL:    v.GetString("anthropic_url"),
		AnthropicModel:  v.GetString("anthropic_model"),
		LLMSystemPrompt: v.GetString("llm_system_prompt"),
		LLMMaxTokens:    v.GetInt("llm_max_tokens"),

		STTTimeoutMS: v.GetInt("stt_timeout_ms"),
		LLMTimeoutMS: v.GetInt("llm_timeout_ms"),
		TTSTimeoutMS: v.GetInt("tts_timeout_ms"),
		TTSCacheSize: v.GetInt("tts_cache_size"),
		TTSCacheTTLS: v.GetInt("tts_cache_ttl_s"),
		TTSVoiceID:   v.GetString("tts_voice_id"),

		QdrantURL:         v.GetString("qdrant_url"),
		EmbeddingModel:    v.GetString("embedding_model"),
		RAGEnabled:        v.GetBool("rag_enabled"),
		RAGCollection:     v.GetString("rag_collection"),
		RAGTopK:           v.GetInt("rag_top_k"),
		RAGScoreThreshold: v.GetFloat64("rag_score_threshold"),

		BearerSecret: v.GetString("bearer_tokens"),
		RPSPerClient: v.GetInt("rps_per_client"),

		ObservabilityEnabled: v.GetBool("observability_enabled"),
		OTLPEndpoint:         v.GetString("otlp_endpoint"),
		SamplerRatio:         v.GetFloat64("sampler_ratio"),
		TracePostgresDSN:     v.GetString("trace_postgres_url"),

		MCPServerName:    v.GetString("mcp_server_name"),
		MCPServerCommand: v.GetString("mcp_server_command"),
	}
}

func (c appConfig) sttTimeout() time.Duration { return time.Duration(c.STTTimeoutMS) * time.Millisecond }
func (c appConfig) llmTimeout() time.Duration { return time.Duration(c.LLMTimeoutMS) * time.Millisecond }
func (c appConfig) ttsTimeout() time.Duration { return time.Duration(c.TTSTimeoutMS) * time.Millisecond }
func (c appConfig) agentTimeout() time.Duration {
	return time.Duration(c.AgentTimeoutMS) * time.Millisecond
}
func (c appConfig) sessionTTL() time.Duration {
	return time.Duration(c.SessionTTLMinutes) * time.Minute
}
func (c appConfig) ttsCacheTTL() time.Duration { return time.Duration(c.TTSCacheTTLS) * time.Second }
