// Package llm implements the LLM client boundary (C9): a multi-provider
// chat router with primary-then-fallback-once dispatch, grounded on the
// teacher's pipeline.LLMRouter/OllamaLLMClient/AnthropicLLMClient family.
// Each provider can stream tokens through a callback; the agents in this
// tree pass a nil callback and use the complete Result text.
package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"github.com/openai/openai-go/v2/packages/param"

	"github.com/gabrielpreston/voxfabric/internal/errs"
	"github.com/gabrielpreston/voxfabric/internal/httpx"
)

// TokenCallback is invoked for each streamed token as it arrives.
type TokenCallback func(token string)

// Result holds a completed chat turn plus timing and routing metadata.
type Result struct {
	Text               string  `json:"text"`
	Thinking           string  `json:"thinking,omitempty"`
	LatencyMs          float64 `json:"latency_ms"`
	TimeToFirstTokenMs float64 `json:"ttft_ms"`
	ServedBy           string  `json:"served_by"`
}

// ChatClient produces a streaming chat completion from a user message.
type ChatClient interface {
	Chat(ctx context.Context, userMessage, ragContext, systemPrompt, model string, onToken TokenCallback) (*Result, error)
}

type streamResult struct {
	text     string
	thinking string
	ttft     time.Time
}

func applyToken(sr streamResult, text string, onToken TokenCallback) streamResult {
	if text == "" {
		return sr
	}
	if sr.ttft.IsZero() {
		sr.ttft = time.Now()
	}
	if onToken != nil {
		onToken(text)
	}
	sr.text += text
	return sr
}

func ttftMillis(sr streamResult, start time.Time) float64 {
	if sr.ttft.IsZero() {
		return 0
	}
	return float64(sr.ttft.Sub(start).Milliseconds())
}

// Router dispatches chat requests to a named primary backend and, on
// failure, retries exactly once against a configured fallback. The
// returned Result records which backend actually served the response so
// callers can surface degraded-provider state.
type Router struct {
	backends map[string]ChatClient
	primary  string
	fallback string
}

// NewRouter builds a Router over the given named backends. primary is the
// engine tried first; fallback (may equal primary, in which case no retry
// happens) is tried once if primary fails. A primary with no registered
// backend is a KindLLMFatal error and the fallback is not tried.
func NewRouter(backends map[string]ChatClient, primary, fallback string) *Router {
	return &Router{backends: backends, primary: primary, fallback: fallback}
}

// Engines returns the names of all registered backends.
func (r *Router) Engines() []string {
	names := make([]string, 0, len(r.backends))
	for k := range r.backends {
		names = append(names, k)
	}
	return names
}

// Has reports whether a backend is registered under the given name.
func (r *Router) Has(engine string) bool {
	_, ok := r.backends[engine]
	return ok
}

// Chat routes to the primary engine (or the explicit engine override, if
// provided). If that call fails with an error and a distinct fallback is
// configured, it is invoked exactly once. The winning backend's name is
// recorded in Result.ServedBy.
func (r *Router) Chat(ctx context.Context, userMessage, ragContext, systemPrompt, model, engine string, onToken TokenCallback) (*Result, error) {
	primary := engine
	if primary == "" {
		primary = r.primary
	}

	backend, ok := r.backends[primary]
	if !ok {
		return nil, errs.New(errs.KindLLMFatal, fmt.Sprintf("no llm backend registered for engine %q", primary))
	}

	res, err := backend.Chat(ctx, userMessage, ragContext, systemPrompt, model, onToken)
	if err == nil {
		res.ServedBy = primary
		return res, nil
	}

	if r.fallback == "" || r.fallback == primary {
		return nil, errs.Wrap(errs.KindLLMTransient, fmt.Sprintf("llm engine %q failed, no fallback configured", primary), err)
	}
	fallbackBackend, ok := r.backends[r.fallback]
	if !ok {
		return nil, errs.Wrap(errs.KindLLMFatal, fmt.Sprintf("llm engine %q failed and fallback %q is not registered", primary, r.fallback), err)
	}

	res, fallbackErr := fallbackBackend.Chat(ctx, userMessage, ragContext, systemPrompt, model, onToken)
	if fallbackErr != nil {
		return nil, errs.Wrap(errs.KindLLMFatal, fmt.Sprintf("llm engine %q and fallback %q both failed", primary, r.fallback), fallbackErr)
	}
	res.ServedBy = r.fallback
	return res, nil
}

// --- Ollama backend ---

// OllamaClient streams chat completions from a local/self-hosted Ollama.
type OllamaClient struct {
	url          string
	model        string
	systemPrompt string
	maxTokens    int
	client       *http.Client
}

// NewOllamaClient constructs an Ollama backend.
func NewOllamaClient(url, model, systemPrompt string, maxTokens, poolSize int) *OllamaClient {
	return &OllamaClient{
		url:          url,
		model:        model,
		systemPrompt: systemPrompt,
		maxTokens:    maxTokens,
		client:       httpx.NewPooledClient(poolSize, 60*time.Second),
	}
}

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaOptions struct {
	NumPredict int `json:"num_predict"`
}

type ollamaRequest struct {
	Model    string          `json:"model"`
	Stream   bool            `json:"stream"`
	Messages []ollamaMessage `json:"messages"`
	Options  ollamaOptions   `json:"options"`
}

type ollamaStreamChunk struct {
	Message struct {
		Content  string `json:"content"`
		Thinking string `json:"thinking,omitempty"`
	} `json:"message"`
	Done bool `json:"done"`
}

func (c *OllamaClient) Chat(ctx context.Context, userMessage, ragContext, systemPrompt, model string, onToken TokenCallback) (*Result, error) {
	start := time.Now()

	sysPrompt := c.systemPrompt
	if systemPrompt != "" {
		sysPrompt = systemPrompt
	}
	useModel := c.model
	if model != "" {
		useModel = model
	}

	messages := []ollamaMessage{{Role: "system", Content: sysPrompt}}
	if ragContext != "" {
		messages = append(messages, ollamaMessage{Role: "system", Content: "Relevant context:\n" + ragContext})
	}
	messages = append(messages, ollamaMessage{Role: "user", Content: userMessage})

	body, err := json.Marshal(ollamaRequest{
		Model:    useModel,
		Stream:   true,
		Messages: messages,
		Options:  ollamaOptions{NumPredict: c.maxTokens},
	})
	if err != nil {
		return nil, fmt.Errorf("llm: marshal ollama request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("llm: build ollama request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, errs.Wrap(errs.KindLLMTransient, "ollama http", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, errs.New(errs.KindLLMTransient, fmt.Sprintf("ollama status %d: %s", resp.StatusCode, b))
	}

	sr := consumeOllamaStream(resp.Body, onToken)
	latency := time.Since(start)

	return &Result{
		Text:               sr.text,
		Thinking:           sr.thinking,
		LatencyMs:          float64(latency.Milliseconds()),
		TimeToFirstTokenMs: ttftMillis(sr, start),
	}, nil
}

func consumeOllamaStream(body io.Reader, onToken TokenCallback) streamResult {
	var sr streamResult
	scanner := bufio.NewScanner(body)
	for scanner.Scan() {
		var chunk ollamaStreamChunk
		if json.Unmarshal(scanner.Bytes(), &chunk) != nil {
			continue
		}
		if chunk.Done {
			return sr
		}
		if chunk.Message.Thinking != "" {
			sr.thinking += chunk.Message.Thinking
			continue
		}
		sr = applyToken(sr, chunk.Message.Content, onToken)
	}
	return sr
}

// --- OpenAI backend ---

// OpenAIClient streams chat completions via the official SDK, grounded on
// MrWong99-glyphoxa's openai Provider.StreamCompletion (same
// Chat.Completions.NewStreaming + delta-accumulation pattern, ported from
// openai-go v1 to the v2 import path the rest of the pack settles on).
type OpenAIClient struct {
	client    oai.Client
	model     string
	maxTokens int
}

// NewOpenAIClient constructs an OpenAI (or OpenAI-compatible, via baseURL)
// backend.
func NewOpenAIClient(apiKey, baseURL, model string, maxTokens int) *OpenAIClient {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &OpenAIClient{
		client:    oai.NewClient(opts...),
		model:     model,
		maxTokens: maxTokens,
	}
}

func (c *OpenAIClient) Chat(ctx context.Context, userMessage, ragContext, systemPrompt, model string, onToken TokenCallback) (*Result, error) {
	start := time.Now()

	useModel := c.model
	if model != "" {
		useModel = model
	}

	system := systemPrompt
	if ragContext != "" {
		system += "\n\nRelevant context:\n" + ragContext
	}

	params := oai.ChatCompletionNewParams{
		Model: oai.ChatModel(useModel),
		Messages: []oai.ChatCompletionMessageParamUnion{
			oai.SystemMessage(system),
			oai.UserMessage(userMessage),
		},
	}
	if c.maxTokens > 0 {
		params.MaxCompletionTokens = param.NewOpt(int64(c.maxTokens))
	}

	stream := c.client.Chat.Completions.NewStreaming(ctx, params)
	defer stream.Close()

	var sr streamResult
	for stream.Next() {
		chunk := stream.Current()
		if len(chunk.Choices) == 0 {
			continue
		}
		sr = applyToken(sr, chunk.Choices[0].Delta.Content, onToken)
	}
	if err := stream.Err(); err != nil {
		return nil, errs.Wrap(errs.KindLLMTransient, "openai stream", err)
	}

	latency := time.Since(start)
	return &Result{
		Text:               sr.text,
		LatencyMs:          float64(latency.Milliseconds()),
		TimeToFirstTokenMs: ttftMillis(sr, start),
	}, nil
}

// --- Anthropic backend ---

// AnthropicClient streams chat completions from the Anthropic Messages
// API over raw HTTP+SSE, grounded directly on the teacher's
// AnthropicLLMClient (the teacher carries no Anthropic SDK dependency, so
// this stays raw per the "keep HOW" rule).
type AnthropicClient struct {
	apiKey    string
	url       string
	model     string
	maxTokens int
	client    *http.Client
}

// NewAnthropicClient constructs an Anthropic backend.
func NewAnthropicClient(apiKey, url, model string, maxTokens, poolSize int) *AnthropicClient {
	return &AnthropicClient{
		apiKey:    apiKey,
		url:       url,
		model:     model,
		maxTokens: maxTokens,
		client:    httpx.NewPooledClient(poolSize, 120*time.Second),
	}
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	Stream    bool               `json:"stream"`
	System    string             `json:"system,omitempty"`
	Messages  []anthropicMessage `json:"messages"`
}

type anthropicDeltaEvent struct {
	Delta struct {
		Type     string `json:"type"`
		Text     string `json:"text,omitempty"`
		Thinking string `json:"thinking,omitempty"`
	} `json:"delta"`
}

func (c *AnthropicClient) Chat(ctx context.Context, userMessage, ragContext, systemPrompt, model string, onToken TokenCallback) (*Result, error) {
	start := time.Now()

	useModel := c.model
	if model != "" {
		useModel = model
	}

	system := systemPrompt
	if ragContext != "" {
		system += "\n\nRelevant context:\n" + ragContext
	}

	body, err := json.Marshal(anthropicRequest{
		Model:     useModel,
		MaxTokens: c.maxTokens,
		Stream:    true,
		System:    system,
		Messages:  []anthropicMessage{{Role: "user", Content: userMessage}},
	})
	if err != nil {
		return nil, fmt.Errorf("llm: marshal anthropic request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("llm: build anthropic request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", "2023-06-01")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, errs.Wrap(errs.KindLLMTransient, "anthropic http", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, errs.New(errs.KindLLMTransient, fmt.Sprintf("anthropic status %d: %s", resp.StatusCode, b))
	}

	sr := consumeAnthropicStream(resp.Body, onToken)
	latency := time.Since(start)

	return &Result{
		Text:               sr.text,
		Thinking:           sr.thinking,
		LatencyMs:          float64(latency.Milliseconds()),
		TimeToFirstTokenMs: ttftMillis(sr, start),
	}, nil
}

func consumeAnthropicStream(body io.Reader, onToken TokenCallback) streamResult {
	var sr streamResult
	scanner := bufio.NewScanner(body)
	var eventType string

	for scanner.Scan() {
		line := scanner.Text()

		if strings.HasPrefix(line, "event: ") {
			eventType = strings.TrimPrefix(line, "event: ")
			continue
		}
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")

		if eventType == "message_stop" {
			return sr
		}
		if eventType != "content_block_delta" {
			continue
		}

		var delta anthropicDeltaEvent
		if json.Unmarshal([]byte(data), &delta) != nil {
			continue
		}
		if delta.Delta.Type == "thinking_delta" {
			sr.thinking += delta.Delta.Thinking
			continue
		}
		sr = applyToken(sr, delta.Delta.Text, onToken)
	}

	return sr
}
