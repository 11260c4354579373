// Package tts implements the TTS client boundary (C8): text synthesis
// through an external generative voice service, with an LRU+TTL cache
// keyed (voice_id, sha256(text)), grounded on the teacher's Piper HTTP
// client and extended per §4.5 with the caching and loudness steps the
// teacher's version omits.
package tts

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/gabrielpreston/voxfabric/internal/audio"
	"github.com/gabrielpreston/voxfabric/internal/errs"
	"github.com/gabrielpreston/voxfabric/internal/httpx"
)

const (
	defaultTimeout  = 30 * time.Second
	maxTextChars    = 2000
	defaultCacheTTL = time.Hour
	defaultCacheCap = 256
)

// Config controls cache sizing and loudness normalization. Zero CacheSize
// and CacheTTL fall back to 256 entries and one hour; a zero
// LoudnormEnabled leaves normalization off.
type Config struct {
	CacheSize       int
	CacheTTL        time.Duration
	LoudnormEnabled bool
}

// Client synthesizes speech from text via an external TTS HTTP endpoint,
// normalizing the result's loudness and caching by (voice, text digest).
type Client struct {
	url             string
	httpClient      *http.Client
	cache           *lru.LRU[string, []float32]
	loudnormEnabled bool
	calls           int
}

// New constructs a Client pointed at baseURL.
func New(baseURL string, poolSize int, cfg Config) *Client {
	size := cfg.CacheSize
	if size <= 0 {
		size = defaultCacheCap
	}
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &Client{
		url:             baseURL,
		httpClient:      httpx.NewPooledClient(poolSize, defaultTimeout),
		cache:           lru.NewLRU[string, []float32](size, nil, ttl),
		loudnormEnabled: cfg.LoudnormEnabled,
	}
}

type synthesizeRequest struct {
	Text  string `json:"text"`
	Voice string `json:"voice"`
}

// Synthesize rejects texts over maxTextChars, serves from cache when
// present, and otherwise calls the external synthesizer and, when
// LoudnormEnabled is set, normalizes the result through the loudness
// facade before caching and returning it.
func (c *Client) Synthesize(ctx context.Context, text, voiceID string) ([]float32, error) {
	if len([]rune(text)) > maxTextChars {
		return nil, errs.New(errs.KindTTSFatal, fmt.Sprintf("text exceeds max length %d", maxTextChars))
	}

	key := cacheKey(voiceID, text)
	if cached, ok := c.cache.Get(key); ok {
		return cached, nil
	}

	raw, err := c.call(ctx, text, voiceID)
	if err != nil {
		return nil, err
	}
	c.calls++

	samples, rate, err := audio.Decode(raw, audio.CodecWAV, 0)
	if err != nil {
		return nil, errs.Wrap(errs.KindTTSFatal, "decode synthesized audio", err)
	}
	samples = audio.Resample(samples, rate, audio.SampleRate)
	if c.loudnormEnabled {
		samples = audio.LoudnessNormalize(samples, audio.DefaultLoudnessConfig())
	}

	c.cache.Add(key, samples)
	return samples, nil
}

// UpstreamCalls reports how many times the external synthesizer was
// actually invoked (cache misses that got a successful response).
func (c *Client) UpstreamCalls() int { return c.calls }

func (c *Client) call(ctx context.Context, text, voiceID string) ([]byte, error) {
	body, err := json.Marshal(synthesizeRequest{Text: text, Voice: voiceID})
	if err != nil {
		return nil, fmt.Errorf("tts: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url+"/synthesize", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("tts: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errs.Wrap(errs.KindTTSTransient, "tts http", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, errs.New(errs.KindTTSFatal, fmt.Sprintf("tts status %d: %s", resp.StatusCode, b))
	}

	return io.ReadAll(resp.Body)
}

func cacheKey(voiceID, text string) string {
	sum := sha256.Sum256([]byte(text))
	return voiceID + ":" + hex.EncodeToString(sum[:])
}
