package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gabrielpreston/voxfabric/internal/errs"
	"github.com/gabrielpreston/voxfabric/internal/httpx"
)

// EmbeddingClient generates vector embeddings via Ollama's /api/embed,
// adapted unchanged in shape from the teacher's internal/pipeline/embeddings.go.
type EmbeddingClient struct {
	url    string
	model  string
	client *http.Client
}

// NewEmbeddingClient constructs an Ollama embedding client.
func NewEmbeddingClient(url, model string, poolSize int) *EmbeddingClient {
	return &EmbeddingClient{url: url, model: model, client: httpx.NewPooledClient(poolSize, 30*time.Second)}
}

type embedRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type embedResponse struct {
	Embeddings [][]float64 `json:"embeddings"`
}

// Embed returns the embedding vector for text.
func (c *EmbeddingClient) Embed(ctx context.Context, text string) ([]float64, error) {
	body, err := json.Marshal(embedRequest{Model: c.model, Input: text})
	if err != nil {
		return nil, fmt.Errorf("agent: marshal embed request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("agent: build embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, errs.Wrap(errs.KindDependencyUnavailable, "embed http", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errs.New(errs.KindDependencyUnavailable, fmt.Sprintf("embed status %d", resp.StatusCode))
	}

	var result embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("agent: decode embed response: %w", err)
	}
	if len(result.Embeddings) == 0 {
		return nil, errs.New(errs.KindDependencyUnavailable, "empty embedding response")
	}
	return result.Embeddings[0], nil
}

// QdrantClient is a thin REST client over Qdrant's HTTP API, adapted
// unchanged in shape from the teacher's internal/pipeline/qdrant.go.
type QdrantClient struct {
	url    string
	client *http.Client
}

// NewQdrantClient constructs a Qdrant REST client.
func NewQdrantClient(url string, poolSize int) *QdrantClient {
	return &QdrantClient{url: url, client: httpx.NewPooledClient(poolSize, 30*time.Second)}
}

type qdrantVectorConfig struct {
	Size     int    `json:"size"`
	Distance string `json:"distance"`
}

type qdrantCreateCollection struct {
	Vectors qdrantVectorConfig `json:"vectors"`
}

// EnsureCollection creates the named collection if it does not already exist.
func (q *QdrantClient) EnsureCollection(ctx context.Context, name string, vectorSize int) error {
	body, err := json.Marshal(qdrantCreateCollection{Vectors: qdrantVectorConfig{Size: vectorSize, Distance: "Cosine"}})
	if err != nil {
		return fmt.Errorf("agent: marshal collection config: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, q.url+"/collections/"+name, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("agent: build collection request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := q.client.Do(req)
	if err != nil {
		return errs.Wrap(errs.KindDependencyUnavailable, "qdrant create collection", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusConflict || resp.StatusCode == http.StatusOK {
		return nil
	}
	return errs.New(errs.KindDependencyUnavailable, fmt.Sprintf("qdrant create collection status %d", resp.StatusCode))
}

// Point is a vector with an attached payload, upserted into a collection.
type Point struct {
	ID      string         `json:"id"`
	Vector  []float64      `json:"vector"`
	Payload map[string]any `json:"payload"`
}

type qdrantUpsertRequest struct {
	Points []Point `json:"points"`
}

// Upsert inserts or updates points in a collection.
func (q *QdrantClient) Upsert(ctx context.Context, collection string, points []Point) error {
	body, err := json.Marshal(qdrantUpsertRequest{Points: points})
	if err != nil {
		return fmt.Errorf("agent: marshal upsert: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, q.url+"/collections/"+collection+"/points", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("agent: build upsert request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := q.client.Do(req)
	if err != nil {
		return errs.Wrap(errs.KindDependencyUnavailable, "qdrant upsert", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return errs.New(errs.KindDependencyUnavailable, fmt.Sprintf("qdrant upsert status %d", resp.StatusCode))
	}
	return nil
}

// SearchResult is a single nearest-neighbor hit.
type SearchResult struct {
	ID      string         `json:"id"`
	Score   float64        `json:"score"`
	Payload map[string]any `json:"payload"`
}

type qdrantSearchRequest struct {
	Vector         []float64 `json:"vector"`
	Limit          int       `json:"limit"`
	ScoreThreshold float64   `json:"score_threshold"`
	WithPayload    bool      `json:"with_payload"`
}

type qdrantSearchResponse struct {
	Result []SearchResult `json:"result"`
}

// Search returns the topK nearest neighbors above scoreThreshold.
func (q *QdrantClient) Search(ctx context.Context, collection string, vector []float64, topK int, scoreThreshold float64) ([]SearchResult, error) {
	body, err := json.Marshal(qdrantSearchRequest{Vector: vector, Limit: topK, ScoreThreshold: scoreThreshold, WithPayload: true})
	if err != nil {
		return nil, fmt.Errorf("agent: marshal search: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, q.url+"/collections/"+collection+"/points/search", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("agent: build search request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := q.client.Do(req)
	if err != nil {
		return nil, errs.Wrap(errs.KindDependencyUnavailable, "qdrant search", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errs.New(errs.KindDependencyUnavailable, fmt.Sprintf("qdrant search status %d", resp.StatusCode))
	}

	var result qdrantSearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("agent: decode search response: %w", err)
	}
	return result.Result, nil
}

// Retriever embeds a query and searches a Qdrant collection, returning
// formatted context text for the conversational agent's RAG augmentation.
// Adapted unchanged in shape from the teacher's internal/pipeline/rag.go.
type Retriever struct {
	embedder       *EmbeddingClient
	qdrant         *QdrantClient
	collection     string
	topK           int
	scoreThreshold float64
}

// RetrieverConfig configures a Retriever.
type RetrieverConfig struct {
	Embedder       *EmbeddingClient
	Qdrant         *QdrantClient
	Collection     string
	TopK           int
	ScoreThreshold float64
}

// NewRetriever builds a Retriever from cfg.
func NewRetriever(cfg RetrieverConfig) *Retriever {
	return &Retriever{
		embedder:       cfg.Embedder,
		qdrant:         cfg.Qdrant,
		collection:     cfg.Collection,
		topK:           cfg.TopK,
		scoreThreshold: cfg.ScoreThreshold,
	}
}

// RetrieveContext returns formatted knowledge-base context relevant to
// query, or "" if nothing crosses the score threshold.
func (r *Retriever) RetrieveContext(ctx context.Context, query string) (string, error) {
	vector, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return "", fmt.Errorf("agent: embed query: %w", err)
	}

	results, err := r.qdrant.Search(ctx, r.collection, vector, r.topK, r.scoreThreshold)
	if err != nil {
		return "", fmt.Errorf("agent: qdrant search: %w", err)
	}
	if len(results) == 0 {
		return "", nil
	}
	return formatResults(results), nil
}

func formatResults(results []SearchResult) string {
	parts := make([]string, 0, len(results))
	for _, r := range results {
		text, ok := r.Payload["text"].(string)
		if !ok {
			text = fmt.Sprintf("%v", r.Payload["text"])
		}
		parts = append(parts, text)
	}
	return strings.Join(parts, "\n---\n")
}
