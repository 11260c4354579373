// Package guardrail implements the Guardrail client boundary (C10): input
// and output validation against an external policy sidecar, grounded on
// the teacher's internal/pipeline/classify.go (a thin JSON/binary HTTP
// sidecar client) — same shape, new payload.
package guardrail

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gabrielpreston/voxfabric/internal/errs"
	"github.com/gabrielpreston/voxfabric/internal/httpx"
)

const defaultTimeout = 5 * time.Second

// InputResult is the decision for a validate_input call.
type InputResult struct {
	Safe      bool               `json:"safe"`
	Sanitized string             `json:"sanitized,omitempty"`
	Reason    errs.GuardrailReason `json:"reason,omitempty"`
}

// OutputResult is the decision for a validate_output call.
type OutputResult struct {
	Safe     bool                 `json:"safe"`
	Filtered string               `json:"filtered,omitempty"`
	Reason   errs.GuardrailReason `json:"reason,omitempty"`
}

// Client calls an external guardrail sidecar for prompt-injection,
// toxicity, and PII checks on both sides of the LLM boundary.
type Client struct {
	url        string
	httpClient *http.Client
}

// New constructs a Client pointed at baseURL (the guardrail sidecar).
func New(baseURL string, poolSize int) *Client {
	return &Client{url: baseURL, httpClient: httpx.NewPooledClient(poolSize, defaultTimeout)}
}

type validateRequest struct {
	Text string `json:"text"`
}

// ValidateInput checks user-supplied text for prompt-injection signatures,
// length overruns, and role-string leakage before it reaches the LLM.
func (c *Client) ValidateInput(ctx context.Context, text string) (InputResult, error) {
	var out InputResult
	if err := c.post(ctx, "/validate/input", text, &out); err != nil {
		return InputResult{}, err
	}
	return out, nil
}

// ValidateOutput checks LLM-generated text for toxicity and PII before it
// is spoken back to the user. PII matches are redacted in-place by the
// sidecar and returned via Filtered.
func (c *Client) ValidateOutput(ctx context.Context, text string) (OutputResult, error) {
	var out OutputResult
	if err := c.post(ctx, "/validate/output", text, &out); err != nil {
		return OutputResult{}, err
	}
	return out, nil
}

func (c *Client) post(ctx context.Context, path, text string, out any) error {
	body, err := json.Marshal(validateRequest{Text: text})
	if err != nil {
		return fmt.Errorf("guardrail: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("guardrail: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errs.Wrap(errs.KindDependencyUnavailable, "guardrail http", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return errs.New(errs.KindDependencyUnavailable, fmt.Sprintf("guardrail status %d: %s", resp.StatusCode, b))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("guardrail: decode response: %w", err)
	}
	return nil
}
