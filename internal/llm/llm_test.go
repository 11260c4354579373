package llm

import (
	"context"
	"errors"
	"testing"
)

type stubClient struct {
	name string
	err  error
	text string
}

func (s *stubClient) Chat(ctx context.Context, userMessage, ragContext, systemPrompt, model string, onToken TokenCallback) (*Result, error) {
	if s.err != nil {
		return nil, s.err
	}
	if onToken != nil {
		onToken(s.text)
	}
	return &Result{Text: s.text}, nil
}

func TestRouterUsesPrimaryWhenHealthy(t *testing.T) {
	r := NewRouter(map[string]ChatClient{
		"primary":  &stubClient{text: "from primary"},
		"fallback": &stubClient{text: "from fallback"},
	}, "primary", "fallback")

	res, err := r.Chat(context.Background(), "hi", "", "", "", "", nil)
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if res.ServedBy != "primary" || res.Text != "from primary" {
		t.Fatalf("got %+v", res)
	}
}

func TestRouterFallsBackOnceOnPrimaryFailure(t *testing.T) {
	r := NewRouter(map[string]ChatClient{
		"primary":  &stubClient{err: errors.New("boom")},
		"fallback": &stubClient{text: "rescued"},
	}, "primary", "fallback")

	res, err := r.Chat(context.Background(), "hi", "", "", "", "", nil)
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if res.ServedBy != "fallback" || res.Text != "rescued" {
		t.Fatalf("got %+v", res)
	}
}

func TestRouterReturnsErrorWhenBothFail(t *testing.T) {
	r := NewRouter(map[string]ChatClient{
		"primary":  &stubClient{err: errors.New("boom")},
		"fallback": &stubClient{err: errors.New("also boom")},
	}, "primary", "fallback")

	if _, err := r.Chat(context.Background(), "hi", "", "", "", "", nil); err == nil {
		t.Fatalf("expected error when both backends fail")
	}
}

func TestSentenceBufferEmitsOnTerminator(t *testing.T) {
	var sb SentenceBuffer
	if got := sb.Add("Hello"); got != "" {
		t.Fatalf("expected no sentence yet, got %q", got)
	}
	if got := sb.Add(" world. "); got != "Hello world." {
		t.Fatalf("got %q", got)
	}
	if got := sb.Add("And another"); got != "" {
		t.Fatalf("expected no sentence yet, got %q", got)
	}
	if got := sb.Flush(); got != "And another" {
		t.Fatalf("flush got %q", got)
	}
}
