package agent

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gabrielpreston/voxfabric/internal/errs"
	"github.com/gabrielpreston/voxfabric/internal/session"
	"github.com/gabrielpreston/voxfabric/internal/tool"
)

type stubAgent struct {
	name     string
	accepts  bool
	priority int
	resp     *Response
	err      error
	delay    time.Duration
}

func (s stubAgent) Name() string { return s.name }

func (s stubAgent) CanHandle(_ context.Context, _ *session.ConversationContext, _ string) (bool, int) {
	return s.accepts, s.priority
}

func (s stubAgent) Handle(ctx context.Context, _ *session.ConversationContext, _ string) (*Response, error) {
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.err != nil {
		return nil, s.err
	}
	return s.resp, nil
}

func TestRegistryRoutePicksHighestPriority(t *testing.T) {
	r := NewRegistry(time.Second)
	r.Register(stubAgent{name: "low", accepts: true, priority: 1, resp: &Response{Text: "low"}})
	r.Register(stubAgent{name: "high", accepts: true, priority: 5, resp: &Response{Text: "high"}})

	resp, err := r.Route(context.Background(), &session.ConversationContext{}, "hi")
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	if resp.Text != "high" {
		t.Fatalf("expected highest-priority agent to win, got %q", resp.Text)
	}
}

func TestRegistryRouteBreaksTiesByRegistrationOrder(t *testing.T) {
	r := NewRegistry(time.Second)
	r.Register(stubAgent{name: "first", accepts: true, priority: 3, resp: &Response{Text: "first"}})
	r.Register(stubAgent{name: "second", accepts: true, priority: 3, resp: &Response{Text: "second"}})

	resp, err := r.Route(context.Background(), &session.ConversationContext{}, "hi")
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	if resp.Text != "first" {
		t.Fatalf("expected earliest-registered agent to win tie, got %q", resp.Text)
	}
}

func TestRegistryRouteNoAgentAccepts(t *testing.T) {
	r := NewRegistry(time.Second)
	r.Register(stubAgent{name: "picky", accepts: false})

	_, err := r.Route(context.Background(), &session.ConversationContext{}, "hi")
	if !errs.Is(err, errs.KindAgentTimeout) {
		t.Fatalf("expected KindAgentTimeout when nothing accepts, got %v", err)
	}
}

func TestRegistryRouteWinnerExceedsBudget(t *testing.T) {
	r := NewRegistry(10 * time.Millisecond)
	r.Register(stubAgent{name: "slow", accepts: true, priority: 1, delay: time.Second})

	_, err := r.Route(context.Background(), &session.ConversationContext{}, "hi")
	if !errs.Is(err, errs.KindAgentTimeout) {
		t.Fatalf("expected KindAgentTimeout on budget exceeded, got %v", err)
	}
}

func TestRegistryRouteWinnerErrors(t *testing.T) {
	r := NewRegistry(time.Second)
	r.Register(stubAgent{name: "broken", accepts: true, priority: 1, err: errors.New("boom")})

	_, err := r.Route(context.Background(), &session.ConversationContext{}, "hi")
	if err == nil {
		t.Fatal("expected error from failing agent")
	}
}

func TestHasSummarizer(t *testing.T) {
	r := NewRegistry(time.Second)
	if r.HasSummarizer() {
		t.Fatal("expected HasSummarizer false on empty registry")
	}
	r.Register(NewSummarizerAgent(nil, ""))
	if !r.HasSummarizer() {
		t.Fatal("expected HasSummarizer true once a summarizer agent is registered")
	}
}

func TestEchoAgentHandle(t *testing.T) {
	resp, err := EchoAgent{}.Handle(context.Background(), nil, "hello there")
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if resp.Text != "hello there" {
		t.Fatalf("expected echo to repeat input, got %q", resp.Text)
	}
}

func TestSummarizerAgentNeverAcceptsLiveTranscripts(t *testing.T) {
	a := NewSummarizerAgent(nil, "")
	if accepts, _ := a.CanHandle(context.Background(), nil, "anything"); accepts {
		t.Fatal("expected summarizer to never accept a live transcript")
	}
}

func TestSummarizerAgentSummarizeEmptyIsNoop(t *testing.T) {
	a := NewSummarizerAgent(nil, "")
	out, err := a.Summarize(context.Background(), nil)
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if out != "" {
		t.Fatalf("expected empty summary for empty history, got %q", out)
	}
}

func TestIntentRouterAgentHandleReturnsClassification(t *testing.T) {
	classify := func(_ context.Context, text string) (string, float64, error) {
		return "question", 0.9, nil
	}
	a := NewIntentRouterAgent(classify, NewRegistry(time.Second))

	if accepts, priority := a.CanHandle(context.Background(), nil, "what time is it?"); !accepts || priority >= 0 {
		t.Fatalf("expected low-priority acceptance for non-empty text, got accepts=%v priority=%d", accepts, priority)
	}

	resp, err := a.Handle(context.Background(), nil, "what time is it?")
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if resp.Metadata["intent"] != "question" {
		t.Fatalf("expected intent metadata, got %v", resp.Metadata)
	}
}

func TestIntentRouterAgentHandlePropagatesClassifierError(t *testing.T) {
	classify := func(_ context.Context, text string) (string, float64, error) {
		return "", 0, errors.New("classifier down")
	}
	a := NewIntentRouterAgent(classify, NewRegistry(time.Second))

	_, err := a.Handle(context.Background(), nil, "hi")
	if !errs.Is(err, errs.KindAgentTimeout) {
		t.Fatalf("expected wrapped AgentTimeout error, got %v", err)
	}
}

func TestToolInvokingAgentDeclinesWithoutDecision(t *testing.T) {
	tools := tool.NewRegistry("test", "1.0")
	a := NewToolInvokingAgent(tools, func(context.Context, string) (string, map[string]any, bool) {
		return "", nil, false
	}, 10)

	if accepts, _ := a.CanHandle(context.Background(), nil, "hello"); accepts {
		t.Fatal("expected ToolInvokingAgent to decline when decide returns ok=false")
	}
}

func TestToolInvokingAgentEmitsPendingAction(t *testing.T) {
	tools := tool.NewRegistry("test", "1.0")
	tools.Register(tool.Descriptor{Name: "weather"})

	a := NewToolInvokingAgent(tools, func(_ context.Context, text string) (string, map[string]any, bool) {
		return "weather", map[string]any{"city": "nyc"}, true
	}, 10)

	accepts, priority := a.CanHandle(context.Background(), nil, "what's the weather")
	if !accepts || priority != 10 {
		t.Fatalf("expected acceptance at configured priority, got accepts=%v priority=%d", accepts, priority)
	}

	resp, err := a.Handle(context.Background(), nil, "what's the weather")
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if len(resp.PendingActions) != 1 || resp.PendingActions[0].ToolName != "weather" {
		t.Fatalf("expected one pending action for %q, got %+v", "weather", resp.PendingActions)
	}
}

func TestToolInvokingAgentRejectsUnknownTool(t *testing.T) {
	tools := tool.NewRegistry("test", "1.0")

	a := NewToolInvokingAgent(tools, func(_ context.Context, text string) (string, map[string]any, bool) {
		return "ghost-tool", nil, true
	}, 10)

	_, err := a.Handle(context.Background(), nil, "anything")
	if !errs.Is(err, errs.KindToolContractError) {
		t.Fatalf("expected KindToolContractError for unregistered tool, got %v", err)
	}
}
