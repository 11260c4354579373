// Package agent implements the Agent Registry & Router (C12): transcript to
// agent selection, dispatch with a timeout budget, and the concrete agent
// variants (echo, conversational, summarizer, intent-router, tool-invoking).
package agent

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/gabrielpreston/voxfabric/internal/errs"
	"github.com/gabrielpreston/voxfabric/internal/llm"
	"github.com/gabrielpreston/voxfabric/internal/session"
	"github.com/gabrielpreston/voxfabric/internal/tool"
)

const defaultAgentTimeout = 15 * time.Second

// ExternalAction is a validated request an agent hands back to the
// orchestrator for dispatch through the tool registry, preserving
// guardrail and rate-limit discipline (agents never call tools directly).
type ExternalAction struct {
	ToolName       string
	Arguments      map[string]any
	Deadline       time.Time
	IdempotencyKey string
}

// Response is what an agent hands back for one transcript turn.
type Response struct {
	Text           string
	PendingActions []ExternalAction
	Metadata       map[string]string
}

// Agent is the polymorphic capability an incoming transcript is routed to.
type Agent interface {
	Name() string
	// CanHandle scores this agent's fitness for ctx/text. accepts=false
	// means this agent should not be considered at all.
	CanHandle(ctx context.Context, convCtx *session.ConversationContext, text string) (accepts bool, priority int)
	Handle(ctx context.Context, convCtx *session.ConversationContext, text string) (*Response, error)
}

// Registry holds registered agents in registration order (the order used
// to break priority ties) and dispatches through Router.
type Registry struct {
	agents  []Agent
	timeout time.Duration
}

// NewRegistry builds an empty Registry. timeout<=0 uses the spec default (15s).
func NewRegistry(timeout time.Duration) *Registry {
	if timeout <= 0 {
		timeout = defaultAgentTimeout
	}
	return &Registry{timeout: timeout}
}

// Register appends agent to the registry. Registration order is the
// router's tiebreaker, so call order matters.
func (r *Registry) Register(a Agent) {
	r.agents = append(r.agents, a)
}

// HasSummarizer reports whether a "summarizer" agent is registered, used
// by the session store to decide its overflow policy at construction.
func (r *Registry) HasSummarizer() bool {
	for _, a := range r.agents {
		if a.Name() == "summarizer" {
			return true
		}
	}
	return false
}

// Route scores every registered agent via CanHandle, picks the
// highest-priority accepting agent (registration order breaks ties), and
// invokes it under the registry's timeout budget. If nothing accepts, or
// the winner exceeds its budget, Route returns a nil Response and a
// KindAgentTimeout error; it does not fall back to a default agent, and
// any canned reply is left to the caller.
func (r *Registry) Route(ctx context.Context, convCtx *session.ConversationContext, text string) (*Response, error) {
	winner := r.selectAgent(ctx, convCtx, text)
	if winner == nil {
		return nil, errs.New(errs.KindAgentTimeout, "no agent accepted this transcript")
	}

	callCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	type outcome struct {
		resp *Response
		err  error
	}
	done := make(chan outcome, 1)
	go func() {
		resp, err := winner.Handle(callCtx, convCtx, text)
		done <- outcome{resp, err}
	}()

	select {
	case o := <-done:
		return o.resp, o.err
	case <-callCtx.Done():
		return nil, errs.Wrap(errs.KindAgentTimeout, fmt.Sprintf("agent %q exceeded budget %s", winner.Name(), r.timeout), callCtx.Err())
	}
}

func (r *Registry) selectAgent(ctx context.Context, convCtx *session.ConversationContext, text string) Agent {
	type candidate struct {
		agent    Agent
		priority int
		order    int
	}
	var candidates []candidate
	for i, a := range r.agents {
		accepts, priority := a.CanHandle(ctx, convCtx, text)
		if accepts {
			candidates = append(candidates, candidate{a, priority, i})
		}
	}
	if len(candidates) == 0 {
		return nil
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].priority != candidates[j].priority {
			return candidates[i].priority > candidates[j].priority
		}
		return candidates[i].order < candidates[j].order
	})
	return candidates[0].agent
}

// --- Echo agent ---

// EchoAgent always accepts at priority 0 and repeats the transcript back,
// so it answers whatever no higher-priority agent accepts.
type EchoAgent struct{}

func (EchoAgent) Name() string { return "echo" }

func (EchoAgent) CanHandle(_ context.Context, _ *session.ConversationContext, _ string) (bool, int) {
	return true, 0
}

func (EchoAgent) Handle(_ context.Context, _ *session.ConversationContext, text string) (*Response, error) {
	return &Response{Text: text}, nil
}

// --- Conversational agent ---

// ConversationalAgent answers via the LLM router, optionally augmented
// with knowledge-base context from a Retriever.
type ConversationalAgent struct {
	router       *llm.Router
	retriever    *Retriever
	systemPrompt string
	priority     int
}

// NewConversationalAgent builds a ConversationalAgent. retriever may be nil
// to disable RAG augmentation.
func NewConversationalAgent(router *llm.Router, retriever *Retriever, systemPrompt string, priority int) *ConversationalAgent {
	return &ConversationalAgent{router: router, retriever: retriever, systemPrompt: systemPrompt, priority: priority}
}

func (a *ConversationalAgent) Name() string { return "conversational" }

func (a *ConversationalAgent) CanHandle(_ context.Context, _ *session.ConversationContext, text string) (bool, int) {
	if text == "" {
		return false, 0
	}
	return true, a.priority
}

func (a *ConversationalAgent) Handle(ctx context.Context, convCtx *session.ConversationContext, text string) (*Response, error) {
	var ragContext string
	if a.retriever != nil {
		rc, err := a.retriever.RetrieveContext(ctx, text)
		if err == nil {
			ragContext = rc
		}
	}

	result, err := a.router.Chat(ctx, text, ragContext, a.systemPrompt, "", "", nil)
	if err != nil {
		return nil, err
	}
	return &Response{Text: result.Text, Metadata: map[string]string{"served_by": result.ServedBy}}, nil
}

// --- Summarizer agent ---

// SummarizerAgent condenses a conversation's oldest history entries into a
// single synthetic turn. It never accepts live transcripts (CanHandle
// always refuses); the session store invokes Summarize directly as part
// of its summarize-oldest overflow policy.
type SummarizerAgent struct {
	router       *llm.Router
	systemPrompt string
}

// NewSummarizerAgent builds a SummarizerAgent.
func NewSummarizerAgent(router *llm.Router, systemPrompt string) *SummarizerAgent {
	return &SummarizerAgent{router: router, systemPrompt: systemPrompt}
}

func (a *SummarizerAgent) Name() string { return "summarizer" }

func (a *SummarizerAgent) CanHandle(_ context.Context, _ *session.ConversationContext, _ string) (bool, int) {
	return false, 0
}

func (a *SummarizerAgent) Handle(_ context.Context, _ *session.ConversationContext, text string) (*Response, error) {
	return &Response{Text: text}, nil
}

// Summarize condenses entries into a short synthetic history turn.
func (a *SummarizerAgent) Summarize(ctx context.Context, entries []session.HistoryEntry) (string, error) {
	if len(entries) == 0 {
		return "", nil
	}
	var transcript string
	for _, e := range entries {
		transcript += "User: " + e.UserUtterance + "\nAssistant: " + e.AgentResponse + "\n"
	}
	result, err := a.router.Chat(ctx, transcript, "", a.systemPrompt, "", "", nil)
	if err != nil {
		return "", err
	}
	return result.Text, nil
}

// --- Intent-router meta-agent ---

// IntentClassifier labels a transcript with an intent and a confidence,
// for the intent-router agent to report. The meta-agent never hard-codes a
// routing table; selection stays with the registry's CanHandle scores.
type IntentClassifier func(ctx context.Context, text string) (intent string, confidence float64, err error)

// IntentRouterAgent classifies intent and returns it as response metadata
// with empty text; it neither dispatches to nor re-prioritizes other
// agents. It accepts at priority -1, so any other accepting agent wins.
type IntentRouterAgent struct {
	classify IntentClassifier
	registry *Registry
}

// NewIntentRouterAgent builds an IntentRouterAgent over an existing Registry.
func NewIntentRouterAgent(classify IntentClassifier, registry *Registry) *IntentRouterAgent {
	return &IntentRouterAgent{classify: classify, registry: registry}
}

func (a *IntentRouterAgent) Name() string { return "intent-router" }

func (a *IntentRouterAgent) CanHandle(_ context.Context, _ *session.ConversationContext, text string) (bool, int) {
	return text != "", -1
}

func (a *IntentRouterAgent) Handle(ctx context.Context, convCtx *session.ConversationContext, text string) (*Response, error) {
	intent, confidence, err := a.classify(ctx, text)
	if err != nil {
		return nil, errs.Wrap(errs.KindAgentTimeout, "intent classification failed", err)
	}
	return &Response{
		Text:     "",
		Metadata: map[string]string{"intent": intent, "confidence": fmt.Sprintf("%.2f", confidence)},
	}, nil
}

// --- Tool-invoking agent ---

// ToolInvokingAgent decides a single tool call from the transcript and
// emits it as a PendingAction; it never calls the tool itself (the
// orchestrator dispatches through C11 with guardrails and rate limits
// intact).
type ToolInvokingAgent struct {
	tools    *tool.Registry
	decide   func(ctx context.Context, text string) (toolName string, args map[string]any, ok bool)
	priority int
}

// NewToolInvokingAgent builds a ToolInvokingAgent. decide inspects the
// transcript and returns the tool to call, or ok=false to decline.
func NewToolInvokingAgent(tools *tool.Registry, decide func(ctx context.Context, text string) (string, map[string]any, bool), priority int) *ToolInvokingAgent {
	return &ToolInvokingAgent{tools: tools, decide: decide, priority: priority}
}

func (a *ToolInvokingAgent) Name() string { return "tool-invoking" }

func (a *ToolInvokingAgent) CanHandle(ctx context.Context, _ *session.ConversationContext, text string) (bool, int) {
	_, _, ok := a.decide(ctx, text)
	if !ok {
		return false, 0
	}
	return true, a.priority
}

func (a *ToolInvokingAgent) Handle(ctx context.Context, _ *session.ConversationContext, text string) (*Response, error) {
	toolName, args, ok := a.decide(ctx, text)
	if !ok {
		return &Response{}, nil
	}
	if _, ok := a.tools.Get(toolName); !ok {
		return nil, errs.New(errs.KindToolContractError, fmt.Sprintf("tool-invoking agent referenced unknown tool %q", toolName))
	}
	return &Response{
		PendingActions: []ExternalAction{{
			ToolName:  toolName,
			Arguments: args,
			Deadline:  time.Now().Add(defaultAgentTimeout),
		}},
	}, nil
}
