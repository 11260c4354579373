// Package tool implements the Tool Registry and invocation boundary (C11):
// a name→descriptor map, argument validation, per-tool rate budgeting, and
// dispatch to external capabilities over the Model Context Protocol,
// grounded on MrWong99-glyphoxa's internal/mcp/mcphost.Host (MCP SDK
// client, per-server tool discovery, CallTool dispatch).
package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/gabrielpreston/voxfabric/internal/errs"
)

// Descriptor describes one callable tool: its name, validated argument
// shape, allowed caller roles, and invocation limits. ParameterSchema is a
// struct-tag-annotated Go type validated via validator.Struct; Schema
// additionally exposes an equivalent JSON Schema document for
// GET /api/v1/capabilities discovery.
type Descriptor struct {
	Name          string
	ParameterType any
	Schema        map[string]any
	AllowedRoles  []string
	RatePerMinute int
	Timeout       time.Duration
	serverName    string
}

// Action is an agent-produced request to invoke a tool, validated and
// rate-checked before it reaches the server.
type Action struct {
	ToolName       string
	Arguments      map[string]any
	Deadline       time.Time
	IdempotencyKey string
}

// Result is the outcome of a tool invocation.
type Result struct {
	Content string
	IsError bool
}

// Registry holds tool descriptors and live MCP server sessions, enforcing
// validate→rate-check→execute in that order on every Invoke.
type Registry struct {
	mu       sync.RWMutex
	tools    map[string]Descriptor
	budgets  map[string]*Budget
	sessions map[string]*mcpsdk.ClientSession
	client   *mcpsdk.Client
	validate *validator.Validate
}

// NewRegistry constructs an empty Registry. clientName/version identify
// this process to connected MCP servers.
func NewRegistry(clientName, clientVersion string) *Registry {
	return &Registry{
		tools:    make(map[string]Descriptor),
		budgets:  make(map[string]*Budget),
		sessions: make(map[string]*mcpsdk.ClientSession),
		client:   mcpsdk.NewClient(&mcpsdk.Implementation{Name: clientName, Version: clientVersion}, nil),
		validate: validator.New(),
	}
}

// ConnectStdio dials an MCP server over stdio transport via the given
// CommandTransport and imports its tool catalogue under serverName.
func (r *Registry) ConnectStdio(ctx context.Context, serverName string, transport mcpsdk.Transport) error {
	session, err := r.client.Connect(ctx, transport, nil)
	if err != nil {
		return errs.Wrap(errs.KindDependencyUnavailable, fmt.Sprintf("connect mcp server %q", serverName), err)
	}

	var discovered []mcpsdk.Tool
	for t, err := range session.Tools(ctx, nil) {
		if err != nil {
			_ = session.Close()
			return errs.Wrap(errs.KindDependencyUnavailable, fmt.Sprintf("list tools for %q", serverName), err)
		}
		discovered = append(discovered, *t)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[serverName] = session
	for _, mt := range discovered {
		r.tools[mt.Name] = Descriptor{
			Name:       mt.Name,
			Schema:     schemaToMap(mt.InputSchema),
			serverName: serverName,
		}
		r.budgets[mt.Name] = NewBudget(0)
	}
	return nil
}

// Register adds a statically-known descriptor (its server must already be
// connected via ConnectStdio, or it is treated as a pure validation/budget
// wrapper over a tool registered by discovery).
func (r *Registry) Register(d Descriptor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.tools[d.Name]; ok && d.serverName == "" {
		d.serverName = existing.serverName
	}
	r.tools[d.Name] = d
	r.budgets[d.Name] = NewBudget(d.RatePerMinute)
}

// Get returns the descriptor registered under name.
func (r *Registry) Get(name string) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.tools[name]
	return d, ok
}

// Descriptors returns every registered tool, for capability discovery.
func (r *Registry) Descriptors() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Descriptor, 0, len(r.tools))
	for _, d := range r.tools {
		out = append(out, d)
	}
	return out
}

// Invoke validates action.Arguments against the tool's ParameterType (if
// set), applies the tool's rate budget, and dispatches to the owning MCP
// server. Argument contract violations return KindToolContractError;
// transport/execution failures return KindToolExecutionError.
func (r *Registry) Invoke(ctx context.Context, action Action) (*Result, error) {
	r.mu.RLock()
	descriptor, ok := r.tools[action.ToolName]
	budget := r.budgets[action.ToolName]
	session, hasSession := r.sessions[descriptor.serverName]
	r.mu.RUnlock()

	if !ok {
		return nil, errs.New(errs.KindToolContractError, fmt.Sprintf("unknown tool %q", action.ToolName))
	}
	if descriptor.ParameterType != nil {
		if err := r.validateArgs(descriptor, action.Arguments); err != nil {
			return nil, err
		}
	}
	if !action.Deadline.IsZero() && time.Now().After(action.Deadline) {
		return nil, errs.New(errs.KindToolContractError, fmt.Sprintf("tool %q deadline already passed", action.ToolName))
	}

	if budget != nil {
		if err := budget.Allow(ctx); err != nil {
			return nil, errs.Wrap(errs.KindRateLimited, fmt.Sprintf("tool %q rate budget exhausted", action.ToolName), err)
		}
	}

	if !hasSession {
		return nil, errs.New(errs.KindToolExecutionError, fmt.Sprintf("no mcp server connected for tool %q", action.ToolName))
	}

	callCtx := ctx
	var cancel context.CancelFunc
	if descriptor.Timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, descriptor.Timeout)
		defer cancel()
	}

	callResult, err := session.CallTool(callCtx, &mcpsdk.CallToolParams{
		Name:      action.ToolName,
		Arguments: action.Arguments,
	})
	if err != nil {
		return nil, errs.Wrap(errs.KindToolExecutionError, fmt.Sprintf("call tool %q", action.ToolName), err)
	}

	var sb strings.Builder
	for _, c := range callResult.Content {
		if tc, ok := c.(*mcpsdk.TextContent); ok {
			sb.WriteString(tc.Text)
		}
	}

	return &Result{Content: sb.String(), IsError: callResult.IsError}, nil
}

func (r *Registry) validateArgs(d Descriptor, args map[string]any) error {
	raw, err := json.Marshal(args)
	if err != nil {
		return errs.Wrap(errs.KindToolContractError, "marshal tool arguments", err)
	}

	target := newZeroOf(d.ParameterType)
	if err := json.Unmarshal(raw, target); err != nil {
		return errs.Wrap(errs.KindToolContractError, "arguments do not match tool schema", err)
	}
	if err := r.validate.Struct(target); err != nil {
		return errs.Wrap(errs.KindToolContractError, "argument validation failed", err)
	}
	return nil
}

// Close shuts down every connected MCP server session.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var firstErr error
	for name, s := range r.sessions {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("tool: close mcp server %q: %w", name, err)
		}
	}
	r.sessions = make(map[string]*mcpsdk.ClientSession)
	return firstErr
}

// newZeroOf allocates a new zero value of the same underlying type as
// sample (which is typically a zero-value struct literal registered in a
// Descriptor) and returns it as a pointer, suitable for json.Unmarshal.
func newZeroOf(sample any) any {
	t := reflect.TypeOf(sample)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return reflect.New(t).Interface()
}

func schemaToMap(schema any) map[string]any {
	if schema == nil {
		return map[string]any{"type": "object"}
	}
	data, err := json.Marshal(schema)
	if err != nil {
		return map[string]any{"type": "object"}
	}
	var m map[string]any
	if json.Unmarshal(data, &m) != nil {
		return map[string]any{"type": "object"}
	}
	return m
}
