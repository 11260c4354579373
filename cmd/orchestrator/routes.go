package main

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/gabrielpreston/voxfabric/internal/agent"
	"github.com/gabrielpreston/voxfabric/internal/controlplane"
	"github.com/gabrielpreston/voxfabric/internal/errs"
	"github.com/gabrielpreston/voxfabric/internal/guardrail"
	"github.com/gabrielpreston/voxfabric/internal/ioadapter"
	"github.com/gabrielpreston/voxfabric/internal/orchestrator"
	"github.com/gabrielpreston/voxfabric/internal/session"
	"github.com/gabrielpreston/voxfabric/internal/tool"
	voxtrace "github.com/gabrielpreston/voxfabric/internal/trace"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const guardrailCannedResponse = "I can't help with that request."

// defaultTraceSessionLimit is how many call sessions a trace list request
// returns when the caller omits ?limit=.
const defaultTraceSessionLimit = 20

type routeDeps struct {
	cfg        appConfig
	manager    *orchestrator.Manager
	sessions   session.Store
	agents     *agent.Registry
	tools      *tool.Registry
	guardrail  *guardrail.Client
	prober     *controlplane.Prober
	traceStore *voxtrace.Store
}

// registerRoutes wires the versioned HTTP surface §6 requires: health,
// metrics, the text-in/text-out orchestrator API, and capability
// discovery. Replaces the teacher's GPU/model-management/Docker-Compose
// surface entirely — this fabric has no sidecar lifecycle to expose.
func registerRoutes(mux *http.ServeMux, d routeDeps) {
	mux.HandleFunc("GET /health/live", controlplane.LiveHandler(d.prober))
	mux.HandleFunc("GET /health/ready", controlplane.ReadyHandler(d.prober))
	if d.cfg.ObservabilityEnabled {
		mux.Handle("GET /metrics", promhttp.Handler())
	}

	mux.HandleFunc("POST /api/v1/transcripts", d.handleTranscript)
	mux.HandleFunc("POST /api/v1/notifications/transcript", d.handleNotification)
	mux.HandleFunc("POST /api/v1/messages", d.handleMessage)
	mux.HandleFunc("GET /api/v1/capabilities", d.handleCapabilities)

	mux.HandleFunc("POST /api/v1/sessions", d.handleStartSession)
	mux.HandleFunc("DELETE /api/v1/sessions/{id}", d.handleStopSession)

	mux.HandleFunc("GET /ws/call", d.handleWSCall)

	registerTraceRoutes(mux, d.traceStore)
}

// registerTraceRoutes exposes the call-session/turn/stage-span history
// recorded in internal/trace, so a dashboard can inspect a session's
// pipeline trace without needing an OTLP collector wired up. Each handler
// answers 404 when tracing isn't configured rather than 500, since an
// orchestrator built with cfg.TracePostgresDSN unset is a supported,
// tracing-disabled deployment, not a misconfiguration.
func registerTraceRoutes(mux *http.ServeMux, store *voxtrace.Store) {
	mux.HandleFunc("GET /api/v1/traces/sessions", func(w http.ResponseWriter, r *http.Request) {
		if store == nil {
			http.Error(w, "tracing disabled", http.StatusNotFound)
			return
		}
		limit := queryInt(r, "limit", defaultTraceSessionLimit)
		offset := queryInt(r, "offset", 0)
		sessions, total, err := store.ListCallSessions(limit, offset)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"sessions": sessions, "total": total})
	})

	mux.HandleFunc("GET /api/v1/traces/sessions/{id}", func(w http.ResponseWriter, r *http.Request) {
		if store == nil {
			http.Error(w, "tracing disabled", http.StatusNotFound)
			return
		}
		sess, turns, err := store.GetCallSession(r.PathValue("id"))
		if err != nil {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"session": sess, "turns": turns})
	})

	mux.HandleFunc("GET /api/v1/traces/sessions/{id}/turns/{turnId}", func(w http.ResponseWriter, r *http.Request) {
		if store == nil {
			http.Error(w, "tracing disabled", http.StatusNotFound)
			return
		}
		turn, spans, err := store.GetTurn(r.PathValue("id"), r.PathValue("turnId"))
		if err != nil {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"turn": turn, "spans": spans})
	})
}

func queryInt(r *http.Request, key string, fallback int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

// handleWSCall upgrades a raw WebSocket connection and brings up a voice
// session (C14) over the browser-ws adapter pair, the ingress path
// cmd/loadtest exercises end-to-end. The connection is torn down and
// unregistered once the session's context is canceled by the client
// disconnecting or the session being stopped.
func (d routeDeps) handleWSCall(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	if err := ioadapter.UpgradeWS(w, r, sessionID); err != nil {
		writeJSONError(w, http.StatusBadRequest, "websocket upgrade failed", correlationFor(r, ""))
		return
	}

	err := d.manager.Start(r.Context(), orchestrator.StartRequest{
		SessionID:         sessionID,
		ChannelID:         r.URL.Query().Get("channel_id"),
		InputAdapterName:  "browser-ws",
		OutputAdapterName: "browser-ws",
		AdapterConfig:     map[string]string{"conn_id": sessionID},
	})
	if err != nil {
		ioadapter.UnregisterWSConn(sessionID)
	}
}

type startSessionRequest struct {
	SessionID         string            `json:"session_id"`
	OwnerID           string            `json:"owner_id"`
	ChannelID         string            `json:"channel_id"`
	InputAdapter      string            `json:"input_adapter"`
	OutputAdapter     string            `json:"output_adapter"`
	AdapterConfig     map[string]string `json:"adapter_config"`
}

// handleStartSession brings up one voice session (C14) over the adapters
// named in the request, defaulting to the process-wide configured adapter
// pair when the caller omits them.
func (d routeDeps) handleStartSession(w http.ResponseWriter, r *http.Request) {
	var req startSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "bad request", correlationFor(r, ""))
		return
	}
	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}
	if req.InputAdapter == "" {
		req.InputAdapter = d.cfg.InputAdapter
	}
	if req.OutputAdapter == "" {
		req.OutputAdapter = d.cfg.OutputAdapter
	}

	err := d.manager.Start(r.Context(), orchestrator.StartRequest{
		SessionID:         req.SessionID,
		OwnerID:           req.OwnerID,
		ChannelID:         req.ChannelID,
		InputAdapterName:  req.InputAdapter,
		OutputAdapterName: req.OutputAdapter,
		AdapterConfig:     req.AdapterConfig,
	})
	if err != nil {
		writeJSONError(w, http.StatusOK, string(kindOrUnknown(err)), correlationFor(r, ""))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"success": true, "session_id": req.SessionID})
}

// handleStopSession drains and tears down one running session.
func (d routeDeps) handleStopSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	_ = d.manager.Stop(id)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"success": true})
}

type transcriptRequest struct {
	Transcript    string            `json:"transcript"`
	UserID        string            `json:"user_id"`
	ChannelID     string            `json:"channel_id"`
	CorrelationID string            `json:"correlation_id"`
	Metadata      map[string]string `json:"metadata"`
}

type transcriptResponse struct {
	Success       bool     `json:"success"`
	ResponseText  string   `json:"response_text,omitempty"`
	Actions       []string `json:"actions,omitempty"`
	CorrelationID string   `json:"correlation_id"`
	Reason        string   `json:"reason,omitempty"`
}

// handleTranscript is the orchestrator's text-in/text-out entrypoint: the
// same guardrail-route-persist-dispatch sequence the voice path runs after
// STT, minus the audio stages, for adapters that already have text (chat
// widgets, SMS bridges, typed test harnesses).
func (d routeDeps) handleTranscript(w http.ResponseWriter, r *http.Request) {
	var req transcriptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "bad request", correlationFor(r, req.CorrelationID))
		return
	}
	correlationID := correlationFor(r, req.CorrelationID)

	sessionID := req.UserID + ":" + req.ChannelID
	if _, err := d.sessions.GetSession(r.Context(), sessionID); err != nil {
		_ = d.sessions.CreateSession(r.Context(), &session.Session{
			ID: sessionID, State: session.StateNew, OwnerID: req.UserID, ChannelID: req.ChannelID,
		})
	}

	if req.Transcript == "" {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(transcriptResponse{Success: true, ResponseText: "", CorrelationID: correlationID})
		return
	}

	if d.guardrail != nil {
		in, err := d.guardrail.ValidateInput(r.Context(), req.Transcript)
		if err == nil && !in.Safe {
			json.NewEncoder(w).Encode(transcriptResponse{
				Success:       true,
				ResponseText:  guardrailCannedResponse,
				CorrelationID: correlationID,
			})
			return
		}
	}

	convCtx, err := d.sessions.GetContext(r.Context(), sessionID)
	if err != nil {
		convCtx = &session.ConversationContext{SessionID: sessionID}
	}

	resp, err := d.agents.Route(r.Context(), convCtx, req.Transcript)
	if err != nil {
		writeJSONError(w, http.StatusOK, string(kindOrUnknown(err)), correlationID)
		return
	}

	convCtx.History = append(convCtx.History, session.HistoryEntry{UserUtterance: req.Transcript, AgentResponse: resp.Text})
	_ = d.sessions.SaveContext(r.Context(), convCtx)
	_ = d.sessions.LogExecution(r.Context(), session.ExecutionLogEntry{
		SessionID: sessionID, Transcript: req.Transcript, Response: resp.Text, Timestamp: time.Now(),
	})

	var actionNames []string
	for _, action := range resp.PendingActions {
		result, err := d.tools.Invoke(r.Context(), tool.Action{
			ToolName: action.ToolName, Arguments: action.Arguments,
			Deadline: action.Deadline, IdempotencyKey: action.IdempotencyKey,
		})
		if err == nil && result != nil && !result.IsError {
			actionNames = append(actionNames, action.ToolName)
		}
	}

	responseText := resp.Text
	if d.guardrail != nil {
		out, err := d.guardrail.ValidateOutput(r.Context(), resp.Text)
		if err == nil && !out.Safe {
			responseText = guardrailCannedResponse
			if out.Filtered != "" {
				responseText = out.Filtered
			}
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(transcriptResponse{
		Success:       true,
		ResponseText:  responseText,
		Actions:       actionNames,
		CorrelationID: correlationID,
	})
}

type notificationRequest struct {
	Transcript    string `json:"transcript"`
	UserID        string `json:"user_id"`
	ChannelID     string `json:"channel_id"`
	CorrelationID string `json:"correlation_id"`
}

// handleNotification lets an adapter hand the orchestrator a transcript it
// already captured out-of-band (e.g. a platform's own ASR), recording it
// against the caller's session without generating a reply.
func (d routeDeps) handleNotification(w http.ResponseWriter, r *http.Request) {
	var req notificationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "bad request", correlationFor(r, req.CorrelationID))
		return
	}
	correlationID := correlationFor(r, req.CorrelationID)
	sessionID := req.UserID + ":" + req.ChannelID

	convCtx, err := d.sessions.GetContext(r.Context(), sessionID)
	if err != nil {
		convCtx = &session.ConversationContext{SessionID: sessionID}
	}
	convCtx.History = append(convCtx.History, session.HistoryEntry{UserUtterance: req.Transcript})
	_ = d.sessions.SaveContext(r.Context(), convCtx)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"success": true, "correlation_id": correlationID})
}

type messageRequest struct {
	ChannelID     string            `json:"channel_id"`
	Content       string            `json:"content"`
	CorrelationID string            `json:"correlation_id"`
	Metadata      map[string]string `json:"metadata"`
}

// handleMessage accepts an outbound message destined for an adapter's
// channel. voxfabric has no message bus wired in this build; it stamps and
// acknowledges the send so callers can integrate against the contract
// ahead of a transport being attached.
func (d routeDeps) handleMessage(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "bad request", correlationFor(r, req.CorrelationID))
		return
	}
	correlationID := correlationFor(r, req.CorrelationID)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"success":        true,
		"message_id":     uuid.NewString(),
		"correlation_id": correlationID,
	})
}

type capability struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Schema      map[string]any `json:"schema"`
}

// handleCapabilities answers GET /api/v1/capabilities with this service's
// identity and the set of operations it exposes for discovery, plus every
// tool descriptor currently registered.
func (d routeDeps) handleCapabilities(w http.ResponseWriter, r *http.Request) {
	ops := []capability{
		{
			Name:        "transcripts.submit",
			Description: "Route a transcript through guardrails, agent selection, and tool dispatch",
			Schema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"transcript":     map[string]any{"type": "string"},
					"user_id":        map[string]any{"type": "string"},
					"channel_id":     map[string]any{"type": "string"},
					"correlation_id": map[string]any{"type": "string"},
				},
				"required": []string{"transcript", "user_id", "channel_id"},
			},
		},
		{
			Name:        "notifications.transcript",
			Description: "Record an externally-captured transcript against a session",
		},
		{
			Name:        "messages.send",
			Description: "Send an outbound message to an adapter channel",
		},
	}
	for _, descriptor := range d.tools.Descriptors() {
		ops = append(ops, capability{Name: "tool." + descriptor.Name, Schema: descriptor.Schema})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"service":    "voxfabric-orchestrator",
		"version":    "1.0.0",
		"operations": ops,
	})
}

func correlationFor(r *http.Request, bodyID string) string {
	if id := controlplane.CorrelationID(r.Context()); id != "" {
		return id
	}
	if bodyID != "" {
		return bodyID
	}
	return uuid.NewString()
}

func kindOrUnknown(err error) errs.Kind {
	if k, ok := errs.KindOf(err); ok {
		return k
	}
	return errs.KindAgentTimeout
}

func writeJSONError(w http.ResponseWriter, status int, reason, correlationID string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"success":        false,
		"reason":         reason,
		"correlation_id": correlationID,
	})
}
