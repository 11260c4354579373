package session

import (
	"context"
	"testing"
	"time"

	"github.com/gabrielpreston/voxfabric/internal/errs"
)

func TestMemoryStoreCreateAndGetSession(t *testing.T) {
	store := NewMemoryStore(MemoryConfig{})
	ctx := context.Background()

	now := time.Now()
	s := &Session{ID: "sess-1", CreatedAt: now, LastActiveAt: now, OwnerID: "user-1"}
	if err := store.CreateSession(ctx, s); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	got, err := store.GetSession(ctx, "sess-1")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got.State != StateActive {
		t.Fatalf("expected state Active after touch, got %s", got.State)
	}
}

func TestMemoryStoreGetSessionMissingIsNotFound(t *testing.T) {
	store := NewMemoryStore(MemoryConfig{})
	_, err := store.GetSession(context.Background(), "nope")
	if !errs.Is(err, errs.KindSessionNotFound) {
		t.Fatalf("expected KindSessionNotFound, got %v", err)
	}
}

func TestMemoryStoreTTLExpiry(t *testing.T) {
	store := NewMemoryStore(MemoryConfig{TTL: time.Millisecond})
	ctx := context.Background()

	past := time.Now().Add(-time.Hour)
	s := &Session{ID: "sess-old", CreatedAt: past, LastActiveAt: past}
	if err := store.CreateSession(ctx, s); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	_, err := store.GetSession(ctx, "sess-old")
	if !errs.Is(err, errs.KindSessionNotFound) {
		t.Fatalf("expected expired session to be not found, got %v", err)
	}
}

func TestMemoryStoreHistoryDropOldest(t *testing.T) {
	store := NewMemoryStore(MemoryConfig{MaxTurns: 2, Policy: PolicyDropOldest})
	ctx := context.Background()

	convCtx := &ConversationContext{
		SessionID: "sess-1",
		History: []HistoryEntry{
			{UserUtterance: "one", AgentResponse: "a1"},
			{UserUtterance: "two", AgentResponse: "a2"},
			{UserUtterance: "three", AgentResponse: "a3"},
		},
	}
	if err := store.SaveContext(ctx, convCtx); err != nil {
		t.Fatalf("SaveContext: %v", err)
	}

	got, err := store.GetContext(ctx, "sess-1")
	if err != nil {
		t.Fatalf("GetContext: %v", err)
	}
	if len(got.History) != 2 {
		t.Fatalf("expected history capped at 2, got %d", len(got.History))
	}
	if got.History[0].UserUtterance != "two" {
		t.Fatalf("expected oldest entry dropped, got %q first", got.History[0].UserUtterance)
	}
}

func TestMemoryStoreHistorySummarizeOldest(t *testing.T) {
	summarizeCalls := 0
	summarize := func(_ context.Context, entries []HistoryEntry) (string, error) {
		summarizeCalls++
		return "condensed", nil
	}
	store := NewMemoryStore(MemoryConfig{MaxTurns: 2, Policy: PolicySummarizeOldest, Summarizer: summarize})
	ctx := context.Background()

	convCtx := &ConversationContext{
		SessionID: "sess-1",
		History: []HistoryEntry{
			{UserUtterance: "one", AgentResponse: "a1"},
			{UserUtterance: "two", AgentResponse: "a2"},
			{UserUtterance: "three", AgentResponse: "a3"},
		},
	}
	if err := store.SaveContext(ctx, convCtx); err != nil {
		t.Fatalf("SaveContext: %v", err)
	}
	if summarizeCalls != 1 {
		t.Fatalf("expected summarizer called once, got %d", summarizeCalls)
	}

	got, _ := store.GetContext(ctx, "sess-1")
	if len(got.History) != 2 {
		t.Fatalf("expected history capped at 2, got %d", len(got.History))
	}
	if got.History[0].AgentResponse != "condensed" {
		t.Fatalf("expected first entry to be the synthetic summary, got %+v", got.History[0])
	}
}

func TestMemoryStoreLRUEviction(t *testing.T) {
	store := NewMemoryStore(MemoryConfig{MaxSize: 2})
	ctx := context.Background()
	now := time.Now()

	for _, id := range []string{"a", "b", "c"} {
		if err := store.CreateSession(ctx, &Session{ID: id, CreatedAt: now, LastActiveAt: now}); err != nil {
			t.Fatalf("CreateSession(%s): %v", id, err)
		}
	}

	if _, err := store.GetSession(ctx, "a"); !errs.Is(err, errs.KindSessionNotFound) {
		t.Fatalf("expected oldest session %q evicted, got err=%v", "a", err)
	}
	if _, err := store.GetSession(ctx, "c"); err != nil {
		t.Fatalf("expected most recent session to survive, got %v", err)
	}
}

func TestMemoryStoreLogExecution(t *testing.T) {
	store := NewMemoryStore(MemoryConfig{})
	err := store.LogExecution(context.Background(), ExecutionLogEntry{
		SessionID: "sess-1", Agent: "echo", Transcript: "hi", Response: "hi", LatencyMs: 1.5, Timestamp: time.Now(),
	})
	if err != nil {
		t.Fatalf("LogExecution: %v", err)
	}
}
