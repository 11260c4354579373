package controlplane

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestProberReadyWhenAllRequiredHealthy(t *testing.T) {
	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer healthy.Close()

	p := NewProber([]Dependency{{Name: "stt", HealthURL: healthy.URL, Required: true}})
	p.ProbeAll(context.Background())

	ready, checks := p.Ready()
	if !ready {
		t.Fatalf("expected ready=true, checks=%+v", checks)
	}
}

func TestProberNotReadyWhenRequiredDependencyDown(t *testing.T) {
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer down.Close()

	p := NewProber([]Dependency{{Name: "llm", HealthURL: down.URL, Required: true}})
	p.ProbeAll(context.Background())

	ready, _ := p.Ready()
	if ready {
		t.Fatalf("expected ready=false when a required dependency is unhealthy")
	}
}

func TestProberOptionalDependencyDoesNotBlockReadiness(t *testing.T) {
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer down.Close()

	p := NewProber([]Dependency{{Name: "rag", HealthURL: down.URL, Required: false}})
	p.ProbeAll(context.Background())

	ready, _ := p.Ready()
	if !ready {
		t.Fatalf("expected optional dependency failure to not block readiness")
	}
}

func TestCorrelationMiddlewareAssignsID(t *testing.T) {
	var captured string
	handler := CorrelationMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = CorrelationID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if captured == "" {
		t.Fatalf("expected correlation id to be attached")
	}
	if rec.Header().Get(correlationHeader) != captured {
		t.Fatalf("expected response header to echo the correlation id")
	}
}

func TestCorrelationMiddlewareInheritsHeader(t *testing.T) {
	var captured string
	handler := CorrelationMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = CorrelationID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(correlationHeader, "caller-supplied-id")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if captured != "caller-supplied-id" {
		t.Fatalf("expected inherited correlation id, got %q", captured)
	}
}

func TestAuthenticatorRejectsMissingToken(t *testing.T) {
	auth := NewAuthenticator("test-secret")
	handler := auth.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be reached")
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestAuthenticatorAcceptsValidToken(t *testing.T) {
	auth := NewAuthenticator("test-secret")
	token, err := auth.Issue(Claims{
		Subject: "caller-1",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	var subject string
	handler := auth.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		subject = Subject(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if subject != "caller-1" {
		t.Fatalf("expected subject caller-1, got %q", subject)
	}
}

func TestIngressLimiterBlocksOverBudget(t *testing.T) {
	l := NewIngressLimiter(2)
	if !l.Allow("1.2.3.4") || !l.Allow("1.2.3.4") {
		t.Fatalf("expected first two requests to be allowed")
	}
	if l.Allow("1.2.3.4") {
		t.Fatalf("expected third request in the same window to be blocked")
	}
}

func TestIngressLimiterTracksClientsIndependently(t *testing.T) {
	l := NewIngressLimiter(1)
	if !l.Allow("1.1.1.1") {
		t.Fatalf("expected first client's first request to be allowed")
	}
	if !l.Allow("2.2.2.2") {
		t.Fatalf("expected second client's first request to be allowed independently")
	}
}
