package controlplane

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

type correlationKey struct{}

const correlationHeader = "X-Correlation-ID"

// CorrelationID returns the correlation id carried in ctx, or "" if none
// was attached.
func CorrelationID(ctx context.Context) string {
	id, _ := ctx.Value(correlationKey{}).(string)
	return id
}

// WithCorrelationID attaches id to ctx, for call sites (background workers,
// tests) that build context outside the HTTP middleware chain.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationKey{}, id)
}

// CorrelationMiddleware assigns a correlation id to every request: it
// inherits the caller's X-Correlation-ID header if present, otherwise
// mints a new uuid. The id is echoed back on the response and attached to
// the request context for structured logs, metric labels, and span
// attributes to pick up downstream.
func CorrelationMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(correlationHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(correlationHeader, id)
		ctx := WithCorrelationID(r.Context(), id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
