package middleware

import (
	"context"
	"net/http"
	"strings"
)

type contextKey string

const (
	ctxOperatorID contextKey = "operator_id"

	operatorHeader = "X-Operator-Id"
)

// OperatorIDFromContext returns the operator recorded for admin requests.
func OperatorIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(ctxOperatorID).(string); ok {
		return v
	}
	return ""
}

// WithOperatorID injects the operator identifier into the context.
func WithOperatorID(ctx context.Context, operatorID string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, ctxOperatorID, operatorID)
}

// Operator copies the X-Operator-Id header set by the upstream gateway into
// the request context so admin overrides are attributed in the outbox.
func Operator() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			operatorID := strings.TrimSpace(r.Header.Get(operatorHeader))
			if operatorID == "" {
				next.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithOperatorID(r.Context(), operatorID)))
		})
	}
}
