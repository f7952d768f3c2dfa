// Package observability provides request-scoped identity propagation and the
// Prometheus metrics collector. Trace and tenant ids flow through
// context.Context so logs, metrics and audit records can be correlated;
// absent context yields empty fields, never a crash.
package observability

import "context"

type contextKey int

const (
	traceIDKey contextKey = iota
	tenantIDKey
)

// WithTraceID returns a context carrying the trace id.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

// WithTenantID returns a context carrying the tenant id.
func WithTenantID(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, tenantIDKey, tenantID)
}

// TraceID extracts the trace id, or "" when absent.
func TraceID(ctx context.Context) string {
	if v, ok := ctx.Value(traceIDKey).(string); ok {
		return v
	}
	return ""
}

// TenantID extracts the tenant id, or "" when absent.
func TenantID(ctx context.Context) string {
	if v, ok := ctx.Value(tenantIDKey).(string); ok {
		return v
	}
	return ""
}
