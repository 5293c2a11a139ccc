package context

import (
	"context"
	"strings"
)

type ctxKey string

const (
	requestIDKey  ctxKey = "request_id"
	businessIDKey ctxKey = "business_id"
)

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, strings.TrimSpace(requestID))
}

func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	value, _ := ctx.Value(requestIDKey).(string)
	return value
}

// WithBusinessID tags the context with the business a request resolved to.
func WithBusinessID(ctx context.Context, businessID string) context.Context {
	return context.WithValue(ctx, businessIDKey, strings.TrimSpace(businessID))
}

func BusinessIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	value, _ := ctx.Value(businessIDKey).(string)
	return value
}
