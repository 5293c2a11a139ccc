// Package correlation ties together the log lines and spans produced by one
// provider delivery, including its redeliveries.
package correlation

import (
	"context"
	"strings"

	"github.com/oklog/ulid/v2"
)

// Header carries a caller-supplied correlation id.
const Header = "X-Correlation-Id"

const maxIDLength = 128

type correlationKey struct{}

// ExtractCorrelationID returns the id on ctx, or "".
func ExtractCorrelationID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if val, ok := ctx.Value(correlationKey{}).(string); ok {
		return val
	}
	return ""
}

// ContextWithCorrelationID stores id on ctx. Empty ids leave ctx unchanged.
func ContextWithCorrelationID(ctx context.Context, id string) context.Context {
	id = strings.TrimSpace(id)
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, correlationKey{}, id)
}

// EnsureCorrelationID returns ctx carrying an id, generating a ULID when missing.
func EnsureCorrelationID(ctx context.Context) (context.Context, string) {
	if cid := ExtractCorrelationID(ctx); cid != "" {
		return ctx, cid
	}
	cid := ulid.Make().String()
	return ContextWithCorrelationID(ctx, cid), cid
}

// FromHeader adopts an inbound header value when it is printable and short,
// and otherwise generates one.
func FromHeader(ctx context.Context, value string) (context.Context, string) {
	value = strings.TrimSpace(value)
	if value != "" && len(value) <= maxIDLength && printable(value) {
		return ContextWithCorrelationID(ctx, value), value
	}
	return EnsureCorrelationID(ctx)
}

// ForDelivery keys the correlation id on the provider's delivery identity
// (call id, billing event id) so redeliveries share one id.
func ForDelivery(ctx context.Context, source, deliveryID string) (context.Context, string) {
	deliveryID = strings.TrimSpace(deliveryID)
	if deliveryID == "" {
		return EnsureCorrelationID(ctx)
	}
	cid := strings.TrimSpace(source) + ":" + deliveryID
	return ContextWithCorrelationID(ctx, cid), cid
}

func printable(s string) bool {
	for _, r := range s {
		if r < 0x21 || r > 0x7e {
			return false
		}
	}
	return true
}
