package correlation

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEnsureCorrelationIDKeepsExisting(t *testing.T) {
	ctx := ContextWithCorrelationID(context.Background(), "abc")
	ctx, cid := EnsureCorrelationID(ctx)
	assert.Equal(t, "abc", cid)
	assert.Equal(t, "abc", ExtractCorrelationID(ctx))
}

func TestEnsureCorrelationIDGenerates(t *testing.T) {
	ctx, cid := EnsureCorrelationID(context.Background())
	assert.Len(t, cid, 26)
	assert.Equal(t, cid, ExtractCorrelationID(ctx))
}

func TestFromHeader(t *testing.T) {
	ctx, cid := FromHeader(context.Background(), " req-42 ")
	assert.Equal(t, "req-42", cid)
	assert.Equal(t, "req-42", ExtractCorrelationID(ctx))

	_, cid = FromHeader(context.Background(), "has space")
	assert.Len(t, cid, 26)
}

func TestForDeliverySharesIDAcrossRedeliveries(t *testing.T) {
	_, first := ForDelivery(context.Background(), "telephony", "call_123")
	_, second := ForDelivery(ContextWithCorrelationID(context.Background(), "req-1"), "telephony", "call_123")
	assert.Equal(t, "telephony:call_123", first)
	assert.Equal(t, first, second)

	_, generated := ForDelivery(context.Background(), "billing", "")
	assert.Len(t, generated, 26)
}
