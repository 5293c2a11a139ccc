package billing

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	meteringdomain "github.com/smallbiznis/answerline/internal/metering/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v81"
	"go.uber.org/zap"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	backend := stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
		URL:               stripe.String(srv.URL),
		MaxNetworkRetries: stripe.Int64(0),
		LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelNull},
	})
	return NewClient("sk_test_123", "price_overage", &stripe.Backends{
		API:     backend,
		Connect: backend,
		Uploads: backend,
	}, zap.NewNop())
}

func TestSubmitUsage(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/subscription_items/si_1/usage_records", r.URL.Path)
		assert.Equal(t, "overage-1-0-5", r.Header.Get("Idempotency-Key"))
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "5", r.PostForm.Get("quantity"))
		assert.Equal(t, "increment", r.PostForm.Get("action"))
		assert.Equal(t, "1772323200", r.PostForm.Get("timestamp"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"mbur_1","object":"usage_record","quantity":5,"subscription_item":"si_1","timestamp":1772323200}`))
	})

	err := client.SubmitUsage(context.Background(), meteringdomain.UsageSubmission{
		SubscriptionItemID: "si_1",
		Quantity:           5,
		Timestamp:          time.Unix(1772323200, 0),
		IdempotencyKey:     "overage-1-0-5",
	})
	require.NoError(t, err)
}

func TestSubmitUsageFailureIsExternal(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":{"type":"api_error","message":"unavailable"}}`))
	})

	err := client.SubmitUsage(context.Background(), meteringdomain.UsageSubmission{
		SubscriptionItemID: "si_1",
		Quantity:           5,
	})
	assert.ErrorIs(t, err, meteringdomain.ErrExternalService)
}

func TestEnsureMeteredItemReusesExisting(t *testing.T) {
	var created bool
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.Method {
		case http.MethodGet:
			assert.Equal(t, "sub_1", r.URL.Query().Get("subscription"))
			_, _ = w.Write([]byte(`{"object":"list","url":"/v1/subscription_items","has_more":false,"data":[
				{"id":"si_base","object":"subscription_item","price":{"id":"price_tier1","object":"price"}},
				{"id":"si_over","object":"subscription_item","price":{"id":"price_overage","object":"price"}}
			]}`))
		default:
			created = true
			w.WriteHeader(http.StatusBadRequest)
		}
	})

	id, err := client.EnsureMeteredItem(context.Background(), "sub_1")
	require.NoError(t, err)
	assert.Equal(t, "si_over", id)
	assert.False(t, created)
}

func TestEnsureMeteredItemCreatesMissing(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.Method {
		case http.MethodGet:
			_, _ = w.Write([]byte(`{"object":"list","url":"/v1/subscription_items","has_more":false,"data":[]}`))
		case http.MethodPost:
			require.NoError(t, r.ParseForm())
			assert.Equal(t, "sub_1", r.PostForm.Get("subscription"))
			assert.Equal(t, "price_overage", r.PostForm.Get("price"))
			assert.Equal(t, "metered-item-sub_1", r.Header.Get("Idempotency-Key"))
			_, _ = w.Write([]byte(`{"id":"si_new","object":"subscription_item","price":{"id":"price_overage","object":"price"}}`))
		}
	})

	id, err := client.EnsureMeteredItem(context.Background(), "sub_1")
	require.NoError(t, err)
	assert.Equal(t, "si_new", id)
}
