package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	dompay "github.com/Zhima-Mochi/minishop-checkout/internal/domain/payment"

	"github.com/cenkalti/backoff/v4"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := NewClient(Options{
		BaseURL:     srv.URL,
		SecretKey:   "sk_test",
		CallbackURL: "https://shop.example/payments/callback",
		Timeout:     2 * time.Second,
		GetBackOff: func() backoff.BackOff {
			return backoff.WithMaxRetries(backoff.NewConstantBackOff(time.Millisecond), 2)
		},
	})
	require.NoError(t, err)
	return c
}

func TestCreateIntentSendsMinorUnitsAndBasicAuth(t *testing.T) {
	var got createPaymentBody
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		user, _, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "sk_test", user)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/payments", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		_ = json.NewEncoder(w).Encode(map[string]any{
			"id": "pay_1", "status": "initiated", "amount": got.Amount, "currency": got.Currency,
			"source": map[string]string{"transaction_url": "https://3ds.example/pay_1"},
		})
	})

	intent, err := c.CreateIntent(context.Background(), dompay.IntentRequest{
		TransactionID: "tx-1",
		OrderID:       "o-1",
		OrderNumber:   "ORD-1",
		Amount:        decimal.RequireFromString("100.005"),
		Currency:      "SAR",
		Source:        dompay.CreditCard{Name: "A B", Number: "4111111111111111", Month: 1, Year: 2030, CVC: "123"},
	})
	require.NoError(t, err)

	assert.EqualValues(t, 10001, got.Amount)
	assert.Equal(t, "creditcard", got.Source.Type)
	assert.Equal(t, "o-1", got.Metadata["order_id"])
	assert.Equal(t, "https://shop.example/payments/callback", got.CallbackURL)
	assert.Equal(t, "pay_1", intent.ID)
	assert.Equal(t, "https://3ds.example/pay_1", intent.TransactionURL)
}

func TestGetPaymentRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"id": "pay_1", "status": "paid", "amount": 5000, "currency": "SAR"})
	})

	p, err := c.GetPayment(context.Background(), "pay_1")
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, dompay.GatewayPaid, p.Status)
	assert.EqualValues(t, 5000, p.Amount)
}

func TestGetPaymentDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"type":"record_not_found","message":"Object not found"}`))
	})

	_, err := c.GetPayment(context.Background(), "missing")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.Equal(t, "record_not_found", apiErr.Type)
	assert.Equal(t, int32(1), calls.Load())
}

func TestRefundIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	_, err := c.Refund(context.Background(), "pay_1", decimal.RequireFromString("10"), "damaged")
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestRefundSendsAmountAndReason(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/payments/pay_1/refund", r.URL.Path)
		var body refundBody
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.EqualValues(t, 1050, body.Amount)
		assert.Equal(t, "damaged", body.Description)
		_ = json.NewEncoder(w).Encode(map[string]any{"id": "pay_1", "status": "refunded", "amount": 1050, "currency": "SAR"})
	})

	rf, err := c.Refund(context.Background(), "pay_1", decimal.RequireFromString("10.50"), "damaged")
	require.NoError(t, err)
	assert.Equal(t, dompay.GatewayRefunded, rf.Status)
	assert.EqualValues(t, 1050, rf.Amount)
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	})

	for range 5 {
		_, _ = c.Refund(context.Background(), "pay_1", decimal.NewFromInt(1), "")
	}
	_, err := c.Refund(context.Background(), "pay_1", decimal.NewFromInt(1), "")
	assert.ErrorIs(t, err, ErrBreakerOpen)
	assert.Equal(t, int32(5), calls.Load())
}

func TestNewClientRejectsBadURL(t *testing.T) {
	_, err := NewClient(Options{BaseURL: "not a url"})
	assert.Error(t, err)
}
