package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pixbridge/pkg/errorutil"
	"pixbridge/pkg/logger"
)

func TestCreateCharge(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/charges", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		var req ChargeRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "order-1", req.OrderID)
		assert.Equal(t, int64(15000), req.AmountCents)

		_ = json.NewEncoder(w).Encode(map[string]string{
			"payment_ref": "ref-1",
			"pix_code":    "00020126...",
			"expires_at":  "2026-01-01T00:00:00Z",
		})
	}))
	defer srv.Close()

	c := NewPixClient(srv.URL+"/", "secret", time.Second, logger.NewNop())
	charge, err := c.CreateCharge(context.Background(), ChargeRequest{
		OrderID: "order-1", AmountCents: 15000, Currency: "BTC", Network: "LIGHTNING",
	})
	require.NoError(t, err)
	assert.Equal(t, "ref-1", charge.PaymentRef)
	assert.Equal(t, "00020126...", charge.PixCode)
	assert.Equal(t, 2026, charge.ExpiresAt.Year())
}

func TestCreateChargeMissingFields(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"payment_ref":"ref-1"}`))
	}))
	defer srv.Close()

	c := NewPixClient(srv.URL, "", time.Second, logger.NewNop())
	_, err := c.CreateCharge(context.Background(), ChargeRequest{OrderID: "o", AmountCents: 1000})
	require.Error(t, err)
	assert.Equal(t, errorutil.KindProtocol, errorutil.KindOf(err))
}

func TestCreateChargeRejectsNonPositiveAmount(t *testing.T) {
	c := NewPixClient("http://unused", "", time.Second, logger.NewNop())
	_, err := c.CreateCharge(context.Background(), ChargeRequest{OrderID: "o"})
	assert.Equal(t, errorutil.KindValidation, errorutil.KindOf(err))
}

func TestGetStatus(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		confirmed bool
		closed    bool
	}{
		{"pending", `{"status":"pending"}`, false, false},
		{"paid", `{"status":"paid","blockchain_tx_id":"tx-9"}`, true, false},
		{"expired", `{"status":"expired"}`, false, true},
		{"cancelled", `{"status":"cancelled"}`, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/charges/ref-1", r.URL.Path)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			st, err := NewPixClient(srv.URL, "", time.Second, logger.NewNop()).GetStatus(context.Background(), "ref-1")
			require.NoError(t, err)
			assert.Equal(t, tt.confirmed, st.Confirmed())
			assert.Equal(t, tt.closed, st.Closed())
		})
	}
}

func TestGetStatusErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		kind      errorutil.Kind
		retryable bool
	}{
		{"server error", http.StatusServiceUnavailable, errorutil.KindNetwork, true},
		{"not found", http.StatusNotFound, errorutil.KindRemoteBusiness, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			_, err := NewPixClient(srv.URL, "", time.Second, logger.NewNop()).GetStatus(context.Background(), "ref")
			require.Error(t, err)
			assert.Equal(t, tt.kind, errorutil.KindOf(err))
			assert.Equal(t, tt.retryable, errorutil.IsRetryable(err))
		})
	}
}

func TestGetStatusTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	_, err := NewPixClient(srv.URL, "", time.Second, logger.NewNop()).GetStatus(context.Background(), "ref")
	require.Error(t, err)
	assert.Equal(t, errorutil.KindNetwork, errorutil.KindOf(err))
	assert.True(t, errorutil.IsRetryable(err))
}

func TestQuotePrice(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "BTC", r.URL.Query().Get("currency"))
		assert.Equal(t, "BRL", r.URL.Query().Get("fiat"))
		_, _ = w.Write([]byte(`{"price":"350000.50"}`))
	}))
	defer srv.Close()

	price, err := NewQuoteClient(srv.URL+"/v1/price", "", time.Second, logger.NewNop()).Price(context.Background(), "BTC")
	require.NoError(t, err)
	assert.True(t, price.Equal(decimal.RequireFromString("350000.50")))
}

func TestQuoteRejectsZeroPrice(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"price":0}`))
	}))
	defer srv.Close()

	_, err := NewQuoteClient(srv.URL, "BRL", time.Second, logger.NewNop()).Price(context.Background(), "BTC")
	assert.Equal(t, errorutil.KindProtocol, errorutil.KindOf(err))
}

func TestSatsFor(t *testing.T) {
	price := decimal.NewFromInt(400_000)

	// 100.00 BRL / 400000 BRL/BTC = 0.00025 BTC
	sats, err := SatsFor(10_000, price)
	require.NoError(t, err)
	assert.Equal(t, int64(25_000), sats)

	// 10.01 BRL -> 2502.5 sats, 向下取整
	sats, err = SatsFor(1_001, price)
	require.NoError(t, err)
	assert.Equal(t, int64(2_502), sats)

	_, err = SatsFor(0, price)
	assert.Error(t, err)
	_, err = SatsFor(100, decimal.Zero)
	assert.Error(t, err)
}
