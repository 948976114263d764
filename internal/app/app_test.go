package app

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pixbridge/internal/dispatcher"
	"pixbridge/pkg/config"
	"pixbridge/pkg/logger"
)

func testConfig() *config.Config {
	return &config.Config{
		App:       config.AppConfig{Name: "pixbridge", Env: "test", MachineID: 1},
		Server:    config.ServerConfig{Port: "0"},
		Queue:     config.QueueConfig{Workers: 2, BufferSize: 16, MaxAttempts: 3, BackoffBase: 10 * time.Millisecond, BackoffCap: 50 * time.Millisecond},
		Monitor:   config.MonitorConfig{PollInterval: time.Second, MaxWatchDuration: time.Minute},
		Order:     config.OrderConfig{MinAmount: "10.00", MaxAmount: "4999.99", FeePercent: "1.5", FeeFixed: "0.50"},
		Gateway:   config.GatewayConfig{BaseURL: "http://127.0.0.1:1", Timeout: time.Second},
		Quote:     config.QuoteConfig{URL: "http://127.0.0.1:1/price", Fiat: "BRL", Timeout: time.Second},
		Lightning: config.LightningConfig{BaseURL: "http://127.0.0.1:1", Timeout: time.Second},
		LNURL:     config.LNURLConfig{Timeout: time.Second, Scheme: "https"},
	}
}

func TestDispatcherConfig(t *testing.T) {
	dcfg, err := dispatcherConfig(testConfig())
	require.NoError(t, err)
	assert.Equal(t, "10", dcfg.MinAmount.String())
	assert.Equal(t, "4999.99", dcfg.MaxAmount.String())
	assert.Equal(t, time.Second, dcfg.SettleCheckInterval)
	assert.Equal(t, time.Minute, dcfg.SettleCheckTimeout)

	fee := dcfg.Fee(10000, "BTC")
	assert.Equal(t, int64(50), fee.FixedCents)
	assert.Equal(t, int64(200), fee.Cents(10000))

	bad := testConfig()
	bad.Order.FeePercent = "abc"
	_, err = dispatcherConfig(bad)
	assert.Error(t, err)
}

func TestAppInMemory(t *testing.T) {
	a, err := New(testConfig(), logger.NewNop())
	require.NoError(t, err)
	assert.Nil(t, a.dao)
	assert.Nil(t, a.pubsub)
	assert.Empty(t, a.workers)

	done := make(chan error, 1)
	go func() { done <- a.Start() }()
	require.Eventually(t, a.started.Load, 2*time.Second, 10*time.Millisecond)

	// 未配置外部服务时也能通过 HTTP 下单
	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders", bytes.NewBufferString(`{"chat_ref":"chat-1"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	a.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusCreated, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w = httptest.NewRecorder()
	a.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "pixbridge_order_events_total")

	a.Shutdown()
	a.Shutdown()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Start did not return after Shutdown")
	}
}

func TestLogSink(t *testing.T) {
	s := &logSink{logger: logger.NewNop()}
	assert.NoError(t, s.Emit(context.Background(), dispatcher.Prompt{Kind: dispatcher.PromptCurrencyMenu, OrderID: "o-1"}))
}
