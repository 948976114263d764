package lnurl

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"

	"pixbridge/pkg/errorutil"
	"pixbridge/pkg/logger"
)

const bech32Data = "qpzry9x8gf2tvdw0s3jn54khce6mua7lqpzry9x8gf2tvdw0s3jn54khce6mua7l"

func fakeInvoice(hrp string) string {
	return hrp + "1" + bech32Data
}

// lnurlServer 模拟 LUD-16 服务端
type lnurlServer struct {
	*httptest.Server
	discovery     func(w http.ResponseWriter, r *http.Request)
	callback      func(w http.ResponseWriter, r *http.Request)
	discoveryHits *atomic.Int32
	callbackHits  *atomic.Int32
}

func newLNURLServer(t *testing.T) *lnurlServer {
	t.Helper()
	s := &lnurlServer{
		discoveryHits: atomic.NewInt32(0),
		callbackHits:  atomic.NewInt32(0),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/lnurlp/", func(w http.ResponseWriter, r *http.Request) {
		s.discoveryHits.Inc()
		s.discovery(w, r)
	})
	mux.HandleFunc("/cb", func(w http.ResponseWriter, r *http.Request) {
		s.callbackHits.Inc()
		s.callback(w, r)
	})
	s.Server = httptest.NewServer(mux)
	t.Cleanup(s.Close)
	return s
}

func (s *lnurlServer) address(user string) string {
	return user + "@" + s.Listener.Addr().String()
}

func (s *lnurlServer) payParams(overrides map[string]interface{}) map[string]interface{} {
	params := map[string]interface{}{
		"callback":    s.URL + "/cb?token=abc",
		"minSendable": 1000,
		"maxSendable": 1_000_000_000,
		"metadata":    `[["text/plain","Pay alice"]]`,
		"tag":         "payRequest",
	}
	for k, v := range overrides {
		if v == nil {
			delete(params, k)
			continue
		}
		params[k] = v
	}
	return params
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func newTestResolver(opts ...Option) *Resolver {
	return NewResolver(logger.NewNop(), append([]Option{WithScheme("http")}, opts...)...)
}

func requireCode(t *testing.T, err error, code Code) *ResolutionError {
	t.Helper()
	require.Error(t, err)
	var re *ResolutionError
	require.True(t, errors.As(err, &re), "want *ResolutionError, got %T", err)
	assert.Equal(t, code, re.Code)
	return re
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want DestinationType
	}{
		{"address", "alice@wallet.example", DestinationAddress},
		{"address upper case", "Alice@Wallet.Example", DestinationAddress},
		{"address with port", "bob@127.0.0.1:8080", DestinationAddress},
		{"mainnet invoice", fakeInvoice("lnbc10u"), DestinationInvoice},
		{"testnet invoice", fakeInvoice("lntb"), DestinationInvoice},
		{"signet invoice", fakeInvoice("lntbs2500n"), DestinationInvoice},
		{"regtest invoice", fakeInvoice("lnbcrt1m"), DestinationInvoice},
		{"simnet invoice", fakeInvoice("lnsb"), DestinationInvoice},
		{"upper case invoice", strings.ToUpper(fakeInvoice("lnbc")), DestinationInvoice},
		{"lightning scheme", "lightning:" + fakeInvoice("lnbc"), DestinationInvoice},
		{"short invoice", "lnbc1qpzry9x8gf", DestinationInvalid},
		{"unknown prefix", fakeInvoice("lnxx"), DestinationInvalid},
		{"no domain", "alice@", DestinationInvalid},
		{"no tld", "alice@localhost", DestinationInvalid},
		{"garbage", "not an address", DestinationInvalid},
		{"empty", "", DestinationInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.in).Type)
		})
	}
}

func TestClassifyAddressParts(t *testing.T) {
	d := Classify("  Alice@Wallet.Example ")
	assert.Equal(t, "alice", d.LocalPart)
	assert.Equal(t, "wallet.example", d.Domain)
}

func TestInvoiceAmountMsat(t *testing.T) {
	tests := []struct {
		hrp  string
		want int64
		ok   bool
	}{
		{"lnbc", 0, false},
		{"lnbc1", 100_000_000_000, true},
		{"lnbc2m", 200_000_000, true},
		{"lnbc10u", 1_000_000, true},
		{"lnbc2500n", 250_000, true},
		{"lnbc10p", 1, true},
		{"lnbc15p", 0, false},
		{"lnbc100000000000", 0, false},
		{"lnbc92233720368548m", 0, false},
		{"lnbc92233720368547m", 9_223_372_036_854_700_000, true},
	}
	for _, tt := range tests {
		got, ok := invoiceAmountMsat(fakeInvoice(tt.hrp))
		assert.Equal(t, tt.ok, ok, tt.hrp)
		assert.Equal(t, tt.want, got, tt.hrp)
	}
}

func TestResolveInvoicePassThrough(t *testing.T) {
	srv := newLNURLServer(t)
	r := newTestResolver()

	invoice := fakeInvoice("lnbc10u")
	got, err := r.Resolve(context.Background(), invoice, 1000)
	require.NoError(t, err)
	assert.Equal(t, invoice, got.Bolt11)
	assert.True(t, got.PassThrough)
	assert.Equal(t, int32(0), srv.discoveryHits.Load())
	assert.Equal(t, int32(0), srv.callbackHits.Load())
}

func TestResolveInvoicePassThroughStripsScheme(t *testing.T) {
	r := newTestResolver()

	invoice := fakeInvoice("lnbc10u")
	got, err := r.Resolve(context.Background(), "  lightning:"+invoice+"\n", 1000)
	require.NoError(t, err)
	assert.Equal(t, invoice, got.Bolt11)
	assert.True(t, got.PassThrough)
}

func TestResolveInvoicePassThroughAmountMismatch(t *testing.T) {
	r := newTestResolver()

	_, err := r.Resolve(context.Background(), fakeInvoice("lnbc10u"), 999)
	requireCode(t, err, CodeInvoiceAmountMismatch)
}

func TestResolveAddressRoundTrip(t *testing.T) {
	srv := newLNURLServer(t)
	invoice := fakeInvoice("lnbc10u")

	srv.discovery = func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/.well-known/lnurlp/alice", r.URL.Path)
		writeJSON(w, http.StatusOK, srv.payParams(nil))
	}
	srv.callback = func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "1000000", r.URL.Query().Get("amount"))
		assert.Equal(t, "abc", r.URL.Query().Get("token"))
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"pr":            invoice,
			"routes":        []string{},
			"successAction": map[string]string{"tag": "message", "message": "thanks"},
		})
	}

	got, err := newTestResolver().Resolve(context.Background(), srv.address("alice"), 1000)
	require.NoError(t, err)
	assert.Equal(t, invoice, got.Bolt11)
	assert.Equal(t, "Pay alice", got.Description)
	assert.Equal(t, "thanks", got.SuccessMessage)
	assert.False(t, got.PassThrough)
	assert.Equal(t, int32(1), srv.callbackHits.Load())
}

func TestResolveAmountlessInvoiceAccepted(t *testing.T) {
	srv := newLNURLServer(t)
	srv.discovery = func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, srv.payParams(nil))
	}
	srv.callback = func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{"pr": fakeInvoice("lnbc"), "expiry": 600})
	}

	got, err := newTestResolver().Resolve(context.Background(), srv.address("alice"), 1234)
	require.NoError(t, err)
	assert.Equal(t, 10*time.Minute, got.Expiry)
}

func TestResolveMissingField(t *testing.T) {
	for _, field := range []string{"callback", "minSendable", "maxSendable", "metadata", "tag"} {
		t.Run(field, func(t *testing.T) {
			srv := newLNURLServer(t)
			srv.discovery = func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, http.StatusOK, srv.payParams(map[string]interface{}{field: nil}))
			}

			_, err := newTestResolver().Resolve(context.Background(), srv.address("alice"), 1000)
			re := requireCode(t, err, CodeMissingField)
			assert.Equal(t, field, re.Field)
			assert.Equal(t, int32(0), srv.callbackHits.Load())
		})
	}
}

func TestResolveUnsupportedTag(t *testing.T) {
	srv := newLNURLServer(t)
	srv.discovery = func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, srv.payParams(map[string]interface{}{"tag": "withdrawRequest"}))
	}

	_, err := newTestResolver().Resolve(context.Background(), srv.address("alice"), 1000)
	requireCode(t, err, CodeUnsupportedAddress)
}

func TestResolveAddressNotFound(t *testing.T) {
	srv := newLNURLServer(t)
	srv.discovery = func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}

	_, err := newTestResolver().Resolve(context.Background(), srv.address("ghost"), 1000)
	re := requireCode(t, err, CodeAddressNotFound)
	assert.Equal(t, http.StatusNotFound, re.Status)
}

func TestResolveDiscoveryErrorEnvelope(t *testing.T) {
	srv := newLNURLServer(t)
	srv.discovery = func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ERROR", "reason": "user disabled"})
	}

	_, err := newTestResolver().Resolve(context.Background(), srv.address("alice"), 1000)
	re := requireCode(t, err, CodeRemoteError)
	assert.Equal(t, "user disabled", re.Reason)
}

func TestResolveAmountOutOfRange(t *testing.T) {
	srv := newLNURLServer(t)
	srv.discovery = func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, srv.payParams(map[string]interface{}{
			"minSendable": 10_000_000,
			"maxSendable": 20_000_000,
		}))
	}
	srv.callback = func(w http.ResponseWriter, r *http.Request) {
		t.Error("callback must not be called")
	}

	r := newTestResolver()
	_, err := r.Resolve(context.Background(), srv.address("alice"), 9_999)
	requireCode(t, err, CodeAmountOutOfRange)

	_, err = r.Resolve(context.Background(), srv.address("alice"), 20_001)
	requireCode(t, err, CodeAmountOutOfRange)

	_, err = r.Resolve(context.Background(), srv.address("alice"), 0)
	requireCode(t, err, CodeAmountOutOfRange)

	assert.Equal(t, int32(0), srv.callbackHits.Load())
}

func TestResolveCallbackRemoteError(t *testing.T) {
	srv := newLNURLServer(t)
	srv.discovery = func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, srv.payParams(nil))
	}
	srv.callback = func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ERROR", "reason": "no liquidity"})
	}

	_, err := newTestResolver().Resolve(context.Background(), srv.address("alice"), 1000)
	re := requireCode(t, err, CodeRemoteError)
	assert.Equal(t, "no liquidity", re.Reason)
	assert.Equal(t, errorutil.KindRemoteBusiness, errorutil.KindOf(err))
	assert.False(t, errorutil.IsRetryable(err))
}

func TestResolveCallbackFailed(t *testing.T) {
	srv := newLNURLServer(t)
	srv.discovery = func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, srv.payParams(nil))
	}
	srv.callback = func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}

	_, err := newTestResolver().Resolve(context.Background(), srv.address("alice"), 1000)
	re := requireCode(t, err, CodeCallbackFailed)
	assert.Equal(t, http.StatusBadGateway, re.Status)
}

func TestResolveNoInvoiceReturned(t *testing.T) {
	srv := newLNURLServer(t)
	srv.discovery = func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, srv.payParams(nil))
	}
	srv.callback = func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{"routes": []string{}})
	}

	_, err := newTestResolver().Resolve(context.Background(), srv.address("alice"), 1000)
	requireCode(t, err, CodeNoInvoiceReturned)
}

func TestResolveInvoiceAmountMismatch(t *testing.T) {
	srv := newLNURLServer(t)
	srv.discovery = func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, srv.payParams(nil))
	}
	srv.callback = func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"pr": fakeInvoice("lnbc20u")})
	}

	_, err := newTestResolver().Resolve(context.Background(), srv.address("alice"), 1000)
	requireCode(t, err, CodeInvoiceAmountMismatch)
}

func TestResolveInvalidFormat(t *testing.T) {
	_, err := newTestResolver().Resolve(context.Background(), "definitely not valid", 1000)
	requireCode(t, err, CodeInvalidFormat)
	assert.Equal(t, errorutil.KindValidation, errorutil.KindOf(err))
}

func TestResolveNetworkTimeout(t *testing.T) {
	srv := newLNURLServer(t)
	srv.discovery = func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}

	_, err := newTestResolver(WithTimeout(50*time.Millisecond)).Resolve(context.Background(), srv.address("alice"), 1000)
	requireCode(t, err, CodeNetworkError)
	assert.True(t, errorutil.IsRetryable(err))
	assert.Equal(t, errorutil.KindNetwork, errorutil.KindOf(err))
}
