package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/barkprotocol/token-sale-dapp/internal/purchase"
	"github.com/barkprotocol/token-sale-dapp/internal/sale"
	"github.com/barkprotocol/token-sale-dapp/internal/transaction"
)

const buyerAddress = "BARKkeAwhTuFzcLHX4DjotRsmjXQ1MshGrZbn1CUQqMo"

type fakeSale struct {
	mu        sync.Mutex
	err       error
	requests  []sale.PurchaseRequest
	cancelled []uuid.UUID
}

func (f *fakeSale) Purchase(_ context.Context, req sale.PurchaseRequest) (*purchase.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	return &purchase.Result{
		PurchaseID: uuid.MustParse("6f1c1f0e-8f7e-4a53-9b55-3f7c2b4a1d10"),
		Quote: sale.Quote{
			TokenAmount: req.TokenAmount,
			UnitPrice:   decimal.RequireFromString("0.000001"),
			TotalCost:   decimal.RequireFromString("0.01"),
			Currency:    req.Currency,
			Stage:       sale.PreSale,
		},
		Payload: &transaction.Payload{Transaction: "AQID", FeePayer: req.Buyer.String()},
	}, nil
}

func (f *fakeSale) Rebuild(_ context.Context, id uuid.UUID) (*purchase.Result, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &purchase.Result{PurchaseID: id, Payload: &transaction.Payload{Transaction: "BBBB"}}, nil
}

func (f *fakeSale) ReportBroadcastFailure(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.cancelled = append(f.cancelled, id)
	return nil
}

func (f *fakeSale) Delivery(_ context.Context, _ uuid.UUID) (*transaction.Payload, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &transaction.Payload{Transaction: "CCCC", CreatesAccount: true}, nil
}

func (f *fakeSale) SaleInfo(context.Context) (purchase.Info, error) {
	return purchase.Info{
		Stage:           sale.PreSale,
		Active:          true,
		UnitPrices:      map[sale.Currency]decimal.Decimal{sale.Native: decimal.RequireFromString("0.000001")},
		SoldAmount:      10_000,
		TotalAllocation: 3_000_000_000,
	}, nil
}

func newTestServer(svc Sale) http.Handler {
	return NewServer(svc, prometheus.NewRegistry(), NewRateLimiter(1000, 1000, zap.NewNop()), zap.NewNop()).Routes()
}

func post(t *testing.T, h http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	rec := httptest.NewRecorder()
	newTestServer(&fakeSale{}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestSaleInfo(t *testing.T) {
	rec := httptest.NewRecorder()
	newTestServer(&fakeSale{}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/sale-info", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "Pre-Sale", body["stage"])
	assert.Equal(t, true, body["active"])
	assert.Equal(t, map[string]any{"SOL": "0.000001"}, body["unitPrices"])
}

func TestPurchase(t *testing.T) {
	svc := &fakeSale{}
	rec := post(t, newTestServer(svc), "/api/purchase",
		`{"walletAddress":"`+buyerAddress+`","amount":10000,"currency":"SOL"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	require.Len(t, svc.requests, 1)
	assert.Equal(t, solana.MustPublicKeyFromBase58(buyerAddress), svc.requests[0].Buyer)
	assert.Equal(t, uint64(10_000), svc.requests[0].TokenAmount)
	assert.Equal(t, sale.Native, svc.requests[0].Currency)

	var body struct {
		PurchaseID string `json:"purchaseId"`
		Quote      struct {
			TotalCost string `json:"totalCost"`
			Currency  string `json:"currency"`
		} `json:"quote"`
		Payload struct {
			Transaction string `json:"transaction"`
		} `json:"payload"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "6f1c1f0e-8f7e-4a53-9b55-3f7c2b4a1d10", body.PurchaseID)
	assert.Equal(t, "0.01", body.Quote.TotalCost)
	assert.Equal(t, "SOL", body.Quote.Currency)
	assert.Equal(t, "AQID", body.Payload.Transaction)
}

func TestPurchaseBadInput(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"not json", `{`, "Invalid request body."},
		{"unknown field", `{"walletAddress":"` + buyerAddress + `","amount":1,"currency":"SOL","tip":1}`, "Invalid request body."},
		{"bad wallet", `{"walletAddress":"nope","amount":1,"currency":"SOL"}`, "Invalid wallet address."},
		{"bad currency", `{"walletAddress":"` + buyerAddress + `","amount":1,"currency":"BTC"}`, "Unsupported currency."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &fakeSale{}
			rec := post(t, newTestServer(svc), "/api/purchase", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.JSONEq(t, `{"error":"`+tt.want+`"}`, rec.Body.String())
			assert.Empty(t, svc.requests)
		})
	}
}

func TestPurchaseErrorMapping(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{sale.BoundError(sale.ErrBelowMinimum, "validate", 10_000), http.StatusBadRequest},
		{sale.BoundError(sale.ErrAboveMaximum, "validate", 1_000_000_000), http.StatusBadRequest},
		{sale.NewError(sale.ErrInvalidAmount, "quote", nil), http.StatusBadRequest},
		{sale.NewError(sale.ErrSaleInactive, "validate", nil), http.StatusConflict},
		{sale.BoundError(sale.ErrInsufficientSupply, "reserve", 5), http.StatusConflict},
		{sale.NewError(sale.ErrPriceUnavailable, "quote", nil), http.StatusServiceUnavailable},
		{sale.NewError(sale.ErrOracleUnavailable, "coingecko", nil), http.StatusServiceUnavailable},
		{sale.NewError(sale.ErrChainStateExpired, "build", nil), http.StatusServiceUnavailable},
		{sale.NewError(sale.ErrTransferAssemblyFailed, "build", errors.New("rpc node secret-host down")), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			rec := post(t, newTestServer(&fakeSale{err: tt.err}), "/api/purchase",
				`{"walletAddress":"`+buyerAddress+`","amount":10000,"currency":"USDC"}`)
			assert.Equal(t, tt.status, rec.Code)

			var body errorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, sale.UserMessage(tt.err), body.Error)
			assert.NotContains(t, rec.Body.String(), "secret-host")
		})
	}
}

func TestPurchaseLifecycleEndpoints(t *testing.T) {
	id := uuid.New()
	svc := &fakeSale{}
	h := newTestServer(svc)

	rec := post(t, h, "/api/purchases/"+id.String()+"/rebuild", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "BBBB")

	rec = post(t, h, "/api/purchases/"+id.String()+"/delivery", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"createsAccount":true`)

	rec = post(t, h, "/api/purchases/"+id.String()+"/cancel", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"purchaseId":"`+id.String()+`","status":"compensated"}`, rec.Body.String())
	assert.Equal(t, []uuid.UUID{id}, svc.cancelled)

	rec = post(t, h, "/api/purchases/not-a-uuid/cancel", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLifecycleErrors(t *testing.T) {
	id := uuid.New().String()

	rec := post(t, newTestServer(&fakeSale{err: sale.NewError(sale.ErrPurchaseNotFound, id, nil)}),
		"/api/purchases/"+id+"/cancel", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = post(t, newTestServer(&fakeSale{err: sale.NewError(sale.ErrRebuildLimit, id, nil)}),
		"/api/purchases/"+id+"/rebuild", "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = post(t, newTestServer(&fakeSale{err: sale.NewError(sale.ErrPayloadStillValid, id, nil)}),
		"/api/purchases/"+id+"/cancel", "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = post(t, newTestServer(&fakeSale{err: sale.NewError(sale.ErrChainUnavailable, "cancel", nil)}),
		"/api/purchases/"+id+"/cancel", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRateLimit(t *testing.T) {
	h := NewServer(&fakeSale{}, nil, NewRateLimiter(0.001, 2, zap.NewNop()), zap.NewNop()).Routes()

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/sale-info", nil)
		req.RemoteAddr = "203.0.113.7:5555"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)

	// Other clients have their own bucket; health checks are never limited.
	req := httptest.NewRequest(http.MethodGet, "/api/sale-info", nil)
	req.RemoteAddr = "198.51.100.1:1234"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.RemoteAddr = "203.0.113.7:5555"
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimiterForgetsIdleClients(t *testing.T) {
	now := time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(1, 1, zap.NewNop())
	rl.clockNow = func() time.Time { return now }

	assert.True(t, rl.allow("a"))
	now = now.Add(2 * visitorIdle)
	assert.True(t, rl.allow("b"))
	assert.NotContains(t, rl.visitors, "a")
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "token_sale_test_total", Help: "test"})
	reg.MustRegister(c)
	c.Inc()

	h := NewServer(&fakeSale{}, reg, nil, zap.NewNop()).Routes()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "token_sale_test_total 1")
}

func TestRunShutsDownOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	srv := NewServer(&fakeSale{}, nil, nil, zap.NewNop())

	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx, "127.0.0.1:0") }()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestRateLimitIgnoresForwardingHeaders(t *testing.T) {
	h := NewServer(&fakeSale{}, nil, NewRateLimiter(0.001, 1, zap.NewNop()), zap.NewNop()).Routes()

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/sale-info", nil)
		req.RemoteAddr = "203.0.113.7:5555"
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("10.0.0.%d", i))
		req.Header.Set("X-Real-IP", fmt.Sprintf("10.0.1.%d", i))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusTooManyRequests, http.StatusTooManyRequests}, codes)
}

func TestRateLimitBehindTrustedProxy(t *testing.T) {
	h := NewServer(&fakeSale{}, nil, NewRateLimiter(0.001, 1, zap.NewNop()), zap.NewNop(),
		WithTrustedProxy(true)).Routes()

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/sale-info", nil)
		req.RemoteAddr = "10.0.0.1:443"
		req.Header.Set("X-Real-IP", fmt.Sprintf("198.51.100.%d", i))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
	}
}

func TestReadyz(t *testing.T) {
	var notReady error
	h := NewServer(&fakeSale{}, nil, nil, zap.NewNop(),
		WithReadiness(func() error { return notReady })).Routes()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	notReady = errors.New("no active RPC nodes available")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
