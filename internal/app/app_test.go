package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/barkprotocol/token-sale-dapp/internal/config"
)

func TestShutdownHandlerClosesInReverseOrder(t *testing.T) {
	sh := NewShutdownHandler(zap.NewNop(), time.Second)
	var (
		mu    sync.Mutex
		order []string
	)
	for _, name := range []string{"bus", "storage", "server"} {
		sh.AddFunc(name, func() error {
			mu.Lock()
			defer mu.Unlock()
			order = append(order, name)
			return nil
		})
	}

	require.NoError(t, sh.Shutdown(context.Background()))
	assert.Equal(t, []string{"server", "storage", "bus"}, order)

	// A second call has nothing left to close.
	require.NoError(t, sh.Shutdown(context.Background()))
	assert.Len(t, order, 3)
}

func TestShutdownHandlerCollectsErrors(t *testing.T) {
	sh := NewShutdownHandler(zap.NewNop(), 50*time.Millisecond)
	boom := errors.New("boom")
	sh.AddFunc("stuck", func() error {
		time.Sleep(time.Second)
		return nil
	})
	sh.AddFunc("broken", func() error { return boom })

	err := sh.Shutdown(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "stuck: shutdown timeout")
}

func testConfig(t *testing.T, priceURL string) *config.Config {
	t.Helper()
	return &config.Config{
		ListenAddr:  "127.0.0.1:0",
		RPCList:     []string{"http://127.0.0.1:1"},
		Commitment:  "confirmed",
		DatabaseURL: "file:" + filepath.Join(t.TempDir(), "sale.db"),
		Sale: config.SaleConfig{
			StartTime:          "2025-01-01T00:00:00Z",
			EndTime:            "2025-01-31T23:59:59Z",
			TotalAllocation:    3_000_000_000,
			MinPurchase:        10_000,
			MaxPurchase:        1_000_000_000,
			PreStagePrice:      "0.000001",
			ReceivingAddress:   "BARKkeAwhTuFzcLHX4DjotRsmjXQ1MshGrZbn1CUQqMo",
			TokenMint:          "2NTvEssJ2i998V2cMGT4Fy3JhyFnAzHFonDo9dbAkVrg",
			TokenDecimals:      9,
			StablecoinMint:     "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v",
			StablecoinDecimals: 6,
			NativeDecimals:     9,
		},
		Oracle: config.OracleConfig{
			Endpoint:          priceURL,
			TimeoutMs:         1_000,
			RefreshIntervalMs: 60_000,
			MaxPriceAgeMs:     300_000,
		},
		Builder:   config.BuilderConfig{MaxRebuilds: 1},
		RateLimit: config.RateLimitConfig{RequestsPerSecond: 10, Burst: 10},
	}
}

func TestRunnerLifecycle(t *testing.T) {
	var (
		mu        sync.Mutex
		refreshed int
	)
	prices := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		mu.Lock()
		refreshed++
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"solana":{"usd":150},"usd-coin":{"usd":1}}`)
	}))
	defer prices.Close()

	r := NewRunner(testConfig(t, prices.URL), zaptest.NewLogger(t))
	require.NoError(t, r.Initialize(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return refreshed > 0
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("runner did not stop")
	}
	assert.NoError(t, r.Shutdown(context.Background()))
}

func TestRunnerRejectsInvalidSale(t *testing.T) {
	cfg := testConfig(t, "http://127.0.0.1:1")
	cfg.Sale.EndTime = "2024-12-01T00:00:00Z"

	r := NewRunner(cfg, zap.NewNop())
	assert.Error(t, r.Initialize(context.Background()))
}

func TestRunBeforeInitialize(t *testing.T) {
	r := NewRunner(testConfig(t, "http://127.0.0.1:1"), zap.NewNop())
	assert.Error(t, r.Run(context.Background()))
}
