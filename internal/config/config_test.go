package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validYAML = `
listen_addr: ":9090"
rpc_list:
  - https://api.mainnet-beta.solana.com
database_url: "file:sale.db"
sale:
  start_time: "2025-01-01T00:00:00Z"
  public_stage_time: "2025-01-08T00:00:00Z"
  end_time: "2025-01-31T23:59:59Z"
  pre_stage_price: "0.000001"
  public_stage_price: "0.0000015"
  receiving_address: BARKkeAwhTuFzcLHX4DjotRsmjXQ1MshGrZbn1CUQqMo
  token_mint: 2NTvEssJ2i998V2cMGT4Fy3JhyFnAzHFonDo9dbAkVrg
oracle:
  api_key: demo
builder:
  compute_unit_price: 5000
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	cfg, err := Load(writeConfig(t, validYAML))
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.ListenAddr)
	assert.Equal(t, []string{"https://api.mainnet-beta.solana.com"}, cfg.RPCList)
	assert.Equal(t, "file:sale.db", cfg.DatabaseURL)
	assert.Equal(t, DefaultCommitment, cfg.Commitment)
	assert.Equal(t, "demo", cfg.Oracle.APIKey)
	assert.Equal(t, 5*time.Minute, cfg.Oracle.MaxPriceAge())
	assert.Equal(t, time.Minute, cfg.Oracle.RefreshInterval())
	assert.Equal(t, uint64(5000), cfg.Builder.ComputeUnitPrice)
	assert.Equal(t, DefaultMaxRebuilds, cfg.Builder.MaxRebuilds)

	sc, err := cfg.Sale.ToSale()
	require.NoError(t, err)
	assert.Equal(t, uint64(3_000_000_000), sc.TotalAllocation)
	assert.Equal(t, uint64(10_000), sc.MinPurchase)
	assert.Equal(t, uint64(1_000_000_000), sc.MaxPurchase)
	assert.True(t, sc.PreStagePrice.Equal(decimal.RequireFromString("0.000001")))
	assert.True(t, sc.PublicStagePrice.Equal(decimal.RequireFromString("0.0000015")))
	assert.Equal(t, "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v", sc.StablecoinMint.String())
	assert.Equal(t, uint8(6), sc.StablecoinDecimals)
	assert.Equal(t, uint8(9), sc.TokenDecimals)
	assert.Equal(t, time.Date(2025, 1, 8, 0, 0, 0, 0, time.UTC), sc.PublicStageTime)
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	t.Setenv("TOKEN_SALE_RPC_LIST", " https://a.example.com , https://b.example.com,")
	t.Setenv("TOKEN_SALE_DATABASE_URL", "postgres://sale@db/sale")
	t.Setenv("TOKEN_SALE_ORACLE_API_KEY", "from-env")

	cfg, err := Load(writeConfig(t, validYAML))
	require.NoError(t, err)

	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, cfg.RPCList)
	assert.Equal(t, "postgres://sale@db/sale", cfg.DatabaseURL)
	assert.Equal(t, "from-env", cfg.Oracle.APIKey)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"no rpc", `
sale: {start_time: "2025-01-01T00:00:00Z", end_time: "2025-01-31T00:00:00Z", receiving_address: BARKkeAwhTuFzcLHX4DjotRsmjXQ1MshGrZbn1CUQqMo}
`},
		{"bad rpc scheme", `
rpc_list: ["ws://localhost:8900"]
sale: {start_time: "2025-01-01T00:00:00Z", end_time: "2025-01-31T00:00:00Z", receiving_address: BARKkeAwhTuFzcLHX4DjotRsmjXQ1MshGrZbn1CUQqMo}
`},
		{"bad commitment", `
rpc_list: ["http://localhost:8899"]
commitment: eventual
sale: {start_time: "2025-01-01T00:00:00Z", end_time: "2025-01-31T00:00:00Z", receiving_address: BARKkeAwhTuFzcLHX4DjotRsmjXQ1MshGrZbn1CUQqMo}
`},
		{"missing start", `
rpc_list: ["http://localhost:8899"]
sale: {end_time: "2025-01-31T00:00:00Z", receiving_address: BARKkeAwhTuFzcLHX4DjotRsmjXQ1MshGrZbn1CUQqMo}
`},
		{"end before public stage", `
rpc_list: ["http://localhost:8899"]
sale: {start_time: "2025-01-01T00:00:00Z", end_time: "2025-01-05T00:00:00Z", receiving_address: BARKkeAwhTuFzcLHX4DjotRsmjXQ1MshGrZbn1CUQqMo}
`},
		{"bad price", `
rpc_list: ["http://localhost:8899"]
sale: {start_time: "2025-01-01T00:00:00Z", end_time: "2025-01-31T00:00:00Z", pre_stage_price: "cheap", receiving_address: BARKkeAwhTuFzcLHX4DjotRsmjXQ1MshGrZbn1CUQqMo}
`},
		{"bad address", `
rpc_list: ["http://localhost:8899"]
sale: {start_time: "2025-01-01T00:00:00Z", end_time: "2025-01-31T00:00:00Z", receiving_address: not-base58!}
`},
		{"max above allocation", `
rpc_list: ["http://localhost:8899"]
sale: {start_time: "2025-01-01T00:00:00Z", end_time: "2025-01-31T00:00:00Z", total_allocation: 100, receiving_address: BARKkeAwhTuFzcLHX4DjotRsmjXQ1MshGrZbn1CUQqMo}
`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}
}

func TestToSaleDefaults(t *testing.T) {
	sc := SaleConfig{
		StartTime:          "2025-01-01T00:00:00Z",
		EndTime:            "2025-01-31T23:59:59Z",
		TotalAllocation:    3_000_000_000,
		MinPurchase:        10_000,
		MaxPurchase:        1_000_000_000,
		PreStagePrice:      "0.000001",
		ReceivingAddress:   "BARKkeAwhTuFzcLHX4DjotRsmjXQ1MshGrZbn1CUQqMo",
		StablecoinMint:     "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v",
		StablecoinDecimals: 6,
		NativeDecimals:     9,
	}
	cfg, err := sc.ToSale()
	require.NoError(t, err)

	assert.Equal(t, cfg.StartTime.Add(7*24*time.Hour), cfg.PublicStageTime)
	assert.True(t, cfg.PublicStagePrice.Equal(cfg.PreStagePrice))
	assert.True(t, cfg.TokenMint.IsZero())
}
