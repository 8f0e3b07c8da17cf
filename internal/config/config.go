// =================================
// File: internal/config/config.go
// =================================
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/barkprotocol/token-sale-dapp/internal/sale"
	"github.com/barkprotocol/token-sale-dapp/internal/wallet"
)

const EnvPrefix = "TOKEN_SALE"

type Config struct {
	ListenAddr   string          `mapstructure:"listen_addr"`
	DebugLogging bool            `mapstructure:"debug_logging"`
	PrettyLogs   bool            `mapstructure:"pretty_logs"`
	LogFile      string          `mapstructure:"log_file"`
	RPCList      []string        `mapstructure:"rpc_list"`
	Commitment   string          `mapstructure:"commitment"`
	DatabaseURL  string          `mapstructure:"database_url"`
	Sale         SaleConfig      `mapstructure:"sale"`
	Oracle       OracleConfig    `mapstructure:"oracle"`
	Builder      BuilderConfig   `mapstructure:"builder"`
	RateLimit    RateLimitConfig `mapstructure:"rate_limit"`
}

// SaleConfig is the file form of sale.Config: dates are RFC3339, prices are
// decimal strings and addresses are base58.
type SaleConfig struct {
	StartTime          string `mapstructure:"start_time"`
	PublicStageTime    string `mapstructure:"public_stage_time"`
	EndTime            string `mapstructure:"end_time"`
	TotalAllocation    uint64 `mapstructure:"total_allocation"`
	MinPurchase        uint64 `mapstructure:"min_purchase"`
	MaxPurchase        uint64 `mapstructure:"max_purchase"`
	PreStagePrice      string `mapstructure:"pre_stage_price"`
	PublicStagePrice   string `mapstructure:"public_stage_price"`
	ReceivingAddress   string `mapstructure:"receiving_address"`
	TokenMint          string `mapstructure:"token_mint"`
	TokenDecimals      uint8  `mapstructure:"token_decimals"`
	StablecoinMint     string `mapstructure:"stablecoin_mint"`
	StablecoinDecimals uint8  `mapstructure:"stablecoin_decimals"`
	NativeDecimals     uint8  `mapstructure:"native_decimals"`
}

type OracleConfig struct {
	Endpoint          string `mapstructure:"endpoint"`
	NativeID          string `mapstructure:"native_id"`
	StableID          string `mapstructure:"stable_id"`
	APIKey            string `mapstructure:"api_key"`
	TimeoutMs         int    `mapstructure:"timeout_ms"`
	RefreshIntervalMs int    `mapstructure:"refresh_interval_ms"`
	MaxPriceAgeMs     int    `mapstructure:"max_price_age_ms"`
}

func (o OracleConfig) Timeout() time.Duration {
	return time.Duration(o.TimeoutMs) * time.Millisecond
}

func (o OracleConfig) RefreshInterval() time.Duration {
	return time.Duration(o.RefreshIntervalMs) * time.Millisecond
}

func (o OracleConfig) MaxPriceAge() time.Duration {
	return time.Duration(o.MaxPriceAgeMs) * time.Millisecond
}

type BuilderConfig struct {
	ComputeUnitLimit uint32 `mapstructure:"compute_unit_limit"`
	ComputeUnitPrice uint64 `mapstructure:"compute_unit_price"`
	VerifyBlockhash  bool   `mapstructure:"verify_blockhash"`
	MaxRebuilds      int    `mapstructure:"max_rebuilds"`
}

type RateLimitConfig struct {
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
	// TrustProxy keys clients on X-Real-IP/X-Forwarded-For. Leave off unless a
	// proxy in front overwrites them.
	TrustProxy bool `mapstructure:"trust_proxy"`
}

const (
	DefaultListenAddr        = ":8080"
	DefaultLogFile           = "logs/saled.log"
	DefaultCommitment        = "confirmed"
	DefaultOracleTimeoutMs   = 5_000
	DefaultRefreshIntervalMs = 60_000
	DefaultMaxPriceAgeMs     = 300_000
	DefaultMaxRebuilds       = 1
	DefaultRequestsPerSecond = 5
	DefaultBurst             = 10

	// DefaultPublicStageOffset applies when public_stage_time is unset.
	DefaultPublicStageOffset = 7 * 24 * time.Hour
)

// Load reads the file at path, applies TOKEN_SALE_* environment overrides
// and validates the result. An empty path loads defaults and environment only.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	loadEnvironmentVariables(v, &cfg)

	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	defaults := map[string]interface{}{
		"listen_addr":                    DefaultListenAddr,
		"log_file":                       DefaultLogFile,
		"commitment":                     DefaultCommitment,
		"database_url":                   "",
		"debug_logging":                  false,
		"pretty_logs":                    false,
		"sale.start_time":                "",
		"sale.public_stage_time":         "",
		"sale.end_time":                  "",
		"sale.total_allocation":          uint64(3_000_000_000),
		"sale.min_purchase":              uint64(10_000),
		"sale.max_purchase":              uint64(1_000_000_000),
		"sale.pre_stage_price":           "0.000001",
		"sale.public_stage_price":        "",
		"sale.receiving_address":         "",
		"sale.token_mint":                "",
		"sale.token_decimals":            9,
		"sale.stablecoin_mint":           "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v",
		"sale.stablecoin_decimals":       6,
		"sale.native_decimals":           9,
		"oracle.endpoint":                "",
		"oracle.native_id":               "",
		"oracle.stable_id":               "",
		"oracle.api_key":                 "",
		"oracle.timeout_ms":              DefaultOracleTimeoutMs,
		"oracle.refresh_interval_ms":     DefaultRefreshIntervalMs,
		"oracle.max_price_age_ms":        DefaultMaxPriceAgeMs,
		"builder.compute_unit_limit":     0,
		"builder.compute_unit_price":     0,
		"builder.verify_blockhash":       false,
		"builder.max_rebuilds":           DefaultMaxRebuilds,
		"rate_limit.requests_per_second": DefaultRequestsPerSecond,
		"rate_limit.burst":               DefaultBurst,
		"rate_limit.trust_proxy":         false,
	}
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
}

// loadEnvironmentVariables handles the values AutomaticEnv cannot decode
// into their final form.
func loadEnvironmentVariables(v *viper.Viper, cfg *Config) {
	envRPCList := v.GetString("RPC_LIST")
	if envRPCList != "" {
		var cleanRPCs []string
		for _, rpc := range strings.Split(envRPCList, ",") {
			clean := strings.TrimSpace(rpc)
			if clean != "" {
				cleanRPCs = append(cleanRPCs, clean)
			}
		}
		if len(cleanRPCs) > 0 {
			cfg.RPCList = cleanRPCs
		}
	}
}

func validateConfig(cfg *Config) error {
	if len(cfg.RPCList) == 0 {
		return errors.New("rpc_list is empty")
	}
	for _, rpcURL := range cfg.RPCList {
		if err := validateURL(rpcURL, "http"); err != nil {
			return fmt.Errorf("invalid rpc url %q: %w", rpcURL, err)
		}
	}
	if cfg.Oracle.Endpoint != "" {
		if err := validateURL(cfg.Oracle.Endpoint, "http"); err != nil {
			return fmt.Errorf("invalid oracle endpoint: %w", err)
		}
	}
	switch cfg.Commitment {
	case "processed", "confirmed", "finalized":
	default:
		return fmt.Errorf("invalid commitment %q", cfg.Commitment)
	}
	if cfg.Oracle.TimeoutMs <= 0 || cfg.Oracle.RefreshIntervalMs <= 0 || cfg.Oracle.MaxPriceAgeMs <= 0 {
		return errors.New("oracle durations must be positive")
	}
	if cfg.Builder.MaxRebuilds < 0 {
		return errors.New("invalid builder.max_rebuilds")
	}
	if cfg.RateLimit.RequestsPerSecond <= 0 || cfg.RateLimit.Burst <= 0 {
		return errors.New("rate_limit values must be positive")
	}
	if _, err := cfg.Sale.ToSale(); err != nil {
		return err
	}
	return nil
}

func validateURL(rawURL string, protocol string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return errors.New("invalid URL format")
	}
	if !strings.HasPrefix(parsed.Scheme, protocol) || parsed.Host == "" {
		return errors.New("invalid URL protocol")
	}
	return nil
}

// ToSale converts the file form into the immutable sale.Config and checks
// its invariants.
func (s SaleConfig) ToSale() (sale.Config, error) {
	start, err := parseTime("sale.start_time", s.StartTime)
	if err != nil {
		return sale.Config{}, err
	}
	end, err := parseTime("sale.end_time", s.EndTime)
	if err != nil {
		return sale.Config{}, err
	}
	public := start.Add(DefaultPublicStageOffset)
	if s.PublicStageTime != "" {
		if public, err = parseTime("sale.public_stage_time", s.PublicStageTime); err != nil {
			return sale.Config{}, err
		}
	}

	preStage, err := parsePrice("sale.pre_stage_price", s.PreStagePrice)
	if err != nil {
		return sale.Config{}, err
	}
	publicStage := preStage
	if s.PublicStagePrice != "" {
		if publicStage, err = parsePrice("sale.public_stage_price", s.PublicStagePrice); err != nil {
			return sale.Config{}, err
		}
	}

	receiving, err := parseAddress("sale.receiving_address", s.ReceivingAddress)
	if err != nil {
		return sale.Config{}, err
	}
	stableMint, err := parseAddress("sale.stablecoin_mint", s.StablecoinMint)
	if err != nil {
		return sale.Config{}, err
	}
	var tokenMint solana.PublicKey
	if s.TokenMint != "" {
		if tokenMint, err = parseAddress("sale.token_mint", s.TokenMint); err != nil {
			return sale.Config{}, err
		}
	}

	cfg := sale.Config{
		StartTime:          start,
		PublicStageTime:    public,
		EndTime:            end,
		TotalAllocation:    s.TotalAllocation,
		MinPurchase:        s.MinPurchase,
		MaxPurchase:        s.MaxPurchase,
		PreStagePrice:      preStage,
		PublicStagePrice:   publicStage,
		ReceivingAddress:   receiving,
		TokenMint:          tokenMint,
		TokenDecimals:      s.TokenDecimals,
		StablecoinMint:     stableMint,
		StablecoinDecimals: s.StablecoinDecimals,
		NativeDecimals:     s.NativeDecimals,
	}
	if err := cfg.Validate(); err != nil {
		return sale.Config{}, fmt.Errorf("invalid sale config: %w", err)
	}
	return cfg, nil
}

func parseTime(key, value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, fmt.Errorf("%s is required", key)
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s: %w", key, err)
	}
	return t.UTC(), nil
}

func parsePrice(key, value string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func parseAddress(key, value string) (solana.PublicKey, error) {
	pk, err := wallet.ParseAddress(value)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("%s: %w", key, err)
	}
	return pk, nil
}
