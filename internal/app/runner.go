// internal/app/runner.go
package app

import (
	"context"
	"fmt"
	"net/http"

	solanarpc "github.com/gagliardetto/solana-go/rpc"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/barkprotocol/token-sale-dapp/internal/api"
	"github.com/barkprotocol/token-sale-dapp/internal/blockchain/solbc"
	"github.com/barkprotocol/token-sale-dapp/internal/config"
	"github.com/barkprotocol/token-sale-dapp/internal/events"
	"github.com/barkprotocol/token-sale-dapp/internal/metrics"
	"github.com/barkprotocol/token-sale-dapp/internal/oracle"
	"github.com/barkprotocol/token-sale-dapp/internal/pricing"
	"github.com/barkprotocol/token-sale-dapp/internal/purchase"
	"github.com/barkprotocol/token-sale-dapp/internal/sale"
	"github.com/barkprotocol/token-sale-dapp/internal/storage/postgres"
	"github.com/barkprotocol/token-sale-dapp/internal/transaction"
)

const eventBufferSize = 1024

// Runner owns the wired sale service and its background loops.
type Runner struct {
	cfg      *config.Config
	logger   *zap.Logger
	shutdown *ShutdownHandler

	saleCfg sale.Config
	bus     *events.Bus
	metrics *metrics.Metrics
	poller  *oracle.Poller
	service *purchase.Service
	server  *api.Server
}

func NewRunner(cfg *config.Config, logger *zap.Logger) *Runner {
	return &Runner{
		cfg:      cfg,
		logger:   logger,
		shutdown: NewShutdownHandler(logger, 0),
	}
}

// Initialize builds every component: stores, oracle, chain client, builder,
// ledger, purchase service and HTTP server.
func (r *Runner) Initialize(ctx context.Context) error {
	saleCfg, err := r.cfg.Sale.ToSale()
	if err != nil {
		return err
	}
	r.saleCfg = saleCfg

	r.bus = events.NewBus(r.logger, eventBufferSize)
	r.shutdown.AddFunc("event_bus", func() error {
		return r.bus.Shutdown(context.Background())
	})

	counter, store, err := r.openStores()
	if err != nil {
		return err
	}

	r.metrics = metrics.New()
	r.metrics.Attach(r.bus)
	r.metrics.WatchBus(r.bus.Stats)
	if sold, err := counter.Sold(ctx); err == nil {
		r.metrics.SetSold(sold)
	}

	source := oracle.NewCoinGecko(
		oracle.WithHTTPClient(&http.Client{Timeout: r.cfg.Oracle.Timeout()}),
		oracle.WithEndpoint(r.cfg.Oracle.Endpoint),
		oracle.WithAPIKey(r.cfg.Oracle.APIKey),
		oracle.WithAssetIDs(r.cfg.Oracle.NativeID, r.cfg.Oracle.StableID),
	)
	prices := oracle.New(source, r.bus, r.logger)
	r.poller = oracle.NewPoller(prices, r.cfg.Oracle.RefreshInterval(), r.logger)

	chain, err := solbc.NewClient(r.cfg.RPCList, solanarpc.CommitmentType(r.cfg.Commitment), r.logger)
	if err != nil {
		return fmt.Errorf("create chain client: %w", err)
	}
	r.metrics.WatchRPC(chain.Nodes)

	builder := transaction.NewBuilder(chain, saleCfg, transaction.Options{
		Fees: transaction.FeeOptions{
			ComputeUnitLimit: r.cfg.Builder.ComputeUnitLimit,
			ComputeUnitPrice: r.cfg.Builder.ComputeUnitPrice,
		},
		VerifyBlockhash: r.cfg.Builder.VerifyBlockhash,
	}, r.logger)

	engine := pricing.NewEngine(saleCfg, pricing.WithMaxPriceAge(r.cfg.Oracle.MaxPriceAge()))
	ledger := sale.NewLedger(saleCfg, counter, r.logger)

	r.service = purchase.NewService(saleCfg, prices, engine, ledger, builder, chain, r.logger,
		purchase.WithPublisher(r.bus),
		purchase.WithStore(store),
		purchase.WithMaxRebuilds(r.cfg.Builder.MaxRebuilds),
	)

	limiter := api.NewRateLimiter(r.cfg.RateLimit.RequestsPerSecond, r.cfg.RateLimit.Burst, r.logger)
	r.server = api.NewServer(r.service, r.metrics.Registry(), limiter, r.logger,
		api.WithReadiness(chain.Ready),
		api.WithTrustedProxy(r.cfg.RateLimit.TrustProxy),
	)

	r.logger.Info("Token sale initialized",
		zap.Time("start", saleCfg.StartTime),
		zap.Time("public_stage", saleCfg.PublicStageTime),
		zap.Time("end", saleCfg.EndTime),
		zap.Uint64("total_allocation", saleCfg.TotalAllocation),
		zap.Int("rpc_nodes", len(r.cfg.RPCList)),
		zap.Bool("durable_storage", r.cfg.DatabaseURL != ""))
	return nil
}

func (r *Runner) openStores() (sale.CounterStore, purchase.Store, error) {
	if r.cfg.DatabaseURL == "" {
		r.logger.Warn("No database_url configured, sale state is kept in memory only")
		return sale.NewMemoryCounter(0), purchase.NewMemoryStore(), nil
	}

	db, err := postgres.Open(r.cfg.DatabaseURL, r.logger)
	if err != nil {
		return nil, nil, err
	}
	if err := db.RunMigrations(); err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	r.shutdown.Add("storage", db)
	return db, db, nil
}

// Run drives the price poller and the HTTP server until ctx ends or either
// fails.
func (r *Runner) Run(ctx context.Context) error {
	if r.service == nil {
		return fmt.Errorf("runner is not initialized")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return r.poller.Run(gctx)
	})
	g.Go(func() error {
		return r.server.Run(gctx, r.cfg.ListenAddr)
	})

	r.logger.Info("Token sale running", zap.String("listen_addr", r.cfg.ListenAddr))
	return g.Wait()
}

// Shutdown closes the bus and the stores.
func (r *Runner) Shutdown(ctx context.Context) error {
	return r.shutdown.Shutdown(ctx)
}
