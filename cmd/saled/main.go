// ====================================
// File: cmd/saled/main.go
// ====================================
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/barkprotocol/token-sale-dapp/internal/app"
	"github.com/barkprotocol/token-sale-dapp/internal/config"
	"github.com/barkprotocol/token-sale-dapp/internal/logger"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to the configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logCfg := logger.DefaultConfig()
	logCfg.LogFile = cfg.LogFile
	logCfg.Debug = cfg.DebugLogging
	logCfg.Pretty = cfg.PrettyLogs
	log, err := logger.New(logCfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync(log) }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runner := app.NewRunner(cfg, log)
	if err := runner.Initialize(ctx); err != nil {
		log.Error("Failed to initialize token sale", zap.Error(err))
		_ = runner.Shutdown(context.Background())
		os.Exit(1)
	}

	runErr := runner.Run(ctx)
	if runErr != nil {
		log.Error("Token sale stopped with error", zap.Error(runErr))
	}
	if err := runner.Shutdown(context.Background()); err != nil {
		log.Error("Shutdown finished with errors", zap.Error(err))
	}
	if runErr != nil {
		os.Exit(1)
	}
}
