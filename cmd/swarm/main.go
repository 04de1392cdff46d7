package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/solana-swarm/internal/config"
	"github.com/rovshanmuradov/solana-swarm/internal/exchange"
	"github.com/rovshanmuradov/solana-swarm/internal/logger"
	"github.com/rovshanmuradov/solana-swarm/internal/metrics"
	"github.com/rovshanmuradov/solana-swarm/internal/wallet"
)

func main() {
	configPath := flag.String("config", "configs/config.json", "Path to config file")
	flag.Parse()

	command := "swap"
	if args := flag.Args(); len(args) > 0 {
		command = args[0]
	}

	// Local overrides, then SWARM_-prefixed env picked up by viper.
	_ = godotenv.Load()

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logCfg := logger.DefaultConfig()
	logCfg.Development = cfg.DebugLogging
	appLogger, err := logger.New(logCfg)
	if err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}
	defer func() {
		_ = appLogger.Sync()
	}()

	runID := uuid.New().String()
	runLog := appLogger.WithRun(runID)

	client := exchange.NewClient(cfg.APIBaseURL, runLog)
	client.SetRunID(runID)

	store, err := wallet.NewFileStore(cfg.WalletDir, runLog)
	if err != nil {
		log.Fatalf("Failed to open wallet store: %v", err)
	}

	r := &runner{
		cfg:       cfg,
		logger:    runLog,
		api:       client,
		store:     store,
		collector: metrics.NewCollector(),
	}

	if err := r.execute(rootCtx, command); err != nil {
		if rootCtx.Err() != nil {
			runLog.Warn("Interrupted", zap.Error(err))
			os.Exit(130)
		}
		runLog.Error("Command failed", zap.String("command", command), zap.Error(err))
		fmt.Fprintf(os.Stderr, "swarm %s: %v\n", command, err)
		os.Exit(1)
	}
}
