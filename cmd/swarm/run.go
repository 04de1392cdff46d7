package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/rovshanmuradov/solana-swarm/internal/config"
	"github.com/rovshanmuradov/solana-swarm/internal/exchange"
	"github.com/rovshanmuradov/solana-swarm/internal/metrics"
	"github.com/rovshanmuradov/solana-swarm/internal/report"
	"github.com/rovshanmuradov/solana-swarm/internal/swap"
	"github.com/rovshanmuradov/solana-swarm/internal/treasury"
	"github.com/rovshanmuradov/solana-swarm/internal/verify"
	"github.com/rovshanmuradov/solana-swarm/internal/wallet"
)

// runner wires the engines to the configured upstream and wallet store.
type runner struct {
	cfg       *config.Run
	logger    *zap.Logger
	api       *exchange.Client
	store     wallet.Store
	collector *metrics.Collector
}

func (r *runner) execute(ctx context.Context, command string) error {
	switch command {
	case "swap":
		return r.runSwaps(ctx)
	case "fund":
		return r.runFund(ctx)
	case "sweep":
		return r.runSweep(ctx)
	case "health":
		return r.runHealth(ctx)
	default:
		return fmt.Errorf("unknown command %q (expected swap, fund, sweep, or health)", command)
	}
}

// loadWalletSet assembles the run's wallet hierarchy from the store.
func (r *runner) loadWalletSet() (*wallet.Set, error) {
	parent, err := r.store.LoadParent(r.cfg.UserID, r.cfg.ParentAddress)
	if err != nil {
		return nil, fmt.Errorf("load parent wallet: %w", err)
	}

	children, err := r.store.LoadChildren(parent.Address, r.cfg.UserID)
	if err != nil {
		return nil, fmt.Errorf("load child wallets: %w", err)
	}
	if len(children) == 0 {
		return nil, errors.New("no child wallets found for parent")
	}

	set := &wallet.Set{Parent: *parent, Children: children}
	if err := set.Validate(); err != nil {
		return nil, err
	}
	return set, nil
}

func (r *runner) runSwaps(ctx context.Context) error {
	swapCfg, err := r.cfg.SwapConfig()
	if err != nil {
		return err
	}

	set, err := r.loadWalletSet()
	if err != nil {
		return err
	}

	if _, err := r.api.Health(ctx); err != nil {
		return fmt.Errorf("exchange health check failed: %w", err)
	}

	if swapCfg.ConfirmBeforeExecution && !swapCfg.DryRun {
		if !confirm(fmt.Sprintf("Execute %s of %s -> %s across %d wallets?",
			swapCfg.Operation, swapCfg.InputName, swapCfg.OutputName, len(set.Children))) {
			r.logger.Info("Execution aborted by user")
			return nil
		}
	}

	manager := swap.NewManager(r.api, r.logger)
	manager.SetMetrics(r.collector)

	// An interrupt signal cancels pending work but lets running swaps finish.
	cancelCh := make(chan struct{})
	defer close(cancelCh)
	go func() {
		select {
		case <-ctx.Done():
			manager.Cancel()
		case <-cancelCh:
		}
	}()

	summary, err := manager.Run(context.WithoutCancel(ctx), swapCfg, set)
	if summary != nil {
		reporter := report.NewReporter(r.cfg.ReportDir, r.logger)
		fmt.Println(reporter.Console(summary, swapCfg))
		if path, saveErr := reporter.Save(summary, swapCfg, report.FormatJSON); saveErr != nil {
			r.logger.Error("Failed to save report", zap.Error(saveErr))
		} else {
			r.logger.Info("Run report written", zap.String("path", path))
		}
	}
	return err
}

func (r *runner) runFund(ctx context.Context) error {
	if r.cfg.FundAmount <= 0 {
		return errors.New("fund_amount must be positive")
	}

	set, err := r.loadWalletSet()
	if err != nil {
		return err
	}
	if !set.Parent.HasSecret() {
		return errors.New("parent wallet has no secret key")
	}

	watcher := verify.NewWatcher(r.api, r.logger)
	watcher.SetMetrics(r.collector)
	funder := treasury.NewFunder(r.api, watcher, r.logger)
	funder.SetMetrics(r.collector)

	children := make([]treasury.FundingChild, len(set.Children))
	for i, child := range set.Children {
		children[i] = treasury.FundingChild{Wallet: child, RequiredAmount: r.cfg.FundAmount}
	}

	result, err := funder.Fund(ctx, treasury.FundingRequest{
		Parent:      set.Parent,
		Children:    children,
		PriorityFee: r.cfg.PriorityFee,
		Verify:      r.cfg.Verify,
	})
	if err != nil {
		return err
	}

	fmt.Printf("Funding %s: %d successful (%d already funded, %d newly funded), %d failed in %s\n",
		result.Status, result.SuccessfulTransfers, result.AlreadyFunded,
		result.NewlyFunded, result.FailedTransfers, result.Duration.Round(time.Second))
	if result.Status == treasury.FundingFailed {
		return errors.New("funding failed for all children")
	}
	return nil
}

func (r *runner) runSweep(ctx context.Context) error {
	set, err := r.loadWalletSet()
	if err != nil {
		return err
	}

	watcher := verify.NewWatcher(r.api, r.logger)
	watcher.SetMetrics(r.collector)
	sweeper := treasury.NewSweeper(r.api, watcher, r.logger)
	sweeper.SetMetrics(r.collector)

	results := sweeper.Sweep(ctx, set.Parent, set.Children, r.cfg.Verify)

	verified, total := 0, 0.0
	for _, res := range results {
		if res.Verified {
			verified++
			total += res.AmountReturned
		} else if res.Error != "" {
			fmt.Printf("  %s: %s\n", res.ChildAddress, res.Error)
		}
	}
	fmt.Printf("Sweep: %d/%d verified, %.6f SOL returned\n", verified, len(results), total)

	if verified == 0 && len(results) > 0 {
		return errors.New("no sweeps could be verified")
	}
	return nil
}

func (r *runner) runHealth(ctx context.Context) error {
	health, err := r.api.Health(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Exchange status: %s (%d known tokens)\n", health.Status, len(health.Tokens))
	return nil
}

func confirm(prompt string) bool {
	fmt.Printf("%s [y/N]: ", prompt)
	scanner := bufio.NewScanner(os.Stdin)
	if !scanner.Scan() {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(scanner.Text()))
	return answer == "y" || answer == "yes"
}
