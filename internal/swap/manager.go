package swap

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"lukechampine.com/frand"

	"github.com/rovshanmuradov/solana-swarm/internal/exchange"
	"github.com/rovshanmuradov/solana-swarm/internal/metrics"
	"github.com/rovshanmuradov/solana-swarm/internal/wallet"
)

// ProgressFunc receives coarse progress updates during a run.
type ProgressFunc func(stage string, current, total int)

// Manager orchestrates a swap run across a wallet set: selection, amount
// planning, mode dispatch, and summary aggregation.
type Manager struct {
	api       exchange.Api
	logger    *zap.Logger
	collector *metrics.Collector
	cancelled atomic.Bool
	progress  ProgressFunc
}

// NewManager creates a manager executing against api.
func NewManager(api exchange.Api, logger *zap.Logger) *Manager {
	return &Manager{
		api:    api,
		logger: logger.Named("manager"),
	}
}

// SetMetrics attaches a metrics collector. Nil is accepted.
func (m *Manager) SetMetrics(c *metrics.Collector) { m.collector = c }

// SetProgressFunc registers a progress callback.
func (m *Manager) SetProgressFunc(f ProgressFunc) { m.progress = f }

// Cancel requests cancellation. Running swaps complete; everything not yet
// started produces a Skipped result.
func (m *Manager) Cancel() {
	m.cancelled.Store(true)
	m.logger.Info("Execution cancellation requested")
}

func (m *Manager) isCancelled() bool { return m.cancelled.Load() }

func (m *Manager) reportProgress(stage string, current, total int) {
	if m.progress != nil {
		m.progress(stage, current, total)
	}
}

// Run executes the configured swaps across the wallet set and returns the
// aggregated summary. The summary is returned alongside most errors so
// partial work is never lost.
func (m *Manager) Run(ctx context.Context, cfg *Config, set *wallet.Set) (*ExecutionSummary, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := set.Validate(); err != nil {
		return nil, fmt.Errorf("invalid wallet set: %w", err)
	}

	summary := &ExecutionSummary{
		Status:       "in_progress",
		StartedAt:    time.Now(),
		TotalWallets: len(set.Children),
	}

	m.logger.Info("Starting swap execution",
		zap.String("operation", string(cfg.Operation)),
		zap.String("pair", cfg.InputName+" -> "+cfg.OutputName),
		zap.String("mode", string(cfg.Mode)),
		zap.Bool("dry_run", cfg.DryRun))

	api := m.api
	if cfg.DryRun {
		api = NewDryRunApi(m.api)
		m.logger.Info("Dry run: swaps will not reach the upstream")
	}

	selected := m.selectWallets(set.Children, cfg.Selection)
	summary.SelectedWallets = len(selected)
	if len(selected) == 0 {
		summary.Status = "failed"
		summary.ErrorMessage = "no wallets selected for execution"
		summary.EndedAt = time.Now()
		return summary, errors.New(summary.ErrorMessage)
	}
	m.logger.Info("Wallets selected", zap.Int("count", len(selected)))

	calc := NewCalculator(api, m.logger)
	m.reportProgress("Calculating amounts", 0, len(selected))
	plans := calc.Calculate(ctx, selected, cfg.Strategy, cfg.InputToken, cfg.MinBalanceThreshold)
	summary.AmountPlans = plans

	if validation := calc.ValidatePlans(plans, 0, 0); !validation.Valid {
		m.logger.Warn("Amount validation issues", zap.Strings("issues", validation.Issues))
	}

	byIndex := make(map[int]wallet.Wallet, len(selected))
	for _, w := range selected {
		byIndex[w.Index] = w
	}

	var executable []AmountPlan
	for _, p := range plans {
		if p.IsValid() {
			executable = append(executable, p)
		}
	}
	if len(executable) == 0 {
		summary.Status = "failed"
		summary.ErrorMessage = "no valid amounts calculated for any wallet"
		summary.EndedAt = time.Now()
		return summary, errors.New(summary.ErrorMessage)
	}

	executor := NewExecutor(api, NewQuoteCache(), cfg, m.logger, m.isCancelled)

	var err error
	switch cfg.Mode {
	case ModeSequential:
		err = m.runSequential(ctx, cfg, executor, executable, byIndex, summary)
	case ModeParallel:
		err = m.runParallel(ctx, cfg, executor, executable, byIndex, summary)
	case ModeBatch:
		err = m.runBatch(ctx, cfg, executor, executable, byIndex, summary)
	}

	summary.EndedAt = time.Now()
	if err != nil {
		summary.Status = "failed"
		summary.ErrorMessage = err.Error()
		return summary, err
	}
	if m.isCancelled() {
		summary.Status = "cancelled"
	} else {
		summary.Status = "completed"
	}

	m.logger.Info("Execution completed",
		zap.Int("successful", summary.SuccessCount()),
		zap.Int("total", len(summary.Results)),
		zap.Float64("success_rate", summary.SuccessRate()),
		zap.Duration("duration", summary.Duration()))
	return summary, nil
}

// selectWallets applies the selection policy. The returned wallets carry
// their index within the child list so reporting stays stable across modes.
func (m *Manager) selectWallets(children []wallet.Wallet, sel Selection) []wallet.Wallet {
	indexed := make([]wallet.Wallet, len(children))
	for i, w := range children {
		w.Index = i
		indexed[i] = w
	}

	switch sel.Kind {
	case SelectFirstN:
		n := sel.Count
		if n > len(indexed) {
			n = len(indexed)
		}
		return indexed[:n]
	case SelectRandom:
		n := sel.Count
		if n > len(indexed) {
			n = len(indexed)
		}
		perm := frand.Perm(len(indexed))
		picked := make([]wallet.Wallet, n)
		for i := 0; i < n; i++ {
			picked[i] = indexed[perm[i]]
		}
		return picked
	case SelectCustom:
		var picked []wallet.Wallet
		for _, idx := range sel.Indices {
			if idx < 0 || idx >= len(indexed) {
				m.logger.Warn("Skipping out-of-range wallet index", zap.Int("index", idx))
				continue
			}
			picked = append(picked, indexed[idx])
		}
		return picked
	default:
		return indexed
	}
}

// skippedResult builds the result for work cancelled before it started.
func skippedResult(cfg *Config, plan AmountPlan) *Result {
	now := time.Now()
	return &Result{
		WalletAddress: plan.WalletAddress,
		WalletIndex:   plan.WalletIndex,
		InputToken:    cfg.InputToken,
		OutputToken:   cfg.OutputToken,
		InputAmount:   plan.CalculatedAmount,
		Status:        StatusSkipped,
		FinalError:    "cancelled",
		StartedAt:     now,
		EndedAt:       now,
	}
}

func (m *Manager) record(summary *ExecutionSummary, batch *BatchResult, r *Result) {
	batch.Results = append(batch.Results, r)
	summary.Results = append(summary.Results, r)
	m.collector.ObserveSwap(string(r.Status), len(r.Attempts))
}

func (m *Manager) runSequential(ctx context.Context, cfg *Config, executor *Executor, plans []AmountPlan, byIndex map[int]wallet.Wallet, summary *ExecutionSummary) error {
	m.logger.Info("Executing swaps sequentially")

	batch := &BatchResult{BatchID: "sequential_" + shortID(), StartedAt: time.Now()}
	defer func() {
		batch.EndedAt = time.Now()
		summary.Batches = append(summary.Batches, batch)
	}()

	for i, plan := range plans {
		if m.isCancelled() {
			m.record(summary, batch, skippedResult(cfg, plan))
			continue
		}

		m.reportProgress("Executing sequential swaps", i, len(plans))
		w := byIndex[plan.WalletIndex]
		m.record(summary, batch, executor.Execute(ctx, w, plan.CalculatedAmount))

		if i < len(plans)-1 && !m.isCancelled() {
			if err := sleepCtx(ctx, cfg.DelayBetweenSwaps); err != nil {
				return err
			}
		}
	}
	return nil
}

func (m *Manager) runParallel(ctx context.Context, cfg *Config, executor *Executor, plans []AmountPlan, byIndex map[int]wallet.Wallet, summary *ExecutionSummary) error {
	m.logger.Info("Executing swaps in parallel",
		zap.Int("max_concurrent", cfg.MaxConcurrent))

	batch := &BatchResult{BatchID: "parallel_" + shortID(), StartedAt: time.Now()}
	sem := semaphore.NewWeighted(int64(cfg.MaxConcurrent))
	results := make(chan *Result, len(plans))

	var wg sync.WaitGroup
	for _, plan := range plans {
		wg.Add(1)
		go func(plan AmountPlan) {
			defer wg.Done()

			if err := sem.Acquire(ctx, 1); err != nil {
				results <- skippedResult(cfg, plan)
				return
			}
			defer sem.Release(1)

			if m.isCancelled() {
				results <- skippedResult(cfg, plan)
				return
			}
			results <- executor.Execute(ctx, byIndex[plan.WalletIndex], plan.CalculatedAmount)
		}(plan)
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	// Results arrive in completion order; each carries its wallet index for
	// stable reporting downstream.
	completed := 0
	for r := range results {
		m.record(summary, batch, r)
		completed++
		m.reportProgress("Executing parallel swaps", completed, len(plans))
	}

	batch.EndedAt = time.Now()
	summary.Batches = append(summary.Batches, batch)
	return nil
}

func (m *Manager) runBatch(ctx context.Context, cfg *Config, executor *Executor, plans []AmountPlan, byIndex map[int]wallet.Wallet, summary *ExecutionSummary) error {
	m.logger.Info("Executing swaps in batches", zap.Int("batch_size", cfg.BatchSize))

	var chunks [][]AmountPlan
	for start := 0; start < len(plans); start += cfg.BatchSize {
		end := start + cfg.BatchSize
		if end > len(plans) {
			end = len(plans)
		}
		chunks = append(chunks, plans[start:end])
	}

	for chunkNum, chunk := range chunks {
		batch := &BatchResult{
			BatchID:   fmt.Sprintf("batch_%d_%s", chunkNum+1, shortID()),
			StartedAt: time.Now(),
		}
		m.logger.Info("Executing batch",
			zap.Int("batch", chunkNum+1),
			zap.Int("batches", len(chunks)),
			zap.Int("swaps", len(chunk)))

		for i, plan := range chunk {
			if m.isCancelled() {
				m.record(summary, batch, skippedResult(cfg, plan))
				continue
			}

			m.reportProgress(fmt.Sprintf("Executing batch %d/%d", chunkNum+1, len(chunks)), i, len(chunk))
			m.record(summary, batch, executor.Execute(ctx, byIndex[plan.WalletIndex], plan.CalculatedAmount))

			if i < len(chunk)-1 && !m.isCancelled() {
				if err := sleepCtx(ctx, cfg.DelayBetweenSwaps); err != nil {
					return err
				}
			}
		}

		batch.EndedAt = time.Now()
		summary.Batches = append(summary.Batches, batch)

		if chunkNum < len(chunks)-1 && !m.isCancelled() {
			m.logger.Info("Waiting before next batch",
				zap.Duration("delay", cfg.DelayBetweenBatches))
			if err := sleepCtx(ctx, cfg.DelayBetweenBatches); err != nil {
				return err
			}
		}
	}
	return nil
}

func shortID() string {
	return uuid.New().String()[:8]
}
