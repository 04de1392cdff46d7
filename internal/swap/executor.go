package swap

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/rovshanmuradov/solana-swarm/internal/exchange"
	"github.com/rovshanmuradov/solana-swarm/internal/keycodec"
	"github.com/rovshanmuradov/solana-swarm/internal/wallet"
)

// minSwapAmount is the amount a swap must exceed to be submitted; anything at
// or below it is skipped before the first attempt.
const minSwapAmount = 1e-6

// Executor performs a single wallet's swap with classified retries.
type Executor struct {
	api       exchange.Api
	cache     *QuoteCache
	cfg       *Config
	policy    RetryPolicy
	logger    *zap.Logger
	cancelled func() bool
	sleep     func(ctx context.Context, d time.Duration) error
}

// NewExecutor creates an executor for one run. cancelled is polled before
// every attempt; a nil func means the run is never cancelled.
func NewExecutor(api exchange.Api, cache *QuoteCache, cfg *Config, logger *zap.Logger, cancelled func() bool) *Executor {
	if cancelled == nil {
		cancelled = func() bool { return false }
	}
	return &Executor{
		api:       api,
		cache:     cache,
		cfg:       cfg,
		logger:    logger.Named("executor"),
		cancelled: cancelled,
		sleep:     sleepCtx,
	}
}

// Execute runs the swap for one wallet. The returned result is always
// non-nil; inspect Status for the outcome.
func (e *Executor) Execute(ctx context.Context, w wallet.Wallet, amount float64) *Result {
	result := &Result{
		WalletAddress: w.Address,
		WalletIndex:   w.Index,
		InputToken:    e.cfg.InputToken,
		OutputToken:   e.cfg.OutputToken,
		InputAmount:   amount,
		Status:        StatusPending,
		StartedAt:     time.Now(),
	}

	log := e.logger.With(
		zap.String("wallet", keycodec.Mask(w.Address)),
		zap.Int("wallet_index", w.Index))

	if reason := e.precheck(w, amount); reason != "" {
		result.Status = StatusSkipped
		result.FinalError = reason
		result.EndedAt = time.Now()
		log.Warn("Swap skipped before execution", zap.String("reason", reason))
		return result
	}

	log.Info("Starting swap",
		zap.Float64("amount", amount),
		zap.String("pair", e.cfg.InputName+" -> "+e.cfg.OutputName))

	maxAttempts := e.cfg.MaxRetries + 1
	for attemptNum := 0; attemptNum < maxAttempts; attemptNum++ {
		if e.cancelled() {
			result.Status = StatusSkipped
			result.FinalError = "cancelled"
			result.EndedAt = time.Now()
			return result
		}

		attempt := &Attempt{
			Number:    attemptNum + 1,
			StartedAt: time.Now(),
			Status:    StatusPending,
		}
		result.Attempts = append(result.Attempts, attempt)

		err := e.attempt(ctx, w, amount, result, attempt)
		if err == nil {
			result.Status = StatusSuccess
			result.EndedAt = time.Now()
			log.Info("Swap succeeded",
				zap.Int("attempt", attempt.Number),
				zap.String("tx", result.TransactionID))
			return result
		}

		attempt.Status = StatusFailed
		attempt.Error = err.Error()
		attempt.EndedAt = time.Now()
		log.Warn("Swap attempt failed",
			zap.Int("attempt", attempt.Number),
			zap.Error(err))

		category := Classify(err)
		delay, retryable := e.policy.Next(category, attemptNum)
		if !retryable || !e.cfg.RetryFailed || attemptNum+1 >= maxAttempts {
			result.Status = StatusFailed
			result.FinalError = err.Error()
			result.ErrorClass = category
			result.ErrorGuidance = category.Guidance()
			result.EndedAt = time.Now()
			log.Error("Swap failed",
				zap.Int("attempts", len(result.Attempts)),
				zap.String("category", string(category)))
			return result
		}

		result.Status = StatusRetrying
		if err := e.sleep(ctx, delay); err != nil {
			result.Status = StatusFailed
			result.FinalError = err.Error()
			result.ErrorClass = CategoryNetwork
			result.EndedAt = time.Now()
			return result
		}
	}

	// Unreachable: the loop always returns.
	result.EndedAt = time.Now()
	return result
}

// precheck validates the swap before any attempt; a non-empty return is the
// skip reason.
func (e *Executor) precheck(w wallet.Wallet, amount float64) string {
	if amount <= 0 {
		return fmt.Sprintf("invalid amount: %f", amount)
	}
	if amount <= minSwapAmount {
		return fmt.Sprintf("amount too small: %f", amount)
	}
	if !w.HasSecret() {
		return "wallet has no secret key"
	}
	return ""
}

func (e *Executor) attempt(ctx context.Context, w wallet.Wallet, amount float64, result *Result, attempt *Attempt) error {
	attempt.Status = StatusQuoteRequested
	quote, err := e.quote(ctx, amount)
	if err != nil {
		return fmt.Errorf("failed to get valid quote: %w", err)
	}
	attempt.Quote = quote
	attempt.Status = StatusQuoteReceived

	attempt.Status = StatusExecuting
	resp, err := e.api.Swap(ctx, exchange.SwapRequest{
		SecretKey:     w.SecretKey,
		Quote:         quote,
		WrapUnwrapSol: true,
		AsLegacy:      false,
		CollectFees:   e.cfg.CollectFees,
		Verify:        e.cfg.Verify,
	})
	if err != nil {
		return err
	}
	if !resp.Succeeded() {
		msg := resp.Message
		if msg == "" {
			msg = "unknown error"
		}
		return errors.New("swap execution failed: " + msg)
	}

	attempt.Status = StatusSuccess
	attempt.TransactionID = resp.TransactionID
	attempt.EndedAt = time.Now()

	result.TransactionID = resp.TransactionID
	if in := quote.InLamports(); in > 0 {
		v := fromBaseUnits(in)
		result.ActualInput = &v
	}
	if out := quote.OutLamports(); out > 0 {
		v := fromBaseUnits(out)
		result.ActualOutput = &v
	}
	if quote.PriceImpactPct != "" {
		v := quote.PriceImpact()
		result.PriceImpact = &v
	}
	if fc := resp.FeeCollection; fc != nil && fc.Status == "success" {
		v := fc.FeeAmount
		result.FeeCollected = &v
	}
	return nil
}

// quote consults the cache before hitting the upstream.
func (e *Executor) quote(ctx context.Context, amount float64) (*exchange.QuoteResponse, error) {
	baseUnits := toBaseUnits(amount)

	if cached, ok := e.cache.Get(e.cfg.InputToken, e.cfg.OutputToken, baseUnits); ok {
		e.logger.Debug("Using cached quote",
			zap.String("pair", e.cfg.InputName+" -> "+e.cfg.OutputName))
		return cached, nil
	}

	quote, err := e.api.Quote(ctx, exchange.QuoteRequest{
		InputMint:       e.cfg.InputToken,
		OutputMint:      e.cfg.OutputToken,
		AmountBaseUnits: baseUnits,
		SlippageBps:     e.cfg.SlippageBps,
	})
	if err != nil {
		return nil, err
	}

	e.cache.Put(e.cfg.InputToken, e.cfg.OutputToken, baseUnits, quote)
	return quote, nil
}

// toBaseUnits converts a decimal amount to integer base units.
func toBaseUnits(amount float64) uint64 {
	return uint64(math.Round(amount * exchange.LamportsPerSOL))
}

// fromBaseUnits converts integer base units back to a decimal amount.
func fromBaseUnits(units uint64) float64 {
	return float64(units) / exchange.LamportsPerSOL
}

// sleepCtx sleeps for d or until the context is done.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
