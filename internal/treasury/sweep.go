package treasury

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/rovshanmuradov/solana-swarm/internal/exchange"
	"github.com/rovshanmuradov/solana-swarm/internal/keycodec"
	"github.com/rovshanmuradov/solana-swarm/internal/metrics"
	"github.com/rovshanmuradov/solana-swarm/internal/verify"
	"github.com/rovshanmuradov/solana-swarm/internal/wallet"
)

const (
	// sweepGasAllowance: a child balance decrease beyond plausible gas fees
	// counts as evidence the sweep landed.
	sweepGasAllowance = 5e-4

	sweepPropagationWait = 10 * time.Second
	parentWatchMaxWait   = 120 * time.Second
	parentWatchInterval  = 10 * time.Second
)

// Verification methods, in the order they are tried.
const (
	SweepVerifiedByAPI         = "api_status"
	SweepVerifiedByTxStatus    = "tx_status"
	SweepVerifiedByChildDelta  = "balance_delta"
	SweepVerifiedByParentWatch = "parent_watch"
)

// SweepResult is the outcome of returning one child's funds.
type SweepResult struct {
	ChildAddress      string        `json:"child_address"`
	Verified          bool          `json:"verified"`
	Method            string        `json:"verification_method,omitempty"`
	AmountReturned    float64       `json:"amount_returned,omitempty"`
	FinalChildBalance float64       `json:"final_child_balance,omitempty"`
	TransactionID     string        `json:"transaction_id,omitempty"`
	Error             string        `json:"error,omitempty"`
	Duration          time.Duration `json:"duration"`
}

// Sweeper returns residual funds from child wallets to the parent. The
// upstream computes the maximum sendable amount that preserves rent
// exemption; the sweeper only verifies the outcome.
type Sweeper struct {
	api       exchange.Api
	watcher   *verify.Watcher
	logger    *zap.Logger
	collector *metrics.Collector

	// Test seam; production value is sweepPropagationWait.
	wait func()
}

// NewSweeper creates a sweep engine.
func NewSweeper(api exchange.Api, watcher *verify.Watcher, logger *zap.Logger) *Sweeper {
	return &Sweeper{
		api:     api,
		watcher: watcher,
		logger:  logger.Named("sweep"),
		wait:    func() { time.Sleep(sweepPropagationWait) },
	}
}

// SetMetrics attaches a metrics collector. Nil is accepted.
func (s *Sweeper) SetMetrics(c *metrics.Collector) { s.collector = c }

// Sweep returns all funds from each child to the parent, one result per
// child in order. Children without a secret key are reported unverified.
func (s *Sweeper) Sweep(ctx context.Context, parent wallet.Wallet, children []wallet.Wallet, verifyTransfers bool) []SweepResult {
	s.logger.Info("Sweeping funds to parent",
		zap.String("parent", keycodec.Mask(parent.Address)),
		zap.Int("children", len(children)))

	results := make([]SweepResult, 0, len(children))
	totalReturned := 0.0

	for _, child := range children {
		r := s.sweepOne(ctx, parent, child, verifyTransfers)
		if r.Verified {
			totalReturned += r.AmountReturned
			s.collector.ObserveSweep("verified")
		} else {
			s.collector.ObserveSweep("failed")
		}
		results = append(results, r)
	}

	s.logger.Info("Sweep completed",
		zap.Int("children", len(results)),
		zap.Float64("total_returned", totalReturned))
	return results
}

func (s *Sweeper) sweepOne(ctx context.Context, parent, child wallet.Wallet, verifyTransfers bool) SweepResult {
	start := time.Now()
	result := SweepResult{ChildAddress: child.Address}
	defer func() { result.Duration = time.Since(start) }()

	log := s.logger.With(zap.String("child", keycodec.Mask(child.Address)))

	if !child.HasSecret() {
		result.Error = "child wallet has no secret key"
		log.Warn("Skipping sweep", zap.String("reason", result.Error))
		return result
	}

	childInitial, haveChildInitial := s.balance(ctx, child.Address)
	parentInitial, haveParentInitial := s.balance(ctx, parent.Address)

	resp, callErr := s.api.ReturnAllFunds(ctx, child.SecretKey, parent.Address)
	if callErr != nil {
		// The upstream message is preserved verbatim: rent-exemption
		// failures must surface unchanged so the user can top up the wallet.
		result.Error = fmt.Sprintf("return funds: %v", callErr)
		log.Warn("Return-funds call failed", zap.Error(callErr))
	}
	if resp != nil {
		result.TransactionID = resp.TransactionID
		result.AmountReturned = resp.AmountReturnedSol
		result.FinalChildBalance = resp.ChildFinalBalanceSol
	}

	// Verification ladder; the first succeeding step wins.
	if resp != nil && resp.Succeeded() {
		result.Verified = true
		result.Method = SweepVerifiedByAPI
		log.Info("Sweep verified via API response",
			zap.Float64("amount", result.AmountReturned))
		return result
	}

	if result.TransactionID != "" {
		if status, err := s.api.TxStatus(ctx, result.TransactionID); err != nil {
			log.Warn("Transaction status check failed", zap.Error(err))
		} else if status.Confirmed() {
			result.Verified = true
			result.Method = SweepVerifiedByTxStatus
			log.Info("Sweep verified via transaction status",
				zap.String("tx", result.TransactionID))
			return result
		}
	}

	if !verifyTransfers {
		if result.Error == "" && resp != nil {
			result.Error = fmt.Sprintf("sweep not confirmed: %s", resp.Message)
		}
		return result
	}

	s.wait()

	if haveChildInitial {
		if current, ok := s.balance(ctx, child.Address); ok {
			decrease := childInitial - current
			result.FinalChildBalance = current
			if decrease > sweepGasAllowance {
				result.Verified = true
				result.Method = SweepVerifiedByChildDelta
				if result.AmountReturned == 0 {
					result.AmountReturned = decrease
				}
				log.Info("Sweep verified via child balance decrease",
					zap.Float64("decrease", decrease))
				return result
			}
			log.Warn("Insufficient child balance decrease",
				zap.Float64("decrease", decrease))
		}
	}

	if haveParentInitial && resp != nil && resp.AmountReturnedSol > 0 {
		outcome := s.watcher.Watch(ctx, verify.Params{
			Address:  parent.Address,
			Initial:  parentInitial,
			Target:   parentInitial + resp.AmountReturnedSol,
			MaxWait:  parentWatchMaxWait,
			Interval: parentWatchInterval,
		})
		if outcome.Verified {
			result.Verified = true
			result.Method = SweepVerifiedByParentWatch
			log.Info("Sweep verified via parent balance watch")
			return result
		}
	}

	if result.Error == "" {
		msg := "unknown error"
		if resp != nil && resp.Message != "" {
			msg = resp.Message
		}
		result.Error = fmt.Sprintf("sweep could not be verified: %s", msg)
	}
	log.Error("Sweep failed or could not be verified",
		zap.String("error", result.Error))
	return result
}

func (s *Sweeper) balance(ctx context.Context, address string) (float64, bool) {
	bal, err := s.api.Balance(ctx, address)
	if err != nil {
		s.logger.Warn("Balance check failed",
			zap.String("wallet", keycodec.Mask(address)),
			zap.Error(err))
		return 0, false
	}
	return bal.BalanceSol, true
}
