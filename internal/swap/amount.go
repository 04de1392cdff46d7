package swap

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"lukechampine.com/frand"

	"github.com/rovshanmuradov/solana-swarm/internal/exchange"
	"github.com/rovshanmuradov/solana-swarm/internal/keycodec"
	"github.com/rovshanmuradov/solana-swarm/internal/wallet"
)

// Calculator computes per-wallet swap amounts under a strategy.
type Calculator struct {
	api    exchange.Api
	logger *zap.Logger
}

// NewCalculator creates a calculator using api for balance lookups.
func NewCalculator(api exchange.Api, logger *zap.Logger) *Calculator {
	return &Calculator{api: api, logger: logger.Named("amounts")}
}

// Calculate produces one plan per wallet. Wallets that cannot be planned
// (insufficient balance, balance lookup failure) get invalid plans rather
// than failing the run.
func (c *Calculator) Calculate(ctx context.Context, wallets []wallet.Wallet, strategy Strategy, tokenMint string, minBalanceThreshold float64) []AmountPlan {
	c.logger.Info("Calculating amounts",
		zap.Int("wallets", len(wallets)),
		zap.String("strategy", strategy.Kind()))

	var plans []AmountPlan
	switch s := strategy.(type) {
	case FixedAmount:
		plans = c.fixed(wallets, s)
	case PercentageAmount:
		plans = c.percentage(ctx, wallets, s, minBalanceThreshold)
	case RandomAmount:
		plans = c.random(wallets, s)
	case CustomAmounts:
		plans = c.custom(wallets, s)
	default:
		c.logger.Warn("Unknown amount strategy, falling back to fixed",
			zap.String("strategy", strategy.Kind()))
		plans = c.fixed(wallets, FixedAmount{Amount: 0.01})
	}

	valid, total := 0, 0.0
	for i := range plans {
		if plans[i].IsValid() {
			valid++
			total += plans[i].CalculatedAmount
		}
	}
	c.logger.Info("Amount calculation complete",
		zap.Int("valid", valid),
		zap.Int("total", len(plans)),
		zap.Float64("total_amount", total))
	return plans
}

func (c *Calculator) fixed(wallets []wallet.Wallet, s FixedAmount) []AmountPlan {
	plans := make([]AmountPlan, len(wallets))
	for i, w := range wallets {
		plans[i] = AmountPlan{
			WalletIndex:      w.Index,
			WalletAddress:    w.Address,
			CalculatedAmount: s.Amount,
			StrategyUsed:     s.Kind(),
		}
	}
	return plans
}

func (c *Calculator) percentage(ctx context.Context, wallets []wallet.Wallet, s PercentageAmount, minBalance float64) []AmountPlan {
	plans := make([]AmountPlan, len(wallets))
	for i, w := range wallets {
		plan := AmountPlan{
			WalletIndex:   w.Index,
			WalletAddress: w.Address,
			StrategyUsed:  s.Kind(),
		}

		bal, err := c.api.Balance(ctx, w.Address)
		if err != nil {
			c.logger.Warn("Balance lookup failed",
				zap.String("wallet", keycodec.Mask(w.Address)),
				zap.Error(err))
			plan.Error = fmt.Sprintf("balance check failed: %v", err)
			plans[i] = plan
			continue
		}

		balance := bal.BalanceSol
		plan.SourceBalance = &balance

		if balance <= minBalance {
			plan.Error = fmt.Sprintf("insufficient balance: %.6f SOL", balance)
			plans[i] = plan
			continue
		}

		available := balance - minBalance
		amount := available * s.Fraction
		if amount > available {
			amount = available
		}
		fraction := s.Fraction
		plan.CalculatedAmount = amount
		plan.PercentageUsed = &fraction
		plans[i] = plan
	}
	return plans
}

func (c *Calculator) random(wallets []wallet.Wallet, s RandomAmount) []AmountPlan {
	plans := make([]AmountPlan, len(wallets))
	for i, w := range wallets {
		plans[i] = AmountPlan{
			WalletIndex:      w.Index,
			WalletAddress:    w.Address,
			CalculatedAmount: s.Min + frand.Float64()*(s.Max-s.Min),
			StrategyUsed:     s.Kind(),
		}
	}
	return plans
}

func (c *Calculator) custom(wallets []wallet.Wallet, s CustomAmounts) []AmountPlan {
	plans := make([]AmountPlan, len(wallets))
	for i, w := range wallets {
		amount := s.Amounts[len(s.Amounts)-1]
		if i < len(s.Amounts) {
			amount = s.Amounts[i]
		} else {
			c.logger.Warn("No custom amount for wallet, reusing last entry",
				zap.Int("wallet_index", w.Index),
				zap.Float64("amount", amount))
		}
		plans[i] = AmountPlan{
			WalletIndex:      w.Index,
			WalletAddress:    w.Address,
			CalculatedAmount: amount,
			StrategyUsed:     s.Kind(),
		}
	}
	return plans
}

// PlanValidation is the outcome of checking a plan set against constraints.
type PlanValidation struct {
	Valid          bool     `json:"valid"`
	TotalWallets   int      `json:"total_wallets"`
	ValidWallets   int      `json:"valid_wallets"`
	InvalidWallets int      `json:"invalid_wallets"`
	TotalAmount    float64  `json:"total_amount"`
	AverageAmount  float64  `json:"average_amount"`
	MaxAmount      float64  `json:"max_wallet_amount"`
	MinAmount      float64  `json:"min_wallet_amount"`
	Issues         []string `json:"issues,omitempty"`
	InvalidErrors  []string `json:"invalid_wallet_errors,omitempty"`
}

// ValidatePlans checks the plans against an optional total budget and
// per-wallet limit; zero means unconstrained.
func (c *Calculator) ValidatePlans(plans []AmountPlan, totalBudget, perWalletLimit float64) PlanValidation {
	v := PlanValidation{TotalWallets: len(plans)}

	first := true
	zeroAmounts := 0
	for i := range plans {
		p := &plans[i]
		if !p.IsValid() {
			v.InvalidWallets++
			if p.Error != "" {
				v.InvalidErrors = append(v.InvalidErrors, p.Error)
			}
			continue
		}
		v.ValidWallets++
		v.TotalAmount += p.CalculatedAmount
		if first || p.CalculatedAmount > v.MaxAmount {
			v.MaxAmount = p.CalculatedAmount
		}
		if first || p.CalculatedAmount < v.MinAmount {
			v.MinAmount = p.CalculatedAmount
		}
		first = false
		if p.CalculatedAmount == 0 {
			zeroAmounts++
		}
	}
	if v.ValidWallets > 0 {
		v.AverageAmount = v.TotalAmount / float64(v.ValidWallets)
	}

	if totalBudget > 0 && v.TotalAmount > totalBudget {
		v.Issues = append(v.Issues, fmt.Sprintf("total amount %.6f exceeds budget %.6f", v.TotalAmount, totalBudget))
	}
	if perWalletLimit > 0 && v.MaxAmount > perWalletLimit {
		v.Issues = append(v.Issues, fmt.Sprintf("wallet amount %.6f exceeds limit %.6f", v.MaxAmount, perWalletLimit))
	}
	if zeroAmounts > 0 {
		v.Issues = append(v.Issues, fmt.Sprintf("%d wallets have zero amounts", zeroAmounts))
	}

	v.Valid = len(v.Issues) == 0
	return v
}

// Adjustment selects how AdjustToBudget shrinks a plan set.
type Adjustment string

const (
	// AdjustProportional scales every amount by budget/total.
	AdjustProportional Adjustment = "proportional"
	// AdjustEqualReduction subtracts the same absolute amount from each
	// wallet, flooring at zero.
	AdjustEqualReduction Adjustment = "equal_reduction"
)

// AdjustToBudget shrinks valid plan amounts to fit the budget. Invalid plans
// pass through unchanged and wallet order is preserved. Plans already within
// budget are returned as-is.
func (c *Calculator) AdjustToBudget(plans []AmountPlan, budget float64, adjustment Adjustment) []AmountPlan {
	total := 0.0
	validCount := 0
	for i := range plans {
		if plans[i].IsValid() {
			total += plans[i].CalculatedAmount
			validCount++
		}
	}
	if validCount == 0 || total <= budget {
		return plans
	}

	c.logger.Info("Adjusting amounts to budget",
		zap.Float64("current_total", total),
		zap.Float64("budget", budget),
		zap.String("adjustment", string(adjustment)))

	adjusted := make([]AmountPlan, len(plans))
	copy(adjusted, plans)

	switch adjustment {
	case AdjustEqualReduction:
		reduction := (total - budget) / float64(validCount)
		for i := range adjusted {
			if !adjusted[i].IsValid() {
				continue
			}
			amount := adjusted[i].CalculatedAmount - reduction
			if amount < 0 {
				amount = 0
			}
			adjusted[i].CalculatedAmount = amount
		}
	default: // proportional
		scale := budget / total
		for i := range adjusted {
			if adjusted[i].IsValid() {
				adjusted[i].CalculatedAmount *= scale
			}
		}
	}

	return adjusted
}
