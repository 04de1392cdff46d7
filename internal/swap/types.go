// Package swap implements multi-wallet swap orchestration: per-wallet amount
// planning, quote caching, classified retries, and the execution modes that
// fan work out across a wallet set.
package swap

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rovshanmuradov/solana-swarm/internal/exchange"
)

// OperationType is the direction of a run.
type OperationType string

const (
	OperationBuy  OperationType = "buy"
	OperationSell OperationType = "sell"
)

// Mode selects how swaps are dispatched across wallets.
type Mode string

const (
	ModeSequential Mode = "sequential"
	ModeParallel   Mode = "parallel"
	ModeBatch      Mode = "batch"
)

// SelectionKind picks which children participate in a run.
type SelectionKind string

const (
	SelectAll    SelectionKind = "all"
	SelectFirstN SelectionKind = "first_n"
	SelectRandom SelectionKind = "random"
	SelectCustom SelectionKind = "custom"
)

// Selection is a selection policy plus its parameters.
type Selection struct {
	Kind    SelectionKind `json:"kind"`
	Count   int           `json:"count,omitempty"`
	Indices []int         `json:"indices,omitempty"`
}

// Strategy decides the per-wallet swap amount. Implementations are the four
// fixed variants below; the calculator dispatches on the concrete type.
type Strategy interface {
	Kind() string
	Validate() error
}

// FixedAmount gives every wallet the same amount.
type FixedAmount struct {
	Amount float64 `json:"amount"`
}

func (s FixedAmount) Kind() string { return "fixed" }

func (s FixedAmount) Validate() error {
	if s.Amount <= 0 {
		return errors.New("fixed strategy requires a positive amount")
	}
	return nil
}

// PercentageAmount spends a fraction of each wallet's balance above the
// minimum threshold.
type PercentageAmount struct {
	Fraction float64 `json:"fraction"`
}

func (s PercentageAmount) Kind() string { return "percentage" }

func (s PercentageAmount) Validate() error {
	if s.Fraction <= 0 || s.Fraction > 1 {
		return errors.New("percentage strategy requires a fraction in (0, 1]")
	}
	return nil
}

// RandomAmount samples uniformly in [Min, Max] per wallet.
type RandomAmount struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

func (s RandomAmount) Kind() string { return "random" }

func (s RandomAmount) Validate() error {
	if s.Min <= 0 || s.Max <= 0 || s.Min >= s.Max {
		return errors.New("random strategy requires 0 < min < max")
	}
	return nil
}

// CustomAmounts assigns amounts positionally; when the list runs out the
// last entry repeats.
type CustomAmounts struct {
	Amounts []float64 `json:"amounts"`
}

func (s CustomAmounts) Kind() string { return "custom" }

func (s CustomAmounts) Validate() error {
	if len(s.Amounts) == 0 {
		return errors.New("custom strategy requires at least one amount")
	}
	for i, a := range s.Amounts {
		if a <= 0 {
			return fmt.Errorf("custom strategy amount %d must be positive", i)
		}
	}
	return nil
}

// Config is the immutable description of a run. The manager never mutates it
// after Run starts.
type Config struct {
	Operation   OperationType
	InputToken  string // resolved mint
	OutputToken string // resolved mint
	InputName   string // display symbol or mint
	OutputName  string

	Strategy  Strategy
	Mode      Mode
	Selection Selection

	SlippageBps int
	Verify      bool
	CollectFees bool
	RetryFailed bool
	MaxRetries  int
	DryRun      bool

	MaxConcurrent       int
	BatchSize           int
	DelayBetweenSwaps   time.Duration
	DelayBetweenBatches time.Duration

	MinBalanceThreshold    float64
	ConfirmBeforeExecution bool
}

// Validate checks the cross-field rules of a run configuration.
func (c *Config) Validate() error {
	if c.Operation != OperationBuy && c.Operation != OperationSell {
		return fmt.Errorf("unknown operation %q", c.Operation)
	}
	if c.InputToken == "" || c.OutputToken == "" {
		return errors.New("both input and output tokens are required")
	}
	if c.InputToken == c.OutputToken {
		return errors.New("input and output tokens cannot be the same")
	}
	if c.Strategy == nil {
		return errors.New("amount strategy is required")
	}
	if err := c.Strategy.Validate(); err != nil {
		return err
	}
	if c.SlippageBps < 0 || c.SlippageBps > 5000 {
		return errors.New("slippage_bps must be between 0 and 5000")
	}
	if c.MaxRetries < 0 {
		return errors.New("max_retries must be non-negative")
	}
	if c.MinBalanceThreshold < 0 {
		return errors.New("balance_check_threshold must be non-negative")
	}
	switch c.Mode {
	case ModeSequential:
	case ModeParallel:
		if c.MaxConcurrent < 1 {
			return errors.New("parallel mode requires max_concurrent >= 1")
		}
	case ModeBatch:
		if c.BatchSize < 1 {
			return errors.New("batch mode requires batch_size >= 1")
		}
	default:
		return fmt.Errorf("unknown execution mode %q", c.Mode)
	}
	switch c.Selection.Kind {
	case SelectAll:
	case SelectFirstN, SelectRandom:
		if c.Selection.Count < 1 {
			return fmt.Errorf("wallet selection %q requires a positive wallet count", c.Selection.Kind)
		}
	case SelectCustom:
		if len(c.Selection.Indices) == 0 {
			return errors.New("custom wallet selection requires indices")
		}
	default:
		return fmt.Errorf("unknown wallet selection %q", c.Selection.Kind)
	}
	return nil
}

// AmountPlan is one wallet's planned swap amount.
type AmountPlan struct {
	WalletIndex      int      `json:"wallet_index"`
	WalletAddress    string   `json:"wallet_address"`
	CalculatedAmount float64  `json:"calculated_amount"`
	StrategyUsed     string   `json:"strategy_used"`
	SourceBalance    *float64 `json:"source_balance,omitempty"`
	PercentageUsed   *float64 `json:"percentage_used,omitempty"`
	Error            string   `json:"error,omitempty"`
}

// IsValid reports whether the plan can be executed.
func (p *AmountPlan) IsValid() bool {
	return p.Error == "" && p.CalculatedAmount > 0
}

// Status of a swap or an individual attempt.
type Status string

const (
	StatusPending        Status = "pending"
	StatusQuoteRequested Status = "quote_requested"
	StatusQuoteReceived  Status = "quote_received"
	StatusExecuting      Status = "executing"
	StatusSuccess        Status = "success"
	StatusFailed         Status = "failed"
	StatusSkipped        Status = "skipped"
	StatusRetrying       Status = "retrying"
)

// Attempt is one try at executing a swap.
type Attempt struct {
	Number        int                     `json:"attempt_number"`
	StartedAt     time.Time               `json:"started_at"`
	EndedAt       time.Time               `json:"ended_at,omitempty"`
	Status        Status                  `json:"status"`
	Error         string                  `json:"error,omitempty"`
	TransactionID string                  `json:"transaction_id,omitempty"`
	Quote         *exchange.QuoteResponse `json:"quote,omitempty"`
}

// Duration of the attempt, zero while still running.
func (a *Attempt) Duration() time.Duration {
	if a.EndedAt.IsZero() {
		return 0
	}
	return a.EndedAt.Sub(a.StartedAt)
}

// Result is the complete outcome of one wallet's swap.
type Result struct {
	WalletAddress string     `json:"wallet_address"`
	WalletIndex   int        `json:"wallet_index"`
	InputToken    string     `json:"input_token"`
	OutputToken   string     `json:"output_token"`
	InputAmount   float64    `json:"input_amount"`
	Status        Status     `json:"status"`
	Attempts      []*Attempt `json:"attempts"`
	TransactionID string     `json:"transaction_id,omitempty"`
	ActualInput   *float64   `json:"actual_input,omitempty"`
	ActualOutput  *float64   `json:"actual_output,omitempty"`
	PriceImpact   *float64   `json:"price_impact,omitempty"`
	FeeCollected  *float64   `json:"fee_collected,omitempty"`
	StartedAt     time.Time  `json:"started_at"`
	EndedAt       time.Time  `json:"ended_at,omitempty"`
	FinalError    string     `json:"final_error,omitempty"`
	ErrorClass    Category   `json:"error_class,omitempty"`
	ErrorGuidance string     `json:"error_guidance,omitempty"`
}

// Succeeded reports whether the swap completed.
func (r *Result) Succeeded() bool { return r.Status == StatusSuccess }

// Duration of the whole operation including retries.
func (r *Result) Duration() time.Duration {
	if r.EndedAt.IsZero() {
		return 0
	}
	return r.EndedAt.Sub(r.StartedAt)
}

// BatchResult groups the swaps dispatched together.
type BatchResult struct {
	BatchID   string    `json:"batch_id"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at,omitempty"`
	Results   []*Result `json:"swap_results"`
}

// SuccessCount counts successful swaps in the batch.
func (b *BatchResult) SuccessCount() int {
	n := 0
	for _, r := range b.Results {
		if r.Succeeded() {
			n++
		}
	}
	return n
}

// SuccessRate is the batch success percentage.
func (b *BatchResult) SuccessRate() float64 {
	if len(b.Results) == 0 {
		return 0
	}
	return float64(b.SuccessCount()) / float64(len(b.Results)) * 100
}

// Duration of the batch.
func (b *BatchResult) Duration() time.Duration {
	if b.EndedAt.IsZero() {
		return 0
	}
	return b.EndedAt.Sub(b.StartedAt)
}

// ExecutionSummary aggregates a whole run.
type ExecutionSummary struct {
	Status          string         `json:"status"` // pending, in_progress, completed, failed, cancelled
	StartedAt       time.Time      `json:"started_at"`
	EndedAt         time.Time      `json:"ended_at,omitempty"`
	TotalWallets    int            `json:"total_wallets"`
	SelectedWallets int            `json:"selected_wallets"`
	AmountPlans     []AmountPlan   `json:"amount_calculations"`
	Batches         []*BatchResult `json:"batch_results"`
	Results         []*Result      `json:"swap_results"`
	ErrorMessage    string         `json:"error_message,omitempty"`
}

// SuccessCount counts successful swaps across all batches.
func (s *ExecutionSummary) SuccessCount() int {
	n := 0
	for _, r := range s.Results {
		if r.Succeeded() {
			n++
		}
	}
	return n
}

// FailureCount counts swaps that did not succeed.
func (s *ExecutionSummary) FailureCount() int {
	return len(s.Results) - s.SuccessCount()
}

// SuccessRate is the overall success percentage.
func (s *ExecutionSummary) SuccessRate() float64 {
	if len(s.Results) == 0 {
		return 0
	}
	return float64(s.SuccessCount()) / float64(len(s.Results)) * 100
}

// TotalVolumeIn sums the realised input amounts of successful swaps.
func (s *ExecutionSummary) TotalVolumeIn() float64 {
	total := 0.0
	for _, r := range s.Results {
		if r.Succeeded() && r.ActualInput != nil {
			total += *r.ActualInput
		}
	}
	return total
}

// TotalVolumeOut sums the realised output amounts of successful swaps.
func (s *ExecutionSummary) TotalVolumeOut() float64 {
	total := 0.0
	for _, r := range s.Results {
		if r.Succeeded() && r.ActualOutput != nil {
			total += *r.ActualOutput
		}
	}
	return total
}

// AveragePriceImpact over successful swaps that reported one, NaN when none.
func (s *ExecutionSummary) AveragePriceImpact() float64 {
	total, n := 0.0, 0
	for _, r := range s.Results {
		if r.Succeeded() && r.PriceImpact != nil {
			total += *r.PriceImpact
			n++
		}
	}
	if n == 0 {
		return math.NaN()
	}
	return total / float64(n)
}

// TotalFeesCollected sums the platform fees taken alongside swaps.
func (s *ExecutionSummary) TotalFeesCollected() float64 {
	total := 0.0
	for _, r := range s.Results {
		if r.FeeCollected != nil {
			total += *r.FeeCollected
		}
	}
	return total
}

// ErrorHistogram counts failed swaps per error category.
func (s *ExecutionSummary) ErrorHistogram() map[Category]int {
	hist := make(map[Category]int)
	for _, r := range s.Results {
		if !r.Succeeded() && r.ErrorClass != "" {
			hist[r.ErrorClass]++
		}
	}
	return hist
}

// Duration of the whole run.
func (s *ExecutionSummary) Duration() time.Duration {
	if s.EndedAt.IsZero() {
		return 0
	}
	return s.EndedAt.Sub(s.StartedAt)
}
