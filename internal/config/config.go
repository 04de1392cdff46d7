// Package config loads and validates run configuration.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/rovshanmuradov/solana-swarm/internal/swap"
)

// knownTokens maps well-known symbols to their mints. Anything at least 32
// characters long passes through as a mint.
var knownTokens = map[string]string{
	"SOL":  "So11111111111111111111111111111111111111112",
	"WSOL": "So11111111111111111111111111111111111111112",
	"USDC": "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v",
	"USDT": "Es9vMFrzaCERmJfrF4H2FYD4KCoNkY11McCe8BenwNYB",
	"BONK": "DezXAZ8z7PnrnRJjz3wXBoRgixCa6xjnB7YaB1pPB263",
}

// ResolveToken resolves a symbol or mint to a mint address.
func ResolveToken(token string) (string, error) {
	if mint, ok := knownTokens[strings.ToUpper(token)]; ok {
		return mint, nil
	}
	if len(token) >= 32 {
		return token, nil
	}
	return "", fmt.Errorf("unknown token %q (known symbols: SOL, WSOL, USDC, USDT, BONK)", token)
}

// Run is the raw configuration file contents.
type Run struct {
	APIBaseURL    string `mapstructure:"api_base_url"`
	UserID        string `mapstructure:"user_id"`
	ParentAddress string `mapstructure:"parent_address"`
	WalletDir     string `mapstructure:"wallet_dir"`
	ReportDir     string `mapstructure:"report_dir"`
	DebugLogging  bool   `mapstructure:"debug_logging"`

	Operation   string `mapstructure:"operation"`
	InputToken  string `mapstructure:"input_token"`
	OutputToken string `mapstructure:"output_token"`

	AmountStrategy string    `mapstructure:"amount_strategy"`
	FixedAmount    float64   `mapstructure:"fixed_amount"`
	Percentage     float64   `mapstructure:"percentage"`
	MinAmount      float64   `mapstructure:"min_amount"`
	MaxAmount      float64   `mapstructure:"max_amount"`
	CustomAmounts  []float64 `mapstructure:"custom_amounts"`

	ExecutionMode       string  `mapstructure:"execution_mode"`
	MaxConcurrent       int     `mapstructure:"max_concurrent"`
	BatchSize           int     `mapstructure:"batch_size"`
	DelayBetweenSwaps   float64 `mapstructure:"delay_between_swaps"`
	DelayBetweenBatches float64 `mapstructure:"delay_between_batches"`

	SlippageBps int  `mapstructure:"slippage_bps"`
	Verify      bool `mapstructure:"verify"`
	CollectFees bool `mapstructure:"collect_fees"`
	RetryFailed bool `mapstructure:"retry_failed"`
	MaxRetries  int  `mapstructure:"max_retries"`

	WalletSelection     string `mapstructure:"wallet_selection"`
	WalletCount         int    `mapstructure:"wallet_count"`
	CustomWalletIndices []int  `mapstructure:"custom_wallet_indices"`

	DryRun                 bool    `mapstructure:"dry_run"`
	ConfirmBeforeExecution bool    `mapstructure:"confirm_before_execution"`
	BalanceCheckThreshold  float64 `mapstructure:"balance_check_threshold"`

	FundAmount  float64 `mapstructure:"fund_amount"`
	PriorityFee int     `mapstructure:"priority_fee"`
}

// Load reads and validates the configuration at path. Environment variables
// prefixed SWARM_ override file values.
func Load(path string) (*Run, error) {
	v := viper.New()
	v.SetConfigFile(path)

	defaults := map[string]interface{}{
		"wallet_dir":              "data/wallets",
		"report_dir":              "data/reports",
		"amount_strategy":         "fixed",
		"execution_mode":          "sequential",
		"max_concurrent":          5,
		"batch_size":              10,
		"delay_between_swaps":     0.5,
		"delay_between_batches":   2.0,
		"slippage_bps":            50,
		"verify":                  true,
		"collect_fees":            true,
		"retry_failed":            true,
		"max_retries":             3,
		"wallet_selection":        "all",
		"balance_check_threshold": 0.001,
	}
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	v.AutomaticEnv()
	v.SetEnvPrefix("SWARM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config error: %w", err)
	}

	var cfg Run
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal error: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func validate(cfg *Run) error {
	if cfg.APIBaseURL == "" {
		return errors.New("api_base_url is required")
	}
	if !strings.HasPrefix(cfg.APIBaseURL, "http") {
		return errors.New("api_base_url must be an HTTP(S) URL")
	}
	if cfg.UserID == "" {
		return errors.New("user_id is required")
	}
	return nil
}

// strategy builds the typed amount strategy from the raw fields.
func (r *Run) strategy() (swap.Strategy, error) {
	switch strings.ToLower(r.AmountStrategy) {
	case "fixed":
		return swap.FixedAmount{Amount: r.FixedAmount}, nil
	case "percentage":
		return swap.PercentageAmount{Fraction: r.Percentage}, nil
	case "random":
		return swap.RandomAmount{Min: r.MinAmount, Max: r.MaxAmount}, nil
	case "custom":
		return swap.CustomAmounts{Amounts: r.CustomAmounts}, nil
	default:
		return nil, fmt.Errorf("unknown amount_strategy %q", r.AmountStrategy)
	}
}

// SwapConfig resolves the raw configuration into the immutable run config
// the manager consumes.
func (r *Run) SwapConfig() (*swap.Config, error) {
	inputMint, err := ResolveToken(r.InputToken)
	if err != nil {
		return nil, fmt.Errorf("input_token: %w", err)
	}
	outputMint, err := ResolveToken(r.OutputToken)
	if err != nil {
		return nil, fmt.Errorf("output_token: %w", err)
	}

	strategy, err := r.strategy()
	if err != nil {
		return nil, err
	}

	cfg := &swap.Config{
		Operation:   swap.OperationType(strings.ToLower(r.Operation)),
		InputToken:  inputMint,
		OutputToken: outputMint,
		InputName:   r.InputToken,
		OutputName:  r.OutputToken,
		Strategy:    strategy,
		Mode:        swap.Mode(strings.ToLower(r.ExecutionMode)),
		Selection: swap.Selection{
			Kind:    swap.SelectionKind(strings.ToLower(r.WalletSelection)),
			Count:   r.WalletCount,
			Indices: r.CustomWalletIndices,
		},
		SlippageBps:            r.SlippageBps,
		Verify:                 r.Verify,
		CollectFees:            r.CollectFees,
		RetryFailed:            r.RetryFailed,
		MaxRetries:             r.MaxRetries,
		DryRun:                 r.DryRun,
		MaxConcurrent:          r.MaxConcurrent,
		BatchSize:              r.BatchSize,
		DelayBetweenSwaps:      secondsToDuration(r.DelayBetweenSwaps),
		DelayBetweenBatches:    secondsToDuration(r.DelayBetweenBatches),
		MinBalanceThreshold:    r.BalanceCheckThreshold,
		ConfirmBeforeExecution: r.ConfirmBeforeExecution,
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
