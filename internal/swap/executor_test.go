package swap

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/solana-swarm/internal/exchange"
	"github.com/rovshanmuradov/solana-swarm/internal/wallet"
)

func testConfig() *Config {
	return &Config{
		Operation:   OperationBuy,
		InputToken:  "So11111111111111111111111111111111111111112",
		OutputToken: "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v",
		InputName:   "SOL",
		OutputName:  "USDC",
		Strategy:    FixedAmount{Amount: 0.1},
		Mode:        ModeSequential,
		Selection:   Selection{Kind: SelectAll},
		SlippageBps: 50,
		Verify:      true,
		RetryFailed: true,
		MaxRetries:  3,
	}
}

func testWallet() wallet.Wallet {
	return wallet.Wallet{Address: "WalletA", SecretKey: "secret", Name: "w0", Index: 0}
}

// newTestExecutor returns an executor whose retry sleeps are recorded
// instead of slept.
func newTestExecutor(api exchange.Api, cfg *Config) (*Executor, *[]time.Duration) {
	executor := NewExecutor(api, NewQuoteCache(), cfg, zap.NewNop(), nil)
	var delays []time.Duration
	executor.sleep = func(_ context.Context, d time.Duration) error {
		delays = append(delays, d)
		return nil
	}
	return executor, &delays
}

func TestExecuteSuccess(t *testing.T) {
	api := &fakeApi{}
	executor, _ := newTestExecutor(api, testConfig())

	result := executor.Execute(context.Background(), testWallet(), 0.1)

	assert.Equal(t, StatusSuccess, result.Status)
	require.Len(t, result.Attempts, 1)
	assert.Equal(t, StatusSuccess, result.Attempts[len(result.Attempts)-1].Status)
	assert.NotEmpty(t, result.TransactionID)

	require.NotNil(t, result.ActualInput)
	assert.InDelta(t, 0.1, *result.ActualInput, 1e-9)
	require.NotNil(t, result.ActualOutput)
	assert.InDelta(t, 0.098, *result.ActualOutput, 1e-9)
	require.NotNil(t, result.PriceImpact)
	assert.InDelta(t, 0.5, *result.PriceImpact, 1e-9)
}

func TestExecuteSkipsTinyAmounts(t *testing.T) {
	api := &fakeApi{}
	executor, _ := newTestExecutor(api, testConfig())

	for _, amount := range []float64{0, -0.5, 1e-7} {
		result := executor.Execute(context.Background(), testWallet(), amount)
		assert.Equal(t, StatusSkipped, result.Status)
		assert.Empty(t, result.Attempts)
		assert.NotEmpty(t, result.FinalError)
	}

	_, swaps := api.counts()
	assert.Zero(t, swaps)
}

func TestExecuteSkipsWalletWithoutSecret(t *testing.T) {
	executor, _ := newTestExecutor(&fakeApi{}, testConfig())

	w := testWallet()
	w.SecretKey = ""
	result := executor.Execute(context.Background(), w, 0.1)
	assert.Equal(t, StatusSkipped, result.Status)
}

// Two swaps with identical (in, out, amount) within the TTL consume a single
// upstream quote.
func TestExecuteUsesQuoteCache(t *testing.T) {
	api := &fakeApi{}
	cfg := testConfig()
	executor := NewExecutor(api, NewQuoteCache(), cfg, zap.NewNop(), nil)

	first := executor.Execute(context.Background(), testWallet(), 0.1)
	second := executor.Execute(context.Background(), testWallet(), 0.1)

	assert.Equal(t, StatusSuccess, first.Status)
	assert.Equal(t, StatusSuccess, second.Status)

	quotes, swaps := api.counts()
	assert.Equal(t, 1, quotes)
	assert.Equal(t, 2, swaps)
}

func TestExecuteRetriesNetworkErrors(t *testing.T) {
	api := &fakeApi{}
	calls := 0
	api.swapFn = func(req exchange.SwapRequest) (*exchange.SwapResponse, error) {
		calls++
		if calls < 3 {
			return nil, errors.New("connection reset by upstream")
		}
		return &exchange.SwapResponse{Status: "success", TransactionID: "tx_ok"}, nil
	}

	executor, delays := newTestExecutor(api, testConfig())
	result := executor.Execute(context.Background(), testWallet(), 0.1)

	assert.Equal(t, StatusSuccess, result.Status)
	assert.Len(t, result.Attempts, 3)
	assert.Len(t, *delays, 2)
	assert.Equal(t, "tx_ok", result.TransactionID)
}

// Balance errors are surfaced immediately: exactly one attempt, message
// preserved verbatim.
func TestExecuteBalanceErrorNotRetried(t *testing.T) {
	api := &fakeApi{}
	api.swapFn = func(req exchange.SwapRequest) (*exchange.SwapResponse, error) {
		return nil, errors.New("Transfer: insufficient funds for rent: account needs 0.0019 SOL")
	}

	executor, delays := newTestExecutor(api, testConfig())
	result := executor.Execute(context.Background(), testWallet(), 0.1)

	assert.Equal(t, StatusFailed, result.Status)
	assert.Len(t, result.Attempts, 1)
	assert.Empty(t, *delays)
	assert.Equal(t, CategoryBalance, result.ErrorClass)
	assert.Contains(t, result.FinalError, "insufficient funds for rent")
	assert.NotEmpty(t, result.ErrorGuidance)
}

func TestExecuteExhaustsRetries(t *testing.T) {
	api := &fakeApi{}
	api.swapFn = func(req exchange.SwapRequest) (*exchange.SwapResponse, error) {
		return nil, errors.New("connection refused")
	}

	cfg := testConfig()
	cfg.MaxRetries = 1
	executor, _ := newTestExecutor(api, cfg)
	result := executor.Execute(context.Background(), testWallet(), 0.1)

	assert.Equal(t, StatusFailed, result.Status)
	// MaxRetries bounds the attempts below the network category's ceiling.
	assert.Len(t, result.Attempts, 2)
	assert.Equal(t, CategoryNetwork, result.ErrorClass)
}

func TestExecuteUpstreamRejection(t *testing.T) {
	api := &fakeApi{}
	api.swapFn = func(req exchange.SwapRequest) (*exchange.SwapResponse, error) {
		return &exchange.SwapResponse{Status: "failed", Message: "slippage tolerance exceeded"}, nil
	}

	executor, _ := newTestExecutor(api, testConfig())
	result := executor.Execute(context.Background(), testWallet(), 0.1)

	assert.Equal(t, StatusFailed, result.Status)
	assert.Equal(t, CategorySlippage, result.ErrorClass)
	assert.Contains(t, result.FinalError, "slippage tolerance exceeded")
}

func TestExecuteQuoteFailureClassified(t *testing.T) {
	api := &fakeApi{}
	api.quoteFn = func(req exchange.QuoteRequest) (*exchange.QuoteResponse, error) {
		return nil, errors.New("no route found for pair")
	}

	executor, _ := newTestExecutor(api, testConfig())
	result := executor.Execute(context.Background(), testWallet(), 0.1)

	assert.Equal(t, StatusFailed, result.Status)
	assert.Equal(t, CategoryQuote, result.ErrorClass)
	assert.Contains(t, result.FinalError, "failed to get valid quote")
}

func TestExecuteCancelledBeforeStart(t *testing.T) {
	executor := NewExecutor(&fakeApi{}, NewQuoteCache(), testConfig(), zap.NewNop(),
		func() bool { return true })

	result := executor.Execute(context.Background(), testWallet(), 0.1)
	assert.Equal(t, StatusSkipped, result.Status)
	assert.Equal(t, "cancelled", result.FinalError)
}
