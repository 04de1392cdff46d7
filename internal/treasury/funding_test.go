package treasury

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/solana-swarm/internal/exchange"
	"github.com/rovshanmuradov/solana-swarm/internal/verify"
	"github.com/rovshanmuradov/solana-swarm/internal/wallet"
)

var testSecretKey = func() string {
	key := make([]byte, 64)
	for i := range key {
		key[i] = byte(i + 3)
	}
	return base58.Encode(key)
}()

// treasuryApi scripts balances per address and records funding calls.
type treasuryApi struct {
	mu        sync.Mutex
	balances  map[string][]float64 // successive reads per address
	reads     map[string]int
	fundErr   error
	fundCalls []exchange.FundRequest

	returnFn func(childSecret, parentPub string) (*exchange.ReturnFundsResponse, error)
	statusFn func(txID string) (*exchange.TxStatusResponse, error)
}

func newTreasuryApi() *treasuryApi {
	return &treasuryApi{
		balances: make(map[string][]float64),
		reads:    make(map[string]int),
	}
}

func (a *treasuryApi) setBalances(address string, values ...float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.balances[address] = values
}

func (a *treasuryApi) Balance(_ context.Context, address string) (*exchange.BalanceResponse, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	seq, ok := a.balances[address]
	if !ok || len(seq) == 0 {
		return nil, fmt.Errorf("no balance scripted for %s", address)
	}
	i := a.reads[address]
	a.reads[address]++
	if i >= len(seq) {
		i = len(seq) - 1
	}
	return &exchange.BalanceResponse{BalanceSol: seq[i]}, nil
}

func (a *treasuryApi) Fund(_ context.Context, req exchange.FundRequest) (*exchange.FundResponse, error) {
	a.mu.Lock()
	a.fundCalls = append(a.fundCalls, req)
	err := a.fundErr
	a.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return &exchange.FundResponse{Status: "success"}, nil
}

func (a *treasuryApi) ReturnAllFunds(_ context.Context, childSecret, parentPub string) (*exchange.ReturnFundsResponse, error) {
	if a.returnFn != nil {
		return a.returnFn(childSecret, parentPub)
	}
	return &exchange.ReturnFundsResponse{Status: "success", TransactionID: "tx_sweep"}, nil
}

func (a *treasuryApi) TxStatus(_ context.Context, txID string) (*exchange.TxStatusResponse, error) {
	if a.statusFn != nil {
		return a.statusFn(txID)
	}
	return &exchange.TxStatusResponse{Status: "unknown"}, nil
}

func (a *treasuryApi) Quote(context.Context, exchange.QuoteRequest) (*exchange.QuoteResponse, error) {
	return nil, errors.New("not implemented")
}

func (a *treasuryApi) Swap(context.Context, exchange.SwapRequest) (*exchange.SwapResponse, error) {
	return nil, errors.New("not implemented")
}

func newTestFunder(api exchange.Api) *Funder {
	funder := NewFunder(api, verify.NewWatcher(api, zap.NewNop()), zap.NewNop())
	funder.wait = func(bool) {}
	funder.verifyMaxWait = 60 * time.Millisecond
	funder.verifyEvery = 10 * time.Millisecond
	return funder
}

func parentWallet() wallet.Wallet {
	return wallet.Wallet{Address: "Parent", SecretKey: testSecretKey, Name: "parent"}
}

func childWallet(i int) wallet.Wallet {
	return wallet.Wallet{Address: fmt.Sprintf("Child%d", i), SecretKey: testSecretKey, Index: i}
}

// Two funding calls with identical parameters inside one hour bucket share
// the same operation id; the next hour produces a new one.
func TestOperationIDBucketing(t *testing.T) {
	at := time.Date(2025, 6, 1, 14, 10, 0, 0, time.UTC)

	first := OperationID("Parent", "Child", 0.055, at)
	second := OperationID("Parent", "Child", 0.055, at.Add(49*time.Minute))
	assert.Equal(t, first, second, "same hour bucket must share the id")
	assert.Len(t, first, 32)

	nextHour := OperationID("Parent", "Child", 0.055, at.Add(time.Hour))
	assert.NotEqual(t, first, nextHour)

	otherChild := OperationID("Parent", "Child2", 0.055, at)
	assert.NotEqual(t, first, otherChild)

	otherAmount := OperationID("Parent", "Child", 0.056, at)
	assert.NotEqual(t, first, otherAmount)
}

func TestFundAllVerified(t *testing.T) {
	api := newTreasuryApi()
	api.setBalances("Parent", 5.0, 4.89)
	// Children start empty and land on the target during verification.
	api.setBalances("Child0", 0, 0.055)
	api.setBalances("Child1", 0, 0.055)

	funder := newTestFunder(api)
	result, err := funder.Fund(context.Background(), FundingRequest{
		Parent: parentWallet(),
		Children: []FundingChild{
			{Wallet: childWallet(0), RequiredAmount: 0.055},
			{Wallet: childWallet(1), RequiredAmount: 0.055},
		},
		Verify: true,
	})
	require.NoError(t, err)

	assert.Equal(t, FundingSuccess, result.Status)
	assert.Equal(t, 2, result.NewlyFunded)
	assert.Equal(t, 2, result.SuccessfulTransfers)
	assert.Zero(t, result.FailedTransfers)

	require.Len(t, api.fundCalls, 1)
	require.Len(t, api.fundCalls[0].Children, 2)
	assert.NotEmpty(t, api.fundCalls[0].Children[0].OperationID)
}

// A child already holding at least 80% of the required amount is skipped and
// counted successful without an upstream transfer.
func TestFundSkipsAlreadyFunded(t *testing.T) {
	api := newTreasuryApi()
	api.setBalances("Parent", 5.0)
	api.setBalances("Child0", 0.05) // >= 0.8 * 0.055
	api.setBalances("Child1", 0, 0.055)

	funder := newTestFunder(api)
	result, err := funder.Fund(context.Background(), FundingRequest{
		Parent: parentWallet(),
		Children: []FundingChild{
			{Wallet: childWallet(0), RequiredAmount: 0.055},
			{Wallet: childWallet(1), RequiredAmount: 0.055},
		},
		Verify: true,
	})
	require.NoError(t, err)

	assert.Equal(t, FundingSuccess, result.Status)
	assert.Equal(t, 1, result.AlreadyFunded)
	assert.Equal(t, 1, result.NewlyFunded)
	require.Len(t, api.fundCalls, 1)
	assert.Len(t, api.fundCalls[0].Children, 1, "already-funded child must not be re-funded")
}

func TestFundAllAlreadyFunded(t *testing.T) {
	api := newTreasuryApi()
	api.setBalances("Child0", 0.06)

	funder := newTestFunder(api)
	result, err := funder.Fund(context.Background(), FundingRequest{
		Parent:   parentWallet(),
		Children: []FundingChild{{Wallet: childWallet(0), RequiredAmount: 0.055}},
		Verify:   true,
	})
	require.NoError(t, err)

	assert.Equal(t, FundingSuccess, result.Status)
	assert.Empty(t, api.fundCalls)
}

func TestFundDeduplicatesChildren(t *testing.T) {
	api := newTreasuryApi()
	api.setBalances("Parent", 5.0)
	api.setBalances("Child0", 0, 0.055)

	funder := newTestFunder(api)
	result, err := funder.Fund(context.Background(), FundingRequest{
		Parent: parentWallet(),
		Children: []FundingChild{
			{Wallet: childWallet(0), RequiredAmount: 0.055},
			{Wallet: childWallet(0), RequiredAmount: 0.055},
		},
		Verify: true,
	})
	require.NoError(t, err)

	require.Len(t, api.fundCalls, 1)
	assert.Len(t, api.fundCalls[0].Children, 1)
	assert.Len(t, result.Children, 1)
}

// Upstream timeout, no per-child delta, but the parent spent the expected
// total: the children are reclassified as funded on the parent evidence.
func TestFundTimeoutReclassifiedByParentDelta(t *testing.T) {
	api := newTreasuryApi()
	api.fundErr = fmt.Errorf("POST /api/wallets/fund-children after 45s: %w", exchange.ErrTimeout)
	// Parent: initial read 5.0, cross-check read 4.78.
	api.setBalances("Parent", 5.0, 4.78)
	for i := 0; i < 4; i++ {
		api.setBalances(fmt.Sprintf("Child%d", i), 0)
	}

	funder := newTestFunder(api)
	children := make([]FundingChild, 4)
	for i := range children {
		children[i] = FundingChild{Wallet: childWallet(i), RequiredAmount: 0.055}
	}

	result, err := funder.Fund(context.Background(), FundingRequest{
		Parent:   parentWallet(),
		Children: children,
		Verify:   true,
	})
	require.NoError(t, err)

	assert.True(t, result.APITimeout)
	assert.Equal(t, FundingSuccess, result.Status)
	assert.Equal(t, 4, result.NewlyFunded)
	assert.Zero(t, result.FailedTransfers)
	for _, child := range result.Children {
		assert.True(t, child.NewlyFunded)
		assert.True(t, child.Verified)
	}
}

// Timeout with no balance evidence anywhere stays pending, not failed.
func TestFundTimeoutPendingVerification(t *testing.T) {
	api := newTreasuryApi()
	api.fundErr = fmt.Errorf("fund: %w", exchange.ErrTimeout)
	api.setBalances("Parent", 5.0, 5.0)
	api.setBalances("Child0", 0)

	funder := newTestFunder(api)
	result, err := funder.Fund(context.Background(), FundingRequest{
		Parent:   parentWallet(),
		Children: []FundingChild{{Wallet: childWallet(0), RequiredAmount: 0.055}},
		Verify:   true,
	})
	require.NoError(t, err)

	assert.Equal(t, FundingTimeoutPending, result.Status)
	assert.Zero(t, result.NewlyFunded)
}

func TestFundPartialSuccess(t *testing.T) {
	api := newTreasuryApi()
	api.setBalances("Parent", 5.0, 5.0)
	api.setBalances("Child0", 0, 0.055)
	api.setBalances("Child1", 0)

	funder := newTestFunder(api)
	result, err := funder.Fund(context.Background(), FundingRequest{
		Parent: parentWallet(),
		Children: []FundingChild{
			{Wallet: childWallet(0), RequiredAmount: 0.055},
			{Wallet: childWallet(1), RequiredAmount: 0.055},
		},
		Verify: true,
	})
	require.NoError(t, err)

	assert.Equal(t, FundingPartial, result.Status)
	assert.Equal(t, 1, result.NewlyFunded)
	assert.Equal(t, 1, result.FailedTransfers)
}

func TestFundWithoutVerification(t *testing.T) {
	api := newTreasuryApi()
	api.setBalances("Parent", 5.0)
	api.setBalances("Child0", 0)

	funder := newTestFunder(api)
	result, err := funder.Fund(context.Background(), FundingRequest{
		Parent:   parentWallet(),
		Children: []FundingChild{{Wallet: childWallet(0), RequiredAmount: 0.055}},
		Verify:   false,
	})
	require.NoError(t, err)
	assert.Equal(t, FundingSuccess, result.Status)
	assert.Equal(t, 1, result.NewlyFunded)
	assert.False(t, result.Children[0].Verified)
}

func TestFundRequiresParentSecret(t *testing.T) {
	funder := newTestFunder(newTreasuryApi())
	parent := parentWallet()
	parent.SecretKey = ""

	_, err := funder.Fund(context.Background(), FundingRequest{
		Parent:   parent,
		Children: []FundingChild{{Wallet: childWallet(0), RequiredAmount: 0.055}},
	})
	require.Error(t, err)
}
