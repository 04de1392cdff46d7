package verify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/solana-swarm/internal/exchange"
)

// balanceSequence serves scripted balances, repeating the last entry.
type balanceSequence struct {
	mu       sync.Mutex
	balances []float64
	errs     []error
	calls    int
}

func (s *balanceSequence) Balance(_ context.Context, _ string) (*exchange.BalanceResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.calls
	s.calls++
	if i < len(s.errs) && s.errs[i] != nil {
		return nil, s.errs[i]
	}
	if i >= len(s.balances) {
		i = len(s.balances) - 1
	}
	return &exchange.BalanceResponse{BalanceSol: s.balances[i]}, nil
}

func (s *balanceSequence) Quote(context.Context, exchange.QuoteRequest) (*exchange.QuoteResponse, error) {
	return nil, errors.New("not implemented")
}
func (s *balanceSequence) Swap(context.Context, exchange.SwapRequest) (*exchange.SwapResponse, error) {
	return nil, errors.New("not implemented")
}
func (s *balanceSequence) Fund(context.Context, exchange.FundRequest) (*exchange.FundResponse, error) {
	return nil, errors.New("not implemented")
}
func (s *balanceSequence) ReturnAllFunds(context.Context, string, string) (*exchange.ReturnFundsResponse, error) {
	return nil, errors.New("not implemented")
}
func (s *balanceSequence) TxStatus(context.Context, string) (*exchange.TxStatusResponse, error) {
	return nil, errors.New("not implemented")
}

func fastParams(initial, target float64) Params {
	return Params{
		Address:  "WalletX",
		Initial:  initial,
		Target:   target,
		MaxWait:  300 * time.Millisecond,
		Interval: 10 * time.Millisecond,
	}
}

func TestWatchExactTarget(t *testing.T) {
	api := &balanceSequence{balances: []float64{0.155}}
	watcher := NewWatcher(api, zap.NewNop())

	outcome := watcher.Watch(context.Background(), fastParams(0.055, 0.155))

	assert.True(t, outcome.Verified)
	assert.Equal(t, ReasonExact, outcome.Reason)
	assert.False(t, outcome.Partial)
	assert.InDelta(t, 0.1, outcome.Delta, 1e-9)
	require.NotEmpty(t, outcome.History)
}

// A delta of at least half the expected amount, within 20% of it, verifies.
func TestWatchWithinTolerance(t *testing.T) {
	api := &balanceSequence{balances: []float64{0.0, 0.095}}
	watcher := NewWatcher(api, zap.NewNop())

	outcome := watcher.Watch(context.Background(), fastParams(0, 0.1))

	assert.True(t, outcome.Verified)
	assert.Equal(t, ReasonWithinTolerance, outcome.Reason)
}

// A tiny but persistent increase verifies after three polls once 60% of the
// wait window has elapsed.
func TestWatchExtendedAccept(t *testing.T) {
	api := &balanceSequence{balances: []float64{0.00002}}
	watcher := NewWatcher(api, zap.NewNop())

	outcome := watcher.Watch(context.Background(), fastParams(0, 0.1))

	assert.True(t, outcome.Verified)
	assert.Equal(t, ReasonExtendedAccept, outcome.Reason)
}

// Movement that never satisfies an acceptance rule before the window closes
// is still accepted at expiry, flagged partial, so an already-landed
// transfer is not resubmitted.
func TestWatchPartialAcceptedAtExpiry(t *testing.T) {
	// Delta 0.06 against expected 0.1: over the 50% mark, outside the 20%
	// band. The window closes after two polls, before extended-accept can
	// apply.
	api := &balanceSequence{balances: []float64{0.06}}
	watcher := NewWatcher(api, zap.NewNop())

	p := fastParams(0, 0.1)
	p.MaxWait = 50 * time.Millisecond
	p.Interval = 30 * time.Millisecond

	outcome := watcher.Watch(context.Background(), p)
	assert.True(t, outcome.Verified)
	assert.True(t, outcome.Partial)
	assert.Equal(t, ReasonPartial, outcome.Reason)
}

func TestWatchTimesOutWithoutMovement(t *testing.T) {
	api := &balanceSequence{balances: []float64{0.5}}
	watcher := NewWatcher(api, zap.NewNop())

	outcome := watcher.Watch(context.Background(), fastParams(0.5, 0.6))

	assert.False(t, outcome.Verified)
	assert.Empty(t, outcome.Reason)
	assert.Equal(t, 0.5, outcome.Final)
	assert.Zero(t, outcome.Delta)
}

// Individual balance read failures are tolerated; a later read can still
// verify.
func TestWatchToleratesReadFailures(t *testing.T) {
	api := &balanceSequence{
		balances: []float64{0, 0.1},
		errs:     []error{errors.New("rpc unavailable"), nil},
	}
	watcher := NewWatcher(api, zap.NewNop())

	outcome := watcher.Watch(context.Background(), fastParams(0, 0.1))
	assert.True(t, outcome.Verified)
}

func TestWatchBlockingMatchesWatch(t *testing.T) {
	api := &balanceSequence{balances: []float64{0.155}}
	watcher := NewWatcher(api, zap.NewNop())

	outcome := watcher.WatchBlocking(fastParams(0.055, 0.155))
	assert.True(t, outcome.Verified)
	assert.Equal(t, ReasonExact, outcome.Reason)
}

func TestWatchStopsOnContextCancel(t *testing.T) {
	api := &balanceSequence{balances: []float64{0.5}}
	watcher := NewWatcher(api, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := fastParams(0.5, 0.6)
	p.MaxWait = 10 * time.Second

	start := time.Now()
	outcome := watcher.Watch(ctx, p)
	assert.False(t, outcome.Verified)
	assert.Less(t, time.Since(start), time.Second)
}

func TestParamsDefaults(t *testing.T) {
	p := Params{Address: "W"}
	p.applyDefaults()
	assert.Equal(t, 60*time.Second, p.MaxWait)
	assert.Equal(t, 5*time.Second, p.Interval)
}
