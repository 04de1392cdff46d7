package swap

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"

	"github.com/mr-tron/base58"

	"github.com/rovshanmuradov/solana-swarm/internal/exchange"
)

// testSecretKey is a canonical (base58, 64-byte) secret key for test wallets.
var testSecretKey = func() string {
	key := make([]byte, 64)
	for i := range key {
		key[i] = byte(i + 7)
	}
	return base58.Encode(key)
}()

// fakeApi implements exchange.Api with overridable behaviour per call.
type fakeApi struct {
	mu         sync.Mutex
	quoteCalls int
	swapCalls  int

	balanceFn func(address string) (*exchange.BalanceResponse, error)
	quoteFn   func(req exchange.QuoteRequest) (*exchange.QuoteResponse, error)
	swapFn    func(req exchange.SwapRequest) (*exchange.SwapResponse, error)
}

func (f *fakeApi) Balance(_ context.Context, address string) (*exchange.BalanceResponse, error) {
	if f.balanceFn != nil {
		return f.balanceFn(address)
	}
	return &exchange.BalanceResponse{BalanceSol: 1.0}, nil
}

func (f *fakeApi) Quote(_ context.Context, req exchange.QuoteRequest) (*exchange.QuoteResponse, error) {
	f.mu.Lock()
	f.quoteCalls++
	f.mu.Unlock()
	if f.quoteFn != nil {
		return f.quoteFn(req)
	}
	// Default: output is 98% of input with a small price impact.
	return makeQuote(req.InputMint, req.OutputMint, req.AmountBaseUnits, req.AmountBaseUnits*98/100), nil
}

func (f *fakeApi) Swap(_ context.Context, req exchange.SwapRequest) (*exchange.SwapResponse, error) {
	f.mu.Lock()
	f.swapCalls++
	n := f.swapCalls
	f.mu.Unlock()
	if f.swapFn != nil {
		return f.swapFn(req)
	}
	return &exchange.SwapResponse{
		Status:        "success",
		TransactionID: fmt.Sprintf("tx_%d", n),
	}, nil
}

func (f *fakeApi) Fund(_ context.Context, req exchange.FundRequest) (*exchange.FundResponse, error) {
	return &exchange.FundResponse{Status: "success"}, nil
}

func (f *fakeApi) ReturnAllFunds(_ context.Context, _, _ string) (*exchange.ReturnFundsResponse, error) {
	return &exchange.ReturnFundsResponse{Status: "success"}, nil
}

func (f *fakeApi) TxStatus(_ context.Context, _ string) (*exchange.TxStatusResponse, error) {
	return &exchange.TxStatusResponse{Status: "confirmed"}, nil
}

func (f *fakeApi) counts() (quotes, swaps int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.quoteCalls, f.swapCalls
}

func makeQuote(in, out string, inAmount, outAmount uint64) *exchange.QuoteResponse {
	quote := &exchange.QuoteResponse{
		InputMint:      in,
		OutputMint:     out,
		InAmount:       strconv.FormatUint(inAmount, 10),
		OutAmount:      strconv.FormatUint(outAmount, 10),
		PriceImpactPct: "0.5",
		SlippageBps:    50,
	}
	raw, _ := json.Marshal(quote)
	quote.SetRaw(raw)
	return quote
}
