package swap

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/google/uuid"

	"github.com/rovshanmuradov/solana-swarm/internal/exchange"
)

// dryRunApi satisfies exchange.Api without submitting anything. Balance
// reads pass through to the real upstream so percentage planning stays
// truthful; everything that would move funds is synthesised locally.
type dryRunApi struct {
	real exchange.Api
}

// NewDryRunApi wraps api for dry runs.
func NewDryRunApi(api exchange.Api) exchange.Api {
	return &dryRunApi{real: api}
}

func (d *dryRunApi) Balance(ctx context.Context, address string) (*exchange.BalanceResponse, error) {
	return d.real.Balance(ctx, address)
}

func (d *dryRunApi) Quote(ctx context.Context, req exchange.QuoteRequest) (*exchange.QuoteResponse, error) {
	quote := &exchange.QuoteResponse{
		InputMint:      req.InputMint,
		OutputMint:     req.OutputMint,
		InAmount:       strconv.FormatUint(req.AmountBaseUnits, 10),
		OutAmount:      strconv.FormatUint(req.AmountBaseUnits, 10),
		PriceImpactPct: "0",
		SlippageBps:    req.SlippageBps,
	}
	raw, err := json.Marshal(quote)
	if err != nil {
		return nil, err
	}
	quote.SetRaw(raw)
	return quote, nil
}

func (d *dryRunApi) Swap(ctx context.Context, req exchange.SwapRequest) (*exchange.SwapResponse, error) {
	return &exchange.SwapResponse{
		Status:        "success",
		Message:       "dry run",
		TransactionID: "dryrun_" + uuid.New().String(),
	}, nil
}

func (d *dryRunApi) Fund(ctx context.Context, req exchange.FundRequest) (*exchange.FundResponse, error) {
	results := make([]exchange.FundTransfer, len(req.Children))
	for i, child := range req.Children {
		results[i] = exchange.FundTransfer{
			PublicKey:     child.PublicKey,
			Status:        "success",
			TransactionID: fmt.Sprintf("dryrun_fund_%d", i),
		}
	}
	return &exchange.FundResponse{Status: "success", Message: "dry run", Results: results}, nil
}

func (d *dryRunApi) ReturnAllFunds(ctx context.Context, childSecretKey, parentPublicKey string) (*exchange.ReturnFundsResponse, error) {
	return &exchange.ReturnFundsResponse{
		Status:        "success",
		Message:       "dry run",
		TransactionID: "dryrun_" + uuid.New().String(),
	}, nil
}

func (d *dryRunApi) TxStatus(ctx context.Context, txID string) (*exchange.TxStatusResponse, error) {
	return &exchange.TxStatusResponse{Status: "confirmed", Confirmations: 32}, nil
}
