package exchange

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
)

// LamportsPerSOL is the number of base units in one SOL.
const LamportsPerSOL = 1_000_000_000

// Api is the surface of the exchange aggregator the orchestrator depends on.
// The concrete implementation is Client; tests substitute fakes.
type Api interface {
	// Balance returns the current SOL balance of a wallet.
	Balance(ctx context.Context, address string) (*BalanceResponse, error)
	// Quote fetches a swap quote for the given pair and base-unit amount.
	Quote(ctx context.Context, req QuoteRequest) (*QuoteResponse, error)
	// Swap submits a swap built from a previously fetched quote.
	Swap(ctx context.Context, req SwapRequest) (*SwapResponse, error)
	// Fund disburses SOL from the parent wallet to the listed children.
	Fund(ctx context.Context, req FundRequest) (*FundResponse, error)
	// ReturnAllFunds sweeps the maximum sendable amount from a child back to
	// the parent, preserving rent exemption upstream.
	ReturnAllFunds(ctx context.Context, childSecretKey, parentPublicKey string) (*ReturnFundsResponse, error)
	// TxStatus reports the confirmation status of a transaction.
	TxStatus(ctx context.Context, txID string) (*TxStatusResponse, error)
}

// BalanceResponse is the balance of a single wallet.
type BalanceResponse struct {
	BalanceSol float64 `json:"balanceSol"`
}

// QuoteRequest describes a quote lookup.
type QuoteRequest struct {
	InputMint       string
	OutputMint      string
	AmountBaseUnits uint64
	SlippageBps     int
	OnlyDirect      bool
	AsLegacy        bool
	PlatformFeeBps  int
}

// QuoteResponse is the aggregator's quote. The raw body is kept verbatim and
// resubmitted on swap; the parsed fields are the subset the orchestrator reads.
type QuoteResponse struct {
	InputMint      string `json:"inputMint"`
	OutputMint     string `json:"outputMint"`
	InAmount       string `json:"inAmount"`
	OutAmount      string `json:"outAmount"`
	PriceImpactPct string `json:"priceImpactPct"`
	SlippageBps    int    `json:"slippageBps"`

	raw json.RawMessage
}

// Raw returns the verbatim quote body for resubmission.
func (q *QuoteResponse) Raw() json.RawMessage { return q.raw }

// SetRaw stores the verbatim quote body. Tests building synthetic quotes use
// it directly.
func (q *QuoteResponse) SetRaw(raw json.RawMessage) { q.raw = raw }

// InLamports returns the quoted input amount in base units.
func (q *QuoteResponse) InLamports() uint64 { return parseUint(q.InAmount) }

// OutLamports returns the quoted output amount in base units.
func (q *QuoteResponse) OutLamports() uint64 { return parseUint(q.OutAmount) }

// PriceImpact returns the quoted price impact as a percentage.
func (q *QuoteResponse) PriceImpact() float64 {
	v, _ := strconv.ParseFloat(q.PriceImpactPct, 64)
	return v
}

func parseUint(s string) uint64 {
	v, _ := strconv.ParseUint(strings.TrimSpace(s), 10, 64)
	return v
}

// SwapRequest submits a quote for execution. The secret key is the base58
// form; it is transmitted, never logged.
type SwapRequest struct {
	SecretKey     string
	Quote         *QuoteResponse
	WrapUnwrapSol bool
	AsLegacy      bool
	CollectFees   bool
	Verify        bool
}

// FeeCollection describes an optional platform fee taken alongside a swap.
type FeeCollection struct {
	Status        string  `json:"status"`
	FeeAmount     float64 `json:"feeAmount"`
	TransactionID string  `json:"transactionId"`
}

// SwapResponse is the upstream's answer to a swap submission.
type SwapResponse struct {
	Status            string         `json:"status"`
	Message           string         `json:"message"`
	TransactionID     string         `json:"transactionId"`
	NewBalanceSol     float64        `json:"newBalanceSol"`
	SuccessfulBundles int            `json:"successfulBundles"`
	FeeCollection     *FeeCollection `json:"feeCollection,omitempty"`
}

// Succeeded reports whether the upstream accepted the swap. An explicit
// success status or at least one successful bundle counts; bundle counts on
// their own are advisory.
func (r *SwapResponse) Succeeded() bool {
	return strings.EqualFold(r.Status, "success") || r.SuccessfulBundles >= 1
}

// FundChild is one child entry in a funding request. The operation id is the
// hourly idempotency key the upstream dedupes on.
type FundChild struct {
	PublicKey   string  `json:"publicKey"`
	AmountSol   float64 `json:"amountSol"`
	OperationID string  `json:"operationId"`
}

// FundRequest disburses SOL from the parent to the listed children.
type FundRequest struct {
	ParentSecretKey string      `json:"motherWalletPrivateKeyBase58"`
	Children        []FundChild `json:"childWallets"`
	PriorityFee     int         `json:"priorityFee,omitempty"`
}

// FundTransfer is the upstream's per-child funding outcome.
type FundTransfer struct {
	PublicKey     string `json:"publicKey"`
	Status        string `json:"status"`
	TransactionID string `json:"transactionId"`
}

// FundResponse is the upstream's answer to a funding request.
type FundResponse struct {
	Status  string         `json:"status"`
	Message string         `json:"message"`
	Results []FundTransfer `json:"results"`
}

// ReturnFundsResponse is the upstream's answer to a sweep request.
type ReturnFundsResponse struct {
	Status               string  `json:"status"`
	Message              string  `json:"message"`
	TransactionID        string  `json:"transactionId"`
	AmountReturnedSol    float64 `json:"amountReturnedSol"`
	ChildFinalBalanceSol float64 `json:"childWalletFinalBalanceSol"`
}

// Succeeded reports whether the upstream confirmed the sweep.
func (r *ReturnFundsResponse) Succeeded() bool {
	return strings.EqualFold(r.Status, "success")
}

// TxStatusResponse reports a transaction's confirmation state.
type TxStatusResponse struct {
	Status        string `json:"status"`
	Confirmations int    `json:"confirmations"`
}

// Confirmed reports whether the transaction reached confirmed state.
func (r *TxStatusResponse) Confirmed() bool {
	return strings.EqualFold(r.Status, "confirmed") || strings.EqualFold(r.Status, "finalized")
}

// HealthResponse reports upstream liveness and the tokens it knows about.
type HealthResponse struct {
	Status string            `json:"status"`
	Tokens map[string]string `json:"tokens"`
}

// Healthy reports whether the upstream declared itself usable.
func (r *HealthResponse) Healthy() bool {
	return strings.EqualFold(r.Status, "healthy") || strings.EqualFold(r.Status, "ok")
}
