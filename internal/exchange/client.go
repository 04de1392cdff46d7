// Package exchange implements the HTTP client for the DEX aggregator API the
// orchestrator submits all on-chain work through.
package exchange

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/rovshanmuradov/solana-swarm/internal/keycodec"
)

// Per-operation deadlines. Funding and sweeps submit real transactions and
// need room for block inclusion; quotes and balances do not.
const (
	baseTimeout  = 10 * time.Second
	quoteTimeout = 20 * time.Second
	swapTimeout  = 30 * time.Second
	fundTimeout  = 45 * time.Second
	sweepTimeout = 60 * time.Second
)

const (
	transportMaxTries = 3
	defaultRPS        = 8
	defaultBurst      = 16
)

// Client talks to the aggregator over HTTP/JSON with transport-level retries
// and outbound rate limiting. All deadlines are per-call; nothing mutates the
// client after construction except SetRunID.
type Client struct {
	baseURL string
	httpc   *http.Client
	limiter *rate.Limiter
	logger  *zap.Logger
	runID   string

	health healthCache
}

var _ Api = (*Client)(nil)

// NewClient creates a client for the aggregator at baseURL.
func NewClient(baseURL string, logger *zap.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		httpc:   &http.Client{},
		limiter: rate.NewLimiter(rate.Limit(defaultRPS), defaultBurst),
		logger:  logger.Named("exchange"),
	}
}

// SetRunID attaches a run identifier to subsequent requests for upstream
// tracing.
func (c *Client) SetRunID(runID string) { c.runID = runID }

// Balance implements Api.
func (c *Client) Balance(ctx context.Context, address string) (*BalanceResponse, error) {
	var out BalanceResponse
	path := fmt.Sprintf("/api/wallets/%s/balance", url.PathEscape(address))
	if err := c.do(ctx, http.MethodGet, path, nil, &out, baseTimeout, "balance"); err != nil {
		return nil, err
	}
	return &out, nil
}

// Quote implements Api. The quote body is kept verbatim for resubmission.
func (c *Client) Quote(ctx context.Context, req QuoteRequest) (*QuoteResponse, error) {
	q := url.Values{}
	q.Set("inputMint", req.InputMint)
	q.Set("outputMint", req.OutputMint)
	q.Set("amount", strconv.FormatUint(req.AmountBaseUnits, 10))
	q.Set("slippageBps", strconv.Itoa(req.SlippageBps))
	q.Set("onlyDirectRoutes", strconv.FormatBool(req.OnlyDirect))
	q.Set("asLegacyTransaction", strconv.FormatBool(req.AsLegacy))
	if req.PlatformFeeBps > 0 {
		q.Set("platformFeeBps", strconv.Itoa(req.PlatformFeeBps))
	}

	body, err := c.doRaw(ctx, http.MethodGet, "/api/jupiter/quote?"+q.Encode(), nil, quoteTimeout)
	if err != nil {
		return nil, err
	}
	return parseQuoteBody(body)
}

// parseQuoteBody accepts both the bare quote object and the
// {"quoteResponse": {...}} envelope the upstream sometimes wraps it in.
func parseQuoteBody(body []byte) (*QuoteResponse, error) {
	var envelope struct {
		QuoteResponse json.RawMessage `json:"quoteResponse"`
	}
	raw := body
	if err := json.Unmarshal(body, &envelope); err == nil && len(envelope.QuoteResponse) > 0 {
		raw = envelope.QuoteResponse
	}

	var quote QuoteResponse
	if err := decodeWithFallback(raw, &quote, "quote"); err != nil {
		return nil, err
	}
	quote.raw = raw
	return &quote, nil
}

// Swap implements Api.
func (c *Client) Swap(ctx context.Context, req SwapRequest) (*SwapResponse, error) {
	if req.Quote == nil {
		return nil, errors.New("swap request has no quote")
	}
	payload := map[string]any{
		"userWalletPrivateKeyBase58": req.SecretKey,
		"quoteResponse":              req.Quote.Raw(),
		"wrapAndUnwrapSol":           req.WrapUnwrapSol,
		"asLegacyTransaction":        req.AsLegacy,
		"collectFees":                req.CollectFees,
		"verifySwap":                 req.Verify,
	}

	var out SwapResponse
	if err := c.do(ctx, http.MethodPost, "/api/jupiter/swap", payload, &out, swapTimeout, "swap"); err != nil {
		return nil, err
	}
	return &out, nil
}

// Fund implements Api.
func (c *Client) Fund(ctx context.Context, req FundRequest) (*FundResponse, error) {
	c.logger.Info("Funding child wallets",
		zap.Int("children", len(req.Children)),
		zap.Int("priority_fee", req.PriorityFee))

	var out FundResponse
	if err := c.do(ctx, http.MethodPost, "/api/wallets/fund-children", req, &out, fundTimeout, "fund"); err != nil {
		return nil, err
	}
	return &out, nil
}

// ReturnAllFunds implements Api. The upstream computes the maximum sendable
// amount that preserves rent exemption.
func (c *Client) ReturnAllFunds(ctx context.Context, childSecretKey, parentPublicKey string) (*ReturnFundsResponse, error) {
	payload := map[string]any{
		"childWalletPrivateKeyBase58": childSecretKey,
		"motherWalletPublicKey":       parentPublicKey,
		"returnAllFunds":              true,
	}

	c.logger.Info("Returning all funds to parent",
		zap.String("parent", keycodec.Mask(parentPublicKey)))

	var out ReturnFundsResponse
	if err := c.do(ctx, http.MethodPost, "/api/wallets/return-funds", payload, &out, sweepTimeout, "return_funds"); err != nil {
		return nil, err
	}
	return &out, nil
}

// TxStatus implements Api.
func (c *Client) TxStatus(ctx context.Context, txID string) (*TxStatusResponse, error) {
	var out TxStatusResponse
	path := fmt.Sprintf("/api/transactions/%s/status", url.PathEscape(txID))
	if err := c.do(ctx, http.MethodGet, path, nil, &out, baseTimeout, "tx_status"); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, method, path string, payload, out any, timeout time.Duration, operation string) error {
	body, err := c.doRaw(ctx, method, path, payload, timeout)
	if err != nil {
		return err
	}
	return decodeWithFallback(body, out, operation)
}

// doRaw executes one HTTP call with rate limiting and transport retries.
// Client-side failures (4xx) and expired deadlines are permanent; 5xx and
// connection errors retry on exponential backoff.
func (c *Client) doRaw(ctx context.Context, method, path string, payload any, timeout time.Duration) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var encoded []byte
	if payload != nil {
		var err error
		encoded, err = json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	op := func() ([]byte, error) {
		return c.attempt(callCtx, method, path, encoded)
	}

	started := time.Now()
	body, err := backoff.Retry(
		callCtx,
		op,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(transportMaxTries),
	)
	elapsed := time.Since(started)

	if err != nil {
		if callCtx.Err() == context.DeadlineExceeded {
			err = fmt.Errorf("%s %s after %s: %w", method, path, elapsed.Round(time.Millisecond), ErrTimeout)
		}
		c.logger.Warn("Request failed",
			zap.String("method", method),
			zap.String("path", path),
			zap.Duration("elapsed", elapsed),
			zap.Error(err))
		return nil, err
	}

	c.logger.Debug("Request completed",
		zap.String("method", method),
		zap.String("path", path),
		zap.Duration("elapsed", elapsed),
		zap.Int("payload_size", len(body)))
	return body, nil
}

func (c *Client) attempt(ctx context.Context, method, path string, encoded []byte) ([]byte, error) {
	var reader io.Reader
	if encoded != nil {
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	if encoded != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.runID != "" {
		req.Header.Set("X-Run-Id", c.runID)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, backoff.Permanent(ctx.Err())
		}
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return body, nil
	case resp.StatusCode >= 500:
		return nil, &APIError{StatusCode: resp.StatusCode, Body: string(body)}
	default:
		return nil, backoff.Permanent(&APIError{StatusCode: resp.StatusCode, Body: string(body)})
	}
}
