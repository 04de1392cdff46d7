package swap

import (
	"errors"
	"strings"
	"time"

	"lukechampine.com/frand"

	"github.com/rovshanmuradov/solana-swarm/internal/exchange"
)

// Category tags an upstream error with its handling class. Classification
// happens once, at the boundary where the upstream returns free-form text.
type Category string

const (
	CategoryNetwork   Category = "network"
	CategoryBalance   Category = "balance"
	CategoryAuth      Category = "auth"
	CategoryRateLimit Category = "rate_limit"
	CategoryChain     Category = "chain"
	CategorySlippage  Category = "slippage"
	CategoryQuote     Category = "quote"
	CategoryUnknown   Category = "unknown"
)

// Severity of a category.
type Severity string

const (
	SeverityTemporary Severity = "temporary"
	SeveritySkippable Severity = "skippable"
	SeverityCritical  Severity = "critical"
	SeverityUnknown   Severity = "unknown"
)

// classifierRules are matched in order; the first category with a matching
// substring wins.
var classifierRules = []struct {
	category   Category
	substrings []string
}{
	{CategoryNetwork, []string{"timeout", "connection", "network", "unreachable"}},
	{CategoryBalance, []string{"insufficient", "balance", "funds", "lamports"}},
	{CategoryAuth, []string{"private key", "signature", "unauthorized", "invalid key"}},
	{CategoryRateLimit, []string{"rate limit", "too many requests", "throttle"}},
	{CategoryChain, []string{"transaction", "gas", "fee", "simulation", "blockhash"}},
	{CategorySlippage, []string{"slippage", "price"}},
	{CategoryQuote, []string{"quote"}},
}

// Classify maps an error to its category by case-insensitive substring match
// on the error text. A response body the exchange client could not parse is
// classified as Quote for quote calls and Chain for every other operation.
func Classify(err error) Category {
	if err == nil {
		return CategoryUnknown
	}
	var parseErr *exchange.ParseError
	if errors.As(err, &parseErr) {
		if parseErr.Operation == "quote" {
			return CategoryQuote
		}
		return CategoryChain
	}
	text := strings.ToLower(err.Error())
	for _, rule := range classifierRules {
		for _, sub := range rule.substrings {
			if strings.Contains(text, sub) {
				return rule.category
			}
		}
	}
	return CategoryUnknown
}

// Severity returns the handling severity of the category.
func (c Category) Severity() Severity {
	switch c {
	case CategoryBalance:
		return SeveritySkippable
	case CategoryAuth:
		return SeverityCritical
	case CategoryNetwork, CategoryRateLimit, CategoryChain, CategorySlippage, CategoryQuote:
		return SeverityTemporary
	default:
		return SeverityUnknown
	}
}

// Retryable reports whether errors of this category may be retried at all.
func (c Category) Retryable() bool {
	switch c {
	case CategoryBalance, CategoryAuth:
		return false
	default:
		return true
	}
}

// Guidance is the one-line user-facing hint carried on final errors.
func (c Category) Guidance() string {
	switch c {
	case CategoryNetwork:
		return "Network connection issue. Will retry automatically."
	case CategoryBalance:
		return "Wallet has insufficient balance for the operation."
	case CategoryAuth:
		return "Authentication issue with the wallet private key."
	case CategoryRateLimit:
		return "API rate limit reached. Will retry with delay."
	case CategoryChain:
		return "Blockchain transaction issue. Will retry."
	case CategorySlippage:
		return "Price moved beyond the slippage tolerance. Will retry."
	case CategoryQuote:
		return "Could not obtain a valid quote. Will retry."
	default:
		return "An unexpected error occurred. Will attempt retry."
	}
}

// maxAttempts is the per-category ceiling on total attempts, including the
// first one.
func (c Category) maxAttempts() int {
	switch c {
	case CategoryNetwork:
		return 4
	case CategoryRateLimit, CategoryChain, CategorySlippage, CategoryQuote:
		return 3
	case CategoryBalance, CategoryAuth:
		return 1
	default:
		return 2
	}
}

// RetryPolicy derives retry decisions from error categories. attempt numbers
// are 0-based: attempt 0 is the initial try.
type RetryPolicy struct{}

// Next returns the delay before the next attempt and whether a retry is
// allowed after the given failed attempt.
func (RetryPolicy) Next(category Category, attempt int) (time.Duration, bool) {
	if attempt+1 >= category.maxAttempts() {
		return 0, false
	}

	var base time.Duration
	switch category {
	case CategoryNetwork:
		base = minDuration(time.Duration(1<<uint(attempt))*time.Second, 10*time.Second)
	case CategoryRateLimit:
		base = minDuration(time.Duration(5*(attempt+1))*time.Second, 15*time.Second)
	case CategoryChain, CategorySlippage, CategoryQuote:
		base = minDuration(time.Duration(3*(attempt+1))*time.Second, 8*time.Second)
	default:
		base = 2 * time.Second
	}

	return base + jitter(base), true
}

// jitter samples uniformly in [0.1d, 0.3d] to avoid synchronised retries
// across wallets.
func jitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	span := 0.1 + 0.2*frand.Float64()
	return time.Duration(span * float64(d))
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
