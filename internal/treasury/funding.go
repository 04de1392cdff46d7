// Package treasury moves funds up and down the wallet hierarchy: parent to
// children before a run, children back to the parent afterwards.
package treasury

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rovshanmuradov/solana-swarm/internal/exchange"
	"github.com/rovshanmuradov/solana-swarm/internal/keycodec"
	"github.com/rovshanmuradov/solana-swarm/internal/metrics"
	"github.com/rovshanmuradov/solana-swarm/internal/verify"
	"github.com/rovshanmuradov/solana-swarm/internal/wallet"
)

const (
	// alreadyFundedRatio skips children whose balance already covers this
	// fraction of the required amount.
	alreadyFundedRatio = 0.8
	// parentDeltaRatio is the fraction of the expected total spend that,
	// observed on the parent, counts as evidence the transfers happened.
	parentDeltaRatio = 0.5

	propagationWait        = 20 * time.Second
	propagationWaitTimeout = 25 * time.Second

	childVerifyMaxWait  = 120 * time.Second
	childVerifyInterval = 10 * time.Second
)

// FundingStatus is the aggregate outcome of a funding call.
type FundingStatus string

const (
	FundingSuccess FundingStatus = "success"
	FundingPartial FundingStatus = "partial_success"
	// FundingTimeoutPending means the upstream call timed out and no child
	// delta was observed; the transactions may still be processing.
	FundingTimeoutPending FundingStatus = "timeout_pending_verification"
	FundingFailed         FundingStatus = "failed"
	FundingSkipped        FundingStatus = "skipped"
)

// FundingChild pairs a child wallet with the amount it needs.
type FundingChild struct {
	Wallet         wallet.Wallet
	RequiredAmount float64
}

// FundingRequest describes a disbursement from the parent.
type FundingRequest struct {
	Parent      wallet.Wallet
	Children    []FundingChild
	PriorityFee int
	Verify      bool
}

// ChildFunding is the per-child outcome.
type ChildFunding struct {
	Address       string          `json:"address"`
	Amount        float64         `json:"amount"`
	OperationID   string          `json:"operation_id,omitempty"`
	AlreadyFunded bool            `json:"already_funded,omitempty"`
	NewlyFunded   bool            `json:"newly_funded,omitempty"`
	Verified      bool            `json:"verified"`
	Error         string          `json:"error,omitempty"`
	Verification  *verify.Outcome `json:"verification,omitempty"`
}

// FundingResult aggregates a funding call.
type FundingResult struct {
	BatchID             string         `json:"batch_id"`
	Status              FundingStatus  `json:"status"`
	APITimeout          bool           `json:"api_timeout,omitempty"`
	SuccessfulTransfers int            `json:"successful_transfers"`
	FailedTransfers     int            `json:"failed_transfers"`
	AlreadyFunded       int            `json:"already_funded_wallets"`
	NewlyFunded         int            `json:"newly_funded_wallets"`
	Children            []ChildFunding `json:"children"`
	Duration            time.Duration  `json:"duration"`
}

// OperationID derives the deterministic idempotency key for one
// parent-to-child transfer. The hour bucket makes user retries within a
// session collapse to one upstream submission while a retry the next hour is
// a genuinely new request.
func OperationID(parent, child string, amount float64, at time.Time) string {
	bucket := at.Unix() / 3600
	data := fmt.Sprintf("%s:%s:%s:%d", parent, child,
		strconv.FormatFloat(amount, 'g', -1, 64), bucket)
	sum := md5.Sum([]byte(data))
	return hex.EncodeToString(sum[:])
}

// Funder disburses SOL from a parent wallet to its children and verifies the
// transfers by balance evidence.
type Funder struct {
	api       exchange.Api
	watcher   *verify.Watcher
	logger    *zap.Logger
	collector *metrics.Collector

	// Test seams; production values are the package constants.
	wait          func(timedOut bool)
	verifyMaxWait time.Duration
	verifyEvery   time.Duration
	now           func() time.Time
}

// NewFunder creates a funding engine.
func NewFunder(api exchange.Api, watcher *verify.Watcher, logger *zap.Logger) *Funder {
	return &Funder{
		api:     api,
		watcher: watcher,
		logger:  logger.Named("funding"),
		wait: func(timedOut bool) {
			d := propagationWait
			if timedOut {
				d = propagationWaitTimeout
			}
			time.Sleep(d)
		},
		verifyMaxWait: childVerifyMaxWait,
		verifyEvery:   childVerifyInterval,
		now:           time.Now,
	}
}

// SetMetrics attaches a metrics collector. Nil is accepted.
func (f *Funder) SetMetrics(c *metrics.Collector) { f.collector = c }

// Fund executes the disbursement. The upstream call's outcome and the
// balance evidence are tracked separately: verification always runs when
// requested, even after an upstream timeout.
func (f *Funder) Fund(ctx context.Context, req FundingRequest) (*FundingResult, error) {
	if !req.Parent.HasSecret() {
		return nil, errors.New("parent wallet has no secret key")
	}

	result := &FundingResult{
		BatchID: uuid.New().String(),
		Status:  FundingFailed,
	}
	start := f.now()
	defer func() { result.Duration = time.Since(start) }()

	log := f.logger.With(
		zap.String("parent", keycodec.Mask(req.Parent.Address)),
		zap.String("batch_id", result.BatchID))
	log.Info("Funding child wallets", zap.Int("children", len(req.Children)))

	// Dedup, skip already-funded children, and capture initial balances as
	// the ground truth verification runs against.
	seen := make(map[string]struct{}, len(req.Children))
	initialBalances := make(map[string]float64)
	var toFund []ChildFunding
	var payloadChildren []exchange.FundChild

	for _, child := range req.Children {
		addr := child.Wallet.Address
		if _, dup := seen[addr]; dup {
			log.Warn("Skipping duplicate child wallet",
				zap.String("wallet", keycodec.Mask(addr)))
			continue
		}
		seen[addr] = struct{}{}

		entry := ChildFunding{Address: addr, Amount: child.RequiredAmount}

		if bal, err := f.api.Balance(ctx, addr); err != nil {
			log.Warn("Could not check existing balance",
				zap.String("wallet", keycodec.Mask(addr)),
				zap.Error(err))
			initialBalances[addr] = 0
		} else {
			initialBalances[addr] = bal.BalanceSol
			if bal.BalanceSol >= child.RequiredAmount*alreadyFundedRatio {
				log.Info("Child already funded, skipping",
					zap.String("wallet", keycodec.Mask(addr)),
					zap.Float64("balance", bal.BalanceSol))
				entry.AlreadyFunded = true
				entry.Verified = true
				result.AlreadyFunded++
				result.Children = append(result.Children, entry)
				f.collector.ObserveFunding("already_funded")
				continue
			}
		}

		entry.OperationID = OperationID(req.Parent.Address, addr, child.RequiredAmount, f.now())
		toFund = append(toFund, entry)
		payloadChildren = append(payloadChildren, exchange.FundChild{
			PublicKey:   addr,
			AmountSol:   child.RequiredAmount,
			OperationID: entry.OperationID,
		})
	}

	result.SuccessfulTransfers = result.AlreadyFunded

	if len(payloadChildren) == 0 {
		if result.AlreadyFunded > 0 {
			log.Info("All child wallets already funded",
				zap.Int("count", result.AlreadyFunded))
			result.Status = FundingSuccess
		} else {
			log.Warn("No valid child wallets to fund after deduplication")
			result.Status = FundingSkipped
		}
		return result, nil
	}

	parentInitial := 0.0
	if bal, err := f.api.Balance(ctx, req.Parent.Address); err != nil {
		log.Warn("Could not get initial parent balance", zap.Error(err))
	} else {
		parentInitial = bal.BalanceSol
	}

	// Upstream call. Three outcomes tracked separately: a timeout means the
	// transactions are possibly submitted and verification must still run.
	var callErr error
	_, callErr = f.api.Fund(ctx, exchange.FundRequest{
		ParentSecretKey: req.Parent.SecretKey,
		Children:        payloadChildren,
		PriorityFee:     req.PriorityFee,
	})
	switch {
	case callErr == nil:
		log.Info("Funding call accepted")
	case errors.Is(callErr, exchange.ErrTimeout):
		result.APITimeout = true
		log.Warn("Funding call timed out; transactions may have been submitted",
			zap.Error(callErr))
	default:
		log.Error("Funding call failed", zap.Error(callErr))
	}

	if !req.Verify {
		for i := range toFund {
			if callErr == nil {
				toFund[i].NewlyFunded = true
				toFund[i].Verified = false
				result.NewlyFunded++
				result.SuccessfulTransfers++
			} else {
				toFund[i].Error = callErr.Error()
				result.FailedTransfers++
			}
			result.Children = append(result.Children, toFund[i])
		}
		switch {
		case callErr == nil:
			result.Status = FundingSuccess
		case result.APITimeout:
			result.Status = FundingTimeoutPending
		default:
			result.Status = FundingFailed
		}
		return result, nil
	}

	log.Info("Waiting for transactions to propagate before verification",
		zap.Bool("after_timeout", result.APITimeout))
	f.wait(result.APITimeout)

	// Per-child verification against the pre-captured balances. The blocking
	// watcher runs inside the group so the 120 s ceilings overlap instead of
	// stacking.
	g, _ := errgroup.WithContext(ctx)
	for i := range toFund {
		g.Go(func() error {
			child := &toFund[i]
			initial := initialBalances[child.Address]
			outcome := f.watcher.WatchBlocking(verify.Params{
				Address:  child.Address,
				Initial:  initial,
				Target:   initial + child.Amount,
				MaxWait:  f.verifyMaxWait,
				Interval: f.verifyEvery,
			})
			child.Verification = &outcome
			child.Verified = outcome.Verified
			return nil
		})
	}
	_ = g.Wait()

	for i := range toFund {
		child := &toFund[i]
		if child.Verified {
			child.NewlyFunded = true
			result.NewlyFunded++
			result.SuccessfulTransfers++
			f.collector.ObserveFunding("newly_funded")
			log.Info("Funding verified",
				zap.String("wallet", keycodec.Mask(child.Address)))
		} else {
			child.Error = "expected balance change not detected"
			result.FailedTransfers++
			f.collector.ObserveFunding("failed")
			log.Warn("Funding not verified",
				zap.String("wallet", keycodec.Mask(child.Address)))
		}
	}

	// Cross-check: when per-child verification saw nothing but the parent
	// spent at least half the expected total, the transfers happened and
	// balance propagation has not caught up.
	expectedSpend := 0.0
	for _, c := range payloadChildren {
		expectedSpend += c.AmountSol
	}
	if parentInitial > 0 && result.NewlyFunded == 0 && result.FailedTransfers > 0 {
		if bal, err := f.api.Balance(ctx, req.Parent.Address); err == nil {
			parentDelta := parentInitial - bal.BalanceSol
			log.Info("Parent balance change",
				zap.Float64("delta", parentDelta),
				zap.Float64("expected", expectedSpend))
			if parentDelta >= expectedSpend*parentDeltaRatio {
				log.Info("Parent balance evidence indicates successful funding; reclassifying children")
				for i := range toFund {
					toFund[i].NewlyFunded = true
					toFund[i].Verified = true
					toFund[i].Error = ""
				}
				result.NewlyFunded = len(toFund)
				result.SuccessfulTransfers = result.AlreadyFunded + len(toFund)
				result.FailedTransfers = 0
			}
		} else {
			log.Warn("Could not verify parent balance change", zap.Error(err))
		}
	}

	result.Children = append(result.Children, toFund...)

	totalExpected := len(payloadChildren) + result.AlreadyFunded
	switch {
	case result.SuccessfulTransfers == totalExpected:
		result.Status = FundingSuccess
	case result.SuccessfulTransfers > 0:
		result.Status = FundingPartial
	case result.APITimeout && result.NewlyFunded == 0:
		result.Status = FundingTimeoutPending
		log.Warn("Funding call timed out and verification was inconclusive")
	default:
		result.Status = FundingFailed
	}

	log.Info("Funding verification completed",
		zap.String("status", string(result.Status)),
		zap.Int("successful", result.SuccessfulTransfers),
		zap.Int("already_funded", result.AlreadyFunded),
		zap.Int("newly_funded", result.NewlyFunded),
		zap.Int("failed", result.FailedTransfers))
	return result, nil
}
