// Package verify establishes whether a transfer happened by watching balance
// deltas. The upstream confirms transactions at block inclusion, but balance
// propagation is eventually consistent and can underreport for tens of
// seconds; a meaningful delta is accepted as evidence so already-successful
// transfers are not retried.
package verify

import (
	"context"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/rovshanmuradov/solana-swarm/internal/exchange"
	"github.com/rovshanmuradov/solana-swarm/internal/keycodec"
	"github.com/rovshanmuradov/solana-swarm/internal/metrics"
)

const (
	// balanceTolerance is the slack allowed around the exact target,
	// covering fee rounding.
	balanceTolerance = 1e-4
	// minMeaningfulDelta is the smallest increase counted as movement.
	minMeaningfulDelta = 1e-5

	defaultMaxWait  = 60 * time.Second
	defaultInterval = 5 * time.Second
)

// Acceptance rules, in evaluation order.
const (
	ReasonExact           = "exact"
	ReasonWithinTolerance = "within_tolerance"
	ReasonExtendedAccept  = "extended_accept"
	ReasonPartial         = "partial"
)

// Params describes one verification.
type Params struct {
	Address  string
	Initial  float64
	Target   float64
	MaxWait  time.Duration // defaults to 60s
	Interval time.Duration // defaults to 5s
}

func (p *Params) applyDefaults() {
	if p.MaxWait <= 0 {
		p.MaxWait = defaultMaxWait
	}
	if p.Interval <= 0 {
		p.Interval = defaultInterval
	}
}

// Sample is one observed balance reading.
type Sample struct {
	Elapsed time.Duration `json:"t"`
	Balance float64       `json:"balance"`
	Delta   float64       `json:"delta"`
}

// Outcome is the verification verdict plus the evidence behind it.
type Outcome struct {
	Verified bool          `json:"verified"`
	Partial  bool          `json:"partial,omitempty"`
	Reason   string        `json:"reason,omitempty"`
	Initial  float64       `json:"initial"`
	Final    float64       `json:"final"`
	Target   float64       `json:"target"`
	Delta    float64       `json:"delta"`
	Duration time.Duration `json:"duration"`
	History  []Sample      `json:"history,omitempty"`
}

// Watcher polls balances through the exchange API.
type Watcher struct {
	api       exchange.Api
	logger    *zap.Logger
	collector *metrics.Collector
}

// NewWatcher creates a watcher reading balances from api.
func NewWatcher(api exchange.Api, logger *zap.Logger) *Watcher {
	return &Watcher{api: api, logger: logger.Named("verify")}
}

// SetMetrics attaches a metrics collector. Nil is accepted.
func (w *Watcher) SetMetrics(c *metrics.Collector) { w.collector = c }

// Watch runs the verification loop, yielding between polls until the context
// is done or the wait window expires. Used by the sweep engine's
// parent-balance check; the swap executor does not call it.
func (w *Watcher) Watch(ctx context.Context, p Params) Outcome {
	return w.watch(ctx, p, func(d time.Duration) bool {
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return false
		case <-timer.C:
			return true
		}
	})
}

// WatchBlocking runs the same loop with plain sleeps. Used by the funding
// engine, whose callers hold a long-lived handle and cannot yield.
func (w *Watcher) WatchBlocking(p Params) Outcome {
	return w.watch(context.Background(), p, func(d time.Duration) bool {
		time.Sleep(d)
		return true
	})
}

// watch is the shared loop. sleep returns false to stop early; an early stop
// is evaluated like window expiry.
func (w *Watcher) watch(ctx context.Context, p Params, sleep func(time.Duration) bool) Outcome {
	p.applyDefaults()

	log := w.logger.With(zap.String("wallet", keycodec.Mask(p.Address)))
	log.Info("Waiting for balance change",
		zap.Float64("initial", p.Initial),
		zap.Float64("target", p.Target),
		zap.Duration("max_wait", p.MaxWait))

	outcome := Outcome{
		Initial: p.Initial,
		Final:   p.Initial,
		Target:  p.Target,
	}
	expected := p.Target - p.Initial

	start := time.Now()
	polls := 0
	significantChange := false

	for time.Since(start) < p.MaxWait {
		bal, err := w.api.Balance(ctx, p.Address)
		if err != nil {
			log.Warn("Balance check failed during verification", zap.Error(err))
		} else {
			polls++
			current := bal.BalanceSol
			delta := current - p.Initial
			elapsed := time.Since(start)

			if delta > 0 {
				significantChange = true
			}

			outcome.Final = current
			outcome.Delta = delta
			outcome.History = append(outcome.History, Sample{
				Elapsed: elapsed,
				Balance: current,
				Delta:   delta,
			})

			if math.Abs(current-p.Target) < balanceTolerance {
				log.Info("Balance reached target",
					zap.Float64("balance", current))
				outcome.Verified = true
				outcome.Reason = ReasonExact
				break
			}

			if delta > 0 && expected > 0 && delta >= 0.5*expected {
				significantChange = true
				if math.Abs(delta-expected) <= 0.2*expected {
					log.Info("Balance change matches expected amount",
						zap.Float64("delta", delta),
						zap.Float64("expected", expected))
					outcome.Verified = true
					outcome.Reason = ReasonWithinTolerance
					break
				}
			}

			if polls >= 3 && delta > minMeaningfulDelta {
				significantChange = true
				if elapsed > time.Duration(0.6*float64(p.MaxWait)) {
					log.Info("Accepting balance increase after extended wait",
						zap.Float64("delta", delta))
					outcome.Verified = true
					outcome.Reason = ReasonExtendedAccept
					break
				}
			}

			if delta != 0 {
				log.Debug("Balance moving",
					zap.Float64("delta", delta),
					zap.Float64("balance", current))
			}
		}

		if !sleep(p.Interval) {
			break
		}
	}

	outcome.Duration = time.Since(start)

	if !outcome.Verified {
		if significantChange {
			// A positive delta was observed; accept the partial evidence so
			// the caller does not resubmit a transfer that already landed.
			log.Warn("Partial success: balance increased but did not reach target",
				zap.Float64("delta", outcome.Delta))
			outcome.Verified = true
			outcome.Partial = true
			outcome.Reason = ReasonPartial
		} else {
			log.Warn("Timed out waiting for balance change",
				zap.Duration("waited", outcome.Duration))
		}
	}

	w.collector.ObserveVerification(outcome.Verified)

	log.Info("Balance verification finished",
		zap.Bool("verified", outcome.Verified),
		zap.String("reason", outcome.Reason),
		zap.Float64("final", outcome.Final),
		zap.Float64("delta", outcome.Delta),
		zap.Duration("duration", outcome.Duration))
	return outcome
}
