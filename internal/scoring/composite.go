package scoring

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/gyaneshwarpardhi/aria/internal/features"
	"github.com/gyaneshwarpardhi/aria/internal/metrics"
)

// ErrTimeout is returned for a provider call that exceeded its timeout.
var ErrTimeout = errors.New("provider timed out")

// Timeouts bounds each provider call. Zero means the caller's context alone applies.
type Timeouts struct {
	Supervised time.Duration
	Anomaly    time.Duration
	Rules      time.Duration
}

// Result holds the three signals and their attributions.
type Result struct {
	SupervisedProb float64
	AnomalyScore   float64
	RuleBoost      float64

	Supervised []Contribution
	Anomaly    []Contribution
	Rules      []Contribution

	// Degraded lists the providers whose value was replaced by its neutral value.
	Degraded []string
}

// Composite fans a feature set out to the three providers concurrently and
// waits for each up to its own timeout. It always returns a complete Result.
type Composite struct {
	supervised Provider
	anomaly    Provider
	rules      Provider
	timeouts   Timeouts
}

// NewComposite creates a Composite. Any provider may be nil, in which case its neutral value is used.
func NewComposite(supervised, anomaly, rules Provider, t Timeouts) *Composite {
	return &Composite{supervised: supervised, anomaly: anomaly, rules: rules, timeouts: t}
}

type call struct {
	sig Signal
	err error
}

// Score runs the providers. Failures, timeouts and out-of-range values degrade
// to NeutralProbability, NeutralAnomaly and NeutralBoost respectively.
func (c *Composite) Score(ctx context.Context, fs *features.Set) Result {
	var (
		wg                  sync.WaitGroup
		sup, anom, ruleCall call
	)
	wg.Add(3)
	go func() { defer wg.Done(); sup = invoke(ctx, c.supervised, fs, c.timeouts.Supervised) }()
	go func() { defer wg.Done(); anom = invoke(ctx, c.anomaly, fs, c.timeouts.Anomaly) }()
	go func() { defer wg.Done(); ruleCall = invoke(ctx, c.rules, fs, c.timeouts.Rules) }()
	wg.Wait()

	res := Result{
		SupervisedProb: NeutralProbability,
		AnomalyScore:   NeutralAnomaly,
		RuleBoost:      NeutralBoost,
	}
	if err := checkProbability(sup); err != nil {
		res.Degraded = append(res.Degraded, degrade(Supervised, fs.AlertID, err))
	} else {
		res.SupervisedProb, res.Supervised = sup.sig.Value, sup.sig.Contributions
	}
	if err := checkAnomaly(anom); err != nil {
		res.Degraded = append(res.Degraded, degrade(Anomaly, fs.AlertID, err))
	} else {
		res.AnomalyScore, res.Anomaly = anom.sig.Value, anom.sig.Contributions
	}
	if err := checkBoost(ruleCall); err != nil {
		res.Degraded = append(res.Degraded, degrade(Rules, fs.AlertID, err))
	} else {
		res.RuleBoost, res.Rules = ruleCall.sig.Value, ruleCall.sig.Contributions
	}
	return res
}

// invoke calls p in its own goroutine so that a provider ignoring its context
// still cannot hold the caller past the deadline.
func invoke(ctx context.Context, p Provider, fs *features.Set, timeout time.Duration) call {
	if p == nil {
		return call{err: errors.New("provider not configured")}
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	done := make(chan call, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- call{err: fmt.Errorf("provider panicked: %v", r)}
			}
		}()
		sig, err := p.Score(ctx, fs)
		done <- call{sig: sig, err: err}
	}()

	select {
	case out := <-done:
		metrics.ProviderDuration.WithLabelValues(p.Name()).Observe(float64(time.Since(start).Microseconds()) / 1000)
		if out.err != nil && errors.Is(out.err, context.DeadlineExceeded) {
			out.err = ErrTimeout
		}
		return out
	case <-ctx.Done():
		metrics.ProviderDuration.WithLabelValues(p.Name()).Observe(float64(time.Since(start).Microseconds()) / 1000)
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return call{err: ErrTimeout}
		}
		return call{err: ctx.Err()}
	}
}

func checkProbability(c call) error {
	if c.err != nil {
		return c.err
	}
	if v := c.sig.Value; math.IsNaN(v) || v < 0 || v > 1 {
		return fmt.Errorf("probability %v outside [0,1]", v)
	}
	return nil
}

func checkAnomaly(c call) error {
	if c.err != nil {
		return c.err
	}
	if v := c.sig.Value; math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return fmt.Errorf("anomaly score %v is not a finite non-negative number", v)
	}
	return nil
}

func checkBoost(c call) error {
	if c.err != nil {
		return c.err
	}
	if v := c.sig.Value; math.IsNaN(v) || math.IsInf(v, 0) {
		return fmt.Errorf("rule boost %v is not finite", v)
	}
	return nil
}

func degrade(provider, alertID string, err error) string {
	reason := "error"
	switch {
	case errors.Is(err, ErrTimeout):
		reason = "timeout"
	case errors.Is(err, context.Canceled):
		reason = "canceled"
	}
	metrics.ProviderDegraded.WithLabelValues(provider, reason).Inc()
	slog.Warn("scoring provider degraded to neutral value",
		"provider", provider,
		"alert_id", alertID,
		"reason", reason,
		"err", err,
	)
	return provider
}
